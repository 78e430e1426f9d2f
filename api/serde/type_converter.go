// Copyright 2025 Nguyen Nhat Nguyen
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package serde

import (
	"errors"
	"fmt"
	"reflect"
)

// TypeConverter re-types values that went through a codec (and lost their Go
// types) so they can be passed to workflow and activity functions or stored
// into caller-provided pointers.
type TypeConverter struct {
	serde BinarySerde
}

// NewTypeConverter creates a new type converter using the provided serializer.
func NewTypeConverter(s BinarySerde) *TypeConverter {
	return &TypeConverter{serde: s}
}

// ConvertToType converts a value to the target type using serialization round-tripping.
func (tc *TypeConverter) ConvertToType(value any, targetType reflect.Type) (reflect.Value, error) {
	if value == nil {
		return reflect.Zero(targetType), nil
	}

	valueType := reflect.TypeOf(value)
	if valueType == targetType {
		return reflect.ValueOf(value), nil
	}

	if targetType.Kind() == reflect.Interface && valueType.Implements(targetType) {
		v := reflect.New(targetType).Elem()
		v.Set(reflect.ValueOf(value))
		return v, nil
	}

	if valueType.ConvertibleTo(targetType) {
		if isNumericKind(valueType.Kind()) && isNumericKind(targetType.Kind()) {
			return tc.convertNumeric(value, valueType, targetType)
		}
		// int -> string is a rune conversion in Go, never what a payload means.
		if !(isIntegerKind(valueType.Kind()) && targetType.Kind() == reflect.String) {
			return reflect.ValueOf(value).Convert(targetType), nil
		}
	}

	return tc.convertViaSerializer(value, targetType)
}

// convertNumeric handles numeric type conversions with precision checking.
func (tc *TypeConverter) convertNumeric(value any, valueType, targetType reflect.Type) (reflect.Value, error) {
	if valueType.Kind() == reflect.Float64 || valueType.Kind() == reflect.Float32 {
		if isIntegerKind(targetType.Kind()) {
			floatVal := reflect.ValueOf(value).Float()
			intVal := int64(floatVal)
			if float64(intVal) != floatVal {
				return reflect.Value{}, fmt.Errorf("cannot convert %v to %v without losing precision", floatVal, targetType)
			}
			return reflect.ValueOf(intVal).Convert(targetType), nil
		}
	}

	converted := reflect.ValueOf(value).Convert(targetType)
	if isIntegerKind(valueType.Kind()) && isIntegerKind(targetType.Kind()) {
		back := converted.Convert(valueType)
		if back.Interface() != value {
			return reflect.Value{}, fmt.Errorf("value %v overflows %v", value, targetType)
		}
	}
	return converted, nil
}

// convertViaSerializer round-trips the value through the configured codec.
func (tc *TypeConverter) convertViaSerializer(value any, targetType reflect.Type) (reflect.Value, error) {
	data, err := tc.serde.SerializeBinary(value)
	if err != nil {
		return reflect.Value{}, fmt.Errorf("failed to serialize value for type conversion: %w", err)
	}

	var targetValue reflect.Value
	if targetType.Kind() == reflect.Ptr {
		targetValue = reflect.New(targetType.Elem())
	} else {
		targetValue = reflect.New(targetType)
	}

	if err := tc.serde.DeserializeBinary(data, targetValue.Interface()); err != nil {
		return reflect.Value{}, fmt.Errorf("failed to deserialize value to %v: %w", targetType, err)
	}

	if targetType.Kind() != reflect.Ptr {
		return targetValue.Elem(), nil
	}
	return targetValue, nil
}

// ConvertSlice converts a slice of any to a slice of values matching the target element type.
func (tc *TypeConverter) ConvertSlice(values []any, targetElemType reflect.Type) ([]reflect.Value, error) {
	result := make([]reflect.Value, len(values))
	for i, val := range values {
		converted, err := tc.ConvertToType(val, targetElemType)
		if err != nil {
			return nil, fmt.Errorf("failed to convert element %d: %w", i, err)
		}
		result[i] = converted
	}
	return result, nil
}

// ConvertArgs converts decoded arguments to the parameter types of fnType,
// skipping the first skip parameters (the context).
func (tc *TypeConverter) ConvertArgs(fnType reflect.Type, skip int, args []any) ([]reflect.Value, error) {
	if fnType.Kind() != reflect.Func {
		return nil, fmt.Errorf("%v is not a function type", fnType)
	}
	want := fnType.NumIn() - skip
	if fnType.IsVariadic() {
		return nil, errors.New("variadic functions are not supported")
	}
	if len(args) != want {
		return nil, fmt.Errorf("expected %d arguments, got %d", want, len(args))
	}

	values := make([]reflect.Value, len(args))
	for i, arg := range args {
		v, err := tc.ConvertToType(arg, fnType.In(i+skip))
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		values[i] = v
	}
	return values, nil
}

// Assign stores value into the variable valuePtr points to.
func (tc *TypeConverter) Assign(value any, valuePtr any) error {
	if valuePtr == nil {
		return nil
	}
	rv := reflect.ValueOf(valuePtr)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return fmt.Errorf("value pointer must be a non-nil pointer, got %T", valuePtr)
	}
	converted, err := tc.ConvertToType(value, rv.Elem().Type())
	if err != nil {
		return err
	}
	rv.Elem().Set(converted)
	return nil
}

func isNumericKind(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

func isIntegerKind(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return true
	}
	return false
}
