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

package internal

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"
)

var (
	contextType         = reflect.TypeOf((*context.Context)(nil)).Elem()
	workflowContextType = reflect.TypeOf((*Context)(nil)).Elem()
	errorType           = reflect.TypeOf((*error)(nil)).Elem()
)

// registeredFunc is a validated workflow or activity entry point.
type registeredFunc struct {
	name   string
	fn     reflect.Value
	fnType reflect.Type
}

// hashMapRegistry is owned by one worker. It is written during registration
// and read by task goroutines afterwards.
type hashMapRegistry struct {
	kind    string
	ctxType reflect.Type
	mu      sync.RWMutex
	entries map[string]*registeredFunc
}

func newWorkflowRegistry() *hashMapRegistry {
	return &hashMapRegistry{kind: "workflow", ctxType: workflowContextType, entries: make(map[string]*registeredFunc)}
}

func newActivityRegistry() *hashMapRegistry {
	return &hashMapRegistry{kind: "activity", ctxType: contextType, entries: make(map[string]*registeredFunc)}
}

func (m *hashMapRegistry) get(k string) (*registeredFunc, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.entries[k]
	if !ok {
		return nil, fmt.Errorf("key %v have no value", k)
	}

	return entry, nil
}

func (m *hashMapRegistry) set(k string, v any) error {
	if k == "" {
		return &RegistrationError{Kind: m.kind, Name: k, Err: fmt.Errorf("%w: empty name", ErrInvalidFunction)}
	}
	fnType, err := m.validate(v)
	if err != nil {
		return &RegistrationError{Kind: m.kind, Name: k, Err: err}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.entries[k]; ok {
		return &RegistrationError{Kind: m.kind, Name: k, Err: ErrDuplicateRegistration}
	}

	m.entries[k] = &registeredFunc{name: k, fn: reflect.ValueOf(v), fnType: fnType}

	return nil
}

// validate checks func(ctx, args...) (result, error) or func(ctx, args...) error,
// where ctx is workflow.Context for workflows and context.Context for activities.
func (m *hashMapRegistry) validate(v any) (reflect.Type, error) {
	fnType := reflect.TypeOf(v)
	if fnType == nil || fnType.Kind() != reflect.Func {
		return nil, fmt.Errorf("%w: %T is not a function", ErrInvalidFunction, v)
	}
	if fnType.IsVariadic() {
		return nil, fmt.Errorf("%w: variadic functions are not supported", ErrInvalidFunction)
	}
	if fnType.NumIn() < 1 || fnType.In(0) != m.ctxType {
		return nil, fmt.Errorf("%w: first parameter must be %v", ErrInvalidFunction, m.ctxType)
	}
	if fnType.NumOut() < 1 || fnType.NumOut() > 2 {
		return nil, fmt.Errorf("%w: must return (result, error) or error", ErrInvalidFunction)
	}
	if !fnType.Out(fnType.NumOut() - 1).Implements(errorType) {
		return nil, fmt.Errorf("%w: last return value must be error", ErrInvalidFunction)
	}
	return fnType, nil
}

func (m *hashMapRegistry) size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func (m *hashMapRegistry) names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.entries))
	for k := range m.entries {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
