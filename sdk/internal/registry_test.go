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
	"errors"
	"slices"
	"testing"
)

func sampleWorkflow(ctx Context, name string) (string, error) { return name, nil }

func sampleActivity(ctx context.Context, a, b int) (int, error) { return a + b, nil }

func errorOnlyActivity(ctx context.Context) error { return nil }

func TestRegistry_Validate(t *testing.T) {
	tests := []struct {
		name string
		reg  *hashMapRegistry
		fn   any
		ok   bool
	}{
		{name: "workflow", reg: newWorkflowRegistry(), fn: sampleWorkflow, ok: true},
		{name: "activity", reg: newActivityRegistry(), fn: sampleActivity, ok: true},
		{name: "error only", reg: newActivityRegistry(), fn: errorOnlyActivity, ok: true},
		{name: "not a func", reg: newActivityRegistry(), fn: 42},
		{name: "nil", reg: newActivityRegistry(), fn: nil},
		{name: "wrong context for workflow", reg: newWorkflowRegistry(), fn: sampleActivity},
		{name: "wrong context for activity", reg: newActivityRegistry(), fn: sampleWorkflow},
		{name: "no error result", reg: newActivityRegistry(), fn: func(context.Context) int { return 0 }},
		{name: "too many results", reg: newActivityRegistry(), fn: func(context.Context) (int, int, error) { return 0, 0, nil }},
		{name: "variadic", reg: newActivityRegistry(), fn: func(context.Context, ...int) error { return nil }},
		{name: "no params", reg: newActivityRegistry(), fn: func() error { return nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.reg.set("entry", tt.fn)
			if tt.ok && err != nil {
				t.Fatalf("set() error = %v", err)
			}
			if !tt.ok {
				var regErr *RegistrationError
				if !errors.As(err, &regErr) || !errors.Is(err, ErrInvalidFunction) {
					t.Fatalf("set() error = %v, want RegistrationError wrapping ErrInvalidFunction", err)
				}
			}
		})
	}
}

func TestRegistry_Duplicate(t *testing.T) {
	reg := newActivityRegistry()
	if err := reg.set("add", sampleActivity); err != nil {
		t.Fatal(err)
	}
	if err := reg.set("add", sampleActivity); !errors.Is(err, ErrDuplicateRegistration) {
		t.Errorf("second set() error = %v, want ErrDuplicateRegistration", err)
	}
	if err := reg.set("", sampleActivity); !errors.Is(err, ErrInvalidFunction) {
		t.Errorf("empty name error = %v", err)
	}
}

func TestRegistry_GetAndNames(t *testing.T) {
	reg := newActivityRegistry()
	_ = reg.set("b", sampleActivity)
	_ = reg.set("a", errorOnlyActivity)

	entry, err := reg.get("b")
	if err != nil {
		t.Fatal(err)
	}
	if entry.name != "b" || entry.fnType.NumIn() != 3 {
		t.Errorf("entry = %+v", entry)
	}
	if _, err := reg.get("missing"); err == nil {
		t.Error("get() of a missing key should fail")
	}
	if got := reg.names(); !slices.Equal(got, []string{"a", "b"}) {
		t.Errorf("names() = %v", got)
	}
	if reg.size() != 2 {
		t.Errorf("size() = %d", reg.size())
	}
}

func TestResolveTypeName(t *testing.T) {
	byName, err := resolveTypeName("Custom")
	if err != nil || byName != "Custom" {
		t.Errorf("resolveTypeName(string) = %q, %v", byName, err)
	}
	byFunc, err := resolveTypeName(sampleActivity)
	if err != nil || byFunc != "github.com/ngnhng/hellodurable/sdk/internal.sampleActivity" {
		t.Errorf("resolveTypeName(func) = %q, %v", byFunc, err)
	}
	if _, err := resolveTypeName(""); err == nil {
		t.Error("empty name should fail")
	}
	if _, err := resolveTypeName(3); err == nil {
		t.Error("non-function should fail")
	}
}
