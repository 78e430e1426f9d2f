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

	"github.com/ngnhng/hellodurable/api/serde"
)

// Future is the eventual outcome of an activity call.
type Future interface {
	// Get stores the result into valuePtr, or returns the activity's failure
	// as an *ActivityError. On an unresolved future it suspends the workflow
	// and does not return.
	Get(ctx context.Context, valuePtr any) error
	IsReady() bool
}

type activityFuture struct {
	inv  *invocation
	err  error
	conv *serde.TypeConverter
}

func newFailedFuture(err error) *activityFuture {
	return &activityFuture{err: err}
}

func (f *activityFuture) IsReady() bool {
	return f.err != nil || (f.inv != nil && f.inv.resolved)
}

func (f *activityFuture) Get(_ context.Context, valuePtr any) error {
	if f.err != nil {
		return f.err
	}
	if !f.inv.resolved {
		panic(errorBlockingFuture{})
	}
	if f.inv.failure != nil {
		return &ActivityError{Failure: *f.inv.failure}
	}
	if valuePtr == nil || f.inv.result == nil {
		return nil
	}
	return f.conv.Assign(f.inv.result, valuePtr)
}
