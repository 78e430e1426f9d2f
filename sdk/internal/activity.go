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
	"time"

	"github.com/ngnhng/hellodurable/api"
)

type activityInfoKey struct{}

// ActivityInfo describes the attempt an activity implementation runs in.
type ActivityInfo struct {
	WorkflowID   api.WorkflowID
	ActivityType string
	TaskQueue    api.TaskQueueName
	Seq          int
	Attempt      int32
	ScheduledAt  time.Time
	// Deadline is the end of the schedule-to-close budget.
	Deadline time.Time
}

func withActivityInfo(ctx context.Context, info ActivityInfo) context.Context {
	return context.WithValue(ctx, activityInfoKey{}, info)
}

// GetActivityInfo returns the attempt metadata carried by an activity context.
func GetActivityInfo(ctx context.Context) (ActivityInfo, bool) {
	info, ok := ctx.Value(activityInfoKey{}).(ActivityInfo)
	return info, ok
}
