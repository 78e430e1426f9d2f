package workflow

import "github.com/ngnhng/hellodurable/sdk/internal"

// Future represents the outcome of an activity call.
//
// Futures let activities run in parallel:
//
//	// Start multiple activities in parallel
//	future1 := workflow.ExecuteActivity(ctx, Activity1, arg1)
//	future2 := workflow.ExecuteActivity(ctx, Activity2, arg2)
//
//	// Wait for results
//	var result1 string
//	if err := future1.Get(ctx, &result1); err != nil {
//		return err
//	}
//
//	var result2 int
//	if err := future2.Get(ctx, &result2); err != nil {
//		return err
//	}
//
// Get on an unfinished future suspends the workflow. During replay, Get
// returns recorded outcomes immediately.
type Future = internal.Future
