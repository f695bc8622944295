package asynctask

import (
	"context"
)

// Confirm the interfaces are implemented correctly.
var (
	_ ActivityBehavior = (*ActivityFunction)(nil)
)

// ActivityFunc runs a synchronous activity. The returned variables are
// assigned to the execution before it leaves the activity.
type ActivityFunc func(ctx context.Context, execution ActivityExecution) (map[string]any, error)

// ActivityFunction wraps a function for use as a synchronous, pass-through
// ActivityBehavior.
type ActivityFunction struct {
	name string
	fn   ActivityFunc
}

// NewActivityFunction returns an ActivityBehavior for the given function.
func NewActivityFunction(name string, fn ActivityFunc) *ActivityFunction {
	return &ActivityFunction{name: name, fn: fn}
}

// Name of the Activity.
func (a *ActivityFunction) Name() string {
	return a.name
}

// Execute runs the function, assigns its result and leaves the activity.
func (a *ActivityFunction) Execute(ctx context.Context, execution ActivityExecution) error {
	result, err := a.fn(ctx, execution)
	if err != nil {
		return err
	}
	execution.ApplyPatches(PayloadPatches(result))
	return execution.Leave(ctx)
}
