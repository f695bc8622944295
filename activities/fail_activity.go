package activities

import (
	"context"
	"fmt"

	"github.com/deepnoodle-ai/asynctask"
)

// NewFailActivity returns an activity that always fails with the "message"
// parameter. Entering it aborts the current operation.
func NewFailActivity() asynctask.ActivityBehavior {
	return asynctask.NewActivityFunction("fail", func(ctx context.Context, execution asynctask.ActivityExecution) (map[string]any, error) {
		message, err := stringParam(execution.Parameters(), "message", "intentional failure")
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("fail activity: %s", message)
	})
}

type paramError struct {
	name string
	want string
	got  any
}

func (e *paramError) Error() string {
	return fmt.Sprintf("parameter %q must be %s, got %T", e.name, e.want, e.got)
}
