package activities

import (
	"context"
	"fmt"
	"sort"

	"github.com/deepnoodle-ai/asynctask"
)

// NewSetActivity returns an activity that assigns every entry of the
// "variables" parameter. Assignment follows the engine's scope rules, so new
// names land on the process scope.
func NewSetActivity() asynctask.ActivityBehavior {
	return asynctask.NewActivityFunction("set", func(ctx context.Context, execution asynctask.ActivityExecution) (map[string]any, error) {
		raw, ok := execution.Parameters()["variables"]
		if !ok {
			return nil, fmt.Errorf("set activity requires 'variables' parameter")
		}
		variables, ok := raw.(map[string]any)
		if !ok {
			return nil, &paramError{name: "variables", want: "a map", got: raw}
		}
		names := make([]string, 0, len(variables))
		for name := range variables {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			execution.SetVariable(name, variables[name])
		}
		return nil, nil
	})
}
