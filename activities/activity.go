// Package activities provides ready made behaviors and services for
// asynctask processes: synchronous helpers, a receive task that waits for an
// external signal, and services that can back an AsyncServiceTask.
package activities

import (
	"github.com/deepnoodle-ai/asynctask"
)

// Builtins returns the synchronous helpers and the receive task. Service
// backed wait states are configured separately with
// asynctask.NewAsyncServiceTask.
func Builtins() []asynctask.ActivityBehavior {
	return []asynctask.ActivityBehavior{
		NewLogActivity(),
		NewSetActivity(),
		NewFailActivity(),
		NewReceiveTask(""),
	}
}

// stringParam returns a string parameter, or fallback when it is missing.
func stringParam(params map[string]any, name, fallback string) (string, error) {
	raw, ok := params[name]
	if !ok || raw == nil {
		return fallback, nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", &paramError{name: name, want: "a string", got: raw}
	}
	return s, nil
}
