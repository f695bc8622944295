package activities

import (
	"context"
	"maps"

	"github.com/deepnoodle-ai/asynctask"
)

// EchoService returns a service that answers with a copy of result, or with
// the request payload when result is nil. It stands in for a real backend
// in demos and tests.
func EchoService(result map[string]any) asynctask.Service {
	return asynctask.ServiceFunc(func(ctx context.Context, request *asynctask.ServiceRequest) (map[string]any, error) {
		if result == nil {
			return maps.Clone(request.Payload), nil
		}
		return maps.Clone(result), nil
	})
}
