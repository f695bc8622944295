package activities

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/deepnoodle-ai/asynctask"
)

// NewLogActivity returns an activity that writes the "message" parameter to
// the execution's logger at the level named by the optional "level"
// parameter.
func NewLogActivity() asynctask.ActivityBehavior {
	return asynctask.NewActivityFunction("log", func(ctx context.Context, execution asynctask.ActivityExecution) (map[string]any, error) {
		params := execution.Parameters()
		message, ok := params["message"]
		if !ok || message == nil {
			return nil, fmt.Errorf("log activity requires 'message' parameter")
		}
		levelName, err := stringParam(params, "level", "info")
		if err != nil {
			return nil, err
		}
		var level slog.Level
		if err := level.UnmarshalText([]byte(strings.ToUpper(levelName))); err != nil {
			return nil, fmt.Errorf("invalid log level %q", levelName)
		}
		execution.Logger().Log(ctx, level, fmt.Sprint(message))
		return nil, nil
	})
}
