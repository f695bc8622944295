package activities

import (
	"context"
	"fmt"

	"github.com/deepnoodle-ai/asynctask"
	"github.com/deepnoodle-ai/asynctask/retry"
	"github.com/deepnoodle-ai/asynctask/script"
)

// ScriptService computes the completion payload with a script instead of
// calling a remote system. The script sees the request payload as vars, the
// captured local variables as local and the step parameters as params, and
// must evaluate to a map.
type ScriptService struct {
	script script.Script
}

var _ asynctask.Service = (*ScriptService)(nil)

// NewScriptService compiles code with compiler.
func NewScriptService(compiler script.Compiler, code string) (*ScriptService, error) {
	compiled, err := compiler.Compile(context.Background(), code)
	if err != nil {
		return nil, fmt.Errorf("failed to compile script: %w", err)
	}
	return &ScriptService{script: compiled}, nil
}

func (s *ScriptService) Call(ctx context.Context, request *asynctask.ServiceRequest) (map[string]any, error) {
	var local map[string]any
	if request.Snapshot != nil {
		local = request.Snapshot.Local
	}
	result, err := evaluateMap(ctx, s.script, script.Globals(request.Payload, local, request.Parameters))
	if err != nil {
		return nil, retry.Permanent(err)
	}
	return result, nil
}

// ScriptPayload returns a payload builder that evaluates code against the
// captured variables. The script sees the effective variables as vars, the
// local variables as local and the step parameters as params, and must
// evaluate to a map.
func ScriptPayload(compiler script.Compiler, code string) (asynctask.PayloadBuilder, error) {
	compiled, err := compiler.Compile(context.Background(), code)
	if err != nil {
		return nil, fmt.Errorf("failed to compile payload script: %w", err)
	}
	return func(ctx context.Context, snapshot *asynctask.VariableSnapshot, params map[string]any) (map[string]any, error) {
		return evaluateMap(ctx, compiled, script.Globals(snapshot.Effective, snapshot.Local, params))
	}, nil
}

func evaluateMap(ctx context.Context, code script.Script, globals map[string]any) (map[string]any, error) {
	value, err := code.Evaluate(ctx, globals)
	if err != nil {
		return nil, err
	}
	switch result := value.Value().(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		return result, nil
	default:
		return nil, fmt.Errorf("script must evaluate to a map, got %T", result)
	}
}
