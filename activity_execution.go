package asynctask

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/deepnoodle-ai/asynctask/dispatch"
	"github.com/deepnoodle-ai/asynctask/script"
)

// activityExecution is the ActivityExecution handed to behaviors. It reads
// and writes the execution directly because the engine already holds the
// execution lock while the behavior runs.
type activityExecution struct {
	tx     *txn
	step   *Step
	params map[string]any
	logger *slog.Logger
}

var _ ActivityExecution = (*activityExecution)(nil)

func (tx *txn) activityExecution(step *Step, params map[string]any) *activityExecution {
	return &activityExecution{
		tx:     tx,
		step:   step,
		params: params,
		logger: tx.exec.logger.With("step", step.Name, "activity", step.Activity),
	}
}

func (a *activityExecution) ID() string {
	return a.tx.exec.id
}

func (a *activityExecution) Variables() (map[string]any, error) {
	return a.tx.exec.scope().Variables(), nil
}

func (a *activityExecution) LocalVariables() (map[string]any, error) {
	if a.tx.exec.local == nil {
		return map[string]any{}, nil
	}
	return a.tx.exec.local.LocalVariables(), nil
}

func (a *activityExecution) StepName() string {
	return a.step.Name
}

func (a *activityExecution) ActivityName() string {
	return a.step.Activity
}

func (a *activityExecution) Parameters() map[string]any {
	return copyMap(a.params)
}

func (a *activityExecution) State() ActivityState {
	return a.tx.exec.activityState
}

func (a *activityExecution) SetVariable(key string, value any) {
	a.tx.exec.scope().SetVariable(key, value)
}

func (a *activityExecution) SetVariableLocal(key string, value any) {
	a.tx.exec.scope().SetVariableLocal(key, value)
}

func (a *activityExecution) ApplyPatches(patches []Patch) {
	ApplyPatches(a.tx.exec.scope(), patches)
}

// Leave marks the activity as left. The engine takes the outgoing
// transition once the behavior returns.
func (a *activityExecution) Leave(ctx context.Context) error {
	exec := a.tx.exec
	if exec.currentStep != a.step.Name {
		return fmt.Errorf("execution is no longer in step %q", a.step.Name)
	}
	next, err := exec.activityState.transition(ActivityStateLeft)
	if err != nil {
		return fmt.Errorf("cannot leave activity %q: %w", a.step.Activity, err)
	}
	exec.activityState = next
	return nil
}

func (a *activityExecution) WaitToken() string {
	return a.tx.exec.waitToken
}

func (a *activityExecution) OnCommit(fn func()) {
	a.tx.onCommit(func(context.Context) { fn() })
}

func (a *activityExecution) OnRollback(fn func()) {
	a.tx.onRollback(fn)
}

func (a *activityExecution) Gateway() dispatch.Gateway {
	return a.tx.engine.gateway
}

func (a *activityExecution) SignalSink() SignalSink {
	return a.tx.engine.sink
}

func (a *activityExecution) Compiler() script.Compiler {
	return a.tx.engine.compiler
}

func (a *activityExecution) Logger() *slog.Logger {
	return a.logger
}
