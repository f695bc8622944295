package activities

import (
	"context"

	"github.com/deepnoodle-ai/asynctask"
)

// ReceiveTask is a wait state without dispatched work. Entry parks the
// execution; whoever holds the execution ID delivers the signal, for example
// an operator approving a request.
type ReceiveTask struct {
	name string
}

var _ asynctask.SignallableActivityBehavior = (*ReceiveTask)(nil)

// NewReceiveTask returns a receive task. The name defaults to "receive".
func NewReceiveTask(name string) *ReceiveTask {
	if name == "" {
		name = "receive"
	}
	return &ReceiveTask{name: name}
}

func (a *ReceiveTask) Name() string {
	return a.name
}

func (a *ReceiveTask) Execute(ctx context.Context, execution asynctask.ActivityExecution) error {
	execution.Logger().Info("waiting for signal")
	return nil
}

func (a *ReceiveTask) Signal(ctx context.Context, execution asynctask.ActivityExecution, signalName string, payload map[string]any) error {
	execution.ApplyPatches(asynctask.PayloadPatches(payload))
	return execution.Leave(ctx)
}
