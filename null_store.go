package asynctask

import "context"

// NullCheckpointer keeps executions in memory only. Nothing survives a
// restart and Restore finds no checkpoints.
type NullCheckpointer struct{}

func NewNullCheckpointer() *NullCheckpointer { return &NullCheckpointer{} }

func (*NullCheckpointer) SaveCheckpoint(context.Context, *Checkpoint) error { return nil }

func (*NullCheckpointer) LoadCheckpoint(context.Context, string) (*Checkpoint, error) {
	return nil, nil
}

func (*NullCheckpointer) DeleteCheckpoint(context.Context, string) error { return nil }

func (*NullCheckpointer) ListExecutions(context.Context) ([]*ExecutionSummary, error) {
	return nil, nil
}

// NullActivityLogger discards the activity history.
type NullActivityLogger struct{}

func NewNullActivityLogger() *NullActivityLogger { return &NullActivityLogger{} }

func (*NullActivityLogger) LogActivity(context.Context, *ActivityLogEntry) error { return nil }

func (*NullActivityLogger) GetActivityHistory(context.Context, string) ([]*ActivityLogEntry, error) {
	return nil, nil
}

var (
	_ Checkpointer   = (*NullCheckpointer)(nil)
	_ ActivityLogger = (*NullActivityLogger)(nil)
)
