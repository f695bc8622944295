package asynctask

import (
	"context"
)

// Checkpointer persists execution state. A saved checkpoint is the commit
// point of every engine operation.
type Checkpointer interface {
	// SaveCheckpoint saves the current execution state
	SaveCheckpoint(ctx context.Context, checkpoint *Checkpoint) error

	// LoadCheckpoint loads the latest checkpoint for an execution. It returns
	// nil and no error when the execution is unknown.
	LoadCheckpoint(ctx context.Context, executionID string) (*Checkpoint, error)

	// DeleteCheckpoint removes checkpoint data for an execution
	DeleteCheckpoint(ctx context.Context, executionID string) error

	// ListExecutions returns a summary of every stored execution, newest
	// first.
	ListExecutions(ctx context.Context) ([]*ExecutionSummary, error)
}
