package asynctask

import (
	"context"
	"fmt"
)

// ScopelessContinuationJobType is the job type whose continuations are
// resolved by ScopelessContinuationResolver.
const ScopelessContinuationJobType = "scopeless-async-continuation"

// ActivityExecuteOperationName names the canonical re-entry operation.
const ActivityExecuteOperationName = "activity-execute"

// AtomicOperation is an internal engine step a continuation re-enters
// through. The set of operations is closed.
type AtomicOperation interface {
	Name() string
	execute(ctx context.Context, tx *txn, step *Step) error
}

// ContinuationResolver maps the operation name recorded on a job to the
// operation that resumes it.
type ContinuationResolver interface {
	Resolve(operationName string) (AtomicOperation, error)
}

// ActivityExecute is the canonical operation: enter the activity the job was
// created for.
var ActivityExecute AtomicOperation = activityExecuteOperation{}

type activityExecuteOperation struct{}

func (activityExecuteOperation) Name() string {
	return ActivityExecuteOperationName
}

func (activityExecuteOperation) execute(ctx context.Context, tx *txn, step *Step) error {
	return tx.enter(ctx, step, true)
}

// ScopelessContinuationResolver accepts only jobs that name no operation.
// Every other operation name is rejected, so a job record can never re-enter
// arbitrary engine internals.
type ScopelessContinuationResolver struct{}

var _ ContinuationResolver = ScopelessContinuationResolver{}

// Resolve returns ActivityExecute for an empty operation name and an
// UnsupportedContinuation error otherwise.
func (ScopelessContinuationResolver) Resolve(operationName string) (AtomicOperation, error) {
	if operationName != "" {
		return nil, NewUnsupportedContinuation(operationName)
	}
	return ActivityExecute, nil
}

// DefaultJobHandlers returns the continuation resolvers registered by
// default, keyed by job type.
func DefaultJobHandlers() map[string]ContinuationResolver {
	return map[string]ContinuationResolver{
		ScopelessContinuationJobType: ScopelessContinuationResolver{},
	}
}

func resolveJob(handlers map[string]ContinuationResolver, job *Job) (AtomicOperation, error) {
	resolver, ok := handlers[job.Type]
	if !ok {
		return nil, fmt.Errorf("no handler for job type %q", job.Type)
	}
	return resolver.Resolve(job.Operation)
}
