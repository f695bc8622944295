package asynctask

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestScopelessContinuationResolver(t *testing.T) {
	resolver := ScopelessContinuationResolver{}

	op, err := resolver.Resolve("")
	require.NoError(t, err)
	require.Equal(t, ActivityExecute, op)
	require.Equal(t, ActivityExecuteOperationName, op.Name())

	for _, name := range []string{"some-other-op", "activity-execute", "transition-take"} {
		op, err := resolver.Resolve(name)
		require.Nil(t, op, name)
		require.True(t, errors.Is(err, ErrUnsupportedContinuation), name)
		require.Contains(t, err.Error(), name)
	}
}

func TestResolveJobUnknownType(t *testing.T) {
	_, err := resolveJob(DefaultJobHandlers(), &Job{Type: "timer"})
	require.ErrorContains(t, err, `no handler for job type "timer"`)
}

func TestAsyncStepRunsThroughJob(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, AsyncServiceTaskOptions{})

	exec, err := h.engine.Start(ctx, StartOptions{Workflow: waitThenRecord(t, true)})
	require.NoError(t, err)
	require.Equal(t, ExecutionStatusWaiting, exec.Status())
	require.Equal(t, ActivityStateNotEntered, exec.ActivityState())
	require.Equal(t, 0, h.gateway.Pending())

	jobs := h.engine.PendingJobs()
	require.Len(t, jobs, 1)
	require.Equal(t, ScopelessContinuationJobType, jobs[0].Type)
	require.Equal(t, "call", jobs[0].StepName)
	require.Empty(t, jobs[0].Operation)

	require.NoError(t, h.engine.ExecuteJob(ctx, jobs[0].ID))
	require.Equal(t, ActivityStateDispatched, exec.ActivityState())
	require.Empty(t, exec.Jobs())
	require.Empty(t, h.engine.PendingJobs())

	err = h.engine.ExecuteJob(ctx, jobs[0].ID)
	require.True(t, errors.Is(err, ErrJobNotFound))

	h.gateway.RunAll(ctx)
	require.Equal(t, ExecutionStatusCompleted, exec.Status())
}

func TestUnsupportedContinuationConsumesRetries(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, AsyncServiceTaskOptions{})

	exec, err := h.engine.Start(ctx, StartOptions{Workflow: waitThenRecord(t, true)})
	require.NoError(t, err)
	job := h.engine.PendingJobs()[0]

	exec.mutex.Lock()
	exec.jobs[job.ID].Operation = "some-other-op"
	exec.jobs[job.ID].Retries = 2
	exec.mutex.Unlock()

	err = h.engine.ExecuteJob(ctx, job.ID)
	require.True(t, errors.Is(err, ErrUnsupportedContinuation))
	require.Equal(t, ExecutionStatusWaiting, exec.Status())
	require.Equal(t, ActivityStateNotEntered, exec.ActivityState())
	require.Equal(t, 0, h.gateway.Pending())

	err = h.engine.ExecuteJob(ctx, job.ID)
	require.True(t, errors.Is(err, ErrUnsupportedContinuation))
	require.Equal(t, ExecutionStatusFailed, exec.Status())
	require.ErrorContains(t, exec.Err(), "unsupported_continuation")
	require.Empty(t, h.engine.PendingJobs())

	err = h.engine.ExecuteJob(ctx, job.ID)
	require.ErrorContains(t, err, "no retries left")
}

func TestRetryJobRevivesParkedJob(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, AsyncServiceTaskOptions{})

	wf, err := New(Options{Name: "one-shot", Steps: []*Step{
		{Name: "call", Activity: "async_service", Async: true, Retries: 1},
	}})
	require.NoError(t, err)
	exec, err := h.engine.Start(ctx, StartOptions{Workflow: wf})
	require.NoError(t, err)
	job := h.engine.PendingJobs()[0]
	require.Equal(t, 1, job.Retries)

	h.gateway.Shutdown()
	require.True(t, errors.Is(h.engine.ExecuteJob(ctx, job.ID), ErrDispatchRejected))
	require.Equal(t, ExecutionStatusFailed, exec.Status())

	require.ErrorContains(t, h.engine.RetryJob(ctx, job.ID, 0), "must be positive")
	require.NoError(t, h.engine.RetryJob(ctx, job.ID, 3))
	require.Equal(t, ExecutionStatusWaiting, exec.Status())
	require.NoError(t, exec.Err())

	jobs := exec.Jobs()
	require.Len(t, jobs, 1)
	require.Equal(t, 3, jobs[0].Retries)
	require.Empty(t, jobs[0].LastError)

	require.True(t, errors.Is(h.engine.RetryJob(ctx, "job_missing", 1), ErrJobNotFound))
}

func TestCancelDropsJobs(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, AsyncServiceTaskOptions{})

	exec, err := h.engine.Start(ctx, StartOptions{Workflow: waitThenRecord(t, true)})
	require.NoError(t, err)
	job := h.engine.PendingJobs()[0]

	require.NoError(t, h.engine.Cancel(ctx, exec.ID(), "stop"))
	require.Empty(t, h.engine.PendingJobs())
	require.True(t, errors.Is(h.engine.ExecuteJob(ctx, job.ID), ErrJobNotFound))
}
