package asynctask

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestJobRunnerRunOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, AsyncServiceTaskOptions{Delay: time.Hour})

	var stale []string
	runner, err := NewJobRunner(JobRunnerOptions{
		Engine:     h.engine,
		StaleAfter: time.Minute,
		OnStale:    func(summary *ExecutionSummary) { stale = append(stale, summary.ExecutionID) },
	})
	require.NoError(t, err)

	first, err := h.engine.Start(ctx, StartOptions{Workflow: waitThenRecord(t, true)})
	require.NoError(t, err)
	second, err := h.engine.Start(ctx, StartOptions{Workflow: waitThenRecord(t, true)})
	require.NoError(t, err)

	result := runner.RunOnce(ctx)
	require.Equal(t, JobRunResult{Executed: 2}, result)
	require.Equal(t, ActivityStateDispatched, first.ActivityState())
	require.Equal(t, ActivityStateDispatched, second.ActivityState())
	require.Empty(t, stale)

	// Nothing is signalled for two minutes of virtual time.
	require.Equal(t, 0, h.gateway.Advance(ctx, 2*time.Minute))
	result = runner.RunOnce(ctx)
	require.Equal(t, 2, result.Stale)
	require.ElementsMatch(t, []string{first.ID(), second.ID()}, stale)
}

func TestJobRunnerCountsFailures(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, AsyncServiceTaskOptions{})
	runner, err := NewJobRunner(JobRunnerOptions{Engine: h.engine})
	require.NoError(t, err)

	exec, err := h.engine.Start(ctx, StartOptions{Workflow: waitThenRecord(t, true)})
	require.NoError(t, err)
	h.gateway.Shutdown()

	for i := 0; i < DefaultJobRetries; i++ {
		require.Equal(t, JobRunResult{Failed: 1}, runner.RunOnce(ctx))
	}
	require.Equal(t, ExecutionStatusFailed, exec.Status())
	require.Equal(t, JobRunResult{}, runner.RunOnce(ctx))
}

func TestJobRunnerValidation(t *testing.T) {
	_, err := NewJobRunner(JobRunnerOptions{})
	require.ErrorContains(t, err, "engine is required")

	h := newHarness(t, AsyncServiceTaskOptions{})
	_, err = NewJobRunner(JobRunnerOptions{Engine: h.engine, Schedule: "every tuesday"})
	require.ErrorContains(t, err, "invalid job schedule")

	_, err = NewJobRunner(JobRunnerOptions{Engine: h.engine, StaleAfter: -time.Second})
	require.Error(t, err)
}

func TestJobRunnerStartStop(t *testing.T) {
	h := newHarness(t, AsyncServiceTaskOptions{})
	runner, err := NewJobRunner(JobRunnerOptions{Engine: h.engine, Schedule: "@every 1h"})
	require.NoError(t, err)
	require.NoError(t, runner.Start())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, runner.Stop(ctx))
}
