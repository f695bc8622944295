package asynctask

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCommitGateHoldsWorkUntilSettled(t *testing.T) {
	ctx := context.Background()
	var calls int
	work := func(ctx context.Context) error {
		calls++
		return nil
	}

	aborted := newCommitGate()
	aborted.settle(false)
	aborted.settle(true)
	require.NoError(t, aborted.hold(work)(ctx))
	require.Equal(t, 0, calls, "work of a rolled back operation must not run")

	committed := newCommitGate()
	done := make(chan error, 1)
	go func() { done <- committed.hold(work)(ctx) }()
	committed.settle(true)
	require.NoError(t, <-done)
	require.Equal(t, 1, calls)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	require.ErrorIs(t, newCommitGate().hold(work)(cancelled), context.Canceled)
	require.Equal(t, 1, calls)
}
