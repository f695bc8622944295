package asynctask

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestContextValues(t *testing.T) {
	ctx := context.Background()
	_, ok := ExecutionIDFromContext(ctx)
	require.False(t, ok)
	require.NotNil(t, LoggerFromContext(ctx))

	logger := slog.New(slog.DiscardHandler)
	ctx = WithExecutionID(WithLogger(ctx, logger), "exec-1")
	id, ok := ExecutionIDFromContext(ctx)
	require.True(t, ok)
	require.Equal(t, "exec-1", id)
	require.Same(t, logger, LoggerFromContext(ctx))
}
