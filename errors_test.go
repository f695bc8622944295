package asynctask

import (
	"errors"
	"fmt"
	"testing"

	"github.com/deepnoodle-ai/asynctask/dispatch"
	"github.com/stretchr/testify/require"
)

func TestErrorWrapping(t *testing.T) {
	err := NewError(ErrorTypeDeliveryFailure, "execution not found")
	require.Equal(t, "delivery_failure: execution not found", err.Error())
	require.Nil(t, err.Unwrap())

	original := errors.New("variable store unavailable")
	entryErr := NewEntryFailure("exec-1", original)
	require.Equal(t, "entry_failure: variable store unavailable (execution exec-1)", entryErr.Error())
	require.True(t, errors.Is(entryErr, original))
	require.True(t, errors.Is(entryErr, ErrEntryFailure))
	require.False(t, errors.Is(entryErr, ErrDispatchRejected))

	var asyncErr *Error
	require.True(t, errors.As(fmt.Errorf("outer: %w", entryErr), &asyncErr))
	require.Equal(t, "exec-1", asyncErr.ExecutionID)
}

func TestDispatchRejectedIsEntryFailure(t *testing.T) {
	rejected := fmt.Errorf("%w: executor is shutting down", dispatch.ErrRejected)
	err := NewEntryFailure("exec-3", rejected)

	require.Equal(t, ErrorTypeDispatchRejected, err.Type)
	require.True(t, errors.Is(err, ErrDispatchRejected))
	require.True(t, errors.Is(err, ErrEntryFailure))
	require.True(t, errors.Is(err, dispatch.ErrRejected))

	// Wrapping an already classified entry failure keeps it unchanged.
	require.Same(t, err, NewEntryFailure("exec-3", err))
}

func TestErrorClassification(t *testing.T) {
	generic := errors.New("something went wrong")
	classified := ClassifyError(generic)
	require.Equal(t, ErrorTypeEntryFailure, classified.Type)
	require.True(t, errors.Is(classified, generic))

	delivery := NewDeliveryFailure("exec-2", "not suspended")
	require.Same(t, delivery, ClassifyError(fmt.Errorf("wrapped: %w", delivery)))
}

func TestErrorMatching(t *testing.T) {
	rejected := NewEntryFailure("", dispatch.ErrRejected)
	delivery := NewDeliveryFailure("exec-1", "unknown execution")
	unsupported := NewUnsupportedContinuation("transition-create-scope")

	require.True(t, MatchesErrorType(rejected, ErrorTypeDispatchRejected))
	require.True(t, MatchesErrorType(rejected, ErrorTypeEntryFailure))
	require.False(t, MatchesErrorType(delivery, ErrorTypeEntryFailure))
	require.True(t, MatchesErrorType(delivery, ErrorTypeDeliveryFailure))
	require.True(t, MatchesErrorType(unsupported, ErrorTypeUnsupportedContinuation))
	require.Equal(t, "transition-create-scope", unsupported.Details)
	require.False(t, MatchesErrorType(nil, ErrorTypeEntryFailure))

	// Sentinels with a cause never match.
	require.False(t, errors.Is(delivery, NewError(ErrorTypeDeliveryFailure, "other")))
}
