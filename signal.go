package asynctask

import "context"

// Signal is an externally originated event targeted at one execution.
type Signal struct {
	ExecutionID string `json:"execution_id"`

	// Name is advisory. Any signal delivered to a waiting execution resumes
	// it.
	Name string `json:"name,omitempty"`

	// Step, when set, must match the step the execution waits in.
	Step string `json:"step,omitempty"`

	// WaitToken, when set, must match the token of the wait state the
	// execution is suspended in. Work dispatched on entry carries the token
	// of its own wait state, so a late completion never resumes a later one.
	WaitToken string `json:"wait_token,omitempty"`

	Payload map[string]any `json:"payload,omitempty"`
}

// SignalSink accepts signals for suspended executions. Implementations return
// a DeliveryFailure when the target is not suspended at an activity.
type SignalSink interface {
	Signal(ctx context.Context, executionID, signalName string, payload map[string]any) error
}

// SignalDeliverer is implemented by sinks that accept a full Signal, keeping
// its step and wait token. The Engine and the signal bus implement it.
type SignalDeliverer interface {
	Deliver(ctx context.Context, signal Signal) error
}

// SignalSinkFunc adapts a function to the SignalSink interface.
type SignalSinkFunc func(ctx context.Context, executionID, signalName string, payload map[string]any) error

func (f SignalSinkFunc) Signal(ctx context.Context, executionID, signalName string, payload map[string]any) error {
	return f(ctx, executionID, signalName, payload)
}

// DeliverSignal hands signal to sink, preserving its step and wait token when
// the sink is a SignalDeliverer.
func DeliverSignal(ctx context.Context, sink SignalSink, signal Signal) error {
	if deliverer, ok := sink.(SignalDeliverer); ok {
		return deliverer.Deliver(ctx, signal)
	}
	return sink.Signal(ctx, signal.ExecutionID, signal.Name, signal.Payload)
}
