package asynctask

import (
	"context"
	"time"
)

// ExecutionCallbacks receives execution events. Events are delivered only
// after the operation that produced them has been committed.
type ExecutionCallbacks interface {
	BeforeExecution(ctx context.Context, event *ExecutionEvent)
	AfterExecution(ctx context.Context, event *ExecutionEvent)

	BeforeActivityExecution(ctx context.Context, event *ActivityExecutionEvent)
	AfterActivityExecution(ctx context.Context, event *ActivityExecutionEvent)

	// OnActivityDispatched fires once the execution is parked waiting.
	OnActivityDispatched(ctx context.Context, event *ActivityExecutionEvent)
	OnSignal(ctx context.Context, event *SignalEvent)
}

// ExecutionEvent describes the start or end of an execution.
type ExecutionEvent struct {
	ExecutionID  string
	WorkflowName string
	Status       ExecutionStatus
	StartTime    time.Time
	EndTime      time.Time
	Duration     time.Duration
	Variables    map[string]any
	Outputs      map[string]any
	Error        error
}

// ActivityExecutionEvent describes an activity entering or leaving a step.
type ActivityExecutionEvent struct {
	ExecutionID  string
	WorkflowName string
	StepName     string
	ActivityName string
	State        ActivityState
	Parameters   map[string]any
	Time         time.Time
}

// SignalEvent describes a signal that resumed an execution.
type SignalEvent struct {
	ExecutionID  string
	WorkflowName string
	StepName     string
	SignalName   string
	Payload      map[string]any
	WaitedFor    time.Duration
}

// BaseExecutionCallbacks ignores every event. Embed it to implement only
// the callbacks you need.
type BaseExecutionCallbacks struct{}

func (*BaseExecutionCallbacks) BeforeExecution(context.Context, *ExecutionEvent)                 {}
func (*BaseExecutionCallbacks) AfterExecution(context.Context, *ExecutionEvent)                  {}
func (*BaseExecutionCallbacks) BeforeActivityExecution(context.Context, *ActivityExecutionEvent) {}
func (*BaseExecutionCallbacks) AfterActivityExecution(context.Context, *ActivityExecutionEvent)  {}
func (*BaseExecutionCallbacks) OnActivityDispatched(context.Context, *ActivityExecutionEvent)    {}
func (*BaseExecutionCallbacks) OnSignal(context.Context, *SignalEvent)                           {}

// CallbackChain fans every event out to its members in order.
type CallbackChain []ExecutionCallbacks

// NewCallbackChain drops nil members.
func NewCallbackChain(callbacks ...ExecutionCallbacks) CallbackChain {
	chain := make(CallbackChain, 0, len(callbacks))
	for _, cb := range callbacks {
		if cb != nil {
			chain = append(chain, cb)
		}
	}
	return chain
}

func (c CallbackChain) BeforeExecution(ctx context.Context, event *ExecutionEvent) {
	for _, cb := range c {
		cb.BeforeExecution(ctx, event)
	}
}

func (c CallbackChain) AfterExecution(ctx context.Context, event *ExecutionEvent) {
	for _, cb := range c {
		cb.AfterExecution(ctx, event)
	}
}

func (c CallbackChain) BeforeActivityExecution(ctx context.Context, event *ActivityExecutionEvent) {
	for _, cb := range c {
		cb.BeforeActivityExecution(ctx, event)
	}
}

func (c CallbackChain) AfterActivityExecution(ctx context.Context, event *ActivityExecutionEvent) {
	for _, cb := range c {
		cb.AfterActivityExecution(ctx, event)
	}
}

func (c CallbackChain) OnActivityDispatched(ctx context.Context, event *ActivityExecutionEvent) {
	for _, cb := range c {
		cb.OnActivityDispatched(ctx, event)
	}
}

func (c CallbackChain) OnSignal(ctx context.Context, event *SignalEvent) {
	for _, cb := range c {
		cb.OnSignal(ctx, event)
	}
}
