package asynctask

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/deepnoodle-ai/asynctask/dispatch"
	"github.com/deepnoodle-ai/asynctask/retry"
)

const (
	// DefaultDispatchDelay is how long dispatched work waits before it runs.
	DefaultDispatchDelay = 250 * time.Millisecond

	// DefaultCompletionSignal names the signal emitted when the service
	// call succeeds.
	DefaultCompletionSignal = "completed"

	// DelayParameter is the step parameter that overrides the dispatch delay.
	// Its value is a duration string such as "2s".
	DelayParameter = "dispatch_delay"
)

// ServiceRequest is everything dispatched work knows about the execution that
// dispatched it. It is a disjoint copy: nothing written to it reaches the
// execution.
type ServiceRequest struct {
	ExecutionID string            `json:"execution_id"`
	StepName    string            `json:"step_name"`
	Activity    string            `json:"activity"`
	WaitToken   string            `json:"wait_token"`
	Parameters  map[string]any    `json:"parameters,omitempty"`
	Payload     map[string]any    `json:"payload"`
	Snapshot    *VariableSnapshot `json:"-"`
}

// Service performs the external call of an asynchronous service task. The
// returned map becomes the payload of the completion signal.
type Service interface {
	Call(ctx context.Context, request *ServiceRequest) (map[string]any, error)
}

// ServiceFunc adapts a function to the Service interface.
type ServiceFunc func(ctx context.Context, request *ServiceRequest) (map[string]any, error)

func (f ServiceFunc) Call(ctx context.Context, request *ServiceRequest) (map[string]any, error) {
	return f(ctx, request)
}

// PayloadBuilder builds the outbound request payload from the captured
// variables. It runs before anything is dispatched, so a failure aborts
// entry without side effects.
type PayloadBuilder func(ctx context.Context, snapshot *VariableSnapshot, params map[string]any) (map[string]any, error)

// EffectivePayload sends every effective variable.
func EffectivePayload(ctx context.Context, snapshot *VariableSnapshot, params map[string]any) (map[string]any, error) {
	return deepCopyMap(snapshot.Effective), nil
}

// AsyncServiceTaskOptions configures an AsyncServiceTask.
type AsyncServiceTaskOptions struct {
	// Name is the activity name. Defaults to "async_service".
	Name string

	// Service is called by the dispatched work. Required.
	Service Service

	// Payload builds the request payload. Defaults to EffectivePayload.
	Payload PayloadBuilder

	// Delay before the dispatched work runs. Defaults to
	// DefaultDispatchDelay. A step may override it with DelayParameter.
	Delay time.Duration

	// SignalName is sent with the completion signal.
	SignalName string

	// Gateway and SignalSink override the ones provided by the engine.
	Gateway    dispatch.Gateway
	SignalSink SignalSink

	// MaxRetries and RetryBaseWait configure retries of recoverable
	// service failures inside the dispatched work. Zero selects
	// retry.DefaultMaxRetries and a negative value disables retries.
	MaxRetries    int
	RetryBaseWait time.Duration

	Logger *slog.Logger
}

// AsyncServiceTask is a wait-state behavior. Entry captures the execution's
// variables, builds the request and hands the service call to a dispatch
// gateway, leaving the execution parked. The dispatched work calls the
// service and reports the result by signalling the execution, which applies
// the payload to its variables and leaves the activity.
type AsyncServiceTask struct {
	name          string
	service       Service
	payload       PayloadBuilder
	delay         time.Duration
	signalName    string
	gateway       dispatch.Gateway
	sink          SignalSink
	maxRetries    int
	retryBaseWait time.Duration
	logger        *slog.Logger
}

var _ SignallableActivityBehavior = (*AsyncServiceTask)(nil)

// NewAsyncServiceTask returns a wait-state behavior for the given service.
func NewAsyncServiceTask(opts AsyncServiceTaskOptions) (*AsyncServiceTask, error) {
	if opts.Service == nil {
		return nil, fmt.Errorf("service is required")
	}
	if opts.Delay < 0 {
		return nil, fmt.Errorf("delay must not be negative")
	}
	if opts.Name == "" {
		opts.Name = "async_service"
	}
	if opts.Payload == nil {
		opts.Payload = EffectivePayload
	}
	if opts.Delay == 0 {
		opts.Delay = DefaultDispatchDelay
	}
	if opts.SignalName == "" {
		opts.SignalName = DefaultCompletionSignal
	}
	if opts.RetryBaseWait <= 0 {
		opts.RetryBaseWait = retry.DefaultBaseWait
	}
	switch {
	case opts.MaxRetries == 0:
		opts.MaxRetries = retry.DefaultMaxRetries
	case opts.MaxRetries < 0:
		opts.MaxRetries = 0
	}
	if opts.Logger == nil {
		opts.Logger = discardLogger()
	}
	return &AsyncServiceTask{
		name:          opts.Name,
		service:       opts.Service,
		payload:       opts.Payload,
		delay:         opts.Delay,
		signalName:    opts.SignalName,
		gateway:       opts.Gateway,
		sink:          opts.SignalSink,
		maxRetries:    opts.MaxRetries,
		retryBaseWait: opts.RetryBaseWait,
		logger:        opts.Logger,
	}, nil
}

func (t *AsyncServiceTask) Name() string {
	return t.name
}

// Execute enters the activity. It returns as soon as the work is scheduled
// and never leaves the activity itself.
func (t *AsyncServiceTask) Execute(ctx context.Context, execution ActivityExecution) error {
	snapshot, err := ReadSnapshot(execution)
	if err != nil {
		return NewEntryFailure(execution.ID(), err)
	}
	params := execution.Parameters()
	delay, err := t.delayFor(params)
	if err != nil {
		return NewEntryFailure(execution.ID(), err)
	}
	payload, err := t.payload(ctx, snapshot.Copy(), copyMap(params))
	if err != nil {
		return NewEntryFailure(execution.ID(), fmt.Errorf("failed to build request payload: %w", err))
	}

	request := &ServiceRequest{
		ExecutionID: execution.ID(),
		StepName:    execution.StepName(),
		Activity:    execution.ActivityName(),
		WaitToken:   execution.WaitToken(),
		Parameters:  deepCopyMap(params),
		Payload:     deepCopyMap(payload),
		Snapshot:    snapshot,
	}

	gateway := t.gateway
	if gateway == nil {
		gateway = execution.Gateway()
	}
	sink := t.sink
	if sink == nil {
		sink = execution.SignalSink()
	}
	logger := execution.Logger()

	gate := newCommitGate()
	handle, err := gateway.Schedule(ctx, gate.hold(t.work(request, sink)), delay, dispatch.WithKey(request.ExecutionID))
	if err != nil {
		return NewEntryFailure(execution.ID(), err)
	}
	execution.OnCommit(func() { gate.settle(true) })
	execution.OnRollback(func() {
		gate.settle(false)
		if gateway.Cancel(handle) {
			logger.Debug("service call withdrawn", "handle_id", handle.ID)
		}
	})
	logger.Debug("service call dispatched", "handle_id", handle.ID, "run_at", handle.RunAt)
	return nil
}

// Signal resumes the activity: the payload is applied through the normal
// variable assignment rules and the activity is left. Any signal name and
// payload shape is accepted.
func (t *AsyncServiceTask) Signal(ctx context.Context, execution ActivityExecution, signalName string, payload map[string]any) error {
	if signalName != t.signalName {
		execution.Logger().Debug("resuming on signal", "signal", signalName)
	}
	execution.ApplyPatches(PayloadPatches(payload))
	return execution.Leave(ctx)
}

// work builds the dispatched closure. It captures only the request and the
// signal sink.
func (t *AsyncServiceTask) work(request *ServiceRequest, sink SignalSink) dispatch.Work {
	signalName := t.signalName
	service := t.service
	maxRetries := t.maxRetries
	baseWait := t.retryBaseWait
	logger := t.logger.With("execution_id", request.ExecutionID, "step", request.StepName)

	return func(ctx context.Context) error {
		ctx = WithExecutionID(WithLogger(ctx, logger), request.ExecutionID)
		var result map[string]any
		err := retry.Do(ctx, func() error {
			var callErr error
			result, callErr = service.Call(ctx, request)
			return callErr
		},
			retry.WithMaxRetries(maxRetries),
			retry.WithBaseWait(baseWait),
			retry.WithOnRetry(func(attempt int, err error) {
				logger.Warn("retrying service call", "attempt", attempt, "error", err)
			}),
		)
		if err != nil {
			return NewExternalWorkerFailure(request.ExecutionID, fmt.Errorf("service call failed: %w", err))
		}
		signal := Signal{
			ExecutionID: request.ExecutionID,
			Name:        signalName,
			Step:        request.StepName,
			WaitToken:   request.WaitToken,
			Payload:     result,
		}
		if err := DeliverSignal(ctx, sink, signal); err != nil {
			return NewExternalWorkerFailure(request.ExecutionID, fmt.Errorf("failed to deliver signal: %w", err))
		}
		logger.Debug("service call completed and signalled")
		return nil
	}
}

// commitGate holds dispatched work until the engine operation that scheduled
// it is settled. Work of a rolled back operation returns without running.
type commitGate struct {
	settled   chan struct{}
	once      sync.Once
	committed bool
}

func newCommitGate() *commitGate {
	return &commitGate{settled: make(chan struct{})}
}

func (g *commitGate) settle(committed bool) {
	g.once.Do(func() {
		g.committed = committed
		close(g.settled)
	})
}

func (g *commitGate) hold(work dispatch.Work) dispatch.Work {
	return func(ctx context.Context) error {
		select {
		case <-g.settled:
		case <-ctx.Done():
			return ctx.Err()
		}
		if !g.committed {
			return nil
		}
		return work(ctx)
	}
}

func (t *AsyncServiceTask) delayFor(params map[string]any) (time.Duration, error) {
	raw, ok := params[DelayParameter]
	if !ok {
		return t.delay, nil
	}
	var delay time.Duration
	switch v := raw.(type) {
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s %q: %w", DelayParameter, v, err)
		}
		delay = parsed
	case time.Duration:
		delay = v
	case int:
		delay = time.Duration(v) * time.Millisecond
	case int64:
		delay = time.Duration(v) * time.Millisecond
	case float64:
		delay = time.Duration(v * float64(time.Millisecond))
	default:
		return 0, fmt.Errorf("invalid %s of type %T", DelayParameter, raw)
	}
	if delay < 0 {
		return 0, errors.New(DelayParameter + " must not be negative")
	}
	return delay, nil
}
