package asynctask

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/deepnoodle-ai/asynctask/dispatch"
	"github.com/stretchr/testify/require"
)

var testEpoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// harness wires an engine to a virtual-time gateway.
type harness struct {
	t        *testing.T
	engine   *Engine
	gateway  *dispatch.ManualGateway
	failures *dispatch.FailureRecorder
	service  *recordingService
}

type harnessOption func(*EngineOptions)

func withCheckpointer(c Checkpointer) harnessOption {
	return func(o *EngineOptions) { o.Checkpointer = c }
}

func withActivityLogger(l ActivityLogger) harnessOption {
	return func(o *EngineOptions) { o.ActivityLogger = l }
}

func withCallbacks(c ExecutionCallbacks) harnessOption {
	return func(o *EngineOptions) { o.Callbacks = c }
}

func withActivities(behaviors ...ActivityBehavior) harnessOption {
	return func(o *EngineOptions) { o.Activities = append(o.Activities, behaviors...) }
}

func newHarness(t *testing.T, taskOpts AsyncServiceTaskOptions, opts ...harnessOption) *harness {
	t.Helper()
	failures := dispatch.NewFailureRecorder(0)
	gateway := dispatch.NewManualGateway(testEpoch, failures)
	service := &recordingService{result: map[string]any{"foo": "bar"}}
	if taskOpts.Service == nil {
		taskOpts.Service = service
	}
	if taskOpts.RetryBaseWait == 0 {
		taskOpts.RetryBaseWait = time.Millisecond
	}
	task, err := NewAsyncServiceTask(taskOpts)
	require.NoError(t, err)

	engineOpts := EngineOptions{
		Activities: []ActivityBehavior{task, recordActivity()},
		Gateway:    gateway,
		Clock:      gateway.Now,
	}
	for _, opt := range opts {
		opt(&engineOpts)
	}
	engine, err := NewEngine(engineOpts)
	require.NoError(t, err)
	return &harness{t: t, engine: engine, gateway: gateway, failures: failures, service: service}
}

// recordActivity copies foo into downstream_foo, proving that a later step
// sees variables applied by a signal.
func recordActivity() ActivityBehavior {
	return NewActivityFunction("record", func(ctx context.Context, execution ActivityExecution) (map[string]any, error) {
		vars, err := execution.Variables()
		if err != nil {
			return nil, err
		}
		return map[string]any{"downstream_foo": vars["foo"]}, nil
	})
}

func waitThenRecord(t *testing.T, async bool) *Workflow {
	t.Helper()
	wf, err := New(Options{
		Name: "wait-then-record",
		Steps: []*Step{
			{Name: "call", Activity: "async_service", Async: async, Next: []*Edge{{Step: "record"}}},
			{Name: "record", Activity: "record", End: true},
		},
	})
	require.NoError(t, err)
	return wf
}

// recordingService returns a fixed result and records every request.
type recordingService struct {
	mutex    sync.Mutex
	result   map[string]any
	err      error
	requests []*ServiceRequest
}

func (s *recordingService) Call(ctx context.Context, request *ServiceRequest) (map[string]any, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.requests = append(s.requests, request)
	if s.err != nil {
		return nil, s.err
	}
	return copyMap(s.result), nil
}

func (s *recordingService) Requests() []*ServiceRequest {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return append([]*ServiceRequest(nil), s.requests...)
}

// failingCheckpointer fails every save after the first n.
type failingCheckpointer struct {
	NullCheckpointer
	mutex sync.Mutex
	n     int
}

func (c *failingCheckpointer) SaveCheckpoint(ctx context.Context, checkpoint *Checkpoint) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.n <= 0 {
		return errors.New("store unavailable")
	}
	c.n--
	return nil
}

// recordingCallbacks counts committed events.
type recordingCallbacks struct {
	BaseExecutionCallbacks
	mutex  sync.Mutex
	events []string
}

func (c *recordingCallbacks) add(event string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.events = append(c.events, event)
}

func (c *recordingCallbacks) Events() []string {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return append([]string(nil), c.events...)
}

func (c *recordingCallbacks) BeforeExecution(ctx context.Context, event *ExecutionEvent) {
	c.add("start")
}

func (c *recordingCallbacks) AfterExecution(ctx context.Context, event *ExecutionEvent) {
	c.add("end:" + string(event.Status))
}

func (c *recordingCallbacks) BeforeActivityExecution(ctx context.Context, event *ActivityExecutionEvent) {
	c.add("enter:" + event.StepName)
}

func (c *recordingCallbacks) AfterActivityExecution(ctx context.Context, event *ActivityExecutionEvent) {
	c.add("leave:" + event.StepName)
}

func (c *recordingCallbacks) OnActivityDispatched(ctx context.Context, event *ActivityExecutionEvent) {
	c.add("dispatched:" + event.StepName)
}

func (c *recordingCallbacks) OnSignal(ctx context.Context, event *SignalEvent) {
	c.add("signal:" + event.SignalName)
}
