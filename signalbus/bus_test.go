package signalbus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/deepnoodle-ai/asynctask"
	"github.com/deepnoodle-ai/asynctask/dispatch"
	"github.com/stretchr/testify/require"
)

type collectingSink struct {
	mutex   sync.Mutex
	signals []asynctask.Signal
	err     error
}

func (s *collectingSink) Signal(ctx context.Context, executionID, signalName string, payload map[string]any) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.signals = append(s.signals, asynctask.Signal{ExecutionID: executionID, Name: signalName, Payload: payload})
	return s.err
}

func (s *collectingSink) Signals() []asynctask.Signal {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return append([]asynctask.Signal(nil), s.signals...)
}

func TestBusDeliversSignals(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus := New(Options{})

	sink := &collectingSink{}
	consumer, err := bus.Consume(ctx, sink)
	require.NoError(t, err)

	require.NoError(t, bus.Signal(ctx, "exec-1", "completed", map[string]any{"foo": "bar"}))
	require.Eventually(t, func() bool { return len(sink.Signals()) == 1 }, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, asynctask.Signal{
		ExecutionID: "exec-1",
		Name:        "completed",
		Payload:     map[string]any{"foo": "bar"},
	}, sink.Signals()[0])

	require.Error(t, bus.Signal(ctx, "", "completed", nil))

	require.NoError(t, bus.Close())
	select {
	case <-consumer.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop after close")
	}
}

// deliveringSink records full signals handed over through Deliver.
type deliveringSink struct {
	collectingSink
}

func (s *deliveringSink) Deliver(ctx context.Context, signal asynctask.Signal) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.signals = append(s.signals, signal)
	return s.err
}

func TestBusKeepsStepAndWaitToken(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus := New(Options{})
	defer bus.Close()

	sink := &deliveringSink{}
	_, err := bus.Consume(ctx, sink)
	require.NoError(t, err)

	signal := asynctask.Signal{
		ExecutionID: "exec-1",
		Name:        "completed",
		Step:        "call",
		WaitToken:   "wait_01jz0000000000000000000000",
		Payload:     map[string]any{"foo": "bar"},
	}
	require.NoError(t, bus.Deliver(ctx, signal))
	require.Eventually(t, func() bool { return len(sink.Signals()) == 1 }, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, signal, sink.Signals()[0])
}

func TestBusReportsDeliveryFailures(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	failures := dispatch.NewFailureRecorder(0)
	bus := New(Options{Failures: failures})
	defer bus.Close()

	sink := &collectingSink{err: asynctask.NewDeliveryFailure("exec-9", "not waiting")}
	_, err := bus.Consume(ctx, sink)
	require.NoError(t, err)

	require.NoError(t, bus.Signal(ctx, "exec-9", "completed", nil))
	require.NoError(t, bus.Signal(ctx, "exec-9", "completed", nil))
	require.Eventually(t, func() bool { return len(failures.FailuresFor("exec-9")) == 2 }, 2*time.Second, 5*time.Millisecond)
	require.True(t, errors.Is(failures.FailuresFor("exec-9")[0].Err, asynctask.ErrDeliveryFailure))

	// Failed signals are acknowledged, not redelivered.
	time.Sleep(20 * time.Millisecond)
	require.Len(t, sink.Signals(), 2)
}

func TestBusResumesEngine(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	failures := dispatch.NewFailureRecorder(0)
	bus := New(Options{Failures: failures})
	defer bus.Close()

	gateway := dispatch.NewManualGateway(time.Now(), failures)
	task, err := asynctask.NewAsyncServiceTask(asynctask.AsyncServiceTaskOptions{
		Service: asynctask.ServiceFunc(func(ctx context.Context, request *asynctask.ServiceRequest) (map[string]any, error) {
			return map[string]any{"foo": "bar"}, nil
		}),
	})
	require.NoError(t, err)
	engine, err := asynctask.NewEngine(asynctask.EngineOptions{
		Activities: []asynctask.ActivityBehavior{task},
		Gateway:    gateway,
		SignalSink: bus,
	})
	require.NoError(t, err)
	_, err = bus.Consume(ctx, engine)
	require.NoError(t, err)

	wf, err := asynctask.New(asynctask.Options{
		Name:  "bus",
		Steps: []*asynctask.Step{{Name: "call", Activity: "async_service"}},
	})
	require.NoError(t, err)
	exec, err := engine.Start(ctx, asynctask.StartOptions{Workflow: wf})
	require.NoError(t, err)

	require.Equal(t, 1, gateway.RunAll(ctx))
	require.Eventually(t, func() bool {
		return exec.Status() == asynctask.ExecutionStatusCompleted
	}, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, "bar", exec.Variables()["foo"])

	// A duplicate signal is rejected by the engine and surfaces as a failure.
	require.NoError(t, bus.Publish(ctx, asynctask.Signal{ExecutionID: exec.ID(), Step: "call"}))
	require.Eventually(t, func() bool { return len(failures.FailuresFor(exec.ID())) == 1 }, 2*time.Second, 5*time.Millisecond)
	require.True(t, errors.Is(failures.FailuresFor(exec.ID())[0].Err, asynctask.ErrDeliveryFailure))
}
