package activities

import (
	"context"
	"testing"
	"time"

	"github.com/deepnoodle-ai/asynctask"
	"github.com/deepnoodle-ai/asynctask/dispatch"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T, service asynctask.Service) (*asynctask.Engine, *dispatch.ManualGateway) {
	t.Helper()
	gateway := dispatch.NewManualGateway(time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC), nil)
	behaviors := Builtins()
	if service != nil {
		task, err := asynctask.NewAsyncServiceTask(asynctask.AsyncServiceTaskOptions{
			Service:       service,
			RetryBaseWait: time.Millisecond,
		})
		require.NoError(t, err)
		behaviors = append(behaviors, task)
	}
	engine, err := asynctask.NewEngine(asynctask.EngineOptions{
		Activities: behaviors,
		Gateway:    gateway,
		Clock:      gateway.Now,
	})
	require.NoError(t, err)
	return engine, gateway
}

func TestSetActivity(t *testing.T) {
	engine, _ := newTestEngine(t, nil)
	wf, err := asynctask.New(asynctask.Options{
		Name: "set",
		Steps: []*asynctask.Step{{
			Name:       "init",
			Activity:   "set",
			Parameters: map[string]any{"variables": map[string]any{"attempts": 0, "region": "eu"}},
		}},
	})
	require.NoError(t, err)

	exec, err := engine.Start(context.Background(), asynctask.StartOptions{Workflow: wf})
	require.NoError(t, err)
	require.Equal(t, asynctask.ExecutionStatusCompleted, exec.Status())
	vars := exec.Variables()
	require.Equal(t, 0, vars["attempts"])
	require.Equal(t, "eu", vars["region"])
	require.NotContains(t, vars, "variables")
}

func TestSetActivityRequiresMap(t *testing.T) {
	engine, _ := newTestEngine(t, nil)
	wf, err := asynctask.New(asynctask.Options{
		Name:  "bad-set",
		Steps: []*asynctask.Step{{Name: "init", Activity: "set", Parameters: map[string]any{"variables": "x"}}},
	})
	require.NoError(t, err)

	_, err = engine.Start(context.Background(), asynctask.StartOptions{Workflow: wf})
	require.ErrorContains(t, err, `parameter "variables" must be a map`)
}

func TestLogAndFailActivities(t *testing.T) {
	engine, _ := newTestEngine(t, nil)
	wf, err := asynctask.New(asynctask.Options{
		Name: "log-then-fail",
		Steps: []*asynctask.Step{
			{Name: "log", Activity: "log", Parameters: map[string]any{"message": "hello", "level": "warn"}, Next: []*asynctask.Edge{{Step: "fail"}}},
			{Name: "fail", Activity: "fail", Parameters: map[string]any{"message": "boom"}},
		},
	})
	require.NoError(t, err)

	_, err = engine.Start(context.Background(), asynctask.StartOptions{Workflow: wf})
	require.ErrorIs(t, err, asynctask.ErrEntryFailure)
	require.ErrorContains(t, err, "fail activity: boom")

	badLevel, err := asynctask.New(asynctask.Options{
		Name:  "bad-level",
		Steps: []*asynctask.Step{{Name: "log", Activity: "log", Parameters: map[string]any{"message": "x", "level": "loud"}}},
	})
	require.NoError(t, err)
	_, err = engine.Start(context.Background(), asynctask.StartOptions{Workflow: badLevel})
	require.ErrorContains(t, err, `invalid log level "loud"`)
}

func TestReceiveTaskWaitsForSignal(t *testing.T) {
	ctx := context.Background()
	engine, gateway := newTestEngine(t, nil)
	wf, err := asynctask.New(asynctask.Options{
		Name:  "approval",
		Steps: []*asynctask.Step{{Name: "approve", Activity: "receive"}},
	})
	require.NoError(t, err)

	exec, err := engine.Start(ctx, asynctask.StartOptions{Workflow: wf})
	require.NoError(t, err)
	require.Equal(t, asynctask.ActivityStateDispatched, exec.ActivityState())
	require.Equal(t, 0, gateway.Pending())

	require.NoError(t, engine.Signal(ctx, exec.ID(), "approved", map[string]any{"approver": "ops"}))
	require.Equal(t, asynctask.ExecutionStatusCompleted, exec.Status())
	require.Equal(t, "ops", exec.Variables()["approver"])
}

func TestEchoService(t *testing.T) {
	ctx := context.Background()
	engine, gateway := newTestEngine(t, EchoService(map[string]any{"foo": "bar"}))
	wf, err := asynctask.New(asynctask.Options{
		Name:  "echo",
		Steps: []*asynctask.Step{{Name: "call", Activity: "async_service"}},
	})
	require.NoError(t, err)

	exec, err := engine.Start(ctx, asynctask.StartOptions{Workflow: wf})
	require.NoError(t, err)
	require.Equal(t, 1, gateway.Advance(ctx, asynctask.DefaultDispatchDelay))
	require.Equal(t, "bar", exec.Variables()["foo"])

	result, err := EchoService(nil).Call(ctx, &asynctask.ServiceRequest{Payload: map[string]any{"a": 1}})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"a": 1}, result)
}
