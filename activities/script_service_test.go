package activities

import (
	"context"
	"testing"
	"time"

	"github.com/deepnoodle-ai/asynctask"
	"github.com/deepnoodle-ai/asynctask/dispatch"
	"github.com/deepnoodle-ai/asynctask/script"
	"github.com/stretchr/testify/require"
)

func TestScriptService(t *testing.T) {
	compiler := script.NewDefaultCompiler()
	service, err := NewScriptService(compiler, `{"total": vars.price * vars.quantity, "currency": params.currency}`)
	require.NoError(t, err)

	result, err := service.Call(context.Background(), &asynctask.ServiceRequest{
		Payload:    map[string]any{"price": 3, "quantity": 4},
		Parameters: map[string]any{"currency": "EUR"},
	})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"total": int64(12), "currency": "EUR"}, result)

	notMap, err := NewScriptService(compiler, `vars.price`)
	require.NoError(t, err)
	_, err = notMap.Call(context.Background(), &asynctask.ServiceRequest{Payload: map[string]any{"price": 3}})
	require.ErrorContains(t, err, "script must evaluate to a map")

	_, err = NewScriptService(compiler, `{"total": `)
	require.ErrorContains(t, err, "failed to compile script")
}

func TestScriptPayload(t *testing.T) {
	compiler := script.NewDefaultCompiler()
	builder, err := ScriptPayload(compiler, `{"customer": vars.customer, "endpoint": local.endpoint}`)
	require.NoError(t, err)

	payload, err := builder(context.Background(), &asynctask.VariableSnapshot{
		Effective: map[string]any{"customer": "c-7", "secret": "hidden", "endpoint": "/x"},
		Local:     map[string]any{"endpoint": "/x"},
	}, nil)
	require.NoError(t, err)
	require.Equal(t, map[string]any{"customer": "c-7", "endpoint": "/x"}, payload)
}

func TestScriptPayloadInWaitState(t *testing.T) {
	ctx := context.Background()
	var seen map[string]any
	builder, err := ScriptPayload(script.NewDefaultCompiler(), `{"id": vars.order_id}`)
	require.NoError(t, err)
	task, err := asynctask.NewAsyncServiceTask(asynctask.AsyncServiceTaskOptions{
		Payload: builder,
		Service: asynctask.ServiceFunc(func(ctx context.Context, request *asynctask.ServiceRequest) (map[string]any, error) {
			seen = request.Payload
			return map[string]any{"shipped": true}, nil
		}),
	})
	require.NoError(t, err)

	gateway := dispatch.NewManualGateway(time.Now(), nil)
	engine, err := asynctask.NewEngine(asynctask.EngineOptions{
		Activities: []asynctask.ActivityBehavior{task},
		Gateway:    gateway,
	})
	require.NoError(t, err)

	wf, err := asynctask.New(asynctask.Options{Name: "ship", Steps: []*asynctask.Step{{Name: "ship", Activity: "async_service"}}})
	require.NoError(t, err)
	exec, err := engine.Start(ctx, asynctask.StartOptions{
		Workflow:  wf,
		Variables: map[string]any{"order_id": "o-1", "card": "4111"},
	})
	require.NoError(t, err)
	gateway.RunAll(ctx)

	require.Equal(t, map[string]any{"id": "o-1"}, seen)
	require.Equal(t, true, exec.Variables()["shipped"])
}
