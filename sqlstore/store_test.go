package sqlstore

import (
	"context"
	"testing"
	"time"

	"github.com/deepnoodle-ai/asynctask"
	"github.com/deepnoodle-ai/asynctask/dispatch"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

func openSQLite(t *testing.T) *Store {
	t.Helper()
	store, err := Open(context.Background(), "sqlite", ":memory:", Options{})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func checkpoint(id string, status asynctask.ExecutionStatus, started time.Time) *asynctask.Checkpoint {
	cp := &asynctask.Checkpoint{
		ID:            "00000001",
		ExecutionID:   id,
		WorkflowName:  "scoring",
		Status:        string(status),
		CurrentStep:   "score",
		Activity:      "async_service",
		ActivityState: string(asynctask.ActivityStateDispatched),
		Variables:     map[string]any{"customer": "c-1", "limits": map[string]any{"max": float64(10)}},
		StartTime:     started,
		CheckpointAt:  started,
	}
	if status == asynctask.ExecutionStatusWaiting {
		cp.DispatchedAt = started
	}
	return cp
}

// testCheckpointerContract exercises a store against a live database.
func testCheckpointerContract(t *testing.T, store *Store) {
	ctx := context.Background()

	missing, err := store.LoadCheckpoint(ctx, "exec-missing")
	require.NoError(t, err)
	require.Nil(t, missing)

	first := checkpoint("exec-1", asynctask.ExecutionStatusWaiting, epoch)
	require.NoError(t, store.SaveCheckpoint(ctx, first))
	loaded, err := store.LoadCheckpoint(ctx, "exec-1")
	require.NoError(t, err)
	require.Equal(t, first.Variables, loaded.Variables)
	require.Equal(t, "score", loaded.CurrentStep)
	require.True(t, first.DispatchedAt.Equal(loaded.DispatchedAt))

	// Saving again replaces the row.
	updated := checkpoint("exec-1", asynctask.ExecutionStatusCompleted, epoch)
	updated.ID = "00000002"
	updated.ActivityState = string(asynctask.ActivityStateLeft)
	require.NoError(t, store.SaveCheckpoint(ctx, updated))
	loaded, err = store.LoadCheckpoint(ctx, "exec-1")
	require.NoError(t, err)
	require.Equal(t, "00000002", loaded.ID)
	require.Equal(t, string(asynctask.ExecutionStatusCompleted), loaded.Status)

	require.NoError(t, store.SaveCheckpoint(ctx, checkpoint("exec-2", asynctask.ExecutionStatusWaiting, epoch.Add(time.Minute))))
	summaries, err := store.ListExecutions(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	require.Equal(t, "exec-2", summaries[0].ExecutionID)
	require.Equal(t, "exec-1", summaries[1].ExecutionID)

	waiting, err := store.WaitingExecutions(ctx, 5*time.Minute, epoch.Add(10*time.Minute))
	require.NoError(t, err)
	require.Len(t, waiting, 1)
	require.Equal(t, "exec-2", waiting[0].ExecutionID)

	entries := []*asynctask.ActivityLogEntry{
		{ID: "act_1", ExecutionID: "exec-2", StepName: "score", Activity: "async_service", Event: asynctask.ActivityEventEntered, Timestamp: epoch},
		{ID: "act_2", ExecutionID: "exec-2", StepName: "score", Activity: "async_service", Event: asynctask.ActivityEventDispatched, Timestamp: epoch},
		{ID: "act_3", ExecutionID: "exec-1", StepName: "score", Activity: "async_service", Event: asynctask.ActivityEventEntered, Timestamp: epoch},
	}
	for _, entry := range entries {
		require.NoError(t, store.LogActivity(ctx, entry))
	}
	history, err := store.GetActivityHistory(ctx, "exec-2")
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, asynctask.ActivityEventEntered, history[0].Event)
	require.Equal(t, asynctask.ActivityEventDispatched, history[1].Event)

	require.NoError(t, store.DeleteCheckpoint(ctx, "exec-2"))
	gone, err := store.LoadCheckpoint(ctx, "exec-2")
	require.NoError(t, err)
	require.Nil(t, gone)
	history, err = store.GetActivityHistory(ctx, "exec-2")
	require.NoError(t, err)
	require.Empty(t, history)
}

func TestSQLiteStore(t *testing.T) {
	testCheckpointerContract(t, openSQLite(t))
}

func TestMigrateIsIdempotent(t *testing.T) {
	store := openSQLite(t)
	require.NoError(t, store.Migrate(context.Background()))
}

func TestOpenRejectsUnknownDialect(t *testing.T) {
	_, err := Open(context.Background(), "oracle", "", Options{})
	require.ErrorContains(t, err, `unsupported database dialect "oracle"`)
}

func TestEngineRestoresFromStore(t *testing.T) {
	ctx := context.Background()
	store := openSQLite(t)
	wf, err := asynctask.New(asynctask.Options{
		Name:  "scoring",
		Steps: []*asynctask.Step{{Name: "score", Activity: "async_service"}},
	})
	require.NoError(t, err)

	newEngine := func() (*asynctask.Engine, *dispatch.ManualGateway) {
		gateway := dispatch.NewManualGateway(epoch, nil)
		task, err := asynctask.NewAsyncServiceTask(asynctask.AsyncServiceTaskOptions{
			Service: asynctask.ServiceFunc(func(ctx context.Context, request *asynctask.ServiceRequest) (map[string]any, error) {
				return map[string]any{"score": 81}, nil
			}),
		})
		require.NoError(t, err)
		engine, err := asynctask.NewEngine(asynctask.EngineOptions{
			Activities:     []asynctask.ActivityBehavior{task},
			Gateway:        gateway,
			Checkpointer:   store,
			ActivityLogger: store,
			Clock:          gateway.Now,
		})
		require.NoError(t, err)
		require.NoError(t, engine.RegisterWorkflow(wf))
		return engine, gateway
	}

	first, _ := newEngine()
	exec, err := first.Start(ctx, asynctask.StartOptions{Workflow: wf})
	require.NoError(t, err)

	second, _ := newEngine()
	n, err := second.RestoreAll(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.NoError(t, second.Signal(ctx, exec.ID(), "completed", map[string]any{"score": 81}))

	restored, ok := second.Execution(exec.ID())
	require.True(t, ok)
	require.Equal(t, asynctask.ExecutionStatusCompleted, restored.Status())

	history, err := store.GetActivityHistory(ctx, exec.ID())
	require.NoError(t, err)
	var events []asynctask.ActivityEvent
	for _, entry := range history {
		events = append(events, entry.Event)
	}
	require.Equal(t, []asynctask.ActivityEvent{
		asynctask.ActivityEventEntered,
		asynctask.ActivityEventDispatched,
		asynctask.ActivityEventResumed,
		asynctask.ActivityEventLeft,
	}, events)
}

func TestUpsertSQL(t *testing.T) {
	columns := []string{"id", "data"}
	require.Equal(t,
		"INSERT INTO t (id, data) VALUES (:id, :data) ON CONFLICT (id) DO UPDATE SET data = excluded.data",
		SQLiteDialect{}.UpsertSQL("t", columns, "id", []string{"data"}))
	require.Equal(t,
		"INSERT INTO t (id, data) VALUES (:id, :data) ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data",
		PostgresDialect{}.UpsertSQL("t", columns, "id", []string{"data"}))
	require.Equal(t,
		"INSERT INTO t (id, data) VALUES (:id, :data) ON DUPLICATE KEY UPDATE data = VALUES(data)",
		MySQLDialect{}.UpsertSQL("t", columns, "id", []string{"data"}))

	for _, name := range []string{"sqlite", "sqlite3", "postgres", "postgresql", "mysql", "MySQL"} {
		_, err := DialectFor(name)
		require.NoError(t, err, name)
	}
}
