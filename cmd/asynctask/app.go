package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/deepnoodle-ai/asynctask"
	"github.com/deepnoodle-ai/asynctask/activities"
	"github.com/deepnoodle-ai/asynctask/config"
	"github.com/deepnoodle-ai/asynctask/dispatch"
	"github.com/deepnoodle-ai/asynctask/httpapi"
	"github.com/deepnoodle-ai/asynctask/signalbus"
	"github.com/deepnoodle-ai/asynctask/sqlstore"
	"github.com/spf13/afero"
)

// store holds the persistence selected by the configuration.
type store struct {
	checkpointer   asynctask.Checkpointer
	activityLogger asynctask.ActivityLogger
	close          func() error
}

func openStore(ctx context.Context, fs afero.Fs, cfg config.StoreConfig, logger *slog.Logger) (*store, error) {
	switch cfg.Driver {
	case "", config.StoreMemory:
		return &store{
			checkpointer:   asynctask.NewNullCheckpointer(),
			activityLogger: asynctask.NewNullActivityLogger(),
			close:          func() error { return nil },
		}, nil
	case config.StoreFile:
		checkpointer, err := asynctask.NewFileCheckpointer(fs, filepath.Join(cfg.Dir, "executions"))
		if err != nil {
			return nil, err
		}
		return &store{
			checkpointer:   checkpointer,
			activityLogger: asynctask.NewFileActivityLogger(fs, filepath.Join(cfg.Dir, "logs")),
			close:          func() error { return nil },
		}, nil
	default:
		db, err := sqlstore.Open(ctx, cfg.Driver, cfg.DSN, sqlstore.Options{Logger: logger})
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, err
		}
		return &store{checkpointer: db, activityLogger: db, close: db.Close}, nil
	}
}

const maxRecordedFailures = 256

// app is the engine and its collaborators built from a configuration.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *store
	executor *dispatch.Executor
	failures *dispatch.FailureRecorder
	bus      *signalbus.Bus
	engine   *asynctask.Engine
	runner   *asynctask.JobRunner
	server   *http.Server
	cancel   context.CancelFunc
}

func newApp(ctx context.Context, fs afero.Fs, cfg *config.Config, logOutput io.Writer) (*app, error) {
	logger := cfg.Log.Logger(logOutput)
	st, err := openStore(ctx, fs, cfg.Store, logger)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, store: st}
	ctx, a.cancel = context.WithCancel(ctx)

	a.failures = dispatch.NewFailureRecorder(maxRecordedFailures)
	failures := dispatch.MultiSink(dispatch.LogFailures(logger), a.failures)
	a.executor = dispatch.NewExecutor(dispatch.ExecutorOptions{
		Workers:   cfg.Dispatch.Workers,
		QueueSize: cfg.Dispatch.QueueSize,
		Logger:    logger,
		Failures:  failures,
	})

	var sink asynctask.SignalSink
	if cfg.Dispatch.SignalBus {
		a.bus = signalbus.New(signalbus.Options{
			Topic:    cfg.Dispatch.SignalTopic,
			Failures: failures,
			Logger:   logger,
		})
		sink = a.bus
	}

	services, err := serviceTasks(cfg.Dispatch, logger)
	if err != nil {
		a.close(context.Background())
		return nil, err
	}
	a.engine, err = asynctask.NewEngine(asynctask.EngineOptions{
		Activities:     append(activities.Builtins(), services...),
		Gateway:        a.executor,
		SignalSink:     sink,
		Checkpointer:   st.checkpointer,
		ActivityLogger: st.activityLogger,
		Logger:         logger,
	})
	if err != nil {
		a.close(context.Background())
		return nil, err
	}
	if a.bus != nil {
		if _, err := a.bus.Consume(ctx, a.engine); err != nil {
			a.close(context.Background())
			return nil, err
		}
	}

	a.runner, err = asynctask.NewJobRunner(asynctask.JobRunnerOptions{
		Engine:     a.engine,
		Schedule:   cfg.Jobs.Schedule,
		StaleAfter: cfg.Jobs.StaleAfter,
		Logger:     logger,
	})
	if err != nil {
		a.close(context.Background())
		return nil, err
	}
	return a, nil
}

// serviceTasks returns the service backed wait states every process can use.
func serviceTasks(cfg config.DispatchConfig, logger *slog.Logger) ([]asynctask.ActivityBehavior, error) {
	services := map[string]asynctask.Service{
		"http_service": activities.NewHTTPService(activities.HTTPServiceOptions{}),
		"echo_service": activities.EchoService(nil),
	}
	var behaviors []asynctask.ActivityBehavior
	for _, name := range []string{"http_service", "echo_service"} {
		task, err := asynctask.NewAsyncServiceTask(asynctask.AsyncServiceTaskOptions{
			Name:       name,
			Service:    services[name],
			Delay:      cfg.Delay,
			MaxRetries: cfg.MaxRetries,
			Logger:     logger,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", name, err)
		}
		behaviors = append(behaviors, task)
	}
	return behaviors, nil
}

// start launches the job runner and, when configured, the HTTP API.
func (a *app) start() error {
	if err := a.runner.Start(); err != nil {
		return err
	}
	if a.cfg.HTTP.Addr == "" {
		return nil
	}
	a.server = &http.Server{
		Addr:              a.cfg.HTTP.Addr,
		Handler:           httpapi.NewRouter(a.engine, a.logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		a.logger.Info("http api listening", "addr", a.cfg.HTTP.Addr)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http api stopped", "error", err)
		}
	}()
	return nil
}

// close stops everything in reverse order of construction.
func (a *app) close(ctx context.Context) error {
	var errs []error
	if a.server != nil {
		errs = append(errs, a.server.Shutdown(ctx))
	}
	if a.runner != nil {
		errs = append(errs, a.runner.Stop(ctx))
	}
	if a.executor != nil {
		errs = append(errs, a.executor.Shutdown(ctx))
	}
	if a.bus != nil {
		errs = append(errs, a.bus.Close())
	}
	a.cancel()
	errs = append(errs, a.store.close())
	return errors.Join(errs...)
}
