package asynctask

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultJobSchedule is how often a JobRunner polls for pending jobs.
const DefaultJobSchedule = "@every 1s"

// JobRunnerOptions configures a JobRunner.
type JobRunnerOptions struct {
	Engine *Engine

	// Schedule is a cron expression or descriptor. Defaults to
	// DefaultJobSchedule.
	Schedule string

	// StaleAfter enables a sweep that reports executions suspended for
	// longer than this. Zero disables the sweep.
	StaleAfter time.Duration

	// OnStale is called for every stale execution found by the sweep.
	OnStale func(summary *ExecutionSummary)

	Logger *slog.Logger
}

// JobRunner periodically executes pending continuation jobs and reports
// executions that have been waiting for a signal for too long.
type JobRunner struct {
	engine     *Engine
	cron       *cron.Cron
	schedule   string
	staleAfter time.Duration
	onStale    func(summary *ExecutionSummary)
	logger     *slog.Logger
}

// JobRunResult summarizes one pass over the pending jobs.
type JobRunResult struct {
	Executed int
	Failed   int
	Stale    int
}

// NewJobRunner returns a runner. Call Start to begin polling.
func NewJobRunner(opts JobRunnerOptions) (*JobRunner, error) {
	if opts.Engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if opts.Schedule == "" {
		opts.Schedule = DefaultJobSchedule
	}
	if _, err := cron.ParseStandard(opts.Schedule); err != nil {
		return nil, fmt.Errorf("invalid job schedule %q: %w", opts.Schedule, err)
	}
	if opts.StaleAfter < 0 {
		return nil, fmt.Errorf("stale threshold must not be negative")
	}
	if opts.Logger == nil {
		opts.Logger = opts.Engine.logger
	}
	logger := opts.Logger.With("component", "job_runner")
	cl := cronLogger{logger: logger}
	return &JobRunner{
		engine:     opts.Engine,
		cron:       cron.New(cron.WithLogger(cl), cron.WithChain(cron.SkipIfStillRunning(cl))),
		schedule:   opts.Schedule,
		staleAfter: opts.StaleAfter,
		onStale:    opts.OnStale,
		logger:     logger,
	}, nil
}

// Start schedules the polling pass and starts the cron scheduler.
func (r *JobRunner) Start() error {
	if _, err := r.cron.AddFunc(r.schedule, func() { r.RunOnce(context.Background()) }); err != nil {
		return fmt.Errorf("failed to schedule job runner: %w", err)
	}
	r.cron.Start()
	r.logger.Info("job runner started", "schedule", r.schedule)
	return nil
}

// Stop stops the scheduler and waits for a running pass to finish.
func (r *JobRunner) Stop(ctx context.Context) error {
	done := r.cron.Stop()
	select {
	case <-done.Done():
		r.logger.Info("job runner stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce executes every pending job once and runs the stale sweep.
func (r *JobRunner) RunOnce(ctx context.Context) JobRunResult {
	var result JobRunResult
	for _, job := range r.engine.PendingJobs() {
		if ctx.Err() != nil {
			break
		}
		if err := r.engine.ExecuteJob(ctx, job.ID); err != nil {
			result.Failed++
			r.logger.Warn("job attempt failed",
				"job_id", job.ID,
				"execution_id", job.ExecutionID,
				"error", err)
			continue
		}
		result.Executed++
	}
	if r.staleAfter > 0 {
		for _, summary := range r.engine.WaitingExecutions(r.staleAfter) {
			result.Stale++
			r.logger.Warn("execution waiting for signal",
				"execution_id", summary.ExecutionID,
				"step", summary.CurrentStep,
				"waiting_for", summary.WaitingFor(r.engine.now()))
			if r.onStale != nil {
				r.onStale(summary)
			}
		}
	}
	return result
}

// cronLogger adapts slog to the cron.Logger interface.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append([]interface{}{"error", err}, keysAndValues...)...)
}
