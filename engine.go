package asynctask

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/deepnoodle-ai/asynctask/dispatch"
	"github.com/deepnoodle-ai/asynctask/script"
)

// ErrJobNotFound is returned for operations on an unknown continuation job.
var ErrJobNotFound = errors.New("job not found")

// ErrJobParked is returned when executing a job without retries left.
var ErrJobParked = errors.New("job has no retries left")

// EngineOptions configures an Engine.
type EngineOptions struct {
	// Activities are the behaviors steps may refer to.
	Activities []ActivityBehavior

	// Gateway schedules work dispatched by wait-state activities. When nil
	// the engine creates and owns a dispatch.Executor.
	Gateway dispatch.Gateway

	// SignalSink is handed to dispatched work for reporting completion.
	// Defaults to the engine itself.
	SignalSink SignalSink

	Checkpointer   Checkpointer
	ActivityLogger ActivityLogger
	Callbacks      ExecutionCallbacks
	ScriptCompiler script.Compiler

	// JobHandlers resolve continuation jobs by type. Defaults to
	// DefaultJobHandlers.
	JobHandlers map[string]ContinuationResolver

	// JobRetries is the default retry budget of continuation jobs.
	JobRetries int

	Logger *slog.Logger

	// Clock returns the current time. Defaults to time.Now.
	Clock func() time.Time
}

// StartOptions configures a new execution.
type StartOptions struct {
	Workflow    *Workflow
	ExecutionID string
	Variables   map[string]any
}

// Engine runs executions of registered processes. Every operation on an
// execution holds that execution's lock, runs to its next wait state and
// commits by saving a checkpoint. A failed operation restores the execution
// to its state before the operation.
type Engine struct {
	activities     ActivityRegistry
	gateway        dispatch.Gateway
	ownedExecutor  *dispatch.Executor
	sink           SignalSink
	checkpointer   Checkpointer
	activityLogger ActivityLogger
	callbacks      ExecutionCallbacks
	compiler       script.Compiler
	jobHandlers    map[string]ContinuationResolver
	jobRetries     int
	logger         *slog.Logger
	now            func() time.Time

	mutex      sync.RWMutex
	workflows  map[string]*compiledWorkflow
	compiled   map[*Workflow]*compiledWorkflow
	executions map[string]*Execution
	jobIndex   map[string]string
}

var (
	_ SignalSink      = (*Engine)(nil)
	_ SignalDeliverer = (*Engine)(nil)
)

// NewEngine returns an engine configured with the given options.
func NewEngine(opts EngineOptions) (*Engine, error) {
	activities, err := NewActivityRegistry(opts.Activities...)
	if err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = discardLogger()
	}
	if opts.Checkpointer == nil {
		opts.Checkpointer = NewNullCheckpointer()
	}
	if opts.ActivityLogger == nil {
		opts.ActivityLogger = NewNullActivityLogger()
	}
	if opts.Callbacks == nil {
		opts.Callbacks = &BaseExecutionCallbacks{}
	}
	if opts.ScriptCompiler == nil {
		opts.ScriptCompiler = script.NewDefaultCompiler()
	}
	if opts.JobHandlers == nil {
		opts.JobHandlers = DefaultJobHandlers()
	}
	if opts.JobRetries <= 0 {
		opts.JobRetries = DefaultJobRetries
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	e := &Engine{
		activities:     activities,
		gateway:        opts.Gateway,
		sink:           opts.SignalSink,
		checkpointer:   opts.Checkpointer,
		activityLogger: opts.ActivityLogger,
		callbacks:      opts.Callbacks,
		compiler:       opts.ScriptCompiler,
		jobHandlers:    opts.JobHandlers,
		jobRetries:     opts.JobRetries,
		logger:         opts.Logger,
		now:            opts.Clock,
		workflows:      map[string]*compiledWorkflow{},
		compiled:       map[*Workflow]*compiledWorkflow{},
		executions:     map[string]*Execution{},
		jobIndex:       map[string]string{},
	}
	if e.gateway == nil {
		e.ownedExecutor = dispatch.NewExecutor(dispatch.ExecutorOptions{
			Logger:   opts.Logger,
			Failures: dispatch.LogFailures(opts.Logger),
		})
		e.gateway = e.ownedExecutor
	}
	if e.sink == nil {
		e.sink = e
	}
	return e, nil
}

// Close shuts down the executor the engine created, if any. Work already
// dispatched through a caller-provided gateway is not affected.
func (e *Engine) Close(ctx context.Context) error {
	if e.ownedExecutor == nil {
		return nil
	}
	return e.ownedExecutor.Shutdown(ctx)
}

// Gateway returns the dispatch gateway used by wait-state activities.
func (e *Engine) Gateway() dispatch.Gateway {
	return e.gateway
}

// RegisterWorkflow compiles the conditions and parameter templates of a
// process and makes it available to Restore. A later registration under the
// same name replaces the earlier one for new executions.
func (e *Engine) RegisterWorkflow(workflow *Workflow) error {
	_, err := e.register(workflow)
	return err
}

func (e *Engine) register(workflow *Workflow) (*compiledWorkflow, error) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	if cw, ok := e.compiled[workflow]; ok {
		return cw, nil
	}
	for _, step := range workflow.Steps() {
		if _, ok := e.activities[step.Activity]; !ok {
			return nil, fmt.Errorf("step %q: unknown activity %q", step.Name, step.Activity)
		}
	}
	cw, err := compileWorkflow(context.Background(), e.compiler, workflow)
	if err != nil {
		return nil, err
	}
	e.compiled[workflow] = cw
	e.workflows[workflow.Name()] = cw
	return cw, nil
}

func (e *Engine) compiledFor(workflow *Workflow) *compiledWorkflow {
	e.mutex.RLock()
	defer e.mutex.RUnlock()
	return e.compiled[workflow]
}

// Start creates an execution and runs it to its first wait state. If entry
// fails the execution is discarded and the error is returned.
func (e *Engine) Start(ctx context.Context, opts StartOptions) (*Execution, error) {
	if opts.Workflow == nil {
		return nil, fmt.Errorf("workflow is required")
	}
	if _, err := e.register(opts.Workflow); err != nil {
		return nil, err
	}
	variables, err := opts.Workflow.resolveInputs(opts.Variables)
	if err != nil {
		return nil, err
	}
	if opts.ExecutionID == "" {
		opts.ExecutionID = NewExecutionID()
	}

	exec := newExecution(opts.ExecutionID, opts.Workflow, variables, e.logger, e.now)
	e.mutex.Lock()
	if _, exists := e.executions[exec.id]; exists {
		e.mutex.Unlock()
		return nil, fmt.Errorf("execution %s already exists", exec.id)
	}
	e.executions[exec.id] = exec
	e.mutex.Unlock()

	err = e.run(ctx, exec, func(tx *txn) error {
		exec.status = ExecutionStatusRunning
		exec.startTime = e.now()
		event := &ExecutionEvent{
			ExecutionID:  exec.id,
			WorkflowName: exec.WorkflowName(),
			Status:       ExecutionStatusRunning,
			StartTime:    exec.startTime,
			Variables:    deepCopyMap(variables),
		}
		tx.onCommit(func(ctx context.Context) { e.callbacks.BeforeExecution(ctx, event) })
		return tx.enter(ctx, opts.Workflow.Start(), false)
	})
	if err != nil {
		e.mutex.Lock()
		delete(e.executions, exec.id)
		e.mutex.Unlock()
		return nil, err
	}
	exec.logger.Info("execution started", "workflow", exec.WorkflowName(), "status", exec.Status())
	return exec, nil
}

// Signal delivers a signal to a suspended execution. It implements
// SignalSink.
func (e *Engine) Signal(ctx context.Context, executionID, signalName string, payload map[string]any) error {
	return e.Deliver(ctx, Signal{ExecutionID: executionID, Name: signalName, Payload: payload})
}

// Deliver resumes the execution addressed by the signal. The execution must
// be suspended in a dispatched wait state, otherwise a DeliveryFailure is
// returned and nothing changes. A signal naming a step or wait token must
// match the current wait state. The signal name is passed to the behavior
// but does not select what happens.
func (e *Engine) Deliver(ctx context.Context, signal Signal) error {
	exec, ok := e.Execution(signal.ExecutionID)
	if !ok {
		return NewDeliveryFailure(signal.ExecutionID, "unknown execution")
	}
	return e.run(ctx, exec, func(tx *txn) error {
		if exec.status != ExecutionStatusWaiting || exec.activityState != ActivityStateDispatched {
			return NewDeliveryFailure(exec.id, fmt.Sprintf(
				"execution is not suspended at an activity (status %s, activity state %s)",
				exec.status, exec.activityState))
		}
		if signal.Step != "" && signal.Step != exec.currentStep {
			return NewDeliveryFailure(exec.id, fmt.Sprintf(
				"execution is suspended at %q, not %q", exec.currentStep, signal.Step))
		}
		if signal.WaitToken != "" && signal.WaitToken != exec.waitToken {
			return NewDeliveryFailure(exec.id, fmt.Sprintf(
				"signal is for wait state %s, execution is suspended in %s at %q",
				signal.WaitToken, exec.waitToken, exec.currentStep))
		}
		return tx.resume(ctx, signal.Name, deepCopyMap(signal.Payload))
	})
}

// Cancel stops an execution. Work already dispatched keeps running; its
// signal will be rejected with a DeliveryFailure.
func (e *Engine) Cancel(ctx context.Context, executionID, reason string) error {
	exec, ok := e.Execution(executionID)
	if !ok {
		return fmt.Errorf("execution %s not found", executionID)
	}
	return e.run(ctx, exec, func(tx *txn) error {
		if exec.status.IsTerminal() {
			return fmt.Errorf("execution %s is already %s", exec.id, exec.status)
		}
		for id := range exec.jobs {
			tx.onCommit(e.unindexJob(id))
		}
		exec.jobs = map[string]*Job{}
		exec.status = ExecutionStatusCancelled
		exec.err = reason
		exec.endTime = e.now()
		event := tx.executionEvent()
		tx.onCommit(func(ctx context.Context) { e.callbacks.AfterExecution(ctx, event) })
		return nil
	})
}

// Execution returns a loaded execution.
func (e *Engine) Execution(id string) (*Execution, bool) {
	e.mutex.RLock()
	defer e.mutex.RUnlock()
	exec, ok := e.executions[id]
	return exec, ok
}

// Executions returns every loaded execution ordered by ID.
func (e *Engine) Executions() []*Execution {
	e.mutex.RLock()
	executions := make([]*Execution, 0, len(e.executions))
	for _, exec := range e.executions {
		executions = append(executions, exec)
	}
	e.mutex.RUnlock()
	sort.Slice(executions, func(i, j int) bool { return executions[i].id < executions[j].id })
	return executions
}

// WaitingExecutions returns the executions parked in a dispatched wait state
// for at least olderThan, longest waiting first. These are the candidates
// for a lost signal.
func (e *Engine) WaitingExecutions(olderThan time.Duration) []*ExecutionSummary {
	executions := e.Executions()
	summaries := make([]*ExecutionSummary, 0, len(executions))
	for _, exec := range executions {
		summaries = append(summaries, exec.Summary())
	}
	return FilterWaiting(summaries, olderThan, e.now())
}

// Restore loads an execution from its latest checkpoint. The process it
// belongs to must have been registered.
func (e *Engine) Restore(ctx context.Context, executionID string) (*Execution, error) {
	if exec, ok := e.Execution(executionID); ok {
		return exec, nil
	}
	checkpoint, err := e.checkpointer.LoadCheckpoint(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	if checkpoint == nil {
		return nil, fmt.Errorf("no checkpoint found for execution %s", executionID)
	}

	e.mutex.Lock()
	defer e.mutex.Unlock()
	if exec, ok := e.executions[executionID]; ok {
		return exec, nil
	}
	cw, ok := e.workflows[checkpoint.WorkflowName]
	if !ok {
		return nil, fmt.Errorf("workflow %q is not registered", checkpoint.WorkflowName)
	}
	exec := executionFromCheckpoint(checkpoint, cw.workflow, e.logger, e.now)
	e.executions[exec.id] = exec
	for id := range exec.jobs {
		e.jobIndex[id] = exec.id
	}
	exec.logger.Info("execution restored from checkpoint",
		"status", exec.status,
		"step", exec.currentStep,
		"activity_state", exec.activityState)
	return exec, nil
}

// RestoreAll loads every unfinished execution known to the checkpointer and
// returns how many were restored. Executions of unregistered processes are
// skipped.
func (e *Engine) RestoreAll(ctx context.Context) (int, error) {
	summaries, err := e.checkpointer.ListExecutions(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list executions: %w", err)
	}
	restored := 0
	for _, summary := range summaries {
		if ExecutionStatus(summary.Status).IsTerminal() {
			continue
		}
		if _, err := e.Restore(ctx, summary.ExecutionID); err != nil {
			e.logger.Warn("skipping execution", "execution_id", summary.ExecutionID, "error", err)
			continue
		}
		restored++
	}
	return restored, nil
}

// PendingJobs returns the continuation jobs that still have retries left,
// oldest first.
func (e *Engine) PendingJobs() []*Job {
	var jobs []*Job
	for _, exec := range e.Executions() {
		for _, job := range exec.Jobs() {
			if !job.Parked() {
				jobs = append(jobs, job)
			}
		}
	}
	sort.SliceStable(jobs, func(i, j int) bool { return jobs[i].CreatedAt.Before(jobs[j].CreatedAt) })
	return jobs
}

// ExecuteJob runs a continuation job. The job's operation is resolved by the
// handler for its type; a rejected operation or a failing entry consumes one
// retry. A job without retries left is parked and the execution is marked
// failed until RetryJob is called.
func (e *Engine) ExecuteJob(ctx context.Context, jobID string) error {
	exec, err := e.executionForJob(jobID)
	if err != nil {
		return err
	}

	exec.mutex.Lock()
	job, ok := exec.jobs[jobID]
	if !ok {
		exec.mutex.Unlock()
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if job.Parked() {
		exec.mutex.Unlock()
		return fmt.Errorf("%w: %s", ErrJobParked, jobID)
	}
	jobCopy := job.Copy()

	var tx *txn
	op, err := resolveJob(e.jobHandlers, jobCopy)
	if err == nil {
		tx, err = e.transact(ctx, exec, func(tx *txn) error {
			step, ok := exec.workflow.Step(jobCopy.StepName)
			if !ok {
				return fmt.Errorf("step %q not found", jobCopy.StepName)
			}
			delete(exec.jobs, jobID)
			tx.onCommit(e.unindexJob(jobID))
			return op.execute(ctx, tx, step)
		})
	}
	var failure *ActivityLogEntry
	if err != nil {
		failure = e.failJob(ctx, exec, jobID, err)
	}
	exec.mutex.Unlock()

	if tx != nil {
		tx.flush(ctx)
	}
	if failure != nil {
		e.logActivity(ctx, failure)
	}
	return err
}

// RetryJob resets the retry budget of a job, reviving a parked job.
func (e *Engine) RetryJob(ctx context.Context, jobID string, retries int) error {
	if retries <= 0 {
		return fmt.Errorf("retries must be positive")
	}
	exec, err := e.executionForJob(jobID)
	if err != nil {
		return err
	}
	return e.run(ctx, exec, func(tx *txn) error {
		job, ok := exec.jobs[jobID]
		if !ok {
			return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
		}
		job.Retries = retries
		job.LastError = ""
		if exec.status == ExecutionStatusFailed {
			exec.status = ExecutionStatusWaiting
			exec.err = ""
		}
		return nil
	})
}

func (e *Engine) executionForJob(jobID string) (*Execution, error) {
	e.mutex.RLock()
	executionID, ok := e.jobIndex[jobID]
	var exec *Execution
	if ok {
		exec, ok = e.executions[executionID]
	}
	e.mutex.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	return exec, nil
}

// failJob records a failed job attempt. The caller holds the execution lock.
func (e *Engine) failJob(ctx context.Context, exec *Execution, jobID string, cause error) *ActivityLogEntry {
	job, ok := exec.jobs[jobID]
	if !ok {
		return nil
	}
	job.Retries--
	job.LastError = cause.Error()
	logger := exec.logger.With("job_id", jobID, "step", job.StepName)
	if job.Parked() {
		exec.status = ExecutionStatusFailed
		exec.err = fmt.Sprintf("job %s failed: %s", jobID, cause)
		logger.Error("job failed with no retries left", "error", cause)
	} else {
		logger.Warn("job failed", "error", cause, "retries_left", job.Retries)
	}
	if err := e.checkpointer.SaveCheckpoint(ctx, exec.toCheckpoint(e.now())); err != nil {
		logger.Error("failed to save checkpoint", "error", err)
	}
	step, _ := exec.workflow.Step(job.StepName)
	entry := &ActivityLogEntry{
		ID:          NewActivityLogID(),
		ExecutionID: exec.id,
		StepName:    job.StepName,
		Event:       ActivityEventFailed,
		Error:       cause.Error(),
		Timestamp:   e.now(),
	}
	if step != nil {
		entry.Activity = step.Activity
	}
	return entry
}

func (e *Engine) indexJob(jobID, executionID string) func(context.Context) {
	return func(context.Context) {
		e.mutex.Lock()
		e.jobIndex[jobID] = executionID
		e.mutex.Unlock()
	}
}

func (e *Engine) unindexJob(jobID string) func(context.Context) {
	return func(context.Context) {
		e.mutex.Lock()
		delete(e.jobIndex, jobID)
		e.mutex.Unlock()
	}
}

// run executes fn as one transaction on exec and delivers the resulting
// events once the execution lock is released.
func (e *Engine) run(ctx context.Context, exec *Execution, fn func(tx *txn) error) error {
	exec.mutex.Lock()
	tx, err := e.transact(ctx, exec, fn)
	exec.mutex.Unlock()
	tx.flush(ctx)
	return err
}

// transact runs fn and commits by saving a checkpoint. On any failure the
// execution is restored to its state before fn ran. The caller holds the
// execution lock.
func (e *Engine) transact(ctx context.Context, exec *Execution, fn func(tx *txn) error) (*txn, error) {
	memento := exec.memento()
	tx := &txn{engine: e, exec: exec}
	err := fn(tx)
	if err == nil {
		if saveErr := e.checkpointer.SaveCheckpoint(ctx, exec.toCheckpoint(e.now())); saveErr != nil {
			err = fmt.Errorf("failed to save checkpoint: %w", saveErr)
		}
	}
	if err != nil {
		exec.restore(memento)
		tx.rollback(err)
		exec.logger.Warn("operation rolled back", "error", err)
		return tx, err
	}
	if exec.status.IsTerminal() {
		exec.markDone()
	}
	return tx, nil
}

func (e *Engine) logActivity(ctx context.Context, entry *ActivityLogEntry) {
	if err := e.activityLogger.LogActivity(ctx, entry); err != nil {
		e.logger.Error("failed to log activity", "execution_id", entry.ExecutionID, "error", err)
	}
}

// compiledWorkflow holds the compiled expressions of a process.
type compiledWorkflow struct {
	workflow *Workflow

	// conditions holds one script per outgoing edge; nil means
	// unconditional.
	conditions map[string][]script.Script

	// templates holds compiled string parameters containing expressions.
	templates map[string]map[string]*script.Template
}

func compileWorkflow(ctx context.Context, compiler script.Compiler, workflow *Workflow) (*compiledWorkflow, error) {
	cw := &compiledWorkflow{
		workflow:   workflow,
		conditions: map[string][]script.Script{},
		templates:  map[string]map[string]*script.Template{},
	}
	for _, step := range workflow.Steps() {
		conditions := make([]script.Script, len(step.Next))
		for i, edge := range step.Next {
			if strings.TrimSpace(edge.Condition) == "" {
				continue
			}
			code, err := compiler.Compile(ctx, edge.Condition)
			if err != nil {
				return nil, fmt.Errorf("step %q: failed to compile condition %q: %w", step.Name, edge.Condition, err)
			}
			conditions[i] = code
		}
		cw.conditions[step.Name] = conditions

		for name, value := range step.Parameters {
			s, ok := value.(string)
			if !ok || !strings.Contains(s, "${") {
				continue
			}
			tmpl, err := script.NewTemplate(compiler, s)
			if err != nil {
				return nil, fmt.Errorf("step %q: parameter %q: %w", step.Name, name, err)
			}
			if cw.templates[step.Name] == nil {
				cw.templates[step.Name] = map[string]*script.Template{}
			}
			cw.templates[step.Name][name] = tmpl
		}
	}
	return cw, nil
}
