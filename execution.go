package asynctask

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.jetify.com/typeid"
)

// NewExecutionID returns a new identifier for an execution.
func NewExecutionID() string {
	id, err := typeid.WithPrefix("exec")
	if err != nil {
		panic(err)
	}
	return id.String()
}

// NewWaitToken returns a new identifier for one entry into a wait state.
func NewWaitToken() string {
	id, err := typeid.WithPrefix("wait")
	if err != nil {
		panic(err)
	}
	return id.String()
}

// ExecutionStatus represents the execution status
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusWaiting   ExecutionStatus = "waiting"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

// IsTerminal reports whether no further operation can change the execution.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionStatusCompleted || s == ExecutionStatusCancelled
}

// Execution is a single control path through a process instance. It is owned
// by the Engine; all exported methods are safe for concurrent use.
type Execution struct {
	id       string
	workflow *Workflow
	logger   *slog.Logger
	now      func() time.Time

	status        ExecutionStatus
	currentStep   string
	activity      string
	activityState ActivityState
	process       *VariableScope
	local         *VariableScope
	outputs       map[string]any
	completed     []string
	jobs          map[string]*Job
	err           string
	startTime     time.Time
	endTime       time.Time
	dispatchedAt  time.Time
	waitToken     string
	checkpoints   int

	// mutex serializes every engine operation on this execution.
	mutex    sync.Mutex
	done     chan struct{}
	doneOnce sync.Once
}

func newExecution(id string, workflow *Workflow, variables map[string]any, logger *slog.Logger, now func() time.Time) *Execution {
	if now == nil {
		now = time.Now
	}
	return &Execution{
		id:            id,
		workflow:      workflow,
		logger:        logger.With("execution_id", id),
		now:           now,
		status:        ExecutionStatusPending,
		activityState: ActivityStateNotEntered,
		process:       NewVariableScope(nil, variables),
		outputs:       map[string]any{},
		jobs:          map[string]*Job{},
		done:          make(chan struct{}),
	}
}

// ID returns the execution ID
func (e *Execution) ID() string {
	return e.id
}

// WorkflowName returns the name of the process being executed.
func (e *Execution) WorkflowName() string {
	return e.workflow.Name()
}

// Status returns the current execution status
func (e *Execution) Status() ExecutionStatus {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.status
}

// CurrentStep returns the step the execution occupies, if any.
func (e *Execution) CurrentStep() string {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.currentStep
}

// ActivityState returns the state of the execution within its current step.
func (e *Execution) ActivityState() ActivityState {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.activityState
}

// Variables returns a copy of the effective variables.
func (e *Execution) Variables() map[string]any {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return deepCopyMap(e.scope().Variables())
}

// Outputs returns the process outputs extracted at completion.
func (e *Execution) Outputs() map[string]any {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return deepCopyMap(e.outputs)
}

// CompletedSteps returns the names of the steps left so far, in order.
func (e *Execution) CompletedSteps() []string {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return append([]string(nil), e.completed...)
}

// Jobs returns copies of the pending continuation jobs.
func (e *Execution) Jobs() []*Job {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.jobList()
}

// Err returns the error recorded on the execution, if any.
func (e *Execution) Err() error {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.errValue()
}

func (e *Execution) errValue() error {
	if e.err == "" {
		return nil
	}
	return errors.New(e.err)
}

// DispatchedAt returns when the current wait state was entered.
func (e *Execution) DispatchedAt() time.Time {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.dispatchedAt
}

// WaitToken returns the token of the wait state the execution is suspended
// in, or an empty string when it is not waiting on an activity.
func (e *Execution) WaitToken() string {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.waitToken
}

// Done is closed once the execution has completed or been cancelled.
func (e *Execution) Done() <-chan struct{} {
	return e.done
}

// Summary returns a summary view of the execution, measured against the
// engine clock.
func (e *Execution) Summary() *ExecutionSummary {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.summary(e.now())
}

func (e *Execution) summary(now time.Time) *ExecutionSummary {
	end := e.endTime
	if end.IsZero() {
		end = now
	}
	return &ExecutionSummary{
		ExecutionID:   e.id,
		WorkflowName:  e.workflow.Name(),
		Status:        string(e.status),
		CurrentStep:   e.currentStep,
		ActivityState: string(e.activityState),
		StartTime:     e.startTime,
		EndTime:       e.endTime,
		DispatchedAt:  e.dispatchedAt,
		Duration:      end.Sub(e.startTime),
		Error:         e.err,
	}
}

// scope returns the innermost variable scope.
func (e *Execution) scope() *VariableScope {
	if e.local != nil {
		return e.local
	}
	return e.process
}

func (e *Execution) jobList() []*Job {
	jobs := make([]*Job, 0, len(e.jobs))
	for _, id := range sortedJobIDs(e.jobs) {
		jobs = append(jobs, e.jobs[id].Copy())
	}
	return jobs
}

func (e *Execution) markDone() {
	e.doneOnce.Do(func() { close(e.done) })
}

// executionMemento holds everything an operation may change, so that a failed
// operation can be undone.
type executionMemento struct {
	status        ExecutionStatus
	currentStep   string
	activity      string
	activityState ActivityState
	processVars   map[string]any
	localVars     map[string]any
	hasLocal      bool
	outputs       map[string]any
	completed     []string
	jobs          map[string]*Job
	err           string
	startTime     time.Time
	endTime       time.Time
	dispatchedAt  time.Time
	waitToken     string
}

func (e *Execution) memento() *executionMemento {
	m := &executionMemento{
		status:        e.status,
		currentStep:   e.currentStep,
		activity:      e.activity,
		activityState: e.activityState,
		processVars:   deepCopyMap(e.process.LocalVariables()),
		outputs:       deepCopyMap(e.outputs),
		completed:     append([]string(nil), e.completed...),
		jobs:          make(map[string]*Job, len(e.jobs)),
		err:           e.err,
		startTime:     e.startTime,
		endTime:       e.endTime,
		dispatchedAt:  e.dispatchedAt,
		waitToken:     e.waitToken,
	}
	if e.local != nil {
		m.hasLocal = true
		m.localVars = deepCopyMap(e.local.LocalVariables())
	}
	for id, job := range e.jobs {
		m.jobs[id] = job.Copy()
	}
	return m
}

func (e *Execution) restore(m *executionMemento) {
	e.status = m.status
	e.currentStep = m.currentStep
	e.activity = m.activity
	e.activityState = m.activityState
	e.process = NewVariableScope(nil, m.processVars)
	e.local = nil
	if m.hasLocal {
		e.local = NewVariableScope(e.process, m.localVars)
	}
	e.outputs = m.outputs
	e.completed = m.completed
	e.jobs = m.jobs
	e.err = m.err
	e.startTime = m.startTime
	e.endTime = m.endTime
	e.dispatchedAt = m.dispatchedAt
	e.waitToken = m.waitToken
}

func (e *Execution) toCheckpoint(now time.Time) *Checkpoint {
	e.checkpoints++
	cp := &Checkpoint{
		ID:            checkpointID(e.checkpoints),
		ExecutionID:   e.id,
		WorkflowName:  e.workflow.Name(),
		Status:        string(e.status),
		CurrentStep:   e.currentStep,
		Activity:      e.activity,
		ActivityState: string(e.activityState),
		Variables:     deepCopyMap(e.process.LocalVariables()),
		Outputs:       deepCopyMap(e.outputs),
		Completed:     append([]string(nil), e.completed...),
		Jobs:          e.jobList(),
		Error:         e.err,
		StartTime:     e.startTime,
		EndTime:       e.endTime,
		DispatchedAt:  e.dispatchedAt,
		WaitToken:     e.waitToken,
		CheckpointAt:  now,
	}
	if e.local != nil {
		cp.LocalVariables = deepCopyMap(e.local.LocalVariables())
	}
	return cp
}

// executionFromCheckpoint rebuilds an execution from its latest checkpoint.
func executionFromCheckpoint(cp *Checkpoint, workflow *Workflow, logger *slog.Logger, now func() time.Time) *Execution {
	e := newExecution(cp.ExecutionID, workflow, cp.Variables, logger, now)
	e.status = ExecutionStatus(cp.Status)
	e.currentStep = cp.CurrentStep
	e.activity = cp.Activity
	e.activityState = ActivityState(cp.ActivityState)
	if e.activityState == "" {
		e.activityState = ActivityStateNotEntered
	}
	if cp.LocalVariables != nil {
		e.local = NewVariableScope(e.process, cp.LocalVariables)
	}
	e.outputs = copyMap(cp.Outputs)
	e.completed = append([]string(nil), cp.Completed...)
	for _, job := range cp.Jobs {
		e.jobs[job.ID] = job.Copy()
	}
	e.err = cp.Error
	e.startTime = cp.StartTime
	e.endTime = cp.EndTime
	e.dispatchedAt = cp.DispatchedAt
	e.waitToken = cp.WaitToken
	e.checkpoints = checkpointSequence(cp.ID)
	if e.status.IsTerminal() {
		e.markDone()
	}
	return e
}
