package asynctask

import (
	"context"
	"fmt"
	"time"

	"github.com/deepnoodle-ai/asynctask/script"
)

// txn is one engine operation on an execution. Activity log entries and
// callbacks are queued on it and only delivered once the operation has been
// committed. Undo hooks run instead when the operation rolls back.
type txn struct {
	engine *Engine
	exec   *Execution
	logs   []*ActivityLogEntry
	after  []func(ctx context.Context)
	undo   []func()
}

func (tx *txn) onCommit(fn func(ctx context.Context)) {
	tx.after = append(tx.after, fn)
}

func (tx *txn) onRollback(fn func()) {
	tx.undo = append(tx.undo, fn)
}

// rollback runs the undo hooks in reverse order, discards queued events and
// records the failure instead.
func (tx *txn) rollback(err error) {
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
	step, _ := tx.exec.workflow.Step(tx.exec.currentStep)
	tx.after = nil
	tx.logs = nil
	if step == nil {
		step = tx.exec.workflow.Start()
	}
	tx.logs = append(tx.logs, tx.logEntry(step, ActivityEventFailed, func(entry *ActivityLogEntry) {
		entry.Error = err.Error()
	}))
}

func (tx *txn) flush(ctx context.Context) {
	for _, entry := range tx.logs {
		tx.engine.logActivity(ctx, entry)
	}
	for _, fn := range tx.after {
		fn(ctx)
	}
}

func (tx *txn) log(step *Step, event ActivityEvent, opts ...func(*ActivityLogEntry)) {
	tx.logs = append(tx.logs, tx.logEntry(step, event, opts...))
}

func (tx *txn) logEntry(step *Step, event ActivityEvent, opts ...func(*ActivityLogEntry)) *ActivityLogEntry {
	entry := &ActivityLogEntry{
		ID:          NewActivityLogID(),
		ExecutionID: tx.exec.id,
		Activity:    step.Activity,
		StepName:    step.Name,
		Event:       event,
		Timestamp:   tx.engine.now(),
	}
	for _, opt := range opts {
		opt(entry)
	}
	return entry
}

// enter moves the execution into step and keeps running synchronous steps
// until it reaches a wait state or completes. Async steps are deferred to a
// continuation job unless viaJob is set.
func (tx *txn) enter(ctx context.Context, step *Step, viaJob bool) error {
	for step != nil {
		if step.Async && !viaJob {
			tx.createJob(step)
			return nil
		}
		viaJob = false
		next, err := tx.executeActivity(ctx, step)
		if err != nil {
			return err
		}
		step = next
	}
	return nil
}

func (tx *txn) createJob(step *Step) {
	e, exec := tx.engine, tx.exec
	retries := step.Retries
	if retries <= 0 {
		retries = e.jobRetries
	}
	job := &Job{
		ID:          NewJobID(),
		Type:        ScopelessContinuationJobType,
		ExecutionID: exec.id,
		StepName:    step.Name,
		Retries:     retries,
		CreatedAt:   e.now(),
	}
	exec.jobs[job.ID] = job
	exec.currentStep = step.Name
	exec.activity = step.Activity
	exec.activityState = ActivityStateNotEntered
	exec.local = nil
	exec.dispatchedAt = time.Time{}
	exec.waitToken = ""
	exec.status = ExecutionStatusWaiting
	tx.onCommit(e.indexJob(job.ID, exec.id))
	exec.logger.Debug("continuation job created", "job_id", job.ID, "step", step.Name)
}

// executeActivity enters the activity of step. It returns the next step to
// enter when the behavior left synchronously.
func (tx *txn) executeActivity(ctx context.Context, step *Step) (*Step, error) {
	e, exec := tx.engine, tx.exec
	behavior, ok := e.activities.Get(step.Activity)
	if !ok {
		return nil, NewEntryFailure(exec.id, fmt.Errorf("unknown activity %q", step.Activity))
	}

	exec.status = ExecutionStatusRunning
	exec.currentStep = step.Name
	exec.activity = step.Activity
	exec.activityState = ActivityStateNotEntered
	exec.dispatchedAt = time.Time{}
	exec.waitToken = NewWaitToken()

	params, err := tx.evaluateParameters(ctx, step)
	if err != nil {
		return nil, NewEntryFailure(exec.id, err)
	}
	exec.local = NewVariableScope(exec.process, params)

	tx.log(step, ActivityEventEntered, func(entry *ActivityLogEntry) {
		entry.Parameters = deepCopyMap(params)
	})
	entered := tx.activityEvent(step, params)
	tx.onCommit(func(ctx context.Context) { e.callbacks.BeforeActivityExecution(ctx, entered) })

	act := tx.activityExecution(step, params)
	if err := behavior.Execute(ctx, act); err != nil {
		return nil, NewEntryFailure(exec.id, err)
	}

	switch exec.activityState {
	case ActivityStateLeft:
		return tx.leave(ctx, step)
	case ActivityStateNotEntered:
		if _, ok := behavior.(SignallableActivityBehavior); !ok {
			return nil, NewEntryFailure(exec.id, fmt.Errorf("activity %q returned without leaving", step.Activity))
		}
		if exec.activityState, err = exec.activityState.transition(ActivityStateDispatched); err != nil {
			return nil, NewEntryFailure(exec.id, err)
		}
		exec.status = ExecutionStatusWaiting
		exec.dispatchedAt = e.now()
		tx.log(step, ActivityEventDispatched)
		dispatched := tx.activityEvent(step, params)
		tx.onCommit(func(ctx context.Context) { e.callbacks.OnActivityDispatched(ctx, dispatched) })
		return nil, nil
	default:
		return nil, NewEntryFailure(exec.id, fmt.Errorf("activity %q ended entry in state %s", step.Activity, exec.activityState))
	}
}

// resume hands a signal to the behavior of the waiting activity, which must
// leave it, and continues from the next step.
func (tx *txn) resume(ctx context.Context, signalName string, payload map[string]any) error {
	e, exec := tx.engine, tx.exec
	step, ok := exec.workflow.Step(exec.currentStep)
	if !ok {
		return fmt.Errorf("step %q not found", exec.currentStep)
	}
	behavior, ok := e.activities.Get(step.Activity)
	if !ok {
		return fmt.Errorf("unknown activity %q", step.Activity)
	}
	signallable, ok := behavior.(SignallableActivityBehavior)
	if !ok {
		return fmt.Errorf("activity %q does not accept signals", step.Activity)
	}

	waitedFor := e.now().Sub(exec.dispatchedAt)
	var err error
	if exec.activityState, err = exec.activityState.transition(ActivityStateResumed); err != nil {
		return err
	}
	exec.status = ExecutionStatusRunning
	if exec.local == nil {
		exec.local = NewVariableScope(exec.process, nil)
	}
	tx.log(step, ActivityEventResumed, func(entry *ActivityLogEntry) {
		entry.SignalName = signalName
		entry.Payload = deepCopyMap(payload)
	})
	signalEvent := &SignalEvent{
		ExecutionID:  exec.id,
		WorkflowName: exec.workflow.Name(),
		StepName:     step.Name,
		SignalName:   signalName,
		Payload:      deepCopyMap(payload),
		WaitedFor:    waitedFor,
	}
	tx.onCommit(func(ctx context.Context) { e.callbacks.OnSignal(ctx, signalEvent) })

	act := tx.activityExecution(step, exec.local.LocalVariables())
	if err := signallable.Signal(ctx, act, signalName, payload); err != nil {
		return fmt.Errorf("activity %q failed to handle signal: %w", step.Activity, err)
	}
	if exec.activityState != ActivityStateLeft {
		return fmt.Errorf("activity %q did not leave after signal", step.Activity)
	}
	next, err := tx.leave(ctx, step)
	if err != nil {
		return err
	}
	return tx.enter(ctx, next, false)
}

// leave records that the execution left step and picks the next step. It
// returns nil when the execution completed.
func (tx *txn) leave(ctx context.Context, step *Step) (*Step, error) {
	e, exec := tx.engine, tx.exec
	exec.completed = append(exec.completed, step.Name)
	exec.dispatchedAt = time.Time{}
	exec.waitToken = ""
	tx.log(step, ActivityEventLeft)
	left := tx.activityEvent(step, exec.local.LocalVariables())
	tx.onCommit(func(ctx context.Context) { e.callbacks.AfterActivityExecution(ctx, left) })

	next, err := tx.nextStep(ctx, step)
	exec.local = nil
	if err != nil {
		return nil, err
	}
	if next == nil {
		tx.complete()
	}
	return next, nil
}

// nextStep returns the target of the first outgoing edge whose condition is
// empty or truthy, or nil when the step has no outgoing edges.
func (tx *txn) nextStep(ctx context.Context, step *Step) (*Step, error) {
	if step.End || len(step.Next) == 0 {
		return nil, nil
	}
	exec := tx.exec
	cw := tx.engine.compiledFor(exec.workflow)
	var conditions []script.Script
	if cw != nil {
		conditions = cw.conditions[step.Name]
	}
	local := exec.local.LocalVariables()
	globals := script.Globals(exec.local.Variables(), local, local)
	for i, edge := range step.Next {
		if i < len(conditions) && conditions[i] != nil {
			value, err := conditions[i].Evaluate(ctx, globals)
			if err != nil {
				return nil, fmt.Errorf("step %q: failed to evaluate condition %q: %w", step.Name, edge.Condition, err)
			}
			if !value.IsTruthy() {
				continue
			}
		}
		next, ok := exec.workflow.Step(edge.Step)
		if !ok {
			return nil, fmt.Errorf("step %q not found", edge.Step)
		}
		return next, nil
	}
	return nil, fmt.Errorf("step %q: no outgoing edge matched", step.Name)
}

func (tx *txn) complete() {
	e, exec := tx.engine, tx.exec
	exec.status = ExecutionStatusCompleted
	exec.endTime = e.now()
	for _, output := range exec.workflow.Outputs() {
		variable := output.Variable
		if variable == "" {
			variable = output.Name
		}
		value, ok := exec.process.GetVariable(variable)
		if !ok {
			exec.logger.Warn("process output variable not found", "output_name", output.Name, "variable_name", variable)
			continue
		}
		exec.outputs[output.Name] = deepCopyValue(value)
	}
	event := tx.executionEvent()
	tx.onCommit(func(ctx context.Context) {
		e.callbacks.AfterExecution(ctx, event)
		exec.logger.Info("execution completed", "duration", event.Duration)
	})
}

func (tx *txn) evaluateParameters(ctx context.Context, step *Step) (map[string]any, error) {
	params := make(map[string]any, len(step.Parameters))
	var templates map[string]*script.Template
	if cw := tx.engine.compiledFor(tx.exec.workflow); cw != nil {
		templates = cw.templates[step.Name]
	}
	var globals map[string]any
	for name, value := range step.Parameters {
		tmpl, ok := templates[name]
		if !ok {
			params[name] = deepCopyValue(value)
			continue
		}
		if globals == nil {
			globals = script.Globals(tx.exec.process.Variables(), nil, nil)
		}
		evaluated, err := tmpl.Eval(ctx, globals)
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", name, err)
		}
		params[name] = evaluated
	}
	return params, nil
}

func (tx *txn) activityEvent(step *Step, params map[string]any) *ActivityExecutionEvent {
	return &ActivityExecutionEvent{
		ExecutionID:  tx.exec.id,
		WorkflowName: tx.exec.workflow.Name(),
		StepName:     step.Name,
		ActivityName: step.Activity,
		State:        tx.exec.activityState,
		Parameters:   deepCopyMap(params),
		Time:         tx.engine.now(),
	}
}

func (tx *txn) executionEvent() *ExecutionEvent {
	exec := tx.exec
	return &ExecutionEvent{
		ExecutionID:  exec.id,
		WorkflowName: exec.workflow.Name(),
		Status:       exec.status,
		StartTime:    exec.startTime,
		EndTime:      exec.endTime,
		Duration:     exec.endTime.Sub(exec.startTime),
		Variables:    deepCopyMap(exec.process.Variables()),
		Outputs:      deepCopyMap(exec.outputs),
		Error:        exec.errValue(),
	}
}
