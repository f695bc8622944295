package asynctask

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/deepnoodle-ai/asynctask/dispatch"
	"github.com/deepnoodle-ai/asynctask/script"
)

// ActivityBehavior implements what happens when an execution enters a step.
// A behavior either leaves the activity before returning or, if it is a
// SignallableActivityBehavior, parks the execution in a wait state.
type ActivityBehavior interface {

	// Name returns the activity name steps refer to.
	Name() string

	// Execute enters the activity. Returning an error aborts the enclosing
	// operation and rolls the execution back.
	Execute(ctx context.Context, execution ActivityExecution) error
}

// SignallableActivityBehavior is a behavior that waits for an external signal
// after entry.
type SignallableActivityBehavior interface {
	ActivityBehavior

	// Signal resumes the activity. It must leave the activity before
	// returning nil.
	Signal(ctx context.Context, execution ActivityExecution, signalName string, payload map[string]any) error
}

// ActivityExecution is the view of an execution given to a behavior while the
// engine holds the execution's lock. It must not be retained after the
// behavior returns, and it must never be used from dispatched work.
type ActivityExecution interface {
	ExecutionAccessor

	// StepName returns the step being executed.
	StepName() string

	// ActivityName returns the activity of the step being executed.
	ActivityName() string

	// Parameters returns the evaluated step parameters.
	Parameters() map[string]any

	// State returns the position of the execution in the activity.
	State() ActivityState

	// SetVariable assigns a variable through the engine's scope rules.
	SetVariable(key string, value any)

	// SetVariableLocal assigns a variable on the activity scope.
	SetVariableLocal(key string, value any)

	// ApplyPatches applies variable patches through SetVariable and
	// DeleteVariable.
	ApplyPatches(patches []Patch)

	// Leave takes the activity's outgoing transition. It may be called once.
	Leave(ctx context.Context) error

	// WaitToken identifies this entry into the activity. Work dispatched on
	// entry signals with it so that it can only resume this wait state.
	WaitToken() string

	// OnCommit registers fn to run once the current engine operation has
	// been committed.
	OnCommit(fn func())

	// OnRollback registers fn to run if the current engine operation is
	// rolled back, for example to withdraw work scheduled on entry.
	OnRollback(fn func())

	// Gateway returns the engine's dispatch gateway.
	Gateway() dispatch.Gateway

	// SignalSink returns where dispatched work reports completion.
	SignalSink() SignalSink

	// Compiler returns the script compiler of the engine.
	Compiler() script.Compiler

	// Logger returns a logger scoped to the execution and step.
	Logger() *slog.Logger
}

// ActivityRegistry is a map of activity names to behaviors
type ActivityRegistry map[string]ActivityBehavior

// NewActivityRegistry indexes behaviors by name.
func NewActivityRegistry(behaviors ...ActivityBehavior) (ActivityRegistry, error) {
	registry := make(ActivityRegistry, len(behaviors))
	for _, behavior := range behaviors {
		if behavior == nil {
			return nil, fmt.Errorf("nil activity behavior")
		}
		if _, exists := registry[behavior.Name()]; exists {
			return nil, fmt.Errorf("duplicate activity %q", behavior.Name())
		}
		registry[behavior.Name()] = behavior
	}
	return registry, nil
}

// Get returns the behavior registered under name.
func (r ActivityRegistry) Get(name string) (ActivityBehavior, bool) {
	behavior, ok := r[name]
	return behavior, ok
}
