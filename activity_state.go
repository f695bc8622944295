package asynctask

import "fmt"

// ActivityState is the position of an execution within the activity it
// currently occupies.
type ActivityState string

const (
	ActivityStateNotEntered ActivityState = "not_entered"
	ActivityStateDispatched ActivityState = "dispatched"
	ActivityStateResumed    ActivityState = "resumed"
	ActivityStateLeft       ActivityState = "left"
)

// activityTransitions lists the legal successor states of each state.
// NotEntered -> Left is the path taken by synchronous behaviors.
var activityTransitions = map[ActivityState][]ActivityState{
	ActivityStateNotEntered: {ActivityStateDispatched, ActivityStateLeft},
	ActivityStateDispatched: {ActivityStateResumed},
	ActivityStateResumed:    {ActivityStateLeft},
}

// CanTransition reports whether an activity may move from one state to
// another.
func (s ActivityState) CanTransition(to ActivityState) bool {
	for _, next := range activityTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

func (s ActivityState) transition(to ActivityState) (ActivityState, error) {
	if !s.CanTransition(to) {
		return s, fmt.Errorf("invalid activity state transition %s -> %s", s, to)
	}
	return to, nil
}

func (s ActivityState) String() string {
	return string(s)
}
