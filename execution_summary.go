package asynctask

import (
	"sort"
	"time"
)

// ExecutionSummary provides a summary view of an execution
type ExecutionSummary struct {
	ExecutionID   string        `json:"execution_id"`
	WorkflowName  string        `json:"workflow_name"`
	Status        string        `json:"status"`
	CurrentStep   string        `json:"current_step,omitempty"`
	ActivityState string        `json:"activity_state,omitempty"`
	StartTime     time.Time     `json:"start_time"`
	EndTime       time.Time     `json:"end_time,omitzero"`
	DispatchedAt  time.Time     `json:"dispatched_at,omitzero"`
	Duration      time.Duration `json:"duration"`
	Error         string        `json:"error,omitempty"`
}

// IsWaiting reports whether the execution is parked in a dispatched wait
// state.
func (s *ExecutionSummary) IsWaiting() bool {
	return s.Status == string(ExecutionStatusWaiting) &&
		s.ActivityState == string(ActivityStateDispatched)
}

// WaitingFor returns how long the execution has been parked at now, or zero
// when it is not waiting.
func (s *ExecutionSummary) WaitingFor(now time.Time) time.Duration {
	if !s.IsWaiting() || s.DispatchedAt.IsZero() {
		return 0
	}
	return now.Sub(s.DispatchedAt)
}

// FilterWaiting returns the summaries parked for at least olderThan, longest
// waiting first.
func FilterWaiting(summaries []*ExecutionSummary, olderThan time.Duration, now time.Time) []*ExecutionSummary {
	var result []*ExecutionSummary
	for _, summary := range summaries {
		if summary.IsWaiting() && summary.WaitingFor(now) >= olderThan {
			result = append(result, summary)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].DispatchedAt.Before(result[j].DispatchedAt)
	})
	return result
}

// sortSummariesNewestFirst orders summaries by start time, newest first.
func sortSummariesNewestFirst(summaries []*ExecutionSummary) {
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].StartTime.After(summaries[j].StartTime)
	})
}
