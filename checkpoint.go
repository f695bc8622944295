package asynctask

import (
	"fmt"
	"strconv"
	"time"
)

// Checkpoint contains a complete snapshot of execution state
type Checkpoint struct {
	ID             string         `json:"id"`
	ExecutionID    string         `json:"execution_id"`
	WorkflowName   string         `json:"workflow_name"`
	Status         string         `json:"status"`
	CurrentStep    string         `json:"current_step,omitempty"`
	Activity       string         `json:"activity,omitempty"`
	ActivityState  string         `json:"activity_state,omitempty"`
	Variables      map[string]any `json:"variables"`
	LocalVariables map[string]any `json:"local_variables,omitempty"`
	Outputs        map[string]any `json:"outputs,omitempty"`
	Completed      []string       `json:"completed,omitempty"`
	Jobs           []*Job         `json:"jobs,omitempty"`
	Error          string         `json:"error,omitempty"`
	StartTime      time.Time      `json:"start_time,omitzero"`
	EndTime        time.Time      `json:"end_time,omitzero"`
	DispatchedAt   time.Time      `json:"dispatched_at,omitzero"`
	WaitToken      string         `json:"wait_token,omitempty"`
	CheckpointAt   time.Time      `json:"checkpoint_at"`
}

// Summary returns the summary view of the checkpointed execution.
func (c *Checkpoint) Summary() *ExecutionSummary {
	end := c.EndTime
	if end.IsZero() {
		end = c.CheckpointAt
	}
	return &ExecutionSummary{
		ExecutionID:   c.ExecutionID,
		WorkflowName:  c.WorkflowName,
		Status:        c.Status,
		CurrentStep:   c.CurrentStep,
		ActivityState: c.ActivityState,
		StartTime:     c.StartTime,
		EndTime:       c.EndTime,
		DispatchedAt:  c.DispatchedAt,
		Duration:      end.Sub(c.StartTime),
		Error:         c.Error,
	}
}

// checkpointID formats a checkpoint sequence number so that IDs sort in
// commit order.
func checkpointID(sequence int) string {
	return fmt.Sprintf("%08d", sequence)
}

func checkpointSequence(id string) int {
	n, err := strconv.Atoi(id)
	if err != nil {
		return 0
	}
	return n
}
