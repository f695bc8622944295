package asynctask

import (
	"context"
	"time"

	"go.jetify.com/typeid"
)

// ActivityEvent names a lifecycle event of an activity.
type ActivityEvent string

const (
	ActivityEventEntered    ActivityEvent = "entered"
	ActivityEventDispatched ActivityEvent = "dispatched"
	ActivityEventResumed    ActivityEvent = "resumed"
	ActivityEventLeft       ActivityEvent = "left"
	ActivityEventFailed     ActivityEvent = "failed"
)

// ActivityLogEntry represents a single activity lifecycle entry
type ActivityLogEntry struct {
	ID          string         `json:"id"`
	ExecutionID string         `json:"execution_id"`
	Activity    string         `json:"activity"`
	StepName    string         `json:"step_name"`
	Event       ActivityEvent  `json:"event"`
	SignalName  string         `json:"signal_name,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`
	Error       string         `json:"error,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}

// ActivityLogger records activity lifecycle events
type ActivityLogger interface {
	// LogActivity records one lifecycle event
	LogActivity(ctx context.Context, entry *ActivityLogEntry) error

	// GetActivityHistory retrieves activity log for an execution
	GetActivityHistory(ctx context.Context, executionID string) ([]*ActivityLogEntry, error)
}

// NewActivityLogID returns a new identifier for an activity log entry.
func NewActivityLogID() string {
	id, err := typeid.WithPrefix("act")
	if err != nil {
		panic(err)
	}
	return id.String()
}
