package sqlstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/deepnoodle-ai/asynctask"
)

var _ asynctask.ActivityLogger = (*Store)(nil)

type activityRow struct {
	ID          string `db:"id"`
	ExecutionID string `db:"execution_id"`
	StepName    string `db:"step_name"`
	Event       string `db:"event"`
	Data        string `db:"data"`
	CreatedAt   int64  `db:"created_at"`
}

// LogActivity appends an entry to the activity log.
func (s *Store) LogActivity(ctx context.Context, entry *asynctask.ActivityLogEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal activity log entry: %w", err)
	}
	row := activityRow{
		ID:          entry.ID,
		ExecutionID: entry.ExecutionID,
		StepName:    entry.StepName,
		Event:       string(entry.Event),
		Data:        string(data),
		CreatedAt:   entry.Timestamp.UnixMilli(),
	}
	query := fmt.Sprintf(
		"INSERT INTO %s (id, execution_id, step_name, event, data, created_at) VALUES (:id, :execution_id, :step_name, :event, :data, :created_at)",
		activityTable)
	if _, err := s.db.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("failed to log activity: %w", err)
	}
	return nil
}

// GetActivityHistory returns the activity log of an execution in the order
// it was written.
func (s *Store) GetActivityHistory(ctx context.Context, executionID string) ([]*asynctask.ActivityLogEntry, error) {
	var data []string
	query := s.db.Rebind(fmt.Sprintf("SELECT data FROM %s WHERE execution_id = ? ORDER BY seq", activityTable))
	if err := s.db.SelectContext(ctx, &data, query, executionID); err != nil {
		return nil, fmt.Errorf("failed to read activity log: %w", err)
	}
	entries := make([]*asynctask.ActivityLogEntry, 0, len(data))
	for _, item := range data {
		var entry asynctask.ActivityLogEntry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			return nil, fmt.Errorf("failed to unmarshal activity log entry: %w", err)
		}
		entries = append(entries, &entry)
	}
	return entries, nil
}
