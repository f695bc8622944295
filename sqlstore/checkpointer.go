package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/deepnoodle-ai/asynctask"
)

var _ asynctask.Checkpointer = (*Store)(nil)

type checkpointRow struct {
	ExecutionID  string `db:"execution_id"`
	WorkflowName string `db:"workflow_name"`
	Status       string `db:"status"`
	CheckpointID string `db:"checkpoint_id"`
	Data         string `db:"data"`
	UpdatedAt    int64  `db:"updated_at"`
}

var (
	checkpointColumns = []string{"execution_id", "workflow_name", "status", "checkpoint_id", "data", "updated_at"}
	checkpointUpdates = []string{"workflow_name", "status", "checkpoint_id", "data", "updated_at"}
)

// SaveCheckpoint replaces the stored checkpoint of the execution.
func (s *Store) SaveCheckpoint(ctx context.Context, checkpoint *asynctask.Checkpoint) error {
	data, err := json.Marshal(checkpoint)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}
	updatedAt := checkpoint.CheckpointAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	row := checkpointRow{
		ExecutionID:  checkpoint.ExecutionID,
		WorkflowName: checkpoint.WorkflowName,
		Status:       checkpoint.Status,
		CheckpointID: checkpoint.ID,
		Data:         string(data),
		UpdatedAt:    updatedAt.UnixMilli(),
	}
	query := s.dialect.UpsertSQL(checkpointsTable, checkpointColumns, "execution_id", checkpointUpdates)
	if _, err := s.db.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// LoadCheckpoint returns the stored checkpoint, or nil when the execution is
// unknown.
func (s *Store) LoadCheckpoint(ctx context.Context, executionID string) (*asynctask.Checkpoint, error) {
	var data string
	query := s.db.Rebind(fmt.Sprintf("SELECT data FROM %s WHERE execution_id = ?", checkpointsTable))
	if err := s.db.GetContext(ctx, &data, query, executionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	return decodeCheckpoint(data)
}

// DeleteCheckpoint removes the checkpoint and the activity log of the
// execution.
func (s *Store) DeleteCheckpoint(ctx context.Context, executionID string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()
	for _, table := range []string{checkpointsTable, activityTable} {
		query := tx.Rebind(fmt.Sprintf("DELETE FROM %s WHERE execution_id = ?", table))
		if _, err := tx.ExecContext(ctx, query, executionID); err != nil {
			return fmt.Errorf("failed to delete from %s: %w", table, err)
		}
	}
	return tx.Commit()
}

// ListExecutions returns a summary of every stored execution, newest first.
func (s *Store) ListExecutions(ctx context.Context) ([]*asynctask.ExecutionSummary, error) {
	var rows []checkpointRow
	query := fmt.Sprintf("SELECT %s FROM %s", strings.Join(checkpointColumns, ", "), checkpointsTable)
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	summaries := make([]*asynctask.ExecutionSummary, 0, len(rows))
	for _, row := range rows {
		checkpoint, err := decodeCheckpoint(row.Data)
		if err != nil {
			s.logger.Warn("skipping unreadable checkpoint", "execution_id", row.ExecutionID, "error", err)
			continue
		}
		summaries = append(summaries, checkpoint.Summary())
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].StartTime.After(summaries[j].StartTime)
	})
	return summaries, nil
}

// WaitingExecutions returns the summaries of executions stored as suspended
// in a dispatched wait state for at least olderThan.
func (s *Store) WaitingExecutions(ctx context.Context, olderThan time.Duration, now time.Time) ([]*asynctask.ExecutionSummary, error) {
	var data []string
	query := s.db.Rebind(fmt.Sprintf("SELECT data FROM %s WHERE status = ?", checkpointsTable))
	if err := s.db.SelectContext(ctx, &data, query, string(asynctask.ExecutionStatusWaiting)); err != nil {
		return nil, fmt.Errorf("failed to list waiting executions: %w", err)
	}
	summaries := make([]*asynctask.ExecutionSummary, 0, len(data))
	for _, item := range data {
		checkpoint, err := decodeCheckpoint(item)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, checkpoint.Summary())
	}
	return asynctask.FilterWaiting(summaries, olderThan, now), nil
}

func decodeCheckpoint(data string) (*asynctask.Checkpoint, error) {
	var checkpoint asynctask.Checkpoint
	if err := json.Unmarshal([]byte(data), &checkpoint); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	return &checkpoint, nil
}
