package asynctask

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// FileCheckpointer persists checkpoints as JSON files. Each execution gets a
// directory holding every checkpoint plus a latest.json copy of the newest.
type FileCheckpointer struct {
	fs      afero.Fs
	dataDir string
}

var _ Checkpointer = (*FileCheckpointer)(nil)

// NewFileCheckpointer creates a file-based checkpointer rooted at dataDir on
// fs. A nil fs means the operating system filesystem.
func NewFileCheckpointer(fs afero.Fs, dataDir string) (*FileCheckpointer, error) {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		dataDir = filepath.Join(homeDir, ".asynctask", "executions")
	}
	if err := fs.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", dataDir, err)
	}
	return &FileCheckpointer{fs: fs, dataDir: dataDir}, nil
}

// SaveCheckpoint saves the execution checkpoint to disk
func (c *FileCheckpointer) SaveCheckpoint(ctx context.Context, checkpoint *Checkpoint) error {
	executionDir := filepath.Join(c.dataDir, checkpoint.ExecutionID)
	if err := c.fs.MkdirAll(executionDir, 0755); err != nil {
		return fmt.Errorf("failed to create execution directory: %w", err)
	}

	data, err := json.MarshalIndent(checkpoint, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	checkpointPath := filepath.Join(executionDir, fmt.Sprintf("checkpoint-%s.json", checkpoint.ID))
	if err := afero.WriteFile(c.fs, checkpointPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write checkpoint file: %w", err)
	}

	// latest.json is replaced atomically so readers never see a partial file.
	tmpPath := filepath.Join(executionDir, "latest.json.tmp")
	if err := afero.WriteFile(c.fs, tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write latest checkpoint: %w", err)
	}
	if err := c.fs.Rename(tmpPath, filepath.Join(executionDir, "latest.json")); err != nil {
		return fmt.Errorf("failed to update latest checkpoint: %w", err)
	}
	return nil
}

// LoadCheckpoint loads the latest checkpoint for an execution
func (c *FileCheckpointer) LoadCheckpoint(ctx context.Context, executionID string) (*Checkpoint, error) {
	latestPath := filepath.Join(c.dataDir, executionID, "latest.json")
	data, err := afero.ReadFile(c.fs, latestPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read checkpoint file: %w", err)
	}

	var checkpoint Checkpoint
	if err := json.Unmarshal(data, &checkpoint); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	return &checkpoint, nil
}

// DeleteCheckpoint removes all checkpoint data for an execution
func (c *FileCheckpointer) DeleteCheckpoint(ctx context.Context, executionID string) error {
	if err := c.fs.RemoveAll(filepath.Join(c.dataDir, executionID)); err != nil {
		return fmt.Errorf("failed to delete execution directory: %w", err)
	}
	return nil
}

// ListExecutions returns a list of all executions with their latest checkpoint info
func (c *FileCheckpointer) ListExecutions(ctx context.Context) ([]*ExecutionSummary, error) {
	entries, err := afero.ReadDir(c.fs, c.dataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []*ExecutionSummary{}, nil
		}
		return nil, fmt.Errorf("failed to read executions directory: %w", err)
	}

	summaries := []*ExecutionSummary{}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		checkpoint, err := c.LoadCheckpoint(ctx, entry.Name())
		if err != nil || checkpoint == nil {
			// Skip executions we can't read
			continue
		}
		summaries = append(summaries, checkpoint.Summary())
	}
	sortSummariesNewestFirst(summaries)
	return summaries, nil
}
