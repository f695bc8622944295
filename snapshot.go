package asynctask

import (
	"errors"
	"fmt"
	"time"
)

// ExecutionAccessor is the read-only view of an execution needed to capture
// its variables.
type ExecutionAccessor interface {
	// ID returns the stable identifier of the execution.
	ID() string

	// Variables returns the effective variables: local variables merged over
	// every inherited scope.
	Variables() (map[string]any, error)

	// LocalVariables returns only the variables of the innermost scope.
	LocalVariables() (map[string]any, error)
}

// VariableSnapshot is an immutable copy of an execution's variables taken at
// one point in time. Nothing written to a snapshot is ever seen by the
// execution it came from.
type VariableSnapshot struct {
	ExecutionID string         `json:"execution_id"`
	Effective   map[string]any `json:"effective"`
	Local       map[string]any `json:"local"`
	CapturedAt  time.Time      `json:"captured_at"`
}

// ReadSnapshot captures both variable views of the execution. Both maps are
// deep copies, so later changes on either side are not shared.
func ReadSnapshot(execution ExecutionAccessor) (*VariableSnapshot, error) {
	if execution == nil {
		return nil, errors.New("cannot read variables of a nil execution")
	}
	effective, err := execution.Variables()
	if err != nil {
		return nil, fmt.Errorf("failed to read variables: %w", err)
	}
	local, err := execution.LocalVariables()
	if err != nil {
		return nil, fmt.Errorf("failed to read local variables: %w", err)
	}
	return &VariableSnapshot{
		ExecutionID: execution.ID(),
		Effective:   deepCopyMap(effective),
		Local:       deepCopyMap(local),
		CapturedAt:  time.Now(),
	}, nil
}

// Get returns an effective variable.
func (s *VariableSnapshot) Get(key string) (any, bool) {
	value, ok := s.Effective[key]
	return value, ok
}

// GetLocal returns a local variable.
func (s *VariableSnapshot) GetLocal(key string) (any, bool) {
	value, ok := s.Local[key]
	return value, ok
}

// Copy returns a deep copy of the snapshot.
func (s *VariableSnapshot) Copy() *VariableSnapshot {
	return &VariableSnapshot{
		ExecutionID: s.ExecutionID,
		Effective:   deepCopyMap(s.Effective),
		Local:       deepCopyMap(s.Local),
		CapturedAt:  s.CapturedAt,
	}
}
