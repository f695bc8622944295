package asynctask

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVariableScopeAssignment(t *testing.T) {
	process := NewVariableScope(nil, map[string]any{"customer": "c-1"})
	local := NewVariableScope(process, map[string]any{"url": "https://example.com"})

	// Undefined variables land in the root scope.
	local.SetVariable("score", 10)
	_, ok := process.LocalVariables()["score"]
	require.True(t, ok)

	// Defined variables are assigned where they are defined.
	local.SetVariable("url", "https://other.example.com")
	require.Equal(t, "https://other.example.com", local.LocalVariables()["url"])
	require.NotContains(t, process.LocalVariables(), "url")

	local.SetVariable("customer", "c-2")
	require.Equal(t, "c-2", process.LocalVariables()["customer"])

	local.SetVariableLocal("customer", "shadow")
	value, _ := local.GetVariable("customer")
	require.Equal(t, "shadow", value)
	value, _ = process.GetVariable("customer")
	require.Equal(t, "c-2", value)

	require.Equal(t, map[string]any{
		"customer": "shadow",
		"score":    10,
		"url":      "https://other.example.com",
	}, local.Variables())
	require.Equal(t, []string{"customer", "score", "url"}, local.ListVariables())

	local.DeleteVariable("customer")
	value, _ = local.GetVariable("customer")
	require.Equal(t, "c-2", value)

	_, ok = local.GetVariable("missing")
	require.False(t, ok)
}

func TestDeepCopyValue(t *testing.T) {
	original := map[string]any{
		"list":   []any{map[string]any{"a": 1}},
		"tags":   []string{"x", "y"},
		"counts": map[string]int{"n": 1},
	}
	copied := deepCopyMap(original)
	copied["list"].([]any)[0].(map[string]any)["a"] = 2
	copied["tags"].([]string)[0] = "z"
	copied["counts"].(map[string]int)["n"] = 5

	require.Equal(t, 1, original["list"].([]any)[0].(map[string]any)["a"])
	require.Equal(t, "x", original["tags"].([]string)[0])
	require.Equal(t, 1, original["counts"].(map[string]int)["n"])
}

type stubAccessor struct {
	id        string
	effective map[string]any
	local     map[string]any
	err       error
}

func (s *stubAccessor) ID() string { return s.id }

func (s *stubAccessor) Variables() (map[string]any, error) {
	return s.effective, s.err
}

func (s *stubAccessor) LocalVariables() (map[string]any, error) {
	return s.local, nil
}

func TestReadSnapshot(t *testing.T) {
	accessor := &stubAccessor{
		id:        "exec-1",
		effective: map[string]any{"order": map[string]any{"total": 12.5}, "url": "u"},
		local:     map[string]any{"url": "u"},
	}
	snapshot, err := ReadSnapshot(accessor)
	require.NoError(t, err)
	require.Equal(t, "exec-1", snapshot.ExecutionID)
	require.False(t, snapshot.CapturedAt.IsZero())

	value, ok := snapshot.Get("order")
	require.True(t, ok)
	require.Equal(t, map[string]any{"total": 12.5}, value)
	value, ok = snapshot.GetLocal("url")
	require.True(t, ok)
	require.Equal(t, "u", value)

	// Changes on either side are not shared.
	accessor.effective["order"].(map[string]any)["total"] = 0.0
	snapshot.Effective["url"] = "changed"
	require.Equal(t, 12.5, snapshot.Effective["order"].(map[string]any)["total"])
	require.Equal(t, "u", accessor.effective["url"])

	copied := snapshot.Copy()
	copied.Effective["order"].(map[string]any)["total"] = 1.0
	require.Equal(t, 12.5, snapshot.Effective["order"].(map[string]any)["total"])
}

func TestReadSnapshotErrors(t *testing.T) {
	_, err := ReadSnapshot(nil)
	require.Error(t, err)

	_, err = ReadSnapshot(&stubAccessor{err: errors.New("scope unavailable")})
	require.ErrorContains(t, err, "scope unavailable")
}

func TestActivityStateTransitions(t *testing.T) {
	tests := []struct {
		from, to ActivityState
		ok       bool
	}{
		{ActivityStateNotEntered, ActivityStateDispatched, true},
		{ActivityStateNotEntered, ActivityStateLeft, true},
		{ActivityStateDispatched, ActivityStateResumed, true},
		{ActivityStateResumed, ActivityStateLeft, true},
		{ActivityStateDispatched, ActivityStateLeft, false},
		{ActivityStateNotEntered, ActivityStateResumed, false},
		{ActivityStateLeft, ActivityStateDispatched, false},
		{ActivityStateLeft, ActivityStateLeft, false},
		{ActivityStateResumed, ActivityStateDispatched, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			require.Equal(t, tt.ok, tt.from.CanTransition(tt.to))
			next, err := tt.from.transition(tt.to)
			if tt.ok {
				require.NoError(t, err)
				require.Equal(t, tt.to, next)
			} else {
				require.Error(t, err)
				require.Equal(t, tt.from, next)
			}
		})
	}
}

func TestApplyPayloadPatches(t *testing.T) {
	scope := NewVariableScope(nil, map[string]any{"stale": true, "score": 1})

	patches := PayloadPatches(map[string]any{"score": 80, "band": "A"})
	require.Equal(t, []Patch{{Variable: "band", Value: "A"}, {Variable: "score", Value: 80}}, patches)

	ApplyPatches(scope, append(patches, Patch{Variable: "stale", Delete: true}))
	require.Equal(t, []string{"band", "score"}, scope.ListVariables())
	value, _ := scope.GetVariable("score")
	require.Equal(t, 80, value)
}
