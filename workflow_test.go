package asynctask

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func TestWorkflowStepNames(t *testing.T) {
	wf, err := New(Options{
		Name: "test-workflow",
		Steps: []*Step{
			{Name: "step1", Activity: "log", Next: []*Edge{{Step: "step2"}}},
			{Name: "step2", Activity: "log"},
		},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"step1", "step2"}, wf.StepNames())
	require.Equal(t, "step1", wf.Start().Name)

	step, ok := wf.Step("step2")
	require.True(t, ok)
	require.Equal(t, "log", step.Activity)
}

func TestInvalidWorkflows(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		wantErr string
	}{
		{
			name:    "empty workflow",
			opts:    Options{},
			wantErr: "workflow name required",
		},
		{
			name:    "no steps",
			opts:    Options{Name: "test-workflow"},
			wantErr: "steps required",
		},
		{
			name:    "empty step name",
			opts:    Options{Name: "test-workflow", Steps: []*Step{{Name: ""}}},
			wantErr: "step name required",
		},
		{
			name:    "missing activity",
			opts:    Options{Name: "test-workflow", Steps: []*Step{{Name: "a"}}},
			wantErr: `step "a": activity required`,
		},
		{
			name: "duplicate step",
			opts: Options{Name: "test-workflow", Steps: []*Step{
				{Name: "a", Activity: "log"},
				{Name: "a", Activity: "log"},
			}},
			wantErr: "step names must be unique",
		},
		{
			name: "unknown edge target",
			opts: Options{Name: "test-workflow", Steps: []*Step{
				{Name: "a", Activity: "log", Next: []*Edge{{Step: "b"}}},
			}},
			wantErr: `edge to step "b" not found`,
		},
		{
			name: "end step with edges",
			opts: Options{Name: "test-workflow", Steps: []*Step{
				{Name: "a", Activity: "log", End: true, Next: []*Edge{{Step: "b"}}},
				{Name: "b", Activity: "log"},
			}},
			wantErr: "end step cannot have next steps",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.opts)
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

const invoiceProcess = `
name: invoice-approval
description: Waits for an external scoring service before approving
inputs:
  - name: invoice
    type: string
    required: true
  - name: amount
    type: number
    default: 0
outputs:
  - name: decision
    variable: approved
steps:
  - name: score
    activity: async_service
    async: true
    retries: 5
    parameters:
      url: "https://scoring.local/score/${vars.invoice}"
    next:
      - step: approve
        condition: vars.score > 50
      - step: reject
  - name: approve
    activity: set
    parameters:
      approved: true
    end: true
  - name: reject
    activity: set
    parameters:
      approved: false
    end: true
`

func TestLoadWorkflowYAML(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/processes/invoice.yaml", []byte(invoiceProcess), 0644))

	wf, err := LoadFileFs(fs, "/processes/invoice.yaml")
	require.NoError(t, err)
	require.Equal(t, "invoice-approval", wf.Name())
	require.Equal(t, "/processes/invoice.yaml", wf.Path())
	require.Len(t, wf.Inputs(), 2)
	require.Len(t, wf.Outputs(), 1)

	score := wf.Start()
	require.Equal(t, "score", score.Name)
	require.True(t, score.Async)
	require.Equal(t, 5, score.Retries)
	require.Equal(t, "vars.score > 50", score.Next[0].Condition)
	require.Equal(t, "https://scoring.local/score/${vars.invoice}", score.Parameters["url"])

	_, err = LoadFileFs(fs, "/processes/missing.yaml")
	require.Error(t, err)
}

func TestResolveInputs(t *testing.T) {
	wf, err := LoadString(invoiceProcess)
	require.NoError(t, err)

	vars, err := wf.resolveInputs(map[string]any{"invoice": "inv-1"})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"invoice": "inv-1", "amount": 0}, vars)

	_, err = wf.resolveInputs(map[string]any{})
	require.ErrorContains(t, err, `input "invoice" is required`)

	_, err = wf.resolveInputs(map[string]any{"invoice": "inv-1", "other": 1})
	require.ErrorContains(t, err, `unknown input "other"`)
}
