package asynctask

import (
	"fmt"
	"sort"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// Input defines a process input variable
type Input struct {
	Name        string `json:"name" yaml:"name"`
	Type        string `json:"type" yaml:"type"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Required    bool   `json:"required,omitempty" yaml:"required,omitempty"`
	Default     any    `json:"default,omitempty" yaml:"default,omitempty"`
}

// Output names a variable exported when the process completes
type Output struct {
	Name        string `json:"name" yaml:"name"`
	Variable    string `json:"variable" yaml:"variable"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Options are used to configure a process.
type Options struct {
	Name        string         `json:"name" yaml:"name"`
	Steps       []*Step        `json:"steps" yaml:"steps"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Path        string         `json:"path,omitempty" yaml:"path,omitempty"`
	Inputs      []*Input       `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	Outputs     []*Output      `json:"outputs,omitempty" yaml:"outputs,omitempty"`
	State       map[string]any `json:"state,omitempty" yaml:"state,omitempty"`
}

// Workflow is a validated process definition: a graph of steps entered at
// the first step.
type Workflow struct {
	opts   Options
	byName map[string]*Step
}

// New validates opts and returns the process it describes.
func New(opts Options) (*Workflow, error) {
	if opts.Name == "" {
		return nil, fmt.Errorf("workflow name required")
	}
	if len(opts.Steps) == 0 {
		return nil, fmt.Errorf("steps required")
	}
	byName := make(map[string]*Step, len(opts.Steps))
	for _, step := range opts.Steps {
		if step == nil || step.Name == "" {
			return nil, fmt.Errorf("step name required")
		}
		if _, dup := byName[step.Name]; dup {
			return nil, fmt.Errorf("workflow validation failed: step names must be unique")
		}
		byName[step.Name] = step
	}
	for _, step := range opts.Steps {
		if err := checkStep(step, byName); err != nil {
			return nil, fmt.Errorf("workflow validation failed: step %q: %w", step.Name, err)
		}
	}
	return &Workflow{opts: opts, byName: byName}, nil
}

func checkStep(step *Step, byName map[string]*Step) error {
	switch {
	case step.Activity == "":
		return fmt.Errorf("activity required")
	case step.Retries < 0:
		return fmt.Errorf("retries must not be negative")
	case step.End && len(step.Next) > 0:
		return fmt.Errorf("end step cannot have next steps")
	}
	for _, edge := range step.Next {
		if edge == nil || edge.Step == "" {
			return fmt.Errorf("edge target required")
		}
		if _, ok := byName[edge.Step]; !ok {
			return fmt.Errorf("edge to step %q not found", edge.Step)
		}
	}
	return nil
}

func (w *Workflow) Name() string       { return w.opts.Name }
func (w *Workflow) Path() string       { return w.opts.Path }
func (w *Workflow) Inputs() []*Input   { return w.opts.Inputs }
func (w *Workflow) Outputs() []*Output { return w.opts.Outputs }
func (w *Workflow) Steps() []*Step     { return w.opts.Steps }

// Start returns the step every execution enters first.
func (w *Workflow) Start() *Step {
	return w.opts.Steps[0]
}

// Step looks up a step by name.
func (w *Workflow) Step(name string) (*Step, bool) {
	step, ok := w.byName[name]
	return step, ok
}

// StepNames returns the step names in sorted order.
func (w *Workflow) StepNames() []string {
	names := make([]string, 0, len(w.byName))
	for name := range w.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LoadFileFs reads a YAML process definition from fs. The definition's path
// defaults to the file it was read from.
func LoadFileFs(fs afero.Fs, path string) (*Workflow, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow file: %w", err)
	}
	opts, err := parseOptions(data)
	if err != nil {
		return nil, err
	}
	if opts.Path == "" {
		opts.Path = path
	}
	return New(opts)
}

// LoadString parses a YAML process definition.
func LoadString(data string) (*Workflow, error) {
	opts, err := parseOptions([]byte(data))
	if err != nil {
		return nil, err
	}
	return New(opts)
}

func parseOptions(data []byte) (Options, error) {
	var opts Options
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return opts, fmt.Errorf("failed to unmarshal workflow file: %w", err)
	}
	return opts, nil
}

// resolveInputs merges the declared inputs with their defaults and the
// initial state. Undeclared variables are allowed only when the process
// declares no inputs.
func (w *Workflow) resolveInputs(variables map[string]any) (map[string]any, error) {
	resolved := deepCopyMap(w.opts.State)
	if len(w.opts.Inputs) == 0 {
		for k, v := range variables {
			resolved[k] = v
		}
		return resolved, nil
	}
	declared := make(map[string]bool, len(w.opts.Inputs))
	for _, input := range w.opts.Inputs {
		declared[input.Name] = true
		if v, ok := variables[input.Name]; ok {
			resolved[input.Name] = v
			continue
		}
		if input.Required && input.Default == nil {
			return nil, fmt.Errorf("input %q is required", input.Name)
		}
		if input.Default != nil {
			resolved[input.Name] = input.Default
		}
	}
	for k := range variables {
		if !declared[k] {
			return nil, fmt.Errorf("unknown input %q", k)
		}
	}
	return resolved, nil
}
