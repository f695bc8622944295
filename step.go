package asynctask

// Edge is used to configure a next step in a process.
type Edge struct {
	Step      string `json:"step" yaml:"step"`
	Condition string `json:"condition,omitempty" yaml:"condition,omitempty"`
}

// Step represents a single activity in a process.
type Step struct {
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Activity    string         `json:"activity" yaml:"activity"`
	Parameters  map[string]any `json:"parameters,omitempty" yaml:"parameters,omitempty"`

	// Async defers entry to a continuation job instead of entering the
	// activity in the transaction that reaches the step.
	Async bool `json:"async,omitempty" yaml:"async,omitempty"`

	// Retries overrides the engine's job retry budget for this step.
	Retries int `json:"retries,omitempty" yaml:"retries,omitempty"`

	Next []*Edge `json:"next,omitempty" yaml:"next,omitempty"`
	End  bool    `json:"end,omitempty" yaml:"end,omitempty"`
}
