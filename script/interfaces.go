// Package script compiles and evaluates the small expressions used by process
// definitions: edge conditions, URL templates, payload builders and scripted
// services.
package script

import (
	"context"
)

// Value represents the result of a script evaluation.
type Value interface {

	// Value returns the Go value for this value as an any
	Value() any

	// String returns the string representation of this value
	String() string

	// IsTruthy returns true if this value is truthy
	IsTruthy() bool
}

// Script represents a compiled script that can be evaluated.
type Script interface {
	Evaluate(ctx context.Context, globals map[string]any) (Value, error)
}

// Compiler is an interface used to compile source code into a Script.
type Compiler interface {
	Compile(ctx context.Context, code string) (Script, error)
}

// Names of the globals every script may reference.
const (
	// GlobalVars holds the effective variables of the execution.
	GlobalVars = "vars"

	// GlobalLocal holds the variables local to the current activity.
	GlobalLocal = "local"

	// GlobalParams holds the parameters of the current step.
	GlobalParams = "params"
)

// Globals builds the globals map passed to Evaluate.
func Globals(vars, local, params map[string]any) map[string]any {
	return map[string]any{
		GlobalVars:   nonNil(vars),
		GlobalLocal:  nonNil(local),
		GlobalParams: nonNil(params),
	}
}

func nonNil(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
