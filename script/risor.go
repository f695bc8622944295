package script

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/risor-io/risor"
	"github.com/risor-io/risor/compiler"
	"github.com/risor-io/risor/modules/all"
	"github.com/risor-io/risor/object"
	"github.com/risor-io/risor/parser"
)

// RisorCompiler compiles process expressions with risor. Compiled code may
// only reference the compiler's globals, so a condition that names an
// unknown builtin fails when the process is registered rather than when the
// edge is first taken.
type RisorCompiler struct {
	globals map[string]any
	names   []string
}

var _ Compiler = (*RisorCompiler)(nil)

func NewRisorCompiler(globals map[string]any) *RisorCompiler {
	return &RisorCompiler{
		globals: globals,
		names:   slices.Sorted(maps.Keys(globals)),
	}
}

// NewDefaultCompiler returns a compiler limited to DefaultRisorGlobals.
func NewDefaultCompiler() *RisorCompiler {
	return NewRisorCompiler(DefaultRisorGlobals())
}

func (c *RisorCompiler) Compile(ctx context.Context, code string) (Script, error) {
	ast, err := parser.Parse(ctx, code)
	if err != nil {
		return nil, err
	}
	compiled, err := compiler.Compile(ast, compiler.WithGlobalNames(c.names))
	if err != nil {
		return nil, err
	}
	return &risorScript{compiler: c, code: compiled}, nil
}

type risorScript struct {
	compiler *RisorCompiler
	code     *compiler.Code
}

// Evaluate runs the script. Per-call globals shadow the compiler's.
func (s *risorScript) Evaluate(ctx context.Context, globals map[string]any) (Value, error) {
	merged := maps.Clone(s.compiler.globals)
	if merged == nil {
		merged = make(map[string]any, len(globals))
	}
	maps.Copy(merged, globals)
	obj, err := risor.EvalCode(ctx, s.code, risor.WithGlobals(merged))
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate risor script: %w", err)
	}
	return risorValue{obj}, nil
}

type risorValue struct {
	obj object.Object
}

func (v risorValue) Value() any     { return toGo(v.obj) }
func (v risorValue) IsTruthy() bool { return Truthy(v.obj) }

// String renders the value for interpolation into a template. Nil renders
// empty and lists are comma separated.
func (v risorValue) String() string {
	switch o := v.obj.(type) {
	case *object.NilType:
		return ""
	case *object.String:
		return o.Value()
	case *object.Int:
		return strconv.FormatInt(o.Value(), 10)
	case *object.Float:
		return strconv.FormatFloat(o.Value(), 'g', -1, 64)
	case *object.Bool:
		return strconv.FormatBool(o.Value())
	case *object.Time:
		return o.Value().Format(time.RFC3339)
	case *object.List:
		parts := make([]string, 0, len(o.Value()))
		for _, item := range o.Value() {
			parts = append(parts, fmt.Sprint(toGo(item)))
		}
		return strings.Join(parts, ",")
	case fmt.Stringer:
		return o.String()
	}
	return fmt.Sprint(v.obj)
}

// DefaultRisorGlobals returns the pure builtins plus empty vars, local and
// params maps so scripts referencing them always compile.
func DefaultRisorGlobals() map[string]any {
	builtins := all.Builtins()
	globals := make(map[string]any, len(pureBuiltins)+3)
	for _, name := range pureBuiltins {
		if value, ok := builtins[name]; ok {
			globals[name] = value
		}
	}
	for _, name := range []string{GlobalVars, GlobalLocal, GlobalParams} {
		globals[name] = object.NewMap(map[string]object.Object{})
	}
	return globals
}
