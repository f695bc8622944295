package script

import (
	"reflect"
	"strings"

	"github.com/risor-io/risor/object"
)

// pureBuiltins are the risor builtins a process expression may call. Each is
// deterministic and cannot reach the filesystem, network or environment.
var pureBuiltins = []string{
	"all", "any", "base64", "bool", "buffer", "byte", "byte_slice", "bytes",
	"call", "chunk", "coalesce", "decode", "encode", "error", "errorf",
	"errors", "filepath", "float", "float_slice", "fmt", "getattr", "int",
	"is_hashable", "iter", "json", "keys", "len", "list", "map", "math",
	"regexp", "reversed", "set", "sorted", "sprintf", "string", "strings",
	"try", "type",
}

// toGo unwraps a risor object into plain Go values. Lists and sets become
// []any and maps become map[string]any; anything else falls back to its
// inspected form.
func toGo(obj object.Object) any {
	switch o := obj.(type) {
	case *object.NilType:
		return nil
	case *object.String:
		return o.Value()
	case *object.Int:
		return o.Value()
	case *object.Float:
		return o.Value()
	case *object.Bool:
		return o.Value()
	case *object.Time:
		return o.Value()
	case *object.List:
		return toGoSlice(o.Value())
	case *object.Set:
		items := make([]object.Object, 0, len(o.Value()))
		for _, item := range o.Value() {
			items = append(items, item)
		}
		return toGoSlice(items)
	case *object.Map:
		out := make(map[string]any, len(o.Value()))
		for k, v := range o.Value() {
			out[k] = toGo(v)
		}
		return out
	}
	return obj.Inspect()
}

func toGoSlice(items []object.Object) []any {
	out := make([]any, 0, len(items))
	for _, item := range items {
		out = append(out, toGo(item))
	}
	return out
}

// Truthy reports whether a value counts as true in an edge condition. It
// accepts risor objects as well as the Go values stored in variables. Zero
// numbers, empty collections, "" and "false" are false.
func Truthy(value any) bool {
	switch v := value.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return truthyString(v)
	case *object.String:
		return truthyString(v.Value())
	case *object.List:
		return len(v.Value()) > 0
	case *object.Map:
		return len(v.Value()) > 0
	case object.Object:
		return v.IsTruthy()
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return !rv.IsZero()
	case reflect.Slice, reflect.Map:
		return rv.Len() > 0
	case reflect.Pointer, reflect.Interface:
		return !rv.IsNil()
	}
	return true
}

func truthyString(s string) bool {
	return s != "" && !strings.EqualFold(s, "false")
}
