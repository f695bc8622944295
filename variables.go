package asynctask

import "reflect"

// VariableScope holds variables at one level of an execution. Lookups fall
// through to the parent scope. A VariableScope is not safe for concurrent use;
// the engine serializes access per execution.
type VariableScope struct {
	parent *VariableScope
	values map[string]any
}

var _ VariableContainer = (*VariableScope)(nil)

// NewVariableScope returns a scope holding a copy of values.
func NewVariableScope(parent *VariableScope, values map[string]any) *VariableScope {
	return &VariableScope{parent: parent, values: copyMap(values)}
}

// Parent returns the enclosing scope, or nil for the root scope.
func (s *VariableScope) Parent() *VariableScope {
	return s.parent
}

// GetVariable returns the value visible from this scope.
func (s *VariableScope) GetVariable(key string) (any, bool) {
	for scope := s; scope != nil; scope = scope.parent {
		if value, ok := scope.values[key]; ok {
			return value, true
		}
	}
	return nil, false
}

// SetVariable assigns the variable in the nearest scope that already defines
// it, or in the root scope when none does.
func (s *VariableScope) SetVariable(key string, value any) {
	target := s.definingScope(key)
	if target == nil {
		target = s.root()
	}
	target.values[key] = value
}

// SetVariableLocal assigns the variable in this scope only.
func (s *VariableScope) SetVariableLocal(key string, value any) {
	s.values[key] = value
}

// DeleteVariable removes the variable from the nearest scope defining it.
func (s *VariableScope) DeleteVariable(key string) {
	if target := s.definingScope(key); target != nil {
		delete(target.values, key)
	}
}

// ListVariables returns the sorted names of all visible variables.
func (s *VariableScope) ListVariables() []string {
	return sortedKeys(s.Variables())
}

// Variables returns the effective variables: every visible variable, with
// inner scopes shadowing outer ones.
func (s *VariableScope) Variables() map[string]any {
	var chain []*VariableScope
	for scope := s; scope != nil; scope = scope.parent {
		chain = append(chain, scope)
	}
	result := map[string]any{}
	for i := len(chain) - 1; i >= 0; i-- {
		for key, value := range chain[i].values {
			result[key] = value
		}
	}
	return result
}

// LocalVariables returns the variables defined directly in this scope.
func (s *VariableScope) LocalVariables() map[string]any {
	return copyMap(s.values)
}

func (s *VariableScope) definingScope(key string) *VariableScope {
	for scope := s; scope != nil; scope = scope.parent {
		if _, ok := scope.values[key]; ok {
			return scope
		}
	}
	return nil
}

func (s *VariableScope) root() *VariableScope {
	scope := s
	for scope.parent != nil {
		scope = scope.parent
	}
	return scope
}

// copyMap returns a shallow copy of m. It never returns nil.
func copyMap(m map[string]any) map[string]any {
	result := make(map[string]any, len(m))
	for k, v := range m {
		result[k] = v
	}
	return result
}

// deepCopyMap copies m along with every nested map and slice.
func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	result := make(map[string]any, len(m))
	for k, v := range m {
		result[k] = deepCopyValue(v)
	}
	return result
}

func deepCopyValue(v any) any {
	switch value := v.(type) {
	case nil:
		return nil
	case map[string]any:
		return deepCopyMap(value)
	case []any:
		result := make([]any, len(value))
		for i, item := range value {
			result[i] = deepCopyValue(item)
		}
		return result
	}
	return deepCopyReflect(reflect.ValueOf(v)).Interface()
}

// deepCopyReflect handles typed maps and slices such as []string or
// map[string]int. Other kinds are values already and are returned as is.
func deepCopyReflect(v reflect.Value) reflect.Value {
	switch v.Kind() {
	case reflect.Map:
		if v.IsNil() {
			return v
		}
		result := reflect.MakeMapWithSize(v.Type(), v.Len())
		iter := v.MapRange()
		for iter.Next() {
			result.SetMapIndex(iter.Key(), deepCopyElem(iter.Value(), v.Type().Elem()))
		}
		return result
	case reflect.Slice:
		if v.IsNil() {
			return v
		}
		result := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
		for i := 0; i < v.Len(); i++ {
			result.Index(i).Set(deepCopyElem(v.Index(i), v.Type().Elem()))
		}
		return result
	}
	return v
}

func deepCopyElem(v reflect.Value, elemType reflect.Type) reflect.Value {
	if v.Kind() == reflect.Interface {
		if v.IsNil() {
			return reflect.Zero(elemType)
		}
		return reflect.ValueOf(deepCopyValue(v.Interface()))
	}
	return deepCopyReflect(v)
}
