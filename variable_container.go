package asynctask

import (
	"maps"
	"slices"
)

// VariableContainer is anything variables can be written through.
type VariableContainer interface {
	SetVariable(key string, value any)
	DeleteVariable(key string)
	ListVariables() []string
	GetVariable(key string) (value any, exists bool)
}

// Patch is a single change to a variable. A Delete patch ignores Value.
type Patch struct {
	Variable string
	Value    any
	Delete   bool
}

// PayloadPatches turns a signal payload into one set patch per entry, ordered
// by variable name. Payloads only ever add or overwrite variables.
func PayloadPatches(payload map[string]any) []Patch {
	patches := make([]Patch, 0, len(payload))
	for _, key := range sortedKeys(payload) {
		patches = append(patches, Patch{Variable: key, Value: payload[key]})
	}
	return patches
}

// ApplyPatches writes patches to container in order.
func ApplyPatches(container VariableContainer, patches []Patch) {
	for _, p := range patches {
		if p.Delete {
			container.DeleteVariable(p.Variable)
			continue
		}
		container.SetVariable(p.Variable, p.Value)
	}
}

func sortedKeys(m map[string]any) []string {
	return slices.Sorted(maps.Keys(m))
}
