package batch

import (
	"maps"
	"slices"
	"sort"
)

// Unit is one parameterized write awaiting execution. Its values are bound
// either positionally or by name, never both.
type Unit struct {
	positional []any
	named      map[string]any
}

// Positional builds a unit whose values bind to placeholders in order.
func Positional(args ...any) Unit {
	return Unit{positional: slices.Clone(args)}
}

// Named builds a unit whose values bind to named placeholders.
func Named(args map[string]any) Unit {
	return Unit{named: maps.Clone(args)}
}

func (u Unit) IsNamed() bool { return u.named != nil }

// Args returns a copy of the positional values.
func (u Unit) Args() []any { return slices.Clone(u.positional) }

// NamedArgs returns a copy of the named values.
func (u Unit) NamedArgs() map[string]any { return maps.Clone(u.named) }

// Names returns the named slots in a stable order.
func (u Unit) Names() []string {
	names := make([]string, 0, len(u.named))
	for k := range u.named {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func (u Unit) Len() int {
	if u.named != nil {
		return len(u.named)
	}
	return len(u.positional)
}
