package invoke

import (
	"github.com/google/uuid"
)

// Metadata is the read-only context of one invocation. It is handed to every
// Supports, Resolve and Decorate call of that invocation.
type Metadata struct {
	ID       uuid.UUID
	Function *Function
	Groups   []string
	Values   map[string]any
}

// FunctionName returns the name of the invoked function, or "" when unknown.
func (m *Metadata) FunctionName() string {
	if m == nil || m.Function == nil {
		return ""
	}
	return m.Function.Name
}

// Value looks up a named value supplied by the caller.
func (m *Metadata) Value(name string) (any, bool) {
	if m == nil {
		return nil, false
	}
	v, ok := m.Values[name]
	return v, ok
}

// ActiveGroups returns the groups of the invocation.
func (m *Metadata) ActiveGroups() []string {
	if m == nil {
		return nil
	}
	return m.Groups
}
