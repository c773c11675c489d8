package capability

// DefaultGroup is the group name reserved for capabilities registered without
// an explicit group.
const DefaultGroup = "__NONE__"

// Tag attaches a capability to zero or more groups at a given priority.
type Tag struct {
	Groups   []string `yaml:"groups" json:"groups,omitempty"`
	Priority int      `yaml:"priority" json:"priority,omitempty"`
}

// Grouped reports whether the tag names at least one group.
func (t Tag) Grouped() bool {
	return len(t.Groups) > 0
}

// Declaration describes one capability instance and the tags attached to it.
// The order of a declaration slice is the registration order.
type Declaration[T any] struct {
	ID         string
	Capability T
	Tags       []Tag
}

// Declare is shorthand for building a Declaration.
func Declare[T any](id string, c T, tags ...Tag) Declaration[T] {
	return Declaration[T]{ID: id, Capability: c, Tags: tags}
}

// In builds a tag for the given groups at priority zero.
func In(groups ...string) Tag {
	return Tag{Groups: groups}
}

// At builds an ungrouped tag with the given priority.
func At(priority int) Tag {
	return Tag{Priority: priority}
}

// Ref is the stable identity of a declared capability. Every group bucket that
// contains the capability points at the same Ref.
type Ref[T any] struct {
	ID         string
	Capability T
	order      int
}

// Entry is a read-only view of one bucket slot, used for introspection.
type Entry struct {
	ID       string `json:"id"`
	Priority int    `json:"priority"`
}
