package capability

import (
	"cmp"
	"slices"
	"strings"
)

type slot[T any] struct {
	ref      *Ref[T]
	priority int
}

type bucket[T any] struct {
	slots []slot[T]
	pos   map[*Ref[T]]int
}

func newBucket[T any]() *bucket[T] {
	return &bucket[T]{pos: make(map[*Ref[T]]int)}
}

// put records ref at priority. An existing slot keeps its position; when
// overwrite is set its priority is replaced, otherwise the first write wins.
func (b *bucket[T]) put(ref *Ref[T], priority int, overwrite bool) {
	if i, ok := b.pos[ref]; ok {
		if overwrite {
			b.slots[i].priority = priority
		}
		return
	}
	b.pos[ref] = len(b.slots)
	b.slots = append(b.slots, slot[T]{ref: ref, priority: priority})
}

func (b *bucket[T]) clone() *bucket[T] {
	dup := &bucket[T]{
		slots: slices.Clone(b.slots),
		pos:   make(map[*Ref[T]]int, len(b.pos)),
	}
	for ref, i := range b.pos {
		dup.pos[ref] = i
	}
	return dup
}

// Collection is the result of scanning the declarations of one capability
// domain. It is turned into an Index once the group universe is known, which
// lets two domains share a universe before either index is materialised.
type Collection[T any] struct {
	refs        []*Ref[T]
	byID        map[string]*Ref[T]
	explicit    map[string]*bucket[T]
	groupOrder  []string
	grouped     map[*Ref[T]]bool
	maxPriority map[*Ref[T]]int
}

// Collect scans declarations in registration order. Declarations that reuse an
// id are merged into the first declaration carrying it.
func Collect[T any](decls []Declaration[T]) *Collection[T] {
	c := &Collection[T]{
		byID:        make(map[string]*Ref[T], len(decls)),
		explicit:    make(map[string]*bucket[T]),
		grouped:     make(map[*Ref[T]]bool, len(decls)),
		maxPriority: make(map[*Ref[T]]int, len(decls)),
	}
	tagged := make(map[*Ref[T]]bool, len(decls))

	for _, decl := range decls {
		ref, ok := c.byID[decl.ID]
		if !ok {
			ref = &Ref[T]{ID: decl.ID, Capability: decl.Capability, order: len(c.refs)}
			c.byID[decl.ID] = ref
			c.refs = append(c.refs, ref)
			c.maxPriority[ref] = 0
		}

		for _, tag := range decl.Tags {
			if !tagged[ref] || tag.Priority > c.maxPriority[ref] {
				c.maxPriority[ref] = tag.Priority
			}
			tagged[ref] = true

			for _, group := range tag.Groups {
				group = strings.TrimSpace(group)
				if group == "" {
					continue
				}
				b, exists := c.explicit[group]
				if !exists {
					b = newBucket[T]()
					c.explicit[group] = b
					c.groupOrder = append(c.groupOrder, group)
				}
				b.put(ref, tag.Priority, true)
				c.grouped[ref] = true
			}
		}
	}
	return c
}

// ExplicitGroups returns the group names named by explicit tags, in order of
// first appearance.
func (c *Collection[T]) ExplicitGroups() []string {
	if c == nil {
		return nil
	}
	return slices.Clone(c.groupOrder)
}

// Ungrouped returns the ids that carry no explicit group, in declaration order.
func (c *Collection[T]) Ungrouped() []string {
	if c == nil {
		return nil
	}
	var ids []string
	for _, ref := range c.refs {
		if !c.grouped[ref] {
			ids = append(ids, ref.ID)
		}
	}
	return ids
}

// Index materialises the group index. Ungrouped capabilities are placed in
// DefaultGroup and in every group of universe that does not already hold them,
// using the highest priority found across their tags.
func (c *Collection[T]) Index(universe []string) *Index[T] {
	ix := &Index[T]{buckets: make(map[string][]slot[T])}
	if c == nil {
		return ix
	}

	buckets := make(map[string]*bucket[T], len(c.explicit)+1)
	for group, b := range c.explicit {
		buckets[group] = b.clone()
	}

	var ungrouped []*Ref[T]
	for _, ref := range c.refs {
		if !c.grouped[ref] {
			ungrouped = append(ungrouped, ref)
		}
	}

	if len(ungrouped) > 0 {
		targets := append([]string{DefaultGroup}, universe...)
		for _, group := range targets {
			group = strings.TrimSpace(group)
			if group == "" {
				continue
			}
			b, ok := buckets[group]
			if !ok {
				b = newBucket[T]()
				buckets[group] = b
			}
			for _, ref := range ungrouped {
				b.put(ref, c.maxPriority[ref], false)
			}
		}
	}

	for group, b := range buckets {
		slots := b.slots
		slices.SortStableFunc(slots, func(x, y slot[T]) int {
			if x.priority != y.priority {
				return cmp.Compare(y.priority, x.priority)
			}
			return cmp.Compare(x.ref.order, y.ref.order)
		})
		ix.buckets[group] = slots
	}
	return ix
}

// Build collects decls and indexes them against their own explicit groups.
func Build[T any](decls []Declaration[T]) *Index[T] {
	c := Collect(decls)
	return c.Index(c.ExplicitGroups())
}

// Universe returns the ordered union of the given group name sets. It is used
// when several capability domains share one group universe.
func Universe(sets ...[]string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, set := range sets {
		for _, group := range set {
			if _, ok := seen[group]; ok {
				continue
			}
			seen[group] = struct{}{}
			out = append(out, group)
		}
	}
	return out
}
