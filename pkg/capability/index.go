package capability

import (
	"iter"
	"sort"
)

// Index maps group names to priority-ordered capability buckets. It is built
// once and never mutated, so it can be shared by concurrent invocations.
type Index[T any] struct {
	buckets map[string][]slot[T]
}

// Get returns the capabilities of the requested groups in order, yielding each
// capability at most once per call. Unknown groups are skipped. The sequence is
// lazy and every iteration starts from scratch.
func (ix *Index[T]) Get(groups []string) iter.Seq[T] {
	return func(yield func(T) bool) {
		for _, c := range ix.Entries(groups) {
			if !yield(c) {
				return
			}
		}
	}
}

// Entries is Get with the declaration id of each capability.
func (ix *Index[T]) Entries(groups []string) iter.Seq2[string, T] {
	return func(yield func(string, T) bool) {
		if ix == nil || len(groups) == 0 {
			return
		}
		seen := make(map[*Ref[T]]struct{})
		for _, group := range groups {
			for _, s := range ix.buckets[group] {
				if _, dup := seen[s.ref]; dup {
					continue
				}
				seen[s.ref] = struct{}{}
				if !yield(s.ref.ID, s.ref.Capability) {
					return
				}
			}
		}
	}
}

// Has reports whether group exists in the index.
func (ix *Index[T]) Has(group string) bool {
	if ix == nil {
		return false
	}
	_, ok := ix.buckets[group]
	return ok
}

// Groups returns the indexed group names sorted alphabetically.
func (ix *Index[T]) Groups() []string {
	if ix == nil {
		return nil
	}
	names := make([]string, 0, len(ix.buckets))
	for name := range ix.buckets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Bucket returns a copy of the ordered entries of group.
func (ix *Index[T]) Bucket(group string) []Entry {
	if ix == nil {
		return nil
	}
	slots := ix.buckets[group]
	if len(slots) == 0 {
		return nil
	}
	out := make([]Entry, len(slots))
	for i, s := range slots {
		out[i] = Entry{ID: s.ref.ID, Priority: s.priority}
	}
	return out
}

// IDs returns the ordered capability ids of group.
func (ix *Index[T]) IDs(group string) []string {
	entries := ix.Bucket(group)
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	return ids
}

// Len returns the number of groups.
func (ix *Index[T]) Len() int {
	if ix == nil {
		return 0
	}
	return len(ix.buckets)
}
