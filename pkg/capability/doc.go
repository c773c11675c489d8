// Package capability builds and queries group indexes of pluggable
// capabilities.
//
// Capabilities are declared with tags naming the groups they belong to and a
// priority. Collect and Index turn the declarations into an immutable Index
// where each group holds its members ordered by descending priority. A
// capability without any explicit group is "ungrouped": it lands in
// DefaultGroup and is also spread into every explicit group of the universe,
// unless that group already lists it.
//
// At run time Index.Get walks a list of active groups and yields each
// capability once, in group order.
package capability
