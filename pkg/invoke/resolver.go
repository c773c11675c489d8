package invoke

import (
	"context"
	"fmt"
)

type outcome uint8

const (
	unsupported outcome = iota
	resolved
	skipped
)

// Result is the outcome of a ValueResolver. The zero Result is Unsupported.
type Result struct {
	kind  outcome
	value any
}

// Resolved carries a value for the parameter.
func Resolved(v any) Result {
	return Result{kind: resolved, value: v}
}

// Skip tells the chain that a supporting resolver could not produce a value
// after all, so the next candidate is tried.
func Skip() Result {
	return Result{kind: skipped}
}

// Unsupported tells the chain that this resolver does not handle the
// parameter.
func Unsupported() Result {
	return Result{}
}

// Value returns the resolved value and whether there is one.
func (r Result) Value() (any, bool) {
	return r.value, r.kind == resolved
}

// Skipped reports whether the result is Skip.
func (r Result) Skipped() bool {
	return r.kind == skipped
}

func (r Result) String() string {
	switch r.kind {
	case resolved:
		return fmt.Sprintf("resolved(%v)", r.value)
	case skipped:
		return "skip"
	default:
		return "unsupported"
	}
}

// ValueResolver supplies the value of one parameter. A returned error aborts
// the whole resolution; it is reserved for failures of the resolver itself.
type ValueResolver interface {
	Supports(p Param, md *Metadata) bool
	Resolve(ctx context.Context, p Param, md *Metadata) (Result, error)
}

// ResolverFunc adapts a function into a ValueResolver that supports every
// parameter.
type ResolverFunc func(ctx context.Context, p Param, md *Metadata) (Result, error)

func (f ResolverFunc) Supports(Param, *Metadata) bool { return true }

func (f ResolverFunc) Resolve(ctx context.Context, p Param, md *Metadata) (Result, error) {
	return f(ctx, p, md)
}
