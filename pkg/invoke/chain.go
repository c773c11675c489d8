package invoke

import (
	"context"
	"iter"

	"Invoke-Chain/pkg/capability"
)

// Chain walks the capabilities of the groups active in an invocation.
type Chain[T any] struct {
	index *capability.Index[T]
}

// NewChain wraps an index. A nil index yields no candidates.
func NewChain[T any](index *capability.Index[T]) Chain[T] {
	return Chain[T]{index: index}
}

// Candidates returns the deduplicated candidate sequence for md.Groups.
func (c Chain[T]) Candidates(md *Metadata) iter.Seq[T] {
	return c.index.Get(md.ActiveGroups())
}

// Index returns the underlying index.
func (c Chain[T]) Index() *capability.Index[T] {
	return c.index
}

// DecoratorChain applies every supporting decorator of the active groups.
type DecoratorChain struct {
	Chain[Decorator]
}

// NewDecoratorChain builds a chain over index.
func NewDecoratorChain(index *capability.Index[Decorator]) *DecoratorChain {
	return &DecoratorChain{Chain: NewChain(index)}
}

// Supports reports whether any candidate supports md.
func (c *DecoratorChain) Supports(md *Metadata) bool {
	for d := range c.Candidates(md) {
		if d.Supports(md) {
			return true
		}
	}
	return false
}

// Decorate wraps action with the supporting candidates in sequence order, so
// the last applied decorator runs outermost. Without any supporting candidate
// action is returned as is.
func (c *DecoratorChain) Decorate(action Action, md *Metadata) Action {
	for d := range c.Candidates(md) {
		if d.Supports(md) {
			action = d.Decorate(action, md)
		}
	}
	return action
}

// ResolverChain asks the resolvers of the active groups for a parameter value
// until one produces it.
type ResolverChain struct {
	Chain[ValueResolver]
}

// NewResolverChain builds a chain over index.
func NewResolverChain(index *capability.Index[ValueResolver]) *ResolverChain {
	return &ResolverChain{Chain: NewChain(index)}
}

// Supports reports whether any candidate supports p.
func (c *ResolverChain) Supports(p Param, md *Metadata) bool {
	for r := range c.Candidates(md) {
		if r.Supports(p, md) {
			return true
		}
	}
	return false
}

// Resolve consults each supporting candidate once. Skip and Unsupported move
// on to the next candidate; an error stops the walk. An exhausted walk is
// Unsupported, which lets chains nest.
func (c *ResolverChain) Resolve(ctx context.Context, p Param, md *Metadata) (Result, error) {
	for r := range c.Candidates(md) {
		if !r.Supports(p, md) {
			continue
		}
		res, err := r.Resolve(ctx, p, md)
		if err != nil {
			return Result{}, err
		}
		if _, ok := res.Value(); ok {
			return res, nil
		}
	}
	return Unsupported(), nil
}

// ResolveValue is Resolve that fails with ParameterNotSupportedError when no
// candidate produces a value.
func (c *ResolverChain) ResolveValue(ctx context.Context, p Param, md *Metadata) (any, error) {
	res, err := c.Resolve(ctx, p, md)
	if err != nil {
		return nil, err
	}
	if v, ok := res.Value(); ok {
		return v, nil
	}
	return nil, &ParameterNotSupportedError{Parameter: p.Name, Function: md.FunctionName()}
}
