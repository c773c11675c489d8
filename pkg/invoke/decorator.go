package invoke

import "context"

// Action is a callable taking the resolved arguments of a function.
type Action func(ctx context.Context, args []any) (any, error)

// Decorator wraps an action. Decorate must not call next itself; it returns
// a new action that may.
type Decorator interface {
	Supports(md *Metadata) bool
	Decorate(next Action, md *Metadata) Action
}

// DecoratorFunc adapts a function into a Decorator that supports every
// invocation.
type DecoratorFunc func(next Action, md *Metadata) Action

func (f DecoratorFunc) Supports(*Metadata) bool { return true }

func (f DecoratorFunc) Decorate(next Action, md *Metadata) Action {
	return f(next, md)
}

// Around builds a Decorator from a supports predicate and a wrapper body. A
// nil predicate supports everything.
func Around(supports func(md *Metadata) bool, body func(ctx context.Context, args []any, next Action, md *Metadata) (any, error)) Decorator {
	return &around{supports: supports, body: body}
}

type around struct {
	supports func(md *Metadata) bool
	body     func(ctx context.Context, args []any, next Action, md *Metadata) (any, error)
}

func (a *around) Supports(md *Metadata) bool {
	return a.supports == nil || a.supports(md)
}

func (a *around) Decorate(next Action, md *Metadata) Action {
	return func(ctx context.Context, args []any) (any, error) {
		return a.body(ctx, args, next, md)
	}
}
