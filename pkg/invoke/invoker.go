package invoke

import (
	"context"
	"maps"
	"slices"

	"github.com/google/uuid"

	"Invoke-Chain/pkg/capability"
)

// Invoker resolves the parameters of a function through a ResolverChain,
// decorates it through a DecoratorChain and calls it.
type Invoker struct {
	resolvers     *ResolverChain
	decorators    *DecoratorChain
	defaultGroups []string
}

// Option customises an Invoker.
type Option func(*Invoker)

// WithDefaultGroups sets the groups activated by invocations that do not pick
// their own. The default is DefaultGroup.
func WithDefaultGroups(groups ...string) Option {
	return func(i *Invoker) {
		i.defaultGroups = slices.Clone(groups)
	}
}

// NewInvoker builds an invoker over prebuilt chains.
func NewInvoker(resolvers *ResolverChain, decorators *DecoratorChain, opts ...Option) *Invoker {
	if resolvers == nil {
		resolvers = NewResolverChain(nil)
	}
	if decorators == nil {
		decorators = NewDecoratorChain(nil)
	}
	inv := &Invoker{
		resolvers:     resolvers,
		decorators:    decorators,
		defaultGroups: []string{capability.DefaultGroup},
	}
	for _, opt := range opts {
		opt(inv)
	}
	return inv
}

// Build indexes both capability domains against one shared group universe, so
// a group named only by decorators still receives the ungrouped resolvers and
// the other way round.
func Build(resolvers []capability.Declaration[ValueResolver], decorators []capability.Declaration[Decorator], opts ...Option) *Invoker {
	rc := capability.Collect(resolvers)
	dc := capability.Collect(decorators)
	universe := capability.Universe(dc.ExplicitGroups(), rc.ExplicitGroups())
	return NewInvoker(
		NewResolverChain(rc.Index(universe)),
		NewDecoratorChain(dc.Index(universe)),
		opts...,
	)
}

// Resolvers returns the resolver chain.
func (i *Invoker) Resolvers() *ResolverChain { return i.resolvers }

// Decorators returns the decorator chain.
func (i *Invoker) Decorators() *DecoratorChain { return i.decorators }

// DefaultGroups returns the groups used when a call does not choose any.
func (i *Invoker) DefaultGroups() []string { return slices.Clone(i.defaultGroups) }

type callConfig struct {
	id        uuid.UUID
	values    map[string]any
	groups    []string
	groupsSet bool
}

// CallOption customises a single invocation.
type CallOption func(*callConfig)

// WithValues adds named values to the invocation.
func WithValues(values map[string]any) CallOption {
	return func(c *callConfig) {
		if c.values == nil {
			c.values = make(map[string]any, len(values))
		}
		maps.Copy(c.values, values)
	}
}

// WithValue adds one named value to the invocation.
func WithValue(name string, value any) CallOption {
	return func(c *callConfig) {
		if c.values == nil {
			c.values = make(map[string]any)
		}
		c.values[name] = value
	}
}

// WithGroups activates groups, in order, for the invocation. Calling it
// without arguments activates no group at all.
func WithGroups(groups ...string) CallOption {
	return func(c *callConfig) {
		c.groups = slices.Clone(groups)
		c.groupsSet = true
	}
}

// WithID sets the invocation id instead of generating one.
func WithID(id uuid.UUID) CallOption {
	return func(c *callConfig) {
		c.id = id
	}
}

// Invoke resolves every parameter of fn, decorates it and calls it. The first
// parameter that cannot be resolved aborts the invocation before fn runs.
func (i *Invoker) Invoke(ctx context.Context, fn *Function, opts ...CallOption) (any, error) {
	if fn == nil {
		return nil, &FunctionNotSupportedError{Reason: "nil function"}
	}
	md := i.metadata(fn, opts)

	args := make([]any, len(fn.Params))
	for idx, p := range fn.Params {
		switch {
		case p.Variadic:
			return nil, &VariadicParameterNotSupportedError{ParameterNotSupportedError{Parameter: p.Name, Function: fn.Name}}
		case p.Untyped:
			return nil, &UntypedParameterNotSupportedError{ParameterNotSupportedError{Parameter: p.Name, Function: fn.Name}}
		}
		v, err := i.resolvers.ResolveValue(ctx, p, md)
		if err != nil {
			return nil, err
		}
		args[idx] = v
	}

	return i.decorators.Decorate(fn.Action(), md)(ctx, args)
}

// InvokeFunc describes fn and invokes it.
func (i *Invoker) InvokeFunc(ctx context.Context, name string, fn any, params []Param, opts ...CallOption) (any, error) {
	f, err := Describe(name, fn, params...)
	if err != nil {
		return nil, err
	}
	return i.Invoke(ctx, f, opts...)
}

func (i *Invoker) metadata(fn *Function, opts []CallOption) *Metadata {
	var cfg callConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	groups := cfg.groups
	if !cfg.groupsSet {
		groups = slices.Clone(i.defaultGroups)
	}
	if cfg.id == uuid.Nil {
		cfg.id = uuid.New()
	}
	if cfg.values == nil {
		cfg.values = map[string]any{}
	}
	return &Metadata{ID: cfg.id, Function: fn, Groups: groups, Values: cfg.values}
}
