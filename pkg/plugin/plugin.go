package plugin

import (
	"context"
	"log/slog"
	"maps"

	"Invoke-Chain/pkg/invoke"
)

// Plugin defines the lifecycle hooks of a configurable capability. Besides
// these hooks a plugin implements invoke.Decorator or invoke.ValueResolver,
// matching Info().Kind.
type Plugin interface {
	// Info returns the static metadata for the plugin.
	Info() Info
	// Configure allows the plugin to inspect its configuration block prior to initialisation.
	// Implementations may mutate the configuration map to inject defaults.
	Configure(cfg map[string]any) error
	// Init prepares the plugin for use.
	Init(ctx *ExecutionContext) error
	// Start activates the plugin and should spawn long running routines if required.
	Start(ctx *ExecutionContext) error
	// Stop gracefully halts the plugin and releases any resources.
	Stop(ctx *ExecutionContext) error
}

// ExecutionContext is passed to plugins for every lifecycle stage.
type ExecutionContext struct {
	// C is the underlying context for cancellation and deadlines.
	C context.Context
	// Config is the plugin specific configuration block merged with manager overrides.
	Config map[string]any
	// Resources exposes shared services supplied by the host application.
	Resources map[string]any
}

// Clone returns a shallow copy of the execution context so plugins can safely mutate maps.
func (c *ExecutionContext) Clone() *ExecutionContext {
	if c == nil {
		return nil
	}
	dup := *c
	if c.Config != nil {
		dup.Config = maps.Clone(c.Config)
	}
	if c.Resources != nil {
		dup.Resources = maps.Clone(c.Resources)
	}
	return &dup
}

// Resource returns the shared resource registered under key, typed as T.
func Resource[T any](ctx *ExecutionContext, key string) (T, bool) {
	var zero T
	if ctx == nil {
		return zero, false
	}
	v, ok := ctx.Resources[key].(T)
	if !ok {
		return zero, false
	}
	return v, true
}

// NopLifecycle implements the lifecycle hooks of Plugin as no-ops. Embed it
// in plugins that only need Info and their capability methods.
type NopLifecycle struct{}

func (NopLifecycle) Configure(map[string]any) error { return nil }
func (NopLifecycle) Init(*ExecutionContext) error   { return nil }
func (NopLifecycle) Start(*ExecutionContext) error  { return nil }
func (NopLifecycle) Stop(*ExecutionContext) error   { return nil }

// Option modifies the behaviour of a plugin manager instance.
type Option func(*Manager)

// WithLoader overrides the default binary loader implementation.
func WithLoader(loader Loader) Option {
	return func(m *Manager) {
		if loader != nil {
			m.loader = loader
		}
	}
}

// WithIsolationStrategy sets a custom isolation policy enforcement strategy.
func WithIsolationStrategy(strategy IsolationStrategy) Option {
	return func(m *Manager) {
		if strategy != nil {
			m.isolation = strategy
		}
	}
}

// WithResource registers a shared resource that will be exposed to all plugins.
func WithResource(key string, value any) Option {
	return func(m *Manager) {
		if key == "" || value == nil {
			return
		}
		if m.resources == nil {
			m.resources = make(map[string]any)
		}
		m.resources[key] = value
	}
}

// WithFactory makes a built-in plugin available to configuration entries
// under name.
func WithFactory(name string, factory Factory) Option {
	return func(m *Manager) {
		if name == "" || factory == nil {
			return
		}
		m.factories[name] = factory
	}
}

// WithoutBuiltins drops the built-in value resolvers of package invoke.
func WithoutBuiltins() Option {
	return func(m *Manager) {
		m.builtins = false
	}
}

// WithInvokerOptions forwards options to the invoker created by Build.
func WithInvokerOptions(opts ...invoke.Option) Option {
	return func(m *Manager) {
		m.invokerOpts = append(m.invokerOpts, opts...)
	}
}

// WithLogger sets the logger used for lifecycle messages.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}
