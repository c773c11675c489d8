package plugin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"path/filepath"
	"sort"
	"sync"

	"Invoke-Chain/pkg/capability"
	"Invoke-Chain/pkg/invoke"
	"Invoke-Chain/pkg/logger"
)

// ErrBuilt is returned when capabilities are registered after Build.
var ErrBuilt = errors.New("plugin registry already built")

// Manager collects decorators and value resolvers, orchestrates the lifecycle
// of configurable plugins and builds the invoker serving them.
type Manager struct {
	mu          sync.RWMutex
	registry    map[string]*instance
	order       []string
	kinds       map[string]Kind
	decorators  []capability.Declaration[invoke.Decorator]
	resolvers   []capability.Declaration[invoke.ValueResolver]
	loader      Loader
	factories   map[string]Factory
	isolation   IsolationStrategy
	resources   map[string]any
	defaults    IsolationPolicy
	builtins    bool
	invokerOpts []invoke.Option
	logger      *slog.Logger
	invoker     *invoke.Invoker
}

type instance struct {
	mu     sync.Mutex
	Plugin Plugin
	Info   Info
	State  State
	Config map[string]any
	Policy IsolationPolicy
	Source string
}

// NewManager constructs a manager using the supplied configuration and options.
// Enabled configuration entries are registered in ManagerConfig.EnabledIDs order.
func NewManager(cfg ManagerConfig, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := &Manager{
		registry:  make(map[string]*instance),
		kinds:     make(map[string]Kind),
		loader:    GoPluginLoader{},
		factories: make(map[string]Factory),
		isolation: NewIsolationStrategy(nil),
		resources: make(map[string]any),
		defaults:  cfg.Defaults,
		builtins:  true,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = logger.Named("plugin")
	}
	m.isolation = NewIsolationStrategy(m.isolation)
	if m.builtins {
		for _, decl := range invoke.Builtins() {
			if err := m.RegisterResolver(decl.ID, decl.Capability, decl.Tags...); err != nil {
				return nil, err
			}
		}
	}
	if err := m.loadConfigured(cfg); err != nil {
		return nil, err
	}
	return m, nil
}

// RegisterDecorator registers a plain decorator without lifecycle.
func (m *Manager) RegisterDecorator(id string, d invoke.Decorator, tags ...capability.Tag) error {
	if d == nil {
		return errors.New("decorator cannot be nil")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.declareLocked(id, KindDecorator, d, tags)
}

// RegisterResolver registers a plain value resolver without lifecycle.
func (m *Manager) RegisterResolver(id string, r invoke.ValueResolver, tags ...capability.Tag) error {
	if r == nil {
		return errors.New("resolver cannot be nil")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.declareLocked(id, KindResolver, r, tags)
}

// Register registers a plugin instance directly with the manager.
func (m *Manager) Register(id string, p Plugin, cfg map[string]any, policy IsolationPolicy, tags ...capability.Tag) error {
	return m.register(id, p, "", "manual", cfg, policy, tags)
}

// Load loads a plugin implementation from disk and registers it with the manager.
func (m *Manager) Load(id string, path string, cfg map[string]any, policy IsolationPolicy, tags ...capability.Tag) error {
	if path == "" {
		return errors.New("plugin path cannot be empty")
	}
	p, err := m.loader.Load(path)
	if err != nil {
		return fmt.Errorf("load plugin from %s: %w", path, err)
	}
	return m.register(id, p, "", path, cfg, policy, tags)
}

func (m *Manager) register(id string, p Plugin, kind Kind, source string, cfg map[string]any, policy IsolationPolicy, tags []capability.Tag) error {
	if id == "" {
		return errors.New("plugin id cannot be empty")
	}
	if p == nil {
		return errors.New("plugin implementation cannot be nil")
	}
	info := p.Info()
	if info.ID != "" && info.ID != id {
		return fmt.Errorf("plugin id mismatch: %s != %s", info.ID, id)
	}
	switch {
	case kind == "":
		kind = info.Kind
	case info.Kind != "" && info.Kind != kind:
		return fmt.Errorf("plugin %s is a %s, configured as %s", id, info.Kind, kind)
	}
	policy = MergePolicies(m.defaults, &policy)
	if err := EnsurePolicy(info, policy); err != nil {
		return err
	}
	if err := m.isolation.Validate(info, policy); err != nil {
		return err
	}
	if cfg == nil {
		cfg = map[string]any{}
	}
	if err := p.Configure(cfg); err != nil {
		return fmt.Errorf("configure plugin %s: %w", id, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.declareLocked(id, kind, p, tags); err != nil {
		return err
	}
	info = mergeInfo(info, id)
	info.Kind = m.kinds[id]
	m.registry[id] = &instance{Plugin: p, Info: info, State: StateRegistered, Config: cfg, Policy: policy, Source: source}
	m.order = append(m.order, id)
	m.logger.Debug("plugin registered", slog.String("id", id), slog.String("kind", string(info.Kind)), slog.String("source", source))
	return nil
}

// declareLocked adds c to the capability domain named by kind, inferring the
// kind from the implemented interfaces when it is empty.
func (m *Manager) declareLocked(id string, kind Kind, c any, tags []capability.Tag) error {
	if id == "" {
		return errors.New("capability id cannot be empty")
	}
	if m.invoker != nil {
		return fmt.Errorf("register %s: %w", id, ErrBuilt)
	}
	if _, exists := m.kinds[id]; exists {
		return fmt.Errorf("plugin %s already registered", id)
	}
	decorator, isDecorator := c.(invoke.Decorator)
	resolver, isResolver := c.(invoke.ValueResolver)
	if kind == "" {
		switch {
		case isDecorator && isResolver:
			return fmt.Errorf("plugin %s implements both decorator and resolver, set its kind", id)
		case isDecorator:
			kind = KindDecorator
		case isResolver:
			kind = KindResolver
		}
	}
	switch kind {
	case KindDecorator:
		if !isDecorator {
			return fmt.Errorf("plugin %s does not implement invoke.Decorator", id)
		}
		m.decorators = append(m.decorators, capability.Declare(id, decorator, tags...))
	case KindResolver:
		if !isResolver {
			return fmt.Errorf("plugin %s does not implement invoke.ValueResolver", id)
		}
		m.resolvers = append(m.resolvers, capability.Declare(id, resolver, tags...))
	default:
		return fmt.Errorf("plugin %s is neither a decorator nor a value resolver", id)
	}
	m.kinds[id] = kind
	return nil
}

// Build indexes every registered capability and returns the invoker. The
// first call freezes the registry; later calls return the same invoker.
func (m *Manager) Build() *invoke.Invoker {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.invoker != nil {
		return m.invoker
	}
	m.invoker = invoke.Build(m.resolvers, m.decorators, m.invokerOpts...)
	for _, g := range summarize(m.invoker) {
		m.logger.Info("capability group built",
			slog.String("group", g.Group),
			slog.Int("decorators", len(g.Decorators)),
			slog.Int("resolvers", len(g.Resolvers)))
	}
	return m.invoker
}

// Invoker returns the built invoker, or nil before Build.
func (m *Manager) Invoker() *invoke.Invoker {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.invoker
}

// GroupSummary lists the ordered members of one group in both domains.
type GroupSummary struct {
	Group      string             `json:"group"`
	Decorators []capability.Entry `json:"decorators"`
	Resolvers  []capability.Entry `json:"resolvers"`
}

// Groups describes the built indexes, sorted by group name. It is empty
// before Build.
func (m *Manager) Groups() []GroupSummary {
	return summarize(m.Invoker())
}

func summarize(inv *invoke.Invoker) []GroupSummary {
	if inv == nil {
		return nil
	}
	decorators := inv.Decorators().Index()
	resolvers := inv.Resolvers().Index()
	names := capability.Universe(decorators.Groups(), resolvers.Groups())
	sort.Strings(names)
	out := make([]GroupSummary, 0, len(names))
	for _, name := range names {
		out = append(out, GroupSummary{
			Group:      name,
			Decorators: decorators.Bucket(name),
			Resolvers:  resolvers.Bucket(name),
		})
	}
	return out
}

// Start initialises and starts a plugin by id.
func (m *Manager) Start(ctx context.Context, id string) error {
	inst, err := m.get(id)
	if err != nil {
		return err
	}
	inst.mu.Lock()
	defer inst.mu.Unlock()
	if inst.State == StateStarted {
		return nil
	}
	execCtx := &ExecutionContext{C: ctx, Config: inst.Config, Resources: m.resources}
	if inst.State == StateRegistered {
		if err := inst.Plugin.Init(execCtx.Clone()); err != nil {
			return fmt.Errorf("initialise plugin %s: %w", id, err)
		}
		inst.State = StateInitialised
	}
	if err := m.isolation.Prepare(inst.Info); err != nil {
		return fmt.Errorf("prepare isolation for %s: %w", id, err)
	}
	if err := inst.Plugin.Start(execCtx.Clone()); err != nil {
		_ = m.isolation.Cleanup(inst.Info)
		return fmt.Errorf("start plugin %s: %w", id, err)
	}
	inst.State = StateStarted
	return nil
}

// Stop halts a plugin if it is running.
func (m *Manager) Stop(ctx context.Context, id string) error {
	inst, err := m.get(id)
	if err != nil {
		return err
	}
	inst.mu.Lock()
	defer inst.mu.Unlock()
	if inst.State != StateStarted {
		return nil
	}
	execCtx := &ExecutionContext{C: ctx, Config: inst.Config, Resources: m.resources}
	if err := inst.Plugin.Stop(execCtx.Clone()); err != nil {
		return fmt.Errorf("stop plugin %s: %w", id, err)
	}
	if err := m.isolation.Cleanup(inst.Info); err != nil {
		return fmt.Errorf("cleanup isolation for %s: %w", id, err)
	}
	inst.State = StateStopped
	return nil
}

// StartAll starts all registered plugins in registration order.
func (m *Manager) StartAll(ctx context.Context) error {
	for _, id := range m.ids() {
		if err := m.Start(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// StopAll stops all active plugins in reverse registration order. It keeps
// going after a failure and returns every error.
func (m *Manager) StopAll(ctx context.Context) error {
	ids := m.ids()
	var errs error
	for i := len(ids) - 1; i >= 0; i-- {
		if err := m.Stop(ctx, ids[i]); err != nil {
			m.logger.Warn("plugin stop failed", slog.String("id", ids[i]), slog.Any("error", err))
			errs = errors.Join(errs, err)
		}
	}
	return errs
}

// State returns the lifecycle state of a plugin.
func (m *Manager) State(id string) (State, error) {
	inst, err := m.get(id)
	if err != nil {
		return "", err
	}
	inst.mu.Lock()
	defer inst.mu.Unlock()
	return inst.State, nil
}

// Plugins returns the metadata of the lifecycle plugins in registration order.
func (m *Manager) Plugins() []Info {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Info, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.registry[id].Info)
	}
	return out
}

func (m *Manager) ids() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.order...)
}

func (m *Manager) get(id string) (*instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inst, ok := m.registry[id]
	if !ok {
		return nil, fmt.Errorf("plugin %s not registered", id)
	}
	return inst, nil
}

func (m *Manager) loadConfigured(cfg ManagerConfig) error {
	factories := FactoryLoader(m.factories)
	for _, id := range cfg.EnabledIDs() {
		pluginCfg := cfg.Plugins[id]
		policy := MergePolicies(cfg.Defaults, pluginCfg.Policy)

		var (
			p      Plugin
			source string
			err    error
		)
		if pluginCfg.Factory != "" {
			source = "factory:" + pluginCfg.Factory
			p, err = factories.Load(pluginCfg.Factory)
		} else {
			source = pluginCfg.Path
			if !filepath.IsAbs(source) && cfg.PluginDir != "" {
				source = filepath.Join(cfg.PluginDir, source)
			}
			p, err = m.loader.Load(source)
		}
		if err != nil {
			return fmt.Errorf("load plugin %s: %w", id, err)
		}
		if err := m.register(id, p, pluginCfg.Kind, source, maps.Clone(pluginCfg.Config), policy, pluginCfg.Tags); err != nil {
			return err
		}
	}
	return nil
}

func mergeInfo(info Info, id string) Info {
	if info.ID == "" {
		info.ID = id
	}
	return info
}
