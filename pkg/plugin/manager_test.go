package plugin

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"Invoke-Chain/pkg/capability"
	"Invoke-Chain/pkg/invoke"
)

type stubPlugin struct {
	NopLifecycle
	info    Info
	events  *[]string
	startFn func() error
	stopErr error
}

func (s *stubPlugin) Info() Info { return s.info }

func (s *stubPlugin) Start(*ExecutionContext) error {
	*s.events = append(*s.events, "start:"+s.info.ID)
	if s.startFn != nil {
		return s.startFn()
	}
	return nil
}

func (s *stubPlugin) Stop(*ExecutionContext) error {
	*s.events = append(*s.events, "stop:"+s.info.ID)
	return s.stopErr
}

func (s *stubPlugin) Supports(*invoke.Metadata) bool { return true }

func (s *stubPlugin) Decorate(next invoke.Action, _ *invoke.Metadata) invoke.Action {
	return func(ctx context.Context, args []any) (any, error) {
		*s.events = append(*s.events, "call:"+s.info.ID)
		return next(ctx, args)
	}
}

type fixedResolver struct {
	NopLifecycle
	value any
}

func (f *fixedResolver) Info() Info { return Info{Name: "fixed", Kind: KindResolver} }

func (f *fixedResolver) Supports(invoke.Param, *invoke.Metadata) bool { return true }

func (f *fixedResolver) Resolve(context.Context, invoke.Param, *invoke.Metadata) (invoke.Result, error) {
	return invoke.Resolved(f.value), nil
}

func newTestManager(t *testing.T, cfg ManagerConfig, opts ...Option) *Manager {
	t.Helper()
	m, err := NewManager(cfg, opts...)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m
}

func TestManagerBuildRunsPlugins(t *testing.T) {
	var events []string
	m := newTestManager(t, ManagerConfig{})
	p := &stubPlugin{info: Info{ID: "trace", Kind: KindDecorator}, events: &events}
	if err := m.Register("trace", p, nil, IsolationPolicy{}, capability.In("traced")); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := m.RegisterResolver("answer", &fixedResolver{value: 42}, capability.Tag{Groups: []string{"traced"}, Priority: 500}); err != nil {
		t.Fatalf("register resolver: %v", err)
	}

	inv := m.Build()
	fn := invoke.MustDescribe("id", func(n int) int { return n }, invoke.Arg("n"))

	out, err := inv.Invoke(context.Background(), fn, invoke.WithGroups("traced"), invoke.WithValue("n", 1))
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if out != 42 {
		t.Fatalf("expected grouped resolver to win, got %v", out)
	}
	if !slices.Equal(events, []string{"call:trace"}) {
		t.Fatalf("unexpected events: %v", events)
	}

	out, err = inv.Invoke(context.Background(), fn, invoke.WithValue("n", 1))
	if err != nil || out != 1 {
		t.Fatalf("default group must use builtins only, got %v, %v", out, err)
	}
}

func TestManagerRejectsRegistrationAfterBuild(t *testing.T) {
	m := newTestManager(t, ManagerConfig{})
	first := m.Build()
	if m.Build() != first {
		t.Fatalf("Build must return the same invoker")
	}
	err := m.RegisterResolver("late", &fixedResolver{})
	if !errors.Is(err, ErrBuilt) {
		t.Fatalf("expected ErrBuilt, got %v", err)
	}
}

func TestManagerRejectsDuplicateIDs(t *testing.T) {
	m := newTestManager(t, ManagerConfig{})
	if err := m.RegisterResolver("r", &fixedResolver{}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := m.RegisterDecorator("r", invoke.DecoratorFunc(func(next invoke.Action, _ *invoke.Metadata) invoke.Action { return next })); err == nil {
		t.Fatalf("expected duplicate id error across domains")
	}
	if err := m.RegisterResolver("invoke.named_value", &fixedResolver{}); err == nil {
		t.Fatalf("builtin ids must be reserved")
	}
}

func TestManagerKindMismatch(t *testing.T) {
	m := newTestManager(t, ManagerConfig{})
	err := m.register("fixed", &fixedResolver{}, KindDecorator, "test", nil, IsolationPolicy{}, nil)
	if err == nil {
		t.Fatalf("expected kind mismatch error")
	}
}

func TestManagerWithoutBuiltins(t *testing.T) {
	m := newTestManager(t, ManagerConfig{}, WithoutBuiltins())
	inv := m.Build()
	fn := invoke.MustDescribe("f", func(s string) string { return s }, invoke.Arg("s"))
	if _, err := inv.Invoke(context.Background(), fn, invoke.WithValue("s", "x")); !errors.Is(err, invoke.ErrParameterNotSupported) {
		t.Fatalf("expected no resolver without builtins, got %v", err)
	}
}

func TestManagerLifecycleOrder(t *testing.T) {
	var events []string
	m := newTestManager(t, ManagerConfig{})
	for _, id := range []string{"a", "b", "c"} {
		p := &stubPlugin{info: Info{ID: id, Kind: KindDecorator}, events: &events}
		if err := m.Register(id, p, nil, IsolationPolicy{}); err != nil {
			t.Fatalf("register %s: %v", id, err)
		}
	}

	ctx := context.Background()
	if err := m.StartAll(ctx); err != nil {
		t.Fatalf("start all: %v", err)
	}
	if state, _ := m.State("b"); state != StateStarted {
		t.Fatalf("unexpected state: %s", state)
	}
	if err := m.StopAll(ctx); err != nil {
		t.Fatalf("stop all: %v", err)
	}
	want := []string{"start:a", "start:b", "start:c", "stop:c", "stop:b", "stop:a"}
	if !slices.Equal(events, want) {
		t.Fatalf("unexpected events: %v", events)
	}
}

func TestManagerStartFailureCleansUp(t *testing.T) {
	var events []string
	m := newTestManager(t, ManagerConfig{})
	p := &stubPlugin{info: Info{ID: "bad", Kind: KindDecorator}, events: &events, startFn: func() error { return errors.New("no") }}
	if err := m.Register("bad", p, nil, IsolationPolicy{}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := m.Start(context.Background(), "bad"); err == nil {
		t.Fatalf("expected start error")
	}
	if state, _ := m.State("bad"); state != StateInitialised {
		t.Fatalf("expected initialised state after failed start, got %s", state)
	}
}

func TestManagerEnforcesPolicy(t *testing.T) {
	var events []string
	m := newTestManager(t, ManagerConfig{Defaults: IsolationPolicy{DeniedPermissions: []Permission{PermissionFilesystem}}})

	fs := &stubPlugin{info: Info{ID: "fs", Kind: KindDecorator, Permissions: []Permission{PermissionFilesystem}}, events: &events}
	if err := m.Register("fs", fs, nil, IsolationPolicy{}); err == nil {
		t.Fatalf("expected denied permission error")
	}

	net := &stubPlugin{info: Info{ID: "net", Kind: KindDecorator, Permissions: []Permission{PermissionNetwork}}, events: &events}
	if err := m.Register("net", net, nil, IsolationPolicy{}); err != nil {
		t.Fatalf("network should pass a deny-only policy: %v", err)
	}
}

func TestManagerConfiguredFactories(t *testing.T) {
	cfg := ManagerConfig{Plugins: map[string]PluginConfig{
		"answer": {Enabled: true, Factory: "fixed", Tags: []capability.Tag{{Groups: []string{"api"}, Priority: 10}}},
		"off":    {Enabled: false, Factory: "missing"},
	}}
	m := newTestManager(t, cfg, WithFactory("fixed", func() Plugin { return &fixedResolver{value: "configured"} }))

	groups := m.Build()
	fn := invoke.MustDescribe("f", func(s string) string { return s }, invoke.Arg("s"))
	out, err := groups.Invoke(context.Background(), fn, invoke.WithGroups("api"))
	if err != nil || out != "configured" {
		t.Fatalf("unexpected result: %v, %v", out, err)
	}

	var summary *GroupSummary
	for _, g := range m.Groups() {
		if g.Group == "api" {
			summary = &g
		}
	}
	if summary == nil {
		t.Fatalf("api group missing from summary")
	}
	ids := make([]string, 0, len(summary.Resolvers))
	for _, e := range summary.Resolvers {
		ids = append(ids, e.ID)
	}
	if !slices.Equal(ids, []string{"invoke.context", "invoke.metadata", "answer", "invoke.named_value", "invoke.default_value", "invoke.nullable"}) {
		t.Fatalf("unexpected api resolvers: %v", ids)
	}
	if infos := m.Plugins(); len(infos) != 1 || infos[0].ID != "answer" {
		t.Fatalf("unexpected plugins: %+v", infos)
	}
}

func TestManagerUnknownFactory(t *testing.T) {
	cfg := ManagerConfig{Plugins: map[string]PluginConfig{"x": {Enabled: true, Factory: "nope"}}}
	if _, err := NewManager(cfg); err == nil {
		t.Fatalf("expected unknown factory error")
	}
}

type fakeLoader struct {
	paths []string
}

func (f *fakeLoader) Load(path string) (Plugin, error) {
	f.paths = append(f.paths, path)
	return &fixedResolver{value: path}, nil
}

func TestManagerConfiguredPathsUsePluginDir(t *testing.T) {
	loader := &fakeLoader{}
	cfg := ManagerConfig{
		PluginDir: "/opt/plugins",
		Plugins: map[string]PluginConfig{
			"b": {Enabled: true, Path: "b.so"},
			"a": {Enabled: true, Path: "/abs/a.so", Order: 1},
		},
	}
	newTestManager(t, cfg, WithLoader(loader))
	want := []string{filepath.Join("/opt/plugins", "b.so"), "/abs/a.so"}
	if !slices.Equal(loader.paths, want) {
		t.Fatalf("unexpected load order: %v", loader.paths)
	}
}

func TestLoadManagerConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plugins.yaml")
	raw := `
pluginDir: ./plugins
defaults:
  deniedPermissions: [filesystem]
plugins:
  cache:
    enabled: true
    kind: decorator
    factory: cache
    config:
      ttl: 30s
    tags:
      - groups: [api, web]
        priority: 5
      - priority: 50
`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := LoadManagerConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	cache := cfg.Plugins["cache"]
	if cache.Kind != KindDecorator || cache.Factory != "cache" || cache.Config["ttl"] != "30s" {
		t.Fatalf("unexpected plugin config: %+v", cache)
	}
	if len(cache.Tags) != 2 || !slices.Equal(cache.Tags[0].Groups, []string{"api", "web"}) || cache.Tags[1].Priority != 50 {
		t.Fatalf("unexpected tags: %+v", cache.Tags)
	}
	if !slices.Equal(cfg.Defaults.DeniedPermissions, []Permission{PermissionFilesystem}) {
		t.Fatalf("unexpected defaults: %+v", cfg.Defaults)
	}
}

func TestManagerConfigValidate(t *testing.T) {
	cases := map[string]PluginConfig{
		"no source":    {Enabled: true},
		"both sources": {Enabled: true, Factory: "f", Path: "p.so"},
		"bad kind":     {Enabled: true, Factory: "f", Kind: "handler"},
	}
	for name, pc := range cases {
		cfg := ManagerConfig{Plugins: map[string]PluginConfig{"x": pc}}
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
	disabled := ManagerConfig{Plugins: map[string]PluginConfig{"x": {}}}
	if err := disabled.Validate(); err != nil {
		t.Fatalf("disabled entries are not validated: %v", err)
	}
}

func TestPluginFromSymbol(t *testing.T) {
	var p Plugin = &fixedResolver{}
	ctor := func() Plugin { return &fixedResolver{} }
	for _, symbol := range []any{p, &p, ctor, &ctor} {
		if got, err := pluginFromSymbol(symbol); err != nil || got == nil {
			t.Fatalf("symbol %T: %v", symbol, err)
		}
	}
	if _, err := pluginFromSymbol(42); err == nil {
		t.Fatalf("expected error for unsupported symbol")
	}
}

func TestIsolationAllowList(t *testing.T) {
	info := Info{Permissions: []Permission{PermissionNetwork, PermissionStorage}}
	policy := IsolationPolicy{AllowedPermissions: []Permission{PermissionNetwork}}
	if err := (NoopIsolationStrategy{}).Validate(info, policy); err == nil {
		t.Fatalf("storage should not be permitted")
	}
	policy.AllowedPermissions = append(policy.AllowedPermissions, PermissionStorage)
	if err := (NoopIsolationStrategy{}).Validate(info, policy); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := EnsurePolicy(info, IsolationPolicy{}); err == nil {
		t.Fatalf("permissions without policy must fail")
	}
}

func TestDecodeConfig(t *testing.T) {
	var out struct {
		TTL       time.Duration `yaml:"ttl"`
		Functions []string      `yaml:"functions"`
	}
	err := DecodeConfig(map[string]any{"ttl": "90s", "functions": []any{"sum"}}, &out)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.TTL != 90*time.Second || len(out.Functions) != 1 || out.Functions[0] != "sum" {
		t.Fatalf("unexpected config: %+v", out)
	}
	if err := DecodeConfig(map[string]any{"unknown": true}, &out); err == nil {
		t.Fatalf("expected unknown field error")
	}
	if err := DecodeConfig(nil, &out); err != nil {
		t.Fatalf("empty config: %v", err)
	}
}
