package invoke

import (
	"context"
	"errors"
	"reflect"
	"slices"
	"testing"

	"Invoke-Chain/pkg/capability"
)

type stubResolver struct {
	supports bool
	result   Result
	err      error
	calls    int
}

func (s *stubResolver) Supports(Param, *Metadata) bool { return s.supports }

func (s *stubResolver) Resolve(context.Context, Param, *Metadata) (Result, error) {
	s.calls++
	return s.result, s.err
}

type traceDecorator struct {
	name     string
	supports bool
	trace    *[]string
}

func (d *traceDecorator) Supports(*Metadata) bool { return d.supports }

func (d *traceDecorator) Decorate(next Action, _ *Metadata) Action {
	return func(ctx context.Context, args []any) (any, error) {
		*d.trace = append(*d.trace, d.name+":before")
		out, err := next(ctx, args)
		*d.trace = append(*d.trace, d.name+":after")
		return out, err
	}
}

func resolverChain(decls ...capability.Declaration[ValueResolver]) *ResolverChain {
	return NewResolverChain(capability.Build(decls))
}

func testMetadata(groups ...string) *Metadata {
	return &Metadata{
		Function: &Function{Name: "handler"},
		Groups:   groups,
		Values:   map[string]any{},
	}
}

func TestResolveSkipsUnsupportedCandidate(t *testing.T) {
	r1 := &stubResolver{supports: false, result: Resolved("never")}
	r2 := &stubResolver{supports: true, result: Resolved("X")}
	chain := resolverChain(
		capability.Declare[ValueResolver]("r1", r1),
		capability.Declare[ValueResolver]("r2", r2),
	)

	v, err := chain.ResolveValue(context.Background(), Arg("p"), testMetadata(capability.DefaultGroup))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != "X" {
		t.Fatalf("expected X, got %v", v)
	}
	if r1.calls != 0 {
		t.Fatalf("unsupported resolver was consulted")
	}
}

func TestResolveSkipAndUnsupportedAdvance(t *testing.T) {
	skip := &stubResolver{supports: true, result: Skip()}
	none := &stubResolver{supports: true, result: Unsupported()}
	last := &stubResolver{supports: true, result: Resolved(42)}
	chain := resolverChain(
		capability.Declare[ValueResolver]("skip", skip, capability.At(3)),
		capability.Declare[ValueResolver]("none", none, capability.At(2)),
		capability.Declare[ValueResolver]("last", last, capability.At(1)),
	)

	v, err := chain.ResolveValue(context.Background(), Arg("p"), testMetadata(capability.DefaultGroup))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 42 {
		t.Fatalf("expected 42, got %v", v)
	}
	if skip.calls != 1 || none.calls != 1 || last.calls != 1 {
		t.Fatalf("each candidate must be consulted once: %d %d %d", skip.calls, none.calls, last.calls)
	}
}

func TestResolveExhaustionNamesParameterAndFunction(t *testing.T) {
	chain := resolverChain(
		capability.Declare[ValueResolver]("skip", &stubResolver{supports: true, result: Skip()}),
		capability.Declare[ValueResolver]("off", &stubResolver{supports: false}),
	)

	_, err := chain.ResolveValue(context.Background(), Arg("amount"), testMetadata(capability.DefaultGroup))
	var notSupported *ParameterNotSupportedError
	if !errors.As(err, &notSupported) {
		t.Fatalf("expected ParameterNotSupportedError, got %v", err)
	}
	if notSupported.Parameter != "amount" || notSupported.Function != "handler" {
		t.Fatalf("unexpected error fields: %+v", notSupported)
	}
	if !errors.Is(err, ErrParameterNotSupported) {
		t.Fatalf("expected sentinel match")
	}
}

func TestResolveWithoutGroupsFails(t *testing.T) {
	chain := resolverChain(capability.Declare[ValueResolver]("r", &stubResolver{supports: true, result: Resolved(1)}))

	if _, err := chain.ResolveValue(context.Background(), Arg("p"), testMetadata()); !errors.Is(err, ErrParameterNotSupported) {
		t.Fatalf("expected resolution failure without active groups, got %v", err)
	}
}

func TestResolveErrorAbortsWalk(t *testing.T) {
	boom := errors.New("backend down")
	failing := &stubResolver{supports: true, err: boom}
	next := &stubResolver{supports: true, result: Resolved("late")}
	chain := resolverChain(
		capability.Declare[ValueResolver]("failing", failing, capability.At(1)),
		capability.Declare[ValueResolver]("next", next),
	)

	_, err := chain.ResolveValue(context.Background(), Arg("p"), testMetadata(capability.DefaultGroup))
	if !errors.Is(err, boom) {
		t.Fatalf("expected backend error, got %v", err)
	}
	if next.calls != 0 {
		t.Fatalf("walk continued after error")
	}
}

func TestResolverChainsNest(t *testing.T) {
	inner := resolverChain(capability.Declare[ValueResolver]("skip", &stubResolver{supports: true, result: Skip()}))
	outer := resolverChain(
		capability.Declare[ValueResolver]("inner", inner, capability.At(10)),
		capability.Declare[ValueResolver]("fallback", &stubResolver{supports: true, result: Resolved("fallback")}),
	)

	v, err := outer.ResolveValue(context.Background(), Arg("p"), testMetadata(capability.DefaultGroup))
	if err != nil || v != "fallback" {
		t.Fatalf("expected fallback, got %v, %v", v, err)
	}
}

func TestResolveFollowsPriority(t *testing.T) {
	var order []int
	record := func(p int) ValueResolver {
		return ResolverFunc(func(context.Context, Param, *Metadata) (Result, error) {
			order = append(order, p)
			return Skip(), nil
		})
	}
	chain := resolverChain(
		capability.Declare("p100", record(100), capability.At(100)),
		capability.Declare("p0", record(0), capability.At(0)),
		capability.Declare("m100", record(-100), capability.At(-100)),
	)

	_, _ = chain.ResolveValue(context.Background(), Arg("p"), testMetadata(capability.DefaultGroup))
	if !slices.Equal(order, []int{100, 0, -100}) {
		t.Fatalf("unexpected order: %v", order)
	}
}

func TestDecorateWithoutSupportReturnsSameAction(t *testing.T) {
	var trace []string
	chain := NewDecoratorChain(capability.Build([]capability.Declaration[Decorator]{
		capability.Declare[Decorator]("off", &traceDecorator{name: "off", trace: &trace}),
	}))
	action := Action(func(context.Context, []any) (any, error) { return "ok", nil })

	got := chain.Decorate(action, testMetadata(capability.DefaultGroup))
	if reflect.ValueOf(got).Pointer() != reflect.ValueOf(action).Pointer() {
		t.Fatalf("expected the identical action")
	}
	if chain.Supports(testMetadata(capability.DefaultGroup)) {
		t.Fatalf("chain reported support without supporting decorators")
	}
}

func TestDecorateLastAppliedIsOutermost(t *testing.T) {
	var trace []string
	chain := NewDecoratorChain(capability.Build([]capability.Declaration[Decorator]{
		capability.Declare[Decorator]("first", &traceDecorator{name: "first", supports: true, trace: &trace}, capability.At(10)),
		capability.Declare[Decorator]("off", &traceDecorator{name: "off", trace: &trace}, capability.At(5)),
		capability.Declare[Decorator]("second", &traceDecorator{name: "second", supports: true, trace: &trace}),
	}))
	action := chain.Decorate(func(context.Context, []any) (any, error) {
		trace = append(trace, "action")
		return nil, nil
	}, testMetadata(capability.DefaultGroup))

	if _, err := action(context.Background(), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"second:before", "first:before", "action", "first:after", "second:after"}
	if !slices.Equal(trace, want) {
		t.Fatalf("unexpected trace: %v", trace)
	}
}

func TestDecorateUsesActiveGroupsOnly(t *testing.T) {
	var trace []string
	chain := NewDecoratorChain(capability.Build([]capability.Declaration[Decorator]{
		capability.Declare[Decorator]("api", &traceDecorator{name: "api", supports: true, trace: &trace}, capability.In("api")),
		capability.Declare[Decorator]("web", &traceDecorator{name: "web", supports: true, trace: &trace}, capability.In("web")),
	}))

	action := chain.Decorate(func(context.Context, []any) (any, error) { return nil, nil }, testMetadata("api"))
	_, _ = action(context.Background(), nil)
	if !slices.Equal(trace, []string{"api:before", "api:after"}) {
		t.Fatalf("unexpected trace: %v", trace)
	}
}

func TestAroundDecorator(t *testing.T) {
	d := Around(func(md *Metadata) bool { return md.FunctionName() == "handler" },
		func(ctx context.Context, args []any, next Action, md *Metadata) (any, error) {
			out, err := next(ctx, args)
			return out.(string) + "!", err
		})
	md := testMetadata()
	if !d.Supports(md) {
		t.Fatalf("expected support for handler")
	}
	out, err := d.Decorate(func(context.Context, []any) (any, error) { return "hi", nil }, md)(context.Background(), nil)
	if err != nil || out != "hi!" {
		t.Fatalf("unexpected result: %v, %v", out, err)
	}
}
