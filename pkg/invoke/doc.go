// Package invoke calls Go functions with arguments supplied by pluggable value
// resolvers and behaviour added by pluggable decorators.
//
// Both kinds of plugins live in capability indexes. An invocation activates an
// ordered list of groups; the ResolverChain asks the resolvers of those groups
// for each parameter value and the DecoratorChain wraps the call with every
// supporting decorator.
//
//	inv := invoke.Build(invoke.Builtins(), nil)
//	fn := invoke.MustDescribe("greet", func(name string) string { return "hi " + name }, invoke.Arg("name"))
//	out, err := inv.Invoke(ctx, fn, invoke.WithValue("name", "ada"))
package invoke
