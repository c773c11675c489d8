package invoke

import (
	"context"
	"reflect"

	"Invoke-Chain/pkg/capability"
)

// Priorities of the built-in resolvers. Named values win over defaults, which
// win over nullable zero values.
const (
	PriorityContext    = 200
	PriorityMetadata   = 190
	PriorityNamedValue = -100
	PriorityDefault    = -200
	PriorityNullable   = -300
)

// NamedValueResolver supplies caller values by parameter name. A value that
// cannot be used for the parameter type is skipped.
type NamedValueResolver struct{}

func (NamedValueResolver) Supports(p Param, md *Metadata) bool {
	_, ok := md.Value(p.Name)
	return ok
}

func (NamedValueResolver) Resolve(_ context.Context, p Param, md *Metadata) (Result, error) {
	v, ok := md.Value(p.Name)
	if !ok {
		return Unsupported(), nil
	}
	if p.Type == nil {
		return Resolved(v), nil
	}
	rv, ok := coerce(v, p.Type)
	if !ok {
		return Skip(), nil
	}
	return Resolved(rv.Interface()), nil
}

// DefaultValueResolver supplies the declared default of a parameter.
type DefaultValueResolver struct{}

func (DefaultValueResolver) Supports(p Param, _ *Metadata) bool {
	return p.HasDefault
}

func (DefaultValueResolver) Resolve(_ context.Context, p Param, _ *Metadata) (Result, error) {
	return Resolved(p.Default), nil
}

// NullableResolver supplies nil for parameters declared nullable.
type NullableResolver struct{}

func (NullableResolver) Supports(p Param, _ *Metadata) bool {
	return p.Nullable
}

func (NullableResolver) Resolve(_ context.Context, p Param, _ *Metadata) (Result, error) {
	if p.Type == nil {
		return Resolved(nil), nil
	}
	return Resolved(reflect.Zero(p.Type).Interface()), nil
}

// ContextResolver supplies the invocation context to context.Context
// parameters.
type ContextResolver struct{}

func (ContextResolver) Supports(p Param, _ *Metadata) bool {
	return p.Type == contextType
}

func (ContextResolver) Resolve(ctx context.Context, _ Param, _ *Metadata) (Result, error) {
	return Resolved(ctx), nil
}

// MetadataResolver supplies the invocation metadata to *Metadata parameters.
type MetadataResolver struct{}

func (MetadataResolver) Supports(p Param, _ *Metadata) bool {
	return p.Type == metadataType
}

func (MetadataResolver) Resolve(_ context.Context, _ Param, md *Metadata) (Result, error) {
	return Resolved(md), nil
}

// Builtins returns the declarations of the built-in resolvers. They carry no
// group, so they take part in every group.
func Builtins() []capability.Declaration[ValueResolver] {
	return []capability.Declaration[ValueResolver]{
		capability.Declare[ValueResolver]("invoke.context", ContextResolver{}, capability.At(PriorityContext)),
		capability.Declare[ValueResolver]("invoke.metadata", MetadataResolver{}, capability.At(PriorityMetadata)),
		capability.Declare[ValueResolver]("invoke.named_value", NamedValueResolver{}, capability.At(PriorityNamedValue)),
		capability.Declare[ValueResolver]("invoke.default_value", DefaultValueResolver{}, capability.At(PriorityDefault)),
		capability.Declare[ValueResolver]("invoke.nullable", NullableResolver{}, capability.At(PriorityNullable)),
	}
}
