package resolvers

import (
	"context"
	"reflect"
	"slices"

	"github.com/google/uuid"

	"Invoke-Chain/pkg/invoke"
	"Invoke-Chain/pkg/plugin"
)

var uuidType = reflect.TypeFor[uuid.UUID]()

// Invocation supplies the invocation id to uuid.UUID parameters. When
// configured with names, only parameters with one of those names qualify.
type Invocation struct {
	plugin.NopLifecycle
	filter
	names []string
}

func NewInvocation() *Invocation {
	return &Invocation{}
}

func (r *Invocation) Info() plugin.Info {
	return info("invocation", "Supplies the invocation id to uuid.UUID parameters.")
}

func (r *Invocation) Configure(cfg map[string]any) error {
	var c struct {
		filter `yaml:",inline"`
		Names  []string `yaml:"names"`
	}
	if err := plugin.DecodeConfig(cfg, &c); err != nil {
		return err
	}
	r.filter, r.names = c.filter, c.Names
	return nil
}

func (r *Invocation) Supports(p invoke.Param, md *invoke.Metadata) bool {
	if p.Type != uuidType || !r.admits(md) {
		return false
	}
	if len(r.names) == 0 {
		return true
	}
	return slices.Contains(r.names, p.Name)
}

func (r *Invocation) Resolve(_ context.Context, _ invoke.Param, md *invoke.Metadata) (invoke.Result, error) {
	return invoke.Resolved(md.ID), nil
}
