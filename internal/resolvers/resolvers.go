package resolvers

import (
	"slices"

	"Invoke-Chain/pkg/invoke"
	"Invoke-Chain/pkg/plugin"
)

// filter restricts a resolver to an allow-list of function names.
type filter struct {
	Functions []string `yaml:"functions"`
}

func (f filter) admits(md *invoke.Metadata) bool {
	return len(f.Functions) == 0 || slices.Contains(f.Functions, md.FunctionName())
}

func info(name, description string, perms ...plugin.Permission) plugin.Info {
	return plugin.Info{
		Name:        name,
		Description: description,
		Version:     "1.0.0",
		Kind:        plugin.KindResolver,
		Permissions: perms,
	}
}

// Factories returns the built-in resolvers by factory name.
func Factories() map[string]plugin.Factory {
	return map[string]plugin.Factory{
		"invocation": func() plugin.Plugin { return NewInvocation() },
		"chain":      func() plugin.Plugin { return NewChain() },
		"redis":      func() plugin.Plugin { return NewRedis(nil) },
	}
}
