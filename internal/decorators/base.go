package decorators

import (
	"slices"

	"Invoke-Chain/pkg/invoke"
	"Invoke-Chain/pkg/plugin"
)

// filter restricts a decorator to an allow-list of function names. An empty
// list admits every function.
type filter struct {
	Functions []string `yaml:"functions"`
}

func (f filter) Supports(md *invoke.Metadata) bool {
	return len(f.Functions) == 0 || slices.Contains(f.Functions, md.FunctionName())
}

// base carries what every built-in decorator shares.
type base struct {
	plugin.NopLifecycle
	filter
}

func info(id, description string, perms ...plugin.Permission) plugin.Info {
	return plugin.Info{
		Name:        id,
		Description: description,
		Version:     "1.0.0",
		Kind:        plugin.KindDecorator,
		Permissions: perms,
	}
}

// Factories returns the built-in decorators by factory name.
func Factories() map[string]plugin.Factory {
	return map[string]plugin.Factory{
		"logging": func() plugin.Plugin { return NewLogging(nil) },
		"audit":   func() plugin.Plugin { return NewAudit(nil) },
		"cache":   func() plugin.Plugin { return NewCache(nil, 0) },
		"events":  func() plugin.Plugin { return NewEvents(nil) },
		"metrics": func() plugin.Plugin { return NewMetrics(nil) },
		"timeout": func() plugin.Plugin { return NewTimeout(0) },
		"recover": func() plugin.Plugin { return NewRecover() },
	}
}

func status(err error) string {
	if err != nil {
		return "failed"
	}
	return "succeeded"
}
