package plugin

import (
	"errors"
	"fmt"
	goplugin "plugin"
)

// Loader resolves plugin binaries into Plugin implementations.
type Loader interface {
	Load(path string) (Plugin, error)
}

// SymbolName is the exported symbol looked up in shared objects.
const SymbolName = "Plugin"

// GoPluginLoader uses the Go standard library plugin mechanism to dynamically load modules.
type GoPluginLoader struct{}

// Load opens the shared object and searches for a `Plugin` symbol implementing the Plugin interface.
func (GoPluginLoader) Load(path string) (Plugin, error) {
	if path == "" {
		return nil, errors.New("plugin path cannot be empty")
	}
	so, err := goplugin.Open(path)
	if err != nil {
		return nil, err
	}
	symbol, err := so.Lookup(SymbolName)
	if err != nil {
		return nil, err
	}
	return pluginFromSymbol(symbol)
}

func pluginFromSymbol(symbol any) (Plugin, error) {
	switch p := symbol.(type) {
	case Plugin:
		return p, nil
	case *Plugin:
		if p == nil || *p == nil {
			return nil, errors.New("plugin symbol is nil")
		}
		return *p, nil
	case func() Plugin:
		return p(), nil
	case *func() Plugin:
		if p == nil || *p == nil {
			return nil, errors.New("plugin symbol is nil")
		}
		return (*p)(), nil
	default:
		return nil, fmt.Errorf("plugin symbol %T must implement plugin.Plugin", symbol)
	}
}

// Factory creates a fresh plugin instance for a configuration entry.
type Factory func() Plugin

// FactoryLoader resolves names against registered factories. It lets
// configuration entries use built-in plugins the same way as shared objects.
type FactoryLoader map[string]Factory

// Load implements Loader, treating path as a factory name.
func (f FactoryLoader) Load(name string) (Plugin, error) {
	factory, ok := f[name]
	if !ok {
		return nil, fmt.Errorf("plugin factory %q not registered", name)
	}
	p := factory()
	if p == nil {
		return nil, fmt.Errorf("plugin factory %q returned nil", name)
	}
	return p, nil
}
