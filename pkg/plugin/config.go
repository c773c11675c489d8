package plugin

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"Invoke-Chain/pkg/capability"
)

// ManagerConfig describes how the plugin manager should behave.
type ManagerConfig struct {
	PluginDir string                  `yaml:"pluginDir"`
	Defaults  IsolationPolicy         `yaml:"defaults"`
	Plugins   map[string]PluginConfig `yaml:"plugins"`
}

// PluginConfig is the configuration block for a single plugin instance. A
// plugin comes either from a registered Factory or from a shared object at
// Path.
type PluginConfig struct {
	Enabled bool             `yaml:"enabled"`
	Kind    Kind             `yaml:"kind"`
	Factory string           `yaml:"factory"`
	Path    string           `yaml:"path"`
	Order   int              `yaml:"order"`
	Config  map[string]any   `yaml:"config"`
	Policy  *IsolationPolicy `yaml:"policy"`
	Tags    []capability.Tag `yaml:"tags"`
}

// IsolationPolicy governs the security restrictions enforced for a plugin.
type IsolationPolicy struct {
	AllowedPermissions []Permission `yaml:"allowedPermissions"`
	DeniedPermissions  []Permission `yaml:"deniedPermissions"`
}

// Merge returns a new policy using values from other when not present.
func (p IsolationPolicy) Merge(other IsolationPolicy) IsolationPolicy {
	if len(p.AllowedPermissions) == 0 {
		p.AllowedPermissions = other.AllowedPermissions
	}
	if len(p.DeniedPermissions) == 0 {
		p.DeniedPermissions = other.DeniedPermissions
	}
	return p
}

// Empty reports whether the policy neither allows nor denies anything.
func (p IsolationPolicy) Empty() bool {
	return len(p.AllowedPermissions) == 0 && len(p.DeniedPermissions) == 0
}

// LoadManagerConfig reads a YAML file into a ManagerConfig.
func LoadManagerConfig(path string) (ManagerConfig, error) {
	var cfg ManagerConfig
	if path == "" {
		return cfg, errors.New("config path cannot be empty")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read plugin config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("unmarshal plugin config: %w", err)
	}
	if cfg.Plugins == nil {
		cfg.Plugins = map[string]PluginConfig{}
	}
	return cfg, nil
}

// Validate ensures the manager configuration is internally consistent.
func (c ManagerConfig) Validate() error {
	for id, plugin := range c.Plugins {
		if id == "" {
			return errors.New("plugin id cannot be empty")
		}
		if !plugin.Enabled {
			continue
		}
		if plugin.Kind != "" && !plugin.Kind.Valid() {
			return fmt.Errorf("plugin %s has unknown kind %q", id, plugin.Kind)
		}
		switch {
		case plugin.Factory == "" && plugin.Path == "":
			return fmt.Errorf("plugin %s needs a factory or a path when enabled", id)
		case plugin.Factory != "" && plugin.Path != "":
			return fmt.Errorf("plugin %s sets both factory and path", id)
		}
	}
	return nil
}

// EnabledIDs returns the ids of enabled plugins in registration order: by
// Order, then by id.
func (c ManagerConfig) EnabledIDs() []string {
	ids := make([]string, 0, len(c.Plugins))
	for id, plugin := range c.Plugins {
		if plugin.Enabled {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		oi, oj := c.Plugins[ids[i]].Order, c.Plugins[ids[j]].Order
		if oi != oj {
			return oi < oj
		}
		return ids[i] < ids[j]
	})
	return ids
}
