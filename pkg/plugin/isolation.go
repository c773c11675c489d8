package plugin

import (
	"errors"
	"fmt"
	"slices"
)

// IsolationStrategy enforces security restrictions for plugins at runtime.
type IsolationStrategy interface {
	Validate(info Info, policy IsolationPolicy) error
	Prepare(info Info) error
	Cleanup(info Info) error
}

// NoopIsolationStrategy performs only permission validation.
type NoopIsolationStrategy struct{}

// Validate ensures the permissions requested by the plugin are allowed.
func (NoopIsolationStrategy) Validate(info Info, policy IsolationPolicy) error {
	for _, perm := range policy.DeniedPermissions {
		if slices.Contains(info.Permissions, perm) {
			return fmt.Errorf("permission %s is explicitly denied", perm)
		}
	}
	if len(policy.AllowedPermissions) == 0 {
		return nil
	}
	for _, perm := range info.Permissions {
		if !slices.Contains(policy.AllowedPermissions, perm) {
			return fmt.Errorf("permission %s not permitted", perm)
		}
	}
	return nil
}

// Prepare implements IsolationStrategy.
func (NoopIsolationStrategy) Prepare(Info) error { return nil }

// Cleanup implements IsolationStrategy.
func (NoopIsolationStrategy) Cleanup(Info) error { return nil }

// NewIsolationStrategy returns a default isolation strategy if none is supplied.
func NewIsolationStrategy(strategy IsolationStrategy) IsolationStrategy {
	if strategy == nil {
		return NoopIsolationStrategy{}
	}
	return strategy
}

// MergePolicies combines the default and plugin specific isolation policies.
func MergePolicies(defaults IsolationPolicy, plugin *IsolationPolicy) IsolationPolicy {
	if plugin == nil {
		return defaults
	}
	merged := plugin.Merge(defaults)
	if merged.Empty() {
		return defaults
	}
	return merged
}

// EnsurePolicy returns an error when the isolation policy is empty and the plugin requests permissions.
func EnsurePolicy(info Info, policy IsolationPolicy) error {
	if len(info.Permissions) == 0 {
		return nil
	}
	if policy.Empty() {
		return errors.New("plugins requesting permissions require an isolation policy")
	}
	return nil
}
