package plugin

// Kind tells which capability domain a plugin contributes to.
type Kind string

const (
	// KindDecorator plugins wrap invocations and implement invoke.Decorator.
	KindDecorator Kind = "decorator"
	// KindResolver plugins supply parameter values and implement invoke.ValueResolver.
	KindResolver Kind = "resolver"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindDecorator || k == KindResolver
}

// Permission expresses host resources a plugin may request access to.
type Permission string

const (
	PermissionFilesystem Permission = "filesystem"
	PermissionNetwork    Permission = "network"
	PermissionStorage    Permission = "storage"
	PermissionMessaging  Permission = "messaging"
)

// Info contains descriptive metadata for a plugin implementation.
type Info struct {
	ID          string
	Name        string
	Description string
	Version     string
	Kind        Kind
	Permissions []Permission
}

// State represents the lifecycle position of a plugin instance.
type State string

const (
	StateRegistered  State = "registered"
	StateInitialised State = "initialised"
	StateStarted     State = "started"
	StateStopped     State = "stopped"
)
