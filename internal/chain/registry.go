package chain

import (
	"context"
	"errors"
	"fmt"
	"sort"

	xerrors "Invoke-Chain/internal/errors"
)

// Config lists the chains the daemon can query.
type Config struct {
	Default   string              `yaml:"default"`
	Endpoints map[string]Endpoint `yaml:"endpoints"`
}

// Enabled reports whether any endpoint is configured.
func (c Config) Enabled() bool { return len(c.Endpoints) > 0 }

// Registry holds one client per configured chain.
type Registry struct {
	defaultChain string
	clients      map[string]*Client
}

// Open dials every configured endpoint. The default chain is Config.Default
// or, when unset, the first name in sorted order.
func Open(ctx context.Context, cfg Config) (*Registry, error) {
	if !cfg.Enabled() {
		return nil, errors.New("no chain endpoints configured")
	}
	clients := make([]*Client, 0, len(cfg.Endpoints))
	for name, ep := range cfg.Endpoints {
		client, err := Dial(ctx, name, ep)
		if err != nil {
			for _, c := range clients {
				c.Close()
			}
			return nil, err
		}
		clients = append(clients, client)
	}
	return NewRegistry(cfg.Default, clients...)
}

// NewRegistry builds a registry over existing clients.
func NewRegistry(defaultChain string, clients ...*Client) (*Registry, error) {
	if len(clients) == 0 {
		return nil, errors.New("no chain clients")
	}
	r := &Registry{clients: make(map[string]*Client, len(clients))}
	for _, c := range clients {
		if _, dup := r.clients[c.Name()]; dup {
			return nil, fmt.Errorf("chain %s registered twice", c.Name())
		}
		r.clients[c.Name()] = c
	}
	if defaultChain == "" {
		defaultChain = r.Chains()[0]
	}
	if _, ok := r.clients[defaultChain]; !ok {
		return nil, fmt.Errorf("default chain %s is not configured", defaultChain)
	}
	r.defaultChain = defaultChain
	return r, nil
}

// Client returns the named chain, or the default chain for an empty name.
func (r *Registry) Client(name string) (*Client, error) {
	if name == "" {
		name = r.defaultChain
	}
	c, ok := r.clients[name]
	if !ok {
		return nil, xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("chain %s is not configured", name),
			xerrors.WithMetadata("chain", name))
	}
	return c, nil
}

// Chains returns the configured chain names in sorted order.
func (r *Registry) Chains() []string {
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close releases every client.
func (r *Registry) Close() {
	for _, c := range r.clients {
		c.Close()
	}
}
