// Package catalog keeps the named functions the daemon can invoke.
package catalog

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"Invoke-Chain/pkg/invoke"
)

// Catalog is a concurrency safe registry of described functions.
type Catalog struct {
	mu        sync.RWMutex
	functions map[string]*invoke.Function
}

// New returns an empty catalog.
func New() *Catalog {
	return &Catalog{functions: make(map[string]*invoke.Function)}
}

// Register adds fn under its name. Names are unique.
func (c *Catalog) Register(fn *invoke.Function) error {
	if fn == nil {
		return fmt.Errorf("register function: nil")
	}
	name := strings.TrimSpace(fn.Name)
	if name == "" {
		return fmt.Errorf("register function: empty name")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.functions[name]; exists {
		return fmt.Errorf("function %s already registered", name)
	}
	c.functions[name] = fn
	return nil
}

// RegisterFunc describes fn and registers it.
func (c *Catalog) RegisterFunc(name string, fn any, params ...invoke.Param) error {
	f, err := invoke.Describe(name, fn, params...)
	if err != nil {
		return err
	}
	return c.Register(f)
}

// MustRegister is like RegisterFunc but panics on error. It is meant for
// package initialisation.
func (c *Catalog) MustRegister(name string, fn any, params ...invoke.Param) {
	if err := c.RegisterFunc(name, fn, params...); err != nil {
		panic(err)
	}
}

// Lookup returns the function registered under name.
func (c *Catalog) Lookup(name string) (*invoke.Function, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	fn, ok := c.functions[name]
	return fn, ok
}

// Names returns the registered names in ascending order.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.functions))
	for name := range c.functions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Description summarises a function for listings.
type Description struct {
	Name   string   `json:"name"`
	Params []string `json:"params"`
}

// Describe returns the description of every registered function, by name.
func (c *Catalog) Describe() []Description {
	names := c.Names()
	out := make([]Description, 0, len(names))
	for _, name := range names {
		fn, ok := c.Lookup(name)
		if !ok {
			continue
		}
		out = append(out, Description{Name: name, Params: fn.ParamNames()})
	}
	return out
}
