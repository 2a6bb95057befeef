package migration

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Hook is a step of a migration unit. It receives the context of the run it
// belongs to.
type Hook func(ctx context.Context, mc *Context) error

// Unit is one table's migration at one version. Up is mandatory; the hooks
// are optional.
type Unit struct {
	Name    string
	Table   string
	Version string

	Up Hook
	// AfterUp runs after Up on every run.
	AfterUp Hook
	// AfterCreateTable runs when MorphTable had to create the table.
	AfterCreateTable Hook
}

// Registry maps unit identities to units.
type Registry struct {
	mu    sync.RWMutex
	units map[string]*Unit
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{units: make(map[string]*Unit)}
}

// Register adds u. An empty Name is derived from Table and Version.
func (r *Registry) Register(u *Unit) error {
	if u == nil || u.Up == nil {
		return errors.New("migration unit must have an up step")
	}
	if u.Name == "" {
		if u.Table == "" {
			return errors.New("migration unit needs a name or a table")
		}
		u.Name = UnitName(u.Table, u.Version)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.units[u.Name]; dup {
		return fmt.Errorf("migration unit %s already registered", u.Name)
	}
	r.units[u.Name] = u
	return nil
}

// Lookup returns the unit migrating table at version.
func (r *Registry) Lookup(table, version string) (*Unit, bool) {
	return r.LookupName(UnitName(table, version))
}

// LookupName returns the unit with the given identity.
func (r *Registry) LookupName(name string) (*Unit, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.units[name]
	return u, ok
}

// Units returns the registered units sorted by name.
func (r *Registry) Units() []*Unit {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Unit, 0, len(r.units))
	for _, u := range r.units {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// DefaultRegistry collects units registered from generated Go sources.
var DefaultRegistry = NewRegistry()

// Register adds u to DefaultRegistry.
func Register(u *Unit) error {
	return DefaultRegistry.Register(u)
}

// MustRegister is like Register but panics on error. Generated sources call
// it from init.
func MustRegister(u *Unit) {
	if err := Register(u); err != nil {
		panic(err)
	}
}
