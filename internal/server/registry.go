package server

import (
	"sync"

	"github.com/demon-systems/demon/internal/ritual"
)

// StaticRegistry is an in-memory RitualRegistry, loaded once at startup.
// The spec places no general workflow DSL or definition-storage contract in
// scope, so the registry is deliberately the simplest thing that works: a
// name-keyed map, safe for concurrent reads once populated.
type StaticRegistry struct {
	mu    sync.RWMutex
	defns map[string]ritual.Definition
}

// NewStaticRegistry builds a registry from an initial set of definitions.
func NewStaticRegistry(defs ...ritual.Definition) *StaticRegistry {
	r := &StaticRegistry{defns: make(map[string]ritual.Definition, len(defs))}
	for _, d := range defs {
		r.defns[d.RitualID] = d
	}
	return r
}

// Get implements RitualRegistry.
func (r *StaticRegistry) Get(ritualID string) (ritual.Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.defns[ritualID]
	return d, ok
}

// Put registers or replaces a definition.
func (r *StaticRegistry) Put(d ritual.Definition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defns[d.RitualID] = d
}
