package ecs

import (
	"fmt"
	"math/bits"
)

// MaxComponents is the number of component types a single world can hold.
const MaxComponents = 256

// ComponentID identifies a registered component type within one world.
type ComponentID uint8

// Bitmask is a 256-bit component signature.
type Bitmask [4]uint64

func (m *Bitmask) Set(id ComponentID)     { m[id/64] |= 1 << (id % 64) }
func (m *Bitmask) Clear(id ComponentID)   { m[id/64] &^= 1 << (id % 64) }
func (m Bitmask) Has(id ComponentID) bool { return m[id/64]&(1<<(id%64)) != 0 }
func (m Bitmask) IsZero() bool            { return m == Bitmask{} }
func (m Bitmask) ContainsAll(o Bitmask) bool {
	return m[0]&o[0] == o[0] && m[1]&o[1] == o[1] && m[2]&o[2] == o[2] && m[3]&o[3] == o[3]
}
func (m Bitmask) ContainsAny(o Bitmask) bool {
	return m[0]&o[0] != 0 || m[1]&o[1] != 0 || m[2]&o[2] != 0 || m[3]&o[3] != 0
}

// Count returns the number of set bits.
func (m Bitmask) Count() int {
	return bits.OnesCount64(m[0]) + bits.OnesCount64(m[1]) + bits.OnesCount64(m[2]) + bits.OnesCount64(m[3])
}

// Registry tracks component stores, per-entity signatures and the compiled
// queries that have to follow signature changes.
type Registry struct {
	stores   []ComponentType
	masks    []Bitmask  // by entity index
	entities []EntityID // by entity index, zero when the slot is free
	queries  []*Query
}

func NewRegistry() *Registry {
	return &Registry{
		stores:   make([]ComponentType, 0, 16),
		masks:    make([]Bitmask, 0, 1024),
		entities: make([]EntityID, 0, 1024),
	}
}

func (r *Registry) nextComponentID() (ComponentID, error) {
	if len(r.stores) >= MaxComponents {
		return 0, fmt.Errorf("register component: limit of %d types reached", MaxComponents)
	}
	return ComponentID(len(r.stores)), nil
}

// Register adds a component store to the registry.
func (r *Registry) Register(store ComponentType) {
	r.stores = append(r.stores, store)
}

// Mask returns the current signature of id.
func (r *Registry) Mask(id EntityID) Bitmask {
	idx := int(id.Index())
	if idx >= len(r.entities) || r.entities[idx] != id {
		return Bitmask{}
	}
	return r.masks[idx]
}

func (r *Registry) track(id EntityID) {
	idx := int(id.Index())
	for idx >= len(r.entities) {
		r.entities = append(r.entities, 0)
		r.masks = append(r.masks, Bitmask{})
	}
	r.entities[idx] = id
	r.masks[idx] = Bitmask{}
	for _, q := range r.queries {
		if q.matches(Bitmask{}) {
			q.add(id)
		}
	}
}

func (r *Registry) untrack(id EntityID) {
	idx := int(id.Index())
	if idx >= len(r.entities) || r.entities[idx] != id {
		return
	}
	for _, q := range r.queries {
		q.remove(id)
	}
	r.entities[idx] = 0
	r.masks[idx] = Bitmask{}
}

func (r *Registry) componentAdded(id EntityID, cid ComponentID) {
	idx := int(id.Index())
	old := r.masks[idx]
	next := old
	next.Set(cid)
	r.masks[idx] = next
	r.reindex(id, old, next)
}

func (r *Registry) componentRemoved(id EntityID, cid ComponentID) {
	idx := int(id.Index())
	if idx >= len(r.entities) || r.entities[idx] != id {
		return
	}
	old := r.masks[idx]
	next := old
	next.Clear(cid)
	r.masks[idx] = next
	r.reindex(id, old, next)
}

func (r *Registry) reindex(id EntityID, old, next Bitmask) {
	for _, q := range r.queries {
		was, is := q.matches(old), q.matches(next)
		switch {
		case !was && is:
			q.add(id)
		case was && !is:
			q.remove(id)
		}
	}
}

// RemoveAll clears the given entity from every component store it belongs to.
func (r *Registry) RemoveAll(id EntityID) {
	mask := r.Mask(id)
	for _, s := range r.stores {
		if mask.Has(s.ID()) {
			s.remove(id)
		}
	}
}

func (r *Registry) addQuery(q *Query) {
	for idx, id := range r.entities {
		if id != 0 && q.matches(r.masks[idx]) {
			q.add(id)
		}
	}
	r.queries = append(r.queries, q)
}
