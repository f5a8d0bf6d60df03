package ecs

// Removed tags an entity for reclamation at the end of the current step.
type Removed struct{}

// World is the entity store. It owns the entity pool, the component
// registry, and the Removed tag whose holders are reclaimed by Sweep.
type World struct {
	pool      *EntityPool
	registry  *Registry
	removed   *Store[Removed]
	sweepList *Query
	onDestroy []func(EntityID)
}

// NewWorld builds an empty store. Failure here means the store could not be
// set up at all and the owning world must not be created.
func NewWorld() (*World, error) {
	w := &World{
		pool:     NewEntityPool(),
		registry: NewRegistry(),
	}
	removed, err := Register[Removed](w)
	if err != nil {
		return nil, err
	}
	w.removed = removed
	w.sweepList = w.DefineQuery(removed)
	return w, nil
}

func (w *World) Pool() *EntityPool   { return w.pool }
func (w *World) Registry() *Registry { return w.registry }

func (w *World) CreateEntity() EntityID {
	id := w.pool.Create()
	w.registry.track(id)
	return id
}

func (w *World) Alive(id EntityID) bool {
	return w.pool.Alive(id)
}

// DefineQuery compiles a query over entities holding every given type.
func (w *World) DefineQuery(types ...ComponentType) *Query {
	return w.DefineFilteredQuery(types, nil)
}

// DefineFilteredQuery compiles a query over entities holding every type in
// all and none of the types in none.
func (w *World) DefineFilteredQuery(all, none []ComponentType) *Query {
	q := &Query{index: make(map[EntityID]int, 64)}
	for _, t := range all {
		q.all.Set(t.ID())
	}
	for _, t := range none {
		q.none.Set(t.ID())
	}
	w.registry.addQuery(q)
	return q
}

// RemovedTag exposes the Removed store so callers can exclude tagged
// entities from their own queries.
func (w *World) RemovedTag() ComponentType { return w.removed }

// MarkRemoved tags id for end-of-step cleanup. The entity stays visible to
// queries until Sweep runs.
func (w *World) MarkRemoved(id EntityID) {
	if !w.Alive(id) || w.removed.Has(id) {
		return
	}
	w.removed.Add(id, Removed{})
}

func (w *World) IsMarkedRemoved(id EntityID) bool {
	return w.removed.Has(id)
}

// OnDestroy registers fn to run for every entity reclaimed by Sweep, before
// its components are dropped.
func (w *World) OnDestroy(fn func(EntityID)) {
	w.onDestroy = append(w.onDestroy, fn)
}

// Sweep reclaims every tagged entity and returns how many were destroyed.
func (w *World) Sweep() int {
	ids := w.sweepList.Entities()
	for _, id := range ids {
		for _, fn := range w.onDestroy {
			fn(id)
		}
		w.registry.RemoveAll(id)
		w.registry.untrack(id)
		w.pool.Destroy(id)
	}
	return len(ids)
}

// Len returns the number of live entities, including tagged ones.
func (w *World) Len() int { return w.pool.Len() }
