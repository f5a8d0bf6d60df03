package ecs

import "errors"

// ErrNotFound is returned by Store.Get when the entity has no component of
// that type (or is not alive).
var ErrNotFound = errors.New("ecs: component not found")

// ComponentType is the type-erased view of a Store that queries and the
// removal sweep work with.
type ComponentType interface {
	ID() ComponentID
	Has(id EntityID) bool
	remove(id EntityID)
}

// Store is a dense, type-homogeneous component array (sparse set).
// Pointers returned by Get/Add stay valid until the next Add or Remove on the
// same store.
type Store[T any] struct {
	id       ComponentID
	world    *World
	dense    []T
	entities []EntityID
	sparse   []int32 // entity index -> dense slot + 1, 0 = absent
}

// Register adds a new component type to w and returns its store.
// It fails once MaxComponents types are registered.
func Register[T any](w *World) (*Store[T], error) {
	id, err := w.registry.nextComponentID()
	if err != nil {
		return nil, err
	}
	s := &Store[T]{
		id:       id,
		world:    w,
		dense:    make([]T, 0, 64),
		entities: make([]EntityID, 0, 64),
	}
	w.registry.Register(s)
	return s, nil
}

func (s *Store[T]) ID() ComponentID { return s.id }

func (s *Store[T]) slot(id EntityID) (int, bool) {
	idx := int(id.Index())
	if idx >= len(s.sparse) {
		return 0, false
	}
	pos := int(s.sparse[idx]) - 1
	if pos < 0 || s.entities[pos] != id {
		return 0, false
	}
	return pos, true
}

// Add attaches v to id, replacing any existing value of this type.
// Returns a pointer to the stored value, or nil when id is not alive.
func (s *Store[T]) Add(id EntityID, v T) *T {
	if !s.world.Alive(id) {
		return nil
	}
	if pos, ok := s.slot(id); ok {
		s.dense[pos] = v
		return &s.dense[pos]
	}
	idx := int(id.Index())
	for idx >= len(s.sparse) {
		s.sparse = append(s.sparse, 0)
	}
	s.dense = append(s.dense, v)
	s.entities = append(s.entities, id)
	s.sparse[idx] = int32(len(s.dense))
	s.world.registry.componentAdded(id, s.id)
	return &s.dense[len(s.dense)-1]
}

// Get returns the component for id, or ErrNotFound.
func (s *Store[T]) Get(id EntityID) (*T, error) {
	pos, ok := s.slot(id)
	if !ok {
		return nil, ErrNotFound
	}
	return &s.dense[pos], nil
}

func (s *Store[T]) Has(id EntityID) bool {
	_, ok := s.slot(id)
	return ok
}

// Remove detaches the component from id. Missing components are ignored.
func (s *Store[T]) Remove(id EntityID) {
	s.remove(id)
}

func (s *Store[T]) remove(id EntityID) {
	pos, ok := s.slot(id)
	if !ok {
		return
	}
	last := len(s.dense) - 1
	if pos != last {
		s.dense[pos] = s.dense[last]
		s.entities[pos] = s.entities[last]
		s.sparse[s.entities[pos].Index()] = int32(pos + 1)
	}
	var zero T
	s.dense[last] = zero
	s.dense = s.dense[:last]
	s.entities = s.entities[:last]
	s.sparse[id.Index()] = 0
	s.world.registry.componentRemoved(id, s.id)
}

func (s *Store[T]) Len() int {
	return len(s.dense)
}

// Each iterates in dense order. fn must not add or remove components of this type.
func (s *Store[T]) Each(fn func(EntityID, *T)) {
	for i := range s.dense {
		fn(s.entities[i], &s.dense[i])
	}
}
