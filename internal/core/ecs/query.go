package ecs

import "slices"

// Query is a compiled component signature. Its member list is maintained
// incrementally by the Registry as components come and go, so reading it is
// never a scan over all entities. Members are kept in the order in which they
// started matching.
type Query struct {
	all   Bitmask
	none  Bitmask
	list  []EntityID
	index map[EntityID]int
}

func (q *Query) matches(m Bitmask) bool {
	return m.ContainsAll(q.all) && !m.ContainsAny(q.none)
}

func (q *Query) add(id EntityID) {
	if _, ok := q.index[id]; ok {
		return
	}
	q.index[id] = len(q.list)
	q.list = append(q.list, id)
}

func (q *Query) remove(id EntityID) {
	pos, ok := q.index[id]
	if !ok {
		return
	}
	q.list = slices.Delete(q.list, pos, pos+1)
	delete(q.index, id)
	for i := pos; i < len(q.list); i++ {
		q.index[q.list[i]] = i
	}
}

// Entities returns a snapshot of the matching entities. Callers may add or
// remove components while ranging over it.
func (q *Query) Entities() []EntityID {
	return slices.Clone(q.list)
}

func (q *Query) Len() int { return len(q.list) }

func (q *Query) Contains(id EntityID) bool {
	_, ok := q.index[id]
	return ok
}

// Each2 iterates the entities of q that carry both A and B.
func Each2[A, B any](q *Query, sa *Store[A], sb *Store[B], fn func(EntityID, *A, *B)) {
	for _, id := range q.Entities() {
		a, err := sa.Get(id)
		if err != nil {
			continue
		}
		b, err := sb.Get(id)
		if err != nil {
			continue
		}
		fn(id, a, b)
	}
}
