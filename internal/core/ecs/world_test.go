package ecs

import (
	"errors"
	"slices"
	"testing"
)

type position struct{ X, Y float64 }
type velocity struct{ DX, DY float64 }

func newTestWorld(t *testing.T) (*World, *Store[position], *Store[velocity]) {
	t.Helper()
	w, err := NewWorld()
	if err != nil {
		t.Fatalf("NewWorld: %v", err)
	}
	pos, err := Register[position](w)
	if err != nil {
		t.Fatalf("register position: %v", err)
	}
	vel, err := Register[velocity](w)
	if err != nil {
		t.Fatalf("register velocity: %v", err)
	}
	return w, pos, vel
}

func TestStoreAddGetRemove(t *testing.T) {
	w, pos, _ := newTestWorld(t)
	e := w.CreateEntity()

	if _, err := pos.Get(e); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get before Add: got %v, want ErrNotFound", err)
	}
	pos.Add(e, position{X: 1, Y: 2})
	if !pos.Has(e) {
		t.Fatal("Has = false after Add")
	}
	p, err := pos.Get(e)
	if err != nil || *p != (position{X: 1, Y: 2}) {
		t.Fatalf("Get = %v, %v", p, err)
	}

	// Second add replaces the value: at most one component per type.
	pos.Add(e, position{X: 5})
	if pos.Len() != 1 {
		t.Fatalf("Len = %d, want 1", pos.Len())
	}
	pos.Remove(e)
	if pos.Has(e) {
		t.Fatal("Has = true after Remove")
	}
}

func TestAddOnDeadEntityIsIgnored(t *testing.T) {
	w, pos, _ := newTestWorld(t)
	e := w.CreateEntity()
	w.MarkRemoved(e)
	w.Sweep()
	if got := pos.Add(e, position{}); got != nil {
		t.Fatal("Add on a swept entity returned a value")
	}
}

func TestSwapRemoveKeepsOtherEntities(t *testing.T) {
	w, pos, _ := newTestWorld(t)
	a, b, c := w.CreateEntity(), w.CreateEntity(), w.CreateEntity()
	pos.Add(a, position{X: 1})
	pos.Add(b, position{X: 2})
	pos.Add(c, position{X: 3})
	pos.Remove(a)

	for id, want := range map[EntityID]float64{b: 2, c: 3} {
		p, err := pos.Get(id)
		if err != nil || p.X != want {
			t.Fatalf("entity %d: got %v, %v want X=%v", id, p, err, want)
		}
	}
}

func TestQueryInsertionOrderAndIncrementalUpdate(t *testing.T) {
	w, pos, vel := newTestWorld(t)
	q := w.DefineQuery(pos, vel)

	a, b, c := w.CreateEntity(), w.CreateEntity(), w.CreateEntity()
	pos.Add(c, position{})
	pos.Add(a, position{})
	pos.Add(b, position{})
	vel.Add(b, velocity{})
	vel.Add(c, velocity{})
	vel.Add(a, velocity{})

	if got, want := q.Entities(), []EntityID{b, c, a}; !slices.Equal(got, want) {
		t.Fatalf("Entities = %v, want %v", got, want)
	}

	vel.Remove(c)
	if got, want := q.Entities(), []EntityID{b, a}; !slices.Equal(got, want) {
		t.Fatalf("after remove: %v, want %v", got, want)
	}
}

func TestQueryDefinedAfterEntitiesExist(t *testing.T) {
	w, pos, _ := newTestWorld(t)
	e := w.CreateEntity()
	pos.Add(e, position{})

	q := w.DefineQuery(pos)
	if !q.Contains(e) {
		t.Fatal("query defined late does not see existing entity")
	}
}

func TestFilteredQuery(t *testing.T) {
	w, pos, vel := newTestWorld(t)
	q := w.DefineFilteredQuery([]ComponentType{pos}, []ComponentType{vel})

	still, moving := w.CreateEntity(), w.CreateEntity()
	pos.Add(still, position{})
	pos.Add(moving, position{})
	vel.Add(moving, velocity{})

	if !q.Contains(still) || q.Contains(moving) {
		t.Fatalf("filtered query = %v", q.Entities())
	}
}

func TestMarkRemovedIsDeferredUntilSweep(t *testing.T) {
	w, pos, _ := newTestWorld(t)
	q := w.DefineQuery(pos)

	var live, marked []EntityID
	for i := 0; i < 20; i++ {
		e := w.CreateEntity()
		pos.Add(e, position{X: float64(i)})
		if i%3 == 0 {
			w.MarkRemoved(e)
			marked = append(marked, e)
		} else {
			live = append(live, e)
		}
	}

	for _, e := range marked {
		if !q.Contains(e) {
			t.Fatalf("entity %d vanished before sweep", e)
		}
	}

	var destroyed []EntityID
	w.OnDestroy(func(id EntityID) { destroyed = append(destroyed, id) })

	if n := w.Sweep(); n != len(marked) {
		t.Fatalf("Sweep = %d, want %d", n, len(marked))
	}
	for _, e := range marked {
		if q.Contains(e) || w.Alive(e) || pos.Has(e) {
			t.Fatalf("marked entity %d still present after sweep", e)
		}
	}
	for _, e := range live {
		if !q.Contains(e) {
			t.Fatalf("live entity %d missing after sweep", e)
		}
	}
	if !slices.Equal(destroyed, marked) {
		t.Fatalf("destroy hooks = %v, want %v", destroyed, marked)
	}
}

func TestRecycledHandleGetsNewGeneration(t *testing.T) {
	w, pos, _ := newTestWorld(t)
	old := w.CreateEntity()
	pos.Add(old, position{})
	w.MarkRemoved(old)
	w.Sweep()

	fresh := w.CreateEntity()
	if fresh.Index() != old.Index() {
		t.Skip("pool did not recycle the index")
	}
	if fresh == old {
		t.Fatal("recycled handle equals stale handle")
	}
	if pos.Has(old) || pos.Has(fresh) {
		t.Fatal("component leaked across generations")
	}
}

func TestZeroEntityIsNeverAlive(t *testing.T) {
	w, _, _ := newTestWorld(t)
	w.CreateEntity()
	if w.Alive(0) {
		t.Fatal("zero EntityID reported alive")
	}
}

func TestRegisterLimit(t *testing.T) {
	w, err := NewWorld()
	if err != nil {
		t.Fatal(err)
	}
	for i := 1; i < MaxComponents; i++ {
		if _, err := Register[struct{}](w); err != nil {
			t.Fatalf("register #%d: %v", i, err)
		}
	}
	if _, err := Register[struct{}](w); err == nil {
		t.Fatal("expected error past MaxComponents")
	}
}
