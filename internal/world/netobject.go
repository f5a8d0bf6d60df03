package world

import (
	"errors"
	"fmt"
	"slices"

	"github.com/l1jgo/networld/internal/action"
	"github.com/l1jgo/networld/internal/core/ecs"
)

// ErrNoNetworkObject is returned when (owner, NetworkID) resolves to nothing.
var ErrNoNetworkObject = errors.New("network object not found")

type objectKey struct {
	owner action.UserID
	id    action.NetworkID
}

// networkIndex resolves (owner, id) and owner → entities without scanning
// the store.
type networkIndex struct {
	byKey   map[objectKey]ecs.EntityID
	byOwner map[action.UserID][]ecs.EntityID
}

func newNetworkIndex() *networkIndex {
	return &networkIndex{
		byKey:   make(map[objectKey]ecs.EntityID, 256),
		byOwner: make(map[action.UserID][]ecs.EntityID, 64),
	}
}

func (x *networkIndex) put(k objectKey, e ecs.EntityID) {
	x.byKey[k] = e
	x.byOwner[k.owner] = append(x.byOwner[k.owner], e)
}

func (x *networkIndex) drop(k objectKey, e ecs.EntityID) {
	if x.byKey[k] != e {
		return
	}
	delete(x.byKey, k)
	owned := slices.DeleteFunc(x.byOwner[k.owner], func(o ecs.EntityID) bool { return o == e })
	if len(owned) == 0 {
		delete(x.byOwner, k.owner)
	} else {
		x.byOwner[k.owner] = owned
	}
}

// NextNetworkID allocates the next id for objects this process spawns.
// Ids are never reused within the world's lifetime.
func (w *World) NextNetworkID() action.NetworkID {
	w.lastNetworkID++
	return w.lastNetworkID
}

// GetNetworkObject returns the entity spawned by owner under id.
func (w *World) GetNetworkObject(owner action.UserID, id action.NetworkID) (ecs.EntityID, error) {
	e, ok := w.netIndex.byKey[objectKey{owner: owner, id: id}]
	if !ok || !w.store.Alive(e) {
		return 0, fmt.Errorf("%w: owner=%s id=%d", ErrNoNetworkObject, owner, id)
	}
	return e, nil
}

// OwnedNetworkObjects lists the entities currently owned by owner, in spawn order.
func (w *World) OwnedNetworkObjects(owner action.UserID) []ecs.EntityID {
	return slices.Clone(w.netIndex.byOwner[owner])
}

// NetworkObjectCount returns the number of entities with a NetworkObject.
func (w *World) NetworkObjectCount() int { return w.networkQuery.Len() }

// UserAvatarEntity returns u's avatar, if it has spawned one.
func (w *World) UserAvatarEntity(u action.UserID) (ecs.EntityID, error) {
	for _, e := range w.netIndex.byOwner[u] {
		if w.Avatars.Has(e) {
			return e, nil
		}
	}
	return 0, fmt.Errorf("%w: no avatar for %s", ErrNoNetworkObject, u)
}

func (w *World) spawnNetworkObject(owner action.UserID, p action.SpawnObject) (ecs.EntityID, error) {
	k := objectKey{owner: owner, id: p.NetworkID}
	if e, ok := w.netIndex.byKey[k]; ok && w.store.Alive(e) && !w.store.IsMarkedRemoved(e) {
		return 0, fmt.Errorf("network object %s/%d already spawned", owner, p.NetworkID)
	}
	e := w.store.CreateEntity()
	w.NetworkObjects.Add(e, NetworkObject{Owner: owner, NetworkID: p.NetworkID, Prefab: p.Prefab})
	w.Transforms.Add(e, Transform{Position: p.Parameters.Position, Rotation: p.Parameters.Rotation})
	if p.Prefab == AvatarPrefab {
		w.Avatars.Add(e, Avatar{})
	}
	w.netIndex.put(k, e)
	return e, nil
}

func (w *World) destroyNetworkObject(e ecs.EntityID) {
	if no, err := w.NetworkObjects.Get(e); err == nil {
		w.netIndex.drop(objectKey{owner: no.Owner, id: no.NetworkID}, e)
	}
	w.store.MarkRemoved(e)
}

func (w *World) transferNetworkObject(e ecs.EntityID, newOwner action.UserID) error {
	no, err := w.NetworkObjects.Get(e)
	if err != nil {
		return err
	}
	next := objectKey{owner: newOwner, id: no.NetworkID}
	if _, taken := w.netIndex.byKey[next]; taken {
		return fmt.Errorf("network object %s/%d already exists", newOwner, no.NetworkID)
	}
	w.netIndex.drop(objectKey{owner: no.Owner, id: no.NetworkID}, e)
	no.Owner = newOwner
	w.netIndex.put(next, e)
	return nil
}

// forgetNetworkObject keeps the index in step with the removal sweep, so
// entities removed without a DestroyObject do not linger.
func (w *World) forgetNetworkObject(e ecs.EntityID) {
	no, err := w.NetworkObjects.Get(e)
	if err != nil {
		return
	}
	w.netIndex.drop(objectKey{owner: no.Owner, id: no.NetworkID}, e)
}
