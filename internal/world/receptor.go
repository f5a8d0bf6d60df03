package world

import (
	"github.com/l1jgo/networld/internal/action"
	"github.com/l1jgo/networld/internal/core/event"
	"go.uber.org/zap"
)

// NetworkReceptor applies the built-in network actions: client registry,
// network objects, ownership and scene flags. Invalid actions are logged and
// ignored.
func NetworkReceptor(w *World, a action.Action) {
	switch p := a.Payload.(type) {
	case action.CreateClient:
		w.receiveCreateClient(a, p)
	case action.DestroyClient:
		w.receiveDestroyClient(a)
	case action.SpawnObject:
		if _, err := w.spawnNetworkObject(a.From, p); err != nil {
			w.log.Warn("spawn ignored", zap.String("from", string(a.From)), zap.Error(err))
		}
	case action.DestroyObject:
		e, err := w.GetNetworkObject(a.From, p.NetworkID)
		if err != nil {
			w.log.Debug("destroy ignored", zap.Error(err))
			return
		}
		w.destroyNetworkObject(e)
	case action.TransferOwnership:
		w.receiveTransfer(p)
	case action.SetSceneFlag:
		w.metadata[p.Key] = p.Value
	case action.Custom:
		// handled by script receptors
	default:
		w.log.Warn("unhandled action type", zap.String("type", string(a.Type())))
	}
}

func (w *World) receiveCreateClient(a action.Action, p action.CreateClient) {
	if w.clients.Has(a.From) {
		return
	}
	if _, err := w.clients.Insert(a.From, p.Index, p.Name, w.now()); err != nil {
		w.log.Warn("create client ignored", zap.String("user", string(a.From)), zap.Error(err))
		return
	}
	event.Emit(w.bus, event.ClientJoined{World: w.name, UserID: string(a.From), Index: p.Index})
}

func (w *World) receiveDestroyClient(a action.Action) {
	for _, e := range w.OwnedNetworkObjects(a.From) {
		// Objects handed to the user were spawned by someone else.
		if no, err := w.NetworkObjects.Get(e); err == nil {
			w.uncacheObject(no.Owner, no.NetworkID)
		}
		w.destroyNetworkObject(e)
	}
	w.ClearCachedActionsForUser(a.From)
	rec, ok := w.clients.Remove(a.From)
	if !ok {
		return
	}
	event.Emit(w.bus, event.ClientLeft{World: w.name, UserID: string(a.From), Index: rec.Index})
}

func (w *World) receiveTransfer(p action.TransferOwnership) {
	e, err := w.GetNetworkObject(p.Owner, p.NetworkID)
	if err != nil {
		w.log.Debug("transfer ignored", zap.Error(err))
		return
	}
	if err := w.transferNetworkObject(e, p.NewOwner); err != nil {
		w.log.Warn("transfer ignored", zap.Error(err))
	}
}
