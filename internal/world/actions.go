package world

import (
	"errors"
	"fmt"
	"slices"

	"github.com/l1jgo/networld/internal/action"
	"go.uber.org/zap"
)

// ErrNotOwner rejects an action on an object its origin does not own.
var ErrNotOwner = errors.New("not the owner")

// Dispatch originates an action from this process.
func (w *World) Dispatch(p action.Payload, to action.Recipient) action.Action {
	return w.DispatchFrom(w.localID, p, to)
}

// DispatchFrom originates an action on behalf of from. On the host the
// action is applied at the next FIXED_EARLY and relayed afterwards; on a
// participant it is sent to the host, which echoes it back when the
// addressing includes the sender.
func (w *World) DispatchFrom(from action.UserID, p action.Payload, to action.Recipient) action.Action {
	a := action.New(from, to, p)
	if w.IsHosting() {
		w.ReceiveActions(a)
	} else {
		w.outgoing = append(w.outgoing, outgoingEntry{a: a})
	}
	return a
}

// ReceiveActions queues actions for the next FIXED_EARLY stage, preserving
// arrival order. It is the one World method safe to call from transport
// goroutines.
func (w *World) ReceiveActions(actions ...action.Action) {
	if len(actions) == 0 {
		return
	}
	w.inMu.Lock()
	w.incoming = append(w.incoming, actions...)
	w.inMu.Unlock()
}

// PendingIncoming returns how many actions wait for the next FIXED_EARLY.
func (w *World) PendingIncoming() int {
	w.inMu.Lock()
	defer w.inMu.Unlock()
	return len(w.incoming)
}

func (w *World) takeIncoming() []action.Action {
	w.inMu.Lock()
	batch := w.incoming
	w.incoming = nil
	w.inMu.Unlock()
	return batch
}

// apply runs every receptor on a, records it and updates the cache. A
// receptor panic is logged and does not reach the remaining receptors'
// callers or the rest of the batch.
func (w *World) apply(a action.Action) {
	if a.Payload == nil {
		w.log.Warn("dropping action without payload", zap.String("from", string(a.From)))
		return
	}
	if err := w.authorize(a); err != nil {
		w.log.Warn("action rejected", zap.String("type", string(a.Type())), zap.Error(err))
		return
	}
	for _, r := range w.receptors {
		w.safeReceive(r, a)
	}
	w.appendHistory(a)
	w.updateCache(a)
	if w.IsHosting() {
		w.outgoing = append(w.outgoing, outgoingEntry{a: a, recorded: true})
	}
}

// authorize rejects actions their origin may not perform. Rejected actions
// never reach history.
func (w *World) authorize(a action.Action) error {
	switch p := a.Payload.(type) {
	case action.TransferOwnership:
		if a.From != p.Owner && a.From != w.hostID {
			return fmt.Errorf("transfer %s/%d by %s: %w", p.Owner, p.NetworkID, a.From, ErrNotOwner)
		}
	}
	return nil
}

func (w *World) safeReceive(r namedReceptor, a action.Action) {
	defer func() {
		if rec := recover(); rec != nil {
			w.log.Error("receptor panic recovered",
				zap.String("receptor", r.name),
				zap.String("type", string(a.Type())),
				zap.String("from", string(a.From)),
				zap.Any("panic", rec),
			)
		}
	}()
	r.fn(w, a)
}

// Recipients resolves a's addressing against the connected clients.
func (w *World) Recipients(a action.Action) []action.UserID {
	if !w.IsHosting() {
		return []action.UserID{w.hostID}
	}
	out := make([]action.UserID, 0, w.clients.Len())
	switch a.To {
	case action.ToAll, "":
		w.clients.Each(func(c *ClientRecord) { out = append(out, c.UserID) })
	case action.ToOthers:
		w.clients.Each(func(c *ClientRecord) {
			if c.UserID != a.From {
				out = append(out, c.UserID)
			}
		})
	default:
		if u, _ := a.To.User(); w.clients.Has(u) {
			out = append(out, u)
		}
	}
	return out
}

// FlushOutgoing hands every buffered outgoing action to the outbox and moves
// it to history. Without an outbox the actions are dropped. An outbox that
// implements Flusher is flushed once afterwards, even when nothing was sent.
func (w *World) FlushOutgoing() {
	pending := w.outgoing
	w.outgoing = nil
	for _, e := range pending {
		if w.outbox != nil {
			if to := w.Recipients(e.a); len(to) > 0 {
				w.outbox.Deliver(e.a, to)
			}
		}
		if !e.recorded {
			w.appendHistory(e.a)
		}
	}
	if f, ok := w.outbox.(Flusher); ok {
		f.Flush()
	}
}

// PendingOutgoing returns the actions buffered for the next flush.
func (w *World) PendingOutgoing() []action.Action {
	out := make([]action.Action, len(w.outgoing))
	for i, e := range w.outgoing {
		out[i] = e.a
	}
	return out
}

func (w *World) appendHistory(a action.Action) {
	w.history = append(w.history, a)
}

// History returns every action this world has processed, oldest first.
func (w *World) History() []action.Action {
	return slices.Clone(w.history)
}

// HistoryLen is the number of retained history entries.
func (w *World) HistoryLen() int { return len(w.history) }

func (w *World) trimHistory() {
	if w.historyLimit <= 0 || len(w.history) <= w.historyLimit {
		return
	}
	drop := len(w.history) - w.historyLimit
	w.history = slices.Delete(w.history, 0, drop)
}

// updateCache keeps the cached set equal to what a late joiner has to
// replay. The switch covers every payload kind.
func (w *World) updateCache(a action.Action) {
	switch p := a.Payload.(type) {
	case action.SpawnObject, action.TransferOwnership:
		w.cached = append(w.cached, a)
	case action.SetSceneFlag:
		w.cached = slices.DeleteFunc(w.cached, func(c action.Action) bool {
			f, ok := c.Payload.(action.SetSceneFlag)
			return ok && f.Key == p.Key
		})
		w.cached = append(w.cached, a)
	case action.Custom:
		if p.Cache {
			w.cached = append(w.cached, a)
		}
	case action.DestroyObject:
		w.uncacheObject(a.From, p.NetworkID)
	case action.DestroyClient:
		w.ClearCachedActionsForUser(a.From)
	case action.CreateClient:
	}
}

// uncacheObject drops the spawn of (owner, id) and the ownership transfers
// that led to owner.
func (w *World) uncacheObject(owner action.UserID, id action.NetworkID) {
	drop := make(map[string]bool)
	cur := owner
	for i := len(w.cached) - 1; i >= 0; i-- {
		t, ok := w.cached[i].Payload.(action.TransferOwnership)
		if ok && t.NetworkID == id && t.NewOwner == cur {
			drop[w.cached[i].ID] = true
			cur = t.Owner
		}
	}
	w.cached = slices.DeleteFunc(w.cached, func(c action.Action) bool {
		if drop[c.ID] {
			return true
		}
		s, ok := c.Payload.(action.SpawnObject)
		return ok && s.NetworkID == id && c.From == cur
	})
}

// CachedActions returns the cached set, oldest first.
func (w *World) CachedActions() []action.Action {
	return slices.Clone(w.cached)
}

// CachedActionsFor returns the cached actions addressed to everyone or to u.
func (w *World) CachedActionsFor(u action.UserID) []action.Action {
	out := make([]action.Action, 0, len(w.cached))
	for _, a := range w.cached {
		if a.To == action.ToAll || a.To == "" || a.To == action.To(u) {
			out = append(out, a)
		}
	}
	return out
}

// ClearCachedActionsForUser drops every cached action originated by u.
func (w *World) ClearCachedActionsForUser(u action.UserID) {
	w.cached = slices.DeleteFunc(w.cached, func(a action.Action) bool {
		return a.From == u
	})
}

// ClearCachedActionsForDisconnectedUsers drops cached actions whose origin is
// neither the host nor a connected client.
func (w *World) ClearCachedActionsForDisconnectedUsers() {
	w.cached = slices.DeleteFunc(w.cached, func(a action.Action) bool {
		return a.From != w.hostID && !w.clients.Has(a.From)
	})
}
