package handler

import (
	"github.com/l1jgo/networld/internal/action"
	"go.uber.org/zap"
)

// IncomingActions decodes a batch sent by peer, stamps every entry with the
// connection's user and queues it for the next FIXED_EARLY. Malformed
// entries and client lifecycle actions are logged and skipped. Returns how
// many actions were queued.
func (h *Host) IncomingActions(peer Peer, raw []byte) int {
	rec, ok := h.w.Clients().ByConn(peer.ID())
	if !ok {
		h.log.Debug("actions from unbound connection", zap.String("conn", peer.ID()))
		return 0
	}
	actions, errs, err := action.DecodeBatch(raw)
	if err != nil {
		h.log.Warn("undecodable action batch", zap.String("user", string(rec.UserID)), zap.Error(err))
		return 0
	}
	for _, e := range errs {
		h.log.Warn("skipping malformed action", zap.String("user", string(rec.UserID)), zap.Error(e))
	}
	accepted := actions[:0]
	for _, a := range actions {
		switch a.Payload.(type) {
		case action.CreateClient, action.DestroyClient:
			// Registry lifecycle is driven by the host alone.
			h.log.Warn("dropping client lifecycle action from client",
				zap.String("user", string(rec.UserID)),
				zap.String("type", string(a.Type())),
			)
			continue
		}
		accepted = append(accepted, a.WithFrom(rec.UserID))
	}
	h.w.ReceiveActions(accepted...)
	return len(accepted)
}

// Heartbeat refreshes the last-seen time of peer's user.
func (h *Host) Heartbeat(peer Peer) {
	if rec, ok := h.w.Clients().ByConn(peer.ID()); ok {
		rec.LastSeen = h.w.Now()
	}
}

// Disconnect tears down the user bound to peer. Only the connection the user
// is currently bound to may do so; a stale connection closing after a
// newer one took over is ignored.
func (h *Host) Disconnect(peer Peer) {
	rec, ok := h.w.Clients().ByConn(peer.ID())
	if !ok {
		h.log.Debug("disconnect for unbound connection, already handled", zap.String("conn", peer.ID()))
		return
	}
	u := rec.UserID
	h.w.DispatchFrom(u, action.DestroyClient{}, action.ToAll)
	if err := rec.CloseTransports(); err != nil {
		h.log.Debug("close transports", zap.String("user", string(u)), zap.Error(err))
	}
	h.w.ClearCachedActionsForUser(u)
	h.w.Clients().Bind(u, "")
	h.log.Info("client disconnected", zap.String("user", string(u)), zap.Int("index", rec.Index))
}

// LeaveWorld is a voluntary leave: the user's transports are closed and the
// other participants are told to drop it.
func (h *Host) LeaveWorld(peer Peer) {
	rec, ok := h.w.Clients().ByConn(peer.ID())
	if !ok {
		return
	}
	u := rec.UserID
	h.w.Clients().Bind(u, "")
	if err := rec.CloseTransports(); err != nil {
		h.log.Debug("close transports", zap.String("user", string(u)), zap.Error(err))
	}
	h.w.DispatchFrom(u, action.DestroyClient{}, action.ToAll)
	h.log.Info("client left", zap.String("user", string(u)))
}
