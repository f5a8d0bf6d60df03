package handler

import (
	"fmt"
	"io"

	"github.com/l1jgo/networld/internal/action"
	"github.com/l1jgo/networld/internal/world"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// Connect registers u on peer and hands out its user index. The access key
// is checked first, so a refused peer never disturbs an existing session.
// Connecting the same peer twice is a no-op. A second connection for a
// registered user is settled by the duplicate policy.
func (h *Host) Connect(peer Peer, u action.UserID, name, accessKey string) (*world.ClientRecord, error) {
	if u == "" || u == h.w.HostID() {
		return nil, fmt.Errorf("connect %q: %w", u, ErrAccessDenied)
	}
	if err := h.checkAccess(accessKey); err != nil {
		h.log.Info("access denied", zap.String("user", string(u)), zap.String("conn", peer.ID()))
		return nil, fmt.Errorf("connect %s: %w", u, err)
	}
	clients := h.w.Clients()
	if rec, ok := clients.Get(u); ok {
		if rec.ConnID == peer.ID() {
			return rec, nil
		}
		// An unbound record is waiting for its DestroyClient to apply.
		if rec.ConnID == "" || h.policy(rec, peer) != Replace {
			h.log.Info("duplicate session rejected",
				zap.String("user", string(u)),
				zap.String("existing", rec.ConnID),
				zap.String("newcomer", peer.ID()),
			)
			return nil, fmt.Errorf("connect %s: %w", u, ErrDuplicateSession)
		}
		h.log.Info("evicting existing session",
			zap.String("user", string(u)),
			zap.String("existing", rec.ConnID),
			zap.String("newcomer", peer.ID()),
		)
		// Unbind first so the old connection's disconnect is ignored.
		clients.Bind(u, peer.ID())
		if err := rec.CloseTransports(); err != nil {
			h.log.Debug("close evicted transports", zap.Error(err))
		}
		rec.Transports = []io.Closer{peer}
		rec.LastSeen = h.w.Now()
		return rec, nil
	}

	rec, err := clients.Allocate(u, name, peer.ID(), h.w.Now())
	if err != nil {
		return nil, err
	}
	rec.Transports = append(rec.Transports, peer)
	h.log.Info("client connected",
		zap.String("user", string(u)),
		zap.Int("index", rec.Index),
		zap.String("conn", peer.ID()),
	)
	return rec, nil
}

func (h *Host) checkAccess(key string) error {
	if len(h.keyHash) == 0 {
		return nil
	}
	if err := bcrypt.CompareHashAndPassword(h.keyHash, []byte(key)); err != nil {
		return ErrAccessDenied
	}
	return nil
}
