package system

import (
	"encoding/json"
	"errors"
	"fmt"

	coresys "github.com/l1jgo/networld/internal/core/system"
	"github.com/l1jgo/networld/internal/handler"
	"github.com/l1jgo/networld/internal/net"
	"github.com/l1jgo/networld/internal/world"
	"go.uber.org/zap"
)

// SessionSource yields newly accepted sessions.
type SessionSource interface {
	NewSessions() <-chan *net.Session
}

// InputSystem drains message queues from all sessions and routes each
// envelope to the host handlers. StageUpdate, so everything it queues is
// applied at this step's FIXED_EARLY.
type InputSystem struct {
	source     SessionSource
	store      *net.SessionStore
	host       *handler.Host
	invites    *handler.InviteBook
	maxPerTick int
	log        *zap.Logger
}

func NewInputSystem(
	source SessionSource,
	store *net.SessionStore,
	host *handler.Host,
	invites *handler.InviteBook,
	maxPerTick int,
	log *zap.Logger,
) *InputSystem {
	if maxPerTick <= 0 {
		maxPerTick = 32
	}
	return &InputSystem{
		source:     source,
		store:      store,
		host:       host,
		invites:    invites,
		maxPerTick: maxPerTick,
		log:        log,
	}
}

func (s *InputSystem) Execute(_ *world.World) {
	// Accept new sessions
	for done := false; !done; {
		select {
		case sess := <-s.source.NewSessions():
			s.store.Add(sess)
		default:
			done = true
		}
	}

	var closing []*net.Session
	s.store.ForEach(func(sess *net.Session) {
		if sess.IsClosed() {
			closing = append(closing, sess)
			return
		}
		s.drain(sess)
	})

	for _, sess := range closing {
		// Messages sent just before the close still count.
		s.drain(sess)
		s.host.Disconnect(sess)
		s.invites.Revoke(sess.UserID)
		s.store.Remove(sess)
	}
}

func (s *InputSystem) drain(sess *net.Session) {
	for i := 0; i < s.maxPerTick; i++ {
		select {
		case data := <-sess.InQueue:
			if err := s.safeDispatch(sess, data); err != nil {
				s.log.Debug("message dispatch failed",
					zap.String("session", sess.ID()),
					zap.Error(err),
				)
			}
		default:
			return
		}
	}
}

// safeDispatch keeps one bad message from taking down the game loop.
func (s *InputSystem) safeDispatch(sess *net.Session, data []byte) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			s.log.Error("handler panic recovered",
				zap.String("session", sess.ID()),
				zap.Any("panic", rec),
			)
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()
	return s.dispatch(sess, data)
}

func (s *InputSystem) dispatch(sess *net.Session, data []byte) error {
	env, err := net.DecodeEnvelope(data)
	if err != nil {
		return err
	}
	switch env.Type {
	case net.TypeJoin:
		var req handler.JoinRequest
		if len(env.Payload) > 0 {
			if err := json.Unmarshal(env.Payload, &req); err != nil {
				sess.SendEnvelope(net.TypeRejected, net.Rejection{Reason: "malformed join request"})
				return fmt.Errorf("decode join: %w", err)
			}
		}
		s.join(sess, req)
	case net.TypeActions:
		s.host.IncomingActions(sess, env.Payload)
	case net.TypeHeartbeat:
		s.host.Heartbeat(sess)
	case net.TypeLeave:
		s.host.LeaveWorld(sess)
		s.store.Unbind(sess.UserID, sess)
	case net.TypeInvite:
		if bound, ok := s.store.ForUser(sess.UserID); ok && bound == sess {
			sess.SendEnvelope(net.TypeInvited, net.Invitation{Code: s.invites.Issue(sess.UserID)})
		}
	default:
		return fmt.Errorf("unknown envelope type %q", env.Type)
	}
	return nil
}

func (s *InputSystem) join(sess *net.Session, req handler.JoinRequest) {
	if _, err := s.host.Connect(sess, sess.UserID, sess.Name, req.AccessKey); err != nil {
		s.reject(sess, err)
		return
	}
	resp, err := s.host.JoinWorld(sess, sess.UserID, req)
	if err != nil {
		s.reject(sess, err)
		return
	}
	s.store.Bind(sess.UserID, sess)
	sess.SendEnvelope(net.TypeJoined, resp)
}

func (s *InputSystem) reject(sess *net.Session, err error) {
	reason := "join failed"
	switch {
	case errors.Is(err, handler.ErrDuplicateSession):
		reason = "already connected"
	case errors.Is(err, handler.ErrAccessDenied):
		reason = "access denied"
	case errors.Is(err, handler.ErrNotConnected):
		reason = "not connected"
	}
	s.log.Info("join rejected", zap.String("user", string(sess.UserID)), zap.Error(err))
	sess.SendEnvelope(net.TypeRejected, net.Rejection{Reason: reason})
}

var _ coresys.System[*world.World] = (*InputSystem)(nil)
