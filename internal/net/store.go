package net

import (
	"bytes"
	"encoding/json"

	"github.com/l1jgo/networld/internal/action"
	"go.uber.org/zap"
)

// SessionStore tracks live sessions and the user each one is joined as. It
// is the world's outbox: relayed actions are encoded once, batched per
// session and written when the step ends. Game loop only.
type SessionStore struct {
	sessions map[string]*Session
	byUser   map[action.UserID]*Session
	pending  map[*Session][]json.RawMessage
	log      *zap.Logger
}

func NewSessionStore(log *zap.Logger) *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*Session),
		byUser:   make(map[action.UserID]*Session),
		pending:  make(map[*Session][]json.RawMessage),
		log:      log,
	}
}

func (st *SessionStore) Add(s *Session) { st.sessions[s.ID()] = s }

// Remove forgets s and unbinds its user if s is still the bound session.
func (st *SessionStore) Remove(s *Session) {
	delete(st.sessions, s.ID())
	delete(st.pending, s)
	if st.byUser[s.UserID] == s {
		delete(st.byUser, s.UserID)
	}
}

func (st *SessionStore) Get(id string) (*Session, bool) {
	s, ok := st.sessions[id]
	return s, ok
}

// Bind routes u's deliveries to s.
func (st *SessionStore) Bind(u action.UserID, s *Session) { st.byUser[u] = s }

// Unbind stops routing u's deliveries to s.
func (st *SessionStore) Unbind(u action.UserID, s *Session) {
	if st.byUser[u] == s {
		delete(st.byUser, u)
	}
}

func (st *SessionStore) ForUser(u action.UserID) (*Session, bool) {
	s, ok := st.byUser[u]
	return s, ok
}

func (st *SessionStore) Len() int { return len(st.sessions) }

// ForEach visits every live session.
func (st *SessionStore) ForEach(fn func(*Session)) {
	for _, s := range st.sessions {
		fn(s)
	}
}

// Deliver implements world.Outbox.
func (st *SessionStore) Deliver(a action.Action, recipients []action.UserID) {
	data, err := action.Encode(a)
	if err != nil {
		st.log.Error("encode action", zap.String("type", string(a.Type())), zap.Error(err))
		return
	}
	for _, u := range recipients {
		s, ok := st.byUser[u]
		if !ok || s.IsClosed() {
			continue
		}
		st.pending[s] = append(st.pending[s], data)
	}
}

// Flush implements world.Flusher: each session gets at most one actions
// envelope per step, then every output buffer is pushed to its writer.
func (st *SessionStore) Flush() {
	for s, batch := range st.pending {
		s.Send(encodeActionsEnvelope(batch))
		delete(st.pending, s)
	}
	for _, s := range st.sessions {
		s.FlushOutput()
	}
}

func encodeActionsEnvelope(batch []json.RawMessage) []byte {
	var buf bytes.Buffer
	buf.WriteString(`{"type":"`)
	buf.WriteString(TypeActions)
	buf.WriteString(`","payload":[`)
	for i, raw := range batch {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.Write(raw)
	}
	buf.WriteString(`]}`)
	return buf.Bytes()
}
