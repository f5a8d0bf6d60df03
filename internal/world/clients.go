package world

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/l1jgo/networld/internal/action"
	"golang.org/x/text/unicode/norm"
)

const maxNameRunes = 64

var (
	ErrClientExists = errors.New("client already registered")
	ErrIndexTaken   = errors.New("user index already taken")
)

// ClientRecord holds per-participant data. Accessed only from the game loop.
type ClientRecord struct {
	UserID   action.UserID
	Index    int
	Name     string
	ConnID   string // transport connection currently bound to this user
	JoinedAt time.Time
	LastSeen time.Time
	Joined   bool // admitted to the world, not just connected

	// Transports are transport-owned handles released on disconnect.
	Transports []io.Closer
}

// CloseTransports releases every transport handle. Safe to call repeatedly.
func (c *ClientRecord) CloseTransports() error {
	var errs []error
	for _, t := range c.Transports {
		if t == nil {
			continue
		}
		if err := t.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	c.Transports = nil
	return errors.Join(errs...)
}

// ClientRegistry maps users to dense indices and back. The slot table and the
// user map are kept mutual inverses; an index is handed out once per world
// lifetime.
type ClientRegistry struct {
	byUser    map[action.UserID]*ClientRecord
	byConn    map[string]action.UserID
	slots     []action.UserID // index -> user, "" once vacated
	nextIndex int
}

func NewClientRegistry() *ClientRegistry {
	return &ClientRegistry{
		byUser: make(map[action.UserID]*ClientRecord, 64),
		byConn: make(map[string]action.UserID, 64),
		slots:  make([]action.UserID, 0, 64),
	}
}

// NormalizeName trims and NFC-normalizes a display name and caps its length.
func NormalizeName(name string) string {
	name = norm.NFC.String(strings.TrimSpace(name))
	if utf8.RuneCountInString(name) <= maxNameRunes {
		return name
	}
	runes := []rune(name)
	return string(runes[:maxNameRunes])
}

// Allocate registers u under the next index. Host side only.
func (r *ClientRegistry) Allocate(u action.UserID, name, connID string, now time.Time) (*ClientRecord, error) {
	if _, ok := r.byUser[u]; ok {
		return nil, fmt.Errorf("allocate %s: %w", u, ErrClientExists)
	}
	rec := &ClientRecord{
		UserID:   u,
		Index:    r.nextIndex,
		Name:     NormalizeName(name),
		ConnID:   connID,
		JoinedAt: now,
		LastSeen: now,
	}
	r.nextIndex++
	r.put(rec)
	return rec, nil
}

// Insert registers u under an index chosen by the host. Used by participants
// mirroring the host's registry.
func (r *ClientRegistry) Insert(u action.UserID, index int, name string, now time.Time) (*ClientRecord, error) {
	if index < 0 {
		return nil, fmt.Errorf("insert %s: negative index %d", u, index)
	}
	if rec, ok := r.byUser[u]; ok {
		if rec.Index == index {
			rec.Name = NormalizeName(name)
			return rec, nil
		}
		return nil, fmt.Errorf("insert %s at %d: %w", u, index, ErrClientExists)
	}
	if owner, ok := r.UserAt(index); ok {
		return nil, fmt.Errorf("insert %s at %d (held by %s): %w", u, index, owner, ErrIndexTaken)
	}
	rec := &ClientRecord{UserID: u, Index: index, Name: NormalizeName(name), JoinedAt: now, LastSeen: now}
	if index >= r.nextIndex {
		r.nextIndex = index + 1
	}
	r.put(rec)
	return rec, nil
}

func (r *ClientRegistry) put(rec *ClientRecord) {
	for rec.Index >= len(r.slots) {
		r.slots = append(r.slots, "")
	}
	r.slots[rec.Index] = rec.UserID
	r.byUser[rec.UserID] = rec
	if rec.ConnID != "" {
		r.byConn[rec.ConnID] = rec.UserID
	}
}

// Remove drops u and vacates its slot. The index is not reused.
func (r *ClientRegistry) Remove(u action.UserID) (*ClientRecord, bool) {
	rec, ok := r.byUser[u]
	if !ok {
		return nil, false
	}
	delete(r.byUser, u)
	if rec.ConnID != "" && r.byConn[rec.ConnID] == u {
		delete(r.byConn, rec.ConnID)
	}
	r.slots[rec.Index] = ""
	return rec, true
}

// Bind points u at a new transport connection.
func (r *ClientRegistry) Bind(u action.UserID, connID string) {
	rec, ok := r.byUser[u]
	if !ok {
		return
	}
	if rec.ConnID != "" && r.byConn[rec.ConnID] == u {
		delete(r.byConn, rec.ConnID)
	}
	rec.ConnID = connID
	if connID != "" {
		r.byConn[connID] = u
	}
}

func (r *ClientRegistry) Get(u action.UserID) (*ClientRecord, bool) {
	rec, ok := r.byUser[u]
	return rec, ok
}

func (r *ClientRegistry) Has(u action.UserID) bool {
	_, ok := r.byUser[u]
	return ok
}

// ByConn finds the user bound to a transport connection.
func (r *ClientRegistry) ByConn(connID string) (*ClientRecord, bool) {
	u, ok := r.byConn[connID]
	if !ok {
		return nil, false
	}
	return r.Get(u)
}

// UserAt is the index → user direction.
func (r *ClientRegistry) UserAt(index int) (action.UserID, bool) {
	if index < 0 || index >= len(r.slots) || r.slots[index] == "" {
		return "", false
	}
	return r.slots[index], true
}

// IndexOf is the user → index direction.
func (r *ClientRegistry) IndexOf(u action.UserID) (int, bool) {
	rec, ok := r.byUser[u]
	if !ok {
		return 0, false
	}
	return rec.Index, true
}

func (r *ClientRegistry) Len() int { return len(r.byUser) }

// NextIndex is the index the next Allocate will hand out.
func (r *ClientRegistry) NextIndex() int { return r.nextIndex }

// Each visits clients in index order.
func (r *ClientRegistry) Each(fn func(*ClientRecord)) {
	for _, u := range r.slots {
		if u == "" {
			continue
		}
		fn(r.byUser[u])
	}
}

// Consistent reports whether the two index directions are mutual inverses.
func (r *ClientRegistry) Consistent() bool {
	live := 0
	for idx, u := range r.slots {
		if u == "" {
			continue
		}
		live++
		rec, ok := r.byUser[u]
		if !ok || rec.Index != idx {
			return false
		}
	}
	if live != len(r.byUser) {
		return false
	}
	for u, rec := range r.byUser {
		if got, ok := r.UserAt(rec.Index); !ok || got != u {
			return false
		}
	}
	return true
}
