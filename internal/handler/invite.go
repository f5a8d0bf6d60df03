package handler

import (
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/l1jgo/networld/internal/action"
)

const inviteCodeLen = 8

// InviteBook issues invite codes for users of a world. Codes live until the
// issuing user is revoked.
type InviteBook struct {
	mu     sync.Mutex
	byCode map[string]action.UserID
	byUser map[action.UserID]string
}

func NewInviteBook() *InviteBook {
	return &InviteBook{
		byCode: make(map[string]action.UserID),
		byUser: make(map[action.UserID]string),
	}
}

// Issue returns u's invite code, creating one on first use.
func (b *InviteBook) Issue(u action.UserID) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if code, ok := b.byUser[u]; ok {
		return code
	}
	var code string
	for {
		code = strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:inviteCodeLen])
		if _, taken := b.byCode[code]; !taken {
			break
		}
	}
	b.byCode[code] = u
	b.byUser[u] = code
	return code
}

func (b *InviteBook) Resolve(code string) (action.UserID, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	u, ok := b.byCode[strings.ToUpper(strings.TrimSpace(code))]
	return u, ok
}

// Revoke drops u's code.
func (b *InviteBook) Revoke(u action.UserID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if code, ok := b.byUser[u]; ok {
		delete(b.byCode, code)
		delete(b.byUser, u)
	}
}
