// Package handler implements the host side of the session protocol: connect,
// join with late-join catch-up, heartbeat, incoming actions, disconnect and
// voluntary leave. It also carries the participant-side join application.
package handler

import (
	"errors"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/l1jgo/networld/internal/action"
	"github.com/l1jgo/networld/internal/world"
	"go.uber.org/zap"
)

var (
	ErrDuplicateSession = errors.New("user already connected on another session")
	ErrNotConnected     = errors.New("user not connected")
	ErrAccessDenied     = errors.New("access denied")
)

// Peer is the transport connection a request arrived on.
type Peer interface {
	ID() string
	Close() error
}

// SpawnPoints picks where joining users appear.
type SpawnPoints interface {
	RandomSpawn() action.Pose
	OnGround(pos mgl64.Vec3) bool
}

// InviteResolver maps an invite code to the user who issued it.
type InviteResolver interface {
	Resolve(code string) (action.UserID, bool)
}

// Deps holds the collaborators shared by every host handler.
type Deps struct {
	World   *world.World
	Spawns  SpawnPoints    // nil spawns everyone at the origin
	Invites InviteResolver // nil ignores invite codes
	// AccessKeyHash is a bcrypt hash; empty leaves the world open.
	AccessKeyHash []byte
	Policy        DuplicatePolicy // nil means RejectNewcomer
	Log           *zap.Logger
}

// Host answers session requests for one world. Its methods run on the game
// loop goroutine, between steps or from a StageUpdate system.
type Host struct {
	w       *world.World
	spawns  SpawnPoints
	invites InviteResolver
	keyHash []byte
	policy  DuplicatePolicy
	log     *zap.Logger
}

func NewHost(deps Deps) *Host {
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	if deps.Policy == nil {
		deps.Policy = RejectNewcomer
	}
	return &Host{
		w:       deps.World,
		spawns:  deps.Spawns,
		invites: deps.Invites,
		keyHash: deps.AccessKeyHash,
		policy:  deps.Policy,
		log:     deps.Log.With(zap.String("world", deps.World.Name())),
	}
}

func (h *Host) World() *world.World { return h.w }

// StaleClients lists users whose last heartbeat is older than olderThan.
// Nothing is evicted; the caller decides what to do with them.
func (h *Host) StaleClients(now time.Time, olderThan time.Duration) []action.UserID {
	var out []action.UserID
	h.w.Clients().Each(func(c *world.ClientRecord) {
		if now.Sub(c.LastSeen) > olderThan {
			out = append(out, c.UserID)
		}
	})
	return out
}
