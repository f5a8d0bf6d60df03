package handler

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/l1jgo/networld/internal/action"
	"github.com/l1jgo/networld/internal/core/event"
	"github.com/l1jgo/networld/internal/world"
	"go.uber.org/zap"
)

// inviteDistance is how far in front of the inviter an invited user appears.
const inviteDistance = 2.0

// JoinRequest is the join envelope payload. AccessKey is checked by Connect.
type JoinRequest struct {
	InviteCode string `json:"inviteCode,omitempty"`
	AccessKey  string `json:"accessKey,omitempty"`
}

type ClientInfo struct {
	UserID action.UserID `json:"userId"`
	Index  int           `json:"index"`
	Name   string        `json:"name"`
}

// JoinResponse is everything a late joiner needs to catch up.
type JoinResponse struct {
	Tick          uint64          `json:"tick"`
	Clients       []ClientInfo    `json:"clients"`
	CachedActions []action.Action `json:"cachedActions"`
	SpawnPose     action.Pose     `json:"spawnPose"`
}

// JoinWorld admits a connected user. The response carries the current tick,
// the client list in index order and the cached actions addressed to the
// joiner; afterwards the other participants are told about the joiner.
//
// Called between steps, so every action applied after this point is relayed
// to the joiner through the normal outgoing path. Joining again on the same
// connection only rebuilds the response.
func (h *Host) JoinWorld(peer Peer, u action.UserID, req JoinRequest) (*JoinResponse, error) {
	rec, ok := h.w.Clients().Get(u)
	if !ok {
		return nil, fmt.Errorf("join %s: %w", u, ErrNotConnected)
	}
	if rec.ConnID != peer.ID() {
		return nil, fmt.Errorf("join %s from %s: %w", u, peer.ID(), ErrDuplicateSession)
	}

	pose := h.spawnPose(u, req.InviteCode)

	h.w.ClearCachedActionsForDisconnectedUsers()
	if !rec.Joined {
		// Leftovers from an earlier session under the same id.
		h.w.ClearCachedActionsForUser(u)
	}

	clients := make([]ClientInfo, 0, h.w.Clients().Len())
	h.w.Clients().Each(func(c *world.ClientRecord) {
		clients = append(clients, ClientInfo{UserID: c.UserID, Index: c.Index, Name: c.Name})
	})

	resp := &JoinResponse{
		Tick:          h.w.FixedTick(),
		Clients:       clients,
		CachedActions: h.catchUp(u),
		SpawnPose:     pose,
	}

	if rec.Joined {
		h.log.Debug("rejoin resync", zap.String("user", string(u)))
		return resp, nil
	}
	rec.Joined = true
	h.w.DispatchFrom(u, action.CreateClient{Name: rec.Name, Index: rec.Index}, action.ToOthers)
	event.Emit(h.w.Bus(), event.ClientJoined{World: h.w.Name(), UserID: string(u), Index: rec.Index})
	h.log.Info("client joined",
		zap.String("user", string(u)),
		zap.Int("index", rec.Index),
		zap.Uint64("tick", resp.Tick),
		zap.Int("cached", len(resp.CachedActions)),
	)
	return resp, nil
}

// catchUp returns the cached actions for u with avatar spawns moved to where
// the avatars are now.
func (h *Host) catchUp(u action.UserID) []action.Action {
	cached := h.w.CachedActionsFor(u)
	for i, a := range cached {
		spawn, ok := a.Payload.(action.SpawnObject)
		if !ok || spawn.Prefab != world.AvatarPrefab {
			continue
		}
		e, err := h.w.GetNetworkObject(a.From, spawn.NetworkID)
		if err != nil {
			continue
		}
		tr, err := h.w.Transforms.Get(e)
		if err != nil {
			continue
		}
		spawn.Parameters = tr.Pose()
		cached[i] = a.WithPayload(spawn)
	}
	return cached
}

// spawnPose places the joiner in front of its inviter when the inviter's
// avatar is in this world and the spot is on the ground, and at a random
// spawn point otherwise.
func (h *Host) spawnPose(u action.UserID, inviteCode string) action.Pose {
	pose := action.Pose{Rotation: mgl64.QuatIdent()}
	if h.spawns != nil {
		pose = h.spawns.RandomSpawn()
	}
	if inviteCode == "" || h.invites == nil {
		return pose
	}
	inviter, ok := h.invites.Resolve(inviteCode)
	if !ok || inviter == u {
		return pose
	}
	e, err := h.w.UserAvatarEntity(inviter)
	if err != nil {
		h.log.Warn("inviter is no longer in this world", zap.String("inviter", string(inviter)))
		return pose
	}
	tr, err := h.w.Transforms.Get(e)
	if err != nil {
		return pose
	}
	pos := tr.Position.Add(tr.Rotation.Rotate(mgl64.Vec3{0, 0, inviteDistance}))
	if h.spawns != nil && !h.spawns.OnGround(pos) {
		return pose
	}
	return action.Pose{Position: pos, Rotation: tr.Rotation}
}
