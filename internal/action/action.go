// Package action defines the replicated state-transition records exchanged
// between a world's host and its participants.
//
// An Action is a header (id, origin, addressing) plus exactly one Payload
// variant. The set of variants is closed: every consumer switches over the
// concrete payload types listed in this file.
package action

import (
	"errors"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/oklog/ulid/v2"
)

var (
	ErrUnknownType = errors.New("action: unknown type")
	ErrMalformed   = errors.New("action: malformed")
)

// UserID identifies a participant. The host uses its own sentinel id.
type UserID string

// HostID is the default host sentinel.
const HostID UserID = "server"

// Recipient is the $to field: ToAll, ToOthers or a specific user id.
type Recipient string

const (
	ToAll    Recipient = "all"
	ToOthers Recipient = "others"
)

// To addresses a single user.
func To(u UserID) Recipient { return Recipient(u) }

// User returns the addressed user when r names one.
func (r Recipient) User() (UserID, bool) {
	if r == "" || r == ToAll || r == ToOthers {
		return "", false
	}
	return UserID(r), true
}

// NetworkID identifies a networked entity independent of its local handle.
// It is unique per (owner, NetworkID).
type NetworkID uint32

type Kind string

const (
	KindCreateClient      Kind = "network.CREATE_CLIENT"
	KindDestroyClient     Kind = "network.DESTROY_CLIENT"
	KindSpawnObject       Kind = "network.SPAWN_OBJECT"
	KindDestroyObject     Kind = "network.DESTROY_OBJECT"
	KindTransferOwnership Kind = "network.TRANSFER_OWNERSHIP"
	KindSetSceneFlag      Kind = "engine.SET_SCENE_FLAG"
	KindCustom            Kind = "custom"
)

// Header carries the fields every action has on the wire.
type Header struct {
	ID   string    `json:"$id,omitempty"`
	From UserID    `json:"$from"`
	To   Recipient `json:"$to,omitempty"`
}

// Payload is implemented only by the variant types of this package.
type Payload interface {
	Kind() Kind
	validate() error
}

// Action is an immutable replicated record. Copy it freely.
type Action struct {
	Header
	Payload Payload
}

// New stamps a fresh id on a payload. An empty recipient means ToAll.
func New(from UserID, to Recipient, p Payload) Action {
	if to == "" {
		to = ToAll
	}
	return Action{
		Header:  Header{ID: ulid.Make().String(), From: from, To: to},
		Payload: p,
	}
}

// Type returns the wire tag of the payload.
func (a Action) Type() Kind {
	if a.Payload == nil {
		return ""
	}
	return a.Payload.Kind()
}

// WithPayload returns a copy of a carrying p.
func (a Action) WithPayload(p Payload) Action {
	a.Payload = p
	return a
}

// WithFrom returns a copy of a with its origin replaced.
func (a Action) WithFrom(u UserID) Action {
	a.From = u
	return a
}

// Pose is a position and orientation with full float64 precision.
type Pose struct {
	Position mgl64.Vec3 `json:"position"`
	Rotation mgl64.Quat `json:"rotation"`
}

// CreateClient announces a participant to the others.
type CreateClient struct {
	Name  string `json:"name"`
	Index int    `json:"index"`
}

func (CreateClient) Kind() Kind { return KindCreateClient }
func (p CreateClient) validate() error {
	if p.Index < 0 {
		return errors.New("negative index")
	}
	return nil
}

// DestroyClient removes the origin user and everything it owns.
type DestroyClient struct{}

func (DestroyClient) Kind() Kind      { return KindDestroyClient }
func (DestroyClient) validate() error { return nil }

// SpawnObject creates a networked entity owned by the action's origin.
type SpawnObject struct {
	NetworkID  NetworkID `json:"networkId"`
	Prefab     string    `json:"prefab"`
	Parameters Pose      `json:"parameters"`
}

func (SpawnObject) Kind() Kind { return KindSpawnObject }
func (p SpawnObject) validate() error {
	if p.NetworkID == 0 {
		return errors.New("missing networkId")
	}
	if p.Prefab == "" {
		return errors.New("missing prefab")
	}
	return nil
}

// DestroyObject removes a networked entity owned by the action's origin.
type DestroyObject struct {
	NetworkID NetworkID `json:"networkId"`
}

func (DestroyObject) Kind() Kind { return KindDestroyObject }
func (p DestroyObject) validate() error {
	if p.NetworkID == 0 {
		return errors.New("missing networkId")
	}
	return nil
}

// TransferOwnership hands (Owner, NetworkID) over to NewOwner.
type TransferOwnership struct {
	NetworkID NetworkID `json:"networkId"`
	Owner     UserID    `json:"ownerId"`
	NewOwner  UserID    `json:"newOwnerId"`
}

func (TransferOwnership) Kind() Kind { return KindTransferOwnership }
func (p TransferOwnership) validate() error {
	switch {
	case p.NetworkID == 0:
		return errors.New("missing networkId")
	case p.Owner == "":
		return errors.New("missing ownerId")
	case p.NewOwner == "":
		return errors.New("missing newOwnerId")
	}
	return nil
}

// SetSceneFlag sets a world-level key/value flag.
type SetSceneFlag struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func (SetSceneFlag) Kind() Kind { return KindSetSceneFlag }
func (p SetSceneFlag) validate() error {
	if p.Key == "" {
		return errors.New("missing key")
	}
	return nil
}

// Custom is an application-defined action handled by script receptors.
type Custom struct {
	Name   string         `json:"name"`
	Params map[string]any `json:"params,omitempty"`
	Cache  bool           `json:"cache,omitempty"`
}

func (Custom) Kind() Kind { return KindCustom }
func (p Custom) validate() error {
	if p.Name == "" {
		return errors.New("missing name")
	}
	return nil
}
