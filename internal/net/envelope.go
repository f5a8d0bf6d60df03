package net

import (
	"encoding/json"
	"fmt"
)

// Envelope types. The first group is sent by clients, the second by the host.
const (
	TypeJoin      = "join"
	TypeActions   = "actions"
	TypeHeartbeat = "heartbeat"
	TypeLeave     = "leave"
	TypeInvite    = "invite"

	TypeJoined   = "joined"
	TypeRejected = "rejected"
	TypeInvited  = "invited"
)

// Envelope is one websocket text frame.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Rejection is the payload of a rejected envelope.
type Rejection struct {
	Reason string `json:"reason"`
}

// Invitation is the payload of an invited envelope.
type Invitation struct {
	Code string `json:"code"`
}

func EncodeEnvelope(typ string, payload any) ([]byte, error) {
	env := Envelope{Type: typ}
	if payload != nil {
		raw, ok := payload.(json.RawMessage)
		if !ok {
			var err error
			if raw, err = json.Marshal(payload); err != nil {
				return nil, fmt.Errorf("encode %s payload: %w", typ, err)
			}
		}
		env.Payload = raw
	}
	return json.Marshal(env)
}

func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("decode envelope: missing type")
	}
	return env, nil
}
