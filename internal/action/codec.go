package action

import (
	"encoding/json"
	"errors"
	"fmt"
)

type wireHeader struct {
	Type Kind `json:"type"`
	Header
}

// MarshalJSON writes the flat wire shape {type, $id, $from, $to, ...params}.
func (a Action) MarshalJSON() ([]byte, error) {
	if a.Payload == nil {
		return nil, fmt.Errorf("%w: nil payload", ErrMalformed)
	}
	head, err := json.Marshal(wireHeader{Type: a.Payload.Kind(), Header: a.Header})
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(a.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", a.Payload.Kind(), err)
	}
	if len(body) <= 2 { // "{}"
		return head, nil
	}
	out := make([]byte, 0, len(head)+len(body))
	out = append(out, head[:len(head)-1]...)
	out = append(out, ',')
	out = append(out, body[1:]...)
	return out, nil
}

// UnmarshalJSON decodes the flat wire shape into the matching variant and
// checks its required fields.
func (a *Action) UnmarshalJSON(data []byte) error {
	var h wireHeader
	if err := json.Unmarshal(data, &h); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	p, err := decodePayload(h.Type, data)
	if err != nil {
		return err
	}
	if err := p.validate(); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformed, h.Type, err)
	}
	a.Header = h.Header
	a.Payload = p
	return nil
}

func decodeAs[T Payload](data []byte) (Payload, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, v.Kind(), err)
	}
	return v, nil
}

func decodePayload(kind Kind, data []byte) (Payload, error) {
	switch kind {
	case KindCreateClient:
		return decodeAs[CreateClient](data)
	case KindDestroyClient:
		return decodeAs[DestroyClient](data)
	case KindSpawnObject:
		return decodeAs[SpawnObject](data)
	case KindDestroyObject:
		return decodeAs[DestroyObject](data)
	case KindTransferOwnership:
		return decodeAs[TransferOwnership](data)
	case KindSetSceneFlag:
		return decodeAs[SetSceneFlag](data)
	case KindCustom:
		return decodeAs[Custom](data)
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, kind)
	}
}

// Encode serializes a single action.
func Encode(a Action) ([]byte, error) {
	return json.Marshal(a)
}

// Decode parses a single action.
func Decode(data []byte) (Action, error) {
	var a Action
	err := json.Unmarshal(data, &a)
	return a, err
}

// EncodeBatch serializes actions as a JSON array.
func EncodeBatch(actions []Action) ([]byte, error) {
	if actions == nil {
		actions = []Action{}
	}
	return json.Marshal(actions)
}

// DecodeBatch parses a JSON array of actions. Entries that fail to decode are
// reported in errs (index-tagged) and left out of the result; they never stop
// the rest of the batch. A non-array input is returned as err.
func DecodeBatch(data []byte) (actions []Action, errs []error, err error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, nil, fmt.Errorf("%w: batch: %v", ErrMalformed, err)
	}
	actions = make([]Action, 0, len(raw))
	for i, r := range raw {
		a, err := Decode(r)
		if err != nil {
			errs = append(errs, fmt.Errorf("entry %d: %w", i, err))
			continue
		}
		actions = append(actions, a)
	}
	return actions, errs, nil
}

// IsProtocolViolation reports whether err came from a malformed or unknown action.
func IsProtocolViolation(err error) bool {
	return errors.Is(err, ErrMalformed) || errors.Is(err, ErrUnknownType)
}
