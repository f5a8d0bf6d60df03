package handler

import "github.com/l1jgo/networld/internal/world"

// Resolution is a DuplicatePolicy's verdict.
type Resolution int

const (
	// Reject refuses the newcomer and leaves the existing session untouched.
	Reject Resolution = iota
	// Replace closes the existing session and moves the user, index
	// included, to the newcomer.
	Replace
)

// DuplicatePolicy decides what happens when a user connects while already
// bound to another connection.
type DuplicatePolicy func(existing *world.ClientRecord, newcomer Peer) Resolution

// RejectNewcomer keeps the first session. This is the default.
func RejectNewcomer(*world.ClientRecord, Peer) Resolution { return Reject }

// EvictExisting kicks the old session in favour of the new one.
func EvictExisting(*world.ClientRecord, Peer) Resolution { return Replace }
