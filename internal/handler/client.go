package handler

import (
	"fmt"

	"github.com/l1jgo/networld/internal/world"
)

// ApplyJoinPayload brings a participant's world in line with a host's join
// response: the tick counter is seeded, the client list mirrored with the
// host's indices and the cached actions queued for the next FIXED_EARLY.
func ApplyJoinPayload(w *world.World, resp *JoinResponse) error {
	if w.IsHosting() {
		return fmt.Errorf("apply join payload to hosting world %s", w.Name())
	}
	w.SetFixedTick(resp.Tick)
	now := w.Now()
	for _, c := range resp.Clients {
		if _, err := w.Clients().Insert(c.UserID, c.Index, c.Name, now); err != nil {
			return fmt.Errorf("mirror client %s: %w", c.UserID, err)
		}
	}
	w.ReceiveActions(resp.CachedActions...)
	return nil
}
