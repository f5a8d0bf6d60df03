package event

import "time"

// LongFrame is emitted once for every step whose wall-clock duration exceeded
// the world's threshold.
type LongFrame struct {
	World           string
	Tick            uint64
	Delta           float64
	Duration        time.Duration
	PendingIncoming int
	Batch           []string // types of the actions the step was applying
}

type ClientJoined struct {
	World  string
	UserID string
	Index  int
}

type ClientLeft struct {
	World  string
	UserID string
	Index  int
}
