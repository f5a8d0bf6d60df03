package world

import (
	coresys "github.com/l1jgo/networld/internal/core/system"
)

// ActionDispatchSystem applies every action collected since the previous
// step to the receptors. FIXED_EARLY, registered first.
type ActionDispatchSystem struct{}

func NewActionDispatchSystem(*World) (coresys.System[*World], error) {
	return &ActionDispatchSystem{}, nil
}

func (s *ActionDispatchSystem) Execute(w *World) {
	batch := w.takeIncoming()
	w.lastBatch = batch
	for _, a := range batch {
		w.apply(a)
	}
}

// ActionCleanupSystem enforces the optional history retention cap. FIXED_LATE.
type ActionCleanupSystem struct{}

func NewActionCleanupSystem(*World) (coresys.System[*World], error) {
	return &ActionCleanupSystem{}, nil
}

func (s *ActionCleanupSystem) Execute(w *World) {
	w.trimHistory()
}
