package system

import (
	"time"

	"github.com/l1jgo/networld/internal/action"
	"github.com/l1jgo/networld/internal/world"
	"go.uber.org/zap"
)

// StaleSource lists clients that have not sent a heartbeat recently.
type StaleSource interface {
	StaleClients(now time.Time, olderThan time.Duration) []action.UserID
}

// StaleReportSystem logs clients whose heartbeat is overdue, at most once
// per interval. It reports only; eviction is an operator decision.
type StaleReportSystem struct {
	source    StaleSource
	olderThan time.Duration
	next      time.Time
	log       *zap.Logger
}

func NewStaleReportSystem(source StaleSource, olderThan time.Duration, log *zap.Logger) *StaleReportSystem {
	return &StaleReportSystem{source: source, olderThan: olderThan, log: log}
}

func (s *StaleReportSystem) Execute(w *world.World) {
	now := w.Now()
	if now.Before(s.next) {
		return
	}
	s.next = now.Add(s.olderThan)
	stale := s.source.StaleClients(now, s.olderThan)
	if len(stale) == 0 {
		return
	}
	users := make([]string, len(stale))
	for i, u := range stale {
		users[i] = string(u)
	}
	s.log.Warn("clients without heartbeat",
		zap.Strings("users", users),
		zap.Duration("older_than", s.olderThan),
	)
}
