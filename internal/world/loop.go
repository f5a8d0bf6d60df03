package world

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Loop drives one or more worlds at a fixed tick rate. It owns the only
// timer involved; cancelling the context stops it and shuts every world down.
type Loop struct {
	worlds []*World
	tick   time.Duration
	log    *zap.Logger
}

func NewLoop(tick time.Duration, log *zap.Logger, worlds ...*World) *Loop {
	return &Loop{worlds: worlds, tick: tick, log: log}
}

// Run blocks until ctx is done. A step in progress always completes.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.tick)
	defer ticker.Stop()

	start := time.Now()
	last := start
	for {
		select {
		case <-ctx.Done():
			for _, w := range l.worlds {
				w.Shutdown()
			}
			l.log.Info("tick loop stopped")
			return
		case now := <-ticker.C:
			delta := now.Sub(last).Seconds()
			elapsed := now.Sub(start).Seconds()
			last = now
			for _, w := range l.worlds {
				w.Step(delta, elapsed)
			}
		}
	}
}
