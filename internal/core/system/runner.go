package system

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// ErrRegistrationClosed is returned when a system is registered after the
// first step has run.
var ErrRegistrationClosed = errors.New("system registration closed after first step")

type entry[W any] struct {
	name string
	sys  System[W]
}

// Runner executes systems in stage order each step, stage members in
// registration order.
type Runner[W any] struct {
	stages  [stageCount][]entry[W]
	started bool
	after   func(Stage)
	log     *zap.Logger
}

func NewRunner[W any](log *zap.Logger) *Runner[W] {
	return &Runner[W]{log: log}
}

// Register instantiates a system through factory and appends it to stage.
func (r *Runner[W]) Register(w W, stage Stage, name string, factory Factory[W]) error {
	if r.started {
		return ErrRegistrationClosed
	}
	if stage < 0 || stage >= stageCount {
		return fmt.Errorf("register %s: unknown stage %d", name, int(stage))
	}
	sys, err := factory(w)
	if err != nil {
		return fmt.Errorf("register %s: %w", name, err)
	}
	r.stages[stage] = append(r.stages[stage], entry[W]{name: name, sys: sys})
	return nil
}

// AfterStage installs a hook called once each stage has finished.
func (r *Runner[W]) AfterStage(fn func(Stage)) {
	r.after = fn
}

// Len returns the number of systems registered on stage.
func (r *Runner[W]) Len(stage Stage) int {
	return len(r.stages[stage])
}

// Step runs every stage once. A panicking system is logged and skipped; the
// step always runs to completion.
func (r *Runner[W]) Step(w W) {
	r.started = true
	for stage := Stage(0); stage < stageCount; stage++ {
		for _, e := range r.stages[stage] {
			r.safeExecute(w, stage, e)
		}
		if r.after != nil {
			r.after(stage)
		}
	}
}

func (r *Runner[W]) safeExecute(w W, stage Stage, e entry[W]) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("system panic recovered",
				zap.String("system", e.name),
				zap.Stringer("stage", stage),
				zap.Any("panic", rec),
			)
		}
	}()
	e.sys.Execute(w)
}
