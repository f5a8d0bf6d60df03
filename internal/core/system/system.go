package system

import "fmt"

// Stage defines execution ordering within a single step.
type Stage int

const (
	StageUpdate     Stage = iota // 0: per-frame work, transport intake
	StageFixedEarly              // 1: drain incoming actions into receptors
	StageFixed                   // 2: gameplay
	StageFixedLate               // 3: transforms, action cleanup
	StagePreRender               // 4
	StagePostRender              // 5: archive, diagnostics
	stageCount
)

// Stages lists every stage in execution order.
func Stages() []Stage {
	return []Stage{StageUpdate, StageFixedEarly, StageFixed, StageFixedLate, StagePreRender, StagePostRender}
}

func (s Stage) String() string {
	switch s {
	case StageUpdate:
		return "UPDATE"
	case StageFixedEarly:
		return "FIXED_EARLY"
	case StageFixed:
		return "FIXED"
	case StageFixedLate:
		return "FIXED_LATE"
	case StagePreRender:
		return "PRE_RENDER"
	case StagePostRender:
		return "POST_RENDER"
	default:
		return fmt.Sprintf("Stage(%d)", int(s))
	}
}

// System is one unit of per-step behaviour over the world context W.
// Systems keep whatever local state they need in their own struct.
type System[W any] interface {
	Execute(w W)
}

// Func adapts a plain function to System.
type Func[W any] func(w W)

func (f Func[W]) Execute(w W) { f(w) }

// Factory builds a system bound to the given world.
type Factory[W any] func(w W) (System[W], error)

// Static wraps an already-built system as a Factory.
func Static[W any](s System[W]) Factory[W] {
	return func(W) (System[W], error) { return s, nil }
}
