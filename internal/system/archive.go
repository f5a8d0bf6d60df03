package system

import (
	"github.com/l1jgo/networld/internal/action"
	coresys "github.com/l1jgo/networld/internal/core/system"
	"github.com/l1jgo/networld/internal/persist"
	"github.com/l1jgo/networld/internal/world"
	"go.uber.org/zap"
)

// Archive is where ArchiveSystem sends each step's applied actions.
type Archive interface {
	Submit(rows []persist.HistoryRow) bool
}

// ArchiveSystem collects every action the world applies during a step and
// hands the batch to the archive at POST_RENDER. It installs its own
// receptor, so it must be registered before the first step.
type ArchiveSystem struct {
	archive Archive
	batch   []persist.HistoryRow
	log     *zap.Logger
}

// NewArchiveSystem returns a factory binding the system to a world.
func NewArchiveSystem(archive Archive, log *zap.Logger) coresys.Factory[*world.World] {
	return func(w *world.World) (coresys.System[*world.World], error) {
		s := &ArchiveSystem{archive: archive, log: log}
		w.AddReceptor("archive", s.record)
		return s, nil
	}
}

func (s *ArchiveSystem) record(w *world.World, a action.Action) {
	row, err := persist.NewHistoryRow(w.Name(), w.FixedTick(), a)
	if err != nil {
		s.log.Warn("archive encode failed", zap.Error(err))
		return
	}
	s.batch = append(s.batch, row)
}

func (s *ArchiveSystem) Execute(_ *world.World) {
	if len(s.batch) == 0 {
		return
	}
	s.archive.Submit(s.batch)
	s.batch = nil
}
