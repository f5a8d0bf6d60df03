package persist

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// HistoryWriter stores archived actions.
type HistoryWriter interface {
	InsertBatch(ctx context.Context, rows []HistoryRow) error
}

// Archiver moves history batches off the game loop. Submit never blocks:
// when the queue is full the batch is dropped and counted.
type Archiver struct {
	writer  HistoryWriter
	queue   chan []HistoryRow
	done    chan struct{}
	timeout time.Duration
	dropped int
	log     *zap.Logger
}

func NewArchiver(writer HistoryWriter, queueSize int, log *zap.Logger) *Archiver {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Archiver{
		writer:  writer,
		queue:   make(chan []HistoryRow, queueSize),
		done:    make(chan struct{}),
		timeout: 5 * time.Second,
		log:     log,
	}
}

// Submit queues one batch. Game loop only.
func (a *Archiver) Submit(rows []HistoryRow) bool {
	if len(rows) == 0 {
		return true
	}
	select {
	case a.queue <- rows:
		return true
	default:
		a.dropped++
		a.log.Warn("archive queue full, dropping batch",
			zap.Int("rows", len(rows)),
			zap.Int("dropped_batches", a.dropped),
		)
		return false
	}
}

// Dropped is the number of batches lost to a full queue. Game loop only.
func (a *Archiver) Dropped() int { return a.dropped }

// Run writes batches until ctx is cancelled, then drains what is queued.
func (a *Archiver) Run(ctx context.Context) {
	defer close(a.done)
	for {
		select {
		case rows := <-a.queue:
			a.write(context.Background(), rows)
		case <-ctx.Done():
			for {
				select {
				case rows := <-a.queue:
					a.write(context.Background(), rows)
				default:
					return
				}
			}
		}
	}
}

// Wait blocks until Run has returned.
func (a *Archiver) Wait() { <-a.done }

func (a *Archiver) write(parent context.Context, rows []HistoryRow) {
	ctx, cancel := context.WithTimeout(parent, a.timeout)
	defer cancel()
	if err := a.writer.InsertBatch(ctx, rows); err != nil {
		a.log.Error("archive write failed", zap.Int("rows", len(rows)), zap.Error(err))
	}
}
