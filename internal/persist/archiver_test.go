package persist

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/l1jgo/networld/internal/action"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type memWriter struct {
	mu   sync.Mutex
	rows []HistoryRow
	fail bool
}

func (m *memWriter) InsertBatch(_ context.Context, rows []HistoryRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("db down")
	}
	m.rows = append(m.rows, rows...)
	return nil
}

func TestNewHistoryRow(t *testing.T) {
	a := action.New("alice", "", action.SetSceneFlag{Key: "k", Value: "v"})
	row, err := NewHistoryRow("lobby", 42, a)
	if err != nil {
		t.Fatal(err)
	}
	if row.World != "lobby" || row.Tick != 42 || row.ActionID != a.ID || row.From != "alice" || row.To != "all" {
		t.Fatalf("row = %+v", row)
	}
	if row.Type != string(action.KindSetSceneFlag) {
		t.Fatalf("type = %s", row.Type)
	}
	var body map[string]any
	if err := json.Unmarshal(row.Body, &body); err != nil {
		t.Fatal(err)
	}
	if body["key"] != "k" || body["$from"] != "alice" {
		t.Fatalf("body = %v", body)
	}
}

func TestArchiverDrainsOnCancel(t *testing.T) {
	w := &memWriter{}
	a := NewArchiver(w, 8, zap.NewNop())
	for i := 0; i < 3; i++ {
		if !a.Submit([]HistoryRow{{World: "w", Tick: uint64(i)}}) {
			t.Fatalf("submit %d refused", i)
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a.Run(ctx)
	a.Wait()

	if len(w.rows) != 3 {
		t.Fatalf("archived %d rows, want 3", len(w.rows))
	}
}

func TestArchiverDropsWhenFull(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	a := NewArchiver(&memWriter{}, 1, zap.New(core))
	if !a.Submit([]HistoryRow{{}}) {
		t.Fatal("first submit refused")
	}
	if a.Submit([]HistoryRow{{}}) {
		t.Fatal("second submit accepted by a full queue")
	}
	if a.Dropped() != 1 || logs.FilterMessage("archive queue full, dropping batch").Len() != 1 {
		t.Fatalf("dropped=%d logs=%d", a.Dropped(), logs.Len())
	}
	if !a.Submit(nil) {
		t.Fatal("empty batch should be a no-op success")
	}
}

func TestArchiverLogsWriteErrors(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	a := NewArchiver(&memWriter{fail: true}, 4, zap.New(core))
	a.Submit([]HistoryRow{{}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a.Run(ctx)
	if logs.FilterMessage("archive write failed").Len() != 1 {
		t.Fatalf("logs = %v", logs.All())
	}
}
