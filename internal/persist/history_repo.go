package persist

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/l1jgo/networld/internal/action"
)

// HistoryRow is one archived action.
type HistoryRow struct {
	World      string
	Tick       uint64
	ActionID   string
	Type       string
	From       string
	To         string
	Body       json.RawMessage
	RecordedAt time.Time
}

// NewHistoryRow encodes a for archiving.
func NewHistoryRow(world string, tick uint64, a action.Action) (HistoryRow, error) {
	body, err := action.Encode(a)
	if err != nil {
		return HistoryRow{}, fmt.Errorf("encode %s: %w", a.ID, err)
	}
	to := string(a.To)
	if to == "" {
		to = string(action.ToAll)
	}
	return HistoryRow{
		World:    world,
		Tick:     tick,
		ActionID: a.ID,
		Type:     string(a.Type()),
		From:     string(a.From),
		To:       to,
		Body:     body,
	}, nil
}

var historyColumns = []string{"world", "tick", "action_id", "action_type", "from_user", "to_user", "body"}

type HistoryRepo struct {
	db *DB
}

func NewHistoryRepo(db *DB) *HistoryRepo {
	return &HistoryRepo{db: db}
}

// InsertBatch copies rows into action_history in one round trip.
func (r *HistoryRepo) InsertBatch(ctx context.Context, rows []HistoryRow) error {
	if len(rows) == 0 {
		return nil
	}
	n, err := r.db.Pool.CopyFrom(ctx,
		pgx.Identifier{"action_history"},
		historyColumns,
		pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
			row := rows[i]
			return []any{row.World, int64(row.Tick), row.ActionID, row.Type, row.From, row.To, row.Body}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("copy action history: %w", err)
	}
	if int(n) != len(rows) {
		return fmt.Errorf("copy action history: wrote %d of %d rows", n, len(rows))
	}
	return nil
}

// Recent returns up to limit rows of world, newest first.
func (r *HistoryRepo) Recent(ctx context.Context, world string, limit int) ([]HistoryRow, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT world, tick, action_id, action_type, from_user, to_user, body, recorded_at
		 FROM action_history WHERE world = $1 ORDER BY id DESC LIMIT $2`,
		world, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query action history: %w", err)
	}
	defer rows.Close()

	var out []HistoryRow
	for rows.Next() {
		var h HistoryRow
		var tick int64
		if err := rows.Scan(&h.World, &tick, &h.ActionID, &h.Type, &h.From, &h.To, &h.Body, &h.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan action history: %w", err)
		}
		h.Tick = uint64(tick)
		out = append(out, h)
	}
	return out, rows.Err()
}

// Prune deletes rows of world older than before.
func (r *HistoryRepo) Prune(ctx context.Context, world string, before time.Time) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx,
		`DELETE FROM action_history WHERE world = $1 AND recorded_at < $2`,
		world, before,
	)
	if err != nil {
		return 0, fmt.Errorf("prune action history: %w", err)
	}
	return tag.RowsAffected(), nil
}
