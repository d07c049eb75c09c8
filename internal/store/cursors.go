package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// CursorValue loads the last processed event id for key, or 0 if the consumer never ran.
func (s *Store) CursorValue(ctx context.Context, key string) (int64, error) {
	var v int64
	err := s.db.QueryRow(ctx, `SELECT value FROM event_cursors WHERE key = $1`, key).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("query cursor: %w", err)
	}
	return v, nil
}

// CompareAndSetCursor moves key from old to new only if it still holds old.
// It reports false when another writer got there first. Cursors never move backwards,
// and a missing row only matches old == 0.
func (s *Store) CompareAndSetCursor(ctx context.Context, key string, old, new int64) (bool, error) {
	if new < old {
		return false, nil
	}
	var (
		tag pgconn.CommandTag
		err error
	)
	if old == 0 {
		tag, err = s.db.Exec(ctx, `
			INSERT INTO event_cursors (key, value, updated_at)
			VALUES ($1, $2, NOW())
			ON CONFLICT (key) DO UPDATE
			SET value = EXCLUDED.value, updated_at = NOW()
			WHERE event_cursors.value = 0
		`, key, new)
	} else {
		tag, err = s.db.Exec(ctx, `
			UPDATE event_cursors SET value = $3, updated_at = NOW()
			WHERE key = $1 AND value = $2
		`, key, old, new)
	}
	if err != nil {
		return false, fmt.Errorf("update cursor: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
