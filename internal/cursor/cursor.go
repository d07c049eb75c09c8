// Package cursor implements durable per-consumer positions over the event log.
//
// A consumer only ever sees the highest matching event since its last
// position; earlier matches are skipped by the jump. That is only sound for
// state-convergent actions, so per-event consumers must not use it.
package cursor

import (
	"context"
	"errors"
	"fmt"

	"fleet-dashboard/internal/models"
)

// ErrRaceLost means another poller advanced the same key first. The caller must discard the event.
var ErrRaceLost = errors.New("cursor advanced concurrently")

// Store is the persistence the tracker needs. The Postgres store and its transactions satisfy it.
type Store interface {
	CursorValue(ctx context.Context, key string) (int64, error)
	LatestEventAfter(ctx context.Context, after int64, filter models.EventFilter) (models.Event, bool, error)
	CompareAndSetCursor(ctx context.Context, key string, old, new int64) (bool, error)
}

// Key names the cursor of a consumer bound to a filter.
func Key(consumer string, filter models.EventFilter) string {
	agent := filter.AgentID
	if agent == "" {
		agent = "*"
	}
	typ := string(filter.Type)
	if typ == "" {
		typ = "*"
	}
	return fmt.Sprintf("%s:%s:%s", consumer, agent, typ)
}

// CheckAndAdvance returns the newest event past the cursor that matches filter and
// moves the cursor onto it. ok is false when nothing new matched.
func CheckAndAdvance(ctx context.Context, st Store, key string, filter models.EventFilter) (models.Event, bool, error) {
	current, err := st.CursorValue(ctx, key)
	if err != nil {
		return models.Event{}, false, fmt.Errorf("load cursor %s: %w", key, err)
	}
	ev, found, err := st.LatestEventAfter(ctx, current, filter)
	if err != nil {
		return models.Event{}, false, fmt.Errorf("find event after %d: %w", current, err)
	}
	if !found {
		return models.Event{}, false, nil
	}
	won, err := st.CompareAndSetCursor(ctx, key, current, ev.ID)
	if err != nil {
		return models.Event{}, false, fmt.Errorf("advance cursor %s: %w", key, err)
	}
	if !won {
		return models.Event{}, false, ErrRaceLost
	}
	return ev, true, nil
}
