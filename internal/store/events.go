package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"fleet-dashboard/internal/models"
)

const (
	DefaultEventPage = 50
	eventColumns     = "id, agent_id, agent_name, event_type, title, detail, created_at"
)

// AppendEvent inserts a new event. Events are never updated or deleted by this package.
func (s *Store) AppendEvent(ctx context.Context, e models.NewEvent) (models.Event, error) {
	if err := e.Validate(); err != nil {
		return models.Event{}, err
	}
	out := models.Event{AgentID: e.AgentID, AgentName: e.AgentName, Type: e.Type, Title: e.Title, Detail: e.Detail}
	err := s.db.QueryRow(ctx, `
		INSERT INTO events (agent_id, agent_name, event_type, title, detail)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`, e.AgentID, e.AgentName, string(e.Type), e.Title, e.Detail).Scan(&out.ID, &out.CreatedAt)
	if err != nil {
		return models.Event{}, fmt.Errorf("insert event: %w", mapPgErr(err))
	}
	return out, nil
}

// ListEvents returns a newest-first page. Limit is clamped to [1, max].
func (s *Store) ListEvents(ctx context.Context, q models.EventQuery, max int) ([]models.Event, error) {
	sql, args := buildEventPage(q, max)
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return collectEvents(rows)
}

// LatestEventAfter returns the single highest-id event past after that matches filter.
func (s *Store) LatestEventAfter(ctx context.Context, after int64, filter models.EventFilter) (models.Event, bool, error) {
	w := &where{}
	w.add("id > %s", after)
	if filter.AgentID != "" {
		w.add("agent_id = %s", filter.AgentID)
	}
	if filter.Type != "" {
		w.add("event_type = %s", string(filter.Type))
	}
	rows, err := s.db.Query(ctx, "SELECT "+eventColumns+" FROM events"+w.sql()+" ORDER BY id DESC LIMIT 1", w.args...)
	if err != nil {
		return models.Event{}, false, fmt.Errorf("query latest event: %w", err)
	}
	events, err := collectEvents(rows)
	if err != nil {
		return models.Event{}, false, err
	}
	if len(events) == 0 {
		return models.Event{}, false, nil
	}
	return events[0], true, nil
}

func buildEventPage(q models.EventQuery, max int) (string, []any) {
	if max <= 0 {
		max = DefaultEventPage
	}
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultEventPage
	}
	if limit > max {
		limit = max
	}
	w := &where{}
	if q.AgentID != "" {
		w.add("agent_id = %s", q.AgentID)
	}
	if q.Before > 0 {
		w.add("id < %s", q.Before)
	}
	if q.After > 0 {
		w.add("id > %s", q.After)
	}
	w.args = append(w.args, limit)
	sql := fmt.Sprintf("SELECT %s FROM events%s ORDER BY id DESC LIMIT $%d", eventColumns, w.sql(), len(w.args))
	return sql, w.args
}

func collectEvents(rows pgx.Rows) ([]models.Event, error) {
	defer rows.Close()
	var out []models.Event
	for rows.Next() {
		var ev models.Event
		if err := rows.Scan(&ev.ID, &ev.AgentID, &ev.AgentName, &ev.Type, &ev.Title, &ev.Detail, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}

// where accumulates AND-ed conditions with positional arguments.
type where struct {
	conds []string
	args  []any
}

func (w *where) add(cond string, arg any) {
	w.args = append(w.args, arg)
	w.conds = append(w.conds, fmt.Sprintf(cond, fmt.Sprintf("$%d", len(w.args))))
}

func (w *where) sql() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}
