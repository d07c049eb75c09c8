package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"fleet-dashboard/internal/lifecycle"
	"fleet-dashboard/internal/models"
)

const taskColumns = "id, title, description, assignee, priority, status, rejection_count, created_at, updated_at"

// CreateTask inserts an externally submitted task.
func (s *Store) CreateTask(ctx context.Context, n models.NewTask) (models.Task, error) {
	if err := n.Normalize(); err != nil {
		return models.Task{}, err
	}
	row := s.db.QueryRow(ctx, `
		INSERT INTO tasks (title, description, assignee, priority, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+taskColumns,
		n.Title, n.Description, n.Assignee, string(n.Priority), string(n.Status))
	t, err := scanTask(row)
	if err != nil {
		return models.Task{}, fmt.Errorf("insert task: %w", mapPgErr(err))
	}
	return t, nil
}

// GetTask fetches a task by id.
func (s *Store) GetTask(ctx context.Context, id int64) (models.Task, error) {
	t, err := scanTask(s.db.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id))
	if err != nil {
		return models.Task{}, fmt.Errorf("task %d: %w", id, mapPgErr(err))
	}
	return t, nil
}

// FindTaskByTitle is the fallback lookup: the most recently updated task whose title contains substr.
func (s *Store) FindTaskByTitle(ctx context.Context, substr string) (models.Task, error) {
	substr = strings.TrimSpace(substr)
	if substr == "" {
		return models.Task{}, models.Invalid("title", "lookup needs a non-empty title fragment")
	}
	t, err := scanTask(s.db.QueryRow(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE title ILIKE $1 ESCAPE '\'
		ORDER BY updated_at DESC, id DESC
		LIMIT 1
	`, likePattern(substr)))
	if err != nil {
		return models.Task{}, fmt.Errorf("task matching %q: %w", substr, mapPgErr(err))
	}
	return t, nil
}

// ListTasks returns tasks ordered by id, optionally restricted to one status.
func (s *Store) ListTasks(ctx context.Context, status models.TaskStatus) ([]models.Task, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if status == "" {
		rows, err = s.db.Query(ctx, `SELECT `+taskColumns+` FROM tasks ORDER BY id`)
	} else {
		rows, err = s.db.Query(ctx, `SELECT `+taskColumns+` FROM tasks WHERE status = $1 ORDER BY id`, string(status))
	}
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return collectTasks(rows)
}

// UpdateTask applies a partial update. Status changes must be legal external transitions
// and rejection_count may only grow.
func (s *Store) UpdateTask(ctx context.Context, id int64, p models.TaskPatch) (models.Task, error) {
	if err := p.Validate(); err != nil {
		return models.Task{}, err
	}
	var out models.Task
	err := s.WithTx(ctx, func(tx *Store) error {
		current, err := scanTask(tx.db.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return fmt.Errorf("task %d: %w", id, mapPgErr(err))
		}
		if p.Status != nil {
			if err := lifecycle.CheckTransition(current.Status, *p.Status); err != nil {
				return err
			}
		}
		if p.RejectionCount != nil && *p.RejectionCount < current.RejectionCount {
			return models.Invalid("rejection_count", fmt.Sprintf("cannot decrease from %d", current.RejectionCount))
		}
		sql, args := buildTaskUpdate(id, p)
		out, err = scanTask(tx.db.QueryRow(ctx, sql, args...))
		if err != nil {
			return fmt.Errorf("update task %d: %w", id, mapPgErr(err))
		}
		return nil
	})
	return out, err
}

// ResolveReviews moves every task in review to the outcome's target status in one statement.
// Rejections bump rejection_count by exactly one.
func (s *Store) ResolveReviews(ctx context.Context, outcome lifecycle.Outcome) ([]models.Task, error) {
	bump := 0
	if outcome == lifecycle.OutcomeRejected {
		bump = 1
	}
	rows, err := s.db.Query(ctx, `
		UPDATE tasks
		SET status = $1, rejection_count = rejection_count + $2, updated_at = NOW()
		WHERE status = $3
		RETURNING `+taskColumns,
		string(outcome.Target()), bump, string(models.StatusReview))
	if err != nil {
		return nil, fmt.Errorf("resolve reviews: %w", err)
	}
	return collectTasks(rows)
}

// ListDoneBefore returns done tasks last touched before cutoff, oldest first.
func (s *Store) ListDoneBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Task, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.db.Query(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at, id
		LIMIT $3
	`, string(models.StatusDone), cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list done tasks: %w", err)
	}
	return collectTasks(rows)
}

// DeleteTasks removes the given done tasks. Rows that left done in the meantime are kept.
func (s *Store) DeleteTasks(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.db.Exec(ctx, `DELETE FROM tasks WHERE id = ANY($1) AND status = $2`, ids, string(models.StatusDone))
	if err != nil {
		return 0, fmt.Errorf("delete tasks: %w", err)
	}
	return tag.RowsAffected(), nil
}

func buildTaskUpdate(id int64, p models.TaskPatch) (string, []any) {
	sets := []string{}
	args := []any{id}
	set := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if p.Status != nil {
		set("status", string(*p.Status))
	}
	if p.Assignee != nil {
		set("assignee", strings.TrimSpace(*p.Assignee))
	}
	if p.Priority != nil {
		set("priority", string(*p.Priority))
	}
	if p.Description != nil {
		set("description", *p.Description)
	}
	if p.RejectionCount != nil {
		set("rejection_count", *p.RejectionCount)
	}
	sets = append(sets, "updated_at = NOW()")
	return fmt.Sprintf("UPDATE tasks SET %s WHERE id = $1 RETURNING %s", strings.Join(sets, ", "), taskColumns), args
}

func likePattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(s) + "%"
}

func scanTask(row pgx.Row) (models.Task, error) {
	var t models.Task
	err := row.Scan(&t.ID, &t.Title, &t.Description, &t.Assignee, &t.Priority, &t.Status, &t.RejectionCount, &t.CreatedAt, &t.UpdatedAt)
	return t, err
}

func collectTasks(rows pgx.Rows) ([]models.Task, error) {
	defer rows.Close()
	var out []models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return out, nil
}
