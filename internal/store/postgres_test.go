package store

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"fleet-dashboard/internal/lifecycle"
	"fleet-dashboard/internal/models"
)

// These tests need a scratch database: POSTGRES_DSN=postgres://... go test ./internal/store
func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_DSN not set")
	}
	ctx := context.Background()
	st, err := New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(st.Close)
	if err := st.RunMigrations(ctx); err != nil {
		t.Fatalf("migrations: %v", err)
	}
	return st
}

var errRollback = errors.New("rollback")

func TestCompareAndSetCursor(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	key := "test:" + uuid.NewString()
	missing := "test:" + uuid.NewString()
	t.Cleanup(func() {
		_, _ = st.db.Exec(context.Background(), `DELETE FROM event_cursors WHERE key = ANY($1)`, []string{key, missing})
	})

	steps := []struct {
		old, new int64
		want     bool
	}{
		{0, 5, true},
		{0, 7, false},  // lost: cursor is no longer 0
		{5, 3, false},  // never backwards
		{9, 12, false}, // stale old
		{5, 8, true},
	}
	for i, s := range steps {
		got, err := st.CompareAndSetCursor(ctx, key, s.old, s.new)
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if got != s.want {
			t.Fatalf("step %d (%d -> %d): got %v want %v", i, s.old, s.new, got, s.want)
		}
	}
	if v, _ := st.CursorValue(ctx, key); v != 8 {
		t.Fatalf("expected cursor 8, got %d", v)
	}

	won, err := st.CompareAndSetCursor(ctx, missing, 4, 6)
	if err != nil || won {
		t.Fatalf("a missing row must only match old=0: won=%v err=%v", won, err)
	}
	if v, _ := st.CursorValue(ctx, missing); v != 0 {
		t.Fatalf("missing cursor was created with %d", v)
	}
}

func TestResolveReviewsRejectBumpsOnce(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	err := st.WithTx(ctx, func(tx *Store) error {
		create := func(title string, status models.TaskStatus, rejections int) models.Task {
			task, err := tx.CreateTask(ctx, models.NewTask{Title: title, Status: status})
			if err != nil {
				t.Fatalf("create %s: %v", title, err)
			}
			if _, err := tx.db.Exec(ctx, `UPDATE tasks SET rejection_count = $2 WHERE id = $1`, task.ID, rejections); err != nil {
				t.Fatalf("seed rejections: %v", err)
			}
			task.RejectionCount = rejections
			return task
		}
		a := create("review a", models.StatusReview, 0)
		b := create("review b", models.StatusReview, 2)
		backlog := create("waiting", models.StatusBacklog, 1)
		done := create("shipped", models.StatusDone, 3)

		resolved, err := tx.ResolveReviews(ctx, lifecycle.OutcomeRejected)
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		got := map[int64]models.Task{}
		for _, task := range resolved {
			got[task.ID] = task
		}
		for _, want := range []models.Task{a, b} {
			r, ok := got[want.ID]
			if !ok || r.Status != models.StatusBacklog || r.RejectionCount != want.RejectionCount+1 {
				t.Fatalf("task %d: %+v", want.ID, r)
			}
		}
		for _, untouched := range []models.Task{backlog, done} {
			if _, ok := got[untouched.ID]; ok {
				t.Fatalf("task %d was not in review", untouched.ID)
			}
			r, err := tx.GetTask(ctx, untouched.ID)
			if err != nil || r.Status != untouched.Status || r.RejectionCount != untouched.RejectionCount {
				t.Fatalf("task %d changed: %+v %v", untouched.ID, r, err)
			}
		}

		again, err := tx.ResolveReviews(ctx, lifecycle.OutcomeRejected)
		if err != nil {
			t.Fatalf("second resolve: %v", err)
		}
		for _, task := range again {
			if task.ID == a.ID || task.ID == b.ID {
				t.Fatalf("task %d rejected twice", task.ID)
			}
		}
		return errRollback
	})
	if !errors.Is(err, errRollback) {
		t.Fatalf("unexpected tx result: %v", err)
	}
}

func TestWithTxRollsBackOnError(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	var id int64
	err := st.WithTx(ctx, func(tx *Store) error {
		task, err := tx.CreateTask(ctx, models.NewTask{Title: "never committed " + uuid.NewString()})
		if err != nil {
			return err
		}
		id = task.ID
		return tx.WithTx(ctx, func(inner *Store) error { return errRollback })
	})
	if !errors.Is(err, errRollback) || id == 0 {
		t.Fatalf("unexpected tx result: id=%d err=%v", id, err)
	}
	if _, err := st.GetTask(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("task %d survived rollback: %v", id, err)
	}
}

func TestUpsertStationMergesPartialPatch(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	agent := "test-" + uuid.NewString()
	t.Cleanup(func() {
		_, _ = st.db.Exec(context.Background(), `DELETE FROM office_stations WHERE agent_id = $1`, agent)
	})

	name, role, task := "Tester", "qa", "review #4"
	working := models.StationWorking
	first, err := st.UpsertStation(ctx, models.StationPatch{AgentID: agent, AgentName: &name, Role: &role, CurrentTask: &task, Status: &working})
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	idle := models.StationIdle
	second, err := st.UpsertStation(ctx, models.StationPatch{AgentID: agent, Status: &idle})
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if second.AgentName != name || second.Role != role || second.CurrentTask != task || second.Status != idle {
		t.Fatalf("nil fields must keep stored values: %+v", second)
	}
	if !second.UpdatedAt.After(first.UpdatedAt) {
		t.Fatalf("updated_at not bumped: %s -> %s", first.UpdatedAt, second.UpdatedAt)
	}

	// Conditional writes only land on the status they expect.
	if _, ok, err := st.UpdateStationIf(ctx, models.StationWorking, models.StationPatch{AgentID: agent, Status: &working}); err != nil || ok {
		t.Fatalf("update against stale status must not apply: ok=%v err=%v", ok, err)
	}
	if _, ok, err := st.CreateStation(ctx, models.StationPatch{AgentID: agent, Status: &working}); err != nil || ok {
		t.Fatalf("create must not overwrite an existing row: ok=%v err=%v", ok, err)
	}
	row, ok, err := st.UpdateStationIf(ctx, models.StationIdle, models.StationPatch{AgentID: agent, Status: &working})
	if err != nil || !ok || row.Status != working || row.CurrentTask != task {
		t.Fatalf("matching conditional update failed: %+v ok=%v err=%v", row, ok, err)
	}
}

func TestEventsAreAppendOnly(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	var updateErr error
	err := st.WithTx(ctx, func(tx *Store) error {
		ev, err := tx.AppendEvent(ctx, models.NewEvent{AgentID: "ralph", AgentName: "Ralph", Type: models.EventSystem, Title: "immutable"})
		if err != nil {
			return err
		}
		_, updateErr = tx.db.Exec(ctx, `UPDATE events SET title = 'rewritten' WHERE id = $1`, ev.ID)
		return errRollback
	})
	if !errors.Is(err, errRollback) {
		t.Fatalf("unexpected tx result: %v", err)
	}
	if updateErr == nil || !strings.Contains(updateErr.Error(), "append-only") {
		t.Fatalf("expected the trigger to reject the update, got %v", updateErr)
	}
}
