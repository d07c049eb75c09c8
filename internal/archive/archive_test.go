package archive

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"fleet-dashboard/internal/blob"
	"fleet-dashboard/internal/models"
)

type fakeStore struct {
	tasks   []models.Task
	deleted [][]int64
}

func (f *fakeStore) ListDoneBefore(_ context.Context, cutoff time.Time, limit int) ([]models.Task, error) {
	var out []models.Task
	for _, t := range f.tasks {
		if t.Status == models.StatusDone && t.UpdatedAt.Before(cutoff) && len(out) < limit {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeStore) DeleteTasks(_ context.Context, ids []int64) (int64, error) {
	f.deleted = append(f.deleted, ids)
	drop := map[int64]bool{}
	for _, id := range ids {
		drop[id] = true
	}
	kept := f.tasks[:0]
	for _, t := range f.tasks {
		if !drop[t.ID] {
			kept = append(kept, t)
		}
	}
	n := int64(len(f.tasks) - len(kept))
	f.tasks = kept
	return n, nil
}

type failingBucket struct{}

func (failingBucket) Put(context.Context, string, []byte, string) (string, error) {
	return "", errors.New("bucket unavailable")
}

var now = time.Date(2026, 10, 17, 3, 0, 0, 0, time.UTC)

func seed() *fakeStore {
	old := now.Add(-40 * 24 * time.Hour)
	return &fakeStore{tasks: []models.Task{
		{ID: 1, Title: "old done", Status: models.StatusDone, UpdatedAt: old},
		{ID: 2, Title: "older done", Status: models.StatusDone, UpdatedAt: old.Add(-time.Hour)},
		{ID: 3, Title: "recent done", Status: models.StatusDone, UpdatedAt: now.Add(-time.Hour)},
		{ID: 4, Title: "old backlog", Status: models.StatusBacklog, UpdatedAt: old},
		{ID: 5, Title: "third old done", Status: models.StatusDone, UpdatedAt: old},
	}}
}

func TestRunUploadsThenDeletes(t *testing.T) {
	st := seed()
	dir := t.TempDir()
	bucket := blob.NewLocal(dir)
	a := New(Options{Store: st, Bucket: bucket, Prefix: "archive/tasks", BatchSize: 2, Now: func() time.Time { return now }})

	report, err := a.Run(context.Background(), 30*24*time.Hour)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Archived != 3 || report.Deleted != 3 || report.Batches != 2 || len(report.Objects) != 2 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if len(st.tasks) != 2 {
		t.Fatalf("expected recent and backlog tasks to remain, got %+v", st.tasks)
	}

	key := strings.TrimPrefix(report.Objects[0], dir+"/")
	if !strings.HasPrefix(key, "archive/tasks/2026/10/17/") || !strings.HasSuffix(key, ".jsonl") {
		t.Fatalf("unexpected object key %q", key)
	}
	body, err := bucket.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	lines := 0
	sc := bufio.NewScanner(bytes.NewReader(body))
	for sc.Scan() {
		var task models.Task
		if err := json.Unmarshal(sc.Bytes(), &task); err != nil {
			t.Fatalf("line %d is not a task: %v", lines+1, err)
		}
		lines++
	}
	if lines != 2 {
		t.Fatalf("expected 2 tasks in first batch, got %d", lines)
	}
}

func TestUploadFailureDeletesNothing(t *testing.T) {
	st := seed()
	a := New(Options{Store: st, Bucket: failingBucket{}, Prefix: "archive", Now: func() time.Time { return now }})
	if _, err := a.Run(context.Background(), 30*24*time.Hour); err == nil {
		t.Fatalf("expected upload error")
	}
	if len(st.deleted) != 0 || len(st.tasks) != 5 {
		t.Fatalf("nothing may be deleted after a failed upload")
	}
}

func TestDryRunWritesNothing(t *testing.T) {
	st := seed()
	a := New(Options{Store: st, Bucket: failingBucket{}, DryRun: true, Now: func() time.Time { return now }})
	report, err := a.Run(context.Background(), 30*24*time.Hour)
	if err != nil {
		t.Fatalf("dry run: %v", err)
	}
	if !report.DryRun || report.Archived != 3 || report.Deleted != 0 || len(st.deleted) != 0 {
		t.Fatalf("unexpected dry run report %+v", report)
	}
}
