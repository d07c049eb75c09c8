// Package archive moves old done tasks out of Postgres into cold blob storage.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/google/uuid"

	"fleet-dashboard/internal/models"
	"fleet-dashboard/internal/telemetry"
)

// Store lists and removes archived tasks.
type Store interface {
	ListDoneBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Task, error)
	DeleteTasks(ctx context.Context, ids []int64) (int64, error)
}

// Bucket receives the JSONL batches.
type Bucket interface {
	Put(ctx context.Context, key string, body []byte, contentType string) (string, error)
}

type Options struct {
	Store     Store
	Bucket    Bucket
	Prefix    string
	BatchSize int
	DryRun    bool
	Logger    *slog.Logger
	Now       func() time.Time
}

// Report summarizes one Run.
type Report struct {
	Batches  int      `json:"batches"`
	Archived int      `json:"archived"`
	Deleted  int64    `json:"deleted"`
	Objects  []string `json:"objects"`
	DryRun   bool     `json:"dry_run"`
}

type Archiver struct {
	store     Store
	bucket    Bucket
	prefix    string
	batchSize int
	dryRun    bool
	logger    *slog.Logger
	now       func() time.Time
}

func New(opts Options) *Archiver {
	a := &Archiver{
		store:     opts.Store,
		bucket:    opts.Bucket,
		prefix:    opts.Prefix,
		batchSize: opts.BatchSize,
		dryRun:    opts.DryRun,
		logger:    opts.Logger,
		now:       opts.Now,
	}
	if a.batchSize <= 0 {
		a.batchSize = 500
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	if a.now == nil {
		a.now = time.Now
	}
	return a
}

// Run archives done tasks last updated more than olderThan ago. Each batch is uploaded
// before its rows are deleted; a failed upload deletes nothing.
func (a *Archiver) Run(ctx context.Context, olderThan time.Duration) (Report, error) {
	report := Report{DryRun: a.dryRun, Objects: []string{}}
	cutoff := a.now().Add(-olderThan)
	for {
		tasks, err := a.store.ListDoneBefore(ctx, cutoff, a.batchSize)
		if err != nil {
			return report, err
		}
		if len(tasks) == 0 {
			return report, nil
		}
		report.Batches++
		report.Archived += len(tasks)

		if a.dryRun {
			for _, t := range tasks {
				a.logger.Info("would archive task", "task_id", t.ID, "title", t.Title, "updated_at", t.UpdatedAt)
			}
			// Nothing is deleted, so another page would repeat this one.
			return report, nil
		}

		key := a.objectKey()
		body, err := encodeJSONL(tasks)
		if err != nil {
			return report, err
		}
		location, err := a.bucket.Put(ctx, key, body, "application/x-ndjson")
		if err != nil {
			return report, fmt.Errorf("upload %s: %w", key, err)
		}
		report.Objects = append(report.Objects, location)

		ids := make([]int64, len(tasks))
		for i, t := range tasks {
			ids[i] = t.ID
		}
		deleted, err := a.store.DeleteTasks(ctx, ids)
		if err != nil {
			return report, fmt.Errorf("delete archived batch %s: %w", key, err)
		}
		report.Deleted += deleted
		telemetry.TasksArchived.Add(float64(deleted))
		a.logger.Info("archived batch", "object", location, "tasks", len(tasks), "deleted", deleted)

		if len(tasks) < a.batchSize {
			return report, nil
		}
	}
}

func (a *Archiver) objectKey() string {
	day := a.now().UTC().Format("2006/01/02")
	return path.Join(a.prefix, day, uuid.NewString()+".jsonl")
}

func encodeJSONL(tasks []models.Task) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, t := range tasks {
		if err := enc.Encode(t); err != nil {
			return nil, fmt.Errorf("encode task %d: %w", t.ID, err)
		}
	}
	return buf.Bytes(), nil
}
