// Package notes appends short dated lines to the daily memory log.
package notes

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"fleet-dashboard/internal/blob"
)

// Journal keeps one markdown file per day under prefix. Appends are read-modify-write,
// so they are serialized within the process.
type Journal struct {
	bucket blob.Bucket
	prefix string
	loc    *time.Location
	mu     sync.Mutex
}

func NewJournal(bucket blob.Bucket, prefix string, loc *time.Location) *Journal {
	if prefix == "" {
		prefix = "memory"
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Journal{bucket: bucket, prefix: prefix, loc: loc}
}

// Key is the object holding the notes for the day containing at.
func (j *Journal) Key(at time.Time) string {
	return path.Join(j.prefix, at.In(j.loc).Format("2006-01-02")+".md")
}

// Append adds "- HH:MM line" to the day's log, creating it with a heading if needed.
func (j *Journal) Append(ctx context.Context, at time.Time, line string) error {
	at = at.In(j.loc)
	key := j.Key(at)

	j.mu.Lock()
	defer j.mu.Unlock()

	existing, err := j.bucket.Get(ctx, key)
	if errors.Is(err, blob.ErrNotExist) {
		existing = []byte(fmt.Sprintf("# %s\n\n", at.Format("2006-01-02")))
	} else if err != nil {
		return fmt.Errorf("read %s: %w", key, err)
	}

	var b strings.Builder
	b.Write(existing)
	if len(existing) > 0 && !strings.HasSuffix(string(existing), "\n") {
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "- %s %s\n", at.Format("15:04"), strings.TrimSpace(line))

	if _, err := j.bucket.Put(ctx, key, []byte(b.String()), "text/markdown; charset=utf-8"); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

// ReviewLine summarizes one bulk review resolution.
func ReviewLine(approved, rejected int, titles []string) string {
	line := fmt.Sprintf("QA review resolved: %d approved, %d rejected", approved, rejected)
	if len(titles) > 0 {
		line += " (" + strings.Join(titles, "; ") + ")"
	}
	return line
}
