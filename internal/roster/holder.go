package roster

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// Holder publishes the current roster to concurrent readers.
type Holder struct {
	current atomic.Pointer[Roster]
	base    []Agent
}

// NewHolder starts with the base agents; file agents are layered on top by Reload.
func NewHolder(base ...Agent) *Holder {
	h := &Holder{base: base}
	h.current.Store(New(base...))
	return h
}

// Get returns the active roster.
func (h *Holder) Get() *Roster {
	return h.current.Load()
}

// Reload rebuilds the roster from the base agents plus the file at path.
// A broken file leaves the previous roster in place.
func (h *Holder) Reload(path string) error {
	agents, err := Load(path)
	if err != nil {
		return err
	}
	all := make([]Agent, 0, len(h.base)+len(agents))
	all = append(all, h.base...)
	all = append(all, agents...)
	h.current.Store(New(all...))
	return nil
}

// Watch reloads the roster whenever path changes until ctx is done.
// The parent directory is watched so editors that replace the file are seen.
func (h *Holder) Watch(ctx context.Context, path string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return err
	}
	target := filepath.Clean(path)

	go func() {
		defer fsw.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-fsw.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target || !ev.Has(fsnotify.Write|fsnotify.Create) {
					continue
				}
				if err := h.Reload(path); err != nil {
					logger.Warn("roster reload failed, keeping previous roster", "path", path, "error", err)
					continue
				}
				logger.Info("roster reloaded", "path", path, "agents", len(h.Get().order))
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				logger.Warn("roster watcher error", "error", err)
			}
		}
	}()
	return nil
}
