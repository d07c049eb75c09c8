package cursor

import (
	"context"
	"sync"

	"fleet-dashboard/internal/models"
)

type memStore struct {
	mu      sync.Mutex
	events  []models.Event
	cursors map[string]int64
	// beforeCAS runs just before the compare-and-set, simulating a concurrent poller.
	beforeCAS func()
}

func newMemStore() *memStore {
	return &memStore{cursors: map[string]int64{}}
}

func (m *memStore) append(agent string, typ models.EventType, title string) models.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev := models.Event{ID: int64(len(m.events) + 1), AgentID: agent, AgentName: agent, Type: typ, Title: title}
	m.events = append(m.events, ev)
	return ev
}

func (m *memStore) CursorValue(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cursors[key], nil
}

func (m *memStore) LatestEventAfter(_ context.Context, after int64, f models.EventFilter) (models.Event, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.events) - 1; i >= 0; i-- {
		ev := m.events[i]
		if ev.ID <= after {
			break
		}
		if f.Matches(ev) {
			return ev, true, nil
		}
	}
	return models.Event{}, false, nil
}

func (m *memStore) CompareAndSetCursor(_ context.Context, key string, old, new int64) (bool, error) {
	if m.beforeCAS != nil {
		hook := m.beforeCAS
		m.beforeCAS = nil
		hook()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cursors[key] != old || new < old {
		return false, nil
	}
	m.cursors[key] = new
	return true, nil
}
