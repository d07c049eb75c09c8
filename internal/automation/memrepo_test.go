package automation

import (
	"context"
	"sync"

	"fleet-dashboard/internal/lifecycle"
	"fleet-dashboard/internal/models"
)

// memRepo is an in-memory Repo whose Atomic restores a snapshot on error.
type memRepo struct {
	mu        sync.Mutex
	events    []models.Event
	cursors   map[string]int64
	tasks     map[int64]models.Task
	stations  map[string]models.OfficeStation
	mutations int

	failResolve error
	beforeCAS   func()
}

func newMemRepo() *memRepo {
	return &memRepo{
		cursors:  map[string]int64{},
		tasks:    map[int64]models.Task{},
		stations: map[string]models.OfficeStation{},
	}
}

func (m *memRepo) addEvent(agent string, typ models.EventType, title string) models.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev := models.Event{ID: int64(len(m.events) + 1), AgentID: agent, AgentName: agent, Type: typ, Title: title}
	m.events = append(m.events, ev)
	return ev
}

func (m *memRepo) addTask(title, assignee string, status models.TaskStatus, rejections int) models.Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := models.Task{ID: int64(len(m.tasks) + 1), Title: title, Assignee: assignee, Status: status, RejectionCount: rejections, Priority: models.PriorityMedium}
	m.tasks[t.ID] = t
	return t
}

func (m *memRepo) task(id int64) models.Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tasks[id]
}

func (m *memRepo) mutationCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mutations
}

func (m *memRepo) CursorValue(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cursors[key], nil
}

func (m *memRepo) LatestEventAfter(_ context.Context, after int64, f models.EventFilter) (models.Event, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.events) - 1; i >= 0; i-- {
		if m.events[i].ID <= after {
			break
		}
		if f.Matches(m.events[i]) {
			return m.events[i], true, nil
		}
	}
	return models.Event{}, false, nil
}

func (m *memRepo) CompareAndSetCursor(_ context.Context, key string, old, new int64) (bool, error) {
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
	m.mutations++
	return true, nil
}

func (m *memRepo) ResolveReviews(_ context.Context, outcome lifecycle.Outcome) ([]models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failResolve != nil {
		return nil, m.failResolve
	}
	var out []models.Task
	for id := int64(1); id <= int64(len(m.tasks)); id++ {
		t, ok := m.tasks[id]
		if !ok || t.Status != models.StatusReview {
			continue
		}
		t.Status = outcome.Target()
		if outcome == lifecycle.OutcomeRejected {
			t.RejectionCount++
		}
		m.tasks[id] = t
		m.mutations++
		out = append(out, t)
	}
	return out, nil
}

func (m *memRepo) UpsertStation(_ context.Context, p models.StationPatch) (models.OfficeStation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.stations[p.AgentID]
	if !ok {
		st = models.OfficeStation{AgentID: p.AgentID, AgentName: p.AgentID, Status: models.StationIdle}
	}
	if p.Status != nil {
		st.Status = *p.Status
	}
	if p.CurrentTask != nil {
		st.CurrentTask = *p.CurrentTask
	}
	m.stations[p.AgentID] = st
	m.mutations++
	return st, nil
}

// atomic snapshots all state and restores it when fn fails.
func (m *memRepo) atomic(ctx context.Context, fn func(Repo) error) error {
	m.mu.Lock()
	cursors := copyMap(m.cursors)
	tasks := copyMap(m.tasks)
	stations := copyMap(m.stations)
	mutations := m.mutations
	m.mu.Unlock()

	if err := fn(m); err != nil {
		m.mu.Lock()
		m.cursors, m.tasks, m.stations, m.mutations = cursors, tasks, stations, mutations
		m.mu.Unlock()
		return err
	}
	return nil
}

func copyMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
