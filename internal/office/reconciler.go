// Package office keeps the persisted "who is working" view in line with live sessions.
package office

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"fleet-dashboard/internal/models"
	"fleet-dashboard/internal/roster"
	"fleet-dashboard/internal/telemetry"
)

// Store is the office status persistence used by the reconciler. Writes are conditional
// on the state that was read, so a concurrent heartbeat is never overwritten.
type Store interface {
	ListStations(ctx context.Context) ([]models.OfficeStation, error)
	UpdateStationIf(ctx context.Context, expected models.StationStatus, p models.StationPatch) (models.OfficeStation, bool, error)
	CreateStation(ctx context.Context, p models.StationPatch) (models.OfficeStation, bool, error)
}

// Source fetches live session snapshots. It is unreliable by contract.
type Source interface {
	FetchSessions(ctx context.Context) ([]models.SessionSnapshot, error)
}

// Directory supplies the current roster.
type Directory interface {
	Get() *roster.Roster
}

// Reconciler writes only the deltas between live sessions and office rows.
// It never writes offline; that state belongs to heartbeats and operators.
type Reconciler struct {
	store        Store
	source       Source
	directory    Directory
	logger       *slog.Logger
	fetchTimeout time.Duration
}

// Options configures a Reconciler.
type Options struct {
	Store        Store
	Source       Source
	Directory    Directory
	Logger       *slog.Logger
	FetchTimeout time.Duration
}

func NewReconciler(opts Options) *Reconciler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.FetchTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Reconciler{
		store:        opts.Store,
		source:       opts.Source,
		directory:    opts.Directory,
		logger:       logger.With("component", "reconciler"),
		fetchTimeout: timeout,
	}
}

// Result counts the writes one reconcile made. Skipped counts rows another writer
// changed between the read and the write.
type Result struct {
	Started int
	Stopped int
	Created int
	Skipped int
}

func (r Result) Writes() int {
	return r.Started + r.Stopped + r.Created
}

// Tick fetches a fresh snapshot and reconciles it. A failed fetch writes nothing
// and is not reported as an error: the last persisted state stands.
func (r *Reconciler) Tick(ctx context.Context) error {
	logger := r.logger.With("run_id", uuid.NewString())

	fetchCtx, cancel := context.WithTimeout(ctx, r.fetchTimeout)
	snaps, err := r.source.FetchSessions(fetchCtx)
	cancel()
	if err != nil {
		telemetry.SessionFetchErrors.Inc()
		logger.Warn("session source unavailable, keeping last known office state", "error", err)
		return nil
	}

	res, err := r.Reconcile(ctx, snaps)
	if err != nil {
		return err
	}
	if res.Writes() > 0 || res.Skipped > 0 {
		logger.Info("office reconciled", "started", res.Started, "stopped", res.Stopped, "created", res.Created, "skipped", res.Skipped)
	}
	return nil
}

// Reconcile applies one snapshot set. Calling it again with the same set writes nothing.
func (r *Reconciler) Reconcile(ctx context.Context, snaps []models.SessionSnapshot) (Result, error) {
	ros := r.directory.Get()
	desired := DesiredWorking(ros, snaps)
	telemetry.WorkingStations.Set(float64(len(desired)))

	stations, err := r.store.ListStations(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("list stations: %w", err)
	}

	var res Result
	known := make(map[string]struct{}, len(stations))
	for _, st := range stations {
		known[st.AgentID] = struct{}{}
		_, wanted := desired[st.AgentID]
		switch {
		case st.Status == models.StationWorking && !wanted:
			ok, err := r.apply(ctx, st.Status, IdlePatch(st.AgentID))
			if err != nil {
				return res, err
			}
			if !ok {
				res.Skipped++
				continue
			}
			res.Stopped++
			telemetry.ReconcileWrites.WithLabelValues(string(models.StationIdle)).Inc()
		case st.Status != models.StationWorking && wanted:
			working := models.StationWorking
			ok, err := r.apply(ctx, st.Status, models.StationPatch{AgentID: st.AgentID, Status: &working})
			if err != nil {
				return res, err
			}
			if !ok {
				res.Skipped++
				continue
			}
			res.Started++
			telemetry.ReconcileWrites.WithLabelValues(string(models.StationWorking)).Inc()
		}
	}

	ids := make([]string, 0, len(desired))
	for id := range desired {
		if _, ok := known[id]; !ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	for _, id := range ids {
		_, ok, err := r.store.CreateStation(ctx, newStationPatch(ros, id, desired[id]))
		if err != nil {
			return res, fmt.Errorf("create station %s: %w", id, err)
		}
		if !ok {
			r.logger.Debug("station created concurrently, leaving it for the next tick", "agent_id", id)
			res.Skipped++
			continue
		}
		res.Created++
		telemetry.ReconcileWrites.WithLabelValues(string(models.StationWorking)).Inc()
	}
	return res, nil
}

// apply writes p only if the row still has the status it was read with.
func (r *Reconciler) apply(ctx context.Context, read models.StationStatus, p models.StationPatch) (bool, error) {
	_, ok, err := r.store.UpdateStationIf(ctx, read, p)
	if err != nil {
		return false, fmt.Errorf("update station %s: %w", p.AgentID, err)
	}
	if !ok {
		r.logger.Debug("station changed since read, skipping", "agent_id", p.AgentID, "read_status", read)
	}
	return ok, nil
}

// DesiredWorking canonicalizes snapshot ids and returns the agents with at least one active
// session, mapped to a display name seen for them. Active beats idle for the same agent.
func DesiredWorking(ros *roster.Roster, snaps []models.SessionSnapshot) map[string]string {
	out := map[string]string{}
	for _, s := range snaps {
		if s.Status != models.SessionActive {
			continue
		}
		id := ros.Canonical(s.AgentID)
		if id == "" {
			continue
		}
		if name, seen := out[id]; !seen || name == "" {
			out[id] = s.AgentName
		}
	}
	return out
}

// IdlePatch resets an agent to idle with no current task.
func IdlePatch(agentID string) models.StationPatch {
	idle := models.StationIdle
	empty := ""
	return models.StationPatch{AgentID: agentID, Status: &idle, CurrentTask: &empty}
}

func newStationPatch(ros *roster.Roster, id, sessionName string) models.StationPatch {
	working := models.StationWorking
	p := models.StationPatch{AgentID: id, Status: &working}
	name := sessionName
	if a, ok := ros.Agent(id); ok {
		if a.Name != "" {
			name = a.Name
		}
		if a.Role != "" {
			role := a.Role
			p.Role = &role
		}
	}
	if name != "" {
		p.AgentName = &name
	}
	return p
}
