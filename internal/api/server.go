// Package api exposes the event log, task board and office view over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"fleet-dashboard/internal/config"
	"fleet-dashboard/internal/lifecycle"
	"fleet-dashboard/internal/models"
	"fleet-dashboard/internal/office"
	"fleet-dashboard/internal/roster"
	"fleet-dashboard/internal/store"
	"fleet-dashboard/internal/telemetry"
)

// Store is the persistence the API reads and writes.
type Store interface {
	AppendEvent(ctx context.Context, e models.NewEvent) (models.Event, error)
	ListEvents(ctx context.Context, q models.EventQuery, max int) ([]models.Event, error)

	CreateTask(ctx context.Context, n models.NewTask) (models.Task, error)
	GetTask(ctx context.Context, id int64) (models.Task, error)
	FindTaskByTitle(ctx context.Context, substr string) (models.Task, error)
	ListTasks(ctx context.Context, status models.TaskStatus) ([]models.Task, error)
	UpdateTask(ctx context.Context, id int64, p models.TaskPatch) (models.Task, error)

	ListStations(ctx context.Context) ([]models.OfficeStation, error)
	UpsertStation(ctx context.Context, p models.StationPatch) (models.OfficeStation, error)
}

// Limiter throttles event ingestion per agent.
type Limiter interface {
	Allow(ctx context.Context, agentID string) (bool, float64, error)
}

// Server wires HTTP handlers for the dashboard API.
type Server struct {
	cfg       config.Config
	store     Store
	limiter   Limiter
	directory office.Directory
	logger    *slog.Logger
	now       func() time.Time
}

// New constructs the API server. limiter may be nil.
func New(cfg config.Config, st Store, limiter Limiter, dir office.Directory, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:       cfg,
		store:     st,
		limiter:   limiter,
		directory: dir,
		logger:    logger.With("component", "api"),
		now:       time.Now,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/metrics", telemetry.Handler())

	r.Post("/events", s.handleAppendEvent)
	r.Get("/events", s.handleListEvents)

	r.Post("/tasks", s.handleCreateTask)
	r.Get("/tasks", s.handleListTasks)
	r.Get("/tasks/{ref}", s.handleGetTask)
	r.Patch("/tasks/{ref}", s.handleUpdateTask)
	r.Get("/board", s.handleBoard)

	r.Get("/office", s.handleOffice)
	r.Put("/office/{agentID}", s.handleHeartbeat)
	return r
}

func (s *Server) handleAppendEvent(w http.ResponseWriter, r *http.Request) {
	var req models.NewEvent
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if err := req.Validate(); err != nil {
		s.writeError(w, r, err)
		return
	}
	if s.limiter != nil {
		allowed, _, err := s.limiter.Allow(r.Context(), req.AgentID)
		if err != nil {
			s.logger.Error("rate limiter unavailable", "error", err)
			http.Error(w, "rate limit error", http.StatusInternalServerError)
			return
		}
		if !allowed {
			telemetry.RateLimitRejects.Inc()
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}
	}
	ev, err := s.store.AppendEvent(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	telemetry.EventsIngested.Inc()
	writeJSON(w, http.StatusCreated, ev)
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	q := models.EventQuery{AgentID: r.URL.Query().Get("agent_id")}
	var err error
	if q.Before, err = queryInt(r, "before"); err != nil {
		s.writeError(w, r, err)
		return
	}
	if q.After, err = queryInt(r, "after"); err != nil {
		s.writeError(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	q.Limit = int(limit)
	events, err := s.store.ListEvents(r.Context(), q, s.cfg.EventPageMax)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req models.NewTask
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if err := req.Normalize(); err != nil {
		s.writeError(w, r, err)
		return
	}
	task, err := s.store.CreateTask(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	status := models.TaskStatus(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		s.writeError(w, r, models.Invalid("status", "unknown status "+string(status)))
		return
	}
	tasks, err := s.store.ListTasks(r.Context(), status)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.resolveTask(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	var patch models.TaskPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if err := patch.Validate(); err != nil {
		s.writeError(w, r, err)
		return
	}
	task, err := s.resolveTask(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	updated, err := s.store.UpdateTask(r.Context(), task.ID, patch)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logger.Info("task updated", "task_id", updated.ID, "from", task.Status, "to", updated.Status)
	writeJSON(w, http.StatusOK, updated)
}

// resolveTask accepts a numeric id or a case-insensitive title substring.
func (s *Server) resolveTask(r *http.Request) (models.Task, error) {
	ref := chi.URLParam(r, "ref")
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		return s.store.GetTask(r.Context(), id)
	}
	return s.store.FindTaskByTitle(r.Context(), ref)
}

type boardColumn struct {
	Agent roster.Agent  `json:"agent"`
	Tasks []models.Task `json:"tasks"`
}

type boardResponse struct {
	Agents     []boardColumn `json:"agents"`
	Unassigned []models.Task `json:"unassigned"`
}

func (s *Server) handleBoard(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.store.ListTasks(r.Context(), "")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, buildBoard(s.directory.Get(), tasks))
}

// buildBoard groups tasks by the known agent their assignee resolves to.
func buildBoard(ros *roster.Roster, tasks []models.Task) boardResponse {
	agents := ros.Agents()
	index := make(map[string]int, len(agents))
	resp := boardResponse{Agents: make([]boardColumn, len(agents)), Unassigned: []models.Task{}}
	for i, a := range agents {
		index[a.ID] = i
		resp.Agents[i] = boardColumn{Agent: a, Tasks: []models.Task{}}
	}
	for _, t := range tasks {
		cl := ros.Classify(t.Assignee)
		if cl.Kind != roster.KnownAgent {
			resp.Unassigned = append(resp.Unassigned, t)
			continue
		}
		col := &resp.Agents[index[cl.AgentID]]
		col.Tasks = append(col.Tasks, t)
	}
	return resp
}

func (s *Server) handleOffice(w http.ResponseWriter, r *http.Request) {
	stations, err := s.store.ListStations(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"stations": office.EffectiveAll(stations, s.now(), s.cfg.StaleAfter),
	})
}

// handleHeartbeat is the only path besides operators that may mark an agent offline.
func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var patch models.StationPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	patch.AgentID = s.directory.Get().Canonical(chi.URLParam(r, "agentID"))
	if err := patch.Validate(); err != nil {
		s.writeError(w, r, err)
		return
	}
	st, err := s.store.UpsertStation(r.Context(), patch)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func queryInt(r *http.Request, key string) (int64, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0, models.Invalid(key, "must be a non-negative integer")
	}
	return n, nil
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *models.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": verr.Error(), "field": verr.Field})
	case errors.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	case errors.Is(err, lifecycle.ErrIllegalTransition), errors.Is(err, store.ErrConflict):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	default:
		s.logger.Error("request failed", "path", r.URL.Path, "request_id", middleware.GetReqID(r.Context()), "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		if r.URL.Path == "/healthz" || r.URL.Path == "/metrics" {
			return
		}
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
