package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	EventsIngested      = prometheus.NewCounter(prometheus.CounterOpts{Name: "fleet_events_ingested_total", Help: "Events appended to the event log"})
	RateLimitRejects    = prometheus.NewCounter(prometheus.CounterOpts{Name: "fleet_rate_limit_rejects_total", Help: "Event ingestion requests rejected by the rate limiter"})
	ReviewResolutions   = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "fleet_review_resolutions_total", Help: "Bulk review resolutions by outcome"}, []string{"outcome"})
	ReviewTasksResolved = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "fleet_review_tasks_resolved_total", Help: "Tasks moved out of review by outcome"}, []string{"outcome"})
	CursorRacesLost     = prometheus.NewCounter(prometheus.CounterOpts{Name: "fleet_cursor_races_lost_total", Help: "Consumer ticks that lost the cursor compare-and-set"})
	ReconcileWrites     = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "fleet_reconcile_writes_total", Help: "Office station writes made by the session reconciler"}, []string{"status"})
	SessionFetchErrors  = prometheus.NewCounter(prometheus.CounterOpts{Name: "fleet_session_fetch_errors_total", Help: "Session source fetches that failed; the tick wrote nothing"})
	SideEffectFailures  = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "fleet_side_effect_failures_total", Help: "Best-effort side effects that failed"}, []string{"kind"})
	TickFailures        = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "fleet_tick_failures_total", Help: "Worker ticks that returned an error or timed out"}, []string{"loop", "reason"})
	WorkingStations     = prometheus.NewGauge(prometheus.GaugeOpts{Name: "fleet_working_stations", Help: "Agents the last reconcile saw as working"})
	TasksArchived       = prometheus.NewCounter(prometheus.CounterOpts{Name: "fleet_tasks_archived_total", Help: "Done tasks moved to cold storage"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			EventsIngested,
			RateLimitRejects,
			ReviewResolutions,
			ReviewTasksResolved,
			CursorRacesLost,
			ReconcileWrites,
			SessionFetchErrors,
			SideEffectFailures,
			TickFailures,
			WorkingStations,
			TasksArchived,
		)
	})
	return promhttp.Handler()
}
