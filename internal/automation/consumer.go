// Package automation turns QA verdicts in the event log into task lifecycle transitions.
package automation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"fleet-dashboard/internal/cursor"
	"fleet-dashboard/internal/lifecycle"
	"fleet-dashboard/internal/models"
	"fleet-dashboard/internal/notes"
	"fleet-dashboard/internal/notify"
	"fleet-dashboard/internal/office"
	"fleet-dashboard/internal/telemetry"
)

// ConsumerName prefixes the cursor key of the review consumer.
const ConsumerName = "qa-review"

// Repo is everything one consumer step reads or writes.
type Repo interface {
	cursor.Store
	ResolveReviews(ctx context.Context, outcome lifecycle.Outcome) ([]models.Task, error)
	UpsertStation(ctx context.Context, p models.StationPatch) (models.OfficeStation, error)
}

// Atomic runs fn in a single transaction over a Repo.
type Atomic func(ctx context.Context, fn func(Repo) error) error

// Journal records resolutions in the daily log.
type Journal interface {
	Append(ctx context.Context, at time.Time, line string) error
}

// Options configures a Consumer.
type Options struct {
	Repo       Repo
	Atomic     Atomic // nil: cursor and transition commit separately
	Classifier lifecycle.Classifier
	Directory  office.Directory
	QAAgentID  string
	Journal    Journal
	Notifier   notify.Notifier
	Logger     *slog.Logger
	// SideEffectTimeout bounds each detached note/notification.
	SideEffectTimeout time.Duration
	Now               func() time.Time
}

// Consumer resolves every task in review whenever the QA agent finishes a session.
type Consumer struct {
	repo              Repo
	atomic            Atomic
	classifier        lifecycle.Classifier
	directory         office.Directory
	qaAgentID         string
	journal           Journal
	notifier          notify.Notifier
	logger            *slog.Logger
	sideEffectTimeout time.Duration
	now               func() time.Time

	key    string
	filter models.EventFilter

	sideEffects sync.WaitGroup
}

func NewConsumer(opts Options) *Consumer {
	c := &Consumer{
		repo:              opts.Repo,
		atomic:            opts.Atomic,
		classifier:        opts.Classifier,
		directory:         opts.Directory,
		qaAgentID:         opts.QAAgentID,
		journal:           opts.Journal,
		notifier:          opts.Notifier,
		logger:            opts.Logger,
		sideEffectTimeout: opts.SideEffectTimeout,
		now:               opts.Now,
	}
	if c.atomic == nil {
		c.atomic = func(ctx context.Context, fn func(Repo) error) error { return fn(c.repo) }
	}
	if c.classifier == nil {
		c.classifier = lifecycle.NewMarkerClassifier()
	}
	if c.notifier == nil {
		c.notifier = notify.Nop{}
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With("component", "automation")
	if c.sideEffectTimeout <= 0 {
		c.sideEffectTimeout = 10 * time.Second
	}
	if c.now == nil {
		c.now = time.Now
	}
	c.filter = models.EventFilter{AgentID: c.qaAgentID, Type: models.EventTaskEnd}
	c.key = cursor.Key(ConsumerName, c.filter)
	return c
}

// Key is the durable cursor key this consumer advances.
func (c *Consumer) Key() string { return c.key }

// Resolution describes one handled QA event.
type Resolution struct {
	Event       models.Event
	Outcome     lifecycle.Outcome
	Tasks       []models.Task
	ResetAgents []string
}

// Tick is the worker entry point.
func (c *Consumer) Tick(ctx context.Context) error {
	_, _, err := c.Poll(ctx)
	return err
}

// Poll handles at most one QA event. The cursor advance, the bulk transition and the
// office resets commit together; a losing concurrent poller changes nothing.
func (c *Consumer) Poll(ctx context.Context) (Resolution, bool, error) {
	logger := c.logger.With("run_id", uuid.NewString())

	var (
		res     Resolution
		handled bool
	)
	err := c.atomic(ctx, func(r Repo) error {
		handled = false
		ev, ok, err := cursor.CheckAndAdvance(ctx, r, c.key, c.filter)
		if err != nil || !ok {
			return err
		}
		outcome := lifecycle.Resolve(c.classifier, ev.Title)
		tasks, err := r.ResolveReviews(ctx, outcome)
		if err != nil {
			return err
		}
		agents := c.agentsToReset(tasks)
		for _, id := range agents {
			if _, err := r.UpsertStation(ctx, office.IdlePatch(id)); err != nil {
				return fmt.Errorf("reset station %s: %w", id, err)
			}
		}
		res = Resolution{Event: ev, Outcome: outcome, Tasks: tasks, ResetAgents: agents}
		handled = true
		return nil
	})
	if errors.Is(err, cursor.ErrRaceLost) {
		telemetry.CursorRacesLost.Inc()
		logger.Info("another poller handled the event first", "cursor", c.key)
		return Resolution{}, false, nil
	}
	if err != nil {
		return Resolution{}, false, fmt.Errorf("qa review consumer: %w", err)
	}
	if !handled {
		return Resolution{}, false, nil
	}

	telemetry.ReviewResolutions.WithLabelValues(string(res.Outcome)).Inc()
	telemetry.ReviewTasksResolved.WithLabelValues(string(res.Outcome)).Add(float64(len(res.Tasks)))
	logger.Info("qa verdict applied",
		"event_id", res.Event.ID,
		"outcome", res.Outcome,
		"tasks", len(res.Tasks),
		"reset_agents", res.ResetAgents,
	)
	if len(res.Tasks) > 0 {
		c.spawnSideEffects(res)
	}
	return res, true, nil
}

// Drain waits for detached side effects. Only shutdown and tests call it.
func (c *Consumer) Drain() {
	c.sideEffects.Wait()
}

// agentsToReset is the QA agent plus every known assignee of the resolved tasks.
func (c *Consumer) agentsToReset(tasks []models.Task) []string {
	seen := map[string]struct{}{}
	if c.qaAgentID != "" {
		seen[c.qaAgentID] = struct{}{}
	}
	if c.directory != nil {
		ros := c.directory.Get()
		for _, t := range tasks {
			if cl := ros.Classify(t.Assignee); cl.AgentID != "" {
				seen[cl.AgentID] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (c *Consumer) spawnSideEffects(res Resolution) {
	at := c.now()
	approved, rejected := 0, 0
	if res.Outcome == lifecycle.OutcomeRejected {
		rejected = len(res.Tasks)
	} else {
		approved = len(res.Tasks)
	}
	titles := make([]string, 0, len(res.Tasks))
	for _, t := range res.Tasks {
		titles = append(titles, t.Title)
	}

	if c.journal != nil {
		line := notes.ReviewLine(approved, rejected, titles)
		c.detach("journal", func(ctx context.Context) error {
			return c.journal.Append(ctx, at, line)
		})
	}
	text := notificationText(res.Outcome, titles, res.Event.Title)
	c.detach("notify", func(ctx context.Context) error {
		return c.notifier.Notify(ctx, text)
	})
}

// detach runs fn on its own goroutine and context. Its failure never reaches the transition.
func (c *Consumer) detach(kind string, fn func(ctx context.Context) error) {
	c.sideEffects.Add(1)
	go func() {
		defer c.sideEffects.Done()
		defer func() {
			if r := recover(); r != nil {
				telemetry.SideEffectFailures.WithLabelValues(kind).Inc()
				c.logger.Error("side effect panicked", "kind", kind, "panic", r)
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), c.sideEffectTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			telemetry.SideEffectFailures.WithLabelValues(kind).Inc()
			c.logger.Warn("side effect failed", "kind", kind, "error", err)
		}
	}()
}

func notificationText(outcome lifecycle.Outcome, titles []string, eventTitle string) string {
	verb, icon := "approved", "✅"
	if outcome == lifecycle.OutcomeRejected {
		verb, icon = "rejected", "❌"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s QA %s %d task(s)", icon, verb, len(titles))
	for _, t := range titles {
		b.WriteString("\n• ")
		b.WriteString(t)
	}
	if eventTitle != "" {
		fmt.Fprintf(&b, "\n\n%s", eventTitle)
	}
	return b.String()
}
