// Package lifecycle holds the task status state machine and the review verdict classifier.
package lifecycle

import (
	"errors"
	"fmt"
	"strings"

	"fleet-dashboard/internal/models"
)

// ErrIllegalTransition is returned when a manual status change is not allowed from the current state.
var ErrIllegalTransition = errors.New("illegal status transition")

var allowedTransitions = map[models.TaskStatus]map[models.TaskStatus]struct{}{
	models.StatusBacklog: {
		models.StatusInProgress: {},
		models.StatusRecurring:  {},
	},
	models.StatusRecurring: {
		models.StatusInProgress: {},
		models.StatusBacklog:    {},
	},
	models.StatusInProgress: {
		models.StatusReview: {},
	},
	models.StatusReview: {},
	models.StatusDone:   {},
}

// CanTransition reports whether an external action may move a task from -> to.
// Review resolution is not an external action and goes through Resolve instead.
func CanTransition(from, to models.TaskStatus) bool {
	if from == to || to == models.StatusDone {
		return true
	}
	_, ok := allowedTransitions[from][to]
	return ok
}

// CheckTransition wraps CanTransition with a descriptive error.
func CheckTransition(from, to models.TaskStatus) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	return nil
}

// Outcome of a QA review.
type Outcome string

const (
	OutcomeApproved Outcome = "approved"
	OutcomeRejected Outcome = "rejected"
)

// Target is the status every task in review moves to for this outcome.
func (o Outcome) Target() models.TaskStatus {
	if o == OutcomeRejected {
		return models.StatusBacklog
	}
	return models.StatusDone
}

// Classifier decides whether an event title carries a rejection verdict.
type Classifier interface {
	IsRejection(title string) bool
}

// MarkerClassifier matches case-insensitive substrings.
type MarkerClassifier struct {
	markers []string
}

// DefaultMarkers are used when none are configured.
var DefaultMarkers = []string{"rejected", "❌"}

// NewMarkerClassifier lowercases and keeps the non-empty markers.
func NewMarkerClassifier(markers ...string) *MarkerClassifier {
	if len(markers) == 0 {
		markers = DefaultMarkers
	}
	out := make([]string, 0, len(markers))
	for _, m := range markers {
		if m = strings.ToLower(strings.TrimSpace(m)); m != "" {
			out = append(out, m)
		}
	}
	return &MarkerClassifier{markers: out}
}

func (c *MarkerClassifier) IsRejection(title string) bool {
	lower := strings.ToLower(title)
	for _, m := range c.markers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// Resolve maps a QA task_end title to an outcome.
func Resolve(c Classifier, title string) Outcome {
	if c.IsRejection(title) {
		return OutcomeRejected
	}
	return OutcomeApproved
}
