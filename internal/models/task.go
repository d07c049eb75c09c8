package models

import (
	"strings"
	"time"
)

// TaskStatus enumerates lifecycle states persisted in Postgres.
type TaskStatus string

const (
	StatusBacklog    TaskStatus = "backlog"
	StatusRecurring  TaskStatus = "recurring"
	StatusInProgress TaskStatus = "in-progress"
	StatusReview     TaskStatus = "review"
	StatusDone       TaskStatus = "done"
)

// Valid reports whether s is one of the known task statuses.
func (s TaskStatus) Valid() bool {
	switch s {
	case StatusBacklog, StatusRecurring, StatusInProgress, StatusReview, StatusDone:
		return true
	}
	return false
}

// Queued reports whether the status sits in the work queue (backlog and recurring are equivalent there).
func (s TaskStatus) Queued() bool {
	return s == StatusBacklog || s == StatusRecurring
}

// Priority of a task.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// Task represents a dashboard task persisted in Postgres.
type Task struct {
	ID             int64      `json:"id"`
	Title          string     `json:"title"`
	Description    string     `json:"description"`
	Assignee       string     `json:"assignee"`
	Priority       Priority   `json:"priority"`
	Status         TaskStatus `json:"status"`
	RejectionCount int        `json:"rejection_count"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// NewTask is the external submission payload for a task.
type NewTask struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Assignee    string     `json:"assignee"`
	Priority    Priority   `json:"priority"`
	Status      TaskStatus `json:"status"`
}

// Normalize fills defaults and validates the submission.
func (n *NewTask) Normalize() error {
	n.Title = strings.TrimSpace(n.Title)
	n.Assignee = strings.TrimSpace(n.Assignee)
	if n.Title == "" {
		return Invalid("title", "is required")
	}
	if n.Priority == "" {
		n.Priority = PriorityMedium
	}
	if !n.Priority.Valid() {
		return Invalid("priority", "must be one of low, medium, high, urgent")
	}
	if n.Status == "" {
		n.Status = StatusBacklog
	}
	if !n.Status.Valid() {
		return Invalid("status", "unknown status "+string(n.Status))
	}
	return nil
}

// TaskPatch carries a partial task update. Nil fields are left untouched.
type TaskPatch struct {
	Status         *TaskStatus `json:"status,omitempty"`
	Assignee       *string     `json:"assignee,omitempty"`
	Priority       *Priority   `json:"priority,omitempty"`
	Description    *string     `json:"description,omitempty"`
	RejectionCount *int        `json:"rejection_count,omitempty"`
}

// Empty reports whether the patch sets nothing.
func (p TaskPatch) Empty() bool {
	return p.Status == nil && p.Assignee == nil && p.Priority == nil && p.Description == nil && p.RejectionCount == nil
}

// Validate checks field values; transition legality is checked against the stored row.
func (p TaskPatch) Validate() error {
	if p.Empty() {
		return Invalid("patch", "no fields to update")
	}
	if p.Status != nil && !p.Status.Valid() {
		return Invalid("status", "unknown status "+string(*p.Status))
	}
	if p.Priority != nil && !p.Priority.Valid() {
		return Invalid("priority", "must be one of low, medium, high, urgent")
	}
	if p.RejectionCount != nil && *p.RejectionCount < 0 {
		return Invalid("rejection_count", "must be >= 0")
	}
	return nil
}
