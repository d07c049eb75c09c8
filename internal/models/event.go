package models

import (
	"strings"
	"time"
)

// EventType classifies an entry in the append-only event log.
type EventType string

const (
	EventTaskStart    EventType = "task_start"
	EventTaskEnd      EventType = "task_end"
	EventSpawn        EventType = "spawn"
	EventMessage      EventType = "message"
	EventApproval     EventType = "approval"
	EventStatusChange EventType = "status_change"
	EventSystem       EventType = "system"
)

func (t EventType) Valid() bool {
	switch t {
	case EventTaskStart, EventTaskEnd, EventSpawn, EventMessage, EventApproval, EventStatusChange, EventSystem:
		return true
	}
	return false
}

// Event is an immutable row of the event log. ID ordering is the only ordering consumers rely on.
type Event struct {
	ID        int64     `json:"id"`
	AgentID   string    `json:"agent_id"`
	AgentName string    `json:"agent_name"`
	Type      EventType `json:"event_type"`
	Title     string    `json:"title"`
	Detail    *string   `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// NewEvent is the ingestion payload.
type NewEvent struct {
	AgentID   string    `json:"agent_id"`
	AgentName string    `json:"agent_name"`
	Type      EventType `json:"event_type"`
	Title     string    `json:"title"`
	Detail    *string   `json:"detail,omitempty"`
}

// Validate rejects missing required fields and unknown event types.
func (e *NewEvent) Validate() error {
	e.AgentID = strings.TrimSpace(e.AgentID)
	e.AgentName = strings.TrimSpace(e.AgentName)
	e.Title = strings.TrimSpace(e.Title)
	switch {
	case e.AgentID == "":
		return Invalid("agent_id", "is required")
	case e.AgentName == "":
		return Invalid("agent_name", "is required")
	case e.Type == "":
		return Invalid("event_type", "is required")
	case !e.Type.Valid():
		return Invalid("event_type", "unrecognized value "+string(e.Type))
	case e.Title == "":
		return Invalid("title", "is required")
	}
	return nil
}

// EventFilter narrows the event log for a consumer. Empty fields match everything.
type EventFilter struct {
	AgentID string
	Type    EventType
}

// Matches applies the filter to an event in memory.
func (f EventFilter) Matches(e Event) bool {
	if f.AgentID != "" && e.AgentID != f.AgentID {
		return false
	}
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	return true
}

// EventQuery is a newest-first page request against the event log.
type EventQuery struct {
	AgentID string
	Before  int64
	After   int64
	Limit   int
}
