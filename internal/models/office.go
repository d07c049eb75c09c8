package models

import "time"

// StationStatus is the last known activity state of an agent.
type StationStatus string

const (
	StationWorking StationStatus = "working"
	StationIdle    StationStatus = "idle"
	// StationOffline is only ever written by heartbeat/manual updates, never by reconciliation.
	StationOffline StationStatus = "offline"
)

func (s StationStatus) Valid() bool {
	return s == StationWorking || s == StationIdle || s == StationOffline
}

// OfficeStation is the persisted per-agent status row.
type OfficeStation struct {
	AgentID     string        `json:"agent_id"`
	AgentName   string        `json:"agent_name"`
	Role        string        `json:"role"`
	CurrentTask string        `json:"current_task"`
	Status      StationStatus `json:"status"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// StationPatch merges into an office row keyed by AgentID. Nil fields keep their stored value.
type StationPatch struct {
	AgentID     string         `json:"agent_id"`
	AgentName   *string        `json:"agent_name,omitempty"`
	Role        *string        `json:"role,omitempty"`
	CurrentTask *string        `json:"current_task,omitempty"`
	Status      *StationStatus `json:"status,omitempty"`
}

// Validate checks the patch before it is written.
func (p StationPatch) Validate() error {
	if p.AgentID == "" {
		return Invalid("agent_id", "is required")
	}
	if p.Status != nil && !p.Status.Valid() {
		return Invalid("status", "must be one of working, idle, offline")
	}
	return nil
}

// SessionStatus is reported by the external session gateway.
type SessionStatus string

const (
	SessionActive SessionStatus = "active"
	SessionIdle   SessionStatus = "idle"
)

// SessionSnapshot is a point-in-time view of one live agent session. It is never persisted.
type SessionSnapshot struct {
	AgentID   string        `json:"agent_id"`
	AgentName string        `json:"agent_name"`
	Status    SessionStatus `json:"status"`
}
