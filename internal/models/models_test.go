package models

import (
	"errors"
	"testing"
)

func TestNewEventValidate(t *testing.T) {
	cases := []struct {
		name  string
		in    NewEvent
		field string
	}{
		{"missing agent", NewEvent{AgentName: "Ralph", Type: EventTaskEnd, Title: "x"}, "agent_id"},
		{"missing name", NewEvent{AgentID: "ralph", Type: EventTaskEnd, Title: "x"}, "agent_name"},
		{"missing type", NewEvent{AgentID: "ralph", AgentName: "Ralph", Title: "x"}, "event_type"},
		{"unknown type", NewEvent{AgentID: "ralph", AgentName: "Ralph", Type: "deploy", Title: "x"}, "event_type"},
		{"blank title", NewEvent{AgentID: "ralph", AgentName: "Ralph", Type: EventTaskEnd, Title: "  "}, "title"},
		{"ok", NewEvent{AgentID: " ralph ", AgentName: "Ralph", Type: EventTaskEnd, Title: "done"}, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.in.Validate()
			if tc.field == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if tc.in.AgentID != "ralph" {
					t.Fatalf("agent id not trimmed: %q", tc.in.AgentID)
				}
				return
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if verr.Field != tc.field {
				t.Fatalf("expected field %s, got %s", tc.field, verr.Field)
			}
		})
	}
}

func TestNewTaskNormalizeDefaults(t *testing.T) {
	n := NewTask{Title: " Write docs "}
	if err := n.Normalize(); err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if n.Title != "Write docs" || n.Priority != PriorityMedium || n.Status != StatusBacklog {
		t.Fatalf("unexpected defaults: %+v", n)
	}

	bad := NewTask{Title: "x", Priority: "critical"}
	if err := bad.Normalize(); err == nil {
		t.Fatalf("expected priority validation error")
	}
}

func TestTaskPatchValidate(t *testing.T) {
	if err := (TaskPatch{}).Validate(); err == nil {
		t.Fatalf("empty patch should be rejected")
	}
	neg := -1
	if err := (TaskPatch{RejectionCount: &neg}).Validate(); err == nil {
		t.Fatalf("negative rejection count should be rejected")
	}
	status := TaskStatus("blocked")
	if err := (TaskPatch{Status: &status}).Validate(); err == nil {
		t.Fatalf("unknown status should be rejected")
	}
}

func TestEventFilterMatches(t *testing.T) {
	f := EventFilter{AgentID: "ralph", Type: EventTaskEnd}
	if !f.Matches(Event{AgentID: "ralph", Type: EventTaskEnd}) {
		t.Fatalf("expected match")
	}
	if f.Matches(Event{AgentID: "ralph", Type: EventTaskStart}) {
		t.Fatalf("type mismatch should not match")
	}
	if !(EventFilter{}).Matches(Event{AgentID: "any"}) {
		t.Fatalf("empty filter matches all")
	}
}
