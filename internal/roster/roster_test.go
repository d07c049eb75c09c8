package roster

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCanonicalMapsAliases(t *testing.T) {
	r := New(Agent{ID: "babbage", Name: "Babbage", Aliases: []string{"main"}}, Agent{ID: "ralph", Name: "Ralph"})

	cases := map[string]string{
		"main":     "babbage",
		"MAIN":     "babbage",
		"babbage":  "babbage",
		" ralph ":  "ralph",
		"lovelace": "lovelace",
		"@Babbage": "babbage",
	}
	for in, want := range cases {
		if got := r.Canonical(in); got != want {
			t.Fatalf("Canonical(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestClassify(t *testing.T) {
	r := New(Agent{ID: "babbage", Name: "Babbage", Aliases: []string{"main"}})

	if c := r.Classify("@babbage"); c.Kind != KnownAgent || c.AgentID != "babbage" {
		t.Fatalf("expected known babbage, got %+v", c)
	}
	if c := r.Classify("main"); c.Kind != KnownAgent || c.AgentID != "babbage" {
		t.Fatalf("alias should classify as known, got %+v", c)
	}
	if c := r.Classify("Some Contractor"); c.Kind != Unknown || c.AgentID != "" {
		t.Fatalf("expected unknown, got %+v", c)
	}
	if c := r.Classify(""); c.Kind != Unknown {
		t.Fatalf("empty assignee must be unknown")
	}
}

func TestNewMergesRepeatedIDs(t *testing.T) {
	r := New(
		Agent{ID: "babbage", Aliases: []string{"main"}},
		Agent{ID: "babbage", Name: "Babbage", Role: "lead", Aliases: []string{"primary"}},
	)
	a, ok := r.Agent("babbage")
	if !ok || a.Role != "lead" || len(a.Aliases) != 2 {
		t.Fatalf("unexpected merged agent: %+v", a)
	}
	if r.Canonical("primary") != "babbage" || r.Canonical("main") != "babbage" {
		t.Fatalf("aliases from both entries should resolve")
	}
	if len(r.Agents()) != 1 {
		t.Fatalf("expected a single agent, got %d", len(r.Agents()))
	}
}

func TestHolderReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "roster.yaml")
	content := "agents:\n  - id: lovelace\n    name: Lovelace\n    role: engineer\n    aliases: [ada]\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write roster: %v", err)
	}

	h := NewHolder(Agent{ID: "babbage", Aliases: []string{"main"}})
	if err := h.Reload(path); err != nil {
		t.Fatalf("reload: %v", err)
	}
	r := h.Get()
	if r.Canonical("ada") != "lovelace" || r.Canonical("main") != "babbage" {
		t.Fatalf("reloaded roster should carry base and file agents")
	}

	if err := os.WriteFile(path, []byte("agents: [ {name: nobody} ]"), 0o644); err != nil {
		t.Fatalf("write roster: %v", err)
	}
	if err := h.Reload(path); err == nil {
		t.Fatalf("expected error for agent without id")
	}
	if h.Get().Canonical("ada") != "lovelace" {
		t.Fatalf("failed reload must keep previous roster")
	}
}

func TestBaseSeedsPrimaryAndQA(t *testing.T) {
	r := New(Base("babbage", []string{"main"}, "ralph")...)
	if got := r.Canonical("main"); got != "babbage" {
		t.Fatalf("main should resolve to babbage, got %q", got)
	}
	if cl := r.Classify("@ralph"); cl.Kind != KnownAgent || cl.AgentID != "ralph" {
		t.Fatalf("qa agent should be known: %+v", cl)
	}
	if len(Base("babbage", nil, "babbage")) != 1 {
		t.Fatalf("same primary and qa id should yield one agent")
	}
}
