// Package roster knows which agents exist, how external systems alias them,
// and how free-text assignees map onto them.
package roster

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Agent is one known member of the fleet.
type Agent struct {
	ID      string   `yaml:"id" json:"id"`
	Name    string   `yaml:"name" json:"name"`
	Role    string   `yaml:"role" json:"role"`
	Aliases []string `yaml:"aliases" json:"aliases,omitempty"`
}

type file struct {
	Agents []Agent `yaml:"agents"`
}

// Roster is immutable once built; reloads swap whole rosters.
type Roster struct {
	agents map[string]Agent
	order  []string
	lookup map[string]string
}

// New indexes agents by id, alias and display name. Repeated ids merge their aliases.
func New(agents ...Agent) *Roster {
	r := &Roster{agents: map[string]Agent{}, lookup: map[string]string{}}
	for _, a := range agents {
		a.ID = strings.TrimSpace(a.ID)
		if a.ID == "" {
			continue
		}
		if prev, ok := r.agents[a.ID]; ok {
			if a.Name == "" {
				a.Name = prev.Name
			}
			if a.Role == "" {
				a.Role = prev.Role
			}
			a.Aliases = append(prev.Aliases, a.Aliases...)
		} else {
			r.order = append(r.order, a.ID)
		}
		r.agents[a.ID] = a
	}
	for _, id := range r.order {
		a := r.agents[id]
		for _, alias := range a.Aliases {
			r.index(alias, id)
		}
		r.index(a.Name, id)
	}
	// Ids win over aliases and names that collide with them.
	for _, id := range r.order {
		r.lookup[normalize(id)] = id
	}
	return r
}

func (r *Roster) index(key, id string) {
	if k := normalize(key); k != "" {
		if _, taken := r.lookup[k]; !taken {
			r.lookup[k] = id
		}
	}
}

// Load reads a YAML roster file.
func Load(path string) ([]Agent, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read roster: %w", err)
	}
	var f file
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse roster %s: %w", path, err)
	}
	for i, a := range f.Agents {
		if strings.TrimSpace(a.ID) == "" {
			return nil, fmt.Errorf("parse roster %s: agent #%d has no id", path, i+1)
		}
	}
	return f.Agents, nil
}

// Canonical maps an external identifier to the stable agent id. Unknown ids pass through trimmed.
func (r *Roster) Canonical(id string) string {
	id = strings.TrimSpace(id)
	if canonical, ok := r.lookup[normalize(id)]; ok {
		return canonical
	}
	return id
}

// Agent returns the roster entry for a canonical id.
func (r *Roster) Agent(id string) (Agent, bool) {
	a, ok := r.agents[id]
	return a, ok
}

// Agents lists the roster in declaration order.
func (r *Roster) Agents() []Agent {
	out := make([]Agent, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.agents[id])
	}
	return out
}

// Kind is the outcome of classifying an assignee.
type Kind int

const (
	Unknown Kind = iota
	KnownAgent
)

func (k Kind) String() string {
	if k == KnownAgent {
		return "known"
	}
	return "unknown"
}

// Classification tags an assignee; AgentID is set only for KnownAgent.
type Classification struct {
	Kind    Kind
	AgentID string
}

// Classify resolves a free-text assignee ("@Babbage", "main", "babbage ") to a known agent.
func (r *Roster) Classify(assignee string) Classification {
	if id, ok := r.lookup[normalize(assignee)]; ok {
		return Classification{Kind: KnownAgent, AgentID: id}
	}
	return Classification{Kind: Unknown}
}

func normalize(s string) string {
	s = strings.TrimSpace(strings.ToLower(s))
	return strings.TrimPrefix(s, "@")
}

// Base is the roster every process starts from before the roster file is layered on.
func Base(primaryID string, primaryAliases []string, qaID string) []Agent {
	var out []Agent
	if primaryID != "" {
		out = append(out, Agent{ID: primaryID, Name: primaryID, Role: "primary", Aliases: primaryAliases})
	}
	if qaID != "" && qaID != primaryID {
		out = append(out, Agent{ID: qaID, Name: qaID, Role: "qa"})
	}
	return out
}
