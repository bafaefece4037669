// Package registry loads and hot-reloads the agent definitions the
// Task Runner dispatches work to.
package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/BurntSushi/toml"
)

// Agent is one entry in the registry.
type Agent struct {
	ID      string   `json:"id" toml:"id"`
	Name    string   `json:"name" toml:"name"`
	Cmd     string   `json:"cmd" toml:"cmd"`
	Args    []string `json:"args" toml:"args"`
	Keywords []string `json:"keywords" toml:"keywords"`
	RAMMB   int      `json:"ramMB" toml:"ram_mb"`
	Default bool     `json:"default" toml:"default"`
	Enabled bool     `json:"enabled" toml:"enabled"`
	Note    string   `json:"note,omitempty" toml:"note,omitempty"`
}

// snapshot is the immutable value swapped atomically on reload.
type snapshot struct {
	agents     []Agent
	reloadedAt time.Time
}

// Registry holds the current agent list and supports atomic hot reload.
// In-flight dispatches keep the *snapshot they read at dispatch time, so
// a reload never disturbs a running agent's definition (spec 4.G).
type Registry struct {
	path        string
	current     atomic.Pointer[snapshot]
	reloadCount atomic.Int64
}

// DefaultFallbackID is used when no enabled agent exists at all.
const DefaultFallbackID = "fallback"

// Load reads the registry file at path (JSON, or TOML if the extension
// is .toml) and validates every entry has id, cmd, and a non-empty args
// template.
func Load(path string) (*Registry, error) {
	r := &Registry{path: path}
	if err := r.reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload re-reads the registry file. On any failure the previous
// snapshot is retained and the error is returned for the caller to log.
func (r *Registry) Reload() error {
	return r.reload()
}

func (r *Registry) reload() error {
	agents, err := readAgents(r.path)
	if err != nil {
		return fmt.Errorf("registry: reload %s: %w", r.path, err)
	}
	if err := validate(agents); err != nil {
		return fmt.Errorf("registry: validate %s: %w", r.path, err)
	}
	r.current.Store(&snapshot{agents: agents, reloadedAt: time.Now()})
	r.reloadCount.Add(1)
	return nil
}

// LastReloadedAt returns when the current snapshot was loaded, and
// ReloadCount how many successful loads (including the initial Load)
// have happened, so operators can confirm a SIGHUP actually took effect.
func (r *Registry) LastReloadedAt() time.Time {
	s := r.current.Load()
	if s == nil {
		return time.Time{}
	}
	return s.reloadedAt
}

func (r *Registry) ReloadCount() int64 {
	return r.reloadCount.Load()
}

func readAgents(path string) ([]Agent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var agents []Agent
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		var doc struct {
			Agents []Agent `toml:"agents"`
		}
		if err := toml.Unmarshal(data, &doc); err != nil {
			return nil, err
		}
		agents = doc.Agents
	} else {
		if err := json.Unmarshal(data, &agents); err != nil {
			return nil, err
		}
	}
	return agents, nil
}

func validate(agents []Agent) error {
	seen := make(map[string]bool, len(agents))
	for i, a := range agents {
		if a.ID == "" {
			return fmt.Errorf("entry %d: missing id", i)
		}
		if a.Cmd == "" {
			return fmt.Errorf("agent %q: missing cmd", a.ID)
		}
		if len(a.Args) == 0 {
			return fmt.Errorf("agent %q: missing args template", a.ID)
		}
		if seen[a.ID] {
			return fmt.Errorf("agent %q: duplicate id", a.ID)
		}
		seen[a.ID] = true
	}
	return nil
}

// List returns a read-only snapshot of all agents — the caller's
// dispatch-time view, safe to retain across a subsequent reload.
func (r *Registry) List() []Agent {
	s := r.current.Load()
	if s == nil {
		return nil
	}
	return append([]Agent{}, s.agents...)
}

// Enabled returns only the enabled agents, in registry order.
func (r *Registry) Enabled() []Agent {
	var out []Agent
	for _, a := range r.List() {
		if a.Enabled {
			out = append(out, a)
		}
	}
	return out
}

// ByID looks up an agent by id among the current snapshot, regardless
// of enabled state.
func (r *Registry) ByID(id string) (Agent, bool) {
	for _, a := range r.List() {
		if a.ID == id {
			return a, true
		}
	}
	return Agent{}, false
}
