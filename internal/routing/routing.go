// Package routing selects which agent handles a task, following the
// meta-override then keyword-score precedence.
package routing

import (
	"strings"

	"github.com/DYAI2025/kanban-orchestrator/internal/meta"
	"github.com/DYAI2025/kanban-orchestrator/internal/registry"
)

// HardFallbackID is returned when the registry has no enabled agents at
// all — the last resort so the runner always has somewhere to dispatch.
const HardFallbackID = registry.DefaultFallbackID

// Route picks an agent id for a task, in order of precedence:
// 1. the task's embedded meta agent override
// 2. the highest keyword-score enabled agent (ties broken by registry order)
// 3. the enabled default agent
// 4. the first enabled agent
// 5. the hard-coded fallback id
func Route(title, strippedDescription string, m *meta.AgentMeta, agents []registry.Agent) string {
	if m != nil && m.Agent != nil && *m.Agent != "" {
		return *m.Agent
	}

	haystack := strings.ToLower(title + " " + strippedDescription)

	bestScore := -1
	bestID := ""
	var defaultID string
	var firstEnabledID string

	for _, a := range agents {
		if !a.Enabled {
			continue
		}
		if firstEnabledID == "" {
			firstEnabledID = a.ID
		}
		if a.Default && defaultID == "" {
			defaultID = a.ID
		}
		score := countKeywordMatches(haystack, a.Keywords)
		if score > bestScore {
			bestScore = score
			bestID = a.ID
		}
	}

	if bestScore > 0 {
		return bestID
	}
	if defaultID != "" {
		return defaultID
	}
	if firstEnabledID != "" {
		return firstEnabledID
	}
	return HardFallbackID
}

func countKeywordMatches(haystack string, keywords []string) int {
	count := 0
	for _, k := range keywords {
		if k == "" {
			continue
		}
		if strings.Contains(haystack, strings.ToLower(k)) {
			count++
		}
	}
	return count
}
