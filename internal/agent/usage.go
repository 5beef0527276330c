package agent

import (
	"sort"
	"sync"
)

// UsageTracker records per-tool call outcomes for adaptive ordering. Records
// are fire-and-forget; readers see a point-in-time snapshot.
type UsageTracker struct {
	mu    sync.Mutex
	stats map[string]*toolStats
}

type toolStats struct {
	Calls     int
	Successes int
}

// ToolUsage is one tool's aggregate in a snapshot.
type ToolUsage struct {
	Tool      string
	Calls     int
	Successes int
}

// SuccessRate is the observed success fraction, 1.0 for unseen tools.
func (u ToolUsage) SuccessRate() float64 {
	if u.Calls == 0 {
		return 1.0
	}
	return float64(u.Successes) / float64(u.Calls)
}

// NewUsageTracker builds an empty tracker.
func NewUsageTracker() *UsageTracker {
	return &UsageTracker{stats: make(map[string]*toolStats)}
}

// Record notes one call outcome.
func (t *UsageTracker) Record(tool string, success bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.stats[tool]
	if s == nil {
		s = &toolStats{}
		t.stats[tool] = s
	}
	s.Calls++
	if success {
		s.Successes++
	}
}

// Usage returns the aggregate for one tool.
func (t *UsageTracker) Usage(tool string) ToolUsage {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.stats[tool]
	if s == nil {
		return ToolUsage{Tool: tool}
	}
	return ToolUsage{Tool: tool, Calls: s.Calls, Successes: s.Successes}
}

// Snapshot returns all aggregates sorted by tool name.
func (t *UsageTracker) Snapshot() []ToolUsage {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]ToolUsage, 0, len(t.stats))
	for name, s := range t.stats {
		out = append(out, ToolUsage{Tool: name, Calls: s.Calls, Successes: s.Successes})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tool < out[j].Tool })
	return out
}

// OrderByReliability sorts tool names by observed success rate, descending,
// preserving the given order among ties. Unseen tools count as fully
// reliable.
func (t *UsageTracker) OrderByReliability(names []string) []string {
	out := make([]string, len(names))
	copy(out, names)
	sort.SliceStable(out, func(i, j int) bool {
		return t.Usage(out[i]).SuccessRate() > t.Usage(out[j]).SuccessRate()
	})
	return out
}
