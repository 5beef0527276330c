package agent

import (
	"sync"
	"time"

	"github.com/oriolane/oriole/pkg/models"
)

// RunStats summarizes one session's event stream.
type RunStats struct {
	SessionID    string
	InputTokens  int
	OutputTokens int
	ContentChars int
	ToolCalls    int
	Errors       int
	StartedAt    time.Time
	EndedAt      time.Time
	Status       string
}

// Duration is the observed session wall time.
func (s RunStats) Duration() time.Duration {
	if s.StartedAt.IsZero() || s.EndedAt.IsZero() {
		return 0
	}
	return s.EndedAt.Sub(s.StartedAt)
}

// StatsCollector aggregates run stats from an event stream. Feed it every
// event of a session subscription; it is safe for concurrent use.
type StatsCollector struct {
	mu    sync.Mutex
	stats map[string]*RunStats
}

// NewStatsCollector builds an empty collector.
func NewStatsCollector() *StatsCollector {
	return &StatsCollector{stats: make(map[string]*RunStats)}
}

// Observe folds one event into the session's stats.
func (c *StatsCollector) Observe(ev *models.Event) {
	if ev == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.stats[ev.SessionID]
	if !ok {
		s = &RunStats{SessionID: ev.SessionID}
		c.stats[ev.SessionID] = s
	}

	switch ev.Type {
	case models.EventSessionStart:
		s.StartedAt = ev.Timestamp
	case models.EventSessionEnd:
		s.EndedAt = ev.Timestamp
		if status, ok := ev.Data["status"].(string); ok {
			s.Status = status
		}
	case models.EventSessionStopped:
		s.EndedAt = ev.Timestamp
		s.Status = "stopped"
	case models.EventContentDelta:
		if delta, ok := ev.Data["delta"].(string); ok {
			s.ContentChars += len(delta)
		}
	case models.EventContentStart:
		if block, ok := ev.Data["content_block"].(models.ContentBlock); ok && block.Type == models.ContentBlockToolUse {
			s.ToolCalls++
		}
	case models.EventError:
		s.Errors++
	case models.EventMessageDelta:
		if ev.Data["type"] != string(models.DeltaUsage) {
			break
		}
		if usage, ok := ev.Data["content"].(models.Usage); ok {
			s.InputTokens += usage.InputTokens
			s.OutputTokens += usage.OutputTokens
		}
	}
}

// Stats returns a copy of one session's stats.
func (c *StatsCollector) Stats(sessionID string) RunStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.stats[sessionID]; ok {
		return *s
	}
	return RunStats{SessionID: sessionID}
}
