package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the centralized Prometheus surface for the runtime.
//
// Tracked concerns:
//   - event emission by type (broadcaster)
//   - tool executions, retries, timeouts, panics (executor)
//   - tool result compactions and recoveries (compactor)
//   - LLM turn latency and token use (orchestrator)
//   - active sessions (orchestrator)
type Metrics struct {
	// EventsEmitted counts buffered events. Labels: event_type.
	EventsEmitted *prometheus.CounterVec

	// EventsFiltered counts events dropped by an adapter. Labels: event_type.
	EventsFiltered *prometheus.CounterVec

	// ToolExecutions counts tool invocations. Labels: tool_name, status.
	ToolExecutions *prometheus.CounterVec

	// ToolDuration measures tool execution time in seconds. Labels: tool_name.
	ToolDuration *prometheus.HistogramVec

	// ToolErrors counts classified tool failures. Labels: tool_name, error_type.
	ToolErrors *prometheus.CounterVec

	// Compactions counts result compactions. Labels: mode (default|search|forced).
	Compactions *prometheus.CounterVec

	// CompactionBytes tracks original payload sizes spilled to disk.
	CompactionBytes prometheus.Counter

	// LLMTurnDuration measures one stream round-trip in seconds. Labels: provider, model.
	LLMTurnDuration *prometheus.HistogramVec

	// LLMTokens tracks token consumption. Labels: provider, model, kind (input|output).
	LLMTokens *prometheus.CounterVec

	// ActiveSessions gauges currently running sessions.
	ActiveSessions prometheus.Gauge

	// SnapshotsTaken counts state snapshots. Labels: trigger (manual|pre_task|failure).
	SnapshotsTaken *prometheus.CounterVec
}

// NewMetrics registers and returns the runtime metrics on the given
// registerer. Pass prometheus.NewRegistry() in tests to avoid duplicate
// registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		EventsEmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "oriole_events_emitted_total",
			Help: "Events accepted by the event store, by type.",
		}, []string{"event_type"}),

		EventsFiltered: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "oriole_events_filtered_total",
			Help: "Events dropped by an output adapter before sequencing.",
		}, []string{"event_type"}),

		ToolExecutions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "oriole_tool_executions_total",
			Help: "Tool invocations by name and status.",
		}, []string{"tool_name", "status"}),

		ToolDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "oriole_tool_duration_seconds",
			Help:    "Tool execution latency.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 120},
		}, []string{"tool_name"}),

		ToolErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "oriole_tool_errors_total",
			Help: "Classified tool failures.",
		}, []string{"tool_name", "error_type"}),

		Compactions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "oriole_compactions_total",
			Help: "Tool result compactions by mode.",
		}, []string{"mode"}),

		CompactionBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "oriole_compaction_bytes_total",
			Help: "Original bytes of tool results spilled to disk.",
		}),

		LLMTurnDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "oriole_llm_turn_duration_seconds",
			Help:    "One LLM stream round-trip.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"provider", "model"}),

		LLMTokens: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "oriole_llm_tokens_total",
			Help: "Token consumption by provider, model and kind.",
		}, []string{"provider", "model", "kind"}),

		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "oriole_active_sessions",
			Help: "Currently running sessions.",
		}),

		SnapshotsTaken: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "oriole_snapshots_total",
			Help: "State snapshots by trigger.",
		}, []string{"trigger"}),
	}
}

// NewTestMetrics returns metrics on a private registry, for tests.
func NewTestMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}
