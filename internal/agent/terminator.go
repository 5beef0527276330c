package agent

import (
	"time"
)

// TerminatorConfig tunes the adaptive termination policy.
type TerminatorConfig struct {
	MaxTurns                     int
	MaxDuration                  time.Duration
	IdleTimeout                  time.Duration
	ConsecutiveFailureLimit      int
	LongRunningConfirmAfterTurns int
}

// DefaultTerminatorConfig returns the standard limits.
func DefaultTerminatorConfig() TerminatorConfig {
	return TerminatorConfig{
		MaxTurns:                     100,
		MaxDuration:                  1800 * time.Second,
		IdleTimeout:                  120 * time.Second,
		ConsecutiveFailureLimit:      5,
		LongRunningConfirmAfterTurns: 20,
	}
}

// Stop reasons surfaced in session_end / session_stopped payloads.
const (
	StopReasonModel        = "llm_stop"
	StopReasonMaxTurns     = "max_turns"
	StopReasonMaxDuration  = "max_duration"
	StopReasonIdle         = "idle_timeout"
	StopReasonFailures     = "consecutive_failures"
	StopReasonUserRequest  = "user_requested"
	StopReasonStreamError  = "llm_stream_error"
	StopReasonHITLRejected = "hitl_rejected"
)

// Decision is the terminator's verdict for one loop iteration.
type Decision struct {
	Stop   bool
	Reason string

	// ConfirmLongRunning signals the frontend should ask the user whether
	// to continue. It does not stop the loop by itself.
	ConfirmLongRunning bool
}

// Terminator implements the adaptive termination policy: stop on turn
// budget, wall-clock budget, idle timeout, consecutive tool failures, or an
// explicit model stop. Not safe for concurrent use; each loop owns one.
type Terminator struct {
	cfg TerminatorConfig

	started      time.Time
	lastActivity time.Time
	turns        int
	failures     int
	confirmSent  bool

	now func() time.Time
}

// NewTerminator starts the clocks.
func NewTerminator(cfg TerminatorConfig) *Terminator {
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = 100
	}
	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = 1800 * time.Second
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 120 * time.Second
	}
	if cfg.ConsecutiveFailureLimit <= 0 {
		cfg.ConsecutiveFailureLimit = 5
	}
	if cfg.LongRunningConfirmAfterTurns <= 0 {
		cfg.LongRunningConfirmAfterTurns = 20
	}
	t := &Terminator{cfg: cfg, now: time.Now}
	t.started = t.now()
	t.lastActivity = t.started
	return t
}

// Touch records activity (stream progress, tool completion) for the idle
// clock.
func (t *Terminator) Touch() {
	t.lastActivity = t.now()
}

// RecordTurn counts one completed LLM turn.
func (t *Terminator) RecordTurn() {
	t.turns++
	t.Touch()
}

// RecordToolResult feeds the consecutive-failure counter. Any success
// resets it.
func (t *Terminator) RecordToolResult(success bool) {
	if success {
		t.failures = 0
	} else {
		t.failures++
	}
	t.Touch()
}

// Turns returns the completed turn count.
func (t *Terminator) Turns() int { return t.turns }

// ConsecutiveFailures returns the current failure streak.
func (t *Terminator) ConsecutiveFailures() int { return t.failures }

// Check returns the verdict for this iteration. modelStopped indicates the
// LLM ended its turn without requesting tools.
func (t *Terminator) Check(modelStopped bool) Decision {
	now := t.now()

	switch {
	case modelStopped:
		return Decision{Stop: true, Reason: StopReasonModel}
	case t.turns >= t.cfg.MaxTurns:
		return Decision{Stop: true, Reason: StopReasonMaxTurns}
	case now.Sub(t.started) >= t.cfg.MaxDuration:
		return Decision{Stop: true, Reason: StopReasonMaxDuration}
	case now.Sub(t.lastActivity) >= t.cfg.IdleTimeout:
		return Decision{Stop: true, Reason: StopReasonIdle}
	case t.failures >= t.cfg.ConsecutiveFailureLimit:
		return Decision{Stop: true, Reason: StopReasonFailures}
	}

	d := Decision{}
	if !t.confirmSent && t.turns >= t.cfg.LongRunningConfirmAfterTurns {
		d.ConfirmLongRunning = true
		t.confirmSent = true
	}
	return d
}
