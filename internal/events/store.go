// Package events implements the per-session event log and the broadcaster
// that all runtime code uses to emit events.
//
// The store is the only source of sequence numbers: an event gets its seq
// exactly once, under the session lock, when it is buffered. Subscribers see
// events in seq order with no gaps; late subscribers catch up through
// EventsSince.
package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/oriolane/oriole/internal/observability"
	"github.com/oriolane/oriole/pkg/models"
)

// DefaultLogCap is the per-session ring buffer size. Oldest events are
// evicted past this point; resume via EventsSince only reaches back this far.
const DefaultLogCap = 1000

// subscriberBuffer is the channel depth handed to subscribers. A subscriber
// that falls further behind than this loses events (logged, never blocking
// emission).
const subscriberBuffer = 256

// SessionContext is the per-session bookkeeping record, created on the first
// event for a session.
type SessionContext struct {
	UserID         string
	ConversationID string
	InstanceID     string
	Heartbeat      time.Time
}

// Adapter transforms an event before it is sequenced, on behalf of a given
// output format. Returning nil filters the event entirely: no seq is burned
// and no subscriber is notified.
type Adapter interface {
	Transform(ev *models.Event) *models.Event
}

// AdapterFunc adapts a function to the Adapter interface.
type AdapterFunc func(ev *models.Event) *models.Event

// Transform implements Adapter.
func (f AdapterFunc) Transform(ev *models.Event) *models.Event { return f(ev) }

type sessionState struct {
	mu   sync.Mutex
	ctx  SessionContext
	seq  int64
	log  []*models.Event
	subs []chan *models.Event
}

// Store holds per-session event logs. It is a process-wide component, safe
// for concurrent use, and never fails under normal conditions: persistence
// backends layered on top are best-effort observers.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*sessionState
	logCap   int
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// NewStore creates an event store with the given per-session log cap.
// A cap <= 0 uses DefaultLogCap.
func NewStore(logCap int, logger *slog.Logger, metrics *observability.Metrics) *Store {
	if logCap <= 0 {
		logCap = DefaultLogCap
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Store{
		sessions: make(map[string]*sessionState),
		logCap:   logCap,
		logger:   logger,
		metrics:  metrics,
	}
}

func (s *Store) session(sessionID string) *sessionState {
	s.mu.RLock()
	st, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if ok {
		return st
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok = s.sessions[sessionID]; ok {
		return st
	}
	st = &sessionState{ctx: SessionContext{Heartbeat: time.Now()}}
	s.sessions[sessionID] = st
	return st
}

// GetSessionContext returns the context for a session and whether it exists.
func (s *Store) GetSessionContext(sessionID string) (SessionContext, bool) {
	s.mu.RLock()
	st, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return SessionContext{}, false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.ctx, true
}

// SetSessionContext merges the non-empty fields of partial into the session
// context, creating the session if needed.
func (s *Store) SetSessionContext(sessionID string, partial SessionContext) {
	st := s.session(sessionID)
	st.mu.Lock()
	defer st.mu.Unlock()
	if partial.UserID != "" {
		st.ctx.UserID = partial.UserID
	}
	if partial.ConversationID != "" {
		st.ctx.ConversationID = partial.ConversationID
	}
	if partial.InstanceID != "" {
		st.ctx.InstanceID = partial.InstanceID
	}
	if !partial.Heartbeat.IsZero() {
		st.ctx.Heartbeat = partial.Heartbeat
	}
}

// UpdateHeartbeat refreshes the session heartbeat timestamp.
func (s *Store) UpdateHeartbeat(sessionID string) {
	st := s.session(sessionID)
	st.mu.Lock()
	st.ctx.Heartbeat = time.Now()
	st.mu.Unlock()
}

// BufferEvent is the single entry point that assigns sequence numbers.
//
// If an adapter is given it runs first; a nil transform result filters the
// event (no seq assigned, nil returned, nothing observable happens). The
// event is cloned before stamping so the caller's value stays untouched.
func (s *Store) BufferEvent(sessionID string, ev *models.Event, adapter Adapter) *models.Event {
	if ev == nil {
		return nil
	}

	if adapter != nil {
		ev = adapter.Transform(ev)
		if ev == nil {
			if s.metrics != nil {
				s.metrics.EventsFiltered.WithLabelValues(string(models.EventCustom)).Inc()
			}
			return nil
		}
	}

	st := s.session(sessionID)
	st.mu.Lock()

	st.seq++
	stamped := ev.Clone()
	stamped.Seq = st.seq
	stamped.SessionID = sessionID

	st.log = append(st.log, stamped)
	if len(st.log) > s.logCap {
		st.log = st.log[len(st.log)-s.logCap:]
	}

	subs := make([]chan *models.Event, len(st.subs))
	copy(subs, st.subs)
	st.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- stamped:
		default:
			s.logger.Warn("event subscriber lagging, dropping event",
				"session_id", sessionID,
				"seq", stamped.Seq,
				"type", stamped.Type)
		}
	}

	if s.metrics != nil {
		s.metrics.EventsEmitted.WithLabelValues(string(stamped.Type)).Inc()
	}

	return stamped
}

// EventsSince returns the buffered events with seq greater than lastSeq, in
// order. Used by late subscribers to resume.
func (s *Store) EventsSince(sessionID string, lastSeq int64) []*models.Event {
	s.mu.RLock()
	st, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return nil
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]*models.Event, 0)
	for _, ev := range st.log {
		if ev.Seq > lastSeq {
			out = append(out, ev)
		}
	}
	return out
}

// Latest returns the newest n buffered events in seq order.
func (s *Store) Latest(sessionID string, n int) []*models.Event {
	s.mu.RLock()
	st, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok || n <= 0 {
		return nil
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if n > len(st.log) {
		n = len(st.log)
	}
	out := make([]*models.Event, n)
	copy(out, st.log[len(st.log)-n:])
	return out
}

// Subscribe registers a live event channel for a session. The channel is
// closed when the session is cleaned up.
func (s *Store) Subscribe(sessionID string) <-chan *models.Event {
	st := s.session(sessionID)
	ch := make(chan *models.Event, subscriberBuffer)
	st.mu.Lock()
	st.subs = append(st.subs, ch)
	st.mu.Unlock()
	return ch
}

// CleanupSession drops a session's log and context and closes all of its
// subscriber channels.
func (s *Store) CleanupSession(sessionID string) {
	s.mu.Lock()
	st, ok := s.sessions[sessionID]
	if ok {
		delete(s.sessions, sessionID)
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	st.mu.Lock()
	subs := st.subs
	st.subs = nil
	st.log = nil
	st.mu.Unlock()

	for _, ch := range subs {
		close(ch)
	}
}
