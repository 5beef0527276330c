package events

import (
	"log/slog"

	"github.com/google/uuid"
	"github.com/oriolane/oriole/internal/observability"
	"github.com/oriolane/oriole/pkg/models"
)

// Broadcaster is the single API surface agent code uses to emit events. It
// stamps a fresh UUID on every event, backfills the conversation ID from the
// session context when absent, then delegates sequencing to the store. There
// is no seq logic here.
type Broadcaster struct {
	store   *Store
	adapter Adapter
	logger  *slog.Logger
}

// NewBroadcaster wires a broadcaster to its store. The adapter, when set,
// applies to every emission from this broadcaster.
func NewBroadcaster(store *Store, adapter Adapter, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Broadcaster{store: store, adapter: adapter, logger: logger}
}

// Store exposes the underlying event store for replay queries.
func (b *Broadcaster) Store() *Store { return b.store }

// Emit stamps and buffers an event. Returns the sequenced copy, or nil when
// an adapter filtered it.
func (b *Broadcaster) Emit(ev *models.Event) *models.Event {
	if ev == nil {
		return nil
	}
	if ev.EventUUID == "" {
		ev.EventUUID = uuid.NewString()
	}
	if ev.ConversationID == "" {
		if ctx, ok := b.store.GetSessionContext(ev.SessionID); ok {
			ev.ConversationID = ctx.ConversationID
		}
	}

	stamped := b.store.BufferEvent(ev.SessionID, ev, b.adapter)
	b.store.UpdateHeartbeat(ev.SessionID)
	return stamped
}

// Subscribe returns the session-bound channel of emitted events.
func (b *Broadcaster) Subscribe(sessionID string) <-chan *models.Event {
	return b.store.Subscribe(sessionID)
}

// CloseSession drains and closes all subscriber channels for the session.
func (b *Broadcaster) CloseSession(sessionID string) {
	b.store.CleanupSession(sessionID)
}

// Session level helpers.

func (b *Broadcaster) SessionStart(sessionID, userID, instanceID string) *models.Event {
	b.store.SetSessionContext(sessionID, SessionContext{UserID: userID, InstanceID: instanceID})
	return b.Emit(models.NewEvent(models.EventSessionStart, sessionID).
		WithData("user_id", userID).
		WithData("instance_id", instanceID))
}

func (b *Broadcaster) SessionEnd(sessionID, status string) *models.Event {
	return b.Emit(models.NewEvent(models.EventSessionEnd, sessionID).
		WithData("status", status))
}

func (b *Broadcaster) SessionStopped(sessionID, reason string) *models.Event {
	return b.Emit(models.NewEvent(models.EventSessionStopped, sessionID).
		WithData("reason", reason))
}

func (b *Broadcaster) Ping(sessionID string) *models.Event {
	return b.Emit(models.NewEvent(models.EventPing, sessionID))
}

// Conversation level helpers.

func (b *Broadcaster) ConversationStart(sessionID, conversationID string) *models.Event {
	b.store.SetSessionContext(sessionID, SessionContext{ConversationID: conversationID})
	return b.Emit(models.NewEvent(models.EventConversationStart, sessionID).
		WithConversation(conversationID))
}

// ConversationDelta emits a single-field conversation mutation. The field
// must be one of title, metadata, compressed.
func (b *Broadcaster) ConversationDelta(sessionID, conversationID string, field models.ConversationDeltaField, value any) *models.Event {
	return b.Emit(models.NewEvent(models.EventConversationDelta, sessionID).
		WithConversation(conversationID).
		WithData("conversation_id", conversationID).
		WithData(string(field), value))
}

func (b *Broadcaster) ConversationStop(sessionID, conversationID string) *models.Event {
	return b.Emit(models.NewEvent(models.EventConversationStop, sessionID).
		WithConversation(conversationID))
}

// Message level helpers.

func (b *Broadcaster) MessageStart(sessionID, messageID string) *models.Event {
	return b.Emit(models.NewEvent(models.EventMessageStart, sessionID).
		WithMessage(messageID))
}

// MessageDelta emits an out-of-band message annotation such as usage,
// progress, or a HITL instruction.
func (b *Broadcaster) MessageDelta(sessionID, messageID string, kind models.MessageDeltaKind, content any) *models.Event {
	return b.Emit(models.NewEvent(models.EventMessageDelta, sessionID).
		WithMessage(messageID).
		WithData("type", string(kind)).
		WithData("content", content))
}

func (b *Broadcaster) MessageStop(sessionID, messageID string) *models.Event {
	return b.Emit(models.NewEvent(models.EventMessageStop, sessionID).
		WithMessage(messageID))
}

// Content level helpers.

func (b *Broadcaster) ContentStart(sessionID, messageID string, block models.ContentBlock) *models.Event {
	return b.Emit(models.NewEvent(models.EventContentStart, sessionID).
		WithMessage(messageID).
		WithData("index", block.Index).
		WithData("content_block", block))
}

func (b *Broadcaster) ContentDelta(sessionID, messageID string, index int, delta string) *models.Event {
	return b.Emit(models.NewEvent(models.EventContentDelta, sessionID).
		WithMessage(messageID).
		WithData("index", index).
		WithData("delta", delta))
}

func (b *Broadcaster) ContentStop(sessionID, messageID string, index int) *models.Event {
	return b.Emit(models.NewEvent(models.EventContentStop, sessionID).
		WithMessage(messageID).
		WithData("index", index))
}

// System level helpers.

func (b *Broadcaster) Error(sessionID, message string) *models.Event {
	return b.Emit(models.NewEvent(models.EventError, sessionID).
		WithData("error", message))
}

func (b *Broadcaster) Done(sessionID string) *models.Event {
	return b.Emit(models.NewEvent(models.EventDone, sessionID))
}

func (b *Broadcaster) Custom(sessionID, name string, data map[string]any) *models.Event {
	ev := models.NewEvent(models.EventCustom, sessionID).WithData("name", name)
	for k, v := range data {
		ev.WithData(k, v)
	}
	return b.Emit(ev)
}
