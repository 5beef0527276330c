// Package models defines the shared data types that cross package boundaries:
// runtime events, conversation messages, tool calls, and plans. Types here are
// plain data with no behavior beyond small constructors; every subsystem that
// needs them imports this package rather than each other.
package models

import (
	"time"
)

// EventType identifies a runtime event. The set is closed: frontends switch
// on these values and unknown types are dropped by adapters.
type EventType string

// Session level events.
const (
	EventSessionStart   EventType = "session_start"
	EventSessionStopped EventType = "session_stopped"
	EventSessionEnd     EventType = "session_end"
	EventPing           EventType = "ping"
)

// Conversation level events.
const (
	EventConversationStart EventType = "conversation_start"
	EventConversationDelta EventType = "conversation_delta"
	EventConversationStop  EventType = "conversation_stop"
)

// Message level events.
const (
	EventMessageStart EventType = "message_start"
	EventMessageDelta EventType = "message_delta"
	EventMessageStop  EventType = "message_stop"
)

// Content level events.
const (
	EventContentStart EventType = "content_start"
	EventContentDelta EventType = "content_delta"
	EventContentStop  EventType = "content_stop"
)

// System level events.
const (
	EventError  EventType = "error"
	EventDone   EventType = "done"
	EventCustom EventType = "custom"
)

// ContentBlockType identifies the kind of content block inside a streamed
// assistant message.
type ContentBlockType string

const (
	ContentBlockText       ContentBlockType = "text"
	ContentBlockThinking   ContentBlockType = "thinking"
	ContentBlockToolUse    ContentBlockType = "tool_use"
	ContentBlockToolResult ContentBlockType = "tool_result"
)

// ContentBlock describes one block in a streamed message. For tool_use blocks
// ToolCallID and ToolName are set; for tool_result blocks ToolCallID refers
// back to the originating call.
type ContentBlock struct {
	Type       ContentBlockType `json:"type"`
	Index      int              `json:"index"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
	ToolName   string           `json:"tool_name,omitempty"`
}

// MessageDeltaKind enumerates the legal `type` values of a message_delta
// payload.
type MessageDeltaKind string

const (
	DeltaUsage         MessageDeltaKind = "usage"
	DeltaRecommended   MessageDeltaKind = "recommended"
	DeltaSearch        MessageDeltaKind = "search"
	DeltaKnowledge     MessageDeltaKind = "knowledge"
	DeltaIntent        MessageDeltaKind = "intent"
	DeltaBilling       MessageDeltaKind = "billing"
	DeltaCloudProgress MessageDeltaKind = "cloud_progress"
	DeltaHITL          MessageDeltaKind = "hitl"
	DeltaProgress      MessageDeltaKind = "progress"
)

// ConversationDeltaField enumerates the mutable conversation fields a
// conversation_delta may carry.
type ConversationDeltaField string

const (
	ConversationFieldTitle      ConversationDeltaField = "title"
	ConversationFieldMetadata   ConversationDeltaField = "metadata"
	ConversationFieldCompressed ConversationDeltaField = "compressed"
)

// Event is the immutable record that flows through the event storage.
//
// Seq is assigned exactly once, at storage time, and is strictly monotonic
// per session with no gaps. Events handed to the broadcaster carry Seq == 0;
// observing a zero Seq outside the storage layer is a bug.
type Event struct {
	// EventUUID uniquely identifies the event across all sessions.
	EventUUID string `json:"event_uuid"`

	// Seq is the session-scoped sequence number, assigned by the store.
	Seq int64 `json:"seq"`

	// Type is one of the closed EventType set.
	Type EventType `json:"type"`

	// SessionID scopes the event to one live session.
	SessionID string `json:"session_id"`

	// ConversationID may be empty for pre-conversation session events.
	ConversationID string `json:"conversation_id,omitempty"`

	// MessageID is set for message- and content-level events.
	MessageID string `json:"message_id,omitempty"`

	// Timestamp is the emission time.
	Timestamp time.Time `json:"timestamp"`

	// Data carries the type-specific payload.
	Data map[string]any `json:"data,omitempty"`
}

// Clone returns a shallow copy of the event with its own Data map. The store
// stamps Seq onto a clone so the caller's value is never mutated.
func (e *Event) Clone() *Event {
	if e == nil {
		return nil
	}
	dup := *e
	if e.Data != nil {
		dup.Data = make(map[string]any, len(e.Data))
		for k, v := range e.Data {
			dup.Data[k] = v
		}
	}
	return &dup
}

// NewEvent creates an event of the given type with an empty payload.
func NewEvent(t EventType, sessionID string) *Event {
	return &Event{
		Type:      t,
		SessionID: sessionID,
		Timestamp: time.Now(),
		Data:      map[string]any{},
	}
}

// WithConversation sets the conversation ID.
func (e *Event) WithConversation(id string) *Event {
	e.ConversationID = id
	return e
}

// WithMessage sets the message ID.
func (e *Event) WithMessage(id string) *Event {
	e.MessageID = id
	return e
}

// WithData sets one payload field.
func (e *Event) WithData(key string, value any) *Event {
	if e.Data == nil {
		e.Data = map[string]any{}
	}
	e.Data[key] = value
	return e
}

// Usage carries token accounting for one model turn.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}
