package models

import (
	"encoding/json"
	"time"
)

// Role identifies who authored a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleSystem    Role = "system"
)

// Message is one entry in a conversation transcript.
type Message struct {
	// ID uniquely identifies the message.
	ID string `json:"id"`

	// ConversationID scopes the message to its conversation.
	ConversationID string `json:"conversation_id"`

	// Role indicates the author: user, assistant, tool, or system.
	Role Role `json:"role"`

	// Content is the text content (may be empty for tool-only messages).
	Content string `json:"content,omitempty"`

	// SystemInjected marks a user-role message that was produced by the
	// injection pipeline rather than typed by the user.
	SystemInjected bool `json:"system_injected,omitempty"`

	// ToolCalls contains tool execution requests from the assistant.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolResults contains responses from executed tools.
	ToolResults []ToolResult `json:"tool_results,omitempty"`

	// CreatedAt is the message creation time.
	CreatedAt time.Time `json:"created_at"`
}

// ToolCall is an assistant request to execute a named tool.
type ToolCall struct {
	// ID correlates the call with its result.
	ID string `json:"id"`

	// Name is the tool name.
	Name string `json:"name"`

	// Input is the raw JSON input for the tool.
	Input json.RawMessage `json:"input"`
}

// ToolErrorType categorizes tool failures. The taxonomy is closed and shared
// between the executor, the wire envelope, and the orchestrator retry policy.
type ToolErrorType string

const (
	ToolErrPermissionDenied  ToolErrorType = "permission_denied"
	ToolErrDependencyMissing ToolErrorType = "dependency_missing"
	ToolErrTimeout           ToolErrorType = "timeout"
	ToolErrInputInvalid      ToolErrorType = "input_invalid"
	ToolErrRateLimited       ToolErrorType = "rate_limited"
	ToolErrAuthExpired       ToolErrorType = "auth_expired"
	ToolErrTransient         ToolErrorType = "transient"
	ToolErrPermanent         ToolErrorType = "permanent"
)

// Retryable reports whether the orchestrator may retry a call that failed
// with this error type. Rate limits retry after their hint and transient
// errors retry once; everything else is surfaced as-is.
func (t ToolErrorType) Retryable() bool {
	switch t {
	case ToolErrRateLimited, ToolErrTransient:
		return true
	default:
		return false
	}
}

// ToolResult is the outcome of one tool call as stored in the transcript and
// surfaced to the model.
type ToolResult struct {
	// ToolCallID correlates the result with its call.
	ToolCallID string `json:"tool_call_id"`

	// Content is the textual result (possibly a compaction envelope).
	Content string `json:"content"`

	// Blocks carries multimodal content when the tool returned a block
	// list; such results bypass compaction and Content is empty.
	Blocks []ContentBlock `json:"blocks,omitempty"`

	// IsError marks an error envelope.
	IsError bool `json:"is_error,omitempty"`

	// ErrorType is set when IsError is true.
	ErrorType ToolErrorType `json:"error_type,omitempty"`

	// RecoveryHint suggests how the failure might be recovered.
	RecoveryHint string `json:"recovery_hint,omitempty"`

	// RetryAfterSeconds is set for rate_limited failures.
	RetryAfterSeconds int `json:"retry_after_seconds,omitempty"`

	// Compressed marks a result whose full payload was spilled to disk.
	Compressed bool `json:"compressed,omitempty"`

	// CompactionExempt marks a result the producing tool opted out of
	// compaction; later stages must not compress it either.
	CompactionExempt bool `json:"_skip_compaction,omitempty"`

	// CompressionMetadata describes the on-disk copy of a compacted result.
	CompressionMetadata *CompressionMetadata `json:"_compression_metadata,omitempty"`
}

// CompressionMetadata describes where a compacted tool result lives on disk.
type CompressionMetadata struct {
	RefID          string    `json:"ref_id"`
	FilePath       string    `json:"file_path"`
	OriginalLength int       `json:"original_length"`
	ToolName       string    `json:"tool_name"`
	ToolID         string    `json:"tool_id"`
	CompressedAt   time.Time `json:"compressed_at"`
}
