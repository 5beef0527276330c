package agent

import (
	"context"
	"encoding/json"

	"github.com/oriolane/oriole/internal/events"
	"github.com/oriolane/oriole/pkg/models"
)

// CompressionHint is a tool's declared preference for how its result is
// compacted. The hint travels as a typed field on the output, never as a key
// smuggled through the payload.
type CompressionHint string

const (
	// HintNormal (or empty) compacts via the default head/tail path past
	// the standard threshold.
	HintNormal CompressionHint = "normal"

	// HintSkip returns the result verbatim and marks it so later stages
	// never compress it either.
	HintSkip CompressionHint = "skip"

	// HintForce compacts past the lowered force threshold.
	HintForce CompressionHint = "force"

	// HintSearch compacts via the search-shaped top-N path.
	HintSearch CompressionHint = "search"
)

// Invocation carries the per-call context a tool may need. Tools treat it as
// read-only.
type Invocation struct {
	SessionID      string
	ConversationID string
	UserID         string
	InstanceID     string

	// Broadcaster lets interactive tools emit message deltas (HITL prompts,
	// progress). May be nil in tests.
	Broadcaster *events.Broadcaster

	// MessageID is the id of the assistant message that requested the call.
	MessageID string

	// Extra carries tool-specific configuration (API credentials, working
	// directory) keyed by convention.
	Extra map[string]any
}

// ToolOutput is a successful tool result before compaction.
type ToolOutput struct {
	// Text is the serialized result for text-shaped outputs.
	Text string

	// Blocks carries multimodal content. Block-list results bypass
	// compaction and are returned verbatim.
	Blocks []models.ContentBlock

	// Hint is the tool's compaction preference.
	Hint CompressionHint
}

// Tool is an executable capability implementation.
type Tool interface {
	Name() string
	Description() string
	Schema() json.RawMessage
	Execute(ctx context.Context, inv *Invocation, input json.RawMessage) (*ToolOutput, error)
}

// HandlerFunc adapts a function into the registry's handler slot. Handlers
// take precedence over loaded tools during resolution.
type HandlerFunc func(ctx context.Context, inv *Invocation, input json.RawMessage) (*ToolOutput, error)
