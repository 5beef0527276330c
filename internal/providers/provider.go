// Package providers implements LLM backends behind a provider-neutral
// streaming interface. Each provider converts the runtime's message shape to
// its API format, streams the response back as chunks, and classifies
// failures into the shared error taxonomy.
package providers

import (
	"context"

	"github.com/oriolane/oriole/pkg/models"
)

// SystemBlock is one system prompt segment with its cache placement. Layer
// semantics: 0 means never cache, higher values mark progressively more
// stable content that providers may pin behind cache breakpoints.
type SystemBlock struct {
	Text       string
	CacheLayer int
}

// ToolDef is a provider-neutral tool declaration.
type ToolDef struct {
	Name        string
	Description string
	InputSchema []byte
}

// Request is one model turn.
type Request struct {
	Model    string
	System   []SystemBlock
	Messages []models.Message
	Tools    []ToolDef

	MaxTokens int

	EnableThinking       bool
	ThinkingBudgetTokens int
}

// Chunk is one unit of a streamed response. Exactly one of the content
// fields is meaningful per chunk; Done is the terminal chunk and carries
// final usage.
type Chunk struct {
	Text     string
	Thinking string

	ThinkingStart bool
	ThinkingEnd   bool

	// ToolCall is emitted once per call, after its input JSON is complete.
	ToolCall *models.ToolCall

	Done       bool
	StopReason string
	Usage      models.Usage

	Error error
}

// Provider streams completions for one backend.
//
// Stream returns immediately; chunks arrive on the channel until a Done or
// Error chunk, after which the channel closes. Cancelling ctx stops the
// stream.
type Provider interface {
	Name() string
	Stream(ctx context.Context, req *Request) (<-chan *Chunk, error)
}
