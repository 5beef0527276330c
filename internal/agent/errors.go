package agent

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/oriolane/oriole/internal/providers"
	"github.com/oriolane/oriole/pkg/models"
)

// ToolError is a structured tool failure. Tool errors never propagate past
// the executor; they become error envelopes in the transcript.
type ToolError struct {
	Type     models.ToolErrorType
	ToolName string
	Message  string

	// RecoveryHint suggests how the model might recover.
	RecoveryHint string

	// RetryAfter is set for rate-limited failures, in seconds.
	RetryAfter int

	Cause error
}

func (e *ToolError) Error() string {
	if e.ToolName != "" {
		return fmt.Sprintf("tool %s: [%s] %s", e.ToolName, e.Type, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

func (e *ToolError) Unwrap() error { return e.Cause }

// Retryable reports whether the orchestrator's retry policy applies.
func (e *ToolError) Retryable() bool { return e.Type.Retryable() }

// NewToolError builds a tool error of the given type.
func NewToolError(errType models.ToolErrorType, toolName, message string) *ToolError {
	return &ToolError{Type: errType, ToolName: toolName, Message: message}
}

// WithCause attaches the underlying error.
func (e *ToolError) WithCause(cause error) *ToolError {
	e.Cause = cause
	return e
}

// WithRecoveryHint attaches a recovery suggestion.
func (e *ToolError) WithRecoveryHint(hint string) *ToolError {
	e.RecoveryHint = hint
	return e
}

// WithRetryAfter records the server-suggested wait and sets the matching
// recovery hint.
func (e *ToolError) WithRetryAfter(seconds int) *ToolError {
	e.RetryAfter = seconds
	e.RecoveryHint = fmt.Sprintf("retry_after:%d", seconds)
	return e
}

// ClassifyToolError wraps an arbitrary tool failure in a ToolError. Existing
// ToolErrors pass through; provider errors keep their classification; OS and
// context errors map onto the taxonomy; everything else is permanent unless
// the message suggests a transient condition.
func ClassifyToolError(toolName string, err error) *ToolError {
	if err == nil {
		return nil
	}

	var te *ToolError
	if errors.As(err, &te) {
		if te.ToolName == "" {
			te.ToolName = toolName
		}
		return te
	}

	if pe, ok := providers.AsError(err); ok {
		out := NewToolError(pe.Type, toolName, pe.Message).WithCause(err)
		if pe.RetryAfter > 0 {
			out = out.WithRetryAfter(pe.RetryAfter)
		}
		return out
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return NewToolError(models.ToolErrTimeout, toolName, "execution timed out").WithCause(err)
	case errors.Is(err, context.Canceled):
		return NewToolError(models.ToolErrTransient, toolName, "execution cancelled").WithCause(err)
	case errors.Is(err, os.ErrPermission), errors.Is(err, fs.ErrPermission):
		return NewToolError(models.ToolErrPermissionDenied, toolName, err.Error()).WithCause(err)
	case errors.Is(err, os.ErrNotExist), errors.Is(err, fs.ErrNotExist):
		return NewToolError(models.ToolErrDependencyMissing, toolName, err.Error()).WithCause(err)
	}

	return NewToolError(providers.ClassifyMessage(err.Error()), toolName, err.Error()).WithCause(err)
}

// ClassifyHTTPStatus builds a tool error from an HTTP status code, applying
// the shared status mapping.
func ClassifyHTTPStatus(toolName string, status int, retryAfter int) *ToolError {
	e := NewToolError(providers.ClassifyStatus(status), toolName,
		fmt.Sprintf("http status %d", status))
	if e.Type == models.ToolErrRateLimited && retryAfter > 0 {
		e = e.WithRetryAfter(retryAfter)
	}
	return e
}

// Loop phases for LoopError.
const (
	PhaseIntent    = "intent"
	PhaseInject    = "inject"
	PhaseStream    = "stream"
	PhaseTools     = "execute_tools"
	PhaseTerminate = "terminate"
)

// LoopError wraps a turn-loop failure with its phase and iteration.
type LoopError struct {
	Phase     string
	Iteration int
	Err       error
}

func (e *LoopError) Error() string {
	return fmt.Sprintf("loop %s (turn %d): %v", e.Phase, e.Iteration, e.Err)
}

func (e *LoopError) Unwrap() error { return e.Err }
