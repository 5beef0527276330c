package providers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/oriolane/oriole/pkg/models"
)

// Error is a structured provider failure. It carries the classification the
// loop's retry policy keys on plus the transport facts needed for debugging.
type Error struct {
	Provider string
	Model    string

	// Type is the shared error taxonomy classification.
	Type models.ToolErrorType

	Status    int
	Code      string
	Message   string
	RequestID string

	// RetryAfter is the server-suggested wait in seconds, when present.
	RetryAfter int

	Cause error
}

func (e *Error) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s]", e.Type))
	if e.Provider != "" {
		parts = append(parts, e.Provider)
	}
	if e.Model != "" {
		parts = append(parts, "model="+e.Model)
	}
	if e.Status != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.Status))
	}
	if e.Code != "" {
		parts = append(parts, "code="+e.Code)
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " ")
}

func (e *Error) Unwrap() error { return e.Cause }

// Retryable reports whether the failure is worth retrying on the same
// provider.
func (e *Error) Retryable() bool { return e.Type.Retryable() }

// NewError wraps cause with a message-text classification. Providers with a
// status code should prefer WithStatus which classifies precisely.
func NewError(provider, model string, cause error) *Error {
	e := &Error{
		Provider: provider,
		Model:    model,
		Cause:    cause,
		Type:     models.ToolErrPermanent,
	}
	if cause != nil {
		e.Message = cause.Error()
		e.Type = ClassifyMessage(cause.Error())
	}
	return e
}

// WithStatus records the HTTP status and reclassifies from it. Status-based
// classification overrides the text heuristic.
func (e *Error) WithStatus(status int) *Error {
	e.Status = status
	e.Type = ClassifyStatus(status)
	return e
}

// WithCode records a provider-specific error code.
func (e *Error) WithCode(code string) *Error {
	e.Code = code
	if t, ok := classifyCode(code); ok {
		e.Type = t
	}
	return e
}

// WithMessage sets the human-readable message.
func (e *Error) WithMessage(msg string) *Error {
	e.Message = msg
	return e
}

// WithRequestID records the provider's request id.
func (e *Error) WithRequestID(id string) *Error {
	e.RequestID = id
	return e
}

// WithRetryAfter records the server-suggested wait.
func (e *Error) WithRetryAfter(seconds int) *Error {
	e.RetryAfter = seconds
	return e
}

// ClassifyStatus maps an HTTP status to the shared taxonomy.
func ClassifyStatus(status int) models.ToolErrorType {
	switch {
	case status == http.StatusTooManyRequests:
		return models.ToolErrRateLimited
	case status == http.StatusUnauthorized:
		return models.ToolErrAuthExpired
	case status == http.StatusForbidden:
		return models.ToolErrPermissionDenied
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return models.ToolErrTimeout
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return models.ToolErrInputInvalid
	case status >= 500:
		return models.ToolErrTransient
	default:
		return models.ToolErrPermanent
	}
}

// ClassifyMessage is the fallback classification for errors with no status.
func ClassifyMessage(msg string) models.ToolErrorType {
	msg = strings.ToLower(msg)
	switch {
	case strings.Contains(msg, "timeout"),
		strings.Contains(msg, "deadline exceeded"):
		return models.ToolErrTimeout
	case strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "rate_limit"),
		strings.Contains(msg, "too many requests"),
		strings.Contains(msg, "429"):
		return models.ToolErrRateLimited
	case strings.Contains(msg, "unauthorized"),
		strings.Contains(msg, "invalid api key"),
		strings.Contains(msg, "authentication"),
		strings.Contains(msg, "401"):
		return models.ToolErrAuthExpired
	case strings.Contains(msg, "forbidden"),
		strings.Contains(msg, "403"):
		return models.ToolErrPermissionDenied
	case strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "no such host"),
		strings.Contains(msg, "internal server"),
		strings.Contains(msg, "overloaded"),
		strings.Contains(msg, "502"),
		strings.Contains(msg, "503"),
		strings.Contains(msg, "504"):
		return models.ToolErrTransient
	default:
		return models.ToolErrPermanent
	}
}

func classifyCode(code string) (models.ToolErrorType, bool) {
	switch strings.ToLower(code) {
	case "rate_limit_error", "rate_limit_exceeded":
		return models.ToolErrRateLimited, true
	case "authentication_error", "invalid_api_key":
		return models.ToolErrAuthExpired, true
	case "permission_error":
		return models.ToolErrPermissionDenied, true
	case "overloaded_error", "api_error", "server_error", "internal_error":
		return models.ToolErrTransient, true
	case "invalid_request_error":
		return models.ToolErrInputInvalid, true
	case "timeout_error":
		return models.ToolErrTimeout, true
	default:
		return "", false
	}
}

// AsError extracts a provider Error from an error chain.
func AsError(err error) (*Error, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// Retryable reports whether any error, provider-classified or raw, is worth
// a retry.
func Retryable(err error) bool {
	if pe, ok := AsError(err); ok {
		return pe.Retryable()
	}
	return ClassifyMessage(fmt.Sprint(err)).Retryable()
}
