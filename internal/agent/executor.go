package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/oriolane/oriole/internal/compactor"
	"github.com/oriolane/oriole/internal/observability"
	"github.com/oriolane/oriole/pkg/models"
)

// DefaultToolTimeout applies when a capability declares no execution
// timeout.
const DefaultToolTimeout = 60 * time.Second

// ExecutorConfig tunes the tool executor.
type ExecutorConfig struct {
	// DefaultTimeout is the per-tool deadline when the capability declares
	// none. Default 60s.
	DefaultTimeout time.Duration

	// MaxConcurrent bounds parallel tool executions. Default 8.
	MaxConcurrent int
}

// Executor invokes tools with timeout, panic recovery, schema validation,
// error classification and result compaction. Failures never escape as Go
// errors; every call produces a ToolResult.
type Executor struct {
	registry  *ToolRegistry
	compactor *compactor.Compactor
	usage     *UsageTracker
	logger    *slog.Logger
	metrics   *observability.Metrics
	cfg       ExecutorConfig

	sem chan struct{}

	schemaMu sync.Mutex
	schemas  map[string]*jsonschema.Schema
}

// NewExecutor builds an executor. compactor may be nil to disable
// compaction entirely (used by tests).
func NewExecutor(registry *ToolRegistry, comp *compactor.Compactor, usage *UsageTracker,
	logger *slog.Logger, metrics *observability.Metrics, cfg ExecutorConfig) *Executor {

	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultToolTimeout
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 8
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	if usage == nil {
		usage = NewUsageTracker()
	}
	return &Executor{
		registry:  registry,
		compactor: comp,
		usage:     usage,
		logger:    logger,
		metrics:   metrics,
		cfg:       cfg,
		sem:       make(chan struct{}, cfg.MaxConcurrent),
		schemas:   make(map[string]*jsonschema.Schema),
	}
}

// Usage exposes the adaptive-ordering tracker.
func (e *Executor) Usage() *UsageTracker { return e.usage }

// Execute runs one tool call to completion and returns its result envelope.
// skipCompaction bypasses the compaction stage regardless of size or hint.
func (e *Executor) Execute(ctx context.Context, inv *Invocation, call models.ToolCall, skipCompaction bool) models.ToolResult {
	start := time.Now()
	result := e.execute(ctx, inv, call, skipCompaction)

	if e.metrics != nil {
		status := "ok"
		if result.IsError {
			status = string(result.ErrorType)
		}
		e.metrics.ToolExecutions.WithLabelValues(call.Name, status).Inc()
		e.metrics.ToolDuration.WithLabelValues(call.Name).Observe(time.Since(start).Seconds())
	}

	// Fire-and-forget; recording must never delay the caller.
	go e.usage.Record(call.Name, !result.IsError)

	return result
}

func (e *Executor) execute(ctx context.Context, inv *Invocation, call models.ToolCall, skipCompaction bool) models.ToolResult {
	handler, ok := e.registry.Resolve(call.Name)
	if !ok {
		return errorResult(call.ID, NewToolError(models.ToolErrDependencyMissing, call.Name,
			fmt.Sprintf("no tool registered for %q", call.Name)))
	}

	if terr := e.validateInput(call); terr != nil {
		return errorResult(call.ID, terr)
	}

	timeout := e.cfg.DefaultTimeout
	cap, hasCap := e.registry.Capability(call.Name)
	if hasCap && cap.ExecutionTimeout > 0 {
		timeout = cap.ExecutionTimeout
	}

	output, err := e.executeWithTimeout(ctx, handler, inv, call, timeout)
	if err != nil {
		terr := ClassifyToolError(call.Name, err)
		if terr.Type == models.ToolErrTimeout && hasCap && cap.HITLConfirm {
			// Confirmation-contract tools need the frontend prompt closed
			// before the error surfaces.
			e.closeHITLPrompt(inv, call)
		}
		e.logger.Warn("tool execution failed",
			"tool", call.Name, "tool_id", call.ID, "error_type", terr.Type, "error", terr.Message)
		if e.metrics != nil {
			e.metrics.ToolErrors.WithLabelValues(call.Name, string(terr.Type)).Inc()
		}
		return errorResult(call.ID, terr)
	}

	return e.finishResult(call, output, skipCompaction)
}

// executeWithTimeout runs the handler on its own goroutine under a deadline,
// recovering panics into errors. On timeout the goroutine is abandoned; its
// context is cancelled so well-behaved tools unwind.
func (e *Executor) executeWithTimeout(ctx context.Context, handler HandlerFunc, inv *Invocation,
	call models.ToolCall, timeout time.Duration) (*ToolOutput, error) {

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		output *ToolOutput
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() { <-e.sem }()
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: NewToolError(models.ToolErrPermanent, call.Name,
					fmt.Sprintf("tool panicked: %v", r))}
			}
		}()
		out, err := handler(execCtx, inv, call.Input)
		done <- outcome{output: out, err: err}
	}()

	select {
	case o := <-done:
		return o.output, o.err
	case <-execCtx.Done():
		return nil, execCtx.Err()
	}
}

// validateInput checks tool input against the capability's declared schema.
// Tools without a declared schema accept anything.
func (e *Executor) validateInput(call models.ToolCall) *ToolError {
	cap, ok := e.registry.Capability(call.Name)
	if !ok || len(cap.InputSchema) == 0 {
		return nil
	}

	schema, err := e.compiledSchema(call.Name, cap.InputSchema)
	if err != nil {
		e.logger.Warn("unusable input schema, skipping validation", "tool", call.Name, "error", err)
		return nil
	}

	var value any
	input := call.Input
	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	}
	if err := json.Unmarshal(input, &value); err != nil {
		return NewToolError(models.ToolErrInputInvalid, call.Name,
			"tool input is not valid JSON").WithCause(err)
	}
	if err := schema.Validate(value); err != nil {
		return NewToolError(models.ToolErrInputInvalid, call.Name, err.Error()).WithCause(err)
	}
	return nil
}

func (e *Executor) compiledSchema(name string, raw json.RawMessage) (*jsonschema.Schema, error) {
	e.schemaMu.Lock()
	defer e.schemaMu.Unlock()
	if s, ok := e.schemas[name]; ok {
		return s, nil
	}
	s, err := jsonschema.CompileString(name+".json", string(raw))
	if err != nil {
		return nil, err
	}
	e.schemas[name] = s
	return s, nil
}

// finishResult applies the compaction contract to a successful output.
func (e *Executor) finishResult(call models.ToolCall, output *ToolOutput, skipCompaction bool) models.ToolResult {
	result := models.ToolResult{ToolCallID: call.ID}
	if output == nil {
		return result
	}

	// Block lists are multimodal content; always verbatim.
	if len(output.Blocks) > 0 {
		result.Blocks = output.Blocks
		return result
	}

	result.Content = output.Text

	if skipCompaction || e.compactor == nil {
		return result
	}

	switch output.Hint {
	case HintSkip:
		result.CompactionExempt = true
		return result

	case HintForce:
		if len(output.Text) <= e.compactor.ForceThreshold() {
			return result
		}
		return e.compact(call, output.Text, false)

	case HintSearch:
		if len(output.Text) <= e.compactor.Threshold() {
			return result
		}
		return e.compact(call, output.Text, true)

	default:
		if len(output.Text) <= e.compactor.Threshold() {
			return result
		}
		return e.compact(call, output.Text, false)
	}
}

func (e *Executor) compact(call models.ToolCall, content string, search bool) models.ToolResult {
	var (
		summary string
		meta    *models.CompressionMetadata
		err     error
	)
	if search {
		summary, meta, err = e.compactor.CompactSearch(call.Name, call.ID, content)
	} else {
		summary, meta, err = e.compactor.Compact(call.Name, call.ID, content)
	}
	if err != nil {
		// Compaction is best-effort; an oversized verbatim result beats a
		// lost one.
		e.logger.Warn("compaction failed, returning verbatim", "tool", call.Name, "error", err)
		return models.ToolResult{ToolCallID: call.ID, Content: content}
	}
	return models.ToolResult{
		ToolCallID:          call.ID,
		Content:             summary,
		Compressed:          true,
		CompressionMetadata: meta,
	}
}

func (e *Executor) closeHITLPrompt(inv *Invocation, call models.ToolCall) {
	if inv == nil || inv.Broadcaster == nil {
		return
	}
	inv.Broadcaster.MessageDelta(inv.SessionID, inv.MessageID, models.DeltaHITL, map[string]any{
		"action":  "close_prompt",
		"tool_id": call.ID,
	})
}

// ExecuteBatch runs a turn's tool calls. Calls run concurrently unless any
// of them is serial-only, in which case the whole batch runs sequentially in
// call order. Results always come back in call order.
func (e *Executor) ExecuteBatch(ctx context.Context, inv *Invocation, calls []models.ToolCall, skipCompaction bool) []models.ToolResult {
	results := make([]models.ToolResult, len(calls))
	if len(calls) == 0 {
		return results
	}

	serial := false
	for _, call := range calls {
		if cap, ok := e.registry.Capability(call.Name); ok && cap.SerialOnly {
			serial = true
			break
		}
	}

	if serial || len(calls) == 1 {
		for i, call := range calls {
			results[i] = e.Execute(ctx, inv, call, skipCompaction)
		}
		return results
	}

	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call models.ToolCall) {
			defer wg.Done()
			results[i] = e.Execute(ctx, inv, call, skipCompaction)
		}(i, call)
	}
	wg.Wait()
	return results
}

func errorResult(toolCallID string, terr *ToolError) models.ToolResult {
	return models.ToolResult{
		ToolCallID:        toolCallID,
		Content:           terr.Message,
		IsError:           true,
		ErrorType:         terr.Type,
		RecoveryHint:      terr.RecoveryHint,
		RetryAfterSeconds: terr.RetryAfter,
	}
}
