package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/oriolane/oriole/internal/events"
	"github.com/oriolane/oriole/internal/observability"
	"github.com/oriolane/oriole/internal/prompt"
	"github.com/oriolane/oriole/internal/providers"
	"github.com/oriolane/oriole/pkg/models"
)

// IntentAnalyzer classifies the user turn. It never fails; errors yield the
// safe default intent.
type IntentAnalyzer interface {
	Analyze(ctx context.Context, query string, history []models.Message, p *models.Plan) *models.Intent
}

// PlanSource reads the conversation's plan. (nil, nil) means no plan.
type PlanSource interface {
	Get(ctx context.Context, conversationID string) (*models.Plan, error)
}

// Transcript persists and restores conversation messages.
type Transcript interface {
	AppendMessage(ctx context.Context, m *models.Message) error
	LoadMessages(ctx context.Context, conversationID string) ([]models.Message, error)
}

// StateGuard receives tool outcomes for the snapshot trigger. Satisfied by
// the snapshot manager.
type StateGuard interface {
	CheckPreTask()
	RecordToolResult(sessionID string, success, critical bool)
}

// planToolName must match the registered plan tool.
const planToolName = "plan"

// defaultCancelGrace bounds how long a stop request waits for in-flight
// tools.
const defaultCancelGrace = 5 * time.Second

// LoopConfig tunes one orchestrator.
type LoopConfig struct {
	Model                string
	MaxTokens            int
	ThinkingBudgetTokens int
	// EnableIntent runs the intent analyzer before each turn.
	EnableIntent bool
	// EnablePlanning admits the plan tool and the needs_plan tier upgrade.
	EnablePlanning bool
	Terminator     TerminatorConfig
}

// Session identifies one running conversation turn stream.
type Session struct {
	SessionID      string
	ConversationID string
	UserID         string
	InstanceID     string

	// UserProfile and EditorContext are pre-attached injection inputs.
	UserProfile   string
	EditorContext string
}

// Loop is the agent orchestrator: it drives intent analysis, prompt
// injection, LLM streaming, tool dispatch, and termination for one turn at a
// time.
type Loop struct {
	provider    providers.Provider
	executor    *Executor
	injector    *prompt.Orchestrator
	cache       *prompt.Cache
	intent      IntentAnalyzer
	plans       PlanSource
	transcript  Transcript
	guard       StateGuard
	broadcaster *events.Broadcaster
	logger      *slog.Logger
	cfg         LoopConfig
}

// LoopDeps collects the loop's collaborators. intent, plans, transcript, and
// guard are optional.
type LoopDeps struct {
	Provider    providers.Provider
	Executor    *Executor
	Injector    *prompt.Orchestrator
	Cache       *prompt.Cache
	Intent      IntentAnalyzer
	Plans       PlanSource
	Transcript  Transcript
	Guard       StateGuard
	Broadcaster *events.Broadcaster
	Logger      *slog.Logger
}

// NewLoop validates the required collaborators and builds a loop.
func NewLoop(deps LoopDeps, cfg LoopConfig) (*Loop, error) {
	if deps.Provider == nil {
		return nil, fmt.Errorf("loop: provider is required")
	}
	if deps.Executor == nil {
		return nil, fmt.Errorf("loop: executor is required")
	}
	if deps.Injector == nil || deps.Cache == nil {
		return nil, fmt.Errorf("loop: prompt injector and cache are required")
	}
	if deps.Broadcaster == nil {
		return nil, fmt.Errorf("loop: broadcaster is required")
	}
	if deps.Logger == nil {
		deps.Logger = observability.NopLogger()
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	if cfg.Terminator.MaxTurns == 0 {
		cfg.Terminator = DefaultTerminatorConfig()
	}
	return &Loop{
		provider:    deps.Provider,
		executor:    deps.Executor,
		injector:    deps.Injector,
		cache:       deps.Cache,
		intent:      deps.Intent,
		plans:       deps.Plans,
		transcript:  deps.Transcript,
		guard:       deps.Guard,
		broadcaster: deps.Broadcaster,
		logger:      deps.Logger,
		cfg:         cfg,
	}, nil
}

// turnState carries one Run invocation's working data.
type turnState struct {
	session  *Session
	intent   *models.Intent
	plan     *models.Plan
	tier     models.Complexity
	thinking bool
	system   []providers.SystemBlock
	messages []models.Message
	term     *Terminator
}

// Run drives one user turn to a terminal event sequence. Cancelling ctx is
// the stop request: the loop emits session_stopped then done and returns
// context.Canceled.
func (l *Loop) Run(ctx context.Context, session *Session, userMessage string) error {
	if session.SessionID == "" {
		session.SessionID = uuid.NewString()
	}
	if session.ConversationID == "" {
		session.ConversationID = uuid.NewString()
	}

	l.broadcaster.SessionStart(session.SessionID, session.UserID, session.InstanceID)
	l.broadcaster.ConversationStart(session.SessionID, session.ConversationID)
	if l.guard != nil {
		l.guard.CheckPreTask()
	}

	err := l.run(ctx, session, userMessage)
	switch {
	case err == nil:
		l.broadcaster.SessionEnd(session.SessionID, "completed")
	case ctx.Err() != nil:
		l.broadcaster.SessionStopped(session.SessionID, StopReasonUserRequest)
	default:
		l.broadcaster.Error(session.SessionID, err.Error())
		l.broadcaster.SessionEnd(session.SessionID, "failed")
	}
	l.broadcaster.Done(session.SessionID)
	return err
}

func (l *Loop) run(ctx context.Context, session *Session, userMessage string) error {
	state := &turnState{
		session: session,
		term:    NewTerminator(l.cfg.Terminator),
	}

	history, err := l.loadHistory(ctx, session.ConversationID)
	if err != nil {
		return &LoopError{Phase: PhaseIntent, Err: err}
	}

	l.analyzeIntent(ctx, state, userMessage, history)
	l.selectTier(state)

	if err := l.inject(ctx, state, userMessage, history); err != nil {
		return &LoopError{Phase: PhaseInject, Err: err}
	}

	l.persistMessage(ctx, &models.Message{
		ConversationID: session.ConversationID,
		Role:           models.RoleUser,
		Content:        userMessage,
	})

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		messageID := uuid.NewString()
		l.broadcaster.MessageStart(session.SessionID, messageID)

		text, toolCalls, stopReason, err := l.streamPhase(ctx, state, messageID)
		if err != nil {
			l.broadcaster.MessageStop(session.SessionID, messageID)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &LoopError{Phase: PhaseStream, Iteration: state.term.Turns(), Err: err}
		}

		assistant := models.Message{
			ConversationID: session.ConversationID,
			Role:           models.RoleAssistant,
			Content:        text,
			ToolCalls:      toolCalls,
		}
		state.messages = append(state.messages, assistant)
		l.persistMessage(ctx, &assistant)

		if len(toolCalls) == 0 {
			l.broadcaster.MessageStop(session.SessionID, messageID)
			modelStopped := stopReason != "" && stopReason != "tool_use"
			if d := state.term.Check(modelStopped); d.Stop {
				return nil
			}
			// The model produced bare text and did not stop: treat as
			// completed rather than spinning on an empty transcript.
			return nil
		}

		results, err := l.toolPhase(ctx, state, messageID, toolCalls)
		l.broadcaster.MessageStop(session.SessionID, messageID)
		if err != nil {
			return err
		}

		toolMsg := models.Message{
			ConversationID: session.ConversationID,
			Role:           models.RoleTool,
			ToolResults:    results,
		}
		state.messages = append(state.messages, toolMsg)
		l.persistMessage(ctx, &toolMsg)

		l.afterTools(ctx, state, toolCalls, results)

		state.term.RecordTurn()
		d := state.term.Check(false)
		if d.ConfirmLongRunning {
			l.broadcaster.MessageDelta(session.SessionID, messageID, models.DeltaHITL, map[string]any{
				"action": "confirm_long_running",
				"turns":  state.term.Turns(),
			})
		}
		if d.Stop {
			if d.Reason != StopReasonModel {
				return &LoopError{
					Phase:     PhaseTerminate,
					Iteration: state.term.Turns(),
					Err:       fmt.Errorf("terminator stop: %s", d.Reason),
				}
			}
			return nil
		}
	}
}

func (l *Loop) loadHistory(ctx context.Context, conversationID string) ([]models.Message, error) {
	if l.transcript == nil {
		return nil, nil
	}
	return l.transcript.LoadMessages(ctx, conversationID)
}

// analyzeIntent runs C8 and stores the result on the turn. Disabled or absent
// analyzers yield the default intent.
func (l *Loop) analyzeIntent(ctx context.Context, state *turnState, query string, history []models.Message) {
	if l.plans != nil {
		p, err := l.plans.Get(ctx, state.session.ConversationID)
		if err != nil {
			l.logger.Warn("plan load failed", "error", err)
		} else {
			state.plan = p
		}
	}

	if !l.cfg.EnableIntent || l.intent == nil {
		state.intent = models.DefaultIntent()
		return
	}
	state.intent = l.intent.Analyze(ctx, query, history, state.plan)
	l.broadcaster.MessageDelta(state.session.SessionID, "", models.DeltaIntent, state.intent)
}

// selectTier maps the intent onto a prompt tier. Planning or complex tasks
// get the full prompt, simple questions the lean one, everything else the
// standard tier. Thinking is enabled for full and standard only.
func (l *Loop) selectTier(state *turnState) {
	needsPlan := l.cfg.EnablePlanning && state.intent.NeedsPlan
	switch {
	case needsPlan || state.intent.Complexity == models.ComplexityComplex:
		state.tier = models.ComplexityComplex
		state.thinking = true
	case state.intent.Complexity == models.ComplexitySimple:
		state.tier = models.ComplexitySimple
		state.thinking = false
	default:
		state.tier = models.ComplexityMedium
		state.thinking = true
	}
}

func (l *Loop) inject(ctx context.Context, state *turnState, userMessage string, history []models.Message) error {
	// The role injector keys on intent complexity; feed it the selected
	// tier so a needs_plan upgrade reaches the prompt.
	tiered := *state.intent
	tiered.Complexity = state.tier

	ic := &prompt.Context{
		SessionID:      state.session.SessionID,
		ConversationID: state.session.ConversationID,
		UserID:         state.session.UserID,
		Query:          userMessage,
		History:        history,
		Intent:         &tiered,
		Plan:           state.plan,
		Cache:          l.cache,
		UserProfile:    state.session.UserProfile,
		EditorContext:  state.session.EditorContext,
	}

	system, err := l.injector.BuildSystemBlocks(ctx, ic)
	if err != nil {
		return err
	}
	state.system = system
	state.messages = l.injector.BuildMessages(ctx, ic, userMessage)
	return nil
}

// streamPhase runs one LLM call, emitting content events as blocks arrive.
// Returns the accumulated text, tool calls, and the provider stop reason.
func (l *Loop) streamPhase(ctx context.Context, state *turnState, messageID string) (string, []models.ToolCall, string, error) {
	req := &providers.Request{
		Model:                l.cfg.Model,
		System:               state.system,
		Messages:             state.messages,
		Tools:                l.toolDefs(),
		MaxTokens:            l.cfg.MaxTokens,
		EnableThinking:       state.thinking,
		ThinkingBudgetTokens: l.cfg.ThinkingBudgetTokens,
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		text, calls, stop, err := l.consumeStream(ctx, state, messageID, req)
		if err == nil {
			return text, calls, stop, nil
		}
		if ctx.Err() != nil {
			return "", nil, "", ctx.Err()
		}
		lastErr = err

		delay, retry := l.retryDelay(err, attempt)
		if !retry {
			break
		}
		l.logger.Warn("stream failed, retrying", "attempt", attempt+1, "delay", delay, "error", err)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", nil, "", ctx.Err()
		}
	}
	return "", nil, "", lastErr
}

// retryDelay implements the stream retry policy: rate_limited waits for the
// server's hint, transient retries once, everything else never.
func (l *Loop) retryDelay(err error, attempt int) (time.Duration, bool) {
	perr, ok := providers.AsError(err)
	if !ok || attempt >= 1 {
		return 0, false
	}
	switch perr.Type {
	case models.ToolErrRateLimited:
		delay := time.Duration(perr.RetryAfter) * time.Second
		if delay <= 0 {
			delay = time.Second
		}
		return delay, true
	case models.ToolErrTransient:
		return time.Second, true
	default:
		return 0, false
	}
}

func (l *Loop) consumeStream(ctx context.Context, state *turnState, messageID string, req *providers.Request) (string, []models.ToolCall, string, error) {
	chunks, err := l.provider.Stream(ctx, req)
	if err != nil {
		return "", nil, "", err
	}

	var (
		text       string
		calls      []models.ToolCall
		stopReason string
		index      = -1
		inText     bool
		inThinking bool
		sid        = state.session.SessionID
	)

	closeOpen := func() {
		if inText || inThinking {
			l.broadcaster.ContentStop(sid, messageID, index)
			inText, inThinking = false, false
		}
	}

	for chunk := range chunks {
		state.term.Touch()

		switch {
		case chunk.Error != nil:
			closeOpen()
			return "", nil, "", chunk.Error

		case chunk.ThinkingStart:
			closeOpen()
			index++
			inThinking = true
			l.broadcaster.ContentStart(sid, messageID, models.ContentBlock{
				Type: models.ContentBlockThinking, Index: index,
			})

		case chunk.Thinking != "":
			if inThinking {
				l.broadcaster.ContentDelta(sid, messageID, index, chunk.Thinking)
			}

		case chunk.ThinkingEnd:
			closeOpen()

		case chunk.Text != "":
			if !inText {
				closeOpen()
				index++
				inText = true
				l.broadcaster.ContentStart(sid, messageID, models.ContentBlock{
					Type: models.ContentBlockText, Index: index,
				})
			}
			text += chunk.Text
			l.broadcaster.ContentDelta(sid, messageID, index, chunk.Text)

		case chunk.ToolCall != nil:
			closeOpen()
			index++
			calls = append(calls, *chunk.ToolCall)
			l.broadcaster.ContentStart(sid, messageID, models.ContentBlock{
				Type:       models.ContentBlockToolUse,
				Index:      index,
				ToolCallID: chunk.ToolCall.ID,
				ToolName:   chunk.ToolCall.Name,
			})
			l.broadcaster.ContentStop(sid, messageID, index)

		case chunk.Done:
			closeOpen()
			stopReason = chunk.StopReason
			if chunk.Usage != (models.Usage{}) {
				l.broadcaster.MessageDelta(sid, messageID, models.DeltaUsage, chunk.Usage)
			}
		}
	}
	closeOpen()
	return text, calls, stopReason, nil
}

// toolPhase dispatches the batch and applies the cancellation grace: a stop
// request waits min(tool timeout, 5s) for in-flight tools before abandoning
// them.
func (l *Loop) toolPhase(ctx context.Context, state *turnState, messageID string, calls []models.ToolCall) ([]models.ToolResult, error) {
	inv := &Invocation{
		SessionID:      state.session.SessionID,
		ConversationID: state.session.ConversationID,
		UserID:         state.session.UserID,
		InstanceID:     state.session.InstanceID,
		Broadcaster:    l.broadcaster,
		MessageID:      messageID,
	}

	done := make(chan []models.ToolResult, 1)
	go func() {
		done <- l.executor.ExecuteBatch(ctx, inv, calls, false)
	}()

	select {
	case results := <-done:
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return results, nil
	case <-ctx.Done():
		grace := defaultCancelGrace
		if t := l.executor.cfg.DefaultTimeout; t > 0 && t < grace {
			grace = t
		}
		select {
		case <-done:
		case <-time.After(grace):
			l.logger.Warn("abandoning in-flight tools after cancellation grace",
				"grace", grace, "tools", len(calls))
		}
		return nil, ctx.Err()
	}
}

// afterTools feeds terminator and guard, surfaces auth failures, and
// refreshes the plan after plan-tool activity.
func (l *Loop) afterTools(ctx context.Context, state *turnState, calls []models.ToolCall, results []models.ToolResult) {
	planTouched := false
	for i, res := range results {
		success := !res.IsError
		state.term.RecordToolResult(success)
		if l.guard != nil {
			l.guard.RecordToolResult(state.session.SessionID, success, res.ErrorType == models.ToolErrPermanent)
		}

		if res.IsError && res.ErrorType == models.ToolErrAuthExpired {
			l.broadcaster.MessageDelta(state.session.SessionID, "", models.DeltaHITL, map[string]any{
				"action": "reauth_required",
				"tool":   calls[i].Name,
			})
		}
		if calls[i].Name == planToolName && success {
			planTouched = true
			if allCompleted(res.Content) {
				l.broadcaster.MessageDelta(state.session.SessionID, "", models.DeltaProgress,
					"Plan complete.")
			}
		}
	}

	if planTouched && l.plans != nil {
		if p, err := l.plans.Get(ctx, state.session.ConversationID); err == nil {
			state.plan = p
		}
	}
}

// allCompleted inspects a plan tool response without importing the plan
// package.
func allCompleted(content string) bool {
	var resp struct {
		AllCompleted bool `json:"all_completed"`
	}
	return json.Unmarshal([]byte(content), &resp) == nil && resp.AllCompleted
}

func (l *Loop) toolDefs() []providers.ToolDef {
	schemas := l.executor.registry.Schemas()
	defs := make([]providers.ToolDef, 0, len(schemas))
	for _, s := range schemas {
		if !l.cfg.EnablePlanning && s.Name == planToolName {
			continue
		}
		defs = append(defs, providers.ToolDef{
			Name:        s.Name,
			Description: s.Description,
			InputSchema: s.InputSchema,
		})
	}
	return defs
}

func (l *Loop) persistMessage(ctx context.Context, m *models.Message) {
	if l.transcript == nil {
		return
	}
	if err := l.transcript.AppendMessage(ctx, m); err != nil {
		l.logger.Warn("transcript persist failed", "role", m.Role, "error", err)
	}
}
