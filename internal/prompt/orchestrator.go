package prompt

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/oriolane/oriole/internal/observability"
	"github.com/oriolane/oriole/internal/providers"
	"github.com/oriolane/oriole/pkg/models"
)

// Phase names the three injection phases, run in order.
type Phase string

const (
	PhaseSystem      Phase = "system"
	PhaseUserContext Phase = "user_context"
	PhaseRuntime     Phase = "runtime"
)

// CacheStrategy decides the cache layer of an emitted system block.
type CacheStrategy string

const (
	// CacheStable blocks get monotonically increasing layers in priority
	// order so a stable prefix survives across turns.
	CacheStable CacheStrategy = "stable"
	// CacheSession blocks sit one layer above the last stable block.
	CacheSession CacheStrategy = "session"
	// CacheDynamic blocks are never cached.
	CacheDynamic CacheStrategy = "dynamic"
)

// Context is the plain per-turn data record injectors read. Injectors never
// call back into the orchestrator.
type Context struct {
	SessionID      string
	ConversationID string
	UserID         string

	Query   string
	History []models.Message
	Intent  *models.Intent
	Plan    *models.Plan

	Cache *Cache

	// UserProfile is a pre-attached profile; when empty the user-memory
	// injector fetches one.
	UserProfile string

	// Summary is a pre-computed history summary, if any.
	Summary string

	// EditorContext is attached page-editor state, if any.
	EditorContext string
}

// Fragment is one injector's output. An empty Content drops the fragment.
type Fragment struct {
	Content string
	// XMLTag wraps Content in <tag>...</tag> when set.
	XMLTag string
}

func (f *Fragment) render() string {
	if f == nil || strings.TrimSpace(f.Content) == "" {
		return ""
	}
	if f.XMLTag != "" {
		return fmt.Sprintf("<%s>\n%s\n</%s>", f.XMLTag, f.Content, f.XMLTag)
	}
	return f.Content
}

// Injector produces one prompt fragment for a phase.
type Injector interface {
	Name() string
	Phase() Phase
	CacheStrategy() CacheStrategy
	// Priority orders execution within a phase, highest first.
	Priority() int
	ShouldInject(ic *Context) bool
	Inject(ctx context.Context, ic *Context) (*Fragment, error)
}

// Orchestrator runs registered injectors and assembles the turn's messages.
type Orchestrator struct {
	injectors map[Phase][]Injector
	logger    *slog.Logger
}

// NewOrchestrator builds an empty orchestrator.
func NewOrchestrator(logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Orchestrator{
		injectors: make(map[Phase][]Injector),
		logger:    logger,
	}
}

// Register adds an injector to its phase. Registration order does not matter;
// phases run in descending priority.
func (o *Orchestrator) Register(inj Injector) {
	phase := inj.Phase()
	o.injectors[phase] = append(o.injectors[phase], inj)
	sort.SliceStable(o.injectors[phase], func(i, j int) bool {
		return o.injectors[phase][i].Priority() > o.injectors[phase][j].Priority()
	})
}

// BuildSystemBlocks runs phase 1 and returns ordered system blocks annotated
// with cache layers. Stable blocks take increasing layers in priority order,
// session blocks sit above the last stable layer, dynamic blocks carry 0.
func (o *Orchestrator) BuildSystemBlocks(ctx context.Context, ic *Context) ([]providers.SystemBlock, error) {
	type emitted struct {
		content  string
		strategy CacheStrategy
	}
	var out []emitted
	stableCount := 0

	for _, inj := range o.injectors[PhaseSystem] {
		frag := o.run(ctx, inj, ic)
		if frag == "" {
			continue
		}
		if inj.CacheStrategy() == CacheStable {
			stableCount++
		}
		out = append(out, emitted{content: frag, strategy: inj.CacheStrategy()})
	}

	blocks := make([]providers.SystemBlock, 0, len(out))
	nextStable := 0
	for _, e := range out {
		layer := 0
		switch e.strategy {
		case CacheStable:
			nextStable++
			layer = nextStable
		case CacheSession:
			layer = stableCount + 1
		}
		blocks = append(blocks, providers.SystemBlock{Text: e.content, CacheLayer: layer})
	}
	return blocks, nil
}

// BuildUserContextContent runs phase 2 and joins the fragments with blank
// lines. Returns "" when nothing injected.
func (o *Orchestrator) BuildUserContextContent(ctx context.Context, ic *Context) string {
	return o.joinPhase(ctx, PhaseUserContext, ic)
}

// BuildRuntimeContent runs phase 3. Returns "" when nothing injected.
func (o *Orchestrator) BuildRuntimeContent(ctx context.Context, ic *Context) string {
	return o.joinPhase(ctx, PhaseRuntime, ic)
}

func (o *Orchestrator) joinPhase(ctx context.Context, phase Phase, ic *Context) string {
	var parts []string
	for _, inj := range o.injectors[phase] {
		if frag := o.run(ctx, inj, ic); frag != "" {
			parts = append(parts, frag)
		}
	}
	return strings.Join(parts, "\n\n")
}

// run executes one injector, turning errors and panics into a dropped
// fragment. A broken injector must not break the turn.
func (o *Orchestrator) run(ctx context.Context, inj Injector, ic *Context) (rendered string) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("injector panicked", "injector", inj.Name(), "panic", r)
			rendered = ""
		}
	}()

	if !inj.ShouldInject(ic) {
		return ""
	}
	frag, err := inj.Inject(ctx, ic)
	if err != nil {
		o.logger.Warn("injector failed, skipping", "injector", inj.Name(), "error", err)
		return ""
	}
	return frag.render()
}

// BuildMessages composes the final ordered message sequence for the LLM call:
// an optional system-injected user message carrying phase-2 context, the
// conversation history, then the user message with phase-3 runtime content
// appended.
func (o *Orchestrator) BuildMessages(ctx context.Context, ic *Context, userMessage string) []models.Message {
	var msgs []models.Message

	if userCtx := o.BuildUserContextContent(ctx, ic); userCtx != "" {
		msgs = append(msgs, models.Message{
			Role:           models.RoleUser,
			Content:        userCtx,
			SystemInjected: true,
		})
	}

	msgs = append(msgs, ic.History...)

	final := userMessage
	if runtime := o.BuildRuntimeContent(ctx, ic); runtime != "" {
		final = userMessage + "\n\n---\n\n" + runtime
	}
	msgs = append(msgs, models.Message{Role: models.RoleUser, Content: final})
	return msgs
}
