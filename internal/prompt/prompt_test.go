package prompt

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/oriolane/oriole/internal/capability"
	"github.com/oriolane/oriole/pkg/models"
)

func loadedCache(t *testing.T) *Cache {
	t.Helper()

	groups := capability.NewSkillGroups(map[string][]string{
		"research":   {"web-search"},
		"automation": {"browser-control"},
	})
	reg, err := capability.NewRegistry([]capability.Capability{
		{Name: "read_file", Kind: capability.KindTool, Description: "Read a file", Priority: 10},
		{Name: "web-search", Kind: capability.KindSkill},
		{Name: "browser-control", Kind: capability.KindSkill},
	}, groups)
	if err != nil {
		t.Fatal(err)
	}

	c := NewCache()
	err = c.Load("You are a helpful agent.", AgentSchema{Name: "test", Model: "m1", MaxTurns: 50}, RuntimeContext{
		APIsPrompt:   "GET /things lists things.",
		SkillsPrompt: "ALL SKILLS: web-search, browser-control",
		Skills:       reg,
		Groups:       groups,
	})
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestCache_TiersDiffer(t *testing.T) {
	c := loadedCache(t)

	simple := c.SystemPrompt(models.ComplexitySimple)
	medium := c.SystemPrompt(models.ComplexityMedium)
	complexP := c.SystemPrompt(models.ComplexityComplex)

	if simple == medium || medium == complexP {
		t.Error("tiers rendered identically")
	}
	for _, p := range []string{simple, medium, complexP} {
		if !strings.Contains(p, "helpful agent") {
			t.Error("base prompt missing from tier")
		}
	}
	// Simple stays lean; the bigger tiers carry the agent schema.
	if strings.Contains(simple, "<agent>") {
		t.Error("simple tier carries agent schema")
	}
	if !strings.Contains(complexP, "max_turns: 50") {
		t.Error("complex tier missing agent schema")
	}
	// Unknown tier falls back to medium.
	if c.SystemPrompt(models.Complexity("weird")) != medium {
		t.Error("unknown tier did not fall back to medium")
	}
}

func TestCache_EmptyPromptRejected(t *testing.T) {
	if err := NewCache().Load("  \n", AgentSchema{}, RuntimeContext{}); err == nil {
		t.Error("empty base prompt accepted")
	}
}

// fixedInjector is a minimal injector for orchestrator tests.
type fixedInjector struct {
	name     string
	phase    Phase
	strategy CacheStrategy
	priority int
	content  string
	err      error
	panics   bool
}

func (f *fixedInjector) Name() string                 { return f.name }
func (f *fixedInjector) Phase() Phase                 { return f.phase }
func (f *fixedInjector) CacheStrategy() CacheStrategy { return f.strategy }
func (f *fixedInjector) Priority() int                { return f.priority }
func (f *fixedInjector) ShouldInject(*Context) bool   { return true }

func (f *fixedInjector) Inject(context.Context, *Context) (*Fragment, error) {
	if f.panics {
		panic("boom")
	}
	if f.err != nil {
		return nil, f.err
	}
	return &Fragment{Content: f.content}, nil
}

func TestOrchestrator_CacheLayers(t *testing.T) {
	o := NewOrchestrator(nil)
	o.Register(&fixedInjector{name: "dyn", phase: PhaseSystem, strategy: CacheDynamic, priority: 70, content: "dynamic"})
	o.Register(&fixedInjector{name: "role", phase: PhaseSystem, strategy: CacheStable, priority: 100, content: "role"})
	o.Register(&fixedInjector{name: "sess", phase: PhaseSystem, strategy: CacheSession, priority: 60, content: "session"})
	o.Register(&fixedInjector{name: "tools", phase: PhaseSystem, strategy: CacheStable, priority: 80, content: "tools"})

	blocks, err := o.BuildSystemBlocks(context.Background(), &Context{})
	if err != nil {
		t.Fatal(err)
	}

	want := []struct {
		text  string
		layer int
	}{
		{"role", 1},
		{"tools", 2},
		{"dynamic", 0},
		{"session", 3}, // stable count 2, so session sits at 3
	}
	if len(blocks) != len(want) {
		t.Fatalf("blocks = %d, want %d", len(blocks), len(want))
	}
	for i, w := range want {
		if blocks[i].Text != w.text || blocks[i].CacheLayer != w.layer {
			t.Errorf("block %d = {%q, %d}, want {%q, %d}",
				i, blocks[i].Text, blocks[i].CacheLayer, w.text, w.layer)
		}
	}
}

func TestOrchestrator_FailingInjectorsDropped(t *testing.T) {
	o := NewOrchestrator(nil)
	o.Register(&fixedInjector{name: "ok", phase: PhaseSystem, strategy: CacheStable, priority: 90, content: "fine"})
	o.Register(&fixedInjector{name: "bad", phase: PhaseSystem, strategy: CacheStable, priority: 80, err: errors.New("nope")})
	o.Register(&fixedInjector{name: "panicky", phase: PhaseSystem, strategy: CacheStable, priority: 70, panics: true})

	blocks, err := o.BuildSystemBlocks(context.Background(), &Context{})
	if err != nil {
		t.Fatal(err)
	}
	if len(blocks) != 1 || blocks[0].Text != "fine" {
		t.Errorf("blocks = %+v", blocks)
	}
}

func TestOrchestrator_BuildMessages(t *testing.T) {
	o := NewOrchestrator(nil)
	o.Register(&fixedInjector{name: "memory", phase: PhaseUserContext, strategy: CacheSession, priority: 90, content: "knows Go"})
	o.Register(&fixedInjector{name: "todo", phase: PhaseRuntime, strategy: CacheDynamic, priority: 80, content: "## Current plan"})

	history := []models.Message{
		{Role: models.RoleUser, Content: "earlier"},
		{Role: models.RoleAssistant, Content: "reply"},
	}
	msgs := o.BuildMessages(context.Background(), &Context{History: history}, "do the thing")

	if len(msgs) != 4 {
		t.Fatalf("messages = %d, want 4", len(msgs))
	}
	if !msgs[0].SystemInjected || msgs[0].Role != models.RoleUser || msgs[0].Content != "knows Go" {
		t.Errorf("phase-2 message = %+v", msgs[0])
	}
	if msgs[1].Content != "earlier" || msgs[2].Content != "reply" {
		t.Error("history out of order")
	}
	final := msgs[3]
	if final.SystemInjected {
		t.Error("final user message flagged as injected")
	}
	if final.Content != "do the thing\n\n---\n\n## Current plan" {
		t.Errorf("final content = %q", final.Content)
	}
}

func TestOrchestrator_BuildMessagesWithoutInjections(t *testing.T) {
	o := NewOrchestrator(nil)
	msgs := o.BuildMessages(context.Background(), &Context{}, "hi")
	if len(msgs) != 1 || msgs[0].Content != "hi" || msgs[0].SystemInjected {
		t.Errorf("messages = %+v", msgs)
	}
}

func TestRoleInjector_DesktopProtocol(t *testing.T) {
	c := loadedCache(t)
	inj := NewRoleInjector("DESKTOP PROTOCOL", []string{"automation"})

	tests := []struct {
		name   string
		intent *models.Intent
		want   bool
	}{
		{"simple task", &models.Intent{Complexity: models.ComplexitySimple}, false},
		{"complex task", &models.Intent{Complexity: models.ComplexityComplex}, true},
		{"ui group", &models.Intent{Complexity: models.ComplexityMedium, RelevantSkillGroups: []string{"automation"}}, true},
		{"other group", &models.Intent{Complexity: models.ComplexityMedium, RelevantSkillGroups: []string{"research"}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frag, err := inj.Inject(context.Background(), &Context{Cache: c, Intent: tt.intent})
			if err != nil {
				t.Fatal(err)
			}
			if got := strings.Contains(frag.Content, "DESKTOP PROTOCOL"); got != tt.want {
				t.Errorf("desktop protocol present = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestToolProvider_SkillSelection(t *testing.T) {
	c := loadedCache(t)

	t.Run("nil groups falls back to static prompt", func(t *testing.T) {
		inj := NewToolProviderInjector()
		frag, err := inj.Inject(context.Background(), &Context{
			Cache:  c,
			Intent: &models.Intent{RelevantSkillGroups: nil},
		})
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(frag.Content, "ALL SKILLS") {
			t.Errorf("static skills prompt missing:\n%s", frag.Content)
		}
		if !strings.Contains(frag.Content, "<tools>") || !strings.Contains(frag.Content, "read_file") {
			t.Errorf("tool listing missing:\n%s", frag.Content)
		}
	})

	t.Run("unions intent and plan groups", func(t *testing.T) {
		inj := NewToolProviderInjector()
		frag, err := inj.Inject(context.Background(), &Context{
			Cache:  c,
			Intent: &models.Intent{RelevantSkillGroups: []string{"research"}},
			Plan:   &models.Plan{RequiredSkills: []string{"browser-control"}},
		})
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(frag.Content, "## research") || !strings.Contains(frag.Content, "## automation") {
			t.Errorf("union incomplete:\n%s", frag.Content)
		}
		if strings.Contains(frag.Content, "ALL SKILLS") {
			t.Error("static prompt leaked into scoped selection")
		}
	})

	t.Run("follow-up reuses last selection", func(t *testing.T) {
		inj := NewToolProviderInjector()
		ic := &Context{
			ConversationID: "c1",
			Cache:          c,
			Intent:         &models.Intent{RelevantSkillGroups: []string{"research"}},
		}
		if _, err := inj.Inject(context.Background(), ic); err != nil {
			t.Fatal(err)
		}

		// "continue" turn: empty selection but flagged follow-up.
		frag, err := inj.Inject(context.Background(), &Context{
			ConversationID: "c1",
			Cache:          c,
			Intent:         &models.Intent{RelevantSkillGroups: []string{}, IsFollowUp: true},
		})
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(frag.Content, "## research") {
			t.Errorf("follow-up lost the previous selection:\n%s", frag.Content)
		}
	})

	t.Run("empty selection without follow-up omits skills", func(t *testing.T) {
		inj := NewToolProviderInjector()
		frag, err := inj.Inject(context.Background(), &Context{
			ConversationID: "c2",
			Cache:          c,
			Intent:         &models.Intent{RelevantSkillGroups: []string{}},
		})
		if err != nil {
			t.Fatal(err)
		}
		if strings.Contains(frag.Content, "<skills>") || strings.Contains(frag.Content, "ALL SKILLS") {
			t.Errorf("skills section present for empty selection:\n%s", frag.Content)
		}
	})
}

func TestHistorySummary_Gate(t *testing.T) {
	inj := HistorySummaryInjector{}

	short := &Context{History: make([]models.Message, 3)}
	if inj.ShouldInject(short) {
		t.Error("injected below the message gate")
	}

	precomputed := &Context{Summary: "we discussed X"}
	if !inj.ShouldInject(precomputed) {
		t.Error("pre-computed summary not injected")
	}
	frag, err := inj.Inject(context.Background(), precomputed)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(frag.render(), "<conversation_summary>") {
		t.Errorf("summary untagged: %q", frag.render())
	}

	var history []models.Message
	for i := 0; i < 6; i++ {
		history = append(history, models.Message{Role: models.RoleUser, Content: "message body"})
	}
	long := &Context{History: history}
	if !inj.ShouldInject(long) {
		t.Error("not injected above the message gate")
	}
	frag, err = inj.Inject(context.Background(), long)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(frag.Content, "6 messages") {
		t.Errorf("summary = %q", frag.Content)
	}
}

type staticFetcher struct{ profile string }

func (s staticFetcher) FetchProfile(context.Context, string) (string, error) {
	return s.profile, nil
}

func TestUserMemory_CapAndSkip(t *testing.T) {
	inj := NewUserMemoryInjector(staticFetcher{profile: strings.Repeat("x", 3000)})

	if inj.ShouldInject(&Context{UserID: "u1", Intent: &models.Intent{SkipMemory: true}}) {
		t.Error("injected despite skip_memory")
	}

	frag, err := inj.Inject(context.Background(), &Context{UserID: "u1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(frag.Content) != userMemoryLimit {
		t.Errorf("profile length = %d, want %d", len(frag.Content), userMemoryLimit)
	}

	// Pre-attached profile wins over the fetcher.
	frag, err = inj.Inject(context.Background(), &Context{UserID: "u1", UserProfile: "attached"})
	if err != nil {
		t.Fatal(err)
	}
	if frag.Content != "attached" {
		t.Errorf("profile = %q", frag.Content)
	}
}

type staticRetriever struct{ snippets []Snippet }

func (s staticRetriever) Retrieve(context.Context, string, int) ([]Snippet, error) {
	return s.snippets, nil
}

func TestKnowledge_Limits(t *testing.T) {
	big := strings.Repeat("k", 1200)
	inj := NewKnowledgeInjector(staticRetriever{snippets: []Snippet{
		{Source: "a.md", Content: big},
		{Source: "b.md", Content: big},
		{Source: "c.md", Content: big},
		{Source: "d.md", Content: big},
	}})

	frag, err := inj.Inject(context.Background(), &Context{Query: "k?"})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(frag.Content, "d.md") {
		t.Error("more than three snippets injected")
	}
	// Headers and blank lines ride on top of the content budget; the
	// snippet bodies themselves stay within it.
	body := strings.ReplaceAll(frag.Content, "k", "")
	kept := len(frag.Content) - len(body)
	if kept > maxKnowledgeChars {
		t.Errorf("snippet chars = %d, over budget", kept)
	}
}

type staticFinder struct{ pb *Playbook }

func (s staticFinder) BestMatch(context.Context, string) (*Playbook, error) {
	return s.pb, nil
}

func TestPlaybook_HintAndMiss(t *testing.T) {
	hit := NewPlaybookInjector(staticFinder{pb: &Playbook{Title: "weekly digest", Hint: "use the feed tool", Confidence: 0.82}})
	frag, err := hit.Inject(context.Background(), &Context{Query: "make a digest"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(frag.Content, "82%") || !strings.Contains(frag.Content, "weekly digest") {
		t.Errorf("hint = %q", frag.Content)
	}

	miss := NewPlaybookInjector(staticFinder{})
	frag, err = miss.Inject(context.Background(), &Context{Query: "anything"})
	if err != nil {
		t.Fatal(err)
	}
	if frag.render() != "" {
		t.Errorf("miss produced content: %q", frag.render())
	}
}

func TestGTDTodo_UsesFormatter(t *testing.T) {
	inj := NewGTDTodoInjector(func(p *models.Plan) string {
		return "PLAN:" + p.Name
	})

	if inj.ShouldInject(&Context{}) {
		t.Error("injected without a plan")
	}

	p := &models.Plan{Name: "ship it", Todos: []models.Todo{{ID: "1", Title: "t"}}}
	frag, err := inj.Inject(context.Background(), &Context{Plan: p})
	if err != nil {
		t.Fatal(err)
	}
	if frag.Content != "PLAN:ship it" {
		t.Errorf("content = %q", frag.Content)
	}
}
