package prompt

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/oriolane/oriole/internal/capability"
	"github.com/oriolane/oriole/pkg/models"
)

// RoleInjector emits the tier-selected system prompt, with the desktop
// operation protocol appended when the task involves UI automation.
type RoleInjector struct {
	desktopProtocol string
	uiGroups        map[string]bool
}

// NewRoleInjector builds the role injector. uiGroups names the skill groups
// whose presence in the intent result triggers the desktop protocol.
func NewRoleInjector(desktopProtocol string, uiGroups []string) *RoleInjector {
	set := make(map[string]bool, len(uiGroups))
	for _, g := range uiGroups {
		set[g] = true
	}
	return &RoleInjector{desktopProtocol: desktopProtocol, uiGroups: set}
}

func (r *RoleInjector) Name() string                { return "role" }
func (r *RoleInjector) Phase() Phase                { return PhaseSystem }
func (r *RoleInjector) CacheStrategy() CacheStrategy { return CacheStable }
func (r *RoleInjector) Priority() int               { return 100 }

func (r *RoleInjector) ShouldInject(ic *Context) bool {
	return ic.Cache != nil && ic.Cache.Loaded()
}

func (r *RoleInjector) Inject(_ context.Context, ic *Context) (*Fragment, error) {
	tier := models.ComplexityMedium
	if ic.Intent != nil {
		tier = ic.Intent.Complexity
	}
	content := ic.Cache.SystemPrompt(tier)

	if r.desktopProtocol != "" && r.wantsDesktop(ic) {
		content += "\n\n" + r.desktopProtocol
	}
	return &Fragment{Content: content}, nil
}

func (r *RoleInjector) wantsDesktop(ic *Context) bool {
	if ic.Intent == nil {
		return false
	}
	if ic.Intent.Complexity == models.ComplexityComplex {
		return true
	}
	for _, g := range ic.Intent.RelevantSkillGroups {
		if r.uiGroups[g] {
			return true
		}
	}
	return false
}

// ToolProviderInjector formats the available tools as an XML-tagged listing
// and appends API documentation and a skill prompt scoped by the turn's
// intent and plan.
type ToolProviderInjector struct {
	mu sync.Mutex
	// lastSelection remembers the last non-empty skill-group selection per
	// conversation. Follow-up turns with an empty selection reuse it so a
	// bare "continue" does not drop the skills the task was using.
	lastSelection map[string][]string
}

// NewToolProviderInjector builds the tool-provider injector.
func NewToolProviderInjector() *ToolProviderInjector {
	return &ToolProviderInjector{lastSelection: make(map[string][]string)}
}

func (t *ToolProviderInjector) Name() string                 { return "tool_provider" }
func (t *ToolProviderInjector) Phase() Phase                 { return PhaseSystem }
func (t *ToolProviderInjector) CacheStrategy() CacheStrategy { return CacheStable }
func (t *ToolProviderInjector) Priority() int                { return 80 }

func (t *ToolProviderInjector) ShouldInject(ic *Context) bool {
	return ic.Cache != nil && ic.Cache.Runtime().Skills != nil
}

func (t *ToolProviderInjector) Inject(_ context.Context, ic *Context) (*Fragment, error) {
	rc := ic.Cache.Runtime()

	var sb strings.Builder
	sb.WriteString("<tools>\n")
	for _, ts := range rc.Skills.ToolSchemas() {
		fmt.Fprintf(&sb, "- %s: %s\n", ts.Name, ts.Description)
	}
	sb.WriteString("</tools>")

	if rc.APIsPrompt != "" {
		sb.WriteString("\n\n<api_docs>\n")
		sb.WriteString(rc.APIsPrompt)
		sb.WriteString("\n</api_docs>")
	}

	if skills := t.skillsSection(ic, rc); skills != "" {
		sb.WriteString("\n\n")
		sb.WriteString(skills)
	}

	return &Fragment{Content: sb.String()}, nil
}

// skillsSection resolves the skill prompt for this turn. The selection unions
// two sources: the intent result's groups and the plan's required skills
// reverse-mapped onto groups.
func (t *ToolProviderInjector) skillsSection(ic *Context, rc RuntimeContext) string {
	// No intent signal at all means no scoping: the full static prompt.
	if ic.Intent == nil || ic.Intent.RelevantSkillGroups == nil {
		return rc.SkillsPrompt
	}

	selection := unionGroups(ic.Intent.RelevantSkillGroups, planGroups(ic.Plan, rc.Groups))

	if len(selection) == 0 {
		if !ic.Intent.IsFollowUp {
			return ""
		}
		// Momentary drift guard: "continue" style turns classify with an
		// empty selection, so reuse what the task was already using.
		t.mu.Lock()
		selection = t.lastSelection[ic.ConversationID]
		t.mu.Unlock()
		if len(selection) == 0 {
			return ""
		}
	} else {
		t.mu.Lock()
		t.lastSelection[ic.ConversationID] = selection
		t.mu.Unlock()
	}

	return renderSkillGroups(selection, rc.Groups)
}

func planGroups(p *models.Plan, groups *capability.SkillGroups) []string {
	if p == nil || groups == nil || len(p.RequiredSkills) == 0 {
		return nil
	}
	return groups.GroupsForSkills(p.RequiredSkills)
}

func unionGroups(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, g := range append(append([]string{}, a...), b...) {
		if g != "" && !seen[g] {
			seen[g] = true
			out = append(out, g)
		}
	}
	return out
}

func renderSkillGroups(selection []string, groups *capability.SkillGroups) string {
	var sb strings.Builder
	sb.WriteString("<skills>\n")
	for _, g := range selection {
		fmt.Fprintf(&sb, "## %s\n", g)
		if groups != nil {
			for _, s := range groups.Skills(g) {
				fmt.Fprintf(&sb, "- %s\n", s)
			}
		}
	}
	sb.WriteString("</skills>")
	return sb.String()
}

// SkillFocusInjector emits a short adaptive hint keyed by task complexity.
type SkillFocusInjector struct{}

func (SkillFocusInjector) Name() string                 { return "skill_focus" }
func (SkillFocusInjector) Phase() Phase                 { return PhaseSystem }
func (SkillFocusInjector) CacheStrategy() CacheStrategy { return CacheDynamic }
func (SkillFocusInjector) Priority() int                { return 70 }

func (SkillFocusInjector) ShouldInject(ic *Context) bool { return ic.Intent != nil }

func (SkillFocusInjector) Inject(_ context.Context, ic *Context) (*Fragment, error) {
	var hint string
	switch ic.Intent.Complexity {
	case models.ComplexitySimple:
		hint = "Focus: answer the question directly. Avoid tool calls and planning overhead."
	case models.ComplexityComplex:
		hint = "Focus: this is a substantial task. Lean on your skills, keep the plan current, and verify intermediate results."
	default:
		hint = "Focus: use the most specific skill available before falling back to general tools."
	}
	return &Fragment{Content: hint}, nil
}

// HistorySummaryInjector surfaces a conversation summary once the history is
// long enough to matter, or whenever one was pre-computed upstream.
type HistorySummaryInjector struct{}

// historySummaryGate is the minimum prior message count before a summary is
// synthesized on the fly.
const historySummaryGate = 5

func (HistorySummaryInjector) Name() string                 { return "history_summary" }
func (HistorySummaryInjector) Phase() Phase                 { return PhaseSystem }
func (HistorySummaryInjector) CacheStrategy() CacheStrategy { return CacheDynamic }
func (HistorySummaryInjector) Priority() int                { return 60 }

func (HistorySummaryInjector) ShouldInject(ic *Context) bool {
	return ic.Summary != "" || len(ic.History) >= historySummaryGate
}

func (HistorySummaryInjector) Inject(_ context.Context, ic *Context) (*Fragment, error) {
	if ic.Summary != "" {
		return &Fragment{Content: ic.Summary, XMLTag: "conversation_summary"}, nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "The conversation so far spans %d messages. Recent turns:\n", len(ic.History))
	start := len(ic.History) - historySummaryGate
	for _, m := range ic.History[start:] {
		if m.SystemInjected || m.Content == "" {
			continue
		}
		fmt.Fprintf(&sb, "- %s: %s\n", m.Role, firstLine(m.Content, 120))
	}
	return &Fragment{Content: strings.TrimRight(sb.String(), "\n"), XMLTag: "conversation_summary"}, nil
}

func firstLine(s string, max int) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > max {
		s = s[:max] + "..."
	}
	return s
}
