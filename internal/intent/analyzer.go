// Package intent classifies a user turn before prompt assembly. The
// classifier is an LLM call in JSON mode; its failure mode is always the
// safe default, never an error that blocks the turn.
package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/oriolane/oriole/internal/capability"
	"github.com/oriolane/oriole/internal/observability"
	"github.com/oriolane/oriole/pkg/models"
)

// historyWindow bounds how much recent history the classifier sees.
const historyWindow = 6

const systemPrompt = `You classify a user request for an agent runtime. Respond with a single JSON object:
{
  "complexity": "simple" | "medium" | "complex",
  "needs_plan": boolean,
  "relevant_skill_groups": [string] | null,
  "is_follow_up": boolean,
  "skip_memory": boolean,
  "task_type": string
}
Rules:
- "simple" is a single factual question answerable without tools.
- "complex" involves multiple tools, file changes, or multi-step research.
- needs_plan is true when the task benefits from an explicit step list.
- relevant_skill_groups: pick only from the provided group names; null when unsure.
- is_follow_up is true when the request continues the previous exchange.
- skip_memory is true for stateless one-off questions.`

// chatClient is the slice of the OpenAI client the analyzer uses.
type chatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Analyzer runs intent classification over the Intent LLM.
type Analyzer struct {
	client chatClient
	model  string
	skills *capability.Registry
	logger *slog.Logger
}

// Config for the analyzer.
type Config struct {
	APIKey  string
	BaseURL string
	// Model defaults to gpt-4o-mini; intent calls are small and frequent.
	Model string
}

// New builds an analyzer backed by the OpenAI API.
func New(cfg Config, skills *capability.Registry, logger *slog.Logger) (*Analyzer, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("intent: API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &Analyzer{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
		skills: skills,
		logger: loggerOrNop(logger),
	}, nil
}

// NewWithClient injects a client, used by tests.
func NewWithClient(client chatClient, model string, skills *capability.Registry, logger *slog.Logger) *Analyzer {
	return &Analyzer{client: client, model: model, skills: skills, logger: loggerOrNop(logger)}
}

func loggerOrNop(l *slog.Logger) *slog.Logger {
	if l == nil {
		return observability.NopLogger()
	}
	return l
}

// Analyze classifies the query. It never fails: classification errors and
// malformed JSON both yield the safe default, then the deterministic skill
// supplement runs either way.
func (a *Analyzer) Analyze(ctx context.Context, query string, history []models.Message, p *models.Plan) *models.Intent {
	result := a.classify(ctx, query, history, p)
	a.supplementSkills(query, result)
	return result
}

func (a *Analyzer) classify(ctx context.Context, query string, history []models.Message, p *models.Plan) *models.Intent {
	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: a.buildSystemPrompt(p)},
	}
	for _, m := range recentHistory(history) {
		role := openai.ChatMessageRoleUser
		if m.Role == models.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: query,
	})

	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    a.model,
		Messages: messages,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		a.logger.Warn("intent classification failed, using default", "error", err)
		return models.DefaultIntent()
	}
	if len(resp.Choices) == 0 {
		return models.DefaultIntent()
	}

	var out models.Intent
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &out); err != nil {
		a.logger.Warn("intent response is not valid JSON, using default",
			"content", truncate(resp.Choices[0].Message.Content, 200), "error", err)
		return models.DefaultIntent()
	}

	switch out.Complexity {
	case models.ComplexitySimple, models.ComplexityMedium, models.ComplexityComplex:
	default:
		out.Complexity = models.ComplexityMedium
	}
	return &out
}

func (a *Analyzer) buildSystemPrompt(p *models.Plan) string {
	prompt := systemPrompt
	if a.skills != nil {
		if groups := a.skills.Groups().GroupNames(); len(groups) > 0 {
			prompt += "\nAvailable skill groups: " + strings.Join(groups, ", ")
		}
	}
	if p != nil && len(p.Todos) > 0 {
		prompt += fmt.Sprintf("\nA plan named %q with %d steps is already running; "+
			"continuation requests are follow-ups.", p.Name, len(p.Todos))
	}
	return prompt
}

func recentHistory(history []models.Message) []models.Message {
	if len(history) <= historyWindow {
		return history
	}
	return history[len(history)-historyWindow:]
}

// supplementSkills deterministically unions groups for skills whose name
// appears verbatim in the query, in hyphenated or space-separated form.
// Exact token matches only; never inferential.
func (a *Analyzer) supplementSkills(query string, result *models.Intent) {
	if a.skills == nil {
		return
	}

	var matched []string
	for _, c := range a.skills.FindByKind(capability.KindSkill) {
		name := strings.ToLower(c.Name)
		if containsPhrase(query, name) || containsPhrase(query, strings.ReplaceAll(name, "-", " ")) {
			matched = append(matched, c.Name)
		}
	}
	if len(matched) == 0 {
		return
	}

	groups := a.skills.Groups().GroupsForSkills(matched)
	if len(groups) == 0 {
		return
	}

	seen := make(map[string]bool, len(result.RelevantSkillGroups))
	for _, g := range result.RelevantSkillGroups {
		seen[g] = true
	}
	for _, g := range groups {
		if !seen[g] {
			result.RelevantSkillGroups = append(result.RelevantSkillGroups, g)
		}
	}
}

// containsPhrase reports whether phrase occurs in text on token boundaries.
func containsPhrase(text, phrase string) bool {
	if phrase == "" {
		return false
	}
	text = strings.ToLower(text)
	for start := 0; ; {
		idx := strings.Index(text[start:], phrase)
		if idx < 0 {
			return false
		}
		idx += start
		end := idx + len(phrase)
		beforeOK := idx == 0 || !isWordByte(text[idx-1])
		afterOK := end == len(text) || !isWordByte(text[end])
		if beforeOK && afterOK {
			return true
		}
		start = idx + 1
	}
}

func isWordByte(b byte) bool {
	return b == '_' || b == '-' ||
		(b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
