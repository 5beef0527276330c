package intent

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/oriolane/oriole/internal/capability"
	"github.com/oriolane/oriole/pkg/models"
)

type fakeChat struct {
	content string
	err     error
	gotReq  openai.ChatCompletionRequest
}

func (f *fakeChat) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.gotReq = req
	if f.err != nil {
		return openai.ChatCompletionResponse{}, f.err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: f.content}},
		},
	}, nil
}

func skillRegistry(t *testing.T) *capability.Registry {
	t.Helper()
	groups := capability.NewSkillGroups(map[string][]string{
		"research":   {"web-search", "deep-read"},
		"automation": {"browser-control"},
	})
	reg, err := capability.NewRegistry([]capability.Capability{
		{Name: "web-search", Kind: capability.KindSkill},
		{Name: "deep-read", Kind: capability.KindSkill},
		{Name: "browser-control", Kind: capability.KindSkill},
	}, groups)
	if err != nil {
		t.Fatal(err)
	}
	return reg
}

func TestAnalyze_ParsesClassification(t *testing.T) {
	chat := &fakeChat{content: `{"complexity":"complex","needs_plan":true,"relevant_skill_groups":["research"],"is_follow_up":false,"task_type":"research"}`}
	a := NewWithClient(chat, "test-model", skillRegistry(t), nil)

	got := a.Analyze(context.Background(), "compare three market reports", nil, nil)

	if got.Complexity != models.ComplexityComplex || !got.NeedsPlan {
		t.Errorf("intent = %+v", got)
	}
	if !reflect.DeepEqual(got.RelevantSkillGroups, []string{"research"}) {
		t.Errorf("groups = %v", got.RelevantSkillGroups)
	}
	if chat.gotReq.ResponseFormat == nil ||
		chat.gotReq.ResponseFormat.Type != openai.ChatCompletionResponseFormatTypeJSONObject {
		t.Error("request did not ask for JSON mode")
	}
}

func TestAnalyze_ErrorFallsBackToDefault(t *testing.T) {
	chat := &fakeChat{err: errors.New("connection refused")}
	a := NewWithClient(chat, "test-model", nil, nil)

	got := a.Analyze(context.Background(), "do something", nil, nil)

	want := models.DefaultIntent()
	if got.Complexity != want.Complexity || got.NeedsPlan != want.NeedsPlan {
		t.Errorf("fallback intent = %+v", got)
	}
	if got.RelevantSkillGroups != nil {
		t.Errorf("fallback groups = %v, want nil", got.RelevantSkillGroups)
	}
}

func TestAnalyze_MalformedJSONFallsBackToDefault(t *testing.T) {
	chat := &fakeChat{content: `Sure! Here's the classification: complex`}
	a := NewWithClient(chat, "test-model", nil, nil)

	got := a.Analyze(context.Background(), "do something", nil, nil)
	if got.Complexity != models.ComplexityMedium || !got.NeedsPlan {
		t.Errorf("fallback intent = %+v", got)
	}
}

func TestAnalyze_UnknownComplexityNormalized(t *testing.T) {
	chat := &fakeChat{content: `{"complexity":"extreme","needs_plan":false}`}
	a := NewWithClient(chat, "test-model", nil, nil)

	got := a.Analyze(context.Background(), "hi", nil, nil)
	if got.Complexity != models.ComplexityMedium {
		t.Errorf("complexity = %s", got.Complexity)
	}
	if got.NeedsPlan {
		t.Error("needs_plan overridden")
	}
}

func TestAnalyze_SkillNameSupplement(t *testing.T) {
	tests := []struct {
		name  string
		query string
		model string
		want  []string
	}{
		{
			name:  "hyphen form",
			query: "run a web-search for golang releases",
			model: `{"complexity":"simple","relevant_skill_groups":null}`,
			want:  []string{"research"},
		},
		{
			name:  "space form",
			query: "please do a web search about this",
			model: `{"complexity":"simple","relevant_skill_groups":null}`,
			want:  []string{"research"},
		},
		{
			name:  "union with model groups",
			query: "use browser control to fill the form",
			model: `{"complexity":"medium","relevant_skill_groups":["research"]}`,
			want:  []string{"research", "automation"},
		},
		{
			name:  "substring does not match",
			query: "I was web-searching yesterday",
			model: `{"complexity":"simple","relevant_skill_groups":null}`,
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewWithClient(&fakeChat{content: tt.model}, "test-model", skillRegistry(t), nil)
			got := a.Analyze(context.Background(), tt.query, nil, nil)
			if !reflect.DeepEqual(got.RelevantSkillGroups, tt.want) {
				t.Errorf("groups = %v, want %v", got.RelevantSkillGroups, tt.want)
			}
		})
	}
}

func TestAnalyze_HistoryWindowAndPlanContext(t *testing.T) {
	chat := &fakeChat{content: `{"complexity":"simple"}`}
	a := NewWithClient(chat, "test-model", nil, nil)

	var history []models.Message
	for i := 0; i < 10; i++ {
		role := models.RoleUser
		if i%2 == 1 {
			role = models.RoleAssistant
		}
		history = append(history, models.Message{Role: role, Content: "turn"})
	}
	p := &models.Plan{Name: "migration", Todos: []models.Todo{{ID: "1", Title: "step"}}}

	a.Analyze(context.Background(), "next", history, p)

	// system + windowed history + the query itself.
	if len(chat.gotReq.Messages) != 1+historyWindow+1 {
		t.Errorf("messages = %d, want %d", len(chat.gotReq.Messages), 1+historyWindow+1)
	}
	system := chat.gotReq.Messages[0]
	if system.Role != openai.ChatMessageRoleSystem {
		t.Fatalf("first message role = %s", system.Role)
	}
	if !strings.Contains(system.Content, "migration") {
		t.Error("running plan not mentioned in system prompt")
	}
}

func TestContainsPhrase(t *testing.T) {
	tests := []struct {
		text, phrase string
		want         bool
	}{
		{"use web-search now", "web-search", true},
		{"Web-Search, please", "web-search", true},
		{"web-searching", "web-search", false},
		{"my-web-search", "web-search", false},
		{"web search", "web search", true},
		{"", "web-search", false},
		{"anything", "", false},
	}
	for _, tt := range tests {
		if got := containsPhrase(tt.text, tt.phrase); got != tt.want {
			t.Errorf("containsPhrase(%q, %q) = %v", tt.text, tt.phrase, tt.want)
		}
	}
}
