package plan

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/oriolane/oriole/internal/agent"
	"github.com/oriolane/oriole/pkg/models"
)

// ToolName is the registry name of the plan tool.
const ToolName = "plan"

// toolInput is the plan tool's wire shape.
type toolInput struct {
	Action         string        `json:"action"`
	Name           string        `json:"name,omitempty"`
	Overview       string        `json:"overview,omitempty"`
	Plan           string        `json:"plan,omitempty"`
	RequiredSkills []string      `json:"required_skills,omitempty"`
	Todos          []models.Todo `json:"todos,omitempty"`
	TodoID         string        `json:"todo_id,omitempty"`
	Status         string        `json:"status,omitempty"`
	Result         string        `json:"result,omitempty"`
}

// toolResponse is what the model sees back. Guidance appears when a step
// fails so the model reads its options deterministically.
type toolResponse struct {
	Success      bool          `json:"success"`
	Action       string        `json:"action"`
	AllCompleted bool          `json:"all_completed"`
	Plan         *models.Plan  `json:"plan,omitempty"`
	Guidance     *failGuidance `json:"guidance,omitempty"`
}

type failGuidance struct {
	FailedStep   string   `json:"failed_step"`
	FailureCount int      `json:"failure_count"`
	Options      []string `json:"options"`
}

// Tool is the plan tool: the one and only plan mutator. It emits a
// user-facing progress delta on updates.
type Tool struct {
	manager *Manager
}

// NewTool wires the plan tool to its manager.
func NewTool(manager *Manager) *Tool {
	return &Tool{manager: manager}
}

func (t *Tool) Name() string { return ToolName }

func (t *Tool) Description() string {
	return "Create and maintain the task plan for this conversation. " +
		"Actions: create (name, todos), update (todo_id, status, result?), rewrite (name, todos)."
}

func (t *Tool) Schema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "required": ["action"],
  "properties": {
    "action": {"type": "string", "enum": ["create", "update", "rewrite"]},
    "name": {"type": "string"},
    "overview": {"type": "string"},
    "plan": {"type": "string"},
    "required_skills": {"type": "array", "items": {"type": "string"}},
    "todos": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "title"],
        "properties": {
          "id": {"type": "string"},
          "title": {"type": "string"},
          "content": {"type": "string"},
          "status": {"type": "string"}
        }
      }
    },
    "todo_id": {"type": "string"},
    "status": {"type": "string", "enum": ["pending", "in_progress", "completed", "failed"]},
    "result": {"type": "string"}
  }
}`)
}

func (t *Tool) Execute(ctx context.Context, inv *agent.Invocation, input json.RawMessage) (*agent.ToolOutput, error) {
	var in toolInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, agent.NewToolError(models.ToolErrInputInvalid, ToolName,
			"plan input is not valid JSON").WithCause(err)
	}

	switch in.Action {
	case "create":
		return t.create(ctx, inv, in)
	case "update":
		return t.update(ctx, inv, in)
	case "rewrite":
		return t.rewrite(ctx, inv, in)
	default:
		return nil, agent.NewToolError(models.ToolErrInputInvalid, ToolName,
			fmt.Sprintf("unknown action %q", in.Action))
	}
}

func (t *Tool) create(ctx context.Context, inv *agent.Invocation, in toolInput) (*agent.ToolOutput, error) {
	p, err := t.manager.Create(ctx, inv.ConversationID, &models.Plan{
		Name:           in.Name,
		Overview:       in.Overview,
		Detail:         in.Plan,
		RequiredSkills: in.RequiredSkills,
		Todos:          in.Todos,
	})
	if err != nil {
		return nil, agent.NewToolError(models.ToolErrInputInvalid, ToolName, err.Error()).WithCause(err)
	}

	t.emitProgress(inv, fmt.Sprintf("Planned %d steps for: %s", len(p.Todos), p.Name))
	return respond(toolResponse{Success: true, Action: "create", Plan: p})
}

func (t *Tool) update(ctx context.Context, inv *agent.Invocation, in toolInput) (*agent.ToolOutput, error) {
	if in.TodoID == "" || in.Status == "" {
		return nil, agent.NewToolError(models.ToolErrInputInvalid, ToolName,
			"update requires todo_id and status")
	}

	p, err := t.manager.UpdateTodo(ctx, inv.ConversationID, in.TodoID, models.TodoStatus(in.Status), in.Result)
	if err != nil {
		return nil, agent.NewToolError(models.ToolErrInputInvalid, ToolName, err.Error()).WithCause(err)
	}

	resp := toolResponse{Success: true, Action: "update", AllCompleted: p.AllCompleted(), Plan: p}

	todo, _ := p.Todo(in.TodoID)
	switch models.TodoStatus(in.Status) {
	case models.TodoCompleted:
		if resp.AllCompleted {
			t.emitProgress(inv, "All steps finished. Wrapping up.")
		} else {
			t.emitProgress(inv, fmt.Sprintf("Finished: %s", todo.Title))
		}
	case models.TodoInProgress:
		t.emitProgress(inv, fmt.Sprintf("Working on: %s", todo.Title))
	case models.TodoFailed:
		t.emitProgress(inv, fmt.Sprintf("Hit a problem with: %s", todo.Title))
		resp.Guidance = &failGuidance{
			FailedStep:   todo.Title,
			FailureCount: p.FailureCount(),
			Options: []string{
				"try a different approach for this step",
				"skip this step and continue with the rest of the plan",
				"report the problem to the user and ask how to proceed",
			},
		}
	}

	return respond(resp)
}

func (t *Tool) rewrite(ctx context.Context, inv *agent.Invocation, in toolInput) (*agent.ToolOutput, error) {
	p, err := t.manager.Rewrite(ctx, inv.ConversationID, &models.Plan{
		Name:           in.Name,
		Overview:       in.Overview,
		Detail:         in.Plan,
		RequiredSkills: in.RequiredSkills,
		Todos:          in.Todos,
	})
	if err != nil {
		return nil, agent.NewToolError(models.ToolErrInputInvalid, ToolName, err.Error()).WithCause(err)
	}

	t.emitProgress(inv, fmt.Sprintf("Revised the plan: now %d steps", len(p.Todos)))
	return respond(toolResponse{Success: true, Action: "rewrite", Plan: p})
}

func (t *Tool) emitProgress(inv *agent.Invocation, text string) {
	if inv == nil || inv.Broadcaster == nil {
		return
	}
	inv.Broadcaster.MessageDelta(inv.SessionID, inv.MessageID, models.DeltaProgress, text)
}

func respond(resp toolResponse) (*agent.ToolOutput, error) {
	data, err := json.Marshal(resp)
	if err != nil {
		return nil, err
	}
	// Plan responses stay inline; compacting them would hide the state the
	// model needs next turn.
	return &agent.ToolOutput{Text: string(data), Hint: agent.HintSkip}, nil
}
