package models

import (
	"fmt"
	"time"
)

// TodoStatus is the lifecycle state of one plan step.
type TodoStatus string

const (
	TodoPending    TodoStatus = "pending"
	TodoInProgress TodoStatus = "in_progress"
	TodoCompleted  TodoStatus = "completed"
	TodoFailed     TodoStatus = "failed"
)

// CanTransition reports whether a status change is legal. The permitted
// transitions are pending → in_progress → {completed, failed}; a failed step
// returns to pending only through a plan rewrite.
func (s TodoStatus) CanTransition(to TodoStatus) bool {
	switch s {
	case TodoPending:
		return to == TodoInProgress || to == TodoCompleted || to == TodoFailed
	case TodoInProgress:
		return to == TodoCompleted || to == TodoFailed
	default:
		return false
	}
}

// Todo is one ordered step of a plan.
type Todo struct {
	ID      string     `json:"id"`
	Title   string     `json:"title"`
	Content string     `json:"content,omitempty"`
	Status  TodoStatus `json:"status"`
	Result  string     `json:"result,omitempty"`
}

// Plan is the conversation-scoped task list the model edits through the plan
// tool. Exactly one plan exists per conversation.
type Plan struct {
	Name           string     `json:"name"`
	Overview       string     `json:"overview,omitempty"`
	Detail         string     `json:"plan,omitempty"`
	RequiredSkills []string   `json:"required_skills,omitempty"`
	Todos          []Todo     `json:"todos"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// Todo returns the todo with the given ID.
func (p *Plan) Todo(id string) (*Todo, bool) {
	for i := range p.Todos {
		if p.Todos[i].ID == id {
			return &p.Todos[i], true
		}
	}
	return nil, false
}

// AllCompleted reports whether every todo is completed.
func (p *Plan) AllCompleted() bool {
	if len(p.Todos) == 0 {
		return false
	}
	for _, t := range p.Todos {
		if t.Status != TodoCompleted {
			return false
		}
	}
	return true
}

// FailureCount returns the number of todos currently in the failed state.
func (p *Plan) FailureCount() int {
	n := 0
	for _, t := range p.Todos {
		if t.Status == TodoFailed {
			n++
		}
	}
	return n
}

// Validate checks structural invariants: at least one todo, unique todo IDs.
func (p *Plan) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("plan name is required")
	}
	if len(p.Todos) == 0 {
		return fmt.Errorf("plan requires at least one todo")
	}
	seen := make(map[string]bool, len(p.Todos))
	for _, t := range p.Todos {
		if t.ID == "" {
			return fmt.Errorf("todo id is required")
		}
		if seen[t.ID] {
			return fmt.Errorf("duplicate todo id: %s", t.ID)
		}
		seen[t.ID] = true
	}
	return nil
}
