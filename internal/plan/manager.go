// Package plan implements the conversation-scoped task list: its single
// mutator (the plan tool), persistence into conversation metadata, and the
// progressively disclosed prompt block.
package plan

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oriolane/oriole/internal/observability"
	"github.com/oriolane/oriole/pkg/models"
)

// Persister stores plans inside conversation metadata. LoadPlan returns
// (nil, nil) for conversations with no plan.
type Persister interface {
	SavePlan(ctx context.Context, conversationID string, p *models.Plan) error
	LoadPlan(ctx context.Context, conversationID string) (*models.Plan, error)
}

// Manager owns the one-plan-per-conversation invariant. All mutation goes
// through Create/UpdateTodo/Rewrite; reads return copies.
type Manager struct {
	mu      sync.Mutex
	plans   map[string]*models.Plan
	persist Persister
	logger  *slog.Logger

	now func() time.Time
}

// NewManager builds a manager. persist may be nil for in-memory operation.
func NewManager(persist Persister, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Manager{
		plans:   make(map[string]*models.Plan),
		persist: persist,
		logger:  logger,
		now:     time.Now,
	}
}

// Get returns a copy of the conversation's plan, loading from persistence on
// first access. Returns (nil, nil) when no plan exists.
func (m *Manager) Get(ctx context.Context, conversationID string) (*models.Plan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, err := m.loadLocked(ctx, conversationID)
	if err != nil || p == nil {
		return nil, err
	}
	return clonePlan(p), nil
}

func (m *Manager) loadLocked(ctx context.Context, conversationID string) (*models.Plan, error) {
	if p, ok := m.plans[conversationID]; ok {
		return p, nil
	}
	if m.persist == nil {
		return nil, nil
	}
	p, err := m.persist.LoadPlan(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("load plan: %w", err)
	}
	if p != nil {
		m.plans[conversationID] = p
	}
	return p, nil
}

// Create installs a new plan. Fails if the conversation already has one.
func (m *Manager) Create(ctx context.Context, conversationID string, p *models.Plan) (*models.Plan, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	existing, err := m.loadLocked(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("a plan already exists for this conversation; use rewrite to replace it")
	}

	now := m.now()
	p.CreatedAt = now
	p.UpdatedAt = now
	p.CompletedAt = nil
	for i := range p.Todos {
		if p.Todos[i].Status == "" {
			p.Todos[i].Status = models.TodoPending
		}
	}

	m.plans[conversationID] = p
	return clonePlan(p), m.saveLocked(ctx, conversationID, p)
}

// UpdateTodo applies a status transition to one todo. It sets updated_at and
// sets completed_at iff every todo is completed.
func (m *Manager) UpdateTodo(ctx context.Context, conversationID, todoID string, status models.TodoStatus, result string) (*models.Plan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, err := m.loadLocked(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("no plan exists for this conversation")
	}

	todo, ok := p.Todo(todoID)
	if !ok {
		return nil, fmt.Errorf("unknown todo id: %s", todoID)
	}
	if !todo.Status.CanTransition(status) {
		return nil, fmt.Errorf("illegal transition %s -> %s for todo %s", todo.Status, status, todoID)
	}

	todo.Status = status
	if result != "" {
		todo.Result = result
	}
	p.UpdatedAt = m.now()

	if p.AllCompleted() {
		done := m.now()
		p.CompletedAt = &done
	} else {
		p.CompletedAt = nil
	}

	return clonePlan(p), m.saveLocked(ctx, conversationID, p)
}

// Rewrite replaces the plan wholesale, preserving created_at. Failed steps
// return to pending this way.
func (m *Manager) Rewrite(ctx context.Context, conversationID string, p *models.Plan) (*models.Plan, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	existing, err := m.loadLocked(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	now := m.now()
	if existing != nil {
		p.CreatedAt = existing.CreatedAt
	} else {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	p.CompletedAt = nil
	for i := range p.Todos {
		if p.Todos[i].Status == "" {
			p.Todos[i].Status = models.TodoPending
		}
	}
	if p.AllCompleted() {
		done := now
		p.CompletedAt = &done
	}

	m.plans[conversationID] = p
	return clonePlan(p), m.saveLocked(ctx, conversationID, p)
}

func (m *Manager) saveLocked(ctx context.Context, conversationID string, p *models.Plan) error {
	if m.persist == nil {
		return nil
	}
	if err := m.persist.SavePlan(ctx, conversationID, p); err != nil {
		// Persistence is best-effort for the in-memory copy; surface the
		// failure to the caller but keep the state.
		m.logger.Warn("plan persistence failed", "conversation_id", conversationID, "error", err)
		return fmt.Errorf("save plan: %w", err)
	}
	return nil
}

func clonePlan(p *models.Plan) *models.Plan {
	dup := *p
	dup.Todos = make([]models.Todo, len(p.Todos))
	copy(dup.Todos, p.Todos)
	if p.CompletedAt != nil {
		t := *p.CompletedAt
		dup.CompletedAt = &t
	}
	dup.RequiredSkills = append([]string(nil), p.RequiredSkills...)
	return &dup
}
