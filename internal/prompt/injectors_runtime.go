package prompt

import (
	"context"

	"github.com/oriolane/oriole/pkg/models"
)

// PlanFormatter renders a plan as the prompt block appended to the final user
// message. Wired to the plan package's formatter at composition time.
type PlanFormatter func(p *models.Plan) string

// GTDTodoInjector appends the current todo list so the model always sees plan
// state in the turn it acts on.
type GTDTodoInjector struct {
	format PlanFormatter
}

func NewGTDTodoInjector(format PlanFormatter) *GTDTodoInjector {
	return &GTDTodoInjector{format: format}
}

func (g *GTDTodoInjector) Name() string                 { return "gtd_todo" }
func (g *GTDTodoInjector) Phase() Phase                 { return PhaseRuntime }
func (g *GTDTodoInjector) CacheStrategy() CacheStrategy { return CacheDynamic }
func (g *GTDTodoInjector) Priority() int                { return 80 }

func (g *GTDTodoInjector) ShouldInject(ic *Context) bool {
	return g.format != nil && ic.Plan != nil && len(ic.Plan.Todos) > 0
}

func (g *GTDTodoInjector) Inject(_ context.Context, ic *Context) (*Fragment, error) {
	return &Fragment{Content: g.format(ic.Plan)}, nil
}

// PageEditorInjector appends attached editor context when the user is working
// inside a document.
type PageEditorInjector struct{}

func (PageEditorInjector) Name() string                 { return "page_editor" }
func (PageEditorInjector) Phase() Phase                 { return PhaseRuntime }
func (PageEditorInjector) CacheStrategy() CacheStrategy { return CacheDynamic }
func (PageEditorInjector) Priority() int                { return 70 }

func (PageEditorInjector) ShouldInject(ic *Context) bool {
	return ic.EditorContext != ""
}

func (PageEditorInjector) Inject(_ context.Context, ic *Context) (*Fragment, error) {
	return &Fragment{Content: ic.EditorContext, XMLTag: "page_editor"}, nil
}
