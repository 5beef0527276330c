package capability

import (
	"testing"
	"time"
)

func testCaps() []Capability {
	return []Capability{
		{Name: "plan", Kind: KindTool, Layer: LayerCore, Priority: 90},
		{Name: "web-search", Kind: KindTool, Layer: LayerDynamic, Priority: 70,
			Tags: []string{"research"}, Constraints: Constraints{RequiresNetwork: true}},
		{Name: "browser", Kind: KindTool, Layer: LayerDynamic, Priority: 50,
			SerialOnly: true, ExecutionTimeout: 120 * time.Second},
		{Name: "pdf-report", Kind: KindSkill, Layer: LayerDynamic, Tags: []string{"office"}},
		{Name: "py-runner", Kind: KindCode, Layer: LayerDynamic,
			Constraints: Constraints{InternalUseOnly: true}},
	}
}

func testGroups() *SkillGroups {
	return NewSkillGroups(map[string][]string{
		"research": {"web-search"},
		"office":   {"pdf-report", "slide-deck"},
	})
}

func mustRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := NewRegistry(testCaps(), testGroups())
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return r
}

func TestRegistry_Lookups(t *testing.T) {
	r := mustRegistry(t)

	if _, ok := r.Get("plan"); !ok {
		t.Error("plan not found")
	}
	if got := r.FindByTag("research"); len(got) != 1 || got[0].Name != "web-search" {
		t.Errorf("FindByTag(research) = %v", got)
	}
	if got := r.FindByKind(KindSkill); len(got) != 1 || got[0].Name != "pdf-report" {
		t.Errorf("FindByKind(skill) = %v", got)
	}
	if got := r.FindByLayer(LayerCore); len(got) != 1 || got[0].Name != "plan" {
		t.Errorf("FindByLayer(1) = %v", got)
	}
}

func TestRegistry_DuplicateNameRejected(t *testing.T) {
	_, err := NewRegistry([]Capability{
		{Name: "x", Kind: KindTool},
		{Name: "x", Kind: KindTool},
	}, nil)
	if err == nil {
		t.Fatal("expected duplicate name error")
	}
}

func TestFilterByEnabled_LayerOneAlwaysAdmitted(t *testing.T) {
	r := mustRegistry(t)

	// Nothing enabled: only the core capability survives.
	filtered := r.FilterByEnabled(map[string]bool{})
	if _, ok := filtered.Get("plan"); !ok {
		t.Error("layer-1 capability missing from filtered registry")
	}
	if _, ok := filtered.Get("web-search"); ok {
		t.Error("disabled layer-2 capability admitted")
	}

	// Even an explicit false cannot remove a core capability.
	filtered = r.FilterByEnabled(map[string]bool{"plan": false, "browser": true})
	if _, ok := filtered.Get("plan"); !ok {
		t.Error("layer-1 capability removed by explicit false")
	}
	if _, ok := filtered.Get("browser"); !ok {
		t.Error("enabled layer-2 capability missing")
	}
}

func TestToolSchemas_PriorityOrderAndDefaults(t *testing.T) {
	r := mustRegistry(t)

	schemas := r.ToolSchemas()
	if len(schemas) != 3 {
		t.Fatalf("got %d tool schemas, want 3", len(schemas))
	}
	if schemas[0].Name != "plan" || schemas[1].Name != "web-search" || schemas[2].Name != "browser" {
		t.Errorf("schema order = %s,%s,%s", schemas[0].Name, schemas[1].Name, schemas[2].Name)
	}
	if string(schemas[0].InputSchema) != `{"type":"object"}` {
		t.Errorf("default input schema = %s", schemas[0].InputSchema)
	}
}

func TestAdmissible(t *testing.T) {
	r := mustRegistry(t)
	search, _ := r.Get("web-search")
	runner, _ := r.Get("py-runner")

	if search.Admissible(ConstraintContext{HasNetwork: false}) {
		t.Error("network tool admissible without network")
	}
	if !search.Admissible(ConstraintContext{HasNetwork: true}) {
		t.Error("network tool not admissible with network")
	}
	if runner.Admissible(ConstraintContext{}) {
		t.Error("internal-only capability admissible externally")
	}
	if !runner.Admissible(ConstraintContext{Internal: true}) {
		t.Error("internal-only capability rejected internally")
	}

	api := Capability{Name: "crm", Kind: KindTool,
		Constraints: Constraints{RequiresAPI: "hubspot"}}
	if api.Admissible(ConstraintContext{AvailableAPIs: []string{"jira"}}) {
		t.Error("api-gated tool admissible without its api")
	}
	if !api.Admissible(ConstraintContext{AvailableAPIs: []string{"jira", "hubspot"}}) {
		t.Error("api-gated tool rejected with its api present")
	}
}

func TestSerialOnlyTools(t *testing.T) {
	r := mustRegistry(t)
	serial := r.SerialOnlyTools()
	if !serial["browser"] || serial["plan"] {
		t.Errorf("serial set = %v", serial)
	}
}

func TestSkillGroups_ReverseMapping(t *testing.T) {
	g := testGroups()

	groups := g.GroupsForSkills([]string{"pdf-report", "web-search", "unknown"})
	if len(groups) != 2 || groups[0] != "office" || groups[1] != "research" {
		t.Errorf("GroupsForSkills = %v", groups)
	}
}

func TestLoad_YAML(t *testing.T) {
	data := []byte(`
capabilities:
  - name: plan
    kind: tool
    layer: 1
    priority: 90
    description: Manage the task plan
    input_schema:
      type: object
      properties:
        action: {type: string}
  - name: browser
    kind: tool
    serial_only: true
    execution_timeout: 120s
skill_groups:
  research: [web-search]
`)
	r, err := Load(data)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	plan, ok := r.Get("plan")
	if !ok {
		t.Fatal("plan missing")
	}
	if len(plan.InputSchema) == 0 {
		t.Error("input_schema not converted to JSON")
	}

	browser, _ := r.Get("browser")
	if browser.ExecutionTimeout != 120*time.Second {
		t.Errorf("execution_timeout = %v", browser.ExecutionTimeout)
	}
	if browser.Layer != LayerDynamic {
		t.Errorf("default layer = %d, want %d", browser.Layer, LayerDynamic)
	}
	if got := r.Groups().Skills("research"); len(got) != 1 || got[0] != "web-search" {
		t.Errorf("groups = %v", got)
	}
}
