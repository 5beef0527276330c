// Package capability implements the read-only catalog of tools, skills, and
// code runners an instance may use. The registry is loaded once from
// declarative config and treated as immutable; filtering produces new
// registries rather than mutating the original.
package capability

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Kind classifies a capability.
type Kind string

const (
	KindTool  Kind = "tool"
	KindSkill Kind = "skill"
	KindCode  Kind = "code"
)

// Layers. Layer-1 (core) capabilities are always admitted regardless of the
// instance enable map; layer-2 capabilities load dynamically.
const (
	LayerCore    = 1
	LayerDynamic = 2
)

// Cost is a coarse declarative estimate used for adaptive ordering hints.
type Cost struct {
	Time  string `yaml:"time" json:"time,omitempty"`
	Money string `yaml:"money" json:"money,omitempty"`
}

// Constraints gate a capability's admissibility in a given context.
type Constraints struct {
	// RequiresAPI names an API that must be present in the context's
	// available set.
	RequiresAPI string `yaml:"requires_api" json:"requires_api,omitempty"`

	RequiresNetwork bool `yaml:"requires_network" json:"requires_network,omitempty"`
	RequiresAuth    bool `yaml:"requires_auth" json:"requires_auth,omitempty"`
	InternalUseOnly bool `yaml:"internal_use_only" json:"internal_use_only,omitempty"`
}

// Capability is one catalog entry.
type Capability struct {
	Name        string      `yaml:"name" json:"name"`
	Kind        Kind        `yaml:"kind" json:"kind"`
	Subtype     string      `yaml:"subtype" json:"subtype,omitempty"`
	Provider    string      `yaml:"provider" json:"provider,omitempty"`
	Description string      `yaml:"description" json:"description,omitempty"`
	Tags        []string    `yaml:"tags" json:"tags,omitempty"`
	Priority    int         `yaml:"priority" json:"priority"`
	Cost        Cost        `yaml:"cost" json:"cost,omitempty"`
	Constraints Constraints `yaml:"constraints" json:"constraints,omitempty"`

	// InputSchema is the JSON schema for tool input, when declared.
	InputSchema json.RawMessage `yaml:"-" json:"input_schema,omitempty"`

	// FallbackTool names a tool used for models without native skill
	// support. Only meaningful for skills.
	FallbackTool string `yaml:"fallback_tool" json:"fallback_tool,omitempty"`

	// SkillPath points at the skill's prompt/workflow document.
	SkillPath string `yaml:"skill_path" json:"skill_path,omitempty"`

	// Layer is LayerCore or LayerDynamic.
	Layer int `yaml:"layer" json:"layer"`

	// CacheStable marks the capability's prompt contribution as safe for
	// stable cache layers.
	CacheStable bool `yaml:"cache_stable" json:"cache_stable"`

	// ExecutionTimeout overrides the executor's default per-tool deadline.
	ExecutionTimeout time.Duration `yaml:"-" json:"execution_timeout,omitempty"`

	// SerialOnly excludes the tool from parallel dispatch.
	SerialOnly bool `yaml:"serial_only" json:"serial_only,omitempty"`

	// HITLConfirm marks tools whose frontend contract requires a close
	// prompt delta on timeout or cancellation.
	HITLConfirm bool `yaml:"hitl_confirm" json:"hitl_confirm,omitempty"`
}

// ConstraintContext carries the runtime facts constraint evaluation needs.
type ConstraintContext struct {
	AvailableAPIs []string
	HasNetwork    bool
	Authenticated bool
	Internal      bool
}

// Admissible reports whether the capability's constraints hold in ctx.
func (c *Capability) Admissible(ctx ConstraintContext) bool {
	if c.Constraints.RequiresAPI != "" {
		found := false
		for _, api := range ctx.AvailableAPIs {
			if api == c.Constraints.RequiresAPI {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if c.Constraints.RequiresNetwork && !ctx.HasNetwork {
		return false
	}
	if c.Constraints.RequiresAuth && !ctx.Authenticated {
		return false
	}
	if c.Constraints.InternalUseOnly && !ctx.Internal {
		return false
	}
	return true
}

// HasTag reports whether the capability carries the tag.
func (c *Capability) HasTag(tag string) bool {
	for _, t := range c.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// ToolSchema is the projection of a capability usable by an LLM API.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// Registry is the immutable capability catalog.
type Registry struct {
	byName map[string]*Capability
	order  []string
	groups *SkillGroups
}

// NewRegistry builds a registry from capabilities. Duplicate names fail.
func NewRegistry(caps []Capability, groups *SkillGroups) (*Registry, error) {
	r := &Registry{
		byName: make(map[string]*Capability, len(caps)),
		groups: groups,
	}
	if r.groups == nil {
		r.groups = NewSkillGroups(nil)
	}
	for i := range caps {
		c := caps[i]
		if c.Name == "" {
			return nil, fmt.Errorf("capability at index %d has no name", i)
		}
		if _, dup := r.byName[c.Name]; dup {
			return nil, fmt.Errorf("duplicate capability name: %s", c.Name)
		}
		if c.Layer == 0 {
			c.Layer = LayerDynamic
		}
		r.byName[c.Name] = &c
		r.order = append(r.order, c.Name)
	}
	return r, nil
}

// Get returns a capability by name.
func (r *Registry) Get(name string) (*Capability, bool) {
	c, ok := r.byName[name]
	return c, ok
}

// All returns every capability in load order.
func (r *Registry) All() []*Capability {
	out := make([]*Capability, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name])
	}
	return out
}

// FindByTag returns capabilities carrying the tag, in load order.
func (r *Registry) FindByTag(tag string) []*Capability {
	var out []*Capability
	for _, name := range r.order {
		if c := r.byName[name]; c.HasTag(tag) {
			out = append(out, c)
		}
	}
	return out
}

// FindByKind returns capabilities of the given kind, in load order.
func (r *Registry) FindByKind(kind Kind) []*Capability {
	var out []*Capability
	for _, name := range r.order {
		if c := r.byName[name]; c.Kind == kind {
			out = append(out, c)
		}
	}
	return out
}

// FindByLayer returns capabilities on the given layer, in load order.
func (r *Registry) FindByLayer(layer int) []*Capability {
	var out []*Capability
	for _, name := range r.order {
		if c := r.byName[name]; c.Layer == layer {
			out = append(out, c)
		}
	}
	return out
}

// FilterByEnabled returns a new registry keeping capabilities whose name maps
// to true in enabled. Layer-1 capabilities are always kept: core tools cannot
// be configured away.
func (r *Registry) FilterByEnabled(enabled map[string]bool) *Registry {
	out := &Registry{
		byName: make(map[string]*Capability),
		groups: r.groups,
	}
	for _, name := range r.order {
		c := r.byName[name]
		if c.Layer == LayerCore || enabled[name] {
			out.byName[name] = c
			out.order = append(out.order, name)
		}
	}
	return out
}

// ToolSchemas projects every tool-kind capability for an LLM API, sorted by
// descending priority then name for a stable prompt ordering.
func (r *Registry) ToolSchemas() []ToolSchema {
	tools := r.FindByKind(KindTool)
	sort.SliceStable(tools, func(i, j int) bool {
		if tools[i].Priority != tools[j].Priority {
			return tools[i].Priority > tools[j].Priority
		}
		return tools[i].Name < tools[j].Name
	})
	out := make([]ToolSchema, 0, len(tools))
	for _, c := range tools {
		schema := c.InputSchema
		if len(schema) == 0 {
			schema = json.RawMessage(`{"type":"object"}`)
		}
		out = append(out, ToolSchema{
			Name:        c.Name,
			Description: c.Description,
			InputSchema: schema,
		})
	}
	return out
}

// SerialOnlyTools returns the set of tools excluded from parallel dispatch.
// Read once at loop start-up.
func (r *Registry) SerialOnlyTools() map[string]bool {
	out := map[string]bool{}
	for _, name := range r.order {
		if r.byName[name].SerialOnly {
			out[name] = true
		}
	}
	return out
}

// Groups exposes the skill-group registry loaded with the catalog.
func (r *Registry) Groups() *SkillGroups { return r.groups }

// SkillGroups maps group names to member skills and back. Used by the prompt
// pipeline to reverse-map a plan's required skills onto groups.
type SkillGroups struct {
	byGroup map[string][]string
	bySkill map[string][]string
}

// NewSkillGroups builds the two-way mapping.
func NewSkillGroups(byGroup map[string][]string) *SkillGroups {
	g := &SkillGroups{
		byGroup: make(map[string][]string, len(byGroup)),
		bySkill: make(map[string][]string),
	}
	for group, skills := range byGroup {
		members := make([]string, len(skills))
		copy(members, skills)
		g.byGroup[group] = members
		for _, s := range skills {
			g.bySkill[s] = append(g.bySkill[s], group)
		}
	}
	return g
}

// Skills returns the member skills of a group.
func (g *SkillGroups) Skills(group string) []string {
	return g.byGroup[group]
}

// GroupNames returns all group names, sorted.
func (g *SkillGroups) GroupNames() []string {
	out := make([]string, 0, len(g.byGroup))
	for name := range g.byGroup {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// GroupsForSkill returns the groups a skill belongs to.
func (g *SkillGroups) GroupsForSkill(skill string) []string {
	return g.bySkill[skill]
}

// GroupsForSkills unions the groups of several skills, sorted and deduped.
func (g *SkillGroups) GroupsForSkills(skills []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range skills {
		for _, grp := range g.bySkill[s] {
			if !seen[grp] {
				seen[grp] = true
				out = append(out, grp)
			}
		}
	}
	sort.Strings(out)
	return out
}
