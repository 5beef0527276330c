// Package prompt builds the layered system prompt for a turn: a per-instance
// cache of pre-rendered prompt tiers plus an injection pipeline that runs
// registered injectors across three phases and assembles the final message
// sequence.
package prompt

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/oriolane/oriole/internal/capability"
	"github.com/oriolane/oriole/pkg/models"
)

// RuntimeContext carries the instance-level prompt fragments and registry
// handles the phase-1 injectors consume. Initialized once at load and
// read-only afterwards.
type RuntimeContext struct {
	APIsPrompt        string
	FrameworkPrompt   string
	EnvironmentPrompt string
	SkillsPrompt      string

	Skills *capability.Registry
	Groups *capability.SkillGroups
}

// AgentSchema is the structured self-description rendered into the medium and
// complex tiers so the model knows its own operating envelope.
type AgentSchema struct {
	Name            string
	Model           string
	MaxTurns        int
	PlanningEnabled bool
	IntentEnabled   bool
}

// Cache holds the three pre-rendered system prompt tiers for one instance.
// Load is the single writer; every read happens under RLock after loading.
type Cache struct {
	mu      sync.RWMutex
	loaded  bool
	tiers   map[models.Complexity]string
	schema  AgentSchema
	runtime RuntimeContext
}

// NewCache returns an empty, unloaded cache.
func NewCache() *Cache {
	return &Cache{tiers: make(map[models.Complexity]string)}
}

// Load renders the three tiers from the instance's base prompt. Calling Load
// again replaces the previous render, which is how the prompt.md watcher
// applies hot reloads.
func (c *Cache) Load(basePrompt string, schema AgentSchema, rc RuntimeContext) error {
	if strings.TrimSpace(basePrompt) == "" {
		return fmt.Errorf("prompt: base prompt is empty")
	}

	tiers := map[models.Complexity]string{
		models.ComplexitySimple:  renderTier(models.ComplexitySimple, basePrompt, schema),
		models.ComplexityMedium:  renderTier(models.ComplexityMedium, basePrompt, schema),
		models.ComplexityComplex: renderTier(models.ComplexityComplex, basePrompt, schema),
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.tiers = tiers
	c.schema = schema
	c.runtime = rc
	c.loaded = true
	return nil
}

// LoadFromDir reads prompt.md and the optional api_desc fragments from the
// instance directory and renders the tiers.
func (c *Cache) LoadFromDir(instanceDir string, schema AgentSchema, rc RuntimeContext) error {
	base, err := os.ReadFile(filepath.Join(instanceDir, "prompt.md"))
	if err != nil {
		return fmt.Errorf("prompt: read prompt.md: %w", err)
	}
	if rc.APIsPrompt == "" {
		rc.APIsPrompt = readAPIDescriptions(filepath.Join(instanceDir, "api_desc"))
	}
	return c.Load(string(base), schema, rc)
}

// Loaded reports whether Load has completed at least once.
func (c *Cache) Loaded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loaded
}

// SystemPrompt returns the rendered prompt for the tier. Unknown tiers fall
// back to medium.
func (c *Cache) SystemPrompt(tier models.Complexity) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if p, ok := c.tiers[tier]; ok {
		return p
	}
	return c.tiers[models.ComplexityMedium]
}

// Schema returns the instance self-description.
func (c *Cache) Schema() AgentSchema {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.schema
}

// Runtime returns the instance-level runtime context.
func (c *Cache) Runtime() RuntimeContext {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.runtime
}

func renderTier(tier models.Complexity, base string, schema AgentSchema) string {
	var sb strings.Builder
	sb.WriteString(strings.TrimSpace(base))
	sb.WriteString("\n")

	switch tier {
	case models.ComplexitySimple:
		sb.WriteString("\nAnswer directly and concisely. Do not use tools unless strictly necessary.\n")
	case models.ComplexityComplex:
		sb.WriteString("\nThis is a multi-step task. Break it into a plan before acting, " +
			"verify each step's result before moving on, and report progress as you go.\n")
		sb.WriteString(renderSchema(schema))
	default:
		sb.WriteString("\nUse tools when they help. Keep the user informed of what you are doing.\n")
		sb.WriteString(renderSchema(schema))
	}
	return sb.String()
}

func renderSchema(schema AgentSchema) string {
	if schema.Name == "" && schema.Model == "" {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("\n<agent>\n")
	if schema.Name != "" {
		fmt.Fprintf(&sb, "name: %s\n", schema.Name)
	}
	if schema.Model != "" {
		fmt.Fprintf(&sb, "model: %s\n", schema.Model)
	}
	if schema.MaxTurns > 0 {
		fmt.Fprintf(&sb, "max_turns: %d\n", schema.MaxTurns)
	}
	fmt.Fprintf(&sb, "planning: %t\n", schema.PlanningEnabled)
	sb.WriteString("</agent>\n")
	return sb.String()
}

// readAPIDescriptions concatenates api_desc/*.md in name order. A missing
// directory is not an error.
func readAPIDescriptions(dir string) string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var parts []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".md" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		parts = append(parts, strings.TrimSpace(string(data)))
	}
	return strings.Join(parts, "\n\n")
}
