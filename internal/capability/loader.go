package capability

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// capabilityDoc mirrors one YAML entry. input_schema arrives as a YAML
// mapping and execution_timeout as a duration string; both are converted
// before the Capability is built.
type capabilityDoc struct {
	Capability       `yaml:",inline"`
	InputSchemaYAML  map[string]any `yaml:"input_schema"`
	ExecutionTimeout string         `yaml:"execution_timeout"`
}

type catalogDoc struct {
	Capabilities []capabilityDoc     `yaml:"capabilities"`
	SkillGroups  map[string][]string `yaml:"skill_groups"`
}

// LoadFile reads a capability catalog (config/skills.yaml shape) and builds
// the registry.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read capability catalog: %w", err)
	}
	return Load(data)
}

// Load parses catalog YAML into a registry.
func Load(data []byte) (*Registry, error) {
	var doc catalogDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse capability catalog: %w", err)
	}

	caps := make([]Capability, 0, len(doc.Capabilities))
	for i, entry := range doc.Capabilities {
		c := entry.Capability
		if entry.InputSchemaYAML != nil {
			schema, err := json.Marshal(entry.InputSchemaYAML)
			if err != nil {
				return nil, fmt.Errorf("capability %q: encode input_schema: %w", c.Name, err)
			}
			c.InputSchema = schema
		}
		if entry.ExecutionTimeout != "" {
			d, err := time.ParseDuration(entry.ExecutionTimeout)
			if err != nil {
				return nil, fmt.Errorf("capability %q: bad execution_timeout: %w", c.Name, err)
			}
			c.ExecutionTimeout = d
		}
		if c.Kind == "" {
			return nil, fmt.Errorf("capability at index %d (%q) has no kind", i, c.Name)
		}
		caps = append(caps, c)
	}

	return NewRegistry(caps, NewSkillGroups(doc.SkillGroups))
}
