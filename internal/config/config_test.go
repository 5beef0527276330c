package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadInstance_IncludeAndEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("ORIOLE_TEST_MODEL", "claude-sonnet-4-20250514")

	writeConfig(t, dir, "base.yaml", `
agent:
  name: base-agent
  model: ${ORIOLE_TEST_MODEL}
  planning: true
storage:
  data_dir: /tmp/data
  instance_id: base
`)
	main := writeConfig(t, dir, "config.yaml", `
$include: base.yaml
agent:
  name: overridden
storage:
  instance_id: inst1
`)

	cfg, err := LoadInstance(main)
	if err != nil {
		t.Fatalf("LoadInstance: %v", err)
	}
	if cfg.Agent.Name != "overridden" {
		t.Errorf("name = %q, including file should win", cfg.Agent.Name)
	}
	if cfg.Agent.Model != "claude-sonnet-4-20250514" {
		t.Errorf("model = %q, env not expanded", cfg.Agent.Model)
	}
	if !cfg.Agent.Planning {
		t.Error("nested include value lost in merge")
	}
	if cfg.Storage.InstanceID != "inst1" || cfg.Storage.DataDir != "/tmp/data" {
		t.Errorf("storage = %+v", cfg.Storage)
	}
}

func TestLoadInstance_IncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "a.yaml", "$include: b.yaml\n")
	path := writeConfig(t, dir, "b.yaml", "$include: a.yaml\n")

	if _, err := LoadInstance(path); err == nil {
		t.Error("include cycle not detected")
	}
}

func TestLoadInstance_UnknownFieldRejected(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.yaml", `
agent:
  model: m1
  no_such_knob: true
storage:
  data_dir: /tmp/d
  instance_id: i
`)
	if _, err := LoadInstance(path); err == nil {
		t.Error("unknown field accepted")
	}
}

func TestLoadInstance_MissingRequired(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.yaml", `
agent:
  model: m1
storage:
  data_dir: /tmp/d
`)
	if _, err := LoadInstance(path); err == nil {
		t.Error("missing instance_id accepted")
	}
}

func TestLoadUser_JSON5AndMissing(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.json5", `{
  // provider keys
  providers: {
    anthropic: {api_key: "sk-ant-test"},
    openai: {api_key: "sk-oa-test", base_url: "https://proxy.local/v1"},
  },
}`)

	cfg, err := LoadUser(path)
	if err != nil {
		t.Fatalf("LoadUser: %v", err)
	}
	if cfg.Key("anthropic") != "sk-ant-test" {
		t.Errorf("anthropic key = %q", cfg.Key("anthropic"))
	}
	if cfg.Providers["openai"].BaseURL != "https://proxy.local/v1" {
		t.Errorf("openai base url = %q", cfg.Providers["openai"].BaseURL)
	}

	empty, err := LoadUser(filepath.Join(dir, "nope.yaml"))
	if err != nil {
		t.Fatalf("missing user config errored: %v", err)
	}
	if empty.Key("anthropic") != "" {
		t.Error("missing config produced keys")
	}
}
