package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/oriolane/oriole/internal/config"
)

func TestBuildRootCmdIncludesSubcommands(t *testing.T) {
	cmd := buildRootCmd()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}

	required := []string{"run", "chat", "events", "instance"}
	for _, name := range required {
		if !names[name] {
			t.Fatalf("expected subcommand %q to be registered", name)
		}
	}
}

func TestInstanceInitScaffoldsLoadableConfig(t *testing.T) {
	dir := t.TempDir()

	cmd := buildRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"instance", "init", "--dir", dir, "--id", "t1", "--model", "gpt-4o"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("instance init: %v", err)
	}

	cfg, err := config.LoadInstance(filepath.Join(dir, "config.yaml"))
	if err != nil {
		t.Fatalf("scaffolded config does not load: %v", err)
	}
	if cfg.Agent.Model != "gpt-4o" || cfg.Storage.InstanceID != "t1" {
		t.Errorf("config = %+v", cfg.Agent)
	}

	// Re-running must not clobber existing files.
	cmd = buildRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"instance", "init", "--dir", dir, "--id", "other"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("second init: %v", err)
	}
	cfg, err = config.LoadInstance(filepath.Join(dir, "config.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Storage.InstanceID != "t1" {
		t.Error("existing config.yaml was overwritten")
	}
}
