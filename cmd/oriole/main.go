// Package main provides the CLI entry point for the Oriole agent runtime.
//
// Oriole runs a local-first conversational agent: messages stream through an
// intent classifier, a layered prompt pipeline, an LLM provider (Anthropic or
// OpenAI), and a tool executor, with conversations persisted to a per-instance
// SQLite database.
//
// # Basic Usage
//
// Run a single turn:
//
//	oriole run "summarize the notes in docs/" --config config.yaml
//
// Start an interactive session:
//
//	oriole chat --config config.yaml
//
// Scaffold a new instance:
//
//	oriole instance init --id my-agent --model claude-sonnet-4-20250514
//
// # Environment Variables
//
//   - ORIOLE_CONFIG: Path to the instance configuration file
//   - ANTHROPIC_API_KEY: Anthropic API key for Claude models
//   - OPENAI_API_KEY: OpenAI API key for GPT models and intent analysis
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information - populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "oriole",
		Short: "Oriole - local-first conversational agent runtime",
		Long: `Oriole runs a conversational agent against a local instance directory.

Supported LLM providers: Anthropic (Claude), OpenAI (GPT)
State lives under the instance data directory: SQLite conversation store,
compacted tool results, and filesystem snapshots.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildRunCmd(),
		buildChatCmd(),
		buildEventsCmd(),
		buildInstanceCmd(),
	)
	return rootCmd
}

// defaultConfigPath resolves the instance config path: flag value, then
// ORIOLE_CONFIG, then config.yaml in the working directory.
func defaultConfigPath() string {
	if p := os.Getenv("ORIOLE_CONFIG"); p != "" {
		return p
	}
	return "config.yaml"
}

// defaultUserConfigPath is ~/.oriole/config.yaml; a .json5 sibling is tried
// when the yaml file yields no providers.
func defaultUserConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return home + "/.oriole/config.yaml"
}
