package main

import (
	"github.com/spf13/cobra"
)

// =============================================================================
// Run / Chat Commands
// =============================================================================

func buildRunCmd() *cobra.Command {
	var (
		configPath     string
		userConfigPath string
		conversationID string
		userID         string
		jsonOut        bool
		showStats      bool
	)
	cmd := &cobra.Command{
		Use:   "run <message>",
		Short: "Run a single agent turn",
		Long: `Run one user message through the agent loop and stream the response.

With --json every event of the session is printed as one JSON object per
line, in sequence order. Without it, assistant text streams to stdout and
tool activity is summarized on stderr.`,
		Example: `  # Stream a response
  oriole run "what changed in the last release?"

  # Continue an existing conversation
  oriole run "and before that?" --conversation c-42

  # Emit the raw event stream for a frontend
  oriole run "build the report" --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd, configPath, userConfigPath, args[0], conversationID, userID, jsonOut, showStats)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to instance configuration file")
	cmd.Flags().StringVar(&userConfigPath, "user-config", defaultUserConfigPath(), "Path to user-global configuration (API keys)")
	cmd.Flags().StringVar(&conversationID, "conversation", "", "Conversation ID to continue (new one when empty)")
	cmd.Flags().StringVar(&userID, "user", "local", "User ID attached to the session")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the raw event stream as JSON lines")
	cmd.Flags().BoolVar(&showStats, "stats", false, "Print token and timing stats after the turn")
	return cmd
}

func buildChatCmd() *cobra.Command {
	var (
		configPath     string
		userConfigPath string
		conversationID string
		userID         string
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		Long: `Read messages from stdin and run each through the agent loop.

The whole session shares one conversation, so plans and history carry
across turns. Type "exit" or press Ctrl-D to leave.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, configPath, userConfigPath, conversationID, userID)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to instance configuration file")
	cmd.Flags().StringVar(&userConfigPath, "user-config", defaultUserConfigPath(), "Path to user-global configuration (API keys)")
	cmd.Flags().StringVar(&conversationID, "conversation", "", "Conversation ID to resume (new one when empty)")
	cmd.Flags().StringVar(&userID, "user", "local", "User ID attached to the session")
	return cmd
}

// =============================================================================
// Events Commands
// =============================================================================

func buildEventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Inspect persisted conversation activity",
	}
	cmd.AddCommand(buildEventsTailCmd())
	return cmd
}

func buildEventsTailCmd() *cobra.Command {
	var (
		configPath     string
		conversationID string
		limit          int
		jsonOut        bool
	)
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show the tail of a persisted conversation transcript",
		Long: `Print the most recent messages of a conversation from the instance store.

Live session events are held in process memory and stream through
"oriole run --json"; this command reads the durable transcript that
survives restarts.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEventsTail(cmd, configPath, conversationID, limit, jsonOut)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to instance configuration file")
	cmd.Flags().StringVar(&conversationID, "conversation", "", "Conversation ID to tail (required)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of messages to show")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print messages as JSON lines")
	_ = cmd.MarkFlagRequired("conversation")
	return cmd
}

// =============================================================================
// Instance Commands
// =============================================================================

func buildInstanceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "instance",
		Short: "Manage instance directories",
	}
	cmd.AddCommand(buildInstanceInitCmd())
	return cmd
}

func buildInstanceInitCmd() *cobra.Command {
	var (
		dir        string
		instanceID string
		model      string
		dataDir    string
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Scaffold a new instance directory",
		Long: `Create a starter config.yaml, prompt.md, and skills.yaml, plus the
instance data layout (SQLite store, tool-result spill, snapshots).`,
		Example: `  oriole instance init --id my-agent --model claude-sonnet-4-20250514`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInstanceInit(cmd, dir, instanceID, model, dataDir)
		},
	}
	cmd.Flags().StringVar(&dir, "dir", ".", "Directory to scaffold into")
	cmd.Flags().StringVar(&instanceID, "id", "default", "Instance ID")
	cmd.Flags().StringVar(&model, "model", "claude-sonnet-4-20250514", "Primary model")
	cmd.Flags().StringVar(&dataDir, "data-dir", "data", "Data directory (relative to --dir when not absolute)")
	return cmd
}
