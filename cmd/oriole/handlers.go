package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/oriolane/oriole/internal/agent"
	"github.com/oriolane/oriole/internal/config"
	"github.com/oriolane/oriole/internal/storage"
	"github.com/oriolane/oriole/pkg/models"
)

// =============================================================================
// Run / Chat Handlers
// =============================================================================

func runRun(cmd *cobra.Command, configPath, userConfigPath, message, conversationID, userID string, jsonOut, showStats bool) error {
	rt, err := buildRuntime(configPath, userConfigPath, slog.Default())
	if err != nil {
		return err
	}
	defer rt.close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if conversationID == "" {
		conversationID = uuid.NewString()
	}
	stats, runErr := runTurn(ctx, cmd, rt, conversationID, userID, message, jsonOut)

	if !jsonOut {
		fmt.Fprintf(cmd.ErrOrStderr(), "\nconversation: %s\n", conversationID)
	}
	if showStats {
		printStats(cmd.ErrOrStderr(), stats)
	}
	return runErr
}

func runChat(cmd *cobra.Command, configPath, userConfigPath, conversationID, userID string) error {
	rt, err := buildRuntime(configPath, userConfigPath, slog.Default())
	if err != nil {
		return err
	}
	defer rt.close()

	if conversationID == "" {
		conversationID = uuid.NewString()
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "oriole chat — conversation %s (exit to quit)\n", conversationID)

	scanner := bufio.NewScanner(cmd.InOrStdin())
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "exit", "quit":
			return nil
		}

		// Interrupt cancels the current turn, not the session.
		ctx, stopSignals := signal.NotifyContext(cmd.Context(), os.Interrupt)
		rt.refresh()
		_, err := runTurn(ctx, cmd, rt, conversationID, userID, line, false)
		stopSignals()
		if err != nil && ctx.Err() == nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "turn failed: %v\n", err)
		}
		fmt.Fprintln(out)
	}
}

// runTurn drives one loop run while rendering its event stream.
func runTurn(ctx context.Context, cmd *cobra.Command, rt *runtime, conversationID, userID, message string, jsonOut bool) (agent.RunStats, error) {
	loop, err := rt.newLoop()
	if err != nil {
		return agent.RunStats{}, err
	}

	sessionID := uuid.NewString()
	sub := rt.events.Subscribe(sessionID)
	stats := agent.NewStatsCollector()
	render := &eventRenderer{out: cmd.OutOrStdout(), errOut: cmd.ErrOrStderr(), jsonOut: jsonOut}

	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for ev := range sub {
			stats.Observe(ev)
			render.observe(ev)
			if ev.Type == models.EventDone {
				return
			}
		}
	}()

	runErr := loop.Run(ctx, &agent.Session{
		SessionID:      sessionID,
		ConversationID: conversationID,
		UserID:         userID,
		InstanceID:     rt.cfg.Storage.InstanceID,
	}, message)
	<-drained
	return stats.Stats(sessionID), runErr
}

// eventRenderer turns the event stream into terminal output: assistant text
// to stdout, tool and lifecycle notes to stderr, or raw JSON lines.
type eventRenderer struct {
	out     io.Writer
	errOut  io.Writer
	jsonOut bool

	inThinking bool
}

func (r *eventRenderer) observe(ev *models.Event) {
	if r.jsonOut {
		data, err := json.Marshal(ev)
		if err != nil {
			return
		}
		fmt.Fprintln(r.out, string(data))
		return
	}

	switch ev.Type {
	case models.EventContentStart:
		block, ok := ev.Data["content_block"].(models.ContentBlock)
		if !ok {
			return
		}
		r.inThinking = block.Type == models.ContentBlockThinking
		if block.Type == models.ContentBlockToolUse {
			fmt.Fprintf(r.errOut, "[tool: %s]\n", block.ToolName)
		}
	case models.EventContentStop:
		r.inThinking = false
	case models.EventContentDelta:
		if r.inThinking {
			return
		}
		if delta, ok := ev.Data["delta"].(string); ok {
			fmt.Fprint(r.out, delta)
		}
	case models.EventMessageDelta:
		if ev.Data["type"] == string(models.DeltaProgress) {
			if msg, ok := ev.Data["content"].(string); ok {
				fmt.Fprintf(r.errOut, "[%s]\n", msg)
			}
		}
	case models.EventMessageStop:
		fmt.Fprintln(r.out)
	case models.EventSessionStopped:
		fmt.Fprintf(r.errOut, "[stopped: %v]\n", ev.Data["reason"])
	case models.EventError:
		fmt.Fprintf(r.errOut, "[error: %v]\n", ev.Data["error"])
	}
}

func printStats(w io.Writer, s agent.RunStats) {
	fmt.Fprintf(w, "status: %s  duration: %s  tokens: %d in / %d out  tools: %d  errors: %d\n",
		s.Status, s.Duration().Round(10*time.Millisecond), s.InputTokens, s.OutputTokens, s.ToolCalls, s.Errors)
}

// =============================================================================
// Events Handlers
// =============================================================================

func runEventsTail(cmd *cobra.Command, configPath, conversationID string, limit int, jsonOut bool) error {
	cfg, err := config.LoadInstance(configPath)
	if err != nil {
		return err
	}
	paths := storage.NewPaths(cfg.Storage.DataDir, cfg.Storage.InstanceID)
	store, err := storage.Open(paths.DBFile(), slog.Default())
	if err != nil {
		return err
	}
	defer store.Close()

	msgs, err := store.LoadMessages(cmd.Context(), conversationID)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "No messages for conversation: %s\n", conversationID)
		return nil
	}
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}

	out := cmd.OutOrStdout()
	if jsonOut {
		enc := json.NewEncoder(out)
		for i := range msgs {
			if err := enc.Encode(&msgs[i]); err != nil {
				return err
			}
		}
		return nil
	}

	for _, m := range msgs {
		ts := m.CreatedAt.Format("15:04:05")
		switch {
		case len(m.ToolResults) > 0:
			for _, res := range m.ToolResults {
				mark := ""
				if res.IsError {
					mark = fmt.Sprintf(" error=%s", res.ErrorType)
				}
				fmt.Fprintf(out, "%s  [%s]%s %s\n", ts, m.Role, mark, firstLineOf(res.Content))
			}
		case len(m.ToolCalls) > 0:
			for _, call := range m.ToolCalls {
				fmt.Fprintf(out, "%s  [%s] -> %s %s\n", ts, m.Role, call.Name, firstLineOf(string(call.Input)))
			}
			if m.Content != "" {
				fmt.Fprintf(out, "%s  [%s] %s\n", ts, m.Role, firstLineOf(m.Content))
			}
		default:
			fmt.Fprintf(out, "%s  [%s] %s\n", ts, m.Role, firstLineOf(m.Content))
		}
	}
	return nil
}

func firstLineOf(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i] + " …"
	}
	if len(s) > 160 {
		s = s[:160] + "…"
	}
	return s
}

// =============================================================================
// Instance Handlers
// =============================================================================

const starterSkills = `# Capability catalog. Edits are hot-reloaded.
capabilities:
  - name: current_time
    kind: tool
    provider: system
    description: Echoes the request so the model can note the local time.
    priority: 10

skill_groups: {}
`

func runInstanceInit(cmd *cobra.Command, dir, instanceID, model, dataDir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if !filepath.IsAbs(dataDir) {
		dataDir = filepath.Join(dir, dataDir)
	}

	starterConfig := fmt.Sprintf(`agent:
  name: %s
  model: %s
  intent_model: gpt-4o-mini
  planning: true
  intent: false
  max_tokens: 4096

capabilities:
  skills_file: skills.yaml

persona:
  prompt_file: prompt.md

storage:
  data_dir: %s
  instance_id: %s

compaction:
  threshold: 1500
  force_threshold: 500

snapshots:
  enabled: false
  auto_snapshot: false

limits:
  max_turns: 100
  max_duration_seconds: 1800
  idle_timeout_seconds: 120
`, instanceID, model, dataDir, instanceID)

	files := map[string]string{
		"config.yaml": starterConfig,
		"prompt.md":   defaultBasePrompt + "\n",
		"skills.yaml": starterSkills,
	}
	out := cmd.OutOrStdout()
	for _, name := range []string{"config.yaml", "prompt.md", "skills.yaml"} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			fmt.Fprintf(out, "exists, skipping: %s\n", path)
			continue
		}
		if err := os.WriteFile(path, []byte(files[name]), 0o644); err != nil {
			return err
		}
		fmt.Fprintf(out, "created: %s\n", path)
	}

	paths := storage.NewPaths(dataDir, instanceID)
	if err := paths.Ensure(); err != nil {
		return err
	}
	fmt.Fprintf(out, "data layout ready: %s\n", paths.Root)
	fmt.Fprintf(out, "\nNext: set ANTHROPIC_API_KEY (or OPENAI_API_KEY) and run\n  oriole run \"hello\" --config %s\n",
		filepath.Join(dir, "config.yaml"))
	return nil
}
