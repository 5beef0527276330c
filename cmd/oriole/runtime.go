package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/oriolane/oriole/internal/agent"
	"github.com/oriolane/oriole/internal/capability"
	"github.com/oriolane/oriole/internal/compactor"
	"github.com/oriolane/oriole/internal/config"
	"github.com/oriolane/oriole/internal/events"
	"github.com/oriolane/oriole/internal/intent"
	"github.com/oriolane/oriole/internal/observability"
	"github.com/oriolane/oriole/internal/plan"
	"github.com/oriolane/oriole/internal/prompt"
	"github.com/oriolane/oriole/internal/providers"
	"github.com/oriolane/oriole/internal/snapshot"
	"github.com/oriolane/oriole/internal/storage"
)

// defaultBasePrompt serves instances that have not written a prompt.md yet.
const defaultBasePrompt = `You are a capable, careful assistant. Work through the
user's request step by step, use the available tools when they help, and keep
your answers grounded in what the tools actually returned.`

// runtime is the composition root: everything a session needs, wired from the
// instance and user configuration.
type runtime struct {
	cfg        *config.InstanceConfig
	user       *config.UserConfig
	logger     *slog.Logger
	configPath string

	paths    storage.Paths
	store    *storage.Store
	events   *events.Store
	bc       *events.Broadcaster
	metrics  *observability.Metrics
	comp     *compactor.Compactor
	plans    *plan.Manager
	snaps    *snapshot.Manager
	provider providers.Provider
	analyzer *intent.Analyzer
	injector *prompt.Orchestrator
	cache    *prompt.Cache

	// watcher hot-reloads the capability catalog; static serves instances
	// without a skills file.
	watcher     *capability.Watcher
	static      *capability.Registry
	watchCancel context.CancelFunc
}

func buildRuntime(configPath, userConfigPath string, logger *slog.Logger) (*runtime, error) {
	cfg, err := config.LoadInstance(configPath)
	if err != nil {
		return nil, err
	}
	user, err := loadUserConfig(userConfigPath)
	if err != nil {
		return nil, err
	}

	rt := &runtime{cfg: cfg, user: user, logger: logger, configPath: configPath}
	rt.metrics = observability.NewMetrics(prometheus.NewRegistry())

	rt.paths = storage.NewPaths(cfg.Storage.DataDir, cfg.Storage.InstanceID)
	if err := rt.paths.Ensure(); err != nil {
		return nil, err
	}
	rt.store, err = storage.Open(rt.paths.DBFile(), logger)
	if err != nil {
		return nil, err
	}

	rt.events = events.NewStore(0, logger, rt.metrics)
	rt.bc = events.NewBroadcaster(rt.events, nil, logger)

	if err := rt.initCapabilities(configPath); err != nil {
		rt.close()
		return nil, err
	}

	rt.comp, err = compactor.New(compactor.Config{
		Dir:            rt.paths.ToolResults(),
		Threshold:      cfg.Compaction.Threshold,
		ForceThreshold: cfg.Compaction.ForceThreshold,
	}, logger, rt.metrics)
	if err != nil {
		rt.close()
		return nil, err
	}

	rt.plans = plan.NewManager(rt.store, logger)

	if cfg.Snapshots.Enabled {
		workDir, err := os.Getwd()
		if err != nil {
			rt.close()
			return nil, err
		}
		rt.snaps, err = snapshot.New(snapshot.Config{
			Dir:           rt.paths.SnapshotsDir(),
			WorkDir:       workDir,
			MaxTotalBytes: cfg.Snapshots.MaxTotalMB << 20,
			FailureLimit:  cfg.Snapshots.FailureLimit,
			AutoSnapshot:  cfg.Snapshots.AutoSnapshot,
		}, rt.bc, logger)
		if err != nil {
			rt.close()
			return nil, err
		}
	}

	rt.provider, err = buildProvider(cfg, user)
	if err != nil {
		rt.close()
		return nil, err
	}

	if cfg.Agent.Intent {
		key := providerKey(user, "openai", "OPENAI_API_KEY")
		if key == "" {
			logger.Warn("intent analysis enabled but no openai key configured, using default intent")
		} else {
			rt.analyzer, err = intent.New(intent.Config{
				APIKey:  key,
				BaseURL: user.Providers["openai"].BaseURL,
				Model:   cfg.Agent.IntentModel,
			}, rt.capabilities(), logger)
			if err != nil {
				rt.close()
				return nil, err
			}
		}
	}

	rt.cache = prompt.NewCache()
	if err := rt.reloadPrompt(configPath); err != nil {
		rt.close()
		return nil, err
	}

	rt.injector = prompt.NewOrchestrator(logger)
	rt.injector.Register(prompt.NewRoleInjector("", nil))
	rt.injector.Register(prompt.NewToolProviderInjector())
	rt.injector.Register(prompt.SkillFocusInjector{})
	rt.injector.Register(prompt.HistorySummaryInjector{})
	rt.injector.Register(prompt.NewUserMemoryInjector(nil))
	rt.injector.Register(prompt.NewGTDTodoInjector(plan.Format))
	rt.injector.Register(prompt.PageEditorInjector{})

	return rt, nil
}

// initCapabilities loads the catalog, starting the hot-reload watcher when a
// skills file is configured. Relative paths resolve against the config file.
func (rt *runtime) initCapabilities(configPath string) error {
	file := rt.cfg.Capabilities.SkillsFile
	if file == "" {
		reg, err := capability.NewRegistry(nil, capability.NewSkillGroups(nil))
		if err != nil {
			return err
		}
		rt.static = reg
		return nil
	}
	if !filepath.IsAbs(file) {
		file = filepath.Join(filepath.Dir(configPath), file)
	}

	w, err := capability.NewWatcher(file, rt.logger)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	rt.watcher = w
	rt.watchCancel = cancel
	go w.Run(ctx)
	return nil
}

// capabilities returns the current catalog snapshot with the enable map
// applied.
func (rt *runtime) capabilities() *capability.Registry {
	reg := rt.static
	if rt.watcher != nil {
		reg = rt.watcher.Current()
	}
	if len(rt.cfg.Capabilities.Enabled) > 0 {
		reg = reg.FilterByEnabled(rt.cfg.Capabilities.Enabled)
	}
	return reg
}

// reloadPrompt (re)renders the prompt tiers from the persona files and the
// current capability snapshot. Called at startup and before each turn so
// edits to prompt.md and skills.yaml land without a restart.
func (rt *runtime) reloadPrompt(configPath string) error {
	base := defaultBasePrompt
	if f := rt.cfg.Persona.PromptFile; f != "" {
		if !filepath.IsAbs(f) {
			f = filepath.Join(filepath.Dir(configPath), f)
		}
		data, err := os.ReadFile(f)
		if err != nil {
			return fmt.Errorf("read persona prompt: %w", err)
		}
		base = string(data)
	}

	caps := rt.capabilities()
	schema := prompt.AgentSchema{
		Name:            rt.cfg.Agent.Name,
		Model:           rt.cfg.Agent.Model,
		MaxTurns:        rt.terminatorConfig().MaxTurns,
		PlanningEnabled: rt.cfg.Agent.Planning,
		IntentEnabled:   rt.cfg.Agent.Intent,
	}
	rc := prompt.RuntimeContext{
		Skills: caps,
		Groups: caps.Groups(),
	}
	if d := rt.cfg.Persona.APIDescDir; d != "" {
		if !filepath.IsAbs(d) {
			d = filepath.Join(filepath.Dir(configPath), d)
		}
		rc.APIsPrompt = readMarkdownDir(d)
	}
	return rt.cache.Load(base, schema, rc)
}

// refresh re-renders the prompt tiers before a turn so persona and catalog
// edits apply without a restart. Failures keep the previous render.
func (rt *runtime) refresh() {
	if err := rt.reloadPrompt(rt.configPath); err != nil {
		rt.logger.Warn("prompt reload failed, keeping previous render", "error", err)
	}
}

// newLoop assembles an agent loop over the current capability snapshot.
func (rt *runtime) newLoop() (*agent.Loop, error) {
	registry := agent.NewToolRegistry(rt.capabilities())
	if rt.cfg.Agent.Planning {
		if err := registry.RegisterTool(plan.NewTool(rt.plans)); err != nil {
			return nil, err
		}
	}

	executor := agent.NewExecutor(registry, rt.comp, nil, rt.logger, rt.metrics, agent.ExecutorConfig{})

	var guard agent.StateGuard
	if rt.snaps != nil {
		guard = rt.snaps
	}
	var analyzer agent.IntentAnalyzer
	if rt.analyzer != nil {
		analyzer = rt.analyzer
	}

	return agent.NewLoop(agent.LoopDeps{
		Provider:    rt.provider,
		Executor:    executor,
		Injector:    rt.injector,
		Cache:       rt.cache,
		Intent:      analyzer,
		Plans:       rt.plans,
		Transcript:  rt.store,
		Guard:       guard,
		Broadcaster: rt.bc,
		Logger:      rt.logger,
	}, agent.LoopConfig{
		Model:                rt.cfg.Agent.Model,
		MaxTokens:            rt.cfg.Agent.MaxTokens,
		ThinkingBudgetTokens: rt.cfg.Agent.ThinkingBudgetTokens,
		EnableIntent:         rt.analyzer != nil,
		EnablePlanning:       rt.cfg.Agent.Planning,
		Terminator:           rt.terminatorConfig(),
	})
}

func (rt *runtime) terminatorConfig() agent.TerminatorConfig {
	l := rt.cfg.Limits
	return agent.TerminatorConfig{
		MaxTurns:                     l.MaxTurns,
		MaxDuration:                  l.MaxDuration(),
		IdleTimeout:                  l.IdleTimeout(),
		ConsecutiveFailureLimit:      l.ConsecutiveFailures,
		LongRunningConfirmAfterTurns: l.LongRunningTurns,
	}
}

func (rt *runtime) close() {
	if rt.watchCancel != nil {
		rt.watchCancel()
	}
	if rt.snaps != nil {
		if err := rt.snaps.Close(); err != nil {
			rt.logger.Warn("snapshot lock release failed", "error", err)
		}
	}
	if rt.store != nil {
		if err := rt.store.Close(); err != nil {
			rt.logger.Warn("store close failed", "error", err)
		}
	}
}

// buildProvider selects the LLM backend from the model name: claude models go
// to Anthropic, everything else to the OpenAI-compatible client.
func buildProvider(cfg *config.InstanceConfig, user *config.UserConfig) (providers.Provider, error) {
	model := cfg.Agent.Model
	if strings.HasPrefix(model, "claude") {
		key := providerKey(user, "anthropic", "ANTHROPIC_API_KEY")
		if key == "" {
			return nil, fmt.Errorf("model %q needs an anthropic API key (user config or ANTHROPIC_API_KEY)", model)
		}
		return providers.NewAnthropic(providers.AnthropicConfig{
			APIKey:  key,
			BaseURL: user.Providers["anthropic"].BaseURL,
		})
	}

	key := providerKey(user, "openai", "OPENAI_API_KEY")
	if key == "" {
		return nil, fmt.Errorf("model %q needs an openai API key (user config or OPENAI_API_KEY)", model)
	}
	return providers.NewOpenAI(providers.OpenAIConfig{
		APIKey:  key,
		BaseURL: user.Providers["openai"].BaseURL,
	})
}

func providerKey(user *config.UserConfig, provider, envVar string) string {
	if k := user.Key(provider); k != "" {
		return k
	}
	return os.Getenv(envVar)
}

// loadUserConfig reads the user-global config, falling back to a .json5
// sibling when the yaml file does not exist.
func loadUserConfig(path string) (*config.UserConfig, error) {
	if path == "" {
		return &config.UserConfig{}, nil
	}
	cfg, err := config.LoadUser(path)
	if err != nil {
		return nil, err
	}
	if len(cfg.Providers) == 0 && strings.HasSuffix(path, ".yaml") {
		alt := strings.TrimSuffix(path, ".yaml") + ".json5"
		if _, statErr := os.Stat(alt); statErr == nil {
			return config.LoadUser(alt)
		}
	}
	return cfg, nil
}

// readMarkdownDir concatenates the .md files of a directory in name order.
func readMarkdownDir(dir string) string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".md") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var parts []string
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		parts = append(parts, strings.TrimSpace(string(data)))
	}
	return strings.Join(parts, "\n\n")
}
