// Binary tern is an agentic coding assistant: it drives an LLM turn loop
// with tool execution, persistent project sessions and cost tracking.
//
// Usage:
//
//	tern run [--prompt STR] [--resume ID] [--model NAME] [--config PATH]
//	tern projects
//
// Exit codes: 0 normal, 2 invalid arguments or config, 130 cancelled, 1
// fatal engine error.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/tern-dev/tern/pkg/ai"
	"github.com/tern-dev/tern/pkg/ai/models"
	"github.com/tern-dev/tern/pkg/ai/providers/anthropic"
	"github.com/tern-dev/tern/pkg/ai/providers/bedrock"
	"github.com/tern-dev/tern/pkg/ai/providers/openai"
	"github.com/tern-dev/tern/pkg/bus"
	"github.com/tern-dev/tern/pkg/convo"
	"github.com/tern-dev/tern/pkg/engine"
	"github.com/tern-dev/tern/pkg/policy"
	"github.com/tern-dev/tern/pkg/project"
	"github.com/tern-dev/tern/pkg/runlog"
	"github.com/tern-dev/tern/pkg/tasks"
	"github.com/tern-dev/tern/pkg/tools"
	"github.com/tern-dev/tern/pkg/tools/builtin"
)

func main() {
	// Secrets and provider keys may live in a local .env.
	_ = godotenv.Load()

	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "tern: %v\n", err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	switch engine.KindOf(err) {
	case engine.KindInput:
		return 2
	case engine.KindCancelled:
		return 130
	}
	return 1
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "tern",
		Short:         "tern is an agentic coding assistant",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "tern.yaml", "path to config file")
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return engine.E(engine.KindInput, err)
	})

	root.AddCommand(newRunCmd(&configPath))
	root.AddCommand(newProjectsCmd(&configPath))
	return root
}

func newProjectsCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "projects",
		Short: "List stored projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := engine.LoadConfig(*configPath)
			if err != nil {
				return engine.E(engine.KindInput, err)
			}
			metas, err := project.List(expandHome(cfg.ProjectsDir))
			if err != nil {
				return err
			}
			if len(metas) == 0 {
				fmt.Println("[no projects]")
				return nil
			}
			for _, m := range metas {
				fmt.Printf("%s  %-40s  %s\n", m.ID, truncate(m.Title, 40), m.UpdatedAt.Format("2006-01-02 15:04"))
			}
			return nil
		},
	}
}

func newRunCmd(configPath *string) *cobra.Command {
	var (
		prompt string
		resume string
		model  string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the agent, one-shot with --prompt or interactively",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := engine.LoadConfig(*configPath)
			if err != nil {
				return engine.E(engine.KindInput, err)
			}
			if model != "" {
				cfg.Model = model
			}
			return runAgent(cfg, prompt, resume)
		},
	}
	cmd.Flags().StringVar(&prompt, "prompt", "", "one-shot prompt (skips the interactive loop)")
	cmd.Flags().StringVar(&resume, "resume", "", "project id (or unique prefix) to resume")
	cmd.Flags().StringVar(&model, "model", "", "override the configured model")
	return cmd
}

func runAgent(cfg *engine.FileConfig, prompt, resume string) error {
	provider, err := buildProvider(cfg)
	if err != nil {
		return engine.E(engine.KindInput, err)
	}

	base := expandHome(cfg.ProjectsDir)
	var proj *project.Store
	var resumed []ai.Message
	if resume != "" {
		proj, err = project.Open(base, resume)
		if err != nil {
			return engine.E(engine.KindInput, err)
		}
		msgs, skipped, err := proj.LoadMessages()
		if err != nil {
			return err
		}
		if skipped > 0 {
			fmt.Fprintf(os.Stderr, "[warn] skipped %d malformed context lines\n", skipped)
		}
		resumed = msgs
		fmt.Printf("[tern] resumed project %s (%d messages)\n", proj.ID(), len(resumed))
	} else {
		title := prompt
		if title == "" {
			title = "interactive session"
		}
		proj, err = project.Create(base, truncate(title, 60))
		if err != nil {
			// The agent still works without persistence.
			fmt.Fprintf(os.Stderr, "[warn] could not create project: %v\n", err)
			proj = nil
		} else {
			fmt.Printf("[tern] project %s\n", proj.ID())
		}
	}
	if proj != nil {
		defer proj.Close()
	}

	workspace := cfg.Tools.Workspace
	if workspace == "." && proj != nil {
		workspace = proj.Workspace()
	}

	log, err := buildRunlog(cfg)
	if err != nil {
		return err
	}
	defer log.Close()
	logger := log.Slog()

	taskMgr := tasks.NewManager(logger)
	defer taskMgr.StopAll()

	preset, err := builtin.ParsePreset(cfg.Tools.Preset)
	if err != nil {
		return engine.E(engine.KindInput, err)
	}
	registry := tools.NewRegistry()
	if err := builtin.Register(registry, preset, builtin.Deps{
		Workspace: workspace,
		Tasks:     taskMgr,
		Logger:    logger,
	}); err != nil {
		return err
	}

	var plugins []*tools.Plugin
	defer func() {
		for _, p := range plugins {
			p.Close()
		}
	}()
	for _, path := range cfg.Tools.Plugins {
		p, err := tools.LoadPlugin(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[warn] plugin %s: %v\n", path, err)
			continue
		}
		if err := registry.Register(p.Tool()); err != nil {
			fmt.Fprintf(os.Stderr, "[warn] plugin %s: %v\n", path, err)
			p.Close()
			continue
		}
		plugins = append(plugins, p)
		fmt.Printf("[tern] loaded plugin: %s\n", p.Tool().Name)
	}

	ref := &engine.EngineRef{}
	for _, t := range engine.SpawnTools(ref) {
		if err := registry.Register(t); err != nil {
			return err
		}
	}

	mode := policy.ParseMode(cfg.Policy.Mode)

	var persist convo.Persistence
	if proj != nil {
		persist = proj
	}
	store := convo.New(convo.Options{
		SystemPrompt: systemPrompt(cfg, workspace, registry.Names()),
		Persistence:  persist,
		Logger:       logger,
	})
	if len(resumed) > 0 {
		store.Replace(resumed)
	}

	ecfg := engine.Config{
		Provider:  provider,
		Model:     cfg.Model,
		Workspace: workspace,
		Store:     store,
		Registry:  registry,
		Tasks:     taskMgr,
		Policy: &policy.RuleSet{
			Deny:           cfg.Policy.Deny,
			Allow:          cfg.Policy.Allow,
			MaxOutputBytes: cfg.Policy.MaxOutputBytes,
		},
		PolicyMode: mode,
		Log:        log,
		Options: engine.Options{
			MaxSteps:            cfg.MaxSteps,
			MaxTokens:           cfg.MaxTokens,
			Temperature:         cfg.Temperature,
			ProviderRetries:     cfg.ProviderRetries,
			CompactionEnabled:   cfg.Compaction.Enabled == nil || *cfg.Compaction.Enabled,
			CompactionThreshold: cfg.Compaction.Threshold,
			KeepRecent:          cfg.Compaction.KeepRecent,
			Logger:              logger,
		},
	}
	if proj != nil {
		ecfg.Sink = proj
		ecfg.Options.SessionID = proj.ID()
	}
	e, err := engine.New(ecfg)
	if err != nil {
		return err
	}
	ref.SetEngine(e)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		for range sigCh {
			e.Cancel()
		}
	}()

	if prompt != "" {
		return runOneTurn(e, prompt)
	}
	return interactiveLoop(e, cfg)
}

// runOneTurn streams one turn to the terminal and maps its outcome to the
// process exit contract.
func runOneTurn(e *engine.Engine, prompt string) error {
	ch, err := e.StreamTurn(context.Background(), prompt)
	if err != nil {
		return err
	}
	reason := renderEvents(ch)
	printCost(e)
	if reason == bus.ReasonCancelled {
		return engine.Errorf(engine.KindCancelled, "turn cancelled")
	}
	if reason == bus.ReasonError {
		return engine.Errorf(engine.KindProvider, "turn failed; see output above")
	}
	return nil
}

func interactiveLoop(e *engine.Engine, cfg *engine.FileConfig) error {
	fmt.Printf("[tern] model=%s tools=%s\n", cfg.Model, strings.Join(e.Registry().Names(), ","))
	fmt.Println(`[tern] type a prompt and press enter. Commands: /cost /model /snapshot exit`)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			fmt.Println()
			return nil
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		switch strings.ToLower(line) {
		case "exit", "quit":
			return nil
		case "/cost":
			printCost(e)
			continue
		case "/model":
			info := models.Lookup(cfg.Model)
			if info == nil {
				fmt.Printf("[model] %s (not in catalogue)\n", cfg.Model)
			} else {
				fmt.Printf("[model] %s — context=%d out=%d in=$%.2f/1M out=$%.2f/1M\n",
					info.ID, info.ContextWindow, info.MaxOutputTokens,
					info.InputCostPer1M, info.OutputCostPer1M)
			}
			continue
		case "/snapshot":
			id := e.Store().Snapshot("manual")
			fmt.Printf("[snapshot] %s (%d messages)\n", id, e.Store().Len())
			continue
		}

		ch, err := e.StreamTurn(context.Background(), line)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}
		if reason := renderEvents(ch); reason == bus.ReasonCancelled {
			fmt.Println("\n[cancelled]")
		}
	}
}

// renderEvents prints the event stream until it closes and returns the done
// reason.
func renderEvents(ch <-chan bus.Event) string {
	reason := bus.ReasonStop
	for ev := range ch {
		switch ev.Type {
		case bus.EventTextDelta:
			fmt.Print(ev.Text)
		case bus.EventText:
			fmt.Println()
		case bus.EventToolCall:
			fmt.Printf("[tool] %s %s\n", ev.ToolName, truncate(ev.ToolArgs, 100))
		case bus.EventToolProgress:
			fmt.Printf("[tool] %s: %s\n", ev.ToolName, ev.Progress)
		case bus.EventToolResult:
			status := "ok"
			if ev.IsError {
				status = "error"
			}
			if ev.CacheHit {
				status += " (cached)"
			}
			fmt.Printf("[tool] %s → %s\n", ev.ToolName, status)
		case bus.EventToolPolicyWarn:
			fmt.Printf("[policy] %s %s: %s\n", ev.Severity, ev.Policy, ev.Output)
		case bus.EventCompaction:
			fmt.Printf("[compaction] elided %d messages\n", ev.Elided)
		case bus.EventTaskStarted:
			fmt.Printf("[task] %s started: %s\n", ev.TaskID, truncate(ev.Command, 60))
		case bus.EventTaskCompleted:
			fmt.Printf("[task] %s completed\n", ev.TaskID)
		case bus.EventTaskFailed:
			fmt.Printf("[task] %s failed\n", ev.TaskID)
		case bus.EventArtifact:
			fmt.Printf("[artifact] %s\n", ev.Key)
		case bus.EventError:
			fmt.Fprintf(os.Stderr, "\n[error] %s\n", ev.Err)
		case bus.EventDone:
			reason = ev.Reason
			if ev.StepLimitReached {
				fmt.Println("[tern] step limit reached")
			}
		}
	}
	return reason
}

func printCost(e *engine.Engine) {
	total, byModel := e.Cost().Totals()
	if total.USD == 0 && total.InputTokens == 0 {
		return
	}
	fmt.Printf("[cost] $%.6f  in=%d out=%d cached=%d\n",
		total.USD, total.InputTokens, total.OutputTokens, total.CachedTokens)
	for model, c := range byModel {
		fmt.Printf("  %s  $%.6f\n", model, c.USD)
	}
}

func buildProvider(cfg *engine.FileConfig) (ai.Provider, error) {
	key := func(envVar string) string {
		if cfg.APIKey != "" {
			return cfg.APIKey
		}
		return os.Getenv(envVar)
	}

	switch cfg.Provider {
	case "anthropic":
		return anthropic.New(cfg.BaseURL, key("ANTHROPIC_API_KEY")), nil
	case "openai":
		return openai.New(cfg.BaseURL, key("OPENAI_API_KEY")), nil
	case "bedrock", "amazon-bedrock":
		return bedrock.New(cfg.Region, cfg.Profile), nil
	case "openrouter":
		url := cfg.BaseURL
		if url == "" {
			url = "https://openrouter.ai/api/v1"
		}
		return openai.New(url, key("OPENROUTER_API_KEY")), nil
	case "groq":
		url := cfg.BaseURL
		if url == "" {
			url = "https://api.groq.com/openai/v1"
		}
		return openai.New(url, key("GROQ_API_KEY")), nil
	default:
		// Any OpenAI-compatible gateway works through base_url.
		if cfg.BaseURL != "" {
			return openai.New(cfg.BaseURL, cfg.APIKey), nil
		}
		return nil, fmt.Errorf("unknown provider %q — set base_url to use an openai-compatible endpoint", cfg.Provider)
	}
}

func buildRunlog(cfg *engine.FileConfig) (*runlog.Logger, error) {
	if cfg.Logging.Dir == "" {
		return runlog.Discard(), nil
	}
	name := fmt.Sprintf("tern-%s.jsonl", time.Now().UTC().Format("20060102-150405"))
	return runlog.New(runlog.Options{
		FilePath:    filepath.Join(expandHome(cfg.Logging.Dir), name),
		Stderr:      true,
		StderrLevel: parseLevel(cfg.Logging.Level),
	})
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "error":
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}

func systemPrompt(cfg *engine.FileConfig, workspace string, toolNames []string) string {
	var sb strings.Builder
	if cfg.SystemPrompt != "" {
		sb.WriteString(cfg.SystemPrompt)
	} else {
		sb.WriteString("You are tern, a coding assistant that completes tasks using the available tools. " +
			"Prefer reading before writing; keep edits minimal and verify your work.")
	}
	fmt.Fprintf(&sb, "\n\nCurrent date: %s\nWorkspace: %s\nAvailable tools: %s\n",
		time.Now().Format("2006-01-02"), workspace, strings.Join(toolNames, ", "))
	return sb.String()
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
