package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"spectree/internal/agentcli"
	"spectree/internal/config"
	"spectree/internal/orchestrator"
	"spectree/internal/planning"
	"spectree/internal/retry"
	"spectree/internal/statusbus"
	"spectree/internal/worktype"

	"spectree/cmd/spectree/tui"
)

var (
	runEpicID     string
	runMaxAgents  int
	runResume     bool
	runTUI        bool
	runCwd        string
	runBaseBranch string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run an epic's work plan to completion",
	Long: `Fetches the epic's work items from the planning service, builds an
execution plan, and dispatches each item to an AI agent, honoring
dependencies and parallel groups. Checkpoints after every phase so the
run can be resumed with "spectree resume" if interrupted.`,
	RunE: runRun,
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume the most recent checkpointed run for an epic",
	RunE: func(cmd *cobra.Command, args []string) error {
		runResume = true
		return runRun(cmd, args)
	},
}

func init() {
	runCmd.Flags().StringVar(&runEpicID, "epic", "", "Epic ID or identifier to run (required)")
	runCmd.Flags().IntVar(&runMaxAgents, "max-agents", 1, "Maximum concurrently running agents per phase")
	runCmd.Flags().BoolVar(&runResume, "resume", false, "Resume from the last checkpoint instead of starting fresh")
	runCmd.Flags().BoolVar(&runTUI, "tui", false, "Show a live Bubble Tea progress view instead of plain log lines")
	runCmd.Flags().StringVar(&runCwd, "cwd", "", "Working directory for agent subprocesses (default: current directory)")
	runCmd.Flags().StringVar(&runBaseBranch, "base-branch", "", "Base branch new work branches off of (default from config)")
	runCmd.MarkFlagRequired("epic")

	resumeCmd.Flags().StringVar(&runEpicID, "epic", "", "Epic ID or identifier to resume (required)")
	resumeCmd.Flags().IntVar(&runMaxAgents, "max-agents", 1, "Maximum concurrently running agents per phase")
	resumeCmd.Flags().BoolVar(&runTUI, "tui", false, "Show a live Bubble Tea progress view instead of plain log lines")
	resumeCmd.Flags().StringVar(&runCwd, "cwd", "", "Working directory for agent subprocesses (default: current directory)")
	resumeCmd.Flags().StringVar(&runBaseBranch, "base-branch", "", "Base branch new work branches off of (default from config)")
	resumeCmd.MarkFlagRequired("epic")
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nrun cancelled, checkpoint was saved after the last completed phase")
		cancel()
	}()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if planningToken != "" {
		cfg.Planning.Token = planningToken
	}
	if planningURL != "" {
		cfg.Planning.BaseURL = planningURL
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if watcher, err := config.NewWatcher(configPath, func(reloaded *config.Config) {
		logger.Info("config file changed on disk; restart to apply",
			zap.String("agent_binary", reloaded.Agent.Binary),
			zap.Int("max_agents", reloaded.Execution.MaxAgents))
	}); err == nil {
		watcher.Start()
		defer watcher.Stop()
	}

	auth := planning.AuthContext{Token: cfg.Planning.Token}
	client := planning.New(cfg.Planning.BaseURL, auth)

	epicID, err := client.ResolveIdentifier(ctx, runEpicID)
	if err != nil {
		return fmt.Errorf("resolve epic %q: %w", runEpicID, err)
	}

	bus := statusbus.New()

	runCfg := orchestrator.RunConfig{
		EpicID:   epicID,
		Planning: client,
		AgentOptions: agentcli.Options{
			Binary:             cfg.Agent.Binary,
			Model:              cfg.Agent.Model,
			SystemPrompt:       cfg.Agent.SystemPrompt,
			AppendSystemPrompt: cfg.Agent.AppendSystemPrompt,
			MCPConfigPath:      cfg.Agent.MCPConfigPath,
			AllowedTools:       cfg.Agent.AllowedTools,
			MaxTurns:           cfg.Agent.MaxTurns,
			OverallTimeout:     cfg.GetAgentOverallTimeout(),
			InactivityTimeout:  cfg.GetAgentInactivityTimeout(),
		},
		MaxAgents:     runMaxAgents,
		Cwd:           firstNonEmptyFlag(runCwd, cfg.Execution.Cwd),
		BaseBranch:    firstNonEmptyFlag(runBaseBranch, cfg.Execution.BaseBranch),
		OnItemFailure: worktype.FailurePolicy(cfg.Execution.OnItemFailure),
		CheckpointDir: cfg.Execution.CheckpointDir,
		Resume:        runResume,
		Bus:           bus,
		Logger:        logger,
		ItemTimeout:   cfg.GetItemTimeout(),
		RetryProfile:  retry.DefaultProfile,
	}

	orch := orchestrator.New(runCfg)

	if runTUI {
		return runWithTUI(ctx, orch, epicID)
	}

	sub, unsubscribe := orch.Bus().Subscribe()
	defer unsubscribe()
	go printStatusEvents(sub)

	result := orch.Run(ctx)
	if result.Err != nil {
		logger.Error("run ended with error", zap.Error(result.Err))
		return result.Err
	}

	fmt.Printf("\nrun complete: %d completed, %d failed, %d skipped\n",
		len(result.Completed), len(result.Failed), len(result.Skipped))
	return nil
}

func firstNonEmptyFlag(flagVal, configVal string) string {
	if flagVal != "" {
		return flagVal
	}
	return configVal
}

func runWithTUI(ctx context.Context, orch *orchestrator.Orchestrator, epicID string) error {
	sub, unsubscribe := orch.Bus().Subscribe()
	defer unsubscribe()

	resultCh := make(chan orchestrator.RunResult, 1)
	go func() { resultCh <- orch.Run(ctx) }()

	model := tui.New(orch, sub, epicID)
	program := tea.NewProgram(model, tea.WithAltScreen())
	if _, err := program.Run(); err != nil {
		return fmt.Errorf("tui: %w", err)
	}

	result := <-resultCh
	return result.Err
}

func printStatusEvents(events <-chan statusbus.Event) {
	for evt := range events {
		ts := evt.Timestamp.Format(time.TimeOnly)
		switch {
		case evt.ItemID != "":
			fmt.Printf("[%s] %-16s item=%s %s\n", ts, evt.Kind, evt.ItemID, evt.Message)
		case evt.PhaseID != "":
			fmt.Printf("[%s] %-16s phase=%s\n", ts, evt.Kind, evt.PhaseID)
		default:
			fmt.Printf("[%s] %-16s %s\n", ts, evt.Kind, evt.Message)
		}
	}
}
