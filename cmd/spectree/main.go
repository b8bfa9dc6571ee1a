// Package main implements the spectree CLI, the operator-facing shell
// around the orchestration core. Grounded on codenerd's cmd/nerd/main.go:
// a cobra root command, a PersistentPreRunE that builds a zap console
// logger and initializes the categorized file logger, global workspace/
// verbose/timeout flags, and subcommands that each wrap a library call
// into internal/orchestrator.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"spectree/internal/logging"
)

var (
	verbose       bool
	planningToken string
	planningURL   string
	workspace     string
	configPath    string
	timeout       time.Duration

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "spectree",
	Short: "spectree - runs a hierarchical work plan to completion with AI agents",
	Long: `spectree takes a plan of epics, features, and tasks from a planning
service and drives it to completion by dispatching each work item to an
AI coding agent, honoring declared dependencies and parallel groups,
retrying and checkpointing along the way.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		ws := workspace
		if ws == "" {
			ws, _ = os.Getwd()
		}
		if err := logging.Initialize(ws); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to initialize file logging: %v\n", err)
		}
		if err := logging.InitAudit(ws); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to initialize audit log: %v\n", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.CloseAll()
		logging.CloseAudit()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&planningToken, "token", "", "Planning service auth token (or set SPECTREE_PLANNING_TOKEN)")
	rootCmd.PersistentFlags().StringVar(&planningURL, "planning-url", "", "Planning service base URL (overrides config)")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "Workspace directory (default: current)")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", ".spectree/config.yaml", "Path to config file")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Minute, "Overall run timeout")

	rootCmd.AddCommand(runCmd, resumeCmd, pauseCmd, statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
