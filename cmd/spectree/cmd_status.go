package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"spectree/internal/checkpoint"
	"spectree/internal/worktype"
)

var statusEpicID string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the last checkpointed progress for an epic",
	Long: `spectree is a single-process library: there is no control socket to
query a running "spectree run" from another process. This command
instead reads the on-disk checkpoint written after the most recently
completed phase, which is exact for every phase boundary but may lag
behind a run currently in flight.`,
	RunE: runStatus,
}

var pauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Pause a running epic",
	Long: `spectree has no out-of-process control channel (see spec Non-goals):
pausing only works against the Orchestrator of a run in this same
process. To pause an interactive run, use the "p" key in its status
view; this standalone command exists for discoverability and exits
non-zero when no such run is attached.`,
	RunE: runPause,
}

func init() {
	statusCmd.Flags().StringVar(&statusEpicID, "epic", "", "Epic ID or identifier to inspect (required)")
	statusCmd.MarkFlagRequired("epic")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfgDir := ".spectree/checkpoints"
	mgr := checkpoint.New(cfgDir)

	state, err := mgr.Load(statusEpicID)
	if err != nil {
		return fmt.Errorf("no checkpoint found for %q: %w", statusEpicID, err)
	}

	rp := checkpoint.DeriveResumePoint(state)
	fmt.Printf("epic:  %s\n", state.EpicID)
	fmt.Printf("saved: %s\n", state.SavedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("phase: %d / %d\n", state.PhaseIndex, len(state.Plan.Phases))
	fmt.Printf("completed/skipped: %d\n", len(rp.SkipItems))
	fmt.Printf("pending retry:      %d\n", len(rp.RetryItems))
	fmt.Println()
	for id, item := range state.Items {
		fmt.Printf("  %-24s %-12s %s\n", id, statusLabel(item.Status), item.Title)
	}
	return nil
}

func statusLabel(s worktype.Status) string {
	if s.Terminal() {
		return string(s)
	}
	return string(s) + "*"
}

func runPause(cmd *cobra.Command, args []string) error {
	return fmt.Errorf("no attached run in this process; use the \"p\" key inside an interactive \"spectree run\" to pause it")
}
