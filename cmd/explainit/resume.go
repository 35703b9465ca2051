package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/explainit/internal/config"
	"github.com/ShayCichocki/explainit/internal/orchestrator"
	"github.com/ShayCichocki/explainit/internal/state"
)

var (
	resumeNoTUI       bool
	resumeMetricsAddr string
)

var resumeCmd = &cobra.Command{
	Use:   "resume <session-id>",
	Short: "Resume an interrupted session",
	Long: `Continue a session from its saved workflow state.

Topics that were already explained are not regenerated. Failed topics are
retried and decomposition continues where it stopped.`,
	Args: cobra.ExactArgs(1),
	RunE: runResume,
}

func init() {
	resumeCmd.Flags().BoolVar(&resumeNoTUI, "no-tui", false, "Print progress lines instead of the terminal UI")
	resumeCmd.Flags().StringVar(&resumeMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")
}

func runResume(cmd *cobra.Command, args []string) error {
	id := args[0]

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	sess, err := lookupSession(cfg, id)
	if err != nil {
		return err
	}
	switch sess.Status {
	case state.SessionCompleted:
		return fmt.Errorf("session %s is already completed", id)
	case state.SessionRunning:
		return fmt.Errorf("session %s is still running (pid %d)", id, sess.PID)
	}

	hydrate := state.LoadResumeData(sess)
	start := func(ctx context.Context, runner *orchestrator.SessionRunner) (*state.Session, *orchestrator.Result, error) {
		return runner.Resume(ctx, id)
	}
	return runSession(cmd.Context(), cfg, sess.Topic, &hydrate, start, resumeNoTUI, resumeMetricsAddr)
}

// lookupSession reads one session without keeping the registry open.
// Sessions whose process died are marked interrupted first.
func lookupSession(cfg *config.Config, id string) (*state.Session, error) {
	e, err := openEnv(cfg, true)
	if err != nil {
		return nil, err
	}
	defer e.Close()
	return e.registry.GetSession(id)
}
