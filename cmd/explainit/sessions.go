package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/explainit/internal/orchestrator"
	"github.com/ShayCichocki/explainit/internal/state"
)

var (
	listActive   bool
	listArchived bool
	deleteFiles  bool
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage explanation sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if listActive && listArchived {
			return fmt.Errorf("--active and --archived are mutually exclusive")
		}
		return withRegistry(func(r *state.Registry) error {
			var (
				sessions []state.Session
				err      error
			)
			switch {
			case listActive:
				sessions, err = r.GetActiveSessions()
			case listArchived:
				sessions, err = r.GetArchivedSessions()
			default:
				sessions, err = r.ListSessions()
			}
			if err != nil {
				return err
			}
			printSessions(cmd.OutOrStdout(), sessions, time.Now())
			return nil
		})
	},
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Remove a session from the registry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRegistry(func(r *state.Registry) error {
			sess, err := r.GetSession(args[0])
			if err != nil {
				return err
			}
			if sess.Status == state.SessionRunning {
				return fmt.Errorf("session %s is running; interrupt it first", sess.ID)
			}
			if err := r.DeleteSession(sess.ID); err != nil {
				return err
			}
			if deleteFiles {
				if err := os.RemoveAll(sess.FolderPath); err != nil {
					return fmt.Errorf("remove session folder: %w", err)
				}
			}
			printStatus("✓", fmt.Sprintf("Deleted session %s", sess.ID), color.FgGreen)
			return nil
		})
	},
}

var sessionsInterruptCmd = &cobra.Command{
	Use:   "interrupt <session-id>",
	Short: "Ask a running session to stop",
	Long: `Signal a running session, possibly in another terminal, to stop.

In-flight explanations finish and the session is marked interrupted so it
can be resumed later.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRegistry(func(r *state.Registry) error {
			if err := orchestrator.NewSessionRunner(r).Interrupt(args[0]); err != nil {
				return err
			}
			printStatus("⏸", fmt.Sprintf("Interrupt requested for %s", args[0]), color.FgYellow)
			return nil
		})
	},
}

func init() {
	sessionsListCmd.Flags().BoolVar(&listActive, "active", false, "Only running and interrupted sessions")
	sessionsListCmd.Flags().BoolVar(&listArchived, "archived", false, "Only completed and failed sessions")
	sessionsDeleteCmd.Flags().BoolVar(&deleteFiles, "files", false, "Also remove the session folder")

	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsDeleteCmd)
	sessionsCmd.AddCommand(sessionsInterruptCmd)
}

// withRegistry opens the registry for a one-shot command.
func withRegistry(fn func(*state.Registry) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	e, err := openEnv(cfg, true)
	if err != nil {
		return err
	}
	defer e.Close()
	return fn(e.registry)
}

// printSessions writes a session table to w.
func printSessions(w io.Writer, sessions []state.Session, now time.Time) {
	if len(sessions) == 0 {
		fmt.Fprintln(w, "No sessions. Run 'explainit run <topic>' to start.")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tTOPIC\tPERSONA\tDEPTH\tCREATED")
	for _, s := range sessions {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s ago\n",
			s.ID, statusColor(s.Status), s.Topic, s.Persona, s.Depth, formatDuration(now.Sub(s.CreatedAt)))
	}
	tw.Flush()
}

func statusColor(s state.SessionStatus) string {
	switch s {
	case state.SessionCompleted:
		return color.GreenString(string(s))
	case state.SessionFailed:
		return color.RedString(string(s))
	case state.SessionInterrupted:
		return color.YellowString(string(s))
	default:
		return color.CyanString(string(s))
	}
}
