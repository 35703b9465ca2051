package main

import (
	"os"

	"github.com/spf13/cobra"
)

// configPath overrides the user and project config files when set.
var configPath string

var rootCmd = &cobra.Command{
	Use:   "explainit",
	Short: "Recursive concept explainer",
	Long: `explainit explains a topic, breaks it into the concepts a learner needs,
and explains each of those in turn down to the requested depth.

Every run is a session with its own folder holding the workflow state, a
debug log and an MkDocs site of the explanations. Interrupted sessions can
be resumed where they stopped.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: user config merged with .explainit.yaml)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
