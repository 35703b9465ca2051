package main

import (
	"fmt"
	"io"
	"sort"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/explainit/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long: `View or create explainit configuration.

Configuration is stored at ~/.config/explainit/config.yaml
Project-specific overrides can be placed in .explainit.yaml
Environment variables use the EXPLAINIT_ prefix, e.g. EXPLAINIT_ENGINE_DEPTH=3`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		displayAllConfig(cmd.OutOrStdout(), cfg)
		return nil
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default user configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, written, err := config.Init()
		if err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		if !written {
			printStatus("•", fmt.Sprintf("Config already exists at %s", path), color.FgYellow)
			return nil
		}
		printStatus("✓", fmt.Sprintf("Wrote %s", path), color.FgGreen)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
}

// displayAllConfig prints all configuration values.
func displayAllConfig(w io.Writer, cfg *config.Config) {
	key, _ := config.GetAPIKey(cfg)

	fmt.Fprintf(w, "provider.name: %s\n", cfg.Provider.Name)
	fmt.Fprintf(w, "provider.model: %s\n", valueOrDefault(cfg.Provider.Model))
	if config.NeedsAPIKey(cfg.Provider.Name) {
		fmt.Fprintf(w, "provider.api_key: %s (%s)\n", config.MaskAPIKey(key), config.GetAPIKeySource(cfg))
	} else {
		fmt.Fprintf(w, "provider.credentials: %s\n", config.GetAPIKeySource(cfg))
	}
	if cfg.Provider.BaseURL != "" {
		fmt.Fprintf(w, "provider.base_url: %s\n", cfg.Provider.BaseURL)
	}
	if cfg.Provider.AWSRegion != "" {
		fmt.Fprintf(w, "provider.aws_region: %s\n", cfg.Provider.AWSRegion)
	}
	fmt.Fprintf(w, "provider.max_tokens: %d\n", cfg.Provider.MaxTokens)
	fmt.Fprintf(w, "provider.requests_per_second: %g\n", cfg.Provider.RequestsPerSecond)
	fmt.Fprintf(w, "provider.breaker.enabled: %t\n", cfg.Provider.Breaker.Enabled)

	ops := make([]string, 0, len(cfg.Provider.Temperatures))
	for op := range cfg.Provider.Temperatures {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	for _, op := range ops {
		fmt.Fprintf(w, "provider.temperatures.%s: %g\n", op, cfg.Provider.Temperatures[op])
	}

	fmt.Fprintf(w, "retry.max_attempts: %d\n", cfg.Retry.MaxAttempts)
	fmt.Fprintf(w, "retry.base_delay: %s\n", cfg.Retry.BaseDelay)
	fmt.Fprintf(w, "retry.max_delay: %s\n", cfg.Retry.MaxDelay)
	fmt.Fprintf(w, "engine.depth: %d\n", cfg.Engine.Depth)
	fmt.Fprintf(w, "engine.persona: %s\n", cfg.PersonaOrDefault())
	fmt.Fprintf(w, "engine.max_revisions: %d\n", cfg.Engine.MaxRevisions)
	fmt.Fprintf(w, "engine.confidence_threshold: %g\n", cfg.Engine.ConfidenceThreshold)
	fmt.Fprintf(w, "engine.max_concurrency: %d\n", cfg.Engine.MaxConcurrency)
	fmt.Fprintf(w, "paths.output_root: %s\n", cfg.Paths.OutputRoot)
	fmt.Fprintf(w, "paths.registry: %s\n", cfg.Paths.Registry)
	fmt.Fprintf(w, "log.level: %s\n", cfg.Log.Level)
	fmt.Fprintf(w, "tui.enabled: %t\n", cfg.TUI.Enabled)
	fmt.Fprintf(w, "tui.refresh_rate: %s\n", cfg.TUI.RefreshRate)
}

func valueOrDefault(s string) string {
	if s == "" {
		return "(provider default)"
	}
	return s
}
