package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ShayCichocki/explainit/internal/api"
	"github.com/ShayCichocki/explainit/internal/config"
	"github.com/ShayCichocki/explainit/internal/metrics"
	"github.com/ShayCichocki/explainit/internal/orchestrator"
	"github.com/ShayCichocki/explainit/internal/state"
	"github.com/ShayCichocki/explainit/pkg/models"
)

// eventBuffer is the channel size between the event bus and the TUI.
const eventBuffer = 256

// env bundles what every session command needs.
type env struct {
	cfg      *config.Config
	logger   *zap.Logger
	registry *state.Registry
	tracker  *api.TokenTracker
}

// loadConfig reads --config when given, otherwise the merged user and
// project configuration.
func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFromPath(configPath)
	}
	return config.Load()
}

// newLogger builds the process logger. quiet discards everything, which the
// TUI needs because stderr output corrupts the display.
func newLogger(level string, quiet bool) (*zap.Logger, error) {
	if quiet {
		return zap.NewNop(), nil
	}

	zapConfig := zap.NewDevelopmentConfig()
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	zapConfig.Level = zap.NewAtomicLevelAt(lvl)
	zapConfig.DisableStacktrace = true
	return zapConfig.Build()
}

// openEnv opens the registry and marks sessions whose process died as
// interrupted.
func openEnv(cfg *config.Config, quiet bool) (*env, error) {
	logger, err := newLogger(cfg.Log.Level, quiet)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	registry, err := state.OpenRegistry(cfg.Paths.Registry, cfg.Paths.OutputRoot, state.WithRegistryLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("open session registry: %w", err)
	}

	recovered, err := state.NewRecoveryManager(registry, logger).RecoverInterrupted()
	if err != nil {
		logger.Warn("recover sessions", zap.Error(err))
	}
	for _, s := range recovered {
		logger.Info("session marked interrupted", zap.String("session", s.ID), zap.String("topic", s.Topic))
	}

	return &env{cfg: cfg, logger: logger, registry: registry}, nil
}

// Close releases the registry and flushes the logger.
func (e *env) Close() {
	if err := e.registry.Close(); err != nil {
		e.logger.Warn("close registry", zap.Error(err))
	}
	_ = e.logger.Sync()
}

// newRunner builds a SessionRunner over the configured completion backend.
func (e *env) newRunner(m *metrics.Metrics, opts ...orchestrator.RunnerOption) (*orchestrator.SessionRunner, error) {
	settings, err := e.cfg.APISettings()
	if err != nil {
		return nil, err
	}
	completer, tracker, err := api.New(settings, e.logger)
	if err != nil {
		return nil, fmt.Errorf("create %s client: %w", settings.Provider, err)
	}
	e.tracker = tracker

	base := []orchestrator.RunnerOption{
		orchestrator.WithCompleter(completer, e.cfg.ProviderOptions()...),
		orchestrator.WithRetryConfig(e.cfg.RetryPolicy()),
		orchestrator.WithRunnerLogger(e.logger),
		orchestrator.WithRunnerMetrics(m),
		orchestrator.WithEngineOptions(
			orchestrator.WithMaxRevisions(e.cfg.Engine.MaxRevisions),
			orchestrator.WithConfidenceThreshold(e.cfg.Engine.ConfidenceThreshold),
			orchestrator.WithMaxConcurrency(e.cfg.Engine.MaxConcurrency),
		),
	}
	return orchestrator.NewSessionRunner(e.registry, append(base, opts...)...), nil
}

// serveMetrics exposes m on addr until ctx is done. An empty addr is a no-op.
func serveMetrics(ctx context.Context, m *metrics.Metrics, addr string, logger *zap.Logger) {
	if addr == "" {
		return
	}
	go func() {
		if err := m.Serve(ctx, addr); err != nil {
			logger.Error("metrics server", zap.String("addr", addr), zap.Error(err))
		}
	}()
	logger.Info("serving metrics", zap.String("addr", addr))
}

// useTUI reports whether the run should use the terminal UI.
func useTUI(cfg *config.Config, noTUI bool) bool {
	if noTUI || !cfg.TUI.Enabled {
		return false
	}
	return isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
}

// resolvePersona parses flag, falling back to the configured persona.
func resolvePersona(cfg *config.Config, flag string) (models.Persona, error) {
	if strings.TrimSpace(flag) == "" {
		return cfg.PersonaOrDefault(), nil
	}
	return models.ParsePersona(flag)
}

// outcomeMessage summarizes how a session ended.
func outcomeMessage(sess *state.Session, err error) string {
	switch {
	case err == nil:
		return "Explanation complete"
	case sess != nil && sess.Status == state.SessionInterrupted:
		return fmt.Sprintf("Interrupted. Resume with: explainit resume %s", sess.ID)
	default:
		return err.Error()
	}
}

// printSummary prints the final session report.
func printSummary(sess *state.Session, result *orchestrator.Result, tracker *api.TokenTracker, runErr error) {
	if sess == nil {
		return
	}

	fmt.Println()
	switch sess.Status {
	case state.SessionCompleted:
		printStatus("✓", "Session completed", color.FgGreen)
	case state.SessionInterrupted:
		printStatus("⏸", "Session interrupted", color.FgYellow)
	default:
		printStatus("✗", "Session failed", color.FgRed)
	}

	fmt.Printf("  Session: %s\n", sess.ID)
	fmt.Printf("  Topic:   %s\n", sess.Topic)
	fmt.Printf("  Folder:  %s\n", sess.FolderPath)
	if sess.CompletedAt != nil {
		fmt.Printf("  Elapsed: %s\n", formatDuration(sess.CompletedAt.Sub(sess.CreatedAt)))
	}

	if result != nil {
		counts := result.Counts()
		fmt.Printf("  Concepts: %d done, %d failed\n", counts[models.NodeStatusDone], counts[models.NodeStatusFailed])
		if result.Site != nil {
			fmt.Printf("  Pages: %d, %d words, %s\n", result.Site.Stats.Pages, result.Site.Stats.WordCount, result.Site.Stats.ReadingTime)
		}
	}

	if tracker != nil && tracker.Calls() > 0 {
		in, out := tracker.Total()
		fmt.Printf("  Tokens: %s in / %s out across %d calls ($%.2f)\n",
			formatNumber(int(in)), formatNumber(int(out)), tracker.Calls(), tracker.Cost())
	}

	switch {
	case sess.Status == state.SessionInterrupted:
		fmt.Printf("\nResume with: explainit resume %s\n", sess.ID)
	case runErr != nil:
		fmt.Printf("\n%s %v\n", color.RedString("Error:"), runErr)
	default:
		fmt.Printf("\nPreview with: mkdocs serve -f %s\n", filepath.Join(sess.FolderPath, "mkdocs.yml"))
	}
}

// printStatus prints a status line with color
func printStatus(symbol, message string, colorAttr color.Attribute) {
	c := color.New(colorAttr)
	fmt.Printf("%s %s\n", c.Sprint(symbol), message)
}

// formatDuration renders d rounded to the second.
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm", h, m)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}

// formatNumber adds thousands separators.
func formatNumber(n int) string {
	s := fmt.Sprintf("%d", n)
	if n < 0 {
		return "-" + formatNumber(-n)
	}
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	pre := len(s) % 3
	if pre > 0 {
		b.WriteString(s[:pre])
	}
	for i := pre; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}
