package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/explainit/internal/config"
	"github.com/ShayCichocki/explainit/internal/events"
	"github.com/ShayCichocki/explainit/internal/metrics"
	"github.com/ShayCichocki/explainit/internal/orchestrator"
	"github.com/ShayCichocki/explainit/internal/state"
	"github.com/ShayCichocki/explainit/pkg/models"
)

var (
	runDepth       int
	runPersona     string
	runNoTUI       bool
	runMetricsAddr string
)

var runCmd = &cobra.Command{
	Use:   "run <topic>",
	Short: "Explain a topic",
	Long: `Explain a topic and the concepts beneath it.

The topic is explained, critiqued and revised, then decomposed into the
concepts a learner needs next. Each concept is explained the same way until
--depth levels below the topic have been written.

Press q (or Ctrl+C without the TUI) to interrupt. In-flight explanations
finish, no new work starts and the session can be resumed later.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runTopic,
}

func init() {
	runCmd.Flags().IntVarP(&runDepth, "depth", "d", 0, "Levels to explain below the topic (default from config)")
	runCmd.Flags().StringVarP(&runPersona, "persona", "p", "", "Audience: layman, novice, professional, expert or researcher")
	runCmd.Flags().BoolVar(&runNoTUI, "no-tui", false, "Print progress lines instead of the terminal UI")
	runCmd.Flags().StringVar(&runMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")
}

func runTopic(cmd *cobra.Command, args []string) error {
	topic := strings.TrimSpace(strings.Join(args, " "))
	if topic == "" {
		return fmt.Errorf("topic is required")
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	depth := cfg.Engine.Depth
	if cmd.Flags().Changed("depth") {
		depth = runDepth
	}
	if depth < 0 {
		return fmt.Errorf("depth must be zero or more, got %d", depth)
	}
	persona, err := resolvePersona(cfg, runPersona)
	if err != nil {
		return err
	}

	start := func(ctx context.Context, runner *orchestrator.SessionRunner) (*state.Session, *orchestrator.Result, error) {
		return runner.Start(ctx, topic, persona, depth)
	}
	return runSession(cmd.Context(), cfg, topic, nil, start, runNoTUI, runMetricsAddr)
}

// startFunc starts or resumes one session on runner.
type startFunc func(ctx context.Context, runner *orchestrator.SessionRunner) (*state.Session, *orchestrator.Result, error)

// runSession drives start with the TUI or plain output and prints a summary.
// hydrate, when set, redraws a resumed session before fresh events arrive.
func runSession(ctx context.Context, cfg *config.Config, topic string, hydrate *state.ResumeData, start startFunc, noTUI bool, metricsAddr string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	withTUI := useTUI(cfg, noTUI)
	e, err := openEnv(cfg, withTUI)
	if err != nil {
		return err
	}
	defer e.Close()

	m := metrics.New()
	serveMetrics(ctx, m, metricsAddr, e.logger)

	ctl := &interruptControl{}
	sink := events.New("")
	runner, err := e.newRunner(m,
		orchestrator.WithEventSink(sink),
		orchestrator.WithOnStart(func(_ *state.Session, w *orchestrator.SignalWatcher) { ctl.attach(w) }),
	)
	if err != nil {
		return err
	}

	run := func(ctx context.Context) (*state.Session, *orchestrator.Result, error) {
		return start(ctx, runner)
	}

	var (
		sess   *state.Session
		result *orchestrator.Result
		runErr error
	)
	if withTUI {
		sess, result, runErr = runWithTUI(ctx, topic, cfg.TUI.RefreshRate, sink, hydrate, ctl, run)
	} else {
		sess, result, runErr = runPlain(ctx, cancel, sink, ctl, run)
	}

	printSummary(sess, result, e.tracker, runErr)
	return runErr
}

// interruptControl routes an interrupt request to the session's watcher,
// which only exists once the run is set up. A request made earlier is
// replayed on attach.
type interruptControl struct {
	mu        sync.Mutex
	watcher   *orchestrator.SignalWatcher
	requested bool
}

func (c *interruptControl) attach(w *orchestrator.SignalWatcher) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.watcher = w
	if c.requested {
		w.Trigger()
	}
}

// Request asks the run to stop. It returns false if a request was already made.
func (c *interruptControl) Request() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.requested {
		return false
	}
	c.requested = true
	if c.watcher != nil {
		c.watcher.Trigger()
	}
	return true
}

// runPlain prints progress lines. The first SIGINT interrupts gracefully,
// the second cancels in-flight work.
func runPlain(ctx context.Context, cancel context.CancelFunc, sink *events.Bus, ctl *interruptControl, run func(context.Context) (*state.Session, *orchestrator.Result, error)) (*state.Session, *orchestrator.Result, error) {
	unsubscribe := sink.SubscribeAll(printEvent)
	defer unsubscribe()

	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case <-sigs:
				if ctl.Request() {
					color.Yellow("\nInterrupting: waiting for in-flight work (Ctrl+C again to abort)")
					continue
				}
				cancel()
				return
			case <-done:
				return
			}
		}
	}()

	return run(ctx)
}

// printEvent renders the events worth a line in plain mode.
func printEvent(ev events.Event) {
	switch p := ev.Payload.(type) {
	case events.WorkflowPayload:
		msg := string(p.Phase)
		if p.Message != "" {
			msg += ": " + p.Message
		}
		fmt.Printf("%s %s\n", color.CyanString("▸"), msg)
	case events.NodePayload:
		if p.Kind != events.NodeUpdated || p.Node == nil {
			return
		}
		indent := strings.Repeat("  ", p.Depth)
		switch p.Node.Status {
		case models.NodeStatusDone:
			fmt.Printf("%s%s %s\n", indent, color.GreenString("✓"), p.Node.Name)
		case models.NodeStatusFailed:
			fmt.Printf("%s%s %s: %s\n", indent, color.RedString("✗"), p.Node.Name, p.Node.Error)
		}
	case events.ErrorPayload:
		label := color.YellowString("warning:")
		if p.Fatal {
			label = color.RedString("error:")
		}
		if p.Subject != "" {
			fmt.Printf("%s %s: %s\n", label, p.Subject, p.Message)
		} else {
			fmt.Printf("%s %s\n", label, p.Message)
		}
	}
}
