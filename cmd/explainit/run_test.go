package main

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"go.uber.org/zap"

	"github.com/ShayCichocki/explainit/internal/config"
	"github.com/ShayCichocki/explainit/internal/orchestrator"
	"github.com/ShayCichocki/explainit/internal/state"
	"github.com/ShayCichocki/explainit/pkg/models"
)

func TestFormatNumber(t *testing.T) {
	tests := []struct {
		n    int
		want string
	}{
		{0, "0"},
		{999, "999"},
		{1000, "1,000"},
		{12345, "12,345"},
		{1234567, "1,234,567"},
		{-4200, "-4,200"},
	}

	for _, tt := range tests {
		if got := formatNumber(tt.n); got != tt.want {
			t.Errorf("formatNumber(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{1400 * time.Millisecond, "1s"},
		{90 * time.Second, "1m 30s"},
		{2*time.Hour + 5*time.Minute, "2h 5m"},
	}

	for _, tt := range tests {
		if got := formatDuration(tt.d); got != tt.want {
			t.Errorf("formatDuration(%s) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestResolvePersona(t *testing.T) {
	cfg := config.Default()
	cfg.Engine.Persona = "expert"

	p, err := resolvePersona(cfg, "")
	if err != nil || p != models.PersonaExpert {
		t.Errorf("config persona = %q, %v", p, err)
	}

	p, err = resolvePersona(cfg, "Layman")
	if err != nil || p != models.PersonaLayman {
		t.Errorf("flag persona = %q, %v", p, err)
	}

	if _, err := resolvePersona(cfg, "wizard"); err == nil {
		t.Error("expected error for unknown persona")
	}
}

func TestNormalizePage(t *testing.T) {
	tests := map[string]string{
		"":                     "index.md",
		"/":                    "index.md",
		"1_variables":          "1_variables/index.md",
		"1_variables/":         "1_variables/index.md",
		"1_variables/index.md": "1_variables/index.md",
		" 2_loops/2_1_for/ ":   "2_loops/2_1_for/index.md",
		"1_variables/extra.md": "1_variables/extra.md",
	}

	for in, want := range tests {
		if got := normalizePage(in); got != want {
			t.Errorf("normalizePage(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestOutcomeMessage(t *testing.T) {
	if got := outcomeMessage(nil, nil); got != "Explanation complete" {
		t.Errorf("success message = %q", got)
	}

	sess := &state.Session{ID: "abc", Status: state.SessionInterrupted}
	if got := outcomeMessage(sess, orchestrator.ErrInterrupted); !strings.Contains(got, "explainit resume abc") {
		t.Errorf("interrupted message = %q", got)
	}

	failed := &state.Session{ID: "abc", Status: state.SessionFailed}
	if got := outcomeMessage(failed, errors.New("boom")); got != "boom" {
		t.Errorf("failure message = %q", got)
	}
}

func TestInterruptControl_ReplaysEarlyRequest(t *testing.T) {
	w, err := orchestrator.NewSignalWatcher(filepath.Join(t.TempDir(), "signals", "interrupt"), zap.NewNop())
	if err != nil {
		t.Fatalf("NewSignalWatcher: %v", err)
	}
	defer w.Close()

	ctl := &interruptControl{}
	if !ctl.Request() {
		t.Fatal("first request should be accepted")
	}
	if ctl.Request() {
		t.Error("second request should report a repeat")
	}

	ctl.attach(w)
	if !w.Interrupted() {
		t.Error("request made before attach was not replayed")
	}
}

func TestPrintSessions(t *testing.T) {
	color.NoColor = true
	now := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)

	var buf bytes.Buffer
	printSessions(&buf, nil, now)
	if !strings.Contains(buf.String(), "No sessions") {
		t.Errorf("empty output = %q", buf.String())
	}

	buf.Reset()
	printSessions(&buf, []state.Session{{
		ID:        "s1",
		Topic:     "React Hooks",
		Status:    state.SessionInterrupted,
		Persona:   models.PersonaNovice,
		Depth:     2,
		CreatedAt: now.Add(-90 * time.Second),
	}}, now)

	out := buf.String()
	for _, want := range []string{"ID", "s1", "interrupted", "React Hooks", "Novice", "1m 30s ago"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestDisplayAllConfig(t *testing.T) {
	t.Setenv(config.AnthropicKeyEnv, "sk-ant-REDACTED")

	var buf bytes.Buffer
	displayAllConfig(&buf, config.Default())

	out := buf.String()
	if strings.Contains(out, "abcdefghijklmnop") {
		t.Error("API key printed unmasked")
	}
	for _, want := range []string{"provider.name: anthropic", "sk-ant-...mnop (environment)", "engine.depth: 2", "engine.persona: Novice"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestVersionCommand(t *testing.T) {
	var buf bytes.Buffer
	versionCmd.SetOut(&buf)
	versionCmd.Run(versionCmd, nil)
	if !strings.HasPrefix(buf.String(), "explainit version ") {
		t.Errorf("version output = %q", buf.String())
	}
}
