package tui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ShayCichocki/explainit/internal/events"
	"github.com/ShayCichocki/explainit/internal/state"
	"github.com/ShayCichocki/explainit/pkg/models"
)

// Panel indices.
const (
	panelTree = 1
	panelLogs = 2
)

// App is the bubbletea model for a running session.
type App struct {
	header *Header
	tree   *TreePanel
	logs   *LogsPanel
	footer *Footer

	// State
	focusedPanel int
	width        int
	height       int
	quitting     bool
	interrupting bool
	sessionDone  bool
	success      bool

	onInterrupt func()
}

// AppOption configures an App.
type AppOption func(*App)

// WithOnInterrupt sets the callback run when the user asks to stop a
// session that is still running. The session then winds down and reports
// through SessionDoneMsg.
func WithOnInterrupt(fn func()) AppOption {
	return func(a *App) {
		a.onInterrupt = fn
	}
}

// WithRefreshRate sets how often in-progress spinners redraw.
func WithRefreshRate(d time.Duration) AppOption {
	return func(a *App) {
		if d > 0 {
			a.tree.spinner.Spinner.FPS = d
		}
	}
}

// NewApp creates an App for topic.
func NewApp(topic, sessionID string, opts ...AppOption) *App {
	a := &App{
		header:       NewHeader(topic, sessionID),
		tree:         NewTreePanel(),
		logs:         NewLogsPanel(),
		footer:       NewFooter(),
		focusedPanel: panelTree,
		width:        80,
		height:       24,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.setFocus(panelTree)
	a.layout()
	return a
}

// Init implements tea.Model.
func (a *App) Init() tea.Cmd {
	return a.tree.Tick
}

// Update implements tea.Model.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.layout()
		return a, nil

	case tea.KeyMsg:
		return a.handleKey(msg)

	case spinner.TickMsg:
		var cmd tea.Cmd
		a.tree, cmd = a.tree.Update(msg)
		return a, cmd

	case EventMsg:
		a.handleEvent(msg.Event)
		return a, nil

	case HydrateMsg:
		a.hydrate(msg.Data)
		return a, nil

	case SessionDoneMsg:
		a.sessionDone = true
		a.success = msg.Success
		a.footer.SetSessionDone(msg.Success, msg.Message)
		return a, nil
	}

	return a, nil
}

func (a *App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		a.interrupt()
		a.quitting = true
		return a, tea.Quit
	case "q":
		if a.sessionDone {
			a.quitting = true
			return a, tea.Quit
		}
		a.interrupt()
		return a, nil
	case "1":
		a.setFocus(panelTree)
		return a, nil
	case "2":
		a.setFocus(panelLogs)
		return a, nil
	case "tab":
		if a.focusedPanel == panelTree {
			a.setFocus(panelLogs)
		} else {
			a.setFocus(panelTree)
		}
		return a, nil
	}

	var cmd tea.Cmd
	if a.focusedPanel == panelLogs {
		a.logs, cmd = a.logs.Update(msg)
	} else {
		a.tree, cmd = a.tree.Update(msg)
	}
	return a, cmd
}

// interrupt asks the session to stop once.
func (a *App) interrupt() {
	if a.sessionDone || a.interrupting {
		return
	}
	a.interrupting = true
	a.footer.SetMessage("Interrupting, waiting for in-flight work...", false)
	if a.onInterrupt != nil {
		a.onInterrupt()
	}
}

func (a *App) setFocus(panel int) {
	a.focusedPanel = panel
	a.tree.SetFocused(panel == panelTree)
	a.logs.SetFocused(panel == panelLogs)
	a.footer.SetFocusedPanel(panel)
}

func (a *App) layout() {
	a.header.SetWidth(a.width)
	a.footer.SetWidth(a.width)

	bodyHeight := max(a.height-a.header.Height()-1, 3)
	treeWidth := a.width * 2 / 5
	a.tree.SetSize(treeWidth, bodyHeight)
	a.logs.SetSize(a.width-treeWidth, bodyHeight)
}

func (a *App) handleEvent(ev events.Event) {
	if a.header.sessionID == "" {
		a.header.sessionID = ev.SessionID
	}

	switch p := ev.Payload.(type) {
	case events.LogPayload:
		a.logs.AddLog(LogEntry{Time: ev.Timestamp, Level: p.Level, Message: p.Message})

	case events.NodePayload:
		if p.Node == nil {
			return
		}
		a.tree.Upsert(p.Key(), p.ParentKey, p.Node.Name, p.Node.Status)
		a.refreshProgress()

	case events.WorkflowPayload:
		a.header.SetPhase(p.Phase, p.Message)

	case events.ErrorPayload:
		level := "warn"
		if p.Fatal {
			level = "error"
		}
		message := p.Message
		if p.Subject != "" {
			message = fmt.Sprintf("%s: %s", p.Subject, p.Message)
		}
		a.logs.AddLog(LogEntry{Time: ev.Timestamp, Level: level, Message: message})
	}
}

func (a *App) hydrate(data state.ResumeData) {
	a.tree.Reset()
	for _, n := range data.Nodes {
		a.tree.Upsert(n.Key, n.ParentKey, n.Name, n.Status)
	}
	for _, line := range data.Logs {
		a.logs.AddLog(LogEntry{Message: line})
	}
	if data.State != nil {
		a.header.SetPhase(data.State.CurrentPhase, "resumed")
	}
	a.refreshProgress()
}

func (a *App) refreshProgress() {
	counts := a.tree.Counts()
	a.header.SetProgress(counts[models.NodeStatusDone]+counts[models.NodeStatusFailed], a.tree.Len())
	a.footer.SetCounts(counts)
}

// View implements tea.Model.
func (a *App) View() string {
	if a.quitting {
		return ""
	}

	body := lipgloss.JoinHorizontal(lipgloss.Top, a.tree.View(), a.logs.View())
	return lipgloss.JoinVertical(lipgloss.Left, a.header.View(), body, a.footer.View())
}

// Done reports whether the session has finished and whether it succeeded.
func (a *App) Done() (done, success bool) {
	return a.sessionDone, a.success
}

var _ tea.Model = (*App)(nil)
