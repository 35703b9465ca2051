package tui

import (
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// maxLogs bounds the entries kept in memory.
const maxLogs = 1000

// LogEntry is a single line in the logs panel. Level is empty for lines
// replayed from a session's debug log.
type LogEntry struct {
	Time    time.Time
	Level   string
	Message string
}

// LogsPanel shows the session log in a scrollable viewport.
type LogsPanel struct {
	logs       []LogEntry
	viewport   viewport.Model
	autoScroll bool
	width      int
	height     int
	focused    bool

	// Styles
	titleStyle   lipgloss.Style
	filterStyle  lipgloss.Style
	infoStyle    lipgloss.Style
	warnStyle    lipgloss.Style
	errorStyle   lipgloss.Style
	debugStyle   lipgloss.Style
	timeStyle    lipgloss.Style
	messageStyle lipgloss.Style
}

// NewLogsPanel creates an empty LogsPanel.
func NewLogsPanel() *LogsPanel {
	return &LogsPanel{
		viewport:   viewport.New(0, 0),
		autoScroll: true,

		titleStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Padding(0, 1),

		filterStyle: lipgloss.NewStyle().
			Background(lipgloss.Color("236")).
			Foreground(lipgloss.Color("252")).
			Padding(0, 1),

		infoStyle:    lipgloss.NewStyle().Foreground(lipgloss.Color("34")),  // Green
		warnStyle:    lipgloss.NewStyle().Foreground(lipgloss.Color("214")), // Orange
		errorStyle:   lipgloss.NewStyle().Foreground(lipgloss.Color("196")), // Red
		debugStyle:   lipgloss.NewStyle().Foreground(lipgloss.Color("244")), // Gray
		timeStyle:    lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
		messageStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("252")),
	}
}

// AddLog appends an entry, trimming the oldest past maxLogs.
func (p *LogsPanel) AddLog(entry LogEntry) {
	p.logs = append(p.logs, entry)
	if len(p.logs) > maxLogs {
		p.logs = p.logs[len(p.logs)-maxLogs:]
	}
	p.refresh()
}

// Logs returns the retained entries.
func (p *LogsPanel) Logs() []LogEntry {
	return p.logs
}

// SetSize updates the panel dimensions.
func (p *LogsPanel) SetSize(width, height int) {
	p.width = width
	p.height = height
	p.viewport.Width = max(width-4, 1)
	p.viewport.Height = max(height-3, 1)
	p.refresh()
}

// SetFocused sets whether this panel has keyboard focus.
func (p *LogsPanel) SetFocused(focused bool) {
	p.focused = focused
}

// Update handles scrolling when focused.
func (p *LogsPanel) Update(msg tea.Msg) (*LogsPanel, tea.Cmd) {
	if !p.focused {
		return p, nil
	}

	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.String() {
		case "G":
			p.autoScroll = true
			p.viewport.GotoBottom()
			return p, nil
		case "g":
			p.autoScroll = false
			p.viewport.GotoTop()
			return p, nil
		case "a":
			p.autoScroll = !p.autoScroll
			if p.autoScroll {
				p.viewport.GotoBottom()
			}
			return p, nil
		}
	}

	var cmd tea.Cmd
	p.viewport, cmd = p.viewport.Update(msg)
	if !p.viewport.AtBottom() {
		p.autoScroll = false
	}
	return p, cmd
}

func (p *LogsPanel) refresh() {
	lines := make([]string, len(p.logs))
	for i, entry := range p.logs {
		lines[i] = p.renderLogLine(entry)
	}
	p.viewport.SetContent(strings.Join(lines, "\n"))
	if p.autoScroll {
		p.viewport.GotoBottom()
	}
}

// renderLogLine renders a single log entry.
func (p *LogsPanel) renderLogLine(entry LogEntry) string {
	msg := entry.Message
	if maxLen := p.width - 16; maxLen > 20 && len(msg) > maxLen {
		msg = msg[:maxLen-3] + "..."
	}
	if entry.Level == "" {
		return p.debugStyle.Render(msg)
	}

	levelStyle := p.infoStyle
	levelIcon := "I"
	switch strings.ToLower(entry.Level) {
	case "warn":
		levelStyle = p.warnStyle
		levelIcon = "W"
	case "error", "dpanic", "panic", "fatal":
		levelStyle = p.errorStyle
		levelIcon = "E"
	case "debug":
		levelStyle = p.debugStyle
		levelIcon = "D"
	}

	parts := []string{
		p.timeStyle.Render(entry.Time.Format("15:04:05")),
		levelStyle.Render(levelIcon),
		p.messageStyle.Render(msg),
	}
	return strings.Join(parts, " ")
}

// View renders the logs panel.
func (p *LogsPanel) View() string {
	var b strings.Builder

	title := "Logs"
	if p.focused {
		title = "[Logs]"
	}
	b.WriteString(p.titleStyle.Render(title))
	if p.autoScroll {
		b.WriteString(p.filterStyle.Render("(auto)"))
	}
	b.WriteString("\n")

	if len(p.logs) == 0 {
		b.WriteString(p.timeStyle.Italic(true).Render("  No logs"))
	} else {
		b.WriteString(p.viewport.View())
	}

	borderColor := lipgloss.Color("240")
	if p.focused {
		borderColor = lipgloss.Color("63") // Blue when focused
	}
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(borderColor).
		Width(max(p.width-2, 0)).
		Height(max(p.height-2, 0)).
		Render(b.String())
}
