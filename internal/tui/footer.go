package tui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/ShayCichocki/explainit/pkg/models"
)

// Footer renders the status bar and keyboard hints.
type Footer struct {
	message      string
	success      bool
	sessionDone  bool
	focusedPanel int
	width        int
	counts       map[models.NodeStatus]int

	// Styles
	successStyle   lipgloss.Style
	errorStyle     lipgloss.Style
	hintStyle      lipgloss.Style
	separatorStyle lipgloss.Style
}

// NewFooter creates a new Footer instance.
func NewFooter() *Footer {
	return &Footer{
		focusedPanel: panelTree,

		successStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("28")).
			Bold(true),

		errorStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true),

		hintStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")),

		separatorStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("236")),
	}
}

// SetMessage sets the status message.
func (f *Footer) SetMessage(message string, success bool) {
	f.message = message
	f.success = success
}

// SetSessionDone marks the session as complete.
func (f *Footer) SetSessionDone(success bool, message string) {
	f.sessionDone = true
	f.success = success
	f.message = message
}

// SetFocusedPanel sets which panel is currently focused.
func (f *Footer) SetFocusedPanel(panel int) {
	f.focusedPanel = panel
}

// SetWidth sets the footer width.
func (f *Footer) SetWidth(width int) {
	f.width = width
}

// SetCounts updates the node counts for display.
func (f *Footer) SetCounts(counts map[models.NodeStatus]int) {
	f.counts = counts
}

// View renders the footer.
func (f *Footer) View() string {
	var left string

	if done := f.counts[models.NodeStatusDone]; done+f.counts[models.NodeStatusFailed]+f.counts[models.NodeStatusInProgress] > 0 {
		left = fmt.Sprintf("✓%d", done)
		if failed := f.counts[models.NodeStatusFailed]; failed > 0 {
			left += f.errorStyle.Render(fmt.Sprintf(" ✗%d", failed))
		}
		if running := f.counts[models.NodeStatusInProgress]; running > 0 {
			left += fmt.Sprintf(" ⏳%d", running)
		}
	}

	if f.sessionDone {
		if f.success {
			left = f.successStyle.Render("✓ " + f.message)
		} else {
			left = f.errorStyle.Render("✗ " + f.message)
		}
	} else if f.message != "" {
		if left != "" {
			left += "  "
		}
		left += f.hintStyle.Render(f.message)
	}

	right := f.keyboardHints()
	if left == "" {
		return right
	}
	return left + f.separatorStyle.Render(" │ ") + right
}

// keyboardHints returns context-sensitive keyboard hints.
func (f *Footer) keyboardHints() string {
	if f.sessionDone {
		return f.hintStyle.Render("Press q to exit")
	}

	hints := "1/2 panels │ tab switch │ ↑/↓ scroll"
	if f.focusedPanel == panelLogs {
		hints += " │ a auto-scroll │ G bottom"
	}
	return f.hintStyle.Render(hints + " │ q quit")
}
