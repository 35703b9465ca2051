package tui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"

	"github.com/ShayCichocki/explainit/pkg/models"
)

// Header renders the topic, current phase and overall progress.
type Header struct {
	topic     string
	sessionID string
	phase     models.Phase
	message   string
	finished  int
	total     int
	width     int
	progress  progress.Model

	titleStyle   lipgloss.Style
	phaseStyle   lipgloss.Style
	sessionStyle lipgloss.Style
}

// NewHeader creates a Header for topic.
func NewHeader(topic, sessionID string) *Header {
	return &Header{
		topic:     topic,
		sessionID: sessionID,
		width:     80,
		progress:  progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),

		titleStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#45B7D1")),
		phaseStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFC857")),
		sessionStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("243")).
			Italic(true),
	}
}

// SetWidth sets the header width.
func (h *Header) SetWidth(width int) {
	h.width = width
	h.progress.Width = max(width/2, 10)
}

// SetPhase records the latest workflow phase.
func (h *Header) SetPhase(phase models.Phase, message string) {
	h.phase = phase
	h.message = message
}

// Phase returns the latest workflow phase.
func (h *Header) Phase() models.Phase {
	return h.phase
}

// SetProgress records how many of total nodes have finished.
func (h *Header) SetProgress(finished, total int) {
	h.finished = finished
	h.total = total
}

// Percent returns the finished fraction in [0, 1].
func (h *Header) Percent() float64 {
	if h.total == 0 {
		return 0
	}
	return float64(h.finished) / float64(h.total)
}

// View renders the header.
func (h *Header) View() string {
	title := h.titleStyle.Render("explainit · " + h.topic)
	if h.sessionID != "" {
		title += "  " + h.sessionStyle.Render(h.sessionID)
	}

	phase := "starting"
	if h.phase != "" {
		phase = string(h.phase)
	}
	if h.message != "" {
		phase += ": " + h.message
	}

	bar := fmt.Sprintf("%s %d/%d", h.progress.ViewAs(h.Percent()), h.finished, h.total)

	return lipgloss.NewStyle().
		Width(h.width).
		PaddingBottom(1).
		Render(lipgloss.JoinVertical(lipgloss.Left, title, h.phaseStyle.Render(phase), bar))
}

// Height returns the header height in lines.
func (h *Header) Height() int {
	return 4 // title, phase, progress bar and padding
}
