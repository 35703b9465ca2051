package tui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/ShayCichocki/explainit/internal/events"
)

// Sender delivers messages to a running program. *tea.Program satisfies it.
type Sender interface {
	Send(msg tea.Msg)
}

// NewProgram creates a full-screen program around a new App.
func NewProgram(topic, sessionID string, opts ...AppOption) (*tea.Program, *App) {
	app := NewApp(topic, sessionID, opts...)
	return tea.NewProgram(app, tea.WithAltScreen()), app
}

// Forward sends every event from stream to program until the stream is closed.
// Run it in its own goroutine.
func Forward(program Sender, stream *events.Stream) {
	for ev := range stream.Events() {
		program.Send(EventMsg{Event: ev})
	}
}
