package tui

import (
	"github.com/ShayCichocki/explainit/internal/events"
	"github.com/ShayCichocki/explainit/internal/state"
)

// EventMsg carries one bus event into the program.
type EventMsg struct {
	Event events.Event
}

// SessionDoneMsg signals that the session finished.
type SessionDoneMsg struct {
	Success bool
	Message string
}

// HydrateMsg redraws a resumed session from persisted state before fresh
// events arrive.
type HydrateMsg struct {
	Data state.ResumeData
}
