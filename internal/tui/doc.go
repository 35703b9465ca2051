// Package tui renders a running explanation session in the terminal.
//
// The App model shows the concept tree as it grows alongside the session's
// log stream. Events arrive from an events.Stream through Forward, which
// turns every event into an EventMsg for the bubbletea program.
package tui
