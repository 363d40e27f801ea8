package domain

import "time"

// LogEntry is one append-only strategy event. The UI consumer flips Displayed
// after rendering; the engine never mutates an entry once appended.
type LogEntry struct {
	Time      time.Time `json:"time"`
	Strategy  string    `json:"strategy"`
	Message   string    `json:"message"`
	Displayed bool      `json:"displayed"`
}
