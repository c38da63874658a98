package logging

import "time"

type Level string

const (
	LevelDebug   Level = "debug"
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Context keys shared by every optsync component.
const (
	FieldCategory = "optsync.category"
	FieldPath     = "path"
	FieldError    = "error"
)

type LogEntry struct {
	Timestamp time.Time         `json:"timestamp"`
	Level     Level             `json:"level"`
	Message   string            `json:"message"`
	Context   map[string]string `json:"context,omitempty"`
}

// Type names the entry on the log hub's event bus.
func (entry LogEntry) Type() string {
	return "log." + string(entry.Level)
}

// String renders the entry the way the logger writes it to its output.
func (entry LogEntry) String() string {
	return formatEntry(entry)
}
