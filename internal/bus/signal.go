// Package bus implements the object-bus surface spec.md §6 describes:
// the Server, Session, and Connection objects, and the signals clients
// subscribe to over a WebSocket transport in place of the original
// D-Bus session bus.
package bus

import "time"

// Signal is one event broadcast to attached clients. Name identifies
// which of spec.md §6's signals this is; Path is the emitting object's
// bus path ("" for process-wide Server signals).
type Signal struct {
	Name      string         `json:"name"`
	Path      string         `json:"path,omitempty"`
	Payload   map[string]any `json:"payload"`
	Timestamp time.Time      `json:"timestamp"`
	Sequence  int64          `json:"sequence"`
}

// Signal names, one per spec.md §6 signal.
const (
	SignalSessionChanged    = "SessionChanged"
	SignalPresence          = "Presence"
	SignalTemplatesChanged  = "TemplatesChanged"
	SignalConfigChanged     = "ConfigChanged"
	SignalInfoRequest       = "InfoRequest"
	SignalLogOutput         = "LogOutput"
	SignalStatusChanged     = "StatusChanged"
	SignalProgressChanged   = "ProgressChanged"
	SignalAbort             = "Abort"
	SignalReply             = "Reply"
)

func newSignal(name, path string, payload map[string]any) Signal {
	return Signal{Name: name, Path: path, Payload: payload, Timestamp: time.Now()}
}
