package autosync

import "time"

// urlEntry is one entry in a task's URL list: the presence kind implied
// by the URL's scheme, kept alongside the URL itself so the decision
// loop doesn't need to re-parse it every tick.
type urlEntry struct {
	url  string
	kind string
}

// Task is the per-config auto-sync state the decision loop scans
// (spec.md §4.10).
type Task struct {
	ConfigName string
	Interval   time.Duration
	Delay      time.Duration
	URLs       []urlEntry

	PermanentFailure bool
	LastSyncTime     time.Time
	NeverSucceeded   bool
	LastWasSuccess   bool

	timer *time.Timer
}

// Eligible reports spec.md §4.10's eligibility rule: "interval > 0 ∧
// ¬permanent_failure ∧ url_list ≠ ∅".
func (t *Task) Eligible() bool {
	return t.Interval > 0 && !t.PermanentFailure && len(t.URLs) > 0
}
