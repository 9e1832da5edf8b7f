// Package autosync implements the auto-sync manager (spec.md §4.10):
// a per-config task cache rebuilt on every config change, driven by a
// three-trigger decision loop (scheduler idle, presence edge, per-task
// timer).
package autosync

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/syncevo/pimsyncd/internal/apperror"
	"github.com/syncevo/pimsyncd/internal/metrics"
	"github.com/syncevo/pimsyncd/internal/peerconfig"
	"github.com/syncevo/pimsyncd/internal/presence"
	"github.com/syncevo/pimsyncd/internal/session"
)

// NotificationKind names one of the three user-facing outcomes spec.md
// §4.10 defines.
type NotificationKind int

const (
	FirstSuccessThenOK NotificationKind = iota
	FirstSuccessThenFail
	NeverSucceededPermanentFailure
)

// Notifier is the OS notification facade; temporary failures never
// reach it (spec.md §4.10: "temporary failures are silent").
type Notifier interface {
	Notify(configName string, kind NotificationKind)
}

// Host is what the manager needs from the scheduler: minting an ID,
// registering a session, and enqueueing it with AUTOSYNC priority.
type Host interface {
	MintSessionID() string
	Enqueue(sess *session.Session) error
}

// RunnerFactory builds the Runner a newly-created auto-sync Session
// drives sync through, scoped to one config.
type RunnerFactory func(configName string) session.Runner

// Manager implements component J.
type Manager struct {
	mu sync.Mutex

	tasks    map[string]*Task
	presence *presence.Monitor
	host     Host
	runnerOf RunnerFactory
	notifier Notifier
	logger   *slog.Logger
	metrics  *metrics.AutoSyncMetrics

	now func() time.Time
}

// New creates a Manager wired to mon for presence edges.
func New(mon *presence.Monitor, host Host, runnerOf RunnerFactory, notifier Notifier, logger *slog.Logger, m *metrics.AutoSyncMetrics) *Manager {
	mgr := &Manager{
		tasks:    make(map[string]*Task),
		presence: mon,
		host:     host,
		runnerOf: runnerOf,
		notifier: notifier,
		logger:   logger.With("component", "autosync"),
		metrics:  m,
		now:      time.Now,
	}
	if mon != nil {
		mon.OnEdge(func(kind presence.Kind, st presence.Status) {
			mgr.RunDecisionLoop()
		})
	}
	return mgr
}

// RebuildTasks replaces the task cache from the current config set,
// preserving LastSyncTime/PermanentFailure/NeverSucceeded bookkeeping
// for configs that still exist (spec.md §4.10: "On every config change
// signal, rebuilds the per-config task cache").
func (m *Manager) RebuildTasks(configs map[string]*peerconfig.Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := make(map[string]*Task, len(configs))
	for name, cfg := range configs {
		if !cfg.AutoSyncEnabled("http") && !cfg.AutoSyncEnabled("obex-bt") {
			continue
		}
		task := &Task{
			ConfigName: name,
			Interval:   cfg.AutoSyncInterval,
			Delay:      cfg.AutoSyncDelay,
			URLs:       urlEntriesFor(cfg.SyncURL),
		}
		if prev, ok := m.tasks[name]; ok {
			task.LastSyncTime = prev.LastSyncTime
			task.PermanentFailure = prev.PermanentFailure
			task.NeverSucceeded = prev.NeverSucceeded
			task.LastWasSuccess = prev.LastWasSuccess
		} else {
			task.NeverSucceeded = true
		}
		next[name] = task
	}
	m.tasks = next
}

func urlEntriesFor(urls []string) []urlEntry {
	out := make([]urlEntry, 0, len(urls))
	for _, u := range urls {
		out = append(out, urlEntry{url: u, kind: string(presence.KindForURL(u))})
	}
	return out
}

// RunDecisionLoop executes spec.md §4.10's per-task algorithm, in
// config-name order, for every trigger (idle, presence edge, timer).
func (m *Manager) RunDecisionLoop() {
	m.mu.Lock()
	names := make([]string, 0, len(m.tasks))
	for name := range m.tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	now := m.now()
	m.mu.Unlock()

	for _, name := range names {
		m.evaluateTask(name, now)
	}
}

func (m *Manager) evaluateTask(name string, now time.Time) {
	m.mu.Lock()
	task, ok := m.tasks[name]
	if !ok || !task.Eligible() {
		m.mu.Unlock()
		return
	}

	if !task.LastSyncTime.IsZero() {
		remaining := task.Interval - now.Sub(task.LastSyncTime)
		if remaining > 0 {
			m.armTimerLocked(task, remaining)
			m.mu.Unlock()
			return
		}
	}

	var chosenURL string
	for _, entry := range task.URLs {
		if entry.kind == string(presence.Other) {
			chosenURL = entry.url
			break
		}
		st := m.presenceStatus(entry.kind)
		if st.Since.IsZero() {
			// presence_timestamp == 0: absent. Rely on the global
			// OnEdge subscription to re-run the loop on the next edge;
			// nothing to arm here.
			continue
		}
		if task.Delay <= 0 || now.Sub(st.Since) >= task.Delay {
			chosenURL = entry.url
			break
		}
		remaining := task.Delay - now.Sub(st.Since)
		m.armTimerLocked(task, remaining)
	}

	if chosenURL == "" {
		m.mu.Unlock()
		return
	}
	task.LastSyncTime = now
	host, runnerOf := m.host, m.runnerOf
	m.mu.Unlock()

	m.startSession(name, chosenURL, host, runnerOf)
}

func (m *Manager) presenceStatus(kind string) presence.Status {
	if m.presence == nil {
		return presence.Status{Available: true, Since: time.Time{}}
	}
	return m.presence.Get(presence.Kind(kind))
}

// armTimerLocked schedules the decision loop to re-run after d. Caller
// holds m.mu.
func (m *Manager) armTimerLocked(task *Task, d time.Duration) {
	if task.timer != nil {
		task.timer.Stop()
	}
	if d <= 0 {
		d = time.Millisecond
	}
	task.timer = time.AfterFunc(d, m.RunDecisionLoop)
}

func (m *Manager) startSession(configName, url string, host Host, runnerOf RunnerFactory) {
	if host == nil || runnerOf == nil {
		return
	}
	cfg := peerconfig.NewConfig(configName)
	cfg.SyncURL = []string{url}

	id := host.MintSessionID()
	sess := session.New(id, configName, session.PriorityAutoSync, runnerOf(configName), cfg)
	sess.SetActive(true)

	sess.OnStatusChanged(func(s *session.Session) {
		if s.State() == session.Done {
			_, _, statuses := s.GetStatus()
			m.recordOutcome(configName, statuses)
		}
	})

	if err := host.Enqueue(sess); err != nil {
		m.logger.Warn("auto-sync enqueue failed", "config", configName, "error", err)
		return
	}

	go func() { _ = sess.Sync(context.Background(), nil) }()
}

// recordOutcome applies spec.md §4.10's permanent_failure rule and
// fires the appropriate notification.
func (m *Manager) recordOutcome(configName string, statuses []session.SourceStatus) {
	success := true
	var failureCode apperror.Code
	for _, st := range statuses {
		if st.Status != "" {
			success = false
			failureCode = st.Status
			break
		}
	}

	m.mu.Lock()
	task, ok := m.tasks[configName]
	if !ok {
		m.mu.Unlock()
		return
	}

	wasNeverSucceeded := task.NeverSucceeded
	wasLastSuccess := task.LastWasSuccess

	if success {
		task.PermanentFailure = false
		task.NeverSucceeded = false
		task.LastWasSuccess = true
	} else {
		task.PermanentFailure = failureCode != apperror.TransportFailure
		task.LastWasSuccess = false
	}
	notifier := m.notifier
	m.mu.Unlock()

	if notifier == nil {
		return
	}
	switch {
	case success && !wasNeverSucceeded && !wasLastSuccess:
		notifier.Notify(configName, FirstSuccessThenOK)
	case !success && !wasNeverSucceeded && wasLastSuccess:
		notifier.Notify(configName, FirstSuccessThenFail)
	case !success && wasNeverSucceeded && (failureCode != apperror.TransportFailure):
		notifier.Notify(configName, NeverSucceededPermanentFailure)
	}
}

// ShutdownVote reports whether shutdown-on-upgrade should prefer exec
// over exit: true if any task is currently eligible (spec.md §4.10).
func (m *Manager) ShutdownVote() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, task := range m.tasks {
		if task.Eligible() {
			return true
		}
	}
	return false
}
