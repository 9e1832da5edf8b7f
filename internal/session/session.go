// Package session implements the per-sync session state machine
// (spec.md §4.5): QUEUED -> IDLE -> RUNNING -> DONE, with ABORTING and
// SUSPENDING reachable from RUNNING. A Session owns progress/status
// reporting and, while active, the exclusive config-write lock.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/syncevo/pimsyncd/internal/apperror"
	"github.com/syncevo/pimsyncd/internal/peerconfig"
)

// State is one node of the session state machine.
type State int

const (
	Queued State = iota
	Idle
	Running
	Aborting
	Suspending
	Done
)

func (s State) String() string {
	switch s {
	case Queued:
		return "QUEUED"
	case Idle:
		return "IDLE"
	case Running:
		return "RUNNING"
	case Aborting:
		return "ABORTING"
	case Suspending:
		return "SUSPENDING"
	case Done:
		return "DONE"
	default:
		return "UNKNOWN"
	}
}

// Priority orders the scheduler's queue; lower runs sooner.
type Priority int

const (
	PriorityCmdline    Priority = -10
	PriorityDefault    Priority = 0
	PriorityConnection Priority = 10
	PriorityAutoSync   Priority = 20
)

// SourceStatus is the per-source outcome reported in GetStatus.
type SourceStatus struct {
	Source string
	Status apperror.Code
}

// SourceProgress is the per-source contribution to GetProgress.
type SourceProgress struct {
	Source  string
	Percent int
}

// PasswordRequest describes a credential the engine demanded but the
// keyring did not satisfy (spec.md §4.5 "Password request").
type PasswordRequest struct {
	Description string
	Key         string
}

// Runner performs the actual sync/restore/execute work on behalf of a
// Session, decoupling the state machine from component D/G wiring so it
// can be tested in isolation.
type Runner interface {
	// Sync drives the engine for the given per-source sync modes,
	// returning the final per-source statuses. It must honor ctx
	// cancellation as an abort request.
	Sync(ctx context.Context, cfg *peerconfig.Config, perSourceModes map[string]peerconfig.SyncMode, progress func(Estimate)) ([]SourceStatus, error)

	// Restore invokes component C restore semantics for the named
	// sources (or all, if empty) from the snapshot directory dir.
	Restore(ctx context.Context, dir string, before bool, sources []string) error

	// Execute runs a command-line operation inside the session.
	Execute(ctx context.Context, argv, envp []string) error
}

// Session is one logical sync (or admin op) against one peer.
type Session struct {
	mu sync.Mutex

	ID           string
	ConfigName   string
	PeerDeviceID string
	Priority     Priority
	Flags        []string

	state    State
	active   bool
	err      error
	statuses []SourceStatus

	estimator *Estimator
	runner    Runner
	config    *peerconfig.Config

	statusLimiter   *rate.Limiter
	progressLimiter *rate.Limiter

	pendingPassword *PasswordRequest
	passwordCh      chan string

	cancel context.CancelFunc

	onStatusChanged   []func(Session *Session)
	onProgressChanged []func(Session *Session, est Estimate)
}

// New creates a queued Session.
func New(id, configName string, priority Priority, runner Runner, cfg *peerconfig.Config) *Session {
	return &Session{
		ID:              id,
		ConfigName:      configName,
		Priority:        priority,
		state:           Queued,
		runner:          runner,
		config:          cfg,
		estimator:       NewEstimator(),
		statusLimiter:   rate.NewLimiter(rate.Limit(10), 1),
		progressLimiter: rate.NewLimiter(rate.Limit(20), 1),
	}
}

// State returns the current state under lock.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetActive marks the session as holding the config lock, the
// precondition for set_config/sync/execute (spec.md §4.5).
func (s *Session) SetActive(active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = active
	if active && s.state == Queued {
		s.state = Idle
	}
}

// IsActive reports whether this session currently holds the config
// lock.
func (s *Session) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// requireState enforces the InvalidCall rule: "each method checks the
// current state and raises InvalidCall if not permitted".
func (s *Session) requireState(allowed ...State) error {
	for _, st := range allowed {
		if s.state == st {
			return nil
		}
	}
	return apperror.New(apperror.InvalidCall, fmt.Sprintf("method not permitted in state %s", s.state))
}

// SetConfig applies a batch of peer-level property updates. Only legal
// in IDLE while active (spec.md §4.5 set_config).
func (s *Session) SetConfig(update, temporary bool, props map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireState(Idle); err != nil {
		return err
	}
	if !s.active {
		return apperror.New(apperror.InvalidCall, "set_config requires the active-session slot")
	}
	if !update && !temporary && len(props) == 0 {
		// Replace with an empty durable config: delete the whole config.
		s.config = nil
		return nil
	}
	if err := peerconfig.ApplyProperties(s.config, props); err != nil {
		return err
	}
	return nil
}

// Sync transitions IDLE -> RUNNING, drives Runner.Sync to completion,
// and leaves the session in DONE.
func (s *Session) Sync(ctx context.Context, perSourceModes map[string]peerconfig.SyncMode) error {
	s.mu.Lock()
	if err := s.requireState(Idle); err != nil {
		s.mu.Unlock()
		return err
	}
	if !s.active {
		s.mu.Unlock()
		return apperror.New(apperror.InvalidCall, "sync requires the active-session slot")
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.state = Running
	cfg := s.config
	s.mu.Unlock()

	statuses, err := s.runner.Sync(runCtx, cfg, perSourceModes, s.reportProgress)

	s.mu.Lock()
	s.statuses = statuses
	// Abort already recorded a StatusUserAbort error and moved the
	// session to Aborting; the runner's raw cancellation error (e.g.
	// context.Canceled) must not clobber that code.
	if s.state == Aborting {
		err = s.err
	} else {
		s.err = err
	}
	s.state = Done
	s.cancel = nil
	s.mu.Unlock()
	s.notifyStatus()
	return err
}

// Restore drives Runner.Restore; mutually exclusive with Sync.
func (s *Session) Restore(ctx context.Context, dir string, before bool, sources []string) error {
	s.mu.Lock()
	if err := s.requireState(Idle); err != nil {
		s.mu.Unlock()
		return err
	}
	s.state = Running
	s.mu.Unlock()

	err := s.runner.Restore(ctx, dir, before, sources)

	s.mu.Lock()
	s.err = err
	s.state = Done
	s.mu.Unlock()
	s.notifyStatus()
	return err
}

// Execute runs a command-line operation inside the session, serialized
// by the scheduler alongside syncs.
func (s *Session) Execute(ctx context.Context, argv, envp []string) error {
	s.mu.Lock()
	if err := s.requireState(Idle); err != nil {
		s.mu.Unlock()
		return err
	}
	if !s.active {
		s.mu.Unlock()
		return apperror.New(apperror.InvalidCall, "execute requires the active-session slot")
	}
	s.state = Running
	s.mu.Unlock()

	err := s.runner.Execute(ctx, argv, envp)

	s.mu.Lock()
	s.err = err
	s.state = Done
	s.mu.Unlock()
	s.notifyStatus()
	return err
}

// Abort requests engine-unwind at the next safe point; only legal in
// RUNNING. Final status becomes StatusUserAbort.
func (s *Session) Abort() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireState(Running); err != nil {
		return err
	}
	s.state = Aborting
	if s.cancel != nil {
		s.cancel()
	}
	s.err = apperror.New(apperror.StatusUserAbort, "aborted")
	return nil
}

// Suspend requests the engine persist a resume token and stop; only
// legal in RUNNING.
func (s *Session) Suspend() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireState(Running); err != nil {
		return err
	}
	s.state = Suspending
	if s.cancel != nil {
		s.cancel()
	}
	return nil
}

// GetStatus always returns the current state, the terminal error (if
// any) and per-source statuses.
func (s *Session) GetStatus() (State, error, []SourceStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.err, append([]SourceStatus(nil), s.statuses...)
}

// Config returns the session's current in-memory config (nil once
// set_config has deleted it).
func (s *Session) Config() *peerconfig.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config
}

// GetProgress returns the estimator's current projection.
func (s *Session) GetProgress() Estimate {
	return s.estimator.Current()
}

// RequestPassword emits a typed credential request and blocks until a
// response arrives or timeout elapses (spec.md §4.5 "Password
// request"), default 120s.
func (s *Session) RequestPassword(ctx context.Context, req PasswordRequest, timeout time.Duration) (string, error) {
	s.mu.Lock()
	s.pendingPassword = &req
	s.passwordCh = make(chan string, 1)
	ch := s.passwordCh
	s.mu.Unlock()

	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case pw := <-ch:
		return pw, nil
	case <-timer.C:
		return "", apperror.New(apperror.StatusPasswordTimeout, "credential not supplied in time")
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// SupplyPassword delivers a credential response, routed back through
// the scheduler from a client.
func (s *Session) SupplyPassword(password string) {
	s.mu.Lock()
	ch := s.passwordCh
	s.pendingPassword = nil
	s.mu.Unlock()
	if ch != nil {
		select {
		case ch <- password:
		default:
		}
	}
}

// OnStatusChanged adds a callback fired whenever GetStatus's result
// changes, rate-limited to ~10/s with a forced flush on terminal
// transitions (spec.md §4.5 "Status/progress emission"). Multiple
// callbacks may be registered (e.g. the scheduler's own completion
// tracking alongside a bus signal forwarder); all run on every change.
func (s *Session) OnStatusChanged(fn func(*Session)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onStatusChanged = append(s.onStatusChanged, fn)
}

// OnProgressChanged adds a callback fired on progress updates,
// rate-limited to ~20/s.
func (s *Session) OnProgressChanged(fn func(*Session, Estimate)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onProgressChanged = append(s.onProgressChanged, fn)
}

func (s *Session) notifyStatus() {
	s.mu.Lock()
	callbacks := s.onStatusChanged
	terminal := s.state == Done
	allow := terminal || s.statusLimiter.Allow()
	s.mu.Unlock()
	if !allow {
		return
	}
	for _, fn := range callbacks {
		fn(s)
	}
}

func (s *Session) reportProgress(est Estimate) {
	s.mu.Lock()
	s.estimator.Update(est)
	callbacks := s.onProgressChanged
	allow := s.progressLimiter.Allow()
	current := s.estimator.Current()
	s.mu.Unlock()
	if !allow {
		return
	}
	for _, fn := range callbacks {
		fn(s, current)
	}
}
