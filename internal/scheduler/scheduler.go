// Package scheduler implements the singleton process-wide coordinator
// (spec.md §4.8): client registry, priority queue, activation,
// kill-by-device, delayed destruction, unique session IDs,
// shutdown-on-upgrade, info-request brokerage, and signal-log
// forwarding.
package scheduler

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/syncevo/pimsyncd/internal/apperror"
	"github.com/syncevo/pimsyncd/internal/metrics"
	"github.com/syncevo/pimsyncd/internal/session"
)

const (
	schedulerPath = "/org/pimsyncd/Server"

	// destroyGrace is how long a done session is kept alive after its
	// last client detaches, per spec.md §4.8.5.
	destroyGrace = 60 * time.Second
)

// sessionEntry is everything the scheduler tracks about one session
// beyond the Session itself.
type sessionEntry struct {
	sess      *session.Session
	clients   *clientRegistry
	destroyAt *time.Timer
}

// Scheduler is the singleton coordinator described in spec.md §4.8.
type Scheduler struct {
	mu sync.Mutex

	sessions map[string]*sessionEntry
	queue    *priorityQueue
	active   *sessionEntry

	idCounter uint64

	shutdownRequested bool

	logger  *slog.Logger
	metrics *metrics.SchedulerMetrics

	infoRequests map[string]*infoRequest

	onSessionChanged func(path string, active bool)
}

// New creates an idle Scheduler. counterSeed should be derived from
// wall-clock at startup (spec.md §4.8.6); passing 0 lets New seed it
// itself.
func New(logger *slog.Logger, m *metrics.SchedulerMetrics, counterSeed uint64) *Scheduler {
	if counterSeed == 0 {
		counterSeed = uint64(time.Now().UnixNano())
	}
	return &Scheduler{
		sessions:     make(map[string]*sessionEntry),
		queue:        newPriorityQueue(),
		idCounter:    counterSeed,
		logger:       logger.With("component", "scheduler", "path", schedulerPath),
		metrics:      m,
		infoRequests: make(map[string]*infoRequest),
	}
}

// OnSessionChanged registers the SessionChanged(path, active) signal
// callback (spec.md §6).
func (s *Scheduler) OnSessionChanged(fn func(path string, active bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onSessionChanged = fn
}

// MintSessionID combines a random 32-bit value with a monotonically
// incrementing counter, rejecting the astronomically unlikely
// collision (spec.md §4.8.6).
func (s *Scheduler) MintSessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		s.idCounter++
		id := fmt.Sprintf("%08x-%d", randomUint32(), s.idCounter)
		if _, exists := s.sessions[id]; !exists {
			return id
		}
	}
}

func randomUint32() uint32 {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return uint32(time.Now().UnixNano())
	}
	return binary.BigEndian.Uint32(buf[:])
}

// SessionPath returns the D-Bus-style object path for a session ID.
func SessionPath(id string) string {
	return fmt.Sprintf("/org/pimsyncd/Session/%s", id)
}

// Shutdown-requested guard: refuse new enqueues once an upgrade has been
// detected (spec.md §4.8.7).
func (s *Scheduler) refuseIfShuttingDown() error {
	if s.shutdownRequested {
		return apperror.New(apperror.InvalidCall, "scheduler is shutting down, refusing new work")
	}
	return nil
}

// Enqueue inserts sess into the priority queue and attempts activation.
func (s *Scheduler) Enqueue(sess *session.Session) error {
	s.mu.Lock()
	if err := s.refuseIfShuttingDown(); err != nil {
		s.mu.Unlock()
		return err
	}
	entry, ok := s.sessions[sess.ID]
	if !ok {
		entry = &sessionEntry{sess: sess, clients: newClientRegistry()}
		s.sessions[sess.ID] = entry
	}
	s.queue.enqueue(sess)
	if s.metrics != nil {
		s.metrics.QueueDepth.Set(float64(s.queue.len()))
	}
	s.mu.Unlock()

	s.tryActivate()
	return nil
}

// Register tracks a Session the caller constructed directly (e.g. a
// Connection-initiated session), without enqueueing it yet.
func (s *Scheduler) Register(sess *session.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.ID]; !ok {
		s.sessions[sess.ID] = &sessionEntry{sess: sess, clients: newClientRegistry()}
	}
}

// tryActivate pops the queue front and activates it if no session is
// currently active (spec.md §4.8.3).
func (s *Scheduler) tryActivate() {
	s.mu.Lock()
	if s.active != nil {
		s.mu.Unlock()
		return
	}
	sess := s.queue.pop()
	if sess == nil {
		s.mu.Unlock()
		return
	}
	entry := s.sessions[sess.ID]
	if entry == nil {
		entry = &sessionEntry{sess: sess, clients: newClientRegistry()}
		s.sessions[sess.ID] = entry
	}
	s.active = entry
	if s.metrics != nil {
		s.metrics.QueueDepth.Set(float64(s.queue.len()))
		s.metrics.Activations.Inc()
	}
	onChanged := s.onSessionChanged
	s.mu.Unlock()

	sess.SetActive(true)
	sess.OnStatusChanged(func(active *session.Session) {
		if active.State() == session.Done {
			s.onSessionCompleted(active)
		}
	})
	if onChanged != nil {
		onChanged(SessionPath(sess.ID), true)
	}
}

// onSessionCompleted clears the active slot, arms delayed destruction if
// no clients remain attached, and tries to activate the next queued
// session.
func (s *Scheduler) onSessionCompleted(sess *session.Session) {
	s.mu.Lock()
	if s.active != nil && s.active.sess.ID == sess.ID {
		entry := s.active
		s.active = nil
		s.armDestructionLocked(entry)
	}
	s.mu.Unlock()

	s.tryActivate()
}

// armDestructionLocked starts the ≈60s grace timer for a done session
// with no attached clients (spec.md §4.8.5). Caller holds s.mu.
func (s *Scheduler) armDestructionLocked(entry *sessionEntry) {
	if !entry.clients.IsEmpty() {
		return
	}
	id := entry.sess.ID
	entry.destroyAt = time.AfterFunc(destroyGrace, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if cur, ok := s.sessions[id]; ok && cur.clients.IsEmpty() {
			delete(s.sessions, id)
		}
	})
}

// KillByDevice drops all queued sessions for peerDeviceID and aborts the
// active session if it matches (spec.md §4.8.4).
func (s *Scheduler) KillByDevice(peerDeviceID string) {
	if peerDeviceID == "" {
		return
	}
	s.mu.Lock()
	removed := s.queue.removeByDeviceID(peerDeviceID)
	for _, sess := range removed {
		delete(s.sessions, sess.ID)
	}
	var toAbort *session.Session
	if s.active != nil && s.active.sess.PeerDeviceID == peerDeviceID {
		toAbort = s.active.sess
	}
	if s.metrics != nil {
		s.metrics.QueueDepth.Set(float64(s.queue.len()))
		if len(removed) > 0 || toAbort != nil {
			s.metrics.KillsByDevice.Inc()
		}
	}
	s.mu.Unlock()

	if toAbort != nil {
		_ = toAbort.Abort()
	}
}

// Attach registers clientID against sessionID, cancelling any pending
// destruction timer.
func (s *Scheduler) Attach(sessionID, clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.sessions[sessionID]
	if !ok {
		return apperror.New(apperror.NoSuchConfig, "no such session: "+sessionID)
	}
	if entry.destroyAt != nil {
		entry.destroyAt.Stop()
		entry.destroyAt = nil
	}
	entry.clients.Attach(clientID)
	return nil
}

// Detach deregisters clientID from sessionID, arming delayed destruction
// if the session is done and no clients remain.
func (s *Scheduler) Detach(sessionID, clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.sessions[sessionID]
	if !ok {
		return apperror.New(apperror.NoSuchConfig, "no such session: "+sessionID)
	}
	empty := entry.clients.Detach(clientID)
	if empty && entry.sess.State() == session.Done {
		s.armDestructionLocked(entry)
	}
	return nil
}

// EnableNotifications turns on progress/status delivery for clientID on
// sessionID (spec.md §6 Server.EnableNotifications).
func (s *Scheduler) EnableNotifications(sessionID, clientID string) error {
	return s.setNotifications(sessionID, clientID, true)
}

// DisableNotifications turns off progress/status delivery for clientID
// on sessionID.
func (s *Scheduler) DisableNotifications(sessionID, clientID string) error {
	return s.setNotifications(sessionID, clientID, false)
}

func (s *Scheduler) setNotifications(sessionID, clientID string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.sessions[sessionID]
	if !ok {
		return apperror.New(apperror.NoSuchConfig, "no such session: "+sessionID)
	}
	entry.clients.SetNotifications(clientID, enabled)
	return nil
}

// GetSessions returns object paths for the active session first, then
// the queued sessions in queue order. A session that is only registered
// (tracked but never enqueued) is not listed.
func (s *Scheduler) GetSessions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var paths []string
	if s.active != nil {
		paths = append(paths, SessionPath(s.active.sess.ID))
	}
	for _, sess := range s.queue.snapshot() {
		paths = append(paths, SessionPath(sess.ID))
	}
	return paths
}

// ActiveSession returns the currently active Session, or nil.
func (s *Scheduler) ActiveSession() *session.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return nil
	}
	return s.active.sess
}

// Lookup returns a tracked session by ID.
func (s *Scheduler) Lookup(sessionID string) (*session.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.sessions[sessionID]
	if !ok {
		return nil, false
	}
	return entry.sess, true
}

// ShutdownRequested reports whether an upgrade has been detected.
func (s *Scheduler) ShutdownRequested() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shutdownRequested
}

// RequestShutdown marks the scheduler as shutting down, refusing further
// enqueues (spec.md §4.8.7). Called by the upgrade watcher.
func (s *Scheduler) RequestShutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shutdownRequested = true
}

// HasActiveOrQueuedSession reports whether any session is in flight,
// used by the upgrade watcher to decide whether to delay quiescence.
func (s *Scheduler) HasActiveOrQueuedSession() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active != nil || s.queue.len() > 0
}

// Logger returns the scheduler's own logger, tagged with its object
// path as the fallback when no session context applies.
func (s *Scheduler) Logger() *slog.Logger {
	return s.logger
}
