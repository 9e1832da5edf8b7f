// Package connection implements the server-mode framing state machine
// (spec.md §4.6): it receives inbound SyncML messages, creates/feeds a
// Session, and sends replies.
package connection

import (
	"fmt"
	"sync"
	"time"

	"github.com/syncevo/pimsyncd/internal/apperror"
)

// State is one node of the Connection state machine.
type State int

const (
	Setup State = iota
	Processing
	Waiting
	Final
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Setup:
		return "SETUP"
	case Processing:
		return "PROCESSING"
	case Waiting:
		return "WAITING"
	case Final:
		return "FINAL"
	case Done:
		return "DONE"
	case Failed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// PeerDescriptor identifies the remote side of a server-mode
// connection.
type PeerDescriptor struct {
	ServerID        string
	MACAddress      string
	RemoteDeviceID  string
	TransportKind   string
	TransportDesc   string
	Description     string
}

// String computes the logging description once, per spec.md §4.6:
// "<desc> (<id> via <transport> <transport_desc>)".
func (p PeerDescriptor) String(connectionID string) string {
	return fmt.Sprintf("%s (%s via %s %s)", p.Description, connectionID, p.TransportKind, p.TransportDesc)
}

// ConfigMatcher resolves an inbound message to a config name using the
// three strategies spec.md §4.6 describes, in order.
type ConfigMatcher interface {
	// MatchByServerID implements strategy (a): exact server-ID match in
	// a Server-Alerted-Notification against syncURLs of known configs.
	MatchByServerID(serverID string) (configName string, ok bool)
	// MatchByMACAddress implements strategy (b), for OBEX/Bluetooth.
	MatchByMACAddress(mac string) (configName string, ok bool)
	// MatchByRemoteDeviceID implements strategy (c), for a plain
	// SyncML initial message.
	MatchByRemoteDeviceID(deviceID string) (configName string, ok bool)
}

// SessionHost is the subset of scheduler behavior a Connection needs:
// minting a config name, creating a session for it, aborting sessions
// tied to the same device, and enqueueing the new session.
type SessionHost interface {
	MintConfigName(serverID string, now time.Time) string
	CreateSession(configName, peerDeviceID string) (sessionID string, err error)
	AbortSessionsForDevice(peerDeviceID string)
	Enqueue(sessionID string) error
}

// Reply is one outbound frame the Connection hands back to its
// transport.
type Reply struct {
	Data        []byte
	ContentType string
	Final       bool
	SessionID   string
}

// Connection is one server-mode inbound exchange.
type Connection struct {
	mu sync.Mutex

	ID       string
	Peer     PeerDescriptor
	state    State
	lastErr  error
	mustAuth bool

	matcher ConfigMatcher
	host    SessionHost

	pendingMessage []byte
	pendingType    string
	wakeCh         chan struct{}

	waitTimeout time.Duration
	waitTimer   *time.Timer

	onAbort func()
	onReply func(Reply)
}

// New creates a Connection in SETUP, deriving its wait timeout from the
// owning session's RetryDuration.
func New(id string, peer PeerDescriptor, mustAuth bool, matcher ConfigMatcher, host SessionHost, waitTimeout time.Duration) *Connection {
	return &Connection{
		ID:          id,
		Peer:        peer,
		state:       Setup,
		mustAuth:    mustAuth,
		matcher:     matcher,
		host:        host,
		wakeCh:      make(chan struct{}, 1),
		waitTimeout: waitTimeout,
	}
}

// State returns the current state under lock.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OnAbort registers the callback fired by Abort (the one-shot Abort
// signal to the peer).
func (c *Connection) OnAbort(fn func()) { c.onAbort = fn }

// OnReply registers the callback fired whenever a reply frame is ready.
func (c *Connection) OnReply(fn func(Reply)) { c.onReply = fn }

// Process dispatches an inbound message per the current state (spec.md
// §4.6 "process(bytes, content_type)").
func (c *Connection) Process(data []byte, contentType string, now time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case Setup:
		return c.processSetup(data, contentType, now)
	case Waiting:
		c.pendingMessage = data
		c.pendingType = contentType
		c.disarmTimeout()
		select {
		case c.wakeCh <- struct{}{}:
		default:
		}
		c.state = Processing
		return nil
	case Processing:
		return apperror.New(apperror.InvalidCall, "engine already owns an inbound message")
	default:
		return apperror.New(apperror.InvalidCall, fmt.Sprintf("process not permitted in state %s", c.state))
	}
}

func (c *Connection) processSetup(data []byte, contentType string, now time.Time) error {
	configName, ok := c.resolveConfig()
	if !ok {
		configName = c.host.MintConfigName(c.Peer.ServerID, now)
	}

	c.host.AbortSessionsForDevice(c.Peer.RemoteDeviceID)

	sessionID, err := c.host.CreateSession(configName, c.Peer.RemoteDeviceID)
	if err != nil {
		c.state = Failed
		c.lastErr = err
		return err
	}
	if err := c.host.Enqueue(sessionID); err != nil {
		c.state = Failed
		c.lastErr = err
		return err
	}

	c.pendingMessage = data
	c.pendingType = contentType
	c.state = Processing
	return nil
}

// resolveConfig tries the three matching strategies in order (spec.md
// §4.6).
func (c *Connection) resolveConfig() (string, bool) {
	if c.Peer.ServerID != "" {
		if name, ok := c.matcher.MatchByServerID(c.Peer.ServerID); ok {
			return name, true
		}
	}
	if c.Peer.MACAddress != "" {
		if name, ok := c.matcher.MatchByMACAddress(c.Peer.MACAddress); ok {
			return name, true
		}
	}
	if c.Peer.RemoteDeviceID != "" {
		if name, ok := c.matcher.MatchByRemoteDeviceID(c.Peer.RemoteDeviceID); ok {
			return name, true
		}
	}
	return "", false
}

// EnterWaiting transitions to WAITING and arms the wait timeout.
func (c *Connection) EnterWaiting() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireState(Processing); err != nil {
		return err
	}
	c.state = Waiting
	c.armTimeout()
	return nil
}

func (c *Connection) requireState(allowed ...State) error {
	for _, st := range allowed {
		if c.state == st {
			return nil
		}
	}
	return apperror.New(apperror.InvalidCall, fmt.Sprintf("not permitted in state %s", c.state))
}

func (c *Connection) armTimeout() {
	if c.waitTimeout <= 0 {
		return
	}
	c.waitTimer = time.AfterFunc(c.waitTimeout, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.state == Waiting {
			c.state = Failed
			c.lastErr = apperror.New(apperror.TransportFailure, "wait timeout expired")
		}
	})
}

func (c *Connection) disarmTimeout() {
	if c.waitTimer != nil {
		c.waitTimer.Stop()
		c.waitTimer = nil
	}
}

// Close transitions FINAL->DONE (normal=true) or any non-terminal
// state->FAILED, recording err.
func (c *Connection) Close(normal bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disarmTimeout()
	if normal && c.state == Final {
		c.state = Done
		return
	}
	c.state = Failed
	c.lastErr = err
}

// Abort emits a one-shot Abort signal to the peer; idempotent.
func (c *Connection) Abort() {
	c.mu.Lock()
	fn := c.onAbort
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// MarkFinal transitions to FINAL: the engine has produced its last
// message and is waiting for the peer's acknowledgement.
func (c *Connection) MarkFinal() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireState(Processing, Waiting); err != nil {
		return err
	}
	c.disarmTimeout()
	c.state = Final
	return nil
}

// LastError returns the error recorded on a FAILED transition.
func (c *Connection) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}
