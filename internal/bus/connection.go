package bus

import (
	"context"
	"time"

	"github.com/syncevo/pimsyncd/internal/apperror"
	conn "github.com/syncevo/pimsyncd/internal/connection"
	"github.com/syncevo/pimsyncd/internal/session"
)

// pingContentType is the loopback content type the stand-in sync engine
// (internal/syncengine) uses for self-test transport exercises. The
// real SyncML wire codec is explicitly out of scope (spec.md §1), so
// this is the only content type Process accepts.
const pingContentType = "application/x-pimsyncd-ping"

// Connection implements the per-inbound-request object of spec.md §6
// component F: it drives internal/connection's SETUP/PROCESSING/
// WAITING/FINAL/DONE/FAILED state machine (spec.md §4.6), matching an
// inbound message to a Config by RemoteDeviceID (matching strategy (c),
// spec.md §5) and lazily creating the backing Session on the first
// Process call.
type Connection struct {
	id     string
	server *Server
	handle *SessionHandle
	inner  *conn.Connection
}

// NewConnection creates an idle Connection, not yet bound to a Session.
func NewConnection(id string, server *Server) *Connection {
	c := &Connection{id: id, server: server}
	peer := conn.PeerDescriptor{
		TransportKind: "loopback",
		TransportDesc: "bus ping",
		Description:   id,
	}
	c.inner = conn.New(id, peer, false, connMatcher{server}, &connHost{c}, 0)
	c.inner.OnAbort(func() {
		server.hub.Emit(SignalAbort, id, map[string]any{"reason": errString(c.inner.LastError())})
	})
	return c
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// ID returns the connection's object path component.
func (c *Connection) ID() string { return c.id }

// Process handles one inbound message. contentType "application/x-pimsyncd-ping"
// drives the loopback self-test path through the Connection state
// machine; anything else is rejected as a transport failure since no
// SyncML codec is wired in.
func (c *Connection) Process(ctx context.Context, body []byte, contentType string) error {
	if contentType != pingContentType {
		return apperror.New(apperror.TransportFailure, "unsupported content type: "+contentType)
	}
	if c.inner.State() == conn.Setup {
		c.inner.Peer.RemoteDeviceID = string(body)
	}
	if err := c.inner.Process(body, contentType, time.Now()); err != nil {
		return err
	}
	// The loopback exchange is single-shot: the engine's reply is also
	// its last message, so the connection goes straight to FINAL
	// rather than looping through EnterWaiting for a further message.
	if err := c.inner.MarkFinal(); err != nil {
		return err
	}
	c.server.hub.Emit(SignalReply, c.id, map[string]any{
		"contentType": contentType,
		"final":       true,
		"sessionId":   c.handle.sess.ID,
	})
	return nil
}

// Close tears down the connection. If normal is false, errMsg is
// delivered to the client as the abort reason and the backing session
// (if any) is aborted; closing an already-closed connection is
// idempotent, matching abort()'s idempotence rule (spec.md §4.6).
func (c *Connection) Close(normal bool, errMsg string) error {
	if st := c.inner.State(); st == conn.Done || st == conn.Failed {
		return nil
	}
	var closeErr error
	if !normal {
		closeErr = apperror.New(apperror.TransportFailure, errMsg)
	}
	c.inner.Close(normal, closeErr)
	if !normal {
		c.server.hub.Emit(SignalAbort, c.id, map[string]any{"reason": errMsg})
		if c.handle != nil && c.handle.sess.State() == session.Running {
			_ = c.handle.Abort()
		}
	}
	return nil
}

// connMatcher adapts Server's config store to connection.ConfigMatcher.
// Config only carries RemoteDeviceID (spec.md §3); matching strategies
// (a) server-ID and (b) MAC address have no backing field in
// peerconfig.Config, so only strategy (c) resolves.
type connMatcher struct{ server *Server }

func (m connMatcher) MatchByServerID(serverID string) (string, bool) { return "", false }
func (m connMatcher) MatchByMACAddress(mac string) (string, bool)    { return "", false }

func (m connMatcher) MatchByRemoteDeviceID(deviceID string) (string, bool) {
	tree, err := m.server.configs.Load()
	if err != nil {
		return "", false
	}
	for _, name := range tree.Names() {
		cfg, ok, err := m.server.configs.Get(name)
		if err != nil || !ok {
			continue
		}
		if cfg.RemoteDeviceID != "" && cfg.RemoteDeviceID == deviceID {
			return name, true
		}
	}
	return "", false
}

// connHost adapts Server's session lifecycle to connection.SessionHost.
type connHost struct{ c *Connection }

// MintConfigName names a fresh config for an otherwise-unmatched peer;
// spec.md §4.6 leaves the naming scheme to the implementation.
func (h *connHost) MintConfigName(serverID string, now time.Time) string {
	return "unmatched-" + now.Format("20060102T150405")
}

func (h *connHost) CreateSession(configName, peerDeviceID string) (string, error) {
	cfg, ok, err := h.c.server.configs.Get(configName)
	if err != nil {
		return "", apperror.Wrap(apperror.StatusDatastoreFailure, configName, "connection-bind", err)
	}
	if !ok {
		return "", apperror.New(apperror.NoSuchConfig, "no config matches remote device id: "+peerDeviceID)
	}
	handle, err := h.c.server.createSession(cfg, session.PriorityConnection, nil)
	if err != nil {
		return "", err
	}
	handle.sess.PeerDeviceID = peerDeviceID
	h.c.handle = handle
	return handle.sess.ID, nil
}

func (h *connHost) AbortSessionsForDevice(peerDeviceID string) {
	h.c.server.sched.KillByDevice(peerDeviceID)
}

// Enqueue is a no-op here: Server.createSession registers and enqueues
// the session in one step, so there is nothing left to split out by the
// time CreateSession returns.
func (h *connHost) Enqueue(sessionID string) error { return nil }
