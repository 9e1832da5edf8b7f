package bus

import (
	"context"

	"github.com/syncevo/pimsyncd/internal/apperror"
	"github.com/syncevo/pimsyncd/internal/peerconfig"
	"github.com/syncevo/pimsyncd/internal/scheduler"
	"github.com/syncevo/pimsyncd/internal/session"
	"github.com/syncevo/pimsyncd/internal/store"
)

// SessionHandle implements the per-instance Session object of spec.md
// §6, wrapping one internal/session.Session and delegating config and
// backend queries to the owning Server.
type SessionHandle struct {
	sess   *session.Session
	server *Server
}

// NewSessionHandle wraps sess for bus exposure and wires its
// status/progress callbacks to StatusChanged/ProgressChanged signals on
// server's Hub, scoped to the session's object path.
func NewSessionHandle(sess *session.Session, server *Server) *SessionHandle {
	h := &SessionHandle{sess: sess, server: server}
	path := scheduler.SessionPath(sess.ID)

	sess.OnStatusChanged(func(s *session.Session) {
		state, err, statuses := s.GetStatus()
		payload := map[string]any{"state": state.String(), "sources": statuses}
		if err != nil {
			payload["error"] = err.Error()
		}
		server.hub.Emit(SignalStatusChanged, path, payload)
	})
	sess.OnProgressChanged(func(s *session.Session, est session.Estimate) {
		server.hub.Emit(SignalProgressChanged, path, map[string]any{
			"phase":        est.Phase.String(),
			"sendCount":    est.SendCount,
			"recvCount":    est.RecvCount,
			"expectedSend": est.ExpectedSend,
			"expectedRecv": est.ExpectedRecv,
		})
	})
	return h
}

// ID returns the session's object path.
func (h *SessionHandle) ID() string { return scheduler.SessionPath(h.sess.ID) }

// Attach registers clientID against this session.
func (h *SessionHandle) Attach(clientID string) error {
	return h.server.Attach(h.sess.ID, clientID)
}

// Detach deregisters clientID from this session.
func (h *SessionHandle) Detach(clientID string) error {
	return h.server.Detach(h.sess.ID, clientID)
}

// GetFlags returns the flags this session was started with.
func (h *SessionHandle) GetFlags() []string { return h.sess.Flags }

// GetConfigName returns the config this session was created for.
func (h *SessionHandle) GetConfigName() string { return h.sess.ConfigName }

// GetConfig returns the session's own in-memory config, sanitized.
func (h *SessionHandle) GetConfig() (map[string]string, error) {
	cfg := h.sess.Config()
	if cfg == nil {
		return nil, apperror.New(apperror.NoSuchConfig, "session has no config (deleted)")
	}
	return cfg.Sanitized(), nil
}

// GetNamedConfig looks up an arbitrary config by name through the
// session, used by clients that reuse one session's lock to inspect a
// different peer's config (spec.md §6 Session.GetNamedConfig).
func (h *SessionHandle) GetNamedConfig(name string) (map[string]string, error) {
	return h.server.GetConfig(name, false)
}

// SetConfig applies peer-level property updates to this session's own
// config, persisting them unless temporary is set.
func (h *SessionHandle) SetConfig(update, temporary bool, props map[string]string) error {
	if err := h.sess.SetConfig(update, temporary, props); err != nil {
		return err
	}
	if temporary {
		return nil
	}
	return h.persistAndAnnounce(h.sess.ConfigName, h.sess.Config())
}

// SetNamedConfig applies property updates to an arbitrary config
// (spec.md §6 Session.SetNamedConfig), independent of the session's own
// config.
func (h *SessionHandle) SetNamedConfig(name string, update, temporary bool, props map[string]string) error {
	cfg, ok, err := h.server.configs.Get(name)
	if err != nil {
		return apperror.Wrap(apperror.StatusDatastoreFailure, name, "set-named-config", err)
	}
	if !ok {
		if !update {
			return apperror.New(apperror.NoSuchConfig, "no such config: "+name)
		}
		cfg = peerconfig.NewConfig(name)
	}
	if err := peerconfig.ApplyProperties(cfg, props); err != nil {
		return apperror.New(apperror.InvalidCall, err.Error())
	}
	if temporary {
		return nil
	}
	return h.persistAndAnnounce(name, cfg)
}

func (h *SessionHandle) persistAndAnnounce(name string, cfg *peerconfig.Config) error {
	var err error
	if cfg == nil {
		err = h.server.configs.Delete(name)
	} else {
		err = h.server.configs.Put(cfg)
	}
	if err != nil {
		return apperror.Wrap(apperror.StatusDatastoreFailure, name, "persist-config", err)
	}
	h.server.hub.Emit(SignalConfigChanged, "", map[string]any{"config": name})
	return nil
}

// GetReports delegates to the owning Server, scoped to this session's
// config.
func (h *SessionHandle) GetReports(ctx context.Context, start, count int) ([]store.Report, error) {
	return h.server.GetReports(ctx, h.sess.ConfigName, start, count)
}

// CheckSource delegates to the owning Server, scoped to this session's
// config.
func (h *SessionHandle) CheckSource(ctx context.Context, sourceName string) error {
	return h.server.CheckSource(ctx, h.sess.ConfigName, sourceName)
}

// GetDatabases delegates to the owning Server, scoped to this session's
// config.
func (h *SessionHandle) GetDatabases(ctx context.Context, sourceName string) ([]string, error) {
	dbs, err := h.server.GetDatabases(ctx, h.sess.ConfigName, sourceName)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(dbs))
	for _, db := range dbs {
		names = append(names, db.Name)
	}
	return names, nil
}

// Sync drives the session through its sync operation for the given
// per-source mode overrides.
func (h *SessionHandle) Sync(ctx context.Context, perSourceModes map[string]peerconfig.SyncMode) error {
	return h.sess.Sync(ctx, perSourceModes)
}

// Abort requests the session unwind at the next safe point.
func (h *SessionHandle) Abort() error { return h.sess.Abort() }

// Suspend requests the session persist a resume token and stop.
func (h *SessionHandle) Suspend() error { return h.sess.Suspend() }

// GetStatus returns the session's current state, terminal error, and
// per-source statuses.
func (h *SessionHandle) GetStatus() (string, error, []session.SourceStatus) {
	state, err, statuses := h.sess.GetStatus()
	return state.String(), err, statuses
}

// GetProgress returns the session's current progress estimate.
func (h *SessionHandle) GetProgress() session.Estimate { return h.sess.GetProgress() }

// Restore replays a prior snapshot into the session's backends.
func (h *SessionHandle) Restore(ctx context.Context, dir string, before bool, sources []string) error {
	return h.sess.Restore(ctx, dir, before, sources)
}

// CheckPresence reports reachability for this session's own config.
func (h *SessionHandle) CheckPresence() (bool, []string, error) {
	return h.server.CheckPresence(h.sess.ConfigName)
}

// Execute runs a command-line operation inside the session.
func (h *SessionHandle) Execute(ctx context.Context, argv, envp []string) error {
	return h.sess.Execute(ctx, argv, envp)
}
