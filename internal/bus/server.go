package bus

import (
	"context"
	"log/slog"
	"sync"

	"github.com/syncevo/pimsyncd/internal/apperror"
	"github.com/syncevo/pimsyncd/internal/autosync"
	"github.com/syncevo/pimsyncd/internal/backend"
	"github.com/syncevo/pimsyncd/internal/peerconfig"
	"github.com/syncevo/pimsyncd/internal/presence"
	"github.com/syncevo/pimsyncd/internal/scheduler"
	"github.com/syncevo/pimsyncd/internal/session"
	"github.com/syncevo/pimsyncd/internal/store"
)

// BackendOpener opens the backend for one config/source pair, the
// dependency CheckSource and GetDatabases need without pulling the full
// sync engine into the bus layer.
type BackendOpener func(ctx context.Context, configName, sourceName string) (backend.Backend, error)

// ConfigStore is what Server needs from internal/store.ConfigTreeStore.
type ConfigStore interface {
	Load() (*peerconfig.Tree, error)
	Get(name string) (*peerconfig.Config, bool, error)
	Put(cfg *peerconfig.Config) error
	Delete(name string) error
}

// ReportStore is what Server needs from internal/store.ReportStore.
type ReportStore interface {
	GetReports(ctx context.Context, configName string, offset, count int) ([]store.Report, error)
}

// Server implements the process-wide Server object of spec.md §6:
// GetCapabilities, GetVersions, session lifecycle, config CRUD, and
// presence/report queries. It is the single owner of the Hub every
// signal flows through.
type Server struct {
	hub         *Hub
	sched       *scheduler.Scheduler
	configs     ConfigStore
	reports     ReportStore
	presenceMon *presence.Monitor
	runnerOf    autosync.RunnerFactory
	openBackend BackendOpener
	logger      *slog.Logger

	handlesMu sync.Mutex
	handles   map[string]*SessionHandle
}

// NewServer wires a Server. runnerOf and openBackend may not be nil in
// production; tests may stub them.
func NewServer(hub *Hub, sched *scheduler.Scheduler, configs ConfigStore, reports ReportStore, presenceMon *presence.Monitor, runnerOf autosync.RunnerFactory, openBackend BackendOpener, logger *slog.Logger) *Server {
	s := &Server{
		hub:         hub,
		sched:       sched,
		configs:     configs,
		reports:     reports,
		presenceMon: presenceMon,
		runnerOf:    runnerOf,
		openBackend: openBackend,
		logger:      logger.With("component", "bus.server"),
		handles:     make(map[string]*SessionHandle),
	}
	if presenceMon != nil {
		presenceMon.OnEdge(func(kind presence.Kind, st presence.Status) {
			hub.Emit(SignalPresence, "", map[string]any{
				"transport": string(kind),
				"available": st.Available,
			})
		})
	}
	sched.OnSessionChanged(func(path string, active bool) {
		hub.Emit(SignalSessionChanged, path, map[string]any{"active": active})
	})
	return s
}

// GetCapabilities reports the stable capability token set spec.md §6
// mandates verbatim: "every token declared in this specification MUST
// be present in implementations complying with it."
func (s *Server) GetCapabilities() map[string]any {
	return map[string]any{
		"ConfigChanged":      true,
		"GetConfigName":      true,
		"Notifications":      true,
		"Version":            true,
		"SessionFlags":       true,
		"SessionAttach":      true,
		"DatabaseProperties": true,
	}
}

// GetVersions reports the daemon's self-identification (spec.md §6
// Server.GetVersions).
func (s *Server) GetVersions() map[string]string {
	return map[string]string{
		"version":   "1.0",
		"system":    "pimsyncd",
		"bus":       "websocket",
	}
}

// Attach registers clientID against sessionID.
func (s *Server) Attach(sessionID, clientID string) error {
	return s.sched.Attach(sessionID, clientID)
}

// Detach deregisters clientID from sessionID.
func (s *Server) Detach(sessionID, clientID string) error {
	return s.sched.Detach(sessionID, clientID)
}

// EnableNotifications turns on progress/status delivery for a client.
func (s *Server) EnableNotifications(sessionID, clientID string) error {
	return s.sched.EnableNotifications(sessionID, clientID)
}

// DisableNotifications turns off progress/status delivery for a client.
func (s *Server) DisableNotifications(sessionID, clientID string) error {
	return s.sched.DisableNotifications(sessionID, clientID)
}

// NotificationAction records a user's response to an OS-level
// notification raised by the auto-sync manager (spec.md §4.10). The
// action name itself is opaque to the core; only acknowledgement
// matters.
func (s *Server) NotificationAction(configName, action string) error {
	s.logger.Info("notification action", "config", configName, "action", action)
	return nil
}

// createSession builds a Session for cfg at the given priority, wraps it
// in a SessionHandle wired to the hub, tracks the handle for later
// lookup, and enqueues it with the scheduler.
func (s *Server) createSession(cfg *peerconfig.Config, priority session.Priority, flags []string) (*SessionHandle, error) {
	sess := session.New(s.sched.MintSessionID(), cfg.Name, priority, s.runnerOf(cfg.Name), cfg)
	sess.Flags = flags
	handle := NewSessionHandle(sess, s)

	s.handlesMu.Lock()
	s.handles[sess.ID] = handle
	s.handlesMu.Unlock()

	s.sched.Register(sess)
	if err := s.sched.Enqueue(sess); err != nil {
		s.handlesMu.Lock()
		delete(s.handles, sess.ID)
		s.handlesMu.Unlock()
		return nil, err
	}
	return handle, nil
}

// Handle looks up a previously created SessionHandle by its bare session
// ID (the trailing path component of scheduler.SessionPath).
func (s *Server) Handle(sessionID string) (*SessionHandle, bool) {
	s.handlesMu.Lock()
	defer s.handlesMu.Unlock()
	h, ok := s.handles[sessionID]
	return h, ok
}

// Connect creates a Session for an externally-driven transport peer
// (spec.md §6 Server.Connect), used by transport agents that bring
// their own connection rather than letting the daemon dial out.
func (s *Server) Connect(peer string, mustAuth bool, sessionOpts map[string]string) (string, error) {
	cfg, ok, err := s.configs.Get(peer)
	if err != nil {
		return "", apperror.Wrap(apperror.StatusDatastoreFailure, peer, "connect", err)
	}
	if !ok {
		return "", apperror.New(apperror.NoSuchConfig, "no such config: "+peer)
	}
	handle, err := s.createSession(cfg, session.PriorityConnection, nil)
	if err != nil {
		return "", err
	}
	return handle.ID(), nil
}

// StartSession creates and enqueues a plain Session for configName
// (spec.md §6 Server.StartSession).
func (s *Server) StartSession(configName string) (string, error) {
	return s.StartSessionWithFlags(configName, nil)
}

// StartSessionWithFlags is StartSession plus caller-supplied flags
// (e.g. "no-sync" for a config-only session).
func (s *Server) StartSessionWithFlags(configName string, flags []string) (string, error) {
	cfg, ok, err := s.configs.Get(configName)
	if err != nil {
		return "", apperror.Wrap(apperror.StatusDatastoreFailure, configName, "start-session", err)
	}
	if !ok {
		return "", apperror.New(apperror.NoSuchConfig, "no such config: "+configName)
	}
	handle, err := s.createSession(cfg, session.PriorityCmdline, flags)
	if err != nil {
		return "", err
	}
	return handle.ID(), nil
}

// GetConfigs lists known peer config names. templates is accepted for
// API compatibility; this daemon carries no built-in template catalog,
// so it always lists live configs (documented in DESIGN.md).
func (s *Server) GetConfigs(templates bool) ([]string, error) {
	tree, err := s.configs.Load()
	if err != nil {
		return nil, apperror.Wrap(apperror.StatusDatastoreFailure, "", "get-configs", err)
	}
	return tree.Names(), nil
}

// GetConfig returns the sanitized property map for name (spec.md §6
// Server.GetConfig). template is accepted for API compatibility but
// unused, per GetConfigs.
func (s *Server) GetConfig(name string, template bool) (map[string]string, error) {
	cfg, ok, err := s.configs.Get(name)
	if err != nil {
		return nil, apperror.Wrap(apperror.StatusDatastoreFailure, name, "get-config", err)
	}
	if !ok {
		return nil, apperror.New(apperror.NoSuchConfig, "no such config: "+name)
	}
	return cfg.Sanitized(), nil
}

// GetReports returns up to count reports for name starting at start,
// newest first.
func (s *Server) GetReports(ctx context.Context, name string, start, count int) ([]store.Report, error) {
	reports, err := s.reports.GetReports(ctx, name, start, count)
	if err != nil {
		return nil, apperror.Wrap(apperror.StatusDatastoreFailure, name, "get-reports", err)
	}
	return reports, nil
}

// CheckSource opens the named source's backend and immediately closes
// it, surfacing SourceUnusable on failure (spec.md §6 Server.CheckSource).
func (s *Server) CheckSource(ctx context.Context, configName, sourceName string) error {
	cfg, ok, err := s.configs.Get(configName)
	if err != nil {
		return apperror.Wrap(apperror.StatusDatastoreFailure, configName, "check-source", err)
	}
	if !ok {
		return apperror.New(apperror.NoSuchConfig, "no such config: "+configName)
	}
	if _, ok := cfg.Source(sourceName); !ok {
		return apperror.New(apperror.NoSuchSource, "no such source: "+sourceName)
	}
	b, err := s.openBackend(ctx, configName, sourceName)
	if err != nil {
		return apperror.Wrap(apperror.SourceUnusable, sourceName, "check-source", err)
	}
	defer b.Close(ctx)
	if err := b.Open(ctx); err != nil {
		return apperror.Wrap(apperror.SourceUnusable, sourceName, "check-source", err)
	}
	return nil
}

// GetDatabases enumerates the addressable stores sourceName's backend
// exposes (spec.md §6 Server.GetDatabases).
func (s *Server) GetDatabases(ctx context.Context, configName, sourceName string) ([]backend.Database, error) {
	b, err := s.openBackend(ctx, configName, sourceName)
	if err != nil {
		return nil, apperror.Wrap(apperror.SourceUnusable, sourceName, "get-databases", err)
	}
	defer b.Close(ctx)
	if err := b.Open(ctx); err != nil {
		return nil, apperror.Wrap(apperror.SourceUnusable, sourceName, "get-databases", err)
	}
	return b.Databases(ctx)
}

// CheckPresence reports per-URL reachability for peer (spec.md §6
// Server.CheckPresence).
func (s *Server) CheckPresence(peer string) (bool, []string, error) {
	cfg, ok, err := s.configs.Get(peer)
	if err != nil {
		return false, nil, apperror.Wrap(apperror.StatusDatastoreFailure, peer, "check-presence", err)
	}
	if !ok {
		return false, nil, apperror.New(apperror.NoSuchConfig, "no such config: "+peer)
	}
	if s.presenceMon == nil {
		return true, cfg.SyncURL, nil
	}
	res := s.presenceMon.CheckPresence(presence.SyncURLSpec{URLs: cfg.SyncURL, AutoSyncDelay: cfg.AutoSyncDelay})
	return res.Reachable, res.ReachableURLs, nil
}

// GetSessions returns every tracked session's object path.
func (s *Server) GetSessions() []string {
	return s.sched.GetSessions()
}

// InfoResponse routes a client's answer to an outstanding info request
// back to the waiting Session (spec.md §6 Server.InfoResponse). state
// and handler are accepted for wire compatibility; only the id and the
// answer fields matter to RequestInfo's caller.
func (s *Server) InfoResponse(id, state string, fields map[string]string) error {
	return s.sched.Respond(id, fields)
}
