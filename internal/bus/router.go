package bus

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/syncevo/pimsyncd/internal/apperror"
	"github.com/syncevo/pimsyncd/internal/peerconfig"
)

// NewRouter builds the HTTP gateway over Server/SessionHandle/Connection:
// a WebSocket endpoint for signal subscription plus a REST surface for
// the object-bus operations of spec.md §6. Middleware order mirrors the
// teacher's router: request ID, then logging, on every route.
func NewRouter(server *Server, hub *Hub, logger *slog.Logger) *mux.Router {
	router := mux.NewRouter()
	router.Use(requestIDMiddleware)
	router.Use(loggingMiddleware(logger))

	router.HandleFunc("/ws/signals", handleSignalSubscribe(hub, logger)).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/capabilities", handleGetCapabilities(server)).Methods(http.MethodGet)
	api.HandleFunc("/versions", handleGetVersions(server)).Methods(http.MethodGet)
	api.HandleFunc("/configs", handleGetConfigs(server)).Methods(http.MethodGet)
	api.HandleFunc("/configs/{name}", handleGetConfig(server)).Methods(http.MethodGet)
	api.HandleFunc("/sessions", handleGetSessions(server)).Methods(http.MethodGet)
	api.HandleFunc("/sessions", handleStartSession(server)).Methods(http.MethodPost)
	api.HandleFunc("/connect", handleConnect(server)).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/attach", handleAttach(server)).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/detach", handleDetach(server)).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/config", handleSetConfig(server)).Methods(http.MethodPut)
	api.HandleFunc("/sessions/{id}/sync", handleSync(server)).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/abort", handleAbort(server)).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/status", handleGetStatus(server)).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}/progress", handleGetProgress(server)).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}/execute", handleExecute(server)).Methods(http.MethodPost)

	return router
}

func handleSignalSubscribe(hub *Hub, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("ws upgrade failed", "error", err)
			return
		}
		sub := newWSSubscriber(uuid.NewString(), conn, logger)
		hub.Subscribe(sub)
	}
}

func handleGetCapabilities(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.GetCapabilities())
	}
}

func handleGetVersions(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.GetVersions())
	}
}

func handleGetConfigs(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		templates := r.URL.Query().Get("templates") == "true"
		names, err := s.GetConfigs(templates)
		if writeError(w, err) {
			return
		}
		writeJSON(w, http.StatusOK, names)
	}
}

func handleGetConfig(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := mux.Vars(r)["name"]
		props, err := s.GetConfig(name, false)
		if writeError(w, err) {
			return
		}
		writeJSON(w, http.StatusOK, props)
	}
}

func handleGetSessions(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.GetSessions())
	}
}

func handleStartSession(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req startSessionRequest
		if err := decodeAndValidate(&req, func(v any) error { return json.NewDecoder(r.Body).Decode(v) }); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		path, err := s.StartSessionWithFlags(req.Config, req.Flags)
		if writeError(w, err) {
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"session": path})
	}
}

func handleConnect(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req connectRequest
		if err := decodeAndValidate(&req, func(v any) error { return json.NewDecoder(r.Body).Decode(v) }); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		path, err := s.Connect(req.Peer, req.MustAuth, req.SessionOpts)
		if writeError(w, err) {
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"session": path})
	}
}

func handleAttach(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		clientID := r.URL.Query().Get("client")
		if clientID == "" {
			clientID = uuid.NewString()
		}
		if err := s.Attach(id, clientID); writeError(w, err) {
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"client": clientID})
	}
}

func handleDetach(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		clientID := r.URL.Query().Get("client")
		if err := s.Detach(id, clientID); writeError(w, err) {
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleSetConfig(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		handle, ok := s.Handle(id)
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "no such session"})
			return
		}
		var req setConfigRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		if err := handle.SetConfig(req.Update, req.Temporary, req.Properties); writeError(w, err) {
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleSync(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		handle, ok := s.Handle(id)
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "no such session"})
			return
		}
		var req syncRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		modes := make(map[string]peerconfig.SyncMode, len(req.Modes))
		for src, mode := range req.Modes {
			modes[src] = peerconfig.SyncMode(mode)
		}
		// Sync outlives this request: it must not inherit r.Context(), which
		// net/http cancels the moment this handler returns. The session's own
		// Abort is the only thing that should cancel it.
		go func() { _ = handle.Sync(context.Background(), modes) }()
		w.WriteHeader(http.StatusAccepted)
	}
}

func handleAbort(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		handle, ok := s.Handle(id)
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "no such session"})
			return
		}
		if err := handle.Abort(); writeError(w, err) {
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleGetStatus(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		handle, ok := s.Handle(id)
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "no such session"})
			return
		}
		state, err, statuses := handle.GetStatus()
		resp := map[string]any{"state": state, "sources": statuses}
		if err != nil {
			resp["error"] = err.Error()
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func handleGetProgress(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		handle, ok := s.Handle(id)
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "no such session"})
			return
		}
		writeJSON(w, http.StatusOK, handle.GetProgress())
	}
}

func handleExecute(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		handle, ok := s.Handle(id)
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "no such session"})
			return
		}
		var req executeRequest
		if err := decodeAndValidate(&req, func(v any) error { return json.NewDecoder(r.Body).Decode(v) }); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		if err := handle.Execute(r.Context(), req.Argv, req.Envp); writeError(w, err) {
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError maps an apperror.Code to an HTTP status and writes the
// body if err is non-nil, returning whether it did so.
func writeError(w http.ResponseWriter, err error) bool {
	if err == nil {
		return false
	}
	code, _ := apperror.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case apperror.NoSuchConfig, apperror.NoSuchSource:
		status = http.StatusNotFound
	case apperror.InvalidCall:
		status = http.StatusBadRequest
	case apperror.TransportFailure, apperror.SourceUnusable:
		status = http.StatusBadGateway
	}
	writeJSON(w, status, map[string]string{"error": err.Error(), "code": string(code)})
	return true
}
