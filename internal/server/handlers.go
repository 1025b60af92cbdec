package server

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/hostbeat/hostbeat/internal/errors"
	"github.com/hostbeat/hostbeat/internal/monitor"
	"github.com/hostbeat/hostbeat/internal/registry"
	"github.com/hostbeat/hostbeat/internal/session"
)

// Interval bounds for scheduler control, in seconds.
const (
	minIntervalSeconds = 1
	maxIntervalSeconds = 60
)

// profileRequest is the JSON body for configure and switch.
type profileRequest struct {
	Hostname     string   `json:"hostname"`
	Port         string   `json:"port"`
	Username     string   `json:"username"`
	Password     string   `json:"password"`
	IdentityFile string   `json:"identity_file"`
	Services     []string `json:"services"`
}

func (p profileRequest) profile() registry.Profile {
	return registry.Profile{
		Hostname:     p.Hostname,
		Port:         p.Port,
		Username:     p.Username,
		Password:     p.Password,
		IdentityFile: p.IdentityFile,
		Services:     p.Services,
	}
}

// keyRequest is the JSON body for connect.
type keyRequest struct {
	Hostname string `json:"hostname"`
	Port     string `json:"port"`
	Username string `json:"username"`
}

func (k keyRequest) key() registry.Key {
	port := k.Port
	if port == "" {
		port = "22"
	}
	return registry.Key{Hostname: k.Hostname, Port: port, Username: k.Username}
}

// connectionResponse is the reply shape of every connection mutation:
// the success flag and status badge alongside the full mode/session/profiles
// view served by /connection/status.
type connectionResponse struct {
	Success          bool                `json:"success"`
	ConnectionStatus string              `json:"connection_status"`
	Mode             monitor.Mode        `json:"mode"`
	Session          *session.Info       `json:"session,omitempty"`
	Profiles         []registry.Redacted `json:"profiles"`
}

// connectionBody builds the success reply for connection mutations.
func (s *Server) connectionBody() connectionResponse {
	status := s.svc.ConnectionStatus()
	badge := "local"
	if status.Mode == monitor.ModeRemote {
		badge = "connected"
	}
	return connectionResponse{
		Success:          true,
		ConnectionStatus: badge,
		Mode:             status.Mode,
		Session:          status.Session,
		Profiles:         status.Profiles,
	}
}

// intervalRequest is the JSON body for scheduler start and interval changes.
type intervalRequest struct {
	IntervalSeconds int `json:"interval_seconds"`
}

func (i intervalRequest) duration() time.Duration {
	secs := i.IntervalSeconds
	if secs < minIntervalSeconds {
		secs = minIntervalSeconds
	}
	if secs > maxIntervalSeconds {
		secs = maxIntervalSeconds
	}
	return time.Duration(secs) * time.Second
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"service":   "hostbeat",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"service": "hostbeat",
		"version": s.version,
	})
}

// handleMetrics returns a snapshot from whichever source is active.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	snap, err := s.svc.Collect(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleMetricsLocal(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	snap, err := s.svc.LocalSnapshot(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleMetricsRemote(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	snap, err := s.svc.RemoteSnapshot(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleConnectionStatus(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, s.svc.ConnectionStatus())
}

func (s *Server) handleConnectionConfigure(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req profileRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if _, err := s.svc.Configure(req.profile()); err != nil {
		writeConnectionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.connectionBody())
}

// handleConnectionConnect connects a stored profile. A request without a
// body (or without a hostname) connects the most recently configured one.
func (s *Server) handleConnectionConnect(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req keyRequest
	if !decodeOptionalBody(w, r, &req) {
		return
	}

	key := req.key()
	if req.Hostname == "" {
		last, ok := s.svc.Registry().LastConfigured()
		if !ok {
			writeConnectionError(w, errors.New(errors.ErrConfig,
				"No connection configured",
				"Configure a connection first"))
			return
		}
		key = last
	}

	if err := s.svc.Connect(r.Context(), key); err != nil {
		s.hub.BroadcastStatus()
		writeConnectionError(w, err)
		return
	}

	s.hub.BroadcastStatus()
	writeJSON(w, http.StatusOK, s.connectionBody())
}

func (s *Server) handleConnectionDisconnect(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	s.svc.Disconnect()
	s.hub.BroadcastStatus()
	writeJSON(w, http.StatusOK, s.connectionBody())
}

func (s *Server) handleConnectionSwitch(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req profileRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if _, err := s.svc.Switch(r.Context(), req.profile()); err != nil {
		s.hub.BroadcastStatus()
		writeConnectionError(w, err)
		return
	}

	s.hub.BroadcastStatus()
	writeJSON(w, http.StatusOK, s.connectionBody())
}

// handleConnectionRemove deletes a stored profile. Removing the active one
// disconnects and falls back to local collection.
func (s *Server) handleConnectionRemove(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req keyRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if !s.svc.RemoveProfile(req.key()) {
		writeConnectionError(w, errors.New(errors.ErrConfig,
			"No profile for "+req.key().String(),
			"List stored profiles via /connection/status"))
		return
	}

	s.hub.BroadcastStatus()
	writeJSON(w, http.StatusOK, s.connectionBody())
}

func (s *Server) handleSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, s.svc.Scheduler().Status())
}

func (s *Server) handleSchedulerStart(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req intervalRequest
	if !decodeBody(w, r, &req) {
		return
	}
	s.svc.Scheduler().Start(req.duration())
	writeJSON(w, http.StatusOK, s.svc.Scheduler().Status())
}

func (s *Server) handleSchedulerStop(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	s.svc.Scheduler().Stop()
	writeJSON(w, http.StatusOK, s.svc.Scheduler().Status())
}

func (s *Server) handleSchedulerInterval(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req intervalRequest
	if !decodeBody(w, r, &req) {
		return
	}
	// Changing the interval restarts the cadence only when it differs.
	s.svc.Scheduler().Start(req.duration())
	writeJSON(w, http.StatusOK, s.svc.Scheduler().Status())
}

// requireMethod writes a 405 and returns false when the request method
// doesn't match.
func requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

// decodeBody parses a JSON request body, answering 400 on malformed input.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON body: " + err.Error(),
		})
		return false
	}
	return true
}

// decodeOptionalBody is decodeBody for endpoints where an empty body is
// valid. v keeps its zero value when nothing was sent.
func decodeOptionalBody(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || err == io.EOF {
		return true
	}
	writeJSON(w, http.StatusBadRequest, map[string]string{
		"error": "invalid JSON body: " + err.Error(),
	})
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusForCode maps structured error codes to HTTP statuses.
func statusForCode(code string) int {
	switch code {
	case errors.ErrConfig:
		return http.StatusBadRequest
	case errors.ErrConnect, errors.ErrExec, errors.ErrParse, errors.ErrCollect:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusForCode(errors.Code(err)), map[string]string{
		"error": err.Error(),
		"code":  errors.Code(err),
	})
}

// writeConnectionError answers failed connection mutations with the same
// field names the success path uses, so clients can key off one shape.
func writeConnectionError(w http.ResponseWriter, err error) {
	writeJSON(w, statusForCode(errors.Code(err)), map[string]any{
		"success":           false,
		"connection_status": "error",
		"error":             err.Error(),
		"code":              errors.Code(err),
	})
}
