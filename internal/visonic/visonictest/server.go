// Package visonictest provides a fake Visonic cloud service for tests.
package visonictest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
)

const (
	userToken    = "user-token"
	sessionToken = "session-token"
)

// Server simulates the subset of the Visonic REST API the bridge uses.
type Server struct {
	*httptest.Server

	Email        string
	Password     string
	PanelSerial  string
	MasterCode   string
	Manufacturer string
	Model        string
	Versions     []string

	mu        sync.Mutex
	state     string
	connected bool
	calls     []string
	appIDs    []string
}

// NewServer starts a fake service with one panel in the DISARM state.
func NewServer() *Server {
	s := &Server{
		Email:        "user@example.com",
		Password:     "secret",
		PanelSerial:  "12345",
		MasterCode:   "1234",
		Manufacturer: "Visonic",
		Model:        "PowerMaster-10",
		Versions:     []string{"8.0", "9.0", "10.0"},
		state:        "DISARM",
		connected:    true,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /rest_api/version", s.version)
	mux.HandleFunc("POST /rest_api/10.0/auth", s.auth)
	mux.HandleFunc("GET /rest_api/10.0/panels", s.requireUser(s.panels))
	mux.HandleFunc("POST /rest_api/10.0/panel/login", s.requireUser(s.panelLogin))
	mux.HandleFunc("GET /rest_api/10.0/panel_info", s.requireSession(s.panelInfo))
	mux.HandleFunc("GET /rest_api/10.0/status", s.requireSession(s.status))
	mux.HandleFunc("POST /rest_api/10.0/set_state", s.requireSession(s.setState))
	s.Server = httptest.NewServer(mux)
	return s
}

func (s *Server) SetState(state string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

func (s *Server) State() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Server) SetConnected(connected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = connected
}

// Calls lists the endpoints hit so far, in order.
func (s *Server) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// AppIDs lists the app_id sent with every auth and panel login request.
func (s *Server) AppIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.appIDs...)
}

func (s *Server) record(call string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call)
}

func (s *Server) version(w http.ResponseWriter, _ *http.Request) {
	s.record("version")
	writeJSON(w, http.StatusOK, map[string]interface{}{"rest_versions": s.Versions})
}

func (s *Server) auth(w http.ResponseWriter, r *http.Request) {
	s.record("auth")
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		AppID    string `json:"app_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad request")
		return
	}
	s.mu.Lock()
	s.appIDs = append(s.appIDs, req.AppID)
	s.mu.Unlock()
	if req.Email != s.Email || req.Password != s.Password {
		writeError(w, http.StatusUnauthorized, "Wrong email or password")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"user_token": userToken})
}

func (s *Server) panels(w http.ResponseWriter, _ *http.Request) {
	s.record("panels")
	writeJSON(w, http.StatusOK, []map[string]string{
		{"panel_serial": s.PanelSerial, "alias": "Home"},
	})
}

func (s *Server) panelLogin(w http.ResponseWriter, r *http.Request) {
	s.record("panel_login")
	var req struct {
		UserCode    string `json:"user_code"`
		AppID       string `json:"app_id"`
		PanelSerial string `json:"panel_serial"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad request")
		return
	}
	s.mu.Lock()
	s.appIDs = append(s.appIDs, req.AppID)
	s.mu.Unlock()
	if req.PanelSerial != s.PanelSerial || req.UserCode != s.MasterCode {
		writeError(w, http.StatusForbidden, "Wrong panel or user code")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"session_token": sessionToken})
}

func (s *Server) panelInfo(w http.ResponseWriter, _ *http.Request) {
	s.record("panel_info")
	writeJSON(w, http.StatusOK, map[string]string{
		"manufacturer": s.Manufacturer,
		"model":        s.Model,
		"serial":       s.PanelSerial,
	})
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	s.record("status")
	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"connected": s.connected,
		"partitions": []map[string]interface{}{
			{"id": -1, "state": s.state, "status": "", "ready": true},
		},
	})
}

func (s *Server) setState(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Partition int    `json:"partition"`
		State     string `json:"state"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad request")
		return
	}
	s.record("set_state:" + req.State)
	s.SetState(req.State)
	writeJSON(w, http.StatusOK, map[string]string{"process_token": "p1"})
}

func (s *Server) requireUser(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Token") != userToken {
			writeError(w, http.StatusUnauthorized, "missing user token")
			return
		}
		next(w, r)
	}
}

func (s *Server) requireSession(next http.HandlerFunc) http.HandlerFunc {
	return s.requireUser(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Session-Token") != sessionToken {
			writeError(w, http.StatusUnauthorized, "missing session token")
			return
		}
		next(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]interface{}{"error": code, "error_message": msg})
}
