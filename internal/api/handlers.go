package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/sigreer/devhistory/internal/eventlog"
	"github.com/sigreer/devhistory/internal/ledger"
	"github.com/sigreer/devhistory/internal/prefs"
	"github.com/sigreer/devhistory/internal/store"
	"github.com/sigreer/devhistory/internal/version"
)

// maxBodyBytes bounds mutation request bodies
const maxBodyBytes = 64 << 10

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/v1/snapshot", s.wrapAuth(s.handleSnapshot))
	s.mux.HandleFunc("GET /api/v1/stream", s.wrapAuth(s.handleStream))
	s.mux.HandleFunc("POST /api/v1/devices/nickname", s.wrapAuth(s.handleNickname))
	s.mux.HandleFunc("POST /api/v1/devices/forget", s.wrapAuth(s.handleForget))
	s.mux.HandleFunc("GET /api/v1/devices/events", s.wrapAuth(s.handleDeviceEvents))
	s.mux.HandleFunc("GET /api/v1/events", s.wrapAuth(s.handleEvents))
	s.mux.HandleFunc("DELETE /api/v1/events", s.wrapAuth(s.handleClearEvents))
	s.mux.HandleFunc("GET /api/v1/prefs", s.wrapAuth(s.handleGetPrefs))
	s.mux.HandleFunc("PUT /api/v1/prefs", s.wrapAuth(s.handlePutPrefs))
}

// wrapAuth requires the bearer token when one is configured. Browsers cannot
// set headers on websocket upgrades, so a token query parameter is accepted
// as well.
func (s *Server) wrapAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.authToken != "" {
			auth := r.Header.Get("Authorization")
			if auth != "Bearer "+s.authToken && r.URL.Query().Get("token") != s.authToken {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
				return
			}
		}
		next(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": version.Version})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.mon.Snapshot())
}

type nicknameRequest struct {
	DeviceID string `json:"device_id"`
	Nickname string `json:"nickname"`
}

func (s *Server) handleNickname(w http.ResponseWriter, r *http.Request) {
	var req nicknameRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.DeviceID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "device_id is required"})
		return
	}
	if err := s.mon.SetNickname(req.DeviceID, req.Nickname); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type forgetRequest struct {
	DeviceID string `json:"device_id"`
}

func (s *Server) handleForget(w http.ResponseWriter, r *http.Request) {
	var req forgetRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.DeviceID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "device_id is required"})
		return
	}
	if err := s.mon.Forget(req.DeviceID); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleDeviceEvents(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("device_id")
	if id == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "device_id is required"})
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, s.mon.DeviceEvents(id, limit))
}

// handleEvents returns the whole log, oldest first, as JSON or CSV
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	events := s.mon.Snapshot().Events

	switch r.URL.Query().Get("format") {
	case "", "json":
		writeJSON(w, http.StatusOK, events)
	case "csv":
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", `attachment; filename="device-history-events.csv"`)
		w.WriteHeader(http.StatusOK)
		if err := eventlog.WriteCSV(w, events); err != nil {
			s.log.Warn().Err(err).Msg("csv export interrupted")
		}
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "format must be json or csv"})
	}
}

func (s *Server) handleClearEvents(w http.ResponseWriter, r *http.Request) {
	if err := s.mon.ClearEvents(); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGetPrefs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.prefs.Get())
}

func (s *Server) handlePutPrefs(w http.ResponseWriter, r *http.Request) {
	var req store.Prefs
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := s.prefs.Update(req); err != nil {
		s.writeError(w, err)
		return
	}
	// the change applies in memory even when it could not be saved
	resp := prefsResponse{Prefs: s.prefs.Get()}
	if err := s.prefs.Err(); err != nil {
		resp.Warning = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

type prefsResponse struct {
	store.Prefs
	Warning string `json:"warning,omitempty"`
}

// writeError maps domain errors to status codes
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var verr *prefs.ValidationError
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": verr.Error(), "key": verr.Key})
	default:
		s.log.Error().Err(err).Msg("request failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func parseLimit(r *http.Request) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid limit %q", raw)
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}
