package server

import (
	"net/http"
	"strconv"
)

// handleAdminDeadLetter implements GET /admin/api/deadletter — read-only
// inspection of C3's dead-letter sink, supplemented beyond spec.md's
// client-facing surface per SPEC_FULL.md.
func (s *Server) handleAdminDeadLetter(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	limit := 100
	if l := r.URL.Query().Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 && v <= 1000 {
			limit = v
		}
	}
	entries, err := s.queue.ListDeadLetters(r.Context(), limit)
	if err != nil {
		WriteAPIError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

// overrideRequest is the POST /admin/api/sessions/{session_id}/override body.
type overrideRequest struct {
	Level int `json:"level"`
}

// handleAdminOverride implements POST /admin/api/sessions/{session_id}/override —
// the staff override-level setting tool from spec.md §4.7/§6.
func (s *Server) handleAdminOverride(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	sessionID := PathParam(r, "/admin/api/sessions/", "/override")
	if sessionID == "" {
		WriteError(w, http.StatusBadRequest, "session_id is required in path")
		return
	}

	var req overrideRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	if req.Level < 0 {
		WriteError(w, http.StatusBadRequest, "level must be non-negative")
		return
	}

	if err := s.quota.SetOverrideLevel(r.Context(), sessionID, req.Level); err != nil {
		WriteAPIError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"session_id": sessionID, "level": req.Level})
}

// handleAdminWS implements GET /admin/ws — the live job-event feed. Operator
// only, per SPEC_FULL.md's Non-goals: end users never see this feed.
func (s *Server) handleAdminWS(w http.ResponseWriter, r *http.Request) {
	if s.wsHub == nil {
		WriteError(w, http.StatusServiceUnavailable, "ops feed not configured")
		return
	}
	s.wsHub.ServeWS(w, r)
}
