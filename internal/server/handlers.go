package server

import (
	"net/http"
	"strconv"

	"github.com/snapmagictest/snapmagic/internal/common"
	"github.com/snapmagictest/snapmagic/internal/models"
)

// submitRequest is the POST /submit body.
type submitRequest struct {
	Kind   string `json:"kind"`
	Prompt string `json:"prompt"`
}

// handleSubmit implements C6's external entry point.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	sc := common.SessionContextFromContext(r.Context())
	if sc == nil {
		WriteError(w, http.StatusUnauthorized, "missing session")
		return
	}

	var req submitRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	result, err := s.intake.Submit(r.Context(), sc.SessionID, models.Kind(req.Kind), req.Prompt)
	if err != nil {
		WriteAPIError(w, err)
		return
	}
	WriteJSON(w, http.StatusAccepted, result)
}

// handleStatus implements GET /status/{job_id}.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	sc := common.SessionContextFromContext(r.Context())
	if sc == nil {
		WriteError(w, http.StatusUnauthorized, "missing session")
		return
	}

	jobID := PathParam(r, "/status/", "")
	if jobID == "" {
		WriteError(w, http.StatusBadRequest, "job_id is required in path")
		return
	}

	st, err := s.status.GetStatus(r.Context(), sc.SessionID, jobID)
	if err != nil {
		WriteAPIError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, st)
}

// galleryDefaultLimit bounds the default page size for GET /gallery.
const galleryDefaultLimit = 50

// handleGallery implements GET /gallery.
func (s *Server) handleGallery(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	sc := common.SessionContextFromContext(r.Context())
	if sc == nil {
		WriteError(w, http.StatusUnauthorized, "missing session")
		return
	}

	limit := galleryDefaultLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 && v <= 500 {
			limit = v
		}
	}

	items, err := s.status.LoadGallery(r.Context(), sc.SessionID, limit)
	if err != nil {
		WriteAPIError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}
