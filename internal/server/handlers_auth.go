package server

import (
	"net/http"

	"github.com/snapmagictest/snapmagic/internal/models"
)

// loginRequest is the POST /login body.
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// remainingQuota mirrors spec.md §6's {card, video, print} shape.
type remainingQuota struct {
	Card  int `json:"card"`
	Video int `json:"video"`
	Print int `json:"print"`
}

// loginResponse is the POST /login response body.
type loginResponse struct {
	Token     string         `json:"token"`
	ExpiresIn int            `json:"expires_in"`
	SessionID string         `json:"session_id"`
	Remaining remainingQuota `json:"remaining"`
}

// handleLogin validates static credentials from config and mints a session
// JWT. session_id is deterministically the username (not a random value) so
// quota accumulates across logins by the same user, per spec.md §8's
// testable quota-exhaustion properties — a fresh session_id per login would
// silently reset a user's budget.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req loginRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	want, ok := s.config.Auth.Credentials[req.Username]
	if !ok || want != req.Password || req.Username == "" {
		WriteError(w, http.StatusUnauthorized, "invalid username or password")
		return
	}

	admin := s.config.Auth.IsAdmin(req.Username)
	ttl := s.config.Auth.GetTokenExpiry()
	token, _, err := signJWT(req.Username, admin, []byte(s.config.Auth.JWTSecret), ttl)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to sign session token")
		WriteError(w, http.StatusInternalServerError, "failed to mint session token")
		return
	}

	ctx := r.Context()
	cardRemaining, _ := s.quota.Remaining(ctx, req.Username, models.KindCard, s.config.Pipeline.Quota.BaseCard)
	videoRemaining, _ := s.quota.Remaining(ctx, req.Username, models.KindVideo, s.config.Pipeline.Quota.BaseVideo)
	printRemaining, _ := s.quota.Remaining(ctx, req.Username, models.KindPrint, s.config.Pipeline.Quota.BasePrint)

	WriteJSON(w, http.StatusOK, loginResponse{
		Token:     token,
		ExpiresIn: int(ttl.Seconds()),
		SessionID: req.Username,
		Remaining: remainingQuota{Card: cardRemaining, Video: videoRemaining, Print: printRemaining},
	})
}
