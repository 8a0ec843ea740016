package devserver

import (
	"errors"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	user, tokens, err := s.accounts.signIn(body.Email, body.Password, r.UserAgent(), clientIP(r))
	if err != nil {
		writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", errBadCredentials.Error())
		return
	}
	s.logger.Info("login", "user_id", user.ID)
	writeJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"token":         tokens.access,
		"refresh_token": tokens.refresh,
		"user":          user,
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.refreshCalls.Add(1)
	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	if body.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "refresh_token is required")
		return
	}
	tokens, err := s.accounts.rotate(body.RefreshToken)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "INVALID_REFRESH_TOKEN", "refresh token is invalid or revoked")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"token":         tokens.access,
		"refresh_token": tokens.refresh,
	})
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())
	user, ok := s.accounts.user(p.user.ID)
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "user not found")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RevokeAll bool   `json:"revoke_all_sessions"`
		SessionID string `json:"session_id"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	p := principalFrom(r.Context())
	switch {
	case body.RevokeAll:
		s.accounts.revokeAll(p.user.ID, "")
	case body.SessionID != "":
		if err := s.accounts.revoke(p.user.ID, body.SessionID); err != nil {
			writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
			return
		}
	default:
		_ = s.accounts.revoke(p.user.ID, p.sessionID)
	}
	s.logger.Info("logout", "user_id", p.user.ID, "all", body.RevokeAll)
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"sessions": s.accounts.sessionsOf(p.user.ID, p.sessionID),
	})
}

func (s *Server) handleRevokeSession(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())
	if err := s.accounts.revoke(p.user.ID, chi.URLParam(r, "sessionId")); err != nil {
		if errors.Is(err, errSessionMissing) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleRevokeOthers(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())
	revoked := s.accounts.revokeAll(p.user.ID, p.sessionID)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "revoked": revoked})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
