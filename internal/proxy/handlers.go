package proxy

import (
	"encoding/json"
	"net/http"

	apierrors "gemini-bridge/internal/errors"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// handleModels serves GET /v1/models.
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.models.List())
}

// handleUsage serves GET /internal/usage with the per-model request counts.
func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"requests": s.models.Usage()})
}

// handleAuthStatus serves GET /auth/status.
func (s *Server) handleAuthStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.manager.Status())
}

type loginRequest struct {
	Code        string `json:"code"`
	RedirectURI string `json:"redirect_uri"`
}

// handleAuthLogin serves POST /auth/login: exchanges an authorization code
// for a stored credential.
func (s *Server) handleAuthLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.WriteInvalidRequest(w, "malformed JSON body: "+err.Error())
		return
	}
	if req.Code == "" || req.RedirectURI == "" {
		apierrors.WriteInvalidRequest(w, "code and redirect_uri are required")
		return
	}
	if err := s.manager.ExchangeCode(r.Context(), req.Code, req.RedirectURI); err != nil {
		apierrors.WriteError(w, http.StatusUnauthorized, apierrors.TypeAuthentication, err.Error())
		return
	}
	s.quota.Invalidate()
	writeJSON(w, http.StatusOK, s.manager.Status())
}

// handleAuthLogout serves POST /auth/logout. Idempotent.
func (s *Server) handleAuthLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.Logout(); err != nil {
		apierrors.WriteError(w, http.StatusInternalServerError, apierrors.TypeServer, err.Error())
		return
	}
	s.quota.Invalidate()
	writeJSON(w, http.StatusOK, s.manager.Status())
}

// handleAuthQuota serves GET /auth/quota with per-model quota remaining.
func (s *Server) handleAuthQuota(w http.ResponseWriter, r *http.Request) {
	token, err := s.manager.Token(r.Context())
	if err != nil {
		apierrors.WriteUpstreamError(w, err)
		return
	}
	project, err := s.manager.ProjectID()
	if err != nil {
		apierrors.WriteUpstreamError(w, err)
		return
	}
	info, err := s.quota.Get(r.Context(), s.httpClient, s.endpoint, token, project)
	if err != nil {
		apierrors.WriteUpstreamError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"quota": info})
}
