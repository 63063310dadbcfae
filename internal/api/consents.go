package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/intentgate/backend/internal/apperrors"
	"github.com/intentgate/backend/internal/consent"
	"github.com/intentgate/backend/internal/multitenancy"
)

// userOrQuery resolves the subject user: an explicit user_id query parameter
// wins, then the authenticated user from the context.
func userOrQuery(r *http.Request) string {
	if v := r.URL.Query().Get("user_id"); v != "" {
		return v
	}
	userID, _ := multitenancy.UserFrom(r.Context())
	return userID
}

func (s *Server) handleGrantConsent(w http.ResponseWriter, r *http.Request) {
	wr := s.writer(r)
	var req consent.GrantRequest
	if err := decode(r, &req); err != nil {
		wr.Error(w, err)
		return
	}
	req.TenantID = s.tenant(r)
	if req.UserID == "" {
		req.UserID, _ = multitenancy.UserFrom(r.Context())
	}
	if req.IPAddress == nil {
		if addr := r.RemoteAddr; addr != "" {
			req.IPAddress = &addr
		}
	}
	if req.UserAgent == nil {
		if ua := r.UserAgent(); ua != "" {
			req.UserAgent = &ua
		}
	}

	c, err := s.consents.Grant(r.Context(), req)
	if err != nil {
		wr.Error(w, err)
		return
	}
	wr.Created(w, c)
}

func (s *Server) handleRevokeConsent(w http.ResponseWriter, r *http.Request) {
	wr := s.writer(r)
	var req struct {
		UserID      string `json:"user_id,omitempty"`
		ConsentType string `json:"consent_type"`
	}
	if err := decode(r, &req); err != nil {
		wr.Error(w, err)
		return
	}
	if req.UserID == "" {
		req.UserID, _ = multitenancy.UserFrom(r.Context())
	}

	c, err := s.consents.Revoke(r.Context(), req.UserID, s.tenant(r), req.ConsentType)
	if err != nil {
		wr.Error(w, err)
		return
	}
	if c == nil {
		// Revoking an absent consent is a no-op.
		wr.OK(w, map[string]string{"status": "not_active"})
		return
	}
	wr.OK(w, c)
}

func (s *Server) handleValidateConsent(w http.ResponseWriter, r *http.Request) {
	wr := s.writer(r)
	consentType := r.URL.Query().Get("consent_type")
	if consentType == "" {
		wr.Error(w, apperrors.New(apperrors.KindValidation, "consent_type is required"))
		return
	}

	res, err := s.consents.Validate(r.Context(), userOrQuery(r), s.tenant(r), consentType)
	if err != nil {
		wr.Error(w, err)
		return
	}
	wr.OK(w, res)
}

func (s *Server) handleConsentHistory(w http.ResponseWriter, r *http.Request) {
	history, err := s.consents.History(r.Context(), userOrQuery(r), s.tenant(r))
	if err != nil {
		s.writer(r).Error(w, err)
		return
	}
	s.writer(r).OK(w, history)
}

// ============================================================================
// POLICIES
// ============================================================================

func (s *Server) handleCreatePolicy(w http.ResponseWriter, r *http.Request) {
	wr := s.writer(r)
	var req struct {
		ConsentType string `json:"consent_type"`
		Version     string `json:"version"`
		Content     string `json:"content"`
	}
	if err := decode(r, &req); err != nil {
		wr.Error(w, err)
		return
	}

	p, err := s.consents.CreatePolicy(r.Context(), s.tenant(r), req.ConsentType, req.Version, req.Content)
	if err != nil {
		wr.Error(w, err)
		return
	}
	wr.Created(w, p)
}

func (s *Server) handleCurrentPolicy(w http.ResponseWriter, r *http.Request) {
	p, err := s.consents.CurrentPolicy(r.Context(), s.tenant(r), r.URL.Query().Get("consent_type"))
	if err != nil {
		s.writer(r).Error(w, err)
		return
	}
	s.writer(r).OK(w, p)
}

func (s *Server) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	p, err := s.consents.Policy(r.Context(), s.tenant(r),
		r.URL.Query().Get("consent_type"), mux.Vars(r)["version"])
	if err != nil {
		s.writer(r).Error(w, err)
		return
	}
	s.writer(r).OK(w, p)
}

func (s *Server) handlePolicyHistory(w http.ResponseWriter, r *http.Request) {
	history, err := s.consents.PolicyHistory(r.Context(), s.tenant(r), r.URL.Query().Get("consent_type"))
	if err != nil {
		s.writer(r).Error(w, err)
		return
	}
	s.writer(r).OK(w, history)
}
