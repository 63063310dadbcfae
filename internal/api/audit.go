package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/intentgate/backend/internal/apperrors"
)

func (s *Server) handleRecordDecision(w http.ResponseWriter, r *http.Request) {
	wr := s.writer(r)
	if s.auditor == nil {
		wr.Error(w, apperrors.New(apperrors.KindInternal, "audit recorder not configured"))
		return
	}

	var req struct {
		IntentID string                 `json:"intent_id"`
		EntityID string                 `json:"entity_id"`
		Decision string                 `json:"decision"`
		Inputs   map[string]interface{} `json:"inputs,omitempty"`
		Outputs  map[string]interface{} `json:"outputs,omitempty"`
	}
	if err := decode(r, &req); err != nil {
		wr.Error(w, err)
		return
	}

	rec, err := s.auditor.Record(r.Context(), req.IntentID, req.EntityID, req.Decision, req.Inputs, req.Outputs)
	if err != nil {
		wr.Error(w, err)
		return
	}
	wr.Created(w, rec)
}

func (s *Server) handleVerifyDecision(w http.ResponseWriter, r *http.Request) {
	wr := s.writer(r)
	if s.auditor == nil {
		wr.Error(w, apperrors.New(apperrors.KindInternal, "audit recorder not configured"))
		return
	}
	v, err := s.auditor.Verify(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		wr.Error(w, err)
		return
	}
	wr.OK(w, v)
}

func (s *Server) handleVerifyAuditChain(w http.ResponseWriter, r *http.Request) {
	wr := s.writer(r)
	if s.auditor == nil {
		wr.Error(w, apperrors.New(apperrors.KindInternal, "audit recorder not configured"))
		return
	}
	report, err := s.auditor.VerifyChain(r.Context())
	if err != nil {
		wr.Error(w, err)
		return
	}
	wr.OK(w, report)
}
