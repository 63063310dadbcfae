package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/intentgate/backend/internal/escalation"
	"github.com/intentgate/backend/internal/multitenancy"
	"github.com/intentgate/backend/internal/store"
)

func (s *Server) handleCreateEscalation(w http.ResponseWriter, r *http.Request) {
	wr := s.writer(r)
	var req escalation.CreateRequest
	if err := decode(r, &req); err != nil {
		wr.Error(w, err)
		return
	}
	req.TenantID = s.tenant(r)
	if req.EscalatedBy == nil {
		if userID, ok := multitenancy.UserFrom(r.Context()); ok {
			req.EscalatedBy = &userID
		}
	}

	esc, err := s.escalations.Create(r.Context(), req)
	if err != nil {
		wr.Error(w, err)
		return
	}
	wr.Created(w, esc)
}

func (s *Server) handleGetEscalation(w http.ResponseWriter, r *http.Request) {
	esc, err := s.escalations.Get(r.Context(), mux.Vars(r)["id"], s.tenant(r))
	if err != nil {
		s.writer(r).Error(w, err)
		return
	}
	s.writer(r).OK(w, esc)
}

func (s *Server) handleAcknowledgeEscalation(w http.ResponseWriter, r *http.Request) {
	wr := s.writer(r)
	var req struct {
		AcknowledgedBy string `json:"acknowledged_by"`
	}
	if err := decode(r, &req); err != nil {
		wr.Error(w, err)
		return
	}
	if req.AcknowledgedBy == "" {
		req.AcknowledgedBy, _ = multitenancy.UserFrom(r.Context())
	}

	esc, err := s.escalations.Acknowledge(r.Context(), mux.Vars(r)["id"], s.tenant(r), req.AcknowledgedBy)
	if err != nil {
		wr.Error(w, err)
		return
	}
	wr.OK(w, esc)
}

// handleResolveEscalation serves approve, reject and cancel, which share a
// request shape and differ only in the terminal status.
func (s *Server) handleResolveEscalation(action string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wr := s.writer(r)
		var req struct {
			ResolvedBy string  `json:"resolved_by"`
			Notes      *string `json:"notes,omitempty"`
		}
		if err := decode(r, &req); err != nil {
			wr.Error(w, err)
			return
		}
		if req.ResolvedBy == "" {
			req.ResolvedBy, _ = multitenancy.UserFrom(r.Context())
		}

		id, tenantID := mux.Vars(r)["id"], s.tenant(r)
		var esc *store.Escalation
		var err error
		switch action {
		case "approve":
			esc, err = s.escalations.Approve(r.Context(), id, tenantID, req.ResolvedBy, req.Notes)
		case "reject":
			esc, err = s.escalations.Reject(r.Context(), id, tenantID, req.ResolvedBy, req.Notes)
		default:
			esc, err = s.escalations.Cancel(r.Context(), id, tenantID, req.ResolvedBy, req.Notes)
		}
		if err != nil {
			wr.Error(w, err)
			return
		}
		wr.OK(w, esc)
	}
}

func (s *Server) handleListPendingEscalations(w http.ResponseWriter, r *http.Request) {
	pending, err := s.escalations.ListPending(r.Context(), s.tenant(r))
	if err != nil {
		s.writer(r).Error(w, err)
		return
	}
	s.writer(r).OK(w, pending)
}

func (s *Server) handleListIntentEscalations(w http.ResponseWriter, r *http.Request) {
	list, err := s.escalations.ListByIntent(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writer(r).Error(w, err)
		return
	}
	s.writer(r).OK(w, list)
}

func (s *Server) handleEscalationStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.escalations.SLAStats(r.Context(), s.tenant(r))
	if err != nil {
		s.writer(r).Error(w, err)
		return
	}
	s.writer(r).OK(w, stats)
}

// handleSweepEscalations triggers the timeout sweep on demand. The scheduler
// runs the same sweep on the leader.
func (s *Server) handleSweepEscalations(w http.ResponseWriter, r *http.Request) {
	n, err := s.escalations.ProcessTimeouts(r.Context())
	if err != nil {
		s.writer(r).Error(w, err)
		return
	}
	s.writer(r).OK(w, map[string]int{"timed_out": n})
}

func (s *Server) handleRebuildEscalationIndexes(w http.ResponseWriter, r *http.Request) {
	n, err := s.escalations.RebuildIndexes(r.Context(), s.tenant(r))
	if err != nil {
		s.writer(r).Error(w, err)
		return
	}
	s.writer(r).OK(w, map[string]int{"indexed": n})
}
