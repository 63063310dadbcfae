package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/intentgate/backend/internal/apperrors"
	"github.com/intentgate/backend/internal/envelope"
	"github.com/intentgate/backend/internal/intent"
	"github.com/intentgate/backend/internal/lifecycle"
	"github.com/intentgate/backend/internal/multitenancy"
	"github.com/intentgate/backend/internal/store"
)

// decode reads a JSON body into dst, rejecting unknown fields. An empty body
// leaves dst zero-valued.
func decode(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && err != io.EOF {
		return apperrors.Wrap(apperrors.KindValidation, "invalid request body", err)
	}
	return nil
}

func (s *Server) handleSubmitIntent(w http.ResponseWriter, r *http.Request) {
	wr := s.writer(r)

	var req struct {
		intent.SubmitRequest
		TrustLevel    *int                   `json:"trust_level,omitempty"`
		TrustSnapshot map[string]interface{} `json:"trust_snapshot,omitempty"`
	}
	if err := decode(r, &req); err != nil {
		wr.Error(w, err)
		return
	}

	userID, _ := multitenancy.UserFrom(r.Context())
	res, err := s.intents.Submit(r.Context(), req.SubmitRequest, intent.SubmitOptions{
		TenantID:      s.tenant(r),
		UserID:        userID,
		TrustLevel:    req.TrustLevel,
		TrustSnapshot: req.TrustSnapshot,
	})
	if err != nil {
		wr.Error(w, err)
		return
	}
	if res.Duplicate {
		wr.OK(w, res)
		return
	}
	wr.Created(w, res)
}

func (s *Server) handleGetIntent(w http.ResponseWriter, r *http.Request) {
	in, err := s.intents.Get(r.Context(), s.tenant(r), mux.Vars(r)["id"])
	if err != nil {
		s.writer(r).Error(w, err)
		return
	}
	s.writer(r).OK(w, in)
}

func (s *Server) handleListIntents(w http.ResponseWriter, r *http.Request) {
	wr := s.writer(r)
	q := r.URL.Query()

	f := store.ListFilter{
		TenantID: s.tenant(r),
		Status:   lifecycle.Status(q.Get("status")),
		EntityID: q.Get("entity_id"),
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			f.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			f.Offset = n
		}
	}
	if v := q.Get("cursor"); v != "" {
		cursor, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			wr.Error(w, apperrors.New(apperrors.KindValidation, "cursor must be RFC 3339"))
			return
		}
		f.Cursor = &cursor
	}

	page, err := s.intents.List(r.Context(), f)
	if err != nil {
		wr.Error(w, err)
		return
	}

	p := envelope.Pagination{Limit: page.Limit, Offset: page.Offset, HasMore: page.HasMore}
	if page.NextCursor != nil {
		p.NextCursor = page.NextCursor.UTC().Format(time.RFC3339Nano)
	}
	wr.Page(w, page.Items, p)
}

func (s *Server) handleCancelIntent(w http.ResponseWriter, r *http.Request) {
	wr := s.writer(r)
	var req struct {
		Reason string `json:"reason"`
	}
	if err := decode(r, &req); err != nil {
		wr.Error(w, err)
		return
	}
	in, err := s.intents.Cancel(r.Context(), s.tenant(r), mux.Vars(r)["id"], req.Reason)
	if err != nil {
		wr.Error(w, err)
		return
	}
	wr.OK(w, in)
}

func (s *Server) handleTransitionIntent(w http.ResponseWriter, r *http.Request) {
	wr := s.writer(r)
	var req struct {
		Status        string                 `json:"status"`
		Reason        string                 `json:"reason,omitempty"`
		HasPermission bool                   `json:"has_permission,omitempty"`
		Payload       map[string]interface{} `json:"payload,omitempty"`
	}
	if err := decode(r, &req); err != nil {
		wr.Error(w, err)
		return
	}
	if req.Status == "" {
		wr.Error(w, apperrors.New(apperrors.KindValidation, "status is required"))
		return
	}

	in, err := s.intents.Transition(r.Context(), s.tenant(r), mux.Vars(r)["id"],
		lifecycle.Status(req.Status), intent.TransitionOptions{
			Reason:        req.Reason,
			HasPermission: req.HasPermission,
			Payload:       req.Payload,
		})
	if err != nil {
		wr.Error(w, err)
		return
	}
	wr.OK(w, in)
}

func (s *Server) handleUpdateTrust(w http.ResponseWriter, r *http.Request) {
	wr := s.writer(r)
	var req struct {
		Snapshot map[string]interface{} `json:"snapshot,omitempty"`
		Level    *int                   `json:"level,omitempty"`
		Score    *int                   `json:"score,omitempty"`
	}
	if err := decode(r, &req); err != nil {
		wr.Error(w, err)
		return
	}
	if err := s.intents.UpdateTrustMetadata(r.Context(), s.tenant(r), mux.Vars(r)["id"],
		req.Snapshot, req.Level, req.Score); err != nil {
		wr.Error(w, err)
		return
	}
	wr.OK(w, map[string]string{"status": "updated"})
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.intents.Events(r.Context(), s.tenant(r), mux.Vars(r)["id"])
	if err != nil {
		s.writer(r).Error(w, err)
		return
	}
	s.writer(r).OK(w, events)
}

func (s *Server) handleVerifyEventChain(w http.ResponseWriter, r *http.Request) {
	report, err := s.intents.VerifyEventChain(r.Context(), s.tenant(r), mux.Vars(r)["id"])
	if err != nil {
		s.writer(r).Error(w, err)
		return
	}
	s.writer(r).OK(w, report)
}

func (s *Server) handleRecordEvaluation(w http.ResponseWriter, r *http.Request) {
	wr := s.writer(r)
	var req struct {
		Result map[string]interface{} `json:"result"`
	}
	if err := decode(r, &req); err != nil {
		wr.Error(w, err)
		return
	}
	eval, err := s.intents.RecordEvaluation(r.Context(), s.tenant(r), mux.Vars(r)["id"], req.Result)
	if err != nil {
		wr.Error(w, err)
		return
	}
	wr.Created(w, eval)
}

func (s *Server) handleListEvaluations(w http.ResponseWriter, r *http.Request) {
	evals, err := s.intents.ListEvaluations(r.Context(), s.tenant(r), mux.Vars(r)["id"])
	if err != nil {
		s.writer(r).Error(w, err)
		return
	}
	s.writer(r).OK(w, evals)
}

func (s *Server) handleSoftDeleteIntent(w http.ResponseWriter, r *http.Request) {
	if err := s.intents.SoftDelete(r.Context(), s.tenant(r), mux.Vars(r)["id"]); err != nil {
		s.writer(r).Error(w, err)
		return
	}
	s.writer(r).OK(w, map[string]string{"status": "deleted"})
}
