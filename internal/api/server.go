// Package api exposes the control plane over REST/JSON: intent submission
// and lifecycle, escalations, consents, policies, and the audit chain.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/intentgate/backend/internal/apperrors"
	"github.com/intentgate/backend/internal/audit"
	"github.com/intentgate/backend/internal/circuitbreaker"
	"github.com/intentgate/backend/internal/consent"
	"github.com/intentgate/backend/internal/envelope"
	"github.com/intentgate/backend/internal/escalation"
	"github.com/intentgate/backend/internal/intent"
	"github.com/intentgate/backend/internal/multitenancy"
)

// Server routes requests to the domain services.
type Server struct {
	intents     *intent.Service
	escalations *escalation.Service
	consents    *consent.Service
	auditor     *audit.Recorder
	breakers    *circuitbreaker.ServiceBreakers
	auth        *multitenancy.Authenticator
	production  bool
}

// Deps wires the server. Auditor and Breakers may be nil.
type Deps struct {
	Intents     *intent.Service
	Escalations *escalation.Service
	Consents    *consent.Service
	Auditor     *audit.Recorder
	Breakers    *circuitbreaker.ServiceBreakers
	Auth        *multitenancy.Authenticator
	Production  bool
}

// NewServer builds the API server.
func NewServer(d Deps) *Server {
	if d.Auth == nil {
		d.Auth = multitenancy.NewAuthenticator(nil)
	}
	return &Server{
		intents:     d.Intents,
		escalations: d.Escalations,
		consents:    d.Consents,
		auditor:     d.Auditor,
		breakers:    d.Breakers,
		auth:        d.Auth,
		production:  d.Production,
	}
}

// Router assembles the full route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.requestIDMiddleware)

	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.Use(s.tenantMiddleware)

	// Intents
	v1.HandleFunc("/intents", s.handleSubmitIntent).Methods("POST")
	v1.HandleFunc("/intents", s.handleListIntents).Methods("GET")
	v1.HandleFunc("/intents/{id}", s.handleGetIntent).Methods("GET")
	v1.HandleFunc("/intents/{id}", s.handleSoftDeleteIntent).Methods("DELETE")
	v1.HandleFunc("/intents/{id}/cancel", s.handleCancelIntent).Methods("POST")
	v1.HandleFunc("/intents/{id}/transition", s.handleTransitionIntent).Methods("POST")
	v1.HandleFunc("/intents/{id}/trust", s.handleUpdateTrust).Methods("PUT")
	v1.HandleFunc("/intents/{id}/events", s.handleListEvents).Methods("GET")
	v1.HandleFunc("/intents/{id}/events/verify", s.handleVerifyEventChain).Methods("GET")
	v1.HandleFunc("/intents/{id}/evaluations", s.handleRecordEvaluation).Methods("POST")
	v1.HandleFunc("/intents/{id}/evaluations", s.handleListEvaluations).Methods("GET")
	v1.HandleFunc("/intents/{id}/escalations", s.handleListIntentEscalations).Methods("GET")

	// Escalations
	v1.HandleFunc("/escalations", s.handleCreateEscalation).Methods("POST")
	v1.HandleFunc("/escalations/pending", s.handleListPendingEscalations).Methods("GET")
	v1.HandleFunc("/escalations/stats", s.handleEscalationStats).Methods("GET")
	v1.HandleFunc("/escalations/sweep", s.handleSweepEscalations).Methods("POST")
	v1.HandleFunc("/escalations/reindex", s.handleRebuildEscalationIndexes).Methods("POST")
	v1.HandleFunc("/escalations/{id}", s.handleGetEscalation).Methods("GET")
	v1.HandleFunc("/escalations/{id}/acknowledge", s.handleAcknowledgeEscalation).Methods("POST")
	v1.HandleFunc("/escalations/{id}/approve", s.handleResolveEscalation("approve")).Methods("POST")
	v1.HandleFunc("/escalations/{id}/reject", s.handleResolveEscalation("reject")).Methods("POST")
	v1.HandleFunc("/escalations/{id}/cancel", s.handleResolveEscalation("cancel")).Methods("POST")

	// Consents and policies
	v1.HandleFunc("/consents", s.handleGrantConsent).Methods("POST")
	v1.HandleFunc("/consents/revoke", s.handleRevokeConsent).Methods("POST")
	v1.HandleFunc("/consents/validate", s.handleValidateConsent).Methods("GET")
	v1.HandleFunc("/consents/history", s.handleConsentHistory).Methods("GET")
	v1.HandleFunc("/policies", s.handleCreatePolicy).Methods("POST")
	v1.HandleFunc("/policies", s.handlePolicyHistory).Methods("GET")
	v1.HandleFunc("/policies/current", s.handleCurrentPolicy).Methods("GET")
	v1.HandleFunc("/policies/{version}", s.handleGetPolicy).Methods("GET")

	// Audit chain
	v1.HandleFunc("/audit/decisions", s.handleRecordDecision).Methods("POST")
	v1.HandleFunc("/audit/decisions/{id}/verify", s.handleVerifyDecision).Methods("GET")
	v1.HandleFunc("/audit/chain/verify", s.handleVerifyAuditChain).Methods("GET")

	return r
}

// ============================================================================
// MIDDLEWARE
// ============================================================================

type writerKeyType struct{}

var writerKey writerKeyType

// requestIDMiddleware assigns the request ID and stashes a response writer
// bound to it in the context.
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := envelope.RequestID(r)
		w.Header().Set("X-Request-ID", requestID)

		wr := envelope.NewWriter(requestID, s.production)
		ctx := context.WithValue(r.Context(), writerKey, wr)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// tenantMiddleware resolves the tenant from a Bearer API key or, when no keys
// are configured, from the trusted X-Tenant-ID header.
func (s *Server) tenantMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wr := s.writer(r)
		var tenantID string

		authHeader := r.Header.Get("Authorization")
		if strings.HasPrefix(authHeader, "Bearer ") {
			id, err := s.auth.Authenticate(strings.TrimPrefix(authHeader, "Bearer "))
			if err != nil {
				slog.Warn("API key rejected", "error", err, "path", r.URL.Path)
				wr.Error(w, apperrors.New(apperrors.KindUnauthorized, "invalid API key"))
				return
			}
			tenantID = id
		}

		if tenantID == "" {
			if s.auth.Enabled() {
				wr.Error(w, apperrors.New(apperrors.KindUnauthorized, "missing API key"))
				return
			}
			tenantID = r.Header.Get("X-Tenant-ID")
		}
		if tenantID == "" {
			wr.Error(w, apperrors.New(apperrors.KindUnauthorized, "missing tenant context"))
			return
		}

		ctx := multitenancy.WithTenant(r.Context(), tenantID)
		if userID := r.Header.Get("X-User-ID"); userID != "" {
			ctx = multitenancy.WithUser(ctx, userID)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) writer(r *http.Request) *envelope.Writer {
	if wr, ok := r.Context().Value(writerKey).(*envelope.Writer); ok {
		return wr
	}
	return envelope.NewWriter(envelope.RequestID(r), s.production)
}

func (s *Server) tenant(r *http.Request) string {
	id, _ := multitenancy.TenantFrom(r.Context())
	return id
}

// ============================================================================
// HEALTH AND LIFECYCLE
// ============================================================================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "HEALTHY"
	var breakers map[string]string
	if s.breakers != nil {
		status, breakers = s.breakers.HealthStatus()
	}
	s.writer(r).OK(w, map[string]interface{}{
		"status":    status,
		"breakers":  breakers,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// Serve runs the HTTP server until the context is cancelled, then drains
// in-flight requests for up to 15 seconds.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
