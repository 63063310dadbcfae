// Package escalation implements the human-in-the-loop escalation engine:
// SLA-bounded review requests with a TTL cache and KV indices for cheap
// pending/due lookups. The store is the source of truth; every index here is
// rebuildable.
package escalation

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/intentgate/backend/internal/apperrors"
	"github.com/intentgate/backend/internal/circuitbreaker"
	"github.com/intentgate/backend/internal/clock"
	"github.com/intentgate/backend/internal/events"
	"github.com/intentgate/backend/internal/kv"
	"github.com/intentgate/backend/internal/store"
)

// KV key layout. The timeout index scores members by deadline milliseconds.
const (
	cacheKeyPrefix   = "escalation:cache:"
	pendingKeyPrefix = "escalation:idx:pending:"
	intentKeyPrefix  = "escalation:idx:intent:"
	timeoutIndexKey  = "escalation:idx:timeouts"
)

// Repository is the slice of the escalation store the service needs.
type Repository interface {
	Insert(ctx context.Context, e *store.Escalation) error
	FindByID(ctx context.Context, id string) (*store.Escalation, error)
	Acknowledge(ctx context.Context, id, acknowledgedBy string, now time.Time) (*store.Escalation, error)
	Resolve(ctx context.Context, id, status, resolvedBy string, notes *string, slaBreached bool, now time.Time) (*store.Escalation, error)
	MarkTimedOut(ctx context.Context, id string, now time.Time) (bool, error)
	ListDue(ctx context.Context, now time.Time) ([]store.Escalation, error)
	ListByStatus(ctx context.Context, tenantID, status string) ([]store.Escalation, error)
	ListByIntent(ctx context.Context, intentID string) ([]store.Escalation, error)
	ListOpen(ctx context.Context, tenantID string) ([]store.Escalation, error)
}

// IntentUpdater is the peer capability the intent engine exposes so a
// resolved review can drive the intent's status. Bound after construction to
// avoid a constructor cycle between the two services.
type IntentUpdater interface {
	ResolveEscalated(ctx context.Context, tenantID, intentID string, approved bool, reason string) error
}

// Service is the escalation engine.
type Service struct {
	repo           Repository
	kv             kv.Client
	breaker        *circuitbreaker.CircuitBreaker
	clock          clock.Clock
	emitter        events.Emitter
	intents        IntentUpdater
	defaultTimeout string
	cacheTTL       time.Duration
}

// BindIntents attaches the intent peer. Without it, resolutions update only
// the escalation.
func (s *Service) BindIntents(u IntentUpdater) { s.intents = u }

// Options tunes the engine; zero values fall back to defaults.
type Options struct {
	DefaultTimeout string // ISO-8601, e.g. "PT1H"
	CacheTTL       time.Duration
}

// NewService wires the engine. kvc, breaker, and emitter may be nil; without
// a KV client the engine runs store-only.
func NewService(repo Repository, kvc kv.Client, breaker *circuitbreaker.CircuitBreaker, clk clock.Clock, emitter events.Emitter, opts Options) *Service {
	if clk == nil {
		clk = clock.SystemClock{}
	}
	if emitter == nil {
		emitter = events.NopEmitter{}
	}
	if opts.DefaultTimeout == "" {
		opts.DefaultTimeout = "PT1H"
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 5 * time.Minute
	}
	return &Service{
		repo:           repo,
		kv:             kvc,
		breaker:        breaker,
		clock:          clk,
		emitter:        emitter,
		defaultTimeout: opts.DefaultTimeout,
		cacheTTL:       opts.CacheTTL,
	}
}

// CreateRequest carries the inputs for Create.
type CreateRequest struct {
	IntentID       string                 `json:"intent_id"`
	TenantID       string                 `json:"tenant_id"`
	Reason         string                 `json:"reason"`
	ReasonCategory string                 `json:"reason_category"`
	EscalatedTo    string                 `json:"escalated_to"`
	EscalatedBy    *string                `json:"escalated_by,omitempty"`
	Timeout        string                 `json:"timeout,omitempty"` // ISO-8601
	Context        map[string]interface{} `json:"context,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// Create opens a pending escalation with an absolute SLA deadline.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*store.Escalation, error) {
	if req.IntentID == "" || req.TenantID == "" || req.Reason == "" {
		return nil, apperrors.New(apperrors.KindValidation, "intent_id, tenant_id, and reason are required")
	}
	if req.ReasonCategory == "" {
		req.ReasonCategory = store.ReasonManualReview
	}

	timeout := req.Timeout
	if timeout == "" {
		timeout = s.defaultTimeout
	}
	d, err := clock.ParseISODuration(timeout)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindValidation, "invalid timeout", err)
	}

	now := s.clock.Now()
	e := &store.Escalation{
		ID:             clock.NewID(),
		IntentID:       req.IntentID,
		TenantID:       req.TenantID,
		Reason:         req.Reason,
		ReasonCategory: req.ReasonCategory,
		EscalatedTo:    req.EscalatedTo,
		EscalatedBy:    req.EscalatedBy,
		Status:         store.EscalationPending,
		Timeout:        timeout,
		TimeoutAt:      now.Add(d),
		Context:        req.Context,
		Metadata:       req.Metadata,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if e.Context == nil {
		e.Context = map[string]interface{}{}
	}
	if e.Metadata == nil {
		e.Metadata = map[string]interface{}{}
	}

	if err := s.repo.Insert(ctx, e); err != nil {
		return nil, err
	}

	s.index(ctx, e)
	s.cachePut(ctx, e)
	s.emitter.Emit("escalation.created", e.TenantID, e.ID, map[string]interface{}{
		"intent_id":       e.IntentID,
		"reason_category": e.ReasonCategory,
		"timeout_at":      e.TimeoutAt.Format(time.RFC3339Nano),
	})
	return e, nil
}

// Get returns one escalation, cache-first. A tenant mismatch reports
// not_found rather than leaking existence.
func (s *Service) Get(ctx context.Context, id, tenantID string) (*store.Escalation, error) {
	if cached := s.cacheGet(ctx, id); cached != nil {
		if cached.TenantID != tenantID {
			return nil, apperrors.New(apperrors.KindNotFound, "escalation not found")
		}
		return cached, nil
	}

	e, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if e == nil || e.TenantID != tenantID {
		return nil, apperrors.New(apperrors.KindNotFound, "escalation not found")
	}
	s.cachePut(ctx, e)
	return e, nil
}

// Acknowledge moves pending to acknowledged and drops the pending index
// entry. Acknowledging a non-pending escalation is a conflict.
func (s *Service) Acknowledge(ctx context.Context, id, tenantID, acknowledgedBy string) (*store.Escalation, error) {
	if _, err := s.Get(ctx, id, tenantID); err != nil {
		return nil, err
	}

	e, err := s.repo.Acknowledge(ctx, id, acknowledgedBy, s.clock.Now())
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, apperrors.New(apperrors.KindInvalidTransition, "escalation is not pending")
	}

	s.kvDo(ctx, "remove pending index", func(ctx context.Context) error {
		return s.kv.SRem(ctx, pendingKeyPrefix+e.TenantID, e.ID)
	})
	s.cachePut(ctx, e)
	s.emitter.Emit("escalation.acknowledged", e.TenantID, e.ID, map[string]interface{}{
		"acknowledged_by": acknowledgedBy,
	})
	return e, nil
}

// Approve resolves the escalation as approved.
func (s *Service) Approve(ctx context.Context, id, tenantID, resolvedBy string, notes *string) (*store.Escalation, error) {
	return s.resolve(ctx, id, tenantID, store.EscalationApproved, resolvedBy, notes)
}

// Reject resolves the escalation as rejected.
func (s *Service) Reject(ctx context.Context, id, tenantID, resolvedBy string, notes *string) (*store.Escalation, error) {
	return s.resolve(ctx, id, tenantID, store.EscalationRejected, resolvedBy, notes)
}

// Cancel resolves the escalation as cancelled.
func (s *Service) Cancel(ctx context.Context, id, tenantID, resolvedBy string, notes *string) (*store.Escalation, error) {
	return s.resolve(ctx, id, tenantID, store.EscalationCancelled, resolvedBy, notes)
}

func (s *Service) resolve(ctx context.Context, id, tenantID, status, resolvedBy string, notes *string) (*store.Escalation, error) {
	current, err := s.Get(ctx, id, tenantID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	breached := now.After(current.TimeoutAt)

	e, err := s.repo.Resolve(ctx, id, status, resolvedBy, notes, breached, now)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, apperrors.New(apperrors.KindInvalidTransition, "escalation already resolved")
	}

	s.unindex(ctx, e)
	s.cacheDrop(ctx, e.ID)
	s.emitter.Emit("escalation.resolved", e.TenantID, e.ID, map[string]interface{}{
		"status":       status,
		"resolved_by":  resolvedBy,
		"sla_breached": breached,
	})

	// Approval and rejection verdicts propagate to the escalated intent.
	// Cancelling an escalation leaves the intent alone.
	if s.intents != nil && (status == store.EscalationApproved || status == store.EscalationRejected) {
		reason := ""
		if notes != nil {
			reason = *notes
		}
		approved := status == store.EscalationApproved
		if err := s.intents.ResolveEscalated(ctx, e.TenantID, e.IntentID, approved, reason); err != nil {
			slog.Warn("intent transition after resolution failed",
				"escalation_id", e.ID, "intent_id", e.IntentID, "error", err)
		}
	}
	return e, nil
}

// ProcessTimeouts sweeps overdue escalations to the timeout status. The
// conditional update in the store makes the sweep exactly-once even when a
// non-leader races; callers gate this behind leader election anyway.
func (s *Service) ProcessTimeouts(ctx context.Context) (int, error) {
	now := s.clock.Now()
	due, err := s.repo.ListDue(ctx, now)
	if err != nil {
		return 0, err
	}

	timedOut := 0
	for i := range due {
		e := &due[i]
		ok, err := s.repo.MarkTimedOut(ctx, e.ID, now)
		if err != nil {
			slog.Error("timeout sweep failed", "escalation_id", e.ID, "error", err)
			continue
		}
		if !ok {
			continue
		}
		timedOut++
		s.unindex(ctx, e)
		s.cacheDrop(ctx, e.ID)
		s.emitter.Emit("escalation.timeout", e.TenantID, e.ID, map[string]interface{}{
			"intent_id":  e.IntentID,
			"timeout_at": e.TimeoutAt.Format(time.RFC3339Nano),
		})
	}
	if timedOut > 0 {
		slog.Info("escalation timeout sweep", "due", len(due), "timed_out", timedOut)
	}
	return timedOut, nil
}

// RebuildIndexes reconstructs the KV indices from the store. Pass an empty
// tenant to rebuild globally. Used on cold start or after KV loss.
func (s *Service) RebuildIndexes(ctx context.Context, tenantID string) (int, error) {
	if s.kv == nil {
		return 0, nil
	}

	open, err := s.repo.ListOpen(ctx, tenantID)
	if err != nil {
		return 0, err
	}

	if tenantID == "" {
		s.kvDo(ctx, "reset timeout index", func(ctx context.Context) error {
			return s.kv.Del(ctx, timeoutIndexKey)
		})
		// Stale members must not survive a global rebuild, so every tenant
		// with open escalations gets its pending set reset too.
		seen := make(map[string]bool)
		for i := range open {
			tid := open[i].TenantID
			if seen[tid] {
				continue
			}
			seen[tid] = true
			s.kvDo(ctx, "reset pending index", func(ctx context.Context) error {
				return s.kv.Del(ctx, pendingKeyPrefix+tid)
			})
		}
	} else {
		s.kvDo(ctx, "reset pending index", func(ctx context.Context) error {
			return s.kv.Del(ctx, pendingKeyPrefix+tenantID)
		})
	}

	for i := range open {
		s.index(ctx, &open[i])
	}
	slog.Info("escalation indices rebuilt", "tenant_id", tenantID, "open", len(open))
	return len(open), nil
}

// ListPending returns a tenant's pending escalations, newest first.
func (s *Service) ListPending(ctx context.Context, tenantID string) ([]store.Escalation, error) {
	return s.repo.ListByStatus(ctx, tenantID, store.EscalationPending)
}

// ListByIntent returns all escalations raised for one intent.
func (s *Service) ListByIntent(ctx context.Context, intentID string) ([]store.Escalation, error) {
	return s.repo.ListByIntent(ctx, intentID)
}

// Stats summarizes a tenant's open escalations against their SLAs.
type Stats struct {
	Open    int `json:"open"`
	Pending int `json:"pending"`
	Overdue int `json:"overdue"`
}

// SLAStats snapshots a tenant's open escalation load.
func (s *Service) SLAStats(ctx context.Context, tenantID string) (*Stats, error) {
	open, err := s.repo.ListOpen(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	stats := &Stats{Open: len(open)}
	for _, e := range open {
		if e.Status == store.EscalationPending {
			stats.Pending++
		}
		if now.After(e.TimeoutAt) {
			stats.Overdue++
		}
	}
	return stats, nil
}

// ============================================================================
// KV INDICES AND CACHE
// ============================================================================

// kvDo runs one KV operation behind the breaker. KV failures degrade the
// indices, never the store, so errors are logged and swallowed.
func (s *Service) kvDo(ctx context.Context, op string, fn func(context.Context) error) {
	if s.kv == nil {
		return
	}
	var err error
	if s.breaker != nil {
		_, err = s.breaker.ExecuteContext(ctx, func(ctx context.Context) (interface{}, error) {
			return nil, fn(ctx)
		})
	} else {
		err = fn(ctx)
	}
	if err != nil {
		slog.Warn("escalation index degraded", "op", op, "error", err)
	}
}

func (s *Service) index(ctx context.Context, e *store.Escalation) {
	if s.kv == nil {
		return
	}
	deadlineMs := float64(e.TimeoutAt.UnixMilli())
	s.kvDo(ctx, "index", func(ctx context.Context) error {
		if e.Status == store.EscalationPending {
			if err := s.kv.SAdd(ctx, pendingKeyPrefix+e.TenantID, e.ID); err != nil {
				return err
			}
		}
		if err := s.kv.ZAdd(ctx, timeoutIndexKey, deadlineMs, e.ID); err != nil {
			return err
		}
		return s.kv.RPush(ctx, intentKeyPrefix+e.IntentID, e.ID)
	})
}

func (s *Service) unindex(ctx context.Context, e *store.Escalation) {
	s.kvDo(ctx, "unindex", func(ctx context.Context) error {
		if err := s.kv.SRem(ctx, pendingKeyPrefix+e.TenantID, e.ID); err != nil {
			return err
		}
		return s.kv.ZRem(ctx, timeoutIndexKey, e.ID)
	})
}

func (s *Service) cachePut(ctx context.Context, e *store.Escalation) {
	if s.kv == nil {
		return
	}
	raw, err := json.Marshal(e)
	if err != nil {
		return
	}
	s.kvDo(ctx, "cache put", func(ctx context.Context) error {
		return s.kv.Set(ctx, cacheKeyPrefix+e.ID, raw, s.cacheTTL)
	})
}

func (s *Service) cacheGet(ctx context.Context, id string) *store.Escalation {
	if s.kv == nil {
		return nil
	}
	raw, err := s.kv.Get(ctx, cacheKeyPrefix+id)
	if err != nil {
		if err != kv.ErrNotFound {
			slog.Warn("escalation cache read failed", "escalation_id", id, "error", err)
		}
		return nil
	}
	var e store.Escalation
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil
	}
	return &e
}

func (s *Service) cacheDrop(ctx context.Context, id string) {
	s.kvDo(ctx, "cache drop", func(ctx context.Context) error {
		return s.kv.Del(ctx, cacheKeyPrefix+id)
	})
}
