// Package intent implements the intent lifecycle engine: the submission
// pipeline with consent/trust gates and fingerprint deduplication, and the
// status transitions recorded on each intent's hash chain.
package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/intentgate/backend/internal/apperrors"
	"github.com/intentgate/backend/internal/circuitbreaker"
	"github.com/intentgate/backend/internal/clock"
	"github.com/intentgate/backend/internal/config"
	"github.com/intentgate/backend/internal/consent"
	"github.com/intentgate/backend/internal/cryptoutil"
	"github.com/intentgate/backend/internal/events"
	"github.com/intentgate/backend/internal/kv"
	"github.com/intentgate/backend/internal/lifecycle"
	"github.com/intentgate/backend/internal/metrics"
	"github.com/intentgate/backend/internal/queue"
	"github.com/intentgate/backend/internal/redact"
	"github.com/intentgate/backend/internal/store"
)

const (
	dedupeLockPrefix   = "intent:dedupe:"
	dedupeMarkerPrefix = "intent:dedupe:marker:"
)

// Repository is the slice of the intent store the engine needs.
type Repository interface {
	CreateIntentWithEvent(ctx context.Context, in *store.Intent, eventType string, eventPayload map[string]interface{}, encrypt bool) (*store.IntentEvent, error)
	RecordEvent(ctx context.Context, intentID, eventType string, payload map[string]interface{}, occurredAt time.Time) (*store.IntentEvent, error)
	VerifyEventChain(ctx context.Context, intentID string) (*store.ChainVerification, error)
	ListEvents(ctx context.Context, intentID string) ([]store.IntentEvent, error)
	FindByID(ctx context.Context, tenantID, id string) (*store.Intent, error)
	FindByDedupeHash(ctx context.Context, tenantID, dedupeHash string) (*store.Intent, error)
	ListIntents(ctx context.Context, f store.ListFilter) (*store.IntentPage, error)
	SoftDelete(ctx context.Context, tenantID, id string, now time.Time) (bool, error)
	PurgeDeleted(ctx context.Context, retentionDays int, now time.Time) (int64, error)
	CancelIntent(ctx context.Context, tenantID, id, reason string, now time.Time) (*store.Intent, error)
	CountActive(ctx context.Context, tenantID string) (int, error)
	UpdateStatus(ctx context.Context, tenantID, id string, expectedFrom, next lifecycle.Status, now time.Time) (bool, error)
	UpdateTrustMetadata(ctx context.Context, tenantID, id string, snapshot map[string]interface{}, level, score *int, now time.Time) (bool, error)
	RecordEvaluation(ctx context.Context, eval *store.IntentEvaluation) error
	ListEvaluations(ctx context.Context, intentID string) ([]store.IntentEvaluation, error)
}

// ConsentChecker is the consent-gate dependency.
type ConsentChecker interface {
	Validate(ctx context.Context, userID, tenantID, consentType string) (*consent.ValidationResult, error)
}

// Service is the intent lifecycle engine.
type Service struct {
	repo     Repository
	tenants  *config.Manager
	kv       kv.Client
	queue    queue.Queue
	consents ConsentChecker
	breakers *circuitbreaker.ServiceBreakers
	metrics  *metrics.Metrics
	emitter  events.Emitter
	clock    clock.Clock
	cfg      config.IntentConfig

	fallbackWarn sync.Once
}

// Deps wires the engine. kv, queue, consents, breakers, metrics, and emitter
// may be nil; each missing dependency degrades that step gracefully.
type Deps struct {
	Repo     Repository
	Tenants  *config.Manager
	KV       kv.Client
	Queue    queue.Queue
	Consents ConsentChecker
	Breakers *circuitbreaker.ServiceBreakers
	Metrics  *metrics.Metrics
	Emitter  events.Emitter
	Clock    clock.Clock
	Config   config.IntentConfig
}

// NewService builds the engine.
func NewService(d Deps) *Service {
	if d.Clock == nil {
		d.Clock = clock.SystemClock{}
	}
	if d.Emitter == nil {
		d.Emitter = events.NopEmitter{}
	}
	if d.Config.DedupeWindowSeconds <= 0 {
		d.Config.DedupeWindowSeconds = 300
	}
	if d.Config.MaxContextBytes <= 0 {
		d.Config.MaxContextBytes = 64 * 1024
	}
	return &Service{
		repo:     d.Repo,
		tenants:  d.Tenants,
		kv:       d.KV,
		queue:    d.Queue,
		consents: d.Consents,
		breakers: d.Breakers,
		metrics:  d.Metrics,
		emitter:  d.Emitter,
		clock:    d.Clock,
		cfg:      d.Config,
	}
}

// SubmitRequest is the intent payload.
type SubmitRequest struct {
	EntityID       string                 `json:"entity_id"`
	Goal           string                 `json:"goal"`
	IntentType     string                 `json:"intent_type,omitempty"`
	Priority       int                    `json:"priority"`
	Context        map[string]interface{} `json:"context,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	IdempotencyKey string                 `json:"idempotency_key,omitempty"`
}

// SubmitOptions carry the caller's identity and gate bypasses.
type SubmitOptions struct {
	TenantID           string
	UserID             string
	TrustLevel         *int
	TrustSnapshot      map[string]interface{}
	BypassTrustGate    bool
	BypassConsentCheck bool
}

// SubmitResult is a submission outcome. Duplicate means the returned intent
// already existed under the same fingerprint.
type SubmitResult struct {
	Intent    *store.Intent `json:"intent"`
	Duplicate bool          `json:"duplicate"`
}

// Submit runs the ordered submission pipeline. Each step either completes or
// returns a typed error without advancing.
func (s *Service) Submit(ctx context.Context, req SubmitRequest, opts SubmitOptions) (*SubmitResult, error) {
	started := time.Now()
	res, err := s.submit(ctx, req, opts)
	s.observeSubmission(opts.TenantID, started, res, err)
	return res, err
}

func (s *Service) submit(ctx context.Context, req SubmitRequest, opts SubmitOptions) (*SubmitResult, error) {
	// 1. Validation.
	settings := s.tenants.Resolve(opts.TenantID)
	if err := s.validate(req, opts); err != nil {
		return nil, err
	}

	// 2. Consent gate.
	if opts.UserID != "" && !opts.BypassConsentCheck && s.consents != nil {
		v, err := s.consents.Validate(ctx, opts.UserID, opts.TenantID, store.ConsentDataProcessing)
		if err != nil {
			return nil, err
		}
		if !v.Valid {
			return nil, apperrors.New(apperrors.KindConsentRequired, "data processing consent required").
				WithDetail("reason", v.Reason)
		}
	}

	// 3. Trust gate.
	if !opts.BypassTrustGate {
		required := settings.RequiredTrustLevel(req.IntentType)
		actual := 0
		if opts.TrustLevel != nil {
			actual = *opts.TrustLevel
		}
		if actual < required {
			return nil, apperrors.New(apperrors.KindTrustInsufficient, "trust level below gate").
				WithDetail("required", required).
				WithDetail("actual", actual)
		}
	}

	// 4. Deduplication fingerprint.
	now := s.clock.Now()
	dedupeHash, err := s.fingerprint(req, opts.TenantID, now)
	if err != nil {
		return nil, err
	}

	// 5. Store lookup.
	if existing, err := s.repo.FindByDedupeHash(ctx, opts.TenantID, dedupeHash); err != nil {
		return nil, err
	} else if existing != nil {
		return &SubmitResult{Intent: existing, Duplicate: true}, nil
	}

	// 6. Tenant in-flight cap.
	if settings.MaxInFlight > 0 {
		active, err := s.repo.CountActive(ctx, opts.TenantID)
		if err != nil {
			return nil, err
		}
		if active >= settings.MaxInFlight {
			return nil, apperrors.New(apperrors.KindIntentRateLimit, "tenant in-flight limit reached").
				WithDetail("max_in_flight", settings.MaxInFlight)
		}
	}

	// 7. Reserve the fingerprint under the distributed lock.
	lock, dup, err := s.reserve(ctx, opts.TenantID, dedupeHash)
	if err != nil {
		return nil, err
	}
	if dup != nil {
		return &SubmitResult{Intent: dup, Duplicate: true}, nil
	}
	if lock != nil {
		// 11. Always release; the unique index is the final guard.
		defer lock.Release(context.WithoutCancel(ctx))
	}

	// 8. Redaction.
	redactor := redact.New(settings.RedactPaths, "")
	redactedCtx := redactor.ApplyPrefixed("context", req.Context)
	redactedMeta := redactor.ApplyPrefixed("metadata", req.Metadata)
	if redactedCtx == nil {
		redactedCtx = map[string]interface{}{}
	}
	if redactedMeta == nil {
		redactedMeta = map[string]interface{}{}
	}

	in := &store.Intent{
		ID:            clock.NewID(),
		TenantID:      opts.TenantID,
		EntityID:      req.EntityID,
		Goal:          req.Goal,
		IntentType:    req.IntentType,
		Priority:      req.Priority,
		Status:        lifecycle.StatusPending,
		Context:       redactedCtx,
		Metadata:      redactedMeta,
		DedupeHash:    dedupeHash,
		TrustSnapshot: opts.TrustSnapshot,
		TrustLevel:    opts.TrustLevel,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	// trust_level is always present in the payload, null when unknown, so
	// every submitted event carries the same shape.
	eventPayload := map[string]interface{}{
		"goal":        req.Goal,
		"intent_type": req.IntentType,
		"priority":    req.Priority,
		"trust_level": nil,
	}
	if opts.TrustLevel != nil {
		eventPayload["trust_level"] = *opts.TrustLevel
	}

	// 9 + 10. Encrypt-at-rest and the transactional write.
	_, err = s.repo.CreateIntentWithEvent(ctx, in, lifecycle.EventSubmitted, eventPayload, settings.EncryptAtRest)
	if err != nil {
		if apperrors.Is(err, apperrors.KindConflict) {
			// A racer won the unique index; return their row.
			if winner, ferr := s.repo.FindByDedupeHash(ctx, opts.TenantID, dedupeHash); ferr == nil && winner != nil {
				return &SubmitResult{Intent: winner, Duplicate: true}, nil
			}
		}
		return nil, err
	}

	s.markFingerprint(ctx, opts.TenantID, dedupeHash, in.ID)

	// 12. Enqueue; failures are logged, never fatal.
	s.enqueue(ctx, settings, in)

	s.emitter.Emit(lifecycle.EventSubmitted, in.TenantID, in.ID, map[string]interface{}{
		"entity_id":   in.EntityID,
		"intent_type": in.IntentType,
		"priority":    in.Priority,
	})
	return &SubmitResult{Intent: in, Duplicate: false}, nil
}

func (s *Service) validate(req SubmitRequest, opts SubmitOptions) error {
	if opts.TenantID == "" {
		return apperrors.New(apperrors.KindValidation, "tenant_id is required")
	}
	if req.EntityID == "" || req.Goal == "" {
		return apperrors.New(apperrors.KindValidation, "entity_id and goal are required")
	}
	if len(req.Goal) > 1024 {
		return apperrors.New(apperrors.KindValidation, "goal exceeds 1024 characters").
			WithDetail("length", len(req.Goal))
	}
	if len(req.IntentType) > 128 {
		return apperrors.New(apperrors.KindValidation, "intent_type exceeds 128 characters").
			WithDetail("length", len(req.IntentType))
	}
	if req.Priority < 0 || req.Priority > 9 {
		return apperrors.New(apperrors.KindValidation, "priority must be between 0 and 9")
	}
	if req.Context != nil {
		raw, err := json.Marshal(req.Context)
		if err != nil {
			return apperrors.Wrap(apperrors.KindValidation, "context is not serializable", err)
		}
		if len(raw) > s.cfg.MaxContextBytes {
			return apperrors.New(apperrors.KindValidation, "context exceeds size limit").
				WithDetail("max_bytes", s.cfg.MaxContextBytes).
				WithDetail("actual_bytes", len(raw))
		}
	}
	return nil
}

// fingerprint computes the windowed dedupe hash. Without a secret it falls
// back to plain SHA-256 and warns once per process.
func (s *Service) fingerprint(req SubmitRequest, tenantID string, now time.Time) (string, error) {
	canonicalCtx := []byte("{}")
	if req.Context != nil {
		var err error
		canonicalCtx, err = cryptoutil.CanonicalJSON(req.Context)
		if err != nil {
			return "", apperrors.Wrap(apperrors.KindValidation, "canonicalize context", err)
		}
	}

	window := int64(s.cfg.DedupeWindowSeconds)
	bucket := now.Unix() / window
	preimage := fmt.Sprintf("%s|%s|%s|%s|%s|%s|%d",
		tenantID, req.EntityID, req.Goal, canonicalCtx,
		req.IntentType, req.IdempotencyKey, bucket)

	if s.cfg.DedupeSecret == "" {
		s.fallbackWarn.Do(func() {
			slog.Warn("dedupe secret not configured, falling back to unkeyed fingerprints")
		})
		return cryptoutil.SHA256Hex([]byte(preimage)), nil
	}
	return cryptoutil.HMACSHA256Hex([]byte(s.cfg.DedupeSecret), []byte(preimage)), nil
}

// reserve takes the dedupe lock and rechecks the store. It returns either a
// held lock, an existing winner, or an error.
func (s *Service) reserve(ctx context.Context, tenantID, dedupeHash string) (*kv.Lock, *store.Intent, error) {
	if s.kv == nil {
		return nil, nil, nil
	}

	key := dedupeLockPrefix + tenantID + ":" + dedupeHash
	lock, err := kv.AcquireLock(ctx, s.kv, key, kv.DefaultLockOptions())
	if err != nil {
		s.countLock(tenantID, "contended")
		// Another submitter may have just inserted; prefer returning their row.
		if winner, ferr := s.repo.FindByDedupeHash(ctx, tenantID, dedupeHash); ferr == nil && winner != nil {
			return nil, winner, nil
		}
		if err == kv.ErrLockNotAcquired {
			return nil, nil, apperrors.New(apperrors.KindIntentLocked, "submission in progress for this fingerprint")
		}
		return nil, nil, apperrors.Wrap(apperrors.KindExternalService, "acquire dedupe lock", err)
	}
	s.countLock(tenantID, "acquired")

	winner, err := s.repo.FindByDedupeHash(ctx, tenantID, dedupeHash)
	if err != nil {
		lock.Release(ctx)
		return nil, nil, err
	}
	if winner != nil {
		lock.Release(ctx)
		return nil, winner, nil
	}
	return lock, nil, nil
}

// markFingerprint leaves an informational marker for fast-path dedupe checks.
func (s *Service) markFingerprint(ctx context.Context, tenantID, dedupeHash, intentID string) {
	if s.kv == nil || s.cfg.DedupeMarkerTTLSeconds <= 0 {
		return
	}
	key := dedupeMarkerPrefix + tenantID + ":" + dedupeHash
	if err := s.kv.Set(ctx, key, []byte(intentID), s.cfg.DedupeMarkerTTL()); err != nil {
		slog.Warn("dedupe marker write failed", "intent_id", intentID, "error", err)
	}
}

func (s *Service) enqueue(ctx context.Context, settings *config.TenantSettings, in *store.Intent) {
	if s.queue == nil {
		return
	}
	namespace := settings.Namespace(in.IntentType)
	job := queue.Job{IntentID: in.ID, TenantID: in.TenantID, Priority: in.Priority}

	do := func(ctx context.Context) (interface{}, error) {
		return nil, s.queue.Enqueue(ctx, namespace, job)
	}
	var err error
	if s.breakers != nil && s.breakers.Queue != nil {
		_, err = s.breakers.Queue.ExecuteContext(ctx, do)
	} else {
		_, err = do(ctx)
	}
	if err != nil {
		slog.Error("enqueue failed, intent stays pending for reconciliation",
			"intent_id", in.ID, "namespace", namespace, "error", err)
		s.countEnqueue(namespace, "error")
		return
	}
	s.countEnqueue(namespace, "ok")
}

// ============================================================================
// READ AND LIFECYCLE OPERATIONS
// ============================================================================

// Get returns one live intent.
func (s *Service) Get(ctx context.Context, tenantID, id string) (*store.Intent, error) {
	in, err := s.repo.FindByID(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if in == nil {
		return nil, apperrors.New(apperrors.KindNotFound, "intent not found")
	}
	return in, nil
}

// List pages a tenant's live intents, newest first.
func (s *Service) List(ctx context.Context, f store.ListFilter) (*store.IntentPage, error) {
	return s.repo.ListIntents(ctx, f)
}

// Events returns the intent's chain in order.
func (s *Service) Events(ctx context.Context, tenantID, id string) ([]store.IntentEvent, error) {
	if _, err := s.Get(ctx, tenantID, id); err != nil {
		return nil, err
	}
	return s.repo.ListEvents(ctx, id)
}

// Cancel moves a cancellable intent to cancelled with a mandatory reason.
func (s *Service) Cancel(ctx context.Context, tenantID, id, reason string) (*store.Intent, error) {
	if reason == "" {
		return nil, apperrors.New(apperrors.KindRequiresReason, "cancellation requires a reason")
	}

	now := s.clock.Now()
	cancelled, err := s.repo.CancelIntent(ctx, tenantID, id, reason, now)
	if err != nil {
		return nil, err
	}
	if cancelled == nil {
		in, err := s.repo.FindByID(ctx, tenantID, id)
		if err != nil {
			return nil, err
		}
		if in == nil {
			return nil, apperrors.New(apperrors.KindNotFound, "intent not found")
		}
		if in.Status.IsTerminal() {
			return nil, apperrors.New(apperrors.KindTerminalState, "intent is in a terminal state").
				WithDetail("status", string(in.Status))
		}
		return nil, apperrors.New(apperrors.KindInvalidTransition, "intent is not cancellable").
			WithDetail("status", string(in.Status))
	}

	if _, err := s.repo.RecordEvent(ctx, id, lifecycle.EventCancelled,
		map[string]interface{}{"reason": reason}, now); err != nil {
		slog.Error("cancel event append failed", "intent_id", id, "error", err)
	}

	s.countTransition(tenantID, "", lifecycle.StatusCancelled)
	s.emitter.Emit(lifecycle.EventCancelled, tenantID, id, map[string]interface{}{"reason": reason})
	return cancelled, nil
}

// TransitionOptions qualify a status transition.
type TransitionOptions struct {
	Reason        string
	HasPermission bool
	Payload       map[string]interface{}
}

// Transition validates and applies a status change, appending the canonical
// event to the intent's chain.
func (s *Service) Transition(ctx context.Context, tenantID, id string, to lifecycle.Status, opts TransitionOptions) (*store.Intent, error) {
	in, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	from := in.Status

	switch lifecycle.Validate(from, to, opts.Reason != "", opts.HasPermission) {
	case lifecycle.VerdictValid:
	case lifecycle.VerdictTerminalState:
		return nil, apperrors.New(apperrors.KindTerminalState, "intent is in a terminal state").
			WithDetail("status", string(from))
	case lifecycle.VerdictRequiresReason:
		return nil, apperrors.New(apperrors.KindRequiresReason, "transition requires a reason").
			WithDetail("from", string(from)).WithDetail("to", string(to))
	case lifecycle.VerdictRequiresPermission:
		return nil, apperrors.New(apperrors.KindRequiresPerm, "transition requires permission").
			WithDetail("from", string(from)).WithDetail("to", string(to))
	default:
		return nil, apperrors.New(apperrors.KindInvalidTransition, "transition not allowed").
			WithDetail("from", string(from)).WithDetail("to", string(to))
	}

	eventType, err := lifecycle.EventTypeFor(from, to)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInvalidTransition, "no event for transition", err)
	}

	now := s.clock.Now()
	ok, err := s.repo.UpdateStatus(ctx, tenantID, id, from, to, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperrors.New(apperrors.KindConflict, "intent status changed concurrently").
			WithDetail("expected", string(from))
	}

	payload := map[string]interface{}{"from": string(from), "to": string(to)}
	if opts.Reason != "" {
		payload["reason"] = opts.Reason
	}
	for k, v := range opts.Payload {
		payload[k] = v
	}
	if _, err := s.repo.RecordEvent(ctx, id, eventType, payload, now); err != nil {
		slog.Error("transition event append failed", "intent_id", id, "event_type", eventType, "error", err)
	}

	in.Status = to
	in.UpdatedAt = now
	s.countTransition(tenantID, from, to)
	s.emitter.Emit(eventType, tenantID, id, payload)
	return in, nil
}

// ResolveEscalated applies a human review verdict to an escalated intent:
// approval moves it to approved, rejection to denied. Called by the
// escalation engine through its peer interface.
func (s *Service) ResolveEscalated(ctx context.Context, tenantID, intentID string, approved bool, reason string) error {
	to := lifecycle.StatusApproved
	if !approved {
		to = lifecycle.StatusDenied
	}
	_, err := s.Transition(ctx, tenantID, intentID, to, TransitionOptions{
		Reason:        reason,
		HasPermission: true,
	})
	return err
}

// UpdateTrustMetadata stores a fresh trust snapshot on the intent.
func (s *Service) UpdateTrustMetadata(ctx context.Context, tenantID, id string, snapshot map[string]interface{}, level, score *int) error {
	ok, err := s.repo.UpdateTrustMetadata(ctx, tenantID, id, snapshot, level, score, s.clock.Now())
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.New(apperrors.KindNotFound, "intent not found")
	}
	return nil
}

// RecordEvaluation appends an evaluation result for the intent.
func (s *Service) RecordEvaluation(ctx context.Context, tenantID, intentID string, result map[string]interface{}) (*store.IntentEvaluation, error) {
	if _, err := s.Get(ctx, tenantID, intentID); err != nil {
		return nil, err
	}
	eval := &store.IntentEvaluation{
		ID:        clock.NewID(),
		IntentID:  intentID,
		TenantID:  tenantID,
		Result:    result,
		CreatedAt: s.clock.Now(),
	}
	if err := s.repo.RecordEvaluation(ctx, eval); err != nil {
		return nil, err
	}
	return eval, nil
}

// ListEvaluations returns an intent's evaluation history.
func (s *Service) ListEvaluations(ctx context.Context, tenantID, intentID string) ([]store.IntentEvaluation, error) {
	if _, err := s.Get(ctx, tenantID, intentID); err != nil {
		return nil, err
	}
	return s.repo.ListEvaluations(ctx, intentID)
}

// VerifyEventChain replays and checks the intent's chain.
func (s *Service) VerifyEventChain(ctx context.Context, tenantID, id string) (*store.ChainVerification, error) {
	if _, err := s.Get(ctx, tenantID, id); err != nil {
		return nil, err
	}
	v, err := s.repo.VerifyEventChain(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		result := "valid"
		if !v.Valid {
			result = "invalid"
		}
		s.metrics.ChainVerifyTotal.WithLabelValues(result).Inc()
	}
	return v, nil
}

// SoftDelete hides the intent and clears its payloads.
func (s *Service) SoftDelete(ctx context.Context, tenantID, id string) error {
	ok, err := s.repo.SoftDelete(ctx, tenantID, id, s.clock.Now())
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.New(apperrors.KindNotFound, "intent not found")
	}
	return nil
}

// PurgeDeleted hard-deletes intents soft-deleted beyond the retention
// horizon. Invoked by the scheduler's cleanup task.
func (s *Service) PurgeDeleted(ctx context.Context, retentionDays int) (int64, error) {
	return s.repo.PurgeDeleted(ctx, retentionDays, s.clock.Now())
}

// ============================================================================
// METRICS HELPERS
// ============================================================================

func (s *Service) observeSubmission(tenantID string, started time.Time, res *SubmitResult, err error) {
	if s.metrics == nil {
		return
	}
	outcome := metrics.OutcomeSuccess
	switch {
	case err != nil && apperrors.Is(err, apperrors.KindConsentRequired):
		outcome = metrics.OutcomeConsentDenied
	case err != nil:
		outcome = metrics.OutcomeRejected
	case res != nil && res.Duplicate:
		outcome = metrics.OutcomeDuplicate
	}
	s.metrics.SubmissionTotal.WithLabelValues(tenantID, outcome).Inc()
	s.metrics.SubmissionDuration.WithLabelValues(tenantID).Observe(time.Since(started).Seconds())
}

func (s *Service) countTransition(tenantID string, from, to lifecycle.Status) {
	if s.metrics == nil {
		return
	}
	s.metrics.TransitionTotal.WithLabelValues(tenantID, string(from), string(to)).Inc()
}

func (s *Service) countLock(tenantID, result string) {
	if s.metrics == nil {
		return
	}
	s.metrics.LockContention.WithLabelValues(tenantID, result).Inc()
}

func (s *Service) countEnqueue(namespace, result string) {
	if s.metrics == nil {
		return
	}
	s.metrics.QueueEnqueueTotal.WithLabelValues(namespace, result).Inc()
}
