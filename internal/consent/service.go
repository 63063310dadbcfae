// Package consent implements the consent registry: grant, revoke, and
// validation of user consent plus versioned policy documents. Read paths on
// the submission hot path are guarded by a circuit breaker.
package consent

import (
	"context"
	"log/slog"
	"time"

	"github.com/intentgate/backend/internal/apperrors"
	"github.com/intentgate/backend/internal/circuitbreaker"
	"github.com/intentgate/backend/internal/clock"
	"github.com/intentgate/backend/internal/events"
	"github.com/intentgate/backend/internal/store"
)

// Repository is the slice of the consent store the service needs.
type Repository interface {
	Insert(ctx context.Context, c *store.Consent) error
	FindActive(ctx context.Context, userID, tenantID, consentType string) (*store.Consent, error)
	Revoke(ctx context.Context, userID, tenantID, consentType string, now time.Time) (*store.Consent, error)
	History(ctx context.Context, userID, tenantID string) ([]store.Consent, error)
	CloseCurrentPolicy(ctx context.Context, tenantID, consentType string, now time.Time) (bool, error)
	InsertPolicy(ctx context.Context, p *store.ConsentPolicy) error
	CurrentPolicy(ctx context.Context, tenantID, consentType string) (*store.ConsentPolicy, error)
	PolicyByVersion(ctx context.Context, tenantID, consentType, version string) (*store.ConsentPolicy, error)
	PolicyHistory(ctx context.Context, tenantID, consentType string) ([]store.ConsentPolicy, error)
}

// Service is the consent registry.
type Service struct {
	repo    Repository
	breaker *circuitbreaker.CircuitBreaker
	clock   clock.Clock
	emitter events.Emitter
}

// NewService wires the registry. breaker and emitter may be nil for tests.
func NewService(repo Repository, breaker *circuitbreaker.CircuitBreaker, clk clock.Clock, emitter events.Emitter) *Service {
	if clk == nil {
		clk = clock.SystemClock{}
	}
	if emitter == nil {
		emitter = events.NopEmitter{}
	}
	return &Service{repo: repo, breaker: breaker, clock: clk, emitter: emitter}
}

// GrantRequest carries the inputs for Grant.
type GrantRequest struct {
	UserID      string  `json:"user_id"`
	TenantID    string  `json:"tenant_id"`
	ConsentType string  `json:"consent_type"`
	Version     string  `json:"version"`
	IPAddress   *string `json:"ip_address,omitempty"`
	UserAgent   *string `json:"user_agent,omitempty"`
}

// ValidationResult reports whether an active consent covers the triple.
type ValidationResult struct {
	Valid       bool       `json:"valid"`
	ConsentType string     `json:"consent_type"`
	GrantedAt   *time.Time `json:"granted_at,omitempty"`
	Version     string     `json:"version,omitempty"`
	Reason      string     `json:"reason,omitempty"`
}

// HistoryEntry is one grant or revoke action in a user's consent timeline.
type HistoryEntry struct {
	ConsentID   string    `json:"consent_id"`
	ConsentType string    `json:"consent_type"`
	Action      string    `json:"action"`
	Version     string    `json:"version"`
	Timestamp   time.Time `json:"timestamp"`
}

func (s *Service) guarded(ctx context.Context, op func(context.Context) (interface{}, error)) (interface{}, error) {
	if s.breaker == nil {
		return op(ctx)
	}
	res, err := s.breaker.ExecuteContext(ctx, op)
	if err == circuitbreaker.ErrCircuitOpen || err == circuitbreaker.ErrTooManyRequests {
		return nil, apperrors.Wrap(apperrors.KindCircuitOpen, "consent service unavailable", err)
	}
	return res, err
}

// Grant records consent for (user, tenant, type) at a policy version.
// Granting the same version again is a no-op; a different version revokes the
// old grant and inserts a new one.
func (s *Service) Grant(ctx context.Context, req GrantRequest) (*store.Consent, error) {
	if req.UserID == "" || req.TenantID == "" || req.ConsentType == "" || req.Version == "" {
		return nil, apperrors.New(apperrors.KindValidation, "user_id, tenant_id, consent_type, and version are required")
	}

	res, err := s.guarded(ctx, func(ctx context.Context) (interface{}, error) {
		now := s.clock.Now()

		existing, err := s.repo.FindActive(ctx, req.UserID, req.TenantID, req.ConsentType)
		if err != nil {
			return nil, err
		}
		if existing != nil && existing.Version == req.Version {
			return existing, nil
		}
		if existing != nil {
			if _, err := s.repo.Revoke(ctx, req.UserID, req.TenantID, req.ConsentType, now); err != nil {
				return nil, err
			}
		}

		c := &store.Consent{
			ID:          clock.NewID(),
			UserID:      req.UserID,
			TenantID:    req.TenantID,
			ConsentType: req.ConsentType,
			Granted:     true,
			GrantedAt:   now,
			Version:     req.Version,
			IPAddress:   req.IPAddress,
			UserAgent:   req.UserAgent,
		}
		if err := s.repo.Insert(ctx, c); err != nil {
			return nil, err
		}

		s.emitter.Emit("consent.granted", req.TenantID, c.ID, map[string]interface{}{
			"user_id":      req.UserID,
			"consent_type": req.ConsentType,
			"version":      req.Version,
		})
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return res.(*store.Consent), nil
}

// Revoke withdraws the active consent. Returns nil when none was active.
func (s *Service) Revoke(ctx context.Context, userID, tenantID, consentType string) (*store.Consent, error) {
	res, err := s.guarded(ctx, func(ctx context.Context) (interface{}, error) {
		revoked, err := s.repo.Revoke(ctx, userID, tenantID, consentType, s.clock.Now())
		if err != nil {
			return nil, err
		}
		if revoked != nil {
			s.emitter.Emit("consent.revoked", tenantID, revoked.ID, map[string]interface{}{
				"user_id":      userID,
				"consent_type": consentType,
				"version":      revoked.Version,
			})
		}
		return revoked, nil
	})
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, nil
	}
	c, _ := res.(*store.Consent)
	return c, nil
}

// HasValid reports whether an active granted consent exists.
func (s *Service) HasValid(ctx context.Context, userID, tenantID, consentType string) (bool, error) {
	c, err := s.repo.FindActive(ctx, userID, tenantID, consentType)
	if err != nil {
		return false, err
	}
	return c != nil, nil
}

// Validate checks the consent and explains the outcome.
func (s *Service) Validate(ctx context.Context, userID, tenantID, consentType string) (*ValidationResult, error) {
	res, err := s.guarded(ctx, func(ctx context.Context) (interface{}, error) {
		c, err := s.repo.FindActive(ctx, userID, tenantID, consentType)
		if err != nil {
			return nil, err
		}
		if c == nil {
			return &ValidationResult{
				Valid:       false,
				ConsentType: consentType,
				Reason:      "no active consent on record",
			}, nil
		}
		granted := c.GrantedAt
		return &ValidationResult{
			Valid:       true,
			ConsentType: consentType,
			GrantedAt:   &granted,
			Version:     c.Version,
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return res.(*ValidationResult), nil
}

// Require fails with consent_required when no active consent exists.
func (s *Service) Require(ctx context.Context, userID, tenantID, consentType string) error {
	ok, err := s.HasValid(ctx, userID, tenantID, consentType)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.New(apperrors.KindConsentRequired, "active consent required").
			WithDetail("consent_type", consentType)
	}
	return nil
}

// History flattens the consent rows into a grant/revoke timeline, newest
// action first.
func (s *Service) History(ctx context.Context, userID, tenantID string) ([]HistoryEntry, error) {
	rows, err := s.repo.History(ctx, userID, tenantID)
	if err != nil {
		return nil, err
	}

	entries := make([]HistoryEntry, 0, len(rows)*2)
	for _, c := range rows {
		entries = append(entries, HistoryEntry{
			ConsentID:   c.ID,
			ConsentType: c.ConsentType,
			Action:      "granted",
			Version:     c.Version,
			Timestamp:   c.GrantedAt,
		})
		if c.RevokedAt != nil {
			entries = append(entries, HistoryEntry{
				ConsentID:   c.ID,
				ConsentType: c.ConsentType,
				Action:      "revoked",
				Version:     c.Version,
				Timestamp:   *c.RevokedAt,
			})
		}
	}

	// Insertion order interleaves grant/revoke pairs; sort by timestamp.
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && entries[j].Timestamp.After(entries[j-1].Timestamp); j-- {
			entries[j], entries[j-1] = entries[j-1], entries[j]
		}
	}
	return entries, nil
}

// ============================================================================
// POLICIES
// ============================================================================

// CreatePolicy publishes a new policy version, closing the current one.
func (s *Service) CreatePolicy(ctx context.Context, tenantID, consentType, version, content string) (*store.ConsentPolicy, error) {
	if version == "" || content == "" {
		return nil, apperrors.New(apperrors.KindValidation, "version and content are required")
	}

	now := s.clock.Now()
	closed, err := s.repo.CloseCurrentPolicy(ctx, tenantID, consentType, now)
	if err != nil {
		return nil, err
	}
	if closed {
		slog.Info("consent policy superseded", "tenant_id", tenantID, "consent_type", consentType, "version", version)
	}

	p := &store.ConsentPolicy{
		ID:            clock.NewID(),
		TenantID:      tenantID,
		ConsentType:   consentType,
		Version:       version,
		Content:       content,
		EffectiveFrom: now,
	}
	if err := s.repo.InsertPolicy(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// CurrentPolicy returns the effective policy for the pair.
func (s *Service) CurrentPolicy(ctx context.Context, tenantID, consentType string) (*store.ConsentPolicy, error) {
	p, err := s.repo.CurrentPolicy(ctx, tenantID, consentType)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, apperrors.New(apperrors.KindNotFound, "no effective policy")
	}
	return p, nil
}

// Policy returns a specific historical policy version.
func (s *Service) Policy(ctx context.Context, tenantID, consentType, version string) (*store.ConsentPolicy, error) {
	p, err := s.repo.PolicyByVersion(ctx, tenantID, consentType, version)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, apperrors.New(apperrors.KindNotFound, "policy version not found")
	}
	return p, nil
}

// PolicyHistory lists every policy version for the pair, newest first.
func (s *Service) PolicyHistory(ctx context.Context, tenantID, consentType string) ([]store.ConsentPolicy, error) {
	return s.repo.PolicyHistory(ctx, tenantID, consentType)
}
