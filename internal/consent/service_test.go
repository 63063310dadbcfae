package consent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/intentgate/backend/internal/apperrors"
	"github.com/intentgate/backend/internal/circuitbreaker"
	"github.com/intentgate/backend/internal/clock"
	"github.com/intentgate/backend/internal/store"
)

// fakeRepo keeps consent rows in memory in insertion order.
type fakeRepo struct {
	consents []store.Consent
	policies []store.ConsentPolicy
	failAll  error
}

func (f *fakeRepo) Insert(_ context.Context, c *store.Consent) error {
	if f.failAll != nil {
		return f.failAll
	}
	f.consents = append(f.consents, *c)
	return nil
}

func (f *fakeRepo) FindActive(_ context.Context, userID, tenantID, consentType string) (*store.Consent, error) {
	if f.failAll != nil {
		return nil, f.failAll
	}
	for i := len(f.consents) - 1; i >= 0; i-- {
		c := f.consents[i]
		if c.UserID == userID && c.TenantID == tenantID && c.ConsentType == consentType &&
			c.Granted && c.RevokedAt == nil {
			out := c
			return &out, nil
		}
	}
	return nil, nil
}

func (f *fakeRepo) Revoke(_ context.Context, userID, tenantID, consentType string, now time.Time) (*store.Consent, error) {
	if f.failAll != nil {
		return nil, f.failAll
	}
	for i := len(f.consents) - 1; i >= 0; i-- {
		c := &f.consents[i]
		if c.UserID == userID && c.TenantID == tenantID && c.ConsentType == consentType &&
			c.Granted && c.RevokedAt == nil {
			c.Granted = false
			t := now
			c.RevokedAt = &t
			out := *c
			return &out, nil
		}
	}
	return nil, nil
}

func (f *fakeRepo) History(_ context.Context, userID, tenantID string) ([]store.Consent, error) {
	var out []store.Consent
	for i := len(f.consents) - 1; i >= 0; i-- {
		c := f.consents[i]
		if c.UserID == userID && c.TenantID == tenantID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeRepo) CloseCurrentPolicy(_ context.Context, tenantID, consentType string, now time.Time) (bool, error) {
	closed := false
	for i := range f.policies {
		p := &f.policies[i]
		if p.TenantID == tenantID && p.ConsentType == consentType && p.EffectiveTo == nil {
			t := now
			p.EffectiveTo = &t
			closed = true
		}
	}
	return closed, nil
}

func (f *fakeRepo) InsertPolicy(_ context.Context, p *store.ConsentPolicy) error {
	f.policies = append(f.policies, *p)
	return nil
}

func (f *fakeRepo) CurrentPolicy(_ context.Context, tenantID, consentType string) (*store.ConsentPolicy, error) {
	for i := range f.policies {
		p := f.policies[i]
		if p.TenantID == tenantID && p.ConsentType == consentType && p.EffectiveTo == nil {
			return &p, nil
		}
	}
	return nil, nil
}

func (f *fakeRepo) PolicyByVersion(_ context.Context, tenantID, consentType, version string) (*store.ConsentPolicy, error) {
	for i := range f.policies {
		p := f.policies[i]
		if p.TenantID == tenantID && p.ConsentType == consentType && p.Version == version {
			return &p, nil
		}
	}
	return nil, nil
}

func (f *fakeRepo) PolicyHistory(_ context.Context, tenantID, consentType string) ([]store.ConsentPolicy, error) {
	var out []store.ConsentPolicy
	for i := len(f.policies) - 1; i >= 0; i-- {
		p := f.policies[i]
		if p.TenantID == tenantID && p.ConsentType == consentType {
			out = append(out, p)
		}
	}
	return out, nil
}

func newService(repo Repository, clk clock.Clock) *Service {
	return NewService(repo, nil, clk, nil)
}

func grantReq(version string) GrantRequest {
	return GrantRequest{
		UserID:      "u1",
		TenantID:    "t1",
		ConsentType: store.ConsentDataProcessing,
		Version:     version,
	}
}

func TestGrant_SameVersionIsNoOp(t *testing.T) {
	repo := &fakeRepo{}
	svc := newService(repo, clock.SystemClock{})
	ctx := context.Background()

	first, err := svc.Grant(ctx, grantReq("v1"))
	if err != nil {
		t.Fatal(err)
	}
	second, err := svc.Grant(ctx, grantReq("v1"))
	if err != nil {
		t.Fatal(err)
	}

	if second.ID != first.ID {
		t.Error("re-granting the same version should return the existing row")
	}
	if len(repo.consents) != 1 {
		t.Errorf("expected 1 stored row, got %d", len(repo.consents))
	}
}

func TestGrant_VersionUpgradeRevokesOld(t *testing.T) {
	repo := &fakeRepo{}
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := base
	svc := newService(repo, clock.Func(func() time.Time {
		now = now.Add(time.Minute)
		return now
	}))
	ctx := context.Background()

	_, err := svc.Grant(ctx, grantReq("v1"))
	if err != nil {
		t.Fatal(err)
	}
	upgraded, err := svc.Grant(ctx, grantReq("v2"))
	if err != nil {
		t.Fatal(err)
	}

	if upgraded.Version != "v2" {
		t.Errorf("version = %s", upgraded.Version)
	}
	if len(repo.consents) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(repo.consents))
	}
	if repo.consents[0].RevokedAt == nil || repo.consents[0].Granted {
		t.Error("old version should be revoked")
	}

	active, _ := repo.FindActive(ctx, "u1", "t1", store.ConsentDataProcessing)
	if active == nil || active.Version != "v2" {
		t.Errorf("active = %+v", active)
	}
}

func TestGrant_RejectsIncompleteRequest(t *testing.T) {
	svc := newService(&fakeRepo{}, clock.SystemClock{})

	_, err := svc.Grant(context.Background(), GrantRequest{UserID: "u1"})
	if !apperrors.Is(err, apperrors.KindValidation) {
		t.Errorf("err = %v, want validation", err)
	}
}

func TestRevoke_Idempotent(t *testing.T) {
	repo := &fakeRepo{}
	svc := newService(repo, clock.SystemClock{})
	ctx := context.Background()

	svc.Grant(ctx, grantReq("v1"))

	revoked, err := svc.Revoke(ctx, "u1", "t1", store.ConsentDataProcessing)
	if err != nil || revoked == nil {
		t.Fatalf("revoked=%v err=%v", revoked, err)
	}

	again, err := svc.Revoke(ctx, "u1", "t1", store.ConsentDataProcessing)
	if err != nil {
		t.Fatal(err)
	}
	if again != nil {
		t.Error("second revoke should be a nil no-op")
	}
}

func TestRequire(t *testing.T) {
	repo := &fakeRepo{}
	svc := newService(repo, clock.SystemClock{})
	ctx := context.Background()

	err := svc.Require(ctx, "u1", "t1", store.ConsentDataProcessing)
	if !apperrors.Is(err, apperrors.KindConsentRequired) {
		t.Errorf("err = %v, want consent_required", err)
	}

	svc.Grant(ctx, grantReq("v1"))
	if err := svc.Require(ctx, "u1", "t1", store.ConsentDataProcessing); err != nil {
		t.Errorf("require after grant: %v", err)
	}
}

func TestValidate(t *testing.T) {
	repo := &fakeRepo{}
	svc := newService(repo, clock.SystemClock{})
	ctx := context.Background()

	res, err := svc.Validate(ctx, "u1", "t1", store.ConsentAnalytics)
	if err != nil {
		t.Fatal(err)
	}
	if res.Valid || res.Reason == "" {
		t.Errorf("missing consent should be invalid with a reason: %+v", res)
	}

	svc.Grant(ctx, GrantRequest{UserID: "u1", TenantID: "t1", ConsentType: store.ConsentAnalytics, Version: "v3"})
	res, err = svc.Validate(ctx, "u1", "t1", store.ConsentAnalytics)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Valid || res.Version != "v3" || res.GrantedAt == nil {
		t.Errorf("result = %+v", res)
	}
}

func TestHistory_TwoEntriesPerRevokedRow(t *testing.T) {
	repo := &fakeRepo{}
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := base
	svc := newService(repo, clock.Func(func() time.Time {
		now = now.Add(time.Minute)
		return now
	}))
	ctx := context.Background()

	svc.Grant(ctx, grantReq("v1"))
	svc.Revoke(ctx, "u1", "t1", store.ConsentDataProcessing)
	svc.Grant(ctx, grantReq("v2"))

	entries, err := svc.History(ctx, "u1", "t1")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries (grant, revoke, grant), got %d", len(entries))
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].Timestamp.After(entries[i-1].Timestamp) {
			t.Error("entries should be newest first")
		}
	}
	if entries[0].Action != "granted" || entries[0].Version != "v2" {
		t.Errorf("head = %+v", entries[0])
	}
}

func TestGrant_BreakerOpenMapsToCircuitOpen(t *testing.T) {
	repo := &fakeRepo{failAll: errors.New("store down")}
	breaker := circuitbreaker.New(&circuitbreaker.Config{
		Name:        "consent",
		MaxRequests: 1,
		Timeout:     time.Minute,
		ReadyToTrip: func(c circuitbreaker.Counts) bool {
			return c.ConsecutiveFailures >= 2
		},
	})
	svc := NewService(repo, breaker, clock.SystemClock{}, nil)
	ctx := context.Background()

	svc.Grant(ctx, grantReq("v1"))
	svc.Grant(ctx, grantReq("v1"))

	_, err := svc.Grant(ctx, grantReq("v1"))
	if !apperrors.Is(err, apperrors.KindCircuitOpen) {
		t.Errorf("err = %v, want circuit_open", err)
	}
}

func TestPolicyLifecycle(t *testing.T) {
	repo := &fakeRepo{}
	svc := newService(repo, clock.SystemClock{})
	ctx := context.Background()

	v1, err := svc.CreatePolicy(ctx, "t1", store.ConsentDataProcessing, "v1", "original terms")
	if err != nil {
		t.Fatal(err)
	}
	v2, err := svc.CreatePolicy(ctx, "t1", store.ConsentDataProcessing, "v2", "updated terms")
	if err != nil {
		t.Fatal(err)
	}

	current, err := svc.CurrentPolicy(ctx, "t1", store.ConsentDataProcessing)
	if err != nil {
		t.Fatal(err)
	}
	if current.ID != v2.ID {
		t.Error("current policy should be the latest version")
	}

	old, err := svc.Policy(ctx, "t1", store.ConsentDataProcessing, "v1")
	if err != nil {
		t.Fatal(err)
	}
	if old.ID != v1.ID || old.EffectiveTo == nil {
		t.Errorf("superseded policy should be closed: %+v", old)
	}

	_, err = svc.Policy(ctx, "t1", store.ConsentDataProcessing, "v9")
	if !apperrors.Is(err, apperrors.KindNotFound) {
		t.Errorf("err = %v, want not_found", err)
	}
}
