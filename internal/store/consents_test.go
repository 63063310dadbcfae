package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func newMockConsentRepo(t *testing.T) (*ConsentRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return NewConsentRepo(NewFromDB(db)), mock
}

func consentRows(c *Consent) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "user_id", "tenant_id", "consent_type",
		"granted", "granted_at", "revoked_at", "version", "ip_address", "user_agent"}).
		AddRow(c.ID, c.UserID, c.TenantID, c.ConsentType, c.Granted,
			c.GrantedAt, c.RevokedAt, c.Version, c.IPAddress, c.UserAgent)
}

func TestFindActive_MissingConsentIsNil(t *testing.T) {
	repo, mock := newMockConsentRepo(t)

	mock.ExpectQuery("SELECT (.+) FROM user_consents").
		WillReturnRows(sqlmock.NewRows(nil))

	got, err := repo.FindActive(context.Background(), "u1", "t1", ConsentDataProcessing)
	if err != nil || got != nil {
		t.Errorf("missing consent should be nil without error, got %+v (%v)", got, err)
	}
}

func TestRevoke_IdempotentWhenNoActiveRow(t *testing.T) {
	repo, mock := newMockConsentRepo(t)
	now := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)

	c := &Consent{
		ID: "c1", UserID: "u1", TenantID: "t1",
		ConsentType: ConsentDataProcessing, Granted: false,
		GrantedAt: now.Add(-time.Hour), RevokedAt: &now, Version: "v1",
	}
	mock.ExpectQuery("UPDATE user_consents").WillReturnRows(consentRows(c))

	got, err := repo.Revoke(context.Background(), "u1", "t1", ConsentDataProcessing, now)
	if err != nil || got == nil || got.RevokedAt == nil {
		t.Fatalf("revoke should return the revoked row: %+v (%v)", got, err)
	}

	mock.ExpectQuery("UPDATE user_consents").WillReturnRows(sqlmock.NewRows(nil))
	got, err = repo.Revoke(context.Background(), "u1", "t1", ConsentDataProcessing, now)
	if err != nil || got != nil {
		t.Errorf("second revoke should be a nil no-op, got %+v (%v)", got, err)
	}
}

func TestPolicyLifecycle(t *testing.T) {
	repo, mock := newMockConsentRepo(t)
	now := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectExec("UPDATE consent_policies").
		WillReturnResult(sqlmock.NewResult(0, 1))
	closed, err := repo.CloseCurrentPolicy(context.Background(), "t1", ConsentAnalytics, now)
	if err != nil || !closed {
		t.Fatalf("close current policy: %v %v", closed, err)
	}

	mock.ExpectExec("INSERT INTO consent_policies").
		WillReturnResult(sqlmock.NewResult(0, 1))
	err = repo.InsertPolicy(context.Background(), &ConsentPolicy{
		ID: "p2", TenantID: "t1", ConsentType: ConsentAnalytics,
		Version: "v2", Content: "updated terms", EffectiveFrom: now,
	})
	if err != nil {
		t.Fatal(err)
	}

	rows := sqlmock.NewRows([]string{"id", "tenant_id", "consent_type",
		"version", "content", "effective_from", "effective_to"}).
		AddRow("p2", "t1", ConsentAnalytics, "v2", "updated terms", now, nil)
	mock.ExpectQuery("SELECT (.+) FROM consent_policies").WillReturnRows(rows)

	current, err := repo.CurrentPolicy(context.Background(), "t1", ConsentAnalytics)
	if err != nil {
		t.Fatal(err)
	}
	if current == nil || current.Version != "v2" || current.EffectiveTo != nil {
		t.Errorf("expected open v2 policy, got %+v", current)
	}
}
