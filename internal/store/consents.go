package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/intentgate/backend/internal/apperrors"
)

// ConsentRepo owns user_consents and consent_policies.
type ConsentRepo struct {
	store *Store
}

// NewConsentRepo builds the repository.
func NewConsentRepo(s *Store) *ConsentRepo {
	return &ConsentRepo{store: s}
}

const consentColumns = `id, user_id, tenant_id, consent_type, granted,
	granted_at, revoked_at, version, ip_address, user_agent`

// Insert stores a new consent row.
func (r *ConsentRepo) Insert(ctx context.Context, c *Consent) error {
	ctx, cancel := r.store.withTimeout(ctx)
	defer cancel()

	_, err := r.store.db.ExecContext(ctx, `
		INSERT INTO user_consents (`+consentColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		c.ID, c.UserID, c.TenantID, c.ConsentType, c.Granted,
		c.GrantedAt, c.RevokedAt, c.Version, c.IPAddress, c.UserAgent)
	if err != nil {
		return apperrors.Wrap(apperrors.KindDatabase, "insert consent", err)
	}
	return nil
}

// FindActive returns the current granted, unrevoked consent for the triple,
// or nil.
func (r *ConsentRepo) FindActive(ctx context.Context, userID, tenantID, consentType string) (*Consent, error) {
	ctx, cancel := r.store.withTimeout(ctx)
	defer cancel()

	row := r.store.db.QueryRowContext(ctx, `
		SELECT `+consentColumns+` FROM user_consents
		WHERE user_id = $1 AND tenant_id = $2 AND consent_type = $3
			AND granted = TRUE AND revoked_at IS NULL
		ORDER BY granted_at DESC
		LIMIT 1`, userID, tenantID, consentType)
	return scanConsent(row)
}

// Revoke marks the active consent revoked. Returns the revoked row, or nil
// when no active consent existed (idempotent).
func (r *ConsentRepo) Revoke(ctx context.Context, userID, tenantID, consentType string, now time.Time) (*Consent, error) {
	ctx, cancel := r.store.withTimeout(ctx)
	defer cancel()

	row := r.store.db.QueryRowContext(ctx, `
		UPDATE user_consents
		SET granted = FALSE, revoked_at = $1
		WHERE user_id = $2 AND tenant_id = $3 AND consent_type = $4
			AND granted = TRUE AND revoked_at IS NULL
		RETURNING `+consentColumns, now, userID, tenantID, consentType)
	return scanConsent(row)
}

// History returns every consent row for the user, newest first.
func (r *ConsentRepo) History(ctx context.Context, userID, tenantID string) ([]Consent, error) {
	ctx, cancel := r.store.withTimeout(ctx)
	defer cancel()

	rows, err := r.store.db.QueryContext(ctx, `
		SELECT `+consentColumns+` FROM user_consents
		WHERE user_id = $1 AND tenant_id = $2
		ORDER BY granted_at DESC`, userID, tenantID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindDatabase, "consent history", err)
	}
	defer rows.Close()

	var out []Consent
	for rows.Next() {
		c, err := scanConsent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// ============================================================================
// POLICIES
// ============================================================================

const policyColumns = `id, tenant_id, consent_type, version, content,
	effective_from, effective_to`

// CloseCurrentPolicy ends the currently-effective policy for the pair.
// Returns false when none was open.
func (r *ConsentRepo) CloseCurrentPolicy(ctx context.Context, tenantID, consentType string, now time.Time) (bool, error) {
	ctx, cancel := r.store.withTimeout(ctx)
	defer cancel()

	res, err := r.store.db.ExecContext(ctx, `
		UPDATE consent_policies
		SET effective_to = $1
		WHERE tenant_id = $2 AND consent_type = $3 AND effective_to IS NULL`,
		now, tenantID, consentType)
	if err != nil {
		return false, apperrors.Wrap(apperrors.KindDatabase, "close current policy", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// InsertPolicy stores a new policy version.
func (r *ConsentRepo) InsertPolicy(ctx context.Context, p *ConsentPolicy) error {
	ctx, cancel := r.store.withTimeout(ctx)
	defer cancel()

	_, err := r.store.db.ExecContext(ctx, `
		INSERT INTO consent_policies (`+policyColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		p.ID, p.TenantID, p.ConsentType, p.Version, p.Content,
		p.EffectiveFrom, p.EffectiveTo)
	if err != nil {
		return apperrors.Wrap(apperrors.KindDatabase, "insert policy", err)
	}
	return nil
}

// CurrentPolicy returns the open policy for the pair, or nil.
func (r *ConsentRepo) CurrentPolicy(ctx context.Context, tenantID, consentType string) (*ConsentPolicy, error) {
	ctx, cancel := r.store.withTimeout(ctx)
	defer cancel()

	row := r.store.db.QueryRowContext(ctx, `
		SELECT `+policyColumns+` FROM consent_policies
		WHERE tenant_id = $1 AND consent_type = $2 AND effective_to IS NULL`,
		tenantID, consentType)
	return scanPolicy(row)
}

// PolicyByVersion returns one historical policy version, or nil.
func (r *ConsentRepo) PolicyByVersion(ctx context.Context, tenantID, consentType, version string) (*ConsentPolicy, error) {
	ctx, cancel := r.store.withTimeout(ctx)
	defer cancel()

	row := r.store.db.QueryRowContext(ctx, `
		SELECT `+policyColumns+` FROM consent_policies
		WHERE tenant_id = $1 AND consent_type = $2 AND version = $3
		ORDER BY effective_from DESC
		LIMIT 1`, tenantID, consentType, version)
	return scanPolicy(row)
}

// PolicyHistory returns all policy versions for the pair, newest first.
func (r *ConsentRepo) PolicyHistory(ctx context.Context, tenantID, consentType string) ([]ConsentPolicy, error) {
	ctx, cancel := r.store.withTimeout(ctx)
	defer cancel()

	rows, err := r.store.db.QueryContext(ctx, `
		SELECT `+policyColumns+` FROM consent_policies
		WHERE tenant_id = $1 AND consent_type = $2
		ORDER BY effective_from DESC`, tenantID, consentType)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindDatabase, "policy history", err)
	}
	defer rows.Close()

	var out []ConsentPolicy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func scanConsent(row rowScanner) (*Consent, error) {
	var c Consent
	err := row.Scan(&c.ID, &c.UserID, &c.TenantID, &c.ConsentType, &c.Granted,
		&c.GrantedAt, &c.RevokedAt, &c.Version, &c.IPAddress, &c.UserAgent)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindDatabase, "scan consent", err)
	}
	return &c, nil
}

func scanPolicy(row rowScanner) (*ConsentPolicy, error) {
	var p ConsentPolicy
	err := row.Scan(&p.ID, &p.TenantID, &p.ConsentType, &p.Version, &p.Content,
		&p.EffectiveFrom, &p.EffectiveTo)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindDatabase, "scan policy", err)
	}
	return &p, nil
}
