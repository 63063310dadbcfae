package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"

	"github.com/intentgate/backend/internal/apperrors"
)

// EscalationRepo owns the escalations table.
type EscalationRepo struct {
	store *Store
	codec *FieldCodec
}

// NewEscalationRepo builds the repository.
func NewEscalationRepo(s *Store, codec *FieldCodec) *EscalationRepo {
	if codec == nil {
		codec, _ = NewFieldCodec("")
	}
	return &EscalationRepo{store: s, codec: codec}
}

const escalationColumns = `id, intent_id, tenant_id, reason, reason_category,
	escalated_to, escalated_by, status, timeout, timeout_at, acknowledged_at,
	resolved_by, resolved_at, resolution_notes, sla_breached, context, metadata,
	created_at, updated_at`

// Insert stores a new escalation.
func (r *EscalationRepo) Insert(ctx context.Context, e *Escalation) error {
	ctx, cancel := r.store.withTimeout(ctx)
	defer cancel()

	ctxRaw, err := r.codec.Marshal(e.Context, false)
	if err != nil {
		return apperrors.Wrap(apperrors.KindInternal, "encode escalation context", err)
	}
	metaRaw, err := r.codec.Marshal(e.Metadata, false)
	if err != nil {
		return apperrors.Wrap(apperrors.KindInternal, "encode escalation metadata", err)
	}

	_, err = r.store.db.ExecContext(ctx, `
		INSERT INTO escalations (`+escalationColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`,
		e.ID, e.IntentID, e.TenantID, e.Reason, e.ReasonCategory,
		e.EscalatedTo, e.EscalatedBy, e.Status, e.Timeout, e.TimeoutAt,
		e.AcknowledgedAt, e.ResolvedBy, e.ResolvedAt, e.ResolutionNotes,
		e.SLABreached, ctxRaw, metaRaw, e.CreatedAt, e.UpdatedAt)
	if err != nil {
		return apperrors.Wrap(apperrors.KindDatabase, "insert escalation", err)
	}
	return nil
}

// FindByID returns the escalation, or nil when absent.
func (r *EscalationRepo) FindByID(ctx context.Context, id string) (*Escalation, error) {
	ctx, cancel := r.store.withTimeout(ctx)
	defer cancel()

	row := r.store.db.QueryRowContext(ctx, `
		SELECT `+escalationColumns+` FROM escalations WHERE id = $1`, id)
	return r.scanEscalation(row)
}

// Acknowledge conditionally moves pending → acknowledged, stamping the
// acknowledgement. Returns nil when the row was not pending.
func (r *EscalationRepo) Acknowledge(ctx context.Context, id, acknowledgedBy string, now time.Time) (*Escalation, error) {
	ctx, cancel := r.store.withTimeout(ctx)
	defer cancel()

	row := r.store.db.QueryRowContext(ctx, `
		UPDATE escalations
		SET status = $1, acknowledged_at = $2, updated_at = $2,
			metadata = metadata || jsonb_build_object('acknowledged_by', $3::text)
		WHERE id = $4 AND status = $5
		RETURNING `+escalationColumns,
		EscalationAcknowledged, now, acknowledgedBy, id, EscalationPending)
	return r.scanEscalation(row)
}

// Resolve conditionally moves a pending or acknowledged escalation to a
// terminal status and records the resolver. slaBreached is computed by the
// caller against timeout_at. Returns nil when the row was already resolved.
func (r *EscalationRepo) Resolve(ctx context.Context, id, status, resolvedBy string, notes *string, slaBreached bool, now time.Time) (*Escalation, error) {
	ctx, cancel := r.store.withTimeout(ctx)
	defer cancel()

	row := r.store.db.QueryRowContext(ctx, `
		UPDATE escalations
		SET status = $1, resolved_by = $2, resolved_at = $3,
			resolution_notes = $4, sla_breached = $5, updated_at = $3
		WHERE id = $6 AND status = ANY($7)
		RETURNING `+escalationColumns,
		status, resolvedBy, now, notes, slaBreached, id,
		pq.Array([]string{EscalationPending, EscalationAcknowledged}))
	return r.scanEscalation(row)
}

// MarkTimedOut conditionally moves one overdue escalation to timeout with
// the SLA flag set. Returns false when another sweeper got there first.
func (r *EscalationRepo) MarkTimedOut(ctx context.Context, id string, now time.Time) (bool, error) {
	ctx, cancel := r.store.withTimeout(ctx)
	defer cancel()

	res, err := r.store.db.ExecContext(ctx, `
		UPDATE escalations
		SET status = $1, sla_breached = TRUE, updated_at = $2
		WHERE id = $3 AND status = ANY($4) AND timeout_at <= $2`,
		EscalationTimeout, now, id,
		pq.Array([]string{EscalationPending, EscalationAcknowledged}))
	if err != nil {
		return false, apperrors.Wrap(apperrors.KindDatabase, "mark escalation timed out", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ListDue returns open escalations whose deadline has passed.
func (r *EscalationRepo) ListDue(ctx context.Context, now time.Time) ([]Escalation, error) {
	ctx, cancel := r.store.withTimeout(ctx)
	defer cancel()

	rows, err := r.store.db.QueryContext(ctx, `
		SELECT `+escalationColumns+` FROM escalations
		WHERE status = ANY($1) AND timeout_at <= $2
		ORDER BY timeout_at ASC`,
		pq.Array([]string{EscalationPending, EscalationAcknowledged}), now)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindDatabase, "list due escalations", err)
	}
	return r.collect(rows)
}

// ListByStatus returns a tenant's escalations in one status, newest first.
func (r *EscalationRepo) ListByStatus(ctx context.Context, tenantID, status string) ([]Escalation, error) {
	ctx, cancel := r.store.withTimeout(ctx)
	defer cancel()

	rows, err := r.store.db.QueryContext(ctx, `
		SELECT `+escalationColumns+` FROM escalations
		WHERE tenant_id = $1 AND status = $2
		ORDER BY created_at DESC`, tenantID, status)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindDatabase, "list escalations by status", err)
	}
	return r.collect(rows)
}

// ListByIntent returns all escalations for one intent in creation order.
func (r *EscalationRepo) ListByIntent(ctx context.Context, intentID string) ([]Escalation, error) {
	ctx, cancel := r.store.withTimeout(ctx)
	defer cancel()

	rows, err := r.store.db.QueryContext(ctx, `
		SELECT `+escalationColumns+` FROM escalations
		WHERE intent_id = $1
		ORDER BY created_at ASC`, intentID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindDatabase, "list escalations by intent", err)
	}
	return r.collect(rows)
}

// ListOpen returns every pending/acknowledged escalation, optionally scoped
// to one tenant. Used to rebuild KV indices.
func (r *EscalationRepo) ListOpen(ctx context.Context, tenantID string) ([]Escalation, error) {
	ctx, cancel := r.store.withTimeout(ctx)
	defer cancel()

	query := `SELECT ` + escalationColumns + ` FROM escalations WHERE status = ANY($1)`
	args := []interface{}{pq.Array([]string{EscalationPending, EscalationAcknowledged})}
	if tenantID != "" {
		query += ` AND tenant_id = $2`
		args = append(args, tenantID)
	}
	query += ` ORDER BY created_at ASC`

	rows, err := r.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindDatabase, "list open escalations", err)
	}
	return r.collect(rows)
}

func (r *EscalationRepo) collect(rows *sql.Rows) ([]Escalation, error) {
	defer rows.Close()
	var out []Escalation
	for rows.Next() {
		e, err := r.scanEscalation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func (r *EscalationRepo) scanEscalation(row rowScanner) (*Escalation, error) {
	var e Escalation
	var ctxRaw, metaRaw []byte

	err := row.Scan(&e.ID, &e.IntentID, &e.TenantID, &e.Reason, &e.ReasonCategory,
		&e.EscalatedTo, &e.EscalatedBy, &e.Status, &e.Timeout, &e.TimeoutAt,
		&e.AcknowledgedAt, &e.ResolvedBy, &e.ResolvedAt, &e.ResolutionNotes,
		&e.SLABreached, &ctxRaw, &metaRaw, &e.CreatedAt, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindDatabase, "scan escalation", err)
	}

	if e.Context, err = r.codec.Unmarshal(ctxRaw); err != nil {
		return nil, err
	}
	if e.Metadata, err = r.codec.Unmarshal(metaRaw); err != nil {
		return nil, err
	}
	return &e, nil
}
