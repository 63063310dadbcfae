package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/intentgate/backend/internal/apperrors"
	"github.com/intentgate/backend/internal/clock"
	"github.com/intentgate/backend/internal/cryptoutil"
	"github.com/intentgate/backend/internal/lifecycle"
)

// MaxListLimit caps page sizes regardless of what the caller asks for.
const MaxListLimit = 1000

// IntentRepo owns all writes to intents, intent_events and
// intent_evaluations.
type IntentRepo struct {
	store *Store
	codec *FieldCodec
}

// NewIntentRepo builds the repository. codec may be a cleartext-only codec.
func NewIntentRepo(s *Store, codec *FieldCodec) *IntentRepo {
	if codec == nil {
		codec, _ = NewFieldCodec("")
	}
	return &IntentRepo{store: s, codec: codec}
}

// chainView is the canonical serialization input for an event hash.
type chainView struct {
	IntentID   string                 `json:"intent_id"`
	EventType  string                 `json:"event_type"`
	Payload    map[string]interface{} `json:"payload"`
	OccurredAt string                 `json:"occurred_at"`
}

func eventDigest(e *IntentEvent) (string, error) {
	return cryptoutil.ChainDigest(chainView{
		IntentID:   e.IntentID,
		EventType:  e.EventType,
		Payload:    e.Payload,
		OccurredAt: e.OccurredAt.UTC().Format(time.RFC3339Nano),
	}, e.PreviousHash)
}

const intentColumns = `id, tenant_id, entity_id, goal, intent_type, priority, status,
	context, metadata, dedupe_hash, trust_snapshot, trust_level, trust_score,
	cancellation_reason, created_at, updated_at, deleted_at`

// CreateIntentWithEvent inserts the intent row and its first chain event in
// one transaction. The first event's previous hash is the zero digest.
func (r *IntentRepo) CreateIntentWithEvent(ctx context.Context, in *Intent, eventType string, eventPayload map[string]interface{}, encrypt bool) (*IntentEvent, error) {
	ctx, cancel := r.store.withTimeout(ctx)
	defer cancel()

	ctxRaw, err := r.codec.Marshal(in.Context, encrypt)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindEncryption, "encode intent context", err)
	}
	metaRaw, err := r.codec.Marshal(in.Metadata, encrypt)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindEncryption, "encode intent metadata", err)
	}
	snapRaw, err := r.codec.Marshal(in.TrustSnapshot, false)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindEncryption, "encode trust snapshot", err)
	}

	event := &IntentEvent{
		ID:           clock.NewID(),
		IntentID:     in.ID,
		EventType:    eventType,
		Payload:      eventPayload,
		OccurredAt:   in.CreatedAt,
		PreviousHash: cryptoutil.ZeroDigest,
	}
	event.Hash, err = eventDigest(event)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, "hash first event", err)
	}
	payloadRaw, err := r.codec.Marshal(event.Payload, false)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, "encode event payload", err)
	}

	tx, err := r.store.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindDatabase, "begin submission tx", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO intents (`+intentColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		in.ID, in.TenantID, in.EntityID, in.Goal, nullStr(in.IntentType),
		in.Priority, string(in.Status), ctxRaw, metaRaw, in.DedupeHash,
		snapRaw, in.TrustLevel, in.TrustScore, in.CancellationReason,
		in.CreatedAt, in.UpdatedAt, in.DeletedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperrors.Wrap(apperrors.KindConflict, "intent fingerprint already exists", err)
		}
		return nil, apperrors.Wrap(apperrors.KindDatabase, "insert intent", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO intent_events (id, intent_id, event_type, payload, occurred_at, hash, previous_hash)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		event.ID, event.IntentID, event.EventType, payloadRaw,
		event.OccurredAt, event.Hash, event.PreviousHash)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindDatabase, "insert first event", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, apperrors.Wrap(apperrors.KindDatabase, "commit submission tx", err)
	}
	return event, nil
}

// RecordEvent appends one event to an intent's chain. A per-intent advisory
// lock serializes concurrent appends so previous_hash stays linear.
func (r *IntentRepo) RecordEvent(ctx context.Context, intentID, eventType string, payload map[string]interface{}, occurredAt time.Time) (*IntentEvent, error) {
	ctx, cancel := r.store.withTimeout(ctx)
	defer cancel()

	tx, err := r.store.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindDatabase, "begin event tx", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`SELECT pg_advisory_xact_lock(hashtext($1))`, intentID); err != nil {
		return nil, apperrors.Wrap(apperrors.KindDatabase, "acquire chain lock", err)
	}

	previous := cryptoutil.ZeroDigest
	err = tx.QueryRowContext(ctx, `
		SELECT hash FROM intent_events
		WHERE intent_id = $1
		ORDER BY occurred_at DESC, id DESC
		LIMIT 1`, intentID).Scan(&previous)
	if err != nil && err != sql.ErrNoRows {
		return nil, apperrors.Wrap(apperrors.KindDatabase, "read chain head", err)
	}

	event := &IntentEvent{
		ID:           clock.NewID(),
		IntentID:     intentID,
		EventType:    eventType,
		Payload:      payload,
		OccurredAt:   occurredAt,
		PreviousHash: previous,
	}
	event.Hash, err = eventDigest(event)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, "hash event", err)
	}
	payloadRaw, err := r.codec.Marshal(payload, false)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, "encode event payload", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO intent_events (id, intent_id, event_type, payload, occurred_at, hash, previous_hash)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		event.ID, event.IntentID, event.EventType, payloadRaw,
		event.OccurredAt, event.Hash, event.PreviousHash)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindDatabase, "insert event", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, apperrors.Wrap(apperrors.KindDatabase, "commit event tx", err)
	}
	return event, nil
}

// ChainVerification is the result of replaying an intent's event chain.
// InvalidAt is the zero-based position of the first broken link.
type ChainVerification struct {
	Valid     bool   `json:"valid"`
	Length    int    `json:"length"`
	InvalidAt *int   `json:"invalid_at,omitempty"`
	Error     string `json:"error,omitempty"`
}

// VerifyEventChain replays events in occurred_at order and recomputes every
// link.
func (r *IntentRepo) VerifyEventChain(ctx context.Context, intentID string) (*ChainVerification, error) {
	events, err := r.ListEvents(ctx, intentID)
	if err != nil {
		return nil, err
	}

	previous := cryptoutil.ZeroDigest
	for i := range events {
		e := &events[i]
		if e.PreviousHash != previous {
			at := i
			return &ChainVerification{
				Valid: false, Length: len(events), InvalidAt: &at,
				Error: fmt.Sprintf("previous_hash mismatch at event %d", i),
			}, nil
		}
		expected, err := eventDigest(e)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.KindInternal, "rehash event", err)
		}
		if expected != e.Hash {
			at := i
			return &ChainVerification{
				Valid: false, Length: len(events), InvalidAt: &at,
				Error: fmt.Sprintf("hash mismatch at event %d", i),
			}, nil
		}
		previous = e.Hash
	}
	return &ChainVerification{Valid: true, Length: len(events)}, nil
}

// ListEvents returns an intent's events in chain order.
func (r *IntentRepo) ListEvents(ctx context.Context, intentID string) ([]IntentEvent, error) {
	ctx, cancel := r.store.withTimeout(ctx)
	defer cancel()

	rows, err := r.store.db.QueryContext(ctx, `
		SELECT id, intent_id, event_type, payload, occurred_at, hash, previous_hash
		FROM intent_events
		WHERE intent_id = $1
		ORDER BY occurred_at ASC, id ASC`, intentID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindDatabase, "list events", err)
	}
	defer rows.Close()

	var out []IntentEvent
	for rows.Next() {
		var e IntentEvent
		var payloadRaw []byte
		if err := rows.Scan(&e.ID, &e.IntentID, &e.EventType, &payloadRaw,
			&e.OccurredAt, &e.Hash, &e.PreviousHash); err != nil {
			return nil, apperrors.Wrap(apperrors.KindDatabase, "scan event", err)
		}
		if e.Payload, err = r.codec.Unmarshal(payloadRaw); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// FindByID returns the live intent, or nil when absent or soft-deleted.
func (r *IntentRepo) FindByID(ctx context.Context, tenantID, id string) (*Intent, error) {
	ctx, cancel := r.store.withTimeout(ctx)
	defer cancel()

	row := r.store.db.QueryRowContext(ctx, `
		SELECT `+intentColumns+` FROM intents
		WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL`, id, tenantID)
	return r.scanIntent(row)
}

// FindByDedupeHash returns the live intent holding this fingerprint, if any.
func (r *IntentRepo) FindByDedupeHash(ctx context.Context, tenantID, dedupeHash string) (*Intent, error) {
	ctx, cancel := r.store.withTimeout(ctx)
	defer cancel()

	row := r.store.db.QueryRowContext(ctx, `
		SELECT `+intentColumns+` FROM intents
		WHERE tenant_id = $1 AND dedupe_hash = $2 AND deleted_at IS NULL`,
		tenantID, dedupeHash)
	return r.scanIntent(row)
}

// ListFilter selects and pages intents. Cursor wins over Offset when both
// are set.
type ListFilter struct {
	TenantID string
	Status   lifecycle.Status
	EntityID string
	Limit    int
	Offset   int
	Cursor   *time.Time
}

// IntentPage is one page of results, newest first.
type IntentPage struct {
	Items      []Intent   `json:"items"`
	Limit      int        `json:"limit"`
	Offset     int        `json:"offset,omitempty"`
	NextCursor *time.Time `json:"next_cursor,omitempty"`
	HasMore    bool       `json:"has_more"`
}

// ListIntents pages live intents ordered by created_at descending.
func (r *IntentRepo) ListIntents(ctx context.Context, f ListFilter) (*IntentPage, error) {
	ctx, cancel := r.store.withTimeout(ctx)
	defer cancel()

	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Limit > MaxListLimit {
		f.Limit = MaxListLimit
	}

	query := `SELECT ` + intentColumns + ` FROM intents WHERE tenant_id = $1 AND deleted_at IS NULL`
	args := []interface{}{f.TenantID}
	if f.Status != "" {
		args = append(args, string(f.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if f.EntityID != "" {
		args = append(args, f.EntityID)
		query += fmt.Sprintf(" AND entity_id = $%d", len(args))
	}
	if f.Cursor != nil {
		args = append(args, *f.Cursor)
		query += fmt.Sprintf(" AND created_at < $%d", len(args))
	}
	// Fetch one extra row to detect another page.
	args = append(args, f.Limit+1)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))
	if f.Cursor == nil && f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindDatabase, "list intents", err)
	}
	defer rows.Close()

	var items []Intent
	for rows.Next() {
		in, err := r.scanIntentRows(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *in)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.KindDatabase, "iterate intents", err)
	}

	page := &IntentPage{Limit: f.Limit, Offset: f.Offset}
	if len(items) > f.Limit {
		items = items[:f.Limit]
		page.HasMore = true
		last := items[len(items)-1].CreatedAt
		page.NextCursor = &last
	}
	page.Items = items
	return page, nil
}

// SoftDelete marks the intent deleted and clears its payloads. Events and
// evaluations stay for audit. Returns false when no live row matched.
func (r *IntentRepo) SoftDelete(ctx context.Context, tenantID, id string, now time.Time) (bool, error) {
	ctx, cancel := r.store.withTimeout(ctx)
	defer cancel()

	res, err := r.store.db.ExecContext(ctx, `
		UPDATE intents
		SET deleted_at = $1, updated_at = $1, context = '{}', metadata = '{}'
		WHERE id = $2 AND tenant_id = $3 AND deleted_at IS NULL`, now, id, tenantID)
	if err != nil {
		return false, apperrors.Wrap(apperrors.KindDatabase, "soft delete intent", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// PurgeDeleted hard-deletes rows soft-deleted before the retention horizon.
// Live rows are never touched.
func (r *IntentRepo) PurgeDeleted(ctx context.Context, retentionDays int, now time.Time) (int64, error) {
	ctx, cancel := r.store.withTimeout(ctx)
	defer cancel()

	horizon := now.AddDate(0, 0, -retentionDays)
	res, err := r.store.db.ExecContext(ctx, `
		DELETE FROM intents
		WHERE deleted_at IS NOT NULL AND deleted_at < $1`, horizon)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.KindDatabase, "purge deleted intents", err)
	}
	return res.RowsAffected()
}

// CancelIntent optimistically cancels an intent still in a cancellable
// status. Returns nil when the row is missing or no longer cancellable.
func (r *IntentRepo) CancelIntent(ctx context.Context, tenantID, id, reason string, now time.Time) (*Intent, error) {
	ctx, cancel := r.store.withTimeout(ctx)
	defer cancel()

	cancellable := make([]string, len(lifecycle.CancellableStatuses))
	for i, s := range lifecycle.CancellableStatuses {
		cancellable[i] = string(s)
	}

	row := r.store.db.QueryRowContext(ctx, `
		UPDATE intents
		SET status = $1, cancellation_reason = $2, updated_at = $3
		WHERE id = $4 AND tenant_id = $5 AND deleted_at IS NULL
			AND status = ANY($6)
		RETURNING `+intentColumns, string(lifecycle.StatusCancelled),
		reason, now, id, tenantID, pq.Array(cancellable))
	return r.scanIntent(row)
}

// CountActive counts a tenant's in-flight intents.
func (r *IntentRepo) CountActive(ctx context.Context, tenantID string) (int, error) {
	ctx, cancel := r.store.withTimeout(ctx)
	defer cancel()

	active := make([]string, len(lifecycle.ActiveStatuses))
	for i, s := range lifecycle.ActiveStatuses {
		active[i] = string(s)
	}

	var n int
	err := r.store.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM intents
		WHERE tenant_id = $1 AND deleted_at IS NULL AND status = ANY($2)`,
		tenantID, pq.Array(active)).Scan(&n)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.KindDatabase, "count active intents", err)
	}
	return n, nil
}

// UpdateStatus conditionally moves an intent from expectedFrom to next.
// Returns false when the row was not in the expected status (stale caller).
func (r *IntentRepo) UpdateStatus(ctx context.Context, tenantID, id string, expectedFrom, next lifecycle.Status, now time.Time) (bool, error) {
	ctx, cancel := r.store.withTimeout(ctx)
	defer cancel()

	res, err := r.store.db.ExecContext(ctx, `
		UPDATE intents
		SET status = $1, updated_at = $2
		WHERE id = $3 AND tenant_id = $4 AND deleted_at IS NULL AND status = $5`,
		string(next), now, id, tenantID, string(expectedFrom))
	if err != nil {
		return false, apperrors.Wrap(apperrors.KindDatabase, "update intent status", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// UpdateTrustMetadata stores the latest trust snapshot, level and score.
func (r *IntentRepo) UpdateTrustMetadata(ctx context.Context, tenantID, id string, snapshot map[string]interface{}, level, score *int, now time.Time) (bool, error) {
	ctx, cancel := r.store.withTimeout(ctx)
	defer cancel()

	snapRaw, err := r.codec.Marshal(snapshot, false)
	if err != nil {
		return false, apperrors.Wrap(apperrors.KindInternal, "encode trust snapshot", err)
	}
	res, err := r.store.db.ExecContext(ctx, `
		UPDATE intents
		SET trust_snapshot = $1, trust_level = $2, trust_score = $3, updated_at = $4
		WHERE id = $5 AND tenant_id = $6 AND deleted_at IS NULL`,
		snapRaw, level, score, now, id, tenantID)
	if err != nil {
		return false, apperrors.Wrap(apperrors.KindDatabase, "update trust metadata", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// RecordEvaluation appends one evaluation record.
func (r *IntentRepo) RecordEvaluation(ctx context.Context, eval *IntentEvaluation) error {
	ctx, cancel := r.store.withTimeout(ctx)
	defer cancel()

	resultRaw, err := r.codec.Marshal(eval.Result, false)
	if err != nil {
		return apperrors.Wrap(apperrors.KindInternal, "encode evaluation result", err)
	}
	_, err = r.store.db.ExecContext(ctx, `
		INSERT INTO intent_evaluations (id, intent_id, tenant_id, result, created_at)
		VALUES ($1,$2,$3,$4,$5)`,
		eval.ID, eval.IntentID, eval.TenantID, resultRaw, eval.CreatedAt)
	if err != nil {
		return apperrors.Wrap(apperrors.KindDatabase, "insert evaluation", err)
	}
	return nil
}

// ListEvaluations returns an intent's evaluations in insertion order.
func (r *IntentRepo) ListEvaluations(ctx context.Context, intentID string) ([]IntentEvaluation, error) {
	ctx, cancel := r.store.withTimeout(ctx)
	defer cancel()

	rows, err := r.store.db.QueryContext(ctx, `
		SELECT id, intent_id, tenant_id, result, created_at
		FROM intent_evaluations
		WHERE intent_id = $1
		ORDER BY created_at ASC`, intentID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindDatabase, "list evaluations", err)
	}
	defer rows.Close()

	var out []IntentEvaluation
	for rows.Next() {
		var ev IntentEvaluation
		var resultRaw []byte
		if err := rows.Scan(&ev.ID, &ev.IntentID, &ev.TenantID, &resultRaw, &ev.CreatedAt); err != nil {
			return nil, apperrors.Wrap(apperrors.KindDatabase, "scan evaluation", err)
		}
		if ev.Result, err = r.codec.Unmarshal(resultRaw); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// ============================================================================
// SCANNING HELPERS
// ============================================================================

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (r *IntentRepo) scanIntent(row rowScanner) (*Intent, error) {
	in, err := r.scanIntentRows(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return in, err
}

func (r *IntentRepo) scanIntentRows(row rowScanner) (*Intent, error) {
	var in Intent
	var intentType sql.NullString
	var status string
	var ctxRaw, metaRaw, snapRaw []byte

	err := row.Scan(&in.ID, &in.TenantID, &in.EntityID, &in.Goal, &intentType,
		&in.Priority, &status, &ctxRaw, &metaRaw, &in.DedupeHash, &snapRaw,
		&in.TrustLevel, &in.TrustScore, &in.CancellationReason,
		&in.CreatedAt, &in.UpdatedAt, &in.DeletedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindDatabase, "scan intent", err)
	}

	in.IntentType = intentType.String
	in.Status = lifecycle.Status(status)
	if in.Context, err = r.codec.Unmarshal(ctxRaw); err != nil {
		return nil, apperrors.Wrap(apperrors.KindEncryption, "decode intent context", err)
	}
	if in.Metadata, err = r.codec.Unmarshal(metaRaw); err != nil {
		return nil, apperrors.Wrap(apperrors.KindEncryption, "decode intent metadata", err)
	}
	if len(snapRaw) > 0 {
		if in.TrustSnapshot, err = r.codec.Unmarshal(snapRaw); err != nil {
			return nil, apperrors.Wrap(apperrors.KindEncryption, "decode trust snapshot", err)
		}
	}
	return &in, nil
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func isUniqueViolation(err error) bool {
	if pqErr, ok := err.(*pq.Error); ok {
		return pqErr.Code == "23505"
	}
	return false
}
