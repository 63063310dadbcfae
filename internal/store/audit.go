package store

import (
	"context"
	"database/sql"

	"github.com/intentgate/backend/internal/apperrors"
	"github.com/intentgate/backend/internal/cryptoutil"
)

// AuditRepo owns the audit_decisions table. The chain is global: positions
// are assigned under an advisory lock by the audit recorder.
type AuditRepo struct {
	store *Store
}

// NewAuditRepo builds the repository.
func NewAuditRepo(s *Store) *AuditRepo {
	return &AuditRepo{store: s}
}

const auditColumns = `id, intent_id, entity_id, decision, inputs, outputs,
	chain_position, previous_hash, hash, signature, public_key, algorithm,
	created_at`

// auditChainLockKey serializes chain-head reads against inserts.
const auditChainLockKey = "audit:chain"

// InsertWithPosition reads the chain head and inserts the record at the next
// position, all inside one transaction guarded by an advisory lock. The
// caller supplies hash/signature via the fill callback once the predecessor
// is known.
func (r *AuditRepo) InsertWithPosition(ctx context.Context, rec *AuditDecision, fill func(position int64, previousHash string) error) error {
	ctx, cancel := r.store.withTimeout(ctx)
	defer cancel()

	tx, err := r.store.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.Wrap(apperrors.KindDatabase, "begin audit tx", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`SELECT pg_advisory_xact_lock(hashtext($1))`, auditChainLockKey); err != nil {
		return apperrors.Wrap(apperrors.KindDatabase, "acquire audit chain lock", err)
	}

	var position int64
	previousHash := cryptoutil.ZeroDigest
	err = tx.QueryRowContext(ctx, `
		SELECT chain_position, hash FROM audit_decisions
		ORDER BY chain_position DESC
		LIMIT 1`).Scan(&position, &previousHash)
	if err == sql.ErrNoRows {
		position = -1
	} else if err != nil {
		return apperrors.Wrap(apperrors.KindDatabase, "read audit chain head", err)
	}

	if err := fill(position+1, previousHash); err != nil {
		return err
	}

	inputsRaw, outputsRaw, err := marshalAuditPayloads(rec)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO audit_decisions (`+auditColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		rec.ID, rec.IntentID, rec.EntityID, rec.Decision, inputsRaw, outputsRaw,
		rec.ChainPosition, rec.PreviousHash, rec.Hash, rec.Signature,
		rec.PublicKey, rec.Algorithm, rec.CreatedAt)
	if err != nil {
		return apperrors.Wrap(apperrors.KindDatabase, "insert audit record", err)
	}

	if err := tx.Commit(); err != nil {
		return apperrors.Wrap(apperrors.KindDatabase, "commit audit tx", err)
	}
	return nil
}

// FindByID returns one record, or nil.
func (r *AuditRepo) FindByID(ctx context.Context, id string) (*AuditDecision, error) {
	ctx, cancel := r.store.withTimeout(ctx)
	defer cancel()

	row := r.store.db.QueryRowContext(ctx, `
		SELECT `+auditColumns+` FROM audit_decisions WHERE id = $1`, id)
	return scanAudit(row)
}

// FindByPosition returns the record at one chain position, or nil.
func (r *AuditRepo) FindByPosition(ctx context.Context, position int64) (*AuditDecision, error) {
	ctx, cancel := r.store.withTimeout(ctx)
	defer cancel()

	row := r.store.db.QueryRowContext(ctx, `
		SELECT `+auditColumns+` FROM audit_decisions WHERE chain_position = $1`, position)
	return scanAudit(row)
}

// ListAll returns the whole chain in position order.
func (r *AuditRepo) ListAll(ctx context.Context) ([]AuditDecision, error) {
	ctx, cancel := r.store.withTimeout(ctx)
	defer cancel()

	rows, err := r.store.db.QueryContext(ctx, `
		SELECT `+auditColumns+` FROM audit_decisions
		ORDER BY chain_position ASC`)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindDatabase, "list audit chain", err)
	}
	defer rows.Close()

	var out []AuditDecision
	for rows.Next() {
		rec, err := scanAudit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func marshalAuditPayloads(rec *AuditDecision) ([]byte, []byte, error) {
	codec, _ := NewFieldCodec("")
	inputsRaw, err := codec.Marshal(rec.Inputs, false)
	if err != nil {
		return nil, nil, apperrors.Wrap(apperrors.KindInternal, "encode audit inputs", err)
	}
	outputsRaw, err := codec.Marshal(rec.Outputs, false)
	if err != nil {
		return nil, nil, apperrors.Wrap(apperrors.KindInternal, "encode audit outputs", err)
	}
	return inputsRaw, outputsRaw, nil
}

func scanAudit(row rowScanner) (*AuditDecision, error) {
	var rec AuditDecision
	var inputsRaw, outputsRaw []byte

	err := row.Scan(&rec.ID, &rec.IntentID, &rec.EntityID, &rec.Decision,
		&inputsRaw, &outputsRaw, &rec.ChainPosition, &rec.PreviousHash,
		&rec.Hash, &rec.Signature, &rec.PublicKey, &rec.Algorithm, &rec.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindDatabase, "scan audit record", err)
	}

	codec, _ := NewFieldCodec("")
	if rec.Inputs, err = codec.Unmarshal(inputsRaw); err != nil {
		return nil, err
	}
	if rec.Outputs, err = codec.Unmarshal(outputsRaw); err != nil {
		return nil, err
	}
	return &rec, nil
}
