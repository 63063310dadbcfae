// Package audit maintains the signed, hash-chained record of governance
// decisions. Every record links to its predecessor and carries an Ed25519
// signature over the record hash.
package audit

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/intentgate/backend/internal/apperrors"
	"github.com/intentgate/backend/internal/clock"
	"github.com/intentgate/backend/internal/cryptoutil"
	"github.com/intentgate/backend/internal/store"
)

// Repository is the slice of the audit store the recorder needs.
type Repository interface {
	InsertWithPosition(ctx context.Context, rec *store.AuditDecision, fill func(position int64, previousHash string) error) error
	FindByID(ctx context.Context, id string) (*store.AuditDecision, error)
	FindByPosition(ctx context.Context, position int64) (*store.AuditDecision, error)
	ListAll(ctx context.Context) ([]store.AuditDecision, error)
}

// Recorder appends and verifies signed decision records.
type Recorder struct {
	repo  Repository
	key   *cryptoutil.SigningKey
	clock clock.Clock
}

// NewRecorder wires the recorder with its signing key.
func NewRecorder(repo Repository, key *cryptoutil.SigningKey, clk clock.Clock) *Recorder {
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Recorder{repo: repo, key: key, clock: clk}
}

// signedView is the canonical serialization input for a record's hash. The
// hash and signature fields are excluded by construction.
type signedView struct {
	ID            string                 `json:"id"`
	IntentID      string                 `json:"intent_id"`
	EntityID      string                 `json:"entity_id"`
	Decision      string                 `json:"decision"`
	Inputs        map[string]interface{} `json:"inputs"`
	Outputs       map[string]interface{} `json:"outputs"`
	ChainPosition int64                  `json:"chain_position"`
	PreviousHash  string                 `json:"previous_hash"`
	CreatedAt     string                 `json:"created_at"`
}

func recordDigest(rec *store.AuditDecision) (string, error) {
	return cryptoutil.CanonicalDigest(signedView{
		ID:            rec.ID,
		IntentID:      rec.IntentID,
		EntityID:      rec.EntityID,
		Decision:      rec.Decision,
		Inputs:        rec.Inputs,
		Outputs:       rec.Outputs,
		ChainPosition: rec.ChainPosition,
		PreviousHash:  rec.PreviousHash,
		CreatedAt:     rec.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
}

// Record appends one signed decision to the chain. Position and predecessor
// are assigned under the store's chain lock, then the record is hashed and
// signed before the insert commits.
func (r *Recorder) Record(ctx context.Context, intentID, entityID, decision string, inputs, outputs map[string]interface{}) (*store.AuditDecision, error) {
	if decision == "" {
		return nil, apperrors.New(apperrors.KindValidation, "decision is required")
	}
	if inputs == nil {
		inputs = map[string]interface{}{}
	}
	if outputs == nil {
		outputs = map[string]interface{}{}
	}

	rec := &store.AuditDecision{
		ID:        clock.NewID(),
		IntentID:  intentID,
		EntityID:  entityID,
		Decision:  decision,
		Inputs:    inputs,
		Outputs:   outputs,
		PublicKey: r.key.PublicKeyHex(),
		Algorithm: r.key.Algorithm(),
		CreatedAt: r.clock.Now(),
	}

	err := r.repo.InsertWithPosition(ctx, rec, func(position int64, previousHash string) error {
		rec.ChainPosition = position
		rec.PreviousHash = previousHash

		hash, err := recordDigest(rec)
		if err != nil {
			return apperrors.Wrap(apperrors.KindInternal, "hash audit record", err)
		}
		rec.Hash = hash

		raw, err := hex.DecodeString(hash)
		if err != nil {
			return apperrors.Wrap(apperrors.KindInternal, "decode record hash", err)
		}
		rec.Signature = r.key.SignHex(raw)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Verification reports the integrity of one record.
type Verification struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

// Verify checks one record's hash, predecessor link, and signature.
func (r *Recorder) Verify(ctx context.Context, id string) (*Verification, error) {
	rec, err := r.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, apperrors.New(apperrors.KindNotFound, "audit record not found")
	}
	return r.verifyRecord(ctx, rec)
}

func (r *Recorder) verifyRecord(ctx context.Context, rec *store.AuditDecision) (*Verification, error) {
	expected, err := recordDigest(rec)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, "rehash audit record", err)
	}
	if expected != rec.Hash {
		return &Verification{Error: "hash mismatch"}, nil
	}

	if rec.ChainPosition == 0 {
		if rec.PreviousHash != cryptoutil.ZeroDigest {
			return &Verification{Error: "genesis record must link to the zero digest"}, nil
		}
	} else {
		prev, err := r.repo.FindByPosition(ctx, rec.ChainPosition-1)
		if err != nil {
			return nil, err
		}
		if prev == nil {
			return &Verification{Error: "predecessor record missing"}, nil
		}
		if rec.PreviousHash != prev.Hash {
			return &Verification{Error: "previous_hash does not match predecessor"}, nil
		}
	}

	raw, err := hex.DecodeString(rec.Hash)
	if err != nil {
		return &Verification{Error: "record hash is not hex"}, nil
	}
	if !cryptoutil.VerifyWithPublicKeyHex(rec.PublicKey, raw, rec.Signature) {
		return &Verification{Error: "signature verification failed"}, nil
	}
	return &Verification{Valid: true}, nil
}

// ChainReport is the result of a full chain verification.
type ChainReport struct {
	Valid    bool   `json:"valid"`
	Length   int    `json:"length"`
	BrokenAt *int64 `json:"broken_at,omitempty"`
	Error    string `json:"error,omitempty"`
}

// VerifyChain replays the whole chain in position order and reports the
// first break.
func (r *Recorder) VerifyChain(ctx context.Context) (*ChainReport, error) {
	records, err := r.repo.ListAll(ctx)
	if err != nil {
		return nil, err
	}

	previous := cryptoutil.ZeroDigest
	for i := range records {
		rec := &records[i]
		if rec.ChainPosition != int64(i) {
			pos := rec.ChainPosition
			return &ChainReport{
				Length: len(records), BrokenAt: &pos,
				Error: fmt.Sprintf("position gap: expected %d", i),
			}, nil
		}
		if rec.PreviousHash != previous {
			pos := rec.ChainPosition
			return &ChainReport{
				Length: len(records), BrokenAt: &pos,
				Error: "previous_hash does not match predecessor",
			}, nil
		}

		expected, err := recordDigest(rec)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.KindInternal, "rehash audit record", err)
		}
		if expected != rec.Hash {
			pos := rec.ChainPosition
			return &ChainReport{Length: len(records), BrokenAt: &pos, Error: "hash mismatch"}, nil
		}

		raw, err := hex.DecodeString(rec.Hash)
		if err != nil || !cryptoutil.VerifyWithPublicKeyHex(rec.PublicKey, raw, rec.Signature) {
			pos := rec.ChainPosition
			return &ChainReport{Length: len(records), BrokenAt: &pos, Error: "signature verification failed"}, nil
		}
		previous = rec.Hash
	}
	return &ChainReport{Valid: true, Length: len(records)}, nil
}
