package audit

import (
	"context"
	"testing"
	"time"

	"github.com/intentgate/backend/internal/apperrors"
	"github.com/intentgate/backend/internal/clock"
	"github.com/intentgate/backend/internal/cryptoutil"
	"github.com/intentgate/backend/internal/store"
)

// fakeRepo assigns positions sequentially like the store's advisory-locked
// insert.
type fakeRepo struct {
	records []store.AuditDecision
}

func (f *fakeRepo) InsertWithPosition(_ context.Context, rec *store.AuditDecision, fill func(int64, string) error) error {
	position := int64(len(f.records))
	previous := cryptoutil.ZeroDigest
	if position > 0 {
		previous = f.records[position-1].Hash
	}
	if err := fill(position, previous); err != nil {
		return err
	}
	f.records = append(f.records, *rec)
	return nil
}

func (f *fakeRepo) FindByID(_ context.Context, id string) (*store.AuditDecision, error) {
	for i := range f.records {
		if f.records[i].ID == id {
			cp := f.records[i]
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeRepo) FindByPosition(_ context.Context, position int64) (*store.AuditDecision, error) {
	if position < 0 || position >= int64(len(f.records)) {
		return nil, nil
	}
	cp := f.records[position]
	return &cp, nil
}

func (f *fakeRepo) ListAll(_ context.Context) ([]store.AuditDecision, error) {
	out := make([]store.AuditDecision, len(f.records))
	copy(out, f.records)
	return out, nil
}

func newRecorder(t *testing.T) (*Recorder, *fakeRepo) {
	t.Helper()
	key, err := cryptoutil.GenerateSigningKey()
	if err != nil {
		t.Fatal(err)
	}
	repo := &fakeRepo{}
	return NewRecorder(repo, key, clock.Fixed(time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC))), repo
}

func record(t *testing.T, r *Recorder, decision string) *store.AuditDecision {
	t.Helper()
	rec, err := r.Record(context.Background(), "i1", "agent-1", decision,
		map[string]interface{}{"trust_level": 4},
		map[string]interface{}{"verdict": decision})
	if err != nil {
		t.Fatal(err)
	}
	return rec
}

func TestRecord_ChainsAndSigns(t *testing.T) {
	r, repo := newRecorder(t)

	first := record(t, r, "approve")
	second := record(t, r, "deny")

	if first.ChainPosition != 0 || first.PreviousHash != cryptoutil.ZeroDigest {
		t.Errorf("genesis = %+v", first)
	}
	if second.ChainPosition != 1 || second.PreviousHash != first.Hash {
		t.Errorf("second record should link to the first: %+v", second)
	}
	if first.Algorithm != "ed25519" || first.Signature == "" || first.PublicKey == "" {
		t.Errorf("record is unsigned: %+v", first)
	}
	if len(repo.records) != 2 {
		t.Errorf("stored %d records", len(repo.records))
	}
}

func TestRecord_RequiresDecision(t *testing.T) {
	r, _ := newRecorder(t)
	_, err := r.Record(context.Background(), "i1", "agent-1", "", nil, nil)
	if !apperrors.Is(err, apperrors.KindValidation) {
		t.Errorf("err = %v, want validation", err)
	}
}

func TestVerify(t *testing.T) {
	r, repo := newRecorder(t)
	ctx := context.Background()

	rec := record(t, r, "approve")
	record(t, r, "deny")

	v, err := r.Verify(ctx, rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !v.Valid {
		t.Errorf("intact record failed verification: %+v", v)
	}

	// Tamper with the stored decision; the hash no longer matches.
	repo.records[0].Decision = "deny"
	v, err = r.Verify(ctx, rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if v.Valid || v.Error != "hash mismatch" {
		t.Errorf("tampered record passed: %+v", v)
	}

	if _, err := r.Verify(ctx, "missing"); !apperrors.Is(err, apperrors.KindNotFound) {
		t.Errorf("err = %v, want not_found", err)
	}
}

func TestVerifyChain(t *testing.T) {
	r, repo := newRecorder(t)
	ctx := context.Background()

	record(t, r, "approve")
	record(t, r, "deny")
	record(t, r, "escalate")

	report, err := r.VerifyChain(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !report.Valid || report.Length != 3 {
		t.Errorf("report = %+v", report)
	}

	// Break the middle link.
	repo.records[1].Inputs["trust_level"] = 99
	report, err = r.VerifyChain(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if report.Valid || report.BrokenAt == nil || *report.BrokenAt != 1 {
		t.Errorf("report = %+v", report)
	}
}

func TestVerifyChain_DetectsRelink(t *testing.T) {
	r, repo := newRecorder(t)
	ctx := context.Background()

	record(t, r, "approve")
	record(t, r, "deny")

	// Re-sign a forged middle record with a different key. The chain link
	// from the successor still breaks.
	forger, _ := cryptoutil.GenerateSigningKey()
	repo.records[0].PublicKey = forger.PublicKeyHex()

	report, err := r.VerifyChain(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if report.Valid {
		t.Error("forged signer should not verify")
	}
	if *report.BrokenAt != 0 {
		t.Errorf("broken at %d, want 0", *report.BrokenAt)
	}
}
