package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/intentgate/backend/internal/cryptoutil"
	"github.com/intentgate/backend/internal/lifecycle"
)

func newMockRepo(t *testing.T) (*IntentRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return NewIntentRepo(NewFromDB(db), nil), mock
}

func sampleIntent(now time.Time) *Intent {
	return &Intent{
		ID:         "11111111-1111-1111-1111-111111111111",
		TenantID:   "t1",
		EntityID:   "agent-7",
		Goal:       "rotate credentials",
		Priority:   3,
		Status:     lifecycle.StatusPending,
		Context:    map[string]interface{}{"region": "eu"},
		Metadata:   map[string]interface{}{},
		DedupeHash: "abc123",
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func TestCreateIntentWithEvent_TransactionalInsert(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	in := sampleIntent(now)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO intents").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO intent_events").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	event, err := repo.CreateIntentWithEvent(context.Background(), in,
		"intent.submitted", map[string]interface{}{"goal": in.Goal}, false)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if event.PreviousHash != cryptoutil.ZeroDigest {
		t.Errorf("first event must chain from the zero digest, got %s", event.PreviousHash)
	}
	if len(event.Hash) != 64 {
		t.Errorf("event hash should be hex sha256, got %q", event.Hash)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestRecordEvent_AppendsToChainHead(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Date(2026, 8, 1, 13, 0, 0, 0, time.UTC)
	headHash := "deadbeef" + cryptoutil.SHA256Hex([]byte("x"))[:56]

	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT hash FROM intent_events").
		WillReturnRows(sqlmock.NewRows([]string{"hash"}).AddRow(headHash))
	mock.ExpectExec("INSERT INTO intent_events").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	event, err := repo.RecordEvent(context.Background(), "intent-1",
		"intent.approved", map[string]interface{}{}, now)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if event.PreviousHash != headHash {
		t.Errorf("event should chain from the head hash, got %s", event.PreviousHash)
	}

	expected, _ := eventDigest(event)
	if event.Hash != expected {
		t.Error("stored hash must match the recomputed chain digest")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestVerifyEventChain_DetectsTampering(t *testing.T) {
	repo, mock := newMockRepo(t)
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	// Build a genuine two-link chain, then corrupt the second payload.
	e1 := &IntentEvent{
		ID: "e1", IntentID: "i1", EventType: "intent.submitted",
		Payload:    map[string]interface{}{"goal": "g"},
		OccurredAt: base, PreviousHash: cryptoutil.ZeroDigest,
	}
	e1.Hash, _ = eventDigest(e1)
	e2 := &IntentEvent{
		ID: "e2", IntentID: "i1", EventType: "intent.approved",
		Payload:    map[string]interface{}{},
		OccurredAt: base.Add(time.Minute), PreviousHash: e1.Hash,
	}
	e2.Hash, _ = eventDigest(e2)

	rows := sqlmock.NewRows([]string{"id", "intent_id", "event_type", "payload", "occurred_at", "hash", "previous_hash"}).
		AddRow(e1.ID, e1.IntentID, e1.EventType, []byte(`{"goal":"g"}`), e1.OccurredAt, e1.Hash, e1.PreviousHash).
		AddRow(e2.ID, e2.IntentID, e2.EventType, []byte(`{"tampered":true}`), e2.OccurredAt, e2.Hash, e2.PreviousHash)
	mock.ExpectQuery("SELECT id, intent_id, event_type").WillReturnRows(rows)

	result, err := repo.VerifyEventChain(context.Background(), "i1")
	if err != nil {
		t.Fatal(err)
	}
	if result.Valid {
		t.Fatal("tampered payload should break verification")
	}
	if result.InvalidAt == nil || *result.InvalidAt != 1 {
		t.Errorf("break should be at position 1, got %v", result.InvalidAt)
	}
}

func TestVerifyEventChain_ValidChain(t *testing.T) {
	repo, mock := newMockRepo(t)
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	e1 := &IntentEvent{
		ID: "e1", IntentID: "i1", EventType: "intent.submitted",
		Payload:    map[string]interface{}{},
		OccurredAt: base, PreviousHash: cryptoutil.ZeroDigest,
	}
	e1.Hash, _ = eventDigest(e1)
	e2 := &IntentEvent{
		ID: "e2", IntentID: "i1", EventType: "intent.evaluation.started",
		Payload:    map[string]interface{}{},
		OccurredAt: base.Add(time.Second), PreviousHash: e1.Hash,
	}
	e2.Hash, _ = eventDigest(e2)

	rows := sqlmock.NewRows([]string{"id", "intent_id", "event_type", "payload", "occurred_at", "hash", "previous_hash"}).
		AddRow(e1.ID, e1.IntentID, e1.EventType, []byte(`{}`), e1.OccurredAt, e1.Hash, e1.PreviousHash).
		AddRow(e2.ID, e2.IntentID, e2.EventType, []byte(`{}`), e2.OccurredAt, e2.Hash, e2.PreviousHash)
	mock.ExpectQuery("SELECT id, intent_id, event_type").WillReturnRows(rows)

	result, err := repo.VerifyEventChain(context.Background(), "i1")
	if err != nil {
		t.Fatal(err)
	}
	if !result.Valid || result.Length != 2 {
		t.Errorf("expected valid chain of 2, got %+v", result)
	}
}

func TestCancelIntent_StaleStatusReturnsNil(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now().UTC()

	mock.ExpectQuery("UPDATE intents").
		WillReturnRows(sqlmock.NewRows(nil))

	got, err := repo.CancelIntent(context.Background(), "t1", "i1", "changed mind", now)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got != nil {
		t.Error("non-cancellable intent should yield nil, not an error")
	}
}

func TestListIntents_PaginationWindow(t *testing.T) {
	repo, mock := newMockRepo(t)
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	cols := []string{"id", "tenant_id", "entity_id", "goal", "intent_type",
		"priority", "status", "context", "metadata", "dedupe_hash",
		"trust_snapshot", "trust_level", "trust_score", "cancellation_reason",
		"created_at", "updated_at", "deleted_at"}
	rows := sqlmock.NewRows(cols)
	// Limit 2 asks for 3 rows; 3 returned means another page exists.
	for i := 0; i < 3; i++ {
		rows.AddRow("id-"+string(rune('a'+i)), "t1", "e", "goal", nil, 0,
			"pending", []byte(`{}`), []byte(`{}`), "h", nil, nil, nil, nil,
			base.Add(-time.Duration(i)*time.Minute), base, nil)
	}
	mock.ExpectQuery("SELECT (.+) FROM intents").WillReturnRows(rows)

	page, err := repo.ListIntents(context.Background(), ListFilter{TenantID: "t1", Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Items) != 2 || !page.HasMore {
		t.Errorf("expected trimmed page with HasMore, got %d items, more=%v",
			len(page.Items), page.HasMore)
	}
	if page.NextCursor == nil || !page.NextCursor.Equal(page.Items[1].CreatedAt) {
		t.Error("next cursor should be the last item's created_at")
	}
}

func TestListIntents_CapsLimit(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery("SELECT (.+) FROM intents").
		WithArgs("t1", MaxListLimit+1).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	page, err := repo.ListIntents(context.Background(), ListFilter{TenantID: "t1", Limit: 99999})
	if err != nil {
		t.Fatal(err)
	}
	if page.Limit != MaxListLimit {
		t.Errorf("limit should be capped at %d, got %d", MaxListLimit, page.Limit)
	}
}

func TestPurgeDeleted_UsesRetentionHorizon(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec("DELETE FROM intents").
		WithArgs(now.AddDate(0, 0, -30)).
		WillReturnResult(sqlmock.NewResult(0, 4))

	n, err := repo.PurgeDeleted(context.Background(), 30, now)
	if err != nil {
		t.Fatal(err)
	}
	if n != 4 {
		t.Errorf("expected 4 purged rows, got %d", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestUpdateStatus_ConditionalOnExpected(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now().UTC()

	mock.ExpectExec("UPDATE intents").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.UpdateStatus(context.Background(), "t1", "i1",
		lifecycle.StatusPending, lifecycle.StatusEvaluating, now)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("zero rows affected means the caller was stale")
	}
}
