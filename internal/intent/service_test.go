package intent

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/intentgate/backend/internal/apperrors"
	"github.com/intentgate/backend/internal/clock"
	"github.com/intentgate/backend/internal/config"
	"github.com/intentgate/backend/internal/consent"
	"github.com/intentgate/backend/internal/cryptoutil"
	"github.com/intentgate/backend/internal/kv"
	"github.com/intentgate/backend/internal/lifecycle"
	"github.com/intentgate/backend/internal/queue"
	"github.com/intentgate/backend/internal/store"
)

// fakeRepo is an in-memory Repository mirroring the store's conditional
// semantics.
type fakeRepo struct {
	intents     map[string]*store.Intent
	events      []store.IntentEvent
	evaluations []store.IntentEvaluation
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{intents: make(map[string]*store.Intent)}
}

func (f *fakeRepo) CreateIntentWithEvent(_ context.Context, in *store.Intent, eventType string, payload map[string]interface{}, _ bool) (*store.IntentEvent, error) {
	for _, existing := range f.intents {
		if existing.TenantID == in.TenantID && existing.DedupeHash == in.DedupeHash && existing.DeletedAt == nil {
			return nil, apperrors.New(apperrors.KindConflict, "intent fingerprint already exists")
		}
	}
	cp := *in
	f.intents[in.ID] = &cp

	e := store.IntentEvent{
		ID:           clock.NewID(),
		IntentID:     in.ID,
		EventType:    eventType,
		Payload:      payload,
		OccurredAt:   in.CreatedAt,
		PreviousHash: cryptoutil.ZeroDigest,
	}
	f.events = append(f.events, e)
	return &e, nil
}

func (f *fakeRepo) RecordEvent(_ context.Context, intentID, eventType string, payload map[string]interface{}, occurredAt time.Time) (*store.IntentEvent, error) {
	previous := cryptoutil.ZeroDigest
	for i := len(f.events) - 1; i >= 0; i-- {
		if f.events[i].IntentID == intentID {
			previous = f.events[i].Hash
			break
		}
	}
	e := store.IntentEvent{
		ID:           clock.NewID(),
		IntentID:     intentID,
		EventType:    eventType,
		Payload:      payload,
		OccurredAt:   occurredAt,
		PreviousHash: previous,
	}
	f.events = append(f.events, e)
	return &e, nil
}

func (f *fakeRepo) VerifyEventChain(_ context.Context, intentID string) (*store.ChainVerification, error) {
	n := 0
	for _, e := range f.events {
		if e.IntentID == intentID {
			n++
		}
	}
	return &store.ChainVerification{Valid: true, Length: n}, nil
}

func (f *fakeRepo) ListEvents(_ context.Context, intentID string) ([]store.IntentEvent, error) {
	var out []store.IntentEvent
	for _, e := range f.events {
		if e.IntentID == intentID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeRepo) FindByID(_ context.Context, tenantID, id string) (*store.Intent, error) {
	in, ok := f.intents[id]
	if !ok || in.TenantID != tenantID || in.DeletedAt != nil {
		return nil, nil
	}
	cp := *in
	return &cp, nil
}

func (f *fakeRepo) FindByDedupeHash(_ context.Context, tenantID, dedupeHash string) (*store.Intent, error) {
	for _, in := range f.intents {
		if in.TenantID == tenantID && in.DedupeHash == dedupeHash && in.DeletedAt == nil {
			cp := *in
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeRepo) ListIntents(_ context.Context, filter store.ListFilter) (*store.IntentPage, error) {
	var items []store.Intent
	for _, in := range f.intents {
		if in.TenantID == filter.TenantID && in.DeletedAt == nil {
			items = append(items, *in)
		}
	}
	return &store.IntentPage{Items: items, Limit: filter.Limit}, nil
}

func (f *fakeRepo) SoftDelete(_ context.Context, tenantID, id string, now time.Time) (bool, error) {
	in, ok := f.intents[id]
	if !ok || in.TenantID != tenantID || in.DeletedAt != nil {
		return false, nil
	}
	t := now
	in.DeletedAt = &t
	in.Context = map[string]interface{}{}
	in.Metadata = map[string]interface{}{}
	return true, nil
}

func (f *fakeRepo) PurgeDeleted(_ context.Context, retentionDays int, now time.Time) (int64, error) {
	horizon := now.AddDate(0, 0, -retentionDays)
	var purged int64
	for id, in := range f.intents {
		if in.DeletedAt != nil && in.DeletedAt.Before(horizon) {
			delete(f.intents, id)
			purged++
		}
	}
	return purged, nil
}

func cancellable(s lifecycle.Status) bool {
	for _, c := range lifecycle.CancellableStatuses {
		if s == c {
			return true
		}
	}
	return false
}

func (f *fakeRepo) CancelIntent(_ context.Context, tenantID, id, reason string, now time.Time) (*store.Intent, error) {
	in, ok := f.intents[id]
	if !ok || in.TenantID != tenantID || in.DeletedAt != nil || !cancellable(in.Status) {
		return nil, nil
	}
	in.Status = lifecycle.StatusCancelled
	in.CancellationReason = &reason
	in.UpdatedAt = now
	cp := *in
	return &cp, nil
}

func (f *fakeRepo) CountActive(_ context.Context, tenantID string) (int, error) {
	n := 0
	for _, in := range f.intents {
		if in.TenantID != tenantID || in.DeletedAt != nil {
			continue
		}
		for _, s := range lifecycle.ActiveStatuses {
			if in.Status == s {
				n++
				break
			}
		}
	}
	return n, nil
}

func (f *fakeRepo) UpdateStatus(_ context.Context, tenantID, id string, expectedFrom, next lifecycle.Status, now time.Time) (bool, error) {
	in, ok := f.intents[id]
	if !ok || in.TenantID != tenantID || in.DeletedAt != nil || in.Status != expectedFrom {
		return false, nil
	}
	in.Status = next
	in.UpdatedAt = now
	return true, nil
}

func (f *fakeRepo) UpdateTrustMetadata(_ context.Context, tenantID, id string, snapshot map[string]interface{}, level, score *int, now time.Time) (bool, error) {
	in, ok := f.intents[id]
	if !ok || in.TenantID != tenantID || in.DeletedAt != nil {
		return false, nil
	}
	in.TrustSnapshot = snapshot
	in.TrustLevel = level
	in.TrustScore = score
	in.UpdatedAt = now
	return true, nil
}

func (f *fakeRepo) RecordEvaluation(_ context.Context, eval *store.IntentEvaluation) error {
	f.evaluations = append(f.evaluations, *eval)
	return nil
}

func (f *fakeRepo) ListEvaluations(_ context.Context, intentID string) ([]store.IntentEvaluation, error) {
	var out []store.IntentEvaluation
	for _, ev := range f.evaluations {
		if ev.IntentID == intentID {
			out = append(out, ev)
		}
	}
	return out, nil
}

// fakeConsent answers the consent gate from a fixed set.
type fakeConsent struct {
	valid map[string]bool
}

func (f *fakeConsent) Validate(_ context.Context, userID, _, consentType string) (*consent.ValidationResult, error) {
	if f.valid[userID+"/"+consentType] {
		now := time.Now()
		return &consent.ValidationResult{Valid: true, ConsentType: consentType, GrantedAt: &now, Version: "v1"}, nil
	}
	return &consent.ValidationResult{Valid: false, ConsentType: consentType, Reason: "no active consent on record"}, nil
}

type testEnv struct {
	svc  *Service
	repo *fakeRepo
	q    *queue.MemoryQueue
	mr   *miniredis.Miniredis
}

func newTestEnv(t *testing.T, clk clock.Clock) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	adapter := kv.NewFromClient(rdb)
	t.Cleanup(func() { adapter.Close() })

	cfg := &config.Config{}
	cfg.ApplyDefaults()
	cfg.Intent.DedupeSecret = "test-secret"
	cfg.Intent.DefaultMaxInFlight = 3
	cfg.Intent.RedactPaths = []string{"context.ssn", "metadata.api_key"}
	cfg.Intent.TrustGates = map[string]int{"high_risk": 5}
	cfg.Intent.NamespaceRouting = map[string]string{"high_risk": "review"}
	tenants, err := config.NewManager(cfg, "")
	if err != nil {
		t.Fatal(err)
	}

	repo := newFakeRepo()
	q := queue.NewMemoryQueue()
	svc := NewService(Deps{
		Repo:     repo,
		Tenants:  tenants,
		KV:       adapter,
		Queue:    q,
		Consents: &fakeConsent{valid: map[string]bool{"u1/data_processing": true}},
		Clock:    clk,
		Config:   cfg.Intent,
	})
	return &testEnv{svc: svc, repo: repo, q: q, mr: mr}
}

func trust(level int) *int { return &level }

func submitReq() SubmitRequest {
	return SubmitRequest{
		EntityID: "agent-1",
		Goal:     "summarize weekly report",
		Priority: 3,
		Context:  map[string]interface{}{"ssn": "123-45-6789", "region": "eu"},
	}
}

func submitOpts() SubmitOptions {
	return SubmitOptions{TenantID: "t1", UserID: "u1", TrustLevel: trust(2)}
}

func TestSubmit_Success(t *testing.T) {
	env := newTestEnv(t, clock.SystemClock{})
	ctx := context.Background()

	res, err := env.svc.Submit(ctx, submitReq(), submitOpts())
	if err != nil {
		t.Fatal(err)
	}
	if res.Duplicate {
		t.Error("first submission should not be a duplicate")
	}
	in := res.Intent
	if in.Status != lifecycle.StatusPending {
		t.Errorf("status = %s", in.Status)
	}
	if in.Context["ssn"] != "[REDACTED]" {
		t.Errorf("ssn should be redacted, got %v", in.Context["ssn"])
	}
	if in.Context["region"] != "eu" {
		t.Error("non-sensitive fields must survive redaction")
	}

	events, _ := env.repo.ListEvents(ctx, in.ID)
	if len(events) != 1 || events[0].EventType != lifecycle.EventSubmitted {
		t.Errorf("events = %+v", events)
	}
	if events[0].PreviousHash != cryptoutil.ZeroDigest {
		t.Error("first event should chain from the zero digest")
	}

	jobs := env.q.Drain("default")
	if len(jobs) != 1 || jobs[0].IntentID != in.ID {
		t.Errorf("jobs = %+v", jobs)
	}
}

func TestSubmit_WritesDedupeMarker(t *testing.T) {
	env := newTestEnv(t, clock.SystemClock{})

	res, err := env.svc.Submit(context.Background(), submitReq(), submitOpts())
	if err != nil {
		t.Fatal(err)
	}

	got, err := env.mr.Get("intent:dedupe:marker:t1:" + res.Intent.DedupeHash)
	if err != nil {
		t.Fatalf("marker missing: %v", err)
	}
	if got != res.Intent.ID {
		t.Errorf("marker = %s, want %s", got, res.Intent.ID)
	}
}

func TestSubmit_EventPayloadCarriesTrustLevel(t *testing.T) {
	env := newTestEnv(t, clock.SystemClock{})
	ctx := context.Background()

	res, err := env.svc.Submit(ctx, submitReq(), submitOpts())
	if err != nil {
		t.Fatal(err)
	}
	events, _ := env.repo.ListEvents(ctx, res.Intent.ID)
	if events[0].Payload["trust_level"] != 2 {
		t.Errorf("trust_level = %v, want 2", events[0].Payload["trust_level"])
	}

	// Unknown trust still keeps the field in the payload, as null.
	req := submitReq()
	req.Goal = "no trust attached"
	res, err = env.svc.Submit(ctx, req, SubmitOptions{TenantID: "t1", UserID: "u1", BypassTrustGate: true})
	if err != nil {
		t.Fatal(err)
	}
	events, _ = env.repo.ListEvents(ctx, res.Intent.ID)
	v, present := events[0].Payload["trust_level"]
	if !present {
		t.Fatal("trust_level missing from the submitted payload")
	}
	if v != nil {
		t.Errorf("trust_level = %v, want null", v)
	}
}

func TestSubmit_DuplicateWithinWindow(t *testing.T) {
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	env := newTestEnv(t, clock.Fixed(base))
	ctx := context.Background()

	first, err := env.svc.Submit(ctx, submitReq(), submitOpts())
	if err != nil {
		t.Fatal(err)
	}
	second, err := env.svc.Submit(ctx, submitReq(), submitOpts())
	if err != nil {
		t.Fatal(err)
	}

	if !second.Duplicate || second.Intent.ID != first.Intent.ID {
		t.Errorf("second submission should return the original intent: %+v", second)
	}
	if len(env.repo.intents) != 1 {
		t.Errorf("store holds %d intents, want 1", len(env.repo.intents))
	}
}

func TestSubmit_NewWindowIsNewIntent(t *testing.T) {
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	now := base
	env := newTestEnv(t, clock.Func(func() time.Time { return now }))
	ctx := context.Background()

	env.svc.Submit(ctx, submitReq(), submitOpts())
	now = base.Add(10 * time.Minute) // past the 300s window bucket
	res, err := env.svc.Submit(ctx, submitReq(), submitOpts())
	if err != nil {
		t.Fatal(err)
	}
	if res.Duplicate {
		t.Error("a new window bucket should produce a fresh fingerprint")
	}
}

func TestSubmit_ConsentGate(t *testing.T) {
	env := newTestEnv(t, clock.SystemClock{})
	ctx := context.Background()

	opts := submitOpts()
	opts.UserID = "u2" // no consent on record
	_, err := env.svc.Submit(ctx, submitReq(), opts)
	if !apperrors.Is(err, apperrors.KindConsentRequired) {
		t.Errorf("err = %v, want consent_required", err)
	}

	opts.BypassConsentCheck = true
	if _, err := env.svc.Submit(ctx, submitReq(), opts); err != nil {
		t.Errorf("bypass should skip the gate: %v", err)
	}
}

func TestSubmit_TrustGate(t *testing.T) {
	env := newTestEnv(t, clock.SystemClock{})
	ctx := context.Background()

	req := submitReq()
	req.IntentType = "high_risk" // gated at level 5
	_, err := env.svc.Submit(ctx, req, submitOpts())
	if !apperrors.Is(err, apperrors.KindTrustInsufficient) {
		t.Fatalf("err = %v, want trust_insufficient", err)
	}
	appErr := err.(*apperrors.Error)
	if appErr.Details["required"] != 5 || appErr.Details["actual"] != 2 {
		t.Errorf("details = %v", appErr.Details)
	}

	opts := submitOpts()
	opts.TrustLevel = trust(7)
	if _, err := env.svc.Submit(ctx, req, opts); err != nil {
		t.Fatal(err)
	}

	// Routed to the high-risk namespace.
	if env.q.Len("review") != 1 {
		t.Error("high_risk intents should route to the review namespace")
	}
}

func TestSubmit_Validation(t *testing.T) {
	env := newTestEnv(t, clock.SystemClock{})
	ctx := context.Background()

	cases := []struct {
		name string
		req  SubmitRequest
		opts SubmitOptions
	}{
		{"missing tenant", submitReq(), SubmitOptions{}},
		{"missing goal", SubmitRequest{EntityID: "e"}, submitOpts()},
		{"goal over 1024", SubmitRequest{EntityID: "e", Goal: strings.Repeat("g", 1025)}, submitOpts()},
		{"intent_type over 128", SubmitRequest{EntityID: "e", Goal: "g", IntentType: strings.Repeat("t", 129)}, submitOpts()},
		{"priority above range", SubmitRequest{EntityID: "e", Goal: "g", Priority: 10}, submitOpts()},
		{"priority below range", SubmitRequest{EntityID: "e", Goal: "g", Priority: -1}, submitOpts()},
	}
	for _, tc := range cases {
		if _, err := env.svc.Submit(ctx, tc.req, tc.opts); !apperrors.Is(err, apperrors.KindValidation) {
			t.Errorf("%s: err = %v, want validation", tc.name, err)
		}
	}

	// The bounds are inclusive.
	req := submitReq()
	req.Goal = strings.Repeat("g", 1024)
	req.IntentType = strings.Repeat("t", 128)
	req.Priority = 9
	if _, err := env.svc.Submit(ctx, req, submitOpts()); err != nil {
		t.Errorf("maximal valid request rejected: %v", err)
	}
}

func TestSubmit_ContextSizeLimit(t *testing.T) {
	env := newTestEnv(t, clock.SystemClock{})

	big := make([]byte, 70*1024)
	for i := range big {
		big[i] = 'a'
	}
	req := submitReq()
	req.Context = map[string]interface{}{"blob": string(big)}

	_, err := env.svc.Submit(context.Background(), req, submitOpts())
	if !apperrors.Is(err, apperrors.KindValidation) {
		t.Errorf("err = %v, want validation", err)
	}
}

func TestSubmit_InFlightCap(t *testing.T) {
	env := newTestEnv(t, clock.SystemClock{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		req := submitReq()
		req.Goal = req.Goal + string(rune('a'+i))
		if _, err := env.svc.Submit(ctx, req, submitOpts()); err != nil {
			t.Fatal(err)
		}
	}

	req := submitReq()
	req.Goal = "one too many"
	_, err := env.svc.Submit(ctx, req, submitOpts())
	if !apperrors.Is(err, apperrors.KindIntentRateLimit) {
		t.Errorf("err = %v, want intent_rate_limit", err)
	}
}

func TestSubmit_InFlightCap_IgnoresApproved(t *testing.T) {
	env := newTestEnv(t, clock.SystemClock{})
	ctx := context.Background()

	ids := make([]string, 0, 3)
	for i := 0; i < 3; i++ {
		req := submitReq()
		req.Goal = req.Goal + string(rune('a'+i))
		res, err := env.svc.Submit(ctx, req, submitOpts())
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, res.Intent.ID)
	}

	env.svc.Transition(ctx, "t1", ids[0], lifecycle.StatusEvaluating, TransitionOptions{})
	env.svc.Transition(ctx, "t1", ids[0], lifecycle.StatusApproved, TransitionOptions{})

	req := submitReq()
	req.Goal = "fits once one is approved"
	if _, err := env.svc.Submit(ctx, req, submitOpts()); err != nil {
		t.Errorf("approved intents should not count toward the cap: %v", err)
	}
}

func TestCancel(t *testing.T) {
	env := newTestEnv(t, clock.SystemClock{})
	ctx := context.Background()

	res, _ := env.svc.Submit(ctx, submitReq(), submitOpts())
	id := res.Intent.ID

	if _, err := env.svc.Cancel(ctx, "t1", id, ""); !apperrors.Is(err, apperrors.KindRequiresReason) {
		t.Errorf("err = %v, want requires_reason", err)
	}

	cancelled, err := env.svc.Cancel(ctx, "t1", id, "user changed mind")
	if err != nil {
		t.Fatal(err)
	}
	if cancelled.Status != lifecycle.StatusCancelled {
		t.Errorf("status = %s", cancelled.Status)
	}

	events, _ := env.repo.ListEvents(ctx, id)
	last := events[len(events)-1]
	if last.EventType != lifecycle.EventCancelled || last.Payload["reason"] != "user changed mind" {
		t.Errorf("last event = %+v", last)
	}

	if _, err := env.svc.Cancel(ctx, "t1", id, "again"); !apperrors.Is(err, apperrors.KindTerminalState) {
		t.Errorf("err = %v, want terminal_state", err)
	}
}

func TestTransition_FullLifecycle(t *testing.T) {
	env := newTestEnv(t, clock.SystemClock{})
	ctx := context.Background()

	res, _ := env.svc.Submit(ctx, submitReq(), submitOpts())
	id := res.Intent.ID

	steps := []struct {
		to    lifecycle.Status
		event string
	}{
		{lifecycle.StatusEvaluating, "intent.evaluation.started"},
		{lifecycle.StatusApproved, "intent.approved"},
		{lifecycle.StatusExecuting, "intent.execution.started"},
		{lifecycle.StatusCompleted, "intent.completed"},
	}
	for _, step := range steps {
		in, err := env.svc.Transition(ctx, "t1", id, step.to, TransitionOptions{})
		if err != nil {
			t.Fatalf("to %s: %v", step.to, err)
		}
		if in.Status != step.to {
			t.Errorf("status = %s, want %s", in.Status, step.to)
		}
	}

	events, _ := env.repo.ListEvents(ctx, id)
	if len(events) != 5 { // submitted + 4 transitions
		t.Fatalf("chain length = %d", len(events))
	}
	for i, step := range steps {
		if events[i+1].EventType != step.event {
			t.Errorf("event[%d] = %s, want %s", i+1, events[i+1].EventType, step.event)
		}
	}

	_, err := env.svc.Transition(ctx, "t1", id, lifecycle.StatusPending, TransitionOptions{})
	if !apperrors.Is(err, apperrors.KindTerminalState) {
		t.Errorf("err = %v, want terminal_state", err)
	}
}

func TestTransition_PermissionEdges(t *testing.T) {
	env := newTestEnv(t, clock.SystemClock{})
	ctx := context.Background()

	res, _ := env.svc.Submit(ctx, submitReq(), submitOpts())
	id := res.Intent.ID

	env.svc.Transition(ctx, "t1", id, lifecycle.StatusEvaluating, TransitionOptions{})
	env.svc.Transition(ctx, "t1", id, lifecycle.StatusEscalated, TransitionOptions{})

	_, err := env.svc.Transition(ctx, "t1", id, lifecycle.StatusApproved, TransitionOptions{})
	if !apperrors.Is(err, apperrors.KindRequiresPerm) {
		t.Errorf("err = %v, want requires_permission", err)
	}

	in, err := env.svc.Transition(ctx, "t1", id, lifecycle.StatusApproved, TransitionOptions{HasPermission: true})
	if err != nil || in.Status != lifecycle.StatusApproved {
		t.Errorf("in=%v err=%v", in, err)
	}
}

func TestResolveEscalated(t *testing.T) {
	env := newTestEnv(t, clock.SystemClock{})
	ctx := context.Background()

	res, _ := env.svc.Submit(ctx, submitReq(), submitOpts())
	id := res.Intent.ID
	env.svc.Transition(ctx, "t1", id, lifecycle.StatusEvaluating, TransitionOptions{})
	env.svc.Transition(ctx, "t1", id, lifecycle.StatusEscalated, TransitionOptions{})

	if err := env.svc.ResolveEscalated(ctx, "t1", id, false, "policy violation"); err != nil {
		t.Fatal(err)
	}
	in, _ := env.svc.Get(ctx, "t1", id)
	if in.Status != lifecycle.StatusDenied {
		t.Errorf("status = %s, want denied", in.Status)
	}

	events, _ := env.repo.ListEvents(ctx, id)
	last := events[len(events)-1]
	if last.EventType != "intent.denied" || last.Payload["reason"] != "policy violation" {
		t.Errorf("last event = %+v", last)
	}
}

func TestTransition_ReplayAndRetry(t *testing.T) {
	env := newTestEnv(t, clock.SystemClock{})
	ctx := context.Background()

	res, _ := env.svc.Submit(ctx, submitReq(), submitOpts())
	id := res.Intent.ID

	env.svc.Transition(ctx, "t1", id, lifecycle.StatusEvaluating, TransitionOptions{})
	env.svc.Transition(ctx, "t1", id, lifecycle.StatusDenied, TransitionOptions{})

	if _, err := env.svc.Transition(ctx, "t1", id, lifecycle.StatusPending, TransitionOptions{}); !apperrors.Is(err, apperrors.KindRequiresPerm) {
		t.Errorf("replay without permission: %v", err)
	}
	in, err := env.svc.Transition(ctx, "t1", id, lifecycle.StatusPending, TransitionOptions{HasPermission: true})
	if err != nil || in.Status != lifecycle.StatusPending {
		t.Fatalf("replay failed: %v", err)
	}

	events, _ := env.repo.ListEvents(ctx, id)
	if events[len(events)-1].EventType != "intent.replayed" {
		t.Errorf("last event = %s", events[len(events)-1].EventType)
	}
}

// staleRepo makes every conditional status update miss, as if a racer moved
// the intent between the read and the update.
type staleRepo struct {
	*fakeRepo
}

func (s *staleRepo) UpdateStatus(context.Context, string, string, lifecycle.Status, lifecycle.Status, time.Time) (bool, error) {
	return false, nil
}

func TestTransition_StaleStatusConflicts(t *testing.T) {
	env := newTestEnv(t, clock.SystemClock{})
	ctx := context.Background()

	res, _ := env.svc.Submit(ctx, submitReq(), submitOpts())
	id := res.Intent.ID

	env.svc.repo = &staleRepo{fakeRepo: env.repo}
	_, err := env.svc.Transition(ctx, "t1", id, lifecycle.StatusEvaluating, TransitionOptions{})
	if !apperrors.Is(err, apperrors.KindConflict) {
		t.Errorf("err = %v, want conflict", err)
	}
}

func TestSoftDeleteAndPurge(t *testing.T) {
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	now := base
	env := newTestEnv(t, clock.Func(func() time.Time { return now }))
	ctx := context.Background()

	res, _ := env.svc.Submit(ctx, submitReq(), submitOpts())
	id := res.Intent.ID

	if err := env.svc.SoftDelete(ctx, "t1", id); err != nil {
		t.Fatal(err)
	}
	if _, err := env.svc.Get(ctx, "t1", id); !apperrors.Is(err, apperrors.KindNotFound) {
		t.Errorf("deleted intent should be invisible, got %v", err)
	}

	// Within retention nothing is purged.
	purged, _ := env.svc.PurgeDeleted(ctx, 30)
	if purged != 0 {
		t.Errorf("purged %d rows inside the retention window", purged)
	}

	now = base.AddDate(0, 0, 40)
	purged, _ = env.svc.PurgeDeleted(ctx, 30)
	if purged != 1 {
		t.Errorf("purged = %d, want 1", purged)
	}
}

func TestRecordEvaluation(t *testing.T) {
	env := newTestEnv(t, clock.SystemClock{})
	ctx := context.Background()

	res, _ := env.svc.Submit(ctx, submitReq(), submitOpts())
	id := res.Intent.ID

	eval, err := env.svc.RecordEvaluation(ctx, "t1", id, map[string]interface{}{"verdict": "approve", "score": 0.92})
	if err != nil {
		t.Fatal(err)
	}
	if eval.ID == "" || eval.IntentID != id {
		t.Errorf("eval = %+v", eval)
	}

	evals, err := env.svc.ListEvaluations(ctx, "t1", id)
	if err != nil || len(evals) != 1 {
		t.Errorf("evals=%v err=%v", evals, err)
	}

	if _, err := env.svc.RecordEvaluation(ctx, "t1", "missing", nil); !apperrors.Is(err, apperrors.KindNotFound) {
		t.Errorf("err = %v, want not_found", err)
	}
}

func TestUpdateTrustMetadata(t *testing.T) {
	env := newTestEnv(t, clock.SystemClock{})
	ctx := context.Background()

	res, _ := env.svc.Submit(ctx, submitReq(), submitOpts())
	id := res.Intent.ID

	snap := map[string]interface{}{"attestations": 4}
	if err := env.svc.UpdateTrustMetadata(ctx, "t1", id, snap, trust(6), trust(88)); err != nil {
		t.Fatal(err)
	}
	in, _ := env.svc.Get(ctx, "t1", id)
	if in.TrustLevel == nil || *in.TrustLevel != 6 || in.TrustSnapshot["attestations"] != 4 {
		t.Errorf("intent = %+v", in)
	}

	if err := env.svc.UpdateTrustMetadata(ctx, "t1", "missing", nil, nil, nil); !apperrors.Is(err, apperrors.KindNotFound) {
		t.Errorf("err = %v, want not_found", err)
	}
}
