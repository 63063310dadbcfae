// Command verify-tables round-trips every table the gateway owns against a
// live Postgres instance: schema creation, inserts, chained events, and the
// signed audit chain. Run it against a scratch database after migrations.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/intentgate/backend/internal/audit"
	"github.com/intentgate/backend/internal/clock"
	"github.com/intentgate/backend/internal/config"
	"github.com/intentgate/backend/internal/cryptoutil"
	"github.com/intentgate/backend/internal/lifecycle"
	"github.com/intentgate/backend/internal/store"
)

type result struct {
	Table   string
	OK      bool
	Details string
}

func main() {
	_ = godotenv.Load()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	st, err := store.Open(cfg.Database.DSN, store.Options{})
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := st.EnsureSchema(ctx); err != nil {
		log.Fatalf("ensure schema: %v", err)
	}

	codec, err := store.NewFieldCodec(cfg.Intent.EncryptionKeyHex)
	if err != nil {
		log.Fatalf("field codec: %v", err)
	}

	// Scratch identifiers so reruns never collide with real data.
	tenant := fmt.Sprintf("smoke-%d", time.Now().UnixNano())
	results := []result{
		checkIntents(ctx, store.NewIntentRepo(st, codec), tenant),
		checkConsents(ctx, store.NewConsentRepo(st), tenant),
		checkEscalations(ctx, store.NewEscalationRepo(st, codec), tenant),
		checkAudit(ctx, store.NewAuditRepo(st)),
	}

	failed := 0
	for _, r := range results {
		status := "PASS"
		if !r.OK {
			status = "FAIL"
			failed++
		}
		fmt.Printf("  %-20s %-4s  %s\n", r.Table, status, r.Details)
	}
	if failed > 0 {
		os.Exit(1)
	}
}

func checkIntents(ctx context.Context, repo *store.IntentRepo, tenant string) result {
	now := time.Now().UTC()
	in := &store.Intent{
		ID:         clock.NewID(),
		TenantID:   tenant,
		EntityID:   "smoke-agent",
		Goal:       "verify storage round trip",
		Priority:   5,
		Status:     lifecycle.StatusPending,
		Context:    map[string]interface{}{"check": true},
		Metadata:   map[string]interface{}{},
		DedupeHash: clock.NewID(),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if _, err := repo.CreateIntentWithEvent(ctx, in, lifecycle.EventSubmitted, nil, false); err != nil {
		return result{"intents", false, err.Error()}
	}
	if _, err := repo.RecordEvent(ctx, in.ID, "intent.evaluation.started", nil, now.Add(time.Second)); err != nil {
		return result{"intent_events", false, err.Error()}
	}
	v, err := repo.VerifyEventChain(ctx, in.ID)
	if err != nil {
		return result{"intent_events", false, err.Error()}
	}
	if !v.Valid {
		return result{"intent_events", false, "chain invalid: " + v.Error}
	}
	if err := repo.RecordEvaluation(ctx, &store.IntentEvaluation{
		ID:       clock.NewID(),
		IntentID: in.ID,
		TenantID: tenant,
		Result:   map[string]interface{}{"decision": "approve"},
	}); err != nil {
		return result{"intent_evaluations", false, err.Error()}
	}
	return result{"intents", true, fmt.Sprintf("chain length %d", v.Length)}
}

func checkConsents(ctx context.Context, repo *store.ConsentRepo, tenant string) result {
	now := time.Now().UTC()
	c := &store.Consent{
		ID:          clock.NewID(),
		UserID:      "smoke-user",
		TenantID:    tenant,
		ConsentType: store.ConsentDataProcessing,
		Granted:     true,
		GrantedAt:   now,
		Version:     "1.0",
	}
	if err := repo.Insert(ctx, c); err != nil {
		return result{"consents", false, err.Error()}
	}
	if _, err := repo.Revoke(ctx, c.UserID, tenant, c.ConsentType, now.Add(time.Second)); err != nil {
		return result{"consents", false, err.Error()}
	}
	if err := repo.InsertPolicy(ctx, &store.ConsentPolicy{
		ID:            clock.NewID(),
		TenantID:      tenant,
		ConsentType:   store.ConsentDataProcessing,
		Version:       "1.0",
		Content:       "smoke",
		EffectiveFrom: now,
	}); err != nil {
		return result{"consent_policies", false, err.Error()}
	}
	return result{"consents", true, "grant, revoke, policy OK"}
}

func checkEscalations(ctx context.Context, repo *store.EscalationRepo, tenant string) result {
	now := time.Now().UTC()
	e := &store.Escalation{
		ID:             clock.NewID(),
		IntentID:       clock.NewID(),
		TenantID:       tenant,
		Reason:         "smoke check",
		ReasonCategory: store.ReasonManualReview,
		EscalatedTo:    "reviewer",
		Status:         store.EscalationPending,
		Timeout:        "PT1H",
		TimeoutAt:      now.Add(time.Hour),
		Context:        map[string]interface{}{},
		Metadata:       map[string]interface{}{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := repo.Insert(ctx, e); err != nil {
		return result{"escalations", false, err.Error()}
	}
	if _, err := repo.Resolve(ctx, e.ID, store.EscalationCancelled, "smoke", nil, false, now.Add(time.Second)); err != nil {
		return result{"escalations", false, err.Error()}
	}
	return result{"escalations", true, "insert, resolve OK"}
}

func checkAudit(ctx context.Context, repo *store.AuditRepo) result {
	key, err := cryptoutil.GenerateSigningKey()
	if err != nil {
		return result{"audit_decisions", false, err.Error()}
	}
	recorder := audit.NewRecorder(repo, key, nil)
	rec, err := recorder.Record(ctx, clock.NewID(), "smoke-agent", "approve", nil, nil)
	if err != nil {
		return result{"audit_decisions", false, err.Error()}
	}
	v, err := recorder.Verify(ctx, rec.ID)
	if err != nil {
		return result{"audit_decisions", false, err.Error()}
	}
	if !v.Valid {
		return result{"audit_decisions", false, "record failed verification: " + v.Error}
	}
	return result{"audit_decisions", true, fmt.Sprintf("position %d verified", rec.ChainPosition)}
}
