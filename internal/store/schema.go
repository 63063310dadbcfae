package store

import (
	"context"
	"fmt"
)

// schemaStatements create the tables and indices the repositories assume.
// Statements are idempotent so EnsureSchema is safe on every boot.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS intents (
		id                  UUID PRIMARY KEY,
		tenant_id           TEXT NOT NULL,
		entity_id           TEXT NOT NULL,
		goal                TEXT NOT NULL,
		intent_type         TEXT,
		priority            INT NOT NULL DEFAULT 0,
		status              TEXT NOT NULL,
		context             JSONB NOT NULL DEFAULT '{}',
		metadata            JSONB NOT NULL DEFAULT '{}',
		dedupe_hash         TEXT NOT NULL,
		trust_snapshot      JSONB,
		trust_level         INT,
		trust_score         INT,
		cancellation_reason TEXT,
		created_at          TIMESTAMPTZ NOT NULL,
		updated_at          TIMESTAMPTZ NOT NULL,
		deleted_at          TIMESTAMPTZ
	)`,
	// Live rows are unique per fingerprint; soft-deleted rows do not block
	// resubmission.
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_intents_dedupe
		ON intents (tenant_id, dedupe_hash) WHERE deleted_at IS NULL`,
	`CREATE INDEX IF NOT EXISTS idx_intents_tenant_status
		ON intents (tenant_id, status)`,
	`CREATE INDEX IF NOT EXISTS idx_intents_created
		ON intents (created_at DESC)`,

	`CREATE TABLE IF NOT EXISTS intent_events (
		id            UUID PRIMARY KEY,
		intent_id     UUID NOT NULL REFERENCES intents(id),
		event_type    TEXT NOT NULL,
		payload       JSONB NOT NULL DEFAULT '{}',
		occurred_at   TIMESTAMPTZ NOT NULL,
		hash          TEXT NOT NULL,
		previous_hash TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_intent_events_chain
		ON intent_events (intent_id, occurred_at)`,

	`CREATE TABLE IF NOT EXISTS intent_evaluations (
		id         UUID PRIMARY KEY,
		intent_id  UUID NOT NULL REFERENCES intents(id),
		tenant_id  TEXT NOT NULL,
		result     JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_intent_evaluations_intent
		ON intent_evaluations (intent_id, created_at)`,

	`CREATE TABLE IF NOT EXISTS escalations (
		id               UUID PRIMARY KEY,
		intent_id        UUID NOT NULL,
		tenant_id        TEXT NOT NULL,
		reason           TEXT NOT NULL,
		reason_category  TEXT NOT NULL,
		escalated_to     TEXT NOT NULL,
		escalated_by     TEXT,
		status           TEXT NOT NULL,
		timeout          TEXT NOT NULL,
		timeout_at       TIMESTAMPTZ NOT NULL,
		acknowledged_at  TIMESTAMPTZ,
		resolved_by      TEXT,
		resolved_at      TIMESTAMPTZ,
		resolution_notes TEXT,
		sla_breached     BOOLEAN NOT NULL DEFAULT FALSE,
		context          JSONB NOT NULL DEFAULT '{}',
		metadata         JSONB NOT NULL DEFAULT '{}',
		created_at       TIMESTAMPTZ NOT NULL,
		updated_at       TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_escalations_tenant_status
		ON escalations (tenant_id, status)`,
	`CREATE INDEX IF NOT EXISTS idx_escalations_due
		ON escalations (timeout_at) WHERE status IN ('pending', 'acknowledged')`,
	`CREATE INDEX IF NOT EXISTS idx_escalations_intent
		ON escalations (intent_id, created_at)`,

	`CREATE TABLE IF NOT EXISTS user_consents (
		id           UUID PRIMARY KEY,
		user_id      TEXT NOT NULL,
		tenant_id    TEXT NOT NULL,
		consent_type TEXT NOT NULL,
		granted      BOOLEAN NOT NULL,
		granted_at   TIMESTAMPTZ NOT NULL,
		revoked_at   TIMESTAMPTZ,
		version      TEXT NOT NULL,
		ip_address   TEXT,
		user_agent   TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_user_consents_lookup
		ON user_consents (user_id, tenant_id, consent_type)`,

	`CREATE TABLE IF NOT EXISTS consent_policies (
		id             UUID PRIMARY KEY,
		tenant_id      TEXT NOT NULL,
		consent_type   TEXT NOT NULL,
		version        TEXT NOT NULL,
		content        TEXT NOT NULL,
		effective_from TIMESTAMPTZ NOT NULL,
		effective_to   TIMESTAMPTZ
	)`,
	// At most one current policy per (tenant, type).
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_consent_policies_current
		ON consent_policies (tenant_id, consent_type) WHERE effective_to IS NULL`,

	`CREATE TABLE IF NOT EXISTS audit_decisions (
		id             UUID PRIMARY KEY,
		intent_id      UUID NOT NULL,
		entity_id      TEXT NOT NULL,
		decision       TEXT NOT NULL,
		inputs         JSONB NOT NULL DEFAULT '{}',
		outputs        JSONB NOT NULL DEFAULT '{}',
		chain_position BIGINT NOT NULL,
		previous_hash  TEXT NOT NULL,
		hash           TEXT NOT NULL,
		signature      TEXT NOT NULL,
		public_key     TEXT NOT NULL,
		algorithm      TEXT NOT NULL,
		created_at     TIMESTAMPTZ NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_audit_decisions_position
		ON audit_decisions (chain_position)`,
}

// EnsureSchema applies the DDL. Called once at boot.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
