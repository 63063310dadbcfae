package store

import (
	"time"

	"github.com/intentgate/backend/internal/lifecycle"
)

// Intent is the persisted intent row. Context and Metadata are always
// cleartext maps in memory; encryption happens at the storage boundary.
type Intent struct {
	ID                 string                 `json:"id"`
	TenantID           string                 `json:"tenant_id"`
	EntityID           string                 `json:"entity_id"`
	Goal               string                 `json:"goal"`
	IntentType         string                 `json:"intent_type,omitempty"`
	Priority           int                    `json:"priority"`
	Status             lifecycle.Status       `json:"status"`
	Context            map[string]interface{} `json:"context"`
	Metadata           map[string]interface{} `json:"metadata"`
	DedupeHash         string                 `json:"dedupe_hash"`
	TrustSnapshot      map[string]interface{} `json:"trust_snapshot,omitempty"`
	TrustLevel         *int                   `json:"trust_level,omitempty"`
	TrustScore         *int                   `json:"trust_score,omitempty"`
	CancellationReason *string                `json:"cancellation_reason,omitempty"`
	CreatedAt          time.Time              `json:"created_at"`
	UpdatedAt          time.Time              `json:"updated_at"`
	DeletedAt          *time.Time             `json:"deleted_at,omitempty"`
}

// IntentEvent is one link in an intent's append-only hash chain.
type IntentEvent struct {
	ID           string                 `json:"id"`
	IntentID     string                 `json:"intent_id"`
	EventType    string                 `json:"event_type"`
	Payload      map[string]interface{} `json:"payload"`
	OccurredAt   time.Time              `json:"occurred_at"`
	Hash         string                 `json:"hash"`
	PreviousHash string                 `json:"previous_hash"`
}

// IntentEvaluation is an append-only evaluation record with a tagged result.
type IntentEvaluation struct {
	ID        string                 `json:"id"`
	IntentID  string                 `json:"intent_id"`
	TenantID  string                 `json:"tenant_id"`
	Result    map[string]interface{} `json:"result"`
	CreatedAt time.Time              `json:"created_at"`
}

// Escalation statuses.
const (
	EscalationPending      = "pending"
	EscalationAcknowledged = "acknowledged"
	EscalationApproved     = "approved"
	EscalationRejected     = "rejected"
	EscalationTimeout      = "timeout"
	EscalationCancelled    = "cancelled"
)

// Escalation reason categories.
const (
	ReasonTrustInsufficient  = "trust_insufficient"
	ReasonHighRisk           = "high_risk"
	ReasonPolicyViolation    = "policy_violation"
	ReasonManualReview       = "manual_review"
	ReasonConstraintEscalate = "constraint_escalate"
)

// Escalation is a human-in-the-loop review request tied to an intent.
type Escalation struct {
	ID              string                 `json:"id"`
	IntentID        string                 `json:"intent_id"`
	TenantID        string                 `json:"tenant_id"`
	Reason          string                 `json:"reason"`
	ReasonCategory  string                 `json:"reason_category"`
	EscalatedTo     string                 `json:"escalated_to"`
	EscalatedBy     *string                `json:"escalated_by,omitempty"`
	Status          string                 `json:"status"`
	Timeout         string                 `json:"timeout"`
	TimeoutAt       time.Time              `json:"timeout_at"`
	AcknowledgedAt  *time.Time             `json:"acknowledged_at,omitempty"`
	ResolvedBy      *string                `json:"resolved_by,omitempty"`
	ResolvedAt      *time.Time             `json:"resolved_at,omitempty"`
	ResolutionNotes *string                `json:"resolution_notes,omitempty"`
	SLABreached     bool                   `json:"sla_breached"`
	Context         map[string]interface{} `json:"context"`
	Metadata        map[string]interface{} `json:"metadata"`
	CreatedAt       time.Time              `json:"created_at"`
	UpdatedAt       time.Time              `json:"updated_at"`
}

// Consent types.
const (
	ConsentDataProcessing = "data_processing"
	ConsentAnalytics      = "analytics"
	ConsentMarketing      = "marketing"
)

// Consent is one grant/revoke record. Rows are never mutated after
// revocation except to set revoked_at.
type Consent struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	TenantID    string     `json:"tenant_id"`
	ConsentType string     `json:"consent_type"`
	Granted     bool       `json:"granted"`
	GrantedAt   time.Time  `json:"granted_at"`
	RevokedAt   *time.Time `json:"revoked_at,omitempty"`
	Version     string     `json:"version"`
	IPAddress   *string    `json:"ip_address,omitempty"`
	UserAgent   *string    `json:"user_agent,omitempty"`
}

// ConsentPolicy is a versioned policy document; at most one row per
// (tenant, type) has EffectiveTo unset.
type ConsentPolicy struct {
	ID            string     `json:"id"`
	TenantID      string     `json:"tenant_id"`
	ConsentType   string     `json:"consent_type"`
	Version       string     `json:"version"`
	Content       string     `json:"content"`
	EffectiveFrom time.Time  `json:"effective_from"`
	EffectiveTo   *time.Time `json:"effective_to,omitempty"`
}

// AuditDecision is one signed link in the global decision chain.
type AuditDecision struct {
	ID            string                 `json:"id"`
	IntentID      string                 `json:"intent_id"`
	EntityID      string                 `json:"entity_id"`
	Decision      string                 `json:"decision"`
	Inputs        map[string]interface{} `json:"inputs"`
	Outputs       map[string]interface{} `json:"outputs"`
	ChainPosition int64                  `json:"chain_position"`
	PreviousHash  string                 `json:"previous_hash"`
	Hash          string                 `json:"hash"`
	Signature     string                 `json:"signature"`
	PublicKey     string                 `json:"public_key"`
	Algorithm     string                 `json:"algorithm"`
	CreatedAt     time.Time              `json:"created_at"`
}
