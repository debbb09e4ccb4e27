package domain

import (
	"encoding/json"
	"time"
)

const (
	EventStoreInconsistency = "store_inconsistency"
	EventRateLimitBreach    = "rate_limit_breach"
)

// SecurityEvent is the envelope delivered to alert receivers. Store
// inconsistencies and rate-limit breaches are pushed through the alert
// outbox so they surface even when nobody is watching the logs.
type SecurityEvent struct {
	EventID    string    `json:"event_id"`
	EventType  string    `json:"event_type"`
	TenantID   string    `json:"tenant_id,omitempty"`
	TokenID    string    `json:"token_id,omitempty"`
	Detail     string    `json:"detail"`
	OccurredAt time.Time `json:"occurred_at"`
}

// AlertOutboxEvent is a SecurityEvent queued for asynchronous delivery.
type AlertOutboxEvent struct {
	ID            int64
	EventID       string
	TenantID      string
	Topic         string
	PayloadJSON   json.RawMessage
	Status        string
	Attempts      int
	NextAttemptAt time.Time
	LastError     string
	CreatedAt     time.Time
	DispatchedAt  *time.Time
}

// DecisionRecord is one entry in the validation decision trail. Every
// gateway outcome, allowed or denied, is recorded for audit.
type DecisionRecord struct {
	ID             int64        `json:"id"`
	DecisionID     string       `json:"decision_id"`
	TenantID       string       `json:"tenant_id"`
	DeclaredTenant string       `json:"declared_tenant"`
	TokenID        string       `json:"token_id"`
	Valid          bool         `json:"valid"`
	Reason         DenialReason `json:"reason,omitempty"`
	RiskScore      float64      `json:"risk_score"`
	At             time.Time    `json:"at"`
}

type DecisionFilter struct {
	TenantID string
	TokenID  string
	Reason   DenialReason
	AfterID  int64
	Limit    int
}
