package domain

import "time"

type DenialReason string

const (
	DenialNone               DenialReason = ""
	DenialTokenNotFound      DenialReason = "token_not_found"
	DenialTokenExpired       DenialReason = "token_expired"
	DenialTokenRevoked       DenialReason = "token_revoked"
	DenialScopeInsufficient  DenialReason = "scope_insufficient"
	DenialTenantMismatch     DenialReason = "tenant_mismatch"
	DenialRateLimitExceeded  DenialReason = "rate_limit_exceeded"
	DenialStoreUnavailable   DenialReason = "store_unavailable"
	DenialStoreInconsistency DenialReason = "store_inconsistency"
)

// Retryable reports whether the caller may usefully retry the same request.
func (r DenialReason) Retryable() bool {
	return r == DenialStoreUnavailable
}

// ValidationResult is the immutable outcome of one gateway validation.
// Identity fields are populated only once identity has been established:
// a rate-limited request still names who was throttled, while pre-identity
// denials carry no identifiers at all.
type ValidationResult struct {
	Valid              bool         `json:"valid"`
	UserID             string       `json:"user_id,omitempty"`
	TenantID           string       `json:"tenant_id,omitempty"`
	AccessLevel        string       `json:"access_level,omitempty"`
	SecurityLevel      string       `json:"security_level,omitempty"`
	RiskScore          float64      `json:"risk_score"`
	Scopes             []string     `json:"scopes,omitempty"`
	RateLimitRemaining int          `json:"rate_limit_remaining"`
	RateLimitResetAt   time.Time    `json:"rate_limit_reset_at,omitzero"`
	Message            string       `json:"message"`
	DenialReason       DenialReason `json:"denial_reason,omitempty"`
}
