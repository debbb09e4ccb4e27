package domain

import (
	"errors"
	"regexp"
	"time"
)

var (
	ErrInvalidTenantID = errors.New("invalid tenant id")
	ErrInvalidTokenID  = errors.New("invalid token id")
	ErrTokenNotFound   = errors.New("token not found")

	// ErrStoreUnavailable signals a transient store failure. Lookups retry it;
	// the gateway fails closed once retries are exhausted.
	ErrStoreUnavailable = errors.New("credential store unavailable")

	// ErrStoreInconsistency means more than one active record matched a digest.
	// This is a data-integrity bug upstream, never a plain invalid-token case.
	ErrStoreInconsistency = errors.New("credential store inconsistency")
)

var identifierPattern = regexp.MustCompile(`^[a-zA-Z0-9._:/-]+$`)

type TokenType string

const (
	TypeAPIKey     TokenType = "api_key"
	TypeProduction TokenType = "production"
	TypeSession    TokenType = "session"
)

func (t TokenType) Valid() bool {
	switch t {
	case TypeAPIKey, TypeProduction, TypeSession:
		return true
	}
	return false
}

// Token is a credential record as read from the store. The gateway never
// mutates it; lifecycle transitions belong to the issuance process.
type Token struct {
	ID               string
	OwnerTenantID    string
	Hash             string
	Type             TokenType
	Scopes           []string
	IssuedAt         time.Time
	ExpiresAt        time.Time
	Revoked          bool
	Superseded       bool
	PriorRevocations int
	CreatedAt        time.Time
}

func (t Token) IsExpired(now time.Time) bool {
	return !t.ExpiresAt.After(now)
}

// HasScopes reports whether every requested capability is granted.
// An empty request is trivially covered.
func (t Token) HasScopes(requested []string) bool {
	if len(requested) == 0 {
		return true
	}
	granted := make(map[string]struct{}, len(t.Scopes))
	for _, s := range t.Scopes {
		granted[s] = struct{}{}
	}
	for _, s := range requested {
		if _, ok := granted[s]; !ok {
			return false
		}
	}
	return true
}

// AccessLevel and SecurityLevel derive deterministically from the token type.
func (t Token) AccessLevel() string {
	switch t.Type {
	case TypeProduction:
		return "elevated"
	case TypeSession:
		return "limited"
	default:
		return "standard"
	}
}

func (t Token) SecurityLevel() string {
	switch t.Type {
	case TypeProduction:
		return "high"
	case TypeSession:
		return "low"
	default:
		return "standard"
	}
}

func ValidateTenantID(id string) error {
	if id == "" || !identifierPattern.MatchString(id) {
		return ErrInvalidTenantID
	}
	return nil
}

func ValidateTokenID(id string) error {
	if id == "" || !identifierPattern.MatchString(id) {
		return ErrInvalidTokenID
	}
	return nil
}
