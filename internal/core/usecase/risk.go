package usecase

import (
	"time"

	"github.com/atvirokodosprendimai/tokengate/internal/core/domain"
)

// Risk scoring weights. Session tokens start well above production tokens,
// and a token close to expiry climbs linearly toward baseline+lifetimeWeight.
const (
	riskLifetimeThreshold = time.Hour
	riskLifetimeWeight    = 0.4
	riskRevocationWeight  = 0.05
	riskRevocationCap     = 4
)

func riskBaseline(t domain.TokenType) float64 {
	switch t {
	case domain.TypeSession:
		return 0.45
	case domain.TypeProduction:
		return 0.10
	default:
		return 0.25
	}
}

// RiskScore derives a bounded risk estimate in [0,1] from deterministic
// signals only: token type, remaining lifetime, and prior revocations of the
// same business key. Pure function, no store access, no randomness.
func RiskScore(token domain.Token, now time.Time) float64 {
	score := riskBaseline(token.Type)

	remaining := token.ExpiresAt.Sub(now)
	if remaining < riskLifetimeThreshold {
		if remaining < 0 {
			remaining = 0
		}
		fraction := 1 - float64(remaining)/float64(riskLifetimeThreshold)
		score += riskLifetimeWeight * fraction
	}

	revocations := token.PriorRevocations
	if revocations > riskRevocationCap {
		revocations = riskRevocationCap
	}
	score += riskRevocationWeight * float64(revocations)

	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
