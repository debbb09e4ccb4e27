package usecase

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/atvirokodosprendimai/tokengate/internal/core/domain"
	"github.com/atvirokodosprendimai/tokengate/internal/core/ports"
)

const (
	defaultLookupAttempts = 3
	defaultLookupBackoff  = 50 * time.Millisecond
	defaultOpTimeout      = 2 * time.Second
)

type GatewayConfig struct {
	Policy         LimitPolicy
	LookupAttempts int
	LookupBackoff  time.Duration
	OpTimeout      time.Duration
}

// GatewayService runs the validation pipeline: digest, store lookup, tenant
// isolation, lifecycle evaluation, rate limiting, risk scoring, result
// assembly. Any stage may short-circuit to a denial; nothing after a
// denial executes, and a request denied before the rate limiter never
// consumes quota.
type GatewayService struct {
	store   ports.TokenStore
	counter ports.RateCounter
	trail   ports.DecisionTrailRepository
	alerts  ports.AlertOutboxRepository

	policy         LimitPolicy
	lookupAttempts int
	lookupBackoff  time.Duration
	opTimeout      time.Duration
	now            func() time.Time
}

// NewGatewayService wires the pipeline. trail and alerts may be nil; the
// store and counter are required.
func NewGatewayService(store ports.TokenStore, counter ports.RateCounter, trail ports.DecisionTrailRepository, alerts ports.AlertOutboxRepository, cfg GatewayConfig) *GatewayService {
	if cfg.LookupAttempts <= 0 {
		cfg.LookupAttempts = defaultLookupAttempts
	}
	if cfg.LookupBackoff <= 0 {
		cfg.LookupBackoff = defaultLookupBackoff
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = defaultOpTimeout
	}
	if cfg.Policy.Window <= 0 {
		cfg.Policy = DefaultLimitPolicy()
	}
	return &GatewayService{
		store:          store,
		counter:        counter,
		trail:          trail,
		alerts:         alerts,
		policy:         cfg.Policy,
		lookupAttempts: cfg.LookupAttempts,
		lookupBackoff:  cfg.LookupBackoff,
		opTimeout:      cfg.OpTimeout,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// Validate authenticates a presented bearer credential against the declared
// tenant and requested scopes. All outcomes, including infrastructure
// failures, are returned as a structured result; the gateway fails closed
// and never panics a denial up the stack.
func (s *GatewayService) Validate(ctx context.Context, presentedToken, declaredTenant string, requestedScopes []string) domain.ValidationResult {
	now := s.now()

	if presentedToken == "" {
		return s.finish(ctx, domain.Token{}, declaredTenant, now, deny(domain.DenialTokenNotFound, "unknown token"))
	}

	token, err := s.lookup(ctx, HashToken(presentedToken))
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrTokenNotFound):
			return s.finish(ctx, domain.Token{}, declaredTenant, now, deny(domain.DenialTokenNotFound, "unknown token"))
		case errors.Is(err, domain.ErrStoreInconsistency):
			log.Printf("SECURITY: credential store inconsistency: %v", err)
			s.emitAlert(ctx, domain.EventStoreInconsistency, "", "", "multiple active records matched one credential digest")
			return s.finish(ctx, domain.Token{}, declaredTenant, now, deny(domain.DenialStoreInconsistency, "credential store inconsistency"))
		default:
			return s.finish(ctx, domain.Token{}, declaredTenant, now, deny(domain.DenialStoreUnavailable, "credential store unavailable"))
		}
	}

	// Tenant isolation first: byte-exact equality, not maskable by any other
	// field. Checking it before lifecycle keeps a cross-tenant caller from
	// learning whether someone else's token is expired or revoked.
	if declaredTenant != token.OwnerTenantID {
		return s.finish(ctx, token, declaredTenant, now, deny(domain.DenialTenantMismatch, "tenant mismatch"))
	}

	// Lifecycle checks in fixed order: revocation strictly before expiry, so
	// a revoked-but-unexpired token (or one that is both) always reports
	// revoked. Scope comes last.
	if token.Revoked {
		return s.finish(ctx, token, declaredTenant, now, deny(domain.DenialTokenRevoked, "token revoked"))
	}
	if token.IsExpired(now) {
		return s.finish(ctx, token, declaredTenant, now, deny(domain.DenialTokenExpired, "token expired"))
	}
	if !token.HasScopes(requestedScopes) {
		return s.finish(ctx, token, declaredTenant, now, deny(domain.DenialScopeInsufficient, "insufficient scope"))
	}

	decision, err := s.admit(ctx, token.ID, s.policy.LimitFor(token.Type), now)
	if err != nil {
		return s.finish(ctx, token, declaredTenant, now, deny(domain.DenialStoreUnavailable, "rate limit store unavailable"))
	}
	if !decision.Admitted {
		s.emitAlert(ctx, domain.EventRateLimitBreach, token.OwnerTenantID, token.ID, "fixed window limit exhausted")
		result := deny(domain.DenialRateLimitExceeded, "rate limit exceeded")
		// Identity was established before throttling, so the caller can log
		// who was turned away.
		result.UserID = token.ID
		result.TenantID = token.OwnerTenantID
		result.RateLimitResetAt = decision.ResetAt
		return s.finish(ctx, token, declaredTenant, now, result)
	}

	return s.finish(ctx, token, declaredTenant, now, domain.ValidationResult{
		Valid:              true,
		UserID:             token.ID,
		TenantID:           token.OwnerTenantID,
		AccessLevel:        token.AccessLevel(),
		SecurityLevel:      token.SecurityLevel(),
		RiskScore:          RiskScore(token, now),
		Scopes:             token.Scopes,
		RateLimitRemaining: decision.Remaining,
		RateLimitResetAt:   decision.ResetAt,
		Message:            "token validated",
	})
}

func deny(reason domain.DenialReason, message string) domain.ValidationResult {
	return domain.ValidationResult{Valid: false, DenialReason: reason, Message: message}
}

// lookup retries transient store failures with linear backoff. No other
// pipeline stage retries. Context cancellation ends the loop early and the
// gateway fails closed.
func (s *GatewayService) lookup(ctx context.Context, hash string) (domain.Token, error) {
	var lastErr error
	for attempt := 1; attempt <= s.lookupAttempts; attempt++ {
		opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
		token, err := s.store.FindActiveByHash(opCtx, hash)
		cancel()
		if err == nil {
			return token, nil
		}
		if !errors.Is(err, domain.ErrStoreUnavailable) {
			return domain.Token{}, err
		}
		lastErr = err
		if attempt == s.lookupAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return domain.Token{}, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, ctx.Err())
		case <-time.After(s.lookupBackoff * time.Duration(attempt)):
		}
	}
	return domain.Token{}, lastErr
}

func (s *GatewayService) admit(ctx context.Context, tokenID string, limit int, now time.Time) (domain.RateDecision, error) {
	opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	return s.counter.Admit(opCtx, tokenID, limit, s.policy.Window, now)
}

// finish records the decision in the audit trail and returns the result
// unchanged. Trail failures are logged, never surfaced to the caller.
func (s *GatewayService) finish(ctx context.Context, token domain.Token, declaredTenant string, now time.Time, result domain.ValidationResult) domain.ValidationResult {
	if s.trail == nil {
		return result
	}
	opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opTimeout)
	defer cancel()
	err := s.trail.Record(opCtx, domain.DecisionRecord{
		DecisionID:     uuid.NewString(),
		TenantID:       token.OwnerTenantID,
		DeclaredTenant: declaredTenant,
		TokenID:        token.ID,
		Valid:          result.Valid,
		Reason:         result.DenialReason,
		RiskScore:      result.RiskScore,
		At:             now,
	})
	if err != nil {
		log.Printf("record validation decision: %v", err)
	}
	return result
}

func (s *GatewayService) emitAlert(ctx context.Context, eventType, tenantID, tokenID, detail string) {
	if s.alerts == nil {
		return
	}
	opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opTimeout)
	defer cancel()
	err := s.alerts.Enqueue(opCtx, "security.alerts", domain.SecurityEvent{
		EventID:    uuid.NewString(),
		EventType:  eventType,
		TenantID:   tenantID,
		TokenID:    tokenID,
		Detail:     detail,
		OccurredAt: s.now(),
	})
	if err != nil {
		log.Printf("enqueue security alert %s: %v", eventType, err)
	}
}
