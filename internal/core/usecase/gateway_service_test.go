package usecase

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/atvirokodosprendimai/tokengate/internal/adapters/memory"
	"github.com/atvirokodosprendimai/tokengate/internal/core/domain"
)

type stubTokenStore struct {
	findFn func(ctx context.Context, hash string) (domain.Token, error)
	calls  atomic.Int32
}

func (s *stubTokenStore) FindActiveByHash(ctx context.Context, hash string) (domain.Token, error) {
	s.calls.Add(1)
	if s.findFn != nil {
		return s.findFn(ctx, hash)
	}
	return domain.Token{}, domain.ErrTokenNotFound
}

func (s *stubTokenStore) Upsert(context.Context, domain.Token) error { return nil }

type stubCounter struct {
	admitFn func(ctx context.Context, tokenID string, limit int, window time.Duration, now time.Time) (domain.RateDecision, error)
	calls   atomic.Int32
}

func (s *stubCounter) Admit(ctx context.Context, tokenID string, limit int, window time.Duration, now time.Time) (domain.RateDecision, error) {
	s.calls.Add(1)
	if s.admitFn != nil {
		return s.admitFn(ctx, tokenID, limit, window, now)
	}
	return domain.RateDecision{Admitted: true, Remaining: limit - 1, ResetAt: now.Add(window)}, nil
}

type stubTrail struct {
	mu      sync.Mutex
	records []domain.DecisionRecord
}

func (s *stubTrail) Record(_ context.Context, rec domain.DecisionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

func (s *stubTrail) List(context.Context, domain.DecisionFilter) ([]domain.DecisionRecord, error) {
	return nil, nil
}

type stubAlerts struct {
	mu     sync.Mutex
	events []domain.SecurityEvent
}

func (s *stubAlerts) Enqueue(_ context.Context, _ string, event domain.SecurityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *stubAlerts) FetchPending(context.Context, int) ([]domain.AlertOutboxEvent, error) {
	return nil, nil
}
func (s *stubAlerts) MarkDispatched(context.Context, int64) error                  { return nil }
func (s *stubAlerts) MarkFailed(context.Context, int64, int, string, string) error { return nil }
func (s *stubAlerts) MarkDead(context.Context, int64, int, string) error           { return nil }

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func fixtureToken() domain.Token {
	return domain.Token{
		ID:            "tok-1",
		OwnerTenantID: "tenant-a",
		Hash:          HashToken("raw-token-1"),
		Type:          domain.TypeAPIKey,
		Scopes:        []string{"read"},
		IssuedAt:      fixedNow.Add(-time.Hour),
		ExpiresAt:     fixedNow.Add(2 * time.Hour),
	}
}

func storeWith(tokens ...domain.Token) *stubTokenStore {
	return &stubTokenStore{findFn: func(_ context.Context, hash string) (domain.Token, error) {
		for _, token := range tokens {
			if token.Hash == hash {
				return token, nil
			}
		}
		return domain.Token{}, domain.ErrTokenNotFound
	}}
}

func newTestGateway(store *stubTokenStore, counter *stubCounter) (*GatewayService, *stubTrail, *stubAlerts) {
	trail := &stubTrail{}
	alerts := &stubAlerts{}
	svc := NewGatewayService(store, counter, trail, alerts, GatewayConfig{
		LookupBackoff: time.Millisecond,
	})
	svc.now = func() time.Time { return fixedNow }
	return svc, trail, alerts
}

func TestValidateHappyPath(t *testing.T) {
	svc, trail, _ := newTestGateway(storeWith(fixtureToken()), &stubCounter{})

	result := svc.Validate(context.Background(), "raw-token-1", "tenant-a", []string{"read"})
	if !result.Valid {
		t.Fatalf("expected valid, got denial %s (%s)", result.DenialReason, result.Message)
	}
	if result.UserID != "tok-1" || result.TenantID != "tenant-a" {
		t.Fatalf("unexpected identity: %s/%s", result.UserID, result.TenantID)
	}
	if result.AccessLevel != "standard" || result.SecurityLevel != "standard" {
		t.Fatalf("unexpected levels: %s/%s", result.AccessLevel, result.SecurityLevel)
	}
	if result.RiskScore < 0 || result.RiskScore > 1 {
		t.Fatalf("risk score out of bounds: %f", result.RiskScore)
	}
	if result.RateLimitResetAt.IsZero() {
		t.Fatal("expected a reset timestamp")
	}
	if len(trail.records) != 1 || !trail.records[0].Valid {
		t.Fatalf("expected one valid decision record, got %+v", trail.records)
	}
}

func TestValidateUnknownToken(t *testing.T) {
	counter := &stubCounter{}
	svc, _, _ := newTestGateway(storeWith(fixtureToken()), counter)

	result := svc.Validate(context.Background(), "no-such-token", "tenant-a", nil)
	if result.Valid || result.DenialReason != domain.DenialTokenNotFound {
		t.Fatalf("expected token_not_found, got %+v", result)
	}
	if result.UserID != "" || result.TenantID != "" {
		t.Fatal("pre-identity denial must not carry identifiers")
	}
	if counter.calls.Load() != 0 {
		t.Fatal("identity denial must not consume quota")
	}
}

func TestValidateEmptyTokenSkipsStore(t *testing.T) {
	store := storeWith(fixtureToken())
	svc, _, _ := newTestGateway(store, &stubCounter{})

	result := svc.Validate(context.Background(), "", "tenant-a", nil)
	if result.DenialReason != domain.DenialTokenNotFound {
		t.Fatalf("expected token_not_found, got %s", result.DenialReason)
	}
	if store.calls.Load() != 0 {
		t.Fatal("empty presentation must not hit the store")
	}
}

func TestValidateTenantMismatchNotMaskable(t *testing.T) {
	// A perfectly valid token, an expired one, and an under-scoped one must
	// all report tenant_mismatch when the declared tenant is wrong.
	valid := fixtureToken()
	expired := fixtureToken()
	expired.ExpiresAt = fixedNow.Add(-time.Minute)
	counter := &stubCounter{}

	for name, token := range map[string]domain.Token{"valid": valid, "expired": expired} {
		svc, _, _ := newTestGateway(storeWith(token), counter)
		result := svc.Validate(context.Background(), "raw-token-1", "tenant-b", []string{"read"})
		if result.Valid || result.DenialReason != domain.DenialTenantMismatch {
			t.Fatalf("%s: expected tenant_mismatch, got %+v", name, result)
		}
		if result.TenantID != "" || result.UserID != "" {
			t.Fatalf("%s: mismatch response must not echo the owning tenant", name)
		}
	}
	if counter.calls.Load() != 0 {
		t.Fatal("tenant mismatch must not consume quota")
	}
}

func TestValidateTenantCheckIsCaseSensitive(t *testing.T) {
	svc, _, _ := newTestGateway(storeWith(fixtureToken()), &stubCounter{})

	result := svc.Validate(context.Background(), "raw-token-1", "Tenant-A", []string{"read"})
	if result.DenialReason != domain.DenialTenantMismatch {
		t.Fatalf("expected tenant_mismatch for case difference, got %s", result.DenialReason)
	}
}

func TestValidateRevokedReportedBeforeExpired(t *testing.T) {
	token := fixtureToken()
	token.Revoked = true
	token.ExpiresAt = fixedNow.Add(-time.Hour) // both revoked and expired
	svc, _, _ := newTestGateway(storeWith(token), &stubCounter{})

	result := svc.Validate(context.Background(), "raw-token-1", "tenant-a", []string{"read"})
	if result.DenialReason != domain.DenialTokenRevoked {
		t.Fatalf("expected token_revoked, got %s", result.DenialReason)
	}
}

func TestValidateExpired(t *testing.T) {
	token := fixtureToken()
	token.ExpiresAt = fixedNow.Add(-time.Second)
	svc, _, _ := newTestGateway(storeWith(token), &stubCounter{})

	result := svc.Validate(context.Background(), "raw-token-1", "tenant-a", []string{"read"})
	if result.DenialReason != domain.DenialTokenExpired {
		t.Fatalf("expected token_expired, got %s", result.DenialReason)
	}
}

func TestValidateExpiryBoundaryIsExclusive(t *testing.T) {
	token := fixtureToken()
	token.ExpiresAt = fixedNow // expires_at <= now denies
	svc, _, _ := newTestGateway(storeWith(token), &stubCounter{})

	result := svc.Validate(context.Background(), "raw-token-1", "tenant-a", []string{"read"})
	if result.DenialReason != domain.DenialTokenExpired {
		t.Fatalf("expected token_expired at the boundary, got %s", result.DenialReason)
	}
}

func TestValidateScopeInsufficient(t *testing.T) {
	counter := &stubCounter{}
	svc, _, _ := newTestGateway(storeWith(fixtureToken()), counter)

	result := svc.Validate(context.Background(), "raw-token-1", "tenant-a", []string{"write"})
	if result.DenialReason != domain.DenialScopeInsufficient {
		t.Fatalf("expected scope_insufficient, got %s", result.DenialReason)
	}
	if counter.calls.Load() != 0 {
		t.Fatal("scope denial must not consume quota")
	}
}

func TestValidateScenario(t *testing.T) {
	svc, _, _ := newTestGateway(storeWith(fixtureToken()), &stubCounter{})

	cases := []struct {
		tenant string
		scopes []string
		reason domain.DenialReason
		valid  bool
	}{
		{"tenant-a", []string{"read"}, domain.DenialNone, true},
		{"tenant-b", []string{"read"}, domain.DenialTenantMismatch, false},
		{"tenant-a", []string{"write"}, domain.DenialScopeInsufficient, false},
	}
	for _, tc := range cases {
		result := svc.Validate(context.Background(), "raw-token-1", tc.tenant, tc.scopes)
		if result.Valid != tc.valid || result.DenialReason != tc.reason {
			t.Fatalf("validate(%s, %v): got valid=%t reason=%s", tc.tenant, tc.scopes, result.Valid, result.DenialReason)
		}
	}
}

func TestValidateStoreUnavailableRetriesThenSucceeds(t *testing.T) {
	token := fixtureToken()
	var attempts atomic.Int32
	store := &stubTokenStore{findFn: func(context.Context, string) (domain.Token, error) {
		if attempts.Add(1) < 3 {
			return domain.Token{}, domain.ErrStoreUnavailable
		}
		return token, nil
	}}
	svc, _, _ := newTestGateway(store, &stubCounter{})

	result := svc.Validate(context.Background(), "raw-token-1", "tenant-a", []string{"read"})
	if !result.Valid {
		t.Fatalf("expected success after retries, got %s", result.DenialReason)
	}
	if attempts.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts.Load())
	}
}

func TestValidateStoreUnavailableFailsClosed(t *testing.T) {
	store := &stubTokenStore{findFn: func(context.Context, string) (domain.Token, error) {
		return domain.Token{}, domain.ErrStoreUnavailable
	}}
	svc, _, _ := newTestGateway(store, &stubCounter{})

	result := svc.Validate(context.Background(), "raw-token-1", "tenant-a", []string{"read"})
	if result.Valid || result.DenialReason != domain.DenialStoreUnavailable {
		t.Fatalf("expected store_unavailable denial, got %+v", result)
	}
	if store.calls.Load() != 3 {
		t.Fatalf("expected bounded retry of 3 attempts, got %d", store.calls.Load())
	}
}

func TestValidateInconsistencyIsDistinctAndAlerts(t *testing.T) {
	store := &stubTokenStore{findFn: func(context.Context, string) (domain.Token, error) {
		return domain.Token{}, domain.ErrStoreInconsistency
	}}
	svc, _, alerts := newTestGateway(store, &stubCounter{})

	result := svc.Validate(context.Background(), "raw-token-1", "tenant-a", []string{"read"})
	if result.DenialReason != domain.DenialStoreInconsistency {
		t.Fatalf("expected store_inconsistency, got %s", result.DenialReason)
	}
	if store.calls.Load() != 1 {
		t.Fatalf("inconsistency must not be retried, got %d attempts", store.calls.Load())
	}
	if len(alerts.events) != 1 || alerts.events[0].EventType != domain.EventStoreInconsistency {
		t.Fatalf("expected one store_inconsistency alert, got %+v", alerts.events)
	}
}

func TestValidateRateLimitExceededKeepsIdentity(t *testing.T) {
	resetAt := fixedNow.Add(time.Minute)
	counter := &stubCounter{admitFn: func(context.Context, string, int, time.Duration, time.Time) (domain.RateDecision, error) {
		return domain.RateDecision{Admitted: false, Remaining: 0, ResetAt: resetAt}, nil
	}}
	svc, _, alerts := newTestGateway(storeWith(fixtureToken()), counter)

	result := svc.Validate(context.Background(), "raw-token-1", "tenant-a", []string{"read"})
	if result.Valid || result.DenialReason != domain.DenialRateLimitExceeded {
		t.Fatalf("expected rate_limit_exceeded, got %+v", result)
	}
	if result.UserID != "tok-1" || result.TenantID != "tenant-a" {
		t.Fatal("throttled result must name who was throttled")
	}
	if !result.RateLimitResetAt.Equal(resetAt) || result.RateLimitRemaining != 0 {
		t.Fatalf("unexpected rate limit fields: %+v", result)
	}
	if len(alerts.events) != 1 || alerts.events[0].EventType != domain.EventRateLimitBreach {
		t.Fatalf("expected a rate_limit_breach alert, got %+v", alerts.events)
	}
}

func TestValidateCounterFailureFailsClosed(t *testing.T) {
	counter := &stubCounter{admitFn: func(context.Context, string, int, time.Duration, time.Time) (domain.RateDecision, error) {
		return domain.RateDecision{}, domain.ErrStoreUnavailable
	}}
	svc, _, _ := newTestGateway(storeWith(fixtureToken()), counter)

	result := svc.Validate(context.Background(), "raw-token-1", "tenant-a", []string{"read"})
	if result.Valid || result.DenialReason != domain.DenialStoreUnavailable {
		t.Fatalf("counter failure must deny, got %+v", result)
	}
}

func TestValidateDenialIdempotent(t *testing.T) {
	token := fixtureToken()
	token.ExpiresAt = fixedNow.Add(-time.Hour)
	svc, _, _ := newTestGateway(storeWith(token), &stubCounter{})

	first := svc.Validate(context.Background(), "raw-token-1", "tenant-a", []string{"read"})
	second := svc.Validate(context.Background(), "raw-token-1", "tenant-a", []string{"read"})
	if first.DenialReason != second.DenialReason || first.Message != second.Message || first.Valid != second.Valid {
		t.Fatalf("denials differ: %+v vs %+v", first, second)
	}
}

func TestValidateConcurrentAdmissionsRespectLimit(t *testing.T) {
	const limit = 8
	token := fixtureToken()
	svc := NewGatewayService(storeWith(token), memory.NewCounter(), nil, nil, GatewayConfig{
		Policy: LimitPolicy{
			Window:       time.Minute,
			DefaultLimit: limit,
			Limits:       map[domain.TokenType]int{domain.TypeAPIKey: limit},
		},
	})
	svc.now = func() time.Time { return fixedNow }

	var wg sync.WaitGroup
	var admitted, throttled atomic.Int32
	for i := 0; i < 2*limit; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result := svc.Validate(context.Background(), "raw-token-1", "tenant-a", []string{"read"})
			switch {
			case result.Valid:
				admitted.Add(1)
			case result.DenialReason == domain.DenialRateLimitExceeded:
				throttled.Add(1)
			default:
				t.Errorf("unexpected denial: %s", result.DenialReason)
			}
		}()
	}
	wg.Wait()

	if admitted.Load() != limit {
		t.Fatalf("expected exactly %d admissions, got %d", limit, admitted.Load())
	}
	if throttled.Load() != limit {
		t.Fatalf("expected exactly %d throttles, got %d", limit, throttled.Load())
	}
}

func TestValidateRecordsDenialsInTrail(t *testing.T) {
	token := fixtureToken()
	token.Revoked = true
	svc, trail, _ := newTestGateway(storeWith(token), &stubCounter{})

	svc.Validate(context.Background(), "raw-token-1", "tenant-a", []string{"read"})
	if len(trail.records) != 1 {
		t.Fatalf("expected one record, got %d", len(trail.records))
	}
	rec := trail.records[0]
	if rec.Valid || rec.Reason != domain.DenialTokenRevoked || rec.TokenID != "tok-1" {
		t.Fatalf("unexpected trail record: %+v", rec)
	}
	if rec.DecisionID == "" {
		t.Fatal("decision id must be set")
	}
}
