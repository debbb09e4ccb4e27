package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/atvirokodosprendimai/tokengate/internal/core/domain"
	"github.com/atvirokodosprendimai/tokengate/internal/core/usecase"
)

type ctxKey string

const (
	validationCtxKey ctxKey = "validation_result"
	tenantHeader            = "X-Tenant-ID"
	maxJSONBodySize         = 1 << 20
)

type Handler struct {
	gateway *usecase.GatewayService
	trail   *usecase.DecisionTrailService
}

func NewHandler(gateway *usecase.GatewayService, trail *usecase.DecisionTrailService) *Handler {
	return &Handler{gateway: gateway, trail: trail}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", h.healthz)
	r.Post("/v1/validate", h.validate)

	r.Group(func(pr chi.Router) {
		pr.Use(h.RequireToken())
		pr.Get("/v1/whoami", h.whoami)
	})

	r.Group(func(pr chi.Router) {
		pr.Use(h.RequireToken("audit"))
		pr.Get("/v1/audit/decisions", h.listDecisions)
	})

	return r
}

type validateRequest struct {
	Scopes []string `json:"scopes"`
}

// validate runs the full gateway pipeline and reports the result with the
// transport mapping: 401 for identity denials, 403 for tenant mismatch, 429
// for throttling, 503 for store failures.
func (h *Handler) validate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if r.Body != nil && r.ContentLength != 0 {
		r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodySize)
		decoder := json.NewDecoder(r.Body)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
		if err := ensureEOF(decoder); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
	}

	result := h.gateway.Validate(r.Context(), bearerToken(r), r.Header.Get(tenantHeader), req.Scopes)
	setRateLimitHeaders(w, result)
	writeJSON(w, statusFor(result), result)
}

// RequireToken is the middleware form of the gateway for callers that mount
// protected resources directly behind it.
func (h *Handler) RequireToken(scopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			result := h.gateway.Validate(r.Context(), bearerToken(r), r.Header.Get(tenantHeader), scopes)
			if !result.Valid {
				setRateLimitHeaders(w, result)
				writeError(w, statusFor(result), string(result.DenialReason))
				return
			}
			ctx := context.WithValue(r.Context(), validationCtxKey, result)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (h *Handler) whoami(w http.ResponseWriter, r *http.Request) {
	result := resultFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":        result.UserID,
		"tenant_id":      result.TenantID,
		"access_level":   result.AccessLevel,
		"security_level": result.SecurityLevel,
		"risk_score":     result.RiskScore,
		"scopes":         result.Scopes,
	})
}

// listDecisions exposes the decision trail, scoped to the caller's own
// resolved tenant. The declared tenant header is never trusted here either;
// the filter tenant comes from the validated result.
func (h *Handler) listDecisions(w http.ResponseWriter, r *http.Request) {
	result := resultFromContext(r.Context())

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit must be integer")
			return
		}
		limit = parsed
	}
	var afterID int64
	if raw := r.URL.Query().Get("after"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "after must be integer")
			return
		}
		afterID = parsed
	}

	records, err := h.trail.List(r.Context(), domain.DecisionFilter{
		TenantID: result.TenantID,
		TokenID:  r.URL.Query().Get("token_id"),
		Reason:   domain.DenialReason(r.URL.Query().Get("reason")),
		AfterID:  afterID,
		Limit:    limit,
	})
	if err != nil {
		handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"items": records})
}

func (h *Handler) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// bearerToken extracts the credential from the Authorization header. Only the
// scheme prefix is stripped; the token itself is passed through byte-exact.
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if len(auth) >= 7 && strings.EqualFold(auth[:7], "bearer ") {
		return auth[7:]
	}
	return ""
}

func statusFor(result domain.ValidationResult) int {
	if result.Valid {
		return http.StatusOK
	}
	switch result.DenialReason {
	case domain.DenialTenantMismatch:
		return http.StatusForbidden
	case domain.DenialRateLimitExceeded:
		return http.StatusTooManyRequests
	case domain.DenialStoreUnavailable, domain.DenialStoreInconsistency:
		return http.StatusServiceUnavailable
	default:
		return http.StatusUnauthorized
	}
}

func setRateLimitHeaders(w http.ResponseWriter, result domain.ValidationResult) {
	if result.RateLimitResetAt.IsZero() {
		return
	}
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.RateLimitRemaining))
	w.Header().Set("X-RateLimit-Reset", result.RateLimitResetAt.UTC().Format(time.RFC3339))
}

func resultFromContext(ctx context.Context) domain.ValidationResult {
	result, _ := ctx.Value(validationCtxKey).(domain.ValidationResult)
	return result
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	data, err := json.Marshal(body)
	if err != nil {
		log.Printf("encode json response: %v", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(append(data, '\n')); err != nil {
		log.Printf("write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}

func handleDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidTenantID), errors.Is(err, domain.ErrInvalidTokenID):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrStoreUnavailable):
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
	default:
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func ensureEOF(decoder *json.Decoder) error {
	var extra json.RawMessage
	if err := decoder.Decode(&extra); err != nil {
		if err == io.EOF {
			return nil
		}
		return err
	}
	return errors.New("extra json tokens")
}
