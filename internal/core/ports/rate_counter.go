package ports

import (
	"context"
	"time"

	"github.com/atvirokodosprendimai/tokengate/internal/core/domain"
)

// RateCounter admits or denies one request against a token's fixed window.
//
// Implementations must make the window reset plus check-and-increment a single
// atomic step per token: two concurrent calls with one admission left must
// never both be admitted. A failed or cancelled call must not leave a partial
// increment behind.
type RateCounter interface {
	Admit(ctx context.Context, tokenID string, limit int, window time.Duration, now time.Time) (domain.RateDecision, error)
}
