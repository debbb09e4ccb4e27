package ports

import (
	"context"

	"github.com/atvirokodosprendimai/tokengate/internal/core/domain"
)

// TokenStore resolves credential digests to active token records.
//
// FindActiveByHash must filter superseded records server-side so that at most
// one row can match. Zero rows is domain.ErrTokenNotFound; more than one is
// domain.ErrStoreInconsistency and must never be silently collapsed to one.
// Transient failures map to domain.ErrStoreUnavailable.
type TokenStore interface {
	FindActiveByHash(ctx context.Context, hash string) (domain.Token, error)
	Upsert(ctx context.Context, token domain.Token) error
}
