package ports

import (
	"context"

	"github.com/atvirokodosprendimai/tokengate/internal/core/domain"
)

type DecisionTrailRepository interface {
	Record(ctx context.Context, rec domain.DecisionRecord) error
	List(ctx context.Context, filter domain.DecisionFilter) ([]domain.DecisionRecord, error)
}
