package ports

import (
	"context"

	"github.com/atvirokodosprendimai/tokengate/internal/core/domain"
)

type AlertOutboxRepository interface {
	Enqueue(ctx context.Context, topic string, event domain.SecurityEvent) error
	FetchPending(ctx context.Context, limit int) ([]domain.AlertOutboxEvent, error)
	MarkDispatched(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, attempts int, nextAttemptAt string, errMsg string) error
	MarkDead(ctx context.Context, id int64, attempts int, errMsg string) error
}
