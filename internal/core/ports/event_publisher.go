package ports

import (
	"context"

	"github.com/atvirokodosprendimai/tokengate/internal/core/domain"
)

type EventPublisher interface {
	Publish(ctx context.Context, topic string, event domain.SecurityEvent) error
}
