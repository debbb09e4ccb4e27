package events

import (
	"context"
	"log"

	"github.com/atvirokodosprendimai/tokengate/internal/core/domain"
)

type LogPublisher struct{}

func NewLogPublisher() *LogPublisher {
	return &LogPublisher{}
}

func (p *LogPublisher) Publish(_ context.Context, topic string, event domain.SecurityEvent) error {
	log.Printf("security alert topic=%s event_id=%s event_type=%s tenant=%s token=%s detail=%q", topic, event.EventID, event.EventType, event.TenantID, event.TokenID, event.Detail)
	return nil
}
