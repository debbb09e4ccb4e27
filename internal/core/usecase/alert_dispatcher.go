package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/atvirokodosprendimai/tokengate/internal/core/domain"
	"github.com/atvirokodosprendimai/tokengate/internal/core/ports"
)

// AlertDispatcher drains the security alert outbox in the background and
// delivers events to the configured publisher. Failed deliveries retry with
// square backoff until maxRetry, then go to the dead-letter state.
type AlertDispatcher struct {
	repo      ports.AlertOutboxRepository
	publisher ports.EventPublisher
	interval  time.Duration
	batchSize int
	maxRetry  int

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup

	deliveredTotal atomic.Int64
	failedTotal    atomic.Int64
	deadTotal      atomic.Int64
}

type AlertDispatcherMetrics struct {
	DeliveredTotal int64
	FailedTotal    int64
	DeadTotal      int64
}

func NewAlertDispatcher(repo ports.AlertOutboxRepository, publisher ports.EventPublisher, interval time.Duration, batchSize int) *AlertDispatcher {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	return &AlertDispatcher{repo: repo, publisher: publisher, interval: interval, batchSize: batchSize, maxRetry: 5}
}

func (d *AlertDispatcher) Start(parent context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(parent)
	d.cancel = cancel
	d.wg.Add(1)
	go d.loop(ctx)
}

func (d *AlertDispatcher) Close() error {
	d.mu.Lock()
	cancel := d.cancel
	d.cancel = nil
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	d.wg.Wait()
	return nil
}

func (d *AlertDispatcher) loop(ctx context.Context) {
	defer d.wg.Done()
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		if err := d.dispatchBatch(ctx); err != nil {
			log.Printf("alert dispatch batch error: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (d *AlertDispatcher) dispatchBatch(ctx context.Context) error {
	events, err := d.repo.FetchPending(ctx, d.batchSize)
	if err != nil {
		return err
	}

	for _, event := range events {
		var alert domain.SecurityEvent
		if err := json.Unmarshal(event.PayloadJSON, &alert); err != nil {
			if markErr := d.markFailure(ctx, event, fmt.Sprintf("decode payload: %v", err)); markErr != nil {
				return markErr
			}
			d.failedTotal.Add(1)
			continue
		}

		if err := d.publisher.Publish(ctx, event.Topic, alert); err != nil {
			if markErr := d.markFailure(ctx, event, err.Error()); markErr != nil {
				return markErr
			}
			d.failedTotal.Add(1)
			continue
		}

		if err := d.repo.MarkDispatched(ctx, event.ID); err != nil {
			return err
		}
		d.deliveredTotal.Add(1)
	}

	return nil
}

func (d *AlertDispatcher) markFailure(ctx context.Context, event domain.AlertOutboxEvent, errMsg string) error {
	attempts := event.Attempts + 1
	if attempts >= d.maxRetry {
		if err := d.repo.MarkDead(ctx, event.ID, attempts, errMsg); err != nil {
			return err
		}
		d.deadTotal.Add(1)
		return nil
	}
	next := time.Now().UTC().Add(backoffDuration(attempts)).Format(time.RFC3339Nano)
	return d.repo.MarkFailed(ctx, event.ID, attempts, next, errMsg)
}

func (d *AlertDispatcher) Metrics() AlertDispatcherMetrics {
	return AlertDispatcherMetrics{
		DeliveredTotal: d.deliveredTotal.Load(),
		FailedTotal:    d.failedTotal.Load(),
		DeadTotal:      d.deadTotal.Load(),
	}
}

func backoffDuration(attempt int) time.Duration {
	if attempt <= 1 {
		return 1 * time.Second
	}
	d := time.Duration(attempt*attempt) * time.Second
	if d > 5*time.Minute {
		return 5 * time.Minute
	}
	return d
}
