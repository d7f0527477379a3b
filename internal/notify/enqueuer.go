package notify

import (
	"context"

	"github.com/kayra-commerce/payments-api/internal/events"
	"github.com/kayra-commerce/payments-api/internal/queue"
)

// Enqueuer turns settlement events into queued confirmation jobs. It
// implements events.Notifier so the bus can fan events into it. The order ID
// doubles as the idempotency key: for one order at most one confirmation job
// is live at a time.
type Enqueuer struct {
	Queue       queue.Enqueuer
	Enabled     bool
	MaxAttempts int
}

// Notify enqueues a confirmation job for completed payments. Other topics
// are ignored.
func (e Enqueuer) Notify(ctx context.Context, event events.Event) error {
	if !e.Enabled {
		return nil
	}
	if event.Topic != events.TopicPaymentCompleted {
		return nil
	}
	return e.Queue.Enqueue(ctx, queue.Job{
		Kind:           KindOrderConfirmation,
		Payload:        event.Payload,
		IdempotencyKey: event.OrderID,
		MaxAttempts:    e.MaxAttempts,
	})
}
