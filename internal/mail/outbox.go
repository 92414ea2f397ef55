package mail

import (
	"context"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/cadencehq/cadence/internal/ids"
	"github.com/cadencehq/cadence/internal/obs"
)

const (
	defaultPollInterval = 15 * time.Second
	defaultBatchSize    = 50
	maxAttempts         = 8
)

// Store persists outbox rows. Implemented by internal/store/pg.
type Store interface {
	Enqueue(ctx context.Context, msg *Message) error
	Due(ctx context.Context, limit, maxAttempts int) ([]Message, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, lastErr string) error
}

// Outbox enqueues messages durably and dispatches them in the background.
type Outbox struct {
	store   Store
	sender  Sender
	limiter *rate.Limiter
	poll    time.Duration
	batch   int
	now     func() time.Time
}

// OutboxOption configures Outbox behavior.
type OutboxOption func(*Outbox)

// WithPollInterval overrides the dispatch poll interval.
func WithPollInterval(d time.Duration) OutboxOption {
	return func(o *Outbox) {
		if d > 0 {
			o.poll = d
		}
	}
}

// WithSendRate caps outbound deliveries per second.
func WithSendRate(perSecond float64, burst int) OutboxOption {
	return func(o *Outbox) {
		if perSecond > 0 && burst > 0 {
			o.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		}
	}
}

// WithClock overrides the time source for tests.
func WithClock(fn func() time.Time) OutboxOption {
	return func(o *Outbox) {
		if fn != nil {
			o.now = fn
		}
	}
}

// NewOutbox constructs an outbox over the given store and sender.
func NewOutbox(store Store, sender Sender, opts ...OutboxOption) *Outbox {
	o := &Outbox{
		store:   store,
		sender:  sender,
		limiter: rate.NewLimiter(rate.Limit(5), 10),
		poll:    defaultPollInterval,
		batch:   defaultBatchSize,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Enqueue persists the message for dispatch. It is called from within request
// handlers after the owning database transaction has committed; failure here
// is logged by the caller but never rolls back committed state.
func (o *Outbox) Enqueue(ctx context.Context, msg Message) error {
	if msg.ID == "" {
		msg.ID = ids.New()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = o.now().UTC()
	}
	msg.To = strings.TrimSpace(msg.To)
	return o.store.Enqueue(ctx, &msg)
}

// Run dispatches due messages until ctx is cancelled.
func (o *Outbox) Run(ctx context.Context) {
	ticker := time.NewTicker(o.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.DispatchDue(ctx)
		}
	}
}

// DispatchDue sends one batch of pending messages. Exposed for tests.
func (o *Outbox) DispatchDue(ctx context.Context) {
	due, err := o.store.Due(ctx, o.batch, maxAttempts)
	if err != nil {
		obs.Error("mail.outbox.load_failed", err, nil)
		return
	}
	for _, msg := range due {
		if err := o.limiter.Wait(ctx); err != nil {
			return
		}
		if err := o.sender.Send(ctx, msg); err != nil {
			obs.Error("mail.outbox.send_failed", err, map[string]any{"message_id": msg.ID, "kind": msg.Kind})
			obs.MailOutboxSentTotal.WithLabelValues("failure").Inc()
			if markErr := o.store.MarkFailed(ctx, msg.ID, err.Error()); markErr != nil {
				obs.Error("mail.outbox.mark_failed", markErr, map[string]any{"message_id": msg.ID})
			}
			continue
		}
		obs.MailOutboxSentTotal.WithLabelValues("success").Inc()
		if err := o.store.MarkSent(ctx, msg.ID); err != nil {
			// The message may be re-sent on the next pass; at-least-once
			// delivery tolerates that.
			obs.Error("mail.outbox.mark_sent", err, map[string]any{"message_id": msg.ID})
		}
	}
}
