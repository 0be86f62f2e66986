package eventing

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

// Handler consumes one envelope.
type Handler func(ctx context.Context, env Envelope) error

// OutboxStore provides access to outbox records.
type OutboxStore interface {
	ListPending(ctx context.Context, limit int) ([]OutboxRecord, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// DLQStore records failures.
type DLQStore interface {
	RecordFailure(ctx context.Context, env Envelope, consumer string, err error) error
}

// OutboxRecord represents a pending outbox entry.
type OutboxRecord struct {
	ID       string
	Envelope Envelope
}

type subscription struct {
	consumer string
	handler  Handler
}

// Dispatcher delivers pending outbox records to subscribed handlers.
type Dispatcher struct {
	outbox OutboxStore
	dlq    DLQStore
	logger *log.Logger

	mu   sync.RWMutex
	subs map[string][]subscription
	// serializes Dispatch so a record is never delivered twice concurrently
	runMu sync.Mutex
}

// NewDispatcher constructs a dispatcher. dlq and logger are optional.
func NewDispatcher(outbox OutboxStore, dlq DLQStore, logger *log.Logger) (*Dispatcher, error) {
	if outbox == nil {
		return nil, errors.New("eventing: nil outbox store")
	}
	return &Dispatcher{outbox: outbox, dlq: dlq, logger: logger, subs: make(map[string][]subscription)}, nil
}

// Subscribe registers a named consumer for an event type.
func (d *Dispatcher) Subscribe(eventType, consumer string, handler Handler) {
	if d == nil || handler == nil || eventType == "" {
		return
	}
	d.mu.Lock()
	d.subs[eventType] = append(d.subs[eventType], subscription{consumer: consumer, handler: handler})
	d.mu.Unlock()
}

// Dispatch pulls up to limit pending records and delivers them. A record
// with no subscribers is marked sent.
func (d *Dispatcher) Dispatch(ctx context.Context, limit int) error {
	if d == nil {
		return nil
	}
	if limit <= 0 {
		limit = 50
	}
	d.runMu.Lock()
	defer d.runMu.Unlock()

	records, err := d.outbox.ListPending(ctx, limit)
	if err != nil {
		return err
	}
	for _, record := range records {
		if err := d.deliver(ctx, record.Envelope); err != nil {
			d.logf("event=outbox_delivery_failed outbox_id=%s event_type=%s err=%q", record.ID, record.Envelope.EventType, err.Error())
			if markErr := d.outbox.MarkFailed(ctx, record.ID); markErr != nil {
				return markErr
			}
			continue
		}
		if err := d.outbox.MarkSent(ctx, record.ID); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dispatcher) deliver(ctx context.Context, env Envelope) error {
	d.mu.RLock()
	subs := append([]subscription(nil), d.subs[env.EventType]...)
	d.mu.RUnlock()

	ctx = WithEnvelope(ctx, env)
	var errs []error
	for _, sub := range subs {
		if err := sub.handler(ctx, env); err != nil {
			if d.dlq != nil {
				if dlqErr := d.dlq.RecordFailure(ctx, env, sub.consumer, err); dlqErr != nil {
					d.logf("event=dlq_record_failed event_id=%s err=%q", env.EventID, dlqErr.Error())
				}
			}
			errs = append(errs, fmt.Errorf("%s: %w", sub.consumer, err))
		}
	}
	return errors.Join(errs...)
}

// Run drains the outbox every interval until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context, interval time.Duration) {
	if d == nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.Dispatch(ctx, 0); err != nil && ctx.Err() == nil {
				d.logf("event=outbox_dispatch_failed err=%q", err.Error())
			}
		}
	}
}

func (d *Dispatcher) logf(format string, args ...any) {
	if d.logger != nil {
		d.logger.Printf(format, args...)
	}
}
