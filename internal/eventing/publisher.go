package eventing

import (
	"context"
	"errors"
)

// OutboxWriter inserts outbox records.
type OutboxWriter interface {
	Insert(ctx context.Context, env Envelope) (string, error)
}

// Publisher writes events to the outbox and triggers dispatch.
type Publisher struct {
	outbox   OutboxWriter
	dispatch *Dispatcher
	tenantID string
}

// NewPublisher constructs a publisher. dispatch may be nil when a
// background loop drains the outbox; it should be nil when Publish runs
// inside a transaction, since the record is invisible until commit.
func NewPublisher(outbox OutboxWriter, dispatch *Dispatcher, tenantID string) (*Publisher, error) {
	if outbox == nil {
		return nil, errors.New("eventing: nil outbox")
	}
	return &Publisher{outbox: outbox, dispatch: dispatch, tenantID: tenantID}, nil
}

// Publish writes the event to the outbox. Delivery failures are left to
// the dispatcher and never fail the caller.
func (p *Publisher) Publish(ctx context.Context, event Event) error {
	if p == nil {
		return nil
	}
	env, err := BuildEnvelope(event, MetaFromContext(ctx, p.tenantID))
	if err != nil {
		return err
	}
	if _, err := p.outbox.Insert(ctx, env); err != nil {
		return err
	}
	if p.dispatch != nil {
		_ = p.dispatch.Dispatch(ctx, 1)
	}
	return nil
}
