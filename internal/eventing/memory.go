package eventing

import (
	"context"
	"sync"
)

// Outbox record statuses.
const (
	StatusPending = "pending"
	StatusSent    = "sent"
	StatusFailed  = "failed"
)

// DeadLetter is a failed delivery.
type DeadLetter struct {
	Envelope Envelope
	Consumer string
	Error    string
}

// MemoryOutbox is an in-process outbox and dead letter store.
type MemoryOutbox struct {
	mu       sync.Mutex
	records  []memoryRecord
	failures []DeadLetter
}

type memoryRecord struct {
	id       string
	env      Envelope
	status   string
	attempts int
}

// NewMemoryOutbox constructs an empty outbox.
func NewMemoryOutbox() *MemoryOutbox {
	return &MemoryOutbox{}
}

// Insert appends a pending record. Duplicate event ids are ignored.
func (m *MemoryOutbox) Insert(_ context.Context, env Envelope) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if r.env.EventID == env.EventID {
			return r.id, nil
		}
	}
	id := NewEventID()
	m.records = append(m.records, memoryRecord{id: id, env: env, status: StatusPending})
	return id, nil
}

// ListPending returns pending records in insertion order.
func (m *MemoryOutbox) ListPending(_ context.Context, limit int) ([]OutboxRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []OutboxRecord
	for _, r := range m.records {
		if r.status != StatusPending {
			continue
		}
		out = append(out, OutboxRecord{ID: r.id, Envelope: r.env})
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// MarkSent marks a record as sent.
func (m *MemoryOutbox) MarkSent(_ context.Context, id string) error {
	m.setStatus(id, StatusSent)
	return nil
}

// MarkFailed marks a record as failed and increments attempts.
func (m *MemoryOutbox) MarkFailed(_ context.Context, id string) error {
	m.setStatus(id, StatusFailed)
	return nil
}

// RecordFailure stores a dead letter.
func (m *MemoryOutbox) RecordFailure(_ context.Context, env Envelope, consumer string, err error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	m.failures = append(m.failures, DeadLetter{Envelope: env, Consumer: consumer, Error: msg})
	return nil
}

// Statuses returns record statuses keyed by event id.
func (m *MemoryOutbox) Statuses() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.records))
	for _, r := range m.records {
		out[r.env.EventID] = r.status
	}
	return out
}

// DeadLetters returns recorded failures.
func (m *MemoryOutbox) DeadLetters() []DeadLetter {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]DeadLetter(nil), m.failures...)
}

func (m *MemoryOutbox) setStatus(id, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.records {
		if m.records[i].id == id {
			m.records[i].status = status
			if status == StatusFailed {
				m.records[i].attempts++
			}
			return
		}
	}
}
