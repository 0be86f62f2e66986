package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"estate-billing/internal/eventing"
	"estate-billing/internal/pgtx"
)

const (
	defaultOutboxTable = "event_outbox"
	defaultDLQTable    = "dead_letter_events"
)

var errNilDB = errors.New("outbox store: nil db")

var (
	_ eventing.OutboxWriter = (*OutboxStore)(nil)
	_ eventing.OutboxStore  = (*OutboxStore)(nil)
	_ eventing.DLQStore     = (*OutboxStore)(nil)
)

// OutboxStore keeps outbox and dead letter records in Postgres.
type OutboxStore struct {
	db       *sql.DB
	table    string
	dlqTable string
}

// OutboxOption configures the outbox store.
type OutboxOption func(*OutboxStore)

// WithOutboxTable overrides the outbox table name.
func WithOutboxTable(table string) OutboxOption {
	return func(store *OutboxStore) {
		if table != "" {
			store.table = table
		}
	}
}

// WithDLQTable overrides the dead letter table name.
func WithDLQTable(table string) OutboxOption {
	return func(store *OutboxStore) {
		if table != "" {
			store.dlqTable = table
		}
	}
}

// NewOutboxStore constructs an outbox store.
func NewOutboxStore(db *sql.DB, opts ...OutboxOption) (*OutboxStore, error) {
	if db == nil {
		return nil, errNilDB
	}
	store := &OutboxStore{db: db, table: defaultOutboxTable, dlqTable: defaultDLQTable}
	for _, opt := range opts {
		opt(store)
	}
	return store, nil
}

// Insert writes an envelope to the outbox. A repeated event id is a no-op.
// The insert joins a transaction carried by ctx, so it commits together with
// the writes that produced the event.
func (s *OutboxStore) Insert(ctx context.Context, env eventing.Envelope) (string, error) {
	payload, err := json.Marshal(env)
	if err != nil {
		return "", err
	}
	outboxID := eventing.NewEventID()
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	event_id,
	event_type,
	tenant_id,
	period,
	payload,
	status,
	attempts
) VALUES (
	$1, $2, $3, $4, $5, $6, 'pending', 0
)
ON CONFLICT (event_id)
DO NOTHING`, s.table)

	if _, err := pgtx.Executor(ctx, s.db).ExecContext(ctx, query, outboxID, env.EventID, env.EventType, env.TenantID, env.Period, payload); err != nil {
		return "", err
	}
	return outboxID, nil
}

// ListPending returns pending outbox records, oldest first.
func (s *OutboxStore) ListPending(ctx context.Context, limit int) ([]eventing.OutboxRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`
SELECT id, payload
FROM %s
WHERE status = 'pending'
ORDER BY created_at ASC
LIMIT $1`, s.table)

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []eventing.OutboxRecord
	for rows.Next() {
		var id string
		var payload []byte
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, err
		}
		var env eventing.Envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			return nil, err
		}
		result = append(result, eventing.OutboxRecord{ID: id, Envelope: env})
	}
	return result, rows.Err()
}

// MarkSent marks an outbox record as sent.
func (s *OutboxStore) MarkSent(ctx context.Context, id string) error {
	query := fmt.Sprintf(`
UPDATE %s
SET status = 'sent', sent_at = $1
WHERE id = $2`, s.table)
	_, err := s.db.ExecContext(ctx, query, time.Now().UTC(), id)
	return err
}

// MarkFailed marks an outbox record as failed and increments attempts.
func (s *OutboxStore) MarkFailed(ctx context.Context, id string) error {
	query := fmt.Sprintf(`
UPDATE %s
SET status = 'failed', attempts = attempts + 1
WHERE id = $1`, s.table)
	_, err := s.db.ExecContext(ctx, query, id)
	return err
}

// RecordFailure stores a failed delivery for one consumer.
func (s *OutboxStore) RecordFailure(ctx context.Context, env eventing.Envelope, consumer string, cause error) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	query := fmt.Sprintf(`
INSERT INTO %s (event_id, consumer, event_type, payload, error, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`, s.dlqTable)
	_, err = s.db.ExecContext(ctx, query, env.EventID, consumer, env.EventType, payload, msg, time.Now().UTC())
	return err
}
