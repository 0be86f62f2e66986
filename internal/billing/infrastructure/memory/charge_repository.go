package memory

import (
	"context"
	"sort"
	"sync"

	billing "estate-billing/internal/billing/domain"
)

// ChargeRepository is an in-memory charge record store.
type ChargeRepository struct {
	mu   sync.RWMutex
	data map[string]billing.ChargeRecord
	runs map[string]string
}

// NewChargeRepository constructs a repository.
func NewChargeRepository() *ChargeRepository {
	return &ChargeRepository{
		data: make(map[string]billing.ChargeRecord),
		runs: make(map[string]string),
	}
}

// SaveAll upserts records by key (overwrites existing).
func (r *ChargeRepository) SaveAll(_ context.Context, runID string, records []billing.ChargeRecord) error {
	for _, record := range records {
		if record.UnitID == "" {
			return billing.ErrEmptyUnitID
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, record := range records {
		key := record.Key()
		r.data[key] = cloneRecord(record)
		r.runs[key] = runID
	}
	return nil
}

// ListByPeriod returns a period's records ordered by unit id.
func (r *ChargeRepository) ListByPeriod(_ context.Context, period billing.Period) ([]billing.ChargeRecord, error) {
	r.mu.RLock()
	var records []billing.ChargeRecord
	for _, record := range r.data {
		if record.Period == period {
			records = append(records, cloneRecord(record))
		}
	}
	r.mu.RUnlock()
	sort.Slice(records, func(i, j int) bool { return records[i].UnitID < records[j].UnitID })
	return records, nil
}

// GetByKey loads a record; nil when absent.
func (r *ChargeRepository) GetByKey(_ context.Context, key string) (*billing.ChargeRecord, error) {
	r.mu.RLock()
	record, ok := r.data[key]
	r.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	clone := cloneRecord(record)
	return &clone, nil
}

// RunID returns the run that last wrote key.
func (r *ChargeRepository) RunID(key string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.runs[key]
}

func cloneRecord(record billing.ChargeRecord) billing.ChargeRecord {
	record.MissingTariffs = append([]string(nil), record.MissingTariffs...)
	return record
}
