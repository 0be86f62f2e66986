package application

import (
	"context"
	"errors"
	"strings"

	billing "estate-billing/internal/billing/domain"
)

// ChargeQueryService reads stored charge records.
type ChargeQueryService struct {
	store ChargeStore
}

// NewChargeQueryService constructs the service.
func NewChargeQueryService(store ChargeStore) (*ChargeQueryService, error) {
	if store == nil {
		return nil, errors.New("charge query service: nil charge store")
	}
	return &ChargeQueryService{store: store}, nil
}

// List returns the stored records of a period ordered by unit id.
func (s *ChargeQueryService) List(ctx context.Context, period string) ([]billing.ChargeRecord, error) {
	parsed, err := billing.ParsePeriod(strings.TrimSpace(period))
	if err != nil {
		return nil, err
	}
	return s.store.ListByPeriod(ctx, parsed)
}

// Get returns one stored record by its {period}_{unitId} key.
func (s *ChargeQueryService) Get(ctx context.Context, key string) (*billing.ChargeRecord, error) {
	if _, _, err := billing.ParseRecordKey(key); err != nil {
		return nil, err
	}
	record, err := s.store.GetByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, ErrChargeNotFound
	}
	return record, nil
}
