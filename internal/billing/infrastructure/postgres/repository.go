package postgres

import (
	"context"
	"database/sql"
	"errors"
)

// DBTX is the subset of *sql.DB and *sql.Tx the repositories use.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var (
	errNilDB       = errors.New("billing repo: nil db")
	errEmptyTenant = errors.New("billing repo: empty tenant id")
)

type options struct {
	tenantID string
	currency string
	table    string
}

// RepositoryOption configures a repository.
type RepositoryOption func(*options)

// WithTenantID scopes every query to a tenant.
func WithTenantID(tenantID string) RepositoryOption {
	return func(o *options) {
		if tenantID != "" {
			o.tenantID = tenantID
		}
	}
}

// WithCurrency sets the currency code written with charge records.
func WithCurrency(currency string) RepositoryOption {
	return func(o *options) {
		if currency != "" {
			o.currency = currency
		}
	}
}

// WithTable overrides the charge record table.
func WithTable(table string) RepositoryOption {
	return func(o *options) {
		if table != "" {
			o.table = table
		}
	}
}

func buildOptions(opts []RepositoryOption) options {
	o := options{currency: "VND", table: defaultChargeTable}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// unitFilter returns nil for "all units" so `$n::text[] IS NULL` matches.
func unitFilter(unitIDs []string) any {
	if len(unitIDs) == 0 {
		return nil
	}
	return unitIDs
}
