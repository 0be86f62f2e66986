package interfaces

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"estate-billing/internal/audit"
	"estate-billing/internal/auth"
	"estate-billing/internal/billing/application"
	"estate-billing/internal/billing/export"
	billing "estate-billing/internal/billing/domain"
	"estate-billing/internal/observability/metrics"
)

const (
	chargesPath     = "/api/v1/charges"
	calculatePath   = "/api/v1/charges/calculate"
	invoiceSuffix   = "/invoice.pdf"
	exportXLSXPath  = "/api/v1/exports/charges.xlsx"
	exportCSVPath   = "/api/v1/exports/charges.csv"
	defaultCurrency = "VND"
)

// ChargeRunner runs a charge calculation.
type ChargeRunner interface {
	Run(ctx context.Context, req application.RunRequest) (*application.RunResult, error)
}

// ChargeReader reads stored charge records.
type ChargeReader interface {
	List(ctx context.Context, period string) ([]billing.ChargeRecord, error)
	Get(ctx context.Context, key string) (*billing.ChargeRecord, error)
}

// ChargeHandler handles charge APIs under /api/v1/charges and /api/v1/exports.
type ChargeHandler struct {
	runner      ChargeRunner
	reader      ChargeReader
	guard       *auth.TenantGuard
	auditLogger audit.Logger
	currency    string
}

// HandlerOption configures a ChargeHandler.
type HandlerOption func(*ChargeHandler)

// WithCurrency sets the currency label printed on exports.
func WithCurrency(currency string) HandlerOption {
	return func(h *ChargeHandler) {
		if currency = strings.TrimSpace(currency); currency != "" {
			h.currency = currency
		}
	}
}

// NewChargeHandler constructs a handler.
func NewChargeHandler(runner ChargeRunner, reader ChargeReader, guard *auth.TenantGuard, auditLogger audit.Logger, opts ...HandlerOption) (*ChargeHandler, error) {
	if runner == nil {
		return nil, errors.New("charge handler: nil runner")
	}
	if reader == nil {
		return nil, errors.New("charge handler: nil reader")
	}
	h := &ChargeHandler{
		runner:      runner,
		reader:      reader,
		guard:       guard,
		auditLogger: auditLogger,
		currency:    defaultCurrency,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// ServeHTTP dispatches charge and export routes.
func (h *ChargeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := h.guard.Ensure(r.Context()); err != nil {
		respondServiceError(w, err)
		return
	}
	path := r.URL.Path
	switch {
	case path == calculatePath && r.Method == http.MethodPost:
		h.handleCalculate(w, r)
		return
	case path == chargesPath && r.Method == http.MethodGet:
		h.handleList(w, r)
		return
	case path == exportXLSXPath && r.Method == http.MethodGet:
		h.handleExportXLSX(w, r)
		return
	case path == exportCSVPath && r.Method == http.MethodGet:
		h.handleExportCSV(w, r)
		return
	case strings.HasPrefix(path, chargesPath+"/") && r.Method == http.MethodGet:
		rest := strings.TrimPrefix(path, chargesPath+"/")
		if key, ok := strings.CutSuffix(rest, invoiceSuffix); ok {
			h.handleInvoice(w, r, key)
			return
		}
		if rest != "" && !strings.Contains(rest, "/") {
			h.handleGet(w, r, rest)
			return
		}
	}
	w.WriteHeader(http.StatusNotFound)
}

func (h *ChargeHandler) handleCalculate(w http.ResponseWriter, r *http.Request) {
	var req application.RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	result, err := h.runner.Run(r.Context(), req)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(result)
	h.logAudit(r, audit.ActionChargeCalculate, "charge_run", result.RunID, result.Period.String(), map[string]any{
		"dry_run":         result.DryRun,
		"records":         len(result.Records),
		"rejected":        len(result.Rejected),
		"missing_tariffs": result.MissingTariffs,
	})
}

func (h *ChargeHandler) handleList(w http.ResponseWriter, r *http.Request) {
	records, err := h.reader.List(r.Context(), r.URL.Query().Get("period"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if records == nil {
		records = []billing.ChargeRecord{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(records)
}

func (h *ChargeHandler) handleGet(w http.ResponseWriter, r *http.Request, key string) {
	record, err := h.reader.Get(r.Context(), key)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(record)
}

func (h *ChargeHandler) handleInvoice(w http.ResponseWriter, r *http.Request, key string) {
	start := time.Now()
	result := metrics.ResultSuccess
	defer func() {
		metrics.ObserveExport("pdf", result, time.Since(start))
	}()

	record, err := h.reader.Get(r.Context(), key)
	if err != nil {
		result = metrics.ResultError
		respondServiceError(w, err)
		return
	}
	data, err := export.InvoicePDF(*record, h.currency)
	if err != nil {
		result = metrics.ResultError
		http.Error(w, "export pdf error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="`+record.Key()+`.pdf"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
	h.logAudit(r, audit.ActionChargeInvoice, "charge_record", record.Key(), record.Period.String(), map[string]any{"format": "pdf"})
}

func (h *ChargeHandler) handleExportXLSX(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	result := metrics.ResultSuccess
	defer func() {
		metrics.ObserveExport("xlsx", result, time.Since(start))
	}()

	period, records, err := h.loadPeriod(r)
	if err != nil {
		result = metrics.ResultError
		respondServiceError(w, err)
		return
	}
	data, err := export.ChargesXLSX(period, records, h.currency)
	if err != nil {
		result = metrics.ResultError
		http.Error(w, "export xlsx error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="charges_`+period.String()+`.xlsx"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
	h.logAudit(r, audit.ActionChargeExport, "charge_period", period.String(), period.String(), map[string]any{
		"format":  "xlsx",
		"records": len(records),
	})
}

func (h *ChargeHandler) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	result := metrics.ResultSuccess
	defer func() {
		metrics.ObserveExport("csv", result, time.Since(start))
	}()

	period, records, err := h.loadPeriod(r)
	if err != nil {
		result = metrics.ResultError
		respondServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="charges_`+period.String()+`.csv"`)
	if err := export.WriteChargesCSV(w, records); err != nil {
		result = metrics.ResultError
		return
	}
	h.logAudit(r, audit.ActionChargeExport, "charge_period", period.String(), period.String(), map[string]any{
		"format":  "csv",
		"records": len(records),
	})
}

func (h *ChargeHandler) loadPeriod(r *http.Request) (billing.Period, []billing.ChargeRecord, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("period"))
	period, err := billing.ParsePeriod(raw)
	if err != nil {
		return billing.Period{}, nil, err
	}
	records, err := h.reader.List(r.Context(), raw)
	if err != nil {
		return billing.Period{}, nil, err
	}
	return period, records, nil
}

func (h *ChargeHandler) logAudit(r *http.Request, action, resourceType, resourceID, period string, meta map[string]any) {
	if h.auditLogger == nil {
		return
	}
	entry := audit.FromRequest(r, action, resourceType, resourceID, period, meta)
	if entry.TenantID == "" {
		entry.TenantID = h.guard.TenantID()
	}
	if entry.TenantID == "" {
		return
	}
	_ = h.auditLogger.Log(r.Context(), entry)
}

func respondServiceError(w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, auth.ErrTenantMismatch):
		http.Error(w, "forbidden", http.StatusForbidden)
	case errors.Is(err, application.ErrChargeNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, billing.ErrEmptyPeriod),
		errors.Is(err, billing.ErrInvalidPeriod),
		errors.Is(err, billing.ErrInvalidRecordKey):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, billing.ErrMissingTariff),
		errors.Is(err, billing.ErrInvalidUnitData),
		errors.Is(err, billing.ErrInvalidTariff):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, application.ErrRunCancelled):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
