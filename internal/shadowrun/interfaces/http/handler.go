package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"estate-billing/internal/audit"
	"estate-billing/internal/auth"
	billing "estate-billing/internal/billing/domain"
	shadowapp "estate-billing/internal/shadowrun/application"
)

const reportsPrefix = "/api/v1/shadowrun/reports/"

// Handler provides shadowrun APIs.
type Handler struct {
	runner      *shadowapp.Runner
	store       shadowapp.Store
	guard       *auth.TenantGuard
	auditLogger audit.Logger
	now         func() time.Time
}

// NewHandler constructs a handler.
func NewHandler(runner *shadowapp.Runner, store shadowapp.Store, guard *auth.TenantGuard, auditLogger audit.Logger) (*Handler, error) {
	if runner == nil || store == nil {
		return nil, errors.New("shadowrun handler: nil dependency")
	}
	return &Handler{
		runner:      runner,
		store:       store,
		guard:       guard,
		auditLogger: auditLogger,
		now:         func() time.Time { return time.Now().UTC() },
	}, nil
}

// ServeHTTP routes shadowrun endpoints.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := h.guard.Ensure(r.Context()); err != nil {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	switch {
	case r.URL.Path == "/api/v1/shadowrun/run" && r.Method == http.MethodPost:
		h.handleRun(w, r)
		return
	case r.URL.Path == "/api/v1/shadowrun/reports" && r.Method == http.MethodGet:
		h.handleReports(w, r)
		return
	case strings.HasPrefix(r.URL.Path, reportsPrefix) && r.Method == http.MethodGet:
		h.handleReportByID(w, r)
		return
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleRun(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Period     string                `json:"period"`
		Thresholds *shadowapp.Thresholds `json:"thresholds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	tenantID := h.tenantID(r)
	if tenantID == "" {
		http.Error(w, "tenant_id required", http.StatusBadRequest)
		return
	}
	period, err := billing.ParsePeriod(strings.TrimSpace(req.Period))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	report, err := h.runner.Run(r.Context(), tenantID, period, h.now(), req.Thresholds)
	if err != nil {
		if errors.Is(err, shadowapp.ErrJobRunning) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	resp := map[string]any{
		"period":             period.String(),
		"report_id":          report.ID,
		"status":             report.Status,
		"units_changed":      report.UnitsChanged,
		"total_diff_max":     report.TotalDiffMax,
		"recommended_action": report.RecommendedAction,
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
	if h.auditLogger != nil {
		entry := audit.FromRequest(r, audit.ActionShadowrunRun, "shadowrun_report", report.ID, period.String(), resp)
		entry.TenantID = tenantID
		_ = h.auditLogger.Log(r.Context(), entry)
	}
}

func (h *Handler) handleReports(w http.ResponseWriter, r *http.Request) {
	tenantID := h.tenantID(r)
	if tenantID == "" {
		http.Error(w, "tenant_id required", http.StatusBadRequest)
		return
	}
	period, err := billing.ParsePeriod(strings.TrimSpace(r.URL.Query().Get("period")))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	reports, err := h.store.ListReports(r.Context(), tenantID, period)
	if err != nil {
		http.Error(w, "query reports error", http.StatusInternalServerError)
		return
	}
	if reports == nil {
		reports = []shadowapp.Report{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(reports)
}

func (h *Handler) handleReportByID(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, reportsPrefix), "/")
	reportID := parts[0]
	if reportID == "" || len(parts) > 2 || (len(parts) == 2 && parts[1] != "download") {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	report, err := h.store.GetReport(r.Context(), reportID)
	if err != nil || report == nil {
		http.Error(w, "report not found", http.StatusNotFound)
		return
	}
	if tenantID := h.tenantID(r); tenantID != "" && report.TenantID != tenantID {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	if len(parts) == 2 {
		w.Header().Set("Content-Type", "application/zip")
		http.ServeFile(w, r, report.Location)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(report)
}

func (h *Handler) tenantID(r *http.Request) string {
	if tenantID := auth.TenantIDFromContext(r.Context()); tenantID != "" {
		return tenantID
	}
	return h.guard.TenantID()
}
