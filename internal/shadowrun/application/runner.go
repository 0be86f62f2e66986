package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"time"

	billingapp "estate-billing/internal/billing/application"
	billing "estate-billing/internal/billing/domain"
	shadowmetrics "estate-billing/internal/shadowrun/metrics"
	shadownotify "estate-billing/internal/shadowrun/notify"
)

var (
	// ErrJobRunning is returned when the same job is already in progress.
	ErrJobRunning = errors.New("shadowrun: job already running")
	// ErrTenantRequired is returned when a run has no tenant.
	ErrTenantRequired = errors.New("shadowrun: tenant_id required")
)

// Runner executes shadow recalculations.
type Runner struct {
	store         Store
	calculator    Calculator
	charges       StoredCharges
	cfg           Config
	notifier      shadownotify.Notifier
	metrics       *shadowmetrics.Metrics
	logger        *log.Logger
	now           func() time.Time
	publicBaseURL string
	storageRoot   string
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithNotifier sets the alert notifier.
func WithNotifier(notifier shadownotify.Notifier) RunnerOption {
	return func(r *Runner) {
		r.notifier = notifier
	}
}

// WithMetrics sets the metrics bundle.
func WithMetrics(m *shadowmetrics.Metrics) RunnerOption {
	return func(r *Runner) {
		r.metrics = m
	}
}

// WithNow overrides the clock.
func WithNow(now func() time.Time) RunnerOption {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRunner constructs a Runner.
func NewRunner(store Store, calculator Calculator, charges StoredCharges, cfg Config, logger *log.Logger, opts ...RunnerOption) (*Runner, error) {
	if store == nil || calculator == nil || charges == nil {
		return nil, errors.New("shadowrun runner: nil dependency")
	}
	if cfg.StorageRoot == "" {
		return nil, errors.New("shadowrun runner: storage root required")
	}
	r := &Runner{
		store:         store,
		calculator:    calculator,
		charges:       charges,
		cfg:           cfg,
		logger:        logger,
		now:           func() time.Time { return time.Now().UTC() },
		publicBaseURL: cfg.PublicBaseURL,
		storageRoot:   cfg.StorageRoot,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Run recalculates a period without persisting, diffs it against the stored
// charges and writes the report. A job already completed for the same
// tenant, period and day returns its existing report.
func (r *Runner) Run(ctx context.Context, tenantID string, period billing.Period, jobDate time.Time, override *Thresholds) (*Report, error) {
	if r == nil {
		return nil, errors.New("shadowrun runner: nil")
	}
	if tenantID == "" {
		return nil, ErrTenantRequired
	}
	if period.IsZero() {
		return nil, billing.ErrEmptyPeriod
	}
	jobDate = time.Date(jobDate.Year(), jobDate.Month(), jobDate.Day(), 0, 0, 0, 0, time.UTC)

	jobID := fmt.Sprintf("sr-%s-%s-%s", tenantID, period.Start().Format("200601"), jobDate.Format("20060102"))
	job, err := r.store.CreateJob(ctx, &Job{
		ID:       jobID,
		TenantID: tenantID,
		Period:   period,
		JobDate:  jobDate,
		JobType:  JobTypeShadowrun,
		Status:   JobStatusCreated,
	})
	if err != nil {
		return nil, err
	}
	if job.Status == JobStatusSuccess {
		return r.store.GetReport(ctx, reportIDFor(job.ID))
	}

	started := r.now()
	claimed, err := r.store.ClaimJob(ctx, job.ID, started)
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	if !claimed {
		return nil, ErrJobRunning
	}
	r.incJobs(JobStatusRunning)
	r.logf("shadowrun_job_start", tenantID, period, job.ID, "", "")

	thresholds := r.cfg.Defaults
	if override != nil {
		thresholds = thresholds.Merge(*override)
	}

	report, summary, err := r.execute(ctx, job, tenantID, period, jobDate, thresholds)
	if err != nil {
		ended := r.now()
		_ = r.store.UpdateJobStatus(ctx, job.ID, JobStatusFailed, err.Error(), &started, &ended, false)
		r.incJobs(JobStatusFailed)
		r.logf("shadowrun_job_failed", tenantID, period, job.ID, "", err.Error())
		return nil, err
	}

	if ThresholdExceeded(summary, thresholds) {
		if err := r.createAlert(ctx, report, summary); err != nil {
			r.logf("shadowrun_alert_failed", tenantID, period, job.ID, report.ID, err.Error())
		} else if r.metrics != nil {
			r.metrics.AlertsTotal.Inc()
		}
	}

	ended := r.now()
	_ = r.store.UpdateJobStatus(ctx, job.ID, JobStatusSuccess, "", &started, &ended, false)
	if r.metrics != nil {
		r.metrics.JobsTotal.WithLabelValues(JobStatusSuccess).Inc()
		r.metrics.JobDuration.Observe(ended.Sub(started).Seconds())
		r.metrics.ReportsTotal.Inc()
		r.metrics.TotalDiffMax.Set(float64(summary.TotalDiffMax))
		r.metrics.UnitsDrifted.Set(float64(summary.DriftedUnits()))
	}
	r.logf("shadowrun_job_success", tenantID, period, job.ID, report.ID, "")
	return report, nil
}

func (r *Runner) execute(ctx context.Context, job *Job, tenantID string, period billing.Period, jobDate time.Time, thresholds Thresholds) (*Report, DiffSummary, error) {
	result, err := r.calculator.Run(ctx, billingapp.RunRequest{Period: period.String(), DryRun: true})
	if err != nil {
		return nil, DiffSummary{}, fmt.Errorf("recalculate: %w", err)
	}
	stored, err := r.charges.ListByPeriod(ctx, period)
	if err != nil {
		return nil, DiffSummary{}, fmt.Errorf("load stored charges: %w", err)
	}

	summary := BuildDiffSummary(tenantID, result, stored, thresholds, r.now())
	reportDir := filepath.Join(r.storageRoot, tenantID, period.String(), job.ID)
	if err := writeReports(reportDir, result.Records, stored, summary); err != nil {
		return nil, DiffSummary{}, err
	}
	archivePath, err := writeArchive(reportDir)
	if err != nil {
		return nil, DiffSummary{}, err
	}

	summaryBytes, err := json.Marshal(summary)
	if err != nil {
		return nil, DiffSummary{}, err
	}
	report := &Report{
		ID:                 reportIDFor(job.ID),
		JobID:              job.ID,
		TenantID:           tenantID,
		Period:             period,
		ReportDate:         jobDate,
		Status:             "generated",
		Location:           archivePath,
		DiffSummary:        summaryBytes,
		TotalDiffMax:       summary.TotalDiffMax,
		UnitsChanged:       summary.DriftedUnits(),
		MissingTariffUnits: len(summary.MissingTariffUnits),
		RecommendedAction:  RecommendedAction(summary, thresholds),
		CreatedAt:          r.now(),
	}
	if err := r.store.CreateReport(ctx, report); err != nil {
		return nil, DiffSummary{}, err
	}
	return report, summary, nil
}

func (r *Runner) createAlert(ctx context.Context, report *Report, summary DiffSummary) error {
	payload := map[string]any{
		"total_diff_max":       summary.TotalDiffMax,
		"total_diff_pct":       summary.TotalDiffPct,
		"units_changed":        summary.UnitsChanged,
		"units_missing_stored": summary.UnitsMissingStored,
		"units_stale_stored":   summary.UnitsStaleStored,
		"missing_tariff_units": len(summary.MissingTariffUnits),
		"zero_water_units":     len(summary.ZeroWaterUnits),
		"recommended_action":   report.RecommendedAction,
	}
	payloadBytes, _ := json.Marshal(payload)
	alert := &Alert{
		ID:        "alert-" + report.ID,
		TenantID:  report.TenantID,
		Category:  "shadowrun",
		Severity:  "high",
		Title:     fmt.Sprintf("Charge drift for %s", report.Period),
		Message:   fmt.Sprintf("Shadow recalculation of %s differs from stored charges", report.Period),
		Payload:   payloadBytes,
		ReportID:  report.ID,
		Status:    "open",
		CreatedAt: r.now(),
	}
	if err := r.store.CreateAlert(ctx, alert); err != nil {
		return err
	}
	if r.notifier == nil {
		return nil
	}
	return r.notifier.Notify(ctx, shadownotify.AlertMessage{
		TenantID:          report.TenantID,
		Period:            report.Period.String(),
		ReportID:          report.ID,
		ReportURL:         fmt.Sprintf("%s/api/v1/shadowrun/reports/%s/download", r.publicBaseURL, report.ID),
		DiffSummary:       payload,
		RecommendedAction: report.RecommendedAction,
		Meta:              map[string]string{"job_id": report.JobID},
	})
}

func (r *Runner) incJobs(status string) {
	if r.metrics != nil {
		r.metrics.JobsTotal.WithLabelValues(status).Inc()
	}
}

func (r *Runner) logf(event, tenantID string, period billing.Period, jobID, reportID, errMsg string) {
	if r.logger == nil {
		return
	}
	r.logger.Printf("event=%s tenant_id=%s period=%s job_id=%s report_id=%s correlation_id=%s error=%s",
		event, tenantID, period, jobID, reportID, jobID, errMsg)
}

func reportIDFor(jobID string) string {
	return "report-" + jobID
}
