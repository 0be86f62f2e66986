package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	billing "estate-billing/internal/billing/domain"
	shadowapp "estate-billing/internal/shadowrun/application"
)

var errNilDB = errors.New("shadowrun repo: nil db")

// Repository handles shadowrun persistence.
type Repository struct {
	db *sql.DB
}

// NewRepository constructs a repository.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// CreateJob inserts a job if not exists, then returns the stored job.
func (r *Repository) CreateJob(ctx context.Context, job *shadowapp.Job) (*shadowapp.Job, error) {
	if r == nil || r.db == nil {
		return nil, errNilDB
	}
	if job == nil {
		return nil, errors.New("shadowrun repo: nil job")
	}
	now := time.Now().UTC()
	if _, err := r.db.ExecContext(ctx, `
INSERT INTO shadowrun_jobs (
	id, tenant_id, period, job_date, job_type, status, attempts, created_at, updated_at
) VALUES (
	$1,$2,$3,$4,$5,$6,0,$7,$7
)
ON CONFLICT (tenant_id, period, job_date, job_type)
DO NOTHING`,
		job.ID, job.TenantID, job.Period.String(), job.JobDate, job.JobType, job.Status, now,
	); err != nil {
		return nil, err
	}
	return r.getJobByKey(ctx, job.TenantID, job.Period, job.JobDate, job.JobType)
}

func (r *Repository) getJobByKey(ctx context.Context, tenantID string, period billing.Period, jobDate time.Time, jobType string) (*shadowapp.Job, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, tenant_id, period, job_date, job_type, status, attempts, error, created_at, updated_at, started_at, finished_at
FROM shadowrun_jobs
WHERE tenant_id = $1 AND period = $2 AND job_date = $3 AND job_type = $4`,
		tenantID, period.String(), jobDate, jobType)

	return scanJob(row)
}

// ClaimJob atomically marks a job running unless it is running or done.
func (r *Repository) ClaimJob(ctx context.Context, id string, startedAt time.Time) (bool, error) {
	if r == nil || r.db == nil {
		return false, errNilDB
	}
	if id == "" {
		return false, errors.New("shadowrun repo: empty job id")
	}
	var claimedID string
	err := r.db.QueryRowContext(ctx, `
UPDATE shadowrun_jobs
SET status = $2, error = '', started_at = $3, finished_at = NULL, attempts = attempts + 1, updated_at = $4
WHERE id = $1 AND status NOT IN ($2, $5)
RETURNING id`, id, shadowapp.JobStatusRunning, startedAt, time.Now().UTC(), shadowapp.JobStatusSuccess).Scan(&claimedID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// UpdateJobStatus updates job status and timestamps.
func (r *Repository) UpdateJobStatus(ctx context.Context, id, status, errMsg string, startedAt, finishedAt *time.Time, bumpAttempt bool) error {
	if r == nil || r.db == nil {
		return errNilDB
	}
	if id == "" {
		return errors.New("shadowrun repo: empty job id")
	}
	now := time.Now().UTC()
	if bumpAttempt {
		_, err := r.db.ExecContext(ctx, `
UPDATE shadowrun_jobs
SET status = $1, error = $2, started_at = $3, finished_at = $4, attempts = attempts + 1, updated_at = $5
WHERE id = $6`, status, errMsg, startedAt, finishedAt, now, id)
		return err
	}
	_, err := r.db.ExecContext(ctx, `
UPDATE shadowrun_jobs
SET status = $1, error = $2, started_at = $3, finished_at = $4, updated_at = $5
WHERE id = $6`, status, errMsg, startedAt, finishedAt, now, id)
	return err
}

// CreateReport inserts a report.
func (r *Repository) CreateReport(ctx context.Context, report *shadowapp.Report) error {
	if r == nil || r.db == nil {
		return errNilDB
	}
	if report == nil {
		return errors.New("shadowrun repo: nil report")
	}
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
INSERT INTO shadowrun_reports (
	id, job_id, tenant_id, period, report_date, status, report_location,
	diff_summary, total_diff_max, units_changed, missing_tariff_units, recommended_action, created_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13
)`,
		report.ID, report.JobID, report.TenantID, report.Period.String(), report.ReportDate, report.Status, report.Location,
		[]byte(report.DiffSummary), report.TotalDiffMax, report.UnitsChanged, report.MissingTariffUnits, report.RecommendedAction, now)
	return err
}

const reportColumns = `id, job_id, tenant_id, period, report_date, status, report_location,
	diff_summary, total_diff_max, units_changed, missing_tariff_units, recommended_action, created_at`

// ListReports lists a tenant's reports for a period, newest first.
func (r *Repository) ListReports(ctx context.Context, tenantID string, period billing.Period) ([]shadowapp.Report, error) {
	if r == nil || r.db == nil {
		return nil, errNilDB
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT `+reportColumns+`
FROM shadowrun_reports
WHERE tenant_id = $1 AND period = $2
ORDER BY report_date DESC, created_at DESC`, tenantID, period.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []shadowapp.Report
	for rows.Next() {
		report, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *report)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// GetReport returns report by id.
func (r *Repository) GetReport(ctx context.Context, id string) (*shadowapp.Report, error) {
	if r == nil || r.db == nil {
		return nil, errNilDB
	}
	row := r.db.QueryRowContext(ctx, `
SELECT `+reportColumns+`
FROM shadowrun_reports
WHERE id = $1`, id)

	report, err := scanReport(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return report, err
}

// CreateAlert inserts a shadowrun alert.
func (r *Repository) CreateAlert(ctx context.Context, alert *shadowapp.Alert) error {
	if r == nil || r.db == nil {
		return errNilDB
	}
	if alert == nil {
		return errors.New("shadowrun repo: nil alert")
	}
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
INSERT INTO shadowrun_alerts (
	id, tenant_id, category, severity, title, message, payload, report_id, status, created_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10
)
ON CONFLICT (id) DO NOTHING`,
		alert.ID, alert.TenantID, alert.Category, alert.Severity, alert.Title, alert.Message, alert.Payload, alert.ReportID, alert.Status, now)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReport(row rowScanner) (*shadowapp.Report, error) {
	var report shadowapp.Report
	var period string
	var summary []byte
	if err := row.Scan(
		&report.ID,
		&report.JobID,
		&report.TenantID,
		&period,
		&report.ReportDate,
		&report.Status,
		&report.Location,
		&summary,
		&report.TotalDiffMax,
		&report.UnitsChanged,
		&report.MissingTariffUnits,
		&report.RecommendedAction,
		&report.CreatedAt,
	); err != nil {
		return nil, err
	}
	parsed, err := billing.ParsePeriod(period)
	if err != nil {
		return nil, err
	}
	report.Period = parsed
	report.DiffSummary = summary
	report.ReportDate = report.ReportDate.UTC()
	report.CreatedAt = report.CreatedAt.UTC()
	return &report, nil
}

func scanJob(row rowScanner) (*shadowapp.Job, error) {
	var job shadowapp.Job
	var period string
	var started sql.NullTime
	var finished sql.NullTime
	var errMsg sql.NullString
	if err := row.Scan(
		&job.ID,
		&job.TenantID,
		&period,
		&job.JobDate,
		&job.JobType,
		&job.Status,
		&job.Attempts,
		&errMsg,
		&job.CreatedAt,
		&job.UpdatedAt,
		&started,
		&finished,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.New("shadowrun repo: job not found after insert")
		}
		return nil, err
	}
	parsed, err := billing.ParsePeriod(period)
	if err != nil {
		return nil, err
	}
	job.Period = parsed
	if errMsg.Valid {
		job.Error = errMsg.String
	}
	if started.Valid {
		t := started.Time.UTC()
		job.StartedAt = &t
	}
	if finished.Valid {
		t := finished.Time.UTC()
		job.EndedAt = &t
	}
	job.JobDate = job.JobDate.UTC()
	job.CreatedAt = job.CreatedAt.UTC()
	job.UpdatedAt = job.UpdatedAt.UTC()
	return &job, nil
}

var _ shadowapp.Store = (*Repository)(nil)
