package application

import (
	"context"
	"encoding/json"
	"time"

	billingapp "estate-billing/internal/billing/application"
	billing "estate-billing/internal/billing/domain"
)

// Job states.
const (
	JobTypeShadowrun = "shadowrun"
	JobStatusCreated = "created"
	JobStatusRunning = "running"
	JobStatusSuccess = "succeeded"
	JobStatusFailed  = "failed"
)

// Job is one shadow recalculation of a tenant period on a given day.
type Job struct {
	ID        string
	TenantID  string
	Period    billing.Period
	JobDate   time.Time
	JobType   string
	Status    string
	Attempts  int
	Error     string
	CreatedAt time.Time
	UpdatedAt time.Time
	StartedAt *time.Time
	EndedAt   *time.Time
}

// Report is the stored outcome of a successful job.
type Report struct {
	ID                 string          `json:"id"`
	JobID              string          `json:"job_id"`
	TenantID           string          `json:"tenant_id"`
	Period             billing.Period  `json:"period"`
	ReportDate         time.Time       `json:"report_date"`
	Status             string          `json:"status"`
	Location           string          `json:"location"`
	DiffSummary        json.RawMessage `json:"diff_summary"`
	TotalDiffMax       int64           `json:"total_diff_max"`
	UnitsChanged       int             `json:"units_changed"`
	MissingTariffUnits int             `json:"missing_tariff_units"`
	RecommendedAction  string          `json:"recommended_action"`
	CreatedAt          time.Time       `json:"created_at"`
}

// Alert is raised when a report exceeds its thresholds.
type Alert struct {
	ID        string
	TenantID  string
	Category  string
	Severity  string
	Title     string
	Message   string
	Payload   []byte
	ReportID  string
	Status    string
	CreatedAt time.Time
}

// Store persists jobs, reports and alerts.
type Store interface {
	// CreateJob inserts the job unless one exists for the same tenant,
	// period, job date and type, then returns the stored job.
	CreateJob(ctx context.Context, job *Job) (*Job, error)
	// ClaimJob moves the job to running and bumps its attempts unless it is
	// already running or succeeded. It reports whether this caller won.
	ClaimJob(ctx context.Context, id string, startedAt time.Time) (bool, error)
	UpdateJobStatus(ctx context.Context, id, status, errMsg string, startedAt, finishedAt *time.Time, bumpAttempt bool) error
	CreateReport(ctx context.Context, report *Report) error
	// GetReport returns nil when the report does not exist.
	GetReport(ctx context.Context, id string) (*Report, error)
	ListReports(ctx context.Context, tenantID string, period billing.Period) ([]Report, error)
	CreateAlert(ctx context.Context, alert *Alert) error
}

// Calculator recalculates a period's charges.
type Calculator interface {
	Run(ctx context.Context, req billingapp.RunRequest) (*billingapp.RunResult, error)
}

// StoredCharges reads the charges persisted by earlier runs.
type StoredCharges interface {
	ListByPeriod(ctx context.Context, period billing.Period) ([]billing.ChargeRecord, error)
}
