package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	billing "estate-billing/internal/billing/domain"
	shadowapp "estate-billing/internal/shadowrun/application"
)

// Repository is an in-memory shadowrun store.
type Repository struct {
	mu      sync.RWMutex
	jobs    map[string]shadowapp.Job
	reports map[string]shadowapp.Report
	alerts  []shadowapp.Alert
}

// NewRepository constructs a repository.
func NewRepository() *Repository {
	return &Repository{
		jobs:    make(map[string]shadowapp.Job),
		reports: make(map[string]shadowapp.Report),
	}
}

// CreateJob inserts a job unless its id exists, then returns the stored job.
func (r *Repository) CreateJob(_ context.Context, job *shadowapp.Job) (*shadowapp.Job, error) {
	if job == nil || job.ID == "" {
		return nil, errors.New("shadowrun memory: invalid job")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.jobs[job.ID]
	if !ok {
		now := time.Now().UTC()
		stored = *job
		stored.CreatedAt = now
		stored.UpdatedAt = now
		r.jobs[job.ID] = stored
	}
	return &stored, nil
}

// ClaimJob marks a job running unless it is running or done.
func (r *Repository) ClaimJob(_ context.Context, id string, startedAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return false, errors.New("shadowrun memory: job not found")
	}
	if job.Status == shadowapp.JobStatusRunning || job.Status == shadowapp.JobStatusSuccess {
		return false, nil
	}
	job.Status = shadowapp.JobStatusRunning
	job.Error = ""
	job.StartedAt = &startedAt
	job.EndedAt = nil
	job.UpdatedAt = time.Now().UTC()
	job.Attempts++
	r.jobs[id] = job
	return true, nil
}

// UpdateJobStatus updates job status and timestamps.
func (r *Repository) UpdateJobStatus(_ context.Context, id, status, errMsg string, startedAt, finishedAt *time.Time, bumpAttempt bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return errors.New("shadowrun memory: job not found")
	}
	job.Status = status
	job.Error = errMsg
	job.StartedAt = startedAt
	job.EndedAt = finishedAt
	job.UpdatedAt = time.Now().UTC()
	if bumpAttempt {
		job.Attempts++
	}
	r.jobs[id] = job
	return nil
}

// Job returns a stored job.
func (r *Repository) Job(id string) (shadowapp.Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	return job, ok
}

// CreateReport inserts a report.
func (r *Repository) CreateReport(_ context.Context, report *shadowapp.Report) error {
	if report == nil {
		return errors.New("shadowrun memory: nil report")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.reports[report.ID]; ok {
		return errors.New("shadowrun memory: duplicate report")
	}
	r.reports[report.ID] = *report
	return nil
}

// GetReport returns report by id; nil when absent.
func (r *Repository) GetReport(_ context.Context, id string) (*shadowapp.Report, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	report, ok := r.reports[id]
	if !ok {
		return nil, nil
	}
	return &report, nil
}

// ListReports lists a tenant's reports for a period, newest first.
func (r *Repository) ListReports(_ context.Context, tenantID string, period billing.Period) ([]shadowapp.Report, error) {
	r.mu.RLock()
	var result []shadowapp.Report
	for _, report := range r.reports {
		if report.TenantID == tenantID && report.Period == period {
			result = append(result, report)
		}
	}
	r.mu.RUnlock()
	sort.Slice(result, func(i, j int) bool {
		if !result[i].ReportDate.Equal(result[j].ReportDate) {
			return result[i].ReportDate.After(result[j].ReportDate)
		}
		return result[i].ID > result[j].ID
	})
	return result, nil
}

// CreateAlert records an alert.
func (r *Repository) CreateAlert(_ context.Context, alert *shadowapp.Alert) error {
	if alert == nil {
		return errors.New("shadowrun memory: nil alert")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, *alert)
	return nil
}

// Alerts returns a copy of the recorded alerts.
func (r *Repository) Alerts() []shadowapp.Alert {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]shadowapp.Alert, len(r.alerts))
	copy(out, r.alerts)
	return out
}

var _ shadowapp.Store = (*Repository)(nil)
