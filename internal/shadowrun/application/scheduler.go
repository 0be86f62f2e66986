package application

import (
	"context"
	"log"
	"time"

	billing "estate-billing/internal/billing/domain"
)

// Scheduler triggers shadowrun jobs on schedule.
type Scheduler struct {
	runner   *Runner
	tenantID string
	dailyAt  string
	lookback int
	logger   *log.Logger
}

// NewScheduler constructs a Scheduler for one tenant.
func NewScheduler(runner *Runner, tenantID string, schedule ScheduleConfig, logger *log.Logger) *Scheduler {
	return &Scheduler{
		runner:   runner,
		tenantID: tenantID,
		dailyAt:  schedule.DailyAt,
		lookback: schedule.Lookback,
		logger:   logger,
	}
}

// Start begins the scheduler loop. It returns immediately when no daily
// time is configured.
func (s *Scheduler) Start(ctx context.Context) {
	if s == nil || s.runner == nil || s.dailyAt == "" || s.tenantID == "" {
		return
	}
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if !s.shouldRun(now.UTC()) {
				continue
			}
			s.runOnce(ctx, now.UTC())
		}
	}
}

func (s *Scheduler) shouldRun(now time.Time) bool {
	hour, minute, err := parseDailyAt(s.dailyAt)
	if err != nil {
		return false
	}
	return now.Hour() == hour && now.Minute() == minute
}

// periods returns the current period followed by lookback earlier ones.
func (s *Scheduler) periods(now time.Time) []billing.Period {
	current := billing.PeriodOf(now)
	periods := []billing.Period{current}
	for i := 1; i <= s.lookback; i++ {
		periods = append(periods, billing.PeriodOf(current.Start().AddDate(0, -i, 0)))
	}
	return periods
}

func (s *Scheduler) runOnce(ctx context.Context, now time.Time) {
	for _, period := range s.periods(now) {
		if _, err := s.runner.Run(ctx, s.tenantID, period, now, nil); err != nil && s.logger != nil {
			s.logger.Printf("event=shadowrun_schedule_error tenant_id=%s period=%s error=%v", s.tenantID, period, err)
		}
	}
}
