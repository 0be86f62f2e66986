package application_test

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"log"
	"os"
	"testing"
	"time"

	billingapp "estate-billing/internal/billing/application"
	billing "estate-billing/internal/billing/domain"
	billingmemory "estate-billing/internal/billing/infrastructure/memory"
	shadowapp "estate-billing/internal/shadowrun/application"
	shadowmemory "estate-billing/internal/shadowrun/infrastructure/memory"
	shadownotify "estate-billing/internal/shadowrun/notify"

	"github.com/shopspring/decimal"
)

type recordingNotifier struct {
	messages []shadownotify.AlertMessage
}

func (n *recordingNotifier) Notify(ctx context.Context, msg shadownotify.AlertMessage) error {
	n.messages = append(n.messages, msg)
	return nil
}

type failingCalculator struct{}

func (failingCalculator) Run(ctx context.Context, req billingapp.RunRequest) (*billingapp.RunResult, error) {
	return nil, errors.New("reference data unavailable")
}

type harness struct {
	ref      *billingmemory.ReferenceRepository
	charges  *billingmemory.ChargeRepository
	service  *billingapp.ChargeRunService
	store    *shadowmemory.Repository
	notifier *recordingNotifier
	runner   *shadowapp.Runner
	period   billing.Period
}

func tariffs(t *testing.T, serviceFee string) billing.TariffSnapshot {
	t.Helper()
	d := decimal.RequireFromString
	snapshot, err := billing.NewTariffSnapshot(
		billing.ServiceTariff{Key: billing.ServiceKeyApartment, FeePerM2: d(serviceFee), VATPercent: d("10")},
		billing.WaterTariff{Segment: billing.WaterSegmentResidential, FromM3: d("0"), UnitPrice: d("9310"), VATPercent: d("5")},
	)
	if err != nil {
		t.Fatalf("tariffs: %v", err)
	}
	return snapshot
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	period, _ := billing.ParsePeriod("2024-03")
	ref := billingmemory.NewReferenceRepository()
	ref.SetTariffs(tariffs(t, "16500"))
	for _, id := range []string{"A-101", "A-102"} {
		ref.PutUnit(billing.Unit{ID: id, OwnerID: "o-" + id, Classification: billing.ClassificationApartment, AreaM2: 60, Occupancy: billing.OccupancyOwner})
		ref.PutOwner(billing.Owner{ID: "o-" + id, Name: "Owner " + id})
	}
	ref.AddWaterReading(billing.WaterReading{UnitID: "A-101", Period: period, UsageM3: 8})

	charges := billingmemory.NewChargeRepository()
	logger := log.New(&bytes.Buffer{}, "", 0)
	service, err := billingapp.NewChargeRunService(ref, charges, billingapp.DefaultConfig(), logger)
	if err != nil {
		t.Fatalf("service: %v", err)
	}
	store := shadowmemory.NewRepository()
	notifier := &recordingNotifier{}
	cfg := shadowapp.Config{Defaults: shadowapp.DefaultThresholds(), StorageRoot: t.TempDir(), PublicBaseURL: "http://billing.local"}
	runner, err := shadowapp.NewRunner(store, service, charges, cfg, logger, shadowapp.WithNotifier(notifier))
	if err != nil {
		t.Fatalf("runner: %v", err)
	}
	return &harness{ref: ref, charges: charges, service: service, store: store, notifier: notifier, runner: runner, period: period}
}

func day(d int) time.Time { return time.Date(2024, time.March, d, 0, 0, 0, 0, time.UTC) }

func TestRunnerCleanReport(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.service.Run(ctx, billingapp.RunRequest{Period: "2024-03"}); err != nil {
		t.Fatalf("charge run: %v", err)
	}

	report, err := h.runner.Run(ctx, "tenant-a", h.period, day(5), nil)
	if err != nil {
		t.Fatalf("shadow run: %v", err)
	}
	if report.UnitsChanged != 0 || report.TotalDiffMax != 0 || report.RecommendedAction != shadowapp.ActionNone {
		t.Fatalf("expected clean report, got %+v", report)
	}
	if len(h.notifier.messages) != 0 || len(h.store.Alerts()) != 0 {
		t.Fatalf("clean report must not alert")
	}

	archive, err := zip.OpenReader(report.Location)
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	defer archive.Close()
	names := map[string]bool{}
	for _, f := range archive.File {
		names[f.Name] = true
	}
	for _, want := range []string{"charges_recalculated.csv", "charges_stored.csv", "diff_summary.json"} {
		if !names[want] {
			t.Fatalf("archive missing %s: %v", want, names)
		}
	}

	job, ok := h.store.Job("sr-tenant-a-202403-20240305")
	if !ok || job.Status != shadowapp.JobStatusSuccess || job.Attempts != 1 {
		t.Fatalf("unexpected job: %+v ok=%v", job, ok)
	}
}

func TestRunnerDetectsDriftAndAlerts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.service.Run(ctx, billingapp.RunRequest{Period: "2024-03"}); err != nil {
		t.Fatalf("charge run: %v", err)
	}
	h.ref.SetTariffs(tariffs(t, "17000"))

	report, err := h.runner.Run(ctx, "tenant-a", h.period, day(6), nil)
	if err != nil {
		t.Fatalf("shadow run: %v", err)
	}
	// 60 m2 x 500 more per m2, plus 10% VAT.
	if report.UnitsChanged != 2 || report.TotalDiffMax != 33000 {
		t.Fatalf("unexpected drift: %+v", report)
	}
	if report.RecommendedAction != shadowapp.ActionReviewChanges {
		t.Fatalf("recommended action: %s", report.RecommendedAction)
	}
	if len(h.notifier.messages) != 1 {
		t.Fatalf("expected one notification, got %d", len(h.notifier.messages))
	}
	msg := h.notifier.messages[0]
	if msg.Period != "2024-03" || msg.ReportURL != "http://billing.local/api/v1/shadowrun/reports/"+report.ID+"/download" {
		t.Fatalf("unexpected message: %+v", msg)
	}
	if alerts := h.store.Alerts(); len(alerts) != 1 || alerts[0].ReportID != report.ID {
		t.Fatalf("unexpected alerts: %+v", alerts)
	}

	// Stored charges are untouched by the shadow run.
	stored, _ := h.charges.GetByKey(ctx, "2024-03_A-102")
	if stored == nil || stored.Service.Net != 990000 {
		t.Fatalf("stored charge modified: %+v", stored)
	}
}

func TestRunnerSameDayReturnsStoredReport(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	first, err := h.runner.Run(ctx, "tenant-a", h.period, day(7), nil)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	if first.RecommendedAction != shadowapp.ActionRunCalculation {
		t.Fatalf("nothing stored yet, got %s", first.RecommendedAction)
	}
	second, err := h.runner.Run(ctx, "tenant-a", h.period, day(7).Add(5*time.Hour), nil)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if second == nil || second.ID != first.ID {
		t.Fatalf("expected stored report %s, got %+v", first.ID, second)
	}
	if len(h.notifier.messages) != 1 {
		t.Fatalf("expected a single notification, got %d", len(h.notifier.messages))
	}
}

type blockingCalculator struct {
	next    shadowapp.Calculator
	started chan struct{}
	release chan struct{}
}

func (c *blockingCalculator) Run(ctx context.Context, req billingapp.RunRequest) (*billingapp.RunResult, error) {
	close(c.started)
	<-c.release
	return c.next.Run(ctx, req)
}

func TestRunnerRejectsConcurrentSameDayJob(t *testing.T) {
	h := newHarness(t)
	calc := &blockingCalculator{next: h.service, started: make(chan struct{}), release: make(chan struct{})}
	cfg := shadowapp.Config{Defaults: shadowapp.DefaultThresholds(), StorageRoot: t.TempDir()}
	runner, err := shadowapp.NewRunner(h.store, calc, h.charges, cfg, nil)
	if err != nil {
		t.Fatalf("runner: %v", err)
	}
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := runner.Run(ctx, "tenant-a", h.period, day(12), nil)
		done <- err
	}()
	<-calc.started

	if _, err := runner.Run(ctx, "tenant-a", h.period, day(12), nil); !errors.Is(err, shadowapp.ErrJobRunning) {
		t.Fatalf("expected ErrJobRunning, got %v", err)
	}
	close(calc.release)
	if err := <-done; err != nil {
		t.Fatalf("first run: %v", err)
	}
	job, ok := h.store.Job("sr-tenant-a-202403-20240312")
	if !ok || job.Status != shadowapp.JobStatusSuccess || job.Attempts != 1 {
		t.Fatalf("unexpected job: %+v", job)
	}
}

func TestRunnerThresholdOverride(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.service.Run(ctx, billingapp.RunRequest{Period: "2024-03"}); err != nil {
		t.Fatalf("charge run: %v", err)
	}
	h.ref.SetTariffs(tariffs(t, "16510"))

	report, err := h.runner.Run(ctx, "tenant-a", h.period, day(8), &shadowapp.Thresholds{TotalAbs: 1000, ChangedUnits: 10})
	if err != nil {
		t.Fatalf("shadow run: %v", err)
	}
	if report.UnitsChanged != 2 || report.RecommendedAction != shadowapp.ActionNone {
		t.Fatalf("override should suppress alert: %+v", report)
	}
	if len(h.notifier.messages) != 0 {
		t.Fatalf("unexpected notification")
	}
}

func TestRunnerFailureMarksJob(t *testing.T) {
	store := shadowmemory.NewRepository()
	cfg := shadowapp.Config{Defaults: shadowapp.DefaultThresholds(), StorageRoot: t.TempDir()}
	runner, err := shadowapp.NewRunner(store, failingCalculator{}, billingmemory.NewChargeRepository(), cfg, nil)
	if err != nil {
		t.Fatalf("runner: %v", err)
	}
	period, _ := billing.ParsePeriod("2024-03")
	if _, err := runner.Run(context.Background(), "tenant-a", period, day(9), nil); err == nil {
		t.Fatalf("expected error")
	}
	job, ok := store.Job("sr-tenant-a-202403-20240309")
	if !ok || job.Status != shadowapp.JobStatusFailed || job.Error == "" {
		t.Fatalf("unexpected job: %+v", job)
	}
	entries, _ := os.ReadDir(cfg.StorageRoot)
	if len(entries) != 0 {
		t.Fatalf("failed job should not write reports")
	}
}

func TestRunnerValidation(t *testing.T) {
	h := newHarness(t)
	if _, err := h.runner.Run(context.Background(), "", h.period, day(1), nil); !errors.Is(err, shadowapp.ErrTenantRequired) {
		t.Fatalf("expected ErrTenantRequired, got %v", err)
	}
	if _, err := h.runner.Run(context.Background(), "tenant-a", billing.Period{}, day(1), nil); !errors.Is(err, billing.ErrEmptyPeriod) {
		t.Fatalf("expected ErrEmptyPeriod, got %v", err)
	}
	if _, err := shadowapp.NewRunner(nil, nil, nil, shadowapp.Config{}, nil); err == nil {
		t.Fatalf("expected constructor error")
	}
}
