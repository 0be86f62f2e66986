package integration_test

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	billingapp "estate-billing/internal/billing/application"
	billing "estate-billing/internal/billing/domain"
	billingrepo "estate-billing/internal/billing/infrastructure/postgres"
	shadowapp "estate-billing/internal/shadowrun/application"
	shadowrepo "estate-billing/internal/shadowrun/infrastructure/postgres"
	shadownotify "estate-billing/internal/shadowrun/notify"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const tenantID = "tenant-shadow-it"

func TestShadowrun_ReportAndAlert(t *testing.T) {
	db := openDB(t)
	defer db.Close()

	if err := applyMigrations(db); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	ctx := context.Background()
	cleanup(ctx, db)
	defer cleanup(ctx, db)
	if err := seed(ctx, db); err != nil {
		t.Fatalf("seed: %v", err)
	}

	webhook := newFakeWebhook()
	server := httptest.NewServer(webhook)
	defer server.Close()

	refRepo := billingrepo.NewReferenceRepository(db, billingrepo.WithTenantID(tenantID))
	chargeRepo := billingrepo.NewChargeRepository(db, billingrepo.WithTenantID(tenantID))
	service, err := billingapp.NewChargeRunService(refRepo, chargeRepo, billingapp.DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("charge service: %v", err)
	}
	if _, err := service.Run(ctx, billingapp.RunRequest{Period: "2024-03"}); err != nil {
		t.Fatalf("charge run: %v", err)
	}

	cfg := shadowapp.Config{
		Defaults:      shadowapp.DefaultThresholds(),
		StorageRoot:   t.TempDir(),
		WebhookURL:    server.URL,
		PublicBaseURL: "http://localhost:8080",
	}
	repo := shadowrepo.NewRepository(db)
	runner, err := shadowapp.NewRunner(repo, service, chargeRepo, cfg, nil,
		shadowapp.WithNotifier(shadownotify.NewWebhookNotifier(server.URL, nil, nil)))
	if err != nil {
		t.Fatalf("runner: %v", err)
	}

	period, _ := billing.ParsePeriod("2024-03")
	clean, err := runner.Run(ctx, tenantID, period, time.Date(2024, time.March, 10, 0, 0, 0, 0, time.UTC), nil)
	if err != nil {
		t.Fatalf("clean run: %v", err)
	}
	if clean.UnitsChanged != 0 || clean.RecommendedAction != shadowapp.ActionNone {
		t.Fatalf("expected clean report, got %+v", clean)
	}
	if webhook.count() != 0 {
		t.Fatalf("unexpected webhook calls: %d", webhook.count())
	}

	if _, err := db.ExecContext(ctx, `UPDATE tariff_service SET fee_per_m2 = 17000 WHERE tenant_id = $1`, tenantID); err != nil {
		t.Fatalf("update tariff: %v", err)
	}
	drift, err := runner.Run(ctx, tenantID, period, time.Date(2024, time.March, 11, 0, 0, 0, 0, time.UTC), nil)
	if err != nil {
		t.Fatalf("drift run: %v", err)
	}
	if drift.UnitsChanged != 1 || drift.RecommendedAction != shadowapp.ActionReviewChanges {
		t.Fatalf("expected drift report, got %+v", drift)
	}
	if webhook.count() != 1 {
		t.Fatalf("expected 1 webhook call, got %d", webhook.count())
	}
	if _, err := os.Stat(drift.Location); err != nil {
		t.Fatalf("report archive: %v", err)
	}

	reports, err := repo.ListReports(ctx, tenantID, period)
	if err != nil {
		t.Fatalf("list reports: %v", err)
	}
	if len(reports) != 2 || reports[0].ID != drift.ID {
		t.Fatalf("unexpected reports: %+v", reports)
	}

	again, err := runner.Run(ctx, tenantID, period, time.Date(2024, time.March, 11, 0, 0, 0, 0, time.UTC), nil)
	if err != nil {
		t.Fatalf("repeat run: %v", err)
	}
	if again == nil || again.ID != drift.ID || webhook.count() != 1 {
		t.Fatalf("same-day rerun should return the stored report")
	}
}

func seed(ctx context.Context, db *sql.DB) error {
	statements := []string{
		`INSERT INTO owners (tenant_id, id, name) VALUES ($1,'o1','Owner One')`,
		`INSERT INTO units (tenant_id, id, owner_id, classification, area_m2, occupancy) VALUES ($1,'A-101','o1','Apartment',70,'Owner-occupied')`,
		`INSERT INTO water_readings (tenant_id, unit_id, period, usage_m3) VALUES ($1,'A-101','2024-03',10)`,
		`INSERT INTO tariff_service (tenant_id, id, service_key, fee_per_m2, vat_percent) VALUES ($1,'s1','apartment',16500,10)`,
		`INSERT INTO tariff_water (tenant_id, id, segment, from_m3, to_m3, unit_price, vat_percent) VALUES ($1,'w1','residential',0,NULL,9310,5)`,
	}
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt, tenantID); err != nil {
			return err
		}
	}
	return nil
}

func cleanup(ctx context.Context, db *sql.DB) {
	_, _ = db.ExecContext(ctx, "DELETE FROM shadowrun_alerts WHERE tenant_id = $1", tenantID)
	_, _ = db.ExecContext(ctx, "DELETE FROM shadowrun_reports WHERE tenant_id = $1", tenantID)
	_, _ = db.ExecContext(ctx, "DELETE FROM shadowrun_jobs WHERE tenant_id = $1", tenantID)
	for _, table := range []string{"charge_records", "tariff_water", "tariff_parking", "tariff_service", "adjustments", "water_readings", "vehicles", "units", "owners"} {
		_, _ = db.ExecContext(ctx, "DELETE FROM "+table+" WHERE tenant_id = $1", tenantID)
	}
}

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	return db
}

func applyMigrations(db *sql.DB) error {
	files, err := filepath.Glob(filepath.Join(projectRoot(), "migrations", "*.sql"))
	if err != nil {
		return err
	}
	for _, path := range files {
		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if _, err := db.Exec(string(content)); err != nil {
			return err
		}
	}
	return nil
}

func projectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return "."
	}
	return filepath.Clean(filepath.Join(dir, "..", "..", ".."))
}

type fakeWebhook struct {
	mu    sync.Mutex
	calls int
}

func newFakeWebhook() *fakeWebhook {
	return &fakeWebhook{}
}

func (f *fakeWebhook) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (f *fakeWebhook) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}
