package integration_test

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"estate-billing/internal/billing/application"
	billing "estate-billing/internal/billing/domain"
	billingrepo "estate-billing/internal/billing/infrastructure/postgres"
	"estate-billing/internal/eventing"
	eventingrepo "estate-billing/internal/eventing/infrastructure/postgres"
	"estate-billing/internal/pgtx"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const tenantID = "tenant-billing-it"

func TestChargeRunClosedLoop_Postgres(t *testing.T) {
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

	refRepo := billingrepo.NewReferenceRepository(db, billingrepo.WithTenantID(tenantID))
	chargeRepo := billingrepo.NewChargeRepository(db, billingrepo.WithTenantID(tenantID), billingrepo.WithCurrency("VND"))
	outbox, err := eventingrepo.NewOutboxStore(db)
	if err != nil {
		t.Fatalf("outbox: %v", err)
	}
	dispatcher, err := eventing.NewDispatcher(outbox, outbox, nil)
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	var events []application.ChargesCalculated
	dispatcher.Subscribe(application.EventTypeChargesCalculated, "it", func(ctx context.Context, env eventing.Envelope) error {
		if env.TenantID != tenantID {
			return nil
		}
		var event application.ChargesCalculated
		if err := env.Decode(&event); err != nil {
			return err
		}
		events = append(events, event)
		return nil
	})
	publisher, err := eventing.NewPublisher(outbox, nil, tenantID)
	if err != nil {
		t.Fatalf("publisher: %v", err)
	}
	txRunner, err := pgtx.NewRunner(db)
	if err != nil {
		t.Fatalf("tx runner: %v", err)
	}
	service, err := application.NewChargeRunService(refRepo, chargeRepo, application.DefaultConfig(), nil,
		application.WithEventPublisher(publisher), application.WithTransactor(txRunner))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	first, err := service.Run(ctx, application.RunRequest{Period: "2024-03"})
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, err := service.Run(ctx, application.RunRequest{Period: "2024-03"})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if len(first.Records) != 2 || len(second.Records) != 2 {
		t.Fatalf("unexpected record counts: %d %d", len(first.Records), len(second.Records))
	}
	var pending int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM event_outbox WHERE tenant_id = $1 AND status = 'pending'", tenantID).Scan(&pending); err != nil {
		t.Fatalf("count outbox: %v", err)
	}
	if pending != 2 {
		t.Fatalf("expected 2 pending outbox rows, got %d", pending)
	}
	if err := dispatcher.Dispatch(ctx, 100); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(events) != 2 || events[0].RunID != first.RunID || events[1].RunID != second.RunID {
		t.Fatalf("expected one event per run, got %+v", events)
	}

	period, _ := billing.ParsePeriod("2024-03")
	stored, err := chargeRepo.ListByPeriod(ctx, period)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(stored) != 2 {
		t.Fatalf("upsert should keep one row per key, got %d", len(stored))
	}

	kiosk, err := chargeRepo.GetByKey(ctx, "2024-03_K-01")
	if err != nil || kiosk == nil {
		t.Fatalf("get kiosk: %+v %v", kiosk, err)
	}
	if kiosk.Water.Net != 1397250 || kiosk.Water.VAT != 69862 || kiosk.Water.Gross != 1467112 {
		t.Fatalf("unexpected kiosk water: %+v", kiosk.Water)
	}
	apt, err := chargeRepo.GetByKey(ctx, "2024-03_A-101")
	if err != nil || apt == nil {
		t.Fatalf("get apartment: %+v %v", apt, err)
	}
	if apt.Water.Net != 103943 || apt.Parking.Net != 200000 || apt.Adjustments != -30000 {
		t.Fatalf("unexpected apartment: %+v", apt)
	}
	if apt.TotalDue != apt.Service.Gross+apt.Parking.Gross+apt.Water.Gross-30000 {
		t.Fatalf("unexpected total: %+v", apt)
	}

	missing, err := chargeRepo.GetByKey(ctx, "2024-03_NOPE")
	if err != nil || missing != nil {
		t.Fatalf("expected nil for unknown key, got %+v %v", missing, err)
	}
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, eventing.Event) error {
	return errors.New("publish rejected")
}

func TestChargeRunRollsBackWhenPublishFails_Postgres(t *testing.T) {
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

	refRepo := billingrepo.NewReferenceRepository(db, billingrepo.WithTenantID(tenantID))
	chargeRepo := billingrepo.NewChargeRepository(db, billingrepo.WithTenantID(tenantID), billingrepo.WithCurrency("VND"))
	txRunner, err := pgtx.NewRunner(db)
	if err != nil {
		t.Fatalf("tx runner: %v", err)
	}
	service, err := application.NewChargeRunService(refRepo, chargeRepo, application.DefaultConfig(), nil,
		application.WithEventPublisher(failingPublisher{}), application.WithTransactor(txRunner))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	if _, err := service.Run(ctx, application.RunRequest{Period: "2024-03"}); err == nil {
		t.Fatalf("expected run to fail when publish fails")
	}
	var count int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM charge_records WHERE tenant_id = $1", tenantID).Scan(&count); err != nil {
		t.Fatalf("count charges: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected charge upsert to roll back, found %d rows", count)
	}
}

func seed(ctx context.Context, db *sql.DB) error {
	statements := []string{
		`INSERT INTO owners (tenant_id, id, name, phone, email) VALUES ($1,'o1','Owner One','0900','one@example.com'),($1,'o2','Kiosk Co',NULL,NULL)`,
		`INSERT INTO units (tenant_id, id, owner_id, classification, area_m2, occupancy) VALUES ($1,'A-101','o1','Apartment',70,'Owner-occupied'),($1,'K-01','o2','Commercial-Kiosk',12,'Business')`,
		`INSERT INTO vehicles (tenant_id, id, unit_id, vehicle_type, active, start_date, slot_status) VALUES
			($1,'m1','A-101','motorbike',TRUE,'2023-01-01',NULL),
			($1,'m2','A-101','motorbike',TRUE,'2023-01-01','Primary'),
			($1,'m3','A-101','e-bike',TRUE,'2023-01-01',NULL),
			($1,'c1','A-101','car',TRUE,'2023-01-01','Waitlisted')`,
		`INSERT INTO water_readings (tenant_id, unit_id, period, usage_m3) VALUES ($1,'A-101','2024-03',11),($1,'K-01','2024-03',45)`,
		`INSERT INTO adjustments (tenant_id, id, unit_id, period, amount, description) VALUES ($1,'adj1','A-101','2024-03',-50000,'refund'),($1,'adj2','A-101','2024-03',20000,'late fee')`,
		`INSERT INTO tariff_service (tenant_id, id, service_key, fee_per_m2, vat_percent) VALUES ($1,'s1','apartment',16500,10),($1,'s2','kiosk',40000,10)`,
		`INSERT INTO tariff_parking (tenant_id, id, tier, price_per_unit, vat_percent) VALUES
			($1,'p1','car',1200000,8),($1,'p2','two-wheeler-first-two',60000,8),($1,'p3','two-wheeler-beyond-two',80000,8)`,
		`INSERT INTO tariff_water (tenant_id, id, segment, from_m3, to_m3, unit_price, vat_percent) VALUES
			($1,'w1','residential',0,10,9310,5),
			($1,'w2','residential',10,20,10843,5),
			($1,'w3','residential',20,30,17524,5),
			($1,'w4','residential',30,NULL,29571,5),
			($1,'wc','commercial',0,NULL,31050,5)`,
	}
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt, tenantID); err != nil {
			return err
		}
	}
	return nil
}

func cleanup(ctx context.Context, db *sql.DB) {
	_, _ = db.ExecContext(ctx, "DELETE FROM event_outbox WHERE tenant_id = $1", tenantID)
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
