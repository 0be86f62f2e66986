package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"estate-billing/internal/audit"
	"estate-billing/internal/auth"
	billingapp "estate-billing/internal/billing/application"
	billingpg "estate-billing/internal/billing/infrastructure/postgres"
	"estate-billing/internal/billing/infrastructure/tariffs"
	billinghttp "estate-billing/internal/billing/interfaces"
	"estate-billing/internal/eventing"
	eventingrepo "estate-billing/internal/eventing/infrastructure/postgres"
	"estate-billing/internal/observability/metrics"
	"estate-billing/internal/pgtx"
	shadowapp "estate-billing/internal/shadowrun/application"
	shadowrepo "estate-billing/internal/shadowrun/infrastructure/postgres"
	shadowhttp "estate-billing/internal/shadowrun/interfaces/http"
	shadowmetrics "estate-billing/internal/shadowrun/metrics"
	shadownotify "estate-billing/internal/shadowrun/notify"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg := loadConfig()
	logger := log.New(os.Stdout, "", log.LstdFlags)

	billingCfg, err := billingapp.LoadConfig()
	if err != nil {
		logger.Fatalf("billing config error: %v", err)
	}
	shadowCfg, err := shadowapp.LoadConfig()
	if err != nil {
		logger.Fatalf("shadowrun config error: %v", err)
	}

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("db open error: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Fatalf("db ping error: %v", err)
	}

	metrics.Init(db, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	referenceRepo := billingpg.NewReferenceRepository(db, billingpg.WithTenantID(cfg.TenantID))
	chargeRepo := billingpg.NewChargeRepository(db, billingpg.WithTenantID(cfg.TenantID), billingpg.WithCurrency(billingCfg.Currency))

	outboxStore, err := eventingrepo.NewOutboxStore(db)
	if err != nil {
		logger.Fatalf("outbox store error: %v", err)
	}
	dispatcher, err := eventing.NewDispatcher(outboxStore, outboxStore, logger)
	if err != nil {
		logger.Fatalf("outbox dispatcher error: %v", err)
	}
	dispatcher.Subscribe(billingapp.EventTypeChargesCalculated, "charge-logger", billinghttp.LogChargesCalculated(logger))
	publisher, err := eventing.NewPublisher(outboxStore, nil, cfg.TenantID)
	if err != nil {
		logger.Fatalf("event publisher error: %v", err)
	}
	txRunner, err := pgtx.NewRunner(db)
	if err != nil {
		logger.Fatalf("transaction runner error: %v", err)
	}
	go dispatcher.Run(ctx, cfg.OutboxInterval)

	runOpts := []billingapp.RunOption{
		billingapp.WithEventPublisher(publisher),
		billingapp.WithTransactor(txRunner),
	}
	if cfg.TariffFile != "" {
		provider, err := tariffs.NewProvider(cfg.TariffFile)
		if err != nil {
			logger.Fatalf("tariff file error: %v", err)
		}
		runOpts = append(runOpts, billingapp.WithTariffSource(provider))
		if cfg.TariffReloadInterval > 0 {
			go reloadTariffs(ctx, provider, cfg.TariffReloadInterval, logger)
		}
		logger.Printf("event=tariff_file_loaded path=%s", cfg.TariffFile)
	}

	runService, err := billingapp.NewChargeRunService(referenceRepo, chargeRepo, billingCfg, logger, runOpts...)
	if err != nil {
		logger.Fatalf("charge run service error: %v", err)
	}
	queryService, err := billingapp.NewChargeQueryService(chargeRepo)
	if err != nil {
		logger.Fatalf("charge query service error: %v", err)
	}

	guard := auth.NewTenantGuard(cfg.TenantID)
	auditLogger := audit.NewRepository(db)
	chargeHandler, err := billinghttp.NewChargeHandler(runService, queryService, guard, auditLogger, billinghttp.WithCurrency(billingCfg.Currency))
	if err != nil {
		logger.Fatalf("charge handler error: %v", err)
	}

	shadowRepo := shadowrepo.NewRepository(db)
	shadowOpts := []shadowapp.RunnerOption{shadowapp.WithMetrics(shadowmetrics.New(nil))}
	if urls := shadowCfg.WebhookURLs(); len(urls) > 0 {
		tpl, err := shadownotify.NewTemplate(shadowCfg.NotifyTemplate)
		if err != nil {
			logger.Fatalf("shadowrun notify template error: %v", err)
		}
		notifiers := make([]shadownotify.Notifier, 0, len(urls))
		for _, url := range urls {
			notifiers = append(notifiers, shadownotify.NewWebhookNotifier(url, nil, tpl))
		}
		shadowOpts = append(shadowOpts, shadowapp.WithNotifier(shadownotify.NewMultiNotifier(notifiers...)))
	}
	shadowRunner, err := shadowapp.NewRunner(shadowRepo, runService, chargeRepo, shadowCfg, logger, shadowOpts...)
	if err != nil {
		logger.Fatalf("shadowrun runner error: %v", err)
	}
	shadowHandler, err := shadowhttp.NewHandler(shadowRunner, shadowRepo, guard, auditLogger)
	if err != nil {
		logger.Fatalf("shadowrun handler error: %v", err)
	}
	shadowScheduler := shadowapp.NewScheduler(shadowRunner, cfg.TenantID, shadowCfg.Schedule, logger)
	go shadowScheduler.Start(ctx)

	policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, nil)
	authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), policy)

	mux := http.NewServeMux()
	mux.Handle("/api/v1/charges", chargeHandler)
	mux.Handle("/api/v1/charges/", chargeHandler)
	mux.Handle("/api/v1/exports/charges.csv", chargeHandler)
	mux.Handle("/api/v1/exports/charges.xlsx", chargeHandler)
	mux.Handle("/api/v1/shadowrun/run", shadowHandler)
	mux.Handle("/api/v1/shadowrun/reports", shadowHandler)
	mux.Handle("/api/v1/shadowrun/reports/", shadowHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           loggingMiddleware(authMiddleware.Wrap(mux), logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Printf("http listening on %s tenant_id=%s selection=%s", cfg.HTTPAddr, cfg.TenantID, billingCfg.SelectionMode)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal(err)
	}
}

type config struct {
	DatabaseURL          string
	HTTPAddr             string
	TenantID             string
	JWTSecret            string
	TariffFile           string
	TariffReloadInterval time.Duration
	OutboxInterval       time.Duration
}

func loadConfig() config {
	cfg := config{
		DatabaseURL:          getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		HTTPAddr:             getenvDefault("HTTP_ADDR", ":8080"),
		TenantID:             getenvDefault("TENANT_ID", "tenant-demo"),
		JWTSecret:            getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", "")),
		TariffFile:           os.Getenv("TARIFF_FILE"),
		TariffReloadInterval: getenvDuration("TARIFF_RELOAD_INTERVAL", 0),
		OutboxInterval:       getenvDuration("OUTBOX_DISPATCH_INTERVAL", 5*time.Second),
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL or PG_DSN is required")
	}
	if cfg.JWTSecret == "" {
		log.Fatal("AUTH_JWT_SECRET is required")
	}
	return cfg
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func reloadTariffs(ctx context.Context, provider *tariffs.Provider, every time.Duration, logger *log.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := provider.Reload(); err != nil {
				logger.Printf("event=tariff_reload_failed error=%v", err)
			}
		}
	}
}

func loggingMiddleware(next http.Handler, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Printf("http %s %s %d %s", r.Method, r.URL.Path, resp.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
