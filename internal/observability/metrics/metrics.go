package metrics

import (
	"database/sql"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "billing_"

	resultSuccess = "success"
	resultError   = "error"
)

var (
	registerOnce sync.Once

	chargeRunTotal   *prometheus.CounterVec
	chargeRunLatency *prometheus.HistogramVec
	chargeRunUnits   prometheus.Histogram

	recordsCalculated prometheus.Counter
	recordsPersisted  prometheus.Counter
	rejectedUnits     *prometheus.CounterVec
	missingTariffs    *prometheus.CounterVec

	exportTotal   *prometheus.CounterVec
	exportLatency *prometheus.HistogramVec
)

// Init registers billing metrics and DB-backed gauges.
func Init(db *sql.DB, logger *log.Logger) {
	registerOnce.Do(func() {
		chargeRunTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "charge_run_total",
				Help: "Total charge runs by mode and result",
			},
			[]string{"mode", "result"},
		)
		chargeRunLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "charge_run_latency_seconds",
				Help:    "Charge run latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"mode", "result"},
		)
		chargeRunUnits = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "charge_run_units",
				Help:    "Units submitted per charge run",
				Buckets: prometheus.ExponentialBuckets(1, 4, 8),
			},
		)

		recordsCalculated = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "charge_records_calculated_total",
				Help: "Total charge records produced by the engine",
			},
		)
		recordsPersisted = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "charge_records_persisted_total",
				Help: "Total charge records written to storage",
			},
		)
		rejectedUnits = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "rejected_units_total",
				Help: "Units rejected before calculation by reason",
			},
			[]string{"reason"},
		)
		missingTariffs = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "missing_tariff_total",
				Help: "Fee components zero-filled for lack of a tariff row, by kind",
			},
			[]string{"kind"},
		)

		exportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "export_total",
				Help: "Total charge exports by format and result",
			},
			[]string{"format", "result"},
		)
		exportLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "export_latency_seconds",
				Help:    "Charge export latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"format", "result"},
		)

		prometheus.MustRegister(
			chargeRunTotal,
			chargeRunLatency,
			chargeRunUnits,
			recordsCalculated,
			recordsPersisted,
			rejectedUnits,
			missingTariffs,
			exportTotal,
			exportLatency,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// ObserveChargeRun records a charge run's latency, size and result.
func ObserveChargeRun(dryRun bool, result string, units int, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	mode := "persist"
	if dryRun {
		mode = "dry_run"
	}
	if chargeRunTotal != nil {
		chargeRunTotal.WithLabelValues(mode, result).Inc()
	}
	if chargeRunLatency != nil {
		chargeRunLatency.WithLabelValues(mode, result).Observe(duration.Seconds())
	}
	if chargeRunUnits != nil && units >= 0 {
		chargeRunUnits.Observe(float64(units))
	}
}

// AddRecordsCalculated increments the calculated record counter.
func AddRecordsCalculated(count int) {
	if count <= 0 || recordsCalculated == nil {
		return
	}
	recordsCalculated.Add(float64(count))
}

// AddRecordsPersisted increments the persisted record counter.
func AddRecordsPersisted(count int) {
	if count <= 0 || recordsPersisted == nil {
		return
	}
	recordsPersisted.Add(float64(count))
}

// IncRejectedUnit counts a unit rejected before calculation.
func IncRejectedUnit(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	if rejectedUnits != nil {
		rejectedUnits.WithLabelValues(reason).Inc()
	}
}

// IncMissingTariff counts a zero-filled fee component.
func IncMissingTariff(kind string) {
	if kind == "" {
		kind = "unknown"
	}
	if missingTariffs != nil {
		missingTariffs.WithLabelValues(kind).Inc()
	}
}

// ObserveExport records export latency and result.
func ObserveExport(format, result string, duration time.Duration) {
	if format == "" {
		format = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if exportTotal != nil {
		exportTotal.WithLabelValues(format, result).Inc()
	}
	if exportLatency != nil {
		exportLatency.WithLabelValues(format, result).Observe(duration.Seconds())
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError
)
