package metrics

import (
	"database/sql"
	"log"

	"github.com/prometheus/client_golang/prometheus"
)

func registerDBMetrics(db *sql.DB, logger *log.Logger) {
	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "charge_records_stored",
			Help: "Charge records currently stored",
		},
		func() float64 {
			return queryCount(db, logger, "SELECT COUNT(*) FROM charge_records")
		},
	))

	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "units_without_owner",
			Help: "Units whose owner reference does not resolve",
		},
		func() float64 {
			return queryCount(db, logger, "SELECT COUNT(*) FROM units u LEFT JOIN owners o ON o.tenant_id = u.tenant_id AND o.id = u.owner_id WHERE o.id IS NULL")
		},
	))

	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "outbox_pending",
			Help: "Outbox events waiting for delivery",
		},
		func() float64 {
			return queryCount(db, logger, "SELECT COUNT(*) FROM event_outbox WHERE status = 'pending'")
		},
	))
}

func queryCount(db *sql.DB, logger *log.Logger, query string) float64 {
	if db == nil {
		return 0
	}
	var count int64
	if err := db.QueryRow(query).Scan(&count); err != nil {
		if logger != nil {
			logger.Printf("event=metrics_query_failed error=%v", err)
		}
		return 0
	}
	if count < 0 {
		return 0
	}
	return float64(count)
}
