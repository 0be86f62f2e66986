package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles shadowrun metrics.
type Metrics struct {
	JobsTotal    *prometheus.CounterVec
	JobDuration  prometheus.Histogram
	TotalDiffMax prometheus.Gauge
	UnitsDrifted prometheus.Gauge
	ReportsTotal prometheus.Counter
	AlertsTotal  prometheus.Counter
}

// New constructs metrics and registers them with reg. A nil reg uses the
// default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		JobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_shadowrun_jobs_total",
				Help: "Total shadowrun jobs by status",
			},
			[]string{"status"},
		),
		JobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "billing_shadowrun_job_duration_seconds",
			Help:    "Shadowrun job duration in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		TotalDiffMax: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "billing_shadowrun_total_diff_max",
			Help: "Largest per-unit total due drift of the last report",
		}),
		UnitsDrifted: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "billing_shadowrun_units_drifted",
			Help: "Units whose stored charge differs from the recalculation in the last report",
		}),
		ReportsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "billing_shadowrun_reports_total",
			Help: "Total shadowrun reports",
		}),
		AlertsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "billing_shadowrun_alerts_total",
			Help: "Total shadowrun alerts",
		}),
	}
	reg.MustRegister(
		m.JobsTotal,
		m.JobDuration,
		m.TotalDiffMax,
		m.UnitsDrifted,
		m.ReportsTotal,
		m.AlertsTotal,
	)
	return m
}
