package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewRegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.JobsTotal.WithLabelValues("succeeded").Inc()
	m.AlertsTotal.Inc()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	values := make(map[string]float64)
	for _, family := range families {
		for _, metric := range family.GetMetric() {
			if counter := metric.GetCounter(); counter != nil {
				values[family.GetName()] += counter.GetValue()
			}
		}
	}
	if values["billing_shadowrun_jobs_total"] != 1 {
		t.Fatalf("jobs total: %v", values["billing_shadowrun_jobs_total"])
	}
	if values["billing_shadowrun_alerts_total"] != 1 {
		t.Fatalf("alerts total: %v", values["billing_shadowrun_alerts_total"])
	}
}
