package interfaces

import (
	"bytes"
	"context"
	"log"
	"strings"
	"testing"

	"estate-billing/internal/billing/application"
	"estate-billing/internal/eventing"
)

func TestLogChargesCalculated(t *testing.T) {
	var buf bytes.Buffer
	handler := LogChargesCalculated(log.New(&buf, "", 0))
	env, err := eventing.BuildEnvelope(application.ChargesCalculated{RunID: "run-1", Period: "2024-03", Units: []string{"A-101"}, TotalDue: 1000}, eventing.Meta{TenantID: "tenant-a"})
	if err != nil {
		t.Fatalf("envelope: %v", err)
	}
	if err := handler(context.Background(), env); err != nil {
		t.Fatalf("handler: %v", err)
	}
	line := buf.String()
	for _, want := range []string{"event=charges_calculated", "tenant_id=tenant-a", "run_id=run-1", "period=2024-03", "units=1", "total_due=1000"} {
		if !strings.Contains(line, want) {
			t.Fatalf("expected %q in %q", want, line)
		}
	}
	env.Payload = nil
	if err := handler(context.Background(), env); err == nil {
		t.Fatalf("expected decode error")
	}
}
