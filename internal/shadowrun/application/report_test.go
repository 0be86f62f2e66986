package application

import (
	"os"
	"testing"
	"time"

	billingapp "estate-billing/internal/billing/application"
	billing "estate-billing/internal/billing/domain"
)

func record(period billing.Period, unitID string, total int64) billing.ChargeRecord {
	return billing.ChargeRecord{
		Period:   period,
		UnitID:   unitID,
		Service:  billing.FeeLine{Net: total, Gross: total},
		TotalDue: total,
	}
}

func TestBuildDiffSummary(t *testing.T) {
	period, _ := billing.ParsePeriod("2024-03")
	missingTariff := record(period, "D", 100)
	missingTariff.MissingTariffs = []string{"parking:car"}
	result := &billingapp.RunResult{
		Period: period,
		Records: []billing.ChargeRecord{
			record(period, "A", 1000),
			record(period, "B", 2500),
			record(period, "C", 700),
			missingTariff,
		},
		Rejected: []billingapp.RejectedUnit{{UnitID: "Z", Reason: billingapp.RejectMissingOwner}},
	}
	stored := []billing.ChargeRecord{
		record(period, "A", 1000),
		record(period, "B", 2000),
		record(period, "D", 100),
		record(period, "E", 300),
	}

	summary := BuildDiffSummary("tenant-a", result, stored, DefaultThresholds(), time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC))
	if summary.UnitsChanged != 1 || summary.UnitsMissingStored != 1 || summary.UnitsStaleStored != 1 {
		t.Fatalf("unexpected counts: %+v", summary)
	}
	if summary.DriftedUnits() != 3 {
		t.Fatalf("drifted units: %d", summary.DriftedUnits())
	}
	if summary.TotalDiffMax != 700 {
		t.Fatalf("total diff max: %d", summary.TotalDiffMax)
	}
	if summary.RecalculatedTotal != 4300 || summary.StoredTotal != 3400 {
		t.Fatalf("totals: %d %d", summary.RecalculatedTotal, summary.StoredTotal)
	}
	wantOrder := []string{"B", "C", "E"}
	for i, diff := range summary.UnitDiffs {
		if diff.UnitID != wantOrder[i] {
			t.Fatalf("unit diffs not sorted: %+v", summary.UnitDiffs)
		}
	}
	if summary.UnitDiffs[2].State != UnitStaleStored || summary.UnitDiffs[2].Diff != -300 {
		t.Fatalf("stale diff: %+v", summary.UnitDiffs[2])
	}
	if len(summary.ZeroWaterUnits) != 4 || len(summary.MissingTariffUnits) != 1 || len(summary.RejectedUnits) != 1 {
		t.Fatalf("review lists: %+v", summary)
	}
	if got := RecommendedAction(summary, DefaultThresholds()); got != ActionReviewTariffs {
		t.Fatalf("recommended action: %s", got)
	}
}

func TestRecommendedAction(t *testing.T) {
	cases := []struct {
		name       string
		summary    DiffSummary
		thresholds Thresholds
		want       string
	}{
		{"clean", DiffSummary{StoredUnits: 3, RecalculatedUnits: 3}, DefaultThresholds(), ActionNone},
		{"never calculated", DiffSummary{RecalculatedUnits: 3, UnitsMissingStored: 3}, DefaultThresholds(), ActionRunCalculation},
		{"changed units", DiffSummary{StoredUnits: 3, UnitsChanged: 2, TotalDiffMax: 10}, DefaultThresholds(), ActionReviewChanges},
		{"amount only", DiffSummary{StoredUnits: 3, UnitsChanged: 2, TotalDiffMax: 10}, Thresholds{TotalAbs: 5, ChangedUnits: 5}, ActionReviewTotalDiff},
		{"pct only", DiffSummary{StoredUnits: 3, TotalDiffPct: 0.2}, Thresholds{TotalPct: 0.1}, ActionReviewTotalDiff},
		{"below thresholds", DiffSummary{StoredUnits: 3, UnitsChanged: 1, TotalDiffMax: 10}, Thresholds{TotalAbs: 50, ChangedUnits: 2}, ActionNone},
	}
	for _, tc := range cases {
		if got := RecommendedAction(tc.summary, tc.thresholds); got != tc.want {
			t.Fatalf("%s: expected %s, got %s", tc.name, tc.want, got)
		}
		if ThresholdExceeded(tc.summary, tc.thresholds) != (tc.want != ActionNone) {
			t.Fatalf("%s: ThresholdExceeded disagrees", tc.name)
		}
	}
}

func TestSchedulerPeriods(t *testing.T) {
	s := NewScheduler(nil, "tenant-a", ScheduleConfig{DailyAt: "02:30", Lookback: 2}, nil)
	now := time.Date(2024, time.January, 15, 2, 30, 0, 0, time.UTC)
	if !s.shouldRun(now) || s.shouldRun(now.Add(time.Minute)) {
		t.Fatalf("shouldRun mismatch")
	}
	got := s.periods(now)
	want := []string{"2024-01", "2023-12", "2023-11"}
	if len(got) != len(want) {
		t.Fatalf("periods: %v", got)
	}
	for i := range want {
		if got[i].String() != want[i] {
			t.Fatalf("periods: %v", got)
		}
	}
}

func TestLoadConfigFromYAML(t *testing.T) {
	path := t.TempDir() + "/shadowrun.yaml"
	content := "defaults:\n  total_abs: 5000\nschedule:\n  daily_at: \"03:15\"\n  lookback: 1\nstorage_root: /tmp/shadow\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("SHADOWRUN_CONFIG", path)
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Defaults.TotalAbs != 5000 || cfg.Defaults.ChangedUnits != 1 {
		t.Fatalf("defaults: %+v", cfg.Defaults)
	}
	if cfg.Schedule.DailyAt != "03:15" || cfg.Schedule.Lookback != 1 || cfg.StorageRoot != "/tmp/shadow" {
		t.Fatalf("config: %+v", cfg)
	}

	t.Setenv("SHADOWRUN_CONFIG", "")
	t.Setenv("SHADOWRUN_DAILY_AT", "25:99")
	if _, err := LoadConfig(); err == nil {
		t.Fatalf("expected daily_at error")
	}
}

func TestThresholdsMerge(t *testing.T) {
	merged := DefaultThresholds().Merge(Thresholds{TotalPct: 0.1})
	if merged.TotalAbs != 1 || merged.TotalPct != 0.1 || merged.ChangedUnits != 1 {
		t.Fatalf("merge: %+v", merged)
	}
}

func TestWebhookURLs(t *testing.T) {
	cfg := Config{WebhookURL: " https://a.example/hook, ,https://b.example/hook "}
	urls := cfg.WebhookURLs()
	if len(urls) != 2 || urls[0] != "https://a.example/hook" || urls[1] != "https://b.example/hook" {
		t.Fatalf("urls: %v", urls)
	}
}
