package application

import (
	"archive/zip"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	billingapp "estate-billing/internal/billing/application"
	billing "estate-billing/internal/billing/domain"
	"estate-billing/internal/billing/export"
)

const timeLayout = time.RFC3339

// Unit diff states.
const (
	UnitChanged       = "changed"
	UnitMissingStored = "missing_stored"
	UnitStaleStored   = "stale_stored"
)

const (
	recalculatedFile = "charges_recalculated.csv"
	storedFile       = "charges_stored.csv"
	summaryFile      = "diff_summary.json"
	archiveFile      = "report.zip"
)

// UnitDiff compares one unit's recalculated and stored totals.
type UnitDiff struct {
	UnitID       string `json:"unit_id"`
	State        string `json:"state"`
	Recalculated int64  `json:"recalculated_total"`
	Stored       int64  `json:"stored_total"`
	Diff         int64  `json:"diff"`
}

// DiffSummary is the machine-readable result of a shadow recalculation.
type DiffSummary struct {
	Period             string                    `json:"period"`
	TenantID           string                    `json:"tenant_id"`
	RecalculatedUnits  int                       `json:"recalculated_units"`
	StoredUnits        int                       `json:"stored_units"`
	RecalculatedTotal  int64                     `json:"recalculated_total"`
	StoredTotal        int64                     `json:"stored_total"`
	TotalDiffMax       int64                     `json:"total_diff_max"`
	TotalDiffPct       float64                   `json:"total_diff_pct"`
	UnitsChanged       int                       `json:"units_changed"`
	UnitsMissingStored int                       `json:"units_missing_stored"`
	UnitsStaleStored   int                       `json:"units_stale_stored"`
	ZeroWaterUnits     []string                  `json:"zero_water_units,omitempty"`
	MissingTariffUnits []string                  `json:"missing_tariff_units,omitempty"`
	RejectedUnits      []billingapp.RejectedUnit `json:"rejected_units,omitempty"`
	UnitDiffs          []UnitDiff                `json:"unit_diffs"`
	GeneratedAt        string                    `json:"generated_at"`
	Thresholds         Thresholds                `json:"thresholds"`
}

// DriftedUnits counts units whose stored charge no longer matches.
func (s DiffSummary) DriftedUnits() int {
	return s.UnitsChanged + s.UnitsMissingStored + s.UnitsStaleStored
}

// BuildDiffSummary compares a dry-run result with the stored records of the same period.
func BuildDiffSummary(tenantID string, result *billingapp.RunResult, stored []billing.ChargeRecord, thresholds Thresholds, now time.Time) DiffSummary {
	summary := DiffSummary{
		Period:        result.Period.String(),
		TenantID:      tenantID,
		StoredUnits:   len(stored),
		RejectedUnits: result.Rejected,
		UnitDiffs:     []UnitDiff{},
		GeneratedAt:   now.UTC().Format(timeLayout),
		Thresholds:    thresholds,
	}

	storedByUnit := make(map[string]billing.ChargeRecord, len(stored))
	for _, record := range stored {
		storedByUnit[record.UnitID] = record
		summary.StoredTotal += record.TotalDue
	}
	seen := make(map[string]bool, len(result.Records))
	for _, record := range result.Records {
		seen[record.UnitID] = true
		summary.RecalculatedUnits++
		summary.RecalculatedTotal += record.TotalDue
		if record.Water.Gross == 0 {
			summary.ZeroWaterUnits = append(summary.ZeroWaterUnits, record.UnitID)
		}
		if len(record.MissingTariffs) > 0 {
			summary.MissingTariffUnits = append(summary.MissingTariffUnits, record.UnitID)
		}

		prev, ok := storedByUnit[record.UnitID]
		if !ok {
			summary.UnitsMissingStored++
			summary.addDiff(UnitDiff{UnitID: record.UnitID, State: UnitMissingStored, Recalculated: record.TotalDue, Diff: record.TotalDue})
			continue
		}
		if prev.TotalDue != record.TotalDue || !sameComponents(prev, record) {
			summary.UnitsChanged++
			summary.addDiff(UnitDiff{UnitID: record.UnitID, State: UnitChanged, Recalculated: record.TotalDue, Stored: prev.TotalDue, Diff: record.TotalDue - prev.TotalDue})
		}
	}
	for _, record := range stored {
		if seen[record.UnitID] {
			continue
		}
		summary.UnitsStaleStored++
		summary.addDiff(UnitDiff{UnitID: record.UnitID, State: UnitStaleStored, Stored: record.TotalDue, Diff: -record.TotalDue})
	}

	sort.Slice(summary.UnitDiffs, func(i, j int) bool { return summary.UnitDiffs[i].UnitID < summary.UnitDiffs[j].UnitID })
	if summary.StoredTotal != 0 {
		summary.TotalDiffPct = float64(absInt(summary.RecalculatedTotal-summary.StoredTotal)) / float64(absInt(summary.StoredTotal))
	}
	return summary
}

func (s *DiffSummary) addDiff(diff UnitDiff) {
	s.UnitDiffs = append(s.UnitDiffs, diff)
	if d := absInt(diff.Diff); d > s.TotalDiffMax {
		s.TotalDiffMax = d
	}
}

func sameComponents(a, b billing.ChargeRecord) bool {
	return a.Service == b.Service && a.Parking == b.Parking && a.Water == b.Water && a.Adjustments == b.Adjustments
}

// ThresholdExceeded reports whether summary should raise an alert.
func ThresholdExceeded(summary DiffSummary, thresholds Thresholds) bool {
	return RecommendedAction(summary, thresholds) != ActionNone
}

// Recommended follow-ups carried in alerts.
const (
	ActionNone            = "none"
	ActionReviewTariffs   = "review_tariffs"
	ActionRunCalculation  = "run_charge_calculation"
	ActionReviewChanges   = "review_and_recalculate"
	ActionReviewTotalDiff = "review_total_drift"
)

// RecommendedAction names the follow-up for the first threshold summary exceeds.
func RecommendedAction(summary DiffSummary, thresholds Thresholds) string {
	if thresholds.MissingTariffs > 0 && len(summary.MissingTariffUnits) >= thresholds.MissingTariffs {
		return ActionReviewTariffs
	}
	if thresholds.ChangedUnits > 0 && summary.StoredUnits == 0 && summary.UnitsMissingStored >= thresholds.ChangedUnits {
		return ActionRunCalculation
	}
	if thresholds.ChangedUnits > 0 && summary.DriftedUnits() >= thresholds.ChangedUnits {
		return ActionReviewChanges
	}
	if thresholds.TotalAbs > 0 && summary.TotalDiffMax >= thresholds.TotalAbs {
		return ActionReviewTotalDiff
	}
	if thresholds.TotalPct > 0 && summary.TotalDiffPct >= thresholds.TotalPct {
		return ActionReviewTotalDiff
	}
	return ActionNone
}

func writeReports(outDir string, recalculated, stored []billing.ChargeRecord, summary DiffSummary) error {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return err
	}
	if err := writeChargesFile(filepath.Join(outDir, recalculatedFile), recalculated); err != nil {
		return err
	}
	if err := writeChargesFile(filepath.Join(outDir, storedFile), stored); err != nil {
		return err
	}
	return writeSummaryJSON(outDir, summary)
}

func writeChargesFile(path string, records []billing.ChargeRecord) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := export.WriteChargesCSV(file, records); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}

func writeSummaryJSON(outDir string, summary DiffSummary) error {
	file, err := os.Create(filepath.Join(outDir, summaryFile))
	if err != nil {
		return err
	}
	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(summary); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}

func writeArchive(outDir string) (string, error) {
	archivePath := filepath.Join(outDir, archiveFile)
	file, err := os.Create(archivePath)
	if err != nil {
		return "", err
	}
	defer file.Close()

	zipWriter := zip.NewWriter(file)
	for _, name := range []string{recalculatedFile, storedFile, summaryFile} {
		if err := addToArchive(zipWriter, filepath.Join(outDir, name), name); err != nil {
			_ = zipWriter.Close()
			return "", err
		}
	}
	if err := zipWriter.Close(); err != nil {
		return "", err
	}
	return archivePath, nil
}

func addToArchive(zipWriter *zip.Writer, path, name string) error {
	src, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer src.Close()
	fw, err := zipWriter.Create(name)
	if err != nil {
		return err
	}
	_, err = io.Copy(fw, src)
	return err
}

func absInt(value int64) int64 {
	if value < 0 {
		return -value
	}
	return value
}
