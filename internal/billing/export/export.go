// Package export renders charge records as CSV, XLSX and PDF documents.
package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	billing "estate-billing/internal/billing/domain"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"
)

// ChargeColumns are the column names shared by the CSV and XLSX exports.
var ChargeColumns = []string{
	"record_key", "period", "unit_id", "owner_name", "owner_phone", "owner_email", "area_m2",
	"service_net", "service_vat", "service_gross",
	"parking_net", "parking_vat", "parking_gross",
	"water_net", "water_vat", "water_gross",
	"cars", "compact_cars", "two_wheelers", "bicycles",
	"water_usage_m3", "adjustments", "total_due", "missing_tariffs",
}

// WriteChargesCSV writes one row per record with a header line.
func WriteChargesCSV(w io.Writer, records []billing.ChargeRecord) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(ChargeColumns); err != nil {
		return err
	}
	for _, r := range records {
		row := []string{
			r.Key(), r.Period.String(), r.UnitID, r.OwnerName, r.OwnerPhone, r.OwnerEmail, formatFloat(r.AreaM2),
			itoa(r.Service.Net), itoa(r.Service.VAT), itoa(r.Service.Gross),
			itoa(r.Parking.Net), itoa(r.Parking.VAT), itoa(r.Parking.Gross),
			itoa(r.Water.Net), itoa(r.Water.VAT), itoa(r.Water.Gross),
			strconv.Itoa(r.Vehicles.Cars), strconv.Itoa(r.Vehicles.CompactCars), strconv.Itoa(r.Vehicles.TwoWheelers), strconv.Itoa(r.Vehicles.Bicycles),
			formatFloat(r.WaterUsageM3), itoa(r.Adjustments), itoa(r.TotalDue), strings.Join(r.MissingTariffs, ";"),
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// InvoicePDF renders the invoice of one charge record.
func InvoicePDF(record billing.ChargeRecord, currency string) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "B", 14)
	pdf.AddPage()

	pdf.Cell(0, 8, "Monthly Service Charges")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Period: %s", record.Period))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Unit: %s (%s m2)", record.UnitID, formatFloat(record.AreaM2)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Owner: %s", record.OwnerName))
	pdf.Ln(5)
	if record.OwnerPhone != "" || record.OwnerEmail != "" {
		pdf.Cell(0, 6, fmt.Sprintf("Contact: %s %s", record.OwnerPhone, record.OwnerEmail))
		pdf.Ln(5)
	}
	pdf.Ln(4)

	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(60, 6, "Item", "1", 0, "C", false, 0, "")
	pdf.CellFormat(40, 6, "Net", "1", 0, "C", false, 0, "")
	pdf.CellFormat(40, 6, "VAT", "1", 0, "C", false, 0, "")
	pdf.CellFormat(40, 6, "Total", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	lines := []struct {
		label string
		line  billing.FeeLine
	}{
		{"Service", record.Service},
		{fmt.Sprintf("Parking (%d car, %d compact, %d two-wheel, %d bicycle)", record.Vehicles.Cars, record.Vehicles.CompactCars, record.Vehicles.TwoWheelers, record.Vehicles.Bicycles), record.Parking},
		{fmt.Sprintf("Water (%s m3)", formatFloat(record.WaterUsageM3)), record.Water},
	}
	for _, l := range lines {
		pdf.CellFormat(60, 6, l.label, "1", 0, "L", false, 0, "")
		pdf.CellFormat(40, 6, itoa(l.line.Net), "1", 0, "R", false, 0, "")
		pdf.CellFormat(40, 6, itoa(l.line.VAT), "1", 0, "R", false, 0, "")
		pdf.CellFormat(40, 6, itoa(l.line.Gross), "1", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}
	pdf.CellFormat(140, 6, "Adjustments", "1", 0, "L", false, 0, "")
	pdf.CellFormat(40, 6, itoa(record.Adjustments), "1", 0, "R", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(140, 6, fmt.Sprintf("Total due (%s)", currency), "1", 0, "L", false, 0, "")
	pdf.CellFormat(40, 6, itoa(record.TotalDue), "1", 0, "R", false, 0, "")
	pdf.Ln(-1)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ChargesXLSX renders a period's charges as a workbook with a summary
// sheet and one row per unit.
func ChargesXLSX(period billing.Period, records []billing.ChargeRecord, currency string) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()
	summarySheet := "summary"
	chargesSheet := "charges"
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(chargesSheet); err != nil {
		return nil, err
	}

	var service, parking, water, adjustments, total int64
	for _, r := range records {
		service += r.Service.Gross
		parking += r.Parking.Gross
		water += r.Water.Gross
		adjustments += r.Adjustments
		total += r.TotalDue
	}
	summary := [][2]any{
		{"Period", period.String()},
		{"Currency", currency},
		{"Units", len(records)},
		{"Service (gross)", service},
		{"Parking (gross)", parking},
		{"Water (gross)", water},
		{"Adjustments", adjustments},
		{"Total due", total},
	}
	_ = f.SetCellValue(summarySheet, "A1", "Service Charges")
	for i, row := range summary {
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("A%d", i+3), row[0])
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("B%d", i+3), row[1])
	}

	for col, name := range ChargeColumns {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return nil, err
		}
		_ = f.SetCellValue(chargesSheet, cell, name)
	}
	for i, r := range records {
		values := []any{
			r.Key(), r.Period.String(), r.UnitID, r.OwnerName, r.OwnerPhone, r.OwnerEmail, r.AreaM2,
			r.Service.Net, r.Service.VAT, r.Service.Gross,
			r.Parking.Net, r.Parking.VAT, r.Parking.Gross,
			r.Water.Net, r.Water.VAT, r.Water.Gross,
			r.Vehicles.Cars, r.Vehicles.CompactCars, r.Vehicles.TwoWheelers, r.Vehicles.Bicycles,
			r.WaterUsageM3, r.Adjustments, r.TotalDue, strings.Join(r.MissingTariffs, ";"),
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		if err := f.SetSheetRow(chargesSheet, cell, &values); err != nil {
			return nil, err
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func itoa(v int64) string { return strconv.FormatInt(v, 10) }

func formatFloat(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
