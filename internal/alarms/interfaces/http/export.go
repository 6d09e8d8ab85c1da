package http

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	alarms "battmon-cloud/internal/alarms/domain"
)

// BuildAlarmsPDF renders an alarm history report as PDF.
func BuildAlarmsPDF(list []alarms.Alarm, generatedAt time.Time) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Alarm History")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", generatedAt.UTC().Format(time.RFC3339)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Total Alarms: %d", len(list)))
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 9)
	pdf.CellFormat(20, 6, "Equip", "1", 0, "C", false, 0, "")
	pdf.CellFormat(18, 6, "Level", "1", 0, "C", false, 0, "")
	pdf.CellFormat(70, 6, "Message", "1", 0, "C", false, 0, "")
	pdf.CellFormat(36, 6, "Raised", "1", 0, "C", false, 0, "")
	pdf.CellFormat(36, 6, "Cleared", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 9)
	for _, a := range list {
		cleared := ""
		if a.ClearedAt != nil {
			cleared = a.ClearedAt.UTC().Format("2006-01-02 15:04:05")
		}
		pdf.CellFormat(20, 6, fmt.Sprintf("%d", a.EquipmentID), "1", 0, "C", false, 0, "")
		pdf.CellFormat(18, 6, a.Level.String(), "1", 0, "C", false, 0, "")
		pdf.CellFormat(70, 6, a.Message, "1", 0, "L", false, 0, "")
		pdf.CellFormat(36, 6, a.CreatedAt.UTC().Format("2006-01-02 15:04:05"), "1", 0, "C", false, 0, "")
		pdf.CellFormat(36, 6, cleared, "1", 0, "C", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildAlarmsXLSX renders an alarm history report as XLSX.
func BuildAlarmsXLSX(list []alarms.Alarm) ([]byte, error) {
	f := excelize.NewFile()
	sheet := "alarms"
	f.SetSheetName("Sheet1", sheet)

	headers := []string{"ID", "Equipment", "Level", "Message", "Raised At", "Cleared", "Cleared By", "Cleared At"}
	for i, header := range headers {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return nil, err
		}
		_ = f.SetCellValue(sheet, cell, header)
	}
	for i, a := range list {
		row := i + 2
		_ = f.SetCellValue(sheet, fmt.Sprintf("A%d", row), a.ID)
		_ = f.SetCellValue(sheet, fmt.Sprintf("B%d", row), a.EquipmentID)
		_ = f.SetCellValue(sheet, fmt.Sprintf("C%d", row), a.Level.String())
		_ = f.SetCellValue(sheet, fmt.Sprintf("D%d", row), a.Message)
		_ = f.SetCellValue(sheet, fmt.Sprintf("E%d", row), a.CreatedAt.UTC().Format(time.RFC3339))
		_ = f.SetCellValue(sheet, fmt.Sprintf("F%d", row), a.IsCleared)
		_ = f.SetCellValue(sheet, fmt.Sprintf("G%d", row), a.ClearedBy)
		if a.ClearedAt != nil {
			_ = f.SetCellValue(sheet, fmt.Sprintf("H%d", row), a.ClearedAt.UTC().Format(time.RFC3339))
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
