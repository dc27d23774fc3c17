// Package export renders regional summaries as a styled XLSX workbook.
package export

import (
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/gmarchetti/coviditaly/internal/dates"
	"github.com/gmarchetti/coviditaly/internal/models"
)

const sheetName = "COVID-19 Regional Data"

// Filename returns the download name for an export of the given date.
func Filename(q dates.Query) string {
	return fmt.Sprintf("covid19_italy_regional_data_%s.xlsx", q)
}

// Workbook builds the export: title, styled header, one row per region in the
// summaries' order, a bold TOTAL row and a metadata block.
func Workbook(summaries []models.RegionSummary, q dates.Query, generatedAt time.Time) (*excelize.File, error) {
	if len(summaries) == 0 {
		return nil, fmt.Errorf("no data available for the specified date")
	}

	f := excelize.NewFile()
	f.SetSheetName("Sheet1", sheetName)

	styles, err := newStyles(f)
	if err != nil {
		return nil, fmt.Errorf("create styles: %w", err)
	}

	dateLabel := "Latest"
	if !q.IsLatest() {
		dateLabel = q.String()
	}

	if err := f.MergeCell(sheetName, "A1", "B1"); err != nil {
		return nil, err
	}
	f.SetCellValue(sheetName, "A1", fmt.Sprintf("COVID-19 Regional Data - %s", dateLabel))
	f.SetCellStyle(sheetName, "A1", "B1", styles.title)

	f.SetCellValue(sheetName, "A3", "Region")
	f.SetCellValue(sheetName, "B3", "Total Cases")
	f.SetCellStyle(sheetName, "A3", "B3", styles.header)

	row := 4
	maxNameLen := len("Region")
	totalCases := 0
	for _, sum := range summaries {
		f.SetCellValue(sheetName, fmt.Sprintf("A%d", row), sum.RegionName)
		f.SetCellValue(sheetName, fmt.Sprintf("B%d", row), sum.TotalCases)
		f.SetCellStyle(sheetName, fmt.Sprintf("A%d", row), fmt.Sprintf("A%d", row), styles.cell)
		f.SetCellStyle(sheetName, fmt.Sprintf("B%d", row), fmt.Sprintf("B%d", row), styles.number)
		if len(sum.RegionName) > maxNameLen {
			maxNameLen = len(sum.RegionName)
		}
		totalCases += sum.TotalCases
		row++
	}

	totalRow := row + 1
	f.SetCellValue(sheetName, fmt.Sprintf("A%d", totalRow), "TOTAL")
	f.SetCellValue(sheetName, fmt.Sprintf("B%d", totalRow), totalCases)
	f.SetCellStyle(sheetName, fmt.Sprintf("A%d", totalRow), fmt.Sprintf("B%d", totalRow), styles.total)

	metaRow := totalRow + 3
	f.SetCellValue(sheetName, fmt.Sprintf("A%d", metaRow), "Export Date:")
	f.SetCellValue(sheetName, fmt.Sprintf("B%d", metaRow), generatedAt.Format("2006-01-02 15:04:05"))
	f.SetCellValue(sheetName, fmt.Sprintf("A%d", metaRow+1), "Data Date:")
	f.SetCellValue(sheetName, fmt.Sprintf("B%d", metaRow+1), dateLabel)
	f.SetCellValue(sheetName, fmt.Sprintf("A%d", metaRow+2), "Total Regions:")
	f.SetCellValue(sheetName, fmt.Sprintf("B%d", metaRow+2), len(summaries))

	nameWidth := float64(maxNameLen + 2)
	if nameWidth > 50 {
		nameWidth = 50
	}
	f.SetColWidth(sheetName, "A", "A", nameWidth)
	f.SetColWidth(sheetName, "B", "B", 16)

	return f, nil
}

type workbookStyles struct {
	title  int
	header int
	cell   int
	number int
	total  int
}

func newStyles(f *excelize.File) (workbookStyles, error) {
	var s workbookStyles
	var err error

	thinBlack := []excelize.Border{
		{Type: "left", Style: 1, Color: "000000"},
		{Type: "right", Style: 1, Color: "000000"},
		{Type: "top", Style: 1, Color: "000000"},
		{Type: "bottom", Style: 1, Color: "000000"},
	}
	thinGrey := []excelize.Border{
		{Type: "left", Style: 1, Color: "CCCCCC"},
		{Type: "right", Style: 1, Color: "CCCCCC"},
		{Type: "top", Style: 1, Color: "CCCCCC"},
		{Type: "bottom", Style: 1, Color: "CCCCCC"},
	}

	if s.title, err = f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 14},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	}); err != nil {
		return s, err
	}

	if s.header, err = f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"366092"}},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
		Border:    thinBlack,
	}); err != nil {
		return s, err
	}

	if s.cell, err = f.NewStyle(&excelize.Style{
		Alignment: &excelize.Alignment{Horizontal: "left", Vertical: "center"},
		Border:    thinGrey,
	}); err != nil {
		return s, err
	}

	if s.number, err = f.NewStyle(&excelize.Style{
		Alignment: &excelize.Alignment{Horizontal: "right", Vertical: "center"},
		Border:    thinGrey,
	}); err != nil {
		return s, err
	}

	if s.total, err = f.NewStyle(&excelize.Style{
		Font:   &excelize.Font{Bold: true},
		Border: thinBlack,
	}); err != nil {
		return s, err
	}

	return s, nil
}
