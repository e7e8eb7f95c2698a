package render

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/xuri/excelize/v2"

	"github.com/garnizeh/jobpipe/internal/calendar"
	"github.com/garnizeh/jobpipe/pkg/models"
)

// ExportColumns is the header row shared by the CSV and XLSX exports.
var ExportColumns = []string{
	"id", "company", "title", "job_family", "tier", "stage", "source",
	"fit_score", "salary_range", "next_action", "next_action_date",
	"date_added", "last_activity", "jd_url",
}

const exportSheet = "Opportunities"

// exportRow returns the cells of o in ExportColumns order. Numbers stay
// numbers so spreadsheets can sort on them; absent values are nil.
func exportRow(o models.Opportunity) []any {
	var tierCell, fit any
	if o.Tier > 0 {
		tierCell = o.Tier
	}
	if o.FitScore != nil {
		fit = *o.FitScore
	}
	return []any{
		o.ID, o.Company, o.Title, string(o.JobFamily), tierCell, string(o.Stage), o.Source,
		fit, o.SalaryRange, o.NextAction, calendar.FormatDate(o.NextActionDate),
		calendar.FormatDate(o.CreatedAt), o.LastActivityAt.UTC().Format("2006-01-02T15:04:05Z"), o.JDURL,
	}
}

// WriteCSV writes opps with a header row.
func WriteCSV(w io.Writer, opps []models.Opportunity) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(ExportColumns); err != nil {
		return err
	}
	rec := make([]string, len(ExportColumns))
	for _, o := range opps {
		for i, v := range exportRow(o) {
			rec[i] = cellString(v)
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func cellString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case string:
		return x
	default:
		return fmt.Sprint(x)
	}
}

// WriteXLSX writes opps as a single-sheet workbook with a bold, frozen header.
func WriteXLSX(w io.Writer, opps []models.Opportunity) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", exportSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("header style: %w", err)
	}
	for i, h := range ExportColumns {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(exportSheet, cell, h); err != nil {
			return err
		}
	}
	last, err := excelize.CoordinatesToCellName(len(ExportColumns), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(exportSheet, "A1", last, bold); err != nil {
		return err
	}

	for r, o := range opps {
		for c, v := range exportRow(o) {
			if v == nil {
				continue
			}
			cell, err := excelize.CoordinatesToCellName(c+1, r+2)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(exportSheet, cell, v); err != nil {
				return err
			}
		}
	}

	if err := f.SetPanes(exportSheet, &excelize.Panes{
		Freeze: true, Split: false, XSplit: 0, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft",
	}); err != nil {
		return fmt.Errorf("freeze header: %w", err)
	}

	_, err = f.WriteTo(w)
	return err
}
