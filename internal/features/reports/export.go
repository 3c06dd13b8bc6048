package reports

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"
)

const (
	exportSheet  = "Reports"
	summarySheet = "Summary"
)

var exportHeader = []interface{}{
	"ID", "Submitted At", "Report Date", "Address", "Severity", "Reporter Name",
	"Reporter Phone", "Photo", "Status", "Mirror Status",
}

// WriteWorkbook renders a month of reports and its statistics as an xlsx
// workbook. Timestamps are shown in loc.
func WriteWorkbook(w io.Writer, reports []Report, stats *Statistics, loc *time.Location) error {
	if loc == nil {
		loc = time.UTC
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", exportSheet); err != nil {
		return err
	}
	if err := f.SetSheetRow(exportSheet, "A1", &exportHeader); err != nil {
		return err
	}
	for i, r := range reports {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []interface{}{
			r.ID,
			r.SubmittedAt.In(loc).Format("2006-01-02 15:04:05"),
			r.ReportDate,
			r.Address,
			r.FloodHeight,
			r.ReporterName,
			deref(r.ReporterPhone),
			deref(r.PhotoRef),
			r.Status,
			string(r.MirrorStatus),
		}
		if err := f.SetSheetRow(exportSheet, cell, &row); err != nil {
			return err
		}
	}
	_ = f.SetColWidth(exportSheet, "B", "B", 20)
	_ = f.SetColWidth(exportSheet, "D", "D", 40)

	if stats != nil {
		if _, err := f.NewSheet(summarySheet); err != nil {
			return err
		}
		rows := [][]interface{}{
			{"Month", stats.Month},
			{"Total reports", stats.TotalReports},
			{"Days with reports", stats.DaysWithReports},
			{"Average per day", stats.AvgPerDay},
			{"Most common severity", stats.MostCommonSeverity},
			{"Most affected address", stats.MostAffectedAddress},
		}
		if stats.PeakDay != nil {
			rows = append(rows, []interface{}{"Peak day", fmt.Sprintf("%s (%d)", stats.PeakDay.Date, stats.PeakDay.Count)})
		}
		for i := range rows {
			if err := f.SetSheetRow(summarySheet, fmt.Sprintf("A%d", i+1), &rows[i]); err != nil {
				return err
			}
		}
		_ = f.SetColWidth(summarySheet, "A", "A", 24)
	}

	return f.Write(w)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
