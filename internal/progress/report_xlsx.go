package progress

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const (
	summarySheet      = "Summary"
	certificatesSheet = "Certificates"
)

// FormatTimeSpent renders minutes as "2h 5m".
func FormatTimeSpent(minutes int) string {
	if minutes < 0 {
		minutes = 0
	}
	return fmt.Sprintf("%dh %dm", minutes/60, minutes%60)
}

// WriteReportXLSX renders r as a two-sheet workbook. Numeric cells stay
// numeric; the display column is formatted for lang.
func WriteReportXLSX(w io.Writer, r Report, lang language.Tag) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("create style: %w", err)
	}

	p := message.NewPrinter(lang)
	rows := [][]any{
		{"Metric", "Value", "Display"},
		{"Learner", r.LearnerID, r.LearnerID},
		{"Course", r.CourseID, r.CourseTitle},
		{"Status", string(r.Status), string(r.Status)},
		{"Overall progress", r.OverallProgress, p.Sprintf("%d%%", r.OverallProgress)},
		{"Time spent (minutes)", r.TimeSpent, FormatTimeSpent(r.TimeSpent)},
		{"Completed units", r.CompletedUnits, p.Sprintf("%d / %d", r.CompletedUnits, r.TotalUnits)},
		{"Total units", r.TotalUnits, p.Sprintf("%d", r.TotalUnits)},
		{"Average quiz score", r.AverageQuizScore, p.Sprintf("%.1f", r.AverageQuizScore)},
		{"Average assignment score", r.AverageAssignmentScore, p.Sprintf("%.1f", r.AverageAssignmentScore)},
	}
	if err := writeRows(f, summarySheet, rows); err != nil {
		return err
	}
	if err := f.SetCellStyle(summarySheet, "A1", "C1", bold); err != nil {
		return fmt.Errorf("style header: %w", err)
	}

	if _, err := f.NewSheet(certificatesSheet); err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}
	certRows := [][]any{{"ID", "Kind", "Issued at", "Achievement"}}
	for _, c := range r.Certificates {
		certRows = append(certRows, []any{c.ID, string(c.Kind), c.IssuedAt.UTC().Format("2006-01-02 15:04:05"), c.AchievementID})
	}
	if err := writeRows(f, certificatesSheet, certRows); err != nil {
		return err
	}
	if err := f.SetCellStyle(certificatesSheet, "A1", "D1", bold); err != nil {
		return fmt.Errorf("style header: %w", err)
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeRows(f *excelize.File, sheet string, rows [][]any) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("write %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}
