// Package export renders class reports as spreadsheets.
package export

import (
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/xuri/excelize/v2"

	"classroll/internal/attendance"
)

const (
	SummarySheet  = "Summary"
	StudentsSheet = "Students"

	// ContentType is the MIME type of an XLSX workbook.
	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

var studentHeader = []any{
	"Student No.", "Name", "Email", "Present", "Absent", "Late", "Excused", "Sessions", "Attendance %",
}

// ClassReportXLSX writes r as a workbook with a summary sheet and one row per
// student.
func ClassReportXLSX(w io.Writer, r *attendance.ClassReport) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SummarySheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("create style: %w", err)
	}

	if err := writeSummary(f, r, bold); err != nil {
		return err
	}
	if err := writeStudents(f, r, bold); err != nil {
		return err
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeSummary(f *excelize.File, r *attendance.ClassReport, bold int) error {
	rows := [][]any{
		{"Class", r.Class.Name},
		{"Code", r.Class.Code},
		{"Section", r.Class.Section},
		{"Schedule", strings.TrimSpace(r.Class.Days + " " + r.Class.StartTime + "-" + r.Class.EndTime)},
		{"Date", r.Summary.Date.String()},
		{"Total enrolled", r.Summary.TotalEnrolled},
		{"Total sessions", r.Summary.TotalSessions},
		{"Present today", r.Summary.PresentToday},
		{"Overall attendance %", r.Summary.OverallAttendanceRate},
		{"Generated at", r.GeneratedAt.Format("2006-01-02 15:04:05 MST")},
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(SummarySheet, cell, &row); err != nil {
			return fmt.Errorf("write summary row %d: %w", i+1, err)
		}
	}
	if err := f.SetCellStyle(SummarySheet, "A1", fmt.Sprintf("A%d", len(rows)), bold); err != nil {
		return fmt.Errorf("style summary: %w", err)
	}
	return f.SetColWidth(SummarySheet, "A", "A", 24)
}

func writeStudents(f *excelize.File, r *attendance.ClassReport, bold int) error {
	if _, err := f.NewSheet(StudentsSheet); err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}
	if err := f.SetSheetRow(StudentsSheet, "A1", &studentHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if err := f.SetCellStyle(StudentsSheet, "A1", "I1", bold); err != nil {
		return fmt.Errorf("style header: %w", err)
	}
	for i, s := range r.Students {
		email := ""
		if s.Email != nil {
			email = *s.Email
		}
		row := []any{
			s.StudentNumber, s.Name, email,
			s.Present, s.Absent, s.Late, s.Excused, s.TotalSessions, s.AttendanceRate,
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(StudentsSheet, cell, &row); err != nil {
			return fmt.Errorf("write student row %d: %w", i+2, err)
		}
	}
	if err := f.SetColWidth(StudentsSheet, "B", "C", 28); err != nil {
		return err
	}
	return f.SetPanes(StudentsSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	})
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Filename suggests a download name such as "CS101-A-2024-01-10.xlsx".
func Filename(r *attendance.ClassReport) string {
	parts := []string{r.Class.Code}
	if r.Class.Section != "" {
		parts = append(parts, r.Class.Section)
	}
	parts = append(parts, r.Summary.Date.String())
	name := unsafeName.ReplaceAllString(strings.Join(parts, "-"), "_")
	return name + ".xlsx"
}
