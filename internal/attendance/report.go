package attendance

import (
	"context"
	"math"
	"time"
)

// Percent returns part/whole*100 rounded to the nearest integer, or 0 when
// whole is zero.
func Percent(part, whole int) int {
	if whole <= 0 {
		return 0
	}
	return int(math.Round(float64(part) * 100 / float64(whole)))
}

// PercentOneDecimal is Percent rounded to one decimal place.
func PercentOneDecimal(part, whole int) float64 {
	if whole <= 0 {
		return 0
	}
	return math.Round(float64(part)*1000/float64(whole)) / 10
}

// ClassSnapshot is how full a class is on one day.
type ClassSnapshot struct {
	Enrolled       int `json:"enrolled"`
	PresentToday   int `json:"present_today"`
	AttendanceRate int `json:"attendance_rate"`
}

// NewClassSnapshot derives the daily rate from active enrollment.
func NewClassSnapshot(enrolled, presentToday int) ClassSnapshot {
	return ClassSnapshot{
		Enrolled:       enrolled,
		PresentToday:   presentToday,
		AttendanceRate: Percent(presentToday, enrolled),
	}
}

// Dashboard summarizes all classes of an instructor for one day.
type Dashboard struct {
	Date             Date   `json:"date"`
	DateFormatted    string `json:"date_formatted"`
	InstructorName   string `json:"instructor_name"`
	EnrolledStudents int    `json:"enrolled_students"`
	EnrolledClasses  int    `json:"enrolled_classes"`
	PresentToday     int    `json:"present_today"`
	AbsentToday      int    `json:"absent_today"`
	AttendanceRate   int    `json:"attendance_rate"`
}

// DashboardStats aggregates today's attendance across every class of the
// caller. The rate only counts explicit present and absent records.
func (s *Service) DashboardStats(ctx context.Context, callerID int64) (*Dashboard, error) {
	if callerID <= 0 {
		return nil, Validation("instructor id is required")
	}
	today := s.Today()
	var gen Generation
	if s.cache != nil {
		d, g, ok := s.cache.Dashboard(ctx, callerID, today)
		if ok {
			return d, nil
		}
		gen = g
	}

	instructor, err := s.store.GetInstructor(ctx, callerID)
	if err != nil {
		return nil, classify("load instructor", err)
	}
	totals, err := s.store.InstructorTotals(ctx, callerID, today)
	if err != nil {
		return nil, classify("count attendance", err)
	}
	d := &Dashboard{
		Date:             today,
		DateFormatted:    today.Format(dayDisplayLayout),
		InstructorName:   "Instructor",
		EnrolledStudents: totals.EnrolledStudents,
		EnrolledClasses:  totals.Classes,
		PresentToday:     totals.PresentToday,
		AbsentToday:      totals.AbsentToday,
		AttendanceRate:   Percent(totals.PresentToday, totals.PresentToday+totals.AbsentToday),
	}
	if instructor != nil && instructor.Name != "" {
		d.InstructorName = instructor.Name
	}

	if s.cache != nil {
		s.cache.StoreDashboard(ctx, callerID, today, gen, d)
	}
	return d, nil
}

// ReportSummary holds the class-level figures of a report.
type ReportSummary struct {
	Date                  Date    `json:"date"`
	TotalEnrolled         int     `json:"total_enrolled"`
	TotalSessions         int     `json:"total_sessions"`
	PresentToday          int     `json:"present_today"`
	OverallAttendanceRate float64 `json:"overall_attendance_rate"`
}

// StudentReportRow is one student's line in a class report.
type StudentReportRow struct {
	StudentID      int64   `json:"student_id"`
	StudentNumber  string  `json:"student_number"`
	Name           string  `json:"name"`
	Email          *string `json:"email,omitempty"`
	Present        int     `json:"present"`
	Absent         int     `json:"absent"`
	Late           int     `json:"late"`
	Excused        int     `json:"excused"`
	TotalSessions  int     `json:"total_sessions"`
	AttendanceRate float64 `json:"attendance_rate"`
}

// ClassReport is the full attendance report of a class.
type ClassReport struct {
	Class       Class              `json:"class"`
	Summary     ReportSummary      `json:"summary"`
	Students    []StudentReportRow `json:"students"`
	GeneratedAt time.Time          `json:"generated_at"`
}

// ClassReport builds the report of a class owned by the caller. The overall
// rate pools every recorded session of every student; it is not the mean of
// the per-student rates.
func (s *Service) ClassReport(ctx context.Context, callerID, classID int64) (*ClassReport, error) {
	class, err := s.authorize(ctx, callerID, classID)
	if err != nil {
		return nil, err
	}
	today := s.Today()
	var gen Generation
	if s.cache != nil {
		r, g, ok := s.cache.ClassReport(ctx, classID, today)
		if ok {
			return r, nil
		}
		gen = g
	}

	enrolled, err := s.store.CountActiveEnrollments(ctx, classID)
	if err != nil {
		return nil, classify("count enrollments", err)
	}
	sessions, err := s.store.CountSessionDays(ctx, classID)
	if err != nil {
		return nil, classify("count sessions", err)
	}
	presentToday, err := s.store.CountDayStatus(ctx, classID, today, StatusPresent)
	if err != nil {
		return nil, classify("count present", err)
	}
	tallies, err := s.store.ListStudentTallies(ctx, classID)
	if err != nil {
		return nil, classify("tally students", err)
	}

	rows := make([]StudentReportRow, 0, len(tallies))
	var sumPresent, sumTotal int
	for _, t := range tallies {
		total := t.Total()
		sumPresent += t.Present
		sumTotal += total
		rows = append(rows, StudentReportRow{
			StudentID:      t.ID,
			StudentNumber:  t.Number,
			Name:           t.DisplayName(),
			Email:          t.Email,
			Present:        t.Present,
			Absent:         t.Absent,
			Late:           t.Late,
			Excused:        t.Excused,
			TotalSessions:  total,
			AttendanceRate: PercentOneDecimal(t.Present, total),
		})
	}

	r := &ClassReport{
		Class: *class,
		Summary: ReportSummary{
			Date:                  today,
			TotalEnrolled:         enrolled,
			TotalSessions:         sessions,
			PresentToday:          presentToday,
			OverallAttendanceRate: PercentOneDecimal(sumPresent, sumTotal),
		},
		Students:    rows,
		GeneratedAt: s.now().In(s.loc),
	}
	if s.cache != nil {
		s.cache.StoreClassReport(ctx, classID, today, gen, r)
	}
	return r, nil
}

// HistoryEntry is one record in a student's history.
type HistoryEntry struct {
	ID           int64   `json:"id"`
	Day          Date    `json:"date"`
	DayFormatted string  `json:"date_formatted"`
	TimeIn       string  `json:"time_in"`
	Status       Status  `json:"status"`
	Notes        *string `json:"notes,omitempty"`
}

// StudentHistory lists a student's records in a class, newest day first.
func (s *Service) StudentHistory(ctx context.Context, callerID, studentID, classID int64) ([]HistoryEntry, error) {
	if _, err := s.authorize(ctx, callerID, classID); err != nil {
		return nil, err
	}
	if studentID <= 0 {
		return nil, Validation("student id is required")
	}
	student, err := s.store.GetStudent(ctx, studentID)
	if err != nil {
		return nil, classify("load student", err)
	}
	if student == nil {
		return nil, NotFound("student")
	}
	recs, err := s.store.ListStudentRecords(ctx, studentID, classID)
	if err != nil {
		return nil, classify("list history", err)
	}
	out := make([]HistoryEntry, 0, len(recs))
	for _, r := range recs {
		out = append(out, HistoryEntry{
			ID:           r.ID,
			Day:          r.Day,
			DayFormatted: r.Day.Format(dayDisplayLayout),
			TimeIn:       s.clock(r.MarkedAt),
			Status:       r.Status,
			Notes:        r.Notes,
		})
	}
	return out, nil
}
