package attendance

import (
	"context"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	pathScan   = "scan"
	pathManual = "manual"
)

// ScanResult is the record written by a scan plus what the scanner shows.
type ScanResult struct {
	Record      Record `json:"record"`
	StudentName string `json:"student_name"`
	ClassName   string `json:"class_name"`
}

// ParseScanPayload splits a QR payload of the form
// "<studentId>|<classId>|<display name>".
func ParseScanPayload(raw string) (studentID, classID int64, name string, err error) {
	parts := strings.SplitN(strings.TrimSpace(raw), "|", 3)
	if len(parts) < 3 {
		return 0, 0, "", Validation("invalid QR code format")
	}
	studentID, err = strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64)
	if err != nil || studentID <= 0 {
		return 0, 0, "", Validation("invalid student id in QR code")
	}
	classID, err = strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
	if err != nil || classID <= 0 {
		return 0, 0, "", Validation("invalid class id in QR code")
	}
	return studentID, classID, strings.TrimSpace(parts[2]), nil
}

// MarkByScanPayload parses a scanned QR payload and records the student as
// present.
func (s *Service) MarkByScanPayload(ctx context.Context, callerID int64, payload string) (*ScanResult, error) {
	studentID, classID, _, err := ParseScanPayload(payload)
	if err != nil {
		return nil, err
	}
	return s.MarkByScan(ctx, callerID, studentID, classID)
}

// MarkByScan records studentID present in classID for the server's current
// day. It never overwrites: a second scan on the same day fails with
// ErrAlreadyMarked.
func (s *Service) MarkByScan(ctx context.Context, callerID, studentID, classID int64) (*ScanResult, error) {
	if studentID <= 0 {
		return nil, Validation("student id is required")
	}
	class, err := s.authorize(ctx, callerID, classID)
	if err != nil {
		return nil, err
	}
	student, err := s.store.GetStudent(ctx, studentID)
	if err != nil {
		return nil, classify("load student", err)
	}
	if student == nil {
		return nil, NotFound("student")
	}
	enrollment, err := s.store.GetEnrollment(ctx, studentID, classID)
	if err != nil {
		return nil, classify("load enrollment", err)
	}
	if enrollment == nil || enrollment.Status != EnrollmentActive {
		return nil, ErrNotEnrolled
	}

	now := s.now().In(s.loc)
	rec := &Record{
		StudentID: studentID,
		ClassID:   classID,
		Day:       DateOf(now),
		Status:    StatusPresent,
		MarkedAt:  now,
	}
	// the unique key on (student, class, day) decides concurrent scans
	if err := s.store.InsertRecord(ctx, rec); err != nil {
		return nil, classify("insert attendance", err)
	}

	s.log.Info("attendance marked",
		zap.String("path", pathScan),
		zap.Int64("class_id", classID),
		zap.Int64("student_id", studentID),
		zap.Stringer("day", rec.Day))
	s.marked(pathScan, StatusPresent)
	s.notify(ctx, Change{InstructorID: class.InstructorID, ClassID: classID, Day: rec.Day, Kind: ChangeScan})

	return &ScanResult{Record: *rec, StudentName: student.DisplayName(), ClassName: class.Name}, nil
}

// ManualEntry is one (student, status) pair of a manual batch. An empty
// status means DefaultManualStatus.
type ManualEntry struct {
	StudentID int64  `json:"student_id"`
	Status    string `json:"status"`
}

// SkippedEntry explains why a manual entry was not written.
type SkippedEntry struct {
	Index     int    `json:"index"`
	StudentID int64  `json:"student_id"`
	Reason    string `json:"reason"`
}

// ManualResult reports the outcome of a manual batch.
type ManualResult struct {
	Saved   int            `json:"saved"`
	Skipped []SkippedEntry `json:"skipped"`
}

// MarkManual writes a full roster for one day. Each valid entry is upserted
// so a later batch replaces the status of an earlier one; invalid entries are
// skipped and reported. The batch commits as a whole or not at all.
func (s *Service) MarkManual(ctx context.Context, callerID, classID int64, day Date, entries []ManualEntry) (*ManualResult, error) {
	class, err := s.authorize(ctx, callerID, classID)
	if err != nil {
		return nil, err
	}
	if day.IsZero() {
		return nil, Validation("date is required")
	}

	type write struct {
		studentID int64
		status    Status
	}
	res := &ManualResult{Skipped: []SkippedEntry{}}
	writes := make([]write, 0, len(entries))
	for i, e := range entries {
		if e.StudentID <= 0 {
			res.Skipped = append(res.Skipped, SkippedEntry{Index: i, StudentID: e.StudentID, Reason: "invalid student id"})
			continue
		}
		status, err := ParseStatus(e.Status)
		if err != nil {
			res.Skipped = append(res.Skipped, SkippedEntry{Index: i, StudentID: e.StudentID, Reason: err.Error()})
			continue
		}
		writes = append(writes, write{studentID: e.StudentID, status: status})
	}

	markedAt := day.At(s.now(), s.loc)
	err = s.store.WithTx(ctx, func(tx Store) error {
		for _, w := range writes {
			if err := tx.UpsertRecord(ctx, &Record{
				StudentID: w.studentID,
				ClassID:   classID,
				Day:       day,
				Status:    w.status,
				MarkedAt:  markedAt,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, classify("save attendance", err)
	}
	res.Saved = len(writes)

	s.log.Info("attendance marked",
		zap.String("path", pathManual),
		zap.Int64("class_id", classID),
		zap.Stringer("day", day),
		zap.Int("saved", res.Saved),
		zap.Int("skipped", len(res.Skipped)))
	for _, w := range writes {
		s.marked(pathManual, w.status)
	}
	if res.Saved > 0 {
		s.notify(ctx, Change{InstructorID: class.InstructorID, ClassID: classID, Day: day, Kind: ChangeManual})
	}
	return res, nil
}

// DayRecord is a stored record with its marking time formatted for display.
type DayRecord struct {
	Record
	TimeIn string `json:"time_in"`
}

// ClassAttendance lists the records of a class on day, defaulting to today.
func (s *Service) ClassAttendance(ctx context.Context, callerID, classID int64, day Date) ([]DayRecord, error) {
	if _, err := s.authorize(ctx, callerID, classID); err != nil {
		return nil, err
	}
	if day.IsZero() {
		day = s.Today()
	}
	recs, err := s.store.ListDayRecords(ctx, classID, day)
	if err != nil {
		return nil, classify("list attendance", err)
	}
	out := make([]DayRecord, 0, len(recs))
	for _, r := range recs {
		out = append(out, DayRecord{Record: r, TimeIn: s.clock(r.MarkedAt)})
	}
	return out, nil
}

func (s *Service) clock(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.In(s.loc).Format(timeDisplayLayout)
}
