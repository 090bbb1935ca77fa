package attendance

import (
	"context"
	"time"
)

// Store is the relational store behind the core. Lookups return (nil, nil)
// when the row does not exist. Writes that clash with a unique key return
// the matching taxonomy error (ErrAlreadyMarked, ErrAlreadyEnrolled,
// ErrDuplicateKey) and writes that reference a missing row return
// ErrNotFound.
type Store interface {
	// WithTx runs fn in one transaction; any error rolls back every write
	// made through the Store handed to fn.
	WithTx(ctx context.Context, fn func(Store) error) error

	GetInstructor(ctx context.Context, id int64) (*Instructor, error)
	UpdateInstructor(ctx context.Context, id int64, p InstructorPatch) (*Instructor, error)

	GetClass(ctx context.Context, id int64) (*Class, error)
	CreateClass(ctx context.Context, c *Class) error
	UpdateClass(ctx context.Context, id int64, p ClassPatch) (*Class, error)
	DeleteClass(ctx context.Context, id int64) error
	ListClassSnapshots(ctx context.Context, instructorID int64, day Date) ([]ClassSnapshotRow, error)

	GetStudent(ctx context.Context, id int64) (*Student, error)
	// EnsureStudent returns the student with s.Number, creating it from s
	// when the number is unseen.
	EnsureStudent(ctx context.Context, s *Student) (*Student, error)
	UpdateStudent(ctx context.Context, id int64, p StudentPatch) (*Student, error)
	StudentTaughtBy(ctx context.Context, studentID, instructorID int64) (bool, error)

	GetEnrollment(ctx context.Context, studentID, classID int64) (*Enrollment, error)
	CreateEnrollment(ctx context.Context, e *Enrollment) error
	SetEnrollmentStatus(ctx context.Context, studentID, classID int64, status EnrollmentStatus) error
	CountActiveEnrollments(ctx context.Context, classID int64) (int, error)
	// ListStudentTallies returns every actively enrolled student of the class
	// with per-status counts over all of its records in that class.
	ListStudentTallies(ctx context.Context, classID int64) ([]StudentTally, error)

	// InsertRecord is insert-only: an existing key yields ErrAlreadyMarked.
	InsertRecord(ctx context.Context, r *Record) error
	// UpsertRecord inserts r or replaces the status of the existing record
	// with the same key, in one statement.
	UpsertRecord(ctx context.Context, r *Record) error
	ListDayRecords(ctx context.Context, classID int64, day Date) ([]Record, error)
	// ListStudentRecords returns records newest day first.
	ListStudentRecords(ctx context.Context, studentID, classID int64) ([]Record, error)
	CountSessionDays(ctx context.Context, classID int64) (int, error)
	CountDayStatus(ctx context.Context, classID int64, day Date, status Status) (int, error)
	InstructorTotals(ctx context.Context, instructorID int64, day Date) (InstructorTotals, error)
}

// InstructorPatch lists profile fields to change; nil leaves a field alone.
type InstructorPatch struct {
	Name         *string
	Department   *string
	PasswordHash *string
}

// ClassPatch lists class fields to change; nil leaves a field alone.
type ClassPatch struct {
	Name        *string
	Section     *string
	Description *string
	Days        *string
	StartTime   *string
	EndTime     *string
	Room        *string
	Active      *bool
}

// Empty reports whether the patch changes nothing.
func (p ClassPatch) Empty() bool {
	return p.Name == nil && p.Section == nil && p.Description == nil && p.Days == nil &&
		p.StartTime == nil && p.EndTime == nil && p.Room == nil && p.Active == nil
}

// StudentPatch lists student fields to change; nil leaves a field alone.
type StudentPatch struct {
	Number        *string
	FirstName     *string
	MiddleInitial *string
	LastName      *string
	Email         *string
	Phone         *string
}

// ClassSnapshotRow is a class with its active enrollment and the number of
// present records on one day.
type ClassSnapshotRow struct {
	Class
	Enrolled     int
	PresentToday int
}

// StudentTally counts one student's records in a class by status.
type StudentTally struct {
	Student
	EnrolledAt time.Time
	Present    int
	Absent     int
	Late       int
	Excused    int
}

// Total is the number of recorded sessions regardless of status.
func (t StudentTally) Total() int {
	return t.Present + t.Absent + t.Late + t.Excused
}

// InstructorTotals are the raw counts behind the instructor dashboard.
type InstructorTotals struct {
	EnrolledStudents int
	Classes          int
	PresentToday     int
	AbsentToday      int
}
