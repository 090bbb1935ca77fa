package attendance

import (
	"fmt"
	"strings"
	"time"
)

// Status is the outcome recorded for a student on a class day.
type Status string

const (
	StatusPresent Status = "present"
	StatusAbsent  Status = "absent"
	StatusLate    Status = "late"
	StatusExcused Status = "excused"
)

// DefaultManualStatus is applied to a manual entry that carries no status.
const DefaultManualStatus = StatusAbsent

// Valid reports whether s is one of the four recorded outcomes.
func (s Status) Valid() bool {
	switch s {
	case StatusPresent, StatusAbsent, StatusLate, StatusExcused:
		return true
	default:
		return false
	}
}

// ParseStatus converts raw input into a Status. Matching is exact; an empty
// value yields DefaultManualStatus.
func ParseStatus(raw string) (Status, error) {
	if raw == "" {
		return DefaultManualStatus, nil
	}
	s := Status(raw)
	if !s.Valid() {
		return "", fmt.Errorf("unknown status %q", raw)
	}
	return s, nil
}

// EnrollmentStatus tells whether a student may accrue attendance in a class.
type EnrollmentStatus string

const (
	EnrollmentActive   EnrollmentStatus = "active"
	EnrollmentInactive EnrollmentStatus = "inactive"
)

// Valid reports whether s is a known enrollment status.
func (s EnrollmentStatus) Valid() bool {
	return s == EnrollmentActive || s == EnrollmentInactive
}

// Instructor owns classes.
type Instructor struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Department   string    `json:"department"`
	EmployeeID   string    `json:"employee_id"`
	CreatedAt    time.Time `json:"created_at"`
}

// Class is a course section taught by one instructor.
type Class struct {
	ID           int64     `json:"id"`
	InstructorID int64     `json:"instructor_id"`
	Name         string    `json:"name"`
	Code         string    `json:"code"`
	Section      string    `json:"section"`
	Description  *string   `json:"description,omitempty"`
	Days         string    `json:"days"`
	StartTime    string    `json:"start_time"`
	EndTime      string    `json:"end_time"`
	Room         *string   `json:"room,omitempty"`
	Active       bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
}

// Student is shared across every class it is enrolled in.
type Student struct {
	ID            int64     `json:"id"`
	Number        string    `json:"student_number"`
	FirstName     string    `json:"first_name"`
	MiddleInitial *string   `json:"middle_initial,omitempty"`
	LastName      string    `json:"last_name"`
	Email         *string   `json:"email,omitempty"`
	Phone         *string   `json:"phone,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// DisplayName renders "First M. Last".
func (s Student) DisplayName() string {
	parts := []string{s.FirstName}
	if s.MiddleInitial != nil && *s.MiddleInitial != "" {
		parts = append(parts, strings.TrimSuffix(*s.MiddleInitial, ".")+".")
	}
	parts = append(parts, s.LastName)
	return strings.Join(strings.Fields(strings.Join(parts, " ")), " ")
}

// Enrollment links a student to a class.
type Enrollment struct {
	ID         int64            `json:"id"`
	StudentID  int64            `json:"student_id"`
	ClassID    int64            `json:"class_id"`
	Status     EnrollmentStatus `json:"status"`
	EnrolledAt time.Time        `json:"enrolled_at"`
}

// Record is the single attendance outcome of a student in a class on a day.
type Record struct {
	ID        int64     `json:"id"`
	StudentID int64     `json:"student_id"`
	ClassID   int64     `json:"class_id"`
	Day       Date      `json:"day"`
	Status    Status    `json:"status"`
	MarkedAt  time.Time `json:"marked_at"`
	Notes     *string   `json:"notes,omitempty"`
}
