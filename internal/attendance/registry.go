package attendance

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
)

// EnrollRequest identifies the student to enroll. The student row is
// created on first sight of StudentNumber and reused afterwards.
type EnrollRequest struct {
	StudentNumber string  `json:"student_number" validate:"required,max=32"`
	FirstName     string  `json:"first_name" validate:"required,max=100"`
	MiddleInitial *string `json:"middle_initial" validate:"omitempty,max=5"`
	LastName      string  `json:"last_name" validate:"required,max=100"`
	Phone         string  `json:"phone" validate:"required,max=32"`
	Email         *string `json:"email" validate:"omitempty,email,max=255"`
}

// EnrollResult is returned by Enroll.
type EnrollResult struct {
	Student    Student    `json:"student"`
	Enrollment Enrollment `json:"enrollment"`
	ClassName  string     `json:"class_name"`
}

// EnrolledStudent is an active student of a class with its attendance
// counts in that class.
type EnrolledStudent struct {
	Student
	EnrolledAt     time.Time `json:"enrolled_at"`
	TotalPresent   int       `json:"total_present"`
	TotalSessions  int       `json:"total_sessions"`
	AttendanceRate int       `json:"attendance_rate"`
}

// UpdateStudentRequest lists student fields to change. Nil fields are left
// alone; an empty email, phone or middle initial clears the value.
type UpdateStudentRequest struct {
	StudentNumber *string `json:"student_number" validate:"omitempty,max=32"`
	FirstName     *string `json:"first_name" validate:"omitempty,max=100"`
	MiddleInitial *string `json:"middle_initial" validate:"omitempty,max=5"`
	LastName      *string `json:"last_name" validate:"omitempty,max=100"`
	Email         *string `json:"email" validate:"omitempty,email,max=255"`
	Phone         *string `json:"phone" validate:"omitempty,max=32"`
}

// Enroll adds a student to a class, creating the student if needed.
func (s *Service) Enroll(ctx context.Context, callerID, classID int64, req EnrollRequest) (*EnrollResult, error) {
	class, err := s.authorize(ctx, callerID, classID)
	if err != nil {
		return nil, err
	}

	req.StudentNumber = strings.TrimSpace(req.StudentNumber)
	req.FirstName = strings.TrimSpace(req.FirstName)
	req.LastName = strings.TrimSpace(req.LastName)
	req.Phone = strings.TrimSpace(req.Phone)
	req.MiddleInitial = nilIfEmpty(trimOptional(req.MiddleInitial))
	req.Email = nilIfEmpty(trimOptional(req.Email))
	if err := s.check(req); err != nil {
		return nil, err
	}

	res := &EnrollResult{ClassName: class.Name}
	err = s.store.WithTx(ctx, func(tx Store) error {
		student, err := tx.EnsureStudent(ctx, &Student{
			Number:        req.StudentNumber,
			FirstName:     req.FirstName,
			MiddleInitial: req.MiddleInitial,
			LastName:      req.LastName,
			Email:         req.Email,
			Phone:         &req.Phone,
		})
		if err != nil {
			return err
		}
		enrollment := &Enrollment{
			StudentID:  student.ID,
			ClassID:    class.ID,
			Status:     EnrollmentActive,
			EnrolledAt: s.now(),
		}
		if err := tx.CreateEnrollment(ctx, enrollment); err != nil {
			return err
		}
		res.Student = *student
		res.Enrollment = *enrollment
		return nil
	})
	if err != nil {
		return nil, classify("enroll student", err)
	}

	s.log.Info("student enrolled",
		zap.Int64("class_id", class.ID),
		zap.Int64("student_id", res.Student.ID),
		zap.String("student_number", res.Student.Number))
	s.notify(ctx, Change{InstructorID: class.InstructorID, ClassID: class.ID, Day: s.Today(), Kind: ChangeEnrollment})
	return res, nil
}

// ListActiveStudents returns the class roster with per-student attendance
// rates rounded to whole percent.
func (s *Service) ListActiveStudents(ctx context.Context, callerID, classID int64) ([]EnrolledStudent, error) {
	if _, err := s.authorize(ctx, callerID, classID); err != nil {
		return nil, err
	}
	tallies, err := s.store.ListStudentTallies(ctx, classID)
	if err != nil {
		return nil, classify("list students", err)
	}
	out := make([]EnrolledStudent, 0, len(tallies))
	for _, t := range tallies {
		out = append(out, EnrolledStudent{
			Student:        t.Student,
			EnrolledAt:     t.EnrolledAt,
			TotalPresent:   t.Present,
			TotalSessions:  t.Total(),
			AttendanceRate: Percent(t.Present, t.Total()),
		})
	}
	return out, nil
}

// UpdateStudent edits a student enrolled in at least one of the caller's
// classes.
func (s *Service) UpdateStudent(ctx context.Context, callerID, studentID int64, req UpdateStudentRequest) (*Student, error) {
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
	taught, err := s.store.StudentTaughtBy(ctx, studentID, callerID)
	if err != nil {
		return nil, classify("check student access", err)
	}
	if !taught {
		return nil, &Error{Kind: KindAccessDenied, Message: "you do not have permission to edit this student"}
	}

	req.StudentNumber = trimOptional(req.StudentNumber)
	req.FirstName = trimOptional(req.FirstName)
	req.LastName = trimOptional(req.LastName)
	req.MiddleInitial = trimOptional(req.MiddleInitial)
	req.Email = trimOptional(req.Email)
	req.Phone = trimOptional(req.Phone)
	// empty optional fields clear the column and skip their format rules
	candidate := req
	candidate.MiddleInitial = nilIfEmpty(candidate.MiddleInitial)
	candidate.Email = nilIfEmpty(candidate.Email)
	candidate.Phone = nilIfEmpty(candidate.Phone)
	if err := s.check(candidate); err != nil {
		return nil, err
	}
	for field, v := range map[string]*string{
		"student_number": req.StudentNumber,
		"first_name":     req.FirstName,
		"last_name":      req.LastName,
	} {
		if v != nil && *v == "" {
			return nil, &Error{Kind: KindValidation, Message: "invalid request", Details: map[string]string{field: "cannot be blank"}}
		}
	}

	updated, err := s.store.UpdateStudent(ctx, studentID, StudentPatch{
		Number:        req.StudentNumber,
		FirstName:     req.FirstName,
		MiddleInitial: req.MiddleInitial,
		LastName:      req.LastName,
		Email:         req.Email,
		Phone:         req.Phone,
	})
	if err != nil {
		return nil, classify("update student", err)
	}
	if updated == nil {
		return nil, NotFound("student")
	}
	s.log.Info("student updated", zap.Int64("student_id", studentID), zap.Int64("caller_id", callerID))
	return updated, nil
}

// SetEnrollmentStatus activates or deactivates a student in a class.
// Inactive students keep their history but stop counting as enrolled.
func (s *Service) SetEnrollmentStatus(ctx context.Context, callerID, classID, studentID int64, status EnrollmentStatus) error {
	class, err := s.authorize(ctx, callerID, classID)
	if err != nil {
		return err
	}
	if studentID <= 0 {
		return Validation("student id is required")
	}
	if !status.Valid() {
		return Validation("status must be active or inactive")
	}
	if err := s.store.SetEnrollmentStatus(ctx, studentID, classID, status); err != nil {
		return classify("set enrollment status", err)
	}
	s.log.Info("enrollment status changed",
		zap.Int64("class_id", classID),
		zap.Int64("student_id", studentID),
		zap.String("status", string(status)))
	s.notify(ctx, Change{InstructorID: class.InstructorID, ClassID: classID, Day: s.Today(), Kind: ChangeEnrollment})
	return nil
}

func trimOptional(v *string) *string {
	if v == nil {
		return nil
	}
	t := strings.TrimSpace(*v)
	return &t
}

func nilIfEmpty(v *string) *string {
	if v == nil || *v == "" {
		return nil
	}
	return v
}
