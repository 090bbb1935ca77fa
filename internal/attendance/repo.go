package attendance

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Constraint names from the initial migration. Unique and foreign-key
// violations are translated by name.
const (
	constraintAttendanceKey   = "attendance_student_class_day_key"
	constraintEnrollmentKey   = "enrollments_student_class_key"
	constraintStudentNumber   = "students_student_number_key"
	constraintStudentEmail    = "students_email_key"
	constraintInstructorEmail = "instructors_email_key"
	constraintClassCode       = "classes_instructor_code_section_key"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgCheckViolation      = "23514"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type scanner interface {
	Scan(dest ...any) error
}

// Repository persists the ledger and registry in Postgres.
type Repository struct {
	pool *pgxpool.Pool
	q    querier
}

// NewRepository creates a repo.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, q: pool}
}

// WithTx runs fn inside one transaction. Calls made on an already
// transactional repository join the outer transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(Store) error) error {
	if r.pool == nil {
		return fn(r)
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&Repository{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return translate("commit transaction", err)
	}
	return nil
}

// translate maps Postgres constraint violations onto the error taxonomy and
// wraps everything else with op.
func translate(op string, err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return fmt.Errorf("%s: %w", op, err)
	}
	switch pgErr.Code {
	case pgUniqueViolation:
		switch pgErr.ConstraintName {
		case constraintAttendanceKey:
			return ErrAlreadyMarked
		case constraintEnrollmentKey:
			return ErrAlreadyEnrolled
		case constraintStudentNumber:
			return DuplicateKey("student number is already used by another student")
		case constraintStudentEmail:
			return DuplicateKey("email is already used by another student")
		case constraintInstructorEmail:
			return DuplicateKey("email is already used by another instructor")
		case constraintClassCode:
			return DuplicateKey("class code and section already exist")
		default:
			return DuplicateKey("duplicate value")
		}
	case pgForeignKeyViolation:
		return NotFound(referencedResource(pgErr.ConstraintName))
	case pgCheckViolation:
		return Validation("value rejected by constraint " + pgErr.ConstraintName)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func referencedResource(constraint string) string {
	switch constraint {
	case "attendance_student_id_fkey", "enrollments_student_id_fkey":
		return "student"
	case "enrollments_class_id_fkey":
		return "class"
	case "classes_instructor_id_fkey":
		return "instructor"
	default:
		return "referenced row"
	}
}

const instructorColumns = `id, name, email, password_hash, department, employee_id, created_at`

func scanInstructor(row scanner) (*Instructor, error) {
	var in Instructor
	err := row.Scan(&in.ID, &in.Name, &in.Email, &in.PasswordHash, &in.Department, &in.EmployeeID, &in.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &in, nil
}

func (r *Repository) GetInstructor(ctx context.Context, id int64) (*Instructor, error) {
	in, err := scanInstructor(r.q.QueryRow(ctx, `SELECT `+instructorColumns+` FROM instructors WHERE id = $1`, id))
	if err != nil {
		return nil, translate("get instructor", err)
	}
	return in, nil
}

func (r *Repository) UpdateInstructor(ctx context.Context, id int64, p InstructorPatch) (*Instructor, error) {
	in, err := scanInstructor(r.q.QueryRow(ctx, `
		UPDATE instructors SET
			name = COALESCE($2::text, name),
			department = COALESCE($3::text, department),
			password_hash = COALESCE($4::text, password_hash)
		WHERE id = $1
		RETURNING `+instructorColumns,
		id, p.Name, p.Department, p.PasswordHash))
	if err != nil {
		return nil, translate("update instructor", err)
	}
	return in, nil
}

const classColumns = `c.id, c.instructor_id, c.name, c.code, c.section, c.description, c.days,
	c.start_time, c.end_time, c.room, c.is_active, c.created_at`

func classDest(c *Class) []any {
	return []any{&c.ID, &c.InstructorID, &c.Name, &c.Code, &c.Section, &c.Description, &c.Days,
		&c.StartTime, &c.EndTime, &c.Room, &c.Active, &c.CreatedAt}
}

func scanClass(row scanner) (*Class, error) {
	var c Class
	err := row.Scan(classDest(&c)...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *Repository) GetClass(ctx context.Context, id int64) (*Class, error) {
	c, err := scanClass(r.q.QueryRow(ctx, `SELECT `+classColumns+` FROM classes c WHERE c.id = $1`, id))
	if err != nil {
		return nil, translate("get class", err)
	}
	return c, nil
}

func (r *Repository) CreateClass(ctx context.Context, c *Class) error {
	err := r.q.QueryRow(ctx, `
		INSERT INTO classes (instructor_id, name, code, section, description, days, start_time, end_time, room, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at
	`, c.InstructorID, c.Name, c.Code, c.Section, c.Description, c.Days, c.StartTime, c.EndTime, c.Room, c.Active, c.CreatedAt).
		Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		return translate("create class", err)
	}
	return nil
}

func (r *Repository) UpdateClass(ctx context.Context, id int64, p ClassPatch) (*Class, error) {
	c, err := scanClass(r.q.QueryRow(ctx, `
		UPDATE classes c SET
			name = COALESCE($2::text, c.name),
			section = COALESCE($3::text, c.section),
			description = CASE WHEN $4::text IS NULL THEN c.description ELSE NULLIF($4::text, '') END,
			days = COALESCE($5::text, c.days),
			start_time = COALESCE($6::text, c.start_time),
			end_time = COALESCE($7::text, c.end_time),
			room = CASE WHEN $8::text IS NULL THEN c.room ELSE NULLIF($8::text, '') END,
			is_active = COALESCE($9::boolean, c.is_active)
		WHERE c.id = $1
		RETURNING `+classColumns,
		id, p.Name, p.Section, p.Description, p.Days, p.StartTime, p.EndTime, p.Room, p.Active))
	if err != nil {
		return nil, translate("update class", err)
	}
	return c, nil
}

func (r *Repository) DeleteClass(ctx context.Context, id int64) error {
	tag, err := r.q.Exec(ctx, `DELETE FROM classes WHERE id = $1`, id)
	if err != nil {
		return translate("delete class", err)
	}
	if tag.RowsAffected() == 0 {
		return NotFound("class")
	}
	return nil
}

func (r *Repository) ListClassSnapshots(ctx context.Context, instructorID int64, day Date) ([]ClassSnapshotRow, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+classColumns+`,
			(SELECT COUNT(*) FROM enrollments e WHERE e.class_id = c.id AND e.status = 'active'),
			(SELECT COUNT(*) FROM attendance a WHERE a.class_id = c.id AND a.day = $2::date AND a.status = 'present')
		FROM classes c
		WHERE c.instructor_id = $1
		ORDER BY c.created_at DESC, c.id DESC
	`, instructorID, day.String())
	if err != nil {
		return nil, translate("list classes", err)
	}
	defer rows.Close()

	var out []ClassSnapshotRow
	for rows.Next() {
		var row ClassSnapshotRow
		dest := append(classDest(&row.Class), &row.Enrolled, &row.PresentToday)
		if err := rows.Scan(dest...); err != nil {
			return nil, translate("scan class", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, translate("list classes", err)
	}
	return out, nil
}

const studentColumns = `s.id, s.student_number, s.first_name, s.middle_initial, s.last_name, s.email, s.phone, s.created_at`

func studentDest(s *Student) []any {
	return []any{&s.ID, &s.Number, &s.FirstName, &s.MiddleInitial, &s.LastName, &s.Email, &s.Phone, &s.CreatedAt}
}

func scanStudent(row scanner) (*Student, error) {
	var s Student
	err := row.Scan(studentDest(&s)...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *Repository) GetStudent(ctx context.Context, id int64) (*Student, error) {
	s, err := scanStudent(r.q.QueryRow(ctx, `SELECT `+studentColumns+` FROM students s WHERE s.id = $1`, id))
	if err != nil {
		return nil, translate("get student", err)
	}
	return s, nil
}

func (r *Repository) EnsureStudent(ctx context.Context, st *Student) (*Student, error) {
	created, err := scanStudent(r.q.QueryRow(ctx, `
		INSERT INTO students AS s (student_number, first_name, middle_initial, last_name, email, phone)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (student_number) DO NOTHING
		RETURNING `+studentColumns,
		st.Number, st.FirstName, st.MiddleInitial, st.LastName, st.Email, st.Phone))
	if err != nil {
		return nil, translate("create student", err)
	}
	if created != nil {
		return created, nil
	}
	existing, err := scanStudent(r.q.QueryRow(ctx, `SELECT `+studentColumns+` FROM students s WHERE s.student_number = $1`, st.Number))
	if err != nil {
		return nil, translate("get student by number", err)
	}
	if existing == nil {
		return nil, fmt.Errorf("student %q vanished after conflict", st.Number)
	}
	return existing, nil
}

func (r *Repository) UpdateStudent(ctx context.Context, id int64, p StudentPatch) (*Student, error) {
	s, err := scanStudent(r.q.QueryRow(ctx, `
		UPDATE students s SET
			student_number = COALESCE($2::text, s.student_number),
			first_name = COALESCE($3::text, s.first_name),
			middle_initial = CASE WHEN $4::text IS NULL THEN s.middle_initial ELSE NULLIF($4::text, '') END,
			last_name = COALESCE($5::text, s.last_name),
			email = CASE WHEN $6::text IS NULL THEN s.email ELSE NULLIF($6::text, '') END,
			phone = CASE WHEN $7::text IS NULL THEN s.phone ELSE NULLIF($7::text, '') END
		WHERE s.id = $1
		RETURNING `+studentColumns,
		id, p.Number, p.FirstName, p.MiddleInitial, p.LastName, p.Email, p.Phone))
	if err != nil {
		return nil, translate("update student", err)
	}
	return s, nil
}

func (r *Repository) StudentTaughtBy(ctx context.Context, studentID, instructorID int64) (bool, error) {
	var ok bool
	err := r.q.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM enrollments e
			JOIN classes c ON c.id = e.class_id
			WHERE e.student_id = $1 AND c.instructor_id = $2
		)
	`, studentID, instructorID).Scan(&ok)
	if err != nil {
		return false, translate("check student access", err)
	}
	return ok, nil
}

func (r *Repository) GetEnrollment(ctx context.Context, studentID, classID int64) (*Enrollment, error) {
	var e Enrollment
	err := r.q.QueryRow(ctx, `
		SELECT id, student_id, class_id, status, enrolled_at
		FROM enrollments
		WHERE student_id = $1 AND class_id = $2
	`, studentID, classID).Scan(&e.ID, &e.StudentID, &e.ClassID, &e.Status, &e.EnrolledAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, translate("get enrollment", err)
	}
	return &e, nil
}

func (r *Repository) CreateEnrollment(ctx context.Context, e *Enrollment) error {
	err := r.q.QueryRow(ctx, `
		INSERT INTO enrollments (student_id, class_id, status, enrolled_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, e.StudentID, e.ClassID, string(e.Status), e.EnrolledAt).Scan(&e.ID)
	if err != nil {
		return translate("create enrollment", err)
	}
	return nil
}

func (r *Repository) SetEnrollmentStatus(ctx context.Context, studentID, classID int64, status EnrollmentStatus) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE enrollments SET status = $3 WHERE student_id = $1 AND class_id = $2
	`, studentID, classID, string(status))
	if err != nil {
		return translate("set enrollment status", err)
	}
	if tag.RowsAffected() == 0 {
		return NotFound("enrollment")
	}
	return nil
}

func (r *Repository) CountActiveEnrollments(ctx context.Context, classID int64) (int, error) {
	var n int
	err := r.q.QueryRow(ctx, `SELECT COUNT(*) FROM enrollments WHERE class_id = $1 AND status = 'active'`, classID).Scan(&n)
	if err != nil {
		return 0, translate("count enrollments", err)
	}
	return n, nil
}

func (r *Repository) ListStudentTallies(ctx context.Context, classID int64) ([]StudentTally, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+studentColumns+`, e.enrolled_at,
			COUNT(a.id) FILTER (WHERE a.status = 'present'),
			COUNT(a.id) FILTER (WHERE a.status = 'absent'),
			COUNT(a.id) FILTER (WHERE a.status = 'late'),
			COUNT(a.id) FILTER (WHERE a.status = 'excused')
		FROM enrollments e
		JOIN students s ON s.id = e.student_id
		LEFT JOIN attendance a ON a.student_id = e.student_id AND a.class_id = e.class_id
		WHERE e.class_id = $1 AND e.status = 'active'
		GROUP BY s.id, e.enrolled_at
		ORDER BY s.last_name, s.first_name, s.id
	`, classID)
	if err != nil {
		return nil, translate("list tallies", err)
	}
	defer rows.Close()

	var out []StudentTally
	for rows.Next() {
		var t StudentTally
		dest := append(studentDest(&t.Student), &t.EnrolledAt, &t.Present, &t.Absent, &t.Late, &t.Excused)
		if err := rows.Scan(dest...); err != nil {
			return nil, translate("scan tally", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, translate("list tallies", err)
	}
	return out, nil
}

func (r *Repository) InsertRecord(ctx context.Context, rec *Record) error {
	err := r.q.QueryRow(ctx, `
		INSERT INTO attendance (student_id, class_id, day, status, marked_at, notes)
		VALUES ($1, $2, $3::date, $4, $5, $6)
		RETURNING id
	`, rec.StudentID, rec.ClassID, rec.Day.String(), string(rec.Status), rec.MarkedAt, rec.Notes).Scan(&rec.ID)
	if err != nil {
		return translate("insert attendance", err)
	}
	return nil
}

func (r *Repository) UpsertRecord(ctx context.Context, rec *Record) error {
	err := r.q.QueryRow(ctx, `
		INSERT INTO attendance (student_id, class_id, day, status, marked_at, notes)
		VALUES ($1, $2, $3::date, $4, $5, $6)
		ON CONFLICT (student_id, class_id, day) DO UPDATE SET status = EXCLUDED.status
		RETURNING id, marked_at
	`, rec.StudentID, rec.ClassID, rec.Day.String(), string(rec.Status), rec.MarkedAt, rec.Notes).Scan(&rec.ID, &rec.MarkedAt)
	if err != nil {
		return translate("upsert attendance", err)
	}
	return nil
}

func (r *Repository) listRecords(ctx context.Context, op, query string, args ...any) ([]Record, error) {
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, translate(op, err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.StudentID, &rec.ClassID, &rec.Day.Time, &rec.Status, &rec.MarkedAt, &rec.Notes); err != nil {
			return nil, translate(op, err)
		}
		rec.Day = DateOf(rec.Day.Time)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, translate(op, err)
	}
	return out, nil
}

func (r *Repository) ListDayRecords(ctx context.Context, classID int64, day Date) ([]Record, error) {
	return r.listRecords(ctx, "list day attendance", `
		SELECT id, student_id, class_id, day, status, marked_at, notes
		FROM attendance
		WHERE class_id = $1 AND day = $2::date
		ORDER BY marked_at, id
	`, classID, day.String())
}

func (r *Repository) ListStudentRecords(ctx context.Context, studentID, classID int64) ([]Record, error) {
	return r.listRecords(ctx, "list student attendance", `
		SELECT id, student_id, class_id, day, status, marked_at, notes
		FROM attendance
		WHERE student_id = $1 AND class_id = $2
		ORDER BY day DESC, marked_at DESC
	`, studentID, classID)
}

func (r *Repository) CountSessionDays(ctx context.Context, classID int64) (int, error) {
	var n int
	err := r.q.QueryRow(ctx, `SELECT COUNT(DISTINCT day) FROM attendance WHERE class_id = $1`, classID).Scan(&n)
	if err != nil {
		return 0, translate("count sessions", err)
	}
	return n, nil
}

func (r *Repository) CountDayStatus(ctx context.Context, classID int64, day Date, status Status) (int, error) {
	var n int
	err := r.q.QueryRow(ctx, `
		SELECT COUNT(*) FROM attendance WHERE class_id = $1 AND day = $2::date AND status = $3
	`, classID, day.String(), string(status)).Scan(&n)
	if err != nil {
		return 0, translate("count day status", err)
	}
	return n, nil
}

func (r *Repository) InstructorTotals(ctx context.Context, instructorID int64, day Date) (InstructorTotals, error) {
	var t InstructorTotals
	err := r.q.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(DISTINCT e.student_id)
				FROM enrollments e JOIN classes c ON c.id = e.class_id
				WHERE c.instructor_id = $1 AND e.status = 'active'),
			(SELECT COUNT(*) FROM classes WHERE instructor_id = $1),
			(SELECT COUNT(*)
				FROM attendance a JOIN classes c ON c.id = a.class_id
				WHERE c.instructor_id = $1 AND a.day = $2::date AND a.status = 'present'),
			(SELECT COUNT(*)
				FROM attendance a JOIN classes c ON c.id = a.class_id
				WHERE c.instructor_id = $1 AND a.day = $2::date AND a.status = 'absent')
	`, instructorID, day.String()).Scan(&t.EnrolledStudents, &t.Classes, &t.PresentToday, &t.AbsentToday)
	if err != nil {
		return InstructorTotals{}, translate("instructor totals", err)
	}
	return t, nil
}

var _ Store = (*Repository)(nil)
