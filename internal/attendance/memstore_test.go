package attendance

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// memStore is an in-memory Store holding the same unique keys as the
// Postgres schema. WithTx works on a copy that replaces the live state only
// when fn succeeds.
type memStore struct {
	mu   sync.Mutex
	st   *memState
	inTx bool

	// failUpsertFor makes UpsertRecord fail for that student id.
	failUpsertFor int64
}

type memState struct {
	nextID      int64
	instructors map[int64]Instructor
	classes     map[int64]Class
	students    map[int64]Student
	enrollments map[int64]Enrollment
	records     map[int64]Record
}

var errInjected = errors.New("connection reset by peer")

func newMemStore() *memStore {
	return &memStore{st: &memState{
		instructors: map[int64]Instructor{},
		classes:     map[int64]Class{},
		students:    map[int64]Student{},
		enrollments: map[int64]Enrollment{},
		records:     map[int64]Record{},
	}}
}

func (s *memState) clone() *memState {
	c := &memState{
		nextID:      s.nextID,
		instructors: make(map[int64]Instructor, len(s.instructors)),
		classes:     make(map[int64]Class, len(s.classes)),
		students:    make(map[int64]Student, len(s.students)),
		enrollments: make(map[int64]Enrollment, len(s.enrollments)),
		records:     make(map[int64]Record, len(s.records)),
	}
	for k, v := range s.instructors {
		c.instructors[k] = v
	}
	for k, v := range s.classes {
		c.classes[k] = v
	}
	for k, v := range s.students {
		c.students[k] = v
	}
	for k, v := range s.enrollments {
		c.enrollments[k] = v
	}
	for k, v := range s.records {
		c.records[k] = v
	}
	return c
}

func (s *memState) id() int64 {
	s.nextID++
	return s.nextID
}

func (m *memStore) lock() func() {
	if m.inTx {
		return func() {}
	}
	m.mu.Lock()
	return m.mu.Unlock
}

func (m *memStore) WithTx(ctx context.Context, fn func(Store) error) error {
	if m.inTx {
		return fn(m)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := &memStore{st: m.st.clone(), inTx: true, failUpsertFor: m.failUpsertFor}
	if err := fn(tx); err != nil {
		return err
	}
	m.st = tx.st
	return nil
}

// seeding helpers

func (m *memStore) addInstructor(name string) int64 {
	defer m.lock()()
	id := m.st.id()
	m.st.instructors[id] = Instructor{ID: id, Name: name, Email: name + "@school.test", CreatedAt: time.Now()}
	return id
}

func (m *memStore) addClass(instructorID int64, code string) int64 {
	defer m.lock()()
	id := m.st.id()
	m.st.classes[id] = Class{
		ID: id, InstructorID: instructorID, Name: code + " lecture", Code: code,
		Days: "MWF", StartTime: "08:00", EndTime: "09:00", Active: true,
	}
	return id
}

func (m *memStore) addRecord(r Record) {
	defer m.lock()()
	r.ID = m.st.id()
	m.st.records[r.ID] = r
}

func (m *memStore) recordsFor(studentID, classID int64, day Date) []Record {
	defer m.lock()()
	var out []Record
	for _, r := range m.st.records {
		if r.StudentID == studentID && r.ClassID == classID && r.Day.Equal(day.Time) {
			out = append(out, r)
		}
	}
	return out
}

func (m *memStore) recordCount() int {
	defer m.lock()()
	return len(m.st.records)
}

// Store

func (m *memStore) GetInstructor(_ context.Context, id int64) (*Instructor, error) {
	defer m.lock()()
	in, ok := m.st.instructors[id]
	if !ok {
		return nil, nil
	}
	return &in, nil
}

func (m *memStore) UpdateInstructor(_ context.Context, id int64, p InstructorPatch) (*Instructor, error) {
	defer m.lock()()
	in, ok := m.st.instructors[id]
	if !ok {
		return nil, nil
	}
	if p.Name != nil {
		in.Name = *p.Name
	}
	if p.Department != nil {
		in.Department = *p.Department
	}
	if p.PasswordHash != nil {
		in.PasswordHash = *p.PasswordHash
	}
	m.st.instructors[id] = in
	return &in, nil
}

func (m *memStore) GetClass(_ context.Context, id int64) (*Class, error) {
	defer m.lock()()
	c, ok := m.st.classes[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (m *memStore) CreateClass(_ context.Context, c *Class) error {
	defer m.lock()()
	if _, ok := m.st.instructors[c.InstructorID]; !ok {
		return NotFound("instructor")
	}
	for _, other := range m.st.classes {
		if other.InstructorID == c.InstructorID && other.Code == c.Code && other.Section == c.Section {
			return DuplicateKey("class code and section already exist")
		}
	}
	c.ID = m.st.id()
	m.st.classes[c.ID] = *c
	return nil
}

func (m *memStore) UpdateClass(_ context.Context, id int64, p ClassPatch) (*Class, error) {
	defer m.lock()()
	c, ok := m.st.classes[id]
	if !ok {
		return nil, nil
	}
	set := func(dst *string, v *string) {
		if v != nil {
			*dst = *v
		}
	}
	setOpt := func(dst **string, v *string) {
		if v == nil {
			return
		}
		if *v == "" {
			*dst = nil
			return
		}
		cp := *v
		*dst = &cp
	}
	set(&c.Name, p.Name)
	set(&c.Section, p.Section)
	set(&c.Days, p.Days)
	set(&c.StartTime, p.StartTime)
	set(&c.EndTime, p.EndTime)
	setOpt(&c.Description, p.Description)
	setOpt(&c.Room, p.Room)
	if p.Active != nil {
		c.Active = *p.Active
	}
	for _, other := range m.st.classes {
		if other.ID != id && other.InstructorID == c.InstructorID && other.Code == c.Code && other.Section == c.Section {
			return nil, DuplicateKey("class code and section already exist")
		}
	}
	m.st.classes[id] = c
	return &c, nil
}

func (m *memStore) DeleteClass(_ context.Context, id int64) error {
	defer m.lock()()
	if _, ok := m.st.classes[id]; !ok {
		return NotFound("class")
	}
	delete(m.st.classes, id)
	for eid, e := range m.st.enrollments {
		if e.ClassID == id {
			delete(m.st.enrollments, eid)
		}
	}
	return nil
}

func (m *memStore) ListClassSnapshots(_ context.Context, instructorID int64, day Date) ([]ClassSnapshotRow, error) {
	defer m.lock()()
	var out []ClassSnapshotRow
	for _, c := range m.st.classes {
		if c.InstructorID != instructorID {
			continue
		}
		row := ClassSnapshotRow{Class: c}
		for _, e := range m.st.enrollments {
			if e.ClassID == c.ID && e.Status == EnrollmentActive {
				row.Enrolled++
			}
		}
		for _, r := range m.st.records {
			if r.ClassID == c.ID && r.Day.Equal(day.Time) && r.Status == StatusPresent {
				row.PresentToday++
			}
		}
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *memStore) GetStudent(_ context.Context, id int64) (*Student, error) {
	defer m.lock()()
	s, ok := m.st.students[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *memStore) emailTaken(email *string, except int64) bool {
	if email == nil || *email == "" {
		return false
	}
	for _, s := range m.st.students {
		if s.ID != except && s.Email != nil && *s.Email == *email {
			return true
		}
	}
	return false
}

func (m *memStore) EnsureStudent(_ context.Context, st *Student) (*Student, error) {
	defer m.lock()()
	for _, s := range m.st.students {
		if s.Number == st.Number {
			return &s, nil
		}
	}
	if m.emailTaken(st.Email, 0) {
		return nil, DuplicateKey("email is already used by another student")
	}
	s := *st
	s.ID = m.st.id()
	m.st.students[s.ID] = s
	return &s, nil
}

func (m *memStore) UpdateStudent(_ context.Context, id int64, p StudentPatch) (*Student, error) {
	defer m.lock()()
	s, ok := m.st.students[id]
	if !ok {
		return nil, nil
	}
	if p.Number != nil {
		for _, other := range m.st.students {
			if other.ID != id && other.Number == *p.Number {
				return nil, DuplicateKey("student number is already used by another student")
			}
		}
		s.Number = *p.Number
	}
	if m.emailTaken(p.Email, id) {
		return nil, DuplicateKey("email is already used by another student")
	}
	if p.FirstName != nil {
		s.FirstName = *p.FirstName
	}
	if p.LastName != nil {
		s.LastName = *p.LastName
	}
	for dst, v := range map[**string]*string{&s.MiddleInitial: p.MiddleInitial, &s.Email: p.Email, &s.Phone: p.Phone} {
		if v == nil {
			continue
		}
		if *v == "" {
			*dst = nil
			continue
		}
		cp := *v
		*dst = &cp
	}
	m.st.students[id] = s
	return &s, nil
}

func (m *memStore) StudentTaughtBy(_ context.Context, studentID, instructorID int64) (bool, error) {
	defer m.lock()()
	for _, e := range m.st.enrollments {
		if e.StudentID != studentID {
			continue
		}
		if c, ok := m.st.classes[e.ClassID]; ok && c.InstructorID == instructorID {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) GetEnrollment(_ context.Context, studentID, classID int64) (*Enrollment, error) {
	defer m.lock()()
	for _, e := range m.st.enrollments {
		if e.StudentID == studentID && e.ClassID == classID {
			return &e, nil
		}
	}
	return nil, nil
}

func (m *memStore) CreateEnrollment(_ context.Context, e *Enrollment) error {
	defer m.lock()()
	if _, ok := m.st.students[e.StudentID]; !ok {
		return NotFound("student")
	}
	if _, ok := m.st.classes[e.ClassID]; !ok {
		return NotFound("class")
	}
	for _, other := range m.st.enrollments {
		if other.StudentID == e.StudentID && other.ClassID == e.ClassID {
			return ErrAlreadyEnrolled
		}
	}
	e.ID = m.st.id()
	m.st.enrollments[e.ID] = *e
	return nil
}

func (m *memStore) SetEnrollmentStatus(_ context.Context, studentID, classID int64, status EnrollmentStatus) error {
	defer m.lock()()
	for id, e := range m.st.enrollments {
		if e.StudentID == studentID && e.ClassID == classID {
			e.Status = status
			m.st.enrollments[id] = e
			return nil
		}
	}
	return NotFound("enrollment")
}

func (m *memStore) CountActiveEnrollments(_ context.Context, classID int64) (int, error) {
	defer m.lock()()
	n := 0
	for _, e := range m.st.enrollments {
		if e.ClassID == classID && e.Status == EnrollmentActive {
			n++
		}
	}
	return n, nil
}

func (m *memStore) ListStudentTallies(_ context.Context, classID int64) ([]StudentTally, error) {
	defer m.lock()()
	var out []StudentTally
	for _, e := range m.st.enrollments {
		if e.ClassID != classID || e.Status != EnrollmentActive {
			continue
		}
		t := StudentTally{Student: m.st.students[e.StudentID], EnrolledAt: e.EnrolledAt}
		for _, r := range m.st.records {
			if r.StudentID != e.StudentID || r.ClassID != classID {
				continue
			}
			switch r.Status {
			case StatusPresent:
				t.Present++
			case StatusAbsent:
				t.Absent++
			case StatusLate:
				t.Late++
			case StatusExcused:
				t.Excused++
			}
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastName != out[j].LastName {
			return out[i].LastName < out[j].LastName
		}
		if out[i].FirstName != out[j].FirstName {
			return out[i].FirstName < out[j].FirstName
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *memStore) findRecord(studentID, classID int64, day Date) (int64, bool) {
	for id, r := range m.st.records {
		if r.StudentID == studentID && r.ClassID == classID && r.Day.Equal(day.Time) {
			return id, true
		}
	}
	return 0, false
}

func (m *memStore) InsertRecord(_ context.Context, r *Record) error {
	defer m.lock()()
	if _, ok := m.st.students[r.StudentID]; !ok {
		return NotFound("student")
	}
	if _, ok := m.findRecord(r.StudentID, r.ClassID, r.Day); ok {
		return ErrAlreadyMarked
	}
	r.ID = m.st.id()
	m.st.records[r.ID] = *r
	return nil
}

func (m *memStore) UpsertRecord(_ context.Context, r *Record) error {
	defer m.lock()()
	if m.failUpsertFor != 0 && r.StudentID == m.failUpsertFor {
		return errInjected
	}
	if _, ok := m.st.students[r.StudentID]; !ok {
		return NotFound("student")
	}
	if id, ok := m.findRecord(r.StudentID, r.ClassID, r.Day); ok {
		existing := m.st.records[id]
		existing.Status = r.Status
		m.st.records[id] = existing
		r.ID, r.MarkedAt = existing.ID, existing.MarkedAt
		return nil
	}
	r.ID = m.st.id()
	m.st.records[r.ID] = *r
	return nil
}

func (m *memStore) ListDayRecords(_ context.Context, classID int64, day Date) ([]Record, error) {
	defer m.lock()()
	var out []Record
	for _, r := range m.st.records {
		if r.ClassID == classID && r.Day.Equal(day.Time) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].MarkedAt.Equal(out[j].MarkedAt) {
			return out[i].MarkedAt.Before(out[j].MarkedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *memStore) ListStudentRecords(_ context.Context, studentID, classID int64) ([]Record, error) {
	defer m.lock()()
	var out []Record
	for _, r := range m.st.records {
		if r.StudentID == studentID && r.ClassID == classID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day.After(out[j].Day.Time) })
	return out, nil
}

func (m *memStore) CountSessionDays(_ context.Context, classID int64) (int, error) {
	defer m.lock()()
	days := map[Date]struct{}{}
	for _, r := range m.st.records {
		if r.ClassID == classID {
			days[r.Day] = struct{}{}
		}
	}
	return len(days), nil
}

func (m *memStore) CountDayStatus(_ context.Context, classID int64, day Date, status Status) (int, error) {
	defer m.lock()()
	n := 0
	for _, r := range m.st.records {
		if r.ClassID == classID && r.Day.Equal(day.Time) && r.Status == status {
			n++
		}
	}
	return n, nil
}

func (m *memStore) InstructorTotals(_ context.Context, instructorID int64, day Date) (InstructorTotals, error) {
	defer m.lock()()
	var t InstructorTotals
	students := map[int64]struct{}{}
	for _, c := range m.st.classes {
		if c.InstructorID != instructorID {
			continue
		}
		t.Classes++
		for _, e := range m.st.enrollments {
			if e.ClassID == c.ID && e.Status == EnrollmentActive {
				students[e.StudentID] = struct{}{}
			}
		}
		for _, r := range m.st.records {
			if r.ClassID != c.ID || !r.Day.Equal(day.Time) {
				continue
			}
			switch r.Status {
			case StatusPresent:
				t.PresentToday++
			case StatusAbsent:
				t.AbsentToday++
			}
		}
	}
	t.EnrolledStudents = len(students)
	return t, nil
}

var _ Store = (*memStore)(nil)
