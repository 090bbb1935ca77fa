package attendance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validClass() CreateClassRequest {
	return CreateClassRequest{
		Name:      "Data Structures",
		Code:      "CS201",
		Section:   "A",
		Days:      "TTh",
		StartTime: "13:00",
		EndTime:   "14:30",
		Room:      ptr("  "),
	}
}

func TestCreateClass(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c, err := f.svc.CreateClass(ctx, f.owner, validClass())
	require.NoError(t, err)
	assert.NotZero(t, c.ID)
	assert.Equal(t, f.owner, c.InstructorID)
	assert.True(t, c.Active)
	assert.Nil(t, c.Room)

	_, err = f.svc.CreateClass(ctx, f.owner, validClass())
	assert.ErrorIs(t, err, ErrDuplicateKey)

	// same code and section under another instructor is fine
	_, err = f.svc.CreateClass(ctx, f.other, validClass())
	assert.NoError(t, err)

	otherSection := validClass()
	otherSection.Section = "B"
	_, err = f.svc.CreateClass(ctx, f.owner, otherSection)
	assert.NoError(t, err)
}

func TestCreateClassValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := map[string]func(*CreateClassRequest){
		"missing name":      func(r *CreateClassRequest) { r.Name = " " },
		"missing days":      func(r *CreateClassRequest) { r.Days = "" },
		"bad start":         func(r *CreateClassRequest) { r.StartTime = "1pm" },
		"end before start":  func(r *CreateClassRequest) { r.EndTime = "12:00" },
		"end equals start":  func(r *CreateClassRequest) { r.EndTime = "13:00" },
		"hour out of range": func(r *CreateClassRequest) { r.EndTime = "25:00" },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			req := validClass()
			mutate(&req)
			_, err := f.svc.CreateClass(ctx, f.owner, req)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestUpdateClass(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.UpdateClass(ctx, f.owner, f.class, UpdateClassRequest{})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.UpdateClass(ctx, f.other, f.class, UpdateClassRequest{Name: ptr("Hijacked")})
	assert.ErrorIs(t, err, ErrAccessDenied)

	_, err = f.svc.UpdateClass(ctx, f.owner, f.class, UpdateClassRequest{EndTime: ptr("07:00")})
	assert.ErrorIs(t, err, ErrValidation)

	got, err := f.svc.UpdateClass(ctx, f.owner, f.class, UpdateClassRequest{
		Name:   ptr("Intro to CS"),
		Room:   ptr("B-204"),
		Active: ptr(false),
	})
	require.NoError(t, err)
	assert.Equal(t, "Intro to CS", got.Name)
	require.NotNil(t, got.Room)
	assert.Equal(t, "B-204", *got.Room)
	assert.False(t, got.Active)
	assert.Equal(t, "08:00", got.StartTime)
}

func TestDeleteClassKeepsAttendanceRows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ann := f.enroll(t, "2024-0001", "Ann", "Lee")
	_, err := f.svc.MarkByScan(ctx, f.owner, ann, f.class)
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteClass(ctx, f.owner, f.class))
	assert.Equal(t, 1, f.store.recordCount())

	_, err = f.svc.ClassReport(ctx, f.owner, f.class)
	assert.ErrorIs(t, err, ErrNotFound)

	d, err := f.svc.DashboardStats(ctx, f.owner)
	require.NoError(t, err)
	assert.Equal(t, 0, d.EnrolledClasses)
	assert.Equal(t, 0, d.PresentToday)

	classes, err := f.svc.ListClasses(ctx, f.owner)
	require.NoError(t, err)
	assert.Empty(t, classes)
}

func TestListClassesSnapshotUsesToday(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ann := f.enroll(t, "2024-0001", "Ann", "Lee")
	f.enroll(t, "2024-0002", "Ben", "Cruz")
	f.store.addRecord(Record{StudentID: ann, ClassID: f.class, Day: NewDate(2024, time.January, 9), Status: StatusPresent})

	classes, err := f.svc.ListClasses(ctx, f.owner)
	require.NoError(t, err)
	require.Len(t, classes, 1)
	assert.Equal(t, 2, classes[0].Enrolled)
	assert.Equal(t, 0, classes[0].PresentToday)

	_, err = f.svc.MarkByScan(ctx, f.owner, ann, f.class)
	require.NoError(t, err)
	classes, err = f.svc.ListClasses(ctx, f.owner)
	require.NoError(t, err)
	assert.Equal(t, 50, classes[0].AttendanceRate)
}
