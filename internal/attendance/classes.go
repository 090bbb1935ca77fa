package attendance

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

// CreateClassRequest describes a new class.
type CreateClassRequest struct {
	Name        string  `json:"name" validate:"required,max=200"`
	Code        string  `json:"code" validate:"required,max=32"`
	Section     string  `json:"section" validate:"max=32"`
	Description *string `json:"description" validate:"omitempty,max=1000"`
	Days        string  `json:"days" validate:"required,max=64"`
	StartTime   string  `json:"start_time" validate:"required,clock"`
	EndTime     string  `json:"end_time" validate:"required,clock"`
	Room        *string `json:"room" validate:"omitempty,max=64"`
	Active      *bool   `json:"is_active"`
}

// UpdateClassRequest lists class fields to change. Code is fixed once the
// class exists.
type UpdateClassRequest struct {
	Name        *string `json:"name" validate:"omitempty,max=200"`
	Section     *string `json:"section" validate:"omitempty,max=32"`
	Description *string `json:"description" validate:"omitempty,max=1000"`
	Days        *string `json:"days" validate:"omitempty,max=64"`
	StartTime   *string `json:"start_time" validate:"omitempty,clock"`
	EndTime     *string `json:"end_time" validate:"omitempty,clock"`
	Room        *string `json:"room" validate:"omitempty,max=64"`
	Active      *bool   `json:"is_active"`
}

// ClassOverview is a class with today's snapshot.
type ClassOverview struct {
	Class
	ClassSnapshot
}

// CreateClass adds a class owned by the caller.
func (s *Service) CreateClass(ctx context.Context, callerID int64, req CreateClassRequest) (*Class, error) {
	if callerID <= 0 {
		return nil, Validation("instructor id is required")
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Code = strings.TrimSpace(req.Code)
	req.Section = strings.TrimSpace(req.Section)
	req.Days = strings.TrimSpace(req.Days)
	req.Description = nilIfEmpty(trimOptional(req.Description))
	req.Room = nilIfEmpty(trimOptional(req.Room))
	if err := s.check(req); err != nil {
		return nil, err
	}
	if err := checkSchedule(req.StartTime, req.EndTime); err != nil {
		return nil, err
	}

	c := &Class{
		InstructorID: callerID,
		Name:         req.Name,
		Code:         req.Code,
		Section:      req.Section,
		Description:  req.Description,
		Days:         req.Days,
		StartTime:    req.StartTime,
		EndTime:      req.EndTime,
		Room:         req.Room,
		Active:       req.Active == nil || *req.Active,
		CreatedAt:    s.now(),
	}
	if err := s.store.CreateClass(ctx, c); err != nil {
		return nil, classify("create class", err)
	}
	s.log.Info("class created", zap.Int64("class_id", c.ID), zap.Int64("instructor_id", callerID), zap.String("code", c.Code))
	s.notify(ctx, Change{InstructorID: callerID, ClassID: c.ID, Day: s.Today(), Kind: ChangeClass})
	return c, nil
}

// ListClasses returns the caller's classes with today's snapshot each.
func (s *Service) ListClasses(ctx context.Context, callerID int64) ([]ClassOverview, error) {
	if callerID <= 0 {
		return nil, Validation("instructor id is required")
	}
	rows, err := s.store.ListClassSnapshots(ctx, callerID, s.Today())
	if err != nil {
		return nil, classify("list classes", err)
	}
	out := make([]ClassOverview, 0, len(rows))
	for _, r := range rows {
		out = append(out, ClassOverview{Class: r.Class, ClassSnapshot: NewClassSnapshot(r.Enrolled, r.PresentToday)})
	}
	return out, nil
}

// UpdateClass applies a partial update to a class of the caller.
func (s *Service) UpdateClass(ctx context.Context, callerID, classID int64, req UpdateClassRequest) (*Class, error) {
	class, err := s.authorize(ctx, callerID, classID)
	if err != nil {
		return nil, err
	}
	req.Name = trimOptional(req.Name)
	req.Section = trimOptional(req.Section)
	req.Days = trimOptional(req.Days)
	req.Description = trimOptional(req.Description)
	req.Room = trimOptional(req.Room)
	if err := s.check(req); err != nil {
		return nil, err
	}
	if (req.Name != nil && *req.Name == "") || (req.Days != nil && *req.Days == "") {
		return nil, Validation("name and days cannot be blank")
	}
	start, end := class.StartTime, class.EndTime
	if req.StartTime != nil {
		start = *req.StartTime
	}
	if req.EndTime != nil {
		end = *req.EndTime
	}
	if err := checkSchedule(start, end); err != nil {
		return nil, err
	}

	patch := ClassPatch{
		Name:        req.Name,
		Section:     req.Section,
		Description: req.Description,
		Days:        req.Days,
		StartTime:   req.StartTime,
		EndTime:     req.EndTime,
		Room:        req.Room,
		Active:      req.Active,
	}
	if patch.Empty() {
		return nil, Validation("no fields to update")
	}
	updated, err := s.store.UpdateClass(ctx, classID, patch)
	if err != nil {
		return nil, classify("update class", err)
	}
	if updated == nil {
		return nil, NotFound("class")
	}
	s.log.Info("class updated", zap.Int64("class_id", classID), zap.Int64("instructor_id", callerID))
	s.notify(ctx, Change{InstructorID: callerID, ClassID: classID, Day: s.Today(), Kind: ChangeClass})
	return updated, nil
}

// DeleteClass removes a class of the caller and its enrollments. Attendance
// rows of the class are left in place.
func (s *Service) DeleteClass(ctx context.Context, callerID, classID int64) error {
	if _, err := s.authorize(ctx, callerID, classID); err != nil {
		return err
	}
	if err := s.store.DeleteClass(ctx, classID); err != nil {
		return classify("delete class", err)
	}
	s.log.Info("class deleted", zap.Int64("class_id", classID), zap.Int64("instructor_id", callerID))
	s.notify(ctx, Change{InstructorID: callerID, ClassID: classID, Day: s.Today(), Kind: ChangeClass})
	return nil
}

func checkSchedule(start, end string) error {
	st, err := parseClock(start)
	if err != nil {
		return Validation("start time must be formatted as HH:MM")
	}
	et, err := parseClock(end)
	if err != nil {
		return Validation("end time must be formatted as HH:MM")
	}
	if !et.After(st) {
		return Validation("end time must be after start time")
	}
	return nil
}
