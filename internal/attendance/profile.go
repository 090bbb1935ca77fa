package attendance

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// UpdateProfileRequest lists profile fields to change; empty fields are
// left alone.
type UpdateProfileRequest struct {
	Name       string `json:"name" validate:"omitempty,max=200"`
	Department string `json:"department" validate:"omitempty,max=200"`
	Password   string `json:"password" validate:"omitempty,min=8,max=72"`
}

// Profile returns the caller's instructor record.
func (s *Service) Profile(ctx context.Context, callerID int64) (*Instructor, error) {
	if callerID <= 0 {
		return nil, Validation("instructor id is required")
	}
	in, err := s.store.GetInstructor(ctx, callerID)
	if err != nil {
		return nil, classify("load instructor", err)
	}
	if in == nil {
		return nil, NotFound("instructor")
	}
	return in, nil
}

// UpdateProfile changes the caller's name, department or password.
func (s *Service) UpdateProfile(ctx context.Context, callerID int64, req UpdateProfileRequest) (*Instructor, error) {
	if callerID <= 0 {
		return nil, Validation("instructor id is required")
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Department = strings.TrimSpace(req.Department)
	if err := s.check(req); err != nil {
		return nil, err
	}

	var patch InstructorPatch
	if req.Name != "" {
		patch.Name = &req.Name
	}
	if req.Department != "" {
		patch.Department = &req.Department
	}
	if req.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, StoreFailure("hash password", err)
		}
		h := string(hash)
		patch.PasswordHash = &h
	}
	if patch.Name == nil && patch.Department == nil && patch.PasswordHash == nil {
		return s.Profile(ctx, callerID)
	}

	in, err := s.store.UpdateInstructor(ctx, callerID, patch)
	if err != nil {
		return nil, classify("update instructor", err)
	}
	if in == nil {
		return nil, NotFound("instructor")
	}
	s.log.Info("profile updated", zap.Int64("instructor_id", callerID), zap.Bool("password_changed", patch.PasswordHash != nil))
	return in, nil
}
