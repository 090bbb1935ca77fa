package attendance

import "context"

// authorize loads the class and confirms callerID owns it. It runs before
// any other work in every class-scoped operation.
func (s *Service) authorize(ctx context.Context, callerID, classID int64) (*Class, error) {
	if classID <= 0 {
		return nil, Validation("class id is required")
	}
	class, err := s.store.GetClass(ctx, classID)
	if err != nil {
		return nil, classify("load class", err)
	}
	if class == nil {
		return nil, NotFound("class")
	}
	if class.InstructorID != callerID {
		return nil, &Error{Kind: KindAccessDenied, Message: "you do not have access to this class"}
	}
	return class, nil
}

