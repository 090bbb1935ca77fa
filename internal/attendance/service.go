package attendance

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// Generation versions the cached views of one instructor dashboard or one
// class report. Invalidation moves it forward.
type Generation int64

// SnapshotCache keeps short-lived copies of expensive read views. A lookup
// reports the current generation even on a miss (ok == false); a store made
// with an older generation is dropped, so a view computed across an
// invalidation is never cached. Cache failures are treated as misses.
type SnapshotCache interface {
	Dashboard(ctx context.Context, instructorID int64, day Date) (*Dashboard, Generation, bool)
	StoreDashboard(ctx context.Context, instructorID int64, day Date, gen Generation, d *Dashboard)
	ClassReport(ctx context.Context, classID int64, day Date) (*ClassReport, Generation, bool)
	StoreClassReport(ctx context.Context, classID int64, day Date, gen Generation, r *ClassReport)
}

// ChangeKind names what kind of write produced a Change.
type ChangeKind string

const (
	ChangeScan       ChangeKind = "scan"
	ChangeManual     ChangeKind = "manual"
	ChangeEnrollment ChangeKind = "enrollment"
	ChangeClass      ChangeKind = "class"
)

// Change describes a committed write that affects read views.
type Change struct {
	InstructorID int64      `json:"instructor_id"`
	ClassID      int64      `json:"class_id"`
	Day          Date       `json:"day"`
	Kind         ChangeKind `json:"kind"`
}

// Notifier is told about every committed write.
type Notifier interface {
	Changed(ctx context.Context, c Change) error
}

// Observer is told about every attendance record written.
type Observer interface {
	Marked(path string, status Status)
}

// Service implements the enrollment registry, the attendance ledger, the
// ownership guard and the aggregation engine on top of a Store.
type Service struct {
	store    Store
	log      *zap.Logger
	validate *validator.Validate
	now      func() time.Time
	loc      *time.Location
	cache    SnapshotCache
	notifier Notifier
	observer Observer
}

// Option customizes a Service.
type Option func(*Service)

// WithClock overrides the wall clock; the server's "today" derives from it.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLocation sets the zone that defines calendar days.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithCache enables snapshot caching of dashboard and report reads.
func WithCache(c SnapshotCache) Option {
	return func(s *Service) { s.cache = c }
}

// WithNotifier registers the receiver of change notifications.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithObserver registers a receiver of ledger write counts.
func WithObserver(o Observer) Option {
	return func(s *Service) { s.observer = o }
}

// NewService creates a service backed by a store.
func NewService(store Store, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		store:    store,
		log:      logger,
		validate: newValidator(),
		now:      time.Now,
		loc:      time.Local,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Today is the server's current calendar day.
func (s *Service) Today() Date {
	return DateOf(s.now().In(s.loc))
}

func (s *Service) notify(ctx context.Context, c Change) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Changed(ctx, c); err != nil {
		s.log.Warn("change notification failed",
			zap.Int64("class_id", c.ClassID),
			zap.String("kind", string(c.Kind)),
			zap.Error(err))
	}
}

func (s *Service) marked(path string, status Status) {
	if s.observer != nil {
		s.observer.Marked(path, status)
	}
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("clock", func(fl validator.FieldLevel) bool {
		_, err := parseClock(fl.Field().String())
		return err == nil
	})
	return v
}

// parseClock accepts HH:MM or HH:MM:SS.
func parseClock(raw string) (time.Time, error) {
	if t, err := time.Parse("15:04", raw); err == nil {
		return t, nil
	}
	return time.Parse("15:04:05", raw)
}

// check validates req against its struct tags and folds failures into one
// validation error listing every offending field.
func (s *Service) check(req any) error {
	err := s.validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return Validation(err.Error())
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = describeRule(fe)
	}
	return &Error{Kind: KindValidation, Message: "invalid request", Details: fields}
}

func describeRule(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "min":
		return "must be at least " + fe.Param() + " characters"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "clock":
		return "must be a time formatted as HH:MM"
	default:
		return "failed " + fe.Tag()
	}
}
