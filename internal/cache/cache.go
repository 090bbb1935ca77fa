package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"classroll/internal/attendance"
)

const (
	viewDashboard = "dashboard"
	viewReport    = "report"
)

// staleGeneration is handed out when the generation could not be read; no
// stored generation ever equals it, so the following store is skipped.
const staleGeneration attendance.Generation = -1

// storeIfCurrent writes ARGV[2] to KEYS[2] only while the generation in
// KEYS[1] (missing means 0) still equals ARGV[1].
var storeIfCurrent = redis.NewScript(`
local cur = redis.call('GET', KEYS[1]) or '0'
if cur ~= ARGV[1] then
	return 0
end
redis.call('SET', KEYS[2], ARGV[2], 'PX', ARGV[3])
return 1
`)

// LookupFunc is told about every snapshot lookup.
type LookupFunc func(view string, hit bool)

// Snapshots stores dashboard and class-report views in Redis. Keys include
// the server day, so a new day never reads yesterday's view. Each
// instructor dashboard and class report also has a generation counter that
// Invalidate bumps; a view is only stored under the generation it was read
// with.
type Snapshots struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	log    *zap.Logger
	lookup LookupFunc
}

// New creates a snapshot cache. A nil client disables caching.
func New(client *redis.Client, prefix string, ttl time.Duration, logger *zap.Logger) *Snapshots {
	if logger == nil {
		logger = zap.NewNop()
	}
	if prefix == "" {
		prefix = "classroll:"
	}
	return &Snapshots{client: client, prefix: prefix, ttl: ttl, log: logger}
}

// OnLookup registers fn to observe hits and misses.
func (s *Snapshots) OnLookup(fn LookupFunc) {
	s.lookup = fn
}

func (s *Snapshots) viewKey(view string, id int64, day attendance.Date) string {
	return s.prefix + view + ":" + strconv.FormatInt(id, 10) + ":" + day.String()
}

func (s *Snapshots) genKey(view string, id int64) string {
	return s.prefix + "gen:" + view + ":" + strconv.FormatInt(id, 10)
}

// load reads the view and its generation in one round trip.
func (s *Snapshots) load(ctx context.Context, view string, id int64, day attendance.Date, dest any) (attendance.Generation, bool) {
	if s.client == nil {
		return staleGeneration, false
	}
	key := s.viewKey(view, id, day)
	pipe := s.client.Pipeline()
	valCmd := pipe.Get(ctx, key)
	genCmd := pipe.Get(ctx, s.genKey(view, id))
	_, _ = pipe.Exec(ctx)

	gen := attendance.Generation(0)
	if n, err := genCmd.Int64(); err == nil {
		gen = attendance.Generation(n)
	} else if !errors.Is(err, redis.Nil) {
		s.log.Warn("snapshot generation read failed", zap.String("key", key), zap.Error(err))
		gen = staleGeneration
	}

	hit := false
	data, err := valCmd.Bytes()
	switch {
	case err == nil:
		if uerr := json.Unmarshal(data, dest); uerr != nil {
			s.log.Warn("snapshot cache entry unreadable", zap.String("key", key), zap.Error(uerr))
		} else {
			hit = true
		}
	case !errors.Is(err, redis.Nil):
		s.log.Warn("snapshot cache read failed", zap.String("key", key), zap.Error(err))
	}

	if s.lookup != nil {
		s.lookup(view, hit)
	}
	return gen, hit
}

func (s *Snapshots) store(ctx context.Context, view string, id int64, day attendance.Date, gen attendance.Generation, value any) {
	if s.client == nil || s.ttl <= 0 || gen == staleGeneration {
		return
	}
	key := s.viewKey(view, id, day)
	data, err := json.Marshal(value)
	if err != nil {
		s.log.Warn("snapshot cache marshal failed", zap.String("key", key), zap.Error(err))
		return
	}
	stored, err := storeIfCurrent.Run(ctx, s.client,
		[]string{s.genKey(view, id), key},
		strconv.FormatInt(int64(gen), 10), data, s.ttl.Milliseconds(),
	).Int()
	if err != nil {
		s.log.Warn("snapshot cache write failed", zap.String("key", key), zap.Error(err))
		return
	}
	if stored == 0 {
		s.log.Debug("snapshot outdated by a newer change, not cached", zap.String("key", key))
	}
}

func (s *Snapshots) Dashboard(ctx context.Context, instructorID int64, day attendance.Date) (*attendance.Dashboard, attendance.Generation, bool) {
	var d attendance.Dashboard
	gen, ok := s.load(ctx, viewDashboard, instructorID, day, &d)
	if !ok {
		return nil, gen, false
	}
	return &d, gen, true
}

func (s *Snapshots) StoreDashboard(ctx context.Context, instructorID int64, day attendance.Date, gen attendance.Generation, d *attendance.Dashboard) {
	s.store(ctx, viewDashboard, instructorID, day, gen, d)
}

func (s *Snapshots) ClassReport(ctx context.Context, classID int64, day attendance.Date) (*attendance.ClassReport, attendance.Generation, bool) {
	var r attendance.ClassReport
	gen, ok := s.load(ctx, viewReport, classID, day, &r)
	if !ok {
		return nil, gen, false
	}
	return &r, gen, true
}

func (s *Snapshots) StoreClassReport(ctx context.Context, classID int64, day attendance.Date, gen attendance.Generation, r *attendance.ClassReport) {
	s.store(ctx, viewReport, classID, day, gen, r)
}

// Invalidate drops every cached view a change can affect: all days of the
// instructor's dashboard and of the class report. Generations move first so
// a view computed before the change cannot be stored after the delete.
func (s *Snapshots) Invalidate(ctx context.Context, c attendance.Change) error {
	if s.client == nil {
		return nil
	}
	type target struct {
		view string
		id   int64
	}
	var targets []target
	if c.InstructorID > 0 {
		targets = append(targets, target{viewDashboard, c.InstructorID})
	}
	if c.ClassID > 0 {
		targets = append(targets, target{viewReport, c.ClassID})
	}
	for _, t := range targets {
		if err := s.client.Incr(ctx, s.genKey(t.view, t.id)).Err(); err != nil {
			return fmt.Errorf("cache bump generation: %w", err)
		}
		pattern := s.prefix + t.view + ":" + strconv.FormatInt(t.id, 10) + ":*"
		if err := s.deletePattern(ctx, pattern); err != nil {
			return err
		}
	}
	return nil
}

// deletePattern removes keys matching pattern using SCAN instead of KEYS.
func (s *Snapshots) deletePattern(ctx context.Context, pattern string) error {
	var (
		cursor uint64
		keys   []string
	)
	for {
		batch, next, err := s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return fmt.Errorf("cache scan %s: %w", pattern, err)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("cache delete: %w", err)
	}
	s.log.Debug("snapshot cache invalidated", zap.String("pattern", pattern), zap.Int("keys", len(keys)))
	return nil
}

var _ attendance.SnapshotCache = (*Snapshots)(nil)
