package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"classroll/internal/attendance"
	"classroll/internal/cache"
	"classroll/internal/queue"
)

type recordingInvalidator struct {
	mu      sync.Mutex
	changes []attendance.Change
	err     error
	done    chan struct{}
}

func newRecordingInvalidator() *recordingInvalidator {
	return &recordingInvalidator{done: make(chan struct{}, 16)}
}

func (r *recordingInvalidator) Invalidate(_ context.Context, c attendance.Change) error {
	r.mu.Lock()
	r.changes = append(r.changes, c)
	r.mu.Unlock()
	r.done <- struct{}{}
	return r.err
}

func (r *recordingInvalidator) seen() []attendance.Change {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]attendance.Change(nil), r.changes...)
}

type failingQueue struct{}

func (failingQueue) Publish(context.Context, queue.Message) error { return errors.New("broker down") }
func (failingQueue) Consume(context.Context) (<-chan queue.Message, error) {
	return nil, errors.New("broker down")
}

var change = attendance.Change{
	InstructorID: 1,
	ClassID:      5,
	Day:          attendance.NewDate(2024, time.January, 10),
	Kind:         attendance.ChangeScan,
}

func TestPublisherEnqueuesChange(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q := queue.NewInMemory(4)
	p := NewPublisher(q, nil, zaptest.NewLogger(t))
	p.newID = func() string { return "evt-1" }

	require.NoError(t, p.Changed(ctx, change))

	ch, err := q.Consume(ctx)
	require.NoError(t, err)
	msg := <-ch
	assert.Equal(t, "evt-1", msg.ID)
	assert.Equal(t, TypeChanged, msg.Type)
	assert.JSONEq(t, `{"instructor_id":1,"class_id":5,"day":"2024-01-10","kind":"scan"}`, string(msg.Body))
}

func TestPublisherFallsBackToInlineInvalidation(t *testing.T) {
	inv := newRecordingInvalidator()
	p := NewPublisher(failingQueue{}, inv, zaptest.NewLogger(t))

	require.NoError(t, p.Changed(context.Background(), change))
	assert.Equal(t, []attendance.Change{change}, inv.seen())

	inv.err = errors.New("redis down")
	err := p.Changed(context.Background(), change)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")

	bare := NewPublisher(failingQueue{}, nil, nil)
	assert.Error(t, bare.Changed(context.Background(), change))
}

func TestConsumerAppliesChanges(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	q := queue.NewInMemory(8)
	inv := newRecordingInvalidator()
	c := NewConsumer(q, inv, zaptest.NewLogger(t))

	require.NoError(t, q.Publish(ctx, queue.Message{ID: "x", Type: "checkin", Body: json.RawMessage(`"ignored"`)}))
	require.NoError(t, q.Publish(ctx, queue.Message{ID: "y", Type: TypeChanged, Body: json.RawMessage(`not json`)}))
	require.NoError(t, NewPublisher(q, nil, nil).Changed(ctx, change))

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	select {
	case <-inv.done:
	case <-time.After(2 * time.Second):
		t.Fatal("change not applied")
	}
	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, []attendance.Change{change}, inv.seen())
}

func TestConsumerSurfacesConsumeError(t *testing.T) {
	err := NewConsumer(failingQueue{}, newRecordingInvalidator(), nil).Run(context.Background())
	assert.ErrorContains(t, err, "broker down")
}

func TestRedisPipelineInvalidatesSnapshots(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	snaps := cache.New(client, "t:", time.Minute, zaptest.NewLogger(t))
	q := queue.NewRedisQueue(client, "t:changes")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	snaps.StoreDashboard(ctx, 1, change.Day, 0, &attendance.Dashboard{InstructorName: "ada"})
	snaps.StoreClassReport(ctx, 5, change.Day, 0, &attendance.ClassReport{})
	require.True(t, mr.Exists("t:dashboard:1:2024-01-10"))

	require.NoError(t, NewPublisher(q, snaps, nil).Changed(ctx, change))
	go func() { _ = NewConsumer(q, snaps, nil).Run(ctx) }()

	assert.Eventually(t, func() bool {
		return !mr.Exists("t:dashboard:1:2024-01-10") && !mr.Exists("t:report:5:2024-01-10")
	}, 3*time.Second, 20*time.Millisecond)
}
