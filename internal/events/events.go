// Package events carries attendance changes from the API to whoever keeps
// derived read views fresh.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"classroll/internal/attendance"
	"classroll/internal/queue"
)

// TypeChanged is the message type of an attendance change.
const TypeChanged = "attendance.changed"

// Invalidator drops cached views affected by a change.
type Invalidator interface {
	Invalidate(ctx context.Context, c attendance.Change) error
}

// Publisher forwards committed changes to a queue.
type Publisher struct {
	q        queue.Queue
	fallback Invalidator
	log      *zap.Logger
	newID    func() string
}

// NewPublisher builds a Publisher. When publishing fails and fallback is set,
// the affected views are invalidated inline instead.
func NewPublisher(q queue.Queue, fallback Invalidator, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{q: q, fallback: fallback, log: logger, newID: uuid.NewString}
}

// Changed implements attendance.Notifier.
func (p *Publisher) Changed(ctx context.Context, c attendance.Change) error {
	body, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode change: %w", err)
	}
	msg := queue.Message{ID: p.newID(), Type: TypeChanged, Body: body}
	perr := p.q.Publish(ctx, msg)
	if perr == nil {
		return nil
	}
	p.log.Warn("publish change failed, invalidating inline",
		zap.String("event_id", msg.ID),
		zap.Int64("class_id", c.ClassID),
		zap.Error(perr),
	)
	if p.fallback != nil {
		if err := p.fallback.Invalidate(ctx, c); err != nil {
			return fmt.Errorf("publish change: %w (inline invalidation: %v)", perr, err)
		}
		return nil
	}
	return fmt.Errorf("publish change: %w", perr)
}

// Consumer applies queued changes to an Invalidator.
type Consumer struct {
	q   queue.Queue
	inv Invalidator
	log *zap.Logger
}

func NewConsumer(q queue.Queue, inv Invalidator, logger *zap.Logger) *Consumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{q: q, inv: inv, log: logger}
}

// Run consumes until ctx is cancelled or the queue closes. Unknown or broken
// messages are logged and dropped.
func (c *Consumer) Run(ctx context.Context) error {
	messages, err := c.q.Consume(ctx)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}
	c.log.Info("consumer started")
	for msg := range messages {
		c.handle(ctx, msg)
	}
	c.log.Info("consumer stopped")
	return nil
}

func (c *Consumer) handle(ctx context.Context, msg queue.Message) {
	if msg.Type != TypeChanged {
		c.log.Debug("skipping message", zap.String("event_id", msg.ID), zap.String("type", msg.Type))
		return
	}
	var change attendance.Change
	if err := json.Unmarshal(msg.Body, &change); err != nil {
		c.log.Warn("dropping malformed change", zap.String("event_id", msg.ID), zap.Error(err))
		return
	}
	if err := c.inv.Invalidate(ctx, change); err != nil {
		c.log.Error("invalidate failed",
			zap.String("event_id", msg.ID),
			zap.Int64("instructor_id", change.InstructorID),
			zap.Int64("class_id", change.ClassID),
			zap.Error(err),
		)
		return
	}
	c.log.Debug("change applied",
		zap.String("event_id", msg.ID),
		zap.String("kind", string(change.Kind)),
		zap.Int64("class_id", change.ClassID),
	)
}

var _ attendance.Notifier = (*Publisher)(nil)
