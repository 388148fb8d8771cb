// Package worker consumes attendance transitions published by the API.
package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"ojtrack/internal/attendance"
	"ojtrack/internal/queue"
)

// MessageTransition is the queue message type for attendance transitions.
const MessageTransition = "attendance.transition"

// Invalidator drops cached reports of a user.
type Invalidator interface {
	Invalidate(ctx context.Context, userID string) error
}

// NewTransitionMessage encodes t for the queue.
func NewTransitionMessage(t attendance.Transition) (queue.Message, error) {
	body, err := json.Marshal(t)
	if err != nil {
		return queue.Message{}, fmt.Errorf("encode transition: %w", err)
	}
	return queue.Message{Type: MessageTransition, Body: body}, nil
}

// Worker applies side effects of attendance transitions.
type Worker struct {
	cache Invalidator
	log   *zap.Logger
}

// New creates a worker. cache may be nil.
func New(cache Invalidator, log *zap.Logger) *Worker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Worker{cache: cache, log: log.Named("worker")}
}

// Run handles messages until msgs is closed or ctx is done.
func (w *Worker) Run(ctx context.Context, msgs <-chan queue.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			if err := w.Handle(ctx, msg); err != nil {
				w.log.Warn("message failed", zap.String("type", msg.Type), zap.Error(err))
			}
		}
	}
}

// Handle processes one message. Unknown types are logged and ignored.
func (w *Worker) Handle(ctx context.Context, msg queue.Message) error {
	if msg.Type != MessageTransition {
		w.log.Info("ignoring message", zap.String("type", msg.Type))
		return nil
	}
	var t attendance.Transition
	if err := json.Unmarshal(msg.Body, &t); err != nil {
		return fmt.Errorf("decode transition: %w", err)
	}
	if t.UserID == "" {
		return fmt.Errorf("transition %s without user_id", t.RecordID)
	}

	w.log.Info("attendance transition",
		zap.String("record_id", t.RecordID),
		zap.String("user_id", t.UserID),
		zap.String("date", t.Date),
		zap.String("type", string(t.Type)),
		zap.Time("at", t.At))

	if w.cache != nil {
		if err := w.cache.Invalidate(ctx, t.UserID); err != nil {
			return fmt.Errorf("invalidate week report of %s: %w", t.UserID, err)
		}
	}
	return nil
}
