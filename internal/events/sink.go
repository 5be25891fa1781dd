// Package events delivers request state transitions to observers: NATS
// subscribers, live SSE streams, or both.
package events

import (
	"context"
	"errors"
	"log/slog"

	"github.com/joseph-ayodele/expense-extractor/internal/entity"
)

// Sink receives every accepted transition after it has been persisted.
type Sink interface {
	Publish(ctx context.Context, ev entity.Event) error
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, entity.Event) error { return nil }

// Multi fans an event out to every sink and joins their errors.
type Multi []Sink

func (m Multi) Publish(ctx context.Context, ev entity.Event) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Logging writes each event to the logger. The CLI uses it to show progress.
type Logging struct {
	Logger *slog.Logger
}

func (l Logging) Publish(_ context.Context, ev entity.Event) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("request.event",
		"request_id", ev.RequestID,
		"seq", ev.Seq,
		"state", ev.State,
		"progress", ev.Progress,
		"message", ev.Message,
	)
	return nil
}
