// Package state owns the request lifecycle: queued, processing and the
// terminal done, needs_review and failed states.
package state

import (
	"context"
	"log/slog"
	"strings"

	"github.com/joseph-ayodele/expense-extractor/constants"
	"github.com/joseph-ayodele/expense-extractor/internal/common"
	"github.com/joseph-ayodele/expense-extractor/internal/entity"
	"github.com/joseph-ayodele/expense-extractor/internal/events"
	"github.com/joseph-ayodele/expense-extractor/internal/metrics"
	"github.com/joseph-ayodele/expense-extractor/internal/repository"
)

// Machine validates and records transitions. Every accepted transition is
// persisted before it is published; a publish failure is only logged.
type Machine struct {
	repo    repository.RequestRepository
	sink    events.Sink
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// Option configures a Machine.
type Option func(*Machine)

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Machine) { s.metrics = m }
}

func NewMachine(repo repository.RequestRepository, sink events.Sink, logger *slog.Logger, opts ...Option) *Machine {
	if sink == nil {
		sink = events.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	m := &Machine{repo: repo, sink: sink, logger: logger}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// allowed lists the legal successors of each non-terminal state.
var allowed = map[constants.RequestState]map[constants.RequestState]bool{
	constants.StateQueued: {
		constants.StateProcessing: true,
		constants.StateFailed:     true,
	},
	constants.StateProcessing: {
		constants.StateProcessing:  true,
		constants.StateDone:        true,
		constants.StateNeedsReview: true,
		constants.StateFailed:      true,
	},
}

// CanTransition reports whether from -> to is legal, ignoring progress.
func CanTransition(from, to constants.RequestState) bool {
	return allowed[from][to]
}

// Create stores a new request with its first event, queued at 0.
func (m *Machine) Create(ctx context.Context, req entity.Request) (entity.Event, error) {
	req.State = constants.StateQueued
	ev, err := m.repo.Create(ctx, req, entity.Event{
		State:    constants.StateQueued,
		Progress: 0,
		Message:  "queued",
	})
	if err != nil {
		return entity.Event{}, err
	}
	m.accepted(ctx, ev)
	return ev, nil
}

// Transition moves a request to state with progress and message.
// Leaving a terminal state, skipping processing and lowering progress while
// processing all fail with common.ErrInvalidTransition.
func (m *Machine) Transition(ctx context.Context, id string, to constants.RequestState, progress float64, message string) (entity.Event, error) {
	if !to.Valid() {
		return entity.Event{}, common.InvalidArgumentErrorf("unknown state %q", to)
	}
	if progress < 0 || progress > 1 {
		return entity.Event{}, common.InvalidArgumentErrorf("progress %v out of [0,1]", progress)
	}

	ev, err := m.repo.AppendEvent(ctx, id, func(latest entity.Event) (entity.Event, error) {
		if !CanTransition(latest.State, to) {
			return entity.Event{}, common.TransitionError(string(latest.State), string(to))
		}
		if latest.State == constants.StateProcessing && to == constants.StateProcessing && progress < latest.Progress {
			return entity.Event{}, common.NewAppError("INVALID_TRANSITION",
				"progress may not decrease while processing", common.ErrInvalidTransition)
		}
		return entity.Event{State: to, Progress: progress, Message: message}, nil
	})
	if err != nil {
		common.LoggerFromContext(ctx, m.logger).Warn("state.transition.rejected",
			"request_id", id, "to", to, "progress", progress, "error", err)
		return entity.Event{}, err
	}
	m.accepted(ctx, ev)
	return ev, nil
}

// Annotate appends a same-state event with a new message to a finished
// request. It is not a transition and is rejected before termination.
func (m *Machine) Annotate(ctx context.Context, id, message string) (entity.Event, error) {
	ev, err := m.repo.AppendEvent(ctx, id, func(latest entity.Event) (entity.Event, error) {
		if !latest.State.Terminal() {
			return entity.Event{}, common.TransitionError(string(latest.State), string(latest.State))
		}
		return entity.Event{State: latest.State, Progress: latest.Progress, Message: message}, nil
	})
	if err != nil {
		return entity.Event{}, err
	}
	m.publish(ctx, ev)
	return ev, nil
}

// Fail moves a request to failed at 1.0 with an "error: " message.
func (m *Machine) Fail(ctx context.Context, id string, cause string) (entity.Event, error) {
	msg := cause
	if !strings.HasPrefix(msg, "error:") {
		msg = "error: " + msg
	}
	return m.Transition(ctx, id, constants.StateFailed, 1.0, msg)
}

// Status returns the fields of the latest event.
func (m *Machine) Status(ctx context.Context, id string) (entity.Event, error) {
	return m.repo.LatestEvent(ctx, id)
}

// Events returns the history after afterSeq in seq order.
func (m *Machine) Events(ctx context.Context, id string, afterSeq int64) ([]entity.Event, error) {
	evs, err := m.repo.ListEvents(ctx, id, afterSeq)
	if err != nil {
		return nil, err
	}
	if len(evs) == 0 {
		// tell an unknown id from an exhausted history
		if _, err := m.repo.LatestEvent(ctx, id); err != nil {
			return nil, err
		}
		return []entity.Event{}, nil
	}
	return evs, nil
}

func (m *Machine) accepted(ctx context.Context, ev entity.Event) {
	m.metrics.Transition(string(ev.State))
	common.LoggerFromContext(ctx, m.logger).Info("state.transition",
		"request_id", ev.RequestID,
		"seq", ev.Seq,
		"state", ev.State,
		"progress", ev.Progress,
		"message", ev.Message,
	)
	m.publish(ctx, ev)
}

func (m *Machine) publish(ctx context.Context, ev entity.Event) {
	if err := m.sink.Publish(ctx, ev); err != nil {
		common.LoggerFromContext(ctx, m.logger).Warn("state.publish.failed",
			"request_id", ev.RequestID, "seq", ev.Seq, "error", err)
	}
}
