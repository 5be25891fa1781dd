// Package async feeds queued requests to the processor, either from an
// in-process channel or from a NATS JetStream work queue.
package async

import (
	"context"
	"errors"
	"time"
)

// ErrClosed is returned by Enqueue after Shutdown.
var ErrClosed = errors.New("queue is shut down")

// Job asks a worker to process one request.
type Job struct {
	RequestID   string    `json:"request_id"`
	SubmittedAt time.Time `json:"submitted_at"`
}

type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	Shutdown(ctx context.Context)
}

// Processor runs one request to a terminal state.
type Processor interface {
	Process(ctx context.Context, requestID string) error
}

type options struct {
	workers int
	size    int
	timeout time.Duration
}

type Option func(*options)

func WithWorkers(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.workers = n
		}
	}
}

func WithQueueSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.size = n
		}
	}
}

func WithProcessTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{workers: 1, size: 256, timeout: 15 * time.Minute}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
