// Package filesource resolves the bytes of submitted files: inline uploads
// from the artifact store, ERP references from the internal API.
package filesource

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/joseph-ayodele/expense-extractor/internal/entity"
	"github.com/joseph-ayodele/expense-extractor/internal/storage"
)

var (
	// ErrTransient marks failures worth retrying (5xx, 429, transport).
	ErrTransient = errors.New("transient file source error")
	// ErrFatal marks failures that no retry will fix.
	ErrFatal = errors.New("fatal file source error")
)

// Source fetches the raw bytes of one submitted file.
type Source interface {
	Fetch(ctx context.Context, f entity.SubmittedFile) ([]byte, error)
}

// Router sends uploads to the artifact store and references to the ERP client.
type Router struct {
	Uploads Source
	Refs    Source
}

func (r Router) Fetch(ctx context.Context, f entity.SubmittedFile) ([]byte, error) {
	switch {
	case f.UploadKey != "":
		if r.Uploads == nil {
			return nil, fmt.Errorf("%w: no upload source configured", ErrFatal)
		}
		return r.Uploads.Fetch(ctx, f)
	case f.Ref != nil:
		if r.Refs == nil {
			return nil, fmt.Errorf("%w: internal API not configured", ErrFatal)
		}
		return r.Refs.Fetch(ctx, f)
	}
	return nil, fmt.Errorf("%w: file %q has neither upload nor reference", ErrFatal, f.Filename)
}

// StoreSource reads uploads persisted at submit time.
type StoreSource struct {
	Store storage.Store
}

func (s StoreSource) Fetch(ctx context.Context, f entity.SubmittedFile) ([]byte, error) {
	b, err := s.Store.Get(ctx, f.UploadKey)
	if err != nil {
		return nil, fmt.Errorf("%w: read upload %s: %v", ErrFatal, f.UploadKey, err)
	}
	return b, nil
}

// Retrying retries transient failures a fixed number of times with a fixed delay.
type Retrying struct {
	next       Source
	maxRetries int
	delay      time.Duration
	logger     *slog.Logger
}

func NewRetrying(next Source, maxRetries int, delay time.Duration, logger *slog.Logger) *Retrying {
	if logger == nil {
		logger = slog.Default()
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	if delay < 0 {
		delay = 0
	}
	return &Retrying{next: next, maxRetries: maxRetries, delay: delay, logger: logger}
}

func (r *Retrying) Fetch(ctx context.Context, f entity.SubmittedFile) ([]byte, error) {
	attempt := 0
	op := func() ([]byte, error) {
		attempt++
		b, err := r.next.Fetch(ctx, f)
		if err != nil && (errors.Is(err, ErrFatal) || ctx.Err() != nil) {
			return nil, backoff.Permanent(err)
		}
		return b, err
	}
	notify := func(err error, wait time.Duration) {
		r.logger.Warn("filesource.fetch.retry",
			"filename", f.Filename,
			"attempt", attempt,
			"max_retries", r.maxRetries,
			"wait_ms", wait.Milliseconds(),
			"error", err,
		)
	}
	return backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewConstantBackOff(r.delay)),
		backoff.WithMaxTries(uint(r.maxRetries+1)),
		backoff.WithNotify(notify),
	)
}
