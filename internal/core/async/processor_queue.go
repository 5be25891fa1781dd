package async

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// ProcessorQueue is the in-process queue. It is not durable; queued requests
// are re-enqueued from the database on start.
type ProcessorQueue struct {
	proc    Processor
	logger  *slog.Logger
	workers int
	timeout time.Duration

	ch   chan Job
	wg   sync.WaitGroup
	once sync.Once

	mu     sync.RWMutex
	closed bool
}

func NewProcessorQueue(proc Processor, logger *slog.Logger, opts ...Option) *ProcessorQueue {
	if logger == nil {
		logger = slog.Default()
	}
	o := buildOptions(opts)
	q := &ProcessorQueue{
		proc:    proc,
		logger:  logger,
		workers: o.workers,
		timeout: o.timeout,
		ch:      make(chan Job, o.size),
	}
	q.start()
	return q
}

func (q *ProcessorQueue) start() {
	q.once.Do(func() {
		for i := 0; i < q.workers; i++ {
			q.wg.Add(1)
			go func(workerID int) {
				defer q.wg.Done()
				q.logger.Info("queue.worker.started", "worker_id", workerID)

				for job := range q.ch {
					runJob(q.proc, q.logger, q.timeout, workerID, job)
				}

				q.logger.Info("queue.worker.stopped", "worker_id", workerID)
			}(i + 1)
		}
	})
}

// runJob processes one job under its own timeout. Failures are already
// recorded on the request by the processor.
func runJob(proc Processor, logger *slog.Logger, timeout time.Duration, workerID int, job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	start := time.Now()
	if err := proc.Process(ctx, job.RequestID); err != nil {
		logger.Error("queue.job.failed", "worker_id", workerID, "request_id", job.RequestID, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds())
		return
	}
	logger.Info("queue.job.done", "worker_id", workerID, "request_id", job.RequestID,
		"elapsed_ms", time.Since(start).Milliseconds())
}

// Enqueue blocks while the buffer is full, until ctx is done.
func (q *ProcessorQueue) Enqueue(ctx context.Context, job Job) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		q.logger.Warn("queue.enqueue.closed", "request_id", job.RequestID)
		return ErrClosed
	}
	select {
	case q.ch <- job:
		q.logger.Info("queue.enqueued", "request_id", job.RequestID)
		return nil
	default:
	}

	q.logger.Warn("queue.full.backpressure", "request_id", job.RequestID)
	select {
	case q.ch <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *ProcessorQueue) Shutdown(ctx context.Context) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.ch)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); q.wg.Wait() }()

	select {
	case <-ctx.Done():
		q.logger.Warn("queue.shutdown.interrupted")
	case <-done:
		q.logger.Info("queue.shutdown.drained")
	}
}
