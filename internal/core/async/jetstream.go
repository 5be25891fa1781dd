package async

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	JobsStream   = "EXTRACTOR_JOBS"
	JobsSubject  = "extractor.jobs"
	JobsConsumer = "extractor-worker"
)

// JetStreamQueue is a durable work queue. Each job is acked after the
// processor returns, so a crashed worker's job is redelivered.
type JetStreamQueue struct {
	js      nats.JetStreamContext
	sub     *nats.Subscription
	proc    Processor
	logger  *slog.Logger
	workers int
	timeout time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewJetStreamQueue ensures the stream and durable consumer exist and
// starts the pull workers.
func NewJetStreamQueue(nc *nats.Conn, proc Processor, logger *slog.Logger, opts ...Option) (*JetStreamQueue, error) {
	if logger == nil {
		logger = slog.Default()
	}
	o := buildOptions(opts)

	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("jetstream context: %w", err)
	}
	if _, err := js.StreamInfo(JobsStream); err != nil {
		if !errors.Is(err, nats.ErrStreamNotFound) {
			return nil, fmt.Errorf("stream info: %w", err)
		}
		_, err = js.AddStream(&nats.StreamConfig{
			Name:      JobsStream,
			Subjects:  []string{JobsSubject},
			Retention: nats.WorkQueuePolicy,
			Storage:   nats.FileStorage,
		})
		if err != nil {
			return nil, fmt.Errorf("add stream: %w", err)
		}
		logger.Info("queue.jetstream.stream_created", "stream", JobsStream)
	}

	sub, err := js.PullSubscribe(JobsSubject, JobsConsumer,
		nats.BindStream(JobsStream),
		nats.AckWait(o.timeout+time.Minute),
	)
	if err != nil {
		return nil, fmt.Errorf("pull subscribe: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &JetStreamQueue{
		js:      js,
		sub:     sub,
		proc:    proc,
		logger:  logger,
		workers: o.workers,
		timeout: o.timeout,
		cancel:  cancel,
	}
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.loop(ctx, i+1)
	}
	return q, nil
}

func (q *JetStreamQueue) loop(ctx context.Context, workerID int) {
	defer q.wg.Done()
	q.logger.Info("queue.worker.started", "worker_id", workerID, "consumer", JobsConsumer)
	for ctx.Err() == nil {
		msgs, err := q.sub.Fetch(1, nats.MaxWait(time.Second))
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			if errors.Is(err, nats.ErrConnectionClosed) || errors.Is(err, nats.ErrBadSubscription) {
				break
			}
			q.logger.Warn("queue.jetstream.fetch_failed", "worker_id", workerID, "error", err)
			time.Sleep(250 * time.Millisecond)
			continue
		}
		for _, msg := range msgs {
			var job Job
			if err := json.Unmarshal(msg.Data, &job); err != nil || job.RequestID == "" {
				q.logger.Error("queue.jetstream.bad_job", "worker_id", workerID, "error", err)
				_ = msg.Term()
				continue
			}
			runJob(q.proc, q.logger, q.timeout, workerID, job)
			if err := msg.Ack(); err != nil {
				q.logger.Warn("queue.jetstream.ack_failed", "request_id", job.RequestID, "error", err)
			}
		}
	}
	q.logger.Info("queue.worker.stopped", "worker_id", workerID)
}

// Enqueue publishes the job; the request id is the dedupe key.
func (q *JetStreamQueue) Enqueue(ctx context.Context, job Job) error {
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return ErrClosed
	}
	b, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	pubOpts := []nats.PubOpt{nats.MsgId(job.RequestID)}
	if _, ok := ctx.Deadline(); ok {
		pubOpts = append(pubOpts, nats.Context(ctx))
	}
	if _, err := q.js.Publish(JobsSubject, b, pubOpts...); err != nil {
		q.logger.Error("queue.jetstream.publish_failed", "request_id", job.RequestID, "error", err)
		return fmt.Errorf("publish job: %w", err)
	}
	q.logger.Info("queue.enqueued", "request_id", job.RequestID, "stream", JobsStream)
	return nil
}

// Shutdown stops fetching and waits for in-flight jobs.
func (q *JetStreamQueue) Shutdown(ctx context.Context) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()
	q.cancel()

	done := make(chan struct{})
	go func() { defer close(done); q.wg.Wait() }()
	select {
	case <-ctx.Done():
		q.logger.Warn("queue.shutdown.interrupted")
	case <-done:
		q.logger.Info("queue.shutdown.drained")
	}
}
