package async

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingProcessor struct {
	mu    sync.Mutex
	ids   []string
	delay time.Duration
	done  chan string
}

func newRecordingProcessor() *recordingProcessor {
	return &recordingProcessor{done: make(chan string, 16)}
}

func (p *recordingProcessor) Process(_ context.Context, id string) error {
	time.Sleep(p.delay)
	p.mu.Lock()
	p.ids = append(p.ids, id)
	p.mu.Unlock()
	p.done <- id
	if id == "bad" {
		return errors.New("boom")
	}
	return nil
}

func (p *recordingProcessor) processed() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.ids...)
}

func waitFor(t *testing.T, ch <-chan string, want string) {
	t.Helper()
	select {
	case got := <-ch:
		assert.Equal(t, want, got)
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", want)
	}
}

func TestProcessorQueue_ProcessesInOrder(t *testing.T) {
	proc := newRecordingProcessor()
	q := NewProcessorQueue(proc, nil, WithWorkers(1), WithQueueSize(4))

	ctx := context.Background()
	for _, id := range []string{"a", "bad", "c"} {
		require.NoError(t, q.Enqueue(ctx, Job{RequestID: id}))
	}
	waitFor(t, proc.done, "a")
	waitFor(t, proc.done, "bad")
	waitFor(t, proc.done, "c")

	q.Shutdown(ctx)
	assert.Equal(t, []string{"a", "bad", "c"}, proc.processed())
	assert.True(t, errors.Is(q.Enqueue(ctx, Job{RequestID: "late"}), ErrClosed))
	q.Shutdown(ctx)
}

func TestProcessorQueue_ShutdownDrains(t *testing.T) {
	proc := newRecordingProcessor()
	proc.delay = 5 * time.Millisecond
	q := NewProcessorQueue(proc, nil, WithQueueSize(8))

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, q.Enqueue(context.Background(), Job{RequestID: id}))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	q.Shutdown(ctx)
	assert.Len(t, proc.processed(), 3)
}

func TestProcessorQueue_EnqueueHonorsContext(t *testing.T) {
	proc := newRecordingProcessor()
	proc.delay = 200 * time.Millisecond
	q := NewProcessorQueue(proc, nil, WithQueueSize(1))
	defer q.Shutdown(context.Background())

	require.NoError(t, q.Enqueue(context.Background(), Job{RequestID: "a"}))
	// "a" may already be taken by the worker; fill the buffer
	_ = q.Enqueue(context.Background(), Job{RequestID: "b"})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := q.Enqueue(ctx, Job{RequestID: "c"})
	if err != nil {
		assert.True(t, errors.Is(err, context.DeadlineExceeded))
	}
}

func startJetStreamServer(t *testing.T) *natsserver.Server {
	t.Helper()
	opts := &natsserver.Options{
		Host:      "127.0.0.1",
		Port:      -1,
		NoLog:     true,
		NoSigs:    true,
		JetStream: true,
		StoreDir:  t.TempDir(),
	}
	server, err := natsserver.NewServer(opts)
	require.NoError(t, err)

	go server.Start()
	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}
	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})
	return server
}

func TestJetStreamQueue_DeliversJobs(t *testing.T) {
	server := startJetStreamServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	proc := newRecordingProcessor()
	q, err := NewJetStreamQueue(nc, proc, nil, WithProcessTimeout(time.Minute))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, Job{RequestID: "r1", SubmittedAt: time.Now()}))
	require.NoError(t, q.Enqueue(ctx, Job{RequestID: "r2"}))
	waitFor(t, proc.done, "r1")
	waitFor(t, proc.done, "r2")

	// same request id within the dedupe window is dropped
	require.NoError(t, q.Enqueue(ctx, Job{RequestID: "r1"}))
	select {
	case id := <-proc.done:
		t.Fatalf("unexpected redelivery of %s", id)
	case <-time.After(300 * time.Millisecond):
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	q.Shutdown(shutdownCtx)
	assert.Equal(t, []string{"r1", "r2"}, proc.processed())
	assert.True(t, errors.Is(q.Enqueue(ctx, Job{RequestID: "r3"}), ErrClosed))

	js, err := nc.JetStream()
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		info, err := js.StreamInfo(JobsStream)
		return err == nil && info.State.Msgs == 0
	}, 5*time.Second, 50*time.Millisecond, "acked work-queue messages are removed")
}

func TestJetStreamQueue_ReusesStream(t *testing.T) {
	server := startJetStreamServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	proc := newRecordingProcessor()
	q1, err := NewJetStreamQueue(nc, proc, nil)
	require.NoError(t, err)
	q1.Shutdown(context.Background())

	q2, err := NewJetStreamQueue(nc, proc, nil)
	require.NoError(t, err)
	defer q2.Shutdown(context.Background())

	require.NoError(t, q2.Enqueue(context.Background(), Job{RequestID: "again"}))
	waitFor(t, proc.done, "again")
}
