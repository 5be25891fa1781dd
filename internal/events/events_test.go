package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/expense-extractor/constants"
	"github.com/joseph-ayodele/expense-extractor/internal/entity"
)

func startTestNATSServer(t *testing.T) *natsserver.Server {
	opts := &natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
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

func TestNATS_PublishesPerRequestSubject(t *testing.T) {
	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	msgs := make(chan *nats.Msg, 4)
	sub, err := nc.ChanSubscribe(Subject("req-1"), msgs)
	require.NoError(t, err)
	defer func() { _ = sub.Unsubscribe() }()
	require.NoError(t, nc.Flush())

	sink := NewNATS(nc)
	ev := entity.Event{RequestID: "req-1", Seq: 2, State: constants.StateProcessing, Progress: 0.3, Message: "ocr"}
	require.NoError(t, sink.Publish(context.Background(), ev))
	require.NoError(t, sink.Publish(context.Background(), entity.Event{RequestID: "req-2", Seq: 1}))

	select {
	case msg := <-msgs:
		assert.Equal(t, "extractor.events.req-1", msg.Subject)
		var got entity.Event
		require.NoError(t, json.Unmarshal(msg.Data, &got))
		assert.Equal(t, ev.Seq, got.Seq)
		assert.Equal(t, ev.State, got.State)
		assert.Equal(t, "ocr", got.Message)
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}

	select {
	case msg := <-msgs:
		t.Fatalf("unexpected message on %s", msg.Subject)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBroadcaster_SubscribeAndCancel(t *testing.T) {
	b := NewBroadcaster()
	ch, cancel := b.Subscribe("r1")
	other, cancelOther := b.Subscribe("r2")
	defer cancelOther()

	require.NoError(t, b.Publish(context.Background(), entity.Event{RequestID: "r1", Seq: 1}))

	got := <-ch
	assert.Equal(t, int64(1), got.Seq)
	assert.Empty(t, other)

	cancel()
	cancel()
	_, open := <-ch
	assert.False(t, open)

	require.NoError(t, b.Publish(context.Background(), entity.Event{RequestID: "r1", Seq: 2}))
}

type failingSink struct{ err error }

func (f failingSink) Publish(context.Context, entity.Event) error { return f.err }

func TestMulti_JoinsErrorsAndDeliversToAll(t *testing.T) {
	b := NewBroadcaster()
	ch, cancel := b.Subscribe("r1")
	defer cancel()

	boom := errors.New("boom")
	m := Multi{failingSink{err: boom}, nil, b, Nop{}}
	err := m.Publish(context.Background(), entity.Event{RequestID: "r1", Seq: 5})
	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))

	got := <-ch
	assert.Equal(t, int64(5), got.Seq)
}
