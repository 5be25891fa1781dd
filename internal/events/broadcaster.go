package events

import (
	"context"
	"sync"

	"github.com/joseph-ayodele/expense-extractor/internal/entity"
)

// Broadcaster is an in-process Sink that forwards events to live
// per-request subscribers.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[string]map[chan entity.Event]struct{}
	buffer int
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[string]map[chan entity.Event]struct{}), buffer: 16}
}

// Subscribe returns a channel of events for requestID and a cancel func that
// must be called to release it.
func (b *Broadcaster) Subscribe(requestID string) (<-chan entity.Event, func()) {
	ch := make(chan entity.Event, b.buffer)
	b.mu.Lock()
	if b.subs[requestID] == nil {
		b.subs[requestID] = make(map[chan entity.Event]struct{})
	}
	b.subs[requestID][ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs[requestID], ch)
			if len(b.subs[requestID]) == 0 {
				delete(b.subs, requestID)
			}
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish never blocks; a subscriber whose buffer is full misses the event
// and can resync from the persisted history.
func (b *Broadcaster) Publish(_ context.Context, ev entity.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[ev.RequestID] {
		select {
		case ch <- ev:
		default:
		}
	}
	return nil
}
