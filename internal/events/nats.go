package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/joseph-ayodele/expense-extractor/internal/entity"
)

// SubjectPrefix is followed by the request id: extractor.events.{id}.
const SubjectPrefix = "extractor.events"

// Subject returns the NATS subject carrying the events of one request.
func Subject(requestID string) string {
	return fmt.Sprintf("%s.%s", SubjectPrefix, requestID)
}

// NATS publishes events as JSON on a per-request subject.
type NATS struct {
	nc *nats.Conn
}

func NewNATS(nc *nats.Conn) *NATS {
	return &NATS{nc: nc}
}

func (n *NATS) Publish(_ context.Context, ev entity.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := n.nc.Publish(Subject(ev.RequestID), data); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}
