package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
)

// Publisher is the subset of *nats.Conn used by NATSSink.
type Publisher interface {
	PublishMsg(m *nats.Msg) error
}

// NATSSink publishes events to "<prefix>.<type>". The event id goes into the
// Nats-Msg-Id header so a JetStream stream on the subject drops redeliveries.
type NATSSink struct {
	conn   Publisher
	prefix string
}

// NewNATSSink creates a sink on an established connection.
func NewNATSSink(conn Publisher, prefix string) *NATSSink {
	return &NATSSink{conn: conn, prefix: strings.TrimSuffix(prefix, ".")}
}

// ConnectNATS dials url with reconnects enabled.
func ConnectNATS(url string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("youtube-lifecycle-notifier"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return nc, nil
}

func (s *NATSSink) Name() string { return "nats" }

// Subject returns the subject an event of type t is published on.
func (s *NATSSink) Subject(t Type) string {
	return s.prefix + "." + string(t)
}

func (s *NATSSink) Publish(ctx context.Context, e *Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := nats.NewMsg(s.Subject(e.Type))
	msg.Header.Set(nats.MsgIdHdr, e.ID)
	msg.Data = body
	if err := s.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish %s: %w", msg.Subject, err)
	}
	return nil
}
