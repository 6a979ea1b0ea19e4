package bus

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/mistakeknot/calalarmd/internal/core"
)

// NATSPublisher publishes alarm events as JSON to a NATS subject.
type NATSPublisher struct {
	conn    *nats.Conn
	subject string
}

// NewNATSPublisher connects to the NATS server at url.
func NewNATSPublisher(url, subject string) (*NATSPublisher, error) {
	conn, err := nats.Connect(url, nats.Name("calalarmd"))
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", url, err)
	}
	return &NATSPublisher{conn: conn, subject: subject}, nil
}

func (p *NATSPublisher) Publish(ev core.AlarmEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("nats marshal event: %w", err)
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		return fmt.Errorf("nats publish: %w", err)
	}
	return nil
}

// Close drains and closes the connection.
func (p *NATSPublisher) Close() {
	p.conn.Drain()
}
