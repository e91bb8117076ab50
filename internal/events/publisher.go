package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/technosupport/ts-presence/internal/metrics"
)

// Publisher forwards normalized events to a NATS subject for anything else
// on the bus (recorders, dashboards). Best effort with bounded retries;
// presence lighting never depends on a publish succeeding.
type Publisher struct {
	conn       *nats.Conn
	subject    string
	maxRetries int
}

func NewPublisher(conn *nats.Conn, subject string, maxRetries int) *Publisher {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Publisher{conn: conn, subject: subject, maxRetries: maxRetries}
}

func (p *Publisher) Publish(env *Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	for i := 0; i <= p.maxRetries; i++ {
		err = p.conn.Publish(p.subject, data)
		if err == nil {
			return nil
		}
		time.Sleep(time.Duration(i*100) * time.Millisecond)
	}

	metrics.PublishFailures.Inc()
	return fmt.Errorf("publish to %s failed after %d retries: %w", p.subject, p.maxRetries, err)
}
