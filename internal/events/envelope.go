// Package events normalizes handled stream events for observers: the NATS
// publisher and the live websocket feed. The presence engine consumes raw
// stream events directly and does not depend on anything here.
package events

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/technosupport/ts-presence/internal/isapi"
)

// Envelope is the normalized form of one camera event.
type Envelope struct {
	EventID    uuid.UUID   `json:"event_id"`
	Source     string      `json:"source"`
	ChannelID  int         `json:"channel_id"`
	EventType  string      `json:"event_type"`
	OccurredAt time.Time   `json:"occurred_at"`
	ReceivedAt time.Time   `json:"received_at"`
	DedupKey   string      `json:"dedup_key"`
	Fields     isapi.Event `json:"fields"`
}

// Device dateTime layouts seen in the wild; tried in order.
var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
}

// FromStreamEvent wraps a parsed stream event. Events without a parseable
// timestamp get the receive time; without a numeric channel, channel 0.
func FromStreamEvent(ev isapi.Event) *Envelope {
	now := time.Now()

	occurred := now
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, ev[isapi.FieldDateTime]); err == nil {
			occurred = t
			break
		}
	}

	channel, _ := strconv.Atoi(ev[isapi.FieldChannelID])

	env := &Envelope{
		EventID:    uuid.New(),
		Source:     "isapi",
		ChannelID:  channel,
		EventType:  ev[isapi.FieldEventType],
		OccurredAt: occurred,
		ReceivedAt: now,
		Fields:     ev,
	}
	env.DedupKey = BuildDedupKey(env.ChannelID, env.EventType, env.OccurredAt)
	return env
}

// BuildDedupKey buckets the occurrence time to one second so repeated
// notifications for the same detection collapse to one key.
func BuildDedupKey(channelID int, eventType string, occurredAt time.Time) string {
	return fmt.Sprintf("%d|%s|%d", channelID, eventType, occurredAt.Truncate(time.Second).Unix())
}
