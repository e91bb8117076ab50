// Package isapi consumes an ISAPI alert stream: a long-lived HTTP response
// carrying concatenated EventNotificationAlert XML records.
package isapi

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// Event is one parsed notification record, keyed by the local (namespace
// stripped) tag name of each child element of the alert root.
type Event map[string]string

// EventTypeMotion is the ISAPI event type for video motion detection.
const EventTypeMotion = "VMD"

// Fields consumed downstream.
const (
	FieldChannelID = "channelID"
	FieldEventType = "eventType"
	FieldDateTime  = "dateTime"
)

// ParseEvent decodes a single EventNotificationAlert record into an Event.
// Only direct children of the root contribute; namespace prefixes are
// dropped. A repeated tag overwrites the earlier value.
func ParseEvent(record []byte) (Event, error) {
	dec := xml.NewDecoder(bytes.NewReader(record))

	ev := Event{}
	sawRoot := false
	depth := 0
	var field string
	var text strings.Builder

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse event record: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			if depth == 1 {
				sawRoot = true
			}
			if depth == 2 {
				field = t.Name.Local
				text.Reset()
			} else if depth == 3 {
				// Parent is not a leaf; discard it.
				field = ""
			}
		case xml.CharData:
			if depth == 2 && field != "" {
				text.Write(t)
			}
		case xml.EndElement:
			if depth == 2 && field != "" {
				ev[field] = strings.TrimSpace(text.String())
				field = ""
			}
			depth--
		}
	}

	if !sawRoot {
		return nil, fmt.Errorf("parse event record: no root element")
	}
	return ev, nil
}
