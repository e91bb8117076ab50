package isapi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEventNamespaced(t *testing.T) {
	ev, err := ParseEvent([]byte(sampleRecord))
	require.NoError(t, err)

	// Tag names come back without the namespace qualifier.
	assert.Equal(t, "1", ev[FieldChannelID])
	assert.Equal(t, "VMD", ev[FieldEventType])
	assert.Equal(t, "2024-03-02T18:40:07+01:00", ev[FieldDateTime])
	assert.Equal(t, "active", ev["eventState"])
}

func TestParseEventWithoutNamespace(t *testing.T) {
	ev, err := ParseEvent([]byte(`<EventNotificationAlert><channelID>3</channelID><eventType>VMD</eventType></EventNotificationAlert>`))
	require.NoError(t, err)
	assert.Equal(t, "3", ev[FieldChannelID])
}

func TestParseEventRepeatedTagLastWins(t *testing.T) {
	ev, err := ParseEvent([]byte(`<EventNotificationAlert><eventType>IO</eventType><eventType>VMD</eventType></EventNotificationAlert>`))
	require.NoError(t, err)
	assert.Equal(t, "VMD", ev[FieldEventType])
}

func TestParseEventSkipsNonLeafChildren(t *testing.T) {
	ev, err := ParseEvent([]byte(`<EventNotificationAlert>
<channelID>2</channelID>
<DetectionRegionList><DetectionRegionEntry><regionID>1</regionID></DetectionRegionEntry></DetectionRegionList>
</EventNotificationAlert>`))
	require.NoError(t, err)
	assert.Equal(t, "2", ev[FieldChannelID])
	_, ok := ev["DetectionRegionList"]
	assert.False(t, ok)
}

func TestParseEventMalformed(t *testing.T) {
	_, err := ParseEvent([]byte(`<EventNotificationAlert><channelID>1</channel`))
	assert.Error(t, err)

	_, err = ParseEvent([]byte(``))
	assert.Error(t, err)

	_, err = ParseEvent([]byte(`not xml at all`))
	assert.Error(t, err)
}
