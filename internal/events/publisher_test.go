package events

import (
	"encoding/json"
	"testing"
	"time"

	"fleetsim/internal/common"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNopPublisher(t *testing.T) {
	var p Publisher = NopPublisher{}
	p.Publish(Event{Type: EventNodeRegistered})
	assert.NoError(t, p.Close())
}

func TestEventJSONEncoding(t *testing.T) {
	ts := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	event := Event{
		Type:      EventContainerAdmitted,
		RunID:     "run-1",
		NodeID:    common.NodeID{Host: "node1", Rack: "/rack1"},
		Detail:    "container_1_0001_01_000001",
		Timestamp: ts,
	}

	raw, err := json.Marshal(event)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "CONTAINER_ADMITTED", decoded["type"])
	assert.Equal(t, "run-1", decoded["run_id"])
	assert.Equal(t, "container_1_0001_01_000001", decoded["detail"])
}

func TestEventOmitsEmptyOptionalFields(t *testing.T) {
	raw, err := json.Marshal(Event{Type: EventNodeShutdown, Timestamp: time.Now()})
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.NotContains(t, decoded, "run_id")
	assert.NotContains(t, decoded, "detail")
}
