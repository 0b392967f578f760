package proto

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkMessage_DeviceWireFormat(t *testing.T) {
	// Exactly the JSON shape device firmware sends.
	raw := `{
		"deviceId": "sensor-1",
		"messageProperties": {
			"id": "msg-42",
			"filepath": "logs/2026/boot.json",
			"part": 2,
			"maxPart": 3,
			"compression": "deflate"
		},
		"telemetry": {
			"contentChunk": "eyJvayI6dHJ1ZX0="
		}
	}`

	var msg ChunkMessage
	require.NoError(t, json.Unmarshal([]byte(raw), &msg))

	assert.Equal(t, "sensor-1", msg.DeviceID)
	assert.Equal(t, "msg-42", msg.Properties.ID)
	assert.Equal(t, "logs/2026/boot.json", msg.Properties.FilePath)
	require.NotNil(t, msg.Properties.Part)
	assert.Equal(t, 2, *msg.Properties.Part)
	assert.Equal(t, 3, msg.Properties.MaxPart)
	assert.Equal(t, "deflate", msg.Properties.Compression)
	assert.Equal(t, "eyJvayI6dHJ1ZX0=", msg.Telemetry.ContentChunk)
}

func TestChunkMessage_AbsentPartStaysNil(t *testing.T) {
	// part carries its index in a pointer so a missing field and an
	// explicit zero stay distinguishable after decoding.
	var absent ChunkMessage
	require.NoError(t, json.Unmarshal([]byte(`{"messageProperties": {"id": "m"}}`), &absent))
	assert.Nil(t, absent.Properties.Part)

	var zero ChunkMessage
	require.NoError(t, json.Unmarshal([]byte(`{"messageProperties": {"id": "m", "part": 0}}`), &zero))
	require.NotNil(t, zero.Properties.Part)
	assert.Equal(t, 0, *zero.Properties.Part)
}

func TestArtifactEvent_SubscriberWireFormat(t *testing.T) {
	completed := time.Date(2026, 8, 25, 10, 30, 0, 0, time.UTC)
	evt := ArtifactEvent{
		DeviceID:    "sensor-1",
		MessageID:   "msg-42",
		Path:        "logs/report.json",
		Size:        2048,
		Parts:       3,
		CompletedAt: completed,
	}

	data, err := json.Marshal(evt)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))

	// Subscribers key off the camelCase names.
	assert.Equal(t, "sensor-1", decoded["deviceId"])
	assert.Equal(t, "msg-42", decoded["messageId"])
	assert.Equal(t, "logs/report.json", decoded["path"])
	assert.Equal(t, float64(2048), decoded["size"])
	assert.Equal(t, float64(3), decoded["parts"])
	assert.Equal(t, "2026-08-25T10:30:00Z", decoded["completedAt"])
}
