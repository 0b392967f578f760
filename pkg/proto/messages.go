// Package proto defines the wire messages exchanged with devices and
// event-feed subscribers. Device firmware sends camelCase JSON keys, so
// every type here keeps that convention.
package proto

import "time"

// ChunkMessage is one fragment of a chunked file upload. A device splits
// the base64 encoding of a file into pieces and delivers each piece as an
// independent message; pieces may arrive in any order and more than once.
type ChunkMessage struct {
	DeviceID   string            `json:"deviceId"`
	Properties MessageProperties `json:"messageProperties"`
	Telemetry  Telemetry         `json:"telemetry"`
}

// MessageProperties carries the metadata shared by every chunk of one
// upload. The (deviceId, id, maxPart) triple identifies the chunk set.
type MessageProperties struct {
	ID          string `json:"id"`          // upload identifier, unique per device
	FilePath    string `json:"filepath"`    // relative target path, e.g. "logs/2026/boot.json"
	Part        *int   `json:"part"`        // fragment index; pointer keeps absent distinct from zero
	MaxPart     int    `json:"maxPart"`     // total number of fragments
	Compression string `json:"compression"` // "none" or "deflate"
}

// Telemetry wraps the fragment payload.
type Telemetry struct {
	// ContentChunk is a slice of the file's base64 text. The split points
	// fall anywhere in the text, so an individual chunk is usually not
	// decodable on its own.
	ContentChunk string `json:"contentChunk"`
}

// ArtifactEvent is published on the event feed when an upload has been
// reassembled and written out.
type ArtifactEvent struct {
	DeviceID    string    `json:"deviceId"`
	MessageID   string    `json:"messageId"`
	Path        string    `json:"path"` // final path relative to the output root
	Size        int64     `json:"size"` // artifact size in bytes after decoding
	Parts       int       `json:"parts"`
	CompletedAt time.Time `json:"completedAt"`
}
