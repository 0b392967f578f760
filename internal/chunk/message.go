package chunk

import (
	"io/fs"
	"path"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/restitch/restitch/pkg/proto"
)

// Compression values the device protocol documents. Matching is
// case-insensitive; anything else is stored as sent and treated as
// uncompressed at reassembly.
const (
	CompressionNone    = "none"
	CompressionDeflate = "deflate"
)

// Message is a validated inbound chunk, normalized for the store.
type Message struct {
	Key         SetKey
	Part        int
	FilePath    string // cleaned relative target path
	Compression string
	Payload     string // fragment of the upload's base64 text, possibly empty
}

// ParseMessage checks the required fields of an inbound chunk message.
// The checks run in the order devices learned to expect them, and each
// failure reports the offending wire field. deviceId is not required:
// an absent one simply scopes the set to the empty device.
func ParseMessage(raw proto.ChunkMessage) (Message, error) {
	props := raw.Properties

	if props.ID == "" {
		return Message{}, &ValidationError{Field: "id"}
	}

	target := path.Clean(props.FilePath)
	if props.FilePath == "" || target == "." {
		return Message{}, &ValidationError{Field: "filepath"}
	}
	if !fs.ValidPath(target) {
		return Message{}, &ValidationError{Field: "filepath", Reason: "filepath escapes the output area"}
	}

	if props.Part == nil {
		return Message{}, &ValidationError{Field: "part"}
	}

	if props.MaxPart <= 0 {
		return Message{}, &ValidationError{Field: "maxPart"}
	}

	if props.Compression == "" {
		return Message{}, &ValidationError{Field: "compression"}
	}
	if !strings.EqualFold(props.Compression, CompressionNone) &&
		!strings.EqualFold(props.Compression, CompressionDeflate) {
		log.Warn().
			Str("device", raw.DeviceID).
			Str("message_id", props.ID).
			Str("compression", props.Compression).
			Msg("unrecognized compression value, treating as uncompressed")
	}

	return Message{
		Key: SetKey{
			Device:     raw.DeviceID,
			MessageID:  props.ID,
			TotalParts: props.MaxPart,
		},
		Part:        *props.Part,
		FilePath:    target,
		Compression: props.Compression,
		Payload:     raw.Telemetry.ContentChunk,
	}, nil
}
