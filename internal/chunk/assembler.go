package chunk

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/flate"
)

// Assembler rebuilds the original artifact bytes from a complete chunk set.
type Assembler struct {
	store *Store
}

// NewAssembler returns an Assembler reading from the given store.
func NewAssembler(store *Store) *Assembler {
	return &Assembler{store: store}
}

// Reassemble reads parts 1..TotalParts in index order, concatenates their
// text, decodes the result as one base64 document and, when the set was
// sent deflate-compressed, inflates it. Chunks are fragments of the base64
// TEXT, so decoding must happen exactly once over the joined whole; decoding
// fragments individually would tear multi-byte groups apart.
func (a *Assembler) Reassemble(key SetKey, compression string) ([]byte, error) {
	var text strings.Builder
	for part := 1; part <= key.TotalParts; part++ {
		payload, err := a.store.Read(key, part)
		if err != nil {
			return nil, fmt.Errorf("read part %d of %s: %w", part, key, err)
		}
		text.WriteString(payload)
	}

	raw, err := base64.StdEncoding.DecodeString(text.String())
	if err != nil {
		return nil, &DecodeError{Err: err}
	}

	if !strings.EqualFold(compression, CompressionDeflate) {
		return raw, nil
	}

	fr := flate.NewReader(bytes.NewReader(raw))
	inflated, err := io.ReadAll(fr)
	if err != nil {
		fr.Close()
		return nil, &InflateError{Err: err}
	}
	if err := fr.Close(); err != nil {
		return nil, &InflateError{Err: err}
	}
	return inflated, nil
}
