package chunk

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/restitch/restitch/internal/metrics"
	"github.com/restitch/restitch/pkg/proto"
)

// Processor runs the full lifecycle for one inbound chunk message: validate,
// store, check completion, and on the completing message reassemble the
// artifact, place it and retire the set. Every call finishes with one expiry
// sweep pass, whether or not the message itself was processed successfully.
//
// Processors are stateless and safe for concurrent use; coordination between
// concurrent invocations of the same set happens through the store's claim
// markers.
type Processor struct {
	store     *Store
	assembler *Assembler
	output    *OutputStore
	cleaner   *Cleaner
	sweeper   *Sweeper

	// OnArtifact, when set, is called after each successful reassembly.
	OnArtifact func(proto.ArtifactEvent)
}

// NewProcessor wires the chunk engine components together.
func NewProcessor(store *Store, assembler *Assembler, output *OutputStore, cleaner *Cleaner, sweeper *Sweeper) *Processor {
	return &Processor{
		store:     store,
		assembler: assembler,
		output:    output,
		cleaner:   cleaner,
		sweeper:   sweeper,
	}
}

// Process handles one inbound message. The returned error is safe to hand
// back to the sender verbatim: validation failures keep their short
// protocol form and everything else is prefixed with the failing stage.
func (p *Processor) Process(raw proto.ChunkMessage) error {
	defer p.sweeper.Sweep()

	msg, err := ParseMessage(raw)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			metrics.ChunksRejected.WithLabelValues(verr.Field).Inc()
		}
		return err
	}

	if err := p.store.Put(msg.Key, msg.Part, msg.Payload); err != nil {
		return fmt.Errorf("store chunk: %w", err)
	}
	metrics.ChunksReceived.Inc()
	metrics.ChunkBytes.Add(float64(len(msg.Payload)))
	log.Debug().
		Str("set", msg.Key.String()).
		Int("part", msg.Part).
		Int("bytes", len(msg.Payload)).
		Msg("fragment stored")

	complete, err := p.isComplete(msg.Key)
	if err != nil {
		return fmt.Errorf("check completion: %w", err)
	}
	if !complete {
		return nil
	}

	return p.finish(msg)
}

// isComplete reports whether every index 1..TotalParts is stored. Stray
// indices outside that range neither count toward nor block completion.
func (p *Processor) isComplete(key SetKey) (bool, error) {
	parts, err := p.store.Parts(key)
	if err != nil {
		return false, err
	}

	inRange := 0
	for _, part := range parts {
		if part >= 1 && part <= key.TotalParts {
			inRange++
		}
	}
	return inRange == key.TotalParts, nil
}

// finish reassembles a complete set, writes the artifact and retires the
// set's entries. The store claim guarantees at most one invocation gets
// here per set; losers of the race return success and leave the work to
// the winner.
func (p *Processor) finish(msg Message) error {
	if err := p.store.Claim(msg.Key); err != nil {
		if errors.Is(err, ErrClaimHeld) {
			metrics.ClaimConflicts.Inc()
			log.Debug().Str("set", msg.Key.String()).Msg("set already claimed, skipping reassembly")
			return nil
		}
		return fmt.Errorf("claim set: %w", err)
	}

	content, err := p.assembler.Reassemble(msg.Key, msg.Compression)
	if err != nil {
		p.releaseAfterFailure(msg.Key)
		metrics.ReconstructFailures.WithLabelValues(failureStage(err)).Inc()
		return err
	}

	placed, err := p.output.Place(msg.FilePath, content)
	if err != nil {
		p.releaseAfterFailure(msg.Key)
		metrics.ReconstructFailures.WithLabelValues("write").Inc()
		return fmt.Errorf("write artifact: %w", err)
	}

	metrics.ArtifactsReconstructed.Inc()
	log.Info().
		Str("set", msg.Key.String()).
		Str("path", placed).
		Int("parts", msg.Key.TotalParts).
		Int("bytes", len(content)).
		Msg("artifact reconstructed")

	if p.OnArtifact != nil {
		p.OnArtifact(proto.ArtifactEvent{
			DeviceID:    msg.Key.Device,
			MessageID:   msg.Key.MessageID,
			Path:        placed,
			Size:        int64(len(content)),
			Parts:       msg.Key.TotalParts,
			CompletedAt: time.Now().UTC(),
		})
	}

	p.cleaner.Cleanup(msg.Key)
	return nil
}

// releaseAfterFailure frees the set's claim so a redelivered fragment can
// retry the reassembly.
func (p *Processor) releaseAfterFailure(key SetKey) {
	if err := p.store.ReleaseClaim(key); err != nil {
		log.Warn().Err(err).Str("set", key.String()).Msg("could not release claim after failure")
	}
}

func failureStage(err error) string {
	var decodeErr *DecodeError
	var inflateErr *InflateError
	switch {
	case errors.As(err, &decodeErr):
		return "decode"
	case errors.As(err, &inflateErr):
		return "inflate"
	default:
		return "read"
	}
}
