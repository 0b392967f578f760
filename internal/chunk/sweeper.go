package chunk

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/restitch/restitch/internal/metrics"
)

// Sweeper relocates chunk-area entries that outlived the expiry window into
// the dead-letter area. It judges entries one by one with no set awareness:
// a set that went stale mid-upload drains piecemeal, and claim markers and
// abandoned temp files age out the same way as fragments.
type Sweeper struct {
	store  *Store
	maxAge time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// SweepStats reports the outcome of one expiry pass.
type SweepStats struct {
	Scanned   int
	Relocated int
	Failed    int
}

// NewSweeper returns a Sweeper that retires entries older than maxAge.
func NewSweeper(store *Store, maxAge time.Duration) *Sweeper {
	return &Sweeper{store: store, maxAge: maxAge}
}

// Sweep performs one pass over the chunk area. Per-entry failures are
// logged and counted, never propagated: a sweep runs on the tail of every
// invocation and must not fail it.
func (s *Sweeper) Sweep() SweepStats {
	var stats SweepStats

	entries, err := s.store.Entries()
	if err != nil {
		log.Error().Err(err).Msg("expiry sweep could not list the chunk area")
		return stats
	}

	cutoff := time.Now().Add(-s.maxAge)
	for _, entry := range entries {
		stats.Scanned++
		if entry.ModTime.After(cutoff) {
			continue
		}

		if err := s.store.DeadLetter(entry.Name); err != nil {
			if os.IsNotExist(err) {
				// Raced with cleanup; the entry is gone either way.
				continue
			}
			stats.Failed++
			metrics.SweepFailures.Inc()
			log.Warn().Err(err).Str("entry", entry.Name).Msg("dead-letter relocation failed")
			continue
		}

		stats.Relocated++
		metrics.EntriesSwept.Inc()

		evt := log.Info().Str("entry", entry.Name)
		if key, part, perr := parseEntryName(entry.Name); perr == nil {
			evt = evt.Str("set", key.String()).Int("part", part)
		}
		evt.Msg("stale entry dead-lettered")
	}

	if stats.Relocated > 0 || stats.Failed > 0 {
		log.Info().
			Int("scanned", stats.Scanned).
			Int("relocated", stats.Relocated).
			Int("failed", stats.Failed).
			Msg("expiry sweep finished")
	}
	return stats
}

// Start launches periodic background sweeps in addition to the per-request
// ones. A non-positive interval disables the worker.
func (s *Sweeper) Start(interval time.Duration) {
	if interval <= 0 {
		return
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.wg.Add(1)
	go s.runSweepWorker(interval)
}

// Stop halts the background worker and waits for an in-flight pass.
func (s *Sweeper) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.wg.Wait()
	s.cancel = nil
}

func (s *Sweeper) runSweepWorker(interval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}
