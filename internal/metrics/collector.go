package metrics

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// SpoolStats is a point-in-time census of the spool areas.
type SpoolStats struct {
	PendingEntries    int
	PendingBytes      int64
	DeadLetterEntries int
	DeadLetterBytes   int64
}

// SpoolSource supplies spool population counts. Implemented by the chunk
// store.
type SpoolSource interface {
	SpoolStats() (SpoolStats, error)
}

// Collector refreshes the spool population gauges on a fixed cadence. The
// counts come from directory walks, so they are sampled rather than updated
// inline on every mutation.
type Collector struct {
	source SpoolSource
}

// NewCollector creates a collector reading from the given source.
func NewCollector(source SpoolSource) *Collector {
	return &Collector{source: source}
}

// Collect refreshes the gauges once.
func (c *Collector) Collect() {
	stats, err := c.source.SpoolStats()
	if err != nil {
		log.Warn().Err(err).Msg("spool stats collection failed")
		return
	}

	PendingEntries.Set(float64(stats.PendingEntries))
	PendingBytes.Set(float64(stats.PendingBytes))
	DeadLetterEntries.Set(float64(stats.DeadLetterEntries))
	DeadLetterBytes.Set(float64(stats.DeadLetterBytes))
}

// Run collects at the given interval until the context is cancelled.
func (c *Collector) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Collect immediately on start
	c.Collect()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Collect()
		}
	}
}
