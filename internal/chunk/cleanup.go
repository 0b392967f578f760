package chunk

import (
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/restitch/restitch/internal/metrics"
)

// Cleaner retires the entries of a set whose artifact has been written.
type Cleaner struct {
	store      *Store
	retryDelay time.Duration
}

// CleanupStats reports the outcome of retiring one chunk set.
type CleanupStats struct {
	Deleted   int
	Abandoned int
}

// NewCleaner returns a Cleaner that pauses retryDelay between the first and
// second deletion attempt for an entry.
func NewCleaner(store *Store, retryDelay time.Duration) *Cleaner {
	return &Cleaner{store: store, retryDelay: retryDelay}
}

// Cleanup deletes every fragment of the set and then its claim marker. Each
// failed deletion is retried once after the configured pause; an entry that
// still will not go is abandoned to age out through the expiry sweep.
// Cleanup never fails the calling invocation, whatever happens on disk.
func (c *Cleaner) Cleanup(key SetKey) CleanupStats {
	var stats CleanupStats

	for part := 1; part <= key.TotalParts; part++ {
		c.attempt(&stats, key, strconv.Itoa(part), func() error {
			return c.store.Delete(key, part)
		})
	}

	// The claim goes last: while it stands, a redelivered duplicate cannot
	// reassemble the half-deleted set a second time.
	c.attempt(&stats, key, "claim", func() error {
		return c.store.ReleaseClaim(key)
	})

	if stats.Abandoned > 0 {
		log.Warn().
			Str("set", key.String()).
			Int("abandoned", stats.Abandoned).
			Msg("cleanup left entries behind")
	}
	return stats
}

func (c *Cleaner) attempt(stats *CleanupStats, key SetKey, entry string, del func() error) {
	err := del()
	if err == nil {
		stats.Deleted++
		return
	}

	time.Sleep(c.retryDelay)
	if err = del(); err == nil {
		stats.Deleted++
		return
	}

	stats.Abandoned++
	metrics.CleanupAbandoned.Inc()
	log.Warn().
		Err(err).
		Str("set", key.String()).
		Str("entry", entry).
		Msg("cleanup abandoning entry after retry")
}
