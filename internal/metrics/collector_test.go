package metrics

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockSpoolSource for testing gauge collection.
type mockSpoolSource struct {
	mu    sync.Mutex
	stats SpoolStats
	err   error
	calls int
}

func (m *mockSpoolSource) SpoolStats() (SpoolStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.stats, m.err
}

func (m *mockSpoolSource) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func TestCollector_Collect(t *testing.T) {
	source := &mockSpoolSource{
		stats: SpoolStats{
			PendingEntries:    5,
			PendingBytes:      1234,
			DeadLetterEntries: 2,
			DeadLetterBytes:   99,
		},
	}

	c := NewCollector(source)
	c.Collect()

	assert.Equal(t, float64(5), testutil.ToFloat64(PendingEntries))
	assert.Equal(t, float64(1234), testutil.ToFloat64(PendingBytes))
	assert.Equal(t, float64(2), testutil.ToFloat64(DeadLetterEntries))
	assert.Equal(t, float64(99), testutil.ToFloat64(DeadLetterBytes))
}

func TestCollector_CollectError(t *testing.T) {
	// Seed the gauges, then fail the source: values must survive untouched.
	PendingEntries.Set(7)
	PendingBytes.Set(77)

	source := &mockSpoolSource{err: errors.New("spool unreadable")}

	c := NewCollector(source)
	c.Collect()

	assert.Equal(t, float64(7), testutil.ToFloat64(PendingEntries))
	assert.Equal(t, float64(77), testutil.ToFloat64(PendingBytes))
}

func TestCollector_Run_CollectsAndStops(t *testing.T) {
	source := &mockSpoolSource{stats: SpoolStats{PendingEntries: 1}}

	c := NewCollector(source)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx, 10*time.Millisecond)
		close(done)
	}()

	// One immediate collect plus at least one tick.
	require.Eventually(t, func() bool {
		return source.callCount() >= 2
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
