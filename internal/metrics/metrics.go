// Package metrics provides Prometheus metrics for the restitch service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the Prometheus registry for all restitch metrics.
var Registry = prometheus.NewRegistry()

func init() {
	// Register standard Go metrics
	Registry.MustRegister(collectors.NewGoCollector())
	Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

var (
	// ChunksReceived counts fragments accepted into the chunk area.
	ChunksReceived = promauto.With(Registry).NewCounter(prometheus.CounterOpts{
		Name: "restitch_chunks_received_total",
		Help: "Total chunk fragments stored",
	})

	// ChunksRejected counts inbound messages that failed validation.
	ChunksRejected = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Name: "restitch_chunks_rejected_total",
		Help: "Total chunk messages rejected by validation",
	}, []string{"field"})

	// ChunkBytes counts payload text bytes written to the chunk area.
	ChunkBytes = promauto.With(Registry).NewCounter(prometheus.CounterOpts{
		Name: "restitch_chunk_bytes_total",
		Help: "Total chunk payload bytes stored",
	})

	// ArtifactsReconstructed counts completed reassemblies.
	ArtifactsReconstructed = promauto.With(Registry).NewCounter(prometheus.CounterOpts{
		Name: "restitch_artifacts_reconstructed_total",
		Help: "Total artifacts reassembled and written to the output area",
	})

	// ReconstructFailures counts reassemblies that failed, by stage.
	ReconstructFailures = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Name: "restitch_reconstruct_failures_total",
		Help: "Total reassembly failures by stage (read, decode, inflate, write)",
	}, []string{"stage"})

	// ClaimConflicts counts completions skipped because another invocation
	// already held the set's reassembly claim.
	ClaimConflicts = promauto.With(Registry).NewCounter(prometheus.CounterOpts{
		Name: "restitch_claim_conflicts_total",
		Help: "Total reassemblies skipped due to a concurrent claim",
	})

	// CleanupAbandoned counts entries cleanup gave up deleting.
	CleanupAbandoned = promauto.With(Registry).NewCounter(prometheus.CounterOpts{
		Name: "restitch_cleanup_abandoned_total",
		Help: "Total consumed entries left behind after cleanup retries",
	})

	// EntriesSwept counts entries relocated to the dead-letter area.
	EntriesSwept = promauto.With(Registry).NewCounter(prometheus.CounterOpts{
		Name: "restitch_entries_swept_total",
		Help: "Total stale entries moved to the dead-letter area",
	})

	// SweepFailures counts relocations that failed.
	SweepFailures = promauto.With(Registry).NewCounter(prometheus.CounterOpts{
		Name: "restitch_sweep_failures_total",
		Help: "Total dead-letter relocations that failed",
	})

	// PendingEntries reports the chunk-area population, sampled by the
	// collector.
	PendingEntries = promauto.With(Registry).NewGauge(prometheus.GaugeOpts{
		Name: "restitch_pending_entries",
		Help: "Entries currently in the chunk area",
	})

	// PendingBytes reports chunk-area bytes on disk, sampled by the collector.
	PendingBytes = promauto.With(Registry).NewGauge(prometheus.GaugeOpts{
		Name: "restitch_pending_bytes",
		Help: "Bytes currently in the chunk area",
	})

	// DeadLetterEntries reports the dead-letter population, sampled by the
	// collector.
	DeadLetterEntries = promauto.With(Registry).NewGauge(prometheus.GaugeOpts{
		Name: "restitch_deadletter_entries",
		Help: "Entries currently in the dead-letter area",
	})

	// DeadLetterBytes reports dead-letter bytes on disk, sampled by the
	// collector.
	DeadLetterBytes = promauto.With(Registry).NewGauge(prometheus.GaugeOpts{
		Name: "restitch_deadletter_bytes",
		Help: "Bytes currently in the dead-letter area",
	})

	// EventSubscribers reports connected event-feed clients.
	EventSubscribers = promauto.With(Registry).NewGauge(prometheus.GaugeOpts{
		Name: "restitch_event_subscribers",
		Help: "Connected artifact event feed subscribers",
	})

	buildInfo = promauto.With(Registry).NewGaugeVec(prometheus.GaugeOpts{
		Name: "restitch_build_info",
		Help: "Build information (value is always 1)",
	}, []string{"version"})
)

// SetBuildInfo publishes the running version on the build info gauge.
func SetBuildInfo(version string) {
	buildInfo.WithLabelValues(version).Set(1)
}

// Handler returns an http.Handler exposing the Registry in the Prometheus
// text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

