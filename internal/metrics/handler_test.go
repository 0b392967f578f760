package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHandler(t *testing.T) {
	// Counters are cumulative across the test binary, so only presence is
	// asserted; gauges are set just before the scrape.
	ChunksReceived.Inc()
	ArtifactsReconstructed.Inc()
	PendingEntries.Set(3)
	DeadLetterEntries.Set(1)

	handler := Handler()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	resp := w.Result()
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.Contains(contentType, "text/plain") && !strings.Contains(contentType, "application/openmetrics-text") {
		t.Errorf("Unexpected content type: %s", contentType)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response body: %v", err)
	}
	bodyStr := string(body)

	expectedMetrics := []string{
		"restitch_chunks_received_total",
		"restitch_artifacts_reconstructed_total",
		"go_goroutines",       // Standard Go metrics
		"process_cpu_seconds", // Standard process metrics
	}
	for _, metric := range expectedMetrics {
		if !strings.Contains(bodyStr, metric) {
			t.Errorf("Expected metric %s not found in response", metric)
		}
	}

	if !strings.Contains(bodyStr, "restitch_pending_entries 3") {
		t.Error("Expected pending_entries gauge with value 3")
	}
	if !strings.Contains(bodyStr, "restitch_deadletter_entries 1") {
		t.Error("Expected deadletter_entries gauge with value 1")
	}
}

func TestHandler_LabeledMetrics(t *testing.T) {
	ChunksRejected.WithLabelValues("maxPart").Inc()
	ReconstructFailures.WithLabelValues("inflate").Inc()

	handler := Handler()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	body, _ := io.ReadAll(w.Result().Body)
	bodyStr := string(body)

	if !strings.Contains(bodyStr, `restitch_chunks_rejected_total{field="maxPart"}`) {
		t.Error("Expected chunks_rejected_total with field label maxPart")
	}
	if !strings.Contains(bodyStr, `restitch_reconstruct_failures_total{stage="inflate"}`) {
		t.Error("Expected reconstruct_failures_total with stage label inflate")
	}
}
