// Package loki ships zerolog output to a Grafana Loki endpoint.
package loki

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// Config holds configuration for the Loki writer.
type Config struct {
	URL           string            // Push endpoint base, e.g. "http://loki:3100"
	Labels        map[string]string // Static stream labels
	BatchSize     int               // Entries per push (default: 100)
	FlushInterval time.Duration     // Max time entries sit buffered (default: 5s)
	Timeout       time.Duration     // HTTP timeout per push (default: 10s)
}

type entry struct {
	ts   time.Time
	line string
}

// pushRequest is the payload format of Loki's push API.
type pushRequest struct {
	Streams []stream `json:"streams"`
}

type stream struct {
	Stream map[string]string `json:"stream"`
	Values [][]string        `json:"values"`
}

// Writer is an io.Writer that batches log lines and pushes them to Loki in
// the background. Write never returns an error: an unreachable Loki costs
// log shipping, not logging.
type Writer struct {
	url    string
	labels map[string]string
	client *http.Client

	mu      sync.Mutex
	pending []entry

	batchSize int
	interval  time.Duration
	kick      chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	pushErrors atomic.Uint64
}

// NewWriter creates a Loki writer. Call Start to begin shipping and Stop to
// drain on shutdown.
func NewWriter(cfg Config) *Writer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Labels == nil {
		cfg.Labels = make(map[string]string)
	}
	if _, ok := cfg.Labels["job"]; !ok {
		cfg.Labels["job"] = "restitch"
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Writer{
		url:       cfg.URL,
		labels:    cfg.Labels,
		client:    &http.Client{Timeout: cfg.Timeout},
		pending:   make([]entry, 0, cfg.BatchSize),
		batchSize: cfg.BatchSize,
		interval:  cfg.FlushInterval,
		kick:      make(chan struct{}, 1),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Write implements io.Writer. The entry is buffered; a full batch nudges the
// background worker without ever blocking the logging path.
func (w *Writer) Write(p []byte) (int, error) {
	// zerolog reuses its buffer; take a copy.
	line := string(bytes.TrimSpace(p))
	if line == "" {
		return len(p), nil
	}

	w.mu.Lock()
	w.pending = append(w.pending, entry{ts: time.Now(), line: line})
	full := len(w.pending) >= w.batchSize
	w.mu.Unlock()

	if full {
		select {
		case w.kick <- struct{}{}:
		default: // a push is already queued
		}
	}

	return len(p), nil
}

// Start launches the background push worker.
func (w *Writer) Start() {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		for {
			select {
			case <-w.ctx.Done():
				return
			case <-ticker.C:
				w.push(w.take())
			case <-w.kick:
				w.push(w.take())
			}
		}
	}()
}

// Stop halts the worker and pushes whatever is still buffered.
func (w *Writer) Stop() {
	w.cancel()
	w.wg.Wait()
	w.push(w.take())
}

// PushErrors returns the count of failed pushes, for monitoring.
func (w *Writer) PushErrors() uint64 {
	return w.pushErrors.Load()
}

// take swaps out the pending buffer.
func (w *Writer) take() []entry {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.pending) == 0 {
		return nil
	}
	batch := w.pending
	w.pending = make([]entry, 0, w.batchSize)
	return batch
}

// push sends one batch to Loki. Only the worker goroutine and Stop (after
// the worker exits) call it, so pushes never overlap.
func (w *Writer) push(batch []entry) {
	if len(batch) == 0 {
		return
	}

	values := make([][]string, len(batch))
	for i, e := range batch {
		// Loki wants nanosecond timestamps as strings.
		values[i] = []string{strconv.FormatInt(e.ts.UnixNano(), 10), e.line}
	}

	data, err := json.Marshal(pushRequest{
		Streams: []stream{{Stream: w.labels, Values: values}},
	})
	if err != nil {
		w.failed("marshal payload: %v", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.client.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url+"/loki/api/v1/push", bytes.NewReader(data))
	if err != nil {
		w.failed("create request: %v", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		w.failed("send logs: %v", err)
		return
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		w.failed("server returned status %d", resp.StatusCode)
	}
}

// failed counts a push failure. The first few are reported on stderr; going
// through the logger here would loop the failure back into the writer.
func (w *Writer) failed(format string, args ...interface{}) {
	if w.pushErrors.Add(1) <= 3 {
		fmt.Fprintf(os.Stderr, "loki: "+format+"\n", args...)
	}
}
