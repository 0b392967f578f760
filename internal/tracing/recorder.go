// Package tracing keeps an in-memory runtime trace of a live server, exposed
// as downloadable snapshots via Go 1.25's FlightRecorder.
package tracing

import (
	"errors"
	"io"
	"runtime/trace"
	"sync"
	"time"
)

// DefaultBufferSize bounds the trace ring buffer (8MB).
const DefaultBufferSize = 8 * 1024 * 1024

// minAge is how much trailing trace history a snapshot should cover.
const minAge = 30 * time.Second

// ErrNotEnabled is returned by Snapshot while the recorder is off.
var ErrNotEnabled = errors.New("tracing not enabled")

var (
	mu       sync.Mutex
	recorder *trace.FlightRecorder
)

// Enable starts the flight recorder with the given ring-buffer size.
// A non-positive size uses DefaultBufferSize. The runtime allows a single
// recorder; call Stop before enabling again.
func Enable(bufferSize int) error {
	mu.Lock()
	defer mu.Unlock()

	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}

	fr := trace.NewFlightRecorder(trace.FlightRecorderConfig{
		MinAge:   minAge,
		MaxBytes: uint64(bufferSize),
	})
	if err := fr.Start(); err != nil {
		return err
	}

	recorder = fr
	return nil
}

// Enabled reports whether the recorder is running.
func Enabled() bool {
	mu.Lock()
	defer mu.Unlock()
	return recorder != nil
}

// Snapshot writes the buffered trace to w in `go tool trace` format.
func Snapshot(w io.Writer) error {
	mu.Lock()
	defer mu.Unlock()

	if recorder == nil {
		return ErrNotEnabled
	}

	_, err := recorder.WriteTo(w)
	return err
}

// Stop halts the recorder and discards the buffer. Safe to call repeatedly.
func Stop() {
	mu.Lock()
	defer mu.Unlock()

	if recorder != nil {
		recorder.Stop()
		recorder = nil
	}
}
