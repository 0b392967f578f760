package tracing

import (
	"bytes"
	"testing"
)

func TestSnapshot_NotEnabled(t *testing.T) {
	Stop()

	if Enabled() {
		t.Error("Enabled() should return false before Enable")
	}

	var buf bytes.Buffer
	if err := Snapshot(&buf); err != ErrNotEnabled {
		t.Errorf("Snapshot() = %v, want ErrNotEnabled", err)
	}
}

func TestEnableAndSnapshot(t *testing.T) {
	Stop()

	if err := Enable(DefaultBufferSize); err != nil {
		t.Fatalf("Enable failed: %v", err)
	}
	defer Stop()

	if !Enabled() {
		t.Error("Enabled() should return true after Enable")
	}

	var buf bytes.Buffer
	if err := Snapshot(&buf); err != nil {
		t.Errorf("Snapshot() failed: %v", err)
	}
	if buf.Len() == 0 {
		t.Error("Snapshot() wrote nothing")
	}
}

func TestEnable_DefaultBufferSize(t *testing.T) {
	Stop()

	// Zero falls back to the default ring size.
	if err := Enable(0); err != nil {
		t.Fatalf("Enable(0) failed: %v", err)
	}
	defer Stop()

	if !Enabled() {
		t.Error("Enabled() should return true")
	}
}

func TestStop_Multiple(t *testing.T) {
	Stop()

	if err := Enable(DefaultBufferSize); err != nil {
		t.Fatalf("Enable failed: %v", err)
	}

	Stop()
	Stop()
	Stop()

	if Enabled() {
		t.Error("Enabled() should return false after Stop")
	}

	var buf bytes.Buffer
	if err := Snapshot(&buf); err != ErrNotEnabled {
		t.Errorf("Snapshot() after Stop = %v, want ErrNotEnabled", err)
	}
}
