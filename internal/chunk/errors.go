package chunk

import (
	"errors"
	"fmt"
)

// Package-level errors returned by the store.
var (
	// ErrEntryNotFound is returned when a chunk entry does not exist.
	ErrEntryNotFound = errors.New("chunk entry not found")

	// ErrClaimHeld is returned by Claim when another invocation already
	// holds the reassembly claim for the set.
	ErrClaimHeld = errors.New("reassembly claim already held")
)

// ValidationError reports an inbound message that failed the required-field
// checks. The error text is returned verbatim to the sender, so it stays in
// the short form the device protocol documents ("missing part", ...).
type ValidationError struct {
	Field  string // wire name of the offending field
	Reason string // optional detail; empty means the field was absent
}

func (e *ValidationError) Error() string {
	if e.Reason != "" {
		return e.Reason
	}
	return "missing " + e.Field
}

// DecodeError reports that the concatenated chunk text of a complete set was
// not valid base64.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode content: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// InflateError reports that a decoded payload declared as deflate was not a
// valid DEFLATE stream.
type InflateError struct {
	Err error
}

func (e *InflateError) Error() string {
	return fmt.Sprintf("inflate content: %v", e.Err)
}

func (e *InflateError) Unwrap() error { return e.Err }
