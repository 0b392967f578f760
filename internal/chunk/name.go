package chunk

import (
	"fmt"
	"strconv"
	"strings"
)

// SetKey identifies one chunk set: every fragment of one upload from one
// device shares the same key.
type SetKey struct {
	Device     string
	MessageID  string
	TotalParts int
}

func (k SetKey) String() string {
	return fmt.Sprintf("%s/%s/%d", k.Device, k.MessageID, k.TotalParts)
}

// Entry and marker file suffixes in the chunk area.
const (
	entrySuffix = ".chunk"
	claimSuffix = ".claim"
)

// keySeparator joins the escaped name fields. It is never produced by
// escapeField, so splitting on it is unambiguous.
const keySeparator = "~"

// entryName returns the file name storing one fragment:
// <device>~<message>~<total>~<part>.chunk with the string fields escaped.
func entryName(key SetKey, part int) string {
	return setPrefix(key) + strconv.Itoa(part) + entrySuffix
}

// claimName returns the marker file name that serializes reassembly of a set.
func claimName(key SetKey) string {
	prefix := setPrefix(key)
	return prefix[:len(prefix)-len(keySeparator)] + claimSuffix
}

// setPrefix returns the shared name prefix of every fragment of a set,
// including the trailing separator.
func setPrefix(key SetKey) string {
	return escapeField(key.Device) + keySeparator +
		escapeField(key.MessageID) + keySeparator +
		strconv.Itoa(key.TotalParts) + keySeparator
}

// parseEntryName decodes a fragment file name back into its key and part
// index. Names that are not fragment entries (claim markers, in-flight
// temp files) return an error.
func parseEntryName(name string) (SetKey, int, error) {
	trimmed, ok := strings.CutSuffix(name, entrySuffix)
	if !ok {
		return SetKey{}, 0, fmt.Errorf("not a chunk entry: %s", name)
	}

	fields := strings.Split(trimmed, keySeparator)
	if len(fields) != 4 {
		return SetKey{}, 0, fmt.Errorf("malformed chunk entry name: %s", name)
	}

	device, err := unescapeField(fields[0])
	if err != nil {
		return SetKey{}, 0, fmt.Errorf("entry device field: %w", err)
	}
	message, err := unescapeField(fields[1])
	if err != nil {
		return SetKey{}, 0, fmt.Errorf("entry message field: %w", err)
	}
	total, err := strconv.Atoi(fields[2])
	if err != nil {
		return SetKey{}, 0, fmt.Errorf("entry total field: %w", err)
	}
	part, err := strconv.Atoi(fields[3])
	if err != nil {
		return SetKey{}, 0, fmt.Errorf("entry part field: %w", err)
	}

	return SetKey{Device: device, MessageID: message, TotalParts: total}, part, nil
}

// escapeField percent-escapes every byte outside [A-Za-z0-9._-] so that
// arbitrary device and message identifiers produce safe, parseable file
// names. The separator and the path characters are never emitted.
func escapeField(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isSafeByte(c) {
			b.WriteByte(c)
			continue
		}
		fmt.Fprintf(&b, "%%%02X", c)
	}
	return b.String()
}

func unescapeField(s string) (string, error) {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '%' {
			b.WriteByte(s[i])
			continue
		}
		if i+2 >= len(s) {
			return "", fmt.Errorf("truncated escape in %q", s)
		}
		v, err := strconv.ParseUint(s[i+1:i+3], 16, 8)
		if err != nil {
			return "", fmt.Errorf("bad escape in %q: %w", s, err)
		}
		b.WriteByte(byte(v))
		i += 2
	}
	return b.String(), nil
}

func isSafeByte(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z':
		return true
	case c >= 'A' && c <= 'Z':
		return true
	case c >= '0' && c <= '9':
		return true
	case c == '.' || c == '_' || c == '-':
		return true
	}
	return false
}
