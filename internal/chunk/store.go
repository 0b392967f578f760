package chunk

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"

	"github.com/restitch/restitch/internal/metrics"
)

// Subdirectories of the spool filesystem. Both live on the same filesystem
// so entries move between them with a single rename.
const (
	chunkDir      = "chunks"
	deadLetterDir = "deadletter"
)

// tempPrefix marks in-flight writes. Listing and prefix matching never
// confuse them with entries because entry names always contain separators.
const tempPrefix = ".w-"

// EntryInfo describes one file in the chunk area.
type EntryInfo struct {
	Name    string
	Size    int64
	ModTime time.Time
}

// Store persists chunk fragments as individual files whose names encode the
// full set key and part index. It is safe for concurrent use: all mutation
// goes through atomic create and rename operations, never in-place writes.
type Store struct {
	fs billy.Filesystem
}

// NewStore returns a Store spooling to the given filesystem and creates its
// directory layout.
func NewStore(fs billy.Filesystem) (*Store, error) {
	for _, dir := range []string{chunkDir, deadLetterDir} {
		if err := fs.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create %s dir: %w", dir, err)
		}
	}
	return &Store{fs: fs}, nil
}

// Put stores the payload text of one fragment. A fragment that was already
// stored for the same (key, part) is replaced, so redelivered chunks are
// idempotent with last-write-wins semantics.
func (s *Store) Put(key SetKey, part int, payload string) error {
	tmp, err := s.fs.TempFile(chunkDir, tempPrefix)
	if err != nil {
		return fmt.Errorf("create temp entry: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write([]byte(payload)); err != nil {
		tmp.Close()
		_ = s.fs.Remove(tmpName)
		return fmt.Errorf("write temp entry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = s.fs.Remove(tmpName)
		return fmt.Errorf("close temp entry: %w", err)
	}

	name := s.fs.Join(chunkDir, entryName(key, part))
	if err := renameReplace(s.fs, tmpName, name); err != nil {
		_ = s.fs.Remove(tmpName)
		return fmt.Errorf("store entry: %w", err)
	}
	return nil
}

// Read returns the stored payload text for one fragment, or ErrEntryNotFound.
func (s *Store) Read(key SetKey, part int) (string, error) {
	data, err := util.ReadFile(s.fs, s.fs.Join(chunkDir, entryName(key, part)))
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrEntryNotFound
		}
		return "", fmt.Errorf("read entry: %w", err)
	}
	return string(data), nil
}

// Parts returns the sorted part indices currently stored for a set. Indices
// are distinct because each occupies its own file name.
func (s *Store) Parts(key SetKey) ([]int, error) {
	infos, err := s.fs.ReadDir(chunkDir)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}

	prefix := setPrefix(key)
	var parts []int
	for _, info := range infos {
		name := info.Name()
		if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, entrySuffix) {
			continue
		}
		part, err := strconv.Atoi(name[len(prefix) : len(name)-len(entrySuffix)])
		if err != nil {
			continue
		}
		parts = append(parts, part)
	}
	sort.Ints(parts)
	return parts, nil
}

// Delete removes one fragment. A fragment that is already gone counts as
// deleted.
func (s *Store) Delete(key SetKey, part int) error {
	return s.remove(entryName(key, part))
}

// Claim atomically creates the reassembly marker for a set. Exactly one
// caller wins; the rest get ErrClaimHeld.
func (s *Store) Claim(key SetKey) error {
	f, err := s.fs.OpenFile(s.fs.Join(chunkDir, claimName(key)), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if os.IsExist(err) {
			return ErrClaimHeld
		}
		return fmt.Errorf("create claim: %w", err)
	}
	return f.Close()
}

// ReleaseClaim removes the reassembly marker, either because reassembly
// failed and a later delivery should retry, or because cleanup is retiring
// a finished set. A marker that is already gone counts as released.
func (s *Store) ReleaseClaim(key SetKey) error {
	return s.remove(claimName(key))
}

func (s *Store) remove(name string) error {
	if err := s.fs.Remove(s.fs.Join(chunkDir, name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove entry: %w", err)
	}
	return nil
}

// Entries lists every file in the chunk area: fragment entries, claim
// markers and abandoned temp files alike. Callers decide what to do with
// each; the expiry sweeper relocates any of them once stale.
func (s *Store) Entries() ([]EntryInfo, error) {
	infos, err := s.fs.ReadDir(chunkDir)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}

	entries := make([]EntryInfo, 0, len(infos))
	for _, info := range infos {
		if info.IsDir() {
			continue
		}
		entries = append(entries, EntryInfo{
			Name:    info.Name(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	return entries, nil
}

// DeadLetter moves one entry from the chunk area to the dead-letter area
// under the same name. Callers treat a not-exist error as a benign race
// with concurrent cleanup.
func (s *Store) DeadLetter(name string) error {
	return renameReplace(s.fs, s.fs.Join(chunkDir, name), s.fs.Join(deadLetterDir, name))
}

// DeadLetters lists the relocated entries.
func (s *Store) DeadLetters() ([]EntryInfo, error) {
	infos, err := s.fs.ReadDir(deadLetterDir)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}

	entries := make([]EntryInfo, 0, len(infos))
	for _, info := range infos {
		if info.IsDir() {
			continue
		}
		entries = append(entries, EntryInfo{
			Name:    info.Name(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	return entries, nil
}

// SpoolStats counts entries and bytes in both spool areas. It feeds the
// population gauges through the metrics collector.
func (s *Store) SpoolStats() (metrics.SpoolStats, error) {
	var stats metrics.SpoolStats

	entries, err := s.Entries()
	if err != nil {
		return stats, err
	}
	for _, entry := range entries {
		stats.PendingEntries++
		stats.PendingBytes += entry.Size
	}

	dead, err := s.DeadLetters()
	if err != nil {
		return stats, err
	}
	for _, entry := range dead {
		stats.DeadLetterEntries++
		stats.DeadLetterBytes += entry.Size
	}
	return stats, nil
}

// renameReplace moves from onto to, replacing an existing target. The OS
// filesystem does that in a single rename; billy's in-memory filesystem
// refuses to clobber, so on failure the target is cleared and the rename
// retried once. A missing source is reported as a not-exist error without
// touching the target.
func renameReplace(fs billy.Filesystem, from, to string) error {
	err := fs.Rename(from, to)
	if err == nil {
		return nil
	}
	if _, serr := fs.Stat(from); serr != nil {
		return serr
	}
	if rerr := fs.Remove(to); rerr != nil && !os.IsNotExist(rerr) {
		return err
	}
	return fs.Rename(from, to)
}
