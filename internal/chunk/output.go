package chunk

import (
	"fmt"
	"os"
	"path"
	"regexp"
	"strings"

	"github.com/go-git/go-billy/v5"
)

// OutputStore writes reassembled artifacts into a path-addressed output
// area. Target paths are relative slash paths as sent by devices.
type OutputStore struct {
	fs billy.Filesystem
}

// NewOutputStore returns an OutputStore rooted at the given filesystem.
func NewOutputStore(fs billy.Filesystem) *OutputStore {
	return &OutputStore{fs: fs}
}

// Place writes content at the target path, creating parent directories as
// needed. When the name is taken the artifact gets a numeric revision
// suffix before the extension: report.json, report.1.json, report.2.json.
// Each revision is claimed with an exclusive create, so two concurrent
// placements of the same target never overwrite each other. Returns the
// path actually written, relative to the output root.
func (o *OutputStore) Place(target string, content []byte) (string, error) {
	dir := path.Dir(target)
	file := path.Base(target)

	if err := o.fs.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create artifact dir: %w", err)
	}

	ext := path.Ext(file)
	base := strings.TrimSuffix(file, ext)
	if base == "" {
		// Dotfile such as ".bashrc": treat the whole name as the base so
		// revisions append rather than prepend.
		base, ext = file, ""
	}

	name, err := o.claimRevision(dir, base, ext)
	if err != nil {
		return "", err
	}
	placed := o.fs.Join(dir, name)

	if err := o.writeTo(dir, placed, content); err != nil {
		// Free the claimed name so the revision is not burned by a
		// zero-byte placeholder.
		_ = o.fs.Remove(placed)
		return "", err
	}
	return placed, nil
}

// claimRevision reserves the first free revision of base+ext in dir by
// creating it exclusively. Revision 0 is the plain name; the probe for
// higher revisions starts one past the number of revisions already present.
func (o *OutputStore) claimRevision(dir, base, ext string) (string, error) {
	if ok, err := o.claim(dir, base+ext); err != nil {
		return "", err
	} else if ok {
		return base + ext, nil
	}

	count, err := o.countRevisions(dir, base, ext)
	if err != nil {
		return "", err
	}

	for n := count + 1; ; n++ {
		name := fmt.Sprintf("%s.%d%s", base, n, ext)
		if ok, err := o.claim(dir, name); err != nil {
			return "", err
		} else if ok {
			return name, nil
		}
	}
}

func (o *OutputStore) claim(dir, name string) (bool, error) {
	f, err := o.fs.OpenFile(o.fs.Join(dir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if os.IsExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("claim artifact name: %w", err)
	}
	return true, f.Close()
}

// countRevisions counts the base.<n>.ext siblings already in dir.
func (o *OutputStore) countRevisions(dir, base, ext string) (int, error) {
	pattern, err := regexp.Compile("^" + regexp.QuoteMeta(base) + `\.(\d+)` + regexp.QuoteMeta(ext) + "$")
	if err != nil {
		return 0, fmt.Errorf("revision pattern: %w", err)
	}

	infos, err := o.fs.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("list artifact dir: %w", err)
	}

	count := 0
	for _, info := range infos {
		if !info.IsDir() && pattern.MatchString(info.Name()) {
			count++
		}
	}
	return count, nil
}

// writeTo lands the content via a temp file and rename so a reader of the
// output area never observes a partially written artifact.
func (o *OutputStore) writeTo(dir, placed string, content []byte) error {
	tmp, err := o.fs.TempFile(dir, ".artifact-")
	if err != nil {
		return fmt.Errorf("create artifact temp: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		_ = o.fs.Remove(tmpName)
		return fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = o.fs.Remove(tmpName)
		return fmt.Errorf("close artifact temp: %w", err)
	}

	if err := renameReplace(o.fs, tmpName, placed); err != nil {
		_ = o.fs.Remove(tmpName)
		return fmt.Errorf("finalize artifact: %w", err)
	}
	return nil
}
