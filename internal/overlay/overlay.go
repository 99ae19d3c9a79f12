// Package overlay implements the union view over a read-only lower
// tree and a writable upper tree. Reads fall back to lower, writes
// and creations land in upper, and deletions are recorded as whiteout
// markers so that lower is never mutated.
package overlay

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/liboverlay/liboverlay/internal/realfs"
	"github.com/liboverlay/liboverlay/pkg/types"
)

// Overlay binds a lower/upper directory pair. The roots are absolute,
// canonical, and immutable for the lifetime of the process; the
// struct itself holds no other mutable state, so it is safe for
// concurrent use from any goroutine.
type Overlay struct {
	lower string // read-only base tree, never written
	upper string // writable overlay tree, sparse
	calls *realfs.Calls
}

// New validates and canonicalizes the two roots and returns an
// Overlay bound to them. calls may be nil, in which case the real
// primitives are captured.
func New(lowerDir, upperDir string, calls *realfs.Calls) (*Overlay, error) {
	if calls == nil {
		calls = realfs.Capture()
	}

	lower, err := canonicalRoot(lowerDir, calls)
	if err != nil {
		return nil, fmt.Errorf("lower dir: %w", err)
	}
	upper, err := canonicalRoot(upperDir, calls)
	if err != nil {
		return nil, fmt.Errorf("upper dir: %w", err)
	}

	return &Overlay{
		lower: lower,
		upper: upper,
		calls: calls,
	}, nil
}

// canonicalRoot checks that path is an absolute directory and returns
// its canonical form.
func canonicalRoot(path string, calls *realfs.Calls) (string, error) {
	if path == "" {
		return "", errors.New("path is required")
	}
	if !filepath.IsAbs(path) {
		return "", fmt.Errorf("path %q is not absolute", path)
	}

	resolved, err := filepath.EvalSymlinks(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("cannot resolve %q: %w", path, err)
	}

	var st unix.Stat_t
	if err := calls.Stat(resolved, &st); err != nil {
		return "", fmt.Errorf("cannot stat %q: %w", resolved, err)
	}
	if st.Mode&unix.S_IFMT != unix.S_IFDIR {
		return "", fmt.Errorf("%q: %w", resolved, types.ErrNotDirectory)
	}
	return resolved, nil
}

// LowerDir returns the canonical lower root.
func (o *Overlay) LowerDir() string { return o.lower }

// UpperDir returns the canonical upper root.
func (o *Overlay) UpperDir() string { return o.upper }

// Rel maps an absolute path to its relative addressing key under the
// lower root. The second result is false for any path outside the
// lower tree; such paths are out of scope and must pass through to
// the real primitives untouched.
func (o *Overlay) Rel(path string) (string, bool) {
	if !filepath.IsAbs(path) {
		return "", false
	}
	path = filepath.Clean(path)
	if path == o.lower {
		return ".", true
	}
	prefix := o.lower + string(filepath.Separator)
	if !strings.HasPrefix(path, prefix) {
		return "", false
	}
	return path[len(prefix):], true
}

// cleanRel canonicalizes a relative path so that syntactically
// different but semantically equal paths resolve identically.
func cleanRel(rel string) string {
	rel = filepath.Clean(rel)
	if rel == "" || rel == string(filepath.Separator) {
		return "."
	}
	return rel
}

// escapesRoot reports whether a cleaned relative path climbs out of
// the overlay roots. Such paths never resolve to anything.
func escapesRoot(rel string) bool {
	return rel == ".." || strings.HasPrefix(rel, "../")
}

// lowerPath returns the physical lower location for rel.
func (o *Overlay) lowerPath(rel string) string {
	return filepath.Join(o.lower, rel)
}

// upperPath returns the physical upper location for rel.
func (o *Overlay) upperPath(rel string) string {
	return filepath.Join(o.upper, rel)
}

// guardUpper panics when a mutating primitive is about to touch a
// path outside the upper tree. Reaching this with a lower path is a
// resolver defect, never a reportable runtime condition.
func (o *Overlay) guardUpper(target string) {
	if target == o.upper {
		return
	}
	if !strings.HasPrefix(target, o.upper+string(filepath.Separator)) {
		panic("overlay: mutation outside the upper tree: " + target)
	}
}

// hasEntry reports whether a physical path exists, without following
// a trailing symlink.
func (o *Overlay) hasEntry(path string) bool {
	var st unix.Stat_t
	return o.calls.Lstat(path, &st) == nil
}

// hasDir reports whether a physical path exists and is a directory.
func (o *Overlay) hasDir(path string) bool {
	var st unix.Stat_t
	if err := o.calls.Lstat(path, &st); err != nil {
		return false
	}
	return st.Mode&unix.S_IFMT == unix.S_IFDIR
}

// entryMode returns the lstat mode of a physical path, or false when
// it does not exist.
func (o *Overlay) entryMode(path string) (uint32, bool) {
	var st unix.Stat_t
	if err := o.calls.Lstat(path, &st); err != nil {
		return 0, false
	}
	return uint32(st.Mode), true
}
