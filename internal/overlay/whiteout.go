package overlay

import (
	"errors"
	"fmt"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// WhiteoutPrefix marks tombstone files in the upper tree. A marker
// for "dir/name" lives at "upper/dir/.wh.name", alongside the
// mirrored entries, so it survives process restarts for as long as
// the upper tree does.
const WhiteoutPrefix = ".wh."

// isWhiteoutName reports whether a directory entry name is a marker
// artifact. Such names are reserved and never shown in merged
// listings.
func isWhiteoutName(name string) bool {
	return len(name) > len(WhiteoutPrefix) && name[:len(WhiteoutPrefix)] == WhiteoutPrefix
}

// whiteoutPath returns the physical marker location for rel.
func (o *Overlay) whiteoutPath(rel string) string {
	rel = cleanRel(rel)
	return filepath.Join(o.upper, filepath.Dir(rel), WhiteoutPrefix+filepath.Base(rel))
}

// isWhiteout reports whether a marker exists for rel.
func (o *Overlay) isWhiteout(rel string) bool {
	return o.hasEntry(o.whiteoutPath(rel))
}

// IsDeleted reports whether rel is masked by a whiteout marker.
func (o *Overlay) IsDeleted(rel string) bool {
	return o.isWhiteout(cleanRel(rel))
}

// maskedLower reports whether lower's entry at rel is hidden: by a
// marker at rel itself, or at any ancestor directory. A marker over a
// deleted lower directory keeps masking everything beneath it even
// after the directory is re-created in upper.
func (o *Overlay) maskedLower(rel string) bool {
	for p := cleanRel(rel); p != "."; p = filepath.Dir(p) {
		if o.isWhiteout(p) {
			return true
		}
	}
	return false
}

// recordWhiteout persists a marker for rel. Creation is exclusive so
// that two concurrent deletions of the same path converge: the loser
// sees EEXIST and treats it as success.
func (o *Overlay) recordWhiteout(rel string) error {
	rel = cleanRel(rel)
	if parent := filepath.Dir(rel); parent != "." {
		if err := o.mirrorDir(parent); err != nil {
			return fmt.Errorf("whiteout %s: %w", rel, err)
		}
	}

	path := o.whiteoutPath(rel)
	o.guardUpper(path)
	fd, err := o.calls.Open(path, unix.O_WRONLY|unix.O_CREAT|unix.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, unix.EEXIST) {
			return nil
		}
		return fmt.Errorf("whiteout %s: %w", rel, err)
	}
	return unix.Close(fd)
}

// clearWhiteout removes the marker for rel, if any. A missing marker
// is not an error: a concurrent re-creation may have cleared it first.
func (o *Overlay) clearWhiteout(rel string) error {
	path := o.whiteoutPath(cleanRel(rel))
	o.guardUpper(path)
	if err := o.calls.Unlink(path); err != nil && !errors.Is(err, unix.ENOENT) {
		return fmt.Errorf("clear whiteout %s: %w", rel, err)
	}
	return nil
}
