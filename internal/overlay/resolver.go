package overlay

import (
	"errors"
	"fmt"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/liboverlay/liboverlay/pkg/types"
)

// Resolution is the outcome of resolving a relative path: which layer
// answers, and the physical path to hand to the real primitive. Path
// is empty for LocDeleted and LocAbsent.
type Resolution struct {
	Loc  types.Location
	Path string
}

// ResolveRead decides which physical location answers a read-only
// access to rel. Upper wins outright; a whiteout masks lower even
// though the marker is superseded the moment an upper entry exists
// again at the same path.
func (o *Overlay) ResolveRead(rel string) Resolution {
	rel = cleanRel(rel)
	if escapesRoot(rel) {
		return Resolution{Loc: types.LocAbsent}
	}

	up := o.upperPath(rel)
	if o.hasEntry(up) {
		return Resolution{Loc: types.LocUpper, Path: up}
	}
	if o.maskedLower(rel) {
		return Resolution{Loc: types.LocDeleted}
	}
	lo := o.lowerPath(rel)
	if o.hasEntry(lo) {
		return Resolution{Loc: types.LocLower, Path: lo}
	}
	return Resolution{Loc: types.LocAbsent}
}

// PrepareWrite readies the upper tree for a write to rel and returns
// the physical upper path the caller must open. create mirrors the
// caller's O_CREAT intent; preserve is false when the open truncates
// anyway and copying lower's bytes up would be wasted work.
//
// The parent directory must exist in at least one layer; when it
// exists only in lower, the ancestor chain is mirrored into upper
// first. A successful preparation clears any whiteout at rel: the
// path is no longer deleted.
func (o *Overlay) PrepareWrite(rel string, create, preserve bool) (string, error) {
	rel = cleanRel(rel)
	if escapesRoot(rel) {
		return "", &types.LayerError{Op: "open", Path: rel, Err: types.ErrNotFound}
	}
	if err := o.ensureParent(rel); err != nil {
		return "", err
	}

	up := o.upperPath(rel)
	switch {
	case o.hasEntry(up):
		// Upper already answers; nothing to materialize.
	case o.maskedLower(rel):
		// The path is deleted. Only an explicit create may resurrect
		// it, and it starts empty: the old lower content stays dead.
		if !create {
			return "", &types.LayerError{Op: "open", Path: rel, Err: types.ErrNotFound}
		}
	case preserve:
		if err := o.copyUp(rel); err != nil {
			return "", err
		}
	default:
		// Truncating write against a lower-resident file: materialize
		// an empty upper entry so the open lands in upper even
		// without O_CREAT.
		if mode, ok := o.entryMode(o.lowerPath(rel)); ok && mode&unix.S_IFMT == unix.S_IFREG {
			if err := o.touchUpper(rel, mode&0o777); err != nil {
				return "", err
			}
		}
	}

	// The path is no longer deleted once upper answers again. A
	// marker over a lower directory is kept, though: it is what keeps
	// the old directory contents hidden under a re-created entry.
	if mode, ok := o.entryMode(o.lowerPath(rel)); !ok || mode&unix.S_IFMT != unix.S_IFDIR {
		if err := o.clearWhiteout(rel); err != nil {
			return "", err
		}
	}
	return up, nil
}

// Mkdir creates rel as a new directory in upper. It fails with
// ErrExists when rel is already visible in either layer, and with
// ErrNotFound when the parent exists in neither.
func (o *Overlay) Mkdir(rel string, mode uint32) error {
	rel = cleanRel(rel)
	if rel == "." {
		return &types.LayerError{Op: "mkdir", Path: rel, Err: types.ErrExists}
	}
	if escapesRoot(rel) {
		return &types.LayerError{Op: "mkdir", Path: rel, Err: types.ErrNotFound}
	}
	if res := o.ResolveRead(rel); res.Loc.Visible() {
		return &types.LayerError{Op: "mkdir", Path: rel, Err: types.ErrExists}
	}
	if err := o.ensureParent(rel); err != nil {
		return err
	}

	up := o.upperPath(rel)
	o.guardUpper(up)
	if err := o.calls.Mkdir(up, mode); err != nil {
		if errors.Is(err, unix.EEXIST) {
			// Lost a creation race after the visibility check.
			return &types.LayerError{Op: "mkdir", Path: rel, Err: types.ErrExists}
		}
		return fmt.Errorf("mkdir %s: %w", rel, err)
	}
	// A whiteout at rel is deliberately left in place: when it masks
	// a lower directory it doubles as the opacity marker that keeps
	// the old contents out of the re-created directory's listing.
	return nil
}

// Remove deletes the file at rel from the merged view. An upper entry
// is physically unlinked; a lower entry is masked with a whiteout and
// its on-disk bytes stay untouched.
func (o *Overlay) Remove(rel string) error {
	rel = cleanRel(rel)
	res := o.ResolveRead(rel)
	if !res.Loc.Visible() {
		return &types.LayerError{Op: "unlink", Path: rel, Err: types.ErrNotFound}
	}

	if res.Loc == types.LocUpper {
		o.guardUpper(res.Path)
		if err := o.calls.Unlink(res.Path); err != nil {
			return fmt.Errorf("unlink %s: %w", rel, err)
		}
	}
	// With the upper entry gone, a lower entry at the same path would
	// become visible again; keep it hidden.
	if o.hasEntry(o.lowerPath(rel)) {
		return o.recordWhiteout(rel)
	}
	return nil
}

// RemoveDir deletes the directory at rel from the merged view. The
// directory must be empty in the merged listing; whiteout artifacts
// inside an upper directory do not count as content and are swept
// before the physical rmdir.
func (o *Overlay) RemoveDir(rel string) error {
	rel = cleanRel(rel)
	if rel == "." {
		return &types.LayerError{Op: "rmdir", Path: rel, Err: unix.EBUSY}
	}
	res := o.ResolveRead(rel)
	if !res.Loc.Visible() {
		return &types.LayerError{Op: "rmdir", Path: rel, Err: types.ErrNotFound}
	}
	if !o.hasDir(res.Path) {
		return &types.LayerError{Op: "rmdir", Path: rel, Err: types.ErrNotDirectory}
	}

	entries, err := o.ReadDirMerged(rel)
	if err != nil {
		return err
	}
	if len(entries) > 0 {
		return &types.LayerError{Op: "rmdir", Path: rel, Err: types.ErrNotEmpty}
	}

	if res.Loc == types.LocUpper {
		if err := o.sweepWhiteouts(rel); err != nil {
			return err
		}
		o.guardUpper(res.Path)
		if err := o.calls.Rmdir(res.Path); err != nil {
			return fmt.Errorf("rmdir %s: %w", rel, err)
		}
	}
	if o.hasDir(o.lowerPath(rel)) {
		return o.recordWhiteout(rel)
	}
	return nil
}

// sweepWhiteouts unlinks the marker artifacts inside an upper
// directory that is about to be removed. The markers are superseded
// by the whiteout recorded for the directory itself.
func (o *Overlay) sweepWhiteouts(rel string) error {
	up := o.upperPath(rel)
	entries, err := o.calls.ReadDir(up)
	if err != nil {
		return fmt.Errorf("rmdir %s: %w", rel, err)
	}
	for _, e := range entries {
		if !isWhiteoutName(e.Name()) {
			continue
		}
		target := filepath.Join(up, e.Name())
		o.guardUpper(target)
		if err := o.calls.Unlink(target); err != nil && !errors.Is(err, unix.ENOENT) {
			return fmt.Errorf("rmdir %s: %w", rel, err)
		}
	}
	return nil
}
