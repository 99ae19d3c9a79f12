package overlay

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/liboverlay/liboverlay/internal/realfs"
	"github.com/liboverlay/liboverlay/pkg/types"
)

// mirrorDir materializes the directory rel in the upper tree,
// creating missing ancestors first. It recurses up the chain and
// stops as soon as an ancestor is already present in upper. Creation
// is idempotent: EEXIST from a concurrent mirror of the same
// directory is success, not an error.
func (o *Overlay) mirrorDir(rel string) error {
	rel = cleanRel(rel)
	if rel == "." {
		return nil // the upper root always exists
	}

	up := o.upperPath(rel)
	if o.hasDir(up) {
		return nil
	}

	// Mirroring only reproduces directories that lower already has;
	// anything else means the caller's parent chain is broken.
	mode, ok := o.entryMode(o.lowerPath(rel))
	if !ok || mode&unix.S_IFMT != unix.S_IFDIR {
		return &types.LayerError{Op: "mirror", Path: rel, Err: types.ErrNotFound}
	}

	if err := o.mirrorDir(filepath.Dir(rel)); err != nil {
		return err
	}

	o.guardUpper(up)
	if err := o.calls.Mkdir(up, mode&0o777); err != nil && !errors.Is(err, unix.EEXIST) {
		return fmt.Errorf("mirror %s: %w", rel, err)
	}
	return nil
}

// ensureParent guarantees that the immediate parent directory of rel
// exists in upper, mirroring the lower ancestor chain on demand.
// Fails with ErrNotFound when the parent exists in neither layer; the
// caller must mkdir explicitly first.
func (o *Overlay) ensureParent(rel string) error {
	parent := filepath.Dir(cleanRel(rel))
	if parent == "." {
		return nil
	}
	if o.hasDir(o.upperPath(parent)) {
		return nil
	}
	if !o.hasDir(o.lowerPath(parent)) {
		return &types.LayerError{Op: "mirror", Path: parent, Err: types.ErrNotFound}
	}
	return o.mirrorDir(parent)
}

// copyUp materializes lower's entry at rel in the upper tree so that
// subsequent partial writes and appends observe the original content.
// A no-op when upper already has an entry or lower has none.
func (o *Overlay) copyUp(rel string) error {
	rel = cleanRel(rel)
	up := o.upperPath(rel)
	if o.hasEntry(up) {
		return nil
	}

	lo := o.lowerPath(rel)
	mode, ok := o.entryMode(lo)
	if !ok {
		return nil
	}
	if mode&unix.S_IFMT == unix.S_IFDIR {
		return o.mirrorDir(rel)
	}
	if mode&unix.S_IFMT != unix.S_IFREG {
		// Symlinks and special files are opened in place from lower;
		// only regular file content is copied up.
		return nil
	}

	return o.copyFile(lo, up, mode&0o777)
}

// touchUpper creates an empty regular file at rel in upper. Used when
// a write-open truncates anyway, making a content copy pointless.
func (o *Overlay) touchUpper(rel string, mode uint32) error {
	up := o.upperPath(cleanRel(rel))
	o.guardUpper(up)
	fd, err := o.calls.Open(up, unix.O_WRONLY|unix.O_CREAT, mode)
	if err != nil {
		return fmt.Errorf("touch %s: %w", rel, err)
	}
	return unix.Close(fd)
}

// copyFile copies a regular file byte for byte through the captured
// primitives. The copy is always user-writable: a read-only mode in
// lower must not make the upper copy unwritable.
func (o *Overlay) copyFile(src, dst string, mode uint32) error {
	srcFd, err := o.calls.Open(src, unix.O_RDONLY, 0)
	if err != nil {
		return fmt.Errorf("copy-up open %s: %w", src, err)
	}
	srcFile := realfs.File(srcFd, src)
	defer srcFile.Close()

	o.guardUpper(dst)
	dstFd, err := o.calls.Open(dst, unix.O_WRONLY|unix.O_CREAT|unix.O_TRUNC, mode|0o200)
	if err != nil {
		return fmt.Errorf("copy-up create %s: %w", dst, err)
	}
	dstFile := realfs.File(dstFd, dst)
	defer dstFile.Close()

	if _, err := io.Copy(dstFile, srcFile); err != nil {
		return fmt.Errorf("copy-up %s: %w", dst, err)
	}
	return nil
}
