package overlay

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/liboverlay/liboverlay/pkg/types"
)

// Changes enumerates how the upper tree diverges from pristine lower:
// one entry per added/modified file and one per whiteout. Directories
// are structural and not reported. Paths are relative.
func (o *Overlay) Changes() ([]types.Change, error) {
	var changes []types.Change

	err := filepath.WalkDir(o.upper, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == o.upper || d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(o.upper, path)
		if err != nil {
			return err
		}

		base := filepath.Base(rel)
		if isWhiteoutName(base) {
			original := filepath.Join(filepath.Dir(rel), base[len(WhiteoutPrefix):])
			changes = append(changes, types.Change{Path: original, Deleted: true})
			return nil
		}
		changes = append(changes, types.Change{Path: rel, Deleted: false})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list changes: %w", err)
	}
	return changes, nil
}

// Export flattens the merged view into dest, which must not lie
// inside the lower tree: lower is never a write target, not even for
// administrative tooling. Existing files in dest are overwritten.
func (o *Overlay) Export(dest string) error {
	if dest == "" {
		return fmt.Errorf("export: destination is required")
	}
	dest = filepath.Clean(dest)
	if dest == o.lower || strings.HasPrefix(dest, o.lower+string(filepath.Separator)) {
		return fmt.Errorf("export: destination %s is inside the lower tree", dest)
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("export: %w", err)
	}
	return o.exportDir(".", dest)
}

// exportDir copies one merged directory level into dest and recurses.
func (o *Overlay) exportDir(rel, dest string) error {
	entries, err := o.ReadDirMerged(rel)
	if err != nil {
		return err
	}

	for _, e := range entries {
		childRel := filepath.Join(rel, e.Name)
		childDest := filepath.Join(dest, e.Name)

		switch e.Kind {
		case types.KindDirectory:
			if err := os.MkdirAll(childDest, 0o755); err != nil {
				return fmt.Errorf("export %s: %w", childRel, err)
			}
			if err := o.exportDir(childRel, childDest); err != nil {
				return err
			}
		case types.KindFile:
			res := o.ResolveRead(childRel)
			if !res.Loc.Visible() {
				continue // raced with a concurrent delete
			}
			mode, _ := o.entryMode(res.Path)
			if err := copyOut(res.Path, childDest, os.FileMode(mode&0o777)); err != nil {
				return fmt.Errorf("export %s: %w", childRel, err)
			}
		default:
			// Special files are skipped; the export is a plain
			// file/directory snapshot of the merged view.
		}
	}
	return nil
}

// copyOut copies a file to a destination outside the overlay.
func copyOut(src, dst string, mode os.FileMode) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, mode)
}

// Clear removes all upper content, markers included, returning the
// merged view to pristine lower. Lower is untouched.
func (o *Overlay) Clear() error {
	entries, err := o.calls.ReadDir(o.upper)
	if err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	for _, e := range entries {
		path := filepath.Join(o.upper, e.Name())
		o.guardUpper(path)
		if err := os.RemoveAll(path); err != nil {
			return fmt.Errorf("clear %s: %w", e.Name(), err)
		}
	}
	return nil
}
