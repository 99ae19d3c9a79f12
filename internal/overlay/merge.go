package overlay

import (
	"os"

	"github.com/liboverlay/liboverlay/pkg/types"
)

// ReadDirMerged produces the union listing of the directory at rel.
// Entries are collected from both layers and deduplicated by name
// with upper shadowing lower; whiteouted names and the marker
// artifacts themselves are excluded. Order is unspecified.
//
// Fails with ErrNotFound when neither layer has the directory (or a
// whiteout masks it), and with ErrNotDirectory when the visible entry
// is not a directory.
func (o *Overlay) ReadDirMerged(rel string) ([]types.DirEntry, error) {
	rel = cleanRel(rel)
	res := o.ResolveRead(rel)
	if !res.Loc.Visible() {
		return nil, &types.LayerError{Op: "readdir", Path: rel, Err: types.ErrNotFound}
	}
	// The visible entry decides what rel is. An upper file shadowing a
	// lower directory makes rel a file; the masked directory's contents
	// must not leak into a listing.
	if !o.hasDir(res.Path) {
		return nil, &types.LayerError{Op: "readdir", Path: rel, Err: types.ErrNotDirectory}
	}

	merged := make(map[string]types.EntryKind)

	// Lower contributes only when no whiteout masks the directory
	// itself or an ancestor; a directory re-created in upper after
	// deletion must not leak the old lower contents.
	if !o.maskedLower(rel) {
		if entries, err := o.calls.ReadDir(o.lowerPath(rel)); err == nil {
			for _, e := range entries {
				merged[e.Name()] = entryKind(e)
			}
		}
	}

	if entries, err := o.calls.ReadDir(o.upperPath(rel)); err == nil {
		inUpper := make(map[string]bool, len(entries))
		var masked []string
		for _, e := range entries {
			name := e.Name()
			if isWhiteoutName(name) {
				masked = append(masked, name[len(WhiteoutPrefix):])
				continue
			}
			merged[name] = entryKind(e)
			inUpper[name] = true
		}
		// A marker only hides the lower entry; an upper entry
		// re-created at the same name supersedes it.
		for _, name := range masked {
			if !inUpper[name] {
				delete(merged, name)
			}
		}
	}

	result := make([]types.DirEntry, 0, len(merged))
	for name, kind := range merged {
		result = append(result, types.DirEntry{Name: name, Kind: kind})
	}
	return result, nil
}

// entryKind maps a directory entry's type bits to the merged-view
// classification.
func entryKind(e os.DirEntry) types.EntryKind {
	switch {
	case e.IsDir():
		return types.KindDirectory
	case e.Type().IsRegular():
		return types.KindFile
	default:
		return types.KindOther
	}
}
