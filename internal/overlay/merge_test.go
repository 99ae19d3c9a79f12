package overlay

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/liboverlay/liboverlay/pkg/types"
)

func entryNames(entries []types.DirEntry) map[string]types.EntryKind {
	m := make(map[string]types.EntryKind, len(entries))
	for _, e := range entries {
		m[e.Name] = e.Kind
	}
	return m
}

func TestReadDirMergedUnion(t *testing.T) {
	ov, lower, upper := newTestOverlay(t)

	writeFile(t, filepath.Join(lower, "bar", "bar.txt"), "L")
	writeFile(t, filepath.Join(upper, "bar", "baz.txt"), "U")
	writeFile(t, filepath.Join(lower, "bar", "both.txt"), "L")
	writeFile(t, filepath.Join(upper, "bar", "both.txt"), "U")

	entries, err := ov.ReadDirMerged("bar")
	if err != nil {
		t.Fatalf("ReadDirMerged failed: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3 (no name repeated): %v", len(entries), entries)
	}
	names := entryNames(entries)
	for _, want := range []string{"bar.txt", "baz.txt", "both.txt"} {
		if _, ok := names[want]; !ok {
			t.Errorf("missing entry %s", want)
		}
	}
}

func TestReadDirMergedWhiteouts(t *testing.T) {
	ov, lower, _ := newTestOverlay(t)

	writeFile(t, filepath.Join(lower, "keep.txt"), "k")
	writeFile(t, filepath.Join(lower, "gone.txt"), "g")
	if err := ov.Remove("gone.txt"); err != nil {
		t.Fatal(err)
	}

	entries, err := ov.ReadDirMerged(".")
	if err != nil {
		t.Fatalf("ReadDirMerged failed: %v", err)
	}
	names := entryNames(entries)
	if _, ok := names["gone.txt"]; ok {
		t.Error("whiteouted name should be hidden")
	}
	if _, ok := names[WhiteoutPrefix+"gone.txt"]; ok {
		t.Error("marker artifact should never be listed")
	}
	if _, ok := names["keep.txt"]; !ok {
		t.Error("unrelated lower entry should stay visible")
	}
}

func TestReadDirMergedUpperSupersedesMarker(t *testing.T) {
	ov, lower, upper := newTestOverlay(t)
	writeFile(t, filepath.Join(lower, "f.txt"), "old")

	// Marker and a re-created upper entry side by side: the upper
	// entry wins no matter which one readdir yields first.
	writeFile(t, filepath.Join(upper, WhiteoutPrefix+"f.txt"), "")
	writeFile(t, filepath.Join(upper, "f.txt"), "new")

	names := entryNames(mustList(t, ov, "."))
	if _, ok := names["f.txt"]; !ok {
		t.Error("re-created entry should be visible again")
	}
}

func TestReadDirMergedKinds(t *testing.T) {
	ov, lower, upper := newTestOverlay(t)

	writeFile(t, filepath.Join(lower, "file.txt"), "f")
	if err := os.MkdirAll(filepath.Join(lower, "dir"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink("file.txt", filepath.Join(lower, "link")); err != nil {
		t.Fatal(err)
	}
	// Upper shadows lower with a different kind.
	writeFile(t, filepath.Join(lower, "shifty"), "was a file")
	if err := os.MkdirAll(filepath.Join(upper, "shifty"), 0o755); err != nil {
		t.Fatal(err)
	}

	names := entryNames(mustList(t, ov, "."))
	tests := []struct {
		name string
		kind types.EntryKind
	}{
		{"file.txt", types.KindFile},
		{"dir", types.KindDirectory},
		{"link", types.KindOther},
		{"shifty", types.KindDirectory},
	}
	for _, tt := range tests {
		if got := names[tt.name]; got != tt.kind {
			t.Errorf("%s: kind = %s, want %s", tt.name, got, tt.kind)
		}
	}
}

func TestReadDirMergedFileShadowsDir(t *testing.T) {
	ov, lower, upper := newTestOverlay(t)
	writeFile(t, filepath.Join(lower, "x", "secret.txt"), "s")
	writeFile(t, filepath.Join(upper, "x"), "now a file")

	// The visible entry is the upper file; the lower directory it
	// shadows must not be listable.
	if res := ov.ResolveRead("x"); res.Loc != types.LocUpper {
		t.Fatalf("x resolves to %s, want upper", res.Loc)
	}
	if _, err := ov.ReadDirMerged("x"); !errors.Is(err, types.ErrNotDirectory) {
		t.Errorf("listing a shadowed directory: got %v, want ErrNotDirectory", err)
	}

	// A plain file with no shadowed counterpart behaves the same.
	writeFile(t, filepath.Join(lower, "plain.txt"), "p")
	if _, err := ov.ReadDirMerged("plain.txt"); !errors.Is(err, types.ErrNotDirectory) {
		t.Errorf("listing a file: got %v, want ErrNotDirectory", err)
	}
}

func TestReadDirMergedAbsent(t *testing.T) {
	ov, lower, _ := newTestOverlay(t)

	if _, err := ov.ReadDirMerged("nope"); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("absent dir: got %v, want ErrNotFound", err)
	}

	writeFile(t, filepath.Join(lower, "dead", "f.txt"), "x")
	if err := ov.Remove("dead/f.txt"); err != nil {
		t.Fatal(err)
	}
	if err := ov.RemoveDir("dead"); err != nil {
		t.Fatal(err)
	}
	if _, err := ov.ReadDirMerged("dead"); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("deleted dir: got %v, want ErrNotFound", err)
	}
}

func mustList(t *testing.T, ov *Overlay, rel string) []types.DirEntry {
	t.Helper()
	entries, err := ov.ReadDirMerged(rel)
	if err != nil {
		t.Fatalf("ReadDirMerged(%s) failed: %v", rel, err)
	}
	return entries
}
