package overlay

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWhiteoutRecordAndClear(t *testing.T) {
	ov, _, upper := newTestOverlay(t)

	if err := ov.recordWhiteout("file.txt"); err != nil {
		t.Fatalf("recordWhiteout failed: %v", err)
	}
	marker := filepath.Join(upper, WhiteoutPrefix+"file.txt")
	if _, err := os.Stat(marker); err != nil {
		t.Fatalf("marker not on disk: %v", err)
	}
	if !ov.IsDeleted("file.txt") {
		t.Error("IsDeleted should report the marker")
	}

	// Recording twice converges; the loser of the creation race sees
	// EEXIST and treats it as success.
	if err := ov.recordWhiteout("file.txt"); err != nil {
		t.Errorf("second record should succeed: %v", err)
	}

	if err := ov.clearWhiteout("file.txt"); err != nil {
		t.Fatalf("clearWhiteout failed: %v", err)
	}
	if ov.IsDeleted("file.txt") {
		t.Error("marker should be gone")
	}

	// Clearing an absent marker is not an error.
	if err := ov.clearWhiteout("file.txt"); err != nil {
		t.Errorf("clear of absent marker should succeed: %v", err)
	}
}

func TestWhiteoutNested(t *testing.T) {
	ov, lower, upper := newTestOverlay(t)
	writeFile(t, filepath.Join(lower, "sub", "dir", "f.txt"), "x")

	if err := ov.recordWhiteout("sub/dir/f.txt"); err != nil {
		t.Fatalf("recordWhiteout failed: %v", err)
	}
	marker := filepath.Join(upper, "sub", "dir", WhiteoutPrefix+"f.txt")
	if _, err := os.Stat(marker); err != nil {
		t.Fatalf("nested marker not on disk: %v", err)
	}
}

func TestWhiteoutDurable(t *testing.T) {
	ov, lower, _ := newTestOverlay(t)
	writeFile(t, filepath.Join(lower, "gone.txt"), "x")
	if err := ov.Remove("gone.txt"); err != nil {
		t.Fatal(err)
	}

	// A fresh overlay over the same pair, as after a process restart,
	// still sees the tombstone.
	again, err := New(ov.LowerDir(), ov.UpperDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if !again.IsDeleted("gone.txt") {
		t.Error("whiteout should survive re-initialization")
	}
}

func TestIsWhiteoutName(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{".wh.foo", true},
		{".wh.a", true},
		{".wh.", false},
		{"foo", false},
		{".whale", false},
		{"a.wh.b", false},
	}
	for _, tt := range tests {
		if got := isWhiteoutName(tt.name); got != tt.want {
			t.Errorf("isWhiteoutName(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}
