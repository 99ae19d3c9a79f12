// Package integration provides end-to-end tests for the overlay shim,
// driving the interposed entry points the way a host process would:
// configuration comes from the environment and every operation goes
// through the public handlers.
package integration

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/liboverlay/liboverlay/internal/config"
	"github.com/liboverlay/liboverlay/internal/interpose"
	"github.com/liboverlay/liboverlay/internal/overlay"
	"github.com/liboverlay/liboverlay/internal/realfs"
)

// lowerDir and upperDir are the canonical roots shared by every test
// in this binary: the environment-driven init happens once per
// process, exactly as in a real shimmed program.
var (
	lowerDir string
	upperDir string
)

func TestMain(m *testing.M) {
	var err error
	lowerDir, err = os.MkdirTemp("", "liboverlay-lower-")
	if err != nil {
		panic(err)
	}
	upperDir, err = os.MkdirTemp("", "liboverlay-upper-")
	if err != nil {
		panic(err)
	}
	// The overlay canonicalizes its roots; the tests must compare
	// against the same form.
	if lowerDir, err = filepath.EvalSymlinks(lowerDir); err != nil {
		panic(err)
	}
	if upperDir, err = filepath.EvalSymlinks(upperDir); err != nil {
		panic(err)
	}

	os.Setenv(config.EnvLowerDir, lowerDir)
	os.Setenv(config.EnvUpperDir, upperDir)

	code := m.Run()
	os.RemoveAll(lowerDir)
	os.RemoveAll(upperDir)
	os.Exit(code)
}

// seedLower plants a file in the base tree, bypassing the shim.
func seedLower(t *testing.T, rel, content string) string {
	t.Helper()
	path := filepath.Join(lowerDir, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func shimRead(t *testing.T, path string) (string, error) {
	t.Helper()
	fd, err := interpose.Open(path, unix.O_RDONLY, 0)
	if err != nil {
		return "", err
	}
	f := realfs.File(fd, path)
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		t.Fatal(err)
	}
	return string(data), nil
}

func shimWrite(t *testing.T, path, content string) error {
	t.Helper()
	fd, err := interpose.Open(path, unix.O_WRONLY|unix.O_CREAT|unix.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	f := realfs.File(fd, path)
	defer f.Close()
	if _, err := f.WriteString(content); err != nil {
		t.Fatal(err)
	}
	return nil
}

func TestReadFallsBackToLower(t *testing.T) {
	path := seedLower(t, "foo.txt", "A")

	got, err := shimRead(t, path)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if got != "A" {
		t.Errorf("read %q, want %q", got, "A")
	}
}

func TestOverwriteShadowsWithoutMutatingLower(t *testing.T) {
	path := seedLower(t, "over.txt", "A")

	if err := shimWrite(t, path, "Overwrite"); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	got, err := shimRead(t, path)
	if err != nil {
		t.Fatal(err)
	}
	if got != "Overwrite" {
		t.Errorf("merged read = %q, want %q", got, "Overwrite")
	}
	// Direct read from the lower root, bypassing the shim.
	data, err := os.ReadFile(filepath.Join(lowerDir, "over.txt"))
	if err != nil || string(data) != "A" {
		t.Errorf("lower bytes = %q (%v), want %q", data, err, "A")
	}
}

func TestListingMergesLayers(t *testing.T) {
	seedLower(t, "bar/bar.txt", "B")
	barDir := filepath.Join(lowerDir, "bar")

	entries, err := interpose.ReadDir(barDir)
	if err != nil {
		t.Fatalf("readdir failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "bar.txt" {
		t.Fatalf("entries = %v, want [bar.txt]", entries)
	}

	if err := shimWrite(t, filepath.Join(barDir, "baz.txt"), "X"); err != nil {
		t.Fatal(err)
	}
	entries, err = interpose.ReadDir(barDir)
	if err != nil {
		t.Fatal(err)
	}
	names := make(map[string]bool, len(entries))
	for _, e := range entries {
		names[e.Name] = true
	}
	if len(names) != 2 || !names["bar.txt"] || !names["baz.txt"] {
		t.Errorf("entries = %v, want exactly {bar.txt, baz.txt}", entries)
	}
}

func TestWriteRequiresVisibleParent(t *testing.T) {
	path := filepath.Join(lowerDir, "new_dir", "new_file.txt")

	if err := shimWrite(t, path, "It is new"); err != unix.ENOENT {
		t.Fatalf("write without parent: got %v, want ENOENT", err)
	}
	if err := interpose.Mkdir(filepath.Join(lowerDir, "new_dir"), 0o755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	if err := shimWrite(t, path, "It is new"); err != nil {
		t.Fatalf("write after mkdir failed: %v", err)
	}
	got, err := shimRead(t, path)
	if err != nil {
		t.Fatal(err)
	}
	if got != "It is new" {
		t.Errorf("read %q, want %q", got, "It is new")
	}
	// The directory was materialized in upper, never in lower.
	if _, err := os.Lstat(filepath.Join(upperDir, "new_dir")); err != nil {
		t.Errorf("upper should hold the new directory: %v", err)
	}
}

func TestDeleteAfterCopyUp(t *testing.T) {
	path := seedLower(t, "victim.txt", "A")

	if err := shimWrite(t, path, "It is new"); err != nil {
		t.Fatal(err)
	}
	if err := interpose.Unlink(path); err != nil {
		t.Fatalf("unlink failed: %v", err)
	}
	if err := interpose.Unlink(path); err != unix.ENOENT {
		t.Fatalf("second unlink: got %v, want ENOENT", err)
	}
	if _, err := shimRead(t, path); err != unix.ENOENT {
		t.Fatalf("read after delete: got %v, want ENOENT", err)
	}
	data, err := os.ReadFile(filepath.Join(lowerDir, "victim.txt"))
	if err != nil || string(data) != "A" {
		t.Errorf("lower bytes = %q (%v), want %q", data, err, "A")
	}
}

func TestRmdirLifecycle(t *testing.T) {
	path := filepath.Join(lowerDir, "scratch_dir")

	if err := interpose.Rmdir(path); err != unix.ENOENT {
		t.Fatalf("rmdir of never-created dir: got %v, want ENOENT", err)
	}
	if err := interpose.Mkdir(path, 0o755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	if err := interpose.Rmdir(path); err != nil {
		t.Fatalf("rmdir failed: %v", err)
	}
}

func TestTombstonesSurviveRestart(t *testing.T) {
	path := seedLower(t, "persistent.txt", "A")

	if err := interpose.Unlink(path); err != nil {
		t.Fatalf("unlink failed: %v", err)
	}

	// A fresh overlay over the same pair stands in for the next
	// process sharing this upper tree.
	ov, err := overlay.New(lowerDir, upperDir, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !ov.IsDeleted("persistent.txt") {
		t.Error("tombstone should be durable across re-initialization")
	}
	if res := ov.ResolveRead("persistent.txt"); res.Loc.Visible() {
		t.Errorf("deleted path resolves to %s", res.Loc)
	}
}
