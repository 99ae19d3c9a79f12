// Package realfs captures the genuine filesystem primitives exactly
// once per process. Every other part of the shim delegates through
// this table and never through the interposed entry points, so a
// handler can never recurse into itself.
package realfs

import (
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// Calls is the dispatch table of real filesystem primitives. The
// signatures and errno conventions match the platform's standard
// entry points; only the physical path actually touched differs when
// the overlay is active.
type Calls struct {
	// Open opens path and returns a file descriptor.
	Open func(path string, flags int, mode uint32) (int, error)

	// Stat and Lstat read file metadata. Lstat does not follow a
	// trailing symlink.
	Stat  func(path string, st *unix.Stat_t) error
	Lstat func(path string, st *unix.Stat_t) error

	// Mkdir creates a single directory.
	Mkdir func(path string, mode uint32) error

	// Unlink removes a file, Rmdir an empty directory.
	Unlink func(path string) error
	Rmdir  func(path string) error

	// ReadDir enumerates the entries of a single directory.
	ReadDir func(path string) ([]os.DirEntry, error)
}

var (
	captureOnce sync.Once
	captured    *Calls
)

// Capture returns the process-wide table of real primitives,
// populating it on first use.
func Capture() *Calls {
	captureOnce.Do(func() {
		captured = &Calls{
			Open:    unix.Open,
			Stat:    unix.Stat,
			Lstat:   unix.Lstat,
			Mkdir:   unix.Mkdir,
			Unlink:  unix.Unlink,
			Rmdir:   unix.Rmdir,
			ReadDir: os.ReadDir,
		}
	})
	return captured
}

// File wraps a descriptor returned by Calls.Open in an *os.File so
// callers can use buffered reads/writes and deferred Close.
func File(fd int, name string) *os.File {
	return os.NewFile(uintptr(fd), name)
}
