package interpose

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"

	"github.com/liboverlay/liboverlay/internal/logging"
	"github.com/liboverlay/liboverlay/internal/realfs"
	"github.com/liboverlay/liboverlay/pkg/types"
)

// wantsWrite reports whether the open flags imply write access or
// creation, which is what routes the call to upper.
func wantsWrite(flags int) bool {
	if flags&unix.O_ACCMODE != unix.O_RDONLY {
		return true
	}
	return flags&(unix.O_CREAT|unix.O_TRUNC|unix.O_APPEND) != 0
}

// Open interposes the open(2) family. Reads resolve upper-first with
// lower fallback; writes are prepared in upper (ancestor mirroring,
// copy-up, whiteout clearing) and then opened there.
func Open(path string, flags int, mode uint32) (int, error) {
	calls := realfs.Capture()
	ov, rel, ok := active(path)
	if !ok {
		return calls.Open(path, flags, mode)
	}

	if !wantsWrite(flags) {
		res := ov.ResolveRead(rel)
		if !res.Loc.Visible() {
			return -1, unix.ENOENT
		}
		logging.Debug("open read", logging.String("rel", rel), logging.String("target", res.Path))
		return calls.Open(res.Path, flags, mode)
	}

	// O_EXCL creation is answered from the merged view: a lower entry
	// hidden from upper still makes the path exist for the caller.
	if flags&(unix.O_CREAT|unix.O_EXCL) == unix.O_CREAT|unix.O_EXCL {
		if ov.ResolveRead(rel).Loc.Visible() {
			return -1, unix.EEXIST
		}
	}

	target, err := ov.PrepareWrite(rel, flags&unix.O_CREAT != 0, flags&unix.O_TRUNC == 0)
	if err != nil {
		return -1, toErrno(err)
	}
	logging.Debug("open write", logging.String("rel", rel), logging.String("target", target))
	return calls.Open(target, flags, mode)
}

// Stat interposes stat(2), answering from whichever layer resolves.
func Stat(path string, st *unix.Stat_t) error {
	calls := realfs.Capture()
	ov, rel, ok := active(path)
	if !ok {
		return calls.Stat(path, st)
	}
	res := ov.ResolveRead(rel)
	if !res.Loc.Visible() {
		return unix.ENOENT
	}
	return calls.Stat(res.Path, st)
}

// Lstat interposes lstat(2).
func Lstat(path string, st *unix.Stat_t) error {
	calls := realfs.Capture()
	ov, rel, ok := active(path)
	if !ok {
		return calls.Lstat(path, st)
	}
	res := ov.ResolveRead(rel)
	if !res.Loc.Visible() {
		return unix.ENOENT
	}
	return calls.Lstat(res.Path, st)
}

// Mkdir interposes mkdir(2). New directories are only ever created in
// upper, with the lower ancestor chain mirrored on demand.
func Mkdir(path string, mode uint32) error {
	calls := realfs.Capture()
	ov, rel, ok := active(path)
	if !ok {
		return calls.Mkdir(path, mode)
	}
	if err := ov.Mkdir(rel, mode); err != nil {
		return toErrno(err)
	}
	return nil
}

// Unlink interposes unlink(2). Upper entries are removed physically;
// lower entries are masked with a whiteout and never touched.
func Unlink(path string) error {
	calls := realfs.Capture()
	ov, rel, ok := active(path)
	if !ok {
		return calls.Unlink(path)
	}
	if err := ov.Remove(rel); err != nil {
		return toErrno(err)
	}
	return nil
}

// Rmdir interposes rmdir(2) with the same union semantics as Unlink.
func Rmdir(path string) error {
	calls := realfs.Capture()
	ov, rel, ok := active(path)
	if !ok {
		return calls.Rmdir(path)
	}
	if err := ov.RemoveDir(rel); err != nil {
		return toErrno(err)
	}
	return nil
}

// ReadDir interposes directory enumeration, producing the merged
// union listing for in-scope directories. Order is unspecified.
func ReadDir(path string) ([]types.DirEntry, error) {
	calls := realfs.Capture()
	ov, rel, ok := active(path)
	if !ok {
		entries, err := calls.ReadDir(path)
		if err != nil {
			return nil, err
		}
		result := make([]types.DirEntry, 0, len(entries))
		for _, e := range entries {
			kind := types.KindOther
			switch {
			case e.IsDir():
				kind = types.KindDirectory
			case e.Type().IsRegular():
				kind = types.KindFile
			}
			result = append(result, types.DirEntry{Name: e.Name(), Kind: kind})
		}
		return result, nil
	}

	entries, err := ov.ReadDirMerged(rel)
	if err != nil {
		return nil, toErrno(err)
	}
	return entries, nil
}

// toErrno maps a resolver error to the platform error code the real
// primitive would have produced. Errors already carrying an errno
// pass through unmodified; the shim never invents codes beyond the
// resolver outcomes.
func toErrno(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, types.ErrNotFound):
		return unix.ENOENT
	case errors.Is(err, types.ErrExists):
		return unix.EEXIST
	case errors.Is(err, types.ErrNotEmpty):
		return unix.ENOTEMPTY
	case errors.Is(err, types.ErrNotDirectory):
		return unix.ENOTDIR
	}

	var errno unix.Errno
	if errors.As(err, &errno) {
		return errno
	}
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		if errno, ok := pathErr.Err.(unix.Errno); ok {
			return errno
		}
	}

	switch {
	case os.IsNotExist(err):
		return unix.ENOENT
	case os.IsExist(err):
		return unix.EEXIST
	case os.IsPermission(err):
		return unix.EACCES
	}
	return unix.EIO
}
