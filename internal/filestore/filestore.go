// Package filestore provides the file-handle facade used by both
// engines: open/read/append/size/can-fit/remove, with the errors
// mapped onto xferr's resource-level sentinels.
package filestore

import (
	"os"
	"path/filepath"
	"syscall"

	"github.com/pkg/errors"

	"udpftp/internal/ftpconfig"
	"udpftp/internal/xferr"
)

// File wraps an *os.File together with the path it was opened from, so
// callers can Remove it without threading the path around separately.
type File struct {
	path   string
	handle *os.File
	closed bool
}

// OpenWriteNew creates path for writing, failing if it already exists.
func OpenWriteNew(path string) (*File, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if os.IsExist(err) {
			return nil, errors.Wrapf(xferr.ErrFileAlreadyExists, "path %q", path)
		}
		return nil, errors.Wrapf(err, "open %q for writing", path)
	}
	return &File{path: path, handle: f}, nil
}

// OpenRead opens path for reading, failing if it does not exist.
func OpenRead(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(xferr.ErrFileDoesNotExist, "path %q", path)
		}
		return nil, errors.Wrapf(err, "open %q for reading", path)
	}
	return &File{path: path, handle: f}, nil
}

// Read fills buf and returns the number of bytes read; 0, nil at EOF.
func (f *File) Read(buf []byte) (int, error) {
	n, err := f.handle.Read(buf)
	if err != nil {
		if errors.Is(err, os.ErrClosed) {
			return n, err
		}
		if n == 0 {
			return 0, nil
		}
	}
	return n, nil
}

// Append writes data to the end of the file.
func (f *File) Append(data []byte) error {
	_, err := f.handle.Write(data)
	if err != nil {
		return errors.Wrapf(err, "append to %q", f.path)
	}
	return nil
}

// Size returns the file's current on-disk size.
func (f *File) Size() (int64, error) {
	info, err := f.handle.Stat()
	if err != nil {
		return 0, errors.Wrapf(err, "stat %q", f.path)
	}
	return info.Size(), nil
}

// Path returns the path this File was opened from.
func (f *File) Path() string { return f.path }

// Close closes the underlying handle.
func (f *File) Close() error {
	if f.closed {
		return nil
	}
	f.closed = true
	return f.handle.Close()
}

// IsClosed reports whether Close has already been called.
func (f *File) IsClosed() bool { return f.closed }

// Remove deletes the file at path. It is a package-level function,
// not a method, since cleanup-after-error often needs to remove a file
// whose handle has already been closed.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "remove %q", path)
	}
	return nil
}

// SizeOf stats path without opening it and returns its size.
func SizeOf(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Exists reports whether path already exists on disk.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// CanFit reports whether the storage volume backing dir has at least
// sizeInBytes plus ftpconfig.MinFreeBytes of free space, the same
// safety margin the original's file handler enforces.
func CanFit(dir string, sizeInBytes int64) (bool, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(dir, &stat); err != nil {
		return false, errors.Wrapf(err, "statfs %q", dir)
	}
	free := int64(stat.Bavail) * int64(stat.Bsize)
	return free >= sizeInBytes+ftpconfig.MinFreeBytes, nil
}

// ResolveWithin joins dir and name, rejecting any name that would
// escape dir (e.g. via "..").
func ResolveWithin(dir, name string) (string, error) {
	clean := filepath.Clean(name)
	if clean == "." || clean == ".." || filepath.IsAbs(clean) {
		return "", errors.Errorf("invalid filename %q", name)
	}
	joined := filepath.Join(dir, clean)
	rel, err := filepath.Rel(dir, joined)
	if err != nil || rel == ".." || len(rel) >= 2 && rel[:2] == ".." {
		return "", errors.Errorf("invalid filename %q", name)
	}
	return joined, nil
}
