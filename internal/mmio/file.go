// Package mmio provides the lowest-level storage primitive: a single
// memory-mapped OS file that can be created, extended, mapped, and flushed.
//
// Everything above this package (body/head storage, managers, hashmap,
// arraymap) is built on top of the [File] it exposes here. mmio itself
// knows nothing about links, keys, or element layouts.
package mmio

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sys/unix"
)

// File is a single OS file together with its current memory mapping, if any.
//
// A File is unmapped when created or opened; callers call [File.Map] to
// obtain the mapped byte slice. Resize unmaps and remaps under the hood, so
// callers must treat any slice returned by a prior Map call as invalid the
// instant Resize returns - this is why body storage layers a remap lock on
// top (see internal/storage).
type File struct {
	mu   sync.Mutex
	path string
	fd   *os.File
	data []byte
}

const (
	filePerm = 0o644
	dirPerm  = 0o755
)

// Create creates a new file at path exclusively (it must not already exist)
// and truncates it to initialSize bytes. The file is not mapped.
func Create(path string, initialSize int64) (*File, error) {
	if err := os.MkdirAll(filepath.Dir(path), dirPerm); err != nil {
		return nil, fmt.Errorf("mmio: create %s: %w", path, err)
	}

	fd, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, filePerm)
	if err != nil {
		return nil, fmt.Errorf("mmio: create %s: %w", path, err)
	}

	if err := fd.Truncate(initialSize); err != nil {
		_ = fd.Close()
		_ = os.Remove(path)
		return nil, fmt.Errorf("mmio: truncate %s: %w", path, err)
	}

	if err := fd.Sync(); err != nil {
		_ = fd.Close()
		_ = os.Remove(path)
		return nil, fmt.Errorf("mmio: sync %s: %w", path, err)
	}

	return &File{path: path, fd: fd}, nil
}

// Open opens an existing file at path for reading and writing. The file is
// not mapped.
func Open(path string) (*File, error) {
	fd, err := os.OpenFile(path, os.O_RDWR, filePerm)
	if err != nil {
		return nil, fmt.Errorf("mmio: open %s: %w", path, err)
	}

	return &File{path: path, fd: fd}, nil
}

// Remove deletes the file at path. It is not an error if path does not exist.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("mmio: remove %s: %w", path, err)
	}
	return nil
}

// Rename renames oldpath to newpath, replacing newpath if it already exists.
func Rename(oldpath, newpath string) error {
	if err := os.Rename(oldpath, newpath); err != nil {
		return fmt.Errorf("mmio: rename %s -> %s: %w", oldpath, newpath, err)
	}
	return nil
}

// ClearDirectory removes every entry inside dir, creating dir first if it
// does not exist. dir itself is left in place.
func ClearDirectory(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("mmio: clear directory %s: %w", dir, err)
	}
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return fmt.Errorf("mmio: clear directory %s: %w", dir, err)
	}
	return nil
}

// IsDirectory reports whether path exists and is a directory.
func IsDirectory(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("mmio: stat %s: %w", path, err)
	}
	return info.IsDir(), nil
}

// MkdirAll creates dir and any missing parents.
func MkdirAll(dir string) error {
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return fmt.Errorf("mmio: mkdir %s: %w", dir, err)
	}
	return nil
}

// Size returns the current physical size of the file, in bytes.
func (f *File) Size() (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	info, err := f.fd.Stat()
	if err != nil {
		return 0, fmt.Errorf("mmio: stat %s: %w", f.path, err)
	}
	return info.Size(), nil
}

// Map maps the entire current extent of the file into the process's address
// space and returns the mapped slice. The file must not already be mapped.
func (f *File) Map() ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.data != nil {
		return nil, fmt.Errorf("mmio: %s already mapped", f.path)
	}

	size, err := f.fd.Stat()
	if err != nil {
		return nil, fmt.Errorf("mmio: stat %s: %w", f.path, err)
	}
	if size.Size() == 0 {
		return nil, fmt.Errorf("mmio: %s is empty, nothing to map", f.path)
	}

	data, err := unix.Mmap(int(f.fd.Fd()), 0, int(size.Size()), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmio: mmap %s: %w", f.path, err)
	}

	f.data = data
	return f.data, nil
}

// Unmap releases the current mapping, if any. It is a no-op if the file is
// not mapped.
func (f *File) Unmap() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.unmapLocked()
}

func (f *File) unmapLocked() error {
	if f.data == nil {
		return nil
	}

	err := unix.Munmap(f.data)
	f.data = nil
	if err != nil {
		return fmt.Errorf("mmio: munmap %s: %w", f.path, err)
	}
	return nil
}

// Flush synchronizes the current mapping to disk (msync), falling back to
// fsync of the file descriptor when nothing is mapped.
func (f *File) Flush() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.data != nil {
		if err := unix.Msync(f.data, unix.MS_SYNC); err != nil {
			return fmt.Errorf("mmio: msync %s: %w", f.path, err)
		}
		return nil
	}

	if err := f.fd.Sync(); err != nil {
		return fmt.Errorf("mmio: fsync %s: %w", f.path, err)
	}
	return nil
}

// Resize extends (or, if shrink is allowed by the caller's discipline,
// changes) the file to newSize bytes and remaps it. Any slice previously
// returned by Map becomes invalid; Resize returns the freshly mapped slice.
//
// Callers above this package (internal/storage.Body) are responsible for
// holding the remap lock exclusively for the duration of Resize - mmio
// itself has no notion of readers.
func (f *File) Resize(newSize int64) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	wasMapped := f.data != nil
	if err := f.unmapLocked(); err != nil {
		return nil, err
	}

	if err := f.fd.Truncate(newSize); err != nil {
		return nil, fmt.Errorf("mmio: truncate %s to %d: %w", f.path, newSize, err)
	}

	if !wasMapped {
		return nil, nil
	}

	data, err := unix.Mmap(int(f.fd.Fd()), 0, int(newSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmio: remap %s: %w", f.path, err)
	}

	f.data = data
	return f.data, nil
}

// Pread reads len(buf) bytes starting at off directly via the file
// descriptor, bypassing any active mapping.
func (f *File) Pread(buf []byte, off int64) (int, error) {
	f.mu.Lock()
	fd := f.fd
	f.mu.Unlock()

	n, err := unix.Pread(int(fd.Fd()), buf, off)
	if err != nil {
		return n, fmt.Errorf("mmio: pread %s: %w", f.path, err)
	}
	return n, nil
}

// Pwrite writes buf starting at off directly via the file descriptor.
func (f *File) Pwrite(buf []byte, off int64) (int, error) {
	f.mu.Lock()
	fd := f.fd
	f.mu.Unlock()

	n, err := unix.Pwrite(int(fd.Fd()), buf, off)
	if err != nil {
		return n, fmt.Errorf("mmio: pwrite %s: %w", f.path, err)
	}
	return n, nil
}

// Close unmaps the file (if mapped) and closes its descriptor. Close is
// idempotent.
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	unmapErr := f.unmapLocked()

	if f.fd == nil {
		return unmapErr
	}

	closeErr := f.fd.Close()
	f.fd = nil

	if unmapErr != nil {
		return unmapErr
	}
	if closeErr != nil {
		return fmt.Errorf("mmio: close %s: %w", f.path, closeErr)
	}
	return nil
}

// Path returns the path the file was created or opened with.
func (f *File) Path() string {
	return f.path
}
