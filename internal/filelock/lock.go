// Package filelock implements the two cooperative advisory locks the store
// uses to coordinate across processes and across crashes: the process lock
// and the flush lock (spec §4.D).
//
// Both are exclusive flock(2) locks on a dedicated lock file; there is no
// shared/read-lock variant here because the engine's concurrency model is
// single-writer (see spec §5) - nothing in this package needs to let
// multiple holders in at once.
package filelock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// ErrWouldBlock is returned by TryLock when another process already holds
// the lock.
var ErrWouldBlock = errors.New("filelock: would block")

// Lock represents a held exclusive lock on a file. Close releases it.
type Lock struct {
	path string
	fd   *os.File
}

// Acquire blocks until an exclusive lock on path is obtained, creating path
// (and its parent directory) if necessary.
func Acquire(path string) (*Lock, error) {
	fd, err := open(path)
	if err != nil {
		return nil, err
	}

	if err := flockRetryEINTR(int(fd.Fd()), unix.LOCK_EX); err != nil {
		_ = fd.Close()
		return nil, fmt.Errorf("filelock: lock %s: %w", path, err)
	}

	return &Lock{path: path, fd: fd}, nil
}

// TryAcquire attempts to obtain an exclusive lock on path without blocking.
// It returns ErrWouldBlock if another process already holds it.
func TryAcquire(path string) (*Lock, error) {
	fd, err := open(path)
	if err != nil {
		return nil, err
	}

	err = flockRetryEINTR(int(fd.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	if err != nil {
		_ = fd.Close()
		if errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EAGAIN) {
			return nil, ErrWouldBlock
		}
		return nil, fmt.Errorf("filelock: trylock %s: %w", path, err)
	}

	return &Lock{path: path, fd: fd}, nil
}

// Exists reports whether the lock file at path is currently present on
// disk. The store uses this on open to decide whether a flush lock left
// behind by an unclean shutdown requires a restore.
func Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("filelock: stat %s: %w", path, err)
}

// Remove deletes the lock file at path. Used to clear the flush lock on a
// clean close.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("filelock: remove %s: %w", path, err)
	}
	return nil
}

func open(path string) (*os.File, error) {
	fd, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("filelock: open %s: %w", path, err)
		}

		if mkErr := os.MkdirAll(filepath.Dir(path), 0o755); mkErr != nil {
			return nil, fmt.Errorf("filelock: mkdir for %s: %w", path, mkErr)
		}

		fd, err = os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
		if err != nil {
			return nil, fmt.Errorf("filelock: open %s: %w", path, err)
		}
	}

	return fd, nil
}

// Close releases the lock and closes the underlying descriptor. Close is
// idempotent.
func (l *Lock) Close() error {
	if l.fd == nil {
		return nil
	}

	unlockErr := flockRetryEINTR(int(l.fd.Fd()), unix.LOCK_UN)
	closeErr := l.fd.Close()
	l.fd = nil

	if unlockErr != nil {
		return fmt.Errorf("filelock: unlock %s: %w", l.path, unlockErr)
	}
	if closeErr != nil {
		return fmt.Errorf("filelock: close %s: %w", l.path, closeErr)
	}
	return nil
}

// flockRetryEINTR retries unix.Flock on EINTR, which a signal can raise
// even though the call will otherwise succeed on retry.
func flockRetryEINTR(fd int, how int) error {
	const maxEINTRRetries = 10000

	var err error
	for range maxEINTRRetries {
		err = unix.Flock(fd, how)
		if err == nil || !errors.Is(err, unix.EINTR) {
			return err
		}
	}
	return err
}
