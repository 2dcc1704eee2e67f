// Package storage implements the two memory-mapped storage primitives
// spec §4.B and §4.C build on: a growable Body region and a fixed-size
// Head region, each protected by the remap rw-mutex that spec §5 calls
// "the single concurrency-correctness pivot of the whole engine."
//
// This is grounded on the mmap/remap machinery in the storage engine this
// module's ambient stack was learned from, but deliberately simpler: that
// engine layers a seqlock generation counter and a CRC-checksummed header
// on top of its mapping for single-file crash detection. Here, spec §5's
// own invariant - chain nodes are only appended, bucket slots only
// overwritten atomically at Link width - is stated as sufficient, so Body
// carries only the plain shared/exclusive remap lock the spec specifies.
package storage

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/calvinalkan/chainstore/internal/mmio"
)

// Body is a growable, memory-mapped byte region protected by a read-write
// mutex (spec §4.B: "the remap lock"). Every read path that dereferences a
// link inside a body file must hold an Accessor; every growth path briefly
// holds the lock exclusively.
type Body struct {
	mu   sync.RWMutex
	file *mmio.File
	data []byte

	logical atomic.Uint64
	rate    uint16

	log       *slog.Logger
	tableName string
}

// NewBody constructs an unopened Body storage with the given per-table
// growth rate (a percentage, spec §4.B).
func NewBody(rate uint16) *Body {
	return &Body{rate: rate}
}

// SetLogger attaches the logger Reserve (growth events) and the owning
// manager's corrupt-link detection (SPEC_FULL.md §11) report through, and
// the table name used to identify which body a log line is about. A Body
// with no logger attached (the zero value) logs nothing - store.Create/
// Open call this right after NewBody.
func (b *Body) SetLogger(tableName string, log *slog.Logger) {
	b.tableName = tableName
	b.log = log
}

// LogCorrupt reports a detected corrupt-link event: a link that did not
// address a region fully contained in this body's current mapping. Called
// by internal/manager once it has already turned the condition into
// ErrCorrupt for the caller - this only adds the log line spec §11 asks
// for on top of that.
func (b *Body) LogCorrupt(link uint64, reason string) {
	if b.log == nil {
		return
	}
	b.log.Warn("storage: corrupt link detected", "table", b.tableName, "link", link, "reason", reason)
}

// Create creates a new body file at path with the given initial physical
// size and maps it. Logical size starts at zero (spec §4.H: "create...
// truncates the body to zero logical size").
func (b *Body) Create(path string, initialPhysicalSize int64) error {
	f, err := mmio.Create(path, initialPhysicalSize)
	if err != nil {
		return fmt.Errorf("storage: create body: %w", err)
	}

	data, err := f.Map()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("storage: map new body: %w", err)
	}

	b.file = f
	b.data = data
	b.logical.Store(0)
	return nil
}

// Open opens an existing body file and maps it. Callers must call
// SetLogical afterward with the value recorded in the owning head file.
func (b *Body) Open(path string) error {
	f, err := mmio.Open(path)
	if err != nil {
		return fmt.Errorf("storage: open body: %w", err)
	}

	data, err := f.Map()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("storage: map body: %w", err)
	}

	b.file = f
	b.data = data
	return nil
}

// Load re-maps an opened-but-unloaded body file. It is a no-op if already
// mapped.
func (b *Body) Load() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.data != nil {
		return nil
	}

	data, err := b.file.Map()
	if err != nil {
		return fmt.Errorf("storage: load body: %w", err)
	}
	b.data = data
	return nil
}

// Unload releases the current mapping without closing the underlying file
// descriptor.
func (b *Body) Unload() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.file.Unmap(); err != nil {
		return fmt.Errorf("storage: unload body: %w", err)
	}
	b.data = nil
	return nil
}

// Close unmaps and closes the body file.
func (b *Body) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.data = nil
	if b.file == nil {
		return nil
	}
	if err := b.file.Close(); err != nil {
		return fmt.Errorf("storage: close body: %w", err)
	}
	return nil
}

// Flush synchronizes the mapped region to disk.
func (b *Body) Flush() error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.file == nil {
		return nil
	}
	if err := b.file.Flush(); err != nil {
		return fmt.Errorf("storage: flush body: %w", err)
	}
	return nil
}

// Logical returns the body's current in-memory logical size: the extent
// that has actually been allocated, as opposed to the (always >=) physical
// file size.
func (b *Body) Logical() uint64 {
	return b.logical.Load()
}

// SetLogical sets the in-memory logical size directly. Used by store.Open
// (the value recorded in the head file), by the managers' Allocate to
// advance it, and by arraymap's PopRecord to shrink it.
func (b *Body) SetLogical(v uint64) {
	b.logical.Store(v)
}

// Access returns a handle holding the remap lock in shared mode and
// exposing the current mapped base, or (nil, false) if the body is closed.
func (b *Body) Access() (*Accessor, bool) {
	b.mu.RLock()

	if b.data == nil {
		b.mu.RUnlock()
		return nil, false
	}

	return newAccessor(b.data, b.mu.RUnlock), true
}

// Reserve ensures the physical size is at least
// ceil(logicalSize * (1 + rate/100)). If growth is required it acquires
// the remap lock exclusively, extends the file, remaps, and releases -
// blocking, by virtue of the rw-mutex, while any accessor is alive.
//
// Reserve returns false if the body is closed or the resize failed.
func (b *Body) Reserve(logicalSize uint64) bool {
	b.mu.RLock()
	file := b.file
	data := b.data
	b.mu.RUnlock()

	if file == nil || data == nil {
		return false
	}

	current := int64(len(data))
	target := growTarget(logicalSize, b.rate)
	if target <= current {
		return true
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	// Re-check under the exclusive lock: another grower may have already
	// satisfied this request while we were waiting.
	before := int64(len(b.data))
	if before >= target {
		return true
	}

	grown, err := b.file.Resize(target)
	if err != nil {
		return false
	}
	b.data = grown
	if b.log != nil {
		b.log.Info("storage: body grown", "table", b.tableName, "from", before, "to", target)
	}
	return true
}

// growTarget computes ceil(logicalSize * (1 + rate/100)), floored at the
// logical size itself so a zero rate still fits exactly.
func growTarget(logicalSize uint64, rate uint16) int64 {
	target := logicalSize + (logicalSize*uint64(rate)+99)/100
	if target < logicalSize {
		target = logicalSize
	}
	if target == 0 {
		target = 1
	}
	return int64(target)
}
