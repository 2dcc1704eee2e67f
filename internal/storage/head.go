package storage

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/calvinalkan/chainstore/internal/mmio"
	"github.com/calvinalkan/chainstore/internal/schema"
)

// logicalSizeWidth is the width, in bytes, of the logical-body-size field
// at the start of every head file (spec §6: "[logical_body_size: 4 bytes
// little-endian]").
const logicalSizeWidth = 4

// Head is a fixed-size mapping holding a table's bucket array (hashmap
// tables) or nothing beyond the logical-size field (arraymap tables),
// spec §4.C.
type Head struct {
	mu       sync.RWMutex
	file     *mmio.File
	data     []byte
	linkSize int
	buckets  uint32
}

// NewHead constructs an unopened Head for a table with the given link
// width and bucket count (buckets is zero for arraymap tables).
func NewHead(linkSize int, buckets uint32) *Head {
	return &Head{linkSize: linkSize, buckets: buckets}
}

func (h *Head) size() int64 {
	return int64(logicalSizeWidth) + int64(h.buckets)*int64(h.linkSize)
}

// Create creates a new head file at path, zero logical size, every bucket
// slot initialized to terminal (spec §4.H: "initializes the bucket array
// to terminal").
func (h *Head) Create(path string, terminal schema.Link) error {
	f, err := mmio.Create(path, h.size())
	if err != nil {
		return fmt.Errorf("storage: create head: %w", err)
	}

	data, err := f.Map()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("storage: map new head: %w", err)
	}

	h.file = f
	h.data = data

	for i := uint32(0); i < h.buckets; i++ {
		h.setBucketSlotLocked(i, terminal)
	}

	return nil
}

// Open opens an existing head file and maps it, validating its size
// matches this table's configured link width and bucket count (spec
// §4.H's verify step: "the head is well-formed").
func (h *Head) Open(path string) error {
	f, err := mmio.Open(path)
	if err != nil {
		return fmt.Errorf("storage: open head: %w", err)
	}

	size, err := f.Size()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("storage: stat head: %w", err)
	}
	if size != h.size() {
		_ = f.Close()
		return fmt.Errorf("storage: head %s has size %d, want %d", path, size, h.size())
	}

	data, err := f.Map()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("storage: map head: %w", err)
	}

	h.file = f
	h.data = data
	return nil
}

// Close unmaps and closes the head file.
func (h *Head) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.data = nil
	if h.file == nil {
		return nil
	}
	if err := h.file.Close(); err != nil {
		return fmt.Errorf("storage: close head: %w", err)
	}
	return nil
}

// Flush synchronizes the head's mapped region to disk.
func (h *Head) Flush() error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.file == nil {
		return nil
	}
	if err := h.file.Flush(); err != nil {
		return fmt.Errorf("storage: flush head: %w", err)
	}
	return nil
}

// Get returns a handle holding the head's lock in shared mode and exposing
// its mapped bytes, or (nil, false) if closed.
func (h *Head) Get() (*Accessor, bool) {
	h.mu.RLock()

	if h.data == nil {
		h.mu.RUnlock()
		return nil, false
	}

	return newAccessor(h.data, h.mu.RUnlock), true
}

// LogicalSize reads the owner body's logical size as recorded in this head
// (spec §4.C: "the first 4 bytes hold the owner body's logical size at
// last snapshot").
func (h *Head) LogicalSize() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return uint64(binary.LittleEndian.Uint32(h.data[:logicalSizeWidth]))
}

// SetLogicalSize writes the owner body's current logical size into the
// head. Used by Store.Snapshot ("snap").
func (h *Head) SetLogicalSize(v uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	binary.LittleEndian.PutUint32(h.data[:logicalSizeWidth], uint32(v))
}

// BucketSlot reads the Link stored in bucket slot i: the head of that
// bucket's chain, or terminal.
func (h *Head) BucketSlot(i uint32) schema.Link {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.bucketSlotLocked(i)
}

func (h *Head) bucketSlotLocked(i uint32) schema.Link {
	off := logicalSizeWidth + int(i)*h.linkSize
	return schema.GetLink(h.data[off:], h.linkSize)
}

// SetBucketSlot publishes link as the new head of bucket i. A single
// Link-width store is the atomic publication point spec §5 relies on for
// lock-free-ish readers: a reader that begins traversal before this call
// either sees the old head or the new one, never a torn value.
func (h *Head) SetBucketSlot(i uint32, link schema.Link) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.setBucketSlotLocked(i, link)
}

func (h *Head) setBucketSlotLocked(i uint32, link schema.Link) {
	off := logicalSizeWidth + int(i)*h.linkSize
	schema.PutLink(h.data[off:], h.linkSize, link)
}
