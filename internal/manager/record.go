package manager

import (
	"sync"

	"github.com/calvinalkan/chainstore/internal/schema"
	"github.com/calvinalkan/chainstore/internal/storage"
)

// RecordManager allocates fixed-width slots over a body storage (spec
// §4.E). allocate(count) returns the starting link (a byte offset, stepping
// by recordSize) and atomically advances the logical size under an
// allocator mutex - lock hierarchy level 5 in spec §5.
type RecordManager struct {
	body       *storage.Body
	allocMu    sync.Mutex
	recordSize int
	linkSize   int
}

// NewRecordManager constructs a record manager for the given body, record
// width, and link width.
func NewRecordManager(body *storage.Body, recordSize, linkSize int) *RecordManager {
	return &RecordManager{body: body, recordSize: recordSize, linkSize: linkSize}
}

// Allocate reserves space for count consecutive records and returns the
// starting link. It grows the body via Reserve if needed.
func (m *RecordManager) Allocate(count int) (schema.Link, error) {
	m.allocMu.Lock()
	defer m.allocMu.Unlock()

	start := m.body.Logical()
	size := uint64(count) * uint64(m.recordSize)
	end := start + size

	link := schema.Link(start)
	if !schema.FitsWidth(link, m.linkSize) || !schema.FitsWidth(schema.Link(end), m.linkSize) {
		return 0, ErrEOF
	}

	if !m.body.Reserve(end) {
		return 0, ErrClosed
	}

	m.body.SetLogical(end)
	return link, nil
}

// Get returns a handle positioned at link, spanning exactly recordSize
// bytes.
func (m *RecordManager) Get(link schema.Link) (*Accessor, error) {
	return get(m.body, link, m.recordSize)
}

// RecordSize returns the configured fixed record width in bytes.
func (m *RecordManager) RecordSize() int {
	return m.recordSize
}
