package manager

import (
	"sync"

	"github.com/calvinalkan/chainstore/internal/schema"
	"github.com/calvinalkan/chainstore/internal/storage"
)

// SlabManager allocates variable-width byte regions over a body storage
// (spec §4.E). allocate(bytes) returns a byte offset and advances the
// logical size by bytes; get(link) returns a pointer at that offset - the
// caller's own encoding (a length-prefixed field, a fixed outer record
// referencing the slab) determines how much of the returned bytes to read.
type SlabManager struct {
	body     *storage.Body
	allocMu  sync.Mutex
	linkSize int
}

// NewSlabManager constructs a slab manager for the given body and link
// width.
func NewSlabManager(body *storage.Body, linkSize int) *SlabManager {
	return &SlabManager{body: body, linkSize: linkSize}
}

// Allocate reserves bytes of space and returns the starting link.
func (m *SlabManager) Allocate(size int) (schema.Link, error) {
	m.allocMu.Lock()
	defer m.allocMu.Unlock()

	start := m.body.Logical()
	end := start + uint64(size)

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

// Get returns a handle positioned at link, spanning from link to the end
// of the body's current mapping.
func (m *SlabManager) Get(link schema.Link) (*Accessor, error) {
	return get(m.body, link, -1)
}
