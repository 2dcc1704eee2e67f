package hashmap

import (
	"github.com/calvinalkan/chainstore/internal/manager"
	"github.com/calvinalkan/chainstore/internal/schema"
)

// nodeAccessor is the common shape both a record and a slab accessor
// satisfy: read the bytes, release the underlying remap lock.
type nodeAccessor interface {
	Bytes() []byte
	Release()
}

// nodeAllocator is the common shape Hashmap needs from whichever
// underlying manager backs it: a record manager for fixed-size elements,
// a slab manager for variable-size ones (spec §4.E/§4.F).
type nodeAllocator interface {
	Allocate(size int) (schema.Link, error)
	Get(link schema.Link, size int) (nodeAccessor, error)
}

// recordAdapter backs a Hashmap whose elements are fixed-width records.
// The configured record size already equals the full node size, so the
// size argument is ignored: Allocate takes one record and Get returns the
// whole record.
type recordAdapter struct {
	rm *manager.RecordManager
}

func (a recordAdapter) Allocate(size int) (schema.Link, error) {
	return a.rm.Allocate(1)
}

func (a recordAdapter) Get(link schema.Link, size int) (nodeAccessor, error) {
	return a.rm.Get(link)
}

// slabAdapter backs a Hashmap whose elements are variable-width slabs.
type slabAdapter struct {
	sm *manager.SlabManager
}

func (a slabAdapter) Allocate(size int) (schema.Link, error) {
	return a.sm.Allocate(size)
}

func (a slabAdapter) Get(link schema.Link, size int) (nodeAccessor, error) {
	acc, err := a.sm.Get(link)
	if err != nil {
		return nil, err
	}
	if len(acc.Bytes()) < size {
		acc.Release()
		return nil, manager.ErrCorrupt
	}
	return &truncatedAccessor{Accessor: acc, size: size}, nil
}

// truncatedAccessor narrows a slab manager's to-end-of-body accessor down
// to the exact size the caller asked for, so Hashmap code can treat both
// adapters identically.
type truncatedAccessor struct {
	*manager.Accessor
	size int
}

func (t *truncatedAccessor) Bytes() []byte {
	return t.Accessor.Bytes()[:t.size]
}
