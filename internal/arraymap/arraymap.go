// Package arraymap implements the positional table spec §4.G describes:
// no bucketing, no chaining, entries addressed directly by index (fixed
// records) or by the link returned from Put (slabs).
package arraymap

import (
	"encoding/binary"

	"github.com/calvinalkan/chainstore/internal/manager"
	"github.com/calvinalkan/chainstore/internal/schema"
	"github.com/calvinalkan/chainstore/internal/storage"
)

// lengthPrefixSize mirrors internal/hashmap's choice for slab elements: a
// 4-byte length prefix makes a slab arraymap self-describing without the
// package needing per-table knowledge of element shape.
const lengthPrefixSize = 4

// Arraymap is an index-addressed (records) or link-addressed (slabs)
// positional table (spec §4.G).
type Arraymap struct {
	desc schema.Descriptor
	body *storage.Body
	rm   *manager.RecordManager // fixed-width tables only
	sm   *manager.SlabManager   // slab tables only
}

// New constructs an Arraymap over an already-created/opened body for the
// given table descriptor.
func New(desc schema.Descriptor, body *storage.Body) *Arraymap {
	a := &Arraymap{desc: desc, body: body}
	if desc.IsSlab() {
		a.sm = manager.NewSlabManager(body, desc.LinkSize)
	} else {
		a.rm = manager.NewRecordManager(body, desc.ElementSize, desc.LinkSize)
	}
	return a
}

// PutRecord appends a fixed-width element and returns its index (spec
// §4.G: "put(element) appends (records)"). It panics if this Arraymap is
// configured for slab elements - a programming error, not a data error.
func (a *Arraymap) PutRecord(element []byte) (index uint64, link schema.Link, err error) {
	if a.desc.IsSlab() {
		panic("arraymap: PutRecord called on a slab table")
	}

	link, err = a.rm.Allocate(1)
	if err != nil {
		return 0, 0, err
	}

	acc, err := a.rm.Get(link)
	if err != nil {
		return 0, 0, err
	}
	defer acc.Release()

	copy(acc.Bytes(), element)
	return uint64(link) / uint64(a.desc.ElementSize), link, nil
}

// GetIndex reads the record at logical index (index * elementSize). A read
// past the end of the table's current logical size succeeds and yields a
// valid-but-exhausted (all zero) element rather than an error (spec §8:
// "Reading a record arraymap past end returns a valid-but-exhausted
// handle whose parsed fields are the zero value"). err is non-nil only
// when index falls inside the logical size yet the element cannot be
// read - a genuine corruption, never raised for an ordinary past-end read.
func (a *Arraymap) GetIndex(index uint64) (element []byte, exhausted bool, err error) {
	if a.desc.IsSlab() {
		panic("arraymap: GetIndex called on a slab table")
	}

	offset := index * uint64(a.desc.ElementSize)
	if offset >= a.body.Logical() {
		return make([]byte, a.desc.ElementSize), true, nil
	}

	acc, getErr := a.rm.Get(schema.Link(offset))
	if getErr != nil {
		return nil, false, getErr
	}
	defer acc.Release()

	out := make([]byte, a.desc.ElementSize)
	copy(out, acc.Bytes())
	return out, false, nil
}

// Len returns the number of fixed records currently stored.
func (a *Arraymap) Len() uint64 {
	if a.desc.IsSlab() {
		panic("arraymap: Len called on a slab table")
	}
	return a.body.Logical() / uint64(a.desc.ElementSize)
}

// PopRecord removes the last fixed record by shrinking the table's logical
// size by one element width (spec §4.I: push_confirmed/push_candidate are
// a stack; pop_confirmed/pop_candidate is its inverse). The bytes
// themselves are left in place - a later PutRecord overwrites them -
// because nothing at or beyond the new logical size is ever read again
// (GetIndex already treats that region as an exhausted, all-zero record).
// Reports false if the table is already empty.
func (a *Arraymap) PopRecord() bool {
	if a.desc.IsSlab() {
		panic("arraymap: PopRecord called on a slab table")
	}
	if a.Len() == 0 {
		return false
	}
	a.body.SetLogical(a.body.Logical() - uint64(a.desc.ElementSize))
	return true
}

// PutSlab reserves bytes for a variable-width element and returns the link
// (explicit byte offset) the caller must use to read it back later (spec
// §4.G: "...or reserves bytes (slabs)").
func (a *Arraymap) PutSlab(payload []byte) (schema.Link, error) {
	if !a.desc.IsSlab() {
		panic("arraymap: PutSlab called on a record table")
	}

	link, err := a.sm.Allocate(lengthPrefixSize + len(payload))
	if err != nil {
		return 0, err
	}

	acc, err := a.sm.Get(link)
	if err != nil {
		return 0, err
	}
	defer acc.Release()

	buf := acc.Bytes()
	binary.LittleEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[lengthPrefixSize:], payload)
	return link, nil
}

// GetSlab reads the variable-width element previously written at link.
func (a *Arraymap) GetSlab(link schema.Link) ([]byte, bool) {
	if !a.desc.IsSlab() {
		panic("arraymap: GetSlab called on a record table")
	}

	acc, err := a.sm.Get(link)
	if err != nil {
		return nil, false
	}
	defer acc.Release()

	buf := acc.Bytes()
	if len(buf) < lengthPrefixSize {
		return nil, false
	}
	payloadLen := int(binary.LittleEndian.Uint32(buf))
	if len(buf) < lengthPrefixSize+payloadLen {
		return nil, false
	}

	out := make([]byte, payloadLen)
	copy(out, buf[lengthPrefixSize:lengthPrefixSize+payloadLen])
	return out, true
}
