// Package manager implements the two allocation primitives spec §4.E
// builds over body storage: a fixed-width record manager and a
// variable-width slab manager. Both turn a raw growable mapping into an
// addressable allocator; internal/hashmap and internal/arraymap turn that
// allocator into associative or positional tables.
package manager

import (
	"errors"

	"github.com/calvinalkan/chainstore/internal/schema"
	"github.com/calvinalkan/chainstore/internal/storage"
)

// ErrEOF is returned when an allocation would overflow the table's link
// width (spec §4.E: "eof is returned when the requested size would
// overflow the link type").
var ErrEOF = errors.New("manager: eof")

// ErrClosed is returned when the underlying body storage is not mapped.
var ErrClosed = errors.New("manager: closed")

// ErrCorrupt is returned when a link does not address a region fully
// contained in the body's current mapping (spec §3's link-validity
// invariant).
var ErrCorrupt = errors.New("manager: corrupt link")

// Accessor is a scoped handle onto a single element's bytes within a body
// file, positioned at link's offset. Release must be called exactly once,
// typically via defer.
type Accessor struct {
	base *storage.Accessor
	data []byte
}

// Bytes returns the element's bytes (exactly the configured record size,
// for a record manager; from the link's offset to the end of the mapped
// region, for a slab manager - the caller's self-describing encoding
// determines the real length).
func (a *Accessor) Bytes() []byte {
	return a.data
}

// Release releases the shared remap lock the accessor was holding.
func (a *Accessor) Release() {
	a.base.Release()
}

func get(body *storage.Body, link schema.Link, length int) (*Accessor, error) {
	base, ok := body.Access()
	if !ok {
		return nil, ErrClosed
	}

	off := uint64(link)
	data := base.Bytes()

	if length >= 0 {
		end := off + uint64(length)
		if end > uint64(len(data)) {
			base.Release()
			body.LogCorrupt(off, "fixed-width record end exceeds mapped region")
			return nil, ErrCorrupt
		}
		return &Accessor{base: base, data: data[off:end]}, nil
	}

	if off > uint64(len(data)) {
		base.Release()
		body.LogCorrupt(off, "slab start exceeds mapped region")
		return nil, ErrCorrupt
	}
	return &Accessor{base: base, data: data[off:]}, nil
}
