// Package hashmap implements the chained hashmap spec §4.F describes:
// buckets live in a head file, chain nodes live in a body file, and
// selection is bucket(k) = fingerprint(k) mod bucket_count. Chains are
// singly-linked, newest-first (insertions prepend); there is no deletion,
// only masking by inserting a new entry ahead of an older one (spec §9).
package hashmap

import (
	"bytes"
	"encoding/binary"
	"hash/fnv"

	"github.com/calvinalkan/chainstore/internal/manager"
	"github.com/calvinalkan/chainstore/internal/schema"
	"github.com/calvinalkan/chainstore/internal/storage"
)

// lengthPrefixSize is the width of the explicit payload-length field a
// slab node carries immediately after its key, so that a generic hashmap
// (one that does not know any table's element shape) can still walk and
// read chains of variable-width elements. Spec §4.F leaves "length is
// implied by the writer" open-ended; this is this module's concrete
// choice of "implied."
const lengthPrefixSize = 4

// Hashmap is a keyed table: bucket array in a head file, chained entries
// in a body file (spec §4.F).
type Hashmap struct {
	head  *storage.Head
	desc  schema.Descriptor
	alloc nodeAllocator
}

// New constructs a Hashmap over an already-created/opened head and body
// pair for the given table descriptor.
func New(desc schema.Descriptor, head *storage.Head, body *storage.Body) *Hashmap {
	var alloc nodeAllocator
	if desc.IsSlab() {
		alloc = slabAdapter{manager.NewSlabManager(body, desc.LinkSize)}
	} else {
		nodeSize := desc.LinkSize + desc.KeySize + desc.ElementSize
		alloc = recordAdapter{manager.NewRecordManager(body, nodeSize, desc.LinkSize)}
	}
	return &Hashmap{head: head, desc: desc, alloc: alloc}
}

// Bucket computes bucket(k) = fingerprint(k) mod bucket_count.
func (h *Hashmap) Bucket(key []byte) uint32 {
	return uint32(fingerprint(key) % uint64(h.desc.Buckets))
}

func fingerprint(key []byte) uint64 {
	sum := fnv.New64a()
	_, _ = sum.Write(key)
	return sum.Sum64()
}

// Exists reports whether an element with key is present.
func (h *Hashmap) Exists(key []byte) bool {
	_, ok := h.Get(key)
	return ok
}

// Get finds the first element on bucket(key)'s chain whose key equals key
// and returns a copy of its payload.
func (h *Hashmap) Get(key []byte) ([]byte, bool) {
	it := h.It(key)
	payload, _, ok := it.Next()
	return payload, ok
}

// It returns a lazy forward iterator over bucket(key)'s chain, filtered to
// nodes whose key equals key.
func (h *Hashmap) It(key []byte) *Iterator {
	return &Iterator{hm: h, key: key, next: h.head.BucketSlot(h.Bucket(key))}
}

// Allocate reserves space for a node carrying a payload of payloadSize
// bytes and returns its link. The caller must subsequently call
// WriteElement and Commit.
func (h *Hashmap) Allocate(payloadSize int) (schema.Link, error) {
	return h.alloc.Allocate(h.nodeSize(payloadSize))
}

func (h *Hashmap) nodeSize(payloadSize int) int {
	n := h.desc.LinkSize + h.desc.KeySize
	if h.desc.IsSlab() {
		n += lengthPrefixSize
	}
	return n + payloadSize
}

// WriteElement writes key and payload into the node at link (previously
// obtained from Allocate). The node's next field is left zeroed; Commit
// fills it in atomically when the node is published.
func (h *Hashmap) WriteElement(link schema.Link, key, payload []byte) error {
	acc, err := h.alloc.Get(link, h.nodeSize(len(payload)))
	if err != nil {
		return err
	}
	defer acc.Release()

	buf := acc.Bytes()
	copy(buf[h.desc.LinkSize:h.desc.LinkSize+h.desc.KeySize], key)

	off := h.desc.LinkSize + h.desc.KeySize
	if h.desc.IsSlab() {
		binary.LittleEndian.PutUint32(buf[off:], uint32(len(payload)))
		off += lengthPrefixSize
	}
	copy(buf[off:], payload)
	return nil
}

// Commit publishes link as the new head of bucket(key): it writes
// link.next <- old_head, then stores link into the bucket slot. The chain
// is walkable after each individual store (spec §4.F: "order matters").
func (h *Hashmap) Commit(key []byte, link schema.Link) error {
	idx := h.Bucket(key)
	old := h.head.BucketSlot(idx)

	acc, err := h.alloc.Get(link, h.desc.LinkSize)
	if err != nil {
		return err
	}
	schema.PutLink(acc.Bytes(), h.desc.LinkSize, old)
	acc.Release()

	h.head.SetBucketSlot(idx, link)
	return nil
}

// Put allocates, writes, and commits element under key in one call.
func (h *Hashmap) Put(key, element []byte) (schema.Link, bool) {
	link, err := h.Allocate(len(element))
	if err != nil {
		return 0, false
	}
	if err := h.WriteElement(link, key, element); err != nil {
		return 0, false
	}
	if err := h.Commit(key, link); err != nil {
		return 0, false
	}
	return link, true
}

// GetAt reads the element at link directly, without a key lookup
// (positional access, spec §4.F).
func (h *Hashmap) GetAt(link schema.Link, payloadSize int) ([]byte, bool) {
	acc, err := h.alloc.Get(link, h.nodeSize(payloadSize))
	if err != nil {
		return nil, false
	}
	defer acc.Release()

	off := h.desc.LinkSize + h.desc.KeySize
	if h.desc.IsSlab() {
		off += lengthPrefixSize
	}
	out := make([]byte, payloadSize)
	copy(out, acc.Bytes()[off:off+payloadSize])
	return out, true
}

// SetAt overwrites the payload of the element at link directly, without a
// key lookup. This is a low-level positional primitive; callers expressing
// a masking update (e.g. strong_tx revocation) must use Put to append a new
// entry instead - never SetAt - so concurrent readers never see a node
// mutate out from under them (spec §9: "do not optimize this to an
// update-in-place").
func (h *Hashmap) SetAt(link schema.Link, payloadSize int, payload []byte) bool {
	acc, err := h.alloc.Get(link, h.nodeSize(payloadSize))
	if err != nil {
		return false
	}
	defer acc.Release()

	off := h.desc.LinkSize + h.desc.KeySize
	if h.desc.IsSlab() {
		off += lengthPrefixSize
	}
	copy(acc.Bytes()[off:off+payloadSize], payload)
	return true
}

// KeyAt reads a node's key region directly from its link, without already
// knowing the key - the positional counterpart to Get, needed by callers
// that only have a link (e.g. to re-derive an input's own composite key
// for a peer-spend lookup via It).
func (h *Hashmap) KeyAt(link schema.Link) ([]byte, bool) {
	acc, err := h.alloc.Get(link, h.desc.LinkSize+h.desc.KeySize)
	if err != nil {
		return nil, false
	}
	defer acc.Release()

	out := make([]byte, h.desc.KeySize)
	copy(out, acc.Bytes()[h.desc.LinkSize:h.desc.LinkSize+h.desc.KeySize])
	return out, true
}

// readNode reads the node at link, returning its payload, its next link,
// and whether its key equals key.
func (h *Hashmap) readNode(link schema.Link, key []byte) (payload []byte, next schema.Link, match bool, err error) {
	headerSize := h.desc.LinkSize + h.desc.KeySize
	if h.desc.IsSlab() {
		headerSize += lengthPrefixSize
	} else {
		headerSize += h.desc.ElementSize
	}

	acc, err := h.alloc.Get(link, headerSize)
	if err != nil {
		return nil, 0, false, err
	}
	defer acc.Release()

	buf := acc.Bytes()
	next = schema.GetLink(buf, h.desc.LinkSize)
	nodeKey := buf[h.desc.LinkSize : h.desc.LinkSize+h.desc.KeySize]
	if !bytes.Equal(nodeKey, key) {
		return nil, next, false, nil
	}

	if !h.desc.IsSlab() {
		out := make([]byte, h.desc.ElementSize)
		copy(out, buf[h.desc.LinkSize+h.desc.KeySize:])
		return out, next, true, nil
	}

	lenOff := h.desc.LinkSize + h.desc.KeySize
	payloadLen := int(binary.LittleEndian.Uint32(buf[lenOff:]))
	acc.Release()

	full, err := h.alloc.Get(link, lenOff+lengthPrefixSize+payloadLen)
	if err != nil {
		return nil, next, false, err
	}
	defer full.Release()

	out := make([]byte, payloadLen)
	copy(out, full.Bytes()[lenOff+lengthPrefixSize:])
	return out, next, true, nil
}
