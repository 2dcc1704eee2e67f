package query

import (
	"encoding/binary"

	"github.com/calvinalkan/chainstore/internal/chain"
	"github.com/calvinalkan/chainstore/internal/schema"
)

// linkWidth is the byte width this package uses whenever it embeds a Link
// value inside a payload it controls (tx -> puts, input -> owning tx,
// puts -> input/output vectors, txs -> tx vector, strong_bk's value). It
// matches every table descriptor's own LinkSize in the default catalog
// except point's (see internal/schema.DefaultCatalog and pointLinkWidth),
// so a single constant suffices for every other link rather than
// threading per-table widths through every codec function.
const linkWidth = 5

// pointLinkWidth is the width used for a point_fk reference: point's own
// LinkSize in the default catalog (4 bytes), which is what input's
// composite key embeds.
const pointLinkWidth = 4

func putLink(buf []byte, link schema.Link) {
	schema.PutLink(buf, linkWidth, link)
}

func getLink(buf []byte) schema.Link {
	return schema.GetLink(buf, linkWidth)
}

// headerKey returns the hashmap key for a header: its own hash.
func headerKey(h chain.Hash) []byte {
	out := make([]byte, 32)
	copy(out, h[:])
	return out
}

// encodeHeader serializes a header's fields (everything but its own hash,
// which is the hashmap key, not part of the payload) into the 80-byte
// fixed layout this package chose. Not a consensus wire format - see
// internal/chain's package doc.
func encodeHeader(h chain.Header) []byte {
	buf := make([]byte, 80)
	binary.LittleEndian.PutUint32(buf[0:4], h.Version)
	copy(buf[4:36], h.PrevBlock[:])
	copy(buf[36:68], h.MerkleRoot[:])
	binary.LittleEndian.PutUint32(buf[68:72], h.Time)
	binary.LittleEndian.PutUint32(buf[72:76], h.Bits)
	binary.LittleEndian.PutUint32(buf[76:80], h.Nonce)
	return buf
}

func decodeHeader(hash chain.Hash, buf []byte) chain.Header {
	var h chain.Header
	h.Hash = hash
	h.Version = binary.LittleEndian.Uint32(buf[0:4])
	copy(h.PrevBlock[:], buf[4:36])
	copy(h.MerkleRoot[:], buf[36:68])
	h.Time = binary.LittleEndian.Uint32(buf[68:72])
	h.Bits = binary.LittleEndian.Uint32(buf[72:76])
	h.Nonce = binary.LittleEndian.Uint32(buf[76:80])
	return h
}

// pointKey returns the hashmap key for an outpoint: its hash and index
// concatenated, matching internal/schema.DefaultCatalog's Point.KeySize (36).
func pointKey(p chain.Point) []byte {
	out := make([]byte, 36)
	copy(out[:32], p.Hash[:])
	binary.LittleEndian.PutUint32(out[32:36], p.Index)
	return out
}

// txKey returns the hashmap key for a transaction: its own hash.
func txKey(h chain.Hash) []byte {
	out := make([]byte, 32)
	copy(out, h[:])
	return out
}

// encodeTxElement is the tx archive's fixed linkWidth-byte payload: the
// link of this transaction's puts record (grouped input/output links).
func encodeTxElement(putsLink schema.Link) []byte {
	buf := make([]byte, linkWidth)
	putLink(buf, putsLink)
	return buf
}

func decodeTxElement(buf []byte) schema.Link {
	return getLink(buf)
}

// encodeOutput serializes an output as value followed by its locking
// script - the output arraymap element is self-describing (length-prefixed
// by internal/arraymap), so no inner length field is needed here.
func encodeOutput(o chain.Output) []byte {
	buf := make([]byte, 8+len(o.Script))
	binary.LittleEndian.PutUint64(buf[0:8], o.Value)
	copy(buf[8:], o.Script)
	return buf
}

func decodeOutput(buf []byte) chain.Output {
	return chain.Output{
		Value:  binary.LittleEndian.Uint64(buf[0:8]),
		Script: append([]byte(nil), buf[8:]...),
	}
}

// inputKey returns the hashmap key for an input: the composite
// (point_fk, point_index) spec §4.I calls for, matching
// internal/schema.DefaultCatalog's Input.KeySize (8).
func inputKey(pointLink schema.Link, index uint32) []byte {
	out := make([]byte, 8)
	schema.PutLink(out[:pointLinkWidth], pointLinkWidth, pointLink)
	binary.LittleEndian.PutUint32(out[pointLinkWidth:], index)
	return out
}

// encodeInput serializes the owning tx link (so IsSpent can resolve a
// spender's strong_tx entry without a second table walk), the input's own ordinal
// within its tx, a coinbase flag, and the unlocking script/witness.
func encodeInput(ownerTx schema.Link, ordinal uint32, coinbase bool, script []byte, witness [][]byte) []byte {
	size := linkWidth + 4 + 1 + 4 + len(script) + 2
	for _, w := range witness {
		size += 4 + len(w)
	}

	buf := make([]byte, size)
	off := 0
	putLink(buf[off:], ownerTx)
	off += linkWidth
	binary.LittleEndian.PutUint32(buf[off:], ordinal)
	off += 4
	if coinbase {
		buf[off] = 1
	}
	off++
	binary.LittleEndian.PutUint32(buf[off:], uint32(len(script)))
	off += 4
	off += copy(buf[off:], script)
	binary.LittleEndian.PutUint16(buf[off:], uint16(len(witness)))
	off += 2
	for _, w := range witness {
		binary.LittleEndian.PutUint32(buf[off:], uint32(len(w)))
		off += 4
		off += copy(buf[off:], w)
	}
	return buf
}

type decodedInput struct {
	ownerTx  schema.Link
	ordinal  uint32
	coinbase bool
	script   []byte
	witness  [][]byte
}

func decodeInput(buf []byte) decodedInput {
	var d decodedInput
	off := 0
	d.ownerTx = getLink(buf[off:])
	off += linkWidth
	d.ordinal = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	d.coinbase = buf[off] != 0
	off++
	scriptLen := int(binary.LittleEndian.Uint32(buf[off:]))
	off += 4
	d.script = append([]byte(nil), buf[off:off+scriptLen]...)
	off += scriptLen
	witnessCount := int(binary.LittleEndian.Uint16(buf[off:]))
	off += 2
	d.witness = make([][]byte, witnessCount)
	for i := 0; i < witnessCount; i++ {
		wl := int(binary.LittleEndian.Uint32(buf[off:]))
		off += 4
		d.witness[i] = append([]byte(nil), buf[off:off+wl]...)
		off += wl
	}
	return d
}

// encodePuts serializes the links a transaction's puts record groups: its
// input links followed by its output links, each count-prefixed.
func encodePuts(inputLinks, outputLinks []schema.Link) []byte {
	buf := make([]byte, 2+len(inputLinks)*linkWidth+2+len(outputLinks)*linkWidth)
	off := 0
	binary.LittleEndian.PutUint16(buf[off:], uint16(len(inputLinks)))
	off += 2
	for _, l := range inputLinks {
		putLink(buf[off:], l)
		off += linkWidth
	}
	binary.LittleEndian.PutUint16(buf[off:], uint16(len(outputLinks)))
	off += 2
	for _, l := range outputLinks {
		putLink(buf[off:], l)
		off += linkWidth
	}
	return buf
}

func decodePuts(buf []byte) (inputLinks, outputLinks []schema.Link) {
	off := 0
	inputCount := int(binary.LittleEndian.Uint16(buf[off:]))
	off += 2
	inputLinks = make([]schema.Link, inputCount)
	for i := range inputLinks {
		inputLinks[i] = getLink(buf[off:])
		off += linkWidth
	}
	outputCount := int(binary.LittleEndian.Uint16(buf[off:]))
	off += 2
	outputLinks = make([]schema.Link, outputCount)
	for i := range outputLinks {
		outputLinks[i] = getLink(buf[off:])
		off += linkWidth
	}
	return inputLinks, outputLinks
}

// txsKey is the txs hashmap's key: the owning header's own link. strong_bk
// keys the same way (also keyed by header link), so headerLinkKey is an
// alias used wherever the semantics are "keyed by this header," not
// specifically by the txs table.
func txsKey(headerLink schema.Link) []byte {
	return headerLinkKey(headerLink)
}

func headerLinkKey(headerLink schema.Link) []byte {
	buf := make([]byte, linkWidth)
	putLink(buf, headerLink)
	return buf
}

func encodeTxLinks(links []schema.Link) []byte {
	buf := make([]byte, 2+len(links)*linkWidth)
	binary.LittleEndian.PutUint16(buf, uint16(len(links)))
	off := 2
	for _, l := range links {
		putLink(buf[off:], l)
		off += linkWidth
	}
	return buf
}

func decodeTxLinks(buf []byte) []schema.Link {
	count := int(binary.LittleEndian.Uint16(buf))
	out := make([]schema.Link, count)
	off := 2
	for i := range out {
		out[i] = getLink(buf[off:])
		off += linkWidth
	}
	return out
}

// strongTxKey/headerLinkElement are thin wrappers kept
// alongside the rest of the codec for symmetry, even though they are
// one-liners: every table's wire shape lives in this file.

func strongTxKey(txLink schema.Link) []byte {
	buf := make([]byte, linkWidth)
	putLink(buf, txLink)
	return buf
}

func headerLinkElement(link schema.Link) []byte {
	buf := make([]byte, linkWidth)
	putLink(buf, link)
	return buf
}
