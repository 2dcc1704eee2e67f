// Package schema defines the fixed catalog of tables (spec §3, §4.H) as
// runtime-configured descriptors rather than compile-time generics over
// link/key/element width - the approach spec §9's design notes call for
// in a language without zero-cost generics over integer constants.
package schema

import "encoding/binary"

// Link is an address into a body file: a byte offset for hashmap and record
// tables, or index*size for arraymap tables (both end up being a byte
// offset in practice - see spec §3). All-ones within the table's configured
// link width is the reserved Terminal sentinel, "no element."
type Link uint64

// TerminalFor returns the reserved "no element" sentinel for a link field
// that is linkSize bytes wide.
func TerminalFor(linkSize int) Link {
	if linkSize >= 8 {
		return Link(^uint64(0))
	}
	return Link(uint64(1)<<(uint(linkSize)*8)) - 1
}

// FitsWidth reports whether link can be represented in linkSize bytes
// without colliding with the Terminal sentinel of that width.
func FitsWidth(link Link, linkSize int) bool {
	return link < TerminalFor(linkSize)
}

// PutLink encodes link into buf (which must be at least linkSize bytes)
// little-endian, using exactly linkSize bytes.
func PutLink(buf []byte, linkSize int, link Link) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], uint64(link))
	copy(buf[:linkSize], tmp[:linkSize])
}

// GetLink decodes a linkSize-byte little-endian link from buf.
func GetLink(buf []byte, linkSize int) Link {
	var tmp [8]byte
	copy(tmp[:linkSize], buf[:linkSize])
	return Link(binary.LittleEndian.Uint64(tmp[:]))
}
