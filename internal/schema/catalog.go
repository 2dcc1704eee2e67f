package schema

// Kind distinguishes the two primitive table shapes spec §2 builds the
// catalog from.
type Kind int

const (
	// Hashmap tables are keyed; see internal/hashmap.
	Hashmap Kind = iota
	// Arraymap tables are positional; see internal/arraymap.
	Arraymap
)

func (k Kind) String() string {
	switch k {
	case Hashmap:
		return "hashmap"
	case Arraymap:
		return "arraymap"
	default:
		return "unknown"
	}
}

// SlabElement marks a Descriptor whose elements are variable-width byte
// regions (spec §3: "Size == max means slab") rather than fixed records.
const SlabElement = -1

// Descriptor is the per-table configuration that spec §9's design notes
// call a "runtime-configured value carried in a per-table descriptor" in
// place of compile-time generics over link/key/element width.
type Descriptor struct {
	// Name identifies the table; also the basename of its head/body files
	// (heads/<Name> and <Name>.body, e.g. "heads/header", "header.body").
	Name string

	Kind Kind

	// LinkSize is the width in bytes of a Link field for this table (spec
	// §3: "the catalog uses 4- and 5-byte links").
	LinkSize int

	// KeySize is the width in bytes of a hashmap key. Zero for arraymap
	// tables.
	KeySize int

	// ElementSize is the fixed payload width in bytes, or SlabElement for
	// variable-width payloads.
	ElementSize int

	// Buckets is the initial bucket count for hashmap tables. Zero for
	// arraymap tables.
	Buckets uint32

	// Rate is the per-table body growth factor, a percentage applied on
	// top of the requested logical size when internal/storage.Body grows
	// (spec §4.B: "ceil(logical_size * (1 + rate/100))").
	Rate uint16
}

// Terminal returns the reserved Link sentinel for this table's link width.
func (d Descriptor) Terminal() Link {
	return TerminalFor(d.LinkSize)
}

// IsSlab reports whether this table's elements are variable-width.
func (d Descriptor) IsSlab() bool {
	return d.ElementSize == SlabElement
}

// Catalog is the fixed set of tables, one field per table, in a fixed
// dependency order - per spec §9's design note: "a generic registry would
// obscure the schema."
type Catalog struct {
	// Archives.
	Header Descriptor
	Point  Descriptor
	Input  Descriptor
	Output Descriptor
	Puts   Descriptor
	Tx     Descriptor
	Txs    Descriptor

	// Indexes.
	Address  Descriptor
	Candidate Descriptor
	Confirmed Descriptor
	StrongTx  Descriptor
	StrongBk  Descriptor // supplemental, see SPEC_FULL.md §3

	// Caches.
	Bootstrap   Descriptor
	Buffer      Descriptor
	Neutrino    Descriptor
	ValidatedBk Descriptor
	ValidatedTx Descriptor
}

const defaultRate = 50 // 50% growth headroom per reserve, as a starting default

// DefaultCatalog returns the catalog with the sizes used throughout this
// module's tests and documentation. Callers may construct their own
// Catalog literal directly; this is a convenience default, not a forced
// configuration.
func DefaultCatalog() Catalog {
	return Catalog{
		Header: Descriptor{Name: "header", Kind: Hashmap, LinkSize: 5, KeySize: 32, ElementSize: SlabElement, Buckets: 1024, Rate: defaultRate},
		Point:  Descriptor{Name: "point", Kind: Hashmap, LinkSize: 4, KeySize: 36, ElementSize: 0, Buckets: 4096, Rate: defaultRate},
		Input:  Descriptor{Name: "input", Kind: Hashmap, LinkSize: 5, KeySize: 8, ElementSize: SlabElement, Buckets: 4096, Rate: defaultRate},
		Output: Descriptor{Name: "output", Kind: Arraymap, LinkSize: 5, ElementSize: SlabElement, Rate: defaultRate},
		Puts:   Descriptor{Name: "puts", Kind: Arraymap, LinkSize: 5, ElementSize: SlabElement, Rate: defaultRate},
		Tx:     Descriptor{Name: "tx", Kind: Hashmap, LinkSize: 5, KeySize: 32, ElementSize: 5, Buckets: 4096, Rate: defaultRate},
		Txs:    Descriptor{Name: "txs", Kind: Hashmap, LinkSize: 5, KeySize: 5, ElementSize: SlabElement, Buckets: 1024, Rate: defaultRate},

		Address:   Descriptor{Name: "address", Kind: Hashmap, LinkSize: 5, KeySize: 20, ElementSize: 5, Buckets: 4096, Rate: defaultRate},
		Candidate: Descriptor{Name: "candidate", Kind: Arraymap, LinkSize: 5, ElementSize: 5, Rate: defaultRate},
		Confirmed: Descriptor{Name: "confirmed", Kind: Arraymap, LinkSize: 5, ElementSize: 5, Rate: defaultRate},
		StrongTx:  Descriptor{Name: "strong_tx", Kind: Hashmap, LinkSize: 5, KeySize: 5, ElementSize: 5, Buckets: 4096, Rate: defaultRate},
		StrongBk:  Descriptor{Name: "strong_bk", Kind: Hashmap, LinkSize: 5, KeySize: 5, ElementSize: 5, Buckets: 1024, Rate: defaultRate},

		Bootstrap:   Descriptor{Name: "bootstrap", Kind: Arraymap, LinkSize: 5, ElementSize: 32, Rate: defaultRate},
		Buffer:      Descriptor{Name: "buffer", Kind: Arraymap, LinkSize: 5, ElementSize: SlabElement, Rate: defaultRate},
		Neutrino:    Descriptor{Name: "neutrino", Kind: Arraymap, LinkSize: 5, ElementSize: SlabElement, Rate: defaultRate},
		ValidatedBk: Descriptor{Name: "validated_bk", Kind: Hashmap, LinkSize: 5, KeySize: 5, ElementSize: 1, Buckets: 1024, Rate: defaultRate},
		ValidatedTx: Descriptor{Name: "validated_tx", Kind: Hashmap, LinkSize: 5, KeySize: 5, ElementSize: 1, Buckets: 4096, Rate: defaultRate},
	}
}

// Tables returns every descriptor in the catalog's fixed dependency order:
// archives before indexes before caches, matching the order the store
// creates, verifies, and closes them in.
func (c Catalog) Tables() []Descriptor {
	return []Descriptor{
		c.Header, c.Point, c.Input, c.Output, c.Puts, c.Tx, c.Txs,
		c.Address, c.Candidate, c.Confirmed, c.StrongTx, c.StrongBk,
		c.Bootstrap, c.Buffer, c.Neutrino, c.ValidatedBk, c.ValidatedTx,
	}
}
