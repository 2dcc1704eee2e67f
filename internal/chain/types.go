// Package chain defines the minimal consensus-type stand-ins the query
// engine needs to exercise the catalog. Canonical Bitcoin consensus types
// and their wire serialization are an external collaborator per spec §1 -
// this package is not a consensus-faithful codec (no varint script
// lengths, no segwit marker bytes); it exists only to give query something
// concrete to build, insert, and confirm in tests (SPEC_FULL.md §14).
package chain

// Hash is a 32-byte double-SHA256-shaped identifier. Its actual hashing
// algorithm is out of scope here; callers supply it.
type Hash [32]byte

// Header is a block header.
type Header struct {
	Hash       Hash
	Version    uint32
	PrevBlock  Hash
	MerkleRoot Hash
	Time       uint32
	Bits       uint32
	Nonce      uint32
}

// Point identifies a previous output being spent: a transaction hash and
// output index.
type Point struct {
	Hash  Hash
	Index uint32
}

// Input references a previous output and carries unlocking data.
type Input struct {
	Prevout Point
	Script  []byte
	Witness [][]byte
	// Coinbase is true for the single input of a coinbase transaction,
	// whose Prevout is conventionally all-zero.
	Coinbase bool
}

// Output carries a value and a locking script.
type Output struct {
	Value  uint64
	Script []byte
}

// Tx is a transaction.
type Tx struct {
	Hash    Hash
	Inputs  []Input
	Outputs []Output
}

// Block groups a header with its transactions.
type Block struct {
	Header Header
	Txs    []Tx
}

// IsCoinbase reports whether tx is a coinbase transaction (single input
// marked Coinbase).
func (tx Tx) IsCoinbase() bool {
	return len(tx.Inputs) == 1 && tx.Inputs[0].Coinbase
}
