// Package query implements the confirmation engine spec §4.I describes on
// top of the catalog store.Store assembles: inserting headers/points/
// inputs/outputs/transactions/blocks, tracking which transactions are
// "strong" (belong to a block on the currently-strong chain), and
// maintaining the candidate/confirmed height-indexed chains. It is the one
// package in this module with domain knowledge of Bitcoin's shape; every
// table underneath it is opaque key/value storage.
package query

import (
	"encoding/binary"
	"fmt"

	"github.com/calvinalkan/chainstore/internal/chain"
	"github.com/calvinalkan/chainstore/internal/schema"
	"github.com/calvinalkan/chainstore/store"
	"github.com/calvinalkan/chainstore/store/storeerr"
)

// Query is the confirmation engine. It holds no state of its own beyond a
// reference to the store and its transactor; every method is a sequence of
// table operations, safe to call concurrently with other Query methods
// (read paths take no lock; write paths serialize through the store's
// Transactor for their duration, per spec §5).
type Query struct {
	db *store.Store
	tr *store.Transactor
}

// New constructs a Query over an already-created/opened Store.
func New(db *store.Store) *Query {
	return &Query{db: db, tr: db.GetTransactor()}
}

// SetHeader inserts a header if absent and returns its link. Idempotent:
// inserting the same hash twice returns the existing link both times.
func (q *Query) SetHeader(h chain.Header) (schema.Link, error) {
	q.tr.Lock()
	defer q.tr.Unlock()
	return q.setHeaderLocked(h)
}

func (q *Query) setHeaderLocked(h chain.Header) (schema.Link, error) {
	key := headerKey(h.Hash)
	if _, link, ok := q.headerLookup(key); ok {
		return link, nil
	}
	link, ok := q.db.Header.Put(key, encodeHeader(h))
	if !ok {
		return 0, storeerr.New("query.SetHeader", storeerr.CodeCreateTable, fmt.Errorf("header %x", h.Hash))
	}
	return link, nil
}

// headerLookup returns the payload, link, and presence of a header by hash.
// Unlike Hashmap.Get, it also surfaces the link, which Query's callers need
// far more often than the raw payload.
func (q *Query) headerLookup(key []byte) ([]byte, schema.Link, bool) {
	it := q.db.Header.It(key)
	return it.Next()
}

// SetTx inserts a transaction (and its inputs, outputs and puts record) if
// absent and returns its link.
func (q *Query) SetTx(tx chain.Tx) (schema.Link, error) {
	q.tr.Lock()
	defer q.tr.Unlock()
	return q.setTxLocked(tx)
}

func (q *Query) setTxLocked(tx chain.Tx) (schema.Link, error) {
	key := txKey(tx.Hash)
	if _, link, ok := q.txLookup(key); ok {
		return link, nil
	}

	txLink, err := q.db.Tx.Allocate(linkWidth)
	if err != nil {
		return 0, storeerr.New("query.SetTx", storeerr.CodeCreateTable, err)
	}

	outputLinks := make([]schema.Link, len(tx.Outputs))
	for i, out := range tx.Outputs {
		link, err := q.db.Output.PutSlab(encodeOutput(out))
		if err != nil {
			return 0, storeerr.New("query.SetTx", storeerr.CodeCreateTable, err)
		}
		outputLinks[i] = link
	}

	inputLinks := make([]schema.Link, len(tx.Inputs))
	for i, in := range tx.Inputs {
		pointLink, err := q.setPointLocked(in.Prevout)
		if err != nil {
			return 0, err
		}
		ik := inputKey(pointLink, in.Prevout.Index)
		payload := encodeInput(txLink, uint32(i), in.Coinbase, in.Script, in.Witness)
		link, ok := q.db.Input.Put(ik, payload)
		if !ok {
			return 0, storeerr.New("query.SetTx", storeerr.CodeCreateTable, fmt.Errorf("input %d of tx %x", i, tx.Hash))
		}
		inputLinks[i] = link
	}

	putsLink, err := q.db.Puts.PutSlab(encodePuts(inputLinks, outputLinks))
	if err != nil {
		return 0, storeerr.New("query.SetTx", storeerr.CodeCreateTable, err)
	}

	if err := q.db.Tx.WriteElement(txLink, key, encodeTxElement(putsLink)); err != nil {
		return 0, storeerr.New("query.SetTx", storeerr.CodeCreateTable, err)
	}
	if err := q.db.Tx.Commit(key, txLink); err != nil {
		return 0, storeerr.New("query.SetTx", storeerr.CodeCreateTable, err)
	}

	return txLink, nil
}

func (q *Query) txLookup(key []byte) ([]byte, schema.Link, bool) {
	it := q.db.Tx.It(key)
	return it.Next()
}

// setPointLocked de-duplicates outpoints: many inputs across many
// transactions can spend from the same previous output only once each
// (double spends share the key, not the point), but the point table itself
// is a pure identity/existence anchor (spec §3: Point.ElementSize == 0) -
// inserting the same (hash, index) twice returns the same link.
func (q *Query) setPointLocked(p chain.Point) (schema.Link, error) {
	key := pointKey(p)
	it := q.db.Point.It(key)
	if _, link, ok := it.Next(); ok {
		return link, nil
	}
	link, ok := q.db.Point.Put(key, nil)
	if !ok {
		return 0, storeerr.New("query.setPoint", storeerr.CodeCreateTable, fmt.Errorf("point %x:%d", p.Hash, p.Index))
	}
	return link, nil
}

// ToPoint resolves a point link back to the (hash, index) outpoint it
// identifies, via Hashmap.KeyAt - the point table's key is the outpoint
// itself, so no payload round-trip is needed.
func (q *Query) ToPoint(link schema.Link) (chain.Point, bool) {
	key, ok := q.db.Point.KeyAt(link)
	if !ok {
		return chain.Point{}, false
	}
	var p chain.Point
	copy(p.Hash[:], key[:32])
	p.Index = binary.LittleEndian.Uint32(key[32:36])
	return p, true
}

// SetBlock inserts a header and all of its transactions, records the
// tx-link vector against the header in the txs table, and returns the
// header's link. It does not mark anything strong or candidate/confirmed -
// that is SetStrong/PushCandidate/PushConfirmed's job (spec §4.I: blocks
// arrive "associated" before they are ever strong).
func (q *Query) SetBlock(b chain.Block) (schema.Link, error) {
	q.tr.Lock()
	defer q.tr.Unlock()

	headerLink, err := q.setHeaderLocked(b.Header)
	if err != nil {
		return 0, err
	}

	txLinks := make([]schema.Link, len(b.Txs))
	for i, tx := range b.Txs {
		link, err := q.setTxLocked(tx)
		if err != nil {
			return 0, err
		}
		txLinks[i] = link
	}

	tk := txsKey(headerLink)
	if !q.db.Txs.Exists(tk) {
		if _, ok := q.db.Txs.Put(tk, encodeTxLinks(txLinks)); !ok {
			return 0, storeerr.New("query.SetBlock", storeerr.CodeCreateTable, fmt.Errorf("txs for header %x", b.Header.Hash))
		}
	}

	return headerLink, nil
}

// IsAssociated reports whether a header has a recorded tx-link vector (spec
// §4.I's "associated" state: header and its transactions are stored, but
// the block carries no strength or chain position yet).
func (q *Query) IsAssociated(headerLink schema.Link) bool {
	return q.db.Txs.Exists(txsKey(headerLink))
}

// GetHeader resolves a header by its own hash.
func (q *Query) GetHeader(hash chain.Hash) (chain.Header, schema.Link, bool) {
	payload, link, ok := q.headerLookup(headerKey(hash))
	if !ok {
		return chain.Header{}, 0, false
	}
	return decodeHeader(hash, payload), link, true
}

// headerPayloadSize is the fixed width this package's encodeHeader always
// produces. The header table is declared a slab (schema.SlabElement, spec
// §3) since the catalog has no notion of "this slab table happens to
// always write a fixed length," but knowing our own encoding is fixed lets
// ToHeader read positionally by link via Hashmap.GetAt instead of
// requiring the caller already know the hash.
const headerPayloadSize = 80

// ToHeader resolves a header by link: its hash comes from the node's own
// key region, its remaining fields from the payload.
func (q *Query) ToHeader(link schema.Link) (chain.Header, bool) {
	key, ok := q.db.Header.KeyAt(link)
	if !ok {
		return chain.Header{}, false
	}
	payload, ok := q.db.Header.GetAt(link, headerPayloadSize)
	if !ok {
		return chain.Header{}, false
	}
	var hash chain.Hash
	copy(hash[:], key)
	return decodeHeader(hash, payload), true
}

// txLinksOf returns the ordered transaction links recorded for headerLink.
func (q *Query) txLinksOf(headerLink schema.Link) ([]schema.Link, bool) {
	payload, ok := q.db.Txs.Get(txsKey(headerLink))
	if !ok {
		return nil, false
	}
	return decodeTxLinks(payload), true
}

// GetBlock reassembles a full block by header hash: its header, its
// transactions, and each transaction's inputs/outputs.
func (q *Query) GetBlock(hash chain.Hash) (chain.Block, bool) {
	header, headerLink, ok := q.GetHeader(hash)
	if !ok {
		return chain.Block{}, false
	}

	txLinks, ok := q.txLinksOf(headerLink)
	if !ok {
		return chain.Block{}, false
	}

	block := chain.Block{Header: header}
	for _, txLink := range txLinks {
		tx, ok := q.ToTx(txLink)
		if !ok {
			return chain.Block{}, false
		}
		block.Txs = append(block.Txs, tx)
	}
	return block, true
}

// GetTx resolves a transaction by its own hash and reassembles it.
func (q *Query) GetTx(hash chain.Hash) (chain.Tx, bool) {
	_, link, ok := q.txLookup(txKey(hash))
	if !ok {
		return chain.Tx{}, false
	}
	return q.ToTx(link)
}

// InputsOf returns the input links recorded for the transaction with the
// given hash, in the order SetTx inserted them - the positional
// counterpart to GetTx's decoded chain.Input values, needed by callers
// (e.g. IsStrong, IsSpent, IsMature) that operate on links rather than
// decoded values.
func (q *Query) InputsOf(hash chain.Hash) ([]schema.Link, bool) {
	_, link, ok := q.txLookup(txKey(hash))
	if !ok {
		return nil, false
	}
	return q.inputLinksOf(link)
}

// ToTx reassembles a transaction from its link: its puts record gives the
// ordered input/output links, which are read back and decoded.
func (q *Query) ToTx(txLink schema.Link) (chain.Tx, bool) {
	payload, ok := q.db.Tx.GetAt(txLink, linkWidth)
	if !ok {
		return chain.Tx{}, false
	}
	putsLink := decodeTxElement(payload)

	putsPayload, ok := q.db.Puts.GetSlab(putsLink)
	if !ok {
		return chain.Tx{}, false
	}
	inputLinks, outputLinks := decodePuts(putsPayload)

	var tx chain.Tx
	for _, il := range inputLinks {
		in, ok := q.toInput(il)
		if !ok {
			return chain.Tx{}, false
		}
		tx.Inputs = append(tx.Inputs, in)
	}
	for _, ol := range outputLinks {
		buf, ok := q.db.Output.GetSlab(ol)
		if !ok {
			return chain.Tx{}, false
		}
		tx.Outputs = append(tx.Outputs, decodeOutput(buf))
	}
	return tx, true
}

// ToInput resolves a single input by its own link.
func (q *Query) ToInput(link schema.Link) (chain.Input, bool) {
	return q.toInput(link)
}

// ToOutput resolves a single output by its own link.
func (q *Query) ToOutput(link schema.Link) (chain.Output, bool) {
	buf, ok := q.db.Output.GetSlab(link)
	if !ok {
		return chain.Output{}, false
	}
	return decodeOutput(buf), true
}

func (q *Query) toInput(link schema.Link) (chain.Input, bool) {
	key, ok := q.db.Input.KeyAt(link)
	if !ok {
		return chain.Input{}, false
	}
	payload, ok := q.inputPayload(link, key)
	if !ok {
		return chain.Input{}, false
	}
	d := decodeInput(payload)

	pointLink := schema.GetLink(key[:pointLinkWidth], pointLinkWidth)
	prevout, ok := q.ToPoint(pointLink)
	if !ok {
		return chain.Input{}, false
	}

	return chain.Input{
		Prevout:  prevout,
		Script:   d.script,
		Witness:  d.witness,
		Coinbase: d.coinbase,
	}, true
}

// inputPayload reads an input's full payload at link via its own key,
// since Hashmap's positional GetAt requires a known payload size that a
// bare slab link does not carry - It(key) re-walks this node's bucket
// chain, filtered to its key, until it reaches link, which is wasteful but
// correct. It is reached through toInput, which serves read-side
// reconstruction (GetBlock/ToTx/ToInput) and IsStrong/IsMature.
func (q *Query) inputPayload(link schema.Link, key []byte) ([]byte, bool) {
	it := q.db.Input.It(key)
	for {
		payload, l, ok := it.Next()
		if !ok {
			return nil, false
		}
		if l == link {
			return payload, true
		}
	}
}
