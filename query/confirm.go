package query

import (
	"fmt"

	"github.com/calvinalkan/chainstore/internal/chain"
	"github.com/calvinalkan/chainstore/internal/schema"
	"github.com/calvinalkan/chainstore/store/storeerr"
)

// coinbaseMaturity is the number of confirmations a coinbase output must
// accumulate before it can be spent (spec §4.I: "require
// spender_height >= prevout_height + coinbase_maturity (100)").
const coinbaseMaturity = 100

// SetStrong marks every transaction in headerLink's block as belonging to
// the strong chain: strong_tx[tx_link] <- header_link for each of the
// block's transactions, and strong_bk[header_link] <- header_link itself
// (spec §4.I). headerLink must already be associated (SetBlock called for
// it); returns false if it is not.
func (q *Query) SetStrong(headerLink schema.Link) (bool, error) {
	q.tr.Lock()
	defer q.tr.Unlock()

	txLinks, ok := q.txLinksOf(headerLink)
	if !ok {
		return false, nil
	}

	for _, txLink := range txLinks {
		if _, ok := q.db.StrongTx.Put(strongTxKey(txLink), headerLinkElement(headerLink)); !ok {
			return false, storeerr.New("query.SetStrong", storeerr.CodeCreateTable, fmt.Errorf("tx %d", txLink))
		}
	}
	if _, ok := q.db.StrongBk.Put(headerLinkKey(headerLink), headerLinkElement(headerLink)); !ok {
		return false, storeerr.New("query.SetStrong", storeerr.CodeCreateTable, fmt.Errorf("header %d", headerLink))
	}
	return true, nil
}

// SetUnstrong is SetStrong's inverse: it masks every affected strong_tx
// entry (and strong_bk's own entry) with a terminal value, rather than
// deleting anything - masking by appending a newer entry is this catalog's
// only mutation primitive (spec §9).
func (q *Query) SetUnstrong(headerLink schema.Link) (bool, error) {
	q.tr.Lock()
	defer q.tr.Unlock()

	txLinks, ok := q.txLinksOf(headerLink)
	if !ok {
		return false, nil
	}

	term := terminalElement()

	for _, txLink := range txLinks {
		if _, ok := q.db.StrongTx.Put(strongTxKey(txLink), term); !ok {
			return false, storeerr.New("query.SetUnstrong", storeerr.CodeCreateTable, fmt.Errorf("tx %d", txLink))
		}
	}
	if _, ok := q.db.StrongBk.Put(headerLinkKey(headerLink), term); !ok {
		return false, storeerr.New("query.SetUnstrong", storeerr.CodeCreateTable, fmt.Errorf("header %d", headerLink))
	}
	return true, nil
}

func terminalElement() []byte {
	buf := make([]byte, linkWidth)
	putLink(buf, schema.TerminalFor(linkWidth))
	return buf
}

// IsStrong reports whether the previous output inputLink references is
// currently strong: it resolves the input to its Prevout, then to the
// transaction that created that output (the same prevout-tx resolution
// IsMature uses), and checks strong_tx's newest entry for that
// transaction - not for the transaction inputLink itself belongs to.
func (q *Query) IsStrong(inputLink schema.Link) bool {
	in, ok := q.toInput(inputLink)
	if !ok {
		return false
	}
	_, prevoutTxLink, ok := q.txLookup(txKey(in.Prevout.Hash))
	if !ok {
		return false
	}
	return q.txIsStrong(prevoutTxLink)
}

func (q *Query) txIsStrong(txLink schema.Link) bool {
	val, ok := q.db.StrongTx.Get(strongTxKey(txLink))
	if !ok {
		return false
	}
	return getLink(val) != schema.TerminalFor(linkWidth)
}

// IsSpent reports whether a different, already-strong input than
// inputLink claims the same previous output - the double-spend-conflict
// check spec §4.I describes: "enumerate all inputs whose search key
// equals this input's composite key via hashmap iterator."
func (q *Query) IsSpent(inputLink schema.Link) bool {
	key, ok := q.db.Input.KeyAt(inputLink)
	if !ok {
		return false
	}

	it := q.db.Input.It(key)
	for {
		payload, link, ok := it.Next()
		if !ok {
			return false
		}
		if link == inputLink {
			continue
		}
		d := decodeInput(payload)
		if d.coinbase {
			// A coinbase input's all-zero prevout claims no real output.
			continue
		}
		if q.txIsStrong(d.ownerTx) {
			return true
		}
	}
}

// IsMature resolves an input to the previous output it spends and reports
// whether that output may be spent at spenderHeight: always true for a
// coinbase input, and for a non-coinbase prevout true unconditionally; a
// coinbase prevout is mature only once spenderHeight reaches its
// confirmed height plus coinbaseMaturity (spec §4.I).
func (q *Query) IsMature(inputLink schema.Link, spenderHeight uint32) bool {
	in, ok := q.toInput(inputLink)
	if !ok {
		return false
	}
	if in.Coinbase {
		return true
	}

	_, prevoutTxLink, ok := q.txLookup(txKey(in.Prevout.Hash))
	if !ok {
		return false
	}

	if !q.isCoinbaseTx(prevoutTxLink) {
		return true
	}

	headerLink, ok := q.strongHeaderOf(prevoutTxLink)
	if !ok {
		return false
	}
	height, ok := q.heightOfConfirmed(headerLink)
	if !ok {
		return false
	}
	return uint64(spenderHeight) >= height+coinbaseMaturity
}

// IsEverStrong reports whether headerLink's block has ever been marked
// strong, answered from strong_bk's entries for headerLink (any
// non-terminal one; the terminal entries SetUnstrong writes do not count)
// rather than by walking txs and strong_tx for each of the block's
// transactions (SPEC_FULL.md §3's rationale for carrying the strong_bk
// supplement at all).
func (q *Query) IsEverStrong(headerLink schema.Link) bool {
	it := q.db.StrongBk.It(headerLinkKey(headerLink))
	for {
		val, _, ok := it.Next()
		if !ok {
			return false
		}
		if getLink(val) != schema.TerminalFor(linkWidth) {
			return true
		}
	}
}

// strongHeaderOf returns the header that currently makes txLink strong.
func (q *Query) strongHeaderOf(txLink schema.Link) (schema.Link, bool) {
	val, ok := q.db.StrongTx.Get(strongTxKey(txLink))
	if !ok {
		return 0, false
	}
	link := getLink(val)
	if link == schema.TerminalFor(linkWidth) {
		return 0, false
	}
	return link, true
}

// isCoinbaseTx reports whether txLink's first (and only) input is marked
// coinbase.
func (q *Query) isCoinbaseTx(txLink schema.Link) bool {
	tx, ok := q.ToTx(txLink)
	if !ok {
		return false
	}
	return tx.IsCoinbase()
}

// heightOfConfirmed returns the height at which headerLink appears in the
// confirmed chain, scanning from genesis. The confirmed chain is expected
// to be short enough in practice (bounded by the number of blocks a single
// store instance tracks) that a linear scan is adequate; spec §4.I does not
// call for a dedicated reverse index.
func (q *Query) heightOfConfirmed(headerLink schema.Link) (uint64, bool) {
	return q.heightOf(q.db.Confirmed, headerLink)
}

func (q *Query) heightOf(table interface {
	GetIndex(uint64) ([]byte, bool, error)
}, headerLink schema.Link) (uint64, bool) {
	for h := uint64(0); ; h++ {
		element, exhausted, err := table.GetIndex(h)
		if err != nil || exhausted {
			return 0, false
		}
		if getLink(element) == headerLink {
			return h, true
		}
	}
}

// IsConfirmableBlock reports whether every input of every non-coinbase
// transaction in headerLink's block references a mature, unspent output
// at the given prospective height (spec §4.I).
func (q *Query) IsConfirmableBlock(headerLink schema.Link, height uint32) bool {
	txLinks, ok := q.txLinksOf(headerLink)
	if !ok {
		return false
	}

	for _, txLink := range txLinks {
		tx, ok := q.ToTx(txLink)
		if !ok {
			return false
		}
		if tx.IsCoinbase() {
			continue
		}

		inputLinks, ok := q.inputLinksOf(txLink)
		if !ok {
			return false
		}
		for _, il := range inputLinks {
			if !q.IsMature(il, height) || q.IsSpent(il) {
				return false
			}
		}
	}
	return true
}

func (q *Query) inputLinksOf(txLink schema.Link) ([]schema.Link, bool) {
	payload, ok := q.db.Tx.GetAt(txLink, linkWidth)
	if !ok {
		return nil, false
	}
	putsLink := decodeTxElement(payload)
	putsPayload, ok := q.db.Puts.GetSlab(putsLink)
	if !ok {
		return nil, false
	}
	inputLinks, _ := decodePuts(putsPayload)
	return inputLinks, true
}

// PushCandidate appends headerLink to the candidate chain at the next
// height (spec §4.I: "push_candidate/pop_candidate maintain a stack
// indexed by height").
func (q *Query) PushCandidate(headerLink schema.Link) (uint64, error) {
	q.tr.Lock()
	defer q.tr.Unlock()
	return q.push(q.db.Candidate, headerLink)
}

// PopCandidate removes the topmost candidate entry. ok is false if the
// candidate chain is already empty.
func (q *Query) PopCandidate() (bool, error) {
	q.tr.Lock()
	defer q.tr.Unlock()
	return q.db.Candidate.PopRecord(), nil
}

// PushConfirmed appends headerLink to the confirmed chain at the next
// height.
func (q *Query) PushConfirmed(headerLink schema.Link) (uint64, error) {
	q.tr.Lock()
	defer q.tr.Unlock()
	return q.push(q.db.Confirmed, headerLink)
}

// PopConfirmed removes the topmost confirmed entry. ok is false if the
// confirmed chain is already empty.
func (q *Query) PopConfirmed() (bool, error) {
	q.tr.Lock()
	defer q.tr.Unlock()
	return q.db.Confirmed.PopRecord(), nil
}

func (q *Query) push(table interface {
	PutRecord([]byte) (uint64, schema.Link, error)
}, headerLink schema.Link) (uint64, error) {
	index, _, err := table.PutRecord(headerLinkElement(headerLink))
	if err != nil {
		return 0, storeerr.New("query.push", storeerr.CodeCreateTable, err)
	}
	return index, nil
}

// ToCandidate resolves the header link recorded at a candidate-chain
// height.
func (q *Query) ToCandidate(height uint64) (schema.Link, bool) {
	return q.toHeightLink(q.db.Candidate, height)
}

// ToConfirmed resolves the header link recorded at a confirmed-chain
// height.
func (q *Query) ToConfirmed(height uint64) (schema.Link, bool) {
	return q.toHeightLink(q.db.Confirmed, height)
}

func (q *Query) toHeightLink(table interface {
	GetIndex(uint64) ([]byte, bool, error)
}, height uint64) (schema.Link, bool) {
	element, exhausted, err := table.GetIndex(height)
	if err != nil || exhausted {
		return 0, false
	}
	return getLink(element), true
}

// ToStrongBy returns the header that currently makes txLink strong, or
// false if txLink is not (or is no longer) strong.
func (q *Query) ToStrongBy(txLink schema.Link) (schema.Link, bool) {
	return q.strongHeaderOf(txLink)
}

// ToSpenders enumerates every input currently recorded against the same
// previous output as inputLink, including inputLink itself.
func (q *Query) ToSpenders(inputLink schema.Link) ([]chain.Input, error) {
	key, ok := q.db.Input.KeyAt(inputLink)
	if !ok {
		return nil, storeerr.New("query.ToSpenders", storeerr.CodeCorrupt, fmt.Errorf("input %d", inputLink))
	}

	var out []chain.Input
	it := q.db.Input.It(key)
	for {
		payload, _, ok := it.Next()
		if !ok {
			return out, nil
		}
		d := decodeInput(payload)
		out = append(out, chain.Input{
			Script:   d.script,
			Witness:  d.witness,
			Coinbase: d.coinbase,
		})
	}
}
