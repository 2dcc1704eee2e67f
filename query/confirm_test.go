package query_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/chainstore/internal/chain"
	"github.com/calvinalkan/chainstore/internal/schema"
	"github.com/calvinalkan/chainstore/query"
)

// prevoutOf is a convenience previous-output an input can reference.
func prevoutOf(tx chain.Tx, index uint32) chain.Point {
	return chain.Point{Hash: tx.Hash, Index: index}
}

func onlyInputLink(t *testing.T, q *query.Query, txHash chain.Hash) schema.Link {
	t.Helper()
	links, ok := q.InputsOf(txHash)
	require.True(t, ok)
	require.Len(t, links, 1)
	return links[0]
}

// TestSetStrongRequiresAssociation covers spec §8's "Calling set_strong on
// an unassociated header (no txs entry) returns false" invariant.
func TestSetStrongRequiresAssociation(t *testing.T) {
	q, _ := newQuery(t)

	ok, err := q.SetStrong(999999)
	require.NoError(t, err)
	require.False(t, ok)
}

// TestDoubleSpendConfirmation implements spec §8 end-to-end scenario 3:
// two competing spenders of the same previous output; is_spent reports
// true for whichever spender is not the one currently strong.
func TestDoubleSpendConfirmation(t *testing.T) {
	q, _ := newQuery(t)

	genesis := chain.Block{Header: header(0, chain.Hash{}), Txs: []chain.Tx{coinbaseTx(0, 1000, nil)}}
	genesisLink, err := q.SetBlock(genesis)
	require.NoError(t, err)
	_, err = q.SetStrong(genesisLink)
	require.NoError(t, err)

	prevout := prevoutOf(genesis.Txs[0], 0)

	spendA := chain.Block{Header: header(1, genesis.Header.Hash), Txs: []chain.Tx{spendTx(10, prevout, 900)}}
	spendB := chain.Block{Header: header(2, genesis.Header.Hash), Txs: []chain.Tx{spendTx(20, prevout, 900)}}

	linkA, err := q.SetBlock(spendA)
	require.NoError(t, err)
	linkB, err := q.SetBlock(spendB)
	require.NoError(t, err)

	inputA := onlyInputLink(t, q, spendA.Txs[0].Hash)
	inputB := onlyInputLink(t, q, spendB.Txs[0].Hash)

	// Both spenders reference the same already-strong prevout (genesis):
	// is_strong answers whether the output being spent is strong, not
	// whether either particular spender is - so both report true here,
	// before either spender itself is ever marked strong.
	require.True(t, q.IsStrong(inputA))
	require.True(t, q.IsStrong(inputB))

	// Neither spender is strong yet: neither is reported spent.
	require.False(t, q.IsSpent(inputA))
	require.False(t, q.IsSpent(inputB))

	strong, err := q.SetStrong(linkA)
	require.NoError(t, err)
	require.True(t, strong)

	// A is the strong spender: B conflicts with a strong entry (spent), A
	// itself has no strong competitor (not spent).
	require.False(t, q.IsSpent(inputA))
	require.True(t, q.IsSpent(inputB))

	unstrong, err := q.SetUnstrong(linkA)
	require.NoError(t, err)
	require.True(t, unstrong)

	strong, err = q.SetStrong(linkB)
	require.NoError(t, err)
	require.True(t, strong)

	require.True(t, q.IsSpent(inputA))
	require.False(t, q.IsSpent(inputB))

	// Unstrong the prevout's own block: is_strong now reports false for
	// both spenders, since the output they reference is no longer part of
	// the strong chain at all - regardless of which of them is currently
	// the winning spender.
	unstrongGenesis, err := q.SetUnstrong(genesisLink)
	require.NoError(t, err)
	require.True(t, unstrongGenesis)
	require.False(t, q.IsStrong(inputA))
	require.False(t, q.IsStrong(inputB))
}

// TestCoinbaseMaturity implements spec §8 end-to-end scenario 4.
func TestCoinbaseMaturity(t *testing.T) {
	q, _ := newQuery(t)

	genesis := chain.Block{Header: header(0, chain.Hash{}), Txs: []chain.Tx{coinbaseTx(0, 1, nil)}}
	genesisLink, err := q.SetBlock(genesis)
	require.NoError(t, err)
	_, err = q.SetStrong(genesisLink)
	require.NoError(t, err)
	_, err = q.PushConfirmed(genesisLink)
	require.NoError(t, err)

	block1b := chain.Block{
		Header: header(1, genesis.Header.Hash),
		Txs:    []chain.Tx{coinbaseTx(1, 5000000000, []byte("block1b-coinbase"))},
	}
	link1b, err := q.SetBlock(block1b)
	require.NoError(t, err)
	_, err = q.SetStrong(link1b)
	require.NoError(t, err)
	_, err = q.PushConfirmed(link1b)
	require.NoError(t, err)

	prevout := prevoutOf(block1b.Txs[0], 0)
	tx2b := spendTx(2, prevout, 4999999000)
	_, err = q.SetTx(tx2b)
	require.NoError(t, err)

	input := onlyInputLink(t, q, tx2b.Hash)

	require.False(t, q.IsMature(input, 100))
	require.True(t, q.IsMature(input, 101))
}

// TestIsEverStrong covers strong_bk's whole reason for existing: answering
// "has this block ever been marked strong" without walking txs/strong_tx,
// and that the answer survives a later SetUnstrong (strong_bk records
// history, not current strength).
func TestIsEverStrong(t *testing.T) {
	q, _ := newQuery(t)

	genesis := chain.Block{Header: header(0, chain.Hash{}), Txs: []chain.Tx{coinbaseTx(0, 1, nil)}}
	genesisLink, err := q.SetBlock(genesis)
	require.NoError(t, err)

	require.False(t, q.IsEverStrong(genesisLink))

	_, err = q.SetStrong(genesisLink)
	require.NoError(t, err)
	require.True(t, q.IsEverStrong(genesisLink))

	_, err = q.SetUnstrong(genesisLink)
	require.NoError(t, err)
	require.True(t, q.IsEverStrong(genesisLink), "strong_bk records that the block was once strong, not its current strength")
}
