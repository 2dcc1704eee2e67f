package arraymap_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/chainstore/internal/arraymap"
	"github.com/calvinalkan/chainstore/internal/schema"
	"github.com/calvinalkan/chainstore/internal/storage"
)

func newBody(t *testing.T, name string) *storage.Body {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	b := storage.NewBody(50)
	require.NoError(t, b.Create(path, 8))
	t.Cleanup(func() { _ = b.Close() })
	return b
}

// TestArraymapBounds implements spec §8 end-to-end scenario 6: a record
// arraymap (record size 4) holding two records, the second past-end read
// exhausted.
func TestArraymapBounds(t *testing.T) {
	desc := schema.Descriptor{Name: "candidate", Kind: schema.Arraymap, LinkSize: 5, ElementSize: 4, Rate: 50}
	am := arraymap.New(desc, newBody(t, "index.candidate.body"))

	_, _, err := am.PutRecord([]byte{0xd4, 0xc3, 0xb2, 0xa1})
	require.NoError(t, err)
	_, _, err = am.PutRecord([]byte{0, 0, 0, 0})
	require.NoError(t, err)

	el0, exhausted, err := am.GetIndex(0)
	require.NoError(t, err)
	require.False(t, exhausted)
	require.Equal(t, []byte{0xd4, 0xc3, 0xb2, 0xa1}, el0)

	el2, exhausted, err := am.GetIndex(2)
	require.NoError(t, err)
	require.True(t, exhausted)
	require.Equal(t, []byte{0, 0, 0, 0}, el2)
}

func TestArraymapSlabPutGet(t *testing.T) {
	desc := schema.Descriptor{Name: "buffer", Kind: schema.Arraymap, LinkSize: 5, ElementSize: schema.SlabElement, Rate: 50}
	am := arraymap.New(desc, newBody(t, "cache.buffer.body"))

	link, err := am.PutSlab([]byte("variable length payload"))
	require.NoError(t, err)

	got, ok := am.GetSlab(link)
	require.True(t, ok)
	require.Equal(t, "variable length payload", string(got))
}

func TestArraymapDensePrefix(t *testing.T) {
	desc := schema.Descriptor{Name: "confirmed", Kind: schema.Arraymap, LinkSize: 5, ElementSize: 5, Rate: 50}
	am := arraymap.New(desc, newBody(t, "index.confirmed.body"))

	for i := 0; i < 5; i++ {
		idx, _, err := am.PutRecord([]byte{byte(i), 0, 0, 0, 0})
		require.NoError(t, err)
		require.EqualValues(t, i, idx)
	}

	for i := 0; i < 5; i++ {
		el, exhausted, err := am.GetIndex(uint64(i))
		require.NoError(t, err)
		require.False(t, exhausted)
		require.Equal(t, byte(i), el[0])
	}

	_, exhausted, err := am.GetIndex(5)
	require.NoError(t, err)
	require.True(t, exhausted)
}
