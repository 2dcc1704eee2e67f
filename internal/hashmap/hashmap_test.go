package hashmap_test

import (
	"encoding/hex"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/chainstore/internal/hashmap"
	"github.com/calvinalkan/chainstore/internal/schema"
	"github.com/calvinalkan/chainstore/internal/storage"
)

func newHashmap(t *testing.T, desc schema.Descriptor) *hashmap.Hashmap {
	t.Helper()
	dir := t.TempDir()

	head := storage.NewHead(desc.LinkSize, desc.Buckets)
	require.NoError(t, head.Create(filepath.Join(dir, "heads", desc.Name), desc.Terminal()))
	t.Cleanup(func() { _ = head.Close() })

	body := storage.NewBody(desc.Rate)
	require.NoError(t, body.Create(filepath.Join(dir, desc.Name+".body"), 64))
	t.Cleanup(func() { _ = body.Close() })

	return hashmap.New(desc, head, body)
}

// TestHashmapRoundTrip implements spec §8 end-to-end scenario 1: a 20-bucket,
// 7-byte-key hashmap with slab payloads, round-tripping a 23-byte element.
func TestHashmapRoundTrip(t *testing.T) {
	desc := schema.Descriptor{
		Name: "input", Kind: schema.Hashmap,
		LinkSize: 5, KeySize: 7, ElementSize: schema.SlabElement,
		Buckets: 20, Rate: 50,
	}
	hm := newHashmap(t, desc)

	key, err := hex.DecodeString("11223344556677")
	require.NoError(t, err)
	require.Len(t, key, 7)

	element := make([]byte, 23)
	element[0] = 0x01
	element[1] = 0x12
	element[2] = 0x34
	element[3] = 0x56
	element[16] = 0x02
	element[17] = 0x12
	element[18] = 0x34
	element[19] = 0x56

	_, ok := hm.Put(key, element)
	require.True(t, ok)

	got, ok := hm.Get(key)
	require.True(t, ok)
	require.Equal(t, element, got)
}

func TestHashmapExistsAndMissingKey(t *testing.T) {
	desc := schema.Descriptor{Name: "tx", Kind: schema.Hashmap, LinkSize: 5, KeySize: 8, ElementSize: 4, Buckets: 8, Rate: 50}
	hm := newHashmap(t, desc)

	key := []byte("abcdefgh")
	_, ok := hm.Put(key, []byte{1, 2, 3, 4})
	require.True(t, ok)

	require.True(t, hm.Exists(key))
	require.False(t, hm.Exists([]byte("zzzzzzzz")))
}

func TestHashmapNewestFirstAndMultimap(t *testing.T) {
	desc := schema.Descriptor{Name: "strong_tx", Kind: schema.Hashmap, LinkSize: 5, KeySize: 5, ElementSize: 5, Buckets: 4, Rate: 50}
	hm := newHashmap(t, desc)

	key := schema.Link(7)
	var keyBuf [5]byte
	schema.PutLink(keyBuf[:], 5, key)

	var v1, v2 [5]byte
	schema.PutLink(v1[:], 5, schema.Link(100))
	schema.PutLink(v2[:], 5, schema.Link(200))

	_, ok := hm.Put(keyBuf[:], v1[:])
	require.True(t, ok)
	_, ok = hm.Put(keyBuf[:], v2[:])
	require.True(t, ok)

	got, ok := hm.Get(keyBuf[:])
	require.True(t, ok)
	require.Equal(t, schema.Link(200), schema.GetLink(got, 5))

	it := hm.It(keyBuf[:])
	first, _, ok := it.Next()
	require.True(t, ok)
	require.Equal(t, schema.Link(200), schema.GetLink(first, 5))

	second, _, ok := it.Next()
	require.True(t, ok)
	require.Equal(t, schema.Link(100), schema.GetLink(second, 5))

	_, _, ok = it.Next()
	require.False(t, ok)
}

func TestHashmapMaskingRevokesAssociation(t *testing.T) {
	desc := schema.Descriptor{Name: "strong_tx", Kind: schema.Hashmap, LinkSize: 5, KeySize: 5, ElementSize: 5, Buckets: 4, Rate: 50}
	hm := newHashmap(t, desc)

	var keyBuf [5]byte
	schema.PutLink(keyBuf[:], 5, schema.Link(1))

	var strongVal [5]byte
	schema.PutLink(strongVal[:], 5, schema.Link(9))
	_, ok := hm.Put(keyBuf[:], strongVal[:])
	require.True(t, ok)

	terminal := desc.Terminal()
	var unstrongVal [5]byte
	schema.PutLink(unstrongVal[:], 5, terminal)
	_, ok = hm.Put(keyBuf[:], unstrongVal[:])
	require.True(t, ok)

	got, ok := hm.Get(keyBuf[:])
	require.True(t, ok)
	require.Equal(t, terminal, schema.GetLink(got, 5))
}

func TestHashmapPositionalGetSetAt(t *testing.T) {
	desc := schema.Descriptor{Name: "tx", Kind: schema.Hashmap, LinkSize: 5, KeySize: 4, ElementSize: 4, Buckets: 4, Rate: 50}
	hm := newHashmap(t, desc)

	link, ok := hm.Put([]byte("key1"), []byte{1, 2, 3, 4})
	require.True(t, ok)

	got, ok := hm.GetAt(link, 4)
	require.True(t, ok)
	require.Equal(t, []byte{1, 2, 3, 4}, got)

	require.True(t, hm.SetAt(link, 4, []byte{9, 9, 9, 9}))
	got2, ok := hm.GetAt(link, 4)
	require.True(t, ok)
	require.Equal(t, []byte{9, 9, 9, 9}, got2)
}
