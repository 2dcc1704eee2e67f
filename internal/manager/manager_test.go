package manager_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/chainstore/internal/manager"
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

func TestRecordManagerAllocateAndGet(t *testing.T) {
	body := newBody(t, "archive.candidate.body")
	rm := manager.NewRecordManager(body, 4, 5)

	link1, err := rm.Allocate(1)
	require.NoError(t, err)
	require.EqualValues(t, 0, link1)

	link2, err := rm.Allocate(1)
	require.NoError(t, err)
	require.EqualValues(t, 4, link2)

	acc, err := rm.Get(link1)
	require.NoError(t, err)
	copy(acc.Bytes(), []byte{0xd4, 0xc3, 0xb2, 0xa1})
	acc.Release()

	acc2, err := rm.Get(link1)
	require.NoError(t, err)
	require.Equal(t, []byte{0xd4, 0xc3, 0xb2, 0xa1}, acc2.Bytes())
	acc2.Release()
}

func TestRecordManagerGetOutOfRangeIsCorrupt(t *testing.T) {
	body := newBody(t, "archive.confirmed.body")
	rm := manager.NewRecordManager(body, 4, 5)

	_, err := rm.Get(1_000_000)
	require.ErrorIs(t, err, manager.ErrCorrupt)
}

func TestSlabManagerAllocateAndGet(t *testing.T) {
	body := newBody(t, "archive.tx.body")
	sm := manager.NewSlabManager(body, 5)

	payload := []byte("hello-slab")
	link, err := sm.Allocate(len(payload))
	require.NoError(t, err)

	acc, err := sm.Get(link)
	require.NoError(t, err)
	copy(acc.Bytes(), payload)
	acc.Release()

	acc2, err := sm.Get(link)
	require.NoError(t, err)
	require.Equal(t, payload, acc2.Bytes()[:len(payload)])
	acc2.Release()
}

func TestRecordManagerAllocateGrowsBody(t *testing.T) {
	body := newBody(t, "archive.header.body")
	rm := manager.NewRecordManager(body, 4, 5)

	for i := 0; i < 10; i++ {
		_, err := rm.Allocate(1)
		require.NoError(t, err)
	}

	require.EqualValues(t, 40, body.Logical())
}
