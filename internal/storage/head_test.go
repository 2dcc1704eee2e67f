package storage_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/chainstore/internal/schema"
	"github.com/calvinalkan/chainstore/internal/storage"
)

func TestHeadCreateInitializesBucketsToTerminal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive.header")

	h := storage.NewHead(5, 16)
	terminal := schema.TerminalFor(5)
	require.NoError(t, h.Create(path, terminal))
	defer func() { _ = h.Close() }()

	for i := uint32(0); i < 16; i++ {
		require.Equal(t, terminal, h.BucketSlot(i))
	}
	require.EqualValues(t, 0, h.LogicalSize())
}

func TestHeadSetBucketSlotAndLogicalSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive.tx")

	h := storage.NewHead(5, 8)
	terminal := schema.TerminalFor(5)
	require.NoError(t, h.Create(path, terminal))
	defer func() { _ = h.Close() }()

	h.SetBucketSlot(3, schema.Link(123))
	require.Equal(t, schema.Link(123), h.BucketSlot(3))
	require.Equal(t, terminal, h.BucketSlot(4))

	h.SetLogicalSize(4096)
	require.EqualValues(t, 4096, h.LogicalSize())
}

func TestHeadOpenValidatesSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive.point")

	h := storage.NewHead(4, 32)
	require.NoError(t, h.Create(path, schema.TerminalFor(4)))
	require.NoError(t, h.Close())

	wrong := storage.NewHead(4, 64)
	err := wrong.Open(path)
	require.Error(t, err)
}

func TestHeadGetExposesMappedBytes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.candidate")

	h := storage.NewHead(5, 0)
	require.NoError(t, h.Create(path, schema.TerminalFor(5)))
	defer func() { _ = h.Close() }()

	acc, ok := h.Get()
	require.True(t, ok)
	require.Len(t, acc.Bytes(), 4)
	acc.Release()
}
