package storage_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/chainstore/internal/storage"
)

func TestBodyCreateAccessReserve(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive.header.body")

	b := storage.NewBody(50)
	require.NoError(t, b.Create(path, 16))
	defer func() { _ = b.Close() }()

	require.EqualValues(t, 0, b.Logical())

	acc, ok := b.Access()
	require.True(t, ok)
	require.Len(t, acc.Bytes(), 16)
	acc.Release()

	require.True(t, b.Reserve(1000))

	acc2, ok := b.Access()
	require.True(t, ok)
	require.GreaterOrEqual(t, len(acc2.Bytes()), 1000)
	acc2.Release()
}

func TestBodyReserveBlocksWhileAccessorAlive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive.tx.body")

	b := storage.NewBody(0)
	require.NoError(t, b.Create(path, 8))
	defer func() { _ = b.Close() }()

	acc, ok := b.Access()
	require.True(t, ok)

	done := make(chan struct{})
	go func() {
		b.Reserve(10000)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("reserve completed while accessor was still alive")
	default:
	}

	acc.Release()
	<-done
}

func TestBodyAccessAfterCloseFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive.point.body")

	b := storage.NewBody(50)
	require.NoError(t, b.Create(path, 8))
	require.NoError(t, b.Close())

	_, ok := b.Access()
	require.False(t, ok)
}

func TestBodyOpenPreservesData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive.output.body")

	b := storage.NewBody(50)
	require.NoError(t, b.Create(path, 8))

	acc, ok := b.Access()
	require.True(t, ok)
	acc.Bytes()[0] = 0x42
	acc.Release()
	require.NoError(t, b.Close())

	b2 := storage.NewBody(50)
	require.NoError(t, b2.Open(path))
	defer func() { _ = b2.Close() }()

	acc2, ok := b2.Access()
	require.True(t, ok)
	require.Equal(t, byte(0x42), acc2.Bytes()[0])
	acc2.Release()
}
