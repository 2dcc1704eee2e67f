package mmio_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/chainstore/internal/mmio"
)

func TestCreateOpenMap(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "body")

	f, err := mmio.Create(path, 64)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	size, err := f.Size()
	require.NoError(t, err)
	require.EqualValues(t, 64, size)

	data, err := f.Map()
	require.NoError(t, err)
	require.Len(t, data, 64)

	data[0] = 0xAB
	require.NoError(t, f.Flush())
	require.NoError(t, f.Close())

	reopened, err := mmio.Open(path)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	data2, err := reopened.Map()
	require.NoError(t, err)
	require.Equal(t, byte(0xAB), data2[0])
}

func TestCreateExclusiveFailsIfExists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "body")

	_, err := mmio.Create(path, 8)
	require.NoError(t, err)

	_, err = mmio.Create(path, 8)
	require.Error(t, err)
}

func TestResizePreservesContentAndGrows(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "body")

	f, err := mmio.Create(path, 16)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	data, err := f.Map()
	require.NoError(t, err)
	copy(data, []byte("0123456789ABCDEF"))

	grown, err := f.Resize(32)
	require.NoError(t, err)
	require.Len(t, grown, 32)
	require.Equal(t, []byte("0123456789ABCDEF"), grown[:16])

	size, err := f.Size()
	require.NoError(t, err)
	require.EqualValues(t, 32, size)
}

func TestClearDirectory(t *testing.T) {
	dir := t.TempDir()
	heads := filepath.Join(dir, "heads")

	require.NoError(t, mmio.MkdirAll(heads))
	_, err := mmio.Create(filepath.Join(heads, "archive.header"), 8)
	require.NoError(t, err)

	require.NoError(t, mmio.ClearDirectory(heads))

	isDir, err := mmio.IsDirectory(heads)
	require.NoError(t, err)
	require.True(t, isDir)

	_, err = mmio.Open(filepath.Join(heads, "archive.header"))
	require.Error(t, err)
}

func TestPreadPwrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "head")

	f, err := mmio.Create(path, 8)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	n, err := f.Pwrite([]byte{1, 2, 3, 4}, 0)
	require.NoError(t, err)
	require.Equal(t, 4, n)

	buf := make([]byte, 4)
	n, err = f.Pread(buf, 0)
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.Equal(t, []byte{1, 2, 3, 4}, buf)
}
