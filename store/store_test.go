package store_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/chainstore/internal/schema"
	"github.com/calvinalkan/chainstore/store"
	"github.com/calvinalkan/chainstore/store/storeerr"
)

func testConfig(t *testing.T) store.Config {
	t.Helper()
	return store.Config{Dir: filepath.Join(t.TempDir(), "chain"), Tables: schema.DefaultCatalog()}
}

func TestCreateThenOpen(t *testing.T) {
	cfg := testConfig(t)

	db, err := store.Create(cfg)
	require.NoError(t, err)

	key := []byte("01234567890123456789012345678901")
	link, ok := db.Header.Put(key, []byte{1, 2, 3})
	require.True(t, ok)

	require.NoError(t, db.Close())

	db2, err := store.Open(cfg)
	require.NoError(t, err)
	defer func() { _ = db2.Close() }()

	got, ok := db2.Header.GetAt(link, 3)
	require.True(t, ok)
	require.True(t, cmp.Equal([]byte{1, 2, 3}, got))
}

func TestCreateTwiceSameDirFails(t *testing.T) {
	cfg := testConfig(t)

	db, err := store.Create(cfg)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	_, err = store.Create(cfg)
	require.Error(t, err)
	require.ErrorIs(t, err, storeerr.Sentinel(storeerr.CodeProcessLock))
}

func TestOpenRefusesAfterUncleanShutdown(t *testing.T) {
	cfg := testConfig(t)

	db, err := store.Create(cfg)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	// A clean Close always removes the flush lock, so write it back
	// afterward to simulate what a crash anywhere during the session -
	// with or without an intervening Snapshot - would leave behind.
	flushLock := filepath.Join(cfg.Dir, "flush.lock")
	require.NoError(t, writeEmptyFile(flushLock))

	_, err = store.Open(cfg)
	require.Error(t, err)
	require.ErrorIs(t, err, storeerr.Sentinel(storeerr.CodeRestoreTable))
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	cfg := testConfig(t)

	db, err := store.Create(cfg)
	require.NoError(t, err)

	key := []byte("01234567890123456789012345678901")
	link, ok := db.Header.Put(key, []byte("snapshotted"))
	require.True(t, ok)

	require.NoError(t, db.Snapshot())

	// Write more data after the snapshot; this must not survive restore.
	_, ok = db.Header.Put([]byte("98765432109876543210987654321098"), []byte("post-snapshot"))
	require.True(t, ok)

	require.NoError(t, db.Close())

	require.NoError(t, store.Restore(cfg))

	db2, err := store.Open(cfg)
	require.NoError(t, err)
	defer func() { _ = db2.Close() }()

	got, ok := db2.Header.GetAt(link, len("snapshotted"))
	require.True(t, ok)
	require.Equal(t, "snapshotted", string(got))

	require.False(t, db2.Header.Exists([]byte("98765432109876543210987654321098")))
}

func TestRestoreWithoutBackupFails(t *testing.T) {
	cfg := testConfig(t)

	err := store.Restore(cfg)
	require.Error(t, err)
	require.ErrorIs(t, err, storeerr.Sentinel(storeerr.CodeMissingBackup))
}

func writeEmptyFile(path string) error {
	return os.WriteFile(path, nil, 0o600)
}
