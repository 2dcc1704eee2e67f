// Package store implements the catalog lifecycle spec §4.I (component I)
// describes: create, open, snapshot, close, and crash restore over the
// fixed table catalog, plus the transactor that serializes whole-catalog
// operations against per-table traffic.
package store

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/natefinch/atomic"

	"github.com/calvinalkan/chainstore/internal/arraymap"
	"github.com/calvinalkan/chainstore/internal/filelock"
	"github.com/calvinalkan/chainstore/internal/hashmap"
	"github.com/calvinalkan/chainstore/internal/mmio"
	"github.com/calvinalkan/chainstore/internal/schema"
	"github.com/calvinalkan/chainstore/internal/storage"
	"github.com/calvinalkan/chainstore/store/storeerr"
)

// initialBodySize is the physical size a fresh body file is truncated to
// before anything has been allocated in it - just large enough to map,
// grown from there by Body.Reserve as tables fill up.
const initialBodySize = 4096

// Config configures a Store (spec §10). The settings loader that produces
// a Config remains an external collaborator; Create and Open accept an
// already-validated value.
type Config struct {
	Dir            string
	Tables         schema.Catalog
	SyncOnSnapshot bool
	Logger         *slog.Logger
}

func (c Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// Store is the open catalog: one Head/Body pair per table, bound to the
// concrete hashmap/arraymap type its schema.Kind calls for (spec §9's
// "catalog as a field-per-table record" note, carried through to the
// runtime store as well).
type Store struct {
	dir   string
	cfg   Config
	log   *slog.Logger
	tr    *Transactor
	proc  *filelock.Lock
	flush *filelock.Lock

	entries []tableEntry

	Header *hashmap.Hashmap
	Point  *hashmap.Hashmap
	Input  *hashmap.Hashmap
	Output *arraymap.Arraymap
	Puts   *arraymap.Arraymap
	Tx     *hashmap.Hashmap
	Txs    *hashmap.Hashmap

	Address   *hashmap.Hashmap
	Candidate *arraymap.Arraymap
	Confirmed *arraymap.Arraymap
	StrongTx  *hashmap.Hashmap
	StrongBk  *hashmap.Hashmap

	Bootstrap   *arraymap.Arraymap
	Buffer      *arraymap.Arraymap
	Neutrino    *arraymap.Arraymap
	ValidatedBk *hashmap.Hashmap
	ValidatedTx *hashmap.Hashmap
}

// tableEntry is the generic (kind-agnostic) lifecycle handle for a single
// table: enough to create/open/flush/close/snapshot/restore it uniformly,
// before it gets bound to a typed field above.
type tableEntry struct {
	desc schema.Descriptor
	head *storage.Head
	body *storage.Body
}

func headsDir(dir string) string      { return filepath.Join(dir, "heads") }
func headPath(dir, name string) string { return filepath.Join(headsDir(dir), name) }
func bodyPath(dir, name string) string { return filepath.Join(dir, name+".body") }
func primaryDir(dir string) string    { return filepath.Join(dir, "primary") }
func secondaryDir(dir string) string  { return filepath.Join(dir, "secondary") }
func processLockPath(dir string) string { return filepath.Join(dir, "process.lock") }
func flushLockPath(dir string) string   { return filepath.Join(dir, "flush.lock") }

// Create initializes a brand-new catalog at cfg.Dir: acquires the process
// and flush locks, clears /heads, creates every head/body, initializes
// every bucket array to terminal, and truncates every body to zero logical
// size (spec §4.H/§4.I). Both locks are held on the returned Store for the
// life of the session - only a clean Close releases and clears the flush
// lock; a crash leaves it behind, forcing Restore before the catalog can
// be opened again.
func Create(cfg Config) (*Store, error) {
	const op = "store.Create"
	log := cfg.logger()

	proc, err := filelock.TryAcquire(processLockPath(cfg.Dir))
	if err != nil {
		return nil, storeerr.New(op, storeerr.CodeProcessLock, err)
	}

	flush, err := filelock.TryAcquire(flushLockPath(cfg.Dir))
	if err != nil {
		_ = proc.Close()
		return nil, storeerr.New(op, storeerr.CodeFlushLock, err)
	}

	if err := mmio.ClearDirectory(headsDir(cfg.Dir)); err != nil {
		_ = flush.Close()
		_ = proc.Close()
		return nil, storeerr.New(op, storeerr.CodeClearDirectory, err)
	}

	entries := make([]tableEntry, 0, len(cfg.Tables.Tables()))
	for _, desc := range cfg.Tables.Tables() {
		head := storage.NewHead(desc.LinkSize, desc.Buckets)
		if err := head.Create(headPath(cfg.Dir, desc.Name), desc.Terminal()); err != nil {
			closeEntries(entries)
			_ = flush.Close()
			_ = proc.Close()
			return nil, storeerr.New(op, storeerr.CodeCreateTable, fmt.Errorf("table %s: %w", desc.Name, err))
		}

		body := storage.NewBody(desc.Rate)
		body.SetLogger(desc.Name, log)
		if err := body.Create(bodyPath(cfg.Dir, desc.Name), initialBodySize); err != nil {
			_ = head.Close()
			closeEntries(entries)
			_ = flush.Close()
			_ = proc.Close()
			return nil, storeerr.New(op, storeerr.CodeCreateTable, fmt.Errorf("table %s: %w", desc.Name, err))
		}

		entries = append(entries, tableEntry{desc: desc, head: head, body: body})
	}

	s := &Store{dir: cfg.Dir, cfg: cfg, log: log, tr: newTransactor(log), proc: proc, flush: flush, entries: entries}
	s.bind()

	log.Info("store: created", "dir", cfg.Dir, "tables", len(entries))
	return s, nil
}

// Open maps an existing catalog and verifies every table's head size
// matches its configured descriptor (spec §4.H's verify step). If a flush
// lock is already present, a prior session did not reach a clean Close
// (with or without an intervening Snapshot) and Open refuses to proceed -
// the caller must call Restore first. Otherwise Open acquires the flush
// lock itself and holds it, alongside the process lock, for the life of
// the session; only Close releases and clears it.
func Open(cfg Config) (*Store, error) {
	const op = "store.Open"
	log := cfg.logger()

	proc, err := filelock.TryAcquire(processLockPath(cfg.Dir))
	if err != nil {
		return nil, storeerr.New(op, storeerr.CodeProcessLock, err)
	}

	dirty, err := filelock.Exists(flushLockPath(cfg.Dir))
	if err != nil {
		_ = proc.Close()
		return nil, storeerr.New(op, storeerr.CodeFlushLock, err)
	}
	if dirty {
		_ = proc.Close()
		return nil, storeerr.New(op, storeerr.CodeRestoreTable, fmt.Errorf("unclean shutdown detected, call Restore before Open"))
	}

	flush, err := filelock.TryAcquire(flushLockPath(cfg.Dir))
	if err != nil {
		_ = proc.Close()
		return nil, storeerr.New(op, storeerr.CodeFlushLock, err)
	}

	entries := make([]tableEntry, 0, len(cfg.Tables.Tables()))
	for _, desc := range cfg.Tables.Tables() {
		head := storage.NewHead(desc.LinkSize, desc.Buckets)
		if err := head.Open(headPath(cfg.Dir, desc.Name)); err != nil {
			closeEntries(entries)
			_ = flush.Close()
			_ = proc.Close()
			return nil, storeerr.New(op, storeerr.CodeVerifyTable, fmt.Errorf("table %s: %w", desc.Name, err))
		}

		body := storage.NewBody(desc.Rate)
		body.SetLogger(desc.Name, log)
		if err := body.Open(bodyPath(cfg.Dir, desc.Name)); err != nil {
			_ = head.Close()
			closeEntries(entries)
			_ = flush.Close()
			_ = proc.Close()
			return nil, storeerr.New(op, storeerr.CodeVerifyTable, fmt.Errorf("table %s: %w", desc.Name, err))
		}
		body.SetLogical(head.LogicalSize())

		entries = append(entries, tableEntry{desc: desc, head: head, body: body})
	}

	s := &Store{dir: cfg.Dir, cfg: cfg, log: log, tr: newTransactor(log), proc: proc, flush: flush, entries: entries}
	s.bind()

	log.Info("store: opened", "dir", cfg.Dir, "tables", len(entries))
	return s, nil
}

// GetTransactor returns the catalog-wide transactor (spec §5 lock
// hierarchy level 3), which callers orchestrating a multi-table operation
// (e.g. query.SetStrong touching strong_tx and strong_bk together) must
// hold for the duration of that operation.
func (s *Store) GetTransactor() *Transactor {
	return s.tr
}

// Snapshot flushes every table's mapped bytes to disk, records each body's
// current logical size into its head, and rotates a durable two-generation
// backup (spec §4.H/§9: "two-generation backup without a WAL"). The flush
// lock itself is not touched here - it is acquired once by Create/Open and
// released only by a clean Close, so that a crash at any point during the
// session (not just mid-Snapshot) leaves it behind and forces a Restore.
func (s *Store) Snapshot() error {
	const op = "store.Snapshot"

	s.tr.Lock()
	defer s.tr.Unlock()

	var firstErr error
	capture := func(code storeerr.Code, err error) {
		if err != nil && firstErr == nil {
			firstErr = storeerr.New(op, code, err)
		}
	}

	for _, e := range s.entries {
		capture(storeerr.CodeBackupTable, e.body.Flush())
		e.head.SetLogicalSize(e.body.Logical())
		capture(storeerr.CodeBackupTable, e.head.Flush())
	}

	if firstErr == nil {
		if err := s.backup(); err != nil {
			firstErr = storeerr.New(op, storeerr.CodeBackupTable, err)
		}
	}

	if firstErr == nil && s.cfg.SyncOnSnapshot {
		if err := syncDir(s.dir); err != nil {
			firstErr = storeerr.New(op, storeerr.CodeBackupTable, err)
		}
	}

	if firstErr == nil {
		s.log.Info("store: snapshot complete", "dir", s.dir)
	}
	return firstErr
}

// backup rotates /primary -> /secondary and writes every head file's
// current on-disk contents into a fresh /primary, using atomic.WriteFile
// so a crash mid-write never leaves a torn head file behind (SPEC_FULL.md
// §4.I).
func (s *Store) backup() error {
	if exists, err := mmio.IsDirectory(primaryDir(s.dir)); err != nil {
		return err
	} else if exists {
		if err := removeDirTree(secondaryDir(s.dir)); err != nil {
			return err
		}
		if err := mmio.Rename(primaryDir(s.dir), secondaryDir(s.dir)); err != nil {
			return err
		}
	}

	if err := mmio.MkdirAll(primaryDir(s.dir)); err != nil {
		return err
	}

	for _, e := range s.entries {
		data, err := os.ReadFile(headPath(s.dir, e.desc.Name))
		if err != nil {
			return fmt.Errorf("backup: read head %s: %w", e.desc.Name, err)
		}
		if err := atomic.WriteFile(filepath.Join(primaryDir(s.dir), e.desc.Name), bytes.NewReader(data)); err != nil {
			return fmt.Errorf("backup: write primary/%s: %w", e.desc.Name, err)
		}
	}
	return nil
}

// Close unmaps every table, then releases and clears the flush lock before
// releasing the process lock. Close never implies Snapshot - an explicit
// call is required to persist state. Clearing the flush lock here, and
// nowhere else, is what lets the next Open tell a clean shutdown apart
// from a crash: only a Store that reached this point removes it.
func (s *Store) Close() error {
	const op = "store.Close"

	var firstErr error
	for _, e := range s.entries {
		if err := e.body.Close(); err != nil && firstErr == nil {
			firstErr = storeerr.New(op, storeerr.CodeCloseTable, err)
		}
		if err := e.head.Close(); err != nil && firstErr == nil {
			firstErr = storeerr.New(op, storeerr.CodeCloseTable, err)
		}
	}

	// Unlock failures override any earlier error.
	if err := filelock.Remove(flushLockPath(s.dir)); err != nil {
		firstErr = storeerr.New(op, storeerr.CodeFlushUnlock, err)
	}
	if err := s.flush.Close(); err != nil {
		firstErr = storeerr.New(op, storeerr.CodeFlushUnlock, err)
	}

	if err := s.proc.Close(); err != nil {
		firstErr = storeerr.New(op, storeerr.CodeProcessUnlock, err)
	}

	if firstErr == nil {
		s.log.Info("store: closed", "dir", s.dir)
	}
	return firstErr
}

// Restore promotes the newest backup generation (/primary if present,
// falling back to /secondary) over /heads and truncates every body to the
// logical size recorded in the restored head, then clears the flush lock
// (spec §4.H/§8: "restore idempotence" - calling Restore again once
// already-restored state is in place is a no-op error-free pass).
func Restore(cfg Config) error {
	const op = "store.Restore"

	gen := primaryDir(cfg.Dir)
	if exists, err := mmio.IsDirectory(gen); err != nil {
		return storeerr.New(op, storeerr.CodeRestoreTable, err)
	} else if !exists {
		gen = secondaryDir(cfg.Dir)
		if exists, err := mmio.IsDirectory(gen); err != nil {
			return storeerr.New(op, storeerr.CodeRestoreTable, err)
		} else if !exists {
			return storeerr.New(op, storeerr.CodeMissingBackup, fmt.Errorf("no backup generation found under %s", cfg.Dir))
		}
	}

	if err := mmio.ClearDirectory(headsDir(cfg.Dir)); err != nil {
		return storeerr.New(op, storeerr.CodeClearDirectory, err)
	}

	for _, desc := range cfg.Tables.Tables() {
		data, err := os.ReadFile(filepath.Join(gen, desc.Name))
		if err != nil {
			return storeerr.New(op, storeerr.CodeRestoreTable, fmt.Errorf("table %s: %w", desc.Name, err))
		}
		if err := atomic.WriteFile(headPath(cfg.Dir, desc.Name), bytes.NewReader(data)); err != nil {
			return storeerr.New(op, storeerr.CodeRestoreTable, fmt.Errorf("table %s: %w", desc.Name, err))
		}

		logicalSize := uint64(0)
		if len(data) >= 4 {
			logicalSize = uint64(binary.LittleEndian.Uint32(data))
		}

		if err := truncateBody(bodyPath(cfg.Dir, desc.Name), logicalSize); err != nil {
			return storeerr.New(op, storeerr.CodeRestoreTable, fmt.Errorf("table %s: %w", desc.Name, err))
		}
	}

	if err := filelock.Remove(flushLockPath(cfg.Dir)); err != nil {
		return storeerr.New(op, storeerr.CodeFlushUnlock, err)
	}

	cfg.logger().Info("store: restored", "dir", cfg.Dir, "generation", gen)
	return nil
}

// truncateBody makes the body file at path at least logicalSize bytes long,
// growing it if the on-disk file is currently smaller (e.g. after a crash
// that left a shorter file than its last-known logical size), without
// mapping it - Restore runs before Open remaps anything. A longer file is
// left as it is; the logical size in the restored head, which Open loads,
// is what discards allocations made after the snapshot.
func truncateBody(path string, logicalSize uint64) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	if uint64(info.Size()) < logicalSize {
		return f.Truncate(int64(logicalSize))
	}
	return nil
}

func closeEntries(entries []tableEntry) {
	for _, e := range entries {
		_ = e.body.Close()
		_ = e.head.Close()
	}
}

// syncDir fsyncs the directory entry itself, so the rename performed by
// backup (primary -> secondary) is durable even across a crash that loses
// otherwise-unflushed directory metadata. Only invoked when
// Config.SyncOnSnapshot opts into the extra cost.
func syncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("sync dir %s: %w", dir, err)
	}
	defer f.Close()

	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync dir %s: %w", dir, err)
	}
	return nil
}

func removeDirTree(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove %s: %w", dir, err)
	}
	return nil
}

// bind constructs the typed hashmap/arraymap wrapper for each entry and
// assigns it to the matching named field (spec §9's "catalog as a
// field-per-table record" note, carried through to the open Store).
func (s *Store) bind() {
	for _, e := range s.entries {
		switch e.desc.Kind {
		case schema.Hashmap:
			s.setHashmap(e.desc.Name, hashmap.New(e.desc, e.head, e.body))
		case schema.Arraymap:
			s.setArraymap(e.desc.Name, arraymap.New(e.desc, e.body))
		}
	}
}

func (s *Store) setHashmap(name string, hm *hashmap.Hashmap) {
	switch name {
	case "header":
		s.Header = hm
	case "point":
		s.Point = hm
	case "input":
		s.Input = hm
	case "tx":
		s.Tx = hm
	case "txs":
		s.Txs = hm
	case "address":
		s.Address = hm
	case "strong_tx":
		s.StrongTx = hm
	case "strong_bk":
		s.StrongBk = hm
	case "validated_bk":
		s.ValidatedBk = hm
	case "validated_tx":
		s.ValidatedTx = hm
	}
}

func (s *Store) setArraymap(name string, am *arraymap.Arraymap) {
	switch name {
	case "output":
		s.Output = am
	case "puts":
		s.Puts = am
	case "candidate":
		s.Candidate = am
	case "confirmed":
		s.Confirmed = am
	case "bootstrap":
		s.Bootstrap = am
	case "buffer":
		s.Buffer = am
	case "neutrino":
		s.Neutrino = am
	}
}
