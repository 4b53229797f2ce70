// ABOUTME: Core API — the SQL-layer-facing surface over pkg/txn, pkg/btree, pkg/catalog, pkg/trigram
// ABOUTME: open/close/begin_read/begin_write/open_tree/checkpoint/vacuum per spec.md §6

package decentdb

import (
	"fmt"
	"time"

	"github.com/decentdb/decentdb/pkg/btree"
	"github.com/decentdb/decentdb/pkg/catalog"
	"github.com/decentdb/decentdb/pkg/trigram"
	"github.com/decentdb/decentdb/pkg/txn"
	"github.com/decentdb/decentdb/pkg/vfs"
)

// Config mirrors spec.md §6's open(path, config) options. PageSize only
// takes effect when creating a new database file.
type Config struct {
	PageSize      uint32
	CachePages    int
	ForceDeadline time.Duration

	TrigramPerTrigramCap int
	TrigramTotalCap      int
}

// Db is one open database: the durable substrate (pkg/txn.Manager) plus
// the trigram buffer limits every write transaction's Index inherits.
type Db struct {
	mgr        *txn.Manager
	trigramCfg trigram.Config
}

// Open opens or creates a database at path, replaying its WAL sidecar if
// one exists (spec.md §6 "open(path, config) -> Db").
func Open(path string, cfg Config) (*Db, error) {
	mgr, err := txn.Open(path, txn.Config{
		PageSize:      cfg.PageSize,
		CachePages:    cfg.CachePages,
		ForceDeadline: cfg.ForceDeadline,
	})
	if err != nil {
		return nil, err
	}
	return &Db{
		mgr: mgr,
		trigramCfg: trigram.Config{
			PerTrigramCap: cfg.TrigramPerTrigramCap,
			TotalCap:      cfg.TrigramTotalCap,
		},
	}, nil
}

// Close drains any in-flight checkpoint state and closes the underlying
// files (spec.md §6 "close(Db)").
func (d *Db) Close() error { return d.mgr.Close() }

// CheckpointMode selects between spec.md §6's two checkpoint(Db, mode)
// behaviors.
type CheckpointMode int

const (
	// CheckpointPassive advances only as far as the slowest active reader
	// already allows; it never waits on or expires anyone.
	CheckpointPassive CheckpointMode = iota
	// CheckpointForce waits out the configured deadline for lagging
	// readers, force-expiring any still behind past it.
	CheckpointForce
)

// Checkpoint runs one checkpoint pass in the given mode.
func (d *Db) Checkpoint(mode CheckpointMode) (uint64, error) {
	if mode == CheckpointPassive {
		return d.mgr.CheckpointPassive()
	}
	return d.mgr.Checkpoint()
}

// BeginRead opens a lock-free read snapshot (spec.md §6 "begin_read(Db) ->
// ReadTxn").
func (d *Db) BeginRead() *ReadTxn {
	return &ReadTxn{db: d, inner: d.mgr.BeginRead()}
}

// BeginWrite blocks until the single writer slot is free, then starts a
// new write transaction (spec.md §6 "begin_write(Db) -> WriteTxn").
func (d *Db) BeginWrite() *WriteTxn {
	return &WriteTxn{db: d, inner: d.mgr.BeginWrite()}
}

// ReadTxn is a read-only snapshot over the catalog and every table/index
// tree reachable from it.
type ReadTxn struct {
	db    *Db
	inner *txn.ReadTxn
}

// Close releases the snapshot.
func (t *ReadTxn) Close() { t.inner.Close() }

// Catalog opens the schema catalog as of this snapshot.
func (t *ReadTxn) Catalog() *catalog.Catalog {
	return catalog.Open(t.inner.Store(), t.db.mgr.PageSize(), t.db.mgr.CatalogRoot())
}

// OpenTree opens a named table's row tree for reading (spec.md §6
// "open_tree(name) -> Tree").
func (t *ReadTxn) OpenTree(name string) (*Tree, error) {
	def, found, err := t.Catalog().GetTable(name)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("decentdb: %w: table %q", vfs.ErrNotFound, name)
	}
	return &Tree{tree: btree.New(t.inner.Store(), t.db.mgr.PageSize(), def.TreeRoot)}, nil
}

// OpenTrigramIndex opens a named trigram index for querying.
func (t *ReadTxn) OpenTrigramIndex(name string) (*trigram.Index, error) {
	def, found, err := t.Catalog().GetIndex(name)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("decentdb: %w: index %q", vfs.ErrNotFound, name)
	}
	if def.Kind != catalog.IndexKindTrigram {
		return nil, fmt.Errorf("decentdb: index %q is not a trigram index", name)
	}
	return trigram.Open(t.inner.Store(), t.db.mgr.PageSize(), def.TreeRoot, t.db.trigramCfg), nil
}

// WriteTxn is the single active write transaction. Mutations on any Tree,
// Catalog, or trigram.Index opened from it are visible to later reads
// within the same transaction but durable only once Commit returns.
type WriteTxn struct {
	db    *Db
	inner *txn.WriteTxn
}

// Catalog opens the schema catalog for read-modify-write. Callers that
// create, alter, or drop a table/index/view must call SetCatalogRoot with
// the returned Catalog's Root() before Commit.
func (t *WriteTxn) Catalog() *catalog.Catalog {
	return catalog.Open(t.inner.Store(), t.db.mgr.PageSize(), t.db.mgr.CatalogRoot())
}

// SetCatalogRoot persists a mutated catalog's new root and bumps the
// schema cookie (spec.md §4.G "Schema cookie": "Any DDL ... increments a
// monotonically increasing 64-bit schema cookie"). Call once per
// transaction that touched the catalog, just before Commit.
func (t *WriteTxn) SetCatalogRoot(root uint32) uint64 {
	t.db.mgr.SetCatalogRoot(root)
	return t.db.mgr.BumpSchemaCookie()
}

// SchemaCookie returns the schema cookie currently in effect, for stamping
// into catalog records written by this transaction.
func (t *WriteTxn) SchemaCookie() uint64 { return t.db.mgr.SchemaCookie() }

// OpenTree opens a named table's row tree for read-modify-write. The
// caller is responsible for writing the tree's new TreeRoot back into its
// TableDef (via Catalog().PutTable) before Commit if any mutation changed
// the root.
func (t *WriteTxn) OpenTree(name string) (*Tree, error) {
	def, found, err := t.Catalog().GetTable(name)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("decentdb: %w: table %q", vfs.ErrNotFound, name)
	}
	return &Tree{tree: btree.New(t.inner.Store(), t.db.mgr.PageSize(), def.TreeRoot)}, nil
}

// OpenTrigramIndex opens a named trigram index for read-modify-write.
func (t *WriteTxn) OpenTrigramIndex(name string) (*trigram.Index, error) {
	def, found, err := t.Catalog().GetIndex(name)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("decentdb: %w: index %q", vfs.ErrNotFound, name)
	}
	if def.Kind != catalog.IndexKindTrigram {
		return nil, fmt.Errorf("decentdb: index %q is not a trigram index", name)
	}
	return trigram.Open(t.inner.Store(), t.db.mgr.PageSize(), def.TreeRoot, t.db.trigramCfg), nil
}

// CreateTable allocates a fresh, empty row tree and records its
// definition in the catalog, all within this transaction.
func (t *WriteTxn) CreateTable(def catalog.TableDef) error {
	cat := t.Catalog()
	if _, found, err := cat.GetTable(def.Name); err != nil {
		return err
	} else if found {
		return fmt.Errorf("decentdb: %w: table %q", vfs.ErrAlreadyExists, def.Name)
	}
	// Stamp the record with the cookie this commit is about to bump to,
	// then actually bump it exactly once when persisting the new root.
	if err := cat.PutTable(def, t.db.mgr.SchemaCookie()+1); err != nil {
		return err
	}
	t.SetCatalogRoot(cat.Root())
	return nil
}

// PersistTreeRoot writes tree's current root back into table's TableDef if
// it has changed (e.g. after a page split or merge-free delete), without
// bumping the schema cookie: a row tree's root moving around under DML is
// not a DDL event (spec.md §4.G "Schema cookie" only covers catalog
// structure changes), so this bypasses WriteTxn.SetCatalogRoot's cookie
// bump and writes the catalog root directly.
func (t *WriteTxn) PersistTreeRoot(table string, tree *Tree) error {
	cat := t.Catalog()
	def, found, err := cat.GetTable(table)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("decentdb: %w: table %q", vfs.ErrNotFound, table)
	}
	if def.TreeRoot == tree.Root() {
		return nil
	}
	def.TreeRoot = tree.Root()
	if err := cat.PutTable(def, t.SchemaCookie()); err != nil {
		return err
	}
	t.db.mgr.SetCatalogRoot(cat.Root())
	return nil
}

// Commit publishes every staged page as one durable transaction (spec.md
// §6 "commit()").
func (t *WriteTxn) Commit() (uint64, error) { return t.inner.Commit() }

// Rollback discards every staged write (spec.md §6 "rollback()").
func (t *WriteTxn) Rollback() { t.inner.Rollback() }

// Tree is a handle onto one table's row B+Tree, keyed by spec.md §3's
// 64-bit row-id (either the application's declared INT64 PRIMARY KEY, or
// an internally assigned counter — see catalog.TableDef.RowIDCounter).
type Tree struct {
	tree *btree.Tree
}

// Root returns the tree's current root page, to be written back into the
// owning TableDef/IndexDef after a mutation.
func (tr *Tree) Root() uint32 { return tr.tree.Root }

// Get fetches a row by id (spec.md §6 "tree.get").
func (tr *Tree) Get(key uint64) ([]byte, bool, error) { return tr.tree.Get(key) }

// Put inserts or overwrites a row (spec.md §6 "tree.put").
func (tr *Tree) Put(key uint64, value []byte) error { return tr.tree.Insert(key, value) }

// Delete removes a row, reporting whether it was present (spec.md §6
// "tree.delete").
func (tr *Tree) Delete(key uint64) (bool, error) { return tr.tree.Delete(key) }

// Scan opens an ordered cursor starting at key (spec.md §6 "tree.scan").
func (tr *Tree) Scan(start uint64, dir btree.Direction) (*btree.Cursor, error) {
	return tr.tree.Scan(start, dir)
}
