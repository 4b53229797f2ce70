// ABOUTME: Transaction manager: one writer mutex, many lock-free readers
// ABOUTME: Composes pkg/pager and pkg/wal so btree.Tree can stay durability-oblivious

package txn

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/decentdb/decentdb/pkg/pager"
	"github.com/decentdb/decentdb/pkg/wal"
)

// Config controls Manager construction (spec.md §6 "open(path, config)").
type Config struct {
	PageSize      uint32
	CachePages    int
	Stats         pager.CacheStats
	ForceDeadline time.Duration // checkpoint reader-wait deadline; 0 = wal.DefaultForceDeadline
}

// Manager owns the durable substrate for one open database: the main file,
// the WAL sidecar, the read overlay, and the registry of active reader
// snapshots that gates checkpoints (spec.md §4.G "Transaction manager").
type Manager struct {
	pager   *pager.Pager
	wal     *wal.WAL
	overlay *wal.Overlay
	cp      *wal.Checkpointer

	path string
	cfg  Config

	writerMu sync.Mutex // held by the single in-flight write transaction

	readersMu sync.Mutex
	readers   map[uint64]*readerEntry
	nextTxnID uint64
}

type readerEntry struct {
	snapshot uint64
	expired  bool
}

// Open opens or creates a database at path plus its "<path>.wal" sidecar,
// replaying its committed transactions and discarding any uncommitted tail
// before returning (spec.md §4.D "Recovery").
func Open(path string, cfg Config) (*Manager, error) {
	p, err := pager.Open(path, pager.Config{PageSize: cfg.PageSize, CachePages: cfg.CachePages, Stats: cfg.Stats})
	if err != nil {
		return nil, err
	}

	salt := p.Header().WALEndLSN // any stable per-file value; not security sensitive
	w, err := wal.Open(path+".wal", uint16(p.PageSize()), salt)
	if err != nil {
		_ = p.Close()
		return nil, err
	}

	overlay := wal.NewOverlay()
	raw, err := w.ReadAll()
	if err != nil {
		_ = w.Close()
		_ = p.Close()
		return nil, err
	}
	result, err := wal.Recover(raw, overlay)
	if err != nil {
		_ = w.Close()
		_ = p.Close()
		return nil, fmt.Errorf("txn: recovery: %w", err)
	}
	w.SetRecoveredState(result.EndLSN)

	m := &Manager{
		pager:   p,
		wal:     w,
		overlay: overlay,
		readers: make(map[uint64]*readerEntry),
		path:    path,
		cfg:     cfg,
	}
	m.cp = wal.NewCheckpointer(w, overlay, p, m)
	if cfg.ForceDeadline > 0 {
		m.cp.ForceDeadline = cfg.ForceDeadline
	}
	return m, nil
}

// Close runs a final checkpoint (so the main file alone is consistent) and
// closes the WAL and main file.
func (m *Manager) Close() error {
	if _, err := m.Checkpoint(); err != nil {
		return err
	}
	if err := m.wal.Close(); err != nil {
		return err
	}
	return m.pager.Close()
}

// PageSize returns the database's fixed page size.
func (m *Manager) PageSize() uint32 { return m.pager.PageSize() }

// Path returns the main database file path this Manager was opened with,
// for vacuum's rebuild-then-swap (spec.md §6 "vacuum(Db) ... rebuilds the
// trees into a new file and atomically swaps").
func (m *Manager) Path() string { return m.path }

// Cfg returns the Config this Manager was opened with.
func (m *Manager) Cfg() Config { return m.cfg }

// CatalogRoot/SetCatalogRoot/SchemaCookie expose the header fields pkg/catalog
// needs to locate and validate the catalog tree (spec.md §4.G "Schema cookie").
func (m *Manager) CatalogRoot() uint32 { return uint32(m.pager.Header().CatalogRoot) }
func (m *Manager) SetCatalogRoot(id uint32) { m.pager.SetCatalogRoot(id) }
func (m *Manager) SchemaCookie() uint64 { return m.pager.Header().SchemaCookie }
func (m *Manager) BumpSchemaCookie() uint64 { return m.pager.BumpSchemaCookie() }

// Checkpoint runs a "force" checkpoint (spec.md §6 "checkpoint(Db, mode)"):
// it catches up to the current WAL end, waiting out ForceDeadline for
// lagging readers and force-expiring any that are still behind past it.
func (m *Manager) Checkpoint() (uint64, error) {
	return m.finishCheckpoint(m.cp.Run())
}

// CheckpointPassive runs a "passive" checkpoint: it only advances as far
// as the slowest active reader already allows, never waiting on or
// expiring anyone.
func (m *Manager) CheckpointPassive() (uint64, error) {
	return m.finishCheckpoint(m.cp.RunPassive())
}

func (m *Manager) finishCheckpoint(l uint64, err error) (uint64, error) {
	if err != nil {
		return 0, err
	}
	m.pager.SetWALEndLSN(l)
	if err := m.pager.FlushHeader(); err != nil {
		return 0, err
	}
	return l, nil
}

// MinActiveSnapshot implements wal.SnapshotGate.
func (m *Manager) MinActiveSnapshot() (uint64, bool) {
	m.readersMu.Lock()
	defer m.readersMu.Unlock()
	var min uint64
	found := false
	for _, r := range m.readers {
		if r.expired {
			continue
		}
		if !found || r.snapshot < min {
			min = r.snapshot
			found = true
		}
	}
	return min, found
}

// ExpireBelow implements wal.SnapshotGate.
func (m *Manager) ExpireBelow(floor uint64) []uint64 {
	m.readersMu.Lock()
	defer m.readersMu.Unlock()
	var expired []uint64
	for id, r := range m.readers {
		if !r.expired && r.snapshot < floor {
			r.expired = true
			expired = append(expired, id)
		}
	}
	return expired
}

func (m *Manager) registerReader(snapshot uint64) uint64 {
	m.readersMu.Lock()
	defer m.readersMu.Unlock()
	m.nextTxnID++
	id := m.nextTxnID
	m.readers[id] = &readerEntry{snapshot: snapshot}
	return id
}

func (m *Manager) releaseReader(id uint64) {
	m.readersMu.Lock()
	defer m.readersMu.Unlock()
	delete(m.readers, id)
}

func (m *Manager) readerExpired(id uint64) bool {
	m.readersMu.Lock()
	defer m.readersMu.Unlock()
	r, ok := m.readers[id]
	return ok && r.expired
}

// newTxnID mints an opaque identifier for logs and metrics labels (spec.md
// §4.G mentions no wire format for it, so any stable string works).
func newTxnID() string {
	return uuid.NewString()
}
