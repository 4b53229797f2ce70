// ABOUTME: Write transactions: one at a time, staged through the WAL, durable on commit
// ABOUTME: Allocation/free bracket the freelist freeze so a rollback never leaks or reuses early

package txn

import (
	"fmt"

	"github.com/decentdb/decentdb/pkg/vfs"
	"github.com/decentdb/decentdb/pkg/wal"
)

// WriteTxn is the single in-flight write transaction (spec.md §4.G "writer
// mutex": "at most one write transaction may be active system-wide").
type WriteTxn struct {
	mgr *Manager
	id  string

	dirty     map[uint32][]byte
	allocated map[uint32]bool
	freed     []uint32

	done bool
}

// BeginWrite blocks until any other write transaction commits or rolls
// back, then starts a new one. Pager allocation pops the freelist
// immediately (new page ids are real, not staged) but the freelist itself
// is frozen so this transaction's own frees are not reused before it
// commits (spec.md §4.B).
func (m *Manager) BeginWrite() *WriteTxn {
	m.writerMu.Lock()
	m.pager.FreezeFreelistForTransaction()
	return &WriteTxn{
		mgr:       m,
		id:        newTxnID(),
		dirty:     make(map[uint32][]byte),
		allocated: make(map[uint32]bool),
	}
}

// ID returns this transaction's opaque identifier (used in logs/metrics).
func (t *WriteTxn) ID() string { return t.id }

// Store returns a btree.Store that stages writes in memory until Commit.
func (t *WriteTxn) Store() *writeStore {
	return &writeStore{txn: t}
}

// Commit appends every staged page as a WAL PAGE frame, then a COMMIT
// frame, fsyncs once, and publishes the new wal_end_lsn — the single
// fsync-per-commit path of spec.md §4.D "Write path".
func (t *WriteTxn) Commit() (uint64, error) {
	if t.done {
		return 0, fmt.Errorf("txn: %w: transaction already finished", vfs.ErrBusy)
	}
	defer t.finish()

	var lastLSN uint64
	for id, data := range t.dirty {
		lsn, _, err := t.mgr.wal.Append(wal.KindPage, wal.EncodePagePayload(id, data))
		if err != nil {
			return 0, err
		}
		t.mgr.overlay.Put(id, lsn, data)
		lastLSN = lsn
	}

	commitLSN, _, err := t.mgr.wal.Append(wal.KindCommit, wal.EncodeCommitPayload(0, 0))
	if err != nil {
		return 0, err
	}
	if commitLSN > lastLSN {
		lastLSN = commitLSN
	}
	if err := t.mgr.wal.PublishCommit(lastLSN); err != nil {
		return 0, fmt.Errorf("txn: %w: %v", vfs.ErrDurabilityFailed, err)
	}

	for _, id := range t.freed {
		if err := t.mgr.pager.Free(id); err != nil {
			return 0, err
		}
	}
	return lastLSN, nil
}

// Rollback discards every staged write and returns freshly allocated pages
// to the freelist rather than leaking them.
func (t *WriteTxn) Rollback() {
	if t.done {
		return
	}
	defer t.finish()
	for id := range t.allocated {
		_ = t.mgr.pager.Free(id)
	}
}

func (t *WriteTxn) finish() {
	t.done = true
	t.mgr.pager.UnfreezeFreelist()
	t.mgr.writerMu.Unlock()
}

type writeStore struct {
	txn *WriteTxn
}

func (s *writeStore) Get(id uint32) ([]byte, error) {
	t := s.txn
	if data, ok := t.dirty[id]; ok {
		return data, nil
	}
	// Earlier commits land in t.mgr.overlay, not the pager/main file —
	// checkpoint is the only thing that ever flushes the overlay into the
	// pager (pkg/wal/checkpoint.go). The writer is always the most recent
	// writer, so the current wal_end_lsn is the right snapshot to read
	// through, matching readStore.Get's overlay-then-pager order.
	if data, ok := t.mgr.overlay.Get(id, t.mgr.wal.EndLSN()); ok {
		return data, nil
	}
	data, err := t.mgr.pager.Get(id)
	if err != nil {
		return nil, err
	}
	t.mgr.pager.Unpin(id)
	return data, nil
}

func (s *writeStore) Alloc(data []byte) (uint32, error) {
	t := s.txn
	id, err := t.mgr.pager.Alloc()
	if err != nil {
		return 0, err
	}
	t.allocated[id] = true
	t.dirty[id] = data
	return id, nil
}

func (s *writeStore) Free(id uint32) error {
	t := s.txn
	delete(t.dirty, id)
	if t.allocated[id] {
		// Allocated and freed within the same transaction: never durably
		// observed, safe to return immediately rather than round-trip
		// through a committed-then-freed WAL entry.
		delete(t.allocated, id)
		return t.mgr.pager.Free(id)
	}
	t.freed = append(t.freed, id)
	return nil
}
