// ABOUTME: Read transactions: a lock-free snapshot over the WAL overlay plus main file
// ABOUTME: Never blocks a writer and is never blocked by one (spec.md §4.G)

package txn

import (
	"fmt"

	"github.com/decentdb/decentdb/pkg/vfs"
)

// ReadTxn is a read-only snapshot captured at BeginRead (spec.md §4.D
// "Snapshot": "a reader's logical clock is simply the wal_end_lsn value it
// captured at snapshot-open time").
type ReadTxn struct {
	mgr      *Manager
	id       uint64
	snapshot uint64
	closed   bool
}

// BeginRead opens a new read snapshot at the current wal_end_lsn.
func (m *Manager) BeginRead() *ReadTxn {
	snapshot := m.wal.EndLSN()
	id := m.registerReader(snapshot)
	return &ReadTxn{mgr: m, id: id, snapshot: snapshot}
}

// Snapshot returns the LSN this transaction reads as of.
func (t *ReadTxn) Snapshot() uint64 { return t.snapshot }

// Close releases the snapshot, allowing a checkpoint to reclaim overlay
// entries below it.
func (t *ReadTxn) Close() {
	if t.closed {
		return
	}
	t.closed = true
	t.mgr.releaseReader(t.id)
}

// Store returns a btree.Store reading this transaction's snapshot. It
// satisfies btree.Store's shape but rejects mutation (spec.md §7: a
// read-only snapshot never stages writes).
func (t *ReadTxn) Store() *readStore {
	return &readStore{txn: t}
}

type readStore struct {
	txn *ReadTxn
}

func (s *readStore) Get(id uint32) ([]byte, error) {
	t := s.txn
	if t.closed {
		return nil, fmt.Errorf("txn: %w: read transaction closed", vfs.ErrBusy)
	}
	if t.mgr.readerExpired(t.id) {
		return nil, vfs.ErrSnapshotExpired
	}
	if data, ok := t.mgr.overlay.Get(id, t.snapshot); ok {
		return data, nil
	}
	data, err := t.mgr.pager.Get(id)
	if err != nil {
		return nil, err
	}
	t.mgr.pager.Unpin(id)
	return data, nil
}

func (s *readStore) Alloc(data []byte) (uint32, error) {
	return 0, fmt.Errorf("txn: %w: read transaction cannot allocate pages", vfs.ErrBusy)
}

func (s *readStore) Free(id uint32) error {
	return fmt.Errorf("txn: %w: read transaction cannot free pages", vfs.ErrBusy)
}
