// ABOUTME: Sidecar WAL file: header, strictly sequential LSN, append/fsync/truncate
// ABOUTME: Oblivious to transactions — pkg/txn sequences PAGE/COMMIT frames through it

package wal

import (
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/decentdb/decentdb/pkg/vfs"
)

// SidecarMagic identifies a DecentDB WAL file (spec.md §6 "File layout").
const SidecarMagic uint32 = 0x31444457 // "WDD1" little-endian

// SidecarHeaderSize is [magic u32][version u16][page-size u16][salt u64].
const SidecarHeaderSize = 4 + 2 + 2 + 8

// WAL is the append-only log file. Appends are serialized by mu (mirroring
// the single-writer model: only one write transaction's frames are ever
// in flight at a time) and the published end-LSN is read lock-free via
// atomic load/store with acquire/release semantics (spec.md §4.D "Snapshot").
type WAL struct {
	mu sync.Mutex

	file     vfs.File
	pageSize uint16
	salt     uint64

	size   int64  // current file size, including the header
	endLSN uint64 // atomic: published wal_end_lsn
	nextLSN uint64 // next LSN to assign; protected by mu

	closed bool
}

// Open opens or creates the sidecar WAL file at path.
func Open(path string, pageSize uint16, salt uint64) (*WAL, error) {
	f, err := vfs.OpenFile(path)
	if err != nil {
		return nil, err
	}
	return openFile(f, pageSize, salt)
}

// OpenWithFile is Open over an already-opened vfs.File, letting tests wrap
// the file in a vfs.FaultInjector to exercise torn writes and dropped
// fsyncs without going through the real filesystem path.
func OpenWithFile(f vfs.File, pageSize uint16, salt uint64) (*WAL, error) {
	return openFile(f, pageSize, salt)
}

func openFile(f vfs.File, pageSize uint16, salt uint64) (*WAL, error) {
	size, err := f.Size()
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	w := &WAL{file: f, pageSize: pageSize, salt: salt}

	if size == 0 {
		hdr := make([]byte, SidecarHeaderSize)
		binary.LittleEndian.PutUint32(hdr[0:4], SidecarMagic)
		binary.LittleEndian.PutUint16(hdr[4:6], 1) // format version
		binary.LittleEndian.PutUint16(hdr[6:8], pageSize)
		binary.LittleEndian.PutUint64(hdr[8:16], salt)
		if _, err := f.WriteAt(hdr, 0); err != nil {
			_ = f.Close()
			return nil, err
		}
		if err := f.Sync(); err != nil {
			_ = f.Close()
			return nil, err
		}
		w.size = SidecarHeaderSize
		return w, nil
	}

	hdr := make([]byte, SidecarHeaderSize)
	if _, err := f.ReadAt(hdr, 0); err != nil {
		_ = f.Close()
		return nil, err
	}
	if binary.LittleEndian.Uint32(hdr[0:4]) != SidecarMagic {
		_ = f.Close()
		return nil, fmt.Errorf("wal: %w: bad sidecar magic", vfs.ErrIncompatibleFormat)
	}
	w.pageSize = binary.LittleEndian.Uint16(hdr[6:8])
	w.salt = binary.LittleEndian.Uint64(hdr[8:16])
	w.size = size
	return w, nil
}

// SetRecoveredState installs the LSN recovery computed, after a scan of the
// existing log contents. Must be called before any Append.
func (w *WAL) SetRecoveredState(lastLSN uint64) {
	atomic.StoreUint64(&w.endLSN, lastLSN)
	w.nextLSN = lastLSN
}

// EndLSN loads the published wal_end_lsn with acquire semantics — the value
// a new reader captures as its snapshot (spec.md §4.D "Snapshot").
func (w *WAL) EndLSN() uint64 {
	return atomic.LoadUint64(&w.endLSN)
}

// publishEndLSN stores lsn with release semantics, making every frame up to
// and including it visible to readers that load EndLSN afterward.
func (w *WAL) publishEndLSN(lsn uint64) {
	atomic.StoreUint64(&w.endLSN, lsn)
}

// Append writes one frame, assigning it the next sequential LSN. Callers
// hold mu implicitly — Append serializes internally — but higher layers
// still need their own writer mutex to group a transaction's frames
// atomically against other transactions (spec.md §4.G "writer mutex").
func (w *WAL) Append(kind Kind, payload []byte) (lsn uint64, offset int64, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return 0, 0, ErrClosed
	}

	w.nextLSN++
	lsn = w.nextLSN
	frame := Encode(Frame{Kind: kind, LSN: lsn, Payload: payload})

	offset = w.size
	if _, err := w.file.WriteAt(frame, offset); err != nil {
		w.nextLSN--
		return 0, 0, err
	}
	w.size += int64(len(frame))
	return lsn, offset, nil
}

// PublishCommit fsyncs the log and publishes lsn as the new wal_end_lsn.
// Exactly one fsync follows a COMMIT frame, per spec.md §4.D "Write path".
func (w *WAL) PublishCommit(lsn uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	if err := w.file.Sync(); err != nil {
		return err
	}
	w.publishEndLSN(lsn)
	return nil
}

// Fsync flushes the log without publishing a new end-LSN (used by
// checkpoint, which fsyncs the WAL after CHECKPOINT_END).
func (w *WAL) Fsync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	return w.file.Sync()
}

// Size returns the current on-disk size of the log file.
func (w *WAL) Size() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.size
}

// ReadAll returns every byte of the log after the header, for recovery and
// checkpoint-truncation scanning.
func (w *WAL) ReadAll() ([]byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := w.size - SidecarHeaderSize
	if n <= 0 {
		return nil, nil
	}
	buf := make([]byte, n)
	if _, err := w.file.ReadAt(buf, SidecarHeaderSize); err != nil {
		return nil, err
	}
	return buf, nil
}

// Truncate shrinks the log to keep only the header plus keepBytes of frame
// data (spec.md §4.D "Checkpoint": "truncate WAL to just past CHECKPOINT_END").
func (w *WAL) Truncate(keepBytes int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	newSize := SidecarHeaderSize + keepBytes
	if err := w.file.Truncate(newSize); err != nil {
		return err
	}
	if err := w.file.Sync(); err != nil {
		return err
	}
	w.size = newSize
	return nil
}

// Close closes the underlying file.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	return w.file.Close()
}
