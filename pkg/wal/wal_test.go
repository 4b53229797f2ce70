// ABOUTME: Frame codec, recovery, overlay, and checkpoint coverage
// ABOUTME: Mirrors spec.md scenarios S1 (clean recovery) and S2 (torn commit)

package wal

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/decentdb/decentdb/pkg/vfs"
)

func TestFrameEncodeDecodeRoundTrip(t *testing.T) {
	payload := EncodePagePayload(7, []byte("hello page"))
	frame := Frame{Kind: KindPage, LSN: 42, Payload: payload}

	encoded := Encode(frame)
	decoded, n, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if n != len(encoded) {
		t.Fatalf("consumed %d bytes, want %d", n, len(encoded))
	}
	if decoded.Kind != KindPage || decoded.LSN != 42 {
		t.Fatalf("decoded = %+v", decoded)
	}
	pageID, data, err := DecodePagePayload(decoded.Payload)
	if err != nil {
		t.Fatalf("DecodePagePayload: %v", err)
	}
	if pageID != 7 || string(data) != "hello page" {
		t.Fatalf("got pageID=%d data=%q", pageID, data)
	}
}

func TestFrameDecodeRejectsTruncated(t *testing.T) {
	full := Encode(Frame{Kind: KindCommit, LSN: 1, Payload: EncodeCommitPayload(1, 100)})
	if _, _, err := Decode(full[:len(full)-1]); err == nil {
		t.Fatal("expected error decoding truncated frame")
	}
}

func TestFrameDecodeRejectsFlippedChecksumBit(t *testing.T) {
	full := Encode(Frame{Kind: KindCommit, LSN: 1, Payload: EncodeCommitPayload(1, 100)})
	corrupt := append([]byte(nil), full...)
	corrupt[len(corrupt)-1] ^= 0x01

	_, _, err := Decode(corrupt)
	if err != ErrCorrupted {
		t.Fatalf("got %v, want ErrCorrupted", err)
	}
}

func openTestWAL(t *testing.T) *WAL {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test-wal")
	w, err := Open(path, 4096, 0xabc)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = w.Close() })
	return w
}

// appendCommittedTxn writes one PAGE frame plus its COMMIT frame, as the
// single writer would for a one-page transaction.
func appendCommittedTxn(t *testing.T, w *WAL, pageID uint32, data []byte) uint64 {
	t.Helper()
	if _, _, err := w.Append(KindPage, EncodePagePayload(pageID, data)); err != nil {
		t.Fatalf("append page: %v", err)
	}
	lsn, _, err := w.Append(KindCommit, EncodeCommitPayload(1, 0))
	if err != nil {
		t.Fatalf("append commit: %v", err)
	}
	if err := w.PublishCommit(lsn); err != nil {
		t.Fatalf("publish commit: %v", err)
	}
	return lsn
}

// TestRecoveryReplaysCommittedTransaction covers spec.md scenario S1: after a
// clean shutdown, recovery replays every committed PAGE frame into the
// overlay and restores wal_end_lsn.
func TestRecoveryReplaysCommittedTransaction(t *testing.T) {
	w := openTestWAL(t)
	lsn := appendCommittedTxn(t, w, 3, []byte("row-a"))

	raw, err := w.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}

	overlay := NewOverlay()
	result, err := Recover(raw, overlay)
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if result.EndLSN != lsn {
		t.Fatalf("EndLSN = %d, want %d", result.EndLSN, lsn)
	}
	if result.TxnsDiscarded != 0 {
		t.Fatalf("TxnsDiscarded = %d, want 0", result.TxnsDiscarded)
	}

	data, ok := overlay.Get(3, lsn)
	if !ok || string(data) != "row-a" {
		t.Fatalf("overlay.Get(3, %d) = %q, %v", lsn, data, ok)
	}
}

// TestRecoveryDiscardsTornCommit covers spec.md scenario S2: a transaction
// whose COMMIT frame never made it to disk must be entirely invisible after
// recovery, as if it never happened.
func TestRecoveryDiscardsTornCommit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "torn-wal")
	raw, err := vfs.OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	injector := vfs.NewFaultInjector(raw)

	w, err := OpenWithFile(injector, 4096, 0xabc)
	if err != nil {
		t.Fatalf("OpenWithFile: %v", err)
	}

	// First transaction commits cleanly and must survive.
	committedLSN := appendCommittedTxn(t, w, 1, []byte("committed"))

	// Second transaction's PAGE frame lands intact, but the crash hits
	// while its COMMIT frame is being written, tearing it.
	if _, _, err := w.Append(KindPage, EncodePagePayload(2, []byte("never-committed"))); err != nil {
		t.Fatalf("append second txn's page: %v", err)
	}
	injector.TruncateWritesTo = 5
	if _, _, err := w.Append(KindCommit, EncodeCommitPayload(2, 0)); err != nil {
		t.Fatalf("append torn commit: %v", err)
	}

	// Simulate the crash itself: a real crash never calls Close, so don't
	// either — reopen the file fresh so size is recomputed from what
	// actually landed on disk, the way a real restart would.
	reopened, err := vfs.OpenFile(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	w2, err := OpenWithFile(reopened, 4096, 0xabc)
	if err != nil {
		t.Fatalf("OpenWithFile on reopen: %v", err)
	}
	t.Cleanup(func() { _ = w2.Close() })

	bytesWritten, err := w2.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}

	overlay := NewOverlay()
	result, err := Recover(bytesWritten, overlay)
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if result.EndLSN != committedLSN {
		t.Fatalf("EndLSN = %d, want %d (torn txn must not advance it)", result.EndLSN, committedLSN)
	}
	if result.TxnsDiscarded != 1 {
		t.Fatalf("TxnsDiscarded = %d, want 1", result.TxnsDiscarded)
	}

	if _, ok := overlay.Get(2, ^uint64(0)); ok {
		t.Fatal("torn page must not appear in the overlay, even at the highest possible snapshot")
	}
	data, ok := overlay.Get(1, committedLSN)
	if !ok || string(data) != "committed" {
		t.Fatalf("committed page missing after recovery: %q, %v", data, ok)
	}
}

func TestRecoveryIsIdempotent(t *testing.T) {
	w := openTestWAL(t)
	lsn := appendCommittedTxn(t, w, 9, []byte("x"))
	raw, err := w.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}

	first := NewOverlay()
	r1, err := Recover(raw, first)
	if err != nil {
		t.Fatalf("first Recover: %v", err)
	}
	second := NewOverlay()
	r2, err := Recover(raw, second)
	if err != nil {
		t.Fatalf("second Recover: %v", err)
	}
	if r1.EndLSN != r2.EndLSN || r1.EndLSN != lsn {
		t.Fatalf("recovery not idempotent: %d vs %d", r1.EndLSN, r2.EndLSN)
	}
	d1, _ := first.Get(9, lsn)
	d2, _ := second.Get(9, lsn)
	if string(d1) != string(d2) {
		t.Fatalf("overlay contents differ between runs: %q vs %q", d1, d2)
	}
}

func TestOverlaySnapshotIsolation(t *testing.T) {
	o := NewOverlay()
	o.Put(1, 5, []byte("v5"))
	o.Put(1, 10, []byte("v10"))

	if data, ok := o.Get(1, 5); !ok || string(data) != "v5" {
		t.Fatalf("Get(1,5) = %q, %v", data, ok)
	}
	if data, ok := o.Get(1, 7); !ok || string(data) != "v5" {
		t.Fatalf("Get(1,7) = %q, %v, want newest entry <= snapshot", data, ok)
	}
	if data, ok := o.Get(1, 10); !ok || string(data) != "v10" {
		t.Fatalf("Get(1,10) = %q, %v", data, ok)
	}
	if _, ok := o.Get(1, 4); ok {
		t.Fatal("Get(1,4) should miss: no entry with lsn <= 4")
	}
}

func TestOverlayPruneRetainsNewerEntries(t *testing.T) {
	o := NewOverlay()
	o.Put(1, 5, []byte("v5"))
	o.Put(1, 10, []byte("v10"))

	o.PruneUpTo(5)

	if _, ok := o.Get(1, 5); ok {
		t.Fatal("entry at lsn=5 should have been pruned")
	}
	if data, ok := o.Get(1, 10); !ok || string(data) != "v10" {
		t.Fatalf("entry at lsn=10 should survive prune: %q, %v", data, ok)
	}
}

type fakeGate struct {
	min     uint64
	hasMin  bool
	expired []uint64
}

func (g *fakeGate) MinActiveSnapshot() (uint64, bool) { return g.min, g.hasMin }
func (g *fakeGate) ExpireBelow(floor uint64) []uint64 {
	g.expired = append(g.expired, floor)
	return nil
}

type fakePager struct {
	put map[uint32][]byte
}

func (p *fakePager) Put(id uint32, data []byte) error {
	if p.put == nil {
		p.put = make(map[uint32][]byte)
	}
	p.put[id] = append([]byte(nil), data...)
	return nil
}
func (p *fakePager) Sync() error { return nil }

// TestCheckpointFlushesAndWaitsForReader covers a checkpoint with an active
// reader whose snapshot is already at the checkpoint LSN: the page is
// flushed, the reader is not force-expired, and the overlay entry is pruned.
func TestCheckpointFlushesAndWaitsForReader(t *testing.T) {
	w := openTestWAL(t)
	lsn := appendCommittedTxn(t, w, 4, []byte("checkpointed-value"))

	overlay := NewOverlay()
	overlay.Put(4, lsn, []byte("checkpointed-value"))

	pager := &fakePager{}
	gate := &fakeGate{min: lsn, hasMin: true}

	ck := NewCheckpointer(w, overlay, pager, gate)
	ck.ForceDeadline = 1 // expire immediately if the reader never advances; here it already matches lsn
	got, err := ck.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got != lsn {
		t.Fatalf("checkpointed LSN = %d, want %d", got, lsn)
	}
	if string(pager.put[4]) != "checkpointed-value" {
		t.Fatalf("pager did not receive flushed page: %v", pager.put)
	}
	if len(gate.expired) != 0 {
		t.Fatal("reader already at lsn should not be force-expired")
	}
	if _, ok := overlay.Get(4, lsn); ok {
		t.Fatal("overlay entry should be pruned once checkpoint completes and reader is caught up")
	}
}

// TestRunPassiveDoesNotTruncateWhenReaderLags covers spec.md §6's
// "passive" checkpoint mode: it must not discard WAL frames a lagging
// reader (or a later, still-uncheckpointed commit) still depends on.
func TestRunPassiveDoesNotTruncateWhenReaderLags(t *testing.T) {
	w := openTestWAL(t)
	lsn1 := appendCommittedTxn(t, w, 4, []byte("v1"))
	lsn2 := appendCommittedTxn(t, w, 5, []byte("v2"))

	overlay := NewOverlay()
	overlay.Put(4, lsn1, []byte("v1"))
	overlay.Put(5, lsn2, []byte("v2"))

	pager := &fakePager{}
	gate := &fakeGate{min: lsn1, hasMin: true} // a reader is stuck at the first commit

	ck := NewCheckpointer(w, overlay, pager, gate)
	got, err := ck.RunPassive()
	if err != nil {
		t.Fatalf("RunPassive: %v", err)
	}
	if got != lsn1 {
		t.Fatalf("checkpointed up to %d, want %d (the lagging reader's snapshot)", got, lsn1)
	}
	if string(pager.put[4]) != "v1" {
		t.Fatalf("expected page 4 flushed, got %v", pager.put)
	}
	if _, flushed := pager.put[5]; flushed {
		t.Fatal("page 5 is newer than the lagging reader's snapshot and must not be flushed yet")
	}
	if len(gate.expired) != 0 {
		t.Fatal("a passive checkpoint must never force-expire a reader")
	}
	if _, ok := overlay.Get(5, lsn2); !ok {
		t.Fatal("overlay entry past the passive checkpoint's target must survive")
	}

	// The second commit's frame must still be on disk: a reopen/replay
	// would otherwise lose it.
	raw, err := w.ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	recovered := NewOverlay()
	result, err := Recover(raw, recovered)
	if err != nil {
		t.Fatal(err)
	}
	if result.EndLSN < lsn2 {
		t.Fatalf("recovery end LSN %d should reach the second commit %d", result.EndLSN, lsn2)
	}
	if _, ok := recovered.Get(5, lsn2); !ok {
		t.Fatal("second commit's page should still be recoverable after a passive checkpoint")
	}
}

func TestCheckpointForceExpiresLaggingReader(t *testing.T) {
	w := openTestWAL(t)
	lsn := appendCommittedTxn(t, w, 4, []byte("v"))

	overlay := NewOverlay()
	overlay.Put(4, lsn, []byte("v"))

	pager := &fakePager{}
	gate := &fakeGate{min: 0, hasMin: true} // reader snapshotted before anything; never catches up

	ck := NewCheckpointer(w, overlay, pager, gate)
	ck.ForceDeadline = 1 // force past the deadline almost immediately
	ck.sleep = func(d time.Duration) {}                                 // skip the real poll wait

	if _, err := ck.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(gate.expired) != 1 || gate.expired[0] != lsn {
		t.Fatalf("expired = %v, want [%d]", gate.expired, lsn)
	}
}
