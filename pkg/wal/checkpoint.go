// ABOUTME: Checkpoint protocol: flush overlay pages into the main file, then prune/truncate
// ABOUTME: Waits for lagging readers up to a deadline, then force-expires them

package wal

import (
	"time"
)

// DefaultForceDeadline is how long a checkpoint waits for the slowest active
// reader before forcing past it (spec.md §4.D "Checkpoint").
const DefaultForceDeadline = 30 * time.Second

// SnapshotGate is satisfied by the reader-snapshot registry (owned by
// pkg/txn). Defined here, not in pkg/txn, so that pkg/wal never imports
// pkg/txn — pkg/txn already imports pkg/wal to drive commits, and a back
// import would cycle.
type SnapshotGate interface {
	// MinActiveSnapshot returns the oldest snapshot LSN among currently
	// active readers, and false if there are none.
	MinActiveSnapshot() (uint64, bool)
	// ExpireBelow marks every active reader whose snapshot is strictly below
	// floor as expired (its next read fails with vfs.ErrSnapshotExpired),
	// and returns their transaction ids for logging.
	ExpireBelow(floor uint64) []uint64
}

// PageFlusher is the subset of *pager.Pager a checkpoint needs: writing a
// page's bytes into the main file and fsyncing it.
type PageFlusher interface {
	Put(id uint32, data []byte) error
	Sync() error
}

// Checkpointer drives spec.md §4.D's checkpoint protocol.
type Checkpointer struct {
	wal     *WAL
	overlay *Overlay
	pager   PageFlusher
	gate    SnapshotGate

	// ForceDeadline bounds how long Run waits for lagging readers before
	// expiring them. Zero means DefaultForceDeadline.
	ForceDeadline time.Duration

	// sleep is overridden in tests to avoid a real deadline wait.
	sleep func(time.Duration)
}

// NewCheckpointer builds a Checkpointer over wal/overlay/pager, gated by
// gate's view of active reader snapshots.
func NewCheckpointer(w *WAL, overlay *Overlay, pager PageFlusher, gate SnapshotGate) *Checkpointer {
	return &Checkpointer{wal: w, overlay: overlay, pager: pager, gate: gate, sleep: time.Sleep}
}

// Run executes one checkpoint at the log's current end-LSN, returning the
// LSN it checkpointed up to.
//
// Protocol (spec.md §4.D "Checkpoint"):
//  1. Emit CHECKPOINT_BEGIN.
//  2. Flush every overlay page with lsn <= L into the main file.
//  3. fsync the main file.
//  4. Emit CHECKPOINT_END, fsync the WAL.
//  5. Wait for every active reader's snapshot to reach L, up to
//     ForceDeadline; readers still lagging past the deadline are expired
//     (spec.md §7 SnapshotExpired) so the checkpoint is not starved forever.
//  6. Prune the overlay up to L and, when L is the WAL's end, truncate the
//     WAL back to its header (CHECKPOINT_END included).
func (c *Checkpointer) Run() (uint64, error) {
	return c.runTo(c.wal.EndLSN(), true)
}

// RunPassive checkpoints only as far as the slowest active reader's
// snapshot already allows, without waiting on or force-expiring anyone
// (spec.md §6 "checkpoint(Db, mode) — passive (cooperates with readers) or
// force (honors timeout)"). If there are no active readers it checkpoints
// all the way to the current WAL end, same as Run.
func (c *Checkpointer) RunPassive() (uint64, error) {
	l := c.wal.EndLSN()
	if c.gate != nil {
		if min, ok := c.gate.MinActiveSnapshot(); ok && min < l {
			l = min
		}
	}
	return c.runTo(l, false)
}

func (c *Checkpointer) runTo(l uint64, wait bool) (uint64, error) {
	atEnd := l == c.wal.EndLSN()

	if _, _, err := c.wal.Append(KindCheckpointBegin, nil); err != nil {
		return 0, err
	}

	for pageID, data := range c.overlay.PageIDsAtOrBelow(l) {
		if err := c.pager.Put(pageID, data); err != nil {
			return 0, err
		}
	}
	if err := c.pager.Sync(); err != nil {
		return 0, err
	}

	if _, _, err := c.wal.Append(KindCheckpointEnd, nil); err != nil {
		return 0, err
	}
	if err := c.wal.Fsync(); err != nil {
		return 0, err
	}

	if wait {
		c.waitForReaders(l)
	}

	c.overlay.PruneUpTo(l)

	// Truncating the WAL file is only safe once L covers everything written
	// to it: a passive checkpoint that stopped short of the current end
	// (because a reader is still lagging behind it) must leave those later
	// frames on disk for the next checkpoint and for crash recovery.
	if atEnd {
		if err := c.wal.Truncate(0); err != nil {
			return 0, err
		}
	}

	return l, nil
}

func (c *Checkpointer) waitForReaders(l uint64) {
	if c.gate == nil {
		return
	}
	deadline := c.ForceDeadline
	if deadline <= 0 {
		deadline = DefaultForceDeadline
	}
	sleep := c.sleep
	if sleep == nil {
		sleep = time.Sleep
	}

	const pollInterval = 10 * time.Millisecond
	waited := time.Duration(0)
	for {
		min, ok := c.gate.MinActiveSnapshot()
		if !ok || min >= l {
			return
		}
		if waited >= deadline {
			c.gate.ExpireBelow(l)
			return
		}
		sleep(pollInterval)
		waited += pollInterval
	}
}
