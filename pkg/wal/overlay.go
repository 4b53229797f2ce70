// ABOUTME: In-memory index mapping page-id to the newest WAL frame at or before a snapshot
// ABOUTME: Rebuilt on open by recovery; pruned once no active reader still needs the old entries

package wal

import "sync"

type overlayEntry struct {
	lsn  uint64
	data []byte
}

// Overlay is the read-overlay index of spec.md §4.D "Read overlay": for a
// page read under snapshot S, it returns the newest WAL-resident version of
// that page with lsn <= S, or "not present" if the main file already holds
// the answer.
//
// Entries are retained in ascending-LSN order per page (single-writer
// appends are already LSN-ordered, so no sort is needed on insert).
type Overlay struct {
	mu    sync.RWMutex
	pages map[uint32][]overlayEntry
}

// NewOverlay returns an empty overlay.
func NewOverlay() *Overlay {
	return &Overlay{pages: make(map[uint32][]overlayEntry)}
}

// Put records that pageID's contents as of lsn are data. Called both while
// appending new PAGE frames and while replaying the log at recovery.
func (o *Overlay) Put(pageID uint32, lsn uint64, data []byte) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pages[pageID] = append(o.pages[pageID], overlayEntry{lsn: lsn, data: data})
}

// Get returns the newest version of pageID visible at snapshot, if the
// overlay holds one.
func (o *Overlay) Get(pageID uint32, snapshot uint64) ([]byte, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	entries := o.pages[pageID]
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].lsn <= snapshot {
			return entries[i].data, true
		}
	}
	return nil, false
}

// PruneUpTo discards every entry with lsn <= floor, across all pages. The
// caller (the checkpointer) must only call this once it has confirmed no
// active reader's snapshot is older than floor — otherwise such a reader
// would silently fall through to the main file's newer contents
// (spec.md §4.D "the pre-checkpoint overlay index must be retained until
// the last such reader releases it").
func (o *Overlay) PruneUpTo(floor uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for id, entries := range o.pages {
		kept := entries[:0]
		for _, e := range entries {
			if e.lsn > floor {
				kept = append(kept, e)
			}
		}
		if len(kept) == 0 {
			delete(o.pages, id)
		} else {
			o.pages[id] = kept
		}
	}
}

// PageIDsAtOrBelow returns every page id with an entry whose lsn <= floor,
// each paired with the bytes of its newest such entry — the set a
// checkpoint must flush into the main file.
func (o *Overlay) PageIDsAtOrBelow(floor uint64) map[uint32][]byte {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make(map[uint32][]byte)
	for id, entries := range o.pages {
		for i := len(entries) - 1; i >= 0; i-- {
			if entries[i].lsn <= floor {
				out[id] = entries[i].data
				break
			}
		}
	}
	return out
}
