// ABOUTME: Freelist — unrolled linked list of freed page ids, rooted in the header
// ABOUTME: Pop from the head to allocate, push to the tail to free; frozen mid-transaction

package pager

import "encoding/binary"

const freeListNodeHeader = 4 // [next page-id u32]

// freeListNode is a page-sized buffer holding a linked-list link plus a run
// of freed page ids, adapted from the teacher's LNode (pkg/storage/freelist.go).
type freeListNode []byte

func (n freeListNode) next() uint32 { return binary.LittleEndian.Uint32(n[0:4]) }
func (n freeListNode) setNext(v uint32) {
	binary.LittleEndian.PutUint32(n[0:4], v)
}
func (n freeListNode) get(idx int) uint32 {
	off := freeListNodeHeader + idx*4
	return binary.LittleEndian.Uint32(n[off:])
}
func (n freeListNode) set(idx int, v uint32) {
	off := freeListNodeHeader + idx*4
	binary.LittleEndian.PutUint32(n[off:], v)
}

// freeList manages freed page ids for reuse. It is embedded in *Pager and
// reads, writes and allocates its node pages through the pager's raw file
// helpers (readRaw/writeRaw/allocRaw): node pages bypass the page cache and
// are written straight to the main file, not through the WAL.
type freeList struct {
	pageSize int
	capacity int // entries per node

	headPage uint32
	headSeq  uint64
	tailPage uint32
	tailSeq  uint64

	// maxSeq/frozen bound the head during an active write transaction so a
	// page freed by that same transaction cannot be immediately reused before
	// it commits (spec.md §4.B "Freelist protocol"). frozen is tracked
	// separately from maxSeq==0 so the very first transaction against an
	// empty freelist still freezes correctly.
	maxSeq uint64
	frozen bool

	get func(id uint32) ([]byte, error)
	put func(id uint32, data []byte) error
	new func(data []byte) (uint32, error)
}

func newFreeList(pageSize int) *freeList {
	return &freeList{
		pageSize: pageSize,
		capacity: (pageSize - freeListNodeHeader) / 4,
	}
}

// total returns the number of pages currently parked in the freelist.
func (fl *freeList) total() int {
	if fl.headSeq >= fl.tailSeq {
		return 0
	}
	return int(fl.tailSeq - fl.headSeq)
}

// freezeForTransaction snapshots tailSeq as the new maxSeq so pages freed by
// the upcoming transaction cannot be popped before it commits.
func (fl *freeList) freezeForTransaction() {
	fl.maxSeq = fl.tailSeq
	fl.frozen = true
}

// unfreeze lifts the freeze installed by freezeForTransaction, called once
// the transaction that installed it has committed or rolled back.
func (fl *freeList) unfreeze() {
	fl.frozen = false
}

// pop removes and returns a freed page id, or (0, false) if the freelist is
// empty or every available entry is frozen behind maxSeq.
func (fl *freeList) pop() (uint32, bool, error) {
	if fl.headSeq >= fl.tailSeq {
		return 0, false, nil
	}
	if fl.frozen && fl.headSeq >= fl.maxSeq {
		return 0, false, nil
	}
	if fl.headPage == 0 {
		return 0, false, nil
	}

	raw, err := fl.get(fl.headPage)
	if err != nil {
		return 0, false, err
	}
	node := freeListNode(raw)
	idx := int(fl.headSeq % uint64(fl.capacity))
	ptr := node.get(idx)
	fl.headSeq++

	if fl.headSeq%uint64(fl.capacity) == 0 {
		next := node.next()
		if next != 0 {
			if err := fl.push(fl.headPage); err != nil {
				return 0, false, err
			}
			fl.headPage = next
		}
	}
	return ptr, true, nil
}

// push appends a freed page id to the tail, allocating a new node page when
// the current tail is full.
func (fl *freeList) push(id uint32) error {
	if fl.tailPage == 0 {
		buf := make([]byte, fl.pageSize)
		freeListNode(buf).setNext(0)
		pid, err := fl.new(buf)
		if err != nil {
			return err
		}
		fl.tailPage = pid
		if fl.headPage == 0 {
			fl.headPage = pid
		}
	}

	idx := int(fl.tailSeq % uint64(fl.capacity))
	if idx == 0 && fl.tailSeq > 0 {
		buf := make([]byte, fl.pageSize)
		freeListNode(buf).setNext(0)
		newTail, err := fl.new(buf)
		if err != nil {
			return err
		}

		old, err := fl.get(fl.tailPage)
		if err != nil {
			return err
		}
		oldCopy := make([]byte, fl.pageSize)
		copy(oldCopy, old)
		freeListNode(oldCopy).setNext(newTail)
		if err := fl.put(fl.tailPage, oldCopy); err != nil {
			return err
		}

		fl.tailPage = newTail
		idx = 0
	}

	cur, err := fl.get(fl.tailPage)
	if err != nil {
		return err
	}
	buf := make([]byte, fl.pageSize)
	copy(buf, cur)
	freeListNode(buf).set(idx, id)
	if err := fl.put(fl.tailPage, buf); err != nil {
		return err
	}
	fl.tailSeq++
	return nil
}
