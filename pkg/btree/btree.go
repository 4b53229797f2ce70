// ABOUTME: u64-keyed B+Tree over a pluggable page Store, copy-on-write per mutation
// ABOUTME: Splits balance payload bytes; deletes never merge (space reclaimed by vacuum)

package btree

import (
	"fmt"

	"github.com/decentdb/decentdb/pkg/vfs"
)

// Store is the page-management contract the tree needs: fetch a page's
// bytes, allocate a new page with given contents, and release a page. It is
// satisfied by pkg/txn's write-transaction page store (which stages pages
// through the WAL rather than writing the main file directly) and by a
// plain in-memory map in tests (spec.md §9 "Cyclic structures": the pager
// is the single arena, the tree only ever holds page numbers).
type Store interface {
	Get(id uint32) ([]byte, error)
	Alloc(data []byte) (uint32, error)
	Free(id uint32) error
}

// Tree is a u64-keyed B+Tree (spec.md §4.E). Root == 0 means empty.
type Tree struct {
	Root     uint32
	pageSize uint32
	store    Store
}

// New wraps an existing (possibly empty) tree rooted at root.
func New(store Store, pageSize uint32, root uint32) *Tree {
	return &Tree{Root: root, pageSize: pageSize, store: store}
}

// overflowThreshold is leaf_usable_bytes/4 (spec.md §4.E "Large values").
func (t *Tree) overflowThreshold() int {
	usable := int(t.pageSize) - HeaderSize
	return usable / 4
}

func (t *Tree) makeLeafCell(key uint64, value []byte) (leafCell, error) {
	threshold := t.overflowThreshold()
	if len(value) <= threshold {
		return leafCell{key: key, valueLen: len(value), inline: append([]byte(nil), value...)}, nil
	}
	head := append([]byte(nil), value[:threshold]...)
	tail := value[threshold:]
	overflowPage, err := writeOverflowChain(t.store, t.pageSize, tail)
	if err != nil {
		return leafCell{}, err
	}
	return leafCell{key: key, overflow: true, valueLen: len(value), inline: head, overflowPage: overflowPage}, nil
}

func (t *Tree) readLeafValue(c leafCell) ([]byte, error) {
	if !c.overflow {
		return c.inline, nil
	}
	tailLen := c.valueLen - len(c.inline)
	tail, err := readOverflowChain(t.store, t.pageSize, c.overflowPage, tailLen)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, c.valueLen)
	out = append(out, c.inline...)
	out = append(out, tail...)
	return out, nil
}

func (t *Tree) freeLeafCell(c leafCell) error {
	if c.overflow {
		return freeOverflowChain(t.store, c.overflowPage)
	}
	return nil
}

// lookupLeafPos returns the index of the first cell with key >= target
// (an insertion point, or a match if cells[idx].key == target).
func lookupLeafPos(n *node, key uint64) int {
	for i, c := range n.leaves {
		if c.key >= key {
			return i
		}
	}
	return len(n.leaves)
}

// lookupInternal mirrors the teacher's nodeLookupLE: returns the last index
// whose key is <= target, defaulting to 0 (cells[0].key is the real min key
// of child 0's subtree but is never used as a lower comparison bound, the
// classic B+Tree sentinel-first-child convention — see DESIGN.md).
func lookupInternal(n *node, key uint64) int {
	found := 0
	for i := 1; i < len(n.internals); i++ {
		if n.internals[i].key <= key {
			found = i
		} else {
			break
		}
	}
	return found
}

// Get retrieves the value stored at key (spec.md §4.E "search(key) -> Cursor").
func (t *Tree) Get(key uint64) ([]byte, bool, error) {
	if t.Root == 0 {
		return nil, false, nil
	}
	id := t.Root
	for {
		buf, err := t.store.Get(id)
		if err != nil {
			return nil, false, err
		}
		n, err := decodeNode(buf)
		if err != nil {
			return nil, false, err
		}
		if n.kind == KindLeaf {
			idx := lookupLeafPos(n, key)
			if idx < len(n.leaves) && n.leaves[idx].key == key {
				v, err := t.readLeafValue(n.leaves[idx])
				return v, true, err
			}
			return nil, false, nil
		}
		idx := lookupInternal(n, key)
		id = n.internals[idx].child
	}
}

// Insert inserts or updates key -> value (spec.md §4.E "Insertion").
func (t *Tree) Insert(key uint64, value []byte) error {
	if t.Root == 0 {
		cell, err := t.makeLeafCell(key, value)
		if err != nil {
			return err
		}
		leaf := &node{kind: KindLeaf, leaves: []leafCell{cell}}
		id, err := t.store.Alloc(leaf.encode(t.pageSize))
		if err != nil {
			return err
		}
		t.Root = id
		return nil
	}

	result, err := t.treeInsert(t.Root, key, value)
	if err != nil {
		return err
	}
	if err := t.store.Free(t.Root); err != nil {
		return err
	}

	pieces := splitNode(result, t.pageSize)
	ids, err := t.allocPieces(pieces)
	if err != nil {
		return err
	}

	if len(pieces) == 1 {
		t.Root = ids[0]
		return nil
	}

	// The old root split: grow a new level (spec.md §4.E "if the root
	// splits, allocate a new root and grow tree depth").
	root := &node{kind: KindInternal}
	for i, p := range pieces {
		root.internals = append(root.internals, internalCell{key: minKey(p), child: ids[i]})
	}
	rid, err := t.store.Alloc(root.encode(t.pageSize))
	if err != nil {
		return err
	}
	t.Root = rid
	return nil
}

func minKey(n *node) uint64 {
	if n.kind == KindLeaf {
		return n.leaves[0].key
	}
	return n.internals[0].key
}

// treeInsert recursively inserts into the subtree rooted at id, returning a
// possibly-oversized replacement node (not yet split or allocated).
func (t *Tree) treeInsert(id uint32, key uint64, value []byte) (*node, error) {
	buf, err := t.store.Get(id)
	if err != nil {
		return nil, err
	}
	n, err := decodeNode(buf)
	if err != nil {
		return nil, err
	}

	if n.kind == KindLeaf {
		idx := lookupLeafPos(n, key)
		cell, err := t.makeLeafCell(key, value)
		if err != nil {
			return nil, err
		}
		out := &node{kind: KindLeaf, rightSibling: n.rightSibling}
		if idx < len(n.leaves) && n.leaves[idx].key == key {
			if err := t.freeLeafCell(n.leaves[idx]); err != nil {
				return nil, err
			}
			out.leaves = append(out.leaves, n.leaves[:idx]...)
			out.leaves = append(out.leaves, cell)
			out.leaves = append(out.leaves, n.leaves[idx+1:]...)
		} else {
			out.leaves = append(out.leaves, n.leaves[:idx]...)
			out.leaves = append(out.leaves, cell)
			out.leaves = append(out.leaves, n.leaves[idx:]...)
		}
		return out, nil
	}

	idx := lookupInternal(n, key)
	childID := n.internals[idx].child
	childResult, err := t.treeInsert(childID, key, value)
	if err != nil {
		return nil, err
	}
	if err := t.store.Free(childID); err != nil {
		return nil, err
	}

	pieces := splitNode(childResult, t.pageSize)
	ids, err := t.allocPieces(pieces)
	if err != nil {
		return nil, err
	}

	out := &node{kind: KindInternal}
	out.internals = append(out.internals, n.internals[:idx]...)
	for i, p := range pieces {
		out.internals = append(out.internals, internalCell{key: minKey(p), child: ids[i]})
	}
	out.internals = append(out.internals, n.internals[idx+1:]...)
	return out, nil
}

// allocPieces writes split pieces back to front so each leaf piece's
// right-sibling pointer can be set to the next piece's freshly-allocated id
// (same technique as overflow-chain allocation).
func (t *Tree) allocPieces(pieces []*node) ([]uint32, error) {
	ids := make([]uint32, len(pieces))
	var nextID uint32
	for i := len(pieces) - 1; i >= 0; i-- {
		p := pieces[i]
		if p.kind == KindLeaf && i < len(pieces)-1 {
			p.rightSibling = nextID
		}
		id, err := t.store.Alloc(p.encode(t.pageSize))
		if err != nil {
			return nil, err
		}
		ids[i] = id
		nextID = id
	}
	return ids, nil
}

// splitNode cuts an oversized node into pieces that each fit in pageSize,
// balancing payload bytes per piece (spec.md §4.E "choose a midpoint that
// balances payload bytes (not cell count)").
func splitNode(n *node, pageSize uint32) []*node {
	if n.byteSize() <= int(pageSize) {
		return []*node{n}
	}

	var pieces []*node
	switch n.kind {
	case KindLeaf:
		remaining := n.leaves
		for {
			cut := fillCount(pageSize, len(remaining), func(i int) int { return leafCellSize(remaining[i]) })
			pieces = append(pieces, &node{kind: KindLeaf, leaves: append([]leafCell(nil), remaining[:cut]...)})
			remaining = remaining[cut:]
			if (&node{kind: KindLeaf, leaves: remaining}).byteSize() <= int(pageSize) {
				pieces = append(pieces, &node{kind: KindLeaf, leaves: append([]leafCell(nil), remaining...)})
				break
			}
		}
		pieces[len(pieces)-1].rightSibling = n.rightSibling
	case KindInternal:
		remaining := n.internals
		for {
			cut := fillCount(pageSize, len(remaining), func(i int) int { return internalCellSize(remaining[i]) })
			pieces = append(pieces, &node{kind: KindInternal, internals: append([]internalCell(nil), remaining[:cut]...)})
			remaining = remaining[cut:]
			if (&node{kind: KindInternal, internals: remaining}).byteSize() <= int(pageSize) {
				pieces = append(pieces, &node{kind: KindInternal, internals: append([]internalCell(nil), remaining...)})
				break
			}
		}
	}
	return pieces
}

// fillCount returns how many leading cells fit within a ~75%-full target
// page, always at least 1.
func fillCount(pageSize uint32, n int, sizeOf func(int) int) int {
	target := int(pageSize) * 3 / 4
	size := HeaderSize
	cut := 0
	for i := 0; i < n; i++ {
		sz := sizeOf(i)
		if size+sz > target && cut > 0 {
			return cut
		}
		size += sz
		cut = i + 1
	}
	return cut
}

// Delete removes key if present (spec.md §4.E "Deletion" — no merge/rebalance
// in the MVP; space is reclaimed by vacuum).
func (t *Tree) Delete(key uint64) (bool, error) {
	if t.Root == 0 {
		return false, nil
	}

	type frame struct {
		id  uint32
		n   *node
		idx int
	}
	var path []frame
	id := t.Root
	for {
		buf, err := t.store.Get(id)
		if err != nil {
			return false, err
		}
		n, err := decodeNode(buf)
		if err != nil {
			return false, err
		}
		if n.kind == KindLeaf {
			idx := lookupLeafPos(n, key)
			if idx >= len(n.leaves) || n.leaves[idx].key != key {
				return false, nil
			}
			path = append(path, frame{id: id, n: n, idx: idx})
			break
		}
		idx := lookupInternal(n, key)
		path = append(path, frame{id: id, n: n, idx: idx})
		id = n.internals[idx].child
	}

	leafFrame := path[len(path)-1]
	leaf := leafFrame.n
	cell := leaf.leaves[leafFrame.idx]
	if err := t.freeLeafCell(cell); err != nil {
		return false, err
	}
	newLeaf := &node{kind: KindLeaf, rightSibling: leaf.rightSibling}
	newLeaf.leaves = append(newLeaf.leaves, leaf.leaves[:leafFrame.idx]...)
	newLeaf.leaves = append(newLeaf.leaves, leaf.leaves[leafFrame.idx+1:]...)
	if err := t.store.Free(leafFrame.id); err != nil {
		return false, err
	}
	childID, err := t.store.Alloc(newLeaf.encode(t.pageSize))
	if err != nil {
		return false, err
	}

	for i := len(path) - 2; i >= 0; i-- {
		f := path[i]
		newInternal := &node{kind: KindInternal, internals: append([]internalCell(nil), f.n.internals...)}
		newInternal.internals[f.idx].child = childID
		if err := t.store.Free(f.id); err != nil {
			return false, err
		}
		nid, err := t.store.Alloc(newInternal.encode(t.pageSize))
		if err != nil {
			return false, err
		}
		childID = nid
	}
	t.Root = childID
	return true, nil
}

// ErrInvalidDirection is returned by Scan for an unrecognized Direction.
var ErrInvalidDirection = fmt.Errorf("btree: %w: invalid scan direction", vfs.ErrMalformed)
