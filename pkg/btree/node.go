// ABOUTME: B+Tree page encoding: varint-framed cells over a u64 key space
// ABOUTME: Nodes are fully decoded, mutated as a slice of cells, then re-encoded (copy-on-write)

package btree

import (
	"encoding/binary"
	"fmt"

	"github.com/decentdb/decentdb/pkg/vfs"
)

// Kind distinguishes leaf pages (carry values) from internal pages (carry
// child pointers), per spec.md §3 "B+Tree page".
type Kind uint8

const (
	KindLeaf     Kind = 1
	KindInternal Kind = 2
)

// HeaderSize is [kind u8][cell-count u16][free-space-offset u16][right-sibling/rightmost-child u32].
const HeaderSize = 1 + 2 + 2 + 4

const maxVarintLen = 10

// cellInline/cellOverflow are the leaf cell flag values; cellOverflow marks
// a leaf cell whose value spills onto overflow pages.
const (
	cellInline   = 0
	cellOverflow = 1
)

// leafCell is one decoded leaf entry: key -> value, inline or overflow-backed.
type leafCell struct {
	key       uint64
	overflow  bool
	valueLen  int    // total logical value length
	inline    []byte // head bytes stored on this page (full value if !overflow)
	overflowPage uint32
}

// internalCell is one decoded internal entry: key -> child page.
type internalCell struct {
	key   uint64
	child uint32
}

// node is the decoded, mutable in-memory form of a page.
type node struct {
	kind Kind

	// leaf-only
	leaves       []leafCell
	rightSibling uint32

	// internal-only
	internals     []internalCell
	rightmostChild uint32
}

func decodeNode(buf []byte) (*node, error) {
	if len(buf) < HeaderSize {
		return nil, fmt.Errorf("btree: %w: page shorter than header", vfs.ErrCorrupted)
	}
	kind := Kind(buf[0])
	count := binary.LittleEndian.Uint16(buf[1:3])
	// buf[3:5] free-space-offset is informational only; not relied on for decode.
	tail := binary.LittleEndian.Uint32(buf[5:9])

	n := &node{kind: kind}
	data := buf[HeaderSize:]

	switch kind {
	case KindLeaf:
		n.rightSibling = tail
		n.leaves = make([]leafCell, 0, count)
		for i := uint16(0); i < count; i++ {
			c, consumed, err := decodeLeafCell(data)
			if err != nil {
				return nil, err
			}
			n.leaves = append(n.leaves, c)
			data = data[consumed:]
		}
	case KindInternal:
		n.rightmostChild = tail
		n.internals = make([]internalCell, 0, count)
		for i := uint16(0); i < count; i++ {
			c, consumed, err := decodeInternalCell(data)
			if err != nil {
				return nil, err
			}
			n.internals = append(n.internals, c)
			data = data[consumed:]
		}
	default:
		return nil, fmt.Errorf("btree: %w: unknown node kind %d", vfs.ErrCorrupted, kind)
	}
	return n, nil
}

func decodeLeafCell(data []byte) (leafCell, int, error) {
	key, n1, err := takeUvarint(data)
	if err != nil {
		return leafCell{}, 0, fmt.Errorf("btree: %w: leaf cell key", vfs.ErrCorrupted)
	}
	data = data[n1:]
	if len(data) < 1 {
		return leafCell{}, 0, fmt.Errorf("btree: %w: leaf cell truncated flags", vfs.ErrCorrupted)
	}
	flags := data[0]
	data = data[1:]
	valueLen, n2, err := takeUvarint(data)
	if err != nil {
		return leafCell{}, 0, fmt.Errorf("btree: %w: leaf cell value length", vfs.ErrCorrupted)
	}
	data = data[n2:]

	c := leafCell{key: key, valueLen: int(valueLen)}
	consumed := n1 + 1 + n2
	if flags == cellOverflow {
		headLen, n3, err := takeUvarint(data)
		if err != nil {
			return leafCell{}, 0, fmt.Errorf("btree: %w: overflow head length", vfs.ErrCorrupted)
		}
		data = data[n3:]
		if len(data) < int(headLen)+4 {
			return leafCell{}, 0, fmt.Errorf("btree: %w: overflow cell truncated", vfs.ErrCorrupted)
		}
		c.overflow = true
		c.inline = append([]byte(nil), data[:headLen]...)
		c.overflowPage = binary.LittleEndian.Uint32(data[headLen : headLen+4])
		consumed += n3 + int(headLen) + 4
	} else {
		if len(data) < int(valueLen) {
			return leafCell{}, 0, fmt.Errorf("btree: %w: inline cell truncated", vfs.ErrCorrupted)
		}
		c.inline = append([]byte(nil), data[:valueLen]...)
		consumed += int(valueLen)
	}
	return c, consumed, nil
}

func decodeInternalCell(data []byte) (internalCell, int, error) {
	key, n1, err := takeUvarint(data)
	if err != nil {
		return internalCell{}, 0, fmt.Errorf("btree: %w: internal cell key", vfs.ErrCorrupted)
	}
	data = data[n1:]
	if len(data) < 4 {
		return internalCell{}, 0, fmt.Errorf("btree: %w: internal cell truncated child", vfs.ErrCorrupted)
	}
	child := binary.LittleEndian.Uint32(data[:4])
	return internalCell{key: key, child: child}, n1 + 4, nil
}

func encodeLeafCell(c leafCell) []byte {
	out := appendUvarint(nil, c.key)
	if c.overflow {
		out = append(out, cellOverflow)
		out = appendUvarint(out, uint64(c.valueLen))
		out = appendUvarint(out, uint64(len(c.inline)))
		out = append(out, c.inline...)
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], c.overflowPage)
		out = append(out, buf[:]...)
	} else {
		out = append(out, cellInline)
		out = appendUvarint(out, uint64(c.valueLen))
		out = append(out, c.inline...)
	}
	return out
}

func encodeInternalCell(c internalCell) []byte {
	out := appendUvarint(nil, c.key)
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], c.child)
	return append(out, buf[:]...)
}

func leafCellSize(c leafCell) int {
	return len(encodeLeafCell(c))
}

func internalCellSize(c internalCell) int {
	return len(encodeInternalCell(c))
}

// encode serializes n into a pageSize-length buffer. Callers must first
// verify the node's cells fit (via byteSize) — encode does not split.
func (n *node) encode(pageSize uint32) []byte {
	buf := make([]byte, HeaderSize, pageSize)
	buf[0] = byte(n.kind)
	switch n.kind {
	case KindLeaf:
		binary.LittleEndian.PutUint16(buf[1:3], uint16(len(n.leaves)))
		binary.LittleEndian.PutUint32(buf[5:9], n.rightSibling)
		for _, c := range n.leaves {
			buf = append(buf, encodeLeafCell(c)...)
		}
	case KindInternal:
		binary.LittleEndian.PutUint16(buf[1:3], uint16(len(n.internals)))
		binary.LittleEndian.PutUint32(buf[5:9], n.rightmostChild)
		for _, c := range n.internals {
			buf = append(buf, encodeInternalCell(c)...)
		}
	}
	binary.LittleEndian.PutUint16(buf[3:5], uint16(len(buf)))
	if len(buf) > int(pageSize) {
		panic("btree: encoded node exceeds page size; caller must split first")
	}
	out := make([]byte, pageSize)
	copy(out, buf)
	return out
}

// byteSize returns the size n.encode would produce (minus header padding),
// used to decide when a node must split (spec.md §4.E "balances payload bytes").
func (n *node) byteSize() int {
	size := HeaderSize
	switch n.kind {
	case KindLeaf:
		for _, c := range n.leaves {
			size += leafCellSize(c)
		}
	case KindInternal:
		for _, c := range n.internals {
			size += internalCellSize(c)
		}
	}
	return size
}

func appendUvarint(buf []byte, u uint64) []byte {
	for u >= 0x80 {
		buf = append(buf, byte(u)|0x80)
		u >>= 7
	}
	return append(buf, byte(u))
}

func takeUvarint(data []byte) (uint64, int, error) {
	var u uint64
	var shift uint
	for i := 0; i < len(data); i++ {
		if i >= maxVarintLen {
			return 0, 0, fmt.Errorf("btree: %w: varint too long", vfs.ErrCorrupted)
		}
		b := data[i]
		u |= uint64(b&0x7F) << shift
		if b < 0x80 {
			return u, i + 1, nil
		}
		shift += 7
	}
	return 0, 0, fmt.Errorf("btree: %w: truncated varint", vfs.ErrCorrupted)
}
