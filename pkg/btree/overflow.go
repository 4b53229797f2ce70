// ABOUTME: Overflow chains for values too large for a single leaf cell
// ABOUTME: [next u32][payload] linked pages, head chunk lives inline on the leaf cell

package btree

import "encoding/binary"

const overflowHeaderSize = 4

// writeOverflowChain writes tail across as many overflow pages as needed and
// returns the id of the head page of the chain (spec.md §3 "Overflow chain").
func writeOverflowChain(store Store, pageSize uint32, tail []byte) (uint32, error) {
	chunkSize := int(pageSize) - overflowHeaderSize
	if chunkSize <= 0 {
		chunkSize = 1
	}

	type pending struct {
		id   uint32
		data []byte
	}

	n := (len(tail) + chunkSize - 1) / chunkSize
	if n == 0 {
		n = 1
	}
	ids := make([]uint32, n)

	// Allocate pages back to front so each page's "next" pointer is known
	// at encode time.
	var next uint32
	for i := n - 1; i >= 0; i-- {
		start := i * chunkSize
		end := start + chunkSize
		if end > len(tail) {
			end = len(tail)
		}
		buf := make([]byte, pageSize)
		binary.LittleEndian.PutUint32(buf[0:4], next)
		copy(buf[overflowHeaderSize:], tail[start:end])
		id, err := store.Alloc(buf)
		if err != nil {
			return 0, err
		}
		ids[i] = id
		next = id
	}
	return ids[0], nil
}

// readOverflowChain reassembles wantLen bytes starting at headPage.
func readOverflowChain(store Store, pageSize uint32, headPage uint32, wantLen int) ([]byte, error) {
	out := make([]byte, 0, wantLen)
	id := headPage
	for len(out) < wantLen {
		buf, err := store.Get(id)
		if err != nil {
			return nil, err
		}
		next := binary.LittleEndian.Uint32(buf[0:4])
		remain := wantLen - len(out)
		chunk := buf[overflowHeaderSize:]
		if remain < len(chunk) {
			chunk = chunk[:remain]
		}
		out = append(out, chunk...)
		if next == 0 {
			break
		}
		id = next
	}
	return out, nil
}

// freeOverflowChain releases every page in the chain starting at headPage.
func freeOverflowChain(store Store, headPage uint32) error {
	id := headPage
	for id != 0 {
		buf, err := store.Get(id)
		if err != nil {
			return err
		}
		next := binary.LittleEndian.Uint32(buf[0:4])
		if err := store.Free(id); err != nil {
			return err
		}
		id = next
	}
	return nil
}
