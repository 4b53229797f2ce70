// ABOUTME: Delta-varint posting-list codec — the value format of the trigram B+Tree
// ABOUTME: id_1 stored absolute, id_{i+1}-id_i stored as a uvarint for every id after it

package trigram

import (
	"fmt"

	"github.com/decentdb/decentdb/pkg/vfs"
)

const maxVarintLen = 10

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
			return 0, 0, fmt.Errorf("trigram: %w: varint too long", vfs.ErrCorrupted)
		}
		b := data[i]
		u |= uint64(b&0x7F) << shift
		if b < 0x80 {
			return u, i + 1, nil
		}
		shift += 7
	}
	return 0, 0, fmt.Errorf("trigram: %w: truncated varint", vfs.ErrCorrupted)
}

// EncodePostings serializes a strictly ascending, deduplicated list of
// row-ids as [count varint][id_1 varint][delta_2 varint]...[delta_n
// varint] (spec.md §4.F "Write path").
func EncodePostings(ids []uint64) []byte {
	out := appendUvarint(nil, uint64(len(ids)))
	var prev uint64
	for i, id := range ids {
		if i == 0 {
			out = appendUvarint(out, id)
		} else {
			out = appendUvarint(out, id-prev)
		}
		prev = id
	}
	return out
}

// DecodePostings is the inverse of EncodePostings.
func DecodePostings(data []byte) ([]uint64, error) {
	count, n, err := takeUvarint(data)
	if err != nil {
		return nil, err
	}
	data = data[n:]

	ids := make([]uint64, 0, count)
	var cur uint64
	for i := uint64(0); i < count; i++ {
		delta, n, err := takeUvarint(data)
		if err != nil {
			return nil, fmt.Errorf("trigram: %w: posting entry %d: %v", vfs.ErrMalformed, i, err)
		}
		data = data[n:]
		if i == 0 {
			cur = delta
		} else {
			cur += delta
		}
		ids = append(ids, cur)
	}
	return ids, nil
}
