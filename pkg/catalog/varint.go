package catalog

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
			return 0, 0, fmt.Errorf("catalog: %w: varint too long", vfs.ErrCorrupted)
		}
		b := data[i]
		u |= uint64(b&0x7F) << shift
		if b < 0x80 {
			return u, i + 1, nil
		}
		shift += 7
	}
	return 0, 0, fmt.Errorf("catalog: %w: truncated varint", vfs.ErrCorrupted)
}
