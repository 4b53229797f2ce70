// ABOUTME: WAL frame codec: checksummed, self-describing records appended to the log
// ABOUTME: [kind u8][lsn u64][payload-length varint][payload][checksum u32 CRC32C]

package wal

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/decentdb/decentdb/pkg/vfs"
)

const maxVarintLen = 10

// Kind identifies the purpose of a WAL frame (spec.md §3 "WAL frame").
type Kind uint8

const (
	KindPage Kind = iota + 1
	KindCommit
	KindCheckpointBegin
	KindCheckpointEnd
)

func (k Kind) String() string {
	switch k {
	case KindPage:
		return "PAGE"
	case KindCommit:
		return "COMMIT"
	case KindCheckpointBegin:
		return "CHECKPOINT_BEGIN"
	case KindCheckpointEnd:
		return "CHECKPOINT_END"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// Frame is a single decoded WAL record.
type Frame struct {
	Kind    Kind
	LSN     uint64
	Payload []byte
}

// Encode serializes f, computing the trailing CRC32C checksum over every
// preceding byte (kind through payload), per spec.md §4.D "Frame integrity".
func Encode(f Frame) []byte {
	// [kind u8][lsn u64][length varint][payload][checksum u32]
	buf := make([]byte, 0, 1+8+5+len(f.Payload)+4)
	buf = append(buf, byte(f.Kind))
	var lsnBuf [8]byte
	binary.LittleEndian.PutUint64(lsnBuf[:], f.LSN)
	buf = append(buf, lsnBuf[:]...)
	buf = appendUvarint(buf, uint64(len(f.Payload)))
	buf = append(buf, f.Payload...)

	sum := crc32.Checksum(buf, crc32cTable)
	var sumBuf [4]byte
	binary.LittleEndian.PutUint32(sumBuf[:], sum)
	buf = append(buf, sumBuf[:]...)
	return buf
}

// Decode parses a single frame from the front of data, returning the frame,
// the number of bytes consumed, and an error. A truncated or checksum-
// mismatched frame is reported via ErrTruncated/ErrCorrupted so the caller
// (recovery) can treat it as end-of-log rather than fail outright.
func Decode(data []byte) (Frame, int, error) {
	if len(data) < 1+8+1 {
		return Frame{}, 0, ErrTruncated
	}
	kind := Kind(data[0])
	lsn := binary.LittleEndian.Uint64(data[1:9])

	length, n, err := takeUvarint(data[9:])
	if err != nil {
		return Frame{}, 0, ErrTruncated
	}
	headerLen := 9 + n
	total := headerLen + int(length) + 4
	if len(data) < total {
		return Frame{}, 0, ErrTruncated
	}

	payload := data[headerLen : headerLen+int(length)]
	wantSum := binary.LittleEndian.Uint32(data[headerLen+int(length):])
	gotSum := crc32.Checksum(data[:headerLen+int(length)], crc32cTable)
	if wantSum != gotSum {
		return Frame{}, 0, ErrCorrupted
	}

	return Frame{Kind: kind, LSN: lsn, Payload: payload}, total, nil
}

// EncodePagePayload builds a PAGE frame payload: [page-id u32][page bytes].
func EncodePagePayload(pageID uint32, page []byte) []byte {
	buf := make([]byte, 4+len(page))
	binary.LittleEndian.PutUint32(buf[0:4], pageID)
	copy(buf[4:], page)
	return buf
}

// DecodePagePayload reverses EncodePagePayload.
func DecodePagePayload(payload []byte) (uint32, []byte, error) {
	if len(payload) < 4 {
		return 0, nil, fmt.Errorf("wal: %w: PAGE payload too short", vfs.ErrMalformed)
	}
	pageID := binary.LittleEndian.Uint32(payload[0:4])
	return pageID, payload[4:], nil
}

// EncodeCommitPayload builds a COMMIT frame payload: [txn-id u64][timestamp u64].
func EncodeCommitPayload(txnID uint64, unixNano int64) []byte {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint64(buf[0:8], txnID)
	binary.LittleEndian.PutUint64(buf[8:16], uint64(unixNano))
	return buf
}

// DecodeCommitPayload reverses EncodeCommitPayload.
func DecodeCommitPayload(payload []byte) (txnID uint64, unixNano int64, err error) {
	if len(payload) < 16 {
		return 0, 0, fmt.Errorf("wal: %w: COMMIT payload too short", vfs.ErrMalformed)
	}
	txnID = binary.LittleEndian.Uint64(payload[0:8])
	unixNano = int64(binary.LittleEndian.Uint64(payload[8:16]))
	return txnID, unixNano, nil
}

// appendUvarint/takeUvarint mirror pkg/record's varint framing (duplicated
// rather than imported to keep pkg/wal's on-disk integer framing independent
// of the row-value codec's decoding rules, which also enforce UTF-8/kind
// validation that a page-length varint has no business depending on).
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
			return 0, 0, ErrCorrupted
		}
		b := data[i]
		u |= uint64(b&0x7F) << shift
		if b < 0x80 {
			return u, i + 1, nil
		}
		shift += 7
	}
	return 0, 0, ErrTruncated
}
