// ABOUTME: Database header (page 0): magic, format version, page size, recovery bookkeeping
// ABOUTME: Fixed-layout little-endian struct with a CRC32C trailer, validated on every open

package pager

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/decentdb/decentdb/pkg/vfs"
)

// Magic is the persistent format identifier written to every database file
// (spec: "Persistent format identifiers. Magic \"DDB1\"").
const Magic = "DDB1"

// FormatVersion must match exactly between the file and this build; a
// mismatch fails Open with ErrIncompatibleFormat.
const FormatVersion uint32 = 1

// MinPageSize and MaxPageSize bound the configurable page size.
const (
	MinPageSize = 512
	MaxPageSize = 65536
)

// headerLayoutSize is the number of bytes the Header struct occupies at the
// front of page 0. The remainder of the page is unused padding.
const headerLayoutSize = 4 + 4 + 4 + 8 + 8 + 8 + 8 + 8 + 8 + 8 + 4

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// Header is the database's page-0 bookkeeping block (spec.md §3 "Database
// header" and §6 "Persistent format identifiers").
type Header struct {
	Version uint32
	PageSize uint32

	// WALEndLSN is the WAL end-LSN recorded at the last clean shutdown. On a
	// crash it is stale; recovery recomputes the true value from the WAL
	// itself and the in-memory atomic counter takes over from there.
	WALEndLSN uint64

	// FreelistHeadPage/FreelistHeadSeq/FreelistTailPage/FreelistTailSeq mirror
	// the in-memory FreeList's persistent fields (spec.md §3 "Freelist").
	FreelistHeadPage uint64
	FreelistHeadSeq  uint64
	FreelistTailPage uint64
	FreelistTailSeq  uint64

	// SchemaCookie is bumped on any DDL (spec.md §4.G "Schema cookie").
	SchemaCookie uint64

	// CatalogRoot is the page id of the catalog B+Tree's root.
	CatalogRoot uint64
}

// Encode serializes h into a full page-sized buffer (zero-padded beyond the
// header layout).
func (h Header) Encode(pageSize uint32) []byte {
	buf := make([]byte, pageSize)
	copy(buf[0:4], Magic)
	binary.LittleEndian.PutUint32(buf[4:8], h.Version)
	binary.LittleEndian.PutUint32(buf[8:12], h.PageSize)
	binary.LittleEndian.PutUint64(buf[12:20], h.WALEndLSN)
	binary.LittleEndian.PutUint64(buf[20:28], h.FreelistHeadPage)
	binary.LittleEndian.PutUint64(buf[28:36], h.FreelistHeadSeq)
	binary.LittleEndian.PutUint64(buf[36:44], h.FreelistTailPage)
	binary.LittleEndian.PutUint64(buf[44:52], h.FreelistTailSeq)
	binary.LittleEndian.PutUint64(buf[52:60], h.SchemaCookie)
	binary.LittleEndian.PutUint64(buf[60:68], h.CatalogRoot)
	sum := crc32.Checksum(buf[0:68], crc32cTable)
	binary.LittleEndian.PutUint32(buf[68:72], sum)
	return buf
}

// DecodeHeader parses and validates a page-0 buffer.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < headerLayoutSize {
		return Header{}, fmt.Errorf("pager: %w: header page too small", vfs.ErrMalformed)
	}
	if string(buf[0:4]) != Magic {
		return Header{}, fmt.Errorf("pager: %w: bad magic %q", vfs.ErrIncompatibleFormat, buf[0:4])
	}
	version := binary.LittleEndian.Uint32(buf[4:8])
	if version != FormatVersion {
		return Header{}, fmt.Errorf("pager: %w: version %d, want %d", vfs.ErrIncompatibleFormat, version, FormatVersion)
	}
	wantSum := binary.LittleEndian.Uint32(buf[68:72])
	gotSum := crc32.Checksum(buf[0:68], crc32cTable)
	if wantSum != gotSum {
		return Header{}, fmt.Errorf("pager: %w: header checksum mismatch", vfs.ErrCorrupted)
	}

	h := Header{
		Version:          version,
		PageSize:          binary.LittleEndian.Uint32(buf[8:12]),
		WALEndLSN:         binary.LittleEndian.Uint64(buf[12:20]),
		FreelistHeadPage:  binary.LittleEndian.Uint64(buf[20:28]),
		FreelistHeadSeq:   binary.LittleEndian.Uint64(buf[28:36]),
		FreelistTailPage:  binary.LittleEndian.Uint64(buf[36:44]),
		FreelistTailSeq:   binary.LittleEndian.Uint64(buf[44:52]),
		SchemaCookie:      binary.LittleEndian.Uint64(buf[52:60]),
		CatalogRoot:       binary.LittleEndian.Uint64(buf[60:68]),
	}
	if h.PageSize < MinPageSize || h.PageSize > MaxPageSize || h.PageSize&(h.PageSize-1) != 0 {
		return Header{}, fmt.Errorf("pager: %w: page size %d not a power of two in [%d,%d]", vfs.ErrCorrupted, h.PageSize, MinPageSize, MaxPageSize)
	}
	return h, nil
}

// NewHeader builds the header for a freshly created database file.
func NewHeader(pageSize uint32) Header {
	return Header{
		Version:  FormatVersion,
		PageSize: pageSize,
	}
}
