// ABOUTME: WAL-local error sentinels, wrapping into the shared pkg/vfs taxonomy
// ABOUTME: ErrTruncated/ErrCorrupted let recovery tell "stop scanning" apart from "fatal"

package wal

import (
	"errors"
	"fmt"

	"github.com/decentdb/decentdb/pkg/vfs"
)

var (
	// ErrTruncated means a frame's bytes run past the end of the log — the
	// normal, expected shape of a crash mid-append. Recovery treats it as
	// end-of-log, not a failure.
	ErrTruncated = fmt.Errorf("wal: %w: truncated frame", vfs.ErrMalformed)
	// ErrCorrupted means a frame's checksum did not match its bytes.
	// Recovery also treats this as end-of-log (spec.md §8 boundary
	// behavior: "a WAL frame with a one-bit flipped checksum is treated as
	// truncation").
	ErrCorrupted = fmt.Errorf("wal: %w: checksum mismatch", vfs.ErrCorrupted)
	// ErrClosed is returned by any operation on a WAL that has been closed.
	ErrClosed = errors.New("wal: closed")
)
