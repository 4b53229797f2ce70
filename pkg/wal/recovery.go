// ABOUTME: Crash recovery: scan, verify, replay only committed transactions
// ABOUTME: Single-writer model means PAGE frames are never interleaved across transactions

package wal

// RecoveryResult summarizes what recovery found.
type RecoveryResult struct {
	// EndLSN is the highest LSN belonging to a fully-committed transaction.
	EndLSN uint64
	// FramesScanned/FramesApplied/TxnsDiscarded are reported for logging.
	FramesScanned  int
	FramesApplied  int
	TxnsDiscarded  int
}

// Recover scans raw (the log bytes following the sidecar header) from the
// start, verifying each frame's checksum, and replays every PAGE frame that
// belongs to a committed transaction into overlay.
//
// Because exactly one writer is ever active (spec.md §4.G) and rollback
// never appends anything, a transaction's frames are a contiguous run of
// PAGE frames immediately followed by its COMMIT frame — no other
// transaction's frames can appear in between. A checksum failure or
// truncated frame ends the scan; any PAGE frames staged since the last
// COMMIT are discarded (spec.md §4.D "Recovery").
func Recover(raw []byte, overlay *Overlay) (RecoveryResult, error) {
	var result RecoveryResult
	var pending []Frame

	offset := 0
	for offset < len(raw) {
		frame, n, err := Decode(raw[offset:])
		if err != nil {
			// Truncated or corrupted frame: silently drop the remainder,
			// including any not-yet-committed pending batch.
			break
		}
		result.FramesScanned++

		switch frame.Kind {
		case KindPage:
			pending = append(pending, frame)
		case KindCommit:
			for _, pf := range pending {
				pageID, data, derr := DecodePagePayload(pf.Payload)
				if derr != nil {
					// A malformed PAGE payload inside an otherwise
					// checksummed frame indicates on-disk corruption, not a
					// torn write; recovery fails with that error instead of
					// treating it as end-of-log.
					return result, derr
				}
				overlay.Put(pageID, pf.LSN, data)
				result.FramesApplied++
			}
			pending = pending[:0]
			if frame.LSN > result.EndLSN {
				result.EndLSN = frame.LSN
			}
		case KindCheckpointBegin, KindCheckpointEnd:
			// No replay action; these only bound where truncation may
			// safely occur and carry no page data of their own.
		}

		offset += n
	}

	if len(pending) > 0 {
		result.TxnsDiscarded++
	}

	return result, nil
}
