// ABOUTME: Trigram inverted index — buffered writes over a posting B+Tree, guarded query evaluation
// ABOUTME: One Index is opened per transaction, mirroring pkg/catalog's Open/Root lifecycle

package trigram

import (
	"fmt"
	"sort"
	"unicode/utf8"

	"github.com/decentdb/decentdb/pkg/btree"
	"github.com/decentdb/decentdb/pkg/vfs"
)

// DefaultPerTrigramCap and DefaultTotalCap are the buffer limits spec.md
// §4.F names for the write path: "Per-trigram in-memory buffers (capped at
// 4 KiB each, total per-transaction cap configurable)".
const (
	DefaultPerTrigramCap = 4096
	DefaultTotalCap      = 16 * 1024 * 1024
)

// Default selectivity thresholds (spec.md §4.F "Guardrails"): fractions of
// total row count above which a query is refused or truncated.
const (
	DefaultThresholdShort = 0.05
	DefaultThresholdLong  = 0.25
)

const (
	tagAdd byte = iota
	tagRemove
)

// Index is a trigram posting-list index backed by one u64-keyed B+Tree
// (posting key = trigram hash widened to uint64). It is opened fresh
// against a transaction's btree.Store, exactly like pkg/catalog.Open — the
// caller persists Root() back through the schema/table metadata after a
// successful write, and simply discards the Index on rollback: every
// mutation below is a copy-on-write Insert/Delete, so an aborted
// transaction's pages are reclaimed by the page store's own rollback
// (pkg/txn.WriteTxn.Rollback frees everything it allocated) without the
// index needing to track its own undo log.
type Index struct {
	tree *btree.Tree

	perTrigramCap int
	totalCap      int

	pending      map[uint32][]byte
	pendingBytes int
}

// Config bounds the write-buffer behavior of an Index.
type Config struct {
	PerTrigramCap int // 0 = DefaultPerTrigramCap
	TotalCap      int // 0 = DefaultTotalCap
}

// Open wraps an existing (possibly empty) posting tree.
func Open(store btree.Store, pageSize uint32, root uint32, cfg Config) *Index {
	perTrigramCap := cfg.PerTrigramCap
	if perTrigramCap <= 0 {
		perTrigramCap = DefaultPerTrigramCap
	}
	totalCap := cfg.TotalCap
	if totalCap <= 0 {
		totalCap = DefaultTotalCap
	}
	return &Index{
		tree:          btree.New(store, pageSize, root),
		perTrigramCap: perTrigramCap,
		totalCap:      totalCap,
		pending:       make(map[uint32][]byte),
	}
}

// Root returns the posting tree's current root, including any buffered
// writes already force-flushed past a cap — NOT any writes still sitting
// in an unflushed buffer. Callers must call Flush before reading Root at
// commit time.
func (ix *Index) Root() uint32 { return ix.tree.Root }

// IndexText diffs the trigram sets of oldText and newText for one row and
// buffers the resulting add/remove operations (spec.md §4.F "Write path":
// "On row insert/update/delete affecting indexed columns, diff the old and
// new trigram multisets"). Pass oldText == "" for an insert and newText ==
// "" for a delete.
func (ix *Index) IndexText(rowID uint64, oldText, newText string) error {
	oldSet := ExtractSet(Canonicalize(oldText))
	newSet := ExtractSet(Canonicalize(newText))

	for h := range oldSet {
		if _, stillPresent := newSet[h]; !stillPresent {
			if err := ix.bufferOp(h, rowID, tagRemove); err != nil {
				return err
			}
		}
	}
	for h := range newSet {
		if _, alreadyPresent := oldSet[h]; !alreadyPresent {
			if err := ix.bufferOp(h, rowID, tagAdd); err != nil {
				return err
			}
		}
	}
	return nil
}

func (ix *Index) bufferOp(hash uint32, rowID uint64, tag byte) error {
	buf := ix.pending[hash]
	before := len(buf)
	buf = appendUvarint(buf, rowID)
	buf = append(buf, tag)
	added := len(buf) - before

	ix.pending[hash] = buf
	ix.pendingBytes += added

	if len(buf) > ix.perTrigramCap {
		if err := ix.flushOne(hash); err != nil {
			return err
		}
		return nil
	}
	if ix.pendingBytes > ix.totalCap {
		return ix.Flush()
	}
	return nil
}

// flushOne merges one trigram's buffered ops into its posting list and
// rewrites (or deletes) the tree entry.
func (ix *Index) flushOne(hash uint32) error {
	ops := ix.pending[hash]
	if len(ops) == 0 {
		return nil
	}

	key := uint64(hash)
	existing := make(map[uint64]struct{})
	raw, found, err := ix.tree.Get(key)
	if err != nil {
		return err
	}
	if found {
		ids, err := DecodePostings(raw)
		if err != nil {
			return err
		}
		for _, id := range ids {
			existing[id] = struct{}{}
		}
	}

	rest := ops
	for len(rest) > 0 {
		rowID, n, err := takeUvarint(rest)
		if err != nil {
			return fmt.Errorf("trigram: %w: %v", vfs.ErrMalformed, err)
		}
		rest = rest[n:]
		if len(rest) == 0 {
			return fmt.Errorf("trigram: %w: truncated op tag", vfs.ErrMalformed)
		}
		tag := rest[0]
		rest = rest[1:]
		switch tag {
		case tagAdd:
			existing[rowID] = struct{}{}
		case tagRemove:
			delete(existing, rowID)
		default:
			return fmt.Errorf("trigram: %w: unknown op tag %d", vfs.ErrMalformed, tag)
		}
	}

	delete(ix.pending, hash)
	ix.pendingBytes -= len(ops)

	if len(existing) == 0 {
		if found {
			_, err := ix.tree.Delete(key)
			return err
		}
		return nil
	}

	ids := make([]uint64, 0, len(existing))
	for id := range existing {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ix.tree.Insert(key, EncodePostings(ids))
}

// Flush merges every buffered trigram into the posting tree. The write
// path calls this once at commit time; it is also called internally when
// the total buffer budget is exceeded.
func (ix *Index) Flush() error {
	hashes := make([]uint32, 0, len(ix.pending))
	for h := range ix.pending {
		hashes = append(hashes, h)
	}
	for _, h := range hashes {
		if err := ix.flushOne(h); err != nil {
			return err
		}
	}
	return nil
}

// postingList returns the committed posting list for one trigram hash,
// ignoring any not-yet-flushed buffer (queries run against a committed
// snapshot, never against an in-flight writer's buffer).
func (ix *Index) postingList(hash uint32) ([]uint64, error) {
	raw, found, err := ix.tree.Get(uint64(hash))
	if err != nil || !found {
		return nil, err
	}
	return DecodePostings(raw)
}

// Result is the outcome of Query: a superset of matching row-ids (never a
// false negative, per spec.md §8 property 6) plus whether the caller's
// candidate set was capped.
type Result struct {
	RowIDs    []uint64
	Truncated bool
}

// ErrPatternTooShort signals that a pattern is under three characters and
// the index cannot narrow it at all; the caller should fall back to a full
// scan rather than treat this as a database failure.
var ErrPatternTooShort = fmt.Errorf("trigram: pattern shorter than 3 characters")

// Query evaluates a LIKE '%pattern%' substring predicate against the
// index (spec.md §4.F "Query evaluation"). totalRows is the table's row
// count, used to scale the selectivity thresholds; hasOtherPredicate
// reports whether this predicate is conjoined with another that already
// narrows the row set (a conjoined predicate exempts the short-pattern
// guardrail, since some other clause will do the narrowing).
func (ix *Index) Query(pattern string, totalRows uint64, hasOtherPredicate bool) (Result, error) {
	return ix.queryWithThresholds(pattern, totalRows, hasOtherPredicate, DefaultThresholdShort, DefaultThresholdLong)
}

func (ix *Index) queryWithThresholds(pattern string, totalRows uint64, hasOtherPredicate bool, thresholdShort, thresholdLong float64) (Result, error) {
	patternLen := utf8.RuneCountInString(pattern)
	if patternLen < 3 {
		return Result{}, ErrPatternTooShort
	}

	// Only the pattern's own windows are required: a '%pattern%' match can
	// sit anywhere in the indexed text, while Extract's padded boundary
	// windows occur only at the start and end of an indexed string.
	canonical := []rune(Canonicalize(pattern))
	if len(canonical) < 3 {
		return Result{}, ErrPatternTooShort
	}
	hashSet := make(map[uint32]struct{})
	for i := 0; i+3 <= len(canonical); i++ {
		hashSet[Hash(string(canonical[i:i+3]))] = struct{}{}
	}
	hashes := make([]uint32, 0, len(hashSet))
	for h := range hashSet {
		hashes = append(hashes, h)
	}

	lists := make([][]uint64, len(hashes))
	fMin, fMax := -1, -1
	for i, h := range hashes {
		ids, err := ix.postingList(h)
		if err != nil {
			return Result{}, err
		}
		lists[i] = ids
		if fMin == -1 || len(ids) < fMin {
			fMin = len(ids)
		}
		if fMax == -1 || len(ids) > fMax {
			fMax = len(ids)
		}
	}
	if fMin == 0 {
		// Some required trigram never occurs: the intersection is empty
		// regardless of the others.
		return Result{}, nil
	}

	switch {
	case patternLen >= 3 && patternLen <= 5:
		if !hasOtherPredicate && float64(fMin) > thresholdShort*float64(totalRows) {
			return Result{}, fmt.Errorf("trigram: %w: pattern %q", vfs.ErrNotSelective, pattern)
		}
	case patternLen > 5:
		if float64(fMin) > thresholdLong*float64(totalRows) {
			limit := int(thresholdLong * float64(totalRows))
			return Result{RowIDs: intersectCapped(lists, limit), Truncated: true}, nil
		}
	}

	return Result{RowIDs: intersect(lists)}, nil
}

// intersect performs a short-circuiting multi-way merge of sorted id
// lists, ordered by ascending length so the smallest list drives the walk
// (spec.md §4.F step 5).
func intersect(lists [][]uint64) []uint64 {
	return intersectCapped(lists, -1)
}

func intersectCapped(lists [][]uint64, limit int) []uint64 {
	if len(lists) == 0 {
		return nil
	}
	ordered := append([][]uint64(nil), lists...)
	sort.Slice(ordered, func(i, j int) bool { return len(ordered[i]) < len(ordered[j]) })

	idx := make([]int, len(ordered))
	var out []uint64

outer:
	for limit < 0 || len(out) < limit {
		candidate := ordered[0]
		if idx[0] >= len(candidate) {
			break
		}
		target := candidate[idx[0]]
		idx[0]++

		for i := 1; i < len(ordered); i++ {
			list := ordered[i]
			for idx[i] < len(list) && list[idx[i]] < target {
				idx[i]++
			}
			if idx[i] >= len(list) || list[idx[i]] != target {
				continue outer
			}
		}
		out = append(out, target)
	}
	return out
}
