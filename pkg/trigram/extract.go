// ABOUTME: Trigram extraction and 24-bit hashing over canonicalized text
// ABOUTME: Padding with two leading/trailing spaces lets prefix and suffix substrings match too

package trigram

import "hash/fnv"

// HashBits is the width the index truncates trigram hashes to (spec.md
// §4.F: "Each trigram is hashed to 24 bits; collisions are tolerated").
const HashBits = 24

const hashMask = 1<<HashBits - 1

// Hash maps a 3-rune window to a 24-bit bucket. Collisions are expected and
// tolerated: the index is a superset filter, never ground truth, so two
// distinct trigrams sharing a bucket only costs a few extra post-filtered
// candidates.
func Hash(tri string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(tri))
	return h.Sum32() & hashMask
}

// Extract returns every length-3 rune window's hash from
// "  " + canonical + "  " (spec.md §4.F), in left-to-right order and with
// duplicates preserved — callers that need a set should dedupe.
func Extract(canonical string) []uint32 {
	padded := []rune("  " + canonical + "  ")
	if len(padded) < 3 {
		return nil
	}
	out := make([]uint32, 0, len(padded)-2)
	for i := 0; i+3 <= len(padded); i++ {
		out = append(out, Hash(string(padded[i:i+3])))
	}
	return out
}

// ExtractSet returns the distinct trigram hashes of a canonicalized string,
// the form the write path operates on. Query uses only the unpadded windows
// of its pattern.
func ExtractSet(canonical string) map[uint32]struct{} {
	set := make(map[uint32]struct{})
	for _, h := range Extract(canonical) {
		set[h] = struct{}{}
	}
	return set
}
