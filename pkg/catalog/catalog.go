// ABOUTME: System catalog — tagged-variant TableDef/IndexDef/FkDef/ViewDef records
// ABOUTME: Stored as one B+Tree keyed by a hash of (kind, name), envelope-framed with a schema cookie

package catalog

import (
	"fmt"
	"hash/fnv"

	"github.com/decentdb/decentdb/pkg/btree"
	"github.com/decentdb/decentdb/pkg/record"
	"github.com/decentdb/decentdb/pkg/vfs"
)

// Kind tags a catalog record's variant (spec.md §9 "Duck-typed catalog
// records" / SPEC_FULL.md §0.3's closed tagged union).
type Kind uint8

const (
	KindTable Kind = iota
	KindIndex
	KindForeignKey
	KindView
)

func (k Kind) String() string {
	switch k {
	case KindTable:
		return "TABLE"
	case KindIndex:
		return "INDEX"
	case KindForeignKey:
		return "FOREIGN_KEY"
	case KindView:
		return "VIEW"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Catalog is a handle onto the catalog B+Tree. It carries no durability
// state of its own — callers open it against a txn.ReadTxn's or
// txn.WriteTxn's Store() and, after a mutation, persist Root() back through
// the transaction manager's SetCatalogRoot.
type Catalog struct {
	tree *btree.Tree
}

// Open wraps an existing (possibly empty, root==0) catalog tree.
func Open(store btree.Store, pageSize uint32, root uint32) *Catalog {
	return &Catalog{tree: btree.New(store, pageSize, root)}
}

// Root returns the catalog tree's current root page, for the caller to
// persist via the transaction manager.
func (c *Catalog) Root() uint32 { return c.tree.Root }

// catalogKey derives a stable lookup key from a record's kind and name.
// Two different names hashing to the same key would silently collide in
// this u64-keyed tree; acceptable here because a schema's catalog is
// bounded in size (tables/indexes/views number in the thousands at most),
// not the unbounded row population the main data trees hold.
func catalogKey(kind Kind, name string) uint64 {
	h := fnv.New64a()
	h.Write([]byte{byte(kind)})
	h.Write([]byte(name))
	return h.Sum64()
}

// encodeEnvelope frames a payload record as
// [kind u8][schema-cookie-at-write varint][payload] (SPEC_FULL.md §0.3).
func encodeEnvelope(kind Kind, schemaCookie uint64, payload record.Record) []byte {
	out := make([]byte, 0, 32)
	out = append(out, byte(kind))
	out = appendUvarint(out, schemaCookie)
	out = append(out, record.Encode(payload)...)
	return out
}

func decodeEnvelope(data []byte) (Kind, uint64, record.Record, error) {
	if len(data) < 1 {
		return 0, 0, nil, fmt.Errorf("catalog: %w: empty envelope", vfs.ErrMalformed)
	}
	kind := Kind(data[0])
	rest := data[1:]
	cookie, n, err := takeUvarint(rest)
	if err != nil {
		return 0, 0, nil, fmt.Errorf("catalog: %w: %v", vfs.ErrMalformed, err)
	}
	rest = rest[n:]
	payload, err := record.Decode(rest)
	if err != nil {
		return 0, 0, nil, fmt.Errorf("catalog: %w: %v", vfs.ErrMalformed, err)
	}
	return kind, cookie, payload, nil
}

// put stores a record under its catalog key, overwriting any prior entry
// of the same kind and name.
func (c *Catalog) put(kind Kind, name string, schemaCookie uint64, payload record.Record) error {
	return c.tree.Insert(catalogKey(kind, name), encodeEnvelope(kind, schemaCookie, payload))
}

// get fetches and decodes a single record, verifying both kind and name
// match (guards against the hash collision catalogKey's doc comment
// accepts as a known limitation: a collision surfaces as "not found"
// rather than returning the wrong entry).
func (c *Catalog) get(kind Kind, name string) (record.Record, uint64, bool, error) {
	raw, found, err := c.tree.Get(catalogKey(kind, name))
	if err != nil || !found {
		return nil, 0, false, err
	}
	gotKind, cookie, payload, err := decodeEnvelope(raw)
	if err != nil {
		return nil, 0, false, err
	}
	if gotKind != kind || fieldText(payload, 0) != name {
		return nil, 0, false, nil
	}
	return payload, cookie, true, nil
}

func (c *Catalog) delete(kind Kind, name string) (bool, error) {
	// Confirm identity before deleting, for the same reason get() does.
	if _, _, found, err := c.get(kind, name); err != nil || !found {
		return false, err
	}
	return c.tree.Delete(catalogKey(kind, name))
}

// scanAll walks every entry in the catalog tree and invokes fn for each
// one that decodes to the given kind. Used by the List* helpers; the
// catalog is small enough that a full scan per listing is not a concern
// (spec.md §4.F's guardrails are about row-scale trigram postings, not
// schema metadata).
func (c *Catalog) scanAll(kind Kind, fn func(record.Record)) error {
	cur, err := c.tree.Scan(0, btree.Forward)
	if err != nil {
		return err
	}
	for cur.Valid() {
		val, err := cur.Value()
		if err != nil {
			return err
		}
		gotKind, _, payload, err := decodeEnvelope(val)
		if err != nil {
			return err
		}
		if gotKind == kind {
			fn(payload)
		}
		more, err := cur.Next()
		if err != nil {
			return err
		}
		if !more {
			break
		}
	}
	return nil
}

func fieldText(rec record.Record, i int) string {
	if i >= len(rec) || rec[i].Kind != record.KindText {
		return ""
	}
	return rec[i].S
}

func fieldInt(rec record.Record, i int) int64 {
	if i >= len(rec) || rec[i].Kind != record.KindInt64 {
		return 0
	}
	return rec[i].I
}

func fieldBool(rec record.Record, i int) bool {
	if i >= len(rec) || rec[i].Kind != record.KindBool {
		return false
	}
	return rec[i].B
}
