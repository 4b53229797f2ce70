package catalog

import (
	"sort"

	"github.com/decentdb/decentdb/pkg/record"
)

// ColumnDef describes one column of a table.
type ColumnDef struct {
	Name    string
	Type    record.Kind
	NotNull bool
}

// TableDef is the catalog's record of one user table: its column schema,
// the row-id allocator's high-water mark, and the root page of the B+Tree
// holding its rows (spec.md §3 "Table").
type TableDef struct {
	Name         string
	Columns      []ColumnDef
	RowIDCounter uint64
	TreeRoot     uint32
}

// Field layout: [0]=name TEXT, [1]=rowIDCounter INT64, [2]=treeRoot INT64,
// [3]=columnCount INT64, then 3 fields per column (name, type, notNull).
func encodeTable(t TableDef) record.Record {
	rec := make(record.Record, 0, 4+len(t.Columns)*3)
	rec = append(rec,
		record.TextValue(t.Name),
		record.Int64Value(int64(t.RowIDCounter)),
		record.Int64Value(int64(t.TreeRoot)),
		record.Int64Value(int64(len(t.Columns))),
	)
	for _, col := range t.Columns {
		rec = append(rec,
			record.TextValue(col.Name),
			record.Int64Value(int64(col.Type)),
			record.BoolValue(col.NotNull),
		)
	}
	return rec
}

func decodeTable(rec record.Record) TableDef {
	t := TableDef{
		Name:         fieldText(rec, 0),
		RowIDCounter: uint64(fieldInt(rec, 1)),
		TreeRoot:     uint32(fieldInt(rec, 2)),
	}
	count := int(fieldInt(rec, 3))
	t.Columns = make([]ColumnDef, 0, count)
	for i := 0; i < count; i++ {
		base := 4 + i*3
		t.Columns = append(t.Columns, ColumnDef{
			Name:    fieldText(rec, base),
			Type:    record.Kind(fieldInt(rec, base+1)),
			NotNull: fieldBool(rec, base+2),
		})
	}
	return t
}

// PutTable upserts a table definition, stamping it with the schema cookie
// in effect at write time (spec.md §4.G "Schema cookie": "bumped on any
// catalog-mutating commit").
func (c *Catalog) PutTable(t TableDef, schemaCookie uint64) error {
	return c.put(KindTable, t.Name, schemaCookie, encodeTable(t))
}

// GetTable looks up a table by name.
func (c *Catalog) GetTable(name string) (TableDef, bool, error) {
	payload, _, found, err := c.get(KindTable, name)
	if err != nil || !found {
		return TableDef{}, false, err
	}
	return decodeTable(payload), true, nil
}

// DeleteTable removes a table's catalog entry. It does not free the
// table's row tree — that is the caller's responsibility (drop-table is a
// multi-step operation: drop dependent indexes/FKs, free the row tree,
// then remove the catalog entry).
func (c *Catalog) DeleteTable(name string) (bool, error) {
	return c.delete(KindTable, name)
}

// ListTables returns every table definition, ordered by name.
func (c *Catalog) ListTables() ([]TableDef, error) {
	var out []TableDef
	if err := c.scanAll(KindTable, func(payload record.Record) {
		out = append(out, decodeTable(payload))
	}); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
