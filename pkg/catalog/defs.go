package catalog

import (
	"sort"

	"github.com/decentdb/decentdb/pkg/record"
)

// IndexKind distinguishes an ordered B+Tree secondary index from a trigram
// inverted index (spec.md §4.F): both live in the catalog as IndexDef, but
// only a trigram index's TreeRoot points at a trigram posting-list tree
// rather than a plain key/rowid B+Tree.
type IndexKind uint8

const (
	IndexKindBTree IndexKind = iota
	IndexKindTrigram
)

// IndexDef is the catalog's record of one secondary index.
type IndexDef struct {
	Name     string
	Table    string
	Columns  []string
	Kind     IndexKind
	Unique   bool
	TreeRoot uint32
}

// Field layout: [0]=name, [1]=table, [2]=kind INT64, [3]=unique BOOL,
// [4]=treeRoot INT64, [5]=columnCount INT64, then one TEXT per column.
func encodeIndex(ix IndexDef) record.Record {
	rec := make(record.Record, 0, 6+len(ix.Columns))
	rec = append(rec,
		record.TextValue(ix.Name),
		record.TextValue(ix.Table),
		record.Int64Value(int64(ix.Kind)),
		record.BoolValue(ix.Unique),
		record.Int64Value(int64(ix.TreeRoot)),
		record.Int64Value(int64(len(ix.Columns))),
	)
	for _, col := range ix.Columns {
		rec = append(rec, record.TextValue(col))
	}
	return rec
}

func decodeIndex(rec record.Record) IndexDef {
	ix := IndexDef{
		Name:     fieldText(rec, 0),
		Table:    fieldText(rec, 1),
		Kind:     IndexKind(fieldInt(rec, 2)),
		Unique:   fieldBool(rec, 3),
		TreeRoot: uint32(fieldInt(rec, 4)),
	}
	count := int(fieldInt(rec, 5))
	ix.Columns = make([]string, 0, count)
	for i := 0; i < count; i++ {
		ix.Columns = append(ix.Columns, fieldText(rec, 6+i))
	}
	return ix
}

// PutIndex upserts an index definition.
func (c *Catalog) PutIndex(ix IndexDef, schemaCookie uint64) error {
	return c.put(KindIndex, ix.Name, schemaCookie, encodeIndex(ix))
}

// GetIndex looks up an index by name.
func (c *Catalog) GetIndex(name string) (IndexDef, bool, error) {
	payload, _, found, err := c.get(KindIndex, name)
	if err != nil || !found {
		return IndexDef{}, false, err
	}
	return decodeIndex(payload), true, nil
}

// DeleteIndex removes an index's catalog entry. As with DeleteTable, the
// index's own tree is freed by the caller, not here.
func (c *Catalog) DeleteIndex(name string) (bool, error) {
	return c.delete(KindIndex, name)
}

// ListIndexesForTable returns every index defined on a table, ordered by
// name.
func (c *Catalog) ListIndexesForTable(table string) ([]IndexDef, error) {
	var out []IndexDef
	if err := c.scanAll(KindIndex, func(payload record.Record) {
		ix := decodeIndex(payload)
		if ix.Table == table {
			out = append(out, ix)
		}
	}); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ListIndexes returns every index definition in the catalog, ordered by
// name. Used by vacuum (spec.md §6), which must rebuild every index tree
// regardless of which table owns it.
func (c *Catalog) ListIndexes() ([]IndexDef, error) {
	var out []IndexDef
	if err := c.scanAll(KindIndex, func(payload record.Record) {
		out = append(out, decodeIndex(payload))
	}); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// FkDef is the catalog's record of one foreign-key constraint, enforced at
// statement time (spec.md §9 Open Question, resolved in DESIGN.md).
type FkDef struct {
	Name      string
	Table     string
	Column    string
	RefTable  string
	RefColumn string
}

func encodeFk(fk FkDef) record.Record {
	return record.Record{
		record.TextValue(fk.Name),
		record.TextValue(fk.Table),
		record.TextValue(fk.Column),
		record.TextValue(fk.RefTable),
		record.TextValue(fk.RefColumn),
	}
}

func decodeFk(rec record.Record) FkDef {
	return FkDef{
		Name:      fieldText(rec, 0),
		Table:     fieldText(rec, 1),
		Column:    fieldText(rec, 2),
		RefTable:  fieldText(rec, 3),
		RefColumn: fieldText(rec, 4),
	}
}

// PutForeignKey upserts a foreign-key constraint definition.
func (c *Catalog) PutForeignKey(fk FkDef, schemaCookie uint64) error {
	return c.put(KindForeignKey, fk.Name, schemaCookie, encodeFk(fk))
}

// DeleteForeignKey removes a foreign-key constraint's catalog entry.
func (c *Catalog) DeleteForeignKey(name string) (bool, error) {
	return c.delete(KindForeignKey, name)
}

// ListForeignKeysForTable returns every foreign key declared on a table,
// ordered by name.
func (c *Catalog) ListForeignKeysForTable(table string) ([]FkDef, error) {
	var out []FkDef
	if err := c.scanAll(KindForeignKey, func(payload record.Record) {
		fk := decodeFk(payload)
		if fk.Table == table {
			out = append(out, fk)
		}
	}); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ListForeignKeys returns every foreign-key constraint in the catalog,
// ordered by name (vacuum needs the full set, not just one table's).
func (c *Catalog) ListForeignKeys() ([]FkDef, error) {
	var out []FkDef
	if err := c.scanAll(KindForeignKey, func(payload record.Record) {
		out = append(out, decodeFk(payload))
	}); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ViewDef is the catalog's record of one named query (spec.md §3 "View":
// stored as text, expanded at query-plan time — no materialization).
type ViewDef struct {
	Name  string
	Query string
}

func encodeView(v ViewDef) record.Record {
	return record.Record{record.TextValue(v.Name), record.TextValue(v.Query)}
}

func decodeView(rec record.Record) ViewDef {
	return ViewDef{Name: fieldText(rec, 0), Query: fieldText(rec, 1)}
}

// PutView upserts a view definition.
func (c *Catalog) PutView(v ViewDef, schemaCookie uint64) error {
	return c.put(KindView, v.Name, schemaCookie, encodeView(v))
}

// GetView looks up a view by name.
func (c *Catalog) GetView(name string) (ViewDef, bool, error) {
	payload, _, found, err := c.get(KindView, name)
	if err != nil || !found {
		return ViewDef{}, false, err
	}
	return decodeView(payload), true, nil
}

// DeleteView removes a view's catalog entry.
func (c *Catalog) DeleteView(name string) (bool, error) {
	return c.delete(KindView, name)
}

// ListViews returns every view definition in the catalog, ordered by name.
func (c *Catalog) ListViews() ([]ViewDef, error) {
	var out []ViewDef
	if err := c.scanAll(KindView, func(payload record.Record) {
		out = append(out, decodeView(payload))
	}); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
