package catalog

import (
	"testing"

	"github.com/decentdb/decentdb/pkg/record"
)

type memStore struct {
	pages  map[uint32][]byte
	nextID uint32
}

func newMemStore() *memStore { return &memStore{pages: make(map[uint32][]byte)} }

func (m *memStore) Get(id uint32) ([]byte, error) { return m.pages[id], nil }

func (m *memStore) Alloc(data []byte) (uint32, error) {
	m.nextID++
	cp := append([]byte(nil), data...)
	m.pages[m.nextID] = cp
	return m.nextID, nil
}

func (m *memStore) Free(id uint32) error {
	delete(m.pages, id)
	return nil
}

const testPageSize = 512

func TestTableRoundTrip(t *testing.T) {
	c := Open(newMemStore(), testPageSize, 0)

	def := TableDef{
		Name: "users",
		Columns: []ColumnDef{
			{Name: "id", Type: record.KindInt64, NotNull: true},
			{Name: "name", Type: record.KindText},
		},
		RowIDCounter: 42,
		TreeRoot:     7,
	}
	if err := c.PutTable(def, 1); err != nil {
		t.Fatal(err)
	}

	got, found, err := c.GetTable("users")
	if err != nil {
		t.Fatal(err)
	}
	if !found {
		t.Fatal("expected table to be found")
	}
	if got.RowIDCounter != 42 || got.TreeRoot != 7 || len(got.Columns) != 2 {
		t.Fatalf("got %+v", got)
	}
	if got.Columns[0].Name != "id" || got.Columns[0].Type != record.KindInt64 || !got.Columns[0].NotNull {
		t.Fatalf("column 0 mismatch: %+v", got.Columns[0])
	}
	if got.Columns[1].Name != "name" || got.Columns[1].Type != record.KindText || got.Columns[1].NotNull {
		t.Fatalf("column 1 mismatch: %+v", got.Columns[1])
	}
}

func TestTableMissing(t *testing.T) {
	c := Open(newMemStore(), testPageSize, 0)
	_, found, err := c.GetTable("nope")
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Fatal("expected not found")
	}
}

func TestTableUpdateOverwrites(t *testing.T) {
	c := Open(newMemStore(), testPageSize, 0)
	if err := c.PutTable(TableDef{Name: "t", TreeRoot: 1}, 1); err != nil {
		t.Fatal(err)
	}
	if err := c.PutTable(TableDef{Name: "t", TreeRoot: 2}, 2); err != nil {
		t.Fatal(err)
	}
	got, found, err := c.GetTable("t")
	if err != nil || !found {
		t.Fatalf("found=%v err=%v", found, err)
	}
	if got.TreeRoot != 2 {
		t.Fatalf("expected overwritten root 2, got %d", got.TreeRoot)
	}
}

func TestTableDelete(t *testing.T) {
	c := Open(newMemStore(), testPageSize, 0)
	if err := c.PutTable(TableDef{Name: "t"}, 1); err != nil {
		t.Fatal(err)
	}
	deleted, err := c.DeleteTable("t")
	if err != nil || !deleted {
		t.Fatalf("deleted=%v err=%v", deleted, err)
	}
	_, found, err := c.GetTable("t")
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Fatal("expected table gone after delete")
	}
	deleted, err = c.DeleteTable("t")
	if err != nil {
		t.Fatal(err)
	}
	if deleted {
		t.Fatal("second delete should report false")
	}
}

func TestListTablesSortedByName(t *testing.T) {
	c := Open(newMemStore(), testPageSize, 0)
	for _, name := range []string{"zebra", "apple", "mango"} {
		if err := c.PutTable(TableDef{Name: name}, 1); err != nil {
			t.Fatal(err)
		}
	}
	tables, err := c.ListTables()
	if err != nil {
		t.Fatal(err)
	}
	if len(tables) != 3 {
		t.Fatalf("expected 3 tables, got %d", len(tables))
	}
	want := []string{"apple", "mango", "zebra"}
	for i, w := range want {
		if tables[i].Name != w {
			t.Fatalf("position %d: got %q want %q", i, tables[i].Name, w)
		}
	}
}

func TestIndexRoundTripAndListForTable(t *testing.T) {
	c := Open(newMemStore(), testPageSize, 0)
	idx1 := IndexDef{Name: "idx_users_name", Table: "users", Columns: []string{"name"}, Kind: IndexKindTrigram, TreeRoot: 9}
	idx2 := IndexDef{Name: "idx_users_id", Table: "users", Columns: []string{"id"}, Kind: IndexKindBTree, Unique: true, TreeRoot: 10}
	idx3 := IndexDef{Name: "idx_orders_id", Table: "orders", Columns: []string{"id"}, Kind: IndexKindBTree, TreeRoot: 11}

	for _, ix := range []IndexDef{idx1, idx2, idx3} {
		if err := c.PutIndex(ix, 1); err != nil {
			t.Fatal(err)
		}
	}

	got, found, err := c.GetIndex("idx_users_name")
	if err != nil || !found {
		t.Fatalf("found=%v err=%v", found, err)
	}
	if got.Kind != IndexKindTrigram || len(got.Columns) != 1 || got.Columns[0] != "name" {
		t.Fatalf("got %+v", got)
	}

	userIndexes, err := c.ListIndexesForTable("users")
	if err != nil {
		t.Fatal(err)
	}
	if len(userIndexes) != 2 {
		t.Fatalf("expected 2 indexes on users, got %d", len(userIndexes))
	}
	if userIndexes[0].Name != "idx_users_id" || userIndexes[1].Name != "idx_users_name" {
		t.Fatalf("unexpected order: %+v", userIndexes)
	}
}

func TestForeignKeyRoundTrip(t *testing.T) {
	c := Open(newMemStore(), testPageSize, 0)
	fk := FkDef{Name: "fk_orders_user", Table: "orders", Column: "user_id", RefTable: "users", RefColumn: "id"}
	if err := c.PutForeignKey(fk, 1); err != nil {
		t.Fatal(err)
	}
	fks, err := c.ListForeignKeysForTable("orders")
	if err != nil {
		t.Fatal(err)
	}
	if len(fks) != 1 || fks[0].RefTable != "users" {
		t.Fatalf("got %+v", fks)
	}
	deleted, err := c.DeleteForeignKey("fk_orders_user")
	if err != nil || !deleted {
		t.Fatalf("deleted=%v err=%v", deleted, err)
	}
}

func TestViewRoundTrip(t *testing.T) {
	c := Open(newMemStore(), testPageSize, 0)
	v := ViewDef{Name: "active_users", Query: "SELECT id FROM users WHERE active"}
	if err := c.PutView(v, 1); err != nil {
		t.Fatal(err)
	}
	got, found, err := c.GetView("active_users")
	if err != nil || !found {
		t.Fatalf("found=%v err=%v", found, err)
	}
	if got.Query != v.Query {
		t.Fatalf("got %+v", got)
	}
}

func TestDistinctKindsWithSameNameDoNotCollide(t *testing.T) {
	c := Open(newMemStore(), testPageSize, 0)
	if err := c.PutTable(TableDef{Name: "dup", TreeRoot: 1}, 1); err != nil {
		t.Fatal(err)
	}
	if err := c.PutView(ViewDef{Name: "dup", Query: "SELECT 1"}, 1); err != nil {
		t.Fatal(err)
	}
	table, found, err := c.GetTable("dup")
	if err != nil || !found || table.TreeRoot != 1 {
		t.Fatalf("table lookup broken: found=%v table=%+v err=%v", found, table, err)
	}
	view, found, err := c.GetView("dup")
	if err != nil || !found || view.Query != "SELECT 1" {
		t.Fatalf("view lookup broken: found=%v view=%+v err=%v", found, view, err)
	}
}
