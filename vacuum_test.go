package decentdb

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/decentdb/decentdb/pkg/catalog"
	"github.com/decentdb/decentdb/pkg/record"
)

func openTestDb(t *testing.T) *Db {
	t.Helper()
	path := filepath.Join(t.TempDir(), "music.db")
	db, err := Open(path, Config{PageSize: 4096, CachePages: 256})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestVacuumPreservesGet(t *testing.T) {
	db := openTestDb(t)

	wtx := db.BeginWrite()
	if err := wtx.CreateTable(catalog.TableDef{
		Name:    "tracks",
		Columns: []catalog.ColumnDef{{Name: "title", Type: record.KindText}},
	}); err != nil {
		t.Fatal(err)
	}
	tree, err := wtx.OpenTree("tracks")
	if err != nil {
		t.Fatal(err)
	}
	const n = 500
	for i := uint64(1); i <= n; i++ {
		if err := tree.Put(i, []byte(fmt.Sprintf("track-%d", i))); err != nil {
			t.Fatal(err)
		}
	}
	// delete a few keys to leave gaps that vacuum should compact away
	for i := uint64(1); i <= 50; i++ {
		if _, err := tree.Delete(i); err != nil {
			t.Fatal(err)
		}
	}
	cat := wtx.Catalog()
	def, _, err := cat.GetTable("tracks")
	if err != nil {
		t.Fatal(err)
	}
	def.TreeRoot = tree.Root()
	if err := cat.PutTable(def, wtx.SchemaCookie()); err != nil {
		t.Fatal(err)
	}
	wtx.SetCatalogRoot(cat.Root())
	if _, err := wtx.Commit(); err != nil {
		t.Fatal(err)
	}

	if err := db.Vacuum(); err != nil {
		t.Fatalf("Vacuum: %v", err)
	}

	rtx := db.BeginRead()
	defer rtx.Close()
	rtree, err := rtx.OpenTree("tracks")
	if err != nil {
		t.Fatal(err)
	}
	for i := uint64(1); i <= n; i++ {
		val, found, err := rtree.Get(i)
		if err != nil {
			t.Fatal(err)
		}
		if i <= 50 {
			if found {
				t.Fatalf("key %d: expected deleted, found %q", i, val)
			}
			continue
		}
		want := fmt.Sprintf("track-%d", i)
		if !found || string(val) != want {
			t.Fatalf("key %d: got %q found=%v, want %q", i, val, found, want)
		}
	}
}

func TestVacuumIdempotent(t *testing.T) {
	db := openTestDb(t)

	wtx := db.BeginWrite()
	if err := wtx.CreateTable(catalog.TableDef{Name: "artists"}); err != nil {
		t.Fatal(err)
	}
	tree, err := wtx.OpenTree("artists")
	if err != nil {
		t.Fatal(err)
	}
	if err := tree.Put(1, []byte("only-row")); err != nil {
		t.Fatal(err)
	}
	cat := wtx.Catalog()
	def, _, _ := cat.GetTable("artists")
	def.TreeRoot = tree.Root()
	if err := cat.PutTable(def, wtx.SchemaCookie()); err != nil {
		t.Fatal(err)
	}
	wtx.SetCatalogRoot(cat.Root())
	if _, err := wtx.Commit(); err != nil {
		t.Fatal(err)
	}

	if err := db.Vacuum(); err != nil {
		t.Fatalf("first Vacuum: %v", err)
	}
	if err := db.Vacuum(); err != nil {
		t.Fatalf("second Vacuum: %v", err)
	}

	rtx := db.BeginRead()
	defer rtx.Close()
	rtree, err := rtx.OpenTree("artists")
	if err != nil {
		t.Fatal(err)
	}
	val, found, err := rtree.Get(1)
	if err != nil {
		t.Fatal(err)
	}
	if !found || string(val) != "only-row" {
		t.Fatalf("got %q found=%v", val, found)
	}
}
