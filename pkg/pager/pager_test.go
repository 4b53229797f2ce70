package pager

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"

	"github.com/decentdb/decentdb/pkg/vfs"
)

func TestOpenCreatesHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.db")
	p, err := Open(path, Config{PageSize: 4096, CachePages: 16})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer p.Close()

	h := p.Header()
	if h.PageSize != 4096 {
		t.Fatalf("PageSize = %d, want 4096", h.PageSize)
	}
	if h.Version != FormatVersion {
		t.Fatalf("Version = %d, want %d", h.Version, FormatVersion)
	}
}

func TestAllocGetPutRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.db")
	p, err := Open(path, Config{PageSize: 4096, CachePages: 16})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer p.Close()

	id, err := p.Alloc()
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if id == 0 {
		t.Fatal("Alloc returned page 0, which is reserved for the header")
	}

	payload := bytes.Repeat([]byte{0x7A}, int(p.PageSize()))
	if err := p.Put(id, payload); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := p.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatal("Get did not return the bytes written by Put")
	}
	p.Unpin(id)
}

func TestFreelistReusesPages(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.db")
	p, err := Open(path, Config{PageSize: 4096, CachePages: 16})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer p.Close()

	id1, err := p.Alloc()
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if err := p.Free(id1); err != nil {
		t.Fatalf("Free: %v", err)
	}

	id2, err := p.Alloc()
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if id2 != id1 {
		t.Fatalf("Alloc after Free = %d, want reused page %d", id2, id1)
	}
}

func TestFreelistFreezeDuringTransaction(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.db")
	p, err := Open(path, Config{PageSize: 4096, CachePages: 16})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer p.Close()

	id1, err := p.Alloc()
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}

	p.FreezeFreelistForTransaction()
	if err := p.Free(id1); err != nil {
		t.Fatalf("Free: %v", err)
	}

	// id1 was freed after the freeze snapshot, so it must not be handed back
	// out within the same transaction window.
	id2, err := p.Alloc()
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if id2 == id1 {
		t.Fatal("Alloc returned a page frozen by the in-flight transaction")
	}
}

func TestGetReturnsResourceExhaustedWhenAllPinned(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.db")
	p, err := Open(path, Config{PageSize: 4096, CachePages: 2})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer p.Close()

	ids := make([]uint32, 3)
	for i := range ids {
		id, err := p.Alloc()
		if err != nil {
			t.Fatalf("Alloc: %v", err)
		}
		ids[i] = id
	}

	if _, err := p.Get(ids[0]); err != nil {
		t.Fatalf("Get(0): %v", err)
	}
	if _, err := p.Get(ids[1]); err != nil {
		t.Fatalf("Get(1): %v", err)
	}
	// Both cache slots are now pinned; a third distinct page cannot be
	// admitted.
	_, err = p.Get(ids[2])
	if !errors.Is(err, vfs.ErrResourceExhausted) {
		t.Fatalf("expected ErrResourceExhausted, got %v", err)
	}
}

func TestReopenPreservesHeaderAndData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.db")
	p, err := Open(path, Config{PageSize: 4096, CachePages: 16})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	id, err := p.Alloc()
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	payload := bytes.Repeat([]byte{0x11}, 4096)
	if err := p.Put(id, payload); err != nil {
		t.Fatalf("Put: %v", err)
	}
	p.BumpSchemaCookie()
	p.SetCatalogRoot(id)
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	p2, err := Open(path, Config{CachePages: 16})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer p2.Close()

	h := p2.Header()
	if h.SchemaCookie != 1 {
		t.Fatalf("SchemaCookie = %d, want 1", h.SchemaCookie)
	}
	if h.CatalogRoot != uint64(id) {
		t.Fatalf("CatalogRoot = %d, want %d", h.CatalogRoot, id)
	}

	got, err := p2.Get(id)
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatal("page contents did not survive reopen")
	}
}

func TestIncompatibleFormatRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.db")
	f, err := vfs.OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	bad := make([]byte, 4096)
	copy(bad[0:4], "NOPE")
	if _, err := f.WriteAt(bad, 0); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	f.Close()

	_, err = Open(path, Config{CachePages: 16})
	if !errors.Is(err, vfs.ErrIncompatibleFormat) {
		t.Fatalf("expected ErrIncompatibleFormat, got %v", err)
	}
}
