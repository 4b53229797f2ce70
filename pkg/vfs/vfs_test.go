package vfs

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"
)

func TestOpenFileCreatesAndFsyncsDirectory(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.db")

	f, err := OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer f.Close()

	size, err := f.Size()
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if size != 0 {
		t.Fatalf("new file size = %d, want 0", size)
	}
}

func TestWriteAtReadAtRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.db")
	f, err := OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer f.Close()

	payload := bytes.Repeat([]byte{0xAB}, 4096)
	if _, err := f.WriteAt(payload, 4096); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	if err := f.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	got := make([]byte, 4096)
	if _, err := f.ReadAt(got, 4096); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatal("ReadAt did not return the bytes written")
	}
}

func TestFaultInjectorTruncatesWrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.db")
	base, err := OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer base.Close()

	fi := NewFaultInjector(base)
	fi.TruncateWritesTo = 10

	payload := bytes.Repeat([]byte{0x42}, 100)
	n, err := fi.WriteAt(payload, 0)
	if err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	if n != 10 {
		t.Fatalf("WriteAt wrote %d bytes under truncation, want 10", n)
	}

	got := make([]byte, 100)
	if _, err := base.ReadAt(got, 0); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if !bytes.Equal(got[:10], payload[:10]) {
		t.Fatal("first 10 bytes should have been written")
	}
	for _, b := range got[10:] {
		if b != 0 {
			t.Fatal("bytes beyond the torn write should remain zero")
		}
	}
}

func TestFaultInjectorDropsSync(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.db")
	base, err := OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer base.Close()

	fi := NewFaultInjector(base)
	fi.DropNextSync = true
	if err := fi.Sync(); err != nil {
		t.Fatalf("dropped Sync should not itself error: %v", err)
	}
	if fi.DropNextSync {
		t.Fatal("DropNextSync should reset after firing once")
	}
}

func TestFaultInjectorFailsAfterN(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.db")
	base, err := OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer base.Close()

	fi := NewFaultInjector(base)
	fi.FailAfterWrites = 1

	if _, err := fi.WriteAt([]byte("ok"), 0); err != nil {
		t.Fatalf("first write should succeed: %v", err)
	}
	_, err = fi.WriteAt([]byte("fail"), 8)
	if !errors.Is(err, ErrDurabilityFailed) {
		t.Fatalf("expected ErrDurabilityFailed on write past the limit, got %v", err)
	}
}
