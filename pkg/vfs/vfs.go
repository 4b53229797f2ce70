// ABOUTME: Raw file I/O abstraction over the OS file system
// ABOUTME: os.File ReadAt/WriteAt/Sync, directory fsync on create, fault injection for tests

package vfs

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sys/unix"
)

// File is the minimal durable-storage surface the pager and WAL need. It is
// an interface rather than a concrete *os.File so tests can substitute a
// fault-injecting wrapper without touching the pager/WAL logic.
type File interface {
	// ReadAt reads len(p) bytes starting at off.
	ReadAt(p []byte, off int64) (int, error)
	// WriteAt writes p at off. Implementations do not assume len(p) equals a
	// page size; callers are responsible for page-aligned writes where that
	// matters.
	WriteAt(p []byte, off int64) (int, error)
	// Truncate grows or shrinks the file to size bytes.
	Truncate(size int64) error
	// Sync flushes both file data and metadata to stable storage.
	Sync() error
	// Size returns the current file size in bytes.
	Size() (int64, error)
	// Close releases the underlying file descriptor.
	Close() error
}

// osFile is the production File implementation: a plain *os.File opened
// with the directory fsync'd at creation time so a crash immediately after
// create cannot lose the directory entry.
type osFile struct {
	f *os.File
}

// OpenFile opens or creates path for read/write access. On creation it also
// opens and fsyncs the containing directory, so the new directory entry is
// durable before Open returns.
func OpenFile(path string) (File, error) {
	existed := true
	if _, err := os.Stat(path); os.IsNotExist(err) {
		existed = false
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("vfs: open %s: %w", path, err)
	}

	if !existed {
		if err := fsyncDir(path); err != nil {
			_ = f.Close()
			return nil, err
		}
	}

	return &osFile{f: f}, nil
}

func fsyncDir(path string) error {
	dir := filepath.Dir(path)
	df, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("vfs: open directory %s: %w", dir, err)
	}
	defer df.Close()

	if err := unix.Fsync(int(df.Fd())); err != nil {
		return fmt.Errorf("vfs: %w: fsync directory %s: %v", ErrDurabilityFailed, dir, err)
	}
	return nil
}

func (o *osFile) ReadAt(p []byte, off int64) (int, error) {
	n, err := o.f.ReadAt(p, off)
	if err != nil {
		return n, fmt.Errorf("vfs: read at %d: %w", off, err)
	}
	return n, nil
}

func (o *osFile) WriteAt(p []byte, off int64) (int, error) {
	n, err := o.f.WriteAt(p, off)
	if err != nil {
		return n, fmt.Errorf("vfs: %w: write at %d: %v", ErrDurabilityFailed, off, err)
	}
	return n, nil
}

func (o *osFile) Truncate(size int64) error {
	if err := o.f.Truncate(size); err != nil {
		return fmt.Errorf("vfs: truncate to %d: %w", size, err)
	}
	return nil
}

func (o *osFile) Sync() error {
	if err := o.f.Sync(); err != nil {
		return fmt.Errorf("vfs: %w: sync: %v", ErrDurabilityFailed, err)
	}
	return nil
}

func (o *osFile) Size() (int64, error) {
	fi, err := o.f.Stat()
	if err != nil {
		return 0, fmt.Errorf("vfs: stat: %w", err)
	}
	return fi.Size(), nil
}

func (o *osFile) Close() error {
	if err := o.f.Close(); err != nil {
		return fmt.Errorf("vfs: close: %w", err)
	}
	return nil
}

// FaultInjector wraps a File and can be configured to corrupt or drop
// specific operations, for recovery and durability tests (spec.md §8
// concrete scenarios S1/S2: torn writes, dropped fsyncs).
//
// Fault injection is test-only: production callers always use OpenFile
// directly and never construct a FaultInjector.
type FaultInjector struct {
	mu sync.Mutex
	f  File

	// TruncateWritesTo, if non-zero, limits every WriteAt call's effective
	// length to at most this many bytes, simulating a torn write.
	TruncateWritesTo int
	// DropNextSync, if true, makes the next Sync() call silently succeed
	// without actually flushing anything to the OS (simulating a crash that
	// loses data the application believed was durable).
	DropNextSync bool
	// FailAfterWrites, if non-zero, makes every WriteAt call after the
	// Nth one return ErrDurabilityFailed.
	FailAfterWrites int

	writeCount int
}

// NewFaultInjector wraps f for fault-injection testing.
func NewFaultInjector(f File) *FaultInjector {
	return &FaultInjector{f: f}
}

func (fi *FaultInjector) ReadAt(p []byte, off int64) (int, error) {
	return fi.f.ReadAt(p, off)
}

func (fi *FaultInjector) WriteAt(p []byte, off int64) (int, error) {
	fi.mu.Lock()
	defer fi.mu.Unlock()

	fi.writeCount++
	if fi.FailAfterWrites > 0 && fi.writeCount > fi.FailAfterWrites {
		return 0, fmt.Errorf("vfs: %w: fault-injected write failure (write #%d)", ErrDurabilityFailed, fi.writeCount)
	}

	write := p
	if fi.TruncateWritesTo > 0 && len(write) > fi.TruncateWritesTo {
		write = write[:fi.TruncateWritesTo]
	}
	n, err := fi.f.WriteAt(write, off)
	if err != nil {
		return n, err
	}
	if len(write) != len(p) {
		// Report only the bytes actually written, with no error, as the OS
		// itself reports a torn write: a short write, not an error.
		return n, nil
	}
	return n, nil
}

func (fi *FaultInjector) Truncate(size int64) error { return fi.f.Truncate(size) }

func (fi *FaultInjector) Sync() error {
	fi.mu.Lock()
	defer fi.mu.Unlock()
	if fi.DropNextSync {
		fi.DropNextSync = false
		return nil
	}
	return fi.f.Sync()
}

func (fi *FaultInjector) Size() (int64, error) { return fi.f.Size() }
func (fi *FaultInjector) Close() error         { return fi.f.Close() }
