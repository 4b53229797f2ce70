// ABOUTME: Fixed-size page cache: pin/unpin, LRU eviction, freelist-backed allocation
// ABOUTME: Oblivious to the WAL — callers compose it with the overlay index for snapshot reads

package pager

import (
	"container/list"
	"fmt"
	"sync"

	"github.com/decentdb/decentdb/pkg/vfs"
)

// CacheStats receives cache events for observability. internal/metrics
// implements this; tests may pass nil.
type CacheStats interface {
	Hit()
	Miss()
	Eviction()
}

type cacheEntry struct {
	id     uint32
	data   []byte
	pinned int
	elem   *list.Element
}

// Pager owns the main database file: the header page, the page cache, and
// the freelist. It has no notion of transactions or the WAL; pkg/txn and
// pkg/wal compose it with the WAL overlay for snapshot reads and with the
// checkpoint protocol for durable writes.
type Pager struct {
	mu sync.Mutex

	file     vfs.File
	pageSize uint32
	header   Header

	capacity int
	cache    map[uint32]*cacheEntry
	lru      *list.List // front = most recently used

	free *freeList

	stats CacheStats
}

// Config controls Pager construction.
type Config struct {
	// PageSize is only honored when creating a new database file; an
	// existing file's page size (from its header) always wins.
	PageSize uint32
	// CachePages bounds how many pages may be pinned-or-cached at once.
	CachePages int
	Stats      CacheStats
}

const defaultCachePages = 4096

// Open opens or creates the main database file at path.
func Open(path string, cfg Config) (*Pager, error) {
	f, err := vfs.OpenFile(path)
	if err != nil {
		return nil, err
	}

	size, err := f.Size()
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	pageSize := cfg.PageSize
	if pageSize == 0 {
		pageSize = 4096
	}

	var header Header
	if size == 0 {
		if pageSize < MinPageSize || pageSize > MaxPageSize || pageSize&(pageSize-1) != 0 {
			_ = f.Close()
			return nil, fmt.Errorf("pager: %w: page size %d not a power of two in [%d,%d]", vfs.ErrCorrupted, pageSize, MinPageSize, MaxPageSize)
		}
		header = NewHeader(pageSize)
		buf := header.Encode(pageSize)
		if _, err := f.WriteAt(buf, 0); err != nil {
			_ = f.Close()
			return nil, err
		}
		if err := f.Sync(); err != nil {
			_ = f.Close()
			return nil, err
		}
	} else {
		// Read just the header layout from page 0; the real page size comes
		// from it, so the guessed page size never has to match the file.
		probe := make([]byte, headerLayoutSize)
		if _, err := f.ReadAt(probe, 0); err != nil {
			_ = f.Close()
			return nil, err
		}
		h, err := DecodeHeader(probe)
		if err != nil {
			_ = f.Close()
			return nil, err
		}
		header = h
		pageSize = h.PageSize
	}

	capacity := cfg.CachePages
	if capacity <= 0 {
		capacity = defaultCachePages
	}

	fl := newFreeList(int(pageSize))
	fl.headPage = uint32(header.FreelistHeadPage)
	fl.headSeq = header.FreelistHeadSeq
	fl.tailPage = uint32(header.FreelistTailPage)
	fl.tailSeq = header.FreelistTailSeq

	p := &Pager{
		file:     f,
		pageSize: pageSize,
		header:   header,
		capacity: capacity,
		cache:    make(map[uint32]*cacheEntry),
		lru:      list.New(),
		free:     fl,
		stats:    cfg.Stats,
	}
	fl.get = p.readRaw
	fl.put = p.writeRaw
	fl.new = p.allocRaw
	return p, nil
}

// Close flushes the header and closes the underlying file. It does not
// flush dirty pages staged by a write transaction — that is the WAL
// checkpoint's job, which must run before Close for a clean shutdown.
func (p *Pager) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.flushHeaderLocked(); err != nil {
		return err
	}
	return p.file.Close()
}

// PageSize returns the database's fixed page size.
func (p *Pager) PageSize() uint32 {
	return p.pageSize
}

// Header returns a copy of the current header state.
func (p *Pager) Header() Header {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.header
}

// SetWALEndLSN updates the header's last-clean-shutdown LSN; callers persist
// it via Close or an explicit FlushHeader.
func (p *Pager) SetWALEndLSN(lsn uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.header.WALEndLSN = lsn
}

// SetCatalogRoot records the catalog B+Tree's root page.
func (p *Pager) SetCatalogRoot(id uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.header.CatalogRoot = uint64(id)
}

// BumpSchemaCookie increments the schema cookie and returns the new value
// (spec.md §4.G "Schema cookie").
func (p *Pager) BumpSchemaCookie() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.header.SchemaCookie++
	return p.header.SchemaCookie
}

// SetSchemaCookie overwrites the schema cookie directly. Used by vacuum to
// carry the cookie across a rebuild without bumping it: vacuum reorganizes
// storage, it is not itself a DDL change (spec.md §6 "vacuum(Db) ...
// preserves all committed content").
func (p *Pager) SetSchemaCookie(v uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.header.SchemaCookie = v
}

// FlushHeader writes the current in-memory header to page 0 and fsyncs it.
func (p *Pager) FlushHeader() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.flushHeaderLocked()
}

func (p *Pager) flushHeaderLocked() error {
	p.header.FreelistHeadPage = uint64(p.free.headPage)
	p.header.FreelistHeadSeq = p.free.headSeq
	p.header.FreelistTailPage = uint64(p.free.tailPage)
	p.header.FreelistTailSeq = p.free.tailSeq

	buf := p.header.Encode(p.pageSize)
	if _, err := p.file.WriteAt(buf, 0); err != nil {
		return err
	}
	return p.file.Sync()
}

// readRaw reads a page directly from the file, bypassing pin/LRU bookkeeping
// — used internally by the freelist, which manages its own node pages.
func (p *Pager) readRaw(id uint32) ([]byte, error) {
	buf := make([]byte, p.pageSize)
	if _, err := p.file.ReadAt(buf, int64(id)*int64(p.pageSize)); err != nil {
		return nil, fmt.Errorf("pager: read page %d: %w", id, err)
	}
	return buf, nil
}

func (p *Pager) writeRaw(id uint32, data []byte) error {
	if _, err := p.file.WriteAt(data, int64(id)*int64(p.pageSize)); err != nil {
		return fmt.Errorf("pager: write page %d: %w", id, err)
	}
	return nil
}

func (p *Pager) allocRaw(data []byte) (uint32, error) {
	size, err := p.file.Size()
	if err != nil {
		return 0, err
	}
	id := uint32(size / int64(p.pageSize))
	if id == 0 {
		id = 1 // page 0 is the header
	}
	if err := p.file.Truncate(int64(id+1) * int64(p.pageSize)); err != nil {
		return 0, err
	}
	if err := p.writeRaw(id, data); err != nil {
		return 0, err
	}
	return id, nil
}

// Get pins and returns page id's contents. Callers must call Unpin exactly
// once per successful Get.
func (p *Pager) Get(id uint32) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if e, ok := p.cache[id]; ok {
		e.pinned++
		p.lru.MoveToFront(e.elem)
		if p.stats != nil {
			p.stats.Hit()
		}
		return e.data, nil
	}

	if p.stats != nil {
		p.stats.Miss()
	}

	if err := p.evictRoomLocked(); err != nil {
		return nil, err
	}

	data, err := p.readRaw(id)
	if err != nil {
		return nil, err
	}
	e := &cacheEntry{id: id, data: data, pinned: 1}
	e.elem = p.lru.PushFront(id)
	p.cache[id] = e
	return data, nil
}

// Unpin releases a pin acquired by Get.
func (p *Pager) Unpin(id uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.cache[id]
	if !ok || e.pinned == 0 {
		return
	}
	e.pinned--
}

// Put writes data for page id to the main file (without fsync; Sync makes
// a batch of Puts durable) and refreshes the cache entry if present. This is the path checkpoint uses to move WAL
// overlay pages into the main file (spec.md §4.D "Checkpoint").
func (p *Pager) Put(id uint32, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.writeRaw(id, data); err != nil {
		return err
	}
	if e, ok := p.cache[id]; ok {
		e.data = data
		p.lru.MoveToFront(e.elem)
	}
	return nil
}

// Sync fsyncs the main file (used after a batch of Put calls during
// checkpoint, per spec.md §4.D step "fsync main file").
func (p *Pager) Sync() error {
	return p.file.Sync()
}

// evictRoomLocked makes room for one more cache entry, evicting the
// least-recently-used unpinned page. Returns ErrResourceExhausted if every
// cached page is pinned.
func (p *Pager) evictRoomLocked() error {
	if len(p.cache) < p.capacity {
		return nil
	}
	for e := p.lru.Back(); e != nil; e = e.Prev() {
		id := e.Value.(uint32)
		entry := p.cache[id]
		if entry.pinned > 0 {
			continue
		}
		p.lru.Remove(e)
		delete(p.cache, id)
		if p.stats != nil {
			p.stats.Eviction()
		}
		return nil
	}
	return fmt.Errorf("pager: %w: cache full, all %d pages pinned", vfs.ErrResourceExhausted, p.capacity)
}

// Alloc returns a fresh page id, either recycled from the freelist or by
// extending the file, and writes zeros to it in the main file (without fsync).
func (p *Pager) Alloc() (uint32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if id, ok, err := p.free.pop(); err != nil {
		return 0, err
	} else if ok {
		zero := make([]byte, p.pageSize)
		if err := p.writeRaw(id, zero); err != nil {
			return 0, err
		}
		delete(p.cache, id) // stale cache entry, if any, must not survive reuse
		return id, nil
	}

	zero := make([]byte, p.pageSize)
	return p.allocRaw(zero)
}

// Free returns a page to the freelist for future reuse.
func (p *Pager) Free(id uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.cache[id]; ok {
		p.lru.Remove(e.elem)
		delete(p.cache, id)
	}
	return p.free.push(id)
}

// FreezeFreelistForTransaction prevents pages freed during the upcoming
// write transaction from being popped before it commits (spec.md §4.B).
func (p *Pager) FreezeFreelistForTransaction() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.free.freezeForTransaction()
}

// UnfreezeFreelist lifts the freeze once the transaction that installed it
// has committed or rolled back, making its frees available for reuse.
func (p *Pager) UnfreezeFreelist() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.free.unfreeze()
}

// FreelistLen reports how many pages are currently parked in the freelist.
func (p *Pager) FreelistLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.free.total()
}
