// Package storage implements the paged storage engine: file I/O, page
// allocation and the free list, a bounded page cache, and the metadata
// page (spec §3, §4.2). It is the single shared owner of the database
// file that every table and B+Tree borrows from, generalizing the
// teacher's pkg/pager.Pager — which backed exactly one B+Tree per file —
// into one engine multiplexing every table's and index's B+Tree by root
// page id, the way spec §2/§3 describes a single-file database.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bits-and-blooms/bitset"
	"github.com/google/uuid"
	"github.com/ncw/directio"
	"golang.org/x/sync/errgroup"

	"learnql/pkg/config"
	"learnql/pkg/dberr"
	"learnql/pkg/list"
	"learnql/pkg/page"
)

// Metadata page 0 byte offsets (spec §3, §6). Page 0 does not use the
// generic 64-byte page.Page header; it has its own fixed layout.
const (
	metaOffSignature        = 0
	metaSignatureLen        = 16
	metaOffNextPageID       = 16
	metaOffFreeListHead     = 24
	metaOffSysTablesRoot    = 32
	metaOffSysFieldsRoot    = 40
	metaOffVersion          = 48
	metaOffCreatedTimestamp = 52
	metaOffSysIndexesRoot   = 60
)

// Engine is the storage engine: it owns the backing file, the page cache,
// and the free list, and persists the metadata page. A Database owns
// exactly one Engine; every Table and BTree it opens borrows a reference
// to it for the life of the Database (spec §3 "Ownership summary").
type Engine struct {
	mu   sync.Mutex
	file *os.File
	path string

	instanceID uuid.UUID

	// Metadata page 0 fields (spec §3).
	nextPageID       uint64
	freeListHead     uint64
	sysTablesRoot    uint64
	sysFieldsRoot    uint64
	sysIndexesRoot   uint64
	version          uint32
	createdTimestamp uint64

	// Bounded page cache.
	cacheCap  int
	pages     map[uint64]*page.Page
	order     *list.List[uint64]
	orderLink map[uint64]*list.Link[uint64]
	slotOf    map[uint64]uint
	freeSlots []uint
	dirty     *bitset.BitSet
}

// Open opens the database file at path, creating it (and its parent
// directories) if it does not exist. cacheSize bounds the number of pages
// held in memory at once; a value <= 0 uses config.DefaultPageCacheSize.
func Open(path string, cacheSize int) (*Engine, error) {
	if cacheSize <= 0 {
		cacheSize = config.DefaultPageCacheSize
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0775); err != nil {
			return nil, fmt.Errorf("storage: mkdir %s: %w", dir, err)
		}
	}
	file, err := directio.OpenFile(path, os.O_RDWR|os.O_CREATE, 0666)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, dberr.Io)
	}

	e := &Engine{
		file:       file,
		path:       path,
		instanceID: uuid.New(),
		cacheCap:   cacheSize,
		pages:      make(map[uint64]*page.Page, cacheSize),
		order:      list.New[uint64](),
		orderLink:  make(map[uint64]*list.Link[uint64], cacheSize),
		slotOf:     make(map[uint64]uint, cacheSize),
		dirty:      bitset.New(uint(cacheSize)),
	}
	e.freeSlots = make([]uint, cacheSize)
	for i := range e.freeSlots {
		e.freeSlots[i] = uint(cacheSize - 1 - i)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("storage: stat %s: %w", path, dberr.Io)
	}
	if info.Size() == 0 {
		if err := e.initFresh(); err != nil {
			file.Close()
			return nil, err
		}
		return e, nil
	}
	if err := e.loadMetadata(); err != nil {
		file.Close()
		return nil, err
	}
	return e, nil
}

// Path returns the filesystem path backing this engine.
func (e *Engine) Path() string { return e.path }

// InstanceID identifies this particular open Engine handle, for
// correlating diagnostics across concurrently-open handles to the same
// file during debugging.
func (e *Engine) InstanceID() uuid.UUID { return e.instanceID }

func (e *Engine) initFresh() error {
	e.nextPageID = 1
	e.freeListHead = 0
	e.sysTablesRoot = 0
	e.sysFieldsRoot = 0
	e.sysIndexesRoot = 0
	e.version = config.CurrentFileVersion
	e.createdTimestamp = uint64(time.Now().Unix())
	return e.persistMetadataLocked()
}

func (e *Engine) loadMetadata() error {
	buf := directio.AlignedBlock(int(config.PageSize))
	if _, err := e.file.ReadAt(buf, 0); err != nil {
		return fmt.Errorf("storage: read page 0: %w", dberr.Io)
	}
	if string(buf[metaOffSignature:metaOffSignature+metaSignatureLen]) != config.FileSignature {
		return fmt.Errorf("storage: bad signature: %w", dberr.CorruptDatabase)
	}
	version := leUint32(buf[metaOffVersion:])
	if version != 2 && version != 3 {
		return fmt.Errorf("storage: unsupported version %d: %w", version, dberr.VersionMismatch)
	}
	e.nextPageID = leUint64(buf[metaOffNextPageID:])
	e.freeListHead = leUint64(buf[metaOffFreeListHead:])
	e.sysTablesRoot = leUint64(buf[metaOffSysTablesRoot:])
	e.sysFieldsRoot = leUint64(buf[metaOffSysFieldsRoot:])
	e.createdTimestamp = leUint64(buf[metaOffCreatedTimestamp:])
	e.version = version
	if version == 3 {
		e.sysIndexesRoot = leUint64(buf[metaOffSysIndexesRoot:])
	} else {
		// v2 databases lack sys_indexes_root; treat as 0 (created lazily),
		// and upgrade to v3 on next persisted write.
		e.sysIndexesRoot = 0
		e.version = 3
	}
	return nil
}

func (e *Engine) persistMetadataLocked() error {
	buf := directio.AlignedBlock(int(config.PageSize))
	copy(buf[metaOffSignature:], config.FileSignature)
	putLeUint64(buf[metaOffNextPageID:], e.nextPageID)
	putLeUint64(buf[metaOffFreeListHead:], e.freeListHead)
	putLeUint64(buf[metaOffSysTablesRoot:], e.sysTablesRoot)
	putLeUint64(buf[metaOffSysFieldsRoot:], e.sysFieldsRoot)
	putLeUint32(buf[metaOffVersion:], config.CurrentFileVersion)
	putLeUint64(buf[metaOffCreatedTimestamp:], e.createdTimestamp)
	putLeUint64(buf[metaOffSysIndexesRoot:], e.sysIndexesRoot)
	if _, err := e.file.WriteAt(buf, 0); err != nil {
		return fmt.Errorf("storage: write page 0: %w", dberr.Io)
	}
	return nil
}

// ---- Catalog root accessors (spec §4.2 "Catalog root getters/setters
// mutate page 0 in place and persist immediately"). ----

func (e *Engine) SysTablesRoot() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sysTablesRoot
}

func (e *Engine) SetSysTablesRoot(pageID uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sysTablesRoot = pageID
	return e.persistMetadataLocked()
}

func (e *Engine) SysFieldsRoot() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sysFieldsRoot
}

func (e *Engine) SetSysFieldsRoot(pageID uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sysFieldsRoot = pageID
	return e.persistMetadataLocked()
}

func (e *Engine) SysIndexesRoot() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sysIndexesRoot
}

func (e *Engine) SetSysIndexesRoot(pageID uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sysIndexesRoot = pageID
	return e.persistMetadataLocked()
}

func (e *Engine) CreatedTimestamp() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.createdTimestamp
}

// ---- Page allocation ----

// Allocate returns the id of a fresh page of the given type, reusing a
// free-list entry if one is available (spec §4.2).
func (e *Engine) Allocate(typ page.Type) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var id uint64
	if e.freeListHead != 0 {
		id = e.freeListHead
		freePage, err := e.readLocked(id)
		if err != nil {
			return 0, err
		}
		e.freeListHead = freePage.NextPageID()
		freePage.Reinit(id, typ)
		e.writeLocked(id, freePage)
	} else {
		id = e.nextPageID
		e.nextPageID++
		newPage := page.New(id, typ)
		e.writeLocked(id, newPage)
	}
	if err := e.persistMetadataLocked(); err != nil {
		return 0, err
	}
	return id, nil
}

// Deallocate returns pageID to the free list. Deallocating page 0 fails
// with dberr.InvalidArgument.
func (e *Engine) Deallocate(pageID uint64) error {
	if pageID == 0 {
		return fmt.Errorf("storage: cannot deallocate page 0: %w", dberr.InvalidArgument)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	p, err := e.readLocked(pageID)
	if err != nil {
		return err
	}
	p.Reinit(pageID, page.TypeFree)
	p.SetNextPageID(e.freeListHead)
	e.freeListHead = pageID
	e.writeLocked(pageID, p)
	return e.persistMetadataLocked()
}

// ---- Read/write/flush ----

// Read returns a copy of the page with the given id, pulling it from the
// cache or from disk.
func (e *Engine) Read(pageID uint64) (*page.Page, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.readLocked(pageID)
}

func (e *Engine) readLocked(pageID uint64) (*page.Page, error) {
	if p, ok := e.pages[pageID]; ok {
		e.touchLocked(pageID)
		return p.Clone(), nil
	}
	raw := directio.AlignedBlock(int(config.PageSize))
	off := int64(pageID) * config.PageSize
	n, err := e.file.ReadAt(raw, off)
	if err != nil && n != len(raw) {
		return nil, fmt.Errorf("storage: read page %d: %w", pageID, dberr.Io)
	}
	p, err := page.Decode(raw)
	if err != nil {
		return nil, err
	}
	if !p.ValidateChecksum() {
		return nil, fmt.Errorf("storage: page %d failed checksum: %w", pageID, dberr.CorruptPage)
	}
	e.insertCacheLocked(pageID, p)
	return p.Clone(), nil
}

// Write caches page and marks it dirty, auto-flushing if the dirty set
// grows past half the cache capacity (spec §4.2).
func (e *Engine) Write(pageID uint64, p *page.Page) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.writeLocked(pageID, p)
	if int(e.dirty.Count()) > e.cacheCap/2 {
		return e.flushAllLocked()
	}
	return nil
}

func (e *Engine) writeLocked(pageID uint64, p *page.Page) {
	stored := p.Clone()
	if _, ok := e.pages[pageID]; !ok {
		e.insertCacheLocked(pageID, stored)
	} else {
		e.pages[pageID] = stored
		e.touchLocked(pageID)
	}
	e.dirty.Set(e.slotOf[pageID])
}

// insertCacheLocked adds pageID to the cache, evicting an entry first if
// at capacity. Eviction prefers any non-dirty entry; if every resident
// page is dirty, the oldest is flushed then evicted (spec §4.2).
func (e *Engine) insertCacheLocked(pageID uint64, p *page.Page) {
	if len(e.pages) >= e.cacheCap {
		e.evictOneLocked()
	}
	slot := e.freeSlots[len(e.freeSlots)-1]
	e.freeSlots = e.freeSlots[:len(e.freeSlots)-1]
	e.slotOf[pageID] = slot
	e.dirty.Clear(slot)
	e.pages[pageID] = p
	e.orderLink[pageID] = e.order.PushTail(pageID)
}

func (e *Engine) evictOneLocked() {
	victim := uint64(0)
	found := false
	for link := e.order.PeekHead(); link != nil; link = link.Next() {
		id := link.Value()
		if !e.dirty.Test(e.slotOf[id]) {
			victim = id
			found = true
			break
		}
	}
	if !found {
		// Every resident page is dirty; flush the oldest and evict it.
		victim = e.order.PeekHead().Value()
		e.flushPageLocked(victim)
	}
	e.orderLink[victim].PopSelf()
	delete(e.orderLink, victim)
	slot := e.slotOf[victim]
	delete(e.slotOf, victim)
	delete(e.pages, victim)
	e.dirty.Clear(slot)
	e.freeSlots = append(e.freeSlots, slot)
}

func (e *Engine) touchLocked(pageID uint64) {
	link, ok := e.orderLink[pageID]
	if !ok {
		return
	}
	link.PopSelf()
	e.orderLink[pageID] = e.order.PushTail(pageID)
}

func (e *Engine) flushPageLocked(pageID uint64) {
	p, ok := e.pages[pageID]
	if !ok {
		return
	}
	slot := e.slotOf[pageID]
	if !e.dirty.Test(slot) {
		return
	}
	p.UpdateChecksum()
	off := int64(pageID) * config.PageSize
	e.file.WriteAt(p.Bytes(), off)
	e.dirty.Clear(slot)
}

// FlushAll writes every dirty page to disk and syncs the file (spec
// §4.2). Dirty pages are written concurrently via an errgroup, since each
// write targets a disjoint byte range of the same file.
func (e *Engine) FlushAll() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.flushAllLocked()
}

func (e *Engine) flushAllLocked() error {
	var g errgroup.Group
	for pageID, p := range e.pages {
		pageID, p := pageID, p
		slot := e.slotOf[pageID]
		if !e.dirty.Test(slot) {
			continue
		}
		g.Go(func() error {
			stored := p.Clone()
			stored.UpdateChecksum()
			off := int64(pageID) * config.PageSize
			if _, err := e.file.WriteAt(stored.Bytes(), off); err != nil {
				return fmt.Errorf("storage: flush page %d: %w", pageID, dberr.Io)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	e.dirty.ClearAll()
	return e.file.Sync()
}

// Close flushes all dirty pages and closes the backing file.
func (e *Engine) Close() error {
	if err := e.FlushAll(); err != nil {
		return err
	}
	return e.file.Close()
}

func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func leUint64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(b[i]) << (8 * i)
	}
	return v
}

func putLeUint32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func putLeUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}
