package slab

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/liran-funaro/memcached-slabs/internal/item"
)

// pointerSize approximates the bookkeeping cost of one more page slot in a
// class's pages slice, mirroring the original's sizeof(void *) accounting
// for mem_malloced_slablist.
const pointerSize = 8

// ExternalOverheadFunc reports memory held by collaborators outside the
// allocator's own bookkeeping (e.g. the hash table), the Go analogue of
// the original's tell_hashsize(). A nil func is treated as always-zero.
type ExternalOverheadFunc func() uint64

// Options configures a new Allocator.
type Options struct {
	MemoryLimit     uint64 // 0 = unlimited
	GrowthFactor    float64
	Prealloc        bool
	ChunkPrefix     uint32
	PageSize        uint32
	Arena           bool
	ExternalOverhead ExternalOverheadFunc
	Logger          *zap.Logger
}

const defaultPageSize = 1 << 20 // 1 MiB, per spec.md glossary

// Allocator owns the size-class table, the backing memory provider, and
// every global byte counter from spec.md §3. All mutation happens under
// mu; client Alloc/Free block on mu only (spec.md §5).
type Allocator struct {
	mu sync.Mutex

	table    *Table
	provider *Provider
	pageSize uint32

	memoryLimit           uint64
	bytesSlabListOverhead uint64
	externalOverhead      ExternalOverheadFunc

	log *zap.Logger
}

// New builds the size-class table and backing provider from opts. If
// opts.Prealloc is set, one page per class is force-allocated before
// returning; a failure to do so is an operator configuration error and
// aborts the process via Logger.Fatal, per spec.md §4.1/§7.
func New(opts Options) *Allocator {
	if opts.PageSize == 0 {
		opts.PageSize = defaultPageSize
	}
	if opts.GrowthFactor <= 1.0 {
		opts.GrowthFactor = 1.25
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	a := &Allocator{
		table:            BuildTable(opts.ChunkPrefix, opts.GrowthFactor, opts.PageSize),
		provider:         NewProvider(opts.Arena, opts.MemoryLimit, opts.PageSize),
		pageSize:         opts.PageSize,
		memoryLimit:      opts.MemoryLimit,
		externalOverhead: opts.ExternalOverhead,
		log:              log,
	}

	if opts.Prealloc {
		a.preallocate()
	}
	return a
}

// preallocate force-allocates one page per class so every class can serve
// at least one request before any out-of-memory condition can occur.
// spec.md §9 flags that the original keys this off power_largest (the
// largest class id) used as a count of classes to pre-fill; since class
// ids are contiguous starting near Smallest, walking
// [Smallest..Largest] by id is equivalent and is what we do here.
func (a *Allocator) preallocate() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.table.Each(func(c *Class) {
		if _, ok := a.newPageForClassLocked(c); !ok {
			a.log.Fatal("slab preallocate: could not satisfy configuration",
				zap.Uint8("class", c.id),
				zap.Uint32("chunk_size", c.chunkSize),
				zap.Uint64("memory_limit", a.memoryLimit))
		}
	})
}

// Table returns the allocator's size-class table.
func (a *Allocator) Table() *Table { return a.table }

// PageSize returns the configured page size.
func (a *Allocator) PageSize() uint32 { return a.pageSize }

// ClassForSize is the public §6 entry point: class_for_size.
func (a *Allocator) ClassForSize(n uint32) uint8 { return a.table.ClassForSize(n) }

// Alloc serves one chunk of the given class, carving a new page if the
// free list is empty. Returns the zero Chunk and false on capacity
// failure (spec.md §7: an expected condition, not logged).
func (a *Allocator) Alloc(size uint32, classID uint8) (item.Chunk, bool) {
	c := a.table.Class(classID)
	if c == nil {
		return item.Chunk{}, false
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if c.free.Len() == 0 {
		if _, ok := a.newPageForClassLocked(c); !ok {
			return item.Chunk{}, false
		}
	}

	chunk, ok := c.free.Pop()
	if !ok {
		return item.Chunk{}, false
	}
	h := chunk.Header()
	h.SetClassID(classID)
	h.SetFlags(0)
	c.requestedBytes += uint64(size)
	return chunk, true
}

// Free returns a chunk to its class's free list and undoes its
// contribution to requestedBytes.
func (a *Allocator) Free(c item.Chunk, size uint32, classID uint8) {
	cls := a.table.Class(classID)
	if cls == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	cls.free.Push(c.Header())
	if uint64(size) <= cls.requestedBytes {
		cls.requestedBytes -= uint64(size)
	} else {
		cls.requestedBytes = 0
	}
}

// AdjustRequested atomically replaces an allocation's contribution to
// requestedBytes, used when the cache replaces an item's value in place.
// An out-of-range class id is a caller bug and aborts the process
// (spec.md §7).
func (a *Allocator) AdjustRequested(classID uint8, oldSize, newSize uint32) {
	c := a.table.Class(classID)
	if c == nil {
		a.log.Fatal("adjust_requested: class id out of range", zap.Uint8("class", classID))
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if uint64(oldSize) <= c.requestedBytes {
		c.requestedBytes -= uint64(oldSize)
	} else {
		c.requestedBytes = 0
	}
	c.requestedBytes += uint64(newSize)
}

// totalAccountedLocked is TOTAL_MALLOCED from the original: bytes
// malloced plus slab-list overhead plus whatever external collaborators
// report holding (e.g. the hash table).
func (a *Allocator) totalAccountedLocked() uint64 {
	total := a.provider.BytesMalloced() + a.bytesSlabListOverhead
	if a.externalOverhead != nil {
		total += a.externalOverhead()
	}
	return total
}

// withinLimitLocked reports whether charging `additional` more bytes
// would keep total accounted bytes at or under the memory limit (always
// true when the limit is 0, i.e. unlimited).
func (a *Allocator) withinLimitLocked(additional uint64) bool {
	if a.memoryLimit == 0 {
		return true
	}
	return a.totalAccountedLocked()+additional <= a.memoryLimit
}

// newPageForClassLocked implements new_page(class_id) from spec.md §4.3:
// grow the pages array if full (charging its added bytes first), request
// one page from the backing provider (re-checking the budget), zero it,
// split it into chunksPerPage free chunks, and append it to the class.
// A class with zero pages is always permitted its first page even over
// budget, so every class can serve at least one allocation.
func (a *Allocator) newPageForClassLocked(c *Class) (*item.Page, bool) {
	hasFirst := len(c.pages) == 0

	if len(c.pages) == cap(c.pages) {
		newCap := cap(c.pages) * 2
		if newCap == 0 {
			newCap = initialPagesCapacity
		}
		growth := uint64(newCap-cap(c.pages)) * pointerSize
		if !hasFirst && !a.withinLimitLocked(growth) {
			return nil, false
		}
		grown := make([]*item.Page, len(c.pages), newCap)
		copy(grown, c.pages)
		c.pages = grown
		a.bytesSlabListOverhead += growth
	}

	if !hasFirst && !a.withinLimitLocked(uint64(a.pageSize)) {
		return nil, false
	}

	block, ok := a.provider.AllocatePage()
	if !ok {
		return nil, false
	}

	page := item.NewPage(c.id, c.chunkSize, c.chunksPerPage, block)
	c.pages = append(c.pages, page)
	c.free.PushPageAscending(page)
	return page, true
}

// NewPageForClass grows class classID by one freshly allocated page under
// the allocator lock, with the same budget checks Alloc applies when its
// free list is empty. The rebalancer's FINISH step does not use it; it
// lands a moved page with AppendExistingPageLocked instead.
func (a *Allocator) NewPageForClass(classID uint8) (*item.Page, bool) {
	c := a.table.Class(classID)
	if c == nil {
		return nil, false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.newPageForClassLocked(c)
}

// Lock acquires the allocator lock. Exported so the rebalance package can
// extend critical sections across START/MOVE/FINISH per the fixed lock
// order documented in spec.md §5 (cache_lock -> allocator_lock ->
// rebalance_lock).
func (a *Allocator) Lock() { a.mu.Lock() }

// Unlock releases the allocator lock.
func (a *Allocator) Unlock() { a.mu.Unlock() }

// GrowPagesCapacityLocked ensures class dst's pages slice has room for one
// more page without yet appending one, charging the growth against the
// memory limit. Must be called with the allocator lock held. Returns
// false if growth would exceed the limit (the class already has pages).
func (a *Allocator) GrowPagesCapacityLocked(dst uint8) bool {
	c := a.table.Class(dst)
	if c == nil {
		return false
	}
	if len(c.pages) < cap(c.pages) {
		return true
	}
	newCap := cap(c.pages) * 2
	if newCap == 0 {
		newCap = initialPagesCapacity
	}
	growth := uint64(newCap-cap(c.pages)) * pointerSize
	if len(c.pages) > 0 && !a.withinLimitLocked(growth) {
		return false
	}
	grown := make([]*item.Page, len(c.pages), newCap)
	copy(grown, c.pages)
	c.pages = grown
	a.bytesSlabListOverhead += growth
	return true
}

// BeginEvacuationLocked marks class src's first page as the rebalance
// victim (killing = 1, always the first page per spec.md §4.4.1) and
// returns it. Fails if src has fewer than 2 pages, since a source must
// retain at least one page after the move. Must be called with the
// allocator lock held.
func (a *Allocator) BeginEvacuationLocked(src uint8) (*item.Page, bool) {
	c := a.table.Class(src)
	if c == nil || len(c.pages) < 2 {
		return nil, false
	}
	c.killing = 1
	return c.pages[c.killing-1], true
}

// FinishRemoveSourceLocked removes the evacuating page from class src by
// overwriting its slot with the last element and shrinking the slice
// (the original's swap-and-pop; the pages array itself never shrinks its
// capacity, per spec.md §9), and clears killing. Must be called with the
// allocator lock held.
func (a *Allocator) FinishRemoveSourceLocked(src uint8) *item.Page {
	c := a.table.Class(src)
	if c == nil || c.killing == 0 {
		return nil
	}
	idx := c.killing - 1
	victim := c.pages[idx]
	last := len(c.pages) - 1
	c.pages[idx] = c.pages[last]
	c.pages = c.pages[:last]
	c.killing = 0
	return victim
}

// AbortEvacuationLocked cancels a pending evacuation (killing mark) on src,
// used when START reserved a victim page but then failed to secure room in
// the destination class. Must be called with the allocator lock held.
func (a *Allocator) AbortEvacuationLocked(src uint8) {
	if c := a.table.Class(src); c != nil {
		c.killing = 0
	}
}

// AppendExistingPageLocked appends an already-carved page (rebound to
// dst's chunk size) to dst's pages slice and splits it into dst's free
// list. Must be called with the allocator lock held, after
// GrowPagesCapacityLocked succeeded for dst.
func (a *Allocator) AppendExistingPageLocked(dst uint8, p *item.Page) {
	c := a.table.Class(dst)
	if c == nil {
		return
	}
	p.Rebind(dst, c.chunkSize, c.chunksPerPage)
	c.pages = append(c.pages, p)
	c.free.PushPageAscending(p)
}

// ReleasePageLocked hands a page back to the backing provider (on-demand
// mode) or strands it inside the arena (arena mode, a no-op beyond
// marking it untracked). Must be called with the allocator lock held.
func (a *Allocator) ReleasePageLocked(p *item.Page) {
	a.provider.ReleasePage(p.Block())
}

// RemoveFreeChunkLocked splices h out of its class's free list; used by
// MOVE when it finds a SLABBED chunk sitting free inside the evacuating
// page.
func (a *Allocator) RemoveFreeChunkLocked(classID uint8, h *item.Header) {
	c := a.table.Class(classID)
	if c == nil {
		return
	}
	c.free.Remove(h)
}

// CanShrink reports whether the backing provider supports releasing
// pages back to the system (on-demand mode only).
func (a *Allocator) CanShrink() bool { return a.provider.CanShrink() }

// Provider exposes the backing memory provider for stats reporting.
func (a *Allocator) Provider() *Provider { return a.provider }

// MemoryLimit returns the currently configured memory limit (0 = unlimited).
func (a *Allocator) MemoryLimit() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.memoryLimit
}

// SetMemoryLimit implements spec.md §4.5: in arena mode it is inflexible
// (-1); a limit below one page is rejected (-2); otherwise it updates the
// limit and reports how many pages' worth of excess the automover should
// expect to reclaim (0 if already within budget).
func (a *Allocator) SetMemoryLimit(newLimit uint64) int64 {
	if !a.CanShrink() {
		return -1
	}
	if newLimit < uint64(a.pageSize) {
		return -2
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.memoryLimit = newLimit
	current := a.totalAccountedLocked()
	if current <= newLimit {
		return 0
	}
	gap := current - newLimit
	return int64(ceilDiv(gap, uint64(a.pageSize)))
}

func ceilDiv(a, b uint64) uint64 {
	if b == 0 {
		return 0
	}
	return (a + b - 1) / b
}

// ClassIDs returns every class id in ascending order.
func (a *Allocator) ClassIDs() []uint8 {
	ids := make([]uint8, 0, int(a.table.Largest()))
	for id := uint8(Smallest); id <= a.table.Largest(); id++ {
		ids = append(ids, id)
	}
	return ids
}

// PagesSnapshot returns the current page count per class, indexed by
// class id (index 0 unused). It takes the allocator lock briefly, the Go
// rendition of the "brief cache-lock snapshot" spec.md §5 describes for
// the automover: a stale read only delays decisions, it never races.
func (a *Allocator) PagesSnapshot() []int {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]int, a.table.Largest()+1)
	for id := uint8(Smallest); id <= a.table.Largest(); id++ {
		out[id] = len(a.table.classes[id].pages)
	}
	return out
}

// BytesSlabListOverhead returns bytes held by the pages growth arrays.
func (a *Allocator) BytesSlabListOverhead() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.bytesSlabListOverhead
}

// TotalMalloced returns bytes obtained from the backing provider plus
// slab-list overhead plus external overhead (TOTAL_MALLOCED).
func (a *Allocator) TotalMalloced() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.totalAccountedLocked()
}

func (a *Allocator) String() string {
	return fmt.Sprintf("Allocator{largest=%d, provider=%s}", a.table.Largest(), a.provider)
}
