// Package slab implements the size-class table and per-class free-list
// allocator: the static layout of chunk sizes, and the single-threaded
// (lock-protected) alloc/free/new-page machinery that serves client
// requests. Rebalancing a page between classes lives in internal/rebalance,
// which reaches into this package's exported Class accessors under the
// same lock.
package slab

import "github.com/liran-funaro/memcached-slabs/internal/item"

// CHUNK_ALIGN from spec.md §3 — every chunk size is a multiple of this.
const ChunkAlign = 8

// Smallest is the first class id; class ids form a contiguous range
// [Smallest..largest]. Class 0 is reserved to mean "free"/"too big".
const Smallest = 1

// Class is one size class's descriptor: a fixed chunk size and the
// collection of pages currently carved into chunks of that size.
type Class struct {
	id            uint8
	chunkSize     uint32
	chunksPerPage uint32

	free item.FreeList

	// pages is grown geometrically (initial capacity 16, doubling) and
	// never shrunk on its own — see spec.md §9, preserved as documented
	// behavior rather than "fixed".
	pages []*item.Page

	// killing is the 1-based index into pages of the page currently
	// being evacuated by the rebalancer, or 0 if none.
	killing int

	// requestedBytes is the sum of user-requested sizes for currently
	// live allocations; always <= UsedChunks()*chunkSize.
	requestedBytes uint64
}

const initialPagesCapacity = 16

// ID returns the class id.
func (c *Class) ID() uint8 { return c.id }

// ChunkSize returns the class's chunk size in bytes.
func (c *Class) ChunkSize() uint32 { return c.chunkSize }

// ChunksPerPage returns how many chunks one page of this class holds.
func (c *Class) ChunksPerPage() uint32 { return c.chunksPerPage }

// Pages returns the number of pages currently owned by this class.
func (c *Class) Pages() int { return len(c.pages) }

// FreeCount returns the length of the class's free list.
func (c *Class) FreeCount() uint32 { return c.free.Len() }

// UsedChunks returns the number of currently live (non-free) chunks,
// derived from pages*chunksPerPage - free, matching spec.md's invariant.
func (c *Class) UsedChunks() uint64 {
	total := uint64(len(c.pages)) * uint64(c.chunksPerPage)
	return total - uint64(c.free.Len())
}

// RequestedBytes returns the sum of user-requested sizes for live
// allocations in this class.
func (c *Class) RequestedBytes() uint64 { return c.requestedBytes }

// Killing returns the 1-based index of the page under evacuation, or 0.
func (c *Class) Killing() int { return c.killing }

// Table holds the full, contiguous range of size-class descriptors built
// at init from a geometric growth factor, per spec.md §4.1.
type Table struct {
	classes []*Class // index 0 unused; classes[Smallest..Largest] populated
	largest uint8
}

// BuildTable computes the size-class layout for one growth factor and
// page size, starting from chunkSize0 = sizeof(item header) +
// chunkPrefix, aligned up to ChunkAlign, repeatedly multiplied by factor
// and aligned, while chunkSize <= pageSize/factor. The final class is the
// "largest" class with chunkSize == pageSize, one chunk per page.
func BuildTable(chunkPrefix uint32, factor float64, pageSize uint32) *Table {
	t := &Table{classes: make([]*Class, Smallest, Smallest+1)}

	size := alignUp(headerOverhead()+chunkPrefix, ChunkAlign)
	id := uint8(Smallest)
	for float64(size) <= float64(pageSize)/factor {
		t.classes = append(t.classes, newClass(id, size, pageSize))
		size = alignUp(uint32(float64(size)*factor), ChunkAlign)
		id++
	}
	t.classes = append(t.classes, newClass(id, pageSize, pageSize))
	t.largest = id
	return t
}

func newClass(id uint8, chunkSize uint32, pageSize uint32) *Class {
	return &Class{
		id:            id,
		chunkSize:     chunkSize,
		chunksPerPage: pageSize / chunkSize,
		pages:         make([]*item.Page, 0, initialPagesCapacity),
	}
}

// headerOverhead is the fixed per-chunk bookkeeping cost every class pays
// before the caller's bytes, mirroring sizeof(item) in the original. Items
// themselves live in the cache package; the allocator only needs the
// constant to size its smallest class correctly.
func headerOverhead() uint32 { return 48 }

func alignUp(n uint32, align uint32) uint32 {
	return (n + align - 1) / align * align
}

// Largest returns the id of the largest class.
func (t *Table) Largest() uint8 { return t.largest }

// Class returns the descriptor for id, or nil if out of range.
func (t *Table) Class(id uint8) *Class {
	if id < Smallest || int(id) >= len(t.classes) {
		return nil
	}
	return t.classes[id]
}

// ClassForSize returns the smallest class id whose chunk size fits n
// bytes, or 0 if n exceeds the largest class's chunk size ("object too
// big"). Monotone non-decreasing in n, per spec.md §8.
func (t *Table) ClassForSize(n uint32) uint8 {
	for id := uint8(Smallest); id <= t.largest; id++ {
		if t.classes[id].chunkSize >= n {
			return id
		}
	}
	return 0
}

// Each calls fn for every class in ascending id order.
func (t *Table) Each(fn func(*Class)) {
	for id := Smallest; id <= int(t.largest); id++ {
		fn(t.classes[id])
	}
}
