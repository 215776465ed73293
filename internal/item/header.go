// Package item defines the narrow slice of the cache record layout that
// the slab allocator is allowed to touch: the class id, the two flag bits
// it inspects during rebalancing, the atomic refcount, and the intrusive
// free-list links. Everything else about a cache record (key, value,
// expiry, LRU links) belongs to the cache package and is opaque here.
package item

import "sync/atomic"

// Flags is a bitmask. Only Linked and Slabbed are ever read or written by
// the allocator; any other bits belong to the cache and are preserved
// across slab operations that don't explicitly clear them.
type Flags uint8

const (
	// Linked marks an item as reachable from the cache's hash index.
	Linked Flags = 1 << iota
	// Slabbed marks a chunk as sitting on its class free list.
	Slabbed
)

const (
	// FreeClass is the class id carried by a chunk while it is on a free list.
	FreeClass uint8 = 0
	// Sentinel marks a chunk already reclaimed by the current rebalance
	// pass, so a retried scan over BUSY leftovers does not reprocess it.
	Sentinel uint8 = 255
)

// Header is the fixed-format prefix every chunk carries, regardless of
// which size class owns it. Page split and rebalance code operate on
// Header directly; the cache reaches it through the item.Chunk handle
// each of its records holds.
type Header struct {
	classID  uint32 // atomic: 0 = free, 255 = sentinel, else live class id
	flags    uint32 // atomic: see Flags
	refcount int32  // atomic

	// prevFree/nextFree are the doubly-linked free-list neighbours. They
	// span pages freely (an idiomatic Go free list is just a pointer
	// chain of *Header, not the index arithmetic a raw-pointer language
	// needs) and are only ever touched under the allocator lock.
	prevFree *Header
	nextFree *Header

	// owner/index recover the (page, chunk) pair a header belongs to,
	// set once when the page is carved and stable for the header's
	// lifetime even as the free list and live/free state change.
	owner *Page
	index uint32
}

// Reset clears a header back to its just-carved-from-a-page state: free,
// no flags, zero refcount, unlinked.
func (h *Header) Reset() {
	atomic.StoreUint32(&h.classID, uint32(FreeClass))
	atomic.StoreUint32(&h.flags, 0)
	atomic.StoreInt32(&h.refcount, 0)
	h.prevFree, h.nextFree = nil, nil
}

// ClassID returns the class id currently stamped on the chunk.
func (h *Header) ClassID() uint8 { return uint8(atomic.LoadUint32(&h.classID)) }

// SetClassID stamps the class id the chunk currently belongs to (or
// FreeClass / Sentinel).
func (h *Header) SetClassID(id uint8) { atomic.StoreUint32(&h.classID, uint32(id)) }

// FlagsValue returns the current flag bits.
func (h *Header) FlagsValue() Flags { return Flags(atomic.LoadUint32(&h.flags)) }

// SetFlags overwrites the flag bits wholesale (used when clearing a
// reclaimed chunk, or by the cache when it links/unlinks an item).
func (h *Header) SetFlags(f Flags) { atomic.StoreUint32(&h.flags, uint32(f)) }

// HasFlag reports whether every bit in f is set.
func (h *Header) HasFlag(f Flags) bool { return Flags(atomic.LoadUint32(&h.flags))&f == f }

// Refcount returns the current refcount without modifying it.
func (h *Header) Refcount() int32 { return atomic.LoadInt32(&h.refcount) }

// RefcountIncr atomically increments and returns the new value, mirroring
// the collaborator contract the cache normally owns; the rebalancer is the
// only allocator-side code that calls this directly (see internal/rebalance).
func (h *Header) RefcountIncr() int32 { return atomic.AddInt32(&h.refcount, 1) }

// RefcountDecr atomically decrements and returns the new value.
func (h *Header) RefcountDecr() int32 { return atomic.AddInt32(&h.refcount, -1) }

// SetRefcount force-sets the refcount; only used by MOVE_DONE handling,
// which must zero it unconditionally once a chunk has been fully reclaimed.
func (h *Header) SetRefcount(v int32) { atomic.StoreInt32(&h.refcount, v) }
