// Package cache is a minimal, test-double-quality stand-in for the hash
// table and LRU that spec.md §1 puts out of scope as external
// collaborators. It exists only so the rebalancer's MOVE phase and the
// automover's eviction telemetry read can be exercised end-to-end
// without pulling in a production cache. The doubly-linked list with
// fake head/tail sentinels is grounded on skipor/memcached's lru (see
// other_examples/aa412bcb_skipor-memcached__cache-lru.go.go); key
// hashing uses the same xxhash the pack's dgraph-io/ristretto cache
// reaches for.
package cache

import (
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/liran-funaro/memcached-slabs/internal/item"
)

// Record is one hash-index entry: a key and the chunk of allocator
// memory it resolves to, threaded onto the LRU list.
type Record struct {
	key   string
	chunk item.Chunk
	prev  *Record
	next  *Record
}

// Key returns the record's key.
func (r *Record) Key() string { return r.key }

// Chunk returns the allocator chunk backing this record.
func (r *Record) Chunk() item.Chunk { return r.chunk }

func link(a, b *Record) { a.next, b.prev = b, a }

// Cache is the collaborator stand-in: a single mutex guards a key index,
// a header-identity index (for the rebalancer's unlink-by-chunk path),
// and one LRU list, plus a running per-class eviction counter. The
// mutex IS the cache_lock spec.md §5 describes: rebalance.Collaborator's
// Lock/Unlock are this mutex's.
type Cache struct {
	mu sync.Mutex

	byKey    map[string]*Record
	byHeader map[*item.Header]*Record

	fakeHead *Record
	fakeTail *Record

	evictions []uint64 // indexed by class id; index 0 unused

	// Per-class command counters mirroring do_slabs_stats's
	// thread_stats.slab_stats aggregation: get_hits, cmd_set, delete_hits.
	getHits    []uint64
	setCmds    []uint64
	deleteHits []uint64
}

// New builds an empty Cache sized for class ids up to largestClass.
func New(largestClass uint8) *Cache {
	n := int(largestClass) + 1
	c := &Cache{
		byKey:      make(map[string]*Record),
		byHeader:   make(map[*item.Header]*Record),
		evictions:  make([]uint64, n),
		getHits:    make([]uint64, n),
		setCmds:    make([]uint64, n),
		deleteHits: make([]uint64, n),
	}
	c.fakeHead, c.fakeTail = &Record{}, &Record{}
	link(c.fakeHead, c.fakeTail)
	return c
}

// Lock acquires the cache lock. Satisfies rebalance.Collaborator.
func (c *Cache) Lock() { c.mu.Lock() }

// Unlock releases the cache lock. Satisfies rebalance.Collaborator.
func (c *Cache) Unlock() { c.mu.Unlock() }

// Hash is the stable key-hash collaborator contract from spec.md §6.
func Hash(key []byte) uint64 { return xxhash.Sum64(key) }

// Put links key to chunk, evicting any prior record under the same key,
// and pushes it to the MRU end of the list. Marks the chunk's header
// Linked, matching the allocator's expectation that a live, reachable
// chunk always carries that flag.
func (c *Cache) Put(key string, chunk item.Chunk) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.byKey[key]; ok {
		c.unlinkRecordLocked(old)
	}

	r := &Record{key: key, chunk: chunk}
	c.byKey[key] = r
	c.byHeader[chunk.Header()] = r
	c.pushBackLocked(r)

	h := chunk.Header()
	h.SetFlags(h.FlagsValue() | item.Linked)

	if classID := h.ClassID(); int(classID) < len(c.setCmds) {
		c.setCmds[classID]++
	}
}

// Get returns the chunk linked to key and marks it MRU, or the zero
// chunk and false on a miss.
func (c *Cache) Get(key string) (item.Chunk, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.byKey[key]
	if !ok {
		return item.Chunk{}, false
	}
	c.detachLocked(r)
	c.pushBackLocked(r)
	if classID := r.chunk.Header().ClassID(); int(classID) < len(c.getHits) {
		c.getHits[classID]++
	}
	return r.chunk, true
}

// Delete removes key from the index/LRU without touching its chunk's
// allocator state; the caller is responsible for freeing the chunk back
// to the allocator afterward.
func (c *Cache) Delete(key string) (item.Chunk, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.byKey[key]
	if !ok {
		return item.Chunk{}, false
	}
	classID := r.chunk.Header().ClassID()
	c.unlinkRecordLocked(r)
	if int(classID) < len(c.deleteHits) {
		c.deleteHits[classID]++
	}
	return r.chunk, true
}

// Evict removes the least-recently-used record, bumps its class's
// eviction counter, and returns its chunk for the caller to free.
func (c *Cache) Evict() (item.Chunk, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r := c.fakeHead.next
	if r == c.fakeTail {
		return item.Chunk{}, false
	}
	classID := r.chunk.Header().ClassID()
	c.unlinkRecordLocked(r)
	if int(classID) < len(c.evictions) {
		c.evictions[classID]++
	}
	return r.chunk, true
}

// ItemUnlinkNoLock implements rebalance.Collaborator: remove chunk from
// the index/LRU. Called only while Lock is already held, by the
// rebalancer's MOVE phase, for chunks it has observed carrying Linked.
func (c *Cache) ItemUnlinkNoLock(chunk item.Chunk) {
	r, ok := c.byHeader[chunk.Header()]
	if !ok {
		return
	}
	c.unlinkRecordLocked(r)
}

// ItemStatsEvictions implements automove.EvictionSource: a copy of the
// running per-class eviction counters.
func (c *Cache) ItemStatsEvictions() []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]uint64, len(c.evictions))
	copy(out, c.evictions)
	return out
}

// ItemStatsHits implements stats.HitSource: copies of the running
// per-class get_hits/cmd_set/delete_hits counters, grounded on
// do_slabs_stats's thread_stats.slab_stats aggregation
// (original_source/slabs.c:397-445). incr_hits/decr_hits/cas_hits/
// cas_badval/touch_hits have no counterpart here since this cache never
// exposes those commands.
func (c *Cache) ItemStatsHits() (getHits, setCmds, deleteHits []uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	getHits = append([]uint64(nil), c.getHits...)
	setCmds = append([]uint64(nil), c.setCmds...)
	deleteHits = append([]uint64(nil), c.deleteHits...)
	return
}

func (c *Cache) pushBackLocked(r *Record) {
	link(c.fakeTail.prev, r)
	link(r, c.fakeTail)
}

func (c *Cache) detachLocked(r *Record) {
	link(r.prev, r.next)
	r.prev, r.next = nil, nil
}

func (c *Cache) unlinkRecordLocked(r *Record) {
	c.detachLocked(r)
	delete(c.byKey, r.key)
	delete(c.byHeader, r.chunk.Header())
	h := r.chunk.Header()
	h.SetFlags(h.FlagsValue() &^ item.Linked)
}
