package stats

import (
	"strconv"

	"github.com/liran-funaro/memcached-slabs/internal/rebalance"
	"github.com/liran-funaro/memcached-slabs/internal/slab"
)

// Sink is the add_stat callback from spec.md §6: one call per key/value
// pair. Go's natural end-of-range replaces the original's nil-key
// terminator call, so Sink never needs to signal "no more stats".
type Sink func(key, val string)

// HitSource supplies the per-class command counters do_slabs_stats reads
// from its thread-local stats aggregation. Implemented by *cache.Cache;
// defined here rather than on slab.ClassSnapshot because the allocator
// has no visibility into cache hits/sets/deletes.
type HitSource interface {
	ItemStatsHits() (getHits, setCmds, deleteHits []uint64)
}

func at(s []uint64, i int) uint64 {
	if i < 0 || i >= len(s) {
		return 0
	}
	return s[i]
}

// WriteTextStats calls sink once per key/value pair slabs_stats would
// emit: per-class counters for every class with at least one page, then
// the two global counters, then the rebalancer's move/shrink totals.
func WriteTextStats(sink Sink, alloc *slab.Allocator, rebal *rebalance.Rebalancer, hits HitSource) {
	snap := alloc.StatsSnapshot()
	getHits, setCmds, deleteHits := hits.ItemStatsHits()
	for _, cs := range snap.Classes {
		prefix := strconv.Itoa(int(cs.ID)) + ":"
		sink(prefix+"chunk_size", strconv.FormatUint(uint64(cs.ChunkSize), 10))
		sink(prefix+"chunks_per_page", strconv.FormatUint(uint64(cs.ChunksPerPage), 10))
		sink(prefix+"total_pages", strconv.Itoa(cs.TotalPages))
		sink(prefix+"total_chunks", strconv.FormatUint(cs.TotalChunks, 10))
		sink(prefix+"used_chunks", strconv.FormatUint(cs.UsedChunks, 10))
		sink(prefix+"free_chunks", strconv.FormatUint(cs.FreeChunks, 10))
		sink(prefix+"mem_requested", strconv.FormatUint(cs.RequestedBytes, 10))
		sink(prefix+"get_hits", strconv.FormatUint(at(getHits, int(cs.ID)), 10))
		sink(prefix+"cmd_set", strconv.FormatUint(at(setCmds, int(cs.ID)), 10))
		sink(prefix+"delete_hits", strconv.FormatUint(at(deleteHits, int(cs.ID)), 10))
	}

	sink("active_slabs", strconv.Itoa(snap.ActiveSlabs))
	sink("total_malloced", strconv.FormatUint(snap.TotalMalloced, 10))

	rs := rebal.Stats()
	sink("slabs_moved", strconv.FormatUint(rs.SlabsMoved, 10))
	sink("slabs_shrunk", strconv.FormatUint(rs.SlabsShrunk, 10))
}
