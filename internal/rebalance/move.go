package rebalance

import (
	"go.uber.org/zap"

	"github.com/liran-funaro/memcached-slabs/internal/bitfield"
	"github.com/liran-funaro/memcached-slabs/internal/item"
)

// start implements slab_rebalance_start: pick the victim page (always
// src's first page, per the original's killing=1 convention), reserve
// room for it in dst if dst is a real class, and hand the context over
// to MOVE. Both locks are held only long enough to make that reservation
// atomic with the victim pick, per the fixed order cache_lock ->
// allocator_lock -> rebalance_lock documented in spec.md §5.
func (r *Rebalancer) start() bool {
	r.stateMu.Lock()
	j := r.queued
	r.stateMu.Unlock()

	r.collab.Lock()
	r.alloc.Lock()

	page, ok := r.alloc.BeginEvacuationLocked(j.src)
	if !ok {
		r.alloc.Unlock()
		r.collab.Unlock()
		return false
	}
	if j.dst != 0 && !r.alloc.GrowPagesCapacityLocked(j.dst) {
		r.alloc.AbortEvacuationLocked(j.src)
		r.alloc.Unlock()
		r.collab.Unlock()
		return false
	}

	r.alloc.Unlock()
	r.collab.Unlock()

	r.stateMu.Lock()
	r.ctx = moveContext{
		srcClass:          j.src,
		dstClass:          j.dst,
		numSlabsRemaining: j.numSlabs,
		page:              page,
	}
	r.sig = signalRunning
	r.stateMu.Unlock()

	r.log.Debug("rebalance: start",
		zap.Uint8("src", j.src), zap.Uint8("dst", j.dst), zap.Int("num_slabs", j.numSlabs))
	return true
}

// move implements slab_rebalance_move: scan up to bulk chunks of the
// victim page starting at the saved cursor. A chunk already carrying the
// Sentinel class id was handled on a prior sweep. Otherwise the refcount
// is incremented atomically and the result classifies the chunk exactly
// as the original does:
//   - 0 -> 1 and Slabbed: it was sitting free on src's free list; splice
//     it out and reclaim it (DONE).
//   - 1 -> 2 and Linked: a live item; unlink it from the cache's index
//     (cache lock is already held) and reclaim it (DONE).
//   - anything else (someone else holds a reference, or it's mid-write):
//     undo the increment and count it BUSY.
//
// When the cursor reaches the end of the page, a sweep with any BUSY
// chunks restarts from the top (giving holders a chance to release
// between ticks); a clean sweep marks the move done.
func (r *Rebalancer) move() int {
	r.collab.Lock()
	r.alloc.Lock()
	defer r.alloc.Unlock()
	defer r.collab.Unlock()

	page := r.ctx.page
	total := page.ChunksPerPage()
	budget := r.bulk
	tickBusy := 0

	for budget > 0 && r.ctx.pos < total {
		chunk := page.Chunk(r.ctx.pos)
		h := chunk.Header()

		if h.ClassID() != item.Sentinel {
			switch rc := h.RefcountIncr(); {
			case rc == 1 && h.HasFlag(item.Slabbed):
				r.alloc.RemoveFreeChunkLocked(r.ctx.srcClass, h)
				h.SetRefcount(0)
				h.SetClassID(item.Sentinel)
				h.SetFlags(0)
			case rc == 2 && h.HasFlag(item.Linked):
				r.collab.ItemUnlinkNoLock(chunk)
				h.SetRefcount(0)
				h.SetClassID(item.Sentinel)
				h.SetFlags(0)
			default:
				h.RefcountDecr()
				tickBusy++
				r.ctx.busyItems++
				if ce := r.log.Check(zap.DebugLevel, "rebalance: chunk busy"); ce != nil {
					word, _ := bitfield.PackChunkFlags(bitfield.ChunkFlags{
						Linked:   h.HasFlag(item.Linked),
						Slabbed:  h.HasFlag(item.Slabbed),
						ClassID:  uint32(h.ClassID()),
						Refcount: uint32(h.Refcount()),
					})
					ce.Write(zap.Uint32("flags", word), zap.Uint32("pos", r.ctx.pos))
				}
			}
		}

		r.ctx.pos++
		budget--
	}

	if r.ctx.pos >= total {
		if r.ctx.busyItems > 0 {
			r.ctx.pos = 0
			r.ctx.busyItems = 0
		} else {
			r.ctx.done = true
		}
	}
	return tickBusy
}

// finish implements slab_rebalance_finish: remove the now-fully-reclaimed
// victim page from src and either hand it to dst (rebinding it to dst's
// chunk size and splitting it into dst's free list) or release it back to
// the provider. If the job asked for more than one page (a shrink request,
// spec.md §6), requeue the remainder against the same src/dst pair.
func (r *Rebalancer) finish() {
	r.collab.Lock()
	r.alloc.Lock()

	victim := r.alloc.FinishRemoveSourceLocked(r.ctx.srcClass)
	if victim != nil {
		if r.ctx.dstClass == 0 {
			r.alloc.ReleasePageLocked(victim)
			r.stats.mu.Lock()
			r.stats.SlabsShrunk++
			r.stats.mu.Unlock()
		} else {
			r.alloc.AppendExistingPageLocked(r.ctx.dstClass, victim)
			r.stats.mu.Lock()
			r.stats.SlabsMoved++
			r.stats.mu.Unlock()
		}
	}

	r.alloc.Unlock()
	r.collab.Unlock()

	remaining := r.ctx.numSlabsRemaining - 1

	r.log.Debug("rebalance: finish",
		zap.Uint8("src", r.ctx.srcClass), zap.Uint8("dst", r.ctx.dstClass),
		zap.Int("remaining", remaining))

	r.stateMu.Lock()
	if remaining > 0 && victim != nil {
		r.queued = job{src: r.ctx.srcClass, dst: r.ctx.dstClass, numSlabs: remaining}
		r.sig = signalRequested
	} else {
		r.sig = signalIdle
	}
	r.ctx = moveContext{}
	r.stateMu.Unlock()
	r.cond.Broadcast()
}
