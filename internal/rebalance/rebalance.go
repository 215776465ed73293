// Package rebalance implements the three-phase page move (START -> MOVE*
// -> FINISH) that safely repurposes a full page from a donor size class
// to a recipient class, or releases it to the system, while concurrent
// readers/writers may still reference items inside it. See spec.md §4.4.
package rebalance

import (
	"os"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/liran-funaro/memcached-slabs/internal/item"
	"github.com/liran-funaro/memcached-slabs/internal/slab"
)

// EnvBulkCheck is the test/tuning hook from spec.md §6: sets the MOVE
// bulk size (0, or unset, falls back to DefaultBulk).
const EnvBulkCheck = "MEMCACHED_SLAB_BULK_CHECK"

// DefaultBulk is how many chunks MOVE inspects per invocation absent the
// env override.
const DefaultBulk = 1

// busyBackoff is how long the rebalancer sleeps between MOVE ticks when
// the previous tick saw any BUSY chunk (spec.md §5).
const busyBackoff = 50 * time.Microsecond

// signal mirrors the 0/1/2 integer from spec.md §4.4, kept as a small
// state enum rather than a bare int so the three meanings can't be
// confused with arithmetic on an arbitrary counter.
type signal int32

const (
	signalIdle      signal = 0 // no job
	signalRequested signal = 1 // job queued, START not yet run
	signalRunning   signal = 2 // page selected, MOVE scanning in progress
)

// ReassignResult is the enum §6 requires from Reassign.
type ReassignResult int

const (
	ReassignOK ReassignResult = iota
	ReassignRunning
	ReassignBadClass
	ReassignNoSpare
	ReassignSrcDstSame
	ReassignKillFew
)

func (r ReassignResult) String() string {
	switch r {
	case ReassignOK:
		return "OK"
	case ReassignRunning:
		return "RUNNING"
	case ReassignBadClass:
		return "BAD_CLASS"
	case ReassignNoSpare:
		return "NO_SPARE"
	case ReassignSrcDstSame:
		return "SRC_DST_SAME"
	case ReassignKillFew:
		return "KILL_FEW"
	default:
		return "UNKNOWN"
	}
}

// job is the queued request a future START will consume.
type job struct {
	src, dst uint8
	numSlabs int
}

// moveContext is the rebalance context from spec.md §3: the single,
// rebalancer-owned state of the page currently being evacuated.
type moveContext struct {
	srcClass, dstClass uint8
	numSlabsRemaining  int

	page      *item.Page
	pos       uint32 // scan cursor, in chunk index units
	busyItems int
	done      bool
}

// Stats are the counters spec.md §4.6 asks the rebalancer to bump.
type Stats struct {
	mu              sync.Mutex
	SlabsMoved      uint64
	SlabsShrunk     uint64
	ReassignRunning bool
}

func (s *Stats) snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{SlabsMoved: s.SlabsMoved, SlabsShrunk: s.SlabsShrunk, ReassignRunning: s.ReassignRunning}
}

// Snapshot returns a copy of the current counters.
func (s *Stats) Snapshot() Stats { return s.snapshot() }

// Rebalancer drives one move at a time, cooperating with a Collaborator
// to unlink live items safely. A single instance owns the rebalance
// context; callers submit work via Reassign.
type Rebalancer struct {
	alloc  *slab.Allocator
	collab Collaborator
	log    *zap.Logger
	bulk   int

	reassignMu sync.Mutex // "rebalance_lock": serializes job submission

	stateMu sync.Mutex
	cond    *sync.Cond
	sig     signal
	queued  job
	ctx     moveContext

	pickCursor uint8 // round-robin cursor for Reassign(src=-1, ...)

	stats Stats

	stopCh  chan struct{}
	wg      sync.WaitGroup
	started bool
}

// New builds a Rebalancer bound to alloc and collab. bulk, if 0, is
// resolved from MEMCACHED_SLAB_BULK_CHECK (falling back to DefaultBulk),
// matching spec.md §6.
func New(alloc *slab.Allocator, collab Collaborator, bulk int, log *zap.Logger) *Rebalancer {
	if bulk == 0 {
		bulk = resolveBulk()
	}
	if log == nil {
		log = zap.NewNop()
	}
	r := &Rebalancer{
		alloc:      alloc,
		collab:     collab,
		log:        log,
		bulk:       bulk,
		pickCursor: slab.Smallest - 1,
		stopCh:     make(chan struct{}),
	}
	r.cond = sync.NewCond(&r.stateMu)
	return r
}

func resolveBulk() int {
	if v := os.Getenv(EnvBulkCheck); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n != 0 {
			return n
		}
	}
	return DefaultBulk
}

// Stats returns a snapshot of the move/shrink counters.
func (r *Rebalancer) Stats() Stats { return r.stats.snapshot() }

// Evacuating reports the page currently under evacuation, if any, so a
// collaborator's lookup path can treat items inside it as in-flight
// (spec.md §5: "the cache must treat lookups that resolve to the
// [page_start, page_end) range as if the item were in-flight").
func (r *Rebalancer) Evacuating() (*item.Page, bool) {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	if r.sig != signalRunning {
		return nil, false
	}
	return r.ctx.page, true
}

// Reassign is the §6 control API. src=-1 picks any class with >=2 pages
// (round-robin); dst=0 means release; n applies only to shrink (a plain
// reassign always moves exactly 1 page to match the original's contract).
func (r *Rebalancer) Reassign(src int, dst uint8, n int) ReassignResult {
	if !r.reassignMu.TryLock() {
		return ReassignRunning
	}
	defer r.reassignMu.Unlock()

	r.stateMu.Lock()
	defer r.stateMu.Unlock()

	if r.sig != signalIdle {
		return ReassignRunning
	}
	if src >= 0 && uint8(src) == dst {
		return ReassignSrcDstSame
	}

	resolvedSrc := src
	if src < 0 {
		resolvedSrc = r.pickAnyLocked(dst)
		if resolvedSrc < 0 {
			return ReassignBadClass
		}
	}
	s := uint8(resolvedSrc)
	if s < slab.Smallest || s > r.alloc.Table().Largest() {
		return ReassignBadClass
	}
	if dst != 0 && (dst < slab.Smallest || dst > r.alloc.Table().Largest()) {
		return ReassignBadClass
	}
	if n < 1 {
		return ReassignKillFew
	}
	if dst != 0 {
		n = 1
	}
	if r.alloc.Table().Class(s).Pages() < 1+n {
		return ReassignNoSpare
	}

	r.queued = job{src: s, dst: dst, numSlabs: n}
	r.sig = signalRequested
	r.cond.Signal()
	return ReassignOK
}

// pickAnyLocked mirrors slabs_reassign_pick_any: iterate the class ids at
// most once from a persistent cursor, skipping dst, and return the first
// class with more than one page.
func (r *Rebalancer) pickAnyLocked(dst uint8) int {
	largest := r.alloc.Table().Largest()
	span := int(largest) - slab.Smallest + 1
	cur := r.pickCursor
	for tries := 0; tries < span; tries++ {
		cur++
		if cur > largest {
			cur = slab.Smallest
		}
		if cur == dst {
			continue
		}
		if r.alloc.Table().Class(cur).Pages() > 1 {
			r.pickCursor = cur
			return int(cur)
		}
	}
	r.pickCursor = cur
	return -1
}

// Start launches the background worker goroutine. Idempotent.
func (r *Rebalancer) Start() {
	r.stateMu.Lock()
	if r.started {
		r.stateMu.Unlock()
		return
	}
	r.started = true
	r.stateMu.Unlock()

	r.log.Info("rebalancer: started", zap.Int("bulk", r.bulk))
	r.wg.Add(1)
	go r.loop()
}

// Stop signals the worker to exit and waits for it. An in-flight move is
// not interrupted; it runs to FINISH before the worker exits, per
// spec.md §5.
func (r *Rebalancer) Stop() {
	r.stateMu.Lock()
	if !r.started {
		r.stateMu.Unlock()
		return
	}
	r.stateMu.Unlock()

	close(r.stopCh)
	r.cond.Broadcast()
	r.wg.Wait()
}

func (r *Rebalancer) loop() {
	defer r.wg.Done()
	wasBusy := false
	for {
		select {
		case <-r.stopCh:
			r.stateMu.Lock()
			running := r.sig == signalRunning
			r.stateMu.Unlock()
			if !running {
				return
			}
		default:
		}

		r.stateMu.Lock()
		sig := r.sig
		r.stateMu.Unlock()

		switch {
		case sig == signalRequested:
			if !r.start() {
				r.stateMu.Lock()
				r.sig = signalIdle
				r.stateMu.Unlock()
			}
			wasBusy = false
		case sig == signalRunning && r.ctx.page != nil:
			wasBusy = r.move() > 0
		}

		r.stateMu.Lock()
		done := r.ctx.done
		r.stateMu.Unlock()

		if done {
			r.finish()
		} else if wasBusy {
			time.Sleep(busyBackoff)
		}

		r.stateMu.Lock()
		idle := r.sig == signalIdle
		r.stateMu.Unlock()
		if idle {
			r.waitForWork()
		}
	}
}

func (r *Rebalancer) waitForWork() {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	for r.sig == signalIdle {
		select {
		case <-r.stopCh:
			return
		default:
		}
		r.cond.Wait()
	}
}
