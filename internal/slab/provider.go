package slab

import (
	"fmt"
	"os"
	"strconv"
)

// EnvInitialMalloc is the test hook from spec.md §6: seeds bytesMalloced
// at startup so tests can simulate a process that already holds memory.
const EnvInitialMalloc = "T_MEMD_INITIAL_MALLOC"

// Provider hands out page-aligned byte blocks, either by carving from one
// pre-reserved arena or by requesting fresh slices from the Go heap. It
// tracks bytes outstanding the same way the original tracks mem_malloced.
type Provider struct {
	pageSize uint32

	arena     []byte // non-nil in arena mode
	cursor    uint32
	remaining uint32

	bytesMalloced uint64 // on-demand mode only; arena pages are never counted here (spec.md §9)
}

// NewProvider builds a Provider. If arenaMode is true, it reserves one
// contiguous limit-byte block up front and bump-allocates pages from it
// with no fallback to the Go heap; otherwise every page request goes to
// the heap directly.
func NewProvider(arenaMode bool, limit uint64, pageSize uint32) *Provider {
	p := &Provider{pageSize: pageSize}
	if arenaMode {
		p.arena = make([]byte, limit)
		p.remaining = uint32(limit)
	}
	if v := os.Getenv(EnvInitialMalloc); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			p.bytesMalloced = n
		}
	}
	return p
}

// ArenaMode reports whether this provider is bump-allocating from a fixed
// reservation rather than the heap.
func (p *Provider) ArenaMode() bool { return p.arena != nil }

// BytesMalloced returns bytes obtained from the backing heap so far, plus
// any T_MEMD_INITIAL_MALLOC seed (arena pages never add to it, per the
// documented asymmetry in spec.md §9).
func (p *Provider) BytesMalloced() uint64 { return p.bytesMalloced }

// AllocatePage requests one pageSize block. In arena mode it bump-allocates
// from the reservation and fails (no fallback) if the remainder is
// insufficient. In on-demand mode it always succeeds (a Go heap
// allocation failure is not a recoverable condition) and increases
// bytesMalloced.
func (p *Provider) AllocatePage() ([]byte, bool) {
	if p.ArenaMode() {
		if p.remaining < p.pageSize {
			return nil, false
		}
		block := p.arena[p.cursor : p.cursor+p.pageSize : p.cursor+p.pageSize]
		p.cursor += p.pageSize
		p.remaining -= p.pageSize
		return block, true
	}
	p.bytesMalloced += uint64(p.pageSize)
	return make([]byte, p.pageSize), true
}

// ReleasePage returns a page to the backing store. Only on-demand mode
// can actually shrink; arena pages are stranded as untracked free memory
// inside the arena, which cannot shrink (spec.md §4.4.3).
func (p *Provider) ReleasePage(_ []byte) {
	if p.ArenaMode() {
		return
	}
	p.bytesMalloced -= uint64(p.pageSize)
}

// CanShrink reports whether this provider supports returning memory to
// the system at all (on-demand mode only).
func (p *Provider) CanShrink() bool { return !p.ArenaMode() }

func (p *Provider) String() string {
	if p.ArenaMode() {
		return fmt.Sprintf("arena(cursor=%d,remaining=%d)", p.cursor, p.remaining)
	}
	return fmt.Sprintf("on-demand(malloced=%d)", p.bytesMalloced)
}
