package rebalance

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/liran-funaro/memcached-slabs/internal/item"
	"github.com/liran-funaro/memcached-slabs/internal/slab"
)

// fakeCollab is a minimal Collaborator: a plain mutex standing in for
// cache_lock, and an unlink log so tests can assert which chunks MOVE
// decided were live.
type fakeCollab struct {
	mu       sync.Mutex
	unlinked []item.Chunk
}

func (f *fakeCollab) Lock()   { f.mu.Lock() }
func (f *fakeCollab) Unlock() { f.mu.Unlock() }
func (f *fakeCollab) ItemUnlinkNoLock(c item.Chunk) {
	f.unlinked = append(f.unlinked, c)
}

// buildTwoPageSource builds a small table (one non-largest class, chunk
// size 48, 10 chunks/page, plus the largest class at one chunk/page) and
// gives the non-largest class two pages: the first entirely free, the
// second holding one live chunk. This mirrors the page-donor shape spec.md
// §8's move scenario describes, scaled down to a tractable chunk count.
func buildTwoPageSource(t *testing.T) (*slab.Allocator, uint8, uint8) {
	t.Helper()
	a := slab.New(slab.Options{PageSize: 512, GrowthFactor: 4.0})
	table := a.Table()
	src := uint8(slab.Smallest)
	dst := table.Largest()
	require.NotEqual(t, src, dst, "fixture needs at least two classes")

	perPage := int(table.Class(src).ChunksPerPage())
	chunks := make([]item.Chunk, 0, perPage)
	for i := 0; i < perPage; i++ {
		c, ok := a.Alloc(10, src)
		require.True(t, ok)
		chunks = append(chunks, c)
	}
	// One more alloc forces a second page; freeing page one's chunks then
	// leaves it entirely free, and it becomes BeginEvacuationLocked's victim.
	_, ok := a.Alloc(10, src)
	require.True(t, ok)
	for _, c := range chunks {
		a.Free(c, 10, src)
	}
	require.Equal(t, 2, table.Class(src).Pages())

	return a, src, dst
}

func TestReassignValidation(t *testing.T) {
	a, src, dst := buildTwoPageSource(t)
	collab := &fakeCollab{}
	r := New(a, collab, 100, nil)

	require.Equal(t, ReassignBadClass, r.Reassign(200, 0, 1))
	require.Equal(t, ReassignSrcDstSame, r.Reassign(int(src), src, 1))
	require.Equal(t, ReassignKillFew, r.Reassign(int(src), dst, 0))

	// dst never had a page carved: pages(class) < 1+1 rejects it as a source.
	require.EqualValues(t, 0, a.Table().Class(dst).Pages())
	require.Equal(t, ReassignNoSpare, r.Reassign(int(dst), src, 1))

	require.Equal(t, ReassignOK, r.Reassign(int(src), dst, 1))
	require.Equal(t, ReassignRunning, r.Reassign(int(src), dst, 1))
}

func TestPickAnyLockedSkipsDstAndSinglePageClasses(t *testing.T) {
	a, src, dst := buildTwoPageSource(t)
	r := New(a, &fakeCollab{}, 1, nil)

	// dst has no pages, src has two: pick-any must land on src.
	got := r.pickAnyLocked(dst)
	require.EqualValues(t, src, got)
}

func TestPickAnyLockedReturnsNoneWhenNothingEligible(t *testing.T) {
	a := slab.New(slab.Options{PageSize: 512, GrowthFactor: 4.0})
	r := New(a, &fakeCollab{}, 1, nil)

	got := r.pickAnyLocked(0)
	require.Equal(t, -1, got)
}

// TestFullMoveFreeVictimPage drives START/MOVE/FINISH directly (as loop()
// would) over a victim page that is entirely free, the simplest case from
// spec.md §4.4: every chunk is reclaimed on the first sweep and the page
// lands in dst.
func TestFullMoveFreeVictimPage(t *testing.T) {
	a, src, dst := buildTwoPageSource(t)
	collab := &fakeCollab{}
	r := New(a, collab, 100, nil)

	require.Equal(t, ReassignOK, r.Reassign(int(src), dst, 1))
	require.True(t, r.start())

	page, ok := r.Evacuating()
	require.True(t, ok)
	require.NotNil(t, page)

	busy := r.move()
	require.Zero(t, busy)
	require.True(t, r.ctx.done)

	srcPagesBefore := a.Table().Class(src).Pages()
	dstPagesBefore := a.Table().Class(dst).Pages()
	r.finish()

	require.Equal(t, srcPagesBefore-1, a.Table().Class(src).Pages())
	require.Equal(t, dstPagesBefore+1, a.Table().Class(dst).Pages())
	require.EqualValues(t, 1, r.Stats().SlabsMoved)
	require.Equal(t, signalIdle, r.sig)

	_, ok = r.Evacuating()
	require.False(t, ok)
}

// TestMoveReclaimsLiveItemOnSecondIncrement exercises the rc: 1->2 path:
// a Linked chunk with an externally-held reference (simulating a
// concurrent cache lookup) is only safe to reclaim once the rebalancer's
// own increment is the *second* one.
func TestMoveReclaimsLiveItemOnSecondIncrement(t *testing.T) {
	a, src, dst := buildTwoPageSource(t)
	collab := &fakeCollab{}
	r := New(a, collab, 1, nil)

	require.Equal(t, ReassignOK, r.Reassign(int(src), dst, 1))
	require.True(t, r.start())

	victim := r.ctx.page
	h := victim.Chunk(0).Header()
	h.SetFlags(item.Linked)

	// First sweep: refcount 0->1, Linked but not Slabbed -> BUSY, undone.
	busy := r.move()
	require.Equal(t, 1, busy)
	require.EqualValues(t, 0, h.Refcount())
	require.False(t, r.ctx.done)

	// Simulate a concurrent holder bumping the refcount once more before
	// the next sweep reaches this chunk.
	h.RefcountIncr()

	for !r.ctx.done {
		r.move()
	}

	require.Len(t, collab.unlinked, 1)
	require.EqualValues(t, item.Sentinel, h.ClassID())
}
