package slab

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestAllocator(t *testing.T, opts Options) *Allocator {
	t.Helper()
	if opts.PageSize == 0 {
		opts.PageSize = 1 << 20
	}
	if opts.GrowthFactor == 0 {
		opts.GrowthFactor = 2.0
	}
	return New(opts)
}

// TestAllocSeedScenario1 mirrors spec.md §8 scenario 1: a small
// allocation creates exactly one page and requestedBytes tracks the
// caller's requested size exactly.
func TestAllocSeedScenario1(t *testing.T) {
	a := newTestAllocator(t, Options{MemoryLimit: 8 << 20})

	classID := a.ClassForSize(50)
	require.NotZero(t, classID)

	_, ok := a.Alloc(50, classID)
	require.True(t, ok)

	c := a.Table().Class(classID)
	require.Equal(t, 1, c.Pages())
	require.EqualValues(t, c.ChunksPerPage()-1, c.FreeCount())
	require.EqualValues(t, 50, c.RequestedBytes())
}

// TestAllocRoundTripRestoresRequestedBytes is the §8 round-trip law.
func TestAllocRoundTripRestoresRequestedBytes(t *testing.T) {
	a := newTestAllocator(t, Options{})
	classID := a.ClassForSize(100)

	chunk, ok := a.Alloc(100, classID)
	require.True(t, ok)
	before := a.Table().Class(classID).Pages()

	a.Free(chunk, 100, classID)

	c := a.Table().Class(classID)
	require.Zero(t, c.RequestedBytes())
	require.Equal(t, before, c.Pages())
}

// TestAllocGrowsPageOnExhaustion is §8 scenario 2: filling a class to
// capacity forces the next Alloc to create a new page.
func TestAllocGrowsPageOnExhaustion(t *testing.T) {
	a := newTestAllocator(t, Options{})
	classID := a.ClassForSize(1000)
	c := a.Table().Class(classID)

	perPage := int(c.ChunksPerPage())
	for i := 0; i < perPage; i++ {
		_, ok := a.Alloc(1000, classID)
		require.True(t, ok)
	}
	require.Equal(t, 1, c.Pages())

	_, ok := a.Alloc(1000, classID)
	require.True(t, ok)
	require.Equal(t, 2, c.Pages())
}

// TestAllocFailsOverMemoryLimit is §8 scenario 3: once every class owns
// one page, a tight limit rejects a second page for any class without
// changing counters.
func TestAllocFailsOverMemoryLimit(t *testing.T) {
	a := newTestAllocator(t, Options{MemoryLimit: 2 << 20, Prealloc: true})

	classID := a.ClassForSize(10)
	c := a.Table().Class(classID)
	pagesBefore := c.Pages()
	mallocedBefore := a.TotalMalloced()

	perPage := int(c.ChunksPerPage())
	for i := 0; i < perPage; i++ {
		_, ok := a.Alloc(10, classID)
		require.True(t, ok)
	}

	_, ok := a.Alloc(10, classID)
	require.False(t, ok)
	require.Equal(t, pagesBefore, c.Pages())
	require.Equal(t, mallocedBefore, a.TotalMalloced())
}

func TestAllocBadClassIDFails(t *testing.T) {
	a := newTestAllocator(t, Options{})
	_, ok := a.Alloc(10, 250)
	require.False(t, ok)
}

func TestSetMemoryLimitArenaIsInflexible(t *testing.T) {
	a := newTestAllocator(t, Options{Arena: true, MemoryLimit: 4 << 20})
	require.EqualValues(t, -1, a.SetMemoryLimit(1<<20))
}

func TestSetMemoryLimitBelowPageSizeRejected(t *testing.T) {
	a := newTestAllocator(t, Options{})
	require.EqualValues(t, -2, a.SetMemoryLimit(100))
}

func TestSetMemoryLimitReportsPagesToReclaim(t *testing.T) {
	a := newTestAllocator(t, Options{Prealloc: true})
	before := a.TotalMalloced()

	result := a.SetMemoryLimit(before / 2)
	require.Greater(t, result, int64(0))
}
