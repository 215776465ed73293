package automove

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseModeRoundTrip(t *testing.T) {
	for _, m := range []Mode{Off, Normal, Aggressive} {
		parsed, ok := ParseMode(m.String())
		require.True(t, ok)
		require.Equal(t, m, parsed)
	}
	_, ok := ParseMode("bogus")
	require.False(t, ok)

	m, ok := ParseMode("")
	require.True(t, ok)
	require.Equal(t, Normal, m)
}

func TestDecideOffModeAlwaysNone(t *testing.T) {
	p := NewPolicy(Off)
	d := p.Decide([]ClassSample{{ID: 5, Pages: 10, Evictions: 0}}, 4096, 0, 0)
	require.Equal(t, ResultNone, d.Result)
}

// TestDecideZeroRunBecomesSource mirrors spec.md §4.4.4's zero-eviction
// streak: a single idle class only becomes a shrink source on the third
// consecutive tick reporting no new evictions.
func TestDecideZeroRunBecomesSource(t *testing.T) {
	p := NewPolicy(Normal)
	samples := []ClassSample{{ID: 5, Pages: 3, Evictions: 100}}

	// Prime the baseline: the first observation always reads as a
	// nonzero delta off the zero-valued previous-evictions map.
	d := p.Decide(samples, 4096, 0, 0)
	require.Equal(t, ResultNone, d.Result)

	d = p.Decide(samples, 4096, 0, 0)
	require.Equal(t, ResultNone, d.Result)
	d = p.Decide(samples, 4096, 0, 0)
	require.Equal(t, ResultNone, d.Result)
	d = p.Decide(samples, 4096, 0, 0)

	require.Equal(t, ResultShrinkOnly, d.Result)
	require.EqualValues(t, 5, d.Source)
	require.EqualValues(t, 1, d.NumSlabs)
}

// TestDecideHysteresisDestinationRequiresThreeWins lines a zero-run
// source up with a consistently-highest-delta destination; ResultMove
// only appears once the destination has won three consecutive cycles.
func TestDecideHysteresisDestinationRequiresThreeWins(t *testing.T) {
	p := NewPolicy(Normal)

	tick := func(srcEvictions, dstEvictions uint64) Decision {
		return p.Decide([]ClassSample{
			{ID: 5, Pages: 3, Evictions: srcEvictions},
			{ID: 9, Pages: 5, Evictions: dstEvictions},
		}, 4096, 0, 0)
	}

	d := tick(0, 10)
	require.Equal(t, ResultNone, d.Result)

	d = tick(0, 20)
	require.Equal(t, ResultNone, d.Result)
	d = tick(0, 30)
	require.Equal(t, ResultMove, d.Result)
	d = tick(0, 40)

	require.Equal(t, ResultMove, d.Result)
	require.EqualValues(t, 5, d.Source)
	require.EqualValues(t, 9, d.Dest)
}

// TestDecideAggressiveEmergencySource checks the single-tick emergency
// path: smallest delta wins, ties broken by the larger page count.
func TestDecideAggressiveEmergencySource(t *testing.T) {
	p := NewPolicy(Aggressive)

	d := p.Decide([]ClassSample{
		{ID: 3, Pages: 2, Evictions: 50},
		{ID: 5, Pages: 4, Evictions: 10},
		{ID: 7, Pages: 6, Evictions: 10},
	}, 4096, 0, 0)

	require.Equal(t, ResultShrinkOnly, d.Result)
	require.EqualValues(t, 7, d.Source, "tie on delta broken toward the larger page count")
}

// TestDecideIdleClassNeverBecomesDestination covers the fix for
// slab_automove_decision's evicted_max/highest_slab update living only
// in the else branch of the zero-run check: when several classes are
// simultaneously idle, none of them may win the highest-delta
// destination slot, even though they'd tie at delta==0 forever.
func TestDecideIdleClassNeverBecomesDestination(t *testing.T) {
	p := NewPolicy(Normal)

	tick := func() Decision {
		return p.Decide([]ClassSample{
			{ID: 5, Pages: 3, Evictions: 0},
			{ID: 7, Pages: 3, Evictions: 0},
		}, 4096, 0, 0)
	}

	d := tick()
	require.Equal(t, ResultNone, d.Result)
	d = tick()
	require.Equal(t, ResultNone, d.Result)
	d = tick()

	require.Equal(t, ResultShrinkOnly, d.Result, "idle classes must never produce a Move destination")
	require.EqualValues(t, 5, d.Source)
}

// TestDecideShrinkNowSuppressesReadyDestination covers slab_maintenance_thread
// giving shrinkage precedence over moving whenever the allocator is over
// its memory limit: a destination that has already won three cycles is
// still suppressed in favor of a plain shrink.
func TestDecideShrinkNowSuppressesReadyDestination(t *testing.T) {
	p := NewPolicy(Normal)

	tick := func(dstEvictions uint64, memoryLimit, totalAccounted uint64) Decision {
		return p.Decide([]ClassSample{
			{ID: 5, Pages: 3, Evictions: 0},
			{ID: 9, Pages: 5, Evictions: dstEvictions},
		}, 4096, memoryLimit, totalAccounted)
	}

	d := tick(10, 0, 0)
	require.Equal(t, ResultNone, d.Result)
	d = tick(20, 0, 0)
	require.Equal(t, ResultNone, d.Result)
	d = tick(30, 0, 0)
	require.Equal(t, ResultMove, d.Result)

	// The destination has now won three consecutive cycles; absent a
	// memory cap this would return ResultMove (see
	// TestDecideHysteresisDestinationRequiresThreeWins). Over budget, it
	// must shrink instead.
	d = tick(40, 1000, 2000)

	require.Equal(t, ResultShrinkOnly, d.Result)
	require.EqualValues(t, 5, d.Source)
}

func TestNumSlabsForWithinBudgetIsOne(t *testing.T) {
	require.Equal(t, 1, numSlabsFor(5, 4096, 0, 1<<20, 3))
}

func TestNumSlabsForSmallGapIsOne(t *testing.T) {
	require.Equal(t, 1, numSlabsFor(5, 4096, 1000, 1100, 3))
}

func TestNumSlabsForCappedAtSourcePagesMinusOne(t *testing.T) {
	n := numSlabsFor(3, 4096, 10000, 30000, 2)
	require.Equal(t, 2, n)
}
