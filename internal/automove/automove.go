// Package automove implements the periodic source/destination decision
// that drives opportunistic page moves and emergency shrinkage, grounded
// on slab_automove_decision in original_source/slabs.c. It owns no
// allocator state itself; each tick it reads a snapshot of per-class
// page counts and eviction deltas and returns a Decision for the caller
// (the maintenance goroutine) to hand to a rebalance.Rebalancer.
package automove

// Mode selects how aggressively the policy looks for shrink candidates.
type Mode int

const (
	// Off disables automove entirely; the maintenance loop still runs
	// but never calls Decide.
	Off Mode = iota
	// Normal is the default: only the zero-eviction-streak source and
	// the hysteresis destination are tracked.
	Normal
	// Aggressive additionally tracks an emergency source every tick,
	// for when the memory cap was just lowered and needs pages back
	// faster than the streak-based source would free them.
	Aggressive
)

func (m Mode) String() string {
	switch m {
	case Off:
		return "off"
	case Normal:
		return "normal"
	case Aggressive:
		return "aggressive"
	default:
		return "unknown"
	}
}

// ParseMode parses the config/CLI string form of Mode.
func ParseMode(s string) (Mode, bool) {
	switch s {
	case "off":
		return Off, true
	case "normal", "":
		return Normal, true
	case "aggressive":
		return Aggressive, true
	default:
		return 0, false
	}
}

// Result is the §4.4.4 outcome code.
type Result int

const (
	// ResultNone found no source (and, in aggressive mode, no emergency
	// source either). Nothing to do this tick.
	ResultNone Result = iota
	// ResultShrinkOnly found a source but no qualifying destination;
	// the decision releases pages rather than moving them.
	ResultShrinkOnly
	// ResultMove found both a source and a three-cycle destination.
	ResultMove
)

// Decision is what one Decide call hands to the maintenance loop.
type Decision struct {
	Result   Result
	Source   uint8 // 0 if ResultNone
	Dest     uint8 // 0 if ResultShrinkOnly or ResultNone (release)
	NumSlabs int   // always >= 1 when Result != ResultNone
}

// ClassSample is one class's per-tick inputs: its current page count and
// its cumulative eviction counter (the automover only ever looks at the
// delta between consecutive samples, so the caller passes the running
// total and Policy keeps the previous value itself).
type ClassSample struct {
	ID        uint8
	Pages     int
	Evictions uint64
}

// Policy holds the automover's cross-tick memory: per-class zero-run
// streaks and the hysteresis state for the destination candidate. It is
// not safe for concurrent use; the maintenance goroutine owns it
// exclusively.
type Policy struct {
	mode Mode

	prevEvictions map[uint8]uint64
	zeroRun       map[uint8]int

	hysteresisWinner uint8
	hysteresisStreak int
}

// NewPolicy builds a Policy in the given mode.
func NewPolicy(mode Mode) *Policy {
	return &Policy{
		mode:          mode,
		prevEvictions: make(map[uint8]uint64),
		zeroRun:       make(map[uint8]int),
	}
}

// Mode returns the configured mode.
func (p *Policy) Mode() Mode { return p.mode }

// zeroRunTarget is how many consecutive zero-eviction ticks a class must
// accumulate before it becomes the streak-based source candidate.
const zeroRunTarget = 3

// hysteresisTarget is how many consecutive cycles a candidate must win
// the highest-delta comparison before it's accepted as the destination.
const hysteresisTarget = 3

// Decide runs one tick of slab_automove_decision over samples (iterated
// in the order given; the first class whose zero-run streak reaches the
// target becomes the source, so with classes passed in ascending id
// order, as Maintenance does, the smallest qualifying id wins) and
// pageSize/memoryLimit/totalAccounted for the shrink sizing math. samples must cover every active class (page count > 0).
func (p *Policy) Decide(samples []ClassSample, pageSize uint32, memoryLimit, totalAccounted uint64) Decision {
	if p.mode == Off {
		return Decision{Result: ResultNone}
	}

	var (
		haveSource     bool
		source         uint8
		sourcePages    int
		haveHighest    bool
		highest        uint8
		highestDelta   int64
		haveEmergency  bool
		emergency      uint8
		emergencyDelta int64
		emergencyPages int
		activeClasses  int
	)

	for _, s := range samples {
		prev := p.prevEvictions[s.ID]
		delta := int64(s.Evictions) - int64(prev)
		p.prevEvictions[s.ID] = s.Evictions
		if delta < 0 {
			delta = 0 // counter reset (e.g. restart); treat as no evictions this tick
		}

		if s.Pages > 1 {
			activeClasses++
		}

		if delta == 0 && s.Pages > 2 {
			p.zeroRun[s.ID]++
			if !haveSource && p.zeroRun[s.ID] >= zeroRunTarget {
				haveSource = true
				source = s.ID
				sourcePages = s.Pages
			}
		} else {
			p.zeroRun[s.ID] = 0
			// Only a class that isn't itself a zero-run source candidate
			// this tick is eligible to become the destination winner,
			// mirroring slab_automove_decision's evicted_max/highest_slab
			// update living in the else branch of its own zero-run check.
			// A class with no new evictions never becomes the winner.
			if delta > highestDelta {
				haveHighest = true
				highest = s.ID
				highestDelta = delta
			}
		}

		if p.mode == Aggressive && s.Pages >= 2 {
			switch {
			case !haveEmergency:
				haveEmergency, emergency, emergencyDelta, emergencyPages = true, s.ID, delta, s.Pages
			case delta < emergencyDelta:
				emergency, emergencyDelta, emergencyPages = s.ID, delta, s.Pages
			case delta == emergencyDelta && s.Pages > emergencyPages:
				emergency, emergencyPages = s.ID, s.Pages
			}
		}
	}

	if !haveSource && p.mode == Aggressive && haveEmergency {
		haveSource = true
		source = emergency
		sourcePages = emergencyPages
	}

	if haveHighest && highest == p.hysteresisWinner {
		p.hysteresisStreak++
	} else {
		p.hysteresisWinner = highest
		p.hysteresisStreak = 1
	}

	// slab_maintenance_thread gives shrinkage precedence over moving
	// whenever the allocator is over its memory limit: a ready
	// destination is suppressed and the tick always shrinks instead.
	shrinkNow := memoryLimit != 0 && totalAccounted > memoryLimit

	haveDest := !shrinkNow && haveHighest && p.hysteresisStreak >= hysteresisTarget && highest != source

	if !haveSource {
		return Decision{Result: ResultNone}
	}

	numSlabs := numSlabsFor(sourcePages, pageSize, memoryLimit, totalAccounted, activeClasses)

	if !haveDest {
		return Decision{Result: ResultShrinkOnly, Source: source, NumSlabs: numSlabs}
	}
	return Decision{Result: ResultMove, Source: source, Dest: highest, NumSlabs: numSlabs}
}

// numSlabsFor implements the §4.4.4 count-selection math: 1 if within
// budget, otherwise the ceil-divided gap spread across active classes
// (each with >1 page), capped so the source always keeps at least one
// page.
func numSlabsFor(sourcePages int, pageSize uint32, memoryLimit, totalAccounted uint64, activeClasses int) int {
	n := 1
	if memoryLimit > 0 && totalAccounted > memoryLimit {
		gap := totalAccounted - memoryLimit
		slabsGap := ceilDiv(gap, uint64(pageSize))
		if slabsGap <= 1 {
			n = int(slabsGap)
			if n < 1 {
				n = 1
			}
		} else if activeClasses > 0 {
			n = int(ceilDiv(slabsGap, uint64(activeClasses)))
		} else {
			n = int(slabsGap)
		}
	}
	if limit := sourcePages - 1; limit > 0 && n > limit {
		n = limit
	}
	if n < 1 {
		n = 1
	}
	return n
}

func ceilDiv(a, b uint64) uint64 {
	if b == 0 {
		return 0
	}
	return (a + b - 1) / b
}
