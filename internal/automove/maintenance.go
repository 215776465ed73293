package automove

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/liran-funaro/memcached-slabs/internal/rebalance"
	"github.com/liran-funaro/memcached-slabs/internal/slab"
)

// EvictionSource supplies the per-class eviction counters the policy
// reads each tick (item_stats_evictions, spec.md §6), indexed by class
// id with index 0 unused, matching slab.Allocator.PagesSnapshot.
type EvictionSource interface {
	ItemStatsEvictions() []uint64
}

// Tick intervals from spec.md §5: 10s normal, 1s aggressive, 5s while
// disabled (the loop keeps ticking while disabled; each tick returns
// without deciding).
const (
	normalInterval     = 10 * time.Second
	aggressiveInterval = 1 * time.Second
	disabledInterval   = 5 * time.Second
)

// Maintenance is the background worker that periodically asks Policy for
// a decision and hands it to a rebalance.Rebalancer, in the idiom of
// iansmith/mazboot's startGCMonitor/gcMonitorLoop pair.
type Maintenance struct {
	alloc  *slab.Allocator
	rebal  *rebalance.Rebalancer
	evict  EvictionSource
	policy *Policy
	log    *zap.Logger

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool
}

// New builds a Maintenance worker. policy's mode governs both the tick
// cadence and whether Decide ever returns anything but ResultNone.
func New(alloc *slab.Allocator, rebal *rebalance.Rebalancer, evict EvictionSource, policy *Policy, log *zap.Logger) *Maintenance {
	if log == nil {
		log = zap.NewNop()
	}
	return &Maintenance{
		alloc:  alloc,
		rebal:  rebal,
		evict:  evict,
		policy: policy,
		log:    log,
		stopCh: make(chan struct{}),
	}
}

// Start launches the background goroutine. Idempotent.
func (m *Maintenance) Start() {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()

	m.log.Info("automove: started", zap.String("mode", m.policy.Mode().String()))
	m.wg.Add(1)
	go m.loop()
}

// Stop signals the worker to exit and waits for it.
func (m *Maintenance) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	close(m.stopCh)
	m.wg.Wait()
}

func (m *Maintenance) loop() {
	defer m.wg.Done()
	for {
		select {
		case <-m.stopCh:
			return
		case <-time.After(m.tickInterval()):
		}
		m.tick()
	}
}

func (m *Maintenance) tickInterval() time.Duration {
	switch m.policy.Mode() {
	case Off:
		return disabledInterval
	case Aggressive:
		return aggressiveInterval
	default:
		return normalInterval
	}
}

func (m *Maintenance) tick() {
	if m.policy.Mode() == Off {
		return
	}

	pages := m.alloc.PagesSnapshot()
	evictions := m.evict.ItemStatsEvictions()

	samples := make([]ClassSample, 0, len(pages))
	for id := slab.Smallest; id < len(pages); id++ {
		if pages[id] == 0 {
			continue
		}
		var ev uint64
		if id < len(evictions) {
			ev = evictions[id]
		}
		samples = append(samples, ClassSample{ID: uint8(id), Pages: pages[id], Evictions: ev})
	}

	decision := m.policy.Decide(samples, m.alloc.PageSize(), m.alloc.MemoryLimit(), m.alloc.TotalMalloced())
	switch decision.Result {
	case ResultNone:
		return
	case ResultShrinkOnly:
		m.log.Info("automove: shrink decision",
			zap.Uint8("source", decision.Source), zap.Int("num_slabs", decision.NumSlabs))
		if res := m.rebal.Reassign(int(decision.Source), 0, decision.NumSlabs); res != rebalance.ReassignOK {
			m.log.Debug("automove: reassign rejected", zap.Stringer("result", res))
		}
	case ResultMove:
		m.log.Info("automove: move decision",
			zap.Uint8("source", decision.Source), zap.Uint8("dest", decision.Dest), zap.Int("num_slabs", decision.NumSlabs))
		if res := m.rebal.Reassign(int(decision.Source), decision.Dest, decision.NumSlabs); res != rebalance.ReassignOK {
			m.log.Debug("automove: reassign rejected", zap.Stringer("result", res))
		}
	}
}
