// Package stats exposes the allocator's and rebalancer's counters two
// ways: the text add_stat-style sink spec.md §6 specifies, and a
// Prometheus registry (spec.md §4.6's [AMBIENT] Metrics addition) that
// reads from the same underlying snapshot so the two never disagree.
package stats

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/liran-funaro/memcached-slabs/internal/rebalance"
	"github.com/liran-funaro/memcached-slabs/internal/slab"
)

// Exporter registers and refreshes the slab/rebalance gauges on a
// prometheus.Registry. Callers refresh it on each scrape (or on a timer)
// by calling Collect; there is no internal polling goroutine, matching
// how the pack's storage-system examples wire a Registerer once at
// startup and drive updates from the scrape path.
type Exporter struct {
	alloc *slab.Allocator
	rebal *rebalance.Rebalancer
	hits  HitSource

	totalPages     *prometheus.GaugeVec
	totalChunks    *prometheus.GaugeVec
	usedChunks     *prometheus.GaugeVec
	freeChunks     *prometheus.GaugeVec
	requestedBytes *prometheus.GaugeVec
	chunkSize      *prometheus.GaugeVec
	getHits        *prometheus.GaugeVec
	setCmds        *prometheus.GaugeVec
	deleteHits     *prometheus.GaugeVec

	activeSlabs   prometheus.Gauge
	totalMalloced prometheus.Gauge
	slabsMoved    prometheus.Gauge
	slabsShrunk   prometheus.Gauge
}

// NewExporter builds an Exporter and registers its metrics on reg. hits
// supplies the per-class get_hits/cmd_set/delete_hits counters that
// do_slabs_stats reads from its thread-local aggregation; *cache.Cache
// satisfies HitSource.
func NewExporter(reg prometheus.Registerer, alloc *slab.Allocator, rebal *rebalance.Rebalancer, hits HitSource) *Exporter {
	const ns = "slabcached"

	e := &Exporter{
		alloc: alloc,
		rebal: rebal,
		hits:  hits,
		totalPages: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: "class", Name: "total_pages",
			Help: "Pages currently owned by this size class.",
		}, []string{"class_id"}),
		totalChunks: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: "class", Name: "total_chunks",
			Help: "Total chunks across all pages owned by this size class.",
		}, []string{"class_id"}),
		usedChunks: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: "class", Name: "used_chunks",
			Help: "Chunks currently serving a live allocation in this size class.",
		}, []string{"class_id"}),
		freeChunks: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: "class", Name: "free_chunks",
			Help: "Chunks currently on this size class's free list.",
		}, []string{"class_id"}),
		requestedBytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: "class", Name: "requested_bytes",
			Help: "Sum of caller-requested byte sizes for live allocations in this class.",
		}, []string{"class_id"}),
		chunkSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: "class", Name: "chunk_size_bytes",
			Help: "Chunk size of this size class.",
		}, []string{"class_id"}),
		getHits: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: "class", Name: "get_hits_total",
			Help: "Successful get lookups served from this size class.",
		}, []string{"class_id"}),
		setCmds: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: "class", Name: "cmd_set_total",
			Help: "Set commands that landed a chunk in this size class.",
		}, []string{"class_id"}),
		deleteHits: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: "class", Name: "delete_hits_total",
			Help: "Successful deletes of a chunk in this size class.",
		}, []string{"class_id"}),
		activeSlabs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Name: "active_slabs", Help: "Total pages owned across all size classes.",
		}),
		totalMalloced: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Name: "total_malloced_bytes", Help: "Total bytes accounted by the allocator.",
		}),
		slabsMoved: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Name: "slabs_moved_total", Help: "Pages moved between size classes by the rebalancer.",
		}),
		slabsShrunk: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Name: "slabs_shrunk_total", Help: "Pages released back to the system by the rebalancer.",
		}),
	}

	reg.MustRegister(
		e.totalPages, e.totalChunks, e.usedChunks, e.freeChunks, e.requestedBytes, e.chunkSize,
		e.getHits, e.setCmds, e.deleteHits,
		e.activeSlabs, e.totalMalloced, e.slabsMoved, e.slabsShrunk,
	)
	return e
}

// Collect refreshes every gauge from a fresh snapshot. Safe to call
// concurrently with allocator traffic; StatsSnapshot takes its own lock.
func (e *Exporter) Collect() {
	snap := e.alloc.StatsSnapshot()
	getHits, setCmds, deleteHits := e.hits.ItemStatsHits()
	for _, cs := range snap.Classes {
		id := strconv.Itoa(int(cs.ID))
		e.totalPages.WithLabelValues(id).Set(float64(cs.TotalPages))
		e.totalChunks.WithLabelValues(id).Set(float64(cs.TotalChunks))
		e.usedChunks.WithLabelValues(id).Set(float64(cs.UsedChunks))
		e.freeChunks.WithLabelValues(id).Set(float64(cs.FreeChunks))
		e.requestedBytes.WithLabelValues(id).Set(float64(cs.RequestedBytes))
		e.chunkSize.WithLabelValues(id).Set(float64(cs.ChunkSize))
		e.getHits.WithLabelValues(id).Set(float64(at(getHits, int(cs.ID))))
		e.setCmds.WithLabelValues(id).Set(float64(at(setCmds, int(cs.ID))))
		e.deleteHits.WithLabelValues(id).Set(float64(at(deleteHits, int(cs.ID))))
	}
	e.activeSlabs.Set(float64(snap.ActiveSlabs))
	e.totalMalloced.Set(float64(snap.TotalMalloced))

	rs := e.rebal.Stats()
	e.slabsMoved.Set(float64(rs.SlabsMoved))
	e.slabsShrunk.Set(float64(rs.SlabsShrunk))
}
