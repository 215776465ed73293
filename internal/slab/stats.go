package slab

// ClassSnapshot is the set of counters spec.md §4.6 requires per class
// with at least one page.
type ClassSnapshot struct {
	ID             uint8
	ChunkSize      uint32
	ChunksPerPage  uint32
	TotalPages     int
	TotalChunks    uint64
	UsedChunks     uint64
	FreeChunks     uint64
	RequestedBytes uint64
}

// Snapshot is the full slabs_stats payload: per-class counters for every
// class with >=1 page, plus the two global counters.
type Snapshot struct {
	Classes      []ClassSnapshot
	ActiveSlabs  int
	TotalMalloced uint64
}

// StatsSnapshot builds a point-in-time view of every class and the global
// counters, for the §4.6 stats surface and the Prometheus exporter.
func (a *Allocator) StatsSnapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	snap := Snapshot{TotalMalloced: a.totalAccountedLocked()}
	for id := uint8(Smallest); id <= a.table.Largest(); id++ {
		c := a.table.classes[id]
		if len(c.pages) == 0 {
			continue
		}
		total := uint64(len(c.pages)) * uint64(c.chunksPerPage)
		free := uint64(c.free.Len())
		snap.Classes = append(snap.Classes, ClassSnapshot{
			ID:             id,
			ChunkSize:      c.chunkSize,
			ChunksPerPage:  c.chunksPerPage,
			TotalPages:     len(c.pages),
			TotalChunks:    total,
			UsedChunks:     total - free,
			FreeChunks:     free,
			RequestedBytes: c.requestedBytes,
		})
		snap.ActiveSlabs += len(c.pages)
	}
	return snap
}
