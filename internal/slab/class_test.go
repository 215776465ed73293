package slab

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestBuildTableSeedScenario mirrors the shape of spec.md §8 scenario 1:
// PAGE_SIZE=1MiB, factor=2.0. The smallest class starts at the header
// overhead aligned up to CHUNK_ALIGN; the largest class is exactly one
// PAGE_SIZE chunk.
func TestBuildTableSeedScenario(t *testing.T) {
	table := BuildTable(0, 2.0, 1<<20)

	first := table.Class(Smallest)
	require.EqualValues(t, alignUp(headerOverhead(), ChunkAlign), first.ChunkSize())
	require.EqualValues(t, (1<<20)/first.ChunkSize(), first.ChunksPerPage())

	largest := table.Class(table.Largest())
	require.EqualValues(t, 1<<20, largest.ChunkSize())
	require.EqualValues(t, 1, largest.ChunksPerPage())
}

func TestClassForSizeMonotoneAndTooBig(t *testing.T) {
	table := BuildTable(0, 1.25, 1<<20)

	var prev uint32
	for n := uint32(1); n < 1<<20; n += 4093 {
		id := table.ClassForSize(n)
		if id == 0 {
			continue
		}
		require.GreaterOrEqual(t, id, table.ClassForSize(prev))
		prev = n
	}

	require.EqualValues(t, 0, table.ClassForSize(1<<20+1))
	require.NotZero(t, table.ClassForSize(1<<20))
}

func TestChunkSizesAreAligned(t *testing.T) {
	table := BuildTable(13, 1.25, 1<<20)
	table.Each(func(c *Class) {
		require.Zero(t, c.ChunkSize()%ChunkAlign, "class %d chunk size %d not aligned", c.ID(), c.ChunkSize())
	})
}
