package slab

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProviderOnDemandTracksMalloced(t *testing.T) {
	p := NewProvider(false, 0, 4096)
	require.False(t, p.ArenaMode())
	require.True(t, p.CanShrink())

	block, ok := p.AllocatePage()
	require.True(t, ok)
	require.Len(t, block, 4096)
	require.EqualValues(t, 4096, p.BytesMalloced())

	p.ReleasePage(block)
	require.Zero(t, p.BytesMalloced())
}

func TestProviderArenaModeNoFallback(t *testing.T) {
	p := NewProvider(true, 8192, 4096)
	require.True(t, p.ArenaMode())
	require.False(t, p.CanShrink())

	_, ok := p.AllocatePage()
	require.True(t, ok)
	_, ok = p.AllocatePage()
	require.True(t, ok)
	_, ok = p.AllocatePage()
	require.False(t, ok, "arena exhausted, no heap fallback")

	require.Zero(t, p.BytesMalloced(), "arena pages never count toward bytes_malloced")
}

func TestProviderHonorsInitialMallocEnv(t *testing.T) {
	t.Setenv(EnvInitialMalloc, "12345")

	p := NewProvider(false, 0, 4096)
	require.EqualValues(t, 12345, p.BytesMalloced())
}
