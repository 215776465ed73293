package item

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHeaderResetClearsState(t *testing.T) {
	var h Header
	h.SetClassID(7)
	h.SetFlags(Linked | Slabbed)
	h.RefcountIncr()

	h.Reset()

	require.Equal(t, FreeClass, h.ClassID())
	require.Equal(t, Flags(0), h.FlagsValue())
	require.Zero(t, h.Refcount())
}

func TestHasFlagRequiresAllBits(t *testing.T) {
	var h Header
	h.SetFlags(Linked)
	require.True(t, h.HasFlag(Linked))
	require.False(t, h.HasFlag(Slabbed))
	require.False(t, h.HasFlag(Linked|Slabbed))

	h.SetFlags(Linked | Slabbed)
	require.True(t, h.HasFlag(Linked|Slabbed))
}

func TestRefcountIncrDecr(t *testing.T) {
	var h Header
	require.EqualValues(t, 1, h.RefcountIncr())
	require.EqualValues(t, 2, h.RefcountIncr())
	require.EqualValues(t, 1, h.RefcountDecr())
	require.EqualValues(t, 1, h.Refcount())
}
