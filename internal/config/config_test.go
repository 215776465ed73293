package config

import (
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/liran-funaro/memcached-slabs/internal/automove"
)

func TestLoadDefaults(t *testing.T) {
	v := New()
	cfg, err := Load(v)
	require.NoError(t, err)

	require.Zero(t, cfg.MemoryLimitBytes)
	require.InDelta(t, 1.25, cfg.GrowthFactor, 0.0001)
	require.False(t, cfg.Prealloc)
	require.EqualValues(t, 1<<20, cfg.PageSize)
	require.Equal(t, automove.Normal, cfg.AutomoveMode)
	require.Equal(t, 10*time.Second, cfg.MaintenanceInterval)
}

func TestLoadRejectsInvalidAutomoveMode(t *testing.T) {
	v := New()
	v.Set("automove_mode", "turbo")

	_, err := Load(v)
	require.Error(t, err)
}

func TestBindFlagsOverridesDefault(t *testing.T) {
	v := New()
	cmd := &cobra.Command{Use: "serve"}
	require.NoError(t, BindFlags(cmd, v))

	require.NoError(t, cmd.Flags().Set("growth-factor", "2.0"))
	require.NoError(t, cmd.Flags().Set("automove-mode", "aggressive"))
	require.NoError(t, cmd.Flags().Set("arena", "true"))

	cfg, err := Load(v)
	require.NoError(t, err)
	require.InDelta(t, 2.0, cfg.GrowthFactor, 0.0001)
	require.Equal(t, automove.Aggressive, cfg.AutomoveMode)
	require.True(t, cfg.Arena)
}

func TestToKeyReplacesDashesWithUnderscores(t *testing.T) {
	require.Equal(t, "memory_limit_bytes", toKey("memory-limit-bytes"))
}
