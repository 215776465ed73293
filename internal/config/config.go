// Package config loads slabcached's operator-facing configuration:
// memory limit, growth factor, page size, and automove tuning. It mirrors
// how memcached itself takes -m/-f/-L flags, expressed the way the pack's
// storage-system examples (storj/storj, Sumatoshi-tech-codefang,
// tuannm99/novasql — see their go.mod manifests) pair spf13/viper with
// spf13/cobra: viper owns precedence (flags > env > file > default) and
// cobra binds its flag set onto the same viper instance.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/liran-funaro/memcached-slabs/internal/automove"
)

// T_MEMD_INITIAL_MALLOC and MEMCACHED_SLAB_BULK_CHECK (spec.md §6) are
// deliberately NOT routed through Viper here: they are narrow test-only
// escape hatches, read directly via os.Getenv where they're consumed
// (internal/slab.Provider, internal/rebalance.New), not operator-facing
// configuration a deployment would template.

// Config is the resolved, typed configuration for one slabcached process.
type Config struct {
	MemoryLimitBytes    uint64
	GrowthFactor        float64
	Prealloc            bool
	ChunkPrefix         uint32
	Arena               bool
	PageSize            uint32
	AutomoveMode        automove.Mode
	MaintenanceInterval time.Duration
	RebalanceBulk       int
}

// defaults mirror spec.md's glossary values: 1 MiB pages, factor 1.25,
// no memory cap, automove on in normal mode.
func defaults(v *viper.Viper) {
	v.SetDefault("memory_limit_bytes", uint64(0))
	v.SetDefault("growth_factor", 1.25)
	v.SetDefault("prealloc", false)
	v.SetDefault("chunk_prefix", uint32(0))
	v.SetDefault("arena", false)
	v.SetDefault("page_size", uint32(1<<20))
	v.SetDefault("automove_mode", "normal")
	v.SetDefault("maintenance_interval", "10s")
	v.SetDefault("rebalance_bulk", 0) // 0 = resolve from MEMCACHED_SLAB_BULK_CHECK/default
}

// New builds a *viper.Viper wired the way slabcached reads configuration:
// a "slabcached.yaml" search path, SLABCACHED_-prefixed environment
// variables, and the defaults above. Callers bind a cobra.Command's flag
// set onto the returned instance before calling Load.
func New() *viper.Viper {
	v := viper.New()
	v.SetConfigName("slabcached")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/slabcached")
	v.SetEnvPrefix("SLABCACHED")
	v.AutomaticEnv()
	defaults(v)
	return v
}

// BindFlags registers the flags a "serve" subcommand exposes and binds
// them onto v, so cobra.Command flags override the config file/env,
// matching the cobra+viper pairing in the pack's storage-system repos.
func BindFlags(cmd *cobra.Command, v *viper.Viper) error {
	fs := cmd.Flags()
	fs.Uint64("memory-limit-bytes", 0, "maximum bytes the allocator may account for (0 = unlimited)")
	fs.Float64("growth-factor", 1.25, "geometric growth factor between size classes")
	fs.Bool("prealloc", false, "force-allocate one page per size class at startup")
	fs.Uint32("chunk-prefix", 0, "extra bytes reserved ahead of every chunk's item header")
	fs.Bool("arena", false, "reserve one contiguous arena instead of allocating pages on demand")
	fs.Uint32("page-size", 1<<20, "bytes per page (slab)")
	fs.String("automove-mode", "normal", "automover mode: off, normal, or aggressive")
	fs.Duration("maintenance-interval", 10*time.Second, "stored in Config.MaintenanceInterval; the automover's tick interval is fixed per mode and does not read it")
	fs.Int("rebalance-bulk", 0, "chunks inspected per MOVE tick (0 = env/default)")

	for _, name := range []string{
		"memory-limit-bytes", "growth-factor", "prealloc", "chunk-prefix",
		"arena", "page-size", "automove-mode", "maintenance-interval", "rebalance-bulk",
	} {
		if err := v.BindPFlag(toKey(name), fs.Lookup(name)); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}

func toKey(flagName string) string {
	key := []byte(flagName)
	for i, b := range key {
		if b == '-' {
			key[i] = '_'
		}
	}
	return string(key)
}

// Load reads v into a Config, validating the automove mode and resolving
// the environment-variable test hooks that don't go through Viper.
func Load(v *viper.Viper) (Config, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	mode, ok := automove.ParseMode(v.GetString("automove_mode"))
	if !ok {
		return Config{}, fmt.Errorf("invalid automove_mode %q", v.GetString("automove_mode"))
	}

	return Config{
		MemoryLimitBytes:    v.GetUint64("memory_limit_bytes"),
		GrowthFactor:        v.GetFloat64("growth_factor"),
		Prealloc:            v.GetBool("prealloc"),
		ChunkPrefix:         uint32(v.GetUint("chunk_prefix")),
		Arena:               v.GetBool("arena"),
		PageSize:            uint32(v.GetUint("page_size")),
		AutomoveMode:        mode,
		MaintenanceInterval: v.GetDuration("maintenance_interval"),
		RebalanceBulk:       v.GetInt("rebalance_bulk"),
	}, nil
}
