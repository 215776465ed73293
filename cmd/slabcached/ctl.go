package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/liran-funaro/memcached-slabs/internal/cache"
	"github.com/liran-funaro/memcached-slabs/internal/rebalance"
	"github.com/liran-funaro/memcached-slabs/internal/slab"
	"github.com/liran-funaro/memcached-slabs/internal/stats"
)

// newCtlCmd builds a local sandbox allocator (1 MiB pages, growth factor
// 1.25, no memory limit, one preallocated page per class), runs one
// control-plane operation against
// it, and prints the resulting stats. A real deployment's control plane
// would instead speak to a running "serve" process over some wire
// protocol, but per-connection command parsing is explicitly out of
// scope (spec.md §1) — this is a smoke-testing convenience, not that
// protocol.
func newCtlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ctl",
		Short: "Run a single allocator operation against a fresh in-process instance",
	}
	cmd.AddCommand(newCtlReassignCmd())
	cmd.AddCommand(newCtlSetLimitCmd())
	return cmd
}

func sandboxAllocator() (*slab.Allocator, *cache.Cache, *rebalance.Rebalancer) {
	alloc := slab.New(slab.Options{GrowthFactor: 1.25, PageSize: 1 << 20, Prealloc: true})
	c := cache.New(alloc.Table().Largest())
	rebal := rebalance.New(alloc, c, 0, nil)
	rebal.Start()
	return alloc, c, rebal
}

func newCtlReassignCmd() *cobra.Command {
	var src, dst, n int
	cmd := &cobra.Command{
		Use:   "reassign",
		Short: "Run Reassign(src, dst, n) against a fresh sandbox allocator",
		RunE: func(cmd *cobra.Command, args []string) error {
			alloc, c, rebal := sandboxAllocator()
			defer rebal.Stop()

			res := rebal.Reassign(src, uint8(dst), n)
			fmt.Println("result:", res)
			stats.WriteTextStats(func(k, v string) { fmt.Printf("%s=%s\n", k, v) }, alloc, rebal, c)
			return nil
		},
	}
	cmd.Flags().IntVar(&src, "src", -1, "source class id, or -1 to pick any class with >=2 pages")
	cmd.Flags().IntVar(&dst, "dst", 0, "destination class id, or 0 to release")
	cmd.Flags().IntVar(&n, "n", 1, "number of pages (only meaningful for a release)")
	return cmd
}

func newCtlSetLimitCmd() *cobra.Command {
	var bytes uint64
	cmd := &cobra.Command{
		Use:   "set-memory-limit",
		Short: "Run SetMemoryLimit(bytes) against a fresh sandbox allocator",
		RunE: func(cmd *cobra.Command, args []string) error {
			alloc, _, rebal := sandboxAllocator()
			defer rebal.Stop()

			result := alloc.SetMemoryLimit(bytes)
			fmt.Println("pages_to_reclaim:", result)
			return nil
		},
	}
	cmd.Flags().Uint64Var(&bytes, "bytes", 0, "new memory limit in bytes")
	return cmd
}
