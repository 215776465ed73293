// Command slabcached wires the size-class allocator, rebalancer, and
// automover into one process: "serve" runs them continuously behind a
// Prometheus /metrics endpoint; "ctl" runs a single control-plane
// operation against a freshly built allocator for local smoke-testing,
// since the wire protocol a real control connection would use is out of
// scope (spec.md §1).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/liran-funaro/memcached-slabs/internal/config"
)

func main() {
	root := &cobra.Command{
		Use:   "slabcached",
		Short: "Size-class slab allocator with an online page rebalancer",
	}

	v := config.New()
	root.AddCommand(newServeCmd(v))
	root.AddCommand(newCtlCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
