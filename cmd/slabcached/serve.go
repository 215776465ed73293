package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/liran-funaro/memcached-slabs/internal/automove"
	"github.com/liran-funaro/memcached-slabs/internal/cache"
	"github.com/liran-funaro/memcached-slabs/internal/config"
	"github.com/liran-funaro/memcached-slabs/internal/logging"
	"github.com/liran-funaro/memcached-slabs/internal/rebalance"
	"github.com/liran-funaro/memcached-slabs/internal/slab"
	"github.com/liran-funaro/memcached-slabs/internal/stats"
)

func newServeCmd(v *viper.Viper) *cobra.Command {
	var metricsAddr string
	var dev bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the allocator, rebalancer, and automover continuously",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.BindFlags(cmd, v); err != nil {
				return err
			}
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			return runServe(cfg, metricsAddr, dev)
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9090", "address to serve /metrics on")
	cmd.Flags().BoolVar(&dev, "dev", false, "use a development (console, debug-level) logger")
	return cmd
}

func runServe(cfg config.Config, metricsAddr string, dev bool) error {
	log, err := logging.New(logging.Options{Development: dev})
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	alloc := slab.New(slab.Options{
		MemoryLimit:  cfg.MemoryLimitBytes,
		GrowthFactor: cfg.GrowthFactor,
		Prealloc:     cfg.Prealloc,
		ChunkPrefix:  cfg.ChunkPrefix,
		PageSize:     cfg.PageSize,
		Arena:        cfg.Arena,
		Logger:       log,
	})

	c := cache.New(alloc.Table().Largest())
	rebal := rebalance.New(alloc, c, cfg.RebalanceBulk, log)
	rebal.Start()

	policy := automove.NewPolicy(cfg.AutomoveMode)
	maint := automove.New(alloc, rebal, c, policy, log)
	maint.Start()

	reg := prometheus.NewRegistry()
	exporter := stats.NewExporter(reg, alloc, rebal, c)
	mux := http.NewServeMux()
	mux.Handle("/metrics", refreshingHandler{exporter: exporter, next: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})})
	server := &http.Server{Addr: metricsAddr, Handler: mux}

	go func() {
		log.Info("metrics server listening", zap.String("addr", metricsAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server stopped", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	log.Info("shutting down")
	_ = server.Shutdown(context.Background())
	maint.Stop()
	rebal.Stop()
	return nil
}

// refreshingHandler calls Exporter.Collect before delegating to the
// Prometheus handler so every scrape sees a fresh snapshot, without
// running a separate polling goroutine.
type refreshingHandler struct {
	exporter *stats.Exporter
	next     http.Handler
}

func (h refreshingHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.exporter.Collect()
	h.next.ServeHTTP(w, r)
}
