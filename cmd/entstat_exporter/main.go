// Command entstat_exporter exports per-adapter network throughput rates for
// hosts whose perf library cannot see virtual or shared Ethernet adapters.
// Counters are scraped from the lsdev/entstat command pipeline (or an
// alternative source) and converted into rates with counter-reset and
// timeout protection.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vios-tools/entstat-exporter/internal/collector"
	"github.com/vios-tools/entstat-exporter/internal/config"
	"github.com/vios-tools/entstat-exporter/internal/entstat"
	"github.com/vios-tools/entstat-exporter/internal/netdev"
	"github.com/vios-tools/entstat-exporter/internal/poller"
	"github.com/vios-tools/entstat-exporter/internal/registry"
	"github.com/vios-tools/entstat-exporter/internal/server"
)

var (
	version = "0.2.0"
	commit  = "unknown"
)

// counterSource combines the discovery and sampling contracts all three
// sources satisfy.
type counterSource interface {
	Discover(ctx context.Context) ([]string, error)
	Sample(ctx context.Context, adapter string) (entstat.Counters, error)
}

func main() {
	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		// flag package already printed the error to stderr.
		os.Exit(2)
	}

	if cfg.ShowVersion {
		fmt.Printf("entstat_exporter v%s\ncommit: %s\nbuilt with: %s\n", version, commit, runtime.Version())
		os.Exit(0)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("starting entstat exporter",
		"listen_address", cfg.ListenAddress,
		"metrics_path", cfg.MetricsPath,
		"health_path", cfg.HealthPath,
		"source", cfg.Source,
		"scrape_timeout", cfg.ScrapeTimeout.String(),
		"sample_interval", cfg.SampleInterval.String(),
		"command_timeout", cfg.CommandTimeout.String(),
	)

	source, closeSource, err := newSource(cfg)
	if err != nil {
		logger.Error("failed to initialize counter source", "source", cfg.Source, "err", err)
		os.Exit(1)
	}

	// Discovery failure is degraded to zero adapters: the exporter stays up
	// and serves an empty adapter metric set.
	discoverCtx, cancelDiscover := context.WithTimeout(context.Background(), cfg.ScrapeTimeout)
	adapters, err := source.Discover(discoverCtx)
	cancelDiscover()
	if err != nil {
		logger.Warn("adapter discovery failed, exporting zero adapters", "err", err)
		adapters = nil
	}
	logger.Info("discovered adapters", "count", len(adapters), "adapters", adapters)

	p := poller.New(adapters, source, poller.NewBootClock(logger), logger,
		poller.WithInterval(cfg.SampleInterval.Seconds()))
	p.Prime(context.Background())

	regOpts := make([]registry.Option, 0, 1)
	if closeSource != nil {
		regOpts = append(regOpts, registry.WithCleanup(closeSource))
	}
	reg := registry.New(p, regOpts...)

	rateCollector := collector.New(reg, logger)

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
		rateCollector,
	)

	srv := server.New(server.Options{
		ListenAddress: cfg.ListenAddress,
		MetricsPath:   cfg.MetricsPath,
		HealthPath:    cfg.HealthPath,
		ScrapeTimeout: cfg.ScrapeTimeout,
	}, promRegistry, rateCollector, logger)

	errCh := make(chan error, 1)
	go func() {
		if serveErr := srv.ListenAndServe(); serveErr != nil {
			errCh <- serveErr
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("signal received, shutting down", "signal", sig.String())
	case serveErr := <-errCh:
		logger.Error("server exited with error", "err", serveErr)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", "err", err)
		os.Exit(1)
	}
	if err := reg.Cleanup(); err != nil {
		logger.Warn("failed to clean up counter source", "err", err)
	}

	logger.Info("shutdown complete")
}

func newSource(cfg config.Config) (counterSource, func() error, error) {
	switch cfg.Source {
	case config.SourceEntstat:
		return entstat.NewProvider(
			entstat.WithLsdevPath(cfg.LsdevPath),
			entstat.WithEntstatPath(cfg.EntstatPath),
			entstat.WithCommandTimeout(cfg.CommandTimeout),
		), nil, nil
	case config.SourceGopsutil:
		return netdev.NewGopsutilProvider(), nil, nil
	case config.SourceEthtool:
		provider, err := netdev.NewEthtoolProvider()
		if err != nil {
			return nil, nil, err
		}
		return provider, provider.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown source %q", cfg.Source)
	}
}

func newLogger(level slog.Level) *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return slog.New(handler)
}
