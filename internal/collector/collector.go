// Package collector bridges the registry's handler surface to a Prometheus
// scrape. Every scrape drives the same name-resolution and poll path a
// gmond host would: one handler call per registered metric descriptor.
package collector

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vios-tools/entstat-exporter/internal/poller"
	"github.com/vios-tools/entstat-exporter/internal/registry"
)

// Registry is the subset of the registry surface required by the collector.
type Registry interface {
	Descriptors() []registry.Descriptor
	Resolve(name string) (int, poller.Kind, bool)
	Handle(ctx context.Context, name string) float64
	AdapterEnabled(index int) bool
	Adapters() []string
}

// RateCollector implements prometheus.Collector over the adapter registry.
type RateCollector struct {
	registry Registry
	logger   *slog.Logger

	rateDescs    map[poller.Kind]*prometheus.Desc
	enabledDesc  *prometheus.Desc
	durationDesc *prometheus.Desc

	scrapeErrors prometheus.Counter

	collectMu sync.Mutex
	ctxValue  atomic.Value // stores contextHolder
}

type contextHolder struct {
	ctx context.Context
}

// New creates a collector over the provided registry.
func New(reg Registry, logger *slog.Logger) *RateCollector {
	if logger == nil {
		logger = slog.Default()
	}

	c := &RateCollector{
		registry: reg,
		logger:   logger,
		rateDescs: map[poller.Kind]*prometheus.Desc{
			poller.BytesReceived: prometheus.NewDesc(
				"entstat_adapter_receive_bytes_per_second",
				"Bytes received per second, derived from the adapter's cumulative counter.",
				[]string{"adapter"},
				nil,
			),
			poller.BytesSent: prometheus.NewDesc(
				"entstat_adapter_transmit_bytes_per_second",
				"Bytes sent per second, derived from the adapter's cumulative counter.",
				[]string{"adapter"},
				nil,
			),
			poller.PacketsReceived: prometheus.NewDesc(
				"entstat_adapter_receive_packets_per_second",
				"Packets received per second, derived from the adapter's cumulative counter.",
				[]string{"adapter"},
				nil,
			),
			poller.PacketsSent: prometheus.NewDesc(
				"entstat_adapter_transmit_packets_per_second",
				"Packets sent per second, derived from the adapter's cumulative counter.",
				[]string{"adapter"},
				nil,
			),
		},
		enabledDesc: prometheus.NewDesc(
			"entstat_adapter_enabled",
			"Whether the adapter is still sampled. 0 after a stats command timeout.",
			[]string{"adapter"},
			nil,
		),
		durationDesc: prometheus.NewDesc(
			"entstat_scrape_duration_seconds",
			"Duration of the adapter rate scrape in seconds.",
			nil,
			nil,
		),
		scrapeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "entstat_scrape_errors_total",
			Help: "Total number of errors encountered while polling adapter rates.",
		}),
	}
	c.ctxValue.Store(contextHolder{ctx: context.Background()})

	return c
}

// SetContext updates the context used by the next Collect invocation.
func (c *RateCollector) SetContext(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	c.ctxValue.Store(contextHolder{ctx: ctx})
}

// ResetContext resets the collector back to the background context.
func (c *RateCollector) ResetContext() {
	c.ctxValue.Store(contextHolder{ctx: context.Background()})
}

// Describe implements prometheus.Collector.
func (c *RateCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, kind := range poller.Kinds {
		ch <- c.rateDescs[kind]
	}
	ch <- c.enabledDesc
	ch <- c.durationDesc
	c.scrapeErrors.Describe(ch)
}

// Collect implements prometheus.Collector. Rates for disabled adapters are
// exported as the -1 sentinel rather than dropped, so dashboards can tell a
// disabled adapter from an idle one.
func (c *RateCollector) Collect(ch chan<- prometheus.Metric) {
	c.collectMu.Lock()
	defer c.collectMu.Unlock()

	holder, _ := c.ctxValue.Load().(contextHolder)
	ctx := holder.ctx
	if ctx == nil {
		ctx = context.Background()
	}

	start := time.Now()

	adapters := c.registry.Adapters()
	for _, d := range c.registry.Descriptors() {
		idx, kind, ok := c.registry.Resolve(d.Name)
		if !ok {
			c.logger.Warn("descriptor name did not resolve", "name", d.Name)
			c.scrapeErrors.Inc()
			continue
		}

		value := c.registry.Handle(ctx, d.Name)
		ch <- prometheus.MustNewConstMetric(
			c.rateDescs[kind],
			prometheus.GaugeValue,
			value,
			adapters[idx],
		)
	}

	for i, name := range adapters {
		enabled := 0.0
		if c.registry.AdapterEnabled(i) {
			enabled = 1.0
		}
		ch <- prometheus.MustNewConstMetric(
			c.enabledDesc,
			prometheus.GaugeValue,
			enabled,
			name,
		)
	}

	ch <- prometheus.MustNewConstMetric(
		c.durationDesc,
		prometheus.GaugeValue,
		time.Since(start).Seconds(),
	)
	c.scrapeErrors.Collect(ch)
}
