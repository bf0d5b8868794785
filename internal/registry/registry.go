// Package registry implements the host-facing metric surface: one
// descriptor per adapter and counter kind, dispatch from a metric index or
// name back to the owning adapter, and cleanup of the underlying counter
// source. It is the Go rendition of a gmond module's metric table.
package registry

import (
	"context"
	"fmt"

	"github.com/vios-tools/entstat-exporter/internal/poller"
)

// RateSource is the poller surface the registry dispatches into.
type RateSource interface {
	Rate(ctx context.Context, index int, kind poller.Kind) float64
	Adapters() []string
	Enabled(index int) bool
}

// Descriptor describes one exported metric to the host.
type Descriptor struct {
	Name        string
	Type        string
	Units       string
	Format      string
	Slope       string
	TMax        int
	Description string
	Group       string
}

type kindInfo struct {
	units string
	desc  string
}

var kindMeta = map[poller.Kind]kindInfo{
	poller.BytesReceived:   {units: "bytes/sec", desc: "Bytes Received"},
	poller.BytesSent:       {units: "bytes/sec", desc: "Bytes Sent"},
	poller.PacketsReceived: {units: "packets/sec", desc: "Packets Received"},
	poller.PacketsSent:     {units: "packets/sec", desc: "Packets Sent"},
}

type target struct {
	adapter int
	kind    poller.Kind
}

// Registry holds the descriptor table and the name lookup behind it.
// Both are fixed at construction, like the adapter table itself.
type Registry struct {
	rates       RateSource
	descriptors []Descriptor
	byName      map[string]target
	cleanup     func() error
}

// Option configures a Registry.
type Option func(*Registry)

// WithCleanup registers a function to run when the host tears the module
// down, typically closing the counter source.
func WithCleanup(fn func() error) Option {
	return func(r *Registry) { r.cleanup = fn }
}

// New builds the descriptor table: four metrics per adapter, grouped by
// kind in the order the original module registered them. Adapter names may
// themselves contain underscores; resolution therefore uses an exact
// composite-key lookup over the known set rather than splitting the name
// at its first underscore.
func New(rates RateSource, opts ...Option) *Registry {
	adapters := rates.Adapters()

	r := &Registry{
		rates:       rates,
		descriptors: make([]Descriptor, 0, len(adapters)*len(poller.Kinds)),
		byName:      make(map[string]target, len(adapters)*len(poller.Kinds)),
	}
	for _, opt := range opts {
		opt(r)
	}

	for _, kind := range poller.Kinds {
		meta := kindMeta[kind]
		for i, name := range adapters {
			metricName := MetricName(name, kind)
			r.descriptors = append(r.descriptors, Descriptor{
				Name:        metricName,
				Type:        "double",
				Units:       meta.units,
				Format:      "%.1f",
				Slope:       "both",
				TMax:        60,
				Description: fmt.Sprintf("%s %s", name, meta.desc),
				Group:       "ibmnet",
			})
			r.byName[metricName] = target{adapter: i, kind: kind}
		}
	}
	return r
}

// MetricName composes the exported name for one adapter and kind.
func MetricName(adapter string, kind poller.Kind) string {
	return adapter + "_" + kind.Suffix()
}

// Descriptors returns the full descriptor table in registration order.
func (r *Registry) Descriptors() []Descriptor {
	return r.descriptors
}

// Resolve maps a metric name back to its adapter index and kind.
func (r *Registry) Resolve(name string) (int, poller.Kind, bool) {
	t, ok := r.byName[name]
	if !ok {
		return 0, 0, false
	}
	return t.adapter, t.kind, true
}

// Handle dispatches a poll by metric name. Unknown names return 0.0; a
// bad name must never fail the host's poll cycle.
func (r *Registry) Handle(ctx context.Context, name string) float64 {
	idx, kind, ok := r.Resolve(name)
	if !ok {
		return 0.0
	}
	return r.rates.Rate(ctx, idx, kind)
}

// Handler dispatches a poll by descriptor index, the host's native calling
// convention. Out-of-range indices return 0.0.
func (r *Registry) Handler(ctx context.Context, metricIndex int) float64 {
	if metricIndex < 0 || metricIndex >= len(r.descriptors) {
		return 0.0
	}
	return r.Handle(ctx, r.descriptors[metricIndex].Name)
}

// AdapterEnabled reports whether the adapter at index is still sampled.
func (r *Registry) AdapterEnabled(index int) bool {
	return r.rates.Enabled(index)
}

// Adapters returns the adapter names in table order.
func (r *Registry) Adapters() []string {
	return r.rates.Adapters()
}

// Cleanup releases resources held by the counter source.
func (r *Registry) Cleanup() error {
	if r.cleanup == nil {
		return nil
	}
	return r.cleanup()
}
