// Package netdev provides counter sources for hosts that lack the AIX
// lsdev/entstat command set. Both sources satisfy the same discovery and
// sampling contracts as the entstat provider and feed the identical rate
// policy in the poller.
package netdev

import (
	"context"
	"fmt"
	"sort"
	"sync"

	gopsnet "github.com/shirou/gopsutil/v4/net"

	"github.com/vios-tools/entstat-exporter/internal/entstat"
)

// ioCountersFunc matches gopsutil's per-NIC counter read, injectable in
// tests.
type ioCountersFunc func(ctx context.Context, pernic bool) ([]gopsnet.IOCountersStat, error)

// GopsutilProvider reads per-interface counters from the OS accounting via
// gopsutil. Portable, but subject to the same libperfstat blind spots the
// entstat pipeline exists to avoid.
type GopsutilProvider struct {
	ioCounters ioCountersFunc
}

// NewGopsutilProvider returns a provider backed by gopsutil.
func NewGopsutilProvider() *GopsutilProvider {
	return &GopsutilProvider{ioCounters: gopsnet.IOCountersWithContext}
}

// Discover returns all interface names known to the OS, sorted for a
// stable registration order.
func (p *GopsutilProvider) Discover(ctx context.Context) ([]string, error) {
	stats, err := p.ioCounters(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("list network interfaces: %w", err)
	}
	names := make([]string, 0, len(stats))
	for _, s := range stats {
		names = append(names, s.Name)
	}
	sort.Strings(names)
	return names, nil
}

// Sample reads the cumulative counters for one interface.
func (p *GopsutilProvider) Sample(ctx context.Context, adapter string) (entstat.Counters, error) {
	stats, err := p.ioCounters(ctx, true)
	if err != nil {
		return entstat.Counters{}, fmt.Errorf("read counters for %s: %w", adapter, err)
	}
	for _, s := range stats {
		if s.Name != adapter {
			continue
		}
		return entstat.Counters{
			BytesReceived:   counter(s.BytesRecv),
			BytesSent:       counter(s.BytesSent),
			PacketsReceived: counter(s.PacketsRecv),
			PacketsSent:     counter(s.PacketsSent),
		}, nil
	}
	return entstat.Counters{}, fmt.Errorf("interface %s not found", adapter)
}

func counter(v uint64) entstat.Counter {
	return entstat.Counter{Value: int64(v), Valid: true}
}

// statsClient is the subset of the ethtool client used by EthtoolProvider.
type statsClient interface {
	Stats(intf string) (map[string]uint64, error)
	Close()
}

// EthtoolProvider reads driver-level counters through the ethtool netlink
// interface. Linux only; interface discovery still goes through the OS
// accounting because ethtool cannot enumerate devices.
type EthtoolProvider struct {
	mu       sync.Mutex
	client   statsClient
	discover *GopsutilProvider
}

func newEthtoolProvider(client statsClient) *EthtoolProvider {
	return &EthtoolProvider{client: client, discover: NewGopsutilProvider()}
}

// Discover returns all interface names known to the OS.
func (p *EthtoolProvider) Discover(ctx context.Context) ([]string, error) {
	return p.discover.Discover(ctx)
}

// Sample reads the four traffic counters from the driver stats. Drivers
// expose differing stat key sets, so each counter is independently absent
// when its key is missing.
func (p *EthtoolProvider) Sample(ctx context.Context, adapter string) (entstat.Counters, error) {
	if err := ctx.Err(); err != nil {
		return entstat.Counters{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client == nil {
		return entstat.Counters{}, fmt.Errorf("ethtool client closed")
	}
	stats, err := p.client.Stats(adapter)
	if err != nil {
		return entstat.Counters{}, fmt.Errorf("read ethtool stats for %s: %w", adapter, err)
	}

	return entstat.Counters{
		BytesReceived:   statCounter(stats, "rx_bytes"),
		BytesSent:       statCounter(stats, "tx_bytes"),
		PacketsReceived: statCounter(stats, "rx_packets"),
		PacketsSent:     statCounter(stats, "tx_packets"),
	}, nil
}

func statCounter(stats map[string]uint64, key string) entstat.Counter {
	v, ok := stats[key]
	if !ok {
		return entstat.Counter{}
	}
	return counter(v)
}

// Close closes the underlying ethtool client.
func (p *EthtoolProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client == nil {
		return nil
	}
	p.client.Close()
	p.client = nil
	return nil
}
