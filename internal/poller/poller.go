// Package poller converts cumulative adapter counters into rates. It owns
// the per-adapter state for the process lifetime: which adapters exist,
// when each was last sampled, and the last cumulative value and rate per
// counter kind. Sampling is throttled so that a burst of handler calls for
// the four kinds of one adapter shells out at most once per interval.
package poller

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/vios-tools/entstat-exporter/internal/entstat"
)

// DisabledRate is returned for every poll of an adapter that has been
// disabled after a stats command timeout.
const DisabledRate = -1.0

// defaultInterval is the minimum time between re-samples of one adapter,
// in seconds.
const defaultInterval = 5.0

// Kind identifies one of the four counter series kept per adapter.
type Kind int

const (
	BytesReceived Kind = iota
	BytesSent
	PacketsReceived
	PacketsSent
)

// Kinds lists all counter kinds in registration order.
var Kinds = [...]Kind{BytesReceived, BytesSent, PacketsReceived, PacketsSent}

// Suffix returns the metric-name suffix for k.
func (k Kind) Suffix() string {
	switch k {
	case BytesReceived:
		return "bytes_received"
	case BytesSent:
		return "bytes_sent"
	case PacketsReceived:
		return "pkts_received"
	case PacketsSent:
		return "pkts_sent"
	default:
		return "unknown"
	}
}

// Sampler reads one fresh counter sample for an adapter. A returned
// entstat.ErrTimeout permanently disables the adapter; any other error
// leaves the cached rates in place as stale data.
type Sampler interface {
	Sample(ctx context.Context, adapter string) (entstat.Counters, error)
}

type adapter struct {
	name       string
	enabled    bool
	lastSample float64
}

// series tracks one cumulative counter and its derived rate.
type series struct {
	lastRate  float64
	currRate  float64
	lastTotal int64
}

// update applies one fresh cumulative value. A decrease means the counter
// was reset or wrapped, so the previous rate is carried forward instead of
// producing a negative or absurd value.
func (s *series) update(v int64, dt float64) {
	delta := v - s.lastTotal
	if delta < 0 {
		s.currRate = s.lastRate
	} else {
		s.currRate = float64(delta) / dt
	}
	s.lastRate = s.currRate
	s.lastTotal = v
}

// Poller owns the adapter table and counter series. The table is sized at
// construction and never grows; hot-plugged adapters are picked up on the
// next process restart, by design.
//
// All state is behind one mutex: the scrape host may invoke handlers from
// multiple goroutines, and at most one sample may be in flight at a time.
type Poller struct {
	mu       sync.Mutex
	sampler  Sampler
	clock    Clock
	logger   *slog.Logger
	interval float64

	adapters []adapter
	series   [][4]series
}

// Option configures a Poller.
type Option func(*Poller)

// WithInterval overrides the minimum seconds between re-samples.
func WithInterval(seconds float64) Option {
	return func(p *Poller) {
		if seconds > 0 {
			p.interval = seconds
		}
	}
}

// New builds a Poller over the discovered adapter names, in discovery order.
func New(names []string, sampler Sampler, clock Clock, logger *slog.Logger, opts ...Option) *Poller {
	if logger == nil {
		logger = slog.Default()
	}

	p := &Poller{
		sampler:  sampler,
		clock:    clock,
		logger:   logger,
		interval: defaultInterval,
		adapters: make([]adapter, len(names)),
		series:   make([][4]series, len(names)),
	}
	for _, opt := range opts {
		opt(p)
	}
	for i, name := range names {
		p.adapters[i] = adapter{name: name, enabled: true}
	}
	return p
}

// Adapters returns the adapter names in table order.
func (p *Poller) Adapters() []string {
	names := make([]string, len(p.adapters))
	for i := range p.adapters {
		names[i] = p.adapters[i].name
	}
	return names
}

// Enabled reports whether the adapter at index is still being sampled.
func (p *Poller) Enabled(index int) bool {
	if index < 0 || index >= len(p.adapters) {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.adapters[index].enabled
}

// Prime takes one forced sample per adapter so that the first host poll
// reports 0.0 instead of a bogus rate computed against zero-valued
// baselines. The priming pass establishes each series' cumulative baseline,
// then zeroes the derived rates.
func (p *Poller) Prime(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock.Now()
	for i := range p.adapters {
		p.sampleLocked(ctx, i, 1.0, now)
		for k := range p.series[i] {
			p.series[i][k].currRate = 0.0
			p.series[i][k].lastRate = 0.0
		}
	}
}

// Rate returns the current rate for one adapter and kind, re-sampling first
// when the throttle interval for that adapter has elapsed. Disabled
// adapters return DisabledRate without sampling.
func (p *Poller) Rate(ctx context.Context, index int, kind Kind) float64 {
	if index < 0 || index >= len(p.adapters) || kind < 0 || int(kind) >= len(Kinds) {
		return 0.0
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ad := &p.adapters[index]
	if !ad.enabled {
		return DisabledRate
	}

	now := p.clock.Now()
	if dt := now - ad.lastSample; dt > p.interval {
		p.sampleLocked(ctx, index, dt, now)
		if !ad.enabled {
			return DisabledRate
		}
	}
	return p.series[index][kind].currRate
}

// sampleLocked takes one sample for the adapter at index and folds it into
// the counter series. The caller holds p.mu.
//
// The sample timestamp is advanced after every attempt, successful or not,
// so a persistently failing adapter is retried at most once per interval.
// A timeout instead disables the adapter outright; its timestamp no longer
// matters because the throttle is never consulted again.
func (p *Poller) sampleLocked(ctx context.Context, index int, dt, now float64) {
	ad := &p.adapters[index]

	counters, err := p.sampler.Sample(ctx, ad.name)
	if err != nil {
		if errors.Is(err, entstat.ErrTimeout) {
			ad.enabled = false
			p.logger.Warn("disabling Ethernet adapter after stats command timeout",
				"adapter", ad.name)
			return
		}
		p.logger.Debug("adapter sample failed, keeping cached rates",
			"adapter", ad.name, "err", err)
		ad.lastSample = now
		return
	}

	if c := counters.BytesReceived; c.Valid {
		p.series[index][BytesReceived].update(c.Value, dt)
	}
	if c := counters.BytesSent; c.Valid {
		p.series[index][BytesSent].update(c.Value, dt)
	}
	if c := counters.PacketsReceived; c.Valid {
		p.series[index][PacketsReceived].update(c.Value, dt)
	}
	if c := counters.PacketsSent; c.Valid {
		p.series[index][PacketsSent].update(c.Value, dt)
	}

	ad.lastSample = now
}
