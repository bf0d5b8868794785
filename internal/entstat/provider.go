// Package entstat discovers AIX Ethernet adapters and reads their traffic
// counters through the lsdev and entstat commands. libperfstat only knows
// about an Ethernet device once an IP address is configured on it, which is
// usually not the case for Shared Ethernet Adapters on a VIOS, so the
// command pipeline is the only reliable source.
package entstat

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	defaultLsdevPath      = "/usr/sbin/lsdev"
	defaultEntstatPath    = "/usr/bin/entstat"
	defaultCommandTimeout = 5 * time.Second
)

// Counter is a cumulative counter value that may be absent when the
// corresponding output line failed to parse.
type Counter struct {
	Value int64
	Valid bool
}

// Counters holds one sample of the four cumulative adapter counters.
// Each is independently optional: a parse failure on one entstat output
// line leaves its pair absent rather than zero.
type Counters struct {
	BytesReceived   Counter
	BytesSent       Counter
	PacketsReceived Counter
	PacketsSent     Counter
}

// Provider discovers adapters and samples their counters via the command
// pipeline. Command paths are overridable so tests and non-AIX hosts can
// substitute fixtures.
type Provider struct {
	runner      Runner
	lsdevPath   string
	entstatPath string
	timeout     time.Duration
}

// Option configures a Provider.
type Option func(*Provider)

// WithRunner replaces the command runner, used by tests.
func WithRunner(r Runner) Option {
	return func(p *Provider) { p.runner = r }
}

// WithLsdevPath overrides the inventory command path.
func WithLsdevPath(path string) Option {
	return func(p *Provider) {
		if path != "" {
			p.lsdevPath = path
		}
	}
}

// WithEntstatPath overrides the stats command path.
func WithEntstatPath(path string) Option {
	return func(p *Provider) {
		if path != "" {
			p.entstatPath = path
		}
	}
}

// WithCommandTimeout sets the wall-clock ceiling for a single stats command.
func WithCommandTimeout(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// NewProvider returns a Provider using the system shell and default
// command paths.
func NewProvider(opts ...Option) *Provider {
	p := &Provider{
		runner:      NewShellRunner(),
		lsdevPath:   defaultLsdevPath,
		entstatPath: defaultEntstatPath,
		timeout:     defaultCommandTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Discover returns the names of all Ethernet adapters in state Available,
// in inventory order. Zero adapters is an empty list, not an error.
//
// Discovery is a two-pass scrape of the same filtered lsdev output: the
// first pass counts matching entries, the second extracts one name per
// line. A name pass that yields fewer lines than the count is a hard error;
// using a partial list would register metrics for adapters that cannot be
// sampled.
func (p *Provider) Discover(ctx context.Context) ([]string, error) {
	filter := fmt.Sprintf("%s -Cc adapter | /usr/bin/awk '{ print $1 \" \" $2 }' | /usr/bin/grep ent | /usr/bin/grep Available", p.lsdevPath)

	lines, err := p.runner.Run(ctx, filter+" | /usr/bin/wc -l")
	if err != nil {
		return nil, fmt.Errorf("count available adapters: %w", err)
	}
	count := 0
	if len(lines) > 0 {
		count, err = strconv.Atoi(strings.TrimSpace(lines[0]))
		if err != nil {
			return nil, fmt.Errorf("parse adapter count %q: %w", lines[0], err)
		}
	}
	if count <= 0 {
		return nil, nil
	}

	lines, err = p.runner.Run(ctx, filter+" | /usr/bin/awk '{ print $1 }'")
	if err != nil {
		return nil, fmt.Errorf("list available adapters: %w", err)
	}
	if len(lines) < count {
		return nil, fmt.Errorf("adapter list returned %d names, expected %d", len(lines), count)
	}

	names := make([]string, count)
	for i := 0; i < count; i++ {
		name := strings.TrimSpace(lines[i])
		if name == "" {
			return nil, fmt.Errorf("adapter list entry %d is empty", i)
		}
		names[i] = name
	}
	return names, nil
}

// Sample runs the per-adapter stats command and parses its two output
// lines. Line 1 carries packets sent and received, line 2 bytes sent and
// received, each at fixed token positions. A line that is missing or does
// not parse leaves its counter pair absent.
//
// The command runs under the provider's timeout; expiry surfaces as
// ErrTimeout so the caller can apply the permanent-disable policy. Only the
// provider's own ceiling counts: when the caller's context expired first
// (a scrape-wide deadline cutting off an adapter that was sampling within
// its budget), the result is an ordinary read failure, because disabling is
// permanent and must not punish an innocent adapter.
func (p *Provider) Sample(ctx context.Context, adapter string) (Counters, error) {
	parent := ctx
	ctx, cancel := context.WithTimeout(parent, p.timeout)
	defer cancel()

	cmd := fmt.Sprintf("%s %s | /usr/bin/grep -E 'Packets:|Bytes:' | /usr/bin/head -2 | /usr/bin/awk '{ printf(\"%%s %%s\\n\", $2, $4) }' 2>/dev/null",
		p.entstatPath, adapter)

	lines, err := p.runner.Run(ctx, cmd)
	if err != nil {
		if errors.Is(err, ErrTimeout) {
			if parentErr := parent.Err(); parentErr != nil {
				return Counters{}, fmt.Errorf("stats command for %s aborted by caller: %w", adapter, parentErr)
			}
			return Counters{}, ErrTimeout
		}
		return Counters{}, fmt.Errorf("run stats command for %s: %w", adapter, err)
	}

	var c Counters
	if len(lines) >= 1 {
		c.PacketsSent, c.PacketsReceived = parsePair(lines[0])
	}
	if len(lines) >= 2 {
		c.BytesSent, c.BytesReceived = parsePair(lines[1])
	}
	return c, nil
}

// parsePair extracts the two whitespace-delimited counters of one scrape
// line. Both come back absent unless the full pair parses.
func parsePair(line string) (Counter, Counter) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return Counter{}, Counter{}
	}
	first, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return Counter{}, Counter{}
	}
	second, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return Counter{}, Counter{}
	}
	return Counter{Value: first, Valid: true}, Counter{Value: second, Valid: true}
}
