package entstat

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubRunner serves canned output keyed on a substring of the command.
type stubRunner struct {
	responses map[string][]string
	errs      map[string]error
	commands  []string
}

func (s *stubRunner) Run(_ context.Context, command string) ([]string, error) {
	s.commands = append(s.commands, command)
	for key, err := range s.errs {
		if strings.Contains(command, key) {
			return nil, err
		}
	}
	for key, lines := range s.responses {
		if strings.Contains(command, key) {
			return lines, nil
		}
	}
	return nil, nil
}

func TestDiscover(t *testing.T) {
	t.Parallel()

	runner := &stubRunner{
		responses: map[string][]string{
			"wc -l":              {"       3"},
			"awk '{ print $1 }'": {"ent0", "ent1", "ent2"},
		},
	}
	p := NewProvider(WithRunner(runner))

	names, err := p.Discover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"ent0", "ent1", "ent2"}, names)
	require.Len(t, runner.commands, 2)
	assert.Contains(t, runner.commands[0], "lsdev -Cc adapter")
	assert.Contains(t, runner.commands[0], "grep Available")
	assert.Contains(t, runner.commands[0], "wc -l")
	assert.Contains(t, runner.commands[1], "awk '{ print $1 }'")
}

func TestDiscoverZeroAdapters(t *testing.T) {
	t.Parallel()

	runner := &stubRunner{
		responses: map[string][]string{"wc -l": {"0"}},
	}
	p := NewProvider(WithRunner(runner))

	names, err := p.Discover(context.Background())
	require.NoError(t, err)
	assert.Empty(t, names)
	// The name pass must not run when nothing matched.
	assert.Len(t, runner.commands, 1)
}

func TestDiscoverShortRead(t *testing.T) {
	t.Parallel()

	runner := &stubRunner{
		responses: map[string][]string{
			"wc -l":              {"3"},
			"awk '{ print $1 }'": {"ent0", "ent1"},
		},
	}
	p := NewProvider(WithRunner(runner))

	_, err := p.Discover(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected 3")
}

func TestDiscoverBadCount(t *testing.T) {
	t.Parallel()

	runner := &stubRunner{
		responses: map[string][]string{"wc -l": {"not-a-number"}},
	}
	p := NewProvider(WithRunner(runner))

	_, err := p.Discover(context.Background())
	require.Error(t, err)
}

func TestDiscoverCommandError(t *testing.T) {
	t.Parallel()

	runner := &stubRunner{
		errs: map[string]error{"wc -l": errors.New("sh: lsdev: not found")},
	}
	p := NewProvider(WithRunner(runner))

	_, err := p.Discover(context.Background())
	require.Error(t, err)
}

func TestSample(t *testing.T) {
	t.Parallel()

	runner := &stubRunner{
		responses: map[string][]string{
			"entstat ent0": {"2000 1000", "900000 800000"},
		},
	}
	p := NewProvider(WithRunner(runner))

	c, err := p.Sample(context.Background(), "ent0")
	require.NoError(t, err)

	require.True(t, c.PacketsSent.Valid)
	assert.EqualValues(t, 2000, c.PacketsSent.Value)
	require.True(t, c.PacketsReceived.Valid)
	assert.EqualValues(t, 1000, c.PacketsReceived.Value)
	require.True(t, c.BytesSent.Valid)
	assert.EqualValues(t, 900000, c.BytesSent.Value)
	require.True(t, c.BytesReceived.Valid)
	assert.EqualValues(t, 800000, c.BytesReceived.Value)
}

func TestSampleMalformedLineLeavesPairAbsent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		lines       []string
		wantPackets bool
		wantBytes   bool
	}{
		{
			name:        "garbage packets line",
			lines:       []string{"oops", "900000 800000"},
			wantPackets: false,
			wantBytes:   true,
		},
		{
			name:        "garbage bytes line",
			lines:       []string{"2000 1000", "12 tulips"},
			wantPackets: true,
			wantBytes:   false,
		},
		{
			name:        "missing bytes line",
			lines:       []string{"2000 1000"},
			wantPackets: true,
			wantBytes:   false,
		},
		{
			name:        "no output",
			lines:       nil,
			wantPackets: false,
			wantBytes:   false,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			runner := &stubRunner{
				responses: map[string][]string{"entstat ent0": tt.lines},
			}
			p := NewProvider(WithRunner(runner))

			c, err := p.Sample(context.Background(), "ent0")
			require.NoError(t, err)
			assert.Equal(t, tt.wantPackets, c.PacketsSent.Valid)
			assert.Equal(t, tt.wantPackets, c.PacketsReceived.Valid)
			assert.Equal(t, tt.wantBytes, c.BytesSent.Valid)
			assert.Equal(t, tt.wantBytes, c.BytesReceived.Valid)
		})
	}
}

func TestSampleTimeout(t *testing.T) {
	t.Parallel()

	runner := &stubRunner{
		errs: map[string]error{"entstat ent0": ErrTimeout},
	}
	p := NewProvider(WithRunner(runner))

	_, err := p.Sample(context.Background(), "ent0")
	require.ErrorIs(t, err, ErrTimeout)
}

func TestSampleCommandCeilingExpires(t *testing.T) {
	t.Parallel()

	// The stats command overruns the per-command ceiling while the caller's
	// context has plenty of budget left: this is the one case that may
	// disable the adapter.
	p := NewProvider(
		WithRunner(NewShellRunner()),
		WithEntstatPath("sleep"),
		WithCommandTimeout(50*time.Millisecond),
	)

	_, err := p.Sample(context.Background(), "2")
	require.ErrorIs(t, err, ErrTimeout)
}

func TestSampleCallerDeadlineIsNotCommandTimeout(t *testing.T) {
	t.Parallel()

	// The caller's deadline (e.g. a scrape-wide budget spent on earlier
	// adapters) expires while the command is within its own ceiling. The
	// adapter did nothing wrong, so this must surface as an ordinary read
	// failure rather than the disabling timeout.
	p := NewProvider(
		WithRunner(NewShellRunner()),
		WithEntstatPath("sleep"),
		WithCommandTimeout(5*time.Second),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := p.Sample(ctx, "2")
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSampleCallerCanceled(t *testing.T) {
	t.Parallel()

	p := NewProvider(
		WithRunner(NewShellRunner()),
		WithEntstatPath("sleep"),
		WithCommandTimeout(5*time.Second),
	)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Sample(ctx, "2")
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrTimeout)
}

func TestSampleCommandPaths(t *testing.T) {
	t.Parallel()

	runner := &stubRunner{}
	p := NewProvider(
		WithRunner(runner),
		WithEntstatPath("/opt/bin/entstat"),
	)

	_, err := p.Sample(context.Background(), "ent1")
	require.NoError(t, err)
	require.Len(t, runner.commands, 1)
	assert.True(t, strings.HasPrefix(runner.commands[0], "/opt/bin/entstat ent1 |"))
}

func TestShellRunner(t *testing.T) {
	t.Parallel()

	r := NewShellRunner()

	lines, err := r.Run(context.Background(), "printf 'one\\ntwo\\n'")
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two"}, lines)
}

func TestShellRunnerTimeout(t *testing.T) {
	t.Parallel()

	r := NewShellRunner()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := r.Run(ctx, "sleep 5")
	require.ErrorIs(t, err, ErrTimeout)
}

func TestShellRunnerCommandFailure(t *testing.T) {
	t.Parallel()

	r := NewShellRunner()

	_, err := r.Run(context.Background(), "exit 3")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrTimeout)
}
