package entstat

import (
	"context"
	"errors"
	"os/exec"
	"strings"
)

// ErrTimeout reports that a command was killed because its deadline expired.
// The poller treats it differently from an ordinary command failure: the
// adapter that caused it is disabled for the rest of the process lifetime.
var ErrTimeout = errors.New("entstat: command timed out")

// Runner executes a shell pipeline and returns its output split into lines.
type Runner interface {
	Run(ctx context.Context, command string) ([]string, error)
}

// ShellRunner runs pipelines through the system shell. The lsdev and entstat
// scrapes are genuine pipelines (grep, awk, head), so a shell is required.
type ShellRunner struct {
	Shell string
}

// NewShellRunner returns a runner using /bin/sh.
func NewShellRunner() *ShellRunner {
	return &ShellRunner{Shell: "/bin/sh"}
}

// Run executes command under ctx. When the context deadline expires the
// child process is killed and ErrTimeout is returned.
func (r *ShellRunner) Run(ctx context.Context, command string) ([]string, error) {
	shell := r.Shell
	if shell == "" {
		shell = "/bin/sh"
	}

	out, err := exec.CommandContext(ctx, shell, "-c", command).Output()
	if ctxErr := ctx.Err(); errors.Is(ctxErr, context.DeadlineExceeded) {
		return nil, ErrTimeout
	}
	if err != nil {
		return nil, err
	}

	return splitLines(string(out)), nil
}

func splitLines(s string) []string {
	s = strings.TrimRight(s, "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}
