package poller

import (
	"log/slog"
	"time"

	"github.com/shirou/gopsutil/v4/host"
)

// Clock reports wall-clock seconds relative to a fixed origin. Sample
// timestamps only ever appear in differences, so the origin is arbitrary;
// boot time keeps the values small and matches what the throttle stores.
type Clock interface {
	Now() float64
}

type bootClock struct {
	boot time.Time
}

// NewBootClock returns a Clock anchored at the system boot time, read once
// from the login records. When the boot entry is unavailable the process
// start time is used instead; only deltas matter.
func NewBootClock(logger *slog.Logger) Clock {
	boot := time.Now()
	if epoch, err := host.BootTime(); err == nil && epoch > 0 {
		boot = time.Unix(int64(epoch), 0)
	} else if logger != nil {
		logger.Debug("boot time unavailable, using process start time", "err", err)
	}
	return &bootClock{boot: boot}
}

func (c *bootClock) Now() float64 {
	return time.Since(c.boot).Seconds()
}
