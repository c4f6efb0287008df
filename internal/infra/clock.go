package infra

import (
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/host"

	"github.com/commitgate/commitd/internal/domain"
)

// SystemClock implements domain.Clock. The wall clock comes from time.Now;
// the monotonic reading is the host uptime via gopsutil, which is
// boot-relative elapsed time and does not move when the user changes the
// system date.
type SystemClock struct{}

// NewSystemClock creates the production clock.
func NewSystemClock() *SystemClock {
	return &SystemClock{}
}

// WallClockMs returns the current wall-clock time in epoch milliseconds.
func (c *SystemClock) WallClockMs() int64 {
	return time.Now().UnixMilli()
}

// MonotonicMs returns milliseconds since boot.
func (c *SystemClock) MonotonicMs() (int64, error) {
	uptime, err := host.Uptime()
	if err != nil {
		return 0, fmt.Errorf("%w: host uptime: %v", domain.ErrClockUnavailable, err)
	}
	return int64(uptime) * 1000, nil
}

// Ensure SystemClock implements domain.Clock.
var _ domain.Clock = (*SystemClock)(nil)
