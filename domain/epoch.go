package domain

import (
	"time"
)

// Epoch is a coarse time bucket ("sprint"). All requests within the same epoch are served
// the same snapshot.
type Epoch int64

func EpochAt(t time.Time, window time.Duration) Epoch {
	windowMillis := window.Milliseconds()
	if windowMillis <= 0 {
		windowMillis = 1
	}
	return Epoch(t.UnixMilli() / windowMillis)
}

// Start returns the first instant of the epoch.
func (e Epoch) Start(window time.Duration) time.Time {
	return time.UnixMilli(int64(e) * window.Milliseconds())
}
