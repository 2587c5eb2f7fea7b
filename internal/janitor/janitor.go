// Package janitor runs the periodic expiry sweeps over the broker's
// in-memory tables: sessions, pending authentications, resource
// authorizations, ephemeral pickups, prepared downloads, and short URLs.
package janitor

import (
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultInterval is the tick granularity. Individual sweeps declare their
// own cadence on top of it.
const DefaultInterval = time.Minute

// SweepFunc removes entries expired as of now and reports how many.
type SweepFunc func(now time.Time) int

// MetricsRecordFunc is an optional callback for recording sweep results.
type MetricsRecordFunc func(table string, removed int)

type sweeper struct {
	name    string
	every   time.Duration
	fn      SweepFunc
	lastRun time.Time
}

// Janitor ticks once a minute and runs every registered sweep whose cadence
// has elapsed.
type Janitor struct {
	interval time.Duration
	mu       sync.Mutex
	sweepers []*sweeper
	onSweep  MetricsRecordFunc
	logger   *zap.Logger
}

// New creates a Janitor. A zero interval uses DefaultInterval.
func New(interval time.Duration, logger *zap.Logger) *Janitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Janitor{interval: interval, logger: logger}
}

// Add registers a sweep. A cadence of zero runs it on every tick.
func (j *Janitor) Add(name string, every time.Duration, fn SweepFunc) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.sweepers = append(j.sweepers, &sweeper{name: name, every: every, fn: fn})
}

// SetMetricsRecord configures the sweep metrics callback.
func (j *Janitor) SetMetricsRecord(fn MetricsRecordFunc) {
	j.onSweep = fn
}

// Start runs the sweep loop until quit is signalled.
func (j *Janitor) Start(quit <-chan os.Signal) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			j.RunDue(now)
		case <-quit:
			return
		}
	}
}

// RunDue executes every sweep whose cadence has elapsed as of now.
func (j *Janitor) RunDue(now time.Time) {
	j.mu.Lock()
	due := make([]*sweeper, 0, len(j.sweepers))
	for _, s := range j.sweepers {
		if s.lastRun.IsZero() || now.Sub(s.lastRun) >= s.every {
			s.lastRun = now
			due = append(due, s)
		}
	}
	j.mu.Unlock()

	for _, s := range due {
		removed := s.fn(now)
		if j.onSweep != nil {
			j.onSweep(s.name, removed)
		}
		if removed > 0 {
			j.logger.Info("janitor sweep",
				zap.String("table", s.name),
				zap.Int("removed", removed),
			)
		}
	}
}
