package engine

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// usageTracker accumulates blocked time per usage day. A usage day runs
// from reset time to reset time, so crossing the configured reset
// boundary naturally starts a fresh zeroed bucket.
type usageTracker struct {
	mu          sync.Mutex
	path        string
	resetMinute int
	seconds     map[string]int64
	lastTick    time.Time
}

func newUsageTracker(path string, resetMinute int) *usageTracker {
	u := &usageTracker{
		path:        path,
		resetMinute: resetMinute,
		seconds:     make(map[string]int64),
	}
	u.load()
	return u
}

// dayKey maps an instant onto its usage day: the calendar date after
// shifting the reset time back to midnight.
func (u *usageTracker) dayKey(now time.Time) string {
	return now.Add(-time.Duration(u.resetMinute) * time.Minute).Format("2006-01-02")
}

// tick accounts the time elapsed since the previous tick, attributing it
// to today's bucket when blocking was active.
func (u *usageTracker) tick(now time.Time, blocking bool) {
	u.mu.Lock()
	defer u.mu.Unlock()

	last := u.lastTick
	u.lastTick = now
	if last.IsZero() || !now.After(last) {
		return
	}

	if blocking {
		u.seconds[u.dayKey(now)] += int64(now.Sub(last) / time.Second)
		u.save()
	}
}

// Minutes returns accumulated blocked minutes for a usage day
// ("2006-01-02").
func (u *usageTracker) Minutes(date string) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return int(u.seconds[date] / 60)
}

func (u *usageTracker) load() {
	data, err := os.ReadFile(u.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			logrus.WithError(err).Warn("Failed to load usage data")
		}
		return
	}
	if err := json.Unmarshal(data, &u.seconds); err != nil {
		logrus.WithError(err).Warn("Usage data is corrupt, starting fresh")
		u.seconds = make(map[string]int64)
	}
}

func (u *usageTracker) save() {
	data, err := json.Marshal(u.seconds)
	if err != nil {
		return
	}
	if err := os.MkdirAll(filepath.Dir(u.path), 0o755); err != nil {
		logrus.WithError(err).Warn("Failed to create usage directory")
		return
	}
	if err := os.WriteFile(u.path, data, 0o600); err != nil {
		logrus.WithError(err).Warn("Failed to save usage data")
	}
}
