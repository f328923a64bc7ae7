// Package retention runs the background janitor that bounds the gateway's
// in-memory state. Each cycle asks every registered Sweeper to drop entries
// that can no longer affect a decision, such as rate-limit keys whose hits
// have all aged out of the window.
//
// The janitor runs as a background goroutine and respects context
// cancellation for graceful shutdown.
package retention

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultInterval is the sweep period when none is configured.
const DefaultInterval = 5 * time.Minute

// MinInterval is the shortest accepted sweep period.
const MinInterval = time.Second

// Sweeper drops expired entries and reports how many were removed.
type Sweeper interface {
	Sweep(now time.Time) int
}

// CycleStats tracks what happened in a single sweep cycle.
type CycleStats struct {
	Removed  map[string]int
	Duration time.Duration
}

// Janitor periodically sweeps the registered state holders.
type Janitor struct {
	interval time.Duration
	now      func() time.Time

	mu       sync.RWMutex
	sweepers map[string]Sweeper
}

// NewJanitor creates a janitor that runs on the given interval. Intervals
// below MinInterval fall back to DefaultInterval.
func NewJanitor(interval time.Duration) *Janitor {
	if interval < MinInterval {
		interval = DefaultInterval
	}
	return &Janitor{
		interval: interval,
		now:      time.Now,
		sweepers: make(map[string]Sweeper),
	}
}

// Interval returns the sweep period.
func (j *Janitor) Interval() time.Duration { return j.interval }

// Register adds a named sweeper. Registering a name twice replaces it.
func (j *Janitor) Register(name string, s Sweeper) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.sweepers[name] = s
	log.Debug().Str("sweeper", name).Msg("Retention sweeper registered")
}

// Names returns the registered sweeper names.
func (j *Janitor) Names() []string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	names := make([]string, 0, len(j.sweepers))
	for n := range j.sweepers {
		names = append(names, n)
	}
	return names
}

// Start runs sweep cycles until ctx is canceled. Call it in its own
// goroutine.
func (j *Janitor) Start(ctx context.Context) {
	log.Info().
		Dur("interval", j.interval).
		Strs("sweepers", j.Names()).
		Msg("Retention janitor started")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Retention janitor stopped")
			return
		case <-ticker.C:
			j.RunCycle()
		}
	}
}

// RunCycle performs one sweep across all registered sweepers.
func (j *Janitor) RunCycle() CycleStats {
	start := time.Now()
	now := j.now()

	j.mu.RLock()
	defer j.mu.RUnlock()

	stats := CycleStats{Removed: make(map[string]int, len(j.sweepers))}
	total := 0
	for name, s := range j.sweepers {
		n := s.Sweep(now)
		stats.Removed[name] = n
		total += n
	}
	stats.Duration = time.Since(start)

	if total > 0 {
		log.Debug().
			Int("removed", total).
			Dur("duration", stats.Duration).
			Msg("Retention cycle complete")
	}
	return stats
}
