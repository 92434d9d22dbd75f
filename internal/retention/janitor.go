// Package retention expires idle conversation state of the ScenePilot
// decision service. A janitor periodically asks every registered pruner to
// drop sessions that have been idle longer than the retention window.
//
// Redis-backed history expires on its own through key TTLs; the janitor
// covers the in-memory stores.
//
// The janitor runs as a background goroutine and respects context
// cancellation for graceful shutdown.
package retention

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultIdleTTL is how long a session may stay idle before it is pruned.
const DefaultIdleTTL = 30 * time.Minute

// Pruner drops state last touched before the cutoff and reports how many
// sessions it dropped.
type Pruner interface {
	PruneIdle(ctx context.Context, before time.Time) (int, error)
}

// CycleStats tracks what happened in a single retention cycle.
type CycleStats struct {
	Pruned map[string]int // key: pruner name
	Errors []error
}

// Total returns the number of sessions pruned across all pruners.
func (s CycleStats) Total() int {
	n := 0
	for _, v := range s.Pruned {
		n += v
	}
	return n
}

// Janitor periodically prunes idle sessions.
type Janitor struct {
	interval time.Duration
	idleTTL  time.Duration
	now      func() time.Time

	pruners map[string]Pruner
	mu      sync.RWMutex
}

// NewJanitor creates a janitor that runs every interval and prunes sessions
// idle for longer than idleTTL.
func NewJanitor(interval, idleTTL time.Duration) *Janitor {
	if interval < time.Second {
		interval = time.Minute
	}
	if idleTTL <= 0 {
		idleTTL = DefaultIdleTTL
	}
	return &Janitor{
		interval: interval,
		idleTTL:  idleTTL,
		now:      time.Now,
		pruners:  make(map[string]Pruner),
	}
}

// Register adds a pruner under name, replacing any previous one.
func (j *Janitor) Register(name string, p Pruner) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.pruners[name] = p
	log.Info().Str("pruner", name).Msg("Retention pruner registered")
}

// List returns the registered pruner names, sorted.
func (j *Janitor) List() []string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	names := make([]string, 0, len(j.pruners))
	for n := range j.pruners {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Start runs the janitor. It blocks until ctx is canceled.
func (j *Janitor) Start(ctx context.Context) {
	log.Info().
		Dur("interval", j.interval).
		Dur("idle_ttl", j.idleTTL).
		Strs("pruners", j.List()).
		Msg("Retention janitor started")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Retention janitor stopped")
			return
		case <-ticker.C:
			j.RunCycle(ctx)
		}
	}
}

// RunCycle performs one sweep across all pruners.
func (j *Janitor) RunCycle(ctx context.Context) CycleStats {
	start := time.Now()
	cutoff := j.now().UTC().Add(-j.idleTTL)
	stats := CycleStats{Pruned: make(map[string]int)}

	for _, name := range j.List() {
		j.mu.RLock()
		p := j.pruners[name]
		j.mu.RUnlock()

		n, err := p.PruneIdle(ctx, cutoff)
		if err != nil {
			log.Warn().Err(err).Str("pruner", name).Msg("Retention cycle error")
			stats.Errors = append(stats.Errors, err)
			continue
		}
		stats.Pruned[name] = n
	}

	if total := stats.Total(); total > 0 {
		log.Info().
			Int("pruned_sessions", total).
			Time("cutoff", cutoff).
			Dur("elapsed", time.Since(start)).
			Msg("🧹 Retention cycle complete")
	}
	return stats
}
