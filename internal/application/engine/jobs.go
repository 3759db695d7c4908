package engine

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// softMutex skips a periodic run while the previous one is still going.
// Misses are harmless: the next tick picks the work up.
type softMutex struct {
	busy atomic.Bool
}

// tryRun runs fn unless another run holds the flag. Reports whether fn ran.
func (m *softMutex) tryRun(fn func()) bool {
	if !m.busy.CompareAndSwap(false, true) {
		return false
	}
	defer m.busy.Store(false)
	fn()
	return true
}

// job is one fixed-interval task of the engine.
type job struct {
	name     string
	interval time.Duration
	run      func(ctx context.Context)
	mu       softMutex
}

// runEvery fires j on every tick until ctx is done. Each run happens in its
// own goroutine so a slow run never delays the ticker; runs are tracked in
// wg so shutdown can let them finish.
func runEvery(ctx context.Context, j *job, wg *sync.WaitGroup) {
	if j.interval <= 0 {
		return
	}
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			wg.Add(1)
			go func() {
				defer wg.Done()
				if !j.mu.tryRun(func() { j.run(ctx) }) {
					slog.Debug("engine: previous run still active, skipping tick", "job", j.name)
				}
			}()
		}
	}
}
