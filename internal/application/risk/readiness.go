package risk

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alejandrodnm/polyhedge/internal/domain"
	"github.com/alejandrodnm/polyhedge/internal/ports"
)

// ReadinessState is the admission state of a market.
type ReadinessState string

const (
	StatePending  ReadinessState = "PENDING"
	StateReady    ReadinessState = "READY"
	StateDisabled ReadinessState = "DISABLED"
)

// ReadinessConfig is the admission policy.
type ReadinessConfig struct {
	Freshness time.Duration // max book age to evaluate
	Timeout   time.Duration // from first observation to DISABLED
}

// DefaultReadinessConfig returns the default policy.
func DefaultReadinessConfig() ReadinessConfig {
	return ReadinessConfig{Freshness: 2 * time.Second, Timeout: 12 * time.Second}
}

type readyEntry struct {
	state     ReadinessState
	firstSeen time.Time
}

// Readiness admits a market for evaluation only while its book is fresh.
// A market that cannot be made fresh within Timeout of first being seen is
// disabled until it is forgotten and observed again.
type Readiness struct {
	cfg       ReadinessConfig
	depth     ports.DepthSource
	telemetry ports.Telemetry
	now       func() time.Time

	mu      sync.Mutex
	entries map[string]*readyEntry
}

// NewReadiness creates the gate. depth is used for one-shot refreshes; telemetry may be nil.
func NewReadiness(cfg ReadinessConfig, depth ports.DepthSource, telemetry ports.Telemetry) *Readiness {
	def := DefaultReadinessConfig()
	if cfg.Freshness <= 0 {
		cfg.Freshness = def.Freshness
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	return &Readiness{
		cfg:       cfg,
		depth:     depth,
		telemetry: telemetry,
		now:       time.Now,
		entries:   make(map[string]*readyEntry),
	}
}

// WithClock replaces the clock (tests).
func (r *Readiness) WithClock(now func() time.Time) *Readiness {
	r.now = now
	return r
}

// Observe starts the first-seen clock of a market if it is not running yet.
func (r *Readiness) Observe(slug string) {
	r.mu.Lock()
	r.entryLocked(slug)
	r.mu.Unlock()
}

func (r *Readiness) entryLocked(slug string) *readyEntry {
	e, ok := r.entries[slug]
	if !ok {
		e = &readyEntry{state: StatePending, firstSeen: r.now()}
		r.entries[slug] = e
	}
	return e
}

// Forget drops the state of a market so a later Observe starts over.
func (r *Readiness) Forget(slug string) {
	r.mu.Lock()
	delete(r.entries, slug)
	r.mu.Unlock()
}

// State returns the current state (PENDING for unknown markets).
func (r *Readiness) State(slug string) ReadinessState {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[slug]; ok {
		return e.state
	}
	return StatePending
}

// Counts returns how many markets are in each state.
func (r *Readiness) Counts() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := map[string]int{string(StatePending): 0, string(StateReady): 0, string(StateDisabled): 0}
	for _, e := range r.entries {
		out[string(e.state)]++
	}
	return out
}

// Check reports whether mc may be evaluated now. A stale book triggers one
// depth refresh through the exchange before deciding.
func (r *Readiness) Check(ctx context.Context, mc *domain.MarketContext) bool {
	slug := mc.Market.Slug
	now := r.now()

	r.mu.Lock()
	e := r.entryLocked(slug)
	if e.state == StateDisabled {
		r.mu.Unlock()
		return false
	}
	fresh := mc.Book().Age(now) <= r.cfg.Freshness
	if fresh {
		r.markReadyLocked(slug, e)
		r.mu.Unlock()
		return true
	}
	if e.state == StateReady {
		e.state = StatePending
	}
	r.mu.Unlock()

	err := r.refresh(ctx, mc)
	if err == nil {
		r.mu.Lock()
		r.markReadyLocked(slug, r.entryLocked(slug))
		r.mu.Unlock()
		return true
	}
	slog.Debug("readiness: depth refresh failed", "market", slug, "err", err)

	r.mu.Lock()
	defer r.mu.Unlock()
	e = r.entryLocked(slug)
	if e.state != StateDisabled && r.now().Sub(e.firstSeen) > r.cfg.Timeout {
		e.state = StateDisabled
		slog.Warn("readiness: market disabled, book never became fresh",
			"market", slug, "since_first_seen", r.now().Sub(e.firstSeen).Round(time.Millisecond))
		r.lifecycle(slug, string(StateDisabled), fmt.Sprintf("no fresh book within %s", r.cfg.Timeout))
	}
	return false
}

func (r *Readiness) markReadyLocked(slug string, e *readyEntry) {
	if e.state == StateReady {
		return
	}
	e.state = StateReady
	r.lifecycle(slug, string(StateReady), "")
}

// refresh pulls depth for both tokens and writes it into the book.
func (r *Readiness) refresh(ctx context.Context, mc *domain.MarketContext) error {
	if r.depth == nil {
		return fmt.Errorf("readiness: no depth source")
	}
	var got int
	for _, o := range []domain.Outcome{domain.OutcomeUp, domain.OutcomeDown} {
		d, err := r.depth.GetOrderbookDepth(ctx, mc.Market.TokenID(o))
		if err != nil {
			return fmt.Errorf("readiness.refresh %s: %w", o, err)
		}
		if d.HasLiquidity || d.TopBid > 0 {
			mc.UpdateQuote(o, d.TopBid, d.TopAsk, r.now())
			got++
		}
	}
	if got == 0 {
		return fmt.Errorf("readiness.refresh: empty book")
	}
	return nil
}

func (r *Readiness) lifecycle(slug, stage, detail string) {
	if r.telemetry == nil {
		return
	}
	r.telemetry.RecordLifecycle(domain.LifecycleEvent{Slug: slug, Stage: stage, Detail: detail, Timestamp: r.now()})
}
