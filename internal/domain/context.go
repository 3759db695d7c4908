package domain

import (
	"sync"
	"sync/atomic"
	"time"
)

// MicroHedgeState tracks micro-hedge bookkeeping for one market.
type MicroHedgeState struct {
	LastHedgeAt time.Time
	Retries     int
	PairedMinAt time.Time // first time paired >= minimum lot
}

// MarketContext is the live state of one registered market.
//
// Position and Book are only mutated by code holding the evaluation lock
// (TryAcquire) for this market; mu guards the individual field reads and
// writes so snapshots taken by other goroutines are consistent.
type MarketContext struct {
	Market       Market
	RegisteredAt time.Time

	inFlight atomic.Bool

	mu            sync.Mutex
	book          Book
	pos           Position
	lastTradeAt   time.Time
	micro         MicroHedgeState
	spot          float64
	strike        float64
	unpairedSince time.Time
	riskScore     float64
}

// ContextSnapshot is a value copy of a MarketContext.
type ContextSnapshot struct {
	Market        Market
	RegisteredAt  time.Time
	Book          Book
	Position      Position
	LastTradeAt   time.Time
	Micro         MicroHedgeState
	Spot          float64
	Strike        float64
	UnpairedSince time.Time
	RiskScore     float64
}

// UnpairedAge returns how long the current unpaired exposure has existed.
func (s ContextSnapshot) UnpairedAge(now time.Time) time.Duration {
	if s.UnpairedSince.IsZero() {
		return 0
	}
	return now.Sub(s.UnpairedSince)
}

// NewMarketContext creates the context for a newly active market.
func NewMarketContext(m Market, now time.Time) *MarketContext {
	return &MarketContext{Market: m, RegisteredAt: now}
}

// TryAcquire takes the evaluation lock. Returns false if another evaluation
// of this market is running.
func (mc *MarketContext) TryAcquire() bool {
	return mc.inFlight.CompareAndSwap(false, true)
}

// Release frees the evaluation lock.
func (mc *MarketContext) Release() {
	mc.inFlight.Store(false)
}

// Busy reports whether an evaluation holds the lock.
func (mc *MarketContext) Busy() bool {
	return mc.inFlight.Load()
}

// Snapshot returns a consistent copy of the mutable state.
func (mc *MarketContext) Snapshot() ContextSnapshot {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return ContextSnapshot{
		Market:        mc.Market,
		RegisteredAt:  mc.RegisteredAt,
		Book:          mc.book,
		Position:      mc.pos,
		LastTradeAt:   mc.lastTradeAt,
		Micro:         mc.micro,
		Spot:          mc.spot,
		Strike:        mc.strike,
		UnpairedSince: mc.unpairedSince,
		RiskScore:     mc.riskScore,
	}
}

// UpdateQuote records a top-of-book update for one side.
func (mc *MarketContext) UpdateQuote(o Outcome, bid, ask float64, at time.Time) {
	mc.mu.Lock()
	mc.book.Set(o, bid, ask, at)
	mc.mu.Unlock()
}

// Book returns the current book.
func (mc *MarketContext) Book() Book {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.book
}

// Position returns the current position.
func (mc *MarketContext) Position() Position {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.pos
}

// ApplyFill adds a fill to the position, stamps lastTradeAt and maintains the
// unpaired-since clock. Returns the position before and after.
func (mc *MarketContext) ApplyFill(o Outcome, shares, price float64, at time.Time) (before, after Position) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	before = mc.pos
	mc.pos.Apply(o, shares, price)
	mc.lastTradeAt = at
	mc.trackUnpaired(before, at)
	return before, mc.pos
}

// MarkTraded stamps lastTradeAt without changing the position (an order
// accepted into the book but not filled yet).
func (mc *MarketContext) MarkTraded(at time.Time) {
	mc.mu.Lock()
	mc.lastTradeAt = at
	mc.mu.Unlock()
}

// SyncShares reconciles both sides with externally observed balances.
func (mc *MarketContext) SyncShares(up, down float64, at time.Time) (before, after Position) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	before = mc.pos
	mc.pos.Reconcile(OutcomeUp, up)
	mc.pos.Reconcile(OutcomeDown, down)
	mc.trackUnpaired(before, at)
	return before, mc.pos
}

func (mc *MarketContext) trackUnpaired(before Position, at time.Time) {
	switch {
	case mc.pos.Unpaired() <= ShareEpsilon:
		mc.unpairedSince = time.Time{}
	case before.Unpaired() <= ShareEpsilon || mc.unpairedSince.IsZero():
		mc.unpairedSince = at
	}
}

// SetSpot caches the latest spot price of the underlying.
func (mc *MarketContext) SetSpot(spot float64) {
	mc.mu.Lock()
	mc.spot = spot
	mc.mu.Unlock()
}

// SetStrike caches the period's reference price. Only the first non-zero value sticks.
func (mc *MarketContext) SetStrike(strike float64) {
	mc.mu.Lock()
	if mc.strike == 0 {
		mc.strike = strike
	}
	mc.mu.Unlock()
}

// SetRiskScore stores the last computed inventory risk score.
func (mc *MarketContext) SetRiskScore(score float64) {
	mc.mu.Lock()
	mc.riskScore = score
	mc.mu.Unlock()
}

// RecordMicroHedge updates micro-hedge bookkeeping after an attempt.
func (mc *MarketContext) RecordMicroHedge(ok bool, at time.Time) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.micro.LastHedgeAt = at
	if ok {
		mc.micro.Retries = 0
	} else {
		mc.micro.Retries++
	}
}

// MarkPairedMin stamps the first time the paired quantity reached minLot.
func (mc *MarketContext) MarkPairedMin(minLot float64, at time.Time) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if mc.micro.PairedMinAt.IsZero() && mc.pos.Paired() >= minLot {
		mc.micro.PairedMinAt = at
	}
}

// DeferMicroHedge gives up on the current micro-hedge batch: the retry
// counter restarts and the one-sided monitor takes over any residual.
func (mc *MarketContext) DeferMicroHedge(at time.Time) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.micro.LastHedgeAt = at
	mc.micro.Retries = 0
}
