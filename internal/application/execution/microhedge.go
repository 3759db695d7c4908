package execution

import (
	"sync"

	"github.com/shopspring/decimal"
)

// MicroHedgeConfig sets the batching policy for small imbalances.
type MicroHedgeConfig struct {
	MinLot       float64 // release when this much has accumulated
	ForceSeconds float64 // under this many seconds to expiry, release whatever is pending
	ExchangeMin  float64 // forced releases are rounded up to this size
}

// DefaultMicroHedgeConfig returns the default policy.
func DefaultMicroHedgeConfig() MicroHedgeConfig {
	return MicroHedgeConfig{MinLot: 5, ForceSeconds: 120, ExchangeMin: 5}
}

// Trigger reasons.
const (
	TriggerEmpty      = "empty"
	TriggerLotReached = "lot_reached"
	TriggerTimeForced = "time_forced"
	TriggerBelowLot   = "below_lot"
)

// Trigger is the answer of ShouldTrigger.
type Trigger struct {
	Should bool
	Shares float64
	Reason string
}

// MicroHedge accumulates unpaired deltas too small to trade on their own.
type MicroHedge struct {
	cfg MicroHedgeConfig

	mu      sync.Mutex
	pending map[string]float64
}

// NewMicroHedge creates an accumulator. Zero config fields take defaults.
func NewMicroHedge(cfg MicroHedgeConfig) *MicroHedge {
	def := DefaultMicroHedgeConfig()
	if cfg.MinLot <= 0 {
		cfg.MinLot = def.MinLot
	}
	if cfg.ForceSeconds <= 0 {
		cfg.ForceSeconds = def.ForceSeconds
	}
	if cfg.ExchangeMin <= 0 {
		cfg.ExchangeMin = def.ExchangeMin
	}
	return &MicroHedge{cfg: cfg, pending: make(map[string]float64)}
}

// Accumulate adds delta to a market's pending counter and returns the new total.
// Negative deltas reduce it; the counter never goes below zero.
func (m *MicroHedge) Accumulate(slug string, delta float64) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.pending[slug] + delta
	if p < 0 {
		p = 0
	}
	m.pending[slug] = p
	return p
}

// ShouldTrigger decides whether the pending amount should be hedged now.
func (m *MicroHedge) ShouldTrigger(slug string, secondsRemaining float64) Trigger {
	m.mu.Lock()
	p := m.pending[slug]
	m.mu.Unlock()

	shares := decimal.NewFromFloat(p).Truncate(2).InexactFloat64()
	switch {
	case shares <= 0:
		return Trigger{Reason: TriggerEmpty}
	case shares >= m.cfg.MinLot:
		return Trigger{Should: true, Shares: shares, Reason: TriggerLotReached}
	case secondsRemaining < m.cfg.ForceSeconds:
		if shares < m.cfg.ExchangeMin {
			shares = m.cfg.ExchangeMin
		}
		return Trigger{Should: true, Shares: shares, Reason: TriggerTimeForced}
	}
	return Trigger{Shares: shares, Reason: TriggerBelowLot}
}

// Clear subtracts filled shares from the pending counter.
func (m *MicroHedge) Clear(slug string, filled float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.pending[slug] - filled
	if p <= 0 {
		delete(m.pending, slug)
		return
	}
	m.pending[slug] = p
}

// Pending returns the accumulated amount of a market.
func (m *MicroHedge) Pending(slug string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending[slug]
}

// Reset forgets a market entirely.
func (m *MicroHedge) Reset(slug string) {
	m.mu.Lock()
	delete(m.pending, slug)
	m.mu.Unlock()
}
