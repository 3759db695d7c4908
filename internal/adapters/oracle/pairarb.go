// Package oracle holds the built-in SignalOracle: a pair-cost arbitrage on
// binary up/down markets. Buying one UP and one DOWN share for less than $1
// locks in the difference at settlement.
package oracle

import (
	"fmt"
	"math"
	"time"

	"github.com/alejandrodnm/polyhedge/internal/domain"
	"github.com/alejandrodnm/polyhedge/internal/ports"
)

// Config tunes PairArb.
type Config struct {
	TargetPairCost   float64       // max UP+DOWN cost per pair
	OrderShares      float64       // shares per entry / accumulate order
	MaxSharesPerSide float64       // no new exposure beyond this
	MinEntrySeconds  float64       // no new entries this close to expiry
	Cooldown         time.Duration // quiet period after a trade
	AccumulateEdge   float64       // light-side ask must beat its avg cost by this much
	OpenBelow        float64       // one-sided opening when an ask is at or below this
	MaxPrice         float64       // never bid above this
}

// DefaultConfig returns conservative defaults.
func DefaultConfig() Config {
	return Config{
		TargetPairCost:   0.97,
		OrderShares:      10,
		MaxSharesPerSide: 200,
		MinEntrySeconds:  120,
		Cooldown:         2 * time.Second,
		AccumulateEdge:   0.03,
		OpenBelow:        0.35,
		MaxPrice:         0.95,
	}
}

// PairArb implements ports.SignalOracle.
type PairArb struct {
	cfg Config
}

// NewPairArb creates the oracle. Zero fields fall back to DefaultConfig.
func NewPairArb(cfg Config) *PairArb {
	def := DefaultConfig()
	if cfg.TargetPairCost <= 0 {
		cfg.TargetPairCost = def.TargetPairCost
	}
	if cfg.OrderShares <= 0 {
		cfg.OrderShares = def.OrderShares
	}
	if cfg.MaxSharesPerSide <= 0 {
		cfg.MaxSharesPerSide = def.MaxSharesPerSide
	}
	if cfg.MaxPrice <= 0 {
		cfg.MaxPrice = def.MaxPrice
	}
	return &PairArb{cfg: cfg}
}

// Evaluate returns the next trade for a market, or nil.
func (o *PairArb) Evaluate(in domain.OracleInput) *domain.Signal {
	if !in.LastTradeAt.IsZero() && in.Now.Sub(in.LastTradeAt) < o.cfg.Cooldown {
		return nil
	}

	pos := in.Position
	switch {
	case pos.Flat():
		return o.entry(in)
	case pos.OneSided():
		return o.hedge(in)
	}
	if _, imbalanced := pos.HeavySide(); imbalanced {
		return o.rebalance(in)
	}
	return o.addPair(in)
}

// entry opens a fresh market: a full pair when it is cheap enough, otherwise
// a single cheap side the spot price agrees with.
func (o *PairArb) entry(in domain.OracleInput) *domain.Signal {
	if in.SecondsRemaining < o.cfg.MinEntrySeconds {
		return nil
	}
	if sig := o.pair(in, "entry"); sig != nil {
		return sig
	}
	if o.cfg.OpenBelow <= 0 {
		return nil
	}
	for _, side := range []domain.Outcome{domain.OutcomeUp, domain.OutcomeDown} {
		ask := in.Book.Ask(side)
		if !o.tradable(ask) || ask > o.cfg.OpenBelow || !spotAgrees(side, in.Spot, in.Strike) {
			continue
		}
		if !o.affordable(in.Balance, ask*o.cfg.OrderShares) {
			return nil
		}
		return &domain.Signal{
			Type: domain.SignalOpening,
			Leg:  domain.Leg{Outcome: side, Price: ask, Shares: o.cfg.OrderShares},
			Reasoning: fmt.Sprintf("opening %s @ %.2f (spot %.2f strike %.2f)",
				side, ask, in.Spot, in.Strike),
		}
	}
	return nil
}

// hedge completes a one-sided position when the resulting pair is profitable.
func (o *PairArb) hedge(in domain.OracleInput) *domain.Signal {
	pos := in.Position
	heavy, _ := pos.HeavySide()
	light := heavy.Opposite()
	ask := in.Book.Ask(light)
	if !o.tradable(ask) {
		return nil
	}
	cost := pos.AvgCost(heavy) + ask
	if cost > o.cfg.TargetPairCost {
		return nil
	}
	return &domain.Signal{
		Type:      domain.SignalHedge,
		Leg:       domain.Leg{Outcome: light, Price: ask, Shares: roundShares(pos.Unpaired())},
		Reasoning: fmt.Sprintf("hedge %s @ %.2f, pair cost %.4f", light, ask, cost),
	}
}

// rebalance handles a partly paired position with a surplus on one side.
// A light side trading well below its own average lowers the pair cost, so
// it is accumulated in steps; otherwise the surplus is closed at once if the
// pair still pays.
func (o *PairArb) rebalance(in domain.OracleInput) *domain.Signal {
	pos := in.Position
	heavy, _ := pos.HeavySide()
	light := heavy.Opposite()
	ask := in.Book.Ask(light)
	if !o.tradable(ask) {
		return nil
	}
	unpaired := pos.Unpaired()

	if ask <= pos.AvgCost(light)-o.cfg.AccumulateEdge {
		return &domain.Signal{
			Type: domain.SignalAccumulate,
			Leg:  domain.Leg{Outcome: light, Price: ask, Shares: roundShares(math.Min(o.cfg.OrderShares, unpaired))},
			Reasoning: fmt.Sprintf("accumulate %s @ %.2f below avg %.4f",
				light, ask, pos.AvgCost(light)),
		}
	}
	if cost := pos.AvgCost(heavy) + ask; cost <= o.cfg.TargetPairCost {
		return &domain.Signal{
			Type:      domain.SignalRebalance,
			Leg:       domain.Leg{Outcome: light, Price: ask, Shares: roundShares(unpaired)},
			Reasoning: fmt.Sprintf("rebalance %s @ %.2f, pair cost %.4f", light, ask, cost),
		}
	}
	return nil
}

// addPair grows a balanced position while pairs stay cheap.
func (o *PairArb) addPair(in domain.OracleInput) *domain.Signal {
	if in.SecondsRemaining < o.cfg.MinEntrySeconds {
		return nil
	}
	if in.Position.Paired()+o.cfg.OrderShares > o.cfg.MaxSharesPerSide {
		return nil
	}
	return o.pair(in, "add")
}

func (o *PairArb) pair(in domain.OracleInput, label string) *domain.Signal {
	if !o.tradable(in.Book.UpAsk) || !o.tradable(in.Book.DownAsk) {
		return nil
	}
	combined := in.Book.CombinedAsk()
	if combined > o.cfg.TargetPairCost {
		return nil
	}
	if !o.affordable(in.Balance, combined*o.cfg.OrderShares) {
		return nil
	}
	// The cheaper side goes first: it is the one most likely to move away.
	first, second := domain.OutcomeUp, domain.OutcomeDown
	if in.Book.DownAsk < in.Book.UpAsk {
		first, second = second, first
	}
	return &domain.Signal{
		Type:      domain.SignalPaired,
		Leg:       domain.Leg{Outcome: first, Price: in.Book.Ask(first), Shares: o.cfg.OrderShares},
		Second:    &domain.Leg{Outcome: second, Price: in.Book.Ask(second), Shares: o.cfg.OrderShares},
		Reasoning: fmt.Sprintf("pair %s: combined ask %.4f <= %.4f", label, combined, o.cfg.TargetPairCost),
	}
}

func (o *PairArb) tradable(price float64) bool {
	return price > 0 && price <= o.cfg.MaxPrice
}

// affordable treats an unknown balance (0) as "let the ledger decide".
func (o *PairArb) affordable(balance, cost float64) bool {
	return balance <= 0 || cost <= balance
}

// spotAgrees reports whether the underlying sits on the outcome's side of the
// strike. Without a reference price any side is allowed.
func spotAgrees(side domain.Outcome, spot, strike float64) bool {
	if spot <= 0 || strike <= 0 {
		return true
	}
	if side == domain.OutcomeUp {
		return spot >= strike
	}
	return spot < strike
}

// roundShares floors to the 0.01 share lot.
func roundShares(s float64) float64 {
	return math.Floor(s*100+1e-9) / 100
}

var _ ports.SignalOracle = (*PairArb)(nil)
