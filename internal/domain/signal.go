package domain

import "time"

// SignalType is the decision kind returned by the signal oracle.
type SignalType string

const (
	SignalPaired     SignalType = "paired"
	SignalAccumulate SignalType = "accumulate"
	SignalOpening    SignalType = "opening"
	SignalHedge      SignalType = "hedge"
	SignalRebalance  SignalType = "rebalance"
)

// Leg is one side of a signal.
type Leg struct {
	Outcome Outcome
	Price   float64
	Shares  float64
}

// Signal is a trading decision. Second is only set for paired signals.
type Signal struct {
	Type      SignalType
	Leg       Leg
	Second    *Leg
	Reasoning string
}

// Intent maps the signal type to the executor intent of its first leg.
func (s Signal) Intent() Intent {
	switch s.Type {
	case SignalHedge, SignalRebalance:
		return IntentHedge
	case SignalAccumulate:
		return IntentAccumulate
	}
	return IntentEntry
}

// OracleInput is everything the oracle sees for one evaluation.
type OracleInput struct {
	Slug             string
	Book             Book
	Position         Position
	SecondsRemaining float64
	LastTradeAt      time.Time
	Now              time.Time
	Balance          float64
	Spot             float64
	Strike           float64
}
