package domain

import "time"

// TradeRecord is one submitted order as persisted for analysis.
type TradeRecord struct {
	ID         string // exchange order id, or client id when the exchange gave none
	ClientID   string
	Slug       string
	Outcome    Outcome
	Intent     Intent
	Price      float64
	Shares     float64
	FilledSize float64
	AvgPrice   float64
	Status     string
	Reasoning  string
	RetryIndex int
	ErrorClass ErrorClass
	Error      string
	CreatedAt  time.Time
}

// FillRecord is a (possibly partial) fill applied to a position.
type FillRecord struct {
	OrderID   string
	Slug      string
	Outcome   Outcome
	Shares    float64
	Price     float64
	Timestamp time.Time
}

// EventLevel is the severity of an operator event.
type EventLevel string

const (
	EventInfo     EventLevel = "info"
	EventWarn     EventLevel = "warn"
	EventCritical EventLevel = "critical"
)

// Event is a notable occurrence surfaced to the operator.
type Event struct {
	Slug      string
	Kind      string // e.g. hedge_exhausted, readiness_disabled, degraded_on
	Level     EventLevel
	Message   string
	Timestamp time.Time
}

// LifecycleEvent records market registration changes.
type LifecycleEvent struct {
	Slug      string
	Stage     string // registered | ready | disabled | deregistered
	Detail    string
	Timestamp time.Time
}

// Snapshot is a periodic picture of one market.
type Snapshot struct {
	Slug             string
	UpShares         float64
	DownShares       float64
	UpInvested       float64
	DownInvested     float64
	UpAsk            float64
	DownAsk          float64
	SecondsRemaining float64
	RiskScore        float64
	Readiness        string
	Timestamp        time.Time
}

// NewSnapshot builds a Snapshot from a context copy.
func NewSnapshot(s ContextSnapshot, readiness string, now time.Time) Snapshot {
	return Snapshot{
		Slug:             s.Market.Slug,
		UpShares:         s.Position.UpShares,
		DownShares:       s.Position.DownShares,
		UpInvested:       s.Position.UpInvested,
		DownInvested:     s.Position.DownInvested,
		UpAsk:            s.Book.UpAsk,
		DownAsk:          s.Book.DownAsk,
		SecondsRemaining: s.Market.SecondsRemaining(now),
		RiskScore:        s.RiskScore,
		Readiness:        readiness,
		Timestamp:        now,
	}
}

// Report aggregates persisted telemetry over a window.
type Report struct {
	Since        time.Time
	Orders       int
	Failed       int
	FilledShares float64
	Notional     float64
	ByIntent     map[Intent]int
	Critical     int
	Markets      []MarketReport
}

// MarketReport is the per-market line of a Report.
type MarketReport struct {
	Slug       string
	Orders     int
	UpShares   float64
	DownShares float64
	Notional   float64
}
