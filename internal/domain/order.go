package domain

import (
	"fmt"
	"strings"
	"time"
)

// Intent says why an order is being placed.
type Intent string

const (
	IntentEntry      Intent = "ENTRY"
	IntentHedge      Intent = "HEDGE"
	IntentAccumulate Intent = "ACCUMULATE"
)

// ParseIntent parses ENTRY|HEDGE|ACCUMULATE (case insensitive).
func ParseIntent(s string) (Intent, error) {
	switch Intent(strings.ToUpper(strings.TrimSpace(s))) {
	case IntentEntry:
		return IntentEntry, nil
	case IntentHedge:
		return IntentHedge, nil
	case IntentAccumulate:
		return IntentAccumulate, nil
	}
	return "", fmt.Errorf("domain.ParseIntent: unknown intent %q", s)
}

// Corrective reports whether the intent restores balance (exempt from entry gates).
func (i Intent) Corrective() bool {
	return i == IntentHedge
}

// OrderType is the CLOB time-in-force.
type OrderType string

const (
	OrderTypeGTC OrderType = "GTC"
	OrderTypeFOK OrderType = "FOK"
	OrderTypeFAK OrderType = "FAK"
)

// OrderRequest is what the pipeline asks the executor to place.
type OrderRequest struct {
	Slug      string
	Outcome   Outcome
	Price     float64
	Shares    float64
	Reasoning string
	Intent    Intent
}

// Notional is price × shares in USDC.
func (r OrderRequest) Notional() float64 {
	return r.Price * r.Shares
}

// PlaceOrderRequest is sent to the exchange client.
type PlaceOrderRequest struct {
	TokenID   string
	Price     float64
	Size      float64 // shares
	Side      string  // "BUY"
	OrderType OrderType
	NegRisk   bool
}

// OrderResult is the exchange's answer to a successful submission.
// FilledSize may be below the requested size: the rest is working in the book.
type OrderResult struct {
	OrderID    string
	Status     string // matched | live | delayed | unmatched
	FilledSize float64
	AvgPrice   float64
}

// ErrorClass buckets submission failures by message content.
type ErrorClass string

const (
	ErrorClassNone        ErrorClass = ""
	ErrorClassBalance     ErrorClass = "balance"
	ErrorClassLiquidity   ErrorClass = "liquidity"
	ErrorClassRateLimited ErrorClass = "rate_limited"
	ErrorClassUnknown     ErrorClass = "unknown"
)

// CircuitBreaker tracks consecutive submission failures and enforces pauses.
type CircuitBreaker struct {
	ConsecutiveFailures int
	MaxFailures         int
	CooldownUntil       time.Time
	CooldownDuration    time.Duration
	TriggeredReason     string
}

// IsOpen returns true if submissions are allowed at now.
func (cb *CircuitBreaker) IsOpen(now time.Time) bool {
	return !now.Before(cb.CooldownUntil)
}

// RecordFailure counts a failure and may start a cooldown.
func (cb *CircuitBreaker) RecordFailure(now time.Time) {
	cb.ConsecutiveFailures++
	if cb.MaxFailures > 0 && cb.ConsecutiveFailures >= cb.MaxFailures {
		cb.CooldownUntil = now.Add(cb.CooldownDuration)
		cb.ConsecutiveFailures = 0
		cb.TriggeredReason = "consecutive failures"
	}
}

// RecordSuccess resets the consecutive failure counter.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.ConsecutiveFailures = 0
}
