package execution

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/polyhedge/internal/domain"
	"github.com/alejandrodnm/polyhedge/internal/ports"
)

// Urgency thresholds in seconds to expiry.
const (
	SurvivalSeconds = 60
	PanicSeconds    = 120
	UrgentSeconds   = 300
)

// Escalation error codes.
const (
	EscalationExhausted = "exhausted"
	EscalationBelowMin  = "below_min_shares"
	EscalationCancelled = "cancelled"
)

// ModeFor classifies urgency by seconds to expiry.
func ModeFor(secondsRemaining float64) domain.HedgeMode {
	switch {
	case secondsRemaining < SurvivalSeconds:
		return domain.HedgeModeSurvival
	case secondsRemaining < PanicSeconds:
		return domain.HedgeModePanic
	case secondsRemaining < UrgentSeconds:
		return domain.HedgeModeUrgent
	}
	return domain.HedgeModeNormal
}

// HedgeFill is what one hedge placement achieved.
type HedgeFill struct {
	OrderID      string
	FilledShares float64
	AvgPrice     float64
	Working      bool // accepted by the book, not (fully) filled yet
}

// HedgePlacer submits a single hedge attempt and applies any fill to the
// market's position. It must not escalate on its own.
type HedgePlacer interface {
	PlaceHedge(ctx context.Context, slug string, o domain.Outcome, price, shares float64, retryIndex int, reason string) (HedgeFill, error)
}

// EscalatorConfig is the local retry policy.
type EscalatorConfig struct {
	MaxRetries  int
	Delay       time.Duration
	MinShares   float64
	PriceStep   float64
	SizeFactor  float64
	SurvivalCap float64
	PanicCap    float64
}

// DefaultEscalatorConfig is the local fallback policy.
func DefaultEscalatorConfig() EscalatorConfig {
	return EscalatorConfig{
		MaxRetries:  3,
		Delay:       500 * time.Millisecond,
		MinShares:   5,
		PriceStep:   0.02,
		SizeFactor:  0.7,
		SurvivalCap: 0.95,
		PanicCap:    0.85,
	}
}

// HedgeEscalator is the bounded local retry loop for a hedge that failed.
// Each retry shrinks size (except in survival mode) and raises price up to
// the mode cap, sleeping between attempts so the book can refresh.
type HedgeEscalator struct {
	cfg       EscalatorConfig
	placer    HedgePlacer
	telemetry ports.Telemetry
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration)
}

// NewHedgeEscalator creates the local escalator. Zero config fields take defaults.
func NewHedgeEscalator(cfg EscalatorConfig, placer HedgePlacer, telemetry ports.Telemetry) *HedgeEscalator {
	def := DefaultEscalatorConfig()
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.Delay < 0 {
		cfg.Delay = def.Delay
	}
	if cfg.MinShares <= 0 {
		cfg.MinShares = def.MinShares
	}
	if cfg.PriceStep <= 0 {
		cfg.PriceStep = def.PriceStep
	}
	if cfg.SizeFactor <= 0 || cfg.SizeFactor >= 1 {
		cfg.SizeFactor = def.SizeFactor
	}
	if cfg.SurvivalCap <= 0 {
		cfg.SurvivalCap = def.SurvivalCap
	}
	if cfg.PanicCap <= 0 {
		cfg.PanicCap = def.PanicCap
	}
	return &HedgeEscalator{
		cfg:       cfg,
		placer:    placer,
		telemetry: telemetry,
		now:       time.Now,
		sleep:     sleepCtx,
	}
}

// WithClock replaces the clock and sleep function (tests).
func (h *HedgeEscalator) WithClock(now func() time.Time, sleep func(context.Context, time.Duration)) *HedgeEscalator {
	h.now = now
	h.sleep = sleep
	return h
}

// normalCap is the price ceiling when there is no time pressure.
func (h *HedgeEscalator) normalCap(initial decimal.Decimal) decimal.Decimal {
	step := decimal.NewFromFloat(h.cfg.PriceStep)
	return initial.Add(step.Mul(decimal.NewFromInt(int64(h.cfg.MaxRetries))))
}

func (h *HedgeEscalator) modeCap(mode domain.HedgeMode, initial decimal.Decimal) decimal.Decimal {
	switch mode {
	case domain.HedgeModeSurvival:
		return decimal.NewFromFloat(h.cfg.SurvivalCap)
	case domain.HedgeModePanic:
		return decimal.NewFromFloat(h.cfg.PanicCap)
	}
	return h.normalCap(initial)
}

// next derives the following attempt from the previous one.
func (h *HedgeEscalator) next(prev domain.HedgeAttempt, mode domain.HedgeMode, initial decimal.Decimal) domain.HedgeAttempt {
	shares := decimal.NewFromFloat(prev.Shares)
	if mode != domain.HedgeModeSurvival {
		shares = shares.Mul(decimal.NewFromFloat(h.cfg.SizeFactor)).Floor()
	}
	price := decimal.NewFromFloat(prev.Price).Add(decimal.NewFromFloat(h.cfg.PriceStep))
	price = capPrice(price, h.modeCap(mode, initial))
	return domain.HedgeAttempt{
		Shares:     shares.InexactFloat64(),
		Price:      price.InexactFloat64(),
		Mode:       mode,
		RetryIndex: prev.RetryIndex + 1,
	}
}

// Plan returns the attempts the escalator would make if every one failed.
func (h *HedgeEscalator) Plan(req domain.EscalationRequest) []domain.HedgeAttempt {
	initial := decimal.NewFromFloat(req.InitialPrice)
	mode := ModeFor(req.SecondsRemaining)
	cur := domain.HedgeAttempt{Shares: req.TargetShares, Price: req.InitialPrice, Mode: mode}
	var out []domain.HedgeAttempt
	for i := 0; i < h.cfg.MaxRetries; i++ {
		cur = h.next(cur, mode, initial)
		if cur.Shares < h.cfg.MinShares {
			break
		}
		out = append(out, cur)
	}
	return out
}

// Escalate runs the retry loop. Aborting because size fell under the minimum
// lot is not a failure; exhausting the budget without any fill is.
func (h *HedgeEscalator) Escalate(ctx context.Context, req domain.EscalationRequest) domain.EscalationResult {
	start := h.now()
	initial := decimal.NewFromFloat(req.InitialPrice)
	cur := domain.HedgeAttempt{Shares: req.TargetShares, Price: req.InitialPrice}
	remaining := req.TargetShares

	var res domain.EscalationResult
	var filledCost float64

	for i := 0; i < h.cfg.MaxRetries; i++ {
		secs := req.SecondsRemaining - h.now().Sub(start).Seconds()
		mode := ModeFor(secs)
		cur = h.next(cur, mode, initial)
		if cur.Shares > remaining {
			cur.Shares = decimal.NewFromFloat(remaining).Floor().InexactFloat64()
		}
		if cur.Shares < h.cfg.MinShares {
			slog.Info("escalator: residual below minimum lot, accepting",
				"market", req.Slug, "outcome", req.Outcome, "shares", cur.Shares, "attempts", res.Attempts)
			res.OK = true
			if res.FilledShares == 0 {
				res.ErrorCode = EscalationBelowMin
			}
			return h.finish(res, filledCost)
		}

		h.sleep(ctx, h.cfg.Delay)
		if ctx.Err() != nil {
			res.ErrorCode = EscalationCancelled
			return h.finish(res, filledCost)
		}

		res.Attempts++
		fill, err := h.placer.PlaceHedge(ctx, req.Slug, req.Outcome, cur.Price, cur.Shares, cur.RetryIndex, req.Reason)
		if err != nil {
			slog.Warn("escalator: attempt failed",
				"market", req.Slug, "retry", cur.RetryIndex, "mode", mode,
				"price", cur.Price, "shares", cur.Shares, "err", err)
			continue
		}

		res.OrderID = fill.OrderID
		if fill.FilledShares > 0 {
			res.FilledShares += fill.FilledShares
			filledCost += fill.FilledShares * fill.AvgPrice
			remaining -= fill.FilledShares
		}
		if remaining < h.cfg.MinShares || fill.Working || fill.FilledShares >= cur.Shares {
			res.OK = true
			return h.finish(res, filledCost)
		}
		// Partial fill: keep going for the remainder.
		res.OK = true
	}

	if res.FilledShares == 0 {
		res.OK = false
		res.ErrorCode = EscalationExhausted
		slog.Error("escalator: hedge retries exhausted",
			"market", req.Slug, "outcome", req.Outcome, "target", req.TargetShares, "attempts", res.Attempts)
		if h.telemetry != nil {
			h.telemetry.RecordEvent(domain.Event{
				Slug:      req.Slug,
				Kind:      "hedge_exhausted",
				Level:     domain.EventCritical,
				Message:   fmt.Sprintf("local escalator: %.0f %s unhedged after %d attempts", req.TargetShares, req.Outcome, res.Attempts),
				Timestamp: h.now(),
			})
		}
	}
	return h.finish(res, filledCost)
}

func (h *HedgeEscalator) finish(res domain.EscalationResult, filledCost float64) domain.EscalationResult {
	if res.FilledShares > 0 {
		res.AvgPrice = filledCost / res.FilledShares
	}
	return res
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
