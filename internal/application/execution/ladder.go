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

// LadderConfig is the policy of the larger-budget escalator.
type LadderConfig struct {
	Attempts    int
	Delay       time.Duration
	PriceStep   float64
	SizeFactor  float64 // applied from the second half of the ladder on
	MinShares   float64
	SurvivalCap float64
	PanicCap    float64
	MinEdge     float64 // kept below 1.0 when pair-cost context is known
	NormalSlack float64 // max markup over the initial price without context
}

// DefaultLadderConfig returns the default ladder policy.
func DefaultLadderConfig() LadderConfig {
	return LadderConfig{
		Attempts:    6,
		Delay:       250 * time.Millisecond,
		PriceStep:   0.01,
		SizeFactor:  0.8,
		MinShares:   5,
		SurvivalCap: 0.95,
		PanicCap:    0.90,
		MinEdge:     0.01,
		NormalSlack: 0.05,
	}
}

// LadderEscalator walks the price up one tick at a time, keeping size for
// the first half of its budget. With pair-cost context it refuses to pay more
// than what keeps the pair under $1 unless expiry is close.
type LadderEscalator struct {
	cfg       LadderConfig
	placer    HedgePlacer
	telemetry ports.Telemetry
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration)
}

// NewLadderEscalator creates the ladder escalator. Zero config fields take defaults.
func NewLadderEscalator(cfg LadderConfig, placer HedgePlacer, telemetry ports.Telemetry) *LadderEscalator {
	def := DefaultLadderConfig()
	if cfg.Attempts <= 0 {
		cfg.Attempts = def.Attempts
	}
	if cfg.Delay < 0 {
		cfg.Delay = def.Delay
	}
	if cfg.PriceStep <= 0 {
		cfg.PriceStep = def.PriceStep
	}
	if cfg.SizeFactor <= 0 || cfg.SizeFactor >= 1 {
		cfg.SizeFactor = def.SizeFactor
	}
	if cfg.MinShares <= 0 {
		cfg.MinShares = def.MinShares
	}
	if cfg.SurvivalCap <= 0 {
		cfg.SurvivalCap = def.SurvivalCap
	}
	if cfg.PanicCap <= 0 {
		cfg.PanicCap = def.PanicCap
	}
	if cfg.MinEdge <= 0 {
		cfg.MinEdge = def.MinEdge
	}
	if cfg.NormalSlack <= 0 {
		cfg.NormalSlack = def.NormalSlack
	}
	return &LadderEscalator{cfg: cfg, placer: placer, telemetry: telemetry, now: time.Now, sleep: sleepCtx}
}

// WithClock replaces the clock and sleep function (tests).
func (l *LadderEscalator) WithClock(now func() time.Time, sleep func(context.Context, time.Duration)) *LadderEscalator {
	l.now = now
	l.sleep = sleep
	return l
}

func (l *LadderEscalator) priceCap(mode domain.HedgeMode, req domain.EscalationRequest) decimal.Decimal {
	switch mode {
	case domain.HedgeModeSurvival:
		return decimal.NewFromFloat(l.cfg.SurvivalCap)
	case domain.HedgeModePanic:
		return decimal.NewFromFloat(l.cfg.PanicCap)
	}
	initial := decimal.NewFromFloat(req.InitialPrice)
	if req.PairCostOther > 0 {
		c := decimal.NewFromInt(1).Sub(decimal.NewFromFloat(req.PairCostOther)).Sub(decimal.NewFromFloat(l.cfg.MinEdge))
		return decimal.Max(c, initial)
	}
	return initial.Add(decimal.NewFromFloat(l.cfg.NormalSlack))
}

// Escalate implements ports.Escalator.
func (l *LadderEscalator) Escalate(ctx context.Context, req domain.EscalationRequest) domain.EscalationResult {
	start := l.now()
	price := decimal.NewFromFloat(req.InitialPrice)
	shares := decimal.NewFromFloat(req.TargetShares).Floor()
	remaining := req.TargetShares
	half := l.cfg.Attempts / 2

	var res domain.EscalationResult
	var filledCost float64

	for i := 0; i < l.cfg.Attempts; i++ {
		mode := ModeFor(req.SecondsRemaining - l.now().Sub(start).Seconds())
		price = capPrice(price.Add(decimal.NewFromFloat(l.cfg.PriceStep)), l.priceCap(mode, req))
		if i >= half && mode != domain.HedgeModeSurvival {
			shares = shares.Mul(decimal.NewFromFloat(l.cfg.SizeFactor)).Floor()
		}
		if rem := decimal.NewFromFloat(remaining).Floor(); shares.GreaterThan(rem) {
			shares = rem
		}
		if shares.InexactFloat64() < l.cfg.MinShares {
			res.OK = true
			if res.FilledShares == 0 {
				res.ErrorCode = EscalationBelowMin
			}
			break
		}

		l.sleep(ctx, l.cfg.Delay)
		if ctx.Err() != nil {
			res.ErrorCode = EscalationCancelled
			break
		}

		res.Attempts++
		fill, err := l.placer.PlaceHedge(ctx, req.Slug, req.Outcome, price.InexactFloat64(), shares.InexactFloat64(), i+1, req.Reason)
		if err != nil {
			slog.Warn("ladder: attempt failed",
				"market", req.Slug, "step", i+1, "mode", mode,
				"price", price.StringFixed(2), "shares", shares.String(), "err", err)
			continue
		}
		res.OK = true
		res.OrderID = fill.OrderID
		if fill.FilledShares > 0 {
			res.FilledShares += fill.FilledShares
			filledCost += fill.FilledShares * fill.AvgPrice
			remaining -= fill.FilledShares
		}
		if fill.Working || remaining < l.cfg.MinShares {
			break
		}
	}

	if res.FilledShares > 0 {
		res.AvgPrice = filledCost / res.FilledShares
	}
	if !res.OK && res.ErrorCode == "" {
		res.ErrorCode = EscalationExhausted
		slog.Error("ladder: hedge ladder exhausted",
			"market", req.Slug, "outcome", req.Outcome, "target", req.TargetShares, "attempts", res.Attempts)
		if l.telemetry != nil {
			l.telemetry.RecordEvent(domain.Event{
				Slug:      req.Slug,
				Kind:      "hedge_ladder_exhausted",
				Level:     domain.EventCritical,
				Message:   fmt.Sprintf("ladder: %.0f %s unhedged after %d attempts", req.TargetShares, req.Outcome, res.Attempts),
				Timestamp: l.now(),
			})
		}
	}
	return res
}
