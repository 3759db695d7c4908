package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/polyhedge/internal/application/execution"
	"github.com/alejandrodnm/polyhedge/internal/domain"
)

// evaluate runs one gated evaluation of a market: readiness, risk scoring,
// oracle decision, startup grace, execution, then micro-hedge batching.
// A concurrent evaluation of the same market makes this a no-op.
func (e *Engine) evaluate(ctx context.Context, mc *domain.MarketContext) {
	if !mc.TryAcquire() {
		return
	}
	defer mc.Release()

	if !e.readiness.Check(ctx, mc) {
		return
	}
	now := e.now()
	snap := mc.Snapshot()
	secs := snap.Market.SecondsRemaining(now)
	if secs <= 0 {
		return
	}

	score := e.gate.Observe(snap.Market.Slug, snap.Position.UnpairedNotional(), snap.UnpairedAge(now).Seconds())
	mc.SetRiskScore(score)

	if e.deps.Oracle != nil {
		sig := e.deps.Oracle.Evaluate(domain.OracleInput{
			Slug:             snap.Market.Slug,
			Book:             snap.Book,
			Position:         snap.Position,
			SecondsRemaining: secs,
			LastTradeAt:      snap.LastTradeAt,
			Now:              now,
			Balance:          e.ledger.Available(),
			Spot:             snap.Spot,
			Strike:           snap.Strike,
		})
		if sig != nil {
			e.dispatch(ctx, mc, snap, *sig)
		}
	}

	e.maybeMicroHedge(ctx, mc)
}

// dispatch routes a signal to its execution strategy.
func (e *Engine) dispatch(ctx context.Context, mc *domain.MarketContext, snap domain.ContextSnapshot, sig domain.Signal) {
	intent := sig.Intent()
	if ok, reason := e.startup.Allow(snap, intent); !ok {
		slog.Debug("engine: startup grace blocks entry", "market", snap.Market.Slug, "signal", sig.Type, "reason", reason)
		return
	}

	switch {
	case sig.Type == domain.SignalPaired && sig.Second != nil:
		e.executePaired(ctx, mc, sig)
	case sig.Type == domain.SignalAccumulate:
		e.executeAccumulate(ctx, mc, sig)
	default:
		e.executeSingle(ctx, mc, sig.Leg, intent, sig.Reasoning)
	}
}

func (e *Engine) executeSingle(ctx context.Context, mc *domain.MarketContext, leg domain.Leg, intent domain.Intent, reasoning string) execution.ExecResult {
	res := e.executor.Submit(ctx, mc, domain.OrderRequest{
		Slug:      mc.Market.Slug,
		Outcome:   leg.Outcome,
		Price:     leg.Price,
		Shares:    leg.Shares,
		Reasoning: reasoning,
		Intent:    intent,
	})
	if res.Status == execution.StatusSkipped {
		slog.Debug("engine: signal skipped", "market", mc.Market.Slug, "intent", intent, "reason", res.Reason)
	}
	return res
}

// executeAccumulate buys the light side of an open position. The order is
// clamped so it never flips which side is heavy and dropped when that
// leaves less than a tradable lot.
func (e *Engine) executeAccumulate(ctx context.Context, mc *domain.MarketContext, sig domain.Signal) {
	leg := sig.Leg
	pos := mc.Position()
	if heavy, ok := pos.HeavySide(); ok && leg.Outcome == heavy.Opposite() {
		if u := pos.Unpaired(); leg.Shares > u {
			leg.Shares = math.Floor(u)
		}
	}
	if leg.Shares < e.cfg.MinLotShares {
		slog.Debug("engine: accumulate below lot", "market", mc.Market.Slug, "shares", leg.Shares)
		return
	}
	e.executeSingle(ctx, mc, leg, domain.IntentAccumulate, sig.Reasoning)
}

// executePaired buys both legs. Both must be affordable up front; the second
// leg is a HEDGE sized to what the first actually filled, so a partial first
// leg never leaves the market over-hedged.
func (e *Engine) executePaired(ctx context.Context, mc *domain.MarketContext, sig domain.Signal) {
	first, second := sig.Leg, *sig.Second
	slug := mc.Market.Slug
	need := first.Price*first.Shares + second.Price*second.Shares
	if avail := e.ledger.Available(); need > avail {
		slog.Info("engine: paired signal unaffordable",
			"market", slug, "needed", fmt.Sprintf("$%.2f", need), "available", fmt.Sprintf("$%.2f", avail))
		return
	}

	a := e.executeSingle(ctx, mc, first, domain.IntentEntry, sig.Reasoning)
	if a.FilledShares <= domain.ShareEpsilon {
		return
	}
	shares := math.Min(a.FilledShares, second.Shares)
	if shares < e.cfg.MinLotShares {
		// Once both sides are held the executor already counted the new
		// residual; only a position that is still one-sided needs it here.
		if !mc.Position().TwoSided() {
			e.micro.Accumulate(slug, shares)
		}
		return
	}
	b := e.executeSingle(ctx, mc, domain.Leg{Outcome: second.Outcome, Price: second.Price, Shares: shares},
		domain.IntentHedge, sig.Reasoning+" (second leg)")
	if !b.Placed() {
		slog.Warn("engine: paired second leg not placed, monitor is the backstop",
			"market", slug, "outcome", second.Outcome, "status", b.Status, "reason", b.Reason)
	}
}

// maybeMicroHedge sends the batched residual once the accumulator triggers.
func (e *Engine) maybeMicroHedge(ctx context.Context, mc *domain.MarketContext) {
	slug := mc.Market.Slug
	now := e.now()
	snap := mc.Snapshot()
	trig := e.micro.ShouldTrigger(slug, snap.Market.SecondsRemaining(now))
	if !trig.Should {
		return
	}
	if !snap.Micro.LastHedgeAt.IsZero() && now.Sub(snap.Micro.LastHedgeAt) < e.cfg.MicroCooldown {
		return
	}
	if snap.Micro.Retries >= e.cfg.MicroMaxRetries {
		slog.Warn("engine: micro-hedge keeps failing, deferring to monitor",
			"market", slug, "pending", trig.Shares, "retries", snap.Micro.Retries)
		e.micro.Reset(slug)
		mc.DeferMicroHedge(now)
		return
	}

	heavy, ok := snap.Position.HeavySide()
	if !ok {
		e.micro.Reset(slug)
		return
	}
	light := heavy.Opposite()
	ask := snap.Book.Ask(light)
	if ask <= 0 {
		return
	}
	price := decimal.Min(
		decimal.NewFromFloat(ask).Add(decimal.NewFromFloat(0.01)),
		decimal.NewFromFloat(e.cfg.MicroMaxPrice),
	).Round(2).InexactFloat64()

	shares := trig.Shares
	if u := snap.Position.Unpaired(); trig.Reason != execution.TriggerTimeForced && shares > u {
		// The counter ran ahead of the book: resync it and never buy past
		// the real residual.
		e.micro.Clear(slug, shares-u)
		shares = u
		if shares < e.cfg.MinLotShares {
			return
		}
	}

	before := e.micro.Pending(slug)
	res := e.executor.Submit(ctx, mc, domain.OrderRequest{
		Slug:      slug,
		Outcome:   light,
		Price:     price,
		Shares:    shares,
		Reasoning: "micro-hedge " + trig.Reason,
		Intent:    domain.IntentHedge,
	})
	switch {
	case res.Placed():
		// A resting remainder counts as covered. The executor already cleared
		// whatever the fill took off the unpaired count.
		if rest := shares - (before - e.micro.Pending(slug)); rest > domain.ShareEpsilon {
			e.micro.Clear(slug, rest)
		}
		mc.RecordMicroHedge(true, now)
		slog.Info("engine: micro-hedge placed",
			"market", slug, "outcome", light, "price", price, "shares", shares, "filled", res.FilledShares, "reason", trig.Reason)
	case res.Status == execution.StatusFailed:
		mc.RecordMicroHedge(false, now)
	}
}
