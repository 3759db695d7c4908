package execution

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/alejandrodnm/polyhedge/internal/domain"
	"github.com/alejandrodnm/polyhedge/internal/ports"
)

// ExecStatus is the outcome of one Submit.
type ExecStatus string

const (
	StatusFilled  ExecStatus = "filled"  // some or all shares filled
	StatusWorking ExecStatus = "working" // accepted, resting in the book
	StatusSkipped ExecStatus = "skipped" // soft block, nothing sent
	StatusFailed  ExecStatus = "failed"  // sent and rejected
)

// Skip reasons set by the executor itself.
const (
	ReasonInvalid           = "invalid_order"
	ReasonInsufficientFunds = "insufficient_funds"
	ReasonThrottled         = "throttled"
	ReasonUnknownMarket     = "unknown_market"
)

// ExecResult describes what Submit did. Soft blocks are not errors.
type ExecResult struct {
	Status       ExecStatus
	Reason       string
	OrderID      string
	FilledShares float64
	AvgPrice     float64
	ErrorClass   domain.ErrorClass
	Escalation   *domain.EscalationResult
}

// Placed reports whether the exchange accepted the order.
func (r ExecResult) Placed() bool {
	return r.Status == StatusFilled || r.Status == StatusWorking
}

// EntryGate blocks non-corrective intents (inventory risk, queue stress).
type EntryGate interface {
	Allow(intent domain.Intent) (bool, string)
}

// SkewCheck is the hard skew-stop.
type SkewCheck interface {
	Blocks(pos domain.Position, intent domain.Intent, outcome domain.Outcome) (bool, string)
}

// MarketLookup resolves a registered market by slug.
type MarketLookup interface {
	Get(slug string) (*domain.MarketContext, bool)
}

// ExecutorConfig holds the order placement policy.
type ExecutorConfig struct {
	OrderType      domain.OrderType // ENTRY / ACCUMULATE
	HedgeOrderType domain.OrderType
	PairedMinLot   float64 // paired size that stamps MicroHedgeState.PairedMinAt
}

// Executor is the place-one-order pipeline: skew-stop, risk gate, throttle,
// funds check, reservation, submission, reconciliation. Callers must hold
// the market's evaluation lock.
type Executor struct {
	cfg       ExecutorConfig
	exchange  ports.Exchange
	ledger    *Ledger
	throttle  *Throttle
	gate      EntryGate
	skew      SkewCheck
	micro     *MicroHedge
	escalator ports.Escalator
	markets   MarketLookup
	telemetry ports.Telemetry
	metrics   ports.Metrics
	now       func() time.Time
	newID     func() string
}

// ExecutorDeps groups the collaborators of an Executor.
type ExecutorDeps struct {
	Exchange  ports.Exchange
	Ledger    *Ledger
	Throttle  *Throttle
	Gate      EntryGate
	Skew      SkewCheck
	Micro     *MicroHedge
	Markets   MarketLookup
	Telemetry ports.Telemetry
	Metrics   ports.Metrics
	Now       func() time.Time
}

// NewExecutor wires an executor. The escalator is set separately because it
// usually needs the executor itself as its HedgePlacer.
func NewExecutor(cfg ExecutorConfig, deps ExecutorDeps) *Executor {
	if cfg.OrderType == "" {
		cfg.OrderType = domain.OrderTypeGTC
	}
	if cfg.HedgeOrderType == "" {
		cfg.HedgeOrderType = cfg.OrderType
	}
	if cfg.PairedMinLot <= 0 {
		cfg.PairedMinLot = 5
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Metrics == nil {
		deps.Metrics = ports.NopMetrics{}
	}
	return &Executor{
		cfg:       cfg,
		exchange:  deps.Exchange,
		ledger:    deps.Ledger,
		throttle:  deps.Throttle,
		gate:      deps.Gate,
		skew:      deps.Skew,
		micro:     deps.Micro,
		markets:   deps.Markets,
		telemetry: deps.Telemetry,
		metrics:   deps.Metrics,
		now:       deps.Now,
		newID:     uuid.NewString,
	}
}

// SetEscalator installs the escalator used for HEDGE balance/liquidity failures.
func (e *Executor) SetEscalator(esc ports.Escalator) {
	e.escalator = esc
}

// Submit runs the full pipeline for one order on mc.
func (e *Executor) Submit(ctx context.Context, mc *domain.MarketContext, req domain.OrderRequest) ExecResult {
	return e.submit(ctx, mc, req, 0, true)
}

// PlaceHedge implements HedgePlacer: a HEDGE submission that never escalates.
func (e *Executor) PlaceHedge(ctx context.Context, slug string, o domain.Outcome, price, shares float64, retryIndex int, reason string) (HedgeFill, error) {
	mc, ok := e.markets.Get(slug)
	if !ok {
		return HedgeFill{}, fmt.Errorf("execution.PlaceHedge: %s: %s", ReasonUnknownMarket, slug)
	}
	r := e.submit(ctx, mc, domain.OrderRequest{
		Slug:      slug,
		Outcome:   o,
		Price:     price,
		Shares:    shares,
		Reasoning: reason,
		Intent:    domain.IntentHedge,
	}, retryIndex, false)
	if !r.Placed() {
		return HedgeFill{}, fmt.Errorf("execution.PlaceHedge: %s: %s", r.Status, r.Reason)
	}
	return HedgeFill{
		OrderID:      r.OrderID,
		FilledShares: r.FilledShares,
		AvgPrice:     r.AvgPrice,
		Working:      r.Status == StatusWorking || r.FilledShares < shares-domain.ShareEpsilon && e.orderType(domain.IntentHedge) == domain.OrderTypeGTC,
	}, nil
}

func (e *Executor) orderType(intent domain.Intent) domain.OrderType {
	if intent == domain.IntentHedge {
		return e.cfg.HedgeOrderType
	}
	return e.cfg.OrderType
}

func (e *Executor) skip(req domain.OrderRequest, reason string) ExecResult {
	slog.Debug("executor: skipped",
		"market", req.Slug, "intent", req.Intent, "outcome", req.Outcome,
		"price", req.Price, "shares", req.Shares, "reason", reason)
	e.metrics.ObserveOrder(req.Intent, string(StatusSkipped))
	return ExecResult{Status: StatusSkipped, Reason: reason}
}

func (e *Executor) submit(ctx context.Context, mc *domain.MarketContext, req domain.OrderRequest, retryIndex int, escalate bool) ExecResult {
	slug := mc.Market.Slug
	req.Slug = slug
	if req.Price <= 0 || req.Price >= 1 || req.Shares <= 0 {
		return e.skip(req, ReasonInvalid)
	}
	pos := mc.Position()

	// 1. Hard skew-stop (hedges exempt) and inventory risk gate.
	if e.skew != nil {
		if blocked, reason := e.skew.Blocks(pos, req.Intent, req.Outcome); blocked {
			return e.skip(req, reason)
		}
	}
	if e.gate != nil {
		if ok, reason := e.gate.Allow(req.Intent); !ok {
			return e.skip(req, reason)
		}
	}

	// 2. Throttle.
	if d := e.throttle.CanSubmit(slug, req.Intent); !d.Allowed {
		e.metrics.ObserveThrottle(d.Reason)
		return e.skip(req, fmt.Sprintf("%s:%s:%dms", ReasonThrottled, d.Reason, d.WaitMs))
	}

	// 3-4. Funds check and reservation. Hedges reserve unconditionally.
	clientID := e.newID()
	notional := req.Notional()
	if req.Intent.Corrective() {
		e.ledger.Reserve(clientID, slug, notional, req.Outcome)
	} else if !e.ledger.ReserveIfAffordable(clientID, slug, notional, req.Outcome) {
		slog.Info("executor: insufficient funds",
			"market", slug, "intent", req.Intent,
			"needed", fmt.Sprintf("$%.2f", notional),
			"available", fmt.Sprintf("$%.2f", e.ledger.Available()))
		return e.skip(req, ReasonInsufficientFunds)
	}

	// 5. Submit.
	now := e.now()
	placed, err := e.exchange.PlaceOrder(ctx, domain.PlaceOrderRequest{
		TokenID:   mc.Market.TokenID(req.Outcome),
		Price:     req.Price,
		Size:      req.Shares,
		Side:      "BUY",
		OrderType: e.orderType(req.Intent),
		NegRisk:   mc.Market.NegRisk,
	})
	if err != nil {
		return e.onFailure(ctx, mc, req, pos, clientID, retryIndex, escalate, err)
	}

	// 7. Success: reconcile reservation, position, telemetry.
	e.throttle.RecordSubmitted(slug)
	filled := math.Min(placed.FilledSize, req.Shares)
	avg := placed.AvgPrice
	if avg <= 0 {
		avg = req.Price
	}
	orderID := placed.OrderID
	if orderID == "" {
		orderID = clientID
	}

	remaining := req.Shares - filled
	working := remaining > domain.ShareEpsilon && e.orderType(req.Intent) == domain.OrderTypeGTC
	e.ledger.OnFill(clientID, filled*avg)
	if working {
		e.ledger.Rekey(clientID, orderID, remaining*req.Price)
	} else {
		e.ledger.Release(clientID)
	}

	out := ExecResult{Status: StatusWorking, OrderID: orderID, FilledShares: filled, AvgPrice: avg}
	if filled > domain.ShareEpsilon {
		out.Status = StatusFilled
		before, after := mc.ApplyFill(req.Outcome, filled, avg, now)
		e.afterFill(mc, before, after, now)
		if e.telemetry != nil {
			e.telemetry.RecordFill(domain.FillRecord{
				OrderID:   orderID,
				Slug:      slug,
				Outcome:   req.Outcome,
				Shares:    filled,
				Price:     avg,
				Timestamp: now,
			})
		}
	} else {
		out.AvgPrice = 0
		mc.MarkTraded(now)
	}

	slog.Info("executor: order placed",
		"market", slug, "intent", req.Intent, "outcome", req.Outcome,
		"price", req.Price, "shares", req.Shares, "filled", filled,
		"status", placed.Status, "order_id", orderID, "retry", retryIndex)
	e.recordTrade(domain.TradeRecord{
		ID:         orderID,
		ClientID:   clientID,
		Slug:       slug,
		Outcome:    req.Outcome,
		Intent:     req.Intent,
		Price:      req.Price,
		Shares:     req.Shares,
		FilledSize: filled,
		AvgPrice:   out.AvgPrice,
		Status:     placed.Status,
		Reasoning:  req.Reasoning,
		RetryIndex: retryIndex,
		CreatedAt:  now,
	})
	e.metrics.ObserveOrder(req.Intent, string(out.Status))
	return out
}

// onFailure releases the reservation, backs off the throttle, classifies
// the error and escalates HEDGE balance/liquidity failures.
func (e *Executor) onFailure(ctx context.Context, mc *domain.MarketContext, req domain.OrderRequest, pos domain.Position, clientID string, retryIndex int, escalate bool, err error) ExecResult {
	slug := mc.Market.Slug
	now := e.now()
	e.ledger.Release(clientID)
	e.throttle.RecordFailed(slug)
	class := ClassifyError(err)

	slog.Warn("executor: order rejected",
		"market", slug, "intent", req.Intent, "outcome", req.Outcome,
		"price", req.Price, "shares", req.Shares, "class", class, "retry", retryIndex, "err", err)
	e.recordTrade(domain.TradeRecord{
		ID:         clientID,
		ClientID:   clientID,
		Slug:       slug,
		Outcome:    req.Outcome,
		Intent:     req.Intent,
		Price:      req.Price,
		Shares:     req.Shares,
		Status:     string(StatusFailed),
		Reasoning:  req.Reasoning,
		RetryIndex: retryIndex,
		ErrorClass: class,
		Error:      err.Error(),
		CreatedAt:  now,
	})
	e.metrics.ObserveOrder(req.Intent, string(StatusFailed))

	out := ExecResult{Status: StatusFailed, Reason: err.Error(), ErrorClass: class}
	if !escalate || req.Intent != domain.IntentHedge || e.escalator == nil {
		return out
	}
	if class != domain.ErrorClassBalance && class != domain.ErrorClassLiquidity {
		return out
	}

	res := e.escalator.Escalate(ctx, domain.EscalationRequest{
		Slug:             slug,
		Outcome:          req.Outcome,
		TargetShares:     req.Shares,
		InitialPrice:     req.Price,
		SecondsRemaining: mc.Market.SecondsRemaining(now),
		PairCostOther:    pos.AvgCost(req.Outcome.Opposite()),
		Reason:           req.Reasoning,
	})
	e.metrics.ObserveEscalation("ladder", res.OK)
	out.Escalation = &res
	if res.OK && (res.FilledShares > 0 || res.OrderID != "") {
		out.Status = StatusFilled
		if res.FilledShares <= domain.ShareEpsilon {
			out.Status = StatusWorking
		}
		out.OrderID = res.OrderID
		out.FilledShares = res.FilledShares
		out.AvgPrice = res.AvgPrice
	}
	return out
}

// afterFill feeds the micro-hedge accumulator when both sides hold shares.
// The first fill that pairs a one-sided position counts its whole residual.
func (e *Executor) afterFill(mc *domain.MarketContext, before, after domain.Position, now time.Time) {
	mc.MarkPairedMin(e.cfg.PairedMinLot, now)
	if e.micro == nil {
		return
	}
	if !after.TwoSided() {
		return
	}
	prev := 0.0
	if before.TwoSided() {
		prev = before.Unpaired()
	}
	delta := after.Unpaired() - prev
	switch {
	case delta > domain.ShareEpsilon:
		e.micro.Accumulate(mc.Market.Slug, delta)
	case delta < -domain.ShareEpsilon:
		e.micro.Clear(mc.Market.Slug, -delta)
	}
}

// recordTrade is fire-and-forget.
func (e *Executor) recordTrade(t domain.TradeRecord) {
	if e.telemetry == nil {
		return
	}
	e.telemetry.RecordTrade(t)
}
