package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/polyhedge/internal/application/execution"
	"github.com/alejandrodnm/polyhedge/internal/domain"
	"github.com/alejandrodnm/polyhedge/internal/ports"
)

// MonitorConfig is the one-sided sweep policy.
type MonitorConfig struct {
	Interval time.Duration // sweep period
	Cooldown time.Duration // minimum time since the market's last trade
	Horizon  time.Duration // only act when expiry is closer than this
}

// DefaultMonitorConfig returns the default sweep policy.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{Interval: 3 * time.Second, Cooldown: 2 * time.Second, Horizon: 300 * time.Second}
}

type band struct {
	cap    float64
	offset float64
}

var hedgeBands = map[domain.HedgeMode]band{
	domain.HedgeModeSurvival: {cap: 0.95, offset: 0.10},
	domain.HedgeModePanic:    {cap: 0.85, offset: 0.05},
	domain.HedgeModeUrgent:   {cap: 0.75, offset: 0.03},
}

// HedgeBand returns the force-hedge price for the missing side given its
// best ask and the seconds to expiry. ok=false outside the urgent horizon.
func HedgeBand(secondsRemaining, ask float64) (price float64, mode domain.HedgeMode, ok bool) {
	if secondsRemaining <= 0 {
		return 0, "", false
	}
	mode = execution.ModeFor(secondsRemaining)
	b, ok := hedgeBands[mode]
	if !ok {
		return 0, mode, false
	}
	p := decimal.NewFromFloat(ask).Add(decimal.NewFromFloat(b.offset))
	p = decimal.Min(p, decimal.NewFromFloat(b.cap)).Round(2)
	return p.InexactFloat64(), mode, true
}

// orderSubmitter is the slice of the executor the engine drives.
type orderSubmitter interface {
	Submit(ctx context.Context, mc *domain.MarketContext, req domain.OrderRequest) execution.ExecResult
}

// Monitor is the independent safety sweep: any market holding exactly one
// side close to expiry is force-hedged, whatever the signal pipeline did.
type Monitor struct {
	cfg      MonitorConfig
	registry *Registry
	exec     orderSubmitter
	fallback ports.Escalator
	depth    ports.DepthSource
	metrics  ports.Metrics
	now      func() time.Time
}

// NewMonitor wires the sweep. fallback runs when the executor's own hedge
// path fails outright; depth fills in a missing ask. Both may be nil.
func NewMonitor(cfg MonitorConfig, registry *Registry, exec orderSubmitter, fallback ports.Escalator, depth ports.DepthSource) *Monitor {
	def := DefaultMonitorConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	if cfg.Horizon <= 0 {
		cfg.Horizon = def.Horizon
	}
	return &Monitor{
		cfg:      cfg,
		registry: registry,
		exec:     exec,
		fallback: fallback,
		depth:    depth,
		metrics:  ports.NopMetrics{},
		now:      time.Now,
	}
}

// Sweep checks every registered market once and returns how many hedges it
// sent. Markets are hedged concurrently: a market stuck in escalation holds
// only its own lock and never delays the others.
func (m *Monitor) Sweep(ctx context.Context) int {
	var (
		wg   sync.WaitGroup
		sent atomic.Int32
	)
	for _, mc := range m.registry.All() {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if m.hedgeOne(ctx, mc) {
				sent.Add(1)
			}
		}()
	}
	wg.Wait()
	return int(sent.Load())
}

func (m *Monitor) hedgeOne(ctx context.Context, mc *domain.MarketContext) bool {
	if !mc.TryAcquire() {
		return false
	}
	defer mc.Release()

	snap := mc.Snapshot()
	pos := snap.Position
	if !pos.OneSided() {
		return false
	}
	now := m.now()
	if !snap.LastTradeAt.IsZero() && now.Sub(snap.LastTradeAt) < m.cfg.Cooldown {
		return false
	}
	secs := snap.Market.SecondsRemaining(now)
	if secs <= 0 || secs >= m.cfg.Horizon.Seconds() {
		return false
	}

	heavy, _ := pos.HeavySide()
	missing := heavy.Opposite()
	ask := snap.Book.Ask(missing)
	if ask <= 0 && m.depth != nil {
		d, err := m.depth.GetOrderbookDepth(ctx, snap.Market.TokenID(missing))
		if err != nil {
			slog.Warn("monitor: depth lookup failed", "market", snap.Market.Slug, "err", err)
		} else if d.TopAsk > 0 {
			ask = d.TopAsk
			mc.UpdateQuote(missing, d.TopBid, d.TopAsk, now)
		}
	}
	if ask <= 0 {
		slog.Warn("monitor: no ask for missing side, retrying next sweep",
			"market", snap.Market.Slug, "missing", missing, "seconds_left", int(secs))
		return false
	}

	price, mode, ok := HedgeBand(secs, ask)
	if !ok {
		return false
	}
	shares := pos.Shares(heavy)
	slog.Warn("monitor: one-sided position, force hedging",
		"market", snap.Market.Slug, "mode", mode, "outcome", missing,
		"price", price, "shares", shares, "seconds_left", int(secs))

	res := m.exec.Submit(ctx, mc, domain.OrderRequest{
		Slug:      snap.Market.Slug,
		Outcome:   missing,
		Price:     price,
		Shares:    shares,
		Reasoning: fmt.Sprintf("monitor %s: %.0fs left, ask %.2f", mode, secs, ask),
		Intent:    domain.IntentHedge,
	})
	if res.Placed() {
		return true
	}
	if res.Status != execution.StatusFailed || m.fallback == nil {
		return false
	}
	if res.Escalation != nil && res.Escalation.OK {
		return true
	}

	esc := m.fallback.Escalate(ctx, domain.EscalationRequest{
		Slug:             snap.Market.Slug,
		Outcome:          missing,
		TargetShares:     shares,
		InitialPrice:     price,
		SecondsRemaining: secs,
		PairCostOther:    pos.AvgCost(heavy),
		Reason:           "monitor fallback",
	})
	m.metrics.ObserveEscalation("local", esc.OK)
	return esc.OK
}
