package execution

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/alejandrodnm/polyhedge/internal/domain"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

type fakeExchange struct {
	mu      sync.Mutex
	calls   []domain.PlaceOrderRequest
	respond func(req domain.PlaceOrderRequest) (domain.OrderResult, error)
}

func (f *fakeExchange) PlaceOrder(_ context.Context, req domain.PlaceOrderRequest) (domain.OrderResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	respond := f.respond
	f.mu.Unlock()
	if respond == nil {
		return domain.OrderResult{OrderID: "ex-" + req.TokenID, Status: "matched", FilledSize: req.Size, AvgPrice: req.Price}, nil
	}
	return respond(req)
}

func (f *fakeExchange) GetOrderbookDepth(context.Context, string) (domain.Depth, error) {
	return domain.Depth{}, errors.New("not implemented")
}

func (f *fakeExchange) GetBalance(context.Context) (float64, error) { return 0, nil }
func (f *fakeExchange) CancelAll(context.Context) error              { return nil }

func (f *fakeExchange) Calls() []domain.PlaceOrderRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.PlaceOrderRequest(nil), f.calls...)
}

type fakeMarkets map[string]*domain.MarketContext

func (m fakeMarkets) Get(slug string) (*domain.MarketContext, bool) {
	mc, ok := m[slug]
	return mc, ok
}

type memTelemetry struct {
	mu     sync.Mutex
	trades []domain.TradeRecord
	fills  []domain.FillRecord
	events []domain.Event
}

func (m *memTelemetry) RecordTrade(t domain.TradeRecord) {
	m.mu.Lock()
	m.trades = append(m.trades, t)
	m.mu.Unlock()
}

func (m *memTelemetry) RecordFill(f domain.FillRecord) {
	m.mu.Lock()
	m.fills = append(m.fills, f)
	m.mu.Unlock()
}

func (m *memTelemetry) RecordEvent(e domain.Event) {
	m.mu.Lock()
	m.events = append(m.events, e)
	m.mu.Unlock()
}

func (m *memTelemetry) RecordLifecycle(domain.LifecycleEvent) {}
func (m *memTelemetry) RecordSnapshot(domain.Snapshot)        {}

func testMarket(slug string) domain.Market {
	return domain.Market{
		Slug:        slug,
		Asset:       "btc",
		Timeframe:   domain.Timeframe15m,
		UpTokenID:   slug + "-up",
		DownTokenID: slug + "-down",
		StartTime:   t0.Add(-time.Minute),
		EndTime:     t0.Add(10 * time.Minute),
	}
}

type placerCall struct {
	Price      float64
	Shares     float64
	RetryIndex int
}

type fakePlacer struct {
	calls   []placerCall
	results []func() (HedgeFill, error)
}

func (p *fakePlacer) PlaceHedge(_ context.Context, _ string, _ domain.Outcome, price, shares float64, retryIndex int, _ string) (HedgeFill, error) {
	p.calls = append(p.calls, placerCall{Price: price, Shares: shares, RetryIndex: retryIndex})
	i := len(p.calls) - 1
	if i < len(p.results) {
		return p.results[i]()
	}
	return HedgeFill{}, errors.New("not enough balance")
}

type recordingSleep struct {
	total time.Duration
	calls int
}

func (r *recordingSleep) sleep(_ context.Context, d time.Duration) {
	r.total += d
	r.calls++
}

type fakeEscalator struct {
	reqs []domain.EscalationRequest
	res  domain.EscalationResult
}

func (f *fakeEscalator) Escalate(_ context.Context, req domain.EscalationRequest) domain.EscalationResult {
	f.reqs = append(f.reqs, req)
	return f.res
}
