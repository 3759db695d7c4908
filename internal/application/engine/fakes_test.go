package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/alejandrodnm/polyhedge/internal/application/execution"
	"github.com/alejandrodnm/polyhedge/internal/domain"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock(t time.Time) *clock { return &clock{t: t} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func noSleep(context.Context, time.Duration) {}

type fakeExchange struct {
	mu         sync.Mutex
	calls      []domain.PlaceOrderRequest
	respond    func(req domain.PlaceOrderRequest) (domain.OrderResult, error)
	depth      map[string]domain.Depth
	balance    float64
	balanceErr error
	cancelled  bool
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

func (f *fakeExchange) GetOrderbookDepth(_ context.Context, tokenID string) (domain.Depth, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.depth[tokenID]
	if !ok {
		return domain.Depth{}, errors.New("no book")
	}
	return d, nil
}

func (f *fakeExchange) GetBalance(context.Context) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balance, f.balanceErr
}

func (f *fakeExchange) CancelAll(context.Context) error {
	f.mu.Lock()
	f.cancelled = true
	f.mu.Unlock()
	return nil
}

func (f *fakeExchange) Cancelled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancelled
}

func (f *fakeExchange) Calls() []domain.PlaceOrderRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.PlaceOrderRequest(nil), f.calls...)
}

type fakeMarkets struct {
	mu      sync.Mutex
	markets []domain.Market
	err     error
}

func (f *fakeMarkets) ActiveMarkets(context.Context, []string, []domain.Timeframe) ([]domain.Market, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Market(nil), f.markets...), f.err
}

func (f *fakeMarkets) set(ms ...domain.Market) {
	f.mu.Lock()
	f.markets = ms
	f.mu.Unlock()
}

type fakeBooks struct {
	books map[string]domain.OrderBook
}

func (f *fakeBooks) FetchOrderBooks(_ context.Context, tokenIDs []string) (map[string]domain.OrderBook, error) {
	out := make(map[string]domain.OrderBook)
	for _, id := range tokenIDs {
		if b, ok := f.books[id]; ok {
			out[id] = b
		}
	}
	return out, nil
}

type fakeOracle struct {
	mu     sync.Mutex
	inputs []domain.OracleInput
	signal *domain.Signal
}

func (f *fakeOracle) Evaluate(in domain.OracleInput) *domain.Signal {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = append(f.inputs, in)
	return f.signal
}

func (f *fakeOracle) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inputs)
}

type fakeQueue struct {
	mu       sync.Mutex
	orders   []domain.PendingOrder
	resolved map[string]domain.PendingStatus
	details  map[string]string
}

func newFakeQueue(orders ...domain.PendingOrder) *fakeQueue {
	return &fakeQueue{orders: orders, resolved: map[string]domain.PendingStatus{}, details: map[string]string{}}
}

func (q *fakeQueue) Pending(_ context.Context, limit int) ([]domain.PendingOrder, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []domain.PendingOrder
	for _, o := range q.orders {
		if _, done := q.resolved[o.ID]; done {
			continue
		}
		out = append(out, o)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (q *fakeQueue) Depth(context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.orders) - len(q.resolved), nil
}

func (q *fakeQueue) Resolve(_ context.Context, id string, status domain.PendingStatus, detail string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.resolved[id] = status
	q.details[id] = detail
	return nil
}

type fakePositions struct {
	balances map[string]float64
}

func (f *fakePositions) TokenBalance(_ context.Context, tokenID string) (float64, error) {
	return f.balances[tokenID], nil
}

type memTelemetry struct {
	mu        sync.Mutex
	trades    []domain.TradeRecord
	events    []domain.Event
	lifecycle []domain.LifecycleEvent
	snapshots []domain.Snapshot
}

func (m *memTelemetry) RecordTrade(t domain.TradeRecord) {
	m.mu.Lock()
	m.trades = append(m.trades, t)
	m.mu.Unlock()
}

func (m *memTelemetry) RecordFill(domain.FillRecord) {}

func (m *memTelemetry) RecordEvent(e domain.Event) {
	m.mu.Lock()
	m.events = append(m.events, e)
	m.mu.Unlock()
}

func (m *memTelemetry) RecordLifecycle(l domain.LifecycleEvent) {
	m.mu.Lock()
	m.lifecycle = append(m.lifecycle, l)
	m.mu.Unlock()
}

func (m *memTelemetry) RecordSnapshot(s domain.Snapshot) {
	m.mu.Lock()
	m.snapshots = append(m.snapshots, s)
	m.mu.Unlock()
}

func (m *memTelemetry) stages(slug string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, l := range m.lifecycle {
		if l.Slug == slug {
			out = append(out, l.Stage)
		}
	}
	return out
}

type recordingNotifier struct {
	snaps    []domain.Snapshot
	degraded bool
}

func (n *recordingNotifier) NotifySnapshots(snaps []domain.Snapshot, _, _ float64, degraded bool) {
	n.snaps = snaps
	n.degraded = degraded
}

// upDownMarket ends `left` after t0 and started `age` before t0.
func upDownMarket(slug string, age, left time.Duration) domain.Market {
	return domain.Market{
		Slug:        slug,
		Asset:       "btc",
		Timeframe:   domain.Timeframe15m,
		UpTokenID:   slug + "-up",
		DownTokenID: slug + "-down",
		StartTime:   t0.Add(-age),
		EndTime:     t0.Add(left),
	}
}

type testEngine struct {
	*Engine
	clock     *clock
	exchange  *fakeExchange
	markets   *fakeMarkets
	oracle    *fakeOracle
	telemetry *memTelemetry
}

func newTestEngine(cfg Config, mutate func(*Deps)) *testEngine {
	te := &testEngine{
		clock:     newClock(t0),
		exchange:  &fakeExchange{balance: 100, depth: map[string]domain.Depth{}},
		markets:   &fakeMarkets{},
		oracle:    &fakeOracle{},
		telemetry: &memTelemetry{},
	}
	cfg.Throttle = throttleForTests()
	deps := Deps{
		Exchange:  te.exchange,
		Markets:   te.markets,
		Oracle:    te.oracle,
		Telemetry: te.telemetry,
		Now:       te.clock.Now,
		Sleep:     noSleep,
	}
	if mutate != nil {
		mutate(&deps)
	}
	te.Engine = New(cfg, deps)
	te.ledger.SetBalance(te.exchange.balance)
	return te
}

// register adds m directly with a fresh two-sided book.
func (te *testEngine) register(m domain.Market, upAsk, downAsk float64) *domain.MarketContext {
	mc := domain.NewMarketContext(m, te.clock.Now())
	te.registry.Register(mc)
	te.readiness.Observe(m.Slug)
	mc.UpdateQuote(domain.OutcomeUp, upAsk-0.01, upAsk, te.clock.Now())
	mc.UpdateQuote(domain.OutcomeDown, downAsk-0.01, downAsk, te.clock.Now())
	return mc
}

// throttleForTests never rate limits.
func throttleForTests() execution.ThrottleConfig {
	return execution.ThrottleConfig{PerMarketPerSec: 1000, PerMarketBurst: 1000, GlobalPerSec: 1000, GlobalBurst: 1000}
}
