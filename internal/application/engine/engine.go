package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/alejandrodnm/polyhedge/internal/application/execution"
	"github.com/alejandrodnm/polyhedge/internal/application/risk"
	"github.com/alejandrodnm/polyhedge/internal/domain"
	"github.com/alejandrodnm/polyhedge/internal/ports"
)

// Config holds every policy knob of the engine and the components it builds.
type Config struct {
	Assets     []string
	Timeframes []domain.Timeframe

	RefreshInterval  time.Duration // active market discovery
	DrainInterval    time.Duration // pending order queue
	BalanceInterval  time.Duration // exchange balance + ledger expiry
	SyncInterval     time.Duration // on-chain position reconciliation
	SpotInterval     time.Duration
	SnapshotInterval time.Duration

	WorkingOrderTTL     time.Duration // reservations of resting orders are released after this
	SyncGrace           time.Duration // skip position sync this soon after a trade
	QueueBatch          int
	MaxNotionalPerTrade float64 // queued orders are resized to fit; 0 disables
	MinLotShares        float64
	MicroCooldown       time.Duration
	MicroMaxRetries     int
	MicroMaxPrice       float64
	CancelOnExit        bool

	Executor  execution.ExecutorConfig
	Throttle  execution.ThrottleConfig
	Escalator execution.EscalatorConfig
	Ladder    execution.LadderConfig
	Micro     execution.MicroHedgeConfig
	Inventory risk.InventoryConfig
	Skew      risk.SkewPolicy
	Readiness risk.ReadinessConfig
	Startup   risk.StartupConfig
	Monitor   MonitorConfig
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Assets:              []string{"btc", "eth"},
		Timeframes:          []domain.Timeframe{domain.Timeframe15m},
		RefreshInterval:     30 * time.Second,
		DrainInterval:       time.Second,
		BalanceInterval:     15 * time.Second,
		SyncInterval:        30 * time.Second,
		SpotInterval:        5 * time.Second,
		SnapshotInterval:    10 * time.Second,
		WorkingOrderTTL:     time.Minute,
		SyncGrace:           30 * time.Second,
		QueueBatch:          20,
		MinLotShares:        5,
		MicroCooldown:       3 * time.Second,
		MicroMaxRetries:     3,
		MicroMaxPrice:       0.95,
		Throttle:            execution.DefaultThrottleConfig(),
		Escalator:           execution.DefaultEscalatorConfig(),
		Ladder:              execution.DefaultLadderConfig(),
		Micro:               execution.DefaultMicroHedgeConfig(),
		Inventory:           risk.InventoryConfig{DegradedThreshold: risk.DefaultDegradedThreshold},
		Skew:                risk.DefaultSkewPolicy(),
		Readiness:           risk.DefaultReadinessConfig(),
		Startup:             risk.DefaultStartupConfig(),
		Monitor:             DefaultMonitorConfig(),
	}
}

// Deps are the adapters the engine talks to. Only Exchange and Markets are
// required; every other collaborator is optional.
type Deps struct {
	Exchange  ports.Exchange
	Markets   ports.MarketProvider
	Books     ports.BookProvider
	Stream    ports.BookStream
	Positions ports.PositionSource
	Spot      ports.SpotProvider
	Oracle    ports.SignalOracle
	Queue     ports.OrderQueue
	Telemetry ports.Telemetry
	Notifier  ports.Notifier
	Metrics   ports.Metrics

	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration)
}

// Engine is the per-market orchestrator: it keeps the market registry in
// sync with the exchange, turns book updates into gated evaluations, and
// runs the periodic safety jobs.
type Engine struct {
	cfg  Config
	deps Deps
	now  func() time.Time

	registry  *Registry
	ledger    *execution.Ledger
	throttle  *execution.Throttle
	micro     *execution.MicroHedge
	executor  *execution.Executor
	local     *execution.HedgeEscalator
	gate      *risk.InventoryGate
	readiness *risk.Readiness
	startup   *risk.StartupGrace
	monitor   *Monitor
	metrics   ports.Metrics

	inflight sync.WaitGroup
}

// New builds the engine and all of its core components.
func New(cfg Config, deps Deps) *Engine {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Metrics == nil {
		deps.Metrics = ports.NopMetrics{}
	}
	if cfg.QueueBatch <= 0 {
		cfg.QueueBatch = 20
	}
	if cfg.MinLotShares <= 0 {
		cfg.MinLotShares = 5
	}
	if cfg.MicroMaxRetries <= 0 {
		cfg.MicroMaxRetries = 3
	}
	if cfg.MicroMaxPrice <= 0 {
		cfg.MicroMaxPrice = 0.95
	}
	now := deps.Now

	e := &Engine{
		cfg:      cfg,
		deps:     deps,
		now:      now,
		registry: NewRegistry(),
		ledger:   execution.NewLedger(now),
		throttle: execution.NewThrottle(cfg.Throttle, now),
		micro:    execution.NewMicroHedge(cfg.Micro),
		gate:     risk.NewInventoryGate(cfg.Inventory, deps.Telemetry),
		startup:  risk.NewStartupGrace(cfg.Startup, now()),
		metrics:  deps.Metrics,
	}
	e.readiness = risk.NewReadiness(cfg.Readiness, deps.Exchange, deps.Telemetry).WithClock(now)

	if cfg.Executor.PairedMinLot <= 0 {
		cfg.Executor.PairedMinLot = cfg.MinLotShares
	}
	e.executor = execution.NewExecutor(cfg.Executor, execution.ExecutorDeps{
		Exchange:  deps.Exchange,
		Ledger:    e.ledger,
		Throttle:  e.throttle,
		Gate:      e.gate,
		Skew:      cfg.Skew,
		Micro:     e.micro,
		Markets:   e.registry,
		Telemetry: deps.Telemetry,
		Metrics:   deps.Metrics,
		Now:       now,
	})

	ladder := execution.NewLadderEscalator(cfg.Ladder, e.executor, deps.Telemetry)
	e.local = execution.NewHedgeEscalator(cfg.Escalator, e.executor, deps.Telemetry)
	if deps.Sleep != nil {
		ladder = ladder.WithClock(now, deps.Sleep)
		e.local = e.local.WithClock(now, deps.Sleep)
	}
	e.executor.SetEscalator(ladder)

	e.monitor = NewMonitor(cfg.Monitor, e.registry, e.executor, e.local, deps.Exchange)
	e.monitor.metrics = deps.Metrics
	e.monitor.now = now
	return e
}

// Registry exposes the market registry (ops endpoints, tests).
func (e *Engine) Registry() *Registry { return e.registry }

// Ledger exposes the reservation ledger.
func (e *Engine) Ledger() *execution.Ledger { return e.ledger }

// Degraded reports the global inventory degraded flag.
func (e *Engine) Degraded() bool { return e.gate.Degraded() }

// Run blocks until ctx is cancelled. The first balance fetch is the
// exchange reachability check: if it fails Run returns the error.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.refreshBalance(ctx); err != nil {
		return fmt.Errorf("engine.Run: initial balance: %w", err)
	}
	e.refreshMarkets(ctx)

	var wg sync.WaitGroup
	if e.deps.Stream != nil {
		updates := make(chan ports.QuoteUpdate, 256)
		wg.Add(2)
		go func() {
			defer wg.Done()
			if err := e.deps.Stream.Run(ctx, updates); err != nil && ctx.Err() == nil {
				slog.Error("engine: book stream stopped", "err", err)
			}
		}()
		go func() {
			defer wg.Done()
			e.consumeQuotes(ctx, updates)
		}()
	}

	for _, j := range e.jobs() {
		wg.Add(1)
		go func(j *job) {
			defer wg.Done()
			runEvery(ctx, j, &e.inflight)
		}(j)
	}

	slog.Info("engine: running",
		"markets", e.registry.Len(),
		"assets", e.cfg.Assets,
		"available", fmt.Sprintf("$%.2f", e.ledger.Available()))

	<-ctx.Done()
	wg.Wait()
	e.inflight.Wait()
	e.shutdown()
	return nil
}

func (e *Engine) jobs() []*job {
	jobs := []*job{
		{name: "registry", interval: e.cfg.RefreshInterval, run: e.refreshMarkets},
		{name: "monitor", interval: e.monitor.cfg.Interval, run: func(ctx context.Context) { e.monitor.Sweep(ctx) }},
		{name: "balance", interval: e.cfg.BalanceInterval, run: func(ctx context.Context) {
			if err := e.refreshBalance(ctx); err != nil {
				slog.Warn("engine: balance refresh failed", "err", err)
			}
		}},
		{name: "snapshot", interval: e.cfg.SnapshotInterval, run: e.snapshot},
	}
	if e.deps.Queue != nil {
		jobs = append(jobs, &job{name: "queue", interval: e.cfg.DrainInterval, run: e.drainQueue})
	}
	if e.deps.Positions != nil {
		jobs = append(jobs, &job{name: "position_sync", interval: e.cfg.SyncInterval, run: e.syncPositions})
	}
	if e.deps.Spot != nil {
		jobs = append(jobs, &job{name: "spot", interval: e.cfg.SpotInterval, run: e.refreshSpot})
	}
	return jobs
}

func (e *Engine) shutdown() {
	if !e.cfg.CancelOnExit {
		slog.Info("engine: stopped")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.deps.Exchange.CancelAll(ctx); err != nil {
		slog.Warn("engine: cancel all on exit failed", "err", err)
		return
	}
	slog.Info("engine: stopped, open orders cancelled")
}

func (e *Engine) consumeQuotes(ctx context.Context, updates <-chan ports.QuoteUpdate) {
	for {
		select {
		case <-ctx.Done():
			return
		case u := <-updates:
			e.onQuote(ctx, u)
		}
	}
}

// onQuote writes a streamed quote into its market and schedules an
// evaluation unless one is already running for that market.
func (e *Engine) onQuote(ctx context.Context, u ports.QuoteUpdate) {
	mc, o, ok := e.registry.Lookup(u.TokenID)
	if !ok {
		return
	}
	mc.UpdateQuote(o, u.BestBid, u.BestAsk, e.now())
	if mc.Busy() {
		return
	}
	e.inflight.Add(1)
	go func() {
		defer e.inflight.Done()
		e.evaluate(ctx, mc)
	}()
}

// refreshBalance pulls the exchange balance into the ledger and releases
// reservations of resting orders older than the working-order TTL.
func (e *Engine) refreshBalance(ctx context.Context) error {
	bal, err := e.deps.Exchange.GetBalance(ctx)
	if err != nil {
		return err
	}
	e.ledger.SetBalance(bal)
	if e.cfg.WorkingOrderTTL > 0 {
		for _, r := range e.ledger.Expire(e.cfg.WorkingOrderTTL) {
			slog.Debug("engine: working reservation expired",
				"market", r.Slug, "id", r.ID, "notional", fmt.Sprintf("$%.2f", r.Notional))
		}
	}
	e.metrics.SetBalance(e.ledger.Available(), e.ledger.Reserved())
	return nil
}

// refreshMarkets reconciles the registry with the exchange's active set.
func (e *Engine) refreshMarkets(ctx context.Context) {
	markets, err := e.deps.Markets.ActiveMarkets(ctx, e.cfg.Assets, e.cfg.Timeframes)
	if err != nil {
		slog.Warn("engine: market discovery failed", "err", err)
		return
	}
	now := e.now()
	active := make(map[string]bool, len(markets))
	var added []*domain.MarketContext
	for _, m := range markets {
		if !m.Active(now) {
			continue
		}
		active[m.Slug] = true
		if _, ok := e.registry.Get(m.Slug); ok {
			continue
		}
		mc := domain.NewMarketContext(m, now)
		if !e.registry.Register(mc) {
			continue
		}
		e.readiness.Observe(m.Slug)
		added = append(added, mc)
	}

	for _, mc := range e.registry.All() {
		if !active[mc.Market.Slug] {
			e.deregister(mc.Market.Slug, "left active set")
		}
	}

	if len(added) > 0 {
		e.seedMarkets(ctx, added)
	}
	if e.deps.Stream != nil {
		e.deps.Stream.SetTokens(e.registry.Tokens())
	}
}

// seedMarkets fetches the initial books and strikes of newly registered markets.
func (e *Engine) seedMarkets(ctx context.Context, added []*domain.MarketContext) {
	now := e.now()
	if e.deps.Books != nil {
		tokens := make([]string, 0, 2*len(added))
		for _, mc := range added {
			tokens = append(tokens, mc.Market.UpTokenID, mc.Market.DownTokenID)
		}
		books, err := e.deps.Books.FetchOrderBooks(ctx, tokens)
		if err != nil {
			slog.Warn("engine: initial book snapshot failed", "err", err)
		}
		for _, mc := range added {
			for _, o := range []domain.Outcome{domain.OutcomeUp, domain.OutcomeDown} {
				if ob, ok := books[mc.Market.TokenID(o)]; ok {
					mc.UpdateQuote(o, ob.BestBid(), ob.BestAsk(), now)
				}
			}
		}
	}

	spots := make(map[string]float64)
	for _, mc := range added {
		m := mc.Market
		if e.deps.Spot != nil && e.startup.Fresh(m) {
			spot, ok := spots[m.Asset]
			if !ok {
				var err error
				spot, err = e.deps.Spot.Spot(ctx, m.Asset)
				if err != nil {
					slog.Warn("engine: spot lookup failed", "asset", m.Asset, "err", err)
				}
				spots[m.Asset] = spot
			}
			if spot > 0 {
				mc.SetSpot(spot)
				mc.SetStrike(spot)
			}
		}
		slog.Info("engine: market registered",
			"market", m.Slug, "ends_in", m.EndTime.Sub(now).Round(time.Second), "fresh", e.startup.Fresh(m))
		e.lifecycle(m.Slug, "registered", fmt.Sprintf("%s %s ends %s", m.Asset, m.Timeframe, m.EndTime.Format(time.RFC3339)))
	}
}

// deregister drops a market and every per-market state attached to it.
func (e *Engine) deregister(slug, reason string) {
	mc, ok := e.registry.Deregister(slug)
	if !ok {
		return
	}
	e.micro.Reset(slug)
	e.readiness.Forget(slug)
	e.gate.Forget(slug)
	e.throttle.Forget(slug)
	released := e.ledger.ReleaseMarket(slug)

	pos := mc.Position()
	if !pos.Flat() {
		slog.Warn("engine: market deregistered with open position",
			"market", slug, "up", pos.UpShares, "down", pos.DownShares, "unpaired", pos.Unpaired())
	} else {
		slog.Info("engine: market deregistered", "market", slug, "reason", reason)
	}
	e.lifecycle(slug, "deregistered", fmt.Sprintf("%s, %d reservations released", reason, released))
}

// refreshSpot caches the latest spot price on every registered market.
func (e *Engine) refreshSpot(ctx context.Context) {
	spots := make(map[string]float64)
	for _, mc := range e.registry.All() {
		asset := mc.Market.Asset
		spot, ok := spots[asset]
		if !ok {
			var err error
			spot, err = e.deps.Spot.Spot(ctx, asset)
			if err != nil {
				slog.Debug("engine: spot refresh failed", "asset", asset, "err", err)
			}
			spots[asset] = spot
		}
		if spot > 0 {
			mc.SetSpot(spot)
		}
	}
}

// syncPositions reconciles positions with on-chain token balances. Markets
// that traded recently are skipped: settlement lags the fill.
func (e *Engine) syncPositions(ctx context.Context) {
	for _, mc := range e.registry.All() {
		if ctx.Err() != nil {
			return
		}
		snap := mc.Snapshot()
		if !snap.LastTradeAt.IsZero() && e.now().Sub(snap.LastTradeAt) < e.cfg.SyncGrace {
			continue
		}
		up, err := e.deps.Positions.TokenBalance(ctx, mc.Market.UpTokenID)
		if err != nil {
			slog.Debug("engine: position sync failed", "market", mc.Market.Slug, "err", err)
			continue
		}
		down, err := e.deps.Positions.TokenBalance(ctx, mc.Market.DownTokenID)
		if err != nil {
			slog.Debug("engine: position sync failed", "market", mc.Market.Slug, "err", err)
			continue
		}
		pos := snap.Position
		if math.Abs(pos.UpShares-up) <= domain.ShareEpsilon && math.Abs(pos.DownShares-down) <= domain.ShareEpsilon {
			continue
		}
		if !mc.TryAcquire() {
			continue
		}
		_, after := mc.SyncShares(up, down, e.now())
		mc.Release()
		slog.Info("engine: position synced from chain",
			"market", mc.Market.Slug,
			"up", fmt.Sprintf("%.2f→%.2f", pos.UpShares, after.UpShares),
			"down", fmt.Sprintf("%.2f→%.2f", pos.DownShares, after.DownShares))
	}
}

// Snapshots returns one row per registered market.
func (e *Engine) Snapshots() []domain.Snapshot {
	now := e.now()
	all := e.registry.All()
	out := make([]domain.Snapshot, 0, len(all))
	for _, mc := range all {
		out = append(out, domain.NewSnapshot(mc.Snapshot(), string(e.readiness.State(mc.Market.Slug)), now))
	}
	return out
}

// snapshot persists market rows, updates gauges and prints the console table.
func (e *Engine) snapshot(_ context.Context) {
	snaps := e.Snapshots()
	if e.deps.Telemetry != nil {
		for _, s := range snaps {
			e.deps.Telemetry.RecordSnapshot(s)
		}
	}
	available, reserved := e.ledger.Available(), e.ledger.Reserved()
	degraded := e.gate.Degraded()
	e.metrics.SetBalance(available, reserved)
	e.metrics.SetDegraded(degraded)
	e.metrics.SetMarkets(e.readiness.Counts())
	if e.deps.Notifier != nil {
		e.deps.Notifier.NotifySnapshots(snaps, available, reserved, degraded)
	}
}

func (e *Engine) lifecycle(slug, stage, detail string) {
	if e.deps.Telemetry == nil {
		return
	}
	e.deps.Telemetry.RecordLifecycle(domain.LifecycleEvent{Slug: slug, Stage: stage, Detail: detail, Timestamp: e.now()})
}
