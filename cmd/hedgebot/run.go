package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/alejandrodnm/polyhedge/config"
	"github.com/alejandrodnm/polyhedge/internal/adapters/metrics"
	"github.com/alejandrodnm/polyhedge/internal/adapters/notify"
	"github.com/alejandrodnm/polyhedge/internal/adapters/onchain"
	"github.com/alejandrodnm/polyhedge/internal/adapters/oracle"
	"github.com/alejandrodnm/polyhedge/internal/adapters/paper"
	"github.com/alejandrodnm/polyhedge/internal/adapters/polymarket"
	"github.com/alejandrodnm/polyhedge/internal/adapters/spot"
	"github.com/alejandrodnm/polyhedge/internal/adapters/storage"
	"github.com/alejandrodnm/polyhedge/internal/application/engine"
	"github.com/alejandrodnm/polyhedge/internal/domain"
	"github.com/alejandrodnm/polyhedge/internal/ports"
)

func runCmd(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	dryRun := fs.Bool("dry-run", false, "trade against a paper exchange fed by real books")
	table := fs.Bool("table", false, "print full snapshot table (default: compact 1-line)")
	cfg, err := loadConfig(fs, args)
	if err != nil {
		return err
	}
	if *dryRun {
		cfg.Live.DryRun = true
	}
	if *table {
		cfg.Live.Table = true
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := storage.NewSQLiteStorage(cfg.Storage.DSN)
	if err != nil {
		return fmt.Errorf("open storage %q: %w", cfg.Storage.DSN, err)
	}
	defer store.Close()
	sink := storage.NewAsyncSink(store, 0)
	defer func() {
		sink.Close()
		if n := sink.Dropped(); n > 0 {
			slog.Warn("telemetry records dropped", "count", n)
		}
	}()

	public := polymarket.NewClient(cfg.API.CLOBBase, cfg.API.GammaBase)

	var (
		exchange  ports.Exchange
		positions ports.PositionSource
	)
	if cfg.Live.DryRun {
		px := paper.NewExchange(cfg.Live.PaperBalance, public)
		exchange, positions = px, px
		slog.Info("=== DRY RUN: paper exchange ===", "balance", fmt.Sprintf("$%.2f", cfg.Live.PaperBalance))
	} else {
		tc, err := newTradingClient(ctx, cfg)
		if err != nil {
			return err
		}
		exchange, positions = tc, tc
	}

	m := metrics.New()
	deps := engine.Deps{
		Exchange:  exchange,
		Markets:   public,
		Books:     public,
		Stream:    polymarket.NewBookStream(cfg.API.WSURL),
		Positions: positions,
		Spot:      spot.NewBinanceProvider(cfg.API.SpotBase),
		Oracle:    oracle.NewPairArb(oracleConfig(cfg)),
		Queue:     store,
		Telemetry: sink,
		Notifier:  notify.NewConsole(cfg.Live.Table),
		Metrics:   m,
	}
	eng := engine.New(buildEngineConfig(cfg), deps)

	if cfg.Metrics.Addr != "" {
		srv := metrics.NewServer(cfg.Metrics.Addr, m, eng)
		go func() {
			if err := srv.Run(ctx); err != nil {
				slog.Error("metrics server failed", "addr", cfg.Metrics.Addr, "err", err)
			}
		}()
	}

	slog.Info("hedgebot starting",
		"assets", cfg.Markets.Assets,
		"timeframes", cfg.Markets.Timeframes,
		"dry_run", cfg.Live.DryRun,
		"order_type", cfg.Execution.OrderType,
		"metrics", cfg.Metrics.Addr,
	)
	if err := eng.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("engine: %w", err)
	}
	slog.Info("hedgebot stopped cleanly")
	return nil
}

// newTradingClient autentica contra el CLOB antes de arrancar el engine.
func newTradingClient(ctx context.Context, cfg *config.Config) (*polymarket.TradingClient, error) {
	auth, err := polymarket.NewAuthClient(cfg.API.CLOBBase, cfg.API.GammaBase, cfg.Live.PrivateKey)
	if err != nil {
		return nil, err
	}
	if err := auth.EnsureCreds(ctx); err != nil {
		return nil, fmt.Errorf("derive API credentials (check POLY_PRIVATE_KEY): %w", err)
	}
	slog.Info("live: authenticated with Polymarket CLOB", "address", auth.Address())

	if !cfg.Live.SkipApprovals {
		approver, err := onchain.NewApprover(cfg.API.RPCURL, cfg.Live.PrivateKey)
		if err != nil {
			return nil, err
		}
		sent, err := approver.EnsureApprovals(ctx)
		if err != nil {
			return nil, fmt.Errorf("on-chain approvals: %w", err)
		}
		slog.Info("live: approvals verified", "sent", len(sent))
	}
	return polymarket.NewTradingClient(auth, cfg.API.RPCURL)
}

func oracleConfig(cfg *config.Config) oracle.Config {
	oc := oracle.DefaultConfig()
	oc.TargetPairCost = cfg.Oracle.TargetPairCost
	oc.OrderShares = cfg.Oracle.OrderShares
	oc.MaxSharesPerSide = cfg.Oracle.MaxSharesPerSide
	oc.MinEntrySeconds = cfg.Oracle.MinEntrySeconds
	oc.OpenBelow = cfg.Oracle.OpenBelow
	return oc
}

func buildEngineConfig(cfg *config.Config) engine.Config {
	ms := func(n int) time.Duration { return time.Duration(n) * time.Millisecond }
	sec := func(n int) time.Duration { return time.Duration(n) * time.Second }

	ec := engine.DefaultConfig()
	ec.Assets = cfg.Markets.Assets
	ec.Timeframes = make([]domain.Timeframe, 0, len(cfg.Markets.Timeframes))
	for _, tf := range cfg.Markets.Timeframes {
		ec.Timeframes = append(ec.Timeframes, domain.Timeframe(tf))
	}

	ec.RefreshInterval = cfg.RefreshInterval()
	ec.DrainInterval = ms(cfg.Queue.DrainMs)
	ec.BalanceInterval = sec(cfg.Jobs.BalanceSeconds)
	ec.SyncInterval = sec(cfg.Jobs.SyncSeconds)
	ec.SpotInterval = sec(cfg.Jobs.SpotSeconds)
	ec.SnapshotInterval = sec(cfg.Jobs.SnapshotSeconds)
	ec.WorkingOrderTTL = sec(cfg.Execution.WorkingOrderTTLSeconds)
	ec.QueueBatch = cfg.Queue.Batch
	ec.MaxNotionalPerTrade = cfg.Execution.MaxNotionalPerTrade
	ec.MinLotShares = cfg.Execution.MinLotShares
	ec.CancelOnExit = cfg.Live.CancelOnExit

	ec.Executor.OrderType = domain.OrderType(cfg.Execution.OrderType)
	ec.Executor.HedgeOrderType = domain.OrderType(cfg.Execution.HedgeOrderType)
	ec.Executor.PairedMinLot = cfg.Execution.MinLotShares

	ec.Throttle.PerMarketPerSec = cfg.Throttle.PerMarketPerSec
	ec.Throttle.PerMarketBurst = cfg.Throttle.PerMarketBurst
	ec.Throttle.GlobalPerSec = cfg.Throttle.GlobalPerSec
	ec.Throttle.GlobalBurst = cfg.Throttle.GlobalBurst
	ec.Throttle.FailureBackoff = ms(cfg.Throttle.FailureBackoffMs)
	ec.Throttle.MaxBackoff = ms(cfg.Throttle.MaxBackoffMs)
	ec.Throttle.BreakerFailures = cfg.Throttle.BreakerFailures
	ec.Throttle.BreakerCooldown = sec(cfg.Throttle.BreakerCooldownSeconds)

	ec.Inventory.DegradedThreshold = cfg.Risk.DegradedThreshold
	ec.Inventory.QueueStressDepth = cfg.Risk.QueueStressDepth
	ec.Skew.MaxRatio = cfg.Risk.SkewMaxRatio
	ec.Skew.MinUnpaired = cfg.Risk.SkewMinUnpaired

	ec.Readiness.Freshness = ms(cfg.Readiness.FreshnessMs)
	ec.Readiness.Timeout = sec(cfg.Readiness.TimeoutSeconds)

	ec.Startup.Grace = sec(cfg.Startup.GraceSeconds)
	ec.Startup.MaxSpotDelta = cfg.Startup.MaxSpotDelta
	ec.Startup.MinCombinedAsk = cfg.Startup.MinCombinedAsk

	ec.Escalator.MaxRetries = cfg.Hedge.MaxRetries
	ec.Escalator.Delay = ms(cfg.Hedge.RetryDelayMs)
	ec.Escalator.MinShares = cfg.Hedge.MinShares
	ec.Ladder.Attempts = cfg.Hedge.LadderAttempts
	ec.Ladder.MinShares = cfg.Hedge.MinShares
	ec.Micro.MinLot = cfg.Hedge.MicroMinLot
	ec.Micro.ForceSeconds = cfg.Hedge.MicroForceSeconds
	ec.Micro.ExchangeMin = cfg.Execution.MinLotShares

	ec.Monitor.Interval = sec(cfg.Monitor.IntervalSeconds)
	ec.Monitor.Cooldown = ms(cfg.Monitor.CooldownMs)
	ec.Monitor.Horizon = sec(cfg.Monitor.HorizonSeconds)
	return ec
}
