package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/alejandrodnm/polyhedge/config"
	"github.com/alejandrodnm/polyhedge/internal/domain"
)

func TestBuildEngineConfig(t *testing.T) {
	cfg := &config.Config{}
	cfg.Markets = config.MarketsConfig{Assets: []string{"btc", "sol"}, Timeframes: []string{"15m", "1h"}, RefreshSeconds: 45}
	cfg.Execution = config.ExecutionConfig{OrderType: "FOK", HedgeOrderType: "FAK", MinLotShares: 5, WorkingOrderTTLSeconds: 90, MaxNotionalPerTrade: 20}
	cfg.Throttle = config.ThrottleConfig{PerMarketPerSec: 1, PerMarketBurst: 2, GlobalPerSec: 5, GlobalBurst: 10, FailureBackoffMs: 250, MaxBackoffMs: 4000, BreakerFailures: 4, BreakerCooldownSeconds: 15}
	cfg.Risk = config.RiskConfig{DegradedThreshold: 300, QueueStressDepth: 40, SkewMaxRatio: 0.5, SkewMinUnpaired: 8}
	cfg.Readiness = config.ReadinessConfig{FreshnessMs: 1500, TimeoutSeconds: 10}
	cfg.Startup = config.StartupConfig{GraceSeconds: 30, MaxSpotDelta: 0.02, MinCombinedAsk: 0.9}
	cfg.Hedge = config.HedgeConfig{MaxRetries: 2, RetryDelayMs: 300, MinShares: 5, MicroMinLot: 6, MicroForceSeconds: 90, LadderAttempts: 4}
	cfg.Monitor = config.MonitorConfig{IntervalSeconds: 2, CooldownMs: 1500, HorizonSeconds: 240}
	cfg.Queue = config.QueueConfig{DrainMs: 750, Batch: 10}
	cfg.Jobs = config.JobsConfig{BalanceSeconds: 20, SyncSeconds: 40, SpotSeconds: 3, SnapshotSeconds: 5}

	ec := buildEngineConfig(cfg)

	assert.Equal(t, []domain.Timeframe{domain.Timeframe15m, domain.Timeframe1h}, ec.Timeframes)
	assert.Equal(t, 45*time.Second, ec.RefreshInterval)
	assert.Equal(t, 750*time.Millisecond, ec.DrainInterval)
	assert.Equal(t, 90*time.Second, ec.WorkingOrderTTL)
	assert.Equal(t, domain.OrderTypeFOK, ec.Executor.OrderType)
	assert.Equal(t, domain.OrderTypeFAK, ec.Executor.HedgeOrderType)
	assert.Equal(t, 250*time.Millisecond, ec.Throttle.FailureBackoff)
	assert.Equal(t, 15*time.Second, ec.Throttle.BreakerCooldown)
	assert.Equal(t, 40, ec.Inventory.QueueStressDepth)
	assert.Equal(t, 1500*time.Millisecond, ec.Readiness.Freshness)
	assert.Equal(t, 30*time.Second, ec.Startup.Grace)
	assert.Equal(t, 300*time.Millisecond, ec.Escalator.Delay)
	assert.Equal(t, 4, ec.Ladder.Attempts)
	assert.InDelta(t, 6.0, ec.Micro.MinLot, 1e-9)
	assert.Equal(t, 240*time.Second, ec.Monitor.Horizon)
	assert.Equal(t, 10, ec.QueueBatch)
	// Not configurable: kept from the engine defaults.
	assert.Equal(t, 30*time.Second, ec.SyncGrace)
}
