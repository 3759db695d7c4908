package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/polyhedge/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("POLY_PRIVATE_KEY", "")
	cfg, err := config.Load(writeConfig(t, "live:\n  dry_run: true\n"))
	require.NoError(t, err)

	assert.Equal(t, []string{"btc", "eth"}, cfg.Markets.Assets)
	assert.Equal(t, []string{"15m"}, cfg.Markets.Timeframes)
	assert.Equal(t, "GTC", cfg.Execution.OrderType)
	assert.Equal(t, "FAK", cfg.Execution.HedgeOrderType)
	assert.InDelta(t, 400.0, cfg.Risk.DegradedThreshold, 1e-9)
	assert.InDelta(t, 0.6, cfg.Risk.SkewMaxRatio, 1e-9)
	assert.Equal(t, 2000, cfg.Readiness.FreshnessMs)
	assert.Equal(t, 12, cfg.Readiness.TimeoutSeconds)
	assert.Equal(t, 60, cfg.Startup.GraceSeconds)
	assert.InDelta(t, 0.92, cfg.Startup.MinCombinedAsk, 1e-9)
	assert.Equal(t, 3, cfg.Hedge.MaxRetries)
	assert.Equal(t, 6, cfg.Hedge.LadderAttempts)
	assert.Equal(t, 300, cfg.Monitor.HorizonSeconds)
	assert.Equal(t, 20, cfg.Queue.Batch)
	assert.Equal(t, "hedgebot.db", cfg.Storage.DSN)
	assert.Equal(t, "https://clob.polymarket.com", cfg.API.CLOBBase)
}

func TestLoad_YAMLAndEnv(t *testing.T) {
	t.Setenv("POLY_PRIVATE_KEY", "0xabc")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("METRICS_ADDR", ":9100")
	t.Setenv("POLYGON_RPC_URL", "https://rpc.example")

	cfg, err := config.Load(writeConfig(t, `
markets:
  assets: [" BTC ", SOL]
  timeframes: [15m, 1h]
execution:
  order_type: fok
  max_notional_per_trade: 25
risk:
  queue_stress_depth: 50
log:
  level: warn
`))
	require.NoError(t, err)

	assert.Equal(t, []string{"btc", "sol"}, cfg.Markets.Assets)
	assert.Equal(t, []string{"15m", "1h"}, cfg.Markets.Timeframes)
	assert.Equal(t, "FOK", cfg.Execution.OrderType)
	assert.InDelta(t, 25.0, cfg.Execution.MaxNotionalPerTrade, 1e-9)
	assert.Equal(t, 50, cfg.Risk.QueueStressDepth)
	assert.Equal(t, "debug", cfg.Log.Level, "env wins over YAML")
	assert.Equal(t, ":9100", cfg.Metrics.Addr)
	assert.Equal(t, "https://rpc.example", cfg.API.RPCURL)
	assert.Equal(t, "0xabc", cfg.Live.PrivateKey)
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("POLY_PRIVATE_KEY", "")
	tests := map[string]string{
		"missing key outside dry run": "markets:\n  assets: [btc]\n",
		"bad order type":              "live:\n  dry_run: true\nexecution:\n  order_type: IOC\n",
		"bad timeframe":               "live:\n  dry_run: true\nmarkets:\n  timeframes: [5m]\n",
		"pair cost above one":         "live:\n  dry_run: true\noracle:\n  target_pair_cost: 1.02\n",
		"broken yaml":                 "markets: [",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := config.Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
