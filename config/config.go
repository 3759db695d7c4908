package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config es la configuración completa del bot.
type Config struct {
	API       APIConfig       `yaml:"api"`
	Markets   MarketsConfig   `yaml:"markets"`
	Execution ExecutionConfig `yaml:"execution"`
	Throttle  ThrottleConfig  `yaml:"throttle"`
	Risk      RiskConfig      `yaml:"risk"`
	Readiness ReadinessConfig `yaml:"readiness"`
	Startup   StartupConfig   `yaml:"startup"`
	Hedge     HedgeConfig     `yaml:"hedge"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	Queue     QueueConfig     `yaml:"queue"`
	Jobs      JobsConfig      `yaml:"jobs"`
	Oracle    OracleConfig    `yaml:"oracle"`
	Storage   StorageConfig   `yaml:"storage"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Log       LogConfig       `yaml:"log"`
	Live      LiveConfig      `yaml:"live"`
}

// APIConfig contiene los endpoints externos.
type APIConfig struct {
	CLOBBase  string `yaml:"clob_base"`
	GammaBase string `yaml:"gamma_base"`
	WSURL     string `yaml:"ws_url"`
	RPCURL    string `yaml:"rpc_url"` // Polygon RPC para balances on-chain
	SpotBase  string `yaml:"spot_base"`
}

// MarketsConfig filtra qué mercados up/down se registran.
type MarketsConfig struct {
	Assets         []string `yaml:"assets"`     // whitelist: btc, eth, sol...
	Timeframes     []string `yaml:"timeframes"` // whitelist: 15m, 1h, 4h
	RefreshSeconds int      `yaml:"refresh_seconds"`
}

// ExecutionConfig controla el envío de órdenes.
type ExecutionConfig struct {
	OrderType              string  `yaml:"order_type"`       // GTC | FOK | FAK para ENTRY/ACCUMULATE
	HedgeOrderType         string  `yaml:"hedge_order_type"` // idem para HEDGE
	MaxNotionalPerTrade    float64 `yaml:"max_notional_per_trade"`
	MinLotShares           float64 `yaml:"min_lot_shares"`
	WorkingOrderTTLSeconds int     `yaml:"working_order_ttl_seconds"`
}

// ThrottleConfig es el rate limit propio del bot, no el del exchange.
type ThrottleConfig struct {
	PerMarketPerSec        float64 `yaml:"per_market_per_sec"`
	PerMarketBurst         int     `yaml:"per_market_burst"`
	GlobalPerSec           float64 `yaml:"global_per_sec"`
	GlobalBurst            int     `yaml:"global_burst"`
	FailureBackoffMs       int     `yaml:"failure_backoff_ms"`
	MaxBackoffMs           int     `yaml:"max_backoff_ms"`
	BreakerFailures        int     `yaml:"breaker_failures"`
	BreakerCooldownSeconds int     `yaml:"breaker_cooldown_seconds"`
}

// RiskConfig agrupa el gate de inventario y el skew stop.
type RiskConfig struct {
	DegradedThreshold float64 `yaml:"degraded_threshold"`
	QueueStressDepth  int     `yaml:"queue_stress_depth"` // 0 = desactivado
	SkewMaxRatio      float64 `yaml:"skew_max_ratio"`
	SkewMinUnpaired   float64 `yaml:"skew_min_unpaired"`
}

// ReadinessConfig controla cuándo un book es lo bastante fresco.
type ReadinessConfig struct {
	FreshnessMs    int `yaml:"freshness_ms"`
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// StartupConfig evita entrar en mercados a mitad de camino tras un reinicio.
type StartupConfig struct {
	GraceSeconds   int     `yaml:"grace_seconds"`
	MaxSpotDelta   float64 `yaml:"max_spot_delta"`
	MinCombinedAsk float64 `yaml:"min_combined_ask"`
}

// HedgeConfig controla el escalador local, el ladder y el micro-hedge.
type HedgeConfig struct {
	MaxRetries        int     `yaml:"max_retries"`
	RetryDelayMs      int     `yaml:"retry_delay_ms"`
	MinShares         float64 `yaml:"min_shares"`
	MicroMinLot       float64 `yaml:"micro_min_lot"`
	MicroForceSeconds float64 `yaml:"micro_force_seconds"`
	LadderAttempts    int     `yaml:"ladder_attempts"`
}

// MonitorConfig controla el barrido de posiciones a un solo lado.
type MonitorConfig struct {
	IntervalSeconds int `yaml:"interval_seconds"`
	CooldownMs      int `yaml:"cooldown_ms"`
	HorizonSeconds  int `yaml:"horizon_seconds"`
}

// QueueConfig controla el drenado de la cola de órdenes externas.
type QueueConfig struct {
	DrainMs int `yaml:"drain_ms"`
	Batch   int `yaml:"batch"`
}

// JobsConfig son los intervalos de los jobs periódicos restantes.
type JobsConfig struct {
	BalanceSeconds  int `yaml:"balance_seconds"`
	SyncSeconds     int `yaml:"sync_seconds"`
	SpotSeconds     int `yaml:"spot_seconds"`
	SnapshotSeconds int `yaml:"snapshot_seconds"`
}

// OracleConfig es la configuración del oracle de pair cost.
type OracleConfig struct {
	TargetPairCost   float64 `yaml:"target_pair_cost"`
	OrderShares      float64 `yaml:"order_shares"`
	MaxSharesPerSide float64 `yaml:"max_shares_per_side"`
	MinEntrySeconds  float64 `yaml:"min_entry_seconds"`
	OpenBelow        float64 `yaml:"open_below"` // 0 = sin aperturas a un solo lado
}

// StorageConfig controla dónde se persisten los datos.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // ruta al archivo SQLite, o ":memory:"
}

// MetricsConfig controla el servidor de métricas.
type MetricsConfig struct {
	Addr string `yaml:"addr"` // vacío = desactivado
}

// LogConfig controla el formato, nivel y rotación del logging.
type LogConfig struct {
	Level      string `yaml:"level"`  // debug | info | warn | error
	Format     string `yaml:"format"` // text | json
	File       string `yaml:"file"`   // vacío = solo stdout
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// LiveConfig controla el modo de ejecución.
type LiveConfig struct {
	DryRun        bool    `yaml:"dry_run"`
	CancelOnExit  bool    `yaml:"cancel_on_exit"`
	PaperBalance  float64 `yaml:"paper_balance"`  // saldo inicial en dry run
	Table         bool    `yaml:"table"`          // snapshots en tabla completa
	SkipApprovals bool    `yaml:"skip_approvals"` // no comprobar aprobaciones on-chain al arrancar
	PrivateKey    string  `yaml:"-"`              // solo desde POLY_PRIVATE_KEY
}

// Load carga la configuración desde el archivo YAML y el archivo .env si existe.
// Las variables de entorno sobreescriben los valores del YAML.
func Load(path string) (*Config, error) {
	// Cargar .env si existe (silencia error si no hay archivo)
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return &cfg, nil
}

// Validate rechaza combinaciones que el engine no puede usar.
func (c *Config) Validate() error {
	for _, ot := range []string{c.Execution.OrderType, c.Execution.HedgeOrderType} {
		switch ot {
		case "GTC", "FOK", "FAK":
		default:
			return fmt.Errorf("invalid order type %q (GTC|FOK|FAK)", ot)
		}
	}
	for _, tf := range c.Markets.Timeframes {
		switch tf {
		case "15m", "1h", "4h":
		default:
			return fmt.Errorf("invalid timeframe %q (15m|1h|4h)", tf)
		}
	}
	if len(c.Markets.Assets) == 0 {
		return fmt.Errorf("markets.assets is empty")
	}
	if c.Oracle.TargetPairCost >= 1 {
		return fmt.Errorf("oracle.target_pair_cost must be below 1.0, got %.4f", c.Oracle.TargetPairCost)
	}
	if !c.Live.DryRun && c.Live.PrivateKey == "" {
		return fmt.Errorf("POLY_PRIVATE_KEY is required unless live.dry_run is set")
	}
	// Sin RPC no hay balance on-chain y el engine no puede arrancar en vivo.
	if !c.Live.DryRun && c.API.RPCURL == "" {
		return fmt.Errorf("api.rpc_url (or POLYGON_RPC_URL) is required unless live.dry_run is set")
	}
	return nil
}

// RefreshInterval devuelve el intervalo de descubrimiento de mercados.
func (c *Config) RefreshInterval() time.Duration {
	return time.Duration(c.Markets.RefreshSeconds) * time.Second
}

// applyEnvOverrides sobreescribe valores con variables de entorno si están presentes.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("POLY_PRIVATE_KEY"); v != "" {
		cfg.Live.PrivateKey = v
	}
	if v := os.Getenv("POLYGON_RPC_URL"); v != "" {
		cfg.API.RPCURL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
	}
	if v := os.Getenv("HEDGEBOT_DRY_RUN"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Live.DryRun = b
		}
	}
}

// setDefaults asegura que los valores requeridos tengan valores sensatos.
func setDefaults(cfg *Config) {
	if cfg.API.CLOBBase == "" {
		cfg.API.CLOBBase = "https://clob.polymarket.com"
	}
	if cfg.API.GammaBase == "" {
		cfg.API.GammaBase = "https://gamma-api.polymarket.com"
	}
	if cfg.API.WSURL == "" {
		cfg.API.WSURL = "wss://ws-subscriptions-clob.polymarket.com/ws/market"
	}
	if cfg.API.SpotBase == "" {
		cfg.API.SpotBase = "https://api.binance.com"
	}

	if len(cfg.Markets.Assets) == 0 {
		cfg.Markets.Assets = []string{"btc", "eth"}
	}
	for i, a := range cfg.Markets.Assets {
		cfg.Markets.Assets[i] = strings.ToLower(strings.TrimSpace(a))
	}
	if len(cfg.Markets.Timeframes) == 0 {
		cfg.Markets.Timeframes = []string{"15m"}
	}
	setInt(&cfg.Markets.RefreshSeconds, 30)

	cfg.Execution.OrderType = strings.ToUpper(cfg.Execution.OrderType)
	cfg.Execution.HedgeOrderType = strings.ToUpper(cfg.Execution.HedgeOrderType)
	if cfg.Execution.OrderType == "" {
		cfg.Execution.OrderType = "GTC"
	}
	if cfg.Execution.HedgeOrderType == "" {
		cfg.Execution.HedgeOrderType = "FAK"
	}
	setFloat(&cfg.Execution.MinLotShares, 5)
	setInt(&cfg.Execution.WorkingOrderTTLSeconds, 60)

	setFloat(&cfg.Throttle.PerMarketPerSec, 2)
	setInt(&cfg.Throttle.PerMarketBurst, 3)
	setFloat(&cfg.Throttle.GlobalPerSec, 10)
	setInt(&cfg.Throttle.GlobalBurst, 20)
	setInt(&cfg.Throttle.FailureBackoffMs, 500)
	setInt(&cfg.Throttle.MaxBackoffMs, 10_000)
	setInt(&cfg.Throttle.BreakerFailures, 8)
	setInt(&cfg.Throttle.BreakerCooldownSeconds, 30)

	setFloat(&cfg.Risk.DegradedThreshold, 400)
	setFloat(&cfg.Risk.SkewMaxRatio, 0.6)
	setFloat(&cfg.Risk.SkewMinUnpaired, 10)

	setInt(&cfg.Readiness.FreshnessMs, 2000)
	setInt(&cfg.Readiness.TimeoutSeconds, 12)

	setInt(&cfg.Startup.GraceSeconds, 60)
	setFloat(&cfg.Startup.MaxSpotDelta, 0.025)
	setFloat(&cfg.Startup.MinCombinedAsk, 0.92)

	setInt(&cfg.Hedge.MaxRetries, 3)
	setInt(&cfg.Hedge.RetryDelayMs, 500)
	setFloat(&cfg.Hedge.MinShares, 5)
	setFloat(&cfg.Hedge.MicroMinLot, 5)
	setFloat(&cfg.Hedge.MicroForceSeconds, 120)
	setInt(&cfg.Hedge.LadderAttempts, 6)

	setInt(&cfg.Monitor.IntervalSeconds, 3)
	setInt(&cfg.Monitor.CooldownMs, 2000)
	setInt(&cfg.Monitor.HorizonSeconds, 300)

	setInt(&cfg.Queue.DrainMs, 1000)
	setInt(&cfg.Queue.Batch, 20)

	setInt(&cfg.Jobs.BalanceSeconds, 15)
	setInt(&cfg.Jobs.SyncSeconds, 30)
	setInt(&cfg.Jobs.SpotSeconds, 5)
	setInt(&cfg.Jobs.SnapshotSeconds, 10)

	setFloat(&cfg.Oracle.TargetPairCost, 0.97)
	setFloat(&cfg.Oracle.OrderShares, 10)
	setFloat(&cfg.Oracle.MaxSharesPerSide, 200)
	setFloat(&cfg.Oracle.MinEntrySeconds, 120)

	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "hedgebot.db"
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	setInt(&cfg.Log.MaxSizeMB, 50)
	setInt(&cfg.Log.MaxBackups, 5)
	setInt(&cfg.Log.MaxAgeDays, 14)

	setFloat(&cfg.Live.PaperBalance, 1000)
}

func setInt(v *int, def int) {
	if *v <= 0 {
		*v = def
	}
}

func setFloat(v *float64, def float64) {
	if *v <= 0 {
		*v = def
	}
}
