package execution

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/alejandrodnm/polyhedge/internal/domain"
)

// Throttle reasons.
const (
	ThrottleCircuitOpen = "circuit_open"
	ThrottleBackoff     = "backoff"
	ThrottleGlobalRate  = "global_rate"
	ThrottleMarketRate  = "market_rate"
)

// ThrottleConfig sets the submission pacing policy.
type ThrottleConfig struct {
	PerMarketPerSec float64
	PerMarketBurst  int
	GlobalPerSec    float64
	GlobalBurst     int
	FailureBackoff  time.Duration // first backoff after a failure, doubles per consecutive failure
	MaxBackoff      time.Duration
	BreakerFailures int // consecutive failures (any market) that open the global breaker
	BreakerCooldown time.Duration
}

// DefaultThrottleConfig stays well under the CLOB's documented order limits.
func DefaultThrottleConfig() ThrottleConfig {
	return ThrottleConfig{
		PerMarketPerSec: 2,
		PerMarketBurst:  3,
		GlobalPerSec:    10,
		GlobalBurst:     20,
		FailureBackoff:  500 * time.Millisecond,
		MaxBackoff:      10 * time.Second,
		BreakerFailures: 8,
		BreakerCooldown: 30 * time.Second,
	}
}

// Decision is the answer of CanSubmit. A rejection is a soft block: the
// caller skips this cycle and tries again on its next natural trigger.
type Decision struct {
	Allowed bool
	Reason  string
	WaitMs  int64
}

type marketThrottle struct {
	limiter      *rate.Limiter
	failures     int
	backoffUntil time.Time
}

// Throttle paces order submission per market and globally with token buckets.
type Throttle struct {
	cfg ThrottleConfig
	now func() time.Time

	mu      sync.Mutex
	global  *rate.Limiter
	markets map[string]*marketThrottle
	breaker domain.CircuitBreaker
}

// NewThrottle creates a Throttle. now may be nil (time.Now).
func NewThrottle(cfg ThrottleConfig, now func() time.Time) *Throttle {
	def := DefaultThrottleConfig()
	if cfg.PerMarketPerSec <= 0 {
		cfg.PerMarketPerSec = def.PerMarketPerSec
	}
	if cfg.PerMarketBurst <= 0 {
		cfg.PerMarketBurst = def.PerMarketBurst
	}
	if cfg.GlobalPerSec <= 0 {
		cfg.GlobalPerSec = def.GlobalPerSec
	}
	if cfg.GlobalBurst <= 0 {
		cfg.GlobalBurst = def.GlobalBurst
	}
	if cfg.FailureBackoff <= 0 {
		cfg.FailureBackoff = def.FailureBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	if now == nil {
		now = time.Now
	}
	return &Throttle{
		cfg:     cfg,
		now:     now,
		global:  rate.NewLimiter(rate.Limit(cfg.GlobalPerSec), cfg.GlobalBurst),
		markets: make(map[string]*marketThrottle),
		breaker: domain.CircuitBreaker{
			MaxFailures:      cfg.BreakerFailures,
			CooldownDuration: cfg.BreakerCooldown,
		},
	}
}

func (t *Throttle) market(slug string) *marketThrottle {
	mt, ok := t.markets[slug]
	if !ok {
		mt = &marketThrottle{
			limiter: rate.NewLimiter(rate.Limit(t.cfg.PerMarketPerSec), t.cfg.PerMarketBurst),
		}
		t.markets[slug] = mt
	}
	return mt
}

// CanSubmit asks for permission to submit one order. When allowed, a token is
// consumed from both buckets; when not, nothing is consumed. Corrective
// intents skip the breaker and the failure backoff but not the rate limits.
func (t *Throttle) CanSubmit(slug string, intent domain.Intent) Decision {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	corrective := intent.Corrective()

	if !corrective && !t.breaker.IsOpen(now) {
		return Decision{Reason: ThrottleCircuitOpen, WaitMs: t.breaker.CooldownUntil.Sub(now).Milliseconds()}
	}

	mt := t.market(slug)
	if !corrective && now.Before(mt.backoffUntil) {
		return Decision{Reason: ThrottleBackoff, WaitMs: mt.backoffUntil.Sub(now).Milliseconds()}
	}

	g := t.global.ReserveN(now, 1)
	if !g.OK() {
		return Decision{Reason: ThrottleGlobalRate}
	}
	if d := g.DelayFrom(now); d > 0 {
		g.CancelAt(now)
		return Decision{Reason: ThrottleGlobalRate, WaitMs: ceilMs(d)}
	}

	m := mt.limiter.ReserveN(now, 1)
	if !m.OK() {
		g.CancelAt(now)
		return Decision{Reason: ThrottleMarketRate}
	}
	if d := m.DelayFrom(now); d > 0 {
		m.CancelAt(now)
		g.CancelAt(now)
		return Decision{Reason: ThrottleMarketRate, WaitMs: ceilMs(d)}
	}
	return Decision{Allowed: true}
}

// RecordSubmitted clears the failure backoff of a market.
func (t *Throttle) RecordSubmitted(slug string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	mt := t.market(slug)
	mt.failures = 0
	mt.backoffUntil = time.Time{}
	t.breaker.RecordSuccess()
}

// RecordFailed extends the market's backoff exponentially and feeds the breaker.
func (t *Throttle) RecordFailed(slug string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	mt := t.market(slug)
	mt.failures++
	backoff := t.cfg.FailureBackoff << (mt.failures - 1)
	if backoff > t.cfg.MaxBackoff || backoff <= 0 {
		backoff = t.cfg.MaxBackoff
	}
	mt.backoffUntil = now.Add(backoff)
	t.breaker.RecordFailure(now)
}

// Forget drops the per-market state of a deregistered market.
func (t *Throttle) Forget(slug string) {
	t.mu.Lock()
	delete(t.markets, slug)
	t.mu.Unlock()
}

func ceilMs(d time.Duration) int64 {
	ms := d.Milliseconds()
	if time.Duration(ms)*time.Millisecond < d {
		ms++
	}
	return ms
}
