package execution

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/alejandrodnm/polyhedge/internal/domain"
)

func TestThrottle_PerMarketBurst(t *testing.T) {
	now := t0
	th := NewThrottle(ThrottleConfig{PerMarketPerSec: 1, PerMarketBurst: 2, GlobalPerSec: 100, GlobalBurst: 100}, func() time.Time { return now })

	assert.True(t, th.CanSubmit("m1", domain.IntentEntry).Allowed)
	assert.True(t, th.CanSubmit("m1", domain.IntentEntry).Allowed)

	d := th.CanSubmit("m1", domain.IntentEntry)
	assert.False(t, d.Allowed)
	assert.Equal(t, ThrottleMarketRate, d.Reason)
	assert.Equal(t, int64(1000), d.WaitMs)

	// Other markets have their own bucket.
	assert.True(t, th.CanSubmit("m2", domain.IntentEntry).Allowed)

	now = now.Add(time.Second)
	assert.True(t, th.CanSubmit("m1", domain.IntentEntry).Allowed)
}

func TestThrottle_GlobalLimitAcrossMarkets(t *testing.T) {
	th := NewThrottle(ThrottleConfig{PerMarketPerSec: 10, PerMarketBurst: 10, GlobalPerSec: 2, GlobalBurst: 2}, fixedClock(t0))

	assert.True(t, th.CanSubmit("a", domain.IntentEntry).Allowed)
	assert.True(t, th.CanSubmit("b", domain.IntentEntry).Allowed)

	d := th.CanSubmit("c", domain.IntentEntry)
	assert.False(t, d.Allowed)
	assert.Equal(t, ThrottleGlobalRate, d.Reason)
	assert.Equal(t, int64(500), d.WaitMs)
}

func TestThrottle_RejectionConsumesNothing(t *testing.T) {
	th := NewThrottle(ThrottleConfig{PerMarketPerSec: 1, PerMarketBurst: 1, GlobalPerSec: 1, GlobalBurst: 2}, fixedClock(t0))

	assert.True(t, th.CanSubmit("a", domain.IntentEntry).Allowed)
	assert.False(t, th.CanSubmit("a", domain.IntentEntry).Allowed) // market bucket empty, global token returned
	assert.True(t, th.CanSubmit("b", domain.IntentEntry).Allowed)
}

func TestThrottle_FailureBackoffDoublesAndResets(t *testing.T) {
	now := t0
	th := NewThrottle(ThrottleConfig{FailureBackoff: 500 * time.Millisecond, MaxBackoff: 10 * time.Second}, func() time.Time { return now })

	th.RecordFailed("m1")
	d := th.CanSubmit("m1", domain.IntentEntry)
	assert.False(t, d.Allowed)
	assert.Equal(t, ThrottleBackoff, d.Reason)
	assert.Equal(t, int64(500), d.WaitMs)

	th.RecordFailed("m1")
	assert.Equal(t, int64(1000), th.CanSubmit("m1", domain.IntentEntry).WaitMs)

	th.RecordSubmitted("m1")
	assert.True(t, th.CanSubmit("m1", domain.IntentEntry).Allowed)
}

func TestThrottle_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	now := t0
	th := NewThrottle(ThrottleConfig{BreakerFailures: 3, BreakerCooldown: 30 * time.Second}, func() time.Time { return now })

	th.RecordFailed("a")
	th.RecordFailed("b")
	th.RecordFailed("c")

	d := th.CanSubmit("d", domain.IntentEntry)
	assert.False(t, d.Allowed)
	assert.Equal(t, ThrottleCircuitOpen, d.Reason)

	now = now.Add(31 * time.Second)
	assert.True(t, th.CanSubmit("d", domain.IntentEntry).Allowed)
}

func TestThrottle_HedgesSkipBackoffAndBreaker(t *testing.T) {
	th := NewThrottle(ThrottleConfig{BreakerFailures: 2, BreakerCooldown: time.Minute}, fixedClock(t0))
	th.RecordFailed("m1")
	th.RecordFailed("m1")

	assert.False(t, th.CanSubmit("m1", domain.IntentEntry).Allowed)
	assert.True(t, th.CanSubmit("m1", domain.IntentHedge).Allowed)
}

func TestThrottle_HedgesStillRateLimited(t *testing.T) {
	th := NewThrottle(ThrottleConfig{PerMarketPerSec: 1, PerMarketBurst: 1, GlobalPerSec: 100, GlobalBurst: 100}, fixedClock(t0))

	assert.True(t, th.CanSubmit("m1", domain.IntentHedge).Allowed)
	d := th.CanSubmit("m1", domain.IntentHedge)
	assert.False(t, d.Allowed)
	assert.Equal(t, ThrottleMarketRate, d.Reason)
}
