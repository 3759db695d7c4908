package execution

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/polyhedge/internal/domain"
)

func TestLedger_ReserveReleaseNetsToZero(t *testing.T) {
	l := NewLedger(fixedClock(t0))
	l.SetBalance(100)

	l.Reserve("a", "m1", 12.5, domain.OutcomeUp)
	assert.InDelta(t, 87.5, l.Available(), 1e-9)
	l.Release("a")

	assert.InDelta(t, 100, l.Available(), 1e-9)
	assert.Equal(t, 0, l.Len())
}

func TestLedger_Conservation(t *testing.T) {
	l := NewLedger(fixedClock(t0))
	l.SetBalance(50)

	l.Reserve("a", "m1", 5, domain.OutcomeUp)
	l.Reserve("b", "m1", 3, domain.OutcomeDown)
	l.Reserve("c", "m2", 7, domain.OutcomeUp)
	l.Release("b")
	l.Release("b") // idempotent
	l.Release("unknown")
	l.OnFill("a", 2)

	// live: a=3 (partially spent), c=7
	assert.InDelta(t, 10, l.Reserved(), 1e-9)
	assert.InDelta(t, 3, l.ReservedFor("m1"), 1e-9)
	bal, _ := l.Balance()
	assert.InDelta(t, 48, bal, 1e-9)
	assert.InDelta(t, 38, l.Available(), 1e-9)
}

func TestLedger_OnFillLeavesAvailableUnchanged(t *testing.T) {
	l := NewLedger(fixedClock(t0))
	l.SetBalance(20)
	l.Reserve("a", "m1", 8, domain.OutcomeUp)
	before := l.Available()

	l.OnFill("a", 8)

	assert.InDelta(t, before, l.Available(), 1e-9)
	assert.Equal(t, 0, l.Len())
}

func TestLedger_ReserveIfAffordable(t *testing.T) {
	l := NewLedger(fixedClock(t0))
	l.SetBalance(10)

	assert.True(t, l.ReserveIfAffordable("a", "m1", 6, domain.OutcomeUp))
	assert.False(t, l.ReserveIfAffordable("b", "m2", 6, domain.OutcomeUp))
	assert.True(t, l.ReserveIfAffordable("c", "m2", 4, domain.OutcomeUp))
	assert.InDelta(t, 0, l.Available(), 1e-9)
}

func TestLedger_ReserveIfAffordableConcurrent(t *testing.T) {
	l := NewLedger(fixedClock(t0))
	l.SetBalance(100)

	var wg sync.WaitGroup
	var mu sync.Mutex
	won := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if l.ReserveIfAffordable(fmt.Sprintf("id-%d", i), fmt.Sprintf("m%d", i), 8, domain.OutcomeUp) {
				mu.Lock()
				won++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 12, won)
	assert.GreaterOrEqual(t, l.Available(), 0.0)
}

func TestLedger_Rekey(t *testing.T) {
	l := NewLedger(fixedClock(t0))
	l.SetBalance(30)
	l.Reserve("tmp", "m1", 10, domain.OutcomeUp)

	l.Rekey("tmp", "ex-1", 6)
	assert.InDelta(t, 6, l.Reserved(), 1e-9)

	l.Release("tmp")
	assert.InDelta(t, 6, l.Reserved(), 1e-9)
	l.Release("ex-1")
	assert.Equal(t, 0, l.Len())

	l.Reserve("tmp2", "m1", 10, domain.OutcomeUp)
	l.Rekey("tmp2", "ex-2", 0)
	assert.Equal(t, 0, l.Len())
}

func TestLedger_ExpireAndReleaseMarket(t *testing.T) {
	now := t0
	l := NewLedger(func() time.Time { return now })
	l.SetBalance(100)
	l.Reserve("old", "m1", 5, domain.OutcomeUp)
	now = now.Add(2 * time.Minute)
	l.Reserve("new", "m1", 5, domain.OutcomeUp)
	l.Reserve("other", "m2", 5, domain.OutcomeUp)

	expired := l.Expire(time.Minute)
	require.Len(t, expired, 1)
	assert.Equal(t, "old", expired[0].ID)

	assert.Equal(t, 1, l.ReleaseMarket("m1"))
	assert.InDelta(t, 5, l.Reserved(), 1e-9)
}
