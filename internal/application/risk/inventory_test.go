package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/polyhedge/internal/domain"
)

func TestScore(t *testing.T) {
	assert.Equal(t, 0.0, Score(0, 100))
	assert.Equal(t, 50.0, Score(50, 0))
	assert.Equal(t, 100.0, Score(50, 60))
	assert.Equal(t, 50.0, Score(50, -10))

	// Monotonic in both arguments.
	assert.Greater(t, Score(60, 30), Score(50, 30))
	assert.Greater(t, Score(50, 31), Score(50, 30))
}

func TestInventoryGate_DegradedBlocksEntriesOnly(t *testing.T) {
	tel := &memTelemetry{}
	g := NewInventoryGate(InventoryConfig{}, tel)

	g.Observe("m1", 100, 60)
	assert.False(t, g.Degraded())

	score := g.Observe("m2", 250, 60)
	assert.Equal(t, 500.0, score)
	assert.True(t, g.Degraded())

	for _, intent := range []domain.Intent{domain.IntentEntry, domain.IntentAccumulate} {
		ok, reason := g.Allow(intent)
		assert.False(t, ok, intent)
		assert.Equal(t, ReasonDegraded, reason)
	}
	ok, _ := g.Allow(domain.IntentHedge)
	assert.True(t, ok)

	slug, worst := g.MaxScore()
	assert.Equal(t, "m2", slug)
	assert.Equal(t, 500.0, worst)

	// Paired again: the flag clears.
	g.Observe("m2", 0, 0)
	assert.False(t, g.Degraded())
	ok, _ = g.Allow(domain.IntentEntry)
	assert.True(t, ok)

	require.Len(t, tel.events, 2)
	assert.Equal(t, "degraded_on", tel.events[0].Kind)
	assert.Equal(t, "degraded_off", tel.events[1].Kind)
}

func TestInventoryGate_ForgetClearsDegraded(t *testing.T) {
	g := NewInventoryGate(InventoryConfig{DegradedThreshold: 100}, nil)
	g.Observe("m1", 200, 0)
	require.True(t, g.Degraded())

	g.Forget("m1")
	assert.False(t, g.Degraded())
}

func TestInventoryGate_QueueStress(t *testing.T) {
	g := NewInventoryGate(InventoryConfig{QueueStressDepth: 5}, nil)

	g.SetQueueDepth(4)
	ok, _ := g.Allow(domain.IntentEntry)
	assert.True(t, ok)

	g.SetQueueDepth(5)
	assert.True(t, g.QueueStressed())
	ok, reason := g.Allow(domain.IntentEntry)
	assert.False(t, ok)
	assert.Equal(t, ReasonQueueStress, reason)
	ok, _ = g.Allow(domain.IntentHedge)
	assert.True(t, ok)

	g.SetQueueDepth(0)
	assert.False(t, g.QueueStressed())
}

func TestSkewPolicy(t *testing.T) {
	p := DefaultSkewPolicy()
	tests := []struct {
		name    string
		up      float64
		down    float64
		intent  domain.Intent
		outcome domain.Outcome
		blocked bool
	}{
		{"flat", 0, 0, domain.IntentEntry, domain.OutcomeUp, false},
		{"small one-sided", 8, 0, domain.IntentEntry, domain.OutcomeUp, false},
		{"heavy one-sided", 20, 0, domain.IntentEntry, domain.OutcomeUp, true},
		{"heavy accumulate", 30, 5, domain.IntentAccumulate, domain.OutcomeUp, true},
		{"light accumulate rebalances", 30, 5, domain.IntentAccumulate, domain.OutcomeDown, false},
		{"light entry still blocked", 30, 5, domain.IntentEntry, domain.OutcomeDown, true},
		{"hedge exempt", 20, 0, domain.IntentHedge, domain.OutcomeDown, false},
		{"ratio under limit", 30, 10, domain.IntentEntry, domain.OutcomeUp, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			blocked, reason := p.Blocks(domain.Position{UpShares: tt.up, DownShares: tt.down}, tt.intent, tt.outcome)
			assert.Equal(t, tt.blocked, blocked)
			if tt.blocked {
				assert.Equal(t, ReasonSkewStop, reason)
			}
		})
	}
}
