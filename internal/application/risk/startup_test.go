package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/alejandrodnm/polyhedge/internal/domain"
)

func snapshotAt(start time.Time, spot, strike, upAsk, downAsk float64, pos domain.Position) domain.ContextSnapshot {
	m := testMarket("m1")
	m.StartTime = start
	return domain.ContextSnapshot{
		Market:   m,
		Position: pos,
		Spot:     spot,
		Strike:   strike,
		Book:     domain.Book{UpAsk: upAsk, DownAsk: downAsk, UpdatedAt: t0},
	}
}

func TestStartupGrace(t *testing.T) {
	g := NewStartupGrace(StartupConfig{}, t0)
	held := domain.Position{UpShares: 10, UpInvested: 5}

	tests := []struct {
		name   string
		snap   domain.ContextSnapshot
		intent domain.Intent
		ok     bool
		reason string
	}{
		{"started within grace", snapshotAt(t0.Add(-30*time.Second), 0, 0, 0.5, 0.5, domain.Position{}), domain.IntentEntry, true, ""},
		{"started long before boot", snapshotAt(t0.Add(-5*time.Minute), 0, 0, 0.5, 0.5, domain.Position{}), domain.IntentEntry, false, ReasonStartedBeforeProcess},
		{"old market with position", snapshotAt(t0.Add(-5*time.Minute), 0, 0, 0.5, 0.5, held), domain.IntentEntry, true, ""},
		{"old market hedge", snapshotAt(t0.Add(-5*time.Minute), 0, 0, 0.5, 0.5, domain.Position{}), domain.IntentHedge, true, ""},
		{"spot moved", snapshotAt(t0, 103000, 100000, 0.5, 0.5, domain.Position{}), domain.IntentEntry, false, ReasonSpotDislocated},
		{"spot within band", snapshotAt(t0, 102000, 100000, 0.5, 0.5, domain.Position{}), domain.IntentEntry, true, ""},
		{"combined ask too low", snapshotAt(t0, 0, 0, 0.30, 0.55, domain.Position{}), domain.IntentEntry, false, ReasonAskDislocated},
		{"one side unknown", snapshotAt(t0, 0, 0, 0.30, 0, domain.Position{}), domain.IntentEntry, true, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, reason := g.Allow(tt.snap, tt.intent)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.reason, reason)
		})
	}
}
