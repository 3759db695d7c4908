package execution

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/polyhedge/internal/domain"
)

func newTestEscalator(p HedgePlacer, tel *memTelemetry, s *recordingSleep) *HedgeEscalator {
	return NewHedgeEscalator(DefaultEscalatorConfig(), p, tel).WithClock(fixedClock(t0), s.sleep)
}

func TestModeFor(t *testing.T) {
	tests := []struct {
		secs float64
		want domain.HedgeMode
	}{
		{45, domain.HedgeModeSurvival},
		{59.9, domain.HedgeModeSurvival},
		{60, domain.HedgeModePanic},
		{90, domain.HedgeModePanic},
		{120, domain.HedgeModeUrgent},
		{250, domain.HedgeModeUrgent},
		{300, domain.HedgeModeNormal},
		{900, domain.HedgeModeNormal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ModeFor(tt.secs), "secs=%v", tt.secs)
	}
}

func TestPlan_NormalShrinksAndStepsPrice(t *testing.T) {
	h := newTestEscalator(&fakePlacer{}, &memTelemetry{}, &recordingSleep{})
	plan := h.Plan(domain.EscalationRequest{TargetShares: 20, InitialPrice: 0.40, SecondsRemaining: 600})

	require.Len(t, plan, 3)
	wantShares := []float64{14, 9, 6}
	wantPrices := []float64{0.42, 0.44, 0.46}
	for i, a := range plan {
		assert.Equal(t, wantShares[i], a.Shares, "retry %d shares", i+1)
		assert.Equal(t, wantPrices[i], a.Price, "retry %d price", i+1)
		assert.Equal(t, i+1, a.RetryIndex)
	}
}

func TestPlan_PanicCapsAt85(t *testing.T) {
	h := newTestEscalator(&fakePlacer{}, &memTelemetry{}, &recordingSleep{})
	plan := h.Plan(domain.EscalationRequest{TargetShares: 20, InitialPrice: 0.82, SecondsRemaining: 90})

	require.Len(t, plan, 3)
	assert.Equal(t, 0.84, plan[0].Price)
	assert.Equal(t, 0.85, plan[1].Price)
	assert.Equal(t, 0.85, plan[2].Price)
	assert.Equal(t, domain.HedgeModePanic, plan[0].Mode)
}

func TestPlan_SurvivalKeepsSize(t *testing.T) {
	h := newTestEscalator(&fakePlacer{}, &memTelemetry{}, &recordingSleep{})
	plan := h.Plan(domain.EscalationRequest{TargetShares: 20, InitialPrice: 0.90, SecondsRemaining: 30})

	require.Len(t, plan, 3)
	for _, a := range plan {
		assert.Equal(t, 20.0, a.Shares)
	}
	assert.Equal(t, 0.92, plan[0].Price)
	assert.Equal(t, 0.94, plan[1].Price)
	assert.Equal(t, 0.95, plan[2].Price)
}

func TestPlan_StopsBeforeMinShares(t *testing.T) {
	h := newTestEscalator(&fakePlacer{}, &memTelemetry{}, &recordingSleep{})
	plan := h.Plan(domain.EscalationRequest{TargetShares: 8, InitialPrice: 0.40, SecondsRemaining: 600})

	require.Len(t, plan, 1)
	assert.Equal(t, 5.0, plan[0].Shares)
}

func TestEscalate_ExhaustedIsCritical(t *testing.T) {
	p := &fakePlacer{}
	tel := &memTelemetry{}
	s := &recordingSleep{}
	h := newTestEscalator(p, tel, s)

	res := h.Escalate(context.Background(), domain.EscalationRequest{
		Slug: "m", Outcome: domain.OutcomeDown, TargetShares: 20, InitialPrice: 0.40, SecondsRemaining: 600,
	})

	assert.False(t, res.OK)
	assert.Equal(t, EscalationExhausted, res.ErrorCode)
	assert.Equal(t, 3, res.Attempts)
	require.Len(t, p.calls, 3)
	assert.Equal(t, placerCall{Price: 0.42, Shares: 14, RetryIndex: 1}, p.calls[0])
	assert.Equal(t, placerCall{Price: 0.44, Shares: 9, RetryIndex: 2}, p.calls[1])
	assert.Equal(t, placerCall{Price: 0.46, Shares: 6, RetryIndex: 3}, p.calls[2])
	assert.Equal(t, 3, s.calls)
	assert.Equal(t, 1500*time.Millisecond, s.total)
	require.Len(t, tel.events, 1)
	assert.Equal(t, domain.EventCritical, tel.events[0].Level)
}

func TestEscalate_BelowMinIsNotFailure(t *testing.T) {
	p := &fakePlacer{}
	h := newTestEscalator(p, &memTelemetry{}, &recordingSleep{})

	res := h.Escalate(context.Background(), domain.EscalationRequest{
		Slug: "m", Outcome: domain.OutcomeUp, TargetShares: 8, InitialPrice: 0.40, SecondsRemaining: 600,
	})

	assert.True(t, res.OK)
	assert.Equal(t, EscalationBelowMin, res.ErrorCode)
	assert.Equal(t, 1, res.Attempts)
}

func TestEscalate_WorkingOrderCountsAsSuccess(t *testing.T) {
	p := &fakePlacer{results: []func() (HedgeFill, error){
		func() (HedgeFill, error) { return HedgeFill{OrderID: "o1", Working: true}, nil },
	}}
	h := newTestEscalator(p, &memTelemetry{}, &recordingSleep{})

	res := h.Escalate(context.Background(), domain.EscalationRequest{
		Slug: "m", Outcome: domain.OutcomeUp, TargetShares: 20, InitialPrice: 0.40, SecondsRemaining: 600,
	})

	assert.True(t, res.OK)
	assert.Equal(t, "o1", res.OrderID)
	assert.Equal(t, 1, res.Attempts)
	assert.Empty(t, res.ErrorCode)
}

func TestEscalate_PartialFillContinuesForRemainder(t *testing.T) {
	p := &fakePlacer{results: []func() (HedgeFill, error){
		func() (HedgeFill, error) { return HedgeFill{OrderID: "o1", FilledShares: 10, AvgPrice: 0.42}, nil },
		func() (HedgeFill, error) { return HedgeFill{OrderID: "o2", FilledShares: 9, AvgPrice: 0.44}, nil },
	}}
	h := newTestEscalator(p, &memTelemetry{}, &recordingSleep{})

	res := h.Escalate(context.Background(), domain.EscalationRequest{
		Slug: "m", Outcome: domain.OutcomeUp, TargetShares: 20, InitialPrice: 0.40, SecondsRemaining: 600,
	})

	assert.True(t, res.OK)
	assert.Equal(t, 2, res.Attempts)
	assert.InDelta(t, 19, res.FilledShares, 1e-9)
	assert.InDelta(t, (10*0.42+9*0.44)/19, res.AvgPrice, 1e-9)
	assert.Equal(t, "o2", res.OrderID)
}

func TestLadder_ExhaustsWithTickSteps(t *testing.T) {
	p := &fakePlacer{}
	s := &recordingSleep{}
	l := NewLadderEscalator(DefaultLadderConfig(), p, &memTelemetry{}).WithClock(fixedClock(t0), s.sleep)

	res := l.Escalate(context.Background(), domain.EscalationRequest{
		Slug: "m", Outcome: domain.OutcomeUp, TargetShares: 20, InitialPrice: 0.40, SecondsRemaining: 600,
	})

	assert.False(t, res.OK)
	assert.Equal(t, EscalationExhausted, res.ErrorCode)
	require.Len(t, p.calls, 6)
	prices := make([]float64, 0, 6)
	shares := make([]float64, 0, 6)
	for _, c := range p.calls {
		prices = append(prices, c.Price)
		shares = append(shares, c.Shares)
	}
	assert.Equal(t, []float64{0.41, 0.42, 0.43, 0.44, 0.45, 0.45}, prices)
	assert.Equal(t, []float64{20, 20, 20, 16, 12, 9}, shares)
}

func TestLadder_PairCostCap(t *testing.T) {
	p := &fakePlacer{}
	cfg := DefaultLadderConfig()
	cfg.Attempts = 4
	l := NewLadderEscalator(cfg, p, nil).WithClock(fixedClock(t0), (&recordingSleep{}).sleep)

	l.Escalate(context.Background(), domain.EscalationRequest{
		Slug: "m", Outcome: domain.OutcomeUp, TargetShares: 10, InitialPrice: 0.46, PairCostOther: 0.52, SecondsRemaining: 600,
	})

	require.Len(t, p.calls, 4)
	for _, c := range p.calls {
		assert.LessOrEqual(t, c.Price, 0.47)
	}
}
