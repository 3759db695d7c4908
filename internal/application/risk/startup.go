package risk

import (
	"math"
	"time"

	"github.com/alejandrodnm/polyhedge/internal/domain"
)

// Startup grace reasons.
const (
	ReasonStartedBeforeProcess = "started_before_process"
	ReasonSpotDislocated       = "spot_dislocated"
	ReasonAskDislocated        = "combined_ask_dislocated"
)

// StartupConfig is the startup grace policy.
type StartupConfig struct {
	Grace          time.Duration
	MaxSpotDelta   float64 // |spot-strike|/strike
	MinCombinedAsk float64
}

// DefaultStartupConfig returns the default policy.
func DefaultStartupConfig() StartupConfig {
	return StartupConfig{Grace: 60 * time.Second, MaxSpotDelta: 0.025, MinCombinedAsk: 0.92}
}

// StartupGrace keeps the bot from opening positions in markets it did not
// see start, or whose price already moved before it could act.
type StartupGrace struct {
	cfg          StartupConfig
	processStart time.Time
}

// NewStartupGrace creates the filter. processStart is when this process booted.
func NewStartupGrace(cfg StartupConfig, processStart time.Time) *StartupGrace {
	def := DefaultStartupConfig()
	if cfg.Grace <= 0 {
		cfg.Grace = def.Grace
	}
	if cfg.MaxSpotDelta <= 0 {
		cfg.MaxSpotDelta = def.MaxSpotDelta
	}
	if cfg.MinCombinedAsk <= 0 {
		cfg.MinCombinedAsk = def.MinCombinedAsk
	}
	return &StartupGrace{cfg: cfg, processStart: processStart}
}

// Fresh reports whether the market started within the grace window of process start or later.
func (g *StartupGrace) Fresh(m domain.Market) bool {
	return !m.StartTime.Before(g.processStart.Add(-g.cfg.Grace))
}

// Allow decides whether a new position may be opened. Managing an existing
// position (any non-flat market, hedges, accumulation) is always allowed.
func (g *StartupGrace) Allow(s domain.ContextSnapshot, intent domain.Intent) (bool, string) {
	if intent == domain.IntentHedge || intent == domain.IntentAccumulate || !s.Position.Flat() {
		return true, ""
	}
	if !g.Fresh(s.Market) {
		return false, ReasonStartedBeforeProcess
	}
	if s.Spot > 0 && s.Strike > 0 {
		if math.Abs(s.Spot-s.Strike)/s.Strike > g.cfg.MaxSpotDelta {
			return false, ReasonSpotDislocated
		}
	}
	if ca := s.Book.CombinedAsk(); ca > 0 && ca < g.cfg.MinCombinedAsk {
		return false, ReasonAskDislocated
	}
	return true, ""
}
