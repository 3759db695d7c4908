package risk

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alejandrodnm/polyhedge/internal/domain"
	"github.com/alejandrodnm/polyhedge/internal/ports"
)

// DefaultDegradedThreshold is the score at which new entries stop system-wide.
const DefaultDegradedThreshold = 400

// Block reasons returned by the gates of this package.
const (
	ReasonDegraded    = "degraded_mode"
	ReasonQueueStress = "queue_stress"
	ReasonSkewStop    = "skew_stop"
)

// Score grows with both the unpaired notional and how long it has been open:
// notional × (1 + age/60s). One minute of age doubles the weight.
func Score(unpairedNotional, unpairedAgeSeconds float64) float64 {
	if unpairedNotional <= 0 {
		return 0
	}
	if unpairedAgeSeconds < 0 {
		unpairedAgeSeconds = 0
	}
	return unpairedNotional * (1 + unpairedAgeSeconds/60)
}

// InventoryConfig is the inventory risk policy.
type InventoryConfig struct {
	DegradedThreshold float64
	QueueStressDepth  int // pending queue depth at which entries are blocked; 0 disables
}

// InventoryGate keeps the latest score of every market and derives the
// global degraded flag from the worst of them. Entries are blocked while
// degraded or while the pending queue is stressed; hedges always pass.
type InventoryGate struct {
	cfg       InventoryConfig
	telemetry ports.Telemetry
	now       func() time.Time

	mu         sync.Mutex
	scores     map[string]float64
	queueDepth int
	degraded   bool
	stressed   bool
}

// NewInventoryGate creates the gate. telemetry may be nil.
func NewInventoryGate(cfg InventoryConfig, telemetry ports.Telemetry) *InventoryGate {
	if cfg.DegradedThreshold <= 0 {
		cfg.DegradedThreshold = DefaultDegradedThreshold
	}
	return &InventoryGate{
		cfg:       cfg,
		telemetry: telemetry,
		now:       time.Now,
		scores:    make(map[string]float64),
	}
}

// Observe records the current exposure of a market and returns its score.
func (g *InventoryGate) Observe(slug string, unpairedNotional, unpairedAgeSeconds float64) float64 {
	score := Score(unpairedNotional, unpairedAgeSeconds)
	g.mu.Lock()
	if score > 0 {
		g.scores[slug] = score
	} else {
		delete(g.scores, slug)
	}
	g.recomputeLocked(slug)
	g.mu.Unlock()
	return score
}

// Forget drops a deregistered market.
func (g *InventoryGate) Forget(slug string) {
	g.mu.Lock()
	delete(g.scores, slug)
	g.recomputeLocked(slug)
	g.mu.Unlock()
}

// SetQueueDepth feeds the queue-stress signal.
func (g *InventoryGate) SetQueueDepth(depth int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.queueDepth = depth
	stressed := g.cfg.QueueStressDepth > 0 && depth >= g.cfg.QueueStressDepth
	if stressed != g.stressed {
		g.stressed = stressed
		slog.Warn("risk: queue stress changed", "stressed", stressed, "depth", depth)
		g.emitLocked("", "queue_stress", fmt.Sprintf("queue stress=%t depth=%d", stressed, depth))
	}
}

func (g *InventoryGate) recomputeLocked(slug string) {
	worst := 0.0
	for _, s := range g.scores {
		if s > worst {
			worst = s
		}
	}
	degraded := worst >= g.cfg.DegradedThreshold
	if degraded == g.degraded {
		return
	}
	g.degraded = degraded
	if degraded {
		slog.Warn("risk: degraded mode ON, entries blocked", "market", slug, "score", fmt.Sprintf("%.1f", worst))
		g.emitLocked(slug, "degraded_on", fmt.Sprintf("max risk score %.1f", worst))
	} else {
		slog.Info("risk: degraded mode OFF", "score", fmt.Sprintf("%.1f", worst))
		g.emitLocked(slug, "degraded_off", fmt.Sprintf("max risk score %.1f", worst))
	}
}

func (g *InventoryGate) emitLocked(slug, kind, msg string) {
	if g.telemetry == nil {
		return
	}
	g.telemetry.RecordEvent(domain.Event{
		Slug:      slug,
		Kind:      kind,
		Level:     domain.EventWarn,
		Message:   msg,
		Timestamp: g.now(),
	})
}

// Degraded reports the global degraded flag.
func (g *InventoryGate) Degraded() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.degraded
}

// QueueStressed reports the queue-stress flag.
func (g *InventoryGate) QueueStressed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stressed
}

// MaxScore returns the worst market and its score.
func (g *InventoryGate) MaxScore() (string, float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var slug string
	var worst float64
	for s, v := range g.scores {
		if v > worst {
			slug, worst = s, v
		}
	}
	return slug, worst
}

// Allow decides whether an order with this intent may proceed.
func (g *InventoryGate) Allow(intent domain.Intent) (bool, string) {
	if intent.Corrective() {
		return true, ""
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.degraded {
		return false, ReasonDegraded
	}
	if g.stressed {
		return false, ReasonQueueStress
	}
	return true, ""
}

// SkewPolicy is the hard skew-stop applied before any non-corrective order.
type SkewPolicy struct {
	MaxRatio    float64 // unpaired / total shares above which trading stops
	MinUnpaired float64 // ignore skew below this many unpaired shares
}

// DefaultSkewPolicy returns the default skew-stop.
func DefaultSkewPolicy() SkewPolicy {
	return SkewPolicy{MaxRatio: 0.6, MinUnpaired: 10}
}

// Blocks reports whether the position is too skewed for an order of this
// intent on outcome. Hedges are never blocked, and neither is an accumulate
// on the light side since it shrinks the skew.
func (p SkewPolicy) Blocks(pos domain.Position, intent domain.Intent, outcome domain.Outcome) (bool, string) {
	if intent.Corrective() {
		return false, ""
	}
	if heavy, ok := pos.HeavySide(); ok && intent == domain.IntentAccumulate && outcome != heavy {
		return false, ""
	}
	total := pos.UpShares + pos.DownShares
	if total <= domain.ShareEpsilon {
		return false, ""
	}
	unpaired := pos.Unpaired()
	if unpaired < p.MinUnpaired {
		return false, ""
	}
	if unpaired/total > p.MaxRatio {
		return true, ReasonSkewStop
	}
	return false, ""
}
