package ports

import "github.com/alejandrodnm/polyhedge/internal/domain"

// Metrics receives counters and gauges from the trading core.
type Metrics interface {
	ObserveOrder(intent domain.Intent, status string)
	ObserveThrottle(reason string)
	ObserveEscalation(escalator string, ok bool)
	SetBalance(available, reserved float64)
	SetDegraded(degraded bool)
	SetQueueDepth(depth int)
	SetMarkets(counts map[string]int)
}

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) ObserveOrder(domain.Intent, string) {}
func (NopMetrics) ObserveThrottle(string)             {}
func (NopMetrics) ObserveEscalation(string, bool)     {}
func (NopMetrics) SetBalance(float64, float64)        {}
func (NopMetrics) SetDegraded(bool)                   {}
func (NopMetrics) SetQueueDepth(int)                  {}
func (NopMetrics) SetMarkets(map[string]int)          {}
