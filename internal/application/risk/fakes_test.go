package risk

import (
	"context"
	"sync"
	"time"

	"github.com/alejandrodnm/polyhedge/internal/domain"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type memTelemetry struct {
	mu        sync.Mutex
	events    []domain.Event
	lifecycle []domain.LifecycleEvent
}

func (m *memTelemetry) RecordTrade(domain.TradeRecord) {}
func (m *memTelemetry) RecordFill(domain.FillRecord)   {}
func (m *memTelemetry) RecordSnapshot(domain.Snapshot) {}

func (m *memTelemetry) RecordEvent(e domain.Event) {
	m.mu.Lock()
	m.events = append(m.events, e)
	m.mu.Unlock()
}

func (m *memTelemetry) RecordLifecycle(e domain.LifecycleEvent) {
	m.mu.Lock()
	m.lifecycle = append(m.lifecycle, e)
	m.mu.Unlock()
}

type fakeDepth struct {
	calls int
	depth map[string]domain.Depth
	err   error
}

func (f *fakeDepth) GetOrderbookDepth(_ context.Context, tokenID string) (domain.Depth, error) {
	f.calls++
	if f.err != nil {
		return domain.Depth{}, f.err
	}
	return f.depth[tokenID], nil
}

func testMarket(slug string) domain.Market {
	return domain.Market{
		Slug:        slug,
		UpTokenID:   slug + "-up",
		DownTokenID: slug + "-down",
		StartTime:   t0.Add(-time.Minute),
		EndTime:     t0.Add(14 * time.Minute),
	}
}
