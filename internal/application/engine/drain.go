package engine

import (
	"context"
	"log/slog"
	"strings"

	"github.com/alejandrodnm/polyhedge/internal/application/execution"
	"github.com/alejandrodnm/polyhedge/internal/domain"
)

// drainQueue executes a batch of externally queued orders. Each order is
// resized to the per-trade notional cap first; orders that cannot be
// resized above the minimum lot fail. Throttled orders and orders whose
// market is busy stay queued for the next drain; every other outcome is
// terminal so a blocked queue cannot hold the queue-stress gate shut.
func (e *Engine) drainQueue(ctx context.Context) {
	pending, err := e.deps.Queue.Pending(ctx, e.cfg.QueueBatch)
	if err != nil {
		slog.Warn("engine: queue read failed", "err", err)
		return
	}
	for _, p := range pending {
		if ctx.Err() != nil {
			break
		}
		status, detail, done := e.executeQueued(ctx, p)
		if !done {
			continue
		}
		if err := e.deps.Queue.Resolve(ctx, p.ID, status, detail); err != nil {
			slog.Warn("engine: queue resolve failed", "id", p.ID, "err", err)
		}
	}
	e.updateQueueDepth(ctx)
}

func (e *Engine) executeQueued(ctx context.Context, p domain.PendingOrder) (domain.PendingStatus, string, bool) {
	mc, ok := e.registry.Get(p.Slug)
	if !ok {
		return domain.PendingFailed, execution.ReasonUnknownMarket, true
	}
	shares, err := execution.Resize(p.Shares, p.Price, e.cfg.MaxNotionalPerTrade, e.cfg.MinLotShares)
	if err != nil {
		slog.Info("engine: queued order rejected", "id", p.ID, "market", p.Slug, "err", err)
		return domain.PendingFailed, err.Error(), true
	}
	if shares != p.Shares {
		slog.Info("engine: queued order resized", "id", p.ID, "market", p.Slug, "from", p.Shares, "to", shares)
	}
	if !mc.TryAcquire() {
		return "", "", false
	}
	req := p.Request()
	req.Shares = shares
	res := e.executor.Submit(ctx, mc, req)
	mc.Release()

	switch {
	case res.Placed():
		return domain.PendingDone, res.OrderID, true
	case res.Status == execution.StatusSkipped && strings.HasPrefix(res.Reason, execution.ReasonThrottled):
		return "", "", false
	case res.Status == execution.StatusSkipped:
		return domain.PendingFailed, "skipped: " + res.Reason, true
	}
	return domain.PendingFailed, res.Reason, true
}

func (e *Engine) updateQueueDepth(ctx context.Context) {
	depth, err := e.deps.Queue.Depth(ctx)
	if err != nil {
		slog.Warn("engine: queue depth failed", "err", err)
		return
	}
	e.gate.SetQueueDepth(depth)
	e.metrics.SetQueueDepth(depth)
}
