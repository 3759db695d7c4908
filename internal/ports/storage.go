package ports

import (
	"context"
	"time"

	"github.com/alejandrodnm/polyhedge/internal/domain"
)

// Telemetry is the fire-and-forget persistence sink. Implementations must
// never block the caller for long and never return errors to it.
type Telemetry interface {
	RecordTrade(t domain.TradeRecord)
	RecordFill(f domain.FillRecord)
	RecordEvent(e domain.Event)
	RecordLifecycle(l domain.LifecycleEvent)
	RecordSnapshot(s domain.Snapshot)
}

// OrderQueue is the pending external order queue.
type OrderQueue interface {
	// Pending returns up to limit queued orders, oldest first.
	Pending(ctx context.Context, limit int) ([]domain.PendingOrder, error)

	// Depth returns the number of queued orders.
	Depth(ctx context.Context) (int, error)

	// Resolve moves an order to DONE or FAILED with a detail message.
	Resolve(ctx context.Context, id string, status domain.PendingStatus, detail string) error
}

// ReportStore builds summaries from persisted telemetry.
type ReportStore interface {
	Report(ctx context.Context, since time.Time) (domain.Report, error)
}
