package notify_test

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/alejandrodnm/polyhedge/internal/adapters/notify"
	"github.com/alejandrodnm/polyhedge/internal/domain"
)

func makeSnap(slug string, up, down float64) domain.Snapshot {
	return domain.Snapshot{
		Slug:             slug,
		UpShares:         up,
		DownShares:       down,
		UpInvested:       up * 0.45,
		DownInvested:     down * 0.50,
		UpAsk:            0.46,
		DownAsk:          0.51,
		SecondsRemaining: 240,
		RiskScore:        120,
		Readiness:        "READY",
		Timestamp:        time.Now(),
	}
}

func TestConsole_NotifySnapshots_Table(t *testing.T) {
	var buf bytes.Buffer
	n := notify.NewConsoleWriter(&buf, true)

	n.NotifySnapshots([]domain.Snapshot{
		makeSnap("btc-updown-15m-1772366400", 10, 10),
		makeSnap("eth-updown-1h-1772366400", 12, 0),
	}, 87.5, 12.25, false)

	out := buf.String()
	assert.Contains(t, out, "btc-updown-15m-1772366400")
	assert.Contains(t, out, "available $87.50")
	assert.Contains(t, out, "reserved $12.25")
	assert.Contains(t, out, "0.9500", "pair cost of the paired market")
	assert.Contains(t, out, "12.00")
	assert.Contains(t, out, "READY")
}

func TestConsole_NotifySnapshots_CompactDegraded(t *testing.T) {
	var buf bytes.Buffer
	n := notify.NewConsoleWriter(&buf, false)

	n.NotifySnapshots([]domain.Snapshot{makeSnap("btc-updown-15m-1772366400", 12, 0)}, 50, 0, true)

	out := buf.String()
	assert.Contains(t, out, "DEGRADED")
	assert.Contains(t, out, "1 unpaired")
	assert.Contains(t, out, "btc:15m-1772366400 12/0")
	assert.Equal(t, 1, strings.Count(out, "\n"))
}

func TestConsole_NotifySnapshots_Empty(t *testing.T) {
	var buf bytes.Buffer
	notify.NewConsoleWriter(&buf, true).NotifySnapshots(nil, 100, 0, false)
	assert.Contains(t, buf.String(), "no markets registered")
}

func TestConsole_PrintReport(t *testing.T) {
	var buf bytes.Buffer
	n := notify.NewConsoleWriter(&buf, true)

	n.PrintReport(domain.Report{
		Since:        time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		Orders:       3,
		Failed:       1,
		FilledShares: 20,
		Notional:     9.5,
		ByIntent:     map[domain.Intent]int{domain.IntentEntry: 2, domain.IntentHedge: 1},
		Critical:     1,
		Markets:      []domain.MarketReport{{Slug: "btc-updown-15m-1772366400", Orders: 2, UpShares: 10, DownShares: 10, Notional: 9.5}},
	}, []domain.Event{{Slug: "btc-updown-15m-1772366400", Kind: "hedge_exhausted", Level: domain.EventCritical, Message: "gave up", Timestamp: time.Now()}})

	out := buf.String()
	assert.Contains(t, out, "HEDGEBOT REPORT")
	assert.Contains(t, out, "3 (1 failed)")
	assert.Contains(t, out, "$9.50")
	assert.Contains(t, out, "HEDGE")
	assert.Contains(t, out, "hedge_exhausted")
	assert.Contains(t, out, "gave up")
}

func TestConsole_LongSlugTruncated(t *testing.T) {
	var buf bytes.Buffer
	n := notify.NewConsoleWriter(&buf, true)
	n.NotifySnapshots([]domain.Snapshot{makeSnap(strings.Repeat("a", 50), 1, 1)}, 0, 0, false)
	assert.Contains(t, buf.String(), "...")
}
