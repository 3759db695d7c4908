package notify

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/alejandrodnm/polyhedge/internal/domain"
	"github.com/alejandrodnm/polyhedge/internal/ports"
)

// Console implementa ports.Notifier.
type Console struct {
	out   io.Writer
	table bool
	now   func() time.Time
}

// NewConsole crea un notificador que escribe a stdout.
func NewConsole(table bool) *Console {
	return &Console{out: os.Stdout, table: table, now: time.Now}
}

// NewConsoleWriter crea un notificador para tests.
func NewConsoleWriter(w io.Writer, table bool) *Console {
	return &Console{out: w, table: table, now: time.Now}
}

// NotifySnapshots imprime el estado de los mercados en el modo configurado.
func (c *Console) NotifySnapshots(snaps []domain.Snapshot, available, reserved float64, degraded bool) {
	ts := c.now().Format("15:04:05")
	state := "ok"
	if degraded {
		state = "DEGRADED"
	}
	if len(snaps) == 0 {
		fmt.Fprintf(c.out, "[%s] no markets registered | avail $%.2f reserved $%.2f | %s\n", ts, available, reserved, state)
		return
	}
	if c.table {
		c.printTable(ts, snaps, available, reserved, state)
	} else {
		c.printCompact(ts, snaps, available, reserved, state)
	}
}

// printCompact imprime lo esencial en una línea.
func (c *Console) printCompact(ts string, snaps []domain.Snapshot, available, reserved float64, state string) {
	var sb strings.Builder
	oneSided := 0
	for _, s := range snaps {
		if unpaired(s) > 0 {
			oneSided++
		}
	}
	fmt.Fprintf(&sb, "[%s] %d mkts (%d unpaired) | avail $%.2f rsv $%.2f | %s",
		ts, len(snaps), oneSided, available, reserved, state)

	shown := 0
	for _, s := range snaps {
		if shown >= 4 {
			break
		}
		if s.UpShares == 0 && s.DownShares == 0 {
			continue
		}
		fmt.Fprintf(&sb, " | %s %.0f/%.0f %ds", compactName(s.Slug, 24), s.UpShares, s.DownShares, int(s.SecondsRemaining))
		shown++
	}
	fmt.Fprintln(c.out, sb.String())
}

// printTable imprime una fila por mercado.
func (c *Console) printTable(ts string, snaps []domain.Snapshot, available, reserved float64, state string) {
	fmt.Fprintf(c.out, "\n[%s] %d markets | available $%.2f | reserved $%.2f | %s\n",
		ts, len(snaps), available, reserved, state)

	table := tablewriter.NewWriter(c.out)
	table.Header("Market", "Left", "Up", "Down", "Unpaired", "Pair$", "UpAsk", "DownAsk", "Risk", "Ready")
	for _, s := range snaps {
		table.Append(
			truncate(s.Slug, 32),
			fmt.Sprintf("%ds", int(s.SecondsRemaining)),
			fmt.Sprintf("%.2f", s.UpShares),
			fmt.Sprintf("%.2f", s.DownShares),
			fmt.Sprintf("%.2f", unpaired(s)),
			pairCostLabel(s),
			priceLabel(s.UpAsk),
			priceLabel(s.DownAsk),
			fmt.Sprintf("%.0f", s.RiskScore),
			s.Readiness,
		)
	}
	table.Render()
}

// --- helpers ---

func unpaired(s domain.Snapshot) float64 {
	if s.UpShares > s.DownShares {
		return s.UpShares - s.DownShares
	}
	return s.DownShares - s.UpShares
}

// pairCostLabel es el coste medio de un par completo, o "-" sin posición en
// ambos lados.
func pairCostLabel(s domain.Snapshot) string {
	if s.UpShares <= 0 || s.DownShares <= 0 {
		return "-"
	}
	return fmt.Sprintf("%.4f", s.UpInvested/s.UpShares+s.DownInvested/s.DownShares)
}

func priceLabel(p float64) string {
	if p <= 0 {
		return "-"
	}
	return fmt.Sprintf("%.2f", p)
}

// truncate recorta a maxLen runas añadiendo "...".
func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}

// compactName quita el sufijo "-updown-" de los slugs para la vista compacta.
func compactName(slug string, maxLen int) string {
	return truncate(strings.Replace(slug, "-updown-", ":", 1), maxLen)
}

var _ ports.Notifier = (*Console)(nil)
