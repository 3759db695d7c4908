package notify

import (
	"fmt"
	"sort"

	"github.com/olekukonko/tablewriter"

	"github.com/alejandrodnm/polyhedge/internal/domain"
)

// PrintReport imprime el resumen de órdenes y eventos persistidos.
func (c *Console) PrintReport(r domain.Report, events []domain.Event) {
	fmt.Fprintf(c.out, "\n╔══════════════════════════════════════════════════════════════╗\n")
	fmt.Fprintf(c.out, "║                      HEDGEBOT REPORT                         ║\n")
	fmt.Fprintf(c.out, "╚══════════════════════════════════════════════════════════════╝\n\n")

	fmt.Fprintf(c.out, "  Since:        %s\n", r.Since.Format("2006-01-02 15:04"))
	fmt.Fprintf(c.out, "  Orders:       %d (%d failed)\n", r.Orders, r.Failed)
	fmt.Fprintf(c.out, "  Filled:       %.2f shares\n", r.FilledShares)
	fmt.Fprintf(c.out, "  Notional:     $%.2f\n", r.Notional)
	fmt.Fprintf(c.out, "  Critical:     %d events\n", r.Critical)

	if len(r.ByIntent) > 0 {
		intents := make([]string, 0, len(r.ByIntent))
		for in := range r.ByIntent {
			intents = append(intents, string(in))
		}
		sort.Strings(intents)
		fmt.Fprintf(c.out, "\n── BY INTENT ──\n")
		for _, in := range intents {
			fmt.Fprintf(c.out, "  %-12s %d\n", in, r.ByIntent[domain.Intent(in)])
		}
	}

	fmt.Fprintf(c.out, "\n── MARKETS (%d) ──\n", len(r.Markets))
	if len(r.Markets) > 0 {
		table := tablewriter.NewWriter(c.out)
		table.Header("Market", "Orders", "Up", "Down", "Notional")
		for _, m := range r.Markets {
			table.Append(
				truncate(m.Slug, 36),
				fmt.Sprintf("%d", m.Orders),
				fmt.Sprintf("%.2f", m.UpShares),
				fmt.Sprintf("%.2f", m.DownShares),
				fmt.Sprintf("$%.2f", m.Notional),
			)
		}
		table.Render()
	} else {
		fmt.Fprintln(c.out, "  (none)")
	}

	fmt.Fprintf(c.out, "\n── RECENT EVENTS (%d) ──\n", len(events))
	if len(events) == 0 {
		fmt.Fprintln(c.out, "  (none)")
	}
	for _, e := range events {
		slug := e.Slug
		if slug == "" {
			slug = "-"
		}
		fmt.Fprintf(c.out, "  %s %-8s %-24s %-28s %s\n",
			e.Timestamp.Format("01-02 15:04:05"), e.Level, e.Kind, truncate(slug, 28), e.Message)
	}
	fmt.Fprintln(c.out)
}
