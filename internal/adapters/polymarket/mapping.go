package polymarket

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/polyhedge/internal/domain"
)

// mapOrderBooks convierte la respuesta batch de /books a un map tokenID→OrderBook.
func mapOrderBooks(raw []orderBookResponse) map[string]domain.OrderBook {
	result := make(map[string]domain.OrderBook, len(raw))
	for _, r := range raw {
		result[r.AssetID] = mapOrderBook(r.AssetID, r.Bids, r.Asks)
	}
	return result
}

func mapOrderBook(tokenID string, bids, asks []bookEntryRaw) domain.OrderBook {
	return domain.OrderBook{
		TokenID: tokenID,
		Bids:    mapBookEntries(bids, false),
		Asks:    mapBookEntries(asks, true),
	}
}

// mapBookEntries convierte entries raw a domain.BookEntry y los ordena.
// ascending=true → menor a mayor (asks), ascending=false → mayor a menor (bids).
func mapBookEntries(raw []bookEntryRaw, ascending bool) []domain.BookEntry {
	entries := make([]domain.BookEntry, 0, len(raw))
	for _, r := range raw {
		price, _ := strconv.ParseFloat(r.Price, 64)
		size, _ := strconv.ParseFloat(r.Size, 64)
		if price <= 0 || size <= 0 {
			continue
		}
		entries = append(entries, domain.BookEntry{Price: price, Size: size})
	}
	sort.Slice(entries, func(i, j int) bool {
		if ascending {
			return entries[i].Price < entries[j].Price
		}
		return entries[i].Price > entries[j].Price
	})
	return entries
}

// mapGammaMarket convierte un mercado de Gamma a domain.Market. El orden de
// clobTokenIds sigue al de outcomes, que no siempre es [Up, Down].
func mapGammaMarket(gm gammaMarket, asset string, tf domain.Timeframe, periodStart time.Time) (domain.Market, error) {
	var tokens, outcomes []string
	if err := json.Unmarshal([]byte(gm.ClobTokenIDs), &tokens); err != nil {
		return domain.Market{}, fmt.Errorf("clobTokenIds %q: %w", gm.ClobTokenIDs, err)
	}
	if len(tokens) != 2 {
		return domain.Market{}, fmt.Errorf("expected 2 tokens, got %d", len(tokens))
	}
	if gm.Outcomes != "" {
		if err := json.Unmarshal([]byte(gm.Outcomes), &outcomes); err != nil {
			return domain.Market{}, fmt.Errorf("outcomes %q: %w", gm.Outcomes, err)
		}
	}

	m := domain.Market{
		Slug:        gm.Slug,
		Asset:       asset,
		Timeframe:   tf,
		ConditionID: gm.ConditionID,
		UpTokenID:   tokens[0],
		DownTokenID: tokens[1],
		StartTime:   periodStart,
		EndTime:     periodStart.Add(tf.Duration()),
		NegRisk:     gm.NegRisk,
	}
	if len(outcomes) == 2 {
		if o, err := domain.ParseOutcome(outcomes[0]); err == nil && o == domain.OutcomeDown {
			m.UpTokenID, m.DownTokenID = tokens[1], tokens[0]
		}
	}
	// El slug ya fija la ventana; endDate solo corrige si Gamma la da.
	if t, ok := parseTime(gm.EndDate); ok && t.After(periodStart) {
		m.EndTime = t
	}
	return m, nil
}

// parseTime acepta los formatos que usa Gamma.
func parseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{
		time.RFC3339,
		"2006-01-02T15:04:05.000Z",
		"2006-01-02 15:04:05-07",
		"2006-01-02",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// mapOrderResult convierte la respuesta de POST /order. Sin takingAmount la
// orden quedó entera en el book.
func mapOrderResult(resp clobOrderResponse) domain.OrderResult {
	taking := parseDecimal(resp.TakingAmount)
	making := parseDecimal(resp.MakingAmount)
	out := domain.OrderResult{
		OrderID:    resp.OrderID,
		Status:     strings.ToLower(resp.Status),
		FilledSize: taking.InexactFloat64(),
	}
	if taking.IsPositive() && making.IsPositive() {
		out.AvgPrice = making.Div(taking).Round(4).InexactFloat64()
	}
	return out
}

func parseDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
