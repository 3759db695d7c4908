package polymarket

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/alejandrodnm/polyhedge/internal/domain"
)

const gammaMarketsPath = "/markets"

// ActiveMarkets implementa ports.MarketProvider con el reloj de pared.
func (c *Client) ActiveMarkets(ctx context.Context, assets []string, timeframes []domain.Timeframe) ([]domain.Market, error) {
	return c.DiscoverUpDown(ctx, assets, timeframes, time.Now())
}

// DiscoverUpDown busca en Gamma los mercados up/down del periodo en curso y
// del siguiente para cada asset × timeframe. Los slugs que Gamma no conoce
// todavía, o que ya cerraron, se omiten. Solo falla si no responde ninguna
// consulta.
func (c *Client) DiscoverUpDown(ctx context.Context, assets []string, timeframes []domain.Timeframe, now time.Time) ([]domain.Market, error) {
	var (
		out      []domain.Market
		queried  int
		failures int
		lastErr  error
	)
	for _, asset := range assets {
		asset = strings.ToLower(strings.TrimSpace(asset))
		for _, tf := range timeframes {
			d := tf.Duration()
			if d == 0 {
				continue
			}
			current := tf.PeriodStart(now)
			for _, start := range []time.Time{current, current.Add(d)} {
				slug := domain.BuildSlug(asset, tf, start)
				queried++
				gm, found, err := c.fetchGammaBySlug(ctx, slug)
				if err != nil {
					failures++
					lastErr = err
					slog.Debug("polymarket: gamma lookup failed", "slug", slug, "err", err)
					continue
				}
				if !found || gm.Closed {
					continue
				}
				m, err := mapGammaMarket(gm, asset, tf, start)
				if err != nil {
					slog.Warn("polymarket: unusable gamma market", "slug", slug, "err", err)
					continue
				}
				out = append(out, m)
			}
		}
	}
	if queried > 0 && failures == queried {
		return nil, fmt.Errorf("gamma.DiscoverUpDown: all %d lookups failed: %w", queried, lastErr)
	}
	slog.Debug("polymarket: up/down discovery", "queried", queried, "found", len(out))
	return out, nil
}

// fetchGammaBySlug devuelve found=false si Gamma no tiene el slug.
func (c *Client) fetchGammaBySlug(ctx context.Context, slug string) (gammaMarket, bool, error) {
	q := url.Values{}
	q.Set("slug", slug)
	u := fmt.Sprintf("%s%s?%s", c.gammaBase, gammaMarketsPath, q.Encode())

	var resp []gammaMarket
	if err := c.get(ctx, c.gammaLimiter, u, &resp); err != nil {
		return gammaMarket{}, false, err
	}
	for _, gm := range resp {
		if gm.Slug == slug {
			return gm, true, nil
		}
	}
	return gammaMarket{}, false, nil
}
