package ports

import (
	"context"

	"github.com/alejandrodnm/polyhedge/internal/domain"
)

// MarketProvider lista los mercados up/down vigentes.
type MarketProvider interface {
	// ActiveMarkets devuelve los mercados del periodo actual (y el siguiente)
	// para los assets y timeframes dados.
	ActiveMarkets(ctx context.Context, assets []string, timeframes []domain.Timeframe) ([]domain.Market, error)
}

// SpotProvider returns the spot price of an underlying asset (btc, eth, ...).
type SpotProvider interface {
	Spot(ctx context.Context, asset string) (float64, error)
}
