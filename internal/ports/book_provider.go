package ports

import (
	"context"

	"github.com/alejandrodnm/polyhedge/internal/domain"
)

// DepthSource answers one-shot top-of-book queries.
type DepthSource interface {
	// GetOrderbookDepth returns the top of book for a single token.
	GetOrderbookDepth(ctx context.Context, tokenID string) (domain.Depth, error)
}

// BookProvider obtiene orderbooks completos en batch.
type BookProvider interface {
	// FetchOrderBooks devuelve un mapa tokenID → OrderBook.
	FetchOrderBooks(ctx context.Context, tokenIDs []string) (map[string]domain.OrderBook, error)
}

// QuoteUpdate is one streamed top-of-book change for a token.
type QuoteUpdate struct {
	TokenID string
	BestBid float64
	BestAsk float64
}

// BookStream pushes top-of-book updates for a changing set of tokens.
type BookStream interface {
	// SetTokens replaces the subscribed token set.
	SetTokens(tokenIDs []string)

	// Run connects and delivers updates until ctx is done, reconnecting on errors.
	Run(ctx context.Context, out chan<- QuoteUpdate) error
}
