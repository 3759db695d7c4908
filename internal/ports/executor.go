package ports

import (
	"context"

	"github.com/alejandrodnm/polyhedge/internal/domain"
)

// Exchange places orders and reads balances on the Polymarket CLOB.
type Exchange interface {
	DepthSource

	// PlaceOrder signs and submits a BUY limit order. A nil error means the
	// exchange accepted it; the result says how much filled immediately.
	PlaceOrder(ctx context.Context, req domain.PlaceOrderRequest) (domain.OrderResult, error)

	// GetBalance returns the spendable USDC balance.
	GetBalance(ctx context.Context) (float64, error)

	// CancelAll cancels all open orders for this wallet.
	CancelAll(ctx context.Context) error
}

// PositionSource exposes the ground-truth token balances used by position sync.
type PositionSource interface {
	// TokenBalance returns the on-chain ERC-1155 balance (in shares) for a token.
	TokenBalance(ctx context.Context, tokenID string) (float64, error)
}

// Escalator retries a hedge that the normal pipeline could not complete.
type Escalator interface {
	Escalate(ctx context.Context, req domain.EscalationRequest) domain.EscalationResult
}
