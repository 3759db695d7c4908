// Package paper simulates the exchange for dry runs. Orders are matched
// against the live top of book and fill at their limit price; balances and
// token holdings are kept in memory.
package paper

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/google/uuid"

	"github.com/alejandrodnm/polyhedge/internal/domain"
	"github.com/alejandrodnm/polyhedge/internal/ports"
)

// Exchange implements ports.Exchange and ports.PositionSource.
type Exchange struct {
	depth ports.DepthSource // nil → every order crosses

	mu       sync.Mutex
	balance  float64
	holdings map[string]float64 // tokenID → shares
	working  map[string]float64 // orderID → reserved notional
}

// NewExchange creates a paper exchange with an initial USDC balance.
func NewExchange(balance float64, depth ports.DepthSource) *Exchange {
	return &Exchange{
		depth:    depth,
		balance:  balance,
		holdings: make(map[string]float64),
		working:  make(map[string]float64),
	}
}

// PlaceOrder matches a BUY against the current best ask. A limit at or above
// the ask fills (up to the visible ask volume); the rest rests as a working
// order for GTC and is killed for FOK/FAK.
func (x *Exchange) PlaceOrder(ctx context.Context, req domain.PlaceOrderRequest) (domain.OrderResult, error) {
	if req.Price <= 0 || req.Price >= 1 || req.Size <= 0 {
		return domain.OrderResult{}, fmt.Errorf("paper: invalid order: %.2f @ %.4f", req.Size, req.Price)
	}

	fillable := req.Size
	if x.depth != nil {
		d, err := x.depth.GetOrderbookDepth(ctx, req.TokenID)
		if err != nil {
			return domain.OrderResult{}, fmt.Errorf("paper: depth %s: %w", req.TokenID, err)
		}
		switch {
		case !d.HasLiquidity || req.Price < d.TopAsk:
			fillable = 0
		case d.AskVolume > 0:
			fillable = math.Min(req.Size, d.AskVolume)
		}
	}

	orderType := req.OrderType
	if orderType == "" {
		orderType = domain.OrderTypeGTC
	}
	switch {
	case orderType == domain.OrderTypeFOK && fillable < req.Size:
		return domain.OrderResult{}, fmt.Errorf("paper: FOK order couldn't be fully filled")
	case orderType == domain.OrderTypeFAK && fillable <= 0:
		return domain.OrderResult{}, fmt.Errorf("paper: no match for FAK order")
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	resting := 0.0
	if orderType == domain.OrderTypeGTC {
		resting = req.Size - fillable
	}
	cost := fillable*req.Price + resting*req.Price
	if cost > x.balance+1e-9 {
		return domain.OrderResult{}, fmt.Errorf("paper: not enough balance / allowance: need $%.2f, have $%.2f", cost, x.balance)
	}

	id := "paper-" + uuid.NewString()
	x.balance -= cost
	x.holdings[req.TokenID] += fillable
	status := "matched"
	if resting > 0 {
		x.working[id] = resting * req.Price
		status = "live"
	}

	slog.Debug("paper: order",
		"token", req.TokenID, "type", orderType, "price", req.Price,
		"size", req.Size, "filled", fillable, "status", status)

	out := domain.OrderResult{OrderID: id, Status: status, FilledSize: fillable}
	if fillable > 0 {
		out.AvgPrice = req.Price
	}
	return out, nil
}

func (x *Exchange) GetOrderbookDepth(ctx context.Context, tokenID string) (domain.Depth, error) {
	if x.depth == nil {
		return domain.Depth{}, fmt.Errorf("paper: no depth source")
	}
	return x.depth.GetOrderbookDepth(ctx, tokenID)
}

// GetBalance returns the cash not committed to fills or working orders.
func (x *Exchange) GetBalance(context.Context) (float64, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.balance, nil
}

// CancelAll returns the notional of every working order to the balance.
func (x *Exchange) CancelAll(context.Context) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	for id, notional := range x.working {
		x.balance += notional
		delete(x.working, id)
	}
	return nil
}

// TokenBalance returns the simulated holdings of a token.
func (x *Exchange) TokenBalance(_ context.Context, tokenID string) (float64, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.holdings[tokenID], nil
}

var (
	_ ports.Exchange       = (*Exchange)(nil)
	_ ports.PositionSource = (*Exchange)(nil)
)
