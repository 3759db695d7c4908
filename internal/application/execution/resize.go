package execution

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrBelowMinLot means the order cannot be made to fit without dropping
	// under the minimum tradable lot.
	ErrBelowMinLot = errors.New("execution: quantity below minimum lot")
	// ErrInvalidOrder means price or shares are not positive.
	ErrInvalidOrder = errors.New("execution: invalid order")
)

// Resize shrinks shares so that shares × price fits under maxNotional.
// maxNotional <= 0 disables the cap. The result is never below minLot.
func Resize(shares, price, maxNotional, minLot float64) (float64, error) {
	if shares <= 0 || price <= 0 {
		return 0, fmt.Errorf("execution.Resize: %.4f @ %.4f: %w", shares, price, ErrInvalidOrder)
	}
	s := decimal.NewFromFloat(shares)
	p := decimal.NewFromFloat(price)
	if maxNotional > 0 {
		maxN := decimal.NewFromFloat(maxNotional)
		if s.Mul(p).GreaterThan(maxN) {
			s = maxN.Div(p).Floor()
		}
	}
	out := s.InexactFloat64()
	if out < minLot {
		return 0, fmt.Errorf("execution.Resize: %.0f shares < min lot %.0f: %w", out, minLot, ErrBelowMinLot)
	}
	return out, nil
}

// roundCents rounds a price to the 0.01 tick.
func roundCents(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// capPrice returns min(cap, price) rounded to cents.
func capPrice(price, cap decimal.Decimal) decimal.Decimal {
	return roundCents(decimal.Min(cap, price))
}
