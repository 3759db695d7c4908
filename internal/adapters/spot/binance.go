// Package spot reads underlying spot prices for the startup filter and the
// oracle's strike comparison.
package spot

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/alejandrodnm/polyhedge/internal/ports"
)

const defaultBinanceBase = "https://api.binance.com"

type tickerPrice struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

type binanceError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// BinanceProvider implements ports.SpotProvider with the public ticker endpoint.
type BinanceProvider struct {
	client *resty.Client
	quote  string
}

// NewBinanceProvider creates a provider. An empty base uses the public API.
func NewBinanceProvider(base string) *BinanceProvider {
	if base == "" {
		base = defaultBinanceBase
	}
	client := resty.New().
		SetBaseURL(strings.TrimSuffix(base, "/")).
		SetTimeout(5 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= 500
		}).
		SetHeader("Accept", "application/json")
	return &BinanceProvider{client: client, quote: "USDT"}
}

// WithRetryWait shortens retry waits (tests).
func (p *BinanceProvider) WithRetryWait(d time.Duration) *BinanceProvider {
	p.client.SetRetryWaitTime(d).SetRetryMaxWaitTime(d)
	return p
}

// Spot returns the last traded price of asset against USDT.
func (p *BinanceProvider) Spot(ctx context.Context, asset string) (float64, error) {
	symbol := strings.ToUpper(strings.TrimSpace(asset)) + p.quote
	var out tickerPrice
	var apiErr binanceError
	resp, err := p.client.R().
		SetContext(ctx).
		SetQueryParam("symbol", symbol).
		SetResult(&out).
		SetError(&apiErr).
		Get("/api/v3/ticker/price")
	if err != nil {
		return 0, fmt.Errorf("spot.Spot %s: %w", symbol, err)
	}
	if resp.IsError() {
		return 0, fmt.Errorf("spot.Spot %s: status %d: %s", symbol, resp.StatusCode(), apiErr.Msg)
	}
	price, err := strconv.ParseFloat(out.Price, 64)
	if err != nil || price <= 0 {
		return 0, fmt.Errorf("spot.Spot %s: invalid price %q", symbol, out.Price)
	}
	return price, nil
}

var _ ports.SpotProvider = (*BinanceProvider)(nil)
