package execution

import (
	"strings"

	"github.com/alejandrodnm/polyhedge/internal/domain"
)

var (
	balanceMarkers = []string{
		"not enough balance",
		"insufficient",
		"allowance",
		"balance is not enough",
	}
	liquidityMarkers = []string{
		"no match",
		"no liquidity",
		"couldn't be fully filled",
		"could not be fully filled",
		"not filled",
		"fok",
		"no orders found to match",
	}
	rateLimitMarkers = []string{
		"429",
		"rate limit",
		"too many requests",
	}
)

// ClassifyError buckets a submission error by its message.
func ClassifyError(err error) domain.ErrorClass {
	if err == nil {
		return domain.ErrorClassNone
	}
	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, balanceMarkers):
		return domain.ErrorClassBalance
	case containsAny(msg, rateLimitMarkers):
		return domain.ErrorClassRateLimited
	case containsAny(msg, liquidityMarkers):
		return domain.ErrorClassLiquidity
	}
	return domain.ErrorClassUnknown
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
