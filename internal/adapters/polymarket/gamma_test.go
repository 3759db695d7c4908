package polymarket_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/polyhedge/internal/domain"
)

func TestDiscoverUpDown(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 7, 0, 0, time.UTC)
	current := domain.BuildSlug("btc", domain.Timeframe15m, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	next := domain.BuildSlug("btc", domain.Timeframe15m, time.Date(2026, 3, 1, 12, 15, 0, 0, time.UTC))

	var asked []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/markets", r.URL.Path)
		slug := r.URL.Query().Get("slug")
		asked = append(asked, slug)
		switch slug {
		case current:
			fmt.Fprintf(w, `[{"slug":%q,"conditionId":"0xc1","clobTokenIds":"[\"111\",\"222\"]","outcomes":"[\"Down\",\"Up\"]","negRisk":false,"active":true,"closed":false}]`, slug)
		case next:
			fmt.Fprintf(w, `[{"slug":%q,"conditionId":"0xc2","clobTokenIds":"[\"333\",\"444\"]","outcomes":"[\"Up\",\"Down\"]","active":true,"closed":true}]`, slug)
		default:
			w.Write([]byte(`[]`))
		}
	}))
	defer srv.Close()

	markets, err := newTestClient(nil, srv).DiscoverUpDown(context.Background(), []string{"BTC"}, []domain.Timeframe{domain.Timeframe15m}, now)
	require.NoError(t, err)
	assert.Equal(t, []string{current, next}, asked)
	require.Len(t, markets, 1, "closed market skipped")

	m := markets[0]
	assert.Equal(t, current, m.Slug)
	assert.Equal(t, "btc", m.Asset)
	assert.Equal(t, "0xc1", m.ConditionID)
	assert.Equal(t, "222", m.UpTokenID, "token order follows outcomes")
	assert.Equal(t, "111", m.DownTokenID)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), m.StartTime)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 15, 0, 0, time.UTC), m.EndTime)
	assert.True(t, m.Active(now))
}

func TestDiscoverUpDown_AllLookupsFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := newTestClient(nil, srv).DiscoverUpDown(context.Background(), []string{"eth"}, []domain.Timeframe{domain.Timeframe1h}, time.Now())
	assert.Error(t, err)
}
