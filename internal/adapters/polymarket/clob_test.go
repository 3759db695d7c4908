package polymarket_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/polyhedge/internal/adapters/polymarket"
)

func newTestClient(clobSrv, gammaSrv *httptest.Server) *polymarket.Client {
	clobURL, gammaURL := "", ""
	if clobSrv != nil {
		clobURL = clobSrv.URL
	}
	if gammaSrv != nil {
		gammaURL = gammaSrv.URL
	}
	return polymarket.NewClient(clobURL, gammaURL).WithRetryWait(time.Millisecond)
}

const booksFixture = `[
	{"asset_id": "tok_up", "bids": [{"price": "0.45", "size": "100"}, {"price": "0.47", "size": "20"}],
	 "asks": [{"price": "0.52", "size": "40"}, {"price": "0.49", "size": "15"}]},
	{"asset_id": "tok_down", "bids": [{"price": "0.50", "size": "30"}], "asks": [{"price": "0.53", "size": "0"}, {"price": "0.54", "size": "12"}]}
]`

func TestFetchOrderBooks_Batch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/books", r.URL.Path)
		var body []map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Len(t, body, 2)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(booksFixture))
	}))
	defer srv.Close()

	books, err := newTestClient(srv, nil).FetchOrderBooks(context.Background(), []string{"tok_up", "tok_down"})
	require.NoError(t, err)
	require.Len(t, books, 2)

	up := books["tok_up"]
	assert.InDelta(t, 0.47, up.BestBid(), 1e-9, "bids sorted high to low")
	assert.InDelta(t, 0.49, up.BestAsk(), 1e-9, "asks sorted low to high")

	down := books["tok_down"]
	assert.InDelta(t, 0.54, down.BestAsk(), 1e-9, "empty levels dropped")
}

func TestFetchOrderBooks_BatchSplitting(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]any{})
	}))
	defer srv.Close()

	tokenIDs := make([]string, 25)
	for i := range tokenIDs {
		tokenIDs[i] = "token_" + string(rune('a'+i))
	}
	_, err := newTestClient(srv, nil).FetchOrderBooks(context.Background(), tokenIDs)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load(), "25 tokens → batch de 20 + batch de 5")
}

func TestGetOrderbookDepth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/book", r.URL.Path)
		assert.Equal(t, "tok_up", r.URL.Query().Get("token_id"))
		w.Write([]byte(`{"asset_id":"tok_up","bids":[{"price":"0.40","size":"10"}],"asks":[{"price":"0.42","size":"25"},{"price":"0.43","size":"5"}]}`))
	}))
	defer srv.Close()

	d, err := newTestClient(srv, nil).GetOrderbookDepth(context.Background(), "tok_up")
	require.NoError(t, err)
	assert.InDelta(t, 0.40, d.TopBid, 1e-9)
	assert.InDelta(t, 0.42, d.TopAsk, 1e-9)
	assert.True(t, d.HasLiquidity)
	assert.InDelta(t, 30.0, d.AskVolume, 1e-9)
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"asset_id":"t","bids":[],"asks":[{"price":"0.5","size":"1"}]}`))
	}))
	defer srv.Close()

	d, err := newTestClient(srv, nil).GetOrderbookDepth(context.Background(), "t")
	require.NoError(t, err)
	assert.InDelta(t, 0.5, d.TopAsk, 1e-9)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_ClientErrorCarriesBody(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"No orderbook exists for the requested token id"}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv, nil).GetOrderbookDepth(context.Background(), "t")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "No orderbook exists")
	assert.Equal(t, int32(1), calls.Load(), "4xx is not retried")
}
