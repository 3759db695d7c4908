package polymarket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/polyhedge/internal/ports"
)

func TestParseMarketMessage(t *testing.T) {
	t.Run("pong", func(t *testing.T) {
		assert.Empty(t, parseMarketMessage([]byte("PONG")))
	})
	t.Run("batched book snapshots", func(t *testing.T) {
		got := parseMarketMessage([]byte(`[
			{"event_type":"book","asset_id":"up","bids":[{"price":"0.44","size":"5"},{"price":"0.46","size":"1"}],"asks":[{"price":"0.49","size":"3"}]},
			{"event_type":"book","asset_id":"down","bids":[],"asks":[{"price":"0.53","size":"9"}]}
		]`))
		require.Len(t, got, 2)
		assert.Equal(t, ports.QuoteUpdate{TokenID: "up", BestBid: 0.46, BestAsk: 0.49}, got[0])
		assert.Equal(t, ports.QuoteUpdate{TokenID: "down", BestBid: 0, BestAsk: 0.53}, got[1])
	})
	t.Run("price change", func(t *testing.T) {
		got := parseMarketMessage([]byte(`{"event_type":"price_change","market":"0xc","price_changes":[
			{"asset_id":"up","price":"0.5","size":"10","side":"BUY","best_bid":"0.5","best_ask":"0.51"},
			{"asset_id":"down","best_bid":"0","best_ask":"0"}
		]}`))
		require.Len(t, got, 1, "zero/zero change dropped")
		assert.Equal(t, ports.QuoteUpdate{TokenID: "up", BestBid: 0.5, BestAsk: 0.51}, got[0])
	})
	t.Run("unknown event", func(t *testing.T) {
		assert.Empty(t, parseMarketMessage([]byte(`{"event_type":"last_trade_price","asset_id":"up"}`)))
	})
	t.Run("garbage", func(t *testing.T) {
		assert.Empty(t, parseMarketMessage([]byte(`[not json`)))
	})
}

func TestBookStream_SubscribesAndDelivers(t *testing.T) {
	upgrader := websocket.Upgrader{}
	subscribed := make(chan wsSubscribe, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var sub wsSubscribe
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		subscribed <- sub
		conn.WriteMessage(websocket.TextMessage, []byte(`[{"event_type":"book","asset_id":"up","bids":[{"price":"0.40","size":"2"}],"asks":[{"price":"0.42","size":"2"}]}]`))
		// Drain pings until the client leaves.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	stream := NewBookStream("ws" + strings.TrimPrefix(srv.URL, "http")).
		WithTiming(20*time.Millisecond, 10*time.Millisecond, 50*time.Millisecond)
	stream.SetTokens([]string{"up", "down"})

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan ports.QuoteUpdate, 4)
	errc := make(chan error, 1)
	go func() { errc <- stream.Run(ctx, out) }()

	select {
	case sub := <-subscribed:
		assert.Equal(t, "market", sub.Type)
		assert.Equal(t, []string{"up", "down"}, sub.AssetsIDs)
	case <-time.After(2 * time.Second):
		t.Fatal("no subscription received")
	}
	select {
	case u := <-out:
		assert.Equal(t, ports.QuoteUpdate{TokenID: "up", BestBid: 0.40, BestAsk: 0.42}, u)
	case <-time.After(2 * time.Second):
		t.Fatal("no quote delivered")
	}

	cancel()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
}
