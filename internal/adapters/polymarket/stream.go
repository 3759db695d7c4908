package polymarket

// stream.go — top-of-book stream over the CLOB market WebSocket.
//
// One connection carries every subscribed token. A dropped connection is
// redialled with exponential backoff and the full token set resubscribed.

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alejandrodnm/polyhedge/internal/ports"
)

// BookStream implements ports.BookStream.
type BookStream struct {
	url        string
	dialer     *websocket.Dialer
	pingEvery  time.Duration
	minBackoff time.Duration
	maxBackoff time.Duration

	mu     sync.Mutex
	tokens []string
	conn   *websocket.Conn

	writeMu sync.Mutex
}

// NewBookStream creates a stream. An empty url uses the production endpoint.
func NewBookStream(url string) *BookStream {
	if url == "" {
		url = defaultWSURL
	}
	return &BookStream{
		url:        url,
		dialer:     &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		pingEvery:  10 * time.Second,
		minBackoff: time.Second,
		maxBackoff: 30 * time.Second,
	}
}

// WithTiming overrides keepalive and reconnect timing (tests).
func (s *BookStream) WithTiming(ping, minBackoff, maxBackoff time.Duration) *BookStream {
	s.pingEvery = ping
	s.minBackoff = minBackoff
	s.maxBackoff = maxBackoff
	return s
}

// SetTokens replaces the token set and resubscribes a live connection.
func (s *BookStream) SetTokens(tokenIDs []string) {
	s.mu.Lock()
	s.tokens = append([]string(nil), tokenIDs...)
	conn := s.conn
	tokens := s.tokens
	s.mu.Unlock()
	if conn == nil {
		return
	}
	if err := s.subscribe(conn, tokens); err != nil {
		slog.Warn("stream: resubscribe failed", "tokens", len(tokens), "err", err)
	}
}

// Run delivers quote updates until ctx is done.
func (s *BookStream) Run(ctx context.Context, out chan<- ports.QuoteUpdate) error {
	backoff := s.minBackoff
	for {
		start := time.Now()
		err := s.session(ctx, out)
		if ctx.Err() != nil {
			return nil
		}
		// A session that stayed up a while earns a fresh backoff.
		if time.Since(start) > s.maxBackoff {
			backoff = s.minBackoff
		}
		slog.Warn("stream: disconnected, reconnecting", "err", err, "in", backoff)
		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
		backoff = min(backoff*2, s.maxBackoff)
	}
}

// session runs one connection until it fails or ctx ends.
func (s *BookStream) session(ctx context.Context, out chan<- ports.QuoteUpdate) error {
	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	s.mu.Lock()
	s.conn = conn
	tokens := s.tokens
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
		conn.Close()
	}()

	if err := s.subscribe(conn, tokens); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	slog.Info("stream: connected", "tokens", len(tokens))

	done := make(chan struct{})
	defer close(done)
	go s.keepalive(ctx, conn, done)

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		for _, u := range parseMarketMessage(msg) {
			select {
			case out <- u:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// keepalive pings on a timer and closes the connection when ctx ends so the
// blocked read returns.
func (s *BookStream) keepalive(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(s.pingEvery)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			conn.Close()
			return
		case <-ticker.C:
			if err := s.write(conn, websocket.TextMessage, []byte("PING")); err != nil {
				slog.Debug("stream: ping failed", "err", err)
				conn.Close()
				return
			}
		}
	}
}

func (s *BookStream) subscribe(conn *websocket.Conn, tokens []string) error {
	if len(tokens) == 0 {
		return nil
	}
	b, err := json.Marshal(wsSubscribe{AssetsIDs: tokens, Type: "market"})
	if err != nil {
		return err
	}
	return s.write(conn, websocket.TextMessage, b)
}

func (s *BookStream) write(conn *websocket.Conn, kind int, b []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(kind, b)
}

// parseMarketMessage extracts top-of-book updates from one frame. Book
// snapshots may arrive batched in a JSON array.
func parseMarketMessage(msg []byte) []ports.QuoteUpdate {
	msg = bytes.TrimSpace(msg)
	if len(msg) == 0 || msg[0] == 'P' { // PING / PONG
		return nil
	}
	if msg[0] == '[' {
		var frames []json.RawMessage
		if err := json.Unmarshal(msg, &frames); err != nil {
			slog.Debug("stream: bad frame", "err", err)
			return nil
		}
		var out []ports.QuoteUpdate
		for _, f := range frames {
			out = append(out, parseMarketEvent(f)...)
		}
		return out
	}
	return parseMarketEvent(msg)
}

func parseMarketEvent(raw []byte) []ports.QuoteUpdate {
	var env wsEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil
	}
	switch env.EventType {
	case "book":
		var b wsBook
		if err := json.Unmarshal(raw, &b); err != nil || b.AssetID == "" {
			return nil
		}
		ob := mapOrderBook(b.AssetID, b.Bids, b.Asks)
		return []ports.QuoteUpdate{{TokenID: b.AssetID, BestBid: ob.BestBid(), BestAsk: ob.BestAsk()}}
	case "price_change":
		var pc wsPriceChange
		if err := json.Unmarshal(raw, &pc); err != nil {
			return nil
		}
		out := make([]ports.QuoteUpdate, 0, len(pc.PriceChanges))
		for _, c := range pc.PriceChanges {
			if c.AssetID == "" {
				continue
			}
			bid, _ := strconv.ParseFloat(c.BestBid, 64)
			ask, _ := strconv.ParseFloat(c.BestAsk, 64)
			if bid <= 0 && ask <= 0 {
				continue
			}
			out = append(out, ports.QuoteUpdate{TokenID: c.AssetID, BestBid: bid, BestAsk: ask})
		}
		return out
	}
	return nil
}

var (
	_ ports.BookStream     = (*BookStream)(nil)
	_ ports.Exchange       = (*TradingClient)(nil)
	_ ports.PositionSource = (*TradingClient)(nil)
	_ ports.MarketProvider = (*Client)(nil)
	_ ports.BookProvider   = (*Client)(nil)
	_ ports.DepthSource    = (*Client)(nil)
)
