// Package feed supplies live token prices to the engine: a websocket stream
// for tick delivery, an HTTP client for point lookups, and a router that fans
// incoming ticks out to the engine's tick consumers.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/solsignal/tradebot/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second
)

// wsCommand is the subscribe/unsubscribe envelope sent to the price stream.
type wsCommand struct {
	Type   string   `json:"type"`
	Tokens []string `json:"tokens"`
}

// tickMessage is the wire form of one price update.
type tickMessage struct {
	Type      string  `json:"type"`
	TokenMint string  `json:"token_mint"`
	Price     string  `json:"price"`
	Volume24h *string `json:"volume_24h,omitempty"`
	Liquidity *string `json:"liquidity,omitempty"`
	Timestamp int64   `json:"ts"` // Unix milliseconds
}

// WSFeed streams price ticks over a websocket connection. It manages the
// connection lifecycle, re-subscribes after reconnect, and drops malformed
// messages silently.
type WSFeed struct {
	wsURL  string
	logger *slog.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	tokens []string

	closeOnce sync.Once
	done      chan struct{}
}

// NewWSFeed creates a feed client for the given websocket endpoint.
func NewWSFeed(wsURL string, logger *slog.Logger) *WSFeed {
	return &WSFeed{
		wsURL:  wsURL,
		logger: logger.With(slog.String("component", "ws_feed")),
		done:   make(chan struct{}),
	}
}

// Stream connects, subscribes to the given tokens, and yields ticks on the
// returned channel until ctx is cancelled. Disconnects trigger reconnection
// with exponential backoff; the channel is closed only on cancellation or
// Close.
func (f *WSFeed) Stream(ctx context.Context, tokenMints []string) (<-chan domain.PriceTick, error) {
	f.mu.Lock()
	f.tokens = append([]string(nil), tokenMints...)
	f.mu.Unlock()

	out := make(chan domain.PriceTick, 256)

	go func() {
		defer close(out)
		delay := reconnectDelay
		for {
			select {
			case <-ctx.Done():
				return
			case <-f.done:
				return
			default:
			}

			err := f.runConnection(ctx, out)
			if err == nil || ctx.Err() != nil {
				return
			}
			select {
			case <-f.done:
				return
			default:
			}

			f.logger.Warn("feed disconnected, reconnecting",
				slog.String("error", err.Error()),
				slog.Duration("delay", delay))

			select {
			case <-ctx.Done():
				return
			case <-f.done:
				return
			case <-time.After(delay):
			}
			delay *= 2
			if delay > maxReconnectDelay {
				delay = maxReconnectDelay
			}
		}
	}()

	return out, nil
}

// Subscribe adds tokens to the live subscription. New tokens take effect
// immediately on the open connection and survive reconnects.
func (f *WSFeed) Subscribe(tokenMints []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	known := make(map[string]struct{}, len(f.tokens))
	for _, t := range f.tokens {
		known[t] = struct{}{}
	}
	var added []string
	for _, t := range tokenMints {
		if _, ok := known[t]; !ok {
			f.tokens = append(f.tokens, t)
			added = append(added, t)
		}
	}
	if len(added) == 0 || f.conn == nil {
		return nil
	}
	return f.send(wsCommand{Type: "subscribe", Tokens: added})
}

func (f *WSFeed) runConnection(ctx context.Context, out chan<- domain.PriceTick) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.wsURL, nil)
	if err != nil {
		return fmt.Errorf("feed: connect: %w", err)
	}

	f.mu.Lock()
	f.conn = conn
	tokens := append([]string(nil), f.tokens...)
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.conn = nil
		f.mu.Unlock()
		conn.Close()
	}()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	if len(tokens) > 0 {
		f.mu.Lock()
		err := f.send(wsCommand{Type: "subscribe", Tokens: tokens})
		f.mu.Unlock()
		if err != nil {
			return fmt.Errorf("feed: subscribe: %w", err)
		}
	}
	f.logger.Info("feed subscribed", slog.Int("tokens", len(tokens)))

	// Ping loop tied to this connection.
	pingCtx, cancelPing := context.WithCancel(ctx)
	defer cancelPing()
	go f.pingLoop(pingCtx, conn)

	// Close the connection when the caller cancels so ReadMessage unblocks.
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-f.done:
			conn.Close()
		case <-pingCtx.Done():
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("feed: read: %w", err)
		}

		tick, ok := parseTick(raw)
		if !ok {
			continue
		}
		select {
		case out <- tick:
		case <-ctx.Done():
			return nil
		}
	}
}

// send writes a JSON command. Caller must hold f.mu.
func (f *WSFeed) send(cmd wsCommand) error {
	if f.conn == nil {
		return fmt.Errorf("feed: not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeWait))
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("feed: marshal command: %w", err)
	}
	return f.conn.WriteMessage(websocket.TextMessage, data)
}

func (f *WSFeed) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Close stops the feed permanently.
func (f *WSFeed) Close() error {
	f.closeOnce.Do(func() { close(f.done) })
	return nil
}

// parseTick converts a raw message into a tick. Non-tick and malformed
// messages are dropped.
func parseTick(raw []byte) (domain.PriceTick, bool) {
	var msg tickMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return domain.PriceTick{}, false
	}
	if msg.Type != "tick" || msg.TokenMint == "" {
		return domain.PriceTick{}, false
	}
	price, err := decimal.NewFromString(msg.Price)
	if err != nil || price.Sign() <= 0 {
		return domain.PriceTick{}, false
	}

	tick := domain.PriceTick{
		TokenMint: msg.TokenMint,
		Price:     price,
		Source:    "ws",
		Timestamp: time.UnixMilli(msg.Timestamp),
	}
	if msg.Volume24h != nil {
		if v, err := decimal.NewFromString(*msg.Volume24h); err == nil {
			tick.Volume24h = &v
		}
	}
	if msg.Liquidity != nil {
		if l, err := decimal.NewFromString(*msg.Liquidity); err == nil {
			tick.Liquidity = &l
		}
	}
	return tick, true
}
