// Package wssim provides a WebSocket ingest client that connects to a tick
// server (e.g. cmd/tickserver or a third-party quote stream) and feeds ticks
// into a pipeline.
//
// Messages may use several common shapes, for example:
//
//	{"symbol":"OTC-EURUSD","price":1.0842,"ts":1700000000000}
//	[{"s":"OTC-EURUSD","p":1.0842,"t":1700000000000}]
//	1.0842
package wssim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"

	"signalengine/internal/model"
)

// Config holds configuration for the WS ingest.
type Config struct {
	// URL of the tick WebSocket server, e.g. "ws://localhost:9001/ws"
	URL string

	// Symbol is sent in the subscribe handshake and stamped on ticks that
	// carry none.
	Symbol string

	// ReconnectDelay is the initial delay before reconnection attempts.
	// Defaults to 2 seconds if zero.
	ReconnectDelay time.Duration

	// MaxReconnectDelay caps the exponential backoff. Defaults to 30s.
	MaxReconnectDelay time.Duration
}

func (c *Config) defaults() {
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = 2 * time.Second
	}
	if c.MaxReconnectDelay == 0 {
		c.MaxReconnectDelay = 30 * time.Second
	}
}

// Ingest connects to a JSON WebSocket tick server and pushes model.Tick
// values into tickCh.
type Ingest struct {
	cfg Config
	log *slog.Logger

	// Optional hooks.
	OnReconnect    func()
	OnConnected    func(up bool)
	OnInvalid      func(n int)
	OnDroppedTicks func(n int)
}

// New creates a new Ingest. Returns an error if the URL is unparseable or
// not a ws/wss URL.
func New(cfg Config, log *slog.Logger) (*Ingest, error) {
	cfg.defaults()
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("wssim: parse url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("wssim: unsupported scheme %q", u.Scheme)
	}
	return &Ingest{cfg: cfg, log: log.With("component", "wssim", "url", cfg.URL)}, nil
}

// Start connects to the WebSocket and streams ticks into tickCh.
// Blocks until ctx is cancelled. Reconnects automatically on disconnect.
func (ing *Ingest) Start(ctx context.Context, tickCh chan<- model.Tick) error {
	b := &backoff.Backoff{
		Min:    ing.cfg.ReconnectDelay,
		Max:    ing.cfg.MaxReconnectDelay,
		Factor: 2,
		Jitter: true,
	}

	for {
		// Check context before each attempt
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		err := ing.runOnce(ctx, tickCh, b.Reset)
		ing.setConnected(false)
		if err == nil {
			// Context cancelled cleanly
			return nil
		}

		delay := b.Duration()
		ing.log.Warn("disconnected, reconnecting", "error", err, "delay", delay, "attempt", b.Attempt())
		if ing.OnReconnect != nil {
			ing.OnReconnect()
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

func (ing *Ingest) setConnected(up bool) {
	if ing.OnConnected != nil {
		ing.OnConnected(up)
	}
}

// runOnce makes a single connection attempt and reads until disconnect or
// ctx cancel. onConnect runs once the handshake succeeds.
func (ing *Ingest) runOnce(ctx context.Context, tickCh chan<- model.Tick, onConnect func()) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, ing.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	for _, msg := range subscribeMessages(ing.cfg.Symbol) {
		if err := conn.WriteJSON(msg); err != nil {
			return fmt.Errorf("subscribe: %w", err)
		}
	}

	ing.log.Info("connected", "symbol", ing.cfg.Symbol)
	onConnect()
	ing.setConnected(true)

	// Async context watcher — closes the connection when ctx is cancelled.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"))
			conn.Close()
		case <-stop:
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return errors.New("server closed connection")
			}
			return err
		}

		ticks, rejected := ParseMessage(raw, ing.cfg.Symbol, model.NowMillis())
		if rejected > 0 {
			ing.log.Debug("unparseable tick payload", "rejected", rejected, "raw", string(raw))
			if ing.OnInvalid != nil {
				ing.OnInvalid(rejected)
			}
		}

		dropped := 0
		for _, t := range ticks {
			select {
			case tickCh <- t:
			default:
				dropped++
			}
		}
		if dropped > 0 {
			ing.log.Warn("tick channel full, dropping ticks", "dropped", dropped)
			if ing.OnDroppedTicks != nil {
				ing.OnDroppedTicks(dropped)
			}
		}
	}
}
