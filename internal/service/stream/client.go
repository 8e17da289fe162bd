package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"ChartCache/internal/domain/models"
	drepo "ChartCache/internal/domain/repository"
	applogger "ChartCache/pkg/logger"
	"ChartCache/pkg/util"
)

var ErrNotConnected = errors.New("stream: not connected")

const (
	frameKline = "kline"
	framePing  = "ping"
	framePong  = "pong"
	frameError = "error"
)

// frame is the envelope for every message in both directions. Subscription
// frames carry no data.
type frame struct {
	Type      string        `json:"type"`
	Symbol    string        `json:"symbol,omitempty"`
	Timeframe string        `json:"timeframe,omitempty"`
	Data      *models.Kline `json:"data,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// Config configures Client.
type Config struct {
	URL            string
	APIKey         string
	Symbols        []string
	Timeframe      string
	ReconnectDelay time.Duration
	MaxReconnects  int
	PingInterval   time.Duration
	BufferSize     int
}

// Client implements BarStream over a kline WebSocket feed.
type Client struct {
	cfg    Config
	log    *applogger.Logger
	dialer *websocket.Dialer

	mu        sync.Mutex
	conn      *websocket.Conn
	writeMu   sync.Mutex
	connected atomic.Bool
}

var _ drepo.BarStream = (*Client)(nil)

// New creates a stream client. Zero durations fall back to 1s reconnect
// delay and 30s pings.
func New(cfg Config, log *applogger.Logger) *Client {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = time.Second
	}
	if cfg.MaxReconnects <= 0 {
		cfg.MaxReconnects = 5
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1024
	}
	if cfg.Timeframe == "" {
		cfg.Timeframe = string(drepo.TF1m)
	}
	if log == nil {
		log = applogger.NewNop()
	}
	return &Client{cfg: cfg, log: log, dialer: websocket.DefaultDialer}
}

// Connect establishes the WebSocket connection.
func (c *Client) Connect(ctx context.Context) error {
	header := http.Header{}
	if c.cfg.APIKey != "" {
		header.Set("X-API-Key", c.cfg.APIKey)
	}
	conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		return fmt.Errorf("stream connect: %w", err)
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.connected.Store(true)
	c.log.Info("stream connected", applogger.String("url", c.cfg.URL))
	return nil
}

// Subscribe sends one kline subscription per configured symbol.
func (c *Client) Subscribe(ctx context.Context) error {
	for _, s := range c.cfg.Symbols {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.write(frame{Type: frameKline, Symbol: util.NormalizeSymbol(s), Timeframe: c.cfg.Timeframe}); err != nil {
			return fmt.Errorf("subscribe %s: %w", s, err)
		}
		c.log.Debug("stream subscribed", applogger.String("symbol", s), applogger.String("tf", c.cfg.Timeframe))
	}
	return nil
}

func (c *Client) write(v interface{}) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil || !c.connected.Load() {
		return ErrNotConnected
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(v)
}

func (c *Client) ping() error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
}

// Read streams bar events until the connection fails or ctx ends. The error
// channel receives at most one error and both channels are then closed.
func (c *Client) Read(ctx context.Context) (<-chan models.BarEvent, <-chan error) {
	events := make(chan models.BarEvent, c.cfg.BufferSize)
	errs := make(chan error, 1)
	done := make(chan struct{})

	go func() {
		ticker := time.NewTicker(c.cfg.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-ticker.C:
				if err := c.ping(); err != nil {
					c.log.Debug("stream ping failed", applogger.Error(err))
				}
			}
		}
	}()

	go func() {
		defer close(errs)
		defer close(events)
		defer close(done)

		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			errs <- ErrNotConnected
			return
		}
		// unblock ReadMessage on cancellation
		stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
		defer stop()

		for {
			_, b, err := conn.ReadMessage()
			if err != nil {
				c.connected.Store(false)
				if ctx.Err() != nil {
					return
				}
				errs <- fmt.Errorf("stream read: %w", err)
				return
			}
			ev, ok := c.handle(b)
			if !ok {
				continue
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	return events, errs
}

// handle decodes one frame, answering pings and logging errors.
func (c *Client) handle(b []byte) (models.BarEvent, bool) {
	var f frame
	if err := json.Unmarshal(b, &f); err != nil {
		c.log.Debug("stream frame ignored", applogger.Error(err))
		return models.BarEvent{}, false
	}
	switch f.Type {
	case frameKline:
		if f.Data == nil || f.Symbol == "" {
			return models.BarEvent{}, false
		}
		if f.Timeframe != "" && f.Timeframe != c.cfg.Timeframe {
			return models.BarEvent{}, false
		}
		return models.BarEvent{Symbol: util.NormalizeSymbol(f.Symbol), Bar: f.Data.Bar()}, true
	case framePing:
		if err := c.write(frame{Type: framePong}); err != nil {
			c.log.Debug("stream pong failed", applogger.Error(err))
		}
	case frameError:
		c.log.Warn("stream error frame", applogger.String("error", f.Error))
	}
	return models.BarEvent{}, false
}

// Reconnect closes the connection and retries with exponential backoff,
// delay * 2^(n-1), giving up after MaxReconnects attempts.
func (c *Client) Reconnect(ctx context.Context) error {
	_ = c.Close()
	var err error
	for attempt := 1; attempt <= c.cfg.MaxReconnects; attempt++ {
		delay := c.cfg.ReconnectDelay * time.Duration(1<<uint(attempt-1))
		c.log.Info("stream reconnecting",
			applogger.Int("attempt", attempt),
			applogger.Int("max", c.cfg.MaxReconnects),
			applogger.Duration("delay", delay),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		if err = c.Connect(ctx); err != nil {
			continue
		}
		if err = c.Subscribe(ctx); err != nil {
			_ = c.Close()
			continue
		}
		return nil
	}
	return fmt.Errorf("stream reconnect gave up after %d attempts: %w", c.cfg.MaxReconnects, err)
}

// Close closes the WS connection.
func (c *Client) Close() error {
	c.connected.Store(false)
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

// IsConnected indicates status.
func (c *Client) IsConnected() bool { return c.connected.Load() }
