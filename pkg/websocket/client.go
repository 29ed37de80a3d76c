// Package websocket provides the connection layer feed adapters run on: one
// client per provider with a JSON subscribe handshake, raw frame delivery on
// a buffered channel, ping/pong read deadlines and jittered exponential
// reconnect. Frame decoding stays with the adapter; the client only moves
// bytes.
package websocket

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	defaultDialTimeout     = 10 * time.Second
	defaultPongTimeout     = 30 * time.Second
	defaultPingInterval    = 15 * time.Second
	defaultReconnectFloor  = 500 * time.Millisecond
	defaultReconnectCeil   = 30 * time.Second
	defaultBackoffMult     = 2.0
	defaultFrameBufferSize = 1024
)

// Config holds the configuration for one feed connection.
type Config struct {
	// Name identifies the provider in logs and metrics.
	Name string
	URL  string

	Logger *zap.Logger

	DialTimeout           time.Duration
	PongTimeout           time.Duration
	PingInterval          time.Duration
	ReconnectInitialDelay time.Duration
	ReconnectMaxDelay     time.Duration
	ReconnectBackoffMult  float64
	FrameBufferSize       int
}

// Client owns a single provider connection. Raw frames arrive on Frames();
// the read loop never blocks on a slow consumer, it drops and counts.
type Client struct {
	name         string
	url          string
	logger       *zap.Logger
	reconnectMgr *ReconnectManager

	dialTimeout  time.Duration
	pongTimeout  time.Duration
	pingInterval time.Duration

	frames chan []byte

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu   sync.RWMutex
	conn *websocket.Conn
	// subscriptions are replayed in order after every reconnect.
	subscriptions []interface{}

	writeMu sync.Mutex

	connected       atomic.Bool
	connectionStart atomic.Int64
	closeOnce       sync.Once
}

// New creates a new feed client.
func New(cfg *Config) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	if cfg.Name == "" {
		return nil, fmt.Errorf("name cannot be empty")
	}

	if cfg.URL == "" {
		return nil, fmt.Errorf("url cannot be empty")
	}

	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = defaultDialTimeout
	}

	pongTimeout := cfg.PongTimeout
	if pongTimeout <= 0 {
		pongTimeout = defaultPongTimeout
	}

	pingInterval := cfg.PingInterval
	if pingInterval <= 0 {
		pingInterval = defaultPingInterval
	}

	initialDelay := cfg.ReconnectInitialDelay
	if initialDelay <= 0 {
		initialDelay = defaultReconnectFloor
	}

	maxDelay := cfg.ReconnectMaxDelay
	if maxDelay <= 0 {
		maxDelay = defaultReconnectCeil
	}

	backoffMult := cfg.ReconnectBackoffMult
	if backoffMult <= 1 {
		backoffMult = defaultBackoffMult
	}

	bufferSize := cfg.FrameBufferSize
	if bufferSize <= 0 {
		bufferSize = defaultFrameBufferSize
	}

	logger := cfg.Logger.With(zap.String("feed", cfg.Name))
	ctx, cancel := context.WithCancel(context.Background())

	return &Client{
		name:   cfg.Name,
		url:    cfg.URL,
		logger: logger,
		reconnectMgr: NewReconnectManager(ReconnectConfig{
			Name:              cfg.Name,
			InitialDelay:      initialDelay,
			MaxDelay:          maxDelay,
			BackoffMultiplier: backoffMult,
			JitterPercent:     0.2,
		}, logger),
		dialTimeout:  dialTimeout,
		pongTimeout:  pongTimeout,
		pingInterval: pingInterval,
		frames:       make(chan []byte, bufferSize),
		ctx:          ctx,
		cancel:       cancel,
	}, nil
}

// Start dials the provider and launches the read, ping and reconnect loops.
func (c *Client) Start() error {
	c.logger.Info("feed-client-starting", zap.String("url", c.url))

	if err := c.connect(c.ctx); err != nil {
		return fmt.Errorf("initial connection: %w", err)
	}

	c.wg.Add(3)
	go c.readLoop()
	go c.pingLoop()
	go c.reconnectLoop()

	return nil
}

func (c *Client) connect(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: c.dialTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	// Pongs extend the read deadline; a silent peer fails the read loop and
	// triggers reconnect.
	if err := conn.SetReadDeadline(time.Now().Add(c.pongTimeout)); err != nil {
		conn.Close()

		return fmt.Errorf("set read deadline: %w", err)
	}

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.pongTimeout))
	})

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	c.connected.Store(true)
	c.connectionStart.Store(time.Now().Unix())
	ActiveConnections.WithLabelValues(c.name).Set(1)

	c.logger.Info("feed-connected")

	return nil
}

// Subscribe sends a provider subscribe payload and records it for replay
// after reconnects.
func (c *Client) Subscribe(payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal subscribe payload: %w", err)
	}

	c.mu.Lock()
	c.subscriptions = append(c.subscriptions, payload)
	total := len(c.subscriptions)
	c.mu.Unlock()

	if err := c.writeMessage(data); err != nil {
		c.mu.Lock()
		c.subscriptions = c.subscriptions[:len(c.subscriptions)-1]
		total = len(c.subscriptions)
		c.mu.Unlock()

		SubscriptionCount.WithLabelValues(c.name).Set(float64(total))

		return fmt.Errorf("write subscribe payload: %w", err)
	}

	SubscriptionCount.WithLabelValues(c.name).Set(float64(total))
	c.logger.Info("feed-subscribed", zap.Int("total", total))

	return nil
}

func (c *Client) writeMessage(data []byte) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil || !c.connected.Load() {
		return fmt.Errorf("not connected")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	return conn.WriteMessage(websocket.TextMessage, data)
}

// Frames returns the raw frame channel. Closed by Close.
func (c *Client) Frames() <-chan []byte {
	return c.frames
}

// Connected reports whether the connection is currently up.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

func (c *Client) readLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()

		if conn == nil {
			time.Sleep(100 * time.Millisecond)

			continue
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}

			c.logger.Warn("feed-read-error", zap.Error(err))

			if start := c.connectionStart.Load(); start > 0 {
				ConnectionDuration.WithLabelValues(c.name).
					Observe(time.Since(time.Unix(start, 0)).Seconds())
			}

			c.connected.Store(false)
			ActiveConnections.WithLabelValues(c.name).Set(0)

			return
		}

		FramesReceivedTotal.WithLabelValues(c.name).Inc()

		select {
		case c.frames <- message:
		default:
			c.logger.Warn("feed-frame-dropped", zap.Int("bytes", len(message)))
			FramesDroppedTotal.WithLabelValues(c.name, "channel_full").Inc()
		}
	}
}

func (c *Client) pingLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if !c.connected.Load() {
				continue
			}

			c.mu.RLock()
			conn := c.conn
			c.mu.RUnlock()

			if conn == nil {
				continue
			}

			err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(time.Second))
			if err != nil {
				c.logger.Warn("feed-ping-error", zap.Error(err))
			}
		}
	}
}

func (c *Client) reconnectLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		if c.connected.Load() {
			time.Sleep(time.Second)

			continue
		}

		c.logger.Warn("feed-connection-lost")

		if err := c.reconnectMgr.Reconnect(c.ctx, c.connect); err != nil {
			if c.ctx.Err() != nil {
				return
			}

			c.logger.Error("feed-reconnect-failed", zap.Error(err))

			continue
		}

		if err := c.replaySubscriptions(); err != nil {
			c.logger.Error("feed-resubscribe-failed", zap.Error(err))
			c.connected.Store(false)

			continue
		}

		c.wg.Add(1)
		go c.readLoop()
	}
}

// replaySubscriptions resends every recorded subscribe payload in order.
func (c *Client) replaySubscriptions() error {
	c.mu.RLock()
	payloads := make([]interface{}, len(c.subscriptions))
	copy(payloads, c.subscriptions)
	c.mu.RUnlock()

	for _, payload := range payloads {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal subscribe payload: %w", err)
		}

		if err := c.writeMessage(data); err != nil {
			return fmt.Errorf("write subscribe payload: %w", err)
		}
	}

	if len(payloads) > 0 {
		c.logger.Info("feed-resubscribed", zap.Int("count", len(payloads)))
	}

	return nil
}

// Close tears the connection down and waits for the loops to exit.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.logger.Info("feed-client-closing")

		c.cancel()

		c.mu.RLock()
		if c.conn != nil {
			c.conn.Close()
		}
		c.mu.RUnlock()

		c.wg.Wait()
		close(c.frames)

		c.connected.Store(false)
		ActiveConnections.WithLabelValues(c.name).Set(0)

		c.logger.Info("feed-client-closed")
	})

	return nil
}
