package feed

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// MetricsCallback receives counter increments from the client. Optional.
type MetricsCallback func(metric string, value float64, tags map[string]string)

// Config holds the feed connection settings.
type Config struct {
	URL        string
	APIKey     string
	APISecret  string
	Passphrase string

	// Channel is the depth channel to subscribe on, "books" by default.
	Channel string

	PingInterval   time.Duration
	ReconnectDelay time.Duration
	BufferSize     int
}

func (c *Config) withDefaults() {
	if c.Channel == "" {
		c.Channel = "books"
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = 5 * time.Second
	}
	if c.BufferSize <= 0 {
		c.BufferSize = 256
	}
}

// Client keeps a durable, authenticated connection to the depth feed and
// delivers normalized updates over a bounded channel. Transport failures are
// never fatal: while reconnection is enabled, every disconnect is followed by
// a fixed-delay fresh connect-and-resubscribe cycle.
type Client struct {
	cfg Config

	mu              sync.RWMutex
	conn            *websocket.Conn
	connClosed      chan struct{}
	connected       bool
	shouldReconnect bool
	subscriptions   map[string]struct{}

	writeMu sync.Mutex

	updates    chan Update
	reconnects chan struct{}
	done       chan struct{}

	metrics MetricsCallback

	stopOnce sync.Once
}

// NewClient creates a client; Start establishes the connection.
func NewClient(cfg Config) *Client {
	cfg.withDefaults()
	return &Client{
		cfg:           cfg,
		subscriptions: make(map[string]struct{}),
		updates:       make(chan Update, cfg.BufferSize),
		reconnects:    make(chan struct{}, 1),
		done:          make(chan struct{}),
	}
}

// SetMetricsCallback installs the metrics hook. Must be called before Start.
func (c *Client) SetMetricsCallback(cb MetricsCallback) {
	c.metrics = cb
}

// Updates is the bounded delivery channel. Consumers that fall behind cause
// drops on the feed side, never backpressure into the read loop.
func (c *Client) Updates() <-chan Update {
	return c.updates
}

// Reconnects signals each connection loss while reconnection is enabled, so
// the consumer can apply its resync policy.
func (c *Client) Reconnects() <-chan struct{} {
	return c.reconnects
}

// Start launches the connection loop in the background.
func (c *Client) Start(ctx context.Context) {
	c.mu.Lock()
	c.shouldReconnect = true
	c.mu.Unlock()
	go c.run(ctx)
}

// Stop disables reconnection and tears the connection down. In-flight
// messages are discarded.
func (c *Client) Stop() {
	c.mu.Lock()
	c.shouldReconnect = false
	conn := c.conn
	c.conn = nil
	c.connected = false
	c.mu.Unlock()

	c.stopOnce.Do(func() { close(c.done) })
	if conn != nil {
		conn.Close()
	}
	log.Info().Msg("Feed client stopped")
}

// IsConnected reports the current transport state.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Subscribe adds symbol to the subscription set. If connected the protocol
// message is sent immediately; otherwise the set is replayed on the next
// connect. Idempotent.
func (c *Client) Subscribe(symbol string) {
	c.mu.Lock()
	c.subscriptions[symbol] = struct{}{}
	connected := c.connected
	c.mu.Unlock()

	if connected {
		if err := c.sendChannelOp("subscribe", symbol); err != nil {
			log.Warn().Err(err).Str("symbol", symbol).Msg("Subscribe send failed, will replay on reconnect")
		}
	}
}

// Unsubscribe removes symbol from the subscription set. Disconnected clients
// just update the set; no send is attempted and no error is raised.
func (c *Client) Unsubscribe(symbol string) {
	c.mu.Lock()
	_, present := c.subscriptions[symbol]
	delete(c.subscriptions, symbol)
	connected := c.connected
	c.mu.Unlock()

	if !present || !connected {
		return
	}
	if err := c.sendChannelOp("unsubscribe", symbol); err != nil {
		log.Warn().Err(err).Str("symbol", symbol).Msg("Unsubscribe send failed")
	}
}

// Subscriptions returns the current intended symbol set.
func (c *Client) Subscriptions() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.subscriptions))
	for sym := range c.subscriptions {
		out = append(out, sym)
	}
	return out
}

func (c *Client) reconnectEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.shouldReconnect
}

func (c *Client) run(ctx context.Context) {
	for {
		if ctx.Err() != nil || !c.reconnectEnabled() {
			return
		}

		if err := c.connect(ctx); err != nil {
			log.Warn().Err(err).Str("url", c.cfg.URL).Msg("Feed connect failed")
			c.count("feed_connect_failures_total", nil)
			if !c.waitReconnect(ctx) {
				return
			}
			continue
		}

		c.readLoop()

		c.mu.Lock()
		if c.conn != nil {
			c.conn.Close()
			c.conn = nil
		}
		c.connected = false
		c.mu.Unlock()

		if ctx.Err() != nil || !c.reconnectEnabled() {
			return
		}

		log.Info().Dur("delay", c.cfg.ReconnectDelay).Msg("Feed disconnected, reconnecting")
		c.count("feed_reconnects_total", nil)
		select {
		case c.reconnects <- struct{}{}:
		default:
		}
		if !c.waitReconnect(ctx) {
			return
		}
	}
}

func (c *Client) waitReconnect(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-c.done:
		return false
	case <-time.After(c.cfg.ReconnectDelay):
		return true
	}
}

// connect dials the endpoint, authenticates when credentials are configured,
// replays the full subscription set and starts the keep-alive loop.
func (c *Client) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}

	connClosed := make(chan struct{})

	c.mu.Lock()
	c.conn = conn
	c.connClosed = connClosed
	c.connected = true
	symbols := make([]string, 0, len(c.subscriptions))
	for sym := range c.subscriptions {
		symbols = append(symbols, sym)
	}
	c.mu.Unlock()

	if c.cfg.APIKey != "" && c.cfg.APISecret != "" {
		if err := c.login(); err != nil {
			conn.Close()
			return fmt.Errorf("login: %w", err)
		}
	}

	for _, sym := range symbols {
		if err := c.sendChannelOp("subscribe", sym); err != nil {
			conn.Close()
			return fmt.Errorf("resubscribe %s: %w", sym, err)
		}
	}

	go c.pingLoop(connClosed)

	log.Info().Str("url", c.cfg.URL).Strs("symbols", symbols).Msg("Feed connected")
	c.count("feed_connects_total", nil)
	return nil
}

func (c *Client) login() error {
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	req := opRequest{
		Op: "login",
		Args: []any{loginArg{
			APIKey:     c.cfg.APIKey,
			Passphrase: c.cfg.Passphrase,
			Timestamp:  timestamp,
			Sign:       signLogin(c.cfg.APISecret, timestamp),
		}},
	}
	if err := c.writeJSON(req); err != nil {
		return err
	}
	log.Info().Msg("Sent feed authentication request")
	return nil
}

// pingLoop sends an application-level ping on a fixed cadence regardless of
// other traffic, until the connection goes away.
func (c *Client) pingLoop(connClosed <-chan struct{}) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-connClosed:
			return
		case <-ticker.C:
			if err := c.writeJSON(opRequest{Op: "ping"}); err != nil {
				log.Warn().Err(err).Msg("Feed ping failed")
				return
			}
		}
	}
}

// readLoop consumes frames until the transport errors or closes. One bad
// message never halts the loop.
func (c *Client) readLoop() {
	c.mu.RLock()
	conn := c.conn
	connClosed := c.connClosed
	c.mu.RUnlock()
	if conn == nil {
		return
	}
	defer close(connClosed)

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			log.Warn().Err(err).Msg("Feed read loop closed")
			c.count("feed_read_errors_total", nil)
			return
		}

		receivedAt := time.Now()
		payload, err := decodeFrame(data, msgType == websocket.BinaryMessage)
		if err != nil {
			log.Warn().Err(err).Msg("Dropping undecodable feed frame")
			c.count("feed_malformed_total", map[string]string{"stage": "decode"})
			continue
		}

		if string(payload) == "pong" {
			continue
		}

		env, err := parseEnvelope(payload)
		if err != nil {
			log.Warn().Err(err).Msg("Dropping unparsable feed message")
			c.count("feed_malformed_total", map[string]string{"stage": "parse"})
			continue
		}

		c.handleEnvelope(env, receivedAt)
	}
}

func (c *Client) handleEnvelope(env *envelope, receivedAt time.Time) {
	switch {
	case env.Event == "error":
		log.Error().Str("code", env.Code).Str("msg", env.Msg).Msg("Feed error event")
	case env.Event == "subscribe":
		if env.Arg != nil {
			log.Info().Str("channel", env.Arg.Channel).Str("symbol", env.Arg.InstID).Msg("Subscription confirmed")
		}
	case env.Event == "unsubscribe":
		if env.Arg != nil {
			log.Info().Str("channel", env.Arg.Channel).Str("symbol", env.Arg.InstID).Msg("Unsubscription confirmed")
		}
	case env.Event == "login":
		log.Info().Msg("Feed authentication confirmed")
	case env.Event != "":
		log.Debug().Str("event", env.Event).Msg("Ignoring feed control event")
	case len(env.Data) > 0 && env.Arg != nil && isBookChannel(env.Arg.Channel):
		for _, item := range env.Data {
			update, err := normalizeUpdate(env.Arg.InstID, item, receivedAt)
			if err != nil {
				log.Warn().Err(err).Str("symbol", env.Arg.InstID).Msg("Dropping malformed depth payload")
				c.count("feed_malformed_total", map[string]string{"stage": "normalize"})
				continue
			}
			c.deliver(update)
		}
	}
}

// deliver hands the update off without ever blocking the read loop; a full
// buffer drops the update.
func (c *Client) deliver(update Update) {
	select {
	case c.updates <- update:
		c.count("feed_updates_total", map[string]string{"symbol": update.Symbol})
	default:
		log.Warn().Str("symbol", update.Symbol).Msg("Update buffer full, dropping depth event")
		c.count("feed_dropped_total", map[string]string{"symbol": update.Symbol})
	}
}

func (c *Client) sendChannelOp(op, symbol string) error {
	req := opRequest{
		Op:   op,
		Args: []any{channelArg{Channel: c.cfg.Channel, InstID: symbol}},
	}
	if err := c.writeJSON(req); err != nil {
		return err
	}
	log.Info().Str("op", op).Str("symbol", symbol).Msg("Sent channel request")
	return nil
}

func (c *Client) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return fmt.Errorf("not connected")
	}
	return conn.WriteJSON(v)
}

func (c *Client) count(metric string, tags map[string]string) {
	if c.metrics != nil {
		c.metrics(metric, 1, tags)
	}
}
