// Package push maintains the websocket channel that delivers out-of-band
// watch-entity change notifications. The channel is a small explicit state
// machine (Disconnected -> Connecting -> Open -> Disconnected) with a single
// cancel-and-reschedule reconnect timer.
package push

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/driftwatch/driftwatch/internal/watch"
)

// State is the connection state of the channel.
type State int32

const (
	Disconnected State = iota
	Connecting
	Open
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	default:
		return "disconnected"
	}
}

// DefaultReconnectDelay is the fixed delay between reconnect attempts.
// There is no backoff growth and no retry cap: the channel belongs to a
// long-lived single-tenant session and should keep trying forever.
const DefaultReconnectDelay = 500 * time.Millisecond

const handshakeTimeout = 10 * time.Second

// Handler receives one well-formed push frame. Frames that fail to parse or
// carry an unknown entity kind never reach it.
type Handler func(kind watch.Kind, action watch.Action, data json.RawMessage)

// frame is the wire shape of one push message.
type frame struct {
	Type   string          `json:"type"`
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data"`
}

// Config configures a Channel.
type Config struct {
	URL            string
	Handler        Handler
	ReconnectDelay time.Duration // defaults to DefaultReconnectDelay
	Logger         zerolog.Logger
}

// Channel is a reconnecting websocket client. At most one connection is
// live at a time; a new attempt closes any stale connection first.
type Channel struct {
	url     string
	handler Handler
	delay   time.Duration
	dialer  websocket.Dialer
	logger  zerolog.Logger

	mu     sync.Mutex
	state  State
	conn   *websocket.Conn
	timer  *time.Timer
	gen    uint64
	closed bool
}

// New creates a channel. Call Start to begin connecting.
func New(cfg Config) *Channel {
	delay := cfg.ReconnectDelay
	if delay <= 0 {
		delay = DefaultReconnectDelay
	}
	return &Channel{
		url:     cfg.URL,
		handler: cfg.Handler,
		delay:   delay,
		dialer:  websocket.Dialer{HandshakeTimeout: handshakeTimeout},
		logger:  cfg.Logger.With().Str("component", "push-channel").Logger(),
	}
}

// DeriveURL builds the websocket URL from the page origin and the path of a
// server-advertised push URL. The advertised host may be a container
// internal name, so only its path component is trusted.
func DeriveURL(origin, advertised string) (string, error) {
	originURL, err := url.Parse(origin)
	if err != nil {
		return "", fmt.Errorf("invalid origin %q: %w", origin, err)
	}
	advertisedURL, err := url.Parse(advertised)
	if err != nil {
		return "", fmt.Errorf("invalid push URL %q: %w", advertised, err)
	}

	scheme := "ws"
	if originURL.Scheme == "https" {
		scheme = "wss"
	}
	derived := url.URL{
		Scheme: scheme,
		Host:   originURL.Host,
		Path:   advertisedURL.Path,
	}
	return derived.String(), nil
}

// State returns the current connection state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start schedules an immediate connection attempt.
func (c *Channel) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.reschedule(0)
}

// Stop tears the channel down permanently: the reconnect timer is cancelled
// and any live connection closed.
func (c *Channel) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.state = Disconnected
}

// reschedule cancels any pending reconnect timer and arms a new one.
// Callers must hold c.mu.
func (c *Channel) reschedule(delay time.Duration) {
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(delay, c.connect)
}

// connect performs one connection attempt. It runs on the timer goroutine.
func (c *Channel) connect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	// close any connection a previous attempt left behind
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.state = Connecting
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	c.logger.Debug().Str("url", c.url).Msg("connecting")

	conn, resp, err := c.dialer.Dial(c.url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		c.logger.Warn().Err(err).Msg("connection failed, scheduling reconnect")
		c.mu.Lock()
		if !c.closed && c.gen == gen {
			c.state = Disconnected
			c.reschedule(c.delay)
		}
		c.mu.Unlock()
		return
	}

	c.mu.Lock()
	if c.closed || c.gen != gen {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.state = Open
	c.mu.Unlock()

	c.logger.Info().Str("url", c.url).Msg("connected")

	go c.readLoop(conn, gen)
}

// readLoop consumes frames until the connection drops, then schedules a
// reconnect.
func (c *Channel) readLoop(conn *websocket.Conn, gen uint64) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.onDisconnect(gen, err)
			return
		}
		c.handleFrame(data)
	}
}

func (c *Channel) onDisconnect(gen uint64, cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// a newer connection attempt already superseded this one
	if c.closed || c.gen != gen {
		return
	}

	c.logger.Warn().Err(cause).Msg("connection lost, scheduling reconnect")
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.state = Disconnected
	c.reschedule(c.delay)
}

// handleFrame parses one frame and hands it to the handler. A malformed
// frame or unknown entity kind is logged and dropped; the channel stays
// open.
func (c *Channel) handleFrame(data []byte) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		c.logger.Warn().Err(err).Msg("dropping unparseable push frame")
		return
	}

	kind, err := watch.ParseKind(f.Type)
	if err != nil {
		c.logger.Warn().Str("type", f.Type).Msg("dropping push frame with unknown type")
		return
	}

	if c.handler != nil {
		c.handler(kind, watch.Action(f.Action), f.Data)
	}
}
