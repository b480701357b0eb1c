package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/charlesng35/boardsync/pkg/logger"
	"github.com/charlesng35/boardsync/pkg/metrics"

	apperrors "github.com/charlesng35/boardsync/pkg/errors"
)

// Kind names one of the per-room stream endpoints.
type Kind string

const (
	KindComments Kind = "comments"
	KindChat     Kind = "chat"
)

// State is the connection lifecycle state.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

const (
	defaultBackoffBase      = time.Second
	defaultBackoffCap       = 10 * time.Second
	defaultMaxAttempts      = 5
	defaultHandshakeTimeout = 10 * time.Second
	defaultWriteTimeout     = 10 * time.Second
)

// Config tunes one connection. The zero value is completed with defaults.
type Config struct {
	BaseURL          string
	BackoffBase      time.Duration
	BackoffCap       time.Duration
	MaxAttempts      int
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	Header           http.Header
}

func (c Config) withDefaults() Config {
	if c.BackoffBase <= 0 {
		c.BackoffBase = defaultBackoffBase
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = defaultBackoffCap
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = defaultHandshakeTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	return c
}

type outboundFrame struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Conn is the handle for one persistent (room, stream-kind) connection. It is
// returned by Open and passed around explicitly; there is no process-wide
// current-connection reference.
type Conn struct {
	kind       Kind
	roomID     string
	endpoint   string
	cfg        Config
	dispatcher *Dispatcher
	log        *zap.Logger

	mu       sync.Mutex
	writeMu  sync.Mutex
	ws       *websocket.Conn
	state    State
	attempt  int
	retry    *time.Timer
	dialing  bool
	disposed bool
}

// Open derives the stream endpoint for the room and starts connecting. It
// returns immediately; connectivity progress is published on the dispatcher.
func Open(roomID string, kind Kind, cfg Config, dispatcher *Dispatcher) (*Conn, error) {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return nil, errors.New("stream: room id is required")
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("stream: base url is required")
	}
	if dispatcher == nil {
		return nil, errors.New("stream: dispatcher is required")
	}

	cfg = cfg.withDefaults()
	conn := &Conn{
		kind:       kind,
		roomID:     roomID,
		endpoint:   fmt.Sprintf("%s/ws/%s/%s", strings.TrimRight(cfg.BaseURL, "/"), kind, roomID),
		cfg:        cfg,
		dispatcher: dispatcher,
		log:        logger.WithRoom("stream", roomID).With(zap.String("kind", string(kind))),
		state:      StateConnecting,
	}

	go conn.dial()
	return conn, nil
}

// State reports the current lifecycle state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Endpoint returns the derived stream URL.
func (c *Conn) Endpoint() string {
	return c.endpoint
}

// Send writes one typed frame. It reports false without queuing when the
// connection is not open; callers own any user-visible retry.
func (c *Conn) Send(eventType string, data any) bool {
	c.mu.Lock()
	ws := c.ws
	open := c.state == StateOpen && ws != nil
	c.mu.Unlock()

	if !open {
		return false
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if err := ws.WriteJSON(outboundFrame{Type: eventType, Data: data}); err != nil {
		c.log.Warn("outbound frame failed", zap.String("type", eventType), zap.Error(err))
		return false
	}
	return true
}

// Reconnect resets the attempt counter and retries immediately. It is the
// manual escape hatch after automatic retries are exhausted.
func (c *Conn) Reconnect() error {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return apperrors.ErrSessionClosed
	}
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
	c.attempt = 0
	if c.state == StateOpen {
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.mu.Unlock()

	go c.dial()
	return nil
}

// Close disposes the connection: it cancels any pending reconnect timer and
// closes the socket. Safe to call multiple times and from any state.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return nil
	}
	c.disposed = true
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
	ws := c.ws
	c.ws = nil
	c.state = StateClosed
	c.mu.Unlock()

	if ws != nil {
		c.writeMu.Lock()
		_ = ws.SetWriteDeadline(time.Now().Add(time.Second))
		_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		_ = ws.Close()
		metrics.ActiveConnections.WithLabelValues(string(c.kind)).Dec()
	}
	return nil
}

// dial performs one connection attempt. Attempts are serialized: a new dial
// is never issued while a previous one is pending.
func (c *Conn) dial() {
	c.mu.Lock()
	if c.disposed || c.dialing {
		c.mu.Unlock()
		return
	}
	c.dialing = true
	c.mu.Unlock()

	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.HandshakeTimeout}
	ws, resp, err := dialer.Dial(c.endpoint, c.cfg.Header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	c.mu.Lock()
	c.dialing = false
	if c.disposed {
		c.mu.Unlock()
		if err == nil {
			_ = ws.Close()
		}
		return
	}
	if err != nil {
		c.mu.Unlock()
		c.log.Warn("dial failed", zap.Error(err))
		c.scheduleRetry(&apperrors.ConnectionError{Endpoint: c.endpoint, Internal: err})
		return
	}

	c.ws = ws
	c.state = StateOpen
	c.attempt = 0
	c.mu.Unlock()

	metrics.ActiveConnections.WithLabelValues(string(c.kind)).Inc()
	c.log.Info("connected")
	c.dispatcher.publishConn(ConnEvent{Kind: c.kind, State: StateOpen})

	go c.readLoop(ws)
}

// readLoop forwards inbound frames in arrival order. Malformed frames are
// logged and dropped; they never terminate the connection.
func (c *Conn) readLoop(ws *websocket.Conn) {
	for {
		_, payload, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn("unexpected close", zap.Error(err))
			}
			c.dispatcher.publishConn(ConnEvent{
				Kind:  c.kind,
				State: c.State(),
				Err:   &apperrors.ConnectionError{Endpoint: c.endpoint, Internal: err},
			})
			c.handleClose(ws)
			return
		}

		if !json.Valid(payload) {
			metrics.FramesDropped.WithLabelValues(string(c.kind), "invalid_json").Inc()
			c.log.Warn("dropping malformed frame", zap.Int("bytes", len(payload)))
			continue
		}

		c.dispatcher.publishFrame(c.kind, payload)
	}
}

// handleClose owns recovery: it transitions to closed and schedules the next
// attempt unless the retry budget is spent.
func (c *Conn) handleClose(ws *websocket.Conn) {
	c.mu.Lock()
	if c.disposed || c.ws != ws {
		c.mu.Unlock()
		return
	}
	c.ws = nil
	c.state = StateClosed
	c.mu.Unlock()

	_ = ws.Close()
	metrics.ActiveConnections.WithLabelValues(string(c.kind)).Dec()
	c.dispatcher.publishConn(ConnEvent{Kind: c.kind, State: StateClosed})

	c.scheduleRetry(nil)
}

func (c *Conn) scheduleRetry(cause error) {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}

	if c.attempt >= c.cfg.MaxAttempts {
		c.state = StateClosed
		c.mu.Unlock()
		c.log.Error("giving up after max reconnect attempts", zap.Int("attempts", c.cfg.MaxAttempts))
		c.dispatcher.publishConn(ConnEvent{
			Kind:    c.kind,
			State:   StateClosed,
			Attempt: c.cfg.MaxAttempts,
			Err:     apperrors.ErrRetriesExhausted,
		})
		return
	}

	c.attempt++
	attempt := c.attempt
	delay := backoffDelay(attempt, c.cfg.BackoffBase, c.cfg.BackoffCap)
	c.state = StateReconnecting
	c.retry = time.AfterFunc(delay, c.dial)
	c.mu.Unlock()

	metrics.ReconnectAttempts.WithLabelValues(string(c.kind)).Inc()
	c.log.Info("reconnect scheduled",
		zap.Int("attempt", attempt),
		zap.Duration("delay", delay),
		zap.Error(cause))
	c.dispatcher.publishConn(ConnEvent{Kind: c.kind, State: StateReconnecting, Attempt: attempt})
}

// backoffDelay doubles the base per attempt, capped.
func backoffDelay(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= max || delay <= 0 {
			return max
		}
	}
	return delay
}
