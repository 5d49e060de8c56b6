// Package stream owns the duplex connection to the detection service. It
// absorbs transport errors into connection state, reconnects with
// exponential backoff while the session is active, and silently drops sends
// while the connection is not open. Callers that cannot afford a dropped
// message must not depend on the live stream alone.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/examguard/examguard/internal/protocol"
)

// State of the connection. Owned exclusively by the Client; outside code
// only observes it.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return "disconnected"
	}
}

// ErrServiceUnavailable is surfaced through OnTerminal once the reconnect
// attempt cap is exhausted.
var ErrServiceUnavailable = errors.New("detection service unavailable")

// Handler receives every decoded inbound envelope. The client reads the
// current handler at dispatch time, so replacing it mid-session takes
// effect for the next message.
type Handler func(env protocol.Envelope)

// Stats are cumulative connection counters.
type Stats struct {
	MessagesSent    uint64
	MessagesDropped uint64
	Reconnects      uint64
}

// Config for a streaming client.
type Config struct {
	// Endpoint is the ws:// or wss:// base URL of the detection service.
	Endpoint  string
	SessionID string

	Heartbeat   time.Duration
	BackoffBase time.Duration
	BackoffCap  time.Duration
	MaxAttempts int

	// HealthyAfter is how long a connection must stay open before the
	// backoff schedule resets. A connection dropped sooner counts
	// against MaxAttempts like a failed dial, so a flapping service is
	// backed off instead of redialed in a tight loop.
	HealthyAfter time.Duration

	// OnTerminal is called once when the retry cap is exceeded.
	OnTerminal func(error)
	// OnStateChange observes every state transition (optional).
	OnStateChange func(State)
}

// Client is a reconnecting WebSocket client for one proctoring session.
type Client struct {
	cfg    Config
	dialer *websocket.Dialer
	log    *slog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	state   State
	changed chan struct{}
	handler Handler
	active  bool

	wmu sync.Mutex // serializes writes to conn

	sent      atomic.Uint64
	dropped   atomic.Uint64
	reconnect atomic.Uint64
}

// New creates a client. Connect starts it.
func New(cfg Config) *Client {
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = 30 * time.Second
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = 30 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 50
	}
	if cfg.HealthyAfter <= 0 {
		cfg.HealthyAfter = 30 * time.Second
	}
	return &Client{
		cfg:     cfg,
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		log:     slog.Default().With("component", "stream", "session_id", cfg.SessionID),
		changed: make(chan struct{}),
	}
}

// URL returns the session's WebSocket URL.
func (c *Client) URL() string {
	return fmt.Sprintf("%s/ws/proctoring/%s", c.cfg.Endpoint, c.cfg.SessionID)
}

// Connect starts the connection manager. It returns immediately; use
// WaitOpen to block for an open connection.
func (c *Client) Connect(ctx context.Context) {
	c.mu.Lock()
	if c.active {
		c.mu.Unlock()
		return
	}
	c.active = true
	c.mu.Unlock()

	go c.run(ctx)
}

func (c *Client) run(ctx context.Context) {
	attempt := 0
	for {
		if ctx.Err() != nil || !c.isActive() {
			return
		}

		c.setState(StateConnecting)
		conn, _, err := c.dialer.DialContext(ctx, c.URL(), nil)
		if err != nil {
			c.setState(StateDisconnected)
			attempt++
			if !c.backoff(ctx, attempt, "connect failed, backing off", err) {
				return
			}
			continue
		}

		openedAt := time.Now()
		c.attach(conn)
		c.log.Info("connected", "url", c.URL())

		hbDone := make(chan struct{})
		go c.heartbeat(hbDone)

		readErr := c.readLoop(conn)
		close(hbDone)
		c.detach(conn)

		if !c.isActive() {
			// Explicit disconnect; detach already moved us to Disconnected.
			return
		}
		c.reconnect.Add(1)

		// Only a connection that survived HealthyAfter resets the
		// schedule; an accept-then-drop service walks the same backoff
		// curve as one refusing dials outright.
		if time.Since(openedAt) >= c.cfg.HealthyAfter {
			attempt = 0
		}
		attempt++
		if !c.backoff(ctx, attempt, "connection lost, backing off", readErr) {
			return
		}
	}
}

// backoff sleeps before reconnect attempt n, or terminates the client when
// the attempt cap is reached. Returns false when the run loop must exit.
func (c *Client) backoff(ctx context.Context, attempt int, event string, cause error) bool {
	if attempt >= c.cfg.MaxAttempts {
		c.log.Error("reconnect attempts exhausted", "attempts", attempt)
		c.terminate()
		return false
	}
	delay := Backoff(attempt, c.cfg.BackoffBase, c.cfg.BackoffCap)
	c.log.Warn(event, "attempt", attempt, "delay", delay, "error", cause)
	return c.sleep(ctx, delay)
}

// Backoff returns the delay before reconnect attempt n (1-based):
// base, 2·base, 4·base, … capped.
func Backoff(attempt int, base, cap time.Duration) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	if d > cap {
		return cap
	}
	return d
}

// Send transmits a message when the connection is open. A send while not
// open is dropped, not an error. A message that fails validation is never
// sent and the error is returned to the caller.
func (c *Client) Send(msg any) error {
	if err := validate(msg); err != nil {
		return fmt.Errorf("invalid outbound message: %w", err)
	}

	c.mu.Lock()
	conn := c.conn
	open := c.state == StateOpen
	c.mu.Unlock()

	if !open || conn == nil {
		c.dropped.Add(1)
		c.log.Debug("send dropped, connection not open")
		return nil
	}

	c.wmu.Lock()
	err := conn.WriteJSON(msg)
	c.wmu.Unlock()
	if err != nil {
		// The read loop observes the broken connection and drives the
		// state machine; the caller sees a drop, not a failure.
		c.dropped.Add(1)
		c.log.Debug("send failed", "error", err)
		conn.Close()
		return nil
	}
	c.sent.Add(1)
	return nil
}

func validate(msg any) error {
	switch m := msg.(type) {
	case protocol.FrameMessage:
		return protocol.ValidateFrame(m)
	case protocol.AudioMessage:
		return protocol.ValidateAudio(m)
	case protocol.BrowserActivityMessage:
		return protocol.ValidateBrowserActivity(m)
	default:
		return nil
	}
}

// SetHandler replaces the inbound message handler. Safe to call at any
// time; the next dispatched message sees the new handler.
func (c *Client) SetHandler(h Handler) {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
}

// Disconnect closes the connection and stops reconnecting. Idempotent.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return
	}
	c.active = false
	conn := c.conn
	closing := c.state == StateOpen
	c.mu.Unlock()

	if closing {
		c.setState(StateClosing)
	}
	if conn != nil {
		c.wmu.Lock()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.wmu.Unlock()
		conn.Close()
	}
	c.setState(StateDisconnected)
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// WaitOpen blocks until the connection is open, the timeout elapses, or
// ctx is cancelled. Returns true when open.
func (c *Client) WaitOpen(ctx context.Context, timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		c.mu.Lock()
		if c.state == StateOpen {
			c.mu.Unlock()
			return true
		}
		ch := c.changed
		c.mu.Unlock()

		select {
		case <-ch:
		case <-deadline.C:
			return false
		case <-ctx.Done():
			return false
		}
	}
}

// Stats returns cumulative counters.
func (c *Client) Stats() Stats {
	return Stats{
		MessagesSent:    c.sent.Load(),
		MessagesDropped: c.dropped.Load(),
		Reconnects:      c.reconnect.Load(),
	}
}

func (c *Client) isActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

func (c *Client) attach(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.setState(StateOpen)
}

func (c *Client) detach(conn *websocket.Conn) {
	conn.Close()
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	c.setState(StateDisconnected)
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	close(c.changed)
	c.changed = make(chan struct{})
	notify := c.cfg.OnStateChange
	c.mu.Unlock()

	if notify != nil {
		notify(s)
	}
}

func (c *Client) terminate() {
	c.setState(StateDisconnected)
	c.mu.Lock()
	c.active = false
	cb := c.cfg.OnTerminal
	c.mu.Unlock()
	if cb != nil {
		cb(ErrServiceUnavailable)
	}
}

// sleep waits for d, the context, or an explicit disconnect. Returns false
// when the wait was interrupted.
func (c *Client) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	check := time.NewTicker(50 * time.Millisecond)
	defer check.Stop()

	for {
		select {
		case <-t.C:
			return true
		case <-ctx.Done():
			return false
		case <-check.C:
			if !c.isActive() {
				return false
			}
		}
	}
}

func (c *Client) readLoop(conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.log.Warn("malformed inbound message ignored", "error", err)
			continue
		}

		switch env.Type {
		case protocol.TypePong:
			c.log.Debug("pong received")
		case protocol.TypeDetectionResult, protocol.TypeViolation,
			protocol.TypeAudioLevel, protocol.TypeDetectionSkipped,
			protocol.TypeError:
			c.dispatch(env)
		default:
			c.log.Warn("unknown inbound message type ignored", "type", env.Type)
		}
	}
}

func (c *Client) dispatch(env protocol.Envelope) {
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	if h != nil {
		h(env)
	}
}

func (c *Client) heartbeat(done <-chan struct{}) {
	t := time.NewTicker(c.cfg.Heartbeat)
	defer t.Stop()

	for {
		select {
		case <-done:
			return
		case <-t.C:
			c.Send(protocol.PingMessage{Type: protocol.TypePing})
		}
	}
}
