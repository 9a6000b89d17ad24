package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// State is the lifecycle state of a push-channel connection.
type State int

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Options configures connection behavior.
type Options struct {
	// ReconnectInterval is the delay between reconnect attempts after an
	// unexpected closure.
	ReconnectInterval time.Duration

	// MaxReconnectAttempts caps consecutive failed reconnects. Zero means
	// unbounded. The counter resets every time a connection opens.
	MaxReconnectAttempts int
}

func (o Options) withDefaults() Options {
	if o.ReconnectInterval <= 0 {
		o.ReconnectInterval = 3 * time.Second
	}
	return o
}

// Dialer hands out shared connections, one per distinct URL regardless of how
// many subscribers ask for it.
type Dialer struct {
	opts   Options
	logger *slog.Logger

	mu    sync.Mutex
	conns map[string]*Conn
}

// NewDialer creates a Dialer with the given options.
func NewDialer(opts Options, logger *slog.Logger) *Dialer {
	return &Dialer{
		opts:   opts.withDefaults(),
		logger: logger,
		conns:  make(map[string]*Conn),
	}
}

// Conn returns the shared connection for url, creating and starting it on
// first use. The context passed on first use governs the connection's
// background loop; explicit Close also stops it. Optional subprotocols are
// offered in the handshake; later callers for the same url share the first
// caller's connection, protocols included.
func (d *Dialer) Conn(ctx context.Context, url string, protocols ...string) *Conn {
	d.mu.Lock()
	defer d.mu.Unlock()

	if c, ok := d.conns[url]; ok {
		return c
	}

	c := newConn(url, protocols, d.opts, d.logger)
	d.conns[url] = c

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	go c.run(runCtx)

	return c
}

// Conn is one logical push-channel connection. It reconnects on unexpected
// closure and fans each inbound frame out to all subscribed listeners before
// reading the next one.
type Conn struct {
	url    string
	opts   Options
	dialer websocket.Dialer
	logger *slog.Logger
	cancel context.CancelFunc

	mu        sync.Mutex
	ws        *websocket.Conn
	state     State
	lastFrame []byte
	listeners map[int]func(frame []byte)
	nextID    int
	closed    bool
}

func newConn(url string, protocols []string, opts Options, logger *slog.Logger) *Conn {
	dialer := *websocket.DefaultDialer
	dialer.Subprotocols = protocols

	return &Conn{
		url:       url,
		opts:      opts,
		dialer:    dialer,
		logger:    logger,
		state:     StateConnecting,
		listeners: make(map[int]func(frame []byte)),
	}
}

// State returns the current lifecycle state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastFrame returns the most recent inbound frame, or nil if none has
// arrived yet.
func (c *Conn) LastFrame() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastFrame
}

// Subscribe registers a listener for inbound frames and returns a disposer.
// A panic in one listener is reported to the logger and does not prevent
// delivery to the others.
func (c *Conn) Subscribe(listener func(frame []byte)) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = listener
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// Send writes a text frame. If the connection is not open the frame is
// dropped with a log entry rather than an error, so a caller mid-optimistic-
// update is never interrupted by transport state.
func (c *Conn) Send(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateOpen || c.ws == nil {
		c.logger.Warn("dropping send, connection not open", "state", c.state.String())
		return
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
		c.logger.Error("failed to send frame", "error", err)
	}
}

// SendJSON marshals v and sends it as a text frame.
func (c *Conn) SendJSON(v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("failed to marshal outbound frame", "error", err)
		return
	}
	c.Send(string(payload))
}

// Close shuts the connection down and suppresses further reconnects.
func (c *Conn) Close(code int, reason string) {
	c.mu.Lock()
	c.closed = true
	c.state = StateClosing
	ws := c.ws
	c.mu.Unlock()

	if ws != nil {
		deadline := time.Now().Add(time.Second)
		msg := websocket.FormatCloseMessage(code, reason)
		if err := ws.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
			c.logger.Debug("close handshake failed", "error", err)
		}
		ws.Close()
	}

	if c.cancel != nil {
		c.cancel()
	}

	c.setState(StateClosed)
}

// run dials, reads until failure, and reconnects on a timed interval until
// the attempt budget is spent or the connection is explicitly closed. Any
// non-explicit failure is treated as retryable.
func (c *Conn) run(ctx context.Context) {
	attempts := 0

	for {
		if ctx.Err() != nil || c.isClosed() {
			c.setState(StateClosed)
			return
		}

		c.setState(StateConnecting)

		ws, _, err := c.dialer.DialContext(ctx, c.url, nil)
		if err != nil {
			attempts++
			if c.budgetSpent(attempts) {
				return
			}
			c.logger.Error("push channel dial failed, retrying",
				"url", c.url,
				"attempt", attempts,
				"error", err,
			)
			if !c.sleep(ctx) {
				c.setState(StateClosed)
				return
			}
			continue
		}

		c.mu.Lock()
		c.ws = ws
		c.state = StateOpen
		c.mu.Unlock()
		attempts = 0
		c.logger.Info("push channel connected", "url", c.url)

		err = c.readLoop(ws)

		c.mu.Lock()
		c.ws = nil
		c.mu.Unlock()

		if ctx.Err() != nil || c.isClosed() {
			c.setState(StateClosed)
			return
		}

		attempts++
		if c.budgetSpent(attempts) {
			return
		}
		c.logger.Error("push channel dropped, reconnecting", "error", err)
		if !c.sleep(ctx) {
			c.setState(StateClosed)
			return
		}
	}
}

func (c *Conn) readLoop(ws *websocket.Conn) error {
	for {
		_, frame, err := ws.ReadMessage()
		if err != nil {
			return fmt.Errorf("read frame: %w", err)
		}
		c.deliver(frame)
	}
}

// deliver fans one frame out to every listener, in full, before the caller
// reads the next frame off the wire.
func (c *Conn) deliver(frame []byte) {
	c.mu.Lock()
	c.lastFrame = frame
	listeners := make([]func([]byte), 0, len(c.listeners))
	for _, l := range c.listeners {
		listeners = append(listeners, l)
	}
	c.mu.Unlock()

	for _, listener := range listeners {
		c.call(listener, frame)
	}
}

func (c *Conn) call(listener func([]byte), frame []byte) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("push listener panicked", "panic", r)
		}
	}()
	listener(frame)
}

func (c *Conn) budgetSpent(attempts int) bool {
	if c.opts.MaxReconnectAttempts > 0 && attempts >= c.opts.MaxReconnectAttempts {
		c.logger.Error("reconnect attempt budget spent, giving up",
			"url", c.url,
			"attempts", attempts,
		)
		c.setState(StateClosed)
		return true
	}
	return false
}

func (c *Conn) sleep(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(c.opts.ReconnectInterval):
		return true
	}
}

func (c *Conn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Conn) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed && s != StateClosed && s != StateClosing {
		return
	}
	c.state = s
}
