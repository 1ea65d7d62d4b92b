package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jobhub/messaging/internal/logger"
)

const (
	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
	handshakeTimeout = 10 * time.Second
	maxMessageSize   = 64 << 10
)

// TokenSource returns the auth token to use for the next connection attempt.
type TokenSource func(ctx context.Context) (string, error)

type ClientOptions struct {
	Backoff Backoff
	// Dialer defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer
	// UserID goes into the auth frame.
	UserID string
	// Tokens, if set, is consulted before every attempt so a reconnect re-authenticates
	// with a fresh token. An empty result keeps the token passed to Open.
	Tokens         TokenSource
	WriteWait      time.Duration
	PongWait       time.Duration
	MaxMessageSize int64
}

// Client is the live Channel over a gorilla WebSocket connection.
// Lifecycle: NewClient -> Open -> [connect, writePump + readPump, backoff]* -> Close -> Wait.
type Client struct {
	opts   ClientOptions
	states listeners[Status]
	frames listeners[[]byte]

	mu     sync.Mutex
	status Status
	queue  [][]byte
	opened bool
	closed bool
	cancel context.CancelFunc
	// wake has capacity 1 and tells writePump the queue is non-empty.
	wake chan struct{}
	wg   sync.WaitGroup
}

func NewClient(opts ClientOptions) *Client {
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = writeWait
	}
	if opts.PongWait <= 0 {
		opts.PongWait = pongWait
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = maxMessageSize
	}
	opts.Backoff = opts.Backoff.withDefaults()
	return &Client{
		opts:   opts,
		status: Status{State: StateClosed},
		wake:   make(chan struct{}, 1),
	}
}

func (c *Client) OnStateChange(fn func(Status)) func() { return c.states.add(fn) }

func (c *Client) OnFrame(fn func([]byte)) func() { return c.frames.add(fn) }

func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Open starts the connect loop in the background. Calling it twice or after Close is a no-op.
func (c *Client) Open(endpoint, authToken string) {
	c.mu.Lock()
	if c.opened || c.closed {
		c.mu.Unlock()
		return
	}
	c.opened = true
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.mu.Unlock()

	c.wg.Add(1)
	go c.run(ctx, endpoint, authToken)
}

// Send queues f; it is written as soon as the connection is open, in call order.
func (c *Client) Send(f Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("ws marshal %s: %w", f.Type, err)
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.queue = append(c.queue, data)
	c.mu.Unlock()
	c.signal()
	return nil
}

// Close stops reconnecting, drops queued frames and closes the connection.
// Safe to call multiple times from any goroutine.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.queue = nil
	cancel := c.cancel
	c.status = Status{State: StateClosed, Terminal: true}
	st := c.status
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.states.emit(st)
}

// Wait blocks until the connect loop and pumps have exited.
func (c *Client) Wait() {
	c.wg.Wait()
}

func (c *Client) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Client) setStatus(s Status) {
	c.mu.Lock()
	if c.closed || c.status == s {
		c.mu.Unlock()
		return
	}
	c.status = s
	c.mu.Unlock()
	c.states.emit(s)
}

func (c *Client) run(ctx context.Context, endpoint, token string) {
	defer c.wg.Done()

	attempt := 0
	for {
		c.setStatus(Status{State: StateConnecting, Attempt: attempt})
		conn, tok, err := c.connect(ctx, endpoint, token)
		if err == nil {
			token = tok
			attempt = 0
			c.serve(ctx, conn)
		} else if ctx.Err() == nil {
			logger.Warnf("ws connect %s attempt=%d: %v", redact(endpoint), attempt, err)
		}
		if ctx.Err() != nil {
			return
		}

		if c.opts.Backoff.Exhausted(attempt) {
			logger.Errorf("ws %s: giving up after %d reconnect attempts", redact(endpoint), attempt)
			c.setStatus(Status{State: StateClosed, Attempt: attempt, Terminal: true})
			return
		}
		attempt++
		delay := c.opts.Backoff.Delay(attempt)
		c.setStatus(Status{State: StateClosed, Attempt: attempt, RetryIn: delay})

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// connect dials and authenticates. It returns the token that was used.
func (c *Client) connect(ctx context.Context, endpoint, token string) (*websocket.Conn, string, error) {
	if c.opts.Tokens != nil {
		fresh, err := c.opts.Tokens(ctx)
		if err != nil {
			return nil, token, fmt.Errorf("auth token: %w", err)
		}
		if fresh != "" {
			token = fresh
		}
	}

	target, err := withToken(endpoint, token)
	if err != nil {
		return nil, token, err
	}
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	dialCtx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()
	conn, resp, err := c.opts.Dialer.DialContext(dialCtx, target, header)
	if err != nil {
		if resp != nil {
			return nil, token, fmt.Errorf("dial: %w (status %d)", err, resp.StatusCode)
		}
		return nil, token, fmt.Errorf("dial: %w", err)
	}

	auth, err := NewFrame(TypeAuth, AuthPayload{UserID: c.opts.UserID, Token: token})
	if err == nil {
		var data []byte
		data, err = json.Marshal(auth)
		if err == nil {
			if err = conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait)); err == nil {
				err = conn.WriteMessage(websocket.TextMessage, data)
			}
		}
	}
	if err != nil {
		conn.Close()
		return nil, token, fmt.Errorf("auth frame: %w", err)
	}
	return conn, token, nil
}

// serve runs the pumps for one connection and returns when it drops or ctx is cancelled.
func (c *Client) serve(ctx context.Context, conn *websocket.Conn) {
	c.setStatus(Status{State: StateOpen})
	logger.Debugf("ws connected")

	readErr := make(chan error, 1)
	c.wg.Add(1)
	go c.readPump(conn, readErr)

	c.signal()
	c.writePump(ctx, conn, readErr)
	conn.Close()
}

// readPump delivers inbound messages to frame subscribers in arrival order.
func (c *Client) readPump(conn *websocket.Conn, readErr chan<- error) {
	defer c.wg.Done()

	conn.SetReadLimit(c.opts.MaxMessageSize)
	if err := conn.SetReadDeadline(time.Now().Add(c.opts.PongWait)); err != nil {
		readErr <- err
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			readErr <- err
			return
		}
		c.frames.emit(raw)
	}
}

// writePump is the only writer on conn. It exits on ctx cancellation, read or write error.
func (c *Client) writePump(ctx context.Context, conn *websocket.Conn, readErr <-chan error) {
	ticker := time.NewTicker((c.opts.PongWait * 9) / 10)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			if err := conn.WriteMessage(websocket.CloseMessage, msg); err != nil {
				logger.Debugf("ws close message: %v", err)
			}
			return
		case err := <-readErr:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Errorf("ws read error: %v", err)
			}
			return
		case <-c.wake:
			if err := c.flush(conn); err != nil {
				logger.Errorf("ws write error: %v", err)
				return
			}
		case <-ticker.C:
			if err := conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait)); err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// flush writes queued frames head first. A frame leaves the queue only after
// it was written, so a failed write keeps it for the next connection.
func (c *Client) flush(conn *websocket.Conn) error {
	for {
		c.mu.Lock()
		if c.closed || len(c.queue) == 0 {
			c.mu.Unlock()
			return nil
		}
		data := c.queue[0]
		c.mu.Unlock()

		if err := conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait)); err != nil {
			return err
		}
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return err
		}

		c.mu.Lock()
		if !c.closed && len(c.queue) > 0 {
			c.queue[0] = nil
			c.queue = c.queue[1:]
		}
		c.mu.Unlock()
	}
}

func withToken(endpoint, token string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	if token != "" {
		q := u.Query()
		q.Set("token", token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// redact strips the query string (which carries the token) for logging.
func redact(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "<invalid endpoint>"
	}
	u.RawQuery = ""
	return u.String()
}
