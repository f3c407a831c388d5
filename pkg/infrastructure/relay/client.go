package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/felixgeelhaar/fortify/retry"
	"github.com/felixgeelhaar/fortify/timeout"
	"github.com/felixgeelhaar/plangrid/pkg/domain/patch"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// DefaultAckTimeout bounds the wait for the relay's answer to a sent patch.
const DefaultAckTimeout = 5 * time.Second

var (
	// ErrNotConnected indicates the live channel is down.
	ErrNotConnected = errors.New("relay not connected")

	// ErrClientClosed indicates use after Close.
	ErrClientClosed = errors.New("relay client closed")
)

// RefusedError is the relay's refusal of a patch. It is not retried.
type RefusedError struct {
	Message string
}

func (e *RefusedError) Error() string {
	return "relay refused patch: " + e.Message
}

// PatchHandler receives patches relayed to a joined project.
type PatchHandler func(ctx context.Context, p patch.Patch) error

// ClientConfig configures a relay client.
type ClientConfig struct {
	// URL is the relay's base address, e.g. http://localhost:7420.
	URL            string
	AckTimeout     time.Duration
	ReconnectDelay time.Duration
	HTTPClient     *http.Client
	Logger         *slog.Logger
	// OnReconnect runs after the live channel came back and rooms were
	// rejoined. Patches relayed during the gap were missed.
	OnReconnect func(ctx context.Context)
}

// Client sends patches over a websocket and falls back to HTTP POST when
// the channel is down. Incoming patches are handed to the handler of their
// project from a single goroutine, in arrival order.
type Client struct {
	base        *url.URL
	httpc       *http.Client
	logger      *slog.Logger
	ackTimeout  time.Duration
	reconnect   time.Duration
	onReconnect func(ctx context.Context)
	retryConfig retry.Config
	fsm         *connMachine

	writeMu sync.Mutex
	mu      sync.Mutex
	conn    *websocket.Conn
	waiters map[string]chan Frame
	rooms   map[string]PatchHandler

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewClient validates the configuration. Call Connect to open the live channel.
func NewClient(cfg ClientConfig) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.URL, "/"))
	if err != nil || (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return nil, fmt.Errorf("invalid relay url %q", cfg.URL)
	}
	fsm, err := newConnMachine()
	if err != nil {
		return nil, err
	}
	c := &Client{
		base:        base,
		httpc:       cfg.HTTPClient,
		logger:      cfg.Logger,
		ackTimeout:  cfg.AckTimeout,
		reconnect:   cfg.ReconnectDelay,
		onReconnect: cfg.OnReconnect,
		retryConfig: retry.Config{
			MaxAttempts:   3,
			InitialDelay:  100 * time.Millisecond,
			BackoffPolicy: retry.BackoffExponential,
		},
		fsm:     fsm,
		waiters: make(map[string]chan Frame),
		rooms:   make(map[string]PatchHandler),
	}
	if c.httpc == nil {
		c.httpc = &http.Client{Timeout: 30 * time.Second}
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.ackTimeout <= 0 {
		c.ackTimeout = DefaultAckTimeout
	}
	if c.reconnect <= 0 {
		c.reconnect = time.Second
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	return c, nil
}

// State returns the connection state.
func (c *Client) State() string {
	return c.fsm.current()
}

// BaseURL returns the relay address.
func (c *Client) BaseURL() string {
	return c.base.String()
}

func (c *Client) wsURL() string {
	u := *c.base
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String()
}

// Connect opens the live channel and keeps it open, reconnecting in the
// background after failures, until Close. When the first dial fails the
// error is returned and reconnection continues in the background; Send
// works over HTTP meanwhile.
func (c *Client) Connect(ctx context.Context) error {
	err := c.dial(ctx)
	if err != nil && !errors.Is(err, ErrClientClosed) {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.reconnectLoop()
		}()
	}
	return err
}

func (c *Client) dial(ctx context.Context) error {
	if err := c.fsm.fire(eventDial); err != nil {
		if c.fsm.current() == StateClosed {
			return ErrClientClosed
		}
		return err
	}
	r := retry.New[*websocket.Conn](c.retryConfig)
	conn, err := r.Do(ctx, func(ctx context.Context) (*websocket.Conn, error) {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.wsURL(), nil)
		return conn, err
	})
	if err != nil {
		_ = c.fsm.fire(eventDown)
		return fmt.Errorf("dial relay: %w", err)
	}
	if err := c.fsm.fire(eventUp); err != nil {
		_ = conn.Close()
		return err
	}
	c.mu.Lock()
	if c.ctx.Err() != nil {
		c.mu.Unlock()
		_ = conn.Close()
		return ErrClientClosed
	}
	c.conn = conn
	rooms := make([]string, 0, len(c.rooms))
	for project := range c.rooms {
		rooms = append(rooms, project)
	}
	c.mu.Unlock()

	c.wg.Add(1)
	go c.readLoop(conn)

	for _, project := range rooms {
		if err := c.roundTrip(ctx, Frame{Type: FrameJoin, Project: project}); err != nil {
			c.logger.Warn("rejoin failed", "project", project, "error", err)
		}
	}
	c.logger.Info("relay connected", "url", c.wsURL())
	return nil
}

// Join subscribes handler to the patches of project.
func (c *Client) Join(ctx context.Context, project string, handler PatchHandler) error {
	c.mu.Lock()
	c.rooms[project] = handler
	c.mu.Unlock()
	if c.State() != StateConnected {
		return nil
	}
	return c.roundTrip(ctx, Frame{Type: FrameJoin, Project: project})
}

// Leave drops the subscription to project.
func (c *Client) Leave(ctx context.Context, project string) error {
	c.mu.Lock()
	delete(c.rooms, project)
	c.mu.Unlock()
	if c.State() != StateConnected {
		return nil
	}
	return c.roundTrip(ctx, Frame{Type: FrameLeave, Project: project})
}

// Send implements application.Transport. The live channel is tried first;
// when it is down or the ack does not arrive, the patch is POSTed instead.
func (c *Client) Send(ctx context.Context, p patch.Patch) error {
	if c.State() == StateClosed {
		return ErrClientClosed
	}
	if c.State() == StateConnected {
		data, err := patch.Encode(p)
		if err != nil {
			return err
		}
		err = c.roundTrip(ctx, Frame{Type: FrameSend, Project: p.Project, Patch: data})
		var refused *RefusedError
		if err == nil || errors.As(err, &refused) {
			return err
		}
		c.logger.Warn("live channel failed, falling back to http", "op", p.Op(), "error", err)
	}
	return c.post(ctx, p)
}

// roundTrip writes a frame and waits for its ack.
func (c *Client) roundTrip(ctx context.Context, f Frame) error {
	f.ID = uuid.New().String()
	wait := make(chan Frame, 1)
	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}
	c.waiters[f.ID] = wait
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.waiters, f.ID)
		c.mu.Unlock()
	}()

	c.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	err := conn.WriteJSON(f)
	c.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("write %s: %w", f.Type, err)
	}

	t := timeout.New[Frame](timeout.Config{DefaultTimeout: c.ackTimeout})
	ack, err := t.Execute(ctx, c.ackTimeout, func(ctx context.Context) (Frame, error) {
		select {
		case ack, ok := <-wait:
			if !ok {
				return Frame{}, ErrNotConnected
			}
			return ack, nil
		case <-ctx.Done():
			return Frame{}, ctx.Err()
		}
	})
	if err != nil {
		return fmt.Errorf("await ack for %s: %w", f.Type, err)
	}
	if !ack.OK {
		return &RefusedError{Message: ack.Error}
	}
	return nil
}

func (c *Client) readLoop(conn *websocket.Conn) {
	defer c.wg.Done()
	for {
		var f Frame
		if err := conn.ReadJSON(&f); err != nil {
			c.connectionLost(conn, err)
			return
		}
		switch f.Type {
		case FrameAck:
			c.mu.Lock()
			wait, ok := c.waiters[f.ID]
			c.mu.Unlock()
			if ok {
				wait <- f
			}
		case FramePatch:
			p, err := patch.Decode(f.Patch)
			if err != nil {
				c.logger.Warn("undecodable patch from relay", "error", err)
				continue
			}
			c.mu.Lock()
			handler := c.rooms[p.Project]
			c.mu.Unlock()
			if handler == nil {
				continue
			}
			if err := handler(c.ctx, p); err != nil {
				c.logger.Debug("patch handler failed", "op", p.Op(), "error", err)
			}
		}
	}
}

func (c *Client) connectionLost(conn *websocket.Conn, cause error) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	for id, wait := range c.waiters {
		close(wait)
		delete(c.waiters, id)
	}
	c.mu.Unlock()
	_ = conn.Close()

	if c.fsm.fire(eventDown) != nil {
		return // closed
	}
	c.logger.Warn("relay connection lost", "error", cause)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.reconnectLoop()
	}()
}

func (c *Client) reconnectLoop() {
	delay := c.reconnect
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-time.After(delay):
		}
		err := c.dial(c.ctx)
		if err == nil {
			if c.onReconnect != nil {
				c.onReconnect(c.ctx)
			}
			return
		}
		if errors.Is(err, ErrClientClosed) {
			return
		}
		c.logger.Debug("reconnect failed", "error", err)
		if delay < 30*time.Second {
			delay *= 2
		}
	}
}

// post is the HTTP fallback for a single patch.
func (c *Client) post(ctx context.Context, p patch.Patch) error {
	data, err := patch.Encode(p)
	if err != nil {
		return err
	}
	endpoint := c.endpoint("api", "projects", p.Project, "patches")
	r := retry.New[patch.Ack](c.retryConfig)
	ack, err := r.Do(ctx, func(ctx context.Context) (patch.Ack, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
		if err != nil {
			return patch.Ack{}, err
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := c.httpc.Do(req)
		if err != nil {
			return patch.Ack{}, err
		}
		defer resp.Body.Close() //nolint:errcheck
		if resp.StatusCode >= 500 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			return patch.Ack{}, fmt.Errorf("relay returned %s: %s", resp.Status, bytes.TrimSpace(body))
		}
		var ack patch.Ack
		if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
			return patch.Ack{}, fmt.Errorf("decode ack: %w", err)
		}
		return ack, nil
	})
	if err != nil {
		return fmt.Errorf("post patch: %w", err)
	}
	if !ack.OK {
		return &RefusedError{Message: ack.Error}
	}
	return nil
}

func (c *Client) endpoint(parts ...string) string {
	u := *c.base
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = url.PathEscape(p)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.Join(escaped, "/")
	return u.String()
}

// Close shuts the live channel down for good.
func (c *Client) Close() error {
	if err := c.fsm.fire(eventClose); err != nil {
		return nil
	}
	c.cancel()
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		c.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		c.writeMu.Unlock()
		_ = conn.Close()
	}
	c.wg.Wait()
	return nil
}
