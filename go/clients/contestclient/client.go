package contestclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/kshah22/codeclash/go/internal/gateway"
)

// Status is the connection state visible to callers.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusReconnecting Status = "reconnecting"
	StatusError        Status = "error"
)

// Conn is the subset of a websocket connection the client uses.
// *websocket.Conn satisfies it.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer opens websocket connections. Injected so tests can script dials.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// GorillaDialer is the production Dialer.
type GorillaDialer struct {
	Dialer *websocket.Dialer
}

func (d GorillaDialer) Dial(ctx context.Context, url string) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Config controls connection, reconnection and queueing behavior.
type Config struct {
	// URL is the websocket endpoint, e.g. ws://localhost:8081/ws.
	URL string
	// APIBaseURL is the REST base, e.g. http://localhost:8081, used for
	// state resync after reconnecting.
	APIBaseURL string
	// Token, when set, authenticates the connection at upgrade time.
	Token string

	BackoffBase time.Duration
	BackoffCap  time.Duration
	MaxAttempts int
	QueueTTL    time.Duration
	HTTPTimeout time.Duration
}

// DefaultConfig returns client defaults for the given websocket endpoint.
func DefaultConfig(wsURL string) Config {
	return Config{
		URL:         wsURL,
		BackoffBase: time.Second,
		BackoffCap:  30 * time.Second,
		MaxAttempts: 5,
		QueueTTL:    5 * time.Minute,
		HTTPTimeout: 30 * time.Second,
	}
}

// Client is an explicitly constructed realtime client. One instance per
// process slot that needs a connection; there is no shared singleton.
type Client struct {
	config Config
	dialer Dialer
	clock  clockwork.Clock

	mu     sync.Mutex
	status Status
	conn   Conn
	cancel context.CancelFunc
	queue  []queuedMessage

	writeMu sync.Mutex

	onEvent        func(gateway.ContestEvent)
	onStatusChange func(Status)
}

// NewClient builds a client. A nil dialer or clock selects the production
// implementations.
func NewClient(config Config, dialer Dialer, clk clockwork.Clock) *Client {
	if dialer == nil {
		dialer = GorillaDialer{}
	}
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	return &Client{
		config: config,
		dialer: dialer,
		clock:  clk,
		status: StatusDisconnected,
	}
}

// OnEvent registers the callback invoked for every server event.
func (c *Client) OnEvent(fn func(gateway.ContestEvent)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onEvent = fn
}

// OnStatusChange registers the callback invoked on every status transition.
func (c *Client) OnStatusChange(fn func(Status)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onStatusChange = fn
}

// Status reports the current connection state.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Connect dials the gateway. The first dial is immediate; each retry k
// waits min(base * 2^(k-1), cap) first. After MaxAttempts retries the
// client lands in the error state and it is the caller's turn again.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch c.status {
	case StatusConnected, StatusConnecting, StatusReconnecting:
		status := c.status
		c.mu.Unlock()
		return fmt.Errorf("client is already %s", status)
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.status = StatusConnecting
	notify := c.onStatusChange
	c.mu.Unlock()

	if notify != nil {
		notify(StatusConnecting)
	}

	conn, err := c.dialer.Dial(runCtx, c.dialURL())
	if err == nil {
		c.adopt(runCtx, conn)
		return nil
	}
	log.Printf("contestclient: dial failed, retrying: %v", err)
	return c.retryLoop(runCtx)
}

// Disconnect closes the connection deliberately. No reconnection follows.
func (c *Client) Disconnect() {
	c.mu.Lock()
	cancel := c.cancel
	conn := c.conn
	c.cancel = nil
	c.conn = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close()
	}
	c.setStatus(StatusDisconnected)
}

// JoinContest subscribes to a contest room. Requires an authenticated
// connection server-side.
func (c *Client) JoinContest(contestID uuid.UUID) error {
	return c.send(gateway.ClientMessage{Type: gateway.ClientMsgJoinContest, ContestID: contestID.String()})
}

// LeaveContest unsubscribes from a contest room.
func (c *Client) LeaveContest(contestID uuid.UUID) error {
	return c.send(gateway.ClientMessage{Type: gateway.ClientMsgLeaveContest, ContestID: contestID.String()})
}

// RequestLeaderboard asks for the current standings snapshot.
func (c *Client) RequestLeaderboard(contestID uuid.UUID) error {
	return c.send(gateway.ClientMessage{Type: gateway.ClientMsgRequestLeaderboard, ContestID: contestID.String()})
}

// AuthenticateTeam authenticates the connection with a team token.
func (c *Client) AuthenticateTeam(token string) error {
	return c.send(gateway.ClientMessage{Type: gateway.ClientMsgAuthenticateTeam, Token: token})
}

// AuthenticateAdmin authenticates the connection with an admin token.
func (c *Client) AuthenticateAdmin(token string) error {
	return c.send(gateway.ClientMessage{Type: gateway.ClientMsgAuthenticateAdmin, Token: token})
}

// send writes the message on a live connection or queues it for the flush
// after reconnecting.
func (c *Client) send(msg gateway.ClientMessage) error {
	c.mu.Lock()
	if c.status != StatusConnected || c.conn == nil {
		c.queue = append(c.queue, queuedMessage{Message: msg, QueuedAt: c.clock.Now()})
		c.mu.Unlock()
		return nil
	}
	conn := c.conn
	c.mu.Unlock()

	return c.writeMessage(conn, msg)
}

func (c *Client) writeMessage(conn Conn, msg gateway.ClientMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s message: %w", msg.Type, err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}

// retryLoop redials with exponential backoff until connected, cancelled, or
// out of attempts.
func (c *Client) retryLoop(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= c.config.MaxAttempts; attempt++ {
		c.setStatus(StatusReconnecting)
		delay := backoffDelay(c.config.BackoffBase, c.config.BackoffCap, attempt)
		select {
		case <-c.clock.After(delay):
		case <-ctx.Done():
			c.setStatus(StatusDisconnected)
			return ctx.Err()
		}

		c.setStatus(StatusConnecting)
		conn, err := c.dialer.Dial(ctx, c.dialURL())
		if err != nil {
			lastErr = err
			log.Printf("contestclient: reconnect attempt %d/%d failed: %v", attempt, c.config.MaxAttempts, err)
			continue
		}
		c.adopt(ctx, conn)
		return nil
	}

	c.setStatus(StatusError)
	return fmt.Errorf("connect failed after %d attempts: %w", c.config.MaxAttempts, lastErr)
}

// adopt installs a live connection, flushes the offline queue and starts the
// read loop.
func (c *Client) adopt(ctx context.Context, conn Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.setStatus(StatusConnected)
	c.flushQueue(conn)
	go c.readLoop(ctx, conn)
}

func (c *Client) readLoop(ctx context.Context, conn Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			if ctx.Err() != nil {
				// Deliberate disconnect; status was already set.
				return
			}
			log.Printf("contestclient: connection dropped: %v", err)
			c.mu.Lock()
			c.conn = nil
			c.mu.Unlock()
			if rerr := c.retryLoop(ctx); rerr != nil {
				log.Printf("contestclient: giving up: %v", rerr)
			}
			return
		}

		var event gateway.ContestEvent
		if err := json.Unmarshal(raw, &event); err != nil {
			log.Printf("contestclient: dropping malformed event: %v", err)
			continue
		}
		c.deliverEvent(event)
	}
}

func (c *Client) deliverEvent(event gateway.ContestEvent) {
	c.mu.Lock()
	fn := c.onEvent
	c.mu.Unlock()
	if fn != nil {
		fn(event)
	}
}

func (c *Client) setStatus(status Status) {
	c.mu.Lock()
	if c.status == status {
		c.mu.Unlock()
		return
	}
	c.status = status
	notify := c.onStatusChange
	c.mu.Unlock()
	if notify != nil {
		notify(status)
	}
}

func (c *Client) dialURL() string {
	if c.config.Token == "" {
		return c.config.URL
	}
	return c.config.URL + "?token=" + url.QueryEscape(c.config.Token)
}

// backoffDelay returns min(base * 2^(attempt-1), cap) without overflowing.
func backoffDelay(base, limit time.Duration, attempt int) time.Duration {
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= limit {
			return limit
		}
	}
	if delay > limit {
		return limit
	}
	return delay
}
