package stream

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"direct-chat/internal/api"
	"direct-chat/internal/chaterr"
	"direct-chat/internal/message"
)

const (
	eventQueueSize = 128
	defaultMin     = time.Second
	defaultMax     = 30 * time.Second
	defaultJitter  = time.Second
	writeTimeout   = 5 * time.Second
)

var errNotConnected = errors.New("not connected")

// Client keeps one websocket to the chat API open for the lifetime of Run,
// redialing with backoff until the server rejects the token.
type Client struct {
	urlFor func(token string) string
	tokens api.TokenSource
	dialer *websocket.Dialer
	log    zerolog.Logger

	minBackoff time.Duration
	maxBackoff time.Duration
	jitter     time.Duration

	events chan message.Message

	mu      sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex
}

type Option func(*Client)

func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// WithBackoff sets the reconnect delay range and the random jitter added to
// each delay.
func WithBackoff(min, max, jitter time.Duration) Option {
	return func(c *Client) {
		c.minBackoff, c.maxBackoff, c.jitter = min, max, jitter
	}
}

func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) {
		if d != nil {
			c.dialer = d
		}
	}
}

// New builds a client. urlFor maps an access token to the socket URL.
func New(urlFor func(token string) string, tokens api.TokenSource, opts ...Option) *Client {
	c := &Client{
		urlFor:     urlFor,
		tokens:     tokens,
		dialer:     &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		log:        zerolog.Nop(),
		minBackoff: defaultMin,
		maxBackoff: defaultMax,
		jitter:     defaultJitter,
		events:     make(chan message.Message, eventQueueSize),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Events delivers inbound messages. It is closed when Run returns.
func (c *Client) Events() <-chan message.Message {
	return c.events
}

// Connected reports whether a socket is currently open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Run dials and reads until ctx is done or the server refuses the session.
// It returns nil on cancellation and a *chaterr.StreamError when the token
// was rejected. Run must be called at most once.
func (c *Client) Run(ctx context.Context) error {
	defer close(c.events)
	attempt := 0
	for {
		if ctx.Err() != nil {
			return nil
		}
		token := c.tokens.AccessToken()
		if token == "" {
			return &chaterr.StreamError{Op: "dial", Err: chaterr.ErrLoginRequired}
		}
		conn, resp, err := c.dialer.DialContext(ctx, c.urlFor(token), nil)
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
				serr := &chaterr.StreamError{Op: "handshake", Err: err}
				c.log.Warn().Err(serr).Int("status", resp.StatusCode).Msg("stream rejected")
				return serr
			}
			c.log.Warn().Err(&chaterr.StreamError{Op: "dial", Err: err}).Int("attempt", attempt).Msg("stream dial failed")
			if !c.wait(ctx, attempt) {
				return nil
			}
			attempt++
			continue
		}
		attempt = 0
		c.log.Info().Msg("stream connected")
		c.setConn(conn)
		err = c.readLoop(ctx, conn)
		c.setConn(nil)
		_ = conn.Close()
		if ctx.Err() != nil {
			return nil
		}
		if websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
			serr := &chaterr.StreamError{Op: "read", Err: err}
			c.log.Warn().Err(serr).Msg("stream closed by server policy")
			return serr
		}
		c.log.Warn().Err(&chaterr.StreamError{Op: "read", Err: err}).Msg("stream disconnected")
		if !c.wait(ctx, attempt) {
			return nil
		}
		attempt++
	}
}

// Publish writes msg to the open socket.
func (c *Client) Publish(msg message.Message) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return &chaterr.StreamError{Op: "publish", Err: errNotConnected}
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(msg); err != nil {
		return &chaterr.StreamError{Op: "publish", Err: err}
	}
	return nil
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var msg message.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.Warn().Err(err).Msg("undecodable stream frame")
			continue
		}
		if !msg.Routable() {
			c.log.Debug().RawJSON("frame", data).Msg("dropping non-message frame")
			continue
		}
		select {
		case c.events <- msg:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

// wait sleeps for the attempt's backoff and reports false if ctx ended first.
func (c *Client) wait(ctx context.Context, attempt int) bool {
	timer := time.NewTimer(c.backoff(attempt))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (c *Client) backoff(attempt int) time.Duration {
	delay := c.minBackoff
	for i := 0; i < attempt && delay < c.maxBackoff; i++ {
		delay *= 2
	}
	if delay > c.maxBackoff {
		delay = c.maxBackoff
	}
	if c.jitter > 0 {
		delay += time.Duration(rand.Int63n(int64(c.jitter)))
	}
	return delay
}
