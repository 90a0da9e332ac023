// Package socket owns one websocket connection to a Lavalink v4 node.
//
// A Conn dials with its own backoff, decodes every text frame and hands the
// payloads out one at a time through Receive. Once the stream ends Receive
// returns a nil payload and the owner is expected to open a new Conn.
package socket

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/gorilla/websocket"
	"github.com/keshon/lavaplay/internal/lavalink/protocol"
	"github.com/keshon/lavaplay/pkg/retrylimit"
	"github.com/rs/zerolog"
)

const DefaultClientName = "lavaplay"

// Options are the credentials used for one connection attempt.
type Options struct {
	URL        string // http(s) or ws(s) base address of the node
	Passphrase string
	UserID     snowflake.ID
	ShardCount int
	ClientName string
	SessionID  string // previous session to resume, if any
}

// Factory creates connections that share a dialer and a dial limiter.
type Factory struct {
	dialer  *websocket.Dialer
	limiter *retrylimit.AdaptiveLimiter
	retry   retrylimit.RetryConfig
	logger  zerolog.Logger
}

func NewFactory(logger zerolog.Logger) *Factory {
	retry := retrylimit.DefaultRetryConfig()
	retry.MaxAttempts = 0
	retry.Logger = logger

	return &Factory{
		dialer:  &websocket.Dialer{Proxy: http.ProxyFromEnvironment, HandshakeTimeout: 10 * time.Second},
		limiter: retrylimit.NewAdaptiveLimiter(1, 0.1, 2, 0.1, 0.5),
		retry:   retry,
		logger:  logger,
	}
}

// New returns an unstarted connection.
func (f *Factory) New(opts Options) *Conn {
	return &Conn{
		opts:     opts,
		dialer:   f.dialer,
		limiter:  f.limiter,
		retry:    f.retry,
		logger:   f.logger.With().Str("component", "socket").Logger(),
		payloads: make(chan protocol.Payload),
	}
}

type Conn struct {
	opts    Options
	dialer  *websocket.Dialer
	limiter *retrylimit.AdaptiveLimiter
	retry   retrylimit.RetryConfig
	logger  zerolog.Logger

	mu     sync.Mutex
	ws     *websocket.Conn
	closed bool

	payloads chan protocol.Payload
}

// Run dials the node (retrying until ctx is done) and then reads frames
// until the connection fails, Close is called or ctx is done. The payload
// stream is closed when Run returns.
func (c *Conn) Run(ctx context.Context) error {
	defer close(c.payloads)

	endpoint, err := websocketURL(c.opts.URL)
	if err != nil {
		return err
	}

	var ws *websocket.Conn
	err = retrylimit.WithRetryConfig(ctx, func() error {
		if c.isClosed() {
			return retrylimit.Fatal(net.ErrClosed)
		}
		conn, err := c.dial(ctx, endpoint)
		if err != nil {
			return err
		}
		ws = conn
		return nil
	}, c.limiter, c.retry)
	if err != nil {
		return err
	}

	if !c.attach(ws) {
		_ = ws.Close()
		return net.ErrClosed
	}
	c.logger.Info().Str("url", endpoint).Msg("connected")

	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	for {
		kind, data, err := ws.ReadMessage()
		if err != nil {
			if c.isClosed() || ctx.Err() != nil {
				return nil
			}
			c.logger.Warn().Err(err).Msg("connection lost")
			return fmt.Errorf("read frame: %w", err)
		}
		if kind != websocket.TextMessage {
			continue
		}

		c.logger.Trace().RawJSON("payload", data).Msg("received")

		payload, err := protocol.Decode(data)
		if err != nil {
			c.logger.Warn().Err(err).Msg("dropping malformed payload")
			continue
		}

		select {
		case c.payloads <- payload:
		case <-ctx.Done():
			return nil
		}
	}
}

// Receive returns the next payload. A nil payload with a nil error means the
// stream has ended.
func (c *Conn) Receive(ctx context.Context) (protocol.Payload, error) {
	select {
	case p, ok := <-c.payloads:
		if !ok {
			return nil, nil
		}
		return p, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close terminates the connection. It is safe to call more than once.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.ws == nil {
		return nil
	}
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return c.ws.Close()
}

func (c *Conn) attach(ws *websocket.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.ws = ws
	return true
}

func (c *Conn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Conn) dial(ctx context.Context, endpoint string) (*websocket.Conn, error) {
	ws, resp, err := c.dialer.DialContext(ctx, endpoint, c.header())
	if err == nil {
		return ws, nil
	}
	if resp != nil {
		defer resp.Body.Close()
		if errors.Is(err, websocket.ErrBadHandshake) {
			return nil, &HandshakeError{Status: resp.StatusCode}
		}
	}
	return nil, fmt.Errorf("dial %s: %w", endpoint, err)
}

func (c *Conn) header() http.Header {
	name := c.opts.ClientName
	if name == "" {
		name = DefaultClientName
	}

	h := http.Header{}
	h.Set("Authorization", c.opts.Passphrase)
	h.Set("User-Id", c.opts.UserID.String())
	h.Set("Client-Name", name)
	h.Set("Num-Shards", strconv.Itoa(max(c.opts.ShardCount, 1)))
	if c.opts.SessionID != "" {
		h.Set("Session-Id", c.opts.SessionID)
	}
	return h
}

// HandshakeError is returned when the node refuses the upgrade.
type HandshakeError struct {
	Status int
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("websocket handshake rejected: http %d", e.Status)
}

func (e *HandshakeError) StatusCode() int { return e.Status }

func websocketURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil {
		return "", fmt.Errorf("parse node url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("node url %q: unsupported scheme %q", raw, u.Scheme)
	}
	if !strings.HasSuffix(u.Path, "/websocket") {
		u = u.JoinPath("v4", "websocket")
	}
	return u.String(), nil
}
