// Package wsclient connects a call endpoint to the signaling relay.
package wsclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/dkeye/tribecall/internal/core"
	"github.com/dkeye/tribecall/internal/domain"
	"github.com/dkeye/tribecall/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrBackpressure = errors.New("signaling send buffer full")
	ErrClosed       = errors.New("signaling client closed")
)

const (
	writeWait    = 5 * time.Second
	identityPath = "/api/identity"
	signalPath   = "/api/ws/signal"
)

type Options struct {
	// RelayURL is the relay's http(s) base URL.
	RelayURL string
	Identity domain.Identity

	SendBuffer  int
	ReadTimeout time.Duration
	ReadLimit   int64

	ReconnectMin time.Duration
	ReconnectMax time.Duration
}

type Client struct {
	opts   Options
	base   *url.URL
	httpc  *http.Client
	dialer websocket.Dialer
	logger zerolog.Logger

	mu      sync.RWMutex
	conn    *conn
	handler func(domain.Identity, protocol.Message)

	closeOnce sync.Once
	closed    chan struct{}
}

var _ core.SignalingChannel = (*Client)(nil)

func New(opts Options) (*Client, error) {
	base, err := url.Parse(opts.RelayURL)
	if err != nil {
		return nil, fmt.Errorf("parse relay url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("relay url must be http or https, got %q", base.Scheme)
	}
	if _, err := domain.ParseIdentity(opts.Identity.String()); err != nil {
		return nil, err
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 64
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 75 * time.Second
	}
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = 64 << 10
	}
	if opts.ReconnectMin <= 0 {
		opts.ReconnectMin = 500 * time.Millisecond
	}
	if opts.ReconnectMax < opts.ReconnectMin {
		opts.ReconnectMax = 30 * time.Second
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	return &Client{
		opts:   opts,
		base:   base,
		httpc:  &http.Client{Jar: jar, Timeout: 10 * time.Second},
		dialer: websocket.Dialer{HandshakeTimeout: 10 * time.Second, Jar: jar},
		logger: log.With().Str("module", "wsclient").Str("identity", opts.Identity.String()).Logger(),
		closed: make(chan struct{}),
	}, nil
}

// OnMessage registers the handler for inbound messages. It survives
// reconnects and is called from a single goroutine in arrival order.
func (c *Client) OnMessage(fn func(domain.Identity, protocol.Message)) {
	c.mu.Lock()
	c.handler = fn
	c.mu.Unlock()
}

func (c *Client) Send(to domain.Identity, msg protocol.Message) error {
	msg.To = to
	msg.From = ""
	frame, err := msg.Encode()
	if err != nil {
		return err
	}
	c.mu.RLock()
	cn := c.conn
	c.mu.RUnlock()
	if cn == nil {
		return core.ErrNotConnected
	}
	return cn.TrySend(frame)
}

// Connected reports whether a relay connection is up.
func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil
}

// Connect claims the identity on the relay and opens the signaling socket.
// The returned channel is closed when that connection ends.
func (c *Client) Connect(ctx context.Context) (<-chan struct{}, error) {
	select {
	case <-c.closed:
		return nil, ErrClosed
	default:
	}
	if err := c.claimIdentity(ctx); err != nil {
		return nil, err
	}

	wsURL := *c.base
	wsURL.Scheme = strings.Replace(wsURL.Scheme, "http", "ws", 1)
	wsURL.Path = strings.TrimSuffix(wsURL.Path, "/") + signalPath

	ws, resp, err := c.dialer.DialContext(ctx, wsURL.String(), nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	ws.SetReadLimit(c.opts.ReadLimit)

	cn := &conn{
		ws:   ws,
		send: make(chan core.Frame, c.opts.SendBuffer),
		done: make(chan struct{}),
	}
	c.mu.Lock()
	c.conn = cn
	c.mu.Unlock()

	go c.writePump(cn)
	go c.readPump(cn)
	c.logger.Info().Str("url", wsURL.String()).Msg("connected")
	return cn.done, nil
}

func (c *Client) claimIdentity(ctx context.Context) error {
	body, err := json.Marshal(map[string]string{"identity": c.opts.Identity.String()})
	if err != nil {
		return err
	}
	u := *c.base
	u.Path = strings.TrimSuffix(u.Path, "/") + identityPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("claim identity: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("claim identity: relay answered %s", resp.Status)
	}
	return nil
}

// Run keeps the client connected until ctx is done, backing off between
// failed attempts. It leaves the live connection open so late messages can
// still be flushed; Close ends it.
func (c *Client) Run(ctx context.Context) error {
	delay := c.opts.ReconnectMin
	for {
		done, err := c.Connect(ctx)
		if err == nil {
			delay = c.opts.ReconnectMin
			select {
			case <-done:
				c.logger.Warn().Msg("relay connection lost")
			case <-ctx.Done():
				return nil
			case <-c.closed:
				return nil
			}
		} else {
			c.logger.Warn().Err(err).Dur("retry_in", delay).Msg("connect failed")
		}

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-c.closed:
			t.Stop()
			return nil
		case <-t.C:
		}
		if err != nil {
			delay = min(delay*2, c.opts.ReconnectMax)
		}
	}
}

// Close flushes queued frames, says goodbye to the relay and disconnects.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.mu.Lock()
		cn := c.conn
		c.conn = nil
		c.mu.Unlock()
		if cn == nil {
			return
		}
		cn.stopSending()
		select {
		case <-cn.done:
		case <-time.After(2 * writeWait):
			c.logger.Warn().Msg("flush timed out")
		}
		cn.Close()
	})
}

func (c *Client) drop(cn *conn) {
	c.mu.Lock()
	if c.conn == cn {
		c.conn = nil
	}
	c.mu.Unlock()
	cn.Close()
}

type conn struct {
	ws   *websocket.Conn
	send chan core.Frame
	done chan struct{}

	mu       sync.RWMutex
	closed   bool
	teardown sync.Once
}

func (cn *conn) TrySend(f core.Frame) error {
	cn.mu.RLock()
	defer cn.mu.RUnlock()
	if cn.closed {
		return core.ErrNotConnected
	}
	select {
	case cn.send <- f:
		return nil
	default:
		return ErrBackpressure
	}
}

// stopSending refuses new frames; the write pump drains what is queued.
func (cn *conn) stopSending() {
	cn.mu.Lock()
	defer cn.mu.Unlock()
	if cn.closed {
		return
	}
	cn.closed = true
	close(cn.send)
}

func (cn *conn) Close() {
	cn.stopSending()
	cn.teardown.Do(func() {
		close(cn.done)
		_ = cn.ws.Close()
	})
}
