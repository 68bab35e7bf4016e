package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"

	"github.com/kabili207/whisper-go/core/auth"
	"github.com/kabili207/whisper-go/core/codec"
)

// ErrClientClosed is returned by Do after Close.
var ErrClientClosed = errors.New("client closed")

// ClientConfig configures a Client.
type ClientConfig struct {
	// Transport carries requests to the root and responses back. The
	// client takes over its frame handler.
	Transport Transport
	// Signer signs requests and verifies responses. May be nil.
	Signer *auth.Signer
	// Logger falls back to slog.Default() if nil.
	Logger *slog.Logger
}

// Client issues requests to a whisper root and matches responses by token.
type Client struct {
	cfg ClientConfig
	log *slog.Logger

	mu      sync.Mutex
	next    uint16
	pending map[uint16]chan *codec.Response
	closed  bool
}

// NewClient creates a Client and installs its frame handler on the
// transport. The transport is started and stopped by the caller.
func NewClient(cfg ClientConfig) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		cfg:     cfg,
		log:     logger.WithGroup("client"),
		next:    uint16(rand.UintN(1 << 16)),
		pending: make(map[uint16]chan *codec.Response),
	}
	cfg.Transport.SetFrameHandler(c.handleFrame)
	return c
}

// Do sends one request and waits for its response or for ctx to end.
func (c *Client) Do(ctx context.Context, method codec.Method, payload []byte) (*codec.Response, error) {
	ch := make(chan *codec.Response, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClientClosed
	}
	token := c.allocToken()
	c.pending[token] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, token)
		c.mu.Unlock()
	}()

	f := (&codec.Request{Token: token, Method: method, Payload: payload}).Frame()
	if c.cfg.Signer != nil {
		c.cfg.Signer.Sign(f)
	}
	if err := c.cfg.Transport.SendFrame(f); err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, ErrClientClosed
		}
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Status reads the root's status resource.
func (c *Client) Status(ctx context.Context) (string, error) {
	resp, err := c.Do(ctx, codec.MethodGet, nil)
	if err != nil {
		return "", err
	}
	if resp.Status != codec.StatusContent {
		return "", fmt.Errorf("unexpected status %s", resp.Status)
	}
	return string(resp.Payload), nil
}

// Close fails all outstanding requests. Later calls to Do return
// ErrClientClosed.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for token, ch := range c.pending {
		close(ch)
		delete(c.pending, token)
	}
}

// allocToken returns the next token not currently in flight. Caller holds mu.
func (c *Client) allocToken() uint16 {
	for {
		c.next++
		if _, busy := c.pending[c.next]; !busy {
			return c.next
		}
	}
}

func (c *Client) handleFrame(f *codec.Frame, _ FrameSource) {
	if f.Type != codec.FrameTypeResponse {
		return
	}
	if c.cfg.Signer != nil {
		if err := c.cfg.Signer.Verify(f); err != nil {
			c.log.Warn("dropping unverified response", "token", f.Token, "error", err)
			return
		}
	}
	resp, err := codec.ParseResponse(f)
	if err != nil {
		c.log.Debug("dropping malformed response", "error", err)
		return
	}

	c.mu.Lock()
	ch, ok := c.pending[resp.Token]
	if ok {
		delete(c.pending, resp.Token)
	}
	c.mu.Unlock()

	if !ok {
		c.log.Debug("response for unknown token", "token", resp.Token)
		return
	}
	ch <- resp
}
