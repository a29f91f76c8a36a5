package sdk

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/hanashi-live/hanashi/pkg/chat/protocol"
)

var ErrClosed = errors.New("client closed")

type Options struct {
	// BaseURL of the gateway, e.g. "https://chat.example.com" or "ws://localhost:8080".
	BaseURL string
	// Token is an optional bearer token. Empty connects anonymously.
	Token string

	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration

	// Reconnect backoff bounds.
	ReconnectInitialInterval time.Duration
	ReconnectMaxInterval     time.Duration

	// MaxReconnectAttempts bounds one reconnect cycle. When the cap is
	// reached the dialer stops and the client stays on the offline
	// responder until Close. A fresh cycle (after a later drop) starts
	// the count over.
	MaxReconnectAttempts int

	// DegradedAfter is how long a reconnect may run before the client flips
	// to the offline responder. Reconnect attempts continue underneath.
	DegradedAfter time.Duration

	// MockChunkDelay paces the offline responder's chunks so degraded mode
	// feels like streaming. Zero emits chunks immediately.
	MockChunkDelay time.Duration

	Logger *slog.Logger

	// Test hooks. Nil selects the real WebSocket transport and the scripted
	// offline transport respectively.
	TransportFactory TransportFactory
	MockFactory      TransportFactory
}

func (o *Options) withDefaults() {
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 5 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	if o.ReconnectInitialInterval <= 0 {
		o.ReconnectInitialInterval = 500 * time.Millisecond
	}
	if o.ReconnectMaxInterval <= 0 {
		o.ReconnectMaxInterval = 15 * time.Second
	}
	if o.MaxReconnectAttempts <= 0 {
		o.MaxReconnectAttempts = 10
	}
	if o.DegradedAfter <= 0 {
		o.DegradedAfter = 10 * time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Client maintains a connection to the chat gateway. Actions issued while the
// link is down are queued in order and replayed on the next transport, real or
// degraded. All methods are safe for concurrent use.
type Client struct {
	opts    Options
	emitter *emitter

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	state     ConnectionState
	transport Transport
	pending   []any
	closed    bool
}

func NewClient(opts Options) (*Client, error) {
	opts.withDefaults()
	if opts.TransportFactory == nil {
		if opts.BaseURL == "" {
			return nil, errors.New("base url is required")
		}
		base, token := opts.BaseURL, opts.Token
		handshake, write := opts.HandshakeTimeout, opts.WriteTimeout
		opts.TransportFactory = func() Transport {
			return newWSTransport(base, token, handshake, write)
		}
	}
	if opts.MockFactory == nil {
		delay := opts.MockChunkDelay
		opts.MockFactory = func() Transport {
			return newMockTransport(delay)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		opts:    opts,
		emitter: newEmitter(opts.Logger),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		state:   StateDisconnected,
	}, nil
}

// On registers a handler for the named event and returns its unsubscribe func.
func (c *Client) On(name string, fn Handler) Subscription {
	return c.emitter.on(name, fn)
}

// Connect starts the connection manager. It returns once the manager is
// running; connection progress is reported through connection_status events.
func (c *Client) Connect() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.mu.Unlock()

	go c.run()
	return nil
}

// State reports the current connection state.
func (c *Client) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SendMessage sends a user message, queueing it if the link is down.
func (c *Client) SendMessage(text string) error {
	return c.send(protocol.ClientUserMessage{Type: protocol.TypeUserMessage, Text: text})
}

// SwitchCharacter requests a character change, queueing it if the link is down.
func (c *Client) SwitchCharacter(characterID string) error {
	return c.send(protocol.ClientSwitchCharacter{Type: protocol.TypeSwitchCharacter, CharacterID: characterID})
}

// SwitchLanguage requests a language change, queueing it if the link is down.
func (c *Client) SwitchLanguage(language string) error {
	return c.send(protocol.ClientSwitchLanguage{Type: protocol.TypeSwitchLanguage, Language: language})
}

func (c *Client) send(frame any) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	transport := c.transport
	if transport == nil {
		c.pending = append(c.pending, frame)
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if err := transport.Send(frame); err != nil {
		// The link died under us; hold the action for the next transport.
		c.mu.Lock()
		c.pending = append(c.pending, frame)
		c.mu.Unlock()
	}
	return nil
}

// Close stops the manager and releases the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	transport := c.transport
	c.transport = nil
	c.mu.Unlock()

	c.cancel()
	if transport != nil {
		_ = transport.Close()
	}
	<-c.done
	return nil
}

// run is the connection manager loop: connect, pump frames, reconnect with
// backoff, degrade to the offline responder when reconnecting takes too long.
func (c *Client) run() {
	defer close(c.done)
	defer c.setState(StateDisconnected, 0, nil)

	for {
		if c.ctx.Err() != nil {
			return
		}
		c.setState(StateConnecting, 0, nil)

		transport, ok := c.connectWithGrace()
		if !ok {
			return
		}

		c.adopt(transport)
		c.setState(StateConnected, 0, nil)
		c.flushPending(transport)
		c.pump(transport)

		c.release(transport)
		if c.ctx.Err() != nil {
			return
		}
		c.opts.Logger.Debug("connection lost, reconnecting")
	}
}

// connectWithGrace dials with exponential backoff. If no attempt succeeds
// within DegradedAfter the client adopts the offline responder and keeps
// dialing underneath; a late success swaps the real transport back in. The
// dialer stops at MaxReconnectAttempts, leaving the client degraded.
func (c *Client) connectWithGrace() (Transport, bool) {
	connected := make(chan Transport, 1)
	dialCtx, cancelDial := context.WithCancel(c.ctx)
	defer cancelDial()

	go func() {
		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = c.opts.ReconnectInitialInterval
		bo.MaxInterval = c.opts.ReconnectMaxInterval
		bo.MaxElapsedTime = 0

		attempt := 0
		for {
			if dialCtx.Err() != nil {
				return
			}
			attempt++
			transport := c.opts.TransportFactory()
			err := transport.Connect(dialCtx)
			if err == nil {
				connected <- transport
				return
			}
			_ = transport.Close()
			c.opts.Logger.Debug("connect attempt failed", "attempt", attempt, "error", err)
			c.setState(StateConnecting, attempt, err)

			if attempt >= c.opts.MaxReconnectAttempts {
				c.opts.Logger.Warn("reconnect attempts exhausted", "attempts", attempt)
				return
			}
			select {
			case <-dialCtx.Done():
				return
			case <-time.After(bo.NextBackOff()):
			}
		}
	}()

	grace := time.NewTimer(c.opts.DegradedAfter)
	defer grace.Stop()

	select {
	case <-c.ctx.Done():
		return nil, false
	case transport := <-connected:
		return transport, true
	case <-grace.C:
	}

	// Degraded: serve from the offline responder while the dialer keeps
	// trying in the background.
	mock := c.opts.MockFactory()
	if err := mock.Connect(c.ctx); err != nil {
		c.opts.Logger.Error("offline responder unavailable", "error", err)
	} else {
		c.adopt(mock)
		c.setState(StateDegraded, 0, nil)
		c.flushPending(mock)
		go c.pumpMock(mock)
	}

	select {
	case <-c.ctx.Done():
		c.release(mock)
		_ = mock.Close()
		return nil, false
	case transport := <-connected:
		c.release(mock)
		_ = mock.Close()
		return transport, true
	}
}

// adopt makes transport the live send target.
func (c *Client) adopt(transport Transport) {
	c.mu.Lock()
	c.transport = transport
	c.mu.Unlock()
}

// release clears transport if it is still the live one.
func (c *Client) release(transport Transport) {
	c.mu.Lock()
	if c.transport == transport {
		c.transport = nil
	}
	c.mu.Unlock()
}

// flushPending replays queued actions in FIFO order. The queue is cleared
// regardless of individual send outcomes: one attempt per reconnect, no
// duplicate replays.
func (c *Client) flushPending(transport Transport) {
	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	for _, frame := range pending {
		if err := transport.Send(frame); err != nil {
			c.opts.Logger.Warn("queued action dropped", "error", err)
		}
	}
}

// pump delivers frames from the live transport until it drops.
func (c *Client) pump(transport Transport) {
	for {
		select {
		case <-c.ctx.Done():
			_ = transport.Close()
			return
		case frame, ok := <-transport.Frames():
			if !ok {
				return
			}
			c.emitter.emit(eventFromFrame(frame))
		}
	}
}

// pumpMock delivers degraded-mode frames; it exits when the mock closes.
func (c *Client) pumpMock(mock Transport) {
	for frame := range mock.Frames() {
		c.emitter.emit(eventFromFrame(frame))
	}
}

func (c *Client) setState(state ConnectionState, attempt int, err error) {
	c.mu.Lock()
	changed := c.state != state || err != nil
	c.state = state
	c.mu.Unlock()
	if changed {
		c.emitter.emit(ConnectionStatusEvent{State: state, Attempt: attempt, Err: err})
	}
}
