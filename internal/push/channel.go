// Package push keeps a reconnecting real-time connection open and hands every
// well-formed event to a handler.
//
// A channel moves Disconnected -> Connecting -> Connected and back on every drop.
// After MaxAttempts consecutive reconnects without a successful connect it gives up
// and stays down until it is reopened.
package push

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"

	"eventconsole/console/internal/logging"
	"eventconsole/console/internal/metrics"
)

type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
	GivenUp
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case GivenUp:
		return "given_up"
	default:
		return "unknown"
	}
}

const (
	DefaultMaxAttempts = 5
	InitialDelay       = time.Second
	MaxDelay           = 30 * time.Second
)

var ErrClosed = errors.New("push channel closed")

// Handler receives events in the order they arrived. ctx is cancelled when the
// channel closes.
type Handler func(ctx context.Context, e Event)

type Config struct {
	// Name labels logs and metrics, e.g. "chat" or "minutes".
	Name string
	// URL is resolved on every connect so a refreshed token is picked up.
	URL         func(ctx context.Context) (string, error)
	Dialer      Dialer
	Handler     Handler
	MaxAttempts int
	// Wait sleeps for a reconnect delay. Tests replace it to observe delays.
	Wait    func(ctx context.Context, d time.Duration) error
	OnState func(State)
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// NewBackOff returns the reconnect delay policy: 1s doubling per attempt, capped at 30s.
func NewBackOff() *backoff.ExponentialBackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     InitialDelay,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         MaxDelay,
	}
	b.Reset()
	return b
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Channel is one live push subscription. Close releases it.
type Channel struct {
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	state  atomic.Int32
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	conn   Conn
	closed bool
}

// Open starts connecting in the background and returns immediately.
func Open(ctx context.Context, cfg Config) *Channel {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Wait == nil {
		cfg.Wait = sleep
	}
	if cfg.Dialer == nil {
		cfg.Dialer = WSDialer{HandshakeTimeout: 10 * time.Second}
	}
	if cfg.Name == "" {
		cfg.Name = "push"
	}
	m := cfg.Metrics
	if m == nil {
		m = metrics.New(nil)
	}

	ctx, cancel := context.WithCancel(ctx)
	c := &Channel{
		cfg:     cfg,
		logger:  logging.Component(cfg.Logger, "push").With("channel", cfg.Name),
		metrics: m,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	c.setState(Disconnected)
	go c.run(ctx)
	return c
}

func (c *Channel) State() State { return State(c.state.Load()) }

func (c *Channel) Connected() bool { return c.State() == Connected }

// Done is closed once the channel has stopped for good, after Close or after giving up.
func (c *Channel) Done() <-chan struct{} { return c.done }

// Close cancels any pending reconnect, closes the live connection and waits for the
// background loop to exit. It is safe to call more than once.
func (c *Channel) Close() {
	c.cancel()
	c.mu.Lock()
	c.closed = true
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.mu.Unlock()
	<-c.done
}

func (c *Channel) setState(s State) {
	c.state.Store(int32(s))
	c.metrics.PushState.WithLabelValues(c.cfg.Name).Set(float64(s))
	if c.cfg.OnState != nil {
		c.cfg.OnState(s)
	}
}

func (c *Channel) run(ctx context.Context) {
	defer close(c.done)

	delays := NewBackOff()
	attempts := 0
	for {
		c.setState(Connecting)
		conn, err := c.connect(ctx)
		if err == nil {
			attempts = 0
			delays.Reset()
			c.setState(Connected)
			c.logger.Debug("push channel connected")
			err = c.readLoop(ctx, conn)
			c.release(conn)
		}
		if ctx.Err() != nil {
			c.setState(Disconnected)
			return
		}

		c.setState(Disconnected)
		if attempts >= c.cfg.MaxAttempts {
			c.logger.Warn("push channel gave up reconnecting", "attempts", attempts, "error", err)
			c.setState(GivenUp)
			return
		}
		attempts++
		delay := delays.NextBackOff()
		c.metrics.PushReconnect.WithLabelValues(c.cfg.Name).Inc()
		c.logger.Info("push channel disconnected, reconnecting", "attempt", attempts, "delay", delay, "error", err)
		if err := c.cfg.Wait(ctx, delay); err != nil || ctx.Err() != nil {
			c.setState(Disconnected)
			return
		}
	}
}

func (c *Channel) connect(ctx context.Context) (Conn, error) {
	if c.cfg.URL == nil {
		return nil, errors.New("push channel has no url")
	}
	url, err := c.cfg.URL(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve push url: %w", err)
	}
	conn, err := c.cfg.Dialer.Dial(ctx, url)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || ctx.Err() != nil {
		_ = conn.Close()
		return nil, ErrClosed
	}
	c.conn = conn
	return conn, nil
}

func (c *Channel) release(conn Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == conn {
		c.conn = nil
	}
	_ = conn.Close()
}

func (c *Channel) readLoop(ctx context.Context, conn Conn) error {
	for {
		data, err := conn.Read()
		if err != nil {
			return err
		}
		c.dispatch(ctx, data)
	}
}

// dispatch parses one frame and runs the handler. Neither a bad frame nor a
// panicking handler stops the channel.
func (c *Channel) dispatch(ctx context.Context, data []byte) {
	event, err := ParseEvent(data)
	if err != nil {
		c.metrics.PushDropped.WithLabelValues(c.cfg.Name).Inc()
		c.logger.Warn("dropping push frame", "error", err, "bytes", len(data))
		return
	}
	c.metrics.PushEvents.WithLabelValues(c.cfg.Name, event.Type).Inc()
	if c.cfg.Handler == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.metrics.PushDropped.WithLabelValues(c.cfg.Name).Inc()
			c.logger.Error("push handler panicked", "type", event.Type, "panic", r)
		}
	}()
	c.cfg.Handler(ctx, event)
}
