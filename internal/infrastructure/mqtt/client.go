package mqtt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/thermolink-core/internal/infrastructure/config"
)

// State is the connection state of a Client.
type State int

// Connection states. A lost connection moves Connected to Disconnected and
// then straight to Connecting while paho reconnects.
const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Listener receives every inbound message on any subscribed topic.
// A panicking listener is recovered and logged; other listeners still run.
type Listener func(topic string, payload []byte)

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// attempt is a connection attempt shared by every caller that arrives while
// it is pending. finished is guarded by Client.mu.
type attempt struct {
	done     chan struct{}
	err      error
	finished bool
}

// Client owns the process-wide broker connection.
//
// It is constructed once with New and passed to every component that
// publishes or subscribes. The connection is opened lazily by the first
// Connect, Publish or Subscribe call; concurrent callers share one attempt.
// Once connected, paho reconnects automatically and without limit, and
// subscriptions are restored on every reconnect.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Client struct {
	cfg       config.MQTTConfig
	newClient func(*pahomqtt.ClientOptions) pahomqtt.Client

	// mu guards client, state, pending, reconnecting and closed.
	mu      sync.Mutex
	client  pahomqtt.Client
	state   State
	pending *attempt
	closed  bool

	// reconnecting is set while paho's own reconnect loop owns the socket.
	reconnecting bool

	// subscriptions tracks topic -> qos for restoration on reconnect.
	subscriptions map[string]byte
	subMu         sync.RWMutex

	listeners  []Listener
	listenerMu sync.RWMutex

	// inflight counts publishes Close must wait for.
	inflight sync.WaitGroup

	onStateChange func(State)
	logger        Logger
}

// New creates a disconnected client. Call Connect or ConnectWithRetry, or
// let the first Publish or Subscribe connect it.
func New(cfg config.MQTTConfig) *Client {
	return &Client{
		cfg:           cfg,
		newClient:     pahomqtt.NewClient,
		subscriptions: make(map[string]byte),
		onStateChange: func(State) {},
		logger:        noopLogger{},
	}
}

// SetLogger sets a logger for connection events and listener failures.
func (c *Client) SetLogger(logger Logger) {
	c.logger = logger
}

// SetOnStateChange registers a callback invoked on every state transition.
// It is called with the client's lock held and must not call back into it.
func (c *Client) SetOnStateChange(fn func(State)) {
	c.onStateChange = fn
}

// OnMessage registers a listener for all inbound messages.
func (c *Client) OnMessage(listener Listener) {
	c.listenerMu.Lock()
	c.listeners = append(c.listeners, listener)
	c.listenerMu.Unlock()
}

// Connect establishes the broker connection if it is not already up.
//
// If a connection attempt is in flight, Connect waits for that attempt
// instead of starting another. A failed attempt returns
// ErrConnectionFailed; the next call starts a fresh attempt.
//
// After an established connection drops, paho reconnects on its own and
// Connect only waits for that reconnect to land. It does not issue a second
// CONNECT, which paho would accept without opening a socket.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state == StateConnected {
		c.mu.Unlock()
		return nil
	}
	a := c.pending
	if a == nil {
		a = &attempt{done: make(chan struct{})}
		c.pending = a
		if c.client != nil && c.reconnecting {
			time.AfterFunc(defaultConnectTimeout, func() {
				c.mu.Lock()
				c.finishLocked(a, fmt.Errorf("%w: %w: reconnect pending after %v",
					ErrConnectionFailed, ErrNotConnected, defaultConnectTimeout))
				c.mu.Unlock()
			})
		} else {
			if c.client == nil {
				c.client = c.newClient(c.buildClientOptions())
			}
			c.setStateLocked(StateConnecting)
			go c.runAttempt(c.client, a)
		}
	}
	c.mu.Unlock()

	select {
	case <-a.done:
		return a.err
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrConnectionFailed, ctx.Err())
	}
}

func (c *Client) runAttempt(client pahomqtt.Client, a *attempt) {
	var err error
	token := client.Connect()
	switch {
	case !token.WaitTimeout(defaultConnectTimeout):
		err = fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	case token.Error() != nil:
		err = fmt.Errorf("%w: %w", ErrConnectionFailed, token.Error())
	case !client.IsConnectionOpen():
		err = fmt.Errorf("%w: %w", ErrConnectionFailed, ErrNotConnected)
	}

	c.mu.Lock()
	if c.finishLocked(a, err) {
		if err == nil {
			c.setStateLocked(StateConnected)
		} else if c.state == StateConnecting && !c.reconnecting {
			c.setStateLocked(StateDisconnected)
		}
	}
	c.mu.Unlock()

	if err != nil {
		c.logger.Warn("MQTT connection attempt failed", "error", err)
	}
}

// finishLocked completes a once and reports whether this call did so.
func (c *Client) finishLocked(a *attempt, err error) bool {
	if a.finished {
		return false
	}
	a.finished = true
	a.err = err
	if c.pending == a {
		c.pending = nil
	}
	close(a.done)
	return true
}

// ConnectWithRetry calls Connect until it succeeds or ctx ends, backing off
// from the configured initial delay and doubling up to the maximum delay.
func (c *Client) ConnectWithRetry(ctx context.Context) error {
	delay := time.Duration(c.cfg.Reconnect.InitialDelay) * time.Second
	maxDelay := time.Duration(c.cfg.Reconnect.MaxDelay) * time.Second
	if delay <= 0 {
		delay = time.Second
	}
	if maxDelay < delay {
		maxDelay = delay
	}

	for {
		err := c.Connect(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		if errors.Is(err, ErrClosed) {
			return err
		}

		c.logger.Warn("MQTT broker unreachable, retrying", "retry_in", delay.String())
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w: %w", ErrConnectionFailed, ctx.Err())
		case <-timer.C:
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}

// handleConnect runs on the initial connect and on every reconnect.
func (c *Client) handleConnect(client pahomqtt.Client) {
	c.mu.Lock()
	c.reconnecting = false
	c.setStateLocked(StateConnected)
	if c.pending != nil {
		c.finishLocked(c.pending, nil)
	}
	c.mu.Unlock()

	c.restoreSubscriptions(client)
	c.logger.Info("MQTT connected", "broker", c.brokerURL())
}

// handleConnectionLost runs when an established connection drops.
func (c *Client) handleConnectionLost(_ pahomqtt.Client, err error) {
	c.mu.Lock()
	c.reconnecting = true
	c.setStateLocked(StateDisconnected)
	c.mu.Unlock()

	c.logger.Warn("MQTT connection lost", "error", err)
}

// handleReconnecting runs before each automatic reconnect attempt.
func (c *Client) handleReconnecting(_ pahomqtt.Client, _ *pahomqtt.ClientOptions) {
	c.mu.Lock()
	if !c.closed {
		c.reconnecting = true
		c.setStateLocked(StateConnecting)
	}
	c.mu.Unlock()
}

func (c *Client) setStateLocked(s State) {
	if c.state == s {
		return
	}
	c.state = s
	c.onStateChange(s)
}

// restoreSubscriptions re-subscribes to all tracked topics after reconnect.
func (c *Client) restoreSubscriptions(client pahomqtt.Client) {
	c.subMu.RLock()
	defer c.subMu.RUnlock()

	for topic, qos := range c.subscriptions {
		// Errors surface through the token; a failed restore is retried on the
		// next reconnect.
		client.Subscribe(topic, qos, c.dispatch)
	}
}

// dispatch fans a message out to every listener.
func (c *Client) dispatch(_ pahomqtt.Client, msg pahomqtt.Message) {
	c.listenerMu.RLock()
	listeners := make([]Listener, len(c.listeners))
	copy(listeners, c.listeners)
	c.listenerMu.RUnlock()

	for _, l := range listeners {
		c.invoke(l, msg.Topic(), msg.Payload())
	}
}

func (c *Client) invoke(l Listener, topic string, payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("MQTT listener panic recovered",
				"topic", topic,
				"panic", r,
			)
		}
	}()
	l(topic, payload)
}

// Close shuts the connection down gracefully.
//
// It stops accepting new subscriptions and publishes, waits up to the
// configured drain timeout for in-flight publishes, then disconnects.
// Returns ErrTimeout if publishes were still running when the drain
// timeout expired; the connection is closed regardless.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	client := c.client
	if c.pending != nil {
		c.finishLocked(c.pending, fmt.Errorf("%w: %w", ErrConnectionFailed, ErrClosed))
	}
	c.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		c.inflight.Wait()
		close(drained)
	}()

	var err error
	drain := time.Duration(c.cfg.Shutdown.DrainTimeout) * time.Second
	timer := time.NewTimer(drain)
	select {
	case <-drained:
		timer.Stop()
	case <-timer.C:
		err = fmt.Errorf("%w: in-flight publishes after %v", ErrTimeout, drain)
		c.logger.Warn("MQTT drain timed out", "timeout", drain.String())
	}

	if client != nil {
		client.Disconnect(defaultDisconnectQuiesce)
	}

	c.mu.Lock()
	c.setStateLocked(StateDisconnected)
	c.mu.Unlock()

	return err
}

// HealthCheck returns ErrNotConnected unless the connection is up.
func (c *Client) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsConnected reports whether the connection is currently up.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateConnected && c.client != nil && c.client.IsConnectionOpen()
}

// beginOperation registers an in-flight publish or subscribe.
// The returned function must be called when it completes.
func (c *Client) beginOperation() (func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	c.inflight.Add(1)
	return c.inflight.Done, nil
}

// connectedClient connects if needed and returns the paho client.
func (c *Client) connectedClient(ctx context.Context) (pahomqtt.Client, error) {
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client, nil
}

// waitToken waits for a paho token, the context or the timeout.
func waitToken(ctx context.Context, token pahomqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("%w after %v", ErrTimeout, timeout)
	}
}
