package broker

import (
	"context"
	"errors"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// State is the lifecycle state of the shared connection.
type State int

const (
	StateUninitialized State = iota
	StateConnecting
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// connectAttempt is shared by every caller that arrives while a dial is in
// flight. done is closed once ch or err is set.
type connectAttempt struct {
	done chan struct{}
	ch   Channel
	err  error
}

// ConnectionManager owns the connection and channel shared by listeners and
// publishers. Both are created on first use and reused afterwards.
type ConnectionManager struct {
	url    string
	dial   Dialer
	logger logrus.FieldLogger

	mu      sync.Mutex
	state   State
	conn    Connection
	channel Channel
	attempt *connectAttempt
	closed  bool
}

// ConnectionOption configures the ConnectionManager.
type ConnectionOption func(*ConnectionManager)

// WithConnectionLogger sets the logger.
func WithConnectionLogger(logger logrus.FieldLogger) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.logger = logger
	}
}

// WithDialer replaces the AMQP dialer.
func WithDialer(dial Dialer) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.dial = dial
	}
}

// NewConnectionManager creates a manager for url. Nothing is dialed until the
// first call to Channel.
func NewConnectionManager(url string, opts ...ConnectionOption) *ConnectionManager {
	cm := &ConnectionManager{
		url:    url,
		dial:   DialAMQP,
		logger: logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(cm)
	}
	return cm
}

// Channel returns the shared channel, dialing it on first use. Callers that
// arrive while a dial is in flight wait for that same attempt. A memoized
// connection or channel found closed is replaced.
func (cm *ConnectionManager) Channel(ctx context.Context) (Channel, error) {
	cm.mu.Lock()
	if cm.closed {
		cm.mu.Unlock()
		return nil, &ConnectionError{Op: "channel", URL: SanitizeURL(cm.url), Err: ErrManagerClosed}
	}

	var stale Connection
	if cm.state == StateReady {
		if cm.healthyLocked() {
			ch := cm.channel
			cm.mu.Unlock()
			return ch, nil
		}
		cm.logger.WithField("url", SanitizeURL(cm.url)).Warn("shared broker channel closed, reconnecting")
		// A channel-level error leaves the connection open.
		stale = cm.conn
		cm.conn = nil
		cm.channel = nil
		cm.state = StateUninitialized
	}

	attempt := cm.attempt
	if cm.state != StateConnecting {
		attempt = &connectAttempt{done: make(chan struct{})}
		cm.attempt = attempt
		cm.state = StateConnecting
		go cm.connect(attempt)
	}
	cm.mu.Unlock()

	if stale != nil {
		if err := stale.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			cm.logger.WithError(err).Warn("failed to close stale broker connection")
		}
	}

	select {
	case <-attempt.done:
		return attempt.ch, attempt.err
	case <-ctx.Done():
		return nil, &ConnectionError{Op: "connect", URL: SanitizeURL(cm.url), Err: ctx.Err()}
	}
}

// Connect forces the shared connection to be established.
func (cm *ConnectionManager) Connect(ctx context.Context) error {
	_, err := cm.Channel(ctx)
	return err
}

// connect dials outside the lock so a slow broker never blocks State or Close.
func (cm *ConnectionManager) connect(attempt *connectAttempt) {
	conn, ch, err := cm.open()

	cm.mu.Lock()
	defer cm.mu.Unlock()
	defer close(attempt.done)

	if cm.attempt == attempt {
		cm.attempt = nil
	}

	if err == nil && cm.closed {
		_ = conn.Close()
		err = &ConnectionError{Op: "connect", URL: SanitizeURL(cm.url), Err: ErrManagerClosed}
	}
	if err != nil {
		cm.state = StateFailed
		attempt.err = err
		cm.logger.WithError(err).Error("failed to connect to broker")
		return
	}

	cm.conn = conn
	cm.channel = ch
	cm.state = StateReady
	attempt.ch = ch
	cm.logger.WithField("url", SanitizeURL(cm.url)).Info("connected to broker")
}

func (cm *ConnectionManager) open() (Connection, Channel, error) {
	conn, err := cm.dial(cm.url)
	if err != nil {
		return nil, nil, &ConnectionError{Op: "dial", URL: SanitizeURL(cm.url), Err: err}
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, &ConnectionError{Op: "open channel", URL: SanitizeURL(cm.url), Err: err}
	}
	return conn, ch, nil
}

// State reports the current lifecycle state.
func (cm *ConnectionManager) State() State {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if cm.state == StateReady && !cm.healthyLocked() {
		return StateFailed
	}
	return cm.state
}

func (cm *ConnectionManager) healthyLocked() bool {
	return !cm.conn.IsClosed() && !cm.channel.IsClosed()
}

// Close closes the shared channel and connection. Later calls to Channel fail.
func (cm *ConnectionManager) Close() error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	cm.closed = true
	if cm.conn == nil {
		cm.state = StateUninitialized
		return nil
	}

	if cm.channel != nil {
		_ = cm.channel.Close()
	}
	err := cm.conn.Close()
	cm.conn = nil
	cm.channel = nil
	cm.state = StateUninitialized
	return err
}
