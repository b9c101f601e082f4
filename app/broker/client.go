package broker

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-mailer/app/metrics"
)

// DefaultRPCTimeout applies when neither the call nor the client sets one.
const DefaultRPCTimeout = 5 * time.Second

// RPCClient issues request/reply calls. Every call dials its own connection
// and reply queue, so a stuck call never affects other calls or the shared
// listener channel.
type RPCClient struct {
	url     string
	dial    Dialer
	timeout time.Duration
	logger  logrus.FieldLogger
}

// ClientOption configures the RPCClient.
type ClientOption func(*RPCClient)

// WithClientLogger sets the logger.
func WithClientLogger(logger logrus.FieldLogger) ClientOption {
	return func(c *RPCClient) {
		c.logger = logger
	}
}

// WithClientDialer replaces the AMQP dialer. By default each call dials with
// its own timeout as the connect and handshake deadline.
func WithClientDialer(dial Dialer) ClientOption {
	return func(c *RPCClient) {
		c.dial = dial
	}
}

// WithDefaultTimeout sets the timeout used when Call is given none.
func WithDefaultTimeout(timeout time.Duration) ClientOption {
	return func(c *RPCClient) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// NewRPCClient creates a client for the broker at url.
func NewRPCClient(url string, opts ...ClientOption) *RPCClient {
	c := &RPCClient{
		url:     url,
		timeout: DefaultRPCTimeout,
		logger:  logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Call publishes payload to queue and waits for the correlated reply. It
// always resolves to exactly one Response: the decoded reply, 408 when
// timeout elapses or ctx is done first, or 500 when the call could not be
// set up. The timeout covers the whole call, connection setup included. A
// non-positive timeout uses the client default.
func (c *RPCClient) Call(ctx context.Context, queue string, payload any, timeout time.Duration) Response {
	if timeout <= 0 {
		timeout = c.timeout
	}

	started := time.Now()
	resp := c.call(ctx, queue, payload, timeout)

	metrics.RPCCalls.WithLabelValues(queue, strconv.Itoa(resp.Code)).Inc()
	metrics.RPCCallDuration.WithLabelValues(queue).Observe(time.Since(started).Seconds())
	return resp
}

// pendingCall is a request that reached the broker and awaits its reply.
type pendingCall struct {
	replies       <-chan amqp.Delivery
	correlationID string
	release       func()
	failure       *Response
}

func (c *RPCClient) call(ctx context.Context, queue string, payload any, timeout time.Duration) Response {
	log := c.logger.WithField("queue", queue)

	body, err := EncodePayload(payload)
	if err != nil {
		log.WithError(err).Error("rpc call: invalid payload")
		return errorResponse(http.StatusInternalServerError, "Invalid request payload", err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	started := make(chan pendingCall, 1)
	go func() {
		started <- c.start(ctx, queue, body, timeout, log)
	}()

	var pending pendingCall
	select {
	case pending = <-started:
	case <-timer.C:
		go discard(started)
		log.WithField("timeout", timeout).Warn("rpc call timed out while connecting")
		return errorResponse(http.StatusRequestTimeout, "Timeout", nil)
	case <-ctx.Done():
		go discard(started)
		log.WithError(ctx.Err()).Warn("rpc call cancelled while connecting")
		return errorResponse(http.StatusRequestTimeout, "Cancelled", ctx.Err())
	}
	if pending.failure != nil {
		return *pending.failure
	}
	defer pending.release()

	log = log.WithField("correlation_id", pending.correlationID)
	for {
		select {
		case d, ok := <-pending.replies:
			if !ok {
				log.Error("rpc call: reply channel closed before a reply arrived")
				return errorResponse(http.StatusInternalServerError, "Reply channel closed", nil)
			}
			if d.CorrelationId != pending.correlationID {
				log.WithField("received_correlation_id", d.CorrelationId).Warn("rpc call: unexpected correlation id, ignoring message")
				continue
			}
			return DecodeResponse(d.Body)

		case <-timer.C:
			log.WithField("timeout", timeout).Warn("rpc call timed out")
			return errorResponse(http.StatusRequestTimeout, "Timeout", nil)

		case <-ctx.Done():
			log.WithError(ctx.Err()).Warn("rpc call cancelled")
			return errorResponse(http.StatusRequestTimeout, "Cancelled", ctx.Err())
		}
	}
}

// discard closes the connection of a call abandoned before setup finished.
func discard(started <-chan pendingCall) {
	if pending := <-started; pending.release != nil {
		pending.release()
	}
}

// start dials, declares the target and a private reply queue, subscribes to
// it and publishes the request. On failure the connection is already closed
// and failure holds the response to return.
func (c *RPCClient) start(ctx context.Context, queue string, body []byte, timeout time.Duration, log logrus.FieldLogger) pendingCall {
	fail := func(resp Response) pendingCall {
		return pendingCall{failure: &resp}
	}

	dial := c.dial
	if dial == nil {
		dial = DialAMQPWithTimeout(timeout)
	}
	conn, err := dial(c.url)
	if err != nil {
		connErr := &ConnectionError{Op: "dial", URL: SanitizeURL(c.url), Err: err}
		log.WithError(connErr).Error("rpc call: broker unreachable")
		return fail(errorResponse(http.StatusInternalServerError, "Broker connection failed", connErr))
	}

	var closeOnce sync.Once
	release := func() {
		closeOnce.Do(func() {
			if err := conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
				log.WithError(err).Warn("rpc call: failed to close connection")
			}
		})
	}
	abort := func(resp Response) pendingCall {
		release()
		return fail(resp)
	}

	ch, err := conn.Channel()
	if err != nil {
		connErr := &ConnectionError{Op: "open channel", URL: SanitizeURL(c.url), Err: err}
		log.WithError(connErr).Error("rpc call: channel unavailable")
		return abort(errorResponse(http.StatusInternalServerError, "Broker connection failed", connErr))
	}

	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		log.WithError(err).Error("rpc call: failed to declare target queue")
		return abort(errorResponse(http.StatusInternalServerError, "Failed to declare queue", err))
	}

	replyQueue, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		log.WithError(err).Error("rpc call: failed to declare reply queue")
		return abort(errorResponse(http.StatusInternalServerError, "Failed to declare reply queue", err))
	}

	correlationID := uuid.NewString()
	log = log.WithField("correlation_id", correlationID)

	replies, err := ch.Consume(replyQueue.Name, "", true, true, false, false, nil)
	if err != nil {
		log.WithError(err).Error("rpc call: failed to consume reply queue")
		return abort(errorResponse(http.StatusInternalServerError, "Failed to consume reply queue", err))
	}

	err = ch.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:   contentTypeJSON,
		CorrelationId: correlationID,
		ReplyTo:       replyQueue.Name,
		Body:          body,
	})
	if err != nil {
		if ctx.Err() != nil {
			return abort(errorResponse(http.StatusRequestTimeout, "Cancelled", ctx.Err()))
		}
		log.WithError(err).Error("rpc call: failed to publish request")
		return abort(errorResponse(http.StatusInternalServerError, "Failed to publish request", &PublishError{Queue: queue, Err: err}))
	}

	return pendingCall{replies: replies, correlationID: correlationID, release: release}
}
