package broker

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-mailer/app/metrics"
)

// RejectPolicy decides what happens to a message whose handler failed or
// whose reply could not be published.
type RejectPolicy int

const (
	// RejectDrop nacks without requeue. The message is lost.
	RejectDrop RejectPolicy = iota
	// RejectRequeueOnce requeues a first failure and drops a redelivered one.
	RejectRequeueOnce
	// RejectDeadLetter copies the message to dlq.<queue> and acks it.
	RejectDeadLetter
)

func (p RejectPolicy) String() string {
	switch p {
	case RejectDrop:
		return "drop"
	case RejectRequeueOnce:
		return "requeue-once"
	case RejectDeadLetter:
		return "dead-letter"
	default:
		return "unknown"
	}
}

// ParseRejectPolicy maps a configuration value to a RejectPolicy.
func ParseRejectPolicy(value string) (RejectPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "drop":
		return RejectDrop, nil
	case "requeue-once":
		return RejectRequeueOnce, nil
	case "dead-letter":
		return RejectDeadLetter, nil
	default:
		return RejectDrop, fmt.Errorf("unknown reject policy %q", value)
	}
}

// DeadLetterQueue names the queue failed messages of queue are copied to.
func DeadLetterQueue(queue string) string {
	return "dlq." + queue
}

const maxReattachBackoff = 30 * time.Second

// Server consumes queues on the shared channel and answers each message to
// its reply address. A listener whose channel goes away re-attaches through
// the connection manager until its context is done.
type Server struct {
	conns           *ConnectionManager
	policy          RejectPolicy
	prefetch        int
	handlerTimeout  time.Duration
	reattachBackoff time.Duration
	logger          logrus.FieldLogger
	wg              sync.WaitGroup

	mu       sync.Mutex
	detached map[string]struct{}
}

// ServerOption configures the Server.
type ServerOption func(*Server)

// WithServerLogger sets the logger.
func WithServerLogger(logger logrus.FieldLogger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithRejectPolicy sets the policy for failed messages.
func WithRejectPolicy(policy RejectPolicy) ServerOption {
	return func(s *Server) {
		s.policy = policy
	}
}

// WithPrefetch limits unacknowledged deliveries per listener. Zero means no limit.
func WithPrefetch(count int) ServerOption {
	return func(s *Server) {
		s.prefetch = count
	}
}

// WithHandlerTimeout bounds the context passed to handlers.
func WithHandlerTimeout(timeout time.Duration) ServerOption {
	return func(s *Server) {
		if timeout > 0 {
			s.handlerTimeout = timeout
		}
	}
}

// WithReattachBackoff sets the first delay before a lost listener is
// re-attached. Later attempts double it up to 30s.
func WithReattachBackoff(backoff time.Duration) ServerOption {
	return func(s *Server) {
		if backoff > 0 {
			s.reattachBackoff = backoff
		}
	}
}

// NewServer creates a server listening through conns.
func NewServer(conns *ConnectionManager, opts ...ServerOption) *Server {
	s := &Server{
		conns:           conns,
		policy:          RejectDrop,
		handlerTimeout:  30 * time.Second,
		reattachBackoff: time.Second,
		logger:          logrus.StandardLogger(),
		detached:        make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// subscription is one registered consumer of a queue.
type subscription struct {
	ch         Channel
	tag        string
	deliveries <-chan amqp.Delivery
}

// Listen declares queue durable and starts consuming it with manual
// acknowledgment. It returns once the consumer is registered; messages are
// processed in the background until ctx is done.
func (s *Server) Listen(ctx context.Context, queue string, handler Handler) error {
	sub, err := s.subscribe(ctx, queue)
	if err != nil {
		return err
	}

	s.wg.Add(1)
	go s.serve(ctx, queue, handler, sub)

	s.logger.WithFields(logrus.Fields{
		"queue":         queue,
		"consumer_tag":  sub.tag,
		"prefetch":      s.prefetch,
		"reject_policy": s.policy.String(),
	}).Info("listening on queue")

	return nil
}

// Wait blocks until every listener has stopped.
func (s *Server) Wait() {
	s.wg.Wait()
}

// Detached lists the queues whose listener lost its consumer and has not
// re-attached yet.
func (s *Server) Detached() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	queues := make([]string, 0, len(s.detached))
	for q := range s.detached {
		queues = append(queues, q)
	}
	sort.Strings(queues)
	return queues
}

func (s *Server) setDetached(queue string, detached bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if detached {
		s.detached[queue] = struct{}{}
	} else {
		delete(s.detached, queue)
	}
}

func (s *Server) subscribe(ctx context.Context, queue string) (subscription, error) {
	ch, err := s.conns.Channel(ctx)
	if err != nil {
		return subscription{}, err
	}

	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return subscription{}, fmt.Errorf("declare queue %s: %w", queue, err)
	}

	if s.prefetch > 0 {
		if err := ch.Qos(s.prefetch, 0, false); err != nil {
			return subscription{}, fmt.Errorf("set qos for %s: %w", queue, err)
		}
	}

	tag := fmt.Sprintf("mailer-%s-%s", queue, uuid.NewString()[:8])
	deliveries, err := ch.Consume(queue, tag, false, false, false, false, nil)
	if err != nil {
		return subscription{}, fmt.Errorf("consume queue %s: %w", queue, err)
	}
	return subscription{ch: ch, tag: tag, deliveries: deliveries}, nil
}

func (s *Server) serve(ctx context.Context, queue string, handler Handler, sub subscription) {
	defer s.wg.Done()
	defer s.setDetached(queue, false)
	log := s.logger.WithField("queue", queue)

	for {
		if !s.consume(ctx, queue, handler, sub, log) {
			log.Info("listener stopped")
			return
		}

		s.setDetached(queue, true)
		log.Warn("delivery channel closed, re-attaching listener")

		next, ok := s.reattach(ctx, queue, log)
		if !ok {
			log.Info("listener stopped")
			return
		}
		s.setDetached(queue, false)
		sub = next
	}
}

// consume handles deliveries until ctx is done, returning false, or until the
// delivery channel closes, returning true.
func (s *Server) consume(ctx context.Context, queue string, handler Handler, sub subscription, log logrus.FieldLogger) bool {
	for {
		select {
		case <-ctx.Done():
			if err := sub.ch.Cancel(sub.tag, false); err != nil {
				log.WithError(err).Warn("failed to cancel consumer")
			}
			return false

		case d, ok := <-sub.deliveries:
			if !ok {
				return true
			}
			s.handleDelivery(ctx, sub.ch, queue, handler, d)
		}
	}
}

func (s *Server) reattach(ctx context.Context, queue string, log logrus.FieldLogger) (subscription, bool) {
	backoff := s.reattachBackoff
	for attempt := 1; ; attempt++ {
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return subscription{}, false
		case <-timer.C:
		}

		sub, err := s.subscribe(ctx, queue)
		if err == nil {
			metrics.ListenerReattaches.WithLabelValues(queue).Inc()
			log.WithFields(logrus.Fields{
				"attempt":      attempt,
				"consumer_tag": sub.tag,
			}).Info("listener re-attached")
			return sub, true
		}

		log.WithError(err).WithField("attempt", attempt).Warn("failed to re-attach listener")
		backoff = min(backoff*2, maxReattachBackoff)
	}
}

// handleDelivery drives one message to either replied-and-acked or rejected.
func (s *Server) handleDelivery(ctx context.Context, ch Channel, queue string, handler Handler, d amqp.Delivery) {
	log := s.logger.WithFields(logrus.Fields{
		"queue":          queue,
		"correlation_id": d.CorrelationId,
	})

	// An in-flight message finishes even when the listener is shutting down.
	msgCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.handlerTimeout)
	defer cancel()

	req := DecodeRequest(d.Body)
	req.Queue = queue
	req.CorrelationID = d.CorrelationId
	req.Redelivered = d.Redelivered

	resp, err := invoke(msgCtx, handler, req)
	if err != nil {
		s.reject(msgCtx, ch, queue, d, &HandlerError{Queue: queue, Err: err}, log)
		return
	}

	if d.ReplyTo == "" {
		log.Debug("message has no reply address, skipping reply")
	} else if err := s.reply(msgCtx, ch, d, resp); err != nil {
		s.reject(msgCtx, ch, queue, d, err, log)
		return
	}

	if err := d.Ack(false); err != nil {
		log.WithError(err).Error("failed to ack message")
		return
	}
	metrics.MessagesHandled.WithLabelValues(queue, "acked").Inc()
	log.WithField("code", resp.Code).Debug("message processed")
}

func invoke(ctx context.Context, handler Handler, req Request) (resp Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()
	return handler.Handle(ctx, req)
}

func (s *Server) reply(ctx context.Context, ch Channel, d amqp.Delivery, resp Response) error {
	body, err := EncodePayload(resp)
	if err != nil {
		return fmt.Errorf("encode reply: %w", err)
	}

	err = ch.PublishWithContext(ctx, "", d.ReplyTo, false, false, amqp.Publishing{
		ContentType:   contentTypeJSON,
		CorrelationId: d.CorrelationId,
		Body:          body,
	})
	if err != nil {
		return &PublishError{Queue: d.ReplyTo, Err: err}
	}
	return nil
}

func (s *Server) reject(ctx context.Context, ch Channel, queue string, d amqp.Delivery, cause error, log logrus.FieldLogger) {
	log = log.WithError(cause)

	switch s.policy {
	case RejectRequeueOnce:
		if !d.Redelivered {
			if err := d.Nack(false, true); err != nil {
				log.WithField("nack_error", err).Error("failed to requeue message")
				return
			}
			metrics.MessagesHandled.WithLabelValues(queue, "requeued").Inc()
			log.Warn("message processing failed, requeued once")
			return
		}

	case RejectDeadLetter:
		err := s.deadLetter(ctx, ch, queue, d, cause)
		if err == nil {
			if err := d.Ack(false); err != nil {
				log.WithField("ack_error", err).Error("failed to ack dead-lettered message")
				return
			}
			metrics.MessagesHandled.WithLabelValues(queue, "dead_lettered").Inc()
			log.WithField("dead_letter_queue", DeadLetterQueue(queue)).Warn("message processing failed, moved to dead-letter queue")
			return
		}
		log = log.WithField("dead_letter_error", err)
	}

	if err := d.Nack(false, false); err != nil {
		log.WithField("nack_error", err).Error("failed to reject message")
		return
	}
	metrics.MessagesHandled.WithLabelValues(queue, "dropped").Inc()
	log.Error("message processing failed, message dropped")
}

func (s *Server) deadLetter(ctx context.Context, ch Channel, queue string, d amqp.Delivery, cause error) error {
	dlq := DeadLetterQueue(queue)
	if _, err := ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", dlq, err)
	}

	headers := amqp.Table{}
	for k, v := range d.Headers {
		headers[k] = v
	}
	headers["x-original-queue"] = queue
	headers["x-error"] = cause.Error()

	return ch.PublishWithContext(ctx, "", dlq, false, false, amqp.Publishing{
		Headers:       headers,
		ContentType:   d.ContentType,
		DeliveryMode:  amqp.Persistent,
		CorrelationId: d.CorrelationId,
		ReplyTo:       d.ReplyTo,
		Body:          d.Body,
	})
}
