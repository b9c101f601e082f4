package broker

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-mailer/app/metrics"
)

// PublishResult reports the outcome of a fire-and-forget publish. Callers may
// ignore it; failures are already logged.
type PublishResult struct {
	Queue     string
	Published bool
	Err       error
}

// OK reports whether the message was handed to the broker.
func (r PublishResult) OK() bool {
	return r.Published && r.Err == nil
}

// Publisher sends messages without waiting for a reply. Broker failures never
// reach the caller as a panic or a blocking error; they are logged and
// reported in the PublishResult.
type Publisher struct {
	conns  *ConnectionManager
	logger logrus.FieldLogger
}

// PublisherOption configures the Publisher.
type PublisherOption func(*Publisher)

// WithPublisherLogger sets the logger.
func WithPublisherLogger(logger logrus.FieldLogger) PublisherOption {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// NewPublisher creates a publisher on the shared channel of conns.
func NewPublisher(conns *ConnectionManager, opts ...PublisherOption) *Publisher {
	p := &Publisher{
		conns:  conns,
		logger: logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish declares queue durable and sends payload as persistent JSON.
func (p *Publisher) Publish(ctx context.Context, queue string, payload any) PublishResult {
	result := PublishResult{Queue: queue}
	if err := p.publish(ctx, queue, payload); err != nil {
		result.Err = err
		metrics.Publishes.WithLabelValues(queue, "failed").Inc()
		p.logger.WithField("queue", queue).WithError(err).Error("error sending message")
		return result
	}

	result.Published = true
	metrics.Publishes.WithLabelValues(queue, "published").Inc()
	return result
}

func (p *Publisher) publish(ctx context.Context, queue string, payload any) error {
	body, err := EncodePayload(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	ch, err := p.conns.Channel(ctx)
	if err != nil {
		return err
	}

	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", queue, err)
	}

	err = ch.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  contentTypeJSON,
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
	if err != nil {
		return &PublishError{Queue: queue, Err: err}
	}
	return nil
}
