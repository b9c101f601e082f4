package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// fakeBroker is an in-memory stand-in for RabbitMQ's default exchange. It
// routes by queue name, drops unroutable messages and tracks acknowledgments.
type fakeBroker struct {
	mu         sync.Mutex
	queues     map[string]*fakeQueue
	conns      []*fakeConn
	outcomes   []outcome
	dials      int
	dialErr    error
	dialDelay  time.Duration
	publishErr func(queue string, msg amqp.Publishing) error
	nextTag    uint64
	nextName   int
}

type fakeQueue struct {
	name      string
	owner     *fakeConn
	backlog   []amqp.Delivery
	consumers []*fakeConsumer
	next      int
}

type fakeConsumer struct {
	tag     string
	queue   string
	conn    *fakeConn
	channel *fakeChannel
	ch      chan amqp.Delivery
	closed  bool
}

type outcome struct {
	queue  string
	body   string
	action string
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{queues: make(map[string]*fakeQueue)}
}

func (b *fakeBroker) dial(string) (Connection, error) {
	b.mu.Lock()
	delay := b.dialDelay
	b.dials++
	b.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.dialErr != nil {
		return nil, b.dialErr
	}
	conn := &fakeConn{broker: b}
	b.conns = append(b.conns, conn)
	return conn, nil
}

func (b *fakeBroker) setDialErr(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dialErr = err
}

func (b *fakeBroker) setDialDelay(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dialDelay = d
}

func (b *fakeBroker) setPublishErr(fn func(queue string, msg amqp.Publishing) error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.publishErr = fn
}

func (b *fakeBroker) dialCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dials
}

func (b *fakeBroker) hasQueue(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.queues[name]
	return ok
}

func (b *fakeBroker) backlog(name string) []amqp.Delivery {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[name]
	if !ok {
		return nil
	}
	out := make([]amqp.Delivery, len(q.backlog))
	copy(out, q.backlog)
	return out
}

func (b *fakeBroker) outcomesSnapshot() []outcome {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]outcome, len(b.outcomes))
	copy(out, b.outcomes)
	return out
}

func (b *fakeBroker) actions() []string {
	var out []string
	for _, o := range b.outcomesSnapshot() {
		out = append(out, o.action)
	}
	return out
}

func (b *fakeBroker) openConnections() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, c := range b.conns {
		if !c.closed {
			n++
		}
	}
	return n
}

// connectionCount reports every connection dialed successfully, open or not.
func (b *fakeBroker) connectionCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.conns)
}

// consumerCount reports how many consumers are attached to queue.
func (b *fakeBroker) consumerCount(queue string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[queue]
	if !ok {
		return 0
	}
	return len(q.consumers)
}

// closeChannels simulates a channel-level error such as PRECONDITION_FAILED:
// every channel closes while the connections stay open.
func (b *fakeBroker) closeChannels() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range b.conns {
		for _, ch := range c.channels {
			b.closeChannelLocked(ch)
		}
	}
}

func (b *fakeBroker) closeChannelLocked(ch *fakeChannel) {
	if ch.closed {
		return
	}
	ch.closed = true
	for _, q := range b.queues {
		kept := q.consumers[:0]
		for _, cons := range q.consumers {
			if cons.channel == ch {
				b.closeConsumerLocked(cons)
				continue
			}
			kept = append(kept, cons)
		}
		q.consumers = kept
	}
}

// dropConnections simulates the broker going away.
func (b *fakeBroker) dropConnections() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range b.conns {
		b.closeConnLocked(c)
	}
}

func (b *fakeBroker) closeConnLocked(c *fakeConn) {
	if c.closed {
		return
	}
	c.closed = true
	for _, ch := range c.channels {
		ch.closed = true
	}
	for name, q := range b.queues {
		kept := q.consumers[:0]
		for _, cons := range q.consumers {
			if cons.conn == c {
				b.closeConsumerLocked(cons)
				continue
			}
			kept = append(kept, cons)
		}
		q.consumers = kept
		if q.owner == c {
			delete(b.queues, name)
		}
	}
}

func (b *fakeBroker) closeConsumerLocked(cons *fakeConsumer) {
	if !cons.closed {
		cons.closed = true
		close(cons.ch)
	}
}

func (b *fakeBroker) routeLocked(queue string, d amqp.Delivery) {
	q, ok := b.queues[queue]
	if !ok {
		return
	}
	b.nextTag++
	d.DeliveryTag = b.nextTag
	d.RoutingKey = queue
	d.Acknowledger = &fakeAcker{broker: b, queue: queue, delivery: d}

	if len(q.consumers) == 0 {
		q.backlog = append(q.backlog, d)
		return
	}
	cons := q.consumers[q.next%len(q.consumers)]
	q.next++
	cons.ch <- d
}

func (b *fakeBroker) record(queue string, body []byte, action string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.outcomes = append(b.outcomes, outcome{queue: queue, body: string(body), action: action})
}

type fakeConn struct {
	broker   *fakeBroker
	channels []*fakeChannel
	closed   bool
}

func (c *fakeConn) Channel() (Channel, error) {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	if c.closed {
		return nil, amqp.ErrClosed
	}
	ch := &fakeChannel{conn: c}
	c.channels = append(c.channels, ch)
	return ch, nil
}

func (c *fakeConn) IsClosed() bool {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	return c.closed
}

func (c *fakeConn) Close() error {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	if c.closed {
		return amqp.ErrClosed
	}
	c.broker.closeConnLocked(c)
	return nil
}

type fakeChannel struct {
	conn     *fakeConn
	prefetch int
	closed   bool
}

func (ch *fakeChannel) closedLocked() bool {
	return ch.closed || ch.conn.closed
}

func (ch *fakeChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	b := ch.conn.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch.closedLocked() {
		return amqp.Queue{}, amqp.ErrClosed
	}
	if name == "" {
		b.nextName++
		name = fmt.Sprintf("amq.gen-%d", b.nextName)
	}
	if _, ok := b.queues[name]; !ok {
		q := &fakeQueue{name: name}
		if exclusive {
			q.owner = ch.conn
		}
		b.queues[name] = q
	}
	return amqp.Queue{Name: name}, nil
}

func (ch *fakeChannel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	b := ch.conn.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch.closedLocked() {
		return nil, amqp.ErrClosed
	}
	q, ok := b.queues[queue]
	if !ok {
		return nil, fmt.Errorf("NOT_FOUND - no queue '%s'", queue)
	}
	if consumer == "" {
		b.nextName++
		consumer = fmt.Sprintf("ctag-%d", b.nextName)
	}
	cons := &fakeConsumer{tag: consumer, queue: queue, conn: ch.conn, channel: ch, ch: make(chan amqp.Delivery, 256)}
	q.consumers = append(q.consumers, cons)
	for _, d := range q.backlog {
		cons.ch <- d
	}
	q.backlog = nil
	return cons.ch, nil
}

func (ch *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b := ch.conn.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch.closedLocked() {
		return amqp.ErrClosed
	}
	if b.publishErr != nil {
		if err := b.publishErr(key, msg); err != nil {
			return err
		}
	}
	b.routeLocked(key, amqp.Delivery{
		Headers:       msg.Headers,
		ContentType:   msg.ContentType,
		DeliveryMode:  msg.DeliveryMode,
		CorrelationId: msg.CorrelationId,
		ReplyTo:       msg.ReplyTo,
		Body:          msg.Body,
	})
	return nil
}

func (ch *fakeChannel) Qos(prefetchCount, prefetchSize int, global bool) error {
	ch.prefetch = prefetchCount
	return nil
}

func (ch *fakeChannel) Cancel(consumer string, noWait bool) error {
	b := ch.conn.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, q := range b.queues {
		kept := q.consumers[:0]
		for _, cons := range q.consumers {
			if cons.tag == consumer {
				b.closeConsumerLocked(cons)
				continue
			}
			kept = append(kept, cons)
		}
		q.consumers = kept
	}
	return nil
}

func (ch *fakeChannel) IsClosed() bool {
	b := ch.conn.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	return ch.closedLocked()
}

func (ch *fakeChannel) Close() error {
	b := ch.conn.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch.closedLocked() {
		return amqp.ErrClosed
	}
	b.closeChannelLocked(ch)
	return nil
}

type fakeAcker struct {
	broker   *fakeBroker
	queue    string
	delivery amqp.Delivery
}

func (a *fakeAcker) Ack(tag uint64, multiple bool) error {
	a.broker.record(a.queue, a.delivery.Body, "ack")
	return nil
}

func (a *fakeAcker) Nack(tag uint64, multiple, requeue bool) error {
	if !requeue {
		a.broker.record(a.queue, a.delivery.Body, "nack")
		return nil
	}
	a.broker.record(a.queue, a.delivery.Body, "requeue")

	b := a.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	d := a.delivery
	d.Redelivered = true
	b.routeLocked(a.queue, d)
	return nil
}

func (a *fakeAcker) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

var errBrokerDown = errors.New("dial tcp 127.0.0.1:5672: connect: connection refused")
