// Package rabbitmq is a durable work queue on RabbitMQ's default exchange.
package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/LeventeLantos/message-dispatch/internal/dispatch"
)

var (
	ErrNacked         = errors.New("rabbitmq: publish nacked by broker")
	ErrConfirmTimeout = errors.New("rabbitmq: publish confirm timed out")
	ErrClosed         = errors.New("rabbitmq: channel closed")
)

const (
	DefaultPrefetch       = 1
	DefaultConfirmTimeout = 5 * time.Second
)

// Channel is the part of *amqp.Channel the queue uses.
type Channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	Confirm(noWait bool) error
	NotifyPublish(confirm chan amqp.Confirmation) chan amqp.Confirmation
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Qos(prefetchCount, prefetchSize int, global bool) error
	ConsumeWithContext(ctx context.Context, queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Close() error
}

type Option func(*Queue)

// WithPrefetch bounds unacked deliveries per consumer.
func WithPrefetch(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.prefetch = n
		}
	}
}

func WithConfirmTimeout(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.confirmTimeout = d
		}
	}
}

func WithConsumerTag(tag string) Option {
	return func(q *Queue) { q.consumerTag = tag }
}

func WithLogger(l *zap.Logger) Option {
	return func(q *Queue) {
		if l != nil {
			q.logger = l
		}
	}
}

// Queue publishes persistent messages with publisher confirms and consumes
// them with manual acks. Publishes share one channel under a mutex; every
// Consume call opens its own channel.
type Queue struct {
	name           string
	prefetch       int
	confirmTimeout time.Duration
	consumerTag    string
	logger         *zap.Logger

	open  func() (Channel, error)
	close func() error

	publishMu sync.Mutex
	pubCh     Channel
	confirms  chan amqp.Confirmation
}

var (
	_ dispatch.Publisher = (*Queue)(nil)
	_ dispatch.Consumer  = (*Queue)(nil)
)

// Dial connects to url and declares the durable queue.
func Dial(url, queue string, opts ...Option) (*Queue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq: dial: %w", err)
	}
	q, err := New(queue, func() (Channel, error) { return conn.Channel() }, opts...)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	q.close = conn.Close
	return q, nil
}

// New builds a queue over channels produced by open.
func New(queue string, open func() (Channel, error), opts ...Option) (*Queue, error) {
	q := &Queue{
		name:           queue,
		prefetch:       DefaultPrefetch,
		confirmTimeout: DefaultConfirmTimeout,
		logger:         zap.NewNop(),
		open:           open,
		close:          func() error { return nil },
	}
	for _, opt := range opts {
		opt(q)
	}

	if err := q.openPublisher(); err != nil {
		return nil, err
	}
	return q, nil
}

// openPublisher replaces the publish channel with a fresh one in confirm
// mode. Callers hold publishMu, except New.
func (q *Queue) openPublisher() error {
	ch, err := q.channel()
	if err != nil {
		return err
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		return fmt.Errorf("rabbitmq: enable confirms: %w", err)
	}
	q.confirms = ch.NotifyPublish(make(chan amqp.Confirmation, 1))
	q.pubCh = ch
	return nil
}

// invalidatePublisher drops the publish channel. A confirm that arrives
// after its publish gave up would otherwise be read by the next publish.
func (q *Queue) invalidatePublisher() {
	if q.pubCh != nil {
		_ = q.pubCh.Close()
	}
	q.pubCh = nil
	q.confirms = nil
}

func (q *Queue) channel() (Channel, error) {
	ch, err := q.open()
	if err != nil {
		return nil, fmt.Errorf("rabbitmq: open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(q.name, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("rabbitmq: declare queue %s: %w", q.name, err)
	}
	return ch, nil
}

// Publish sends body as a persistent message and waits for the broker's
// confirm.
func (q *Queue) Publish(ctx context.Context, body []byte) error {
	q.publishMu.Lock()
	defer q.publishMu.Unlock()

	if q.pubCh == nil {
		if err := q.openPublisher(); err != nil {
			return err
		}
	}

	err := q.pubCh.PublishWithContext(ctx, "", q.name, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	})
	if err != nil {
		q.invalidatePublisher()
		return fmt.Errorf("rabbitmq: publish: %w", err)
	}

	err = q.waitForConfirm(ctx)
	if confirmStreamBroken(err) {
		q.logger.Warn("reopening publish channel", zap.Error(err))
		q.invalidatePublisher()
	}
	return err
}

func confirmStreamBroken(err error) bool {
	return errors.Is(err, ErrConfirmTimeout) ||
		errors.Is(err, ErrClosed) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func (q *Queue) waitForConfirm(ctx context.Context) error {
	timeout := time.NewTimer(q.confirmTimeout)
	defer timeout.Stop()

	select {
	case c, ok := <-q.confirms:
		if !ok {
			return ErrClosed
		}
		if !c.Ack {
			return fmt.Errorf("%w: delivery_tag=%d", ErrNacked, c.DeliveryTag)
		}
		return nil
	case <-timeout.C:
		return ErrConfirmTimeout
	case <-ctx.Done():
		return fmt.Errorf("rabbitmq: waiting for confirm: %w", ctx.Err())
	}
}

// Consume runs h for each delivery until ctx is done. A nil result acks the
// delivery; an error nacks it back onto the queue.
func (q *Queue) Consume(ctx context.Context, h dispatch.Handler) error {
	ch, err := q.channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := ch.Qos(q.prefetch, 0, false); err != nil {
		return fmt.Errorf("rabbitmq: qos: %w", err)
	}
	deliveries, err := ch.ConsumeWithContext(ctx, q.name, q.consumerTag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("rabbitmq: consume %s: %w", q.name, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return ErrClosed
			}
			q.handle(ctx, h, d)
		}
	}
}

func (q *Queue) handle(ctx context.Context, h dispatch.Handler, d amqp.Delivery) {
	if err := h(ctx, d.Body); err != nil {
		q.logger.Warn("handler failed, requeueing delivery", zap.Uint64("delivery_tag", d.DeliveryTag), zap.Error(err))
		if nerr := d.Nack(false, true); nerr != nil {
			q.logger.Error("nack failed", zap.Error(nerr))
		}
		return
	}
	if err := d.Ack(false); err != nil {
		q.logger.Error("ack failed", zap.Uint64("delivery_tag", d.DeliveryTag), zap.Error(err))
	}
}

func (q *Queue) Close() error {
	q.publishMu.Lock()
	defer q.publishMu.Unlock()
	var err error
	if q.pubCh != nil {
		err = q.pubCh.Close()
		q.pubCh = nil
	}
	return errors.Join(err, q.close())
}
