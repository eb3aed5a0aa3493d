package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// AMQPBroker is a RabbitMQ client holding one connection and one long-lived
// publish channel. Every Consume call opens its own channel so that its
// prefetch (QoS) limit applies to that consumer only.
type AMQPBroker struct {
	conn   *amqp.Connection
	logger *zap.Logger

	mu     sync.Mutex
	pub    *amqp.Channel
	closed bool
}

// DialAMQP connects to url, retrying with exponential backoff up to attempts
// times. The caller treats a returned error as fatal.
func DialAMQP(ctx context.Context, url string, attempts int, logger *zap.Logger) (*AMQPBroker, error) {
	if attempts < 1 {
		attempts = 1
	}
	backoff := time.Second
	var lastErr error
	for i := 1; i <= attempts; i++ {
		conn, err := amqp.Dial(url)
		if err == nil {
			ch, err := conn.Channel()
			if err != nil {
				_ = conn.Close()
				return nil, fmt.Errorf("open publish channel: %w", err)
			}
			b := &AMQPBroker{conn: conn, pub: ch, logger: logger}
			go b.watch()
			return b, nil
		}
		lastErr = err
		logger.Warn("broker dial failed", zap.Int("attempt", i), zap.Duration("retry_in", backoff), zap.Error(err))
		if i == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
	return nil, fmt.Errorf("dial broker: %w", lastErr)
}

func (b *AMQPBroker) watch() {
	err, ok := <-b.conn.NotifyClose(make(chan *amqp.Error, 1))
	if ok && err != nil {
		b.logger.Error("broker connection closed", zap.String("reason", err.Reason), zap.Int("code", err.Code))
	}
}

// DeclareTopology declares the topic exchange, durable queues and bindings.
func (b *AMQPBroker) DeclareTopology(ctx context.Context, t Topology) error {
	ch, err := b.conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.ExchangeDeclare(t.Exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("exchange declare %s: %w", t.Exchange, err)
	}
	for _, q := range t.Queues {
		if _, err := ch.QueueDeclare(q, true, false, false, false, nil); err != nil {
			return fmt.Errorf("queue declare %s: %w", q, err)
		}
	}
	for _, bnd := range t.Bindings {
		if err := ch.QueueBind(bnd.Queue, bnd.Pattern, t.Exchange, false, nil); err != nil {
			return fmt.Errorf("queue bind %s -> %s: %w", bnd.Pattern, bnd.Queue, err)
		}
	}
	return nil
}

// Publish sends a persistent message on the shared channel. A closed channel is
// reopened once; if that fails ErrNoChannel is returned.
func (b *AMQPBroker) Publish(ctx context.Context, exchange, routingKey string, msg Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	if b.pub == nil || b.pub.IsClosed() {
		if b.conn.IsClosed() {
			return ErrNoChannel
		}
		ch, err := b.conn.Channel()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrNoChannel, err)
		}
		b.pub = ch
	}
	contentType := msg.ContentType
	if contentType == "" {
		contentType = "application/json"
	}
	ts := msg.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return b.pub.PublishWithContext(ctx, exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  contentType,
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.MessageID,
		Timestamp:    ts,
		Headers:      amqp.Table(msg.Headers),
		Body:         msg.Body,
	})
}

// Consume opens a dedicated channel with QoS prefetch and streams its
// deliveries until ctx is cancelled or the channel closes.
func (b *AMQPBroker) Consume(ctx context.Context, queue string, prefetch int) (<-chan Delivery, error) {
	ch, err := b.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("channel open: %w", err)
	}
	if prefetch < 1 {
		prefetch = 1
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("set qos: %w", err)
	}
	msgs, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("queue consume %s: %w", queue, err)
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)
		defer func() { _ = ch.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-msgs:
				if !ok {
					return
				}
				raw := d
				delivery := NewDelivery(queue, raw.RoutingKey, Message{
					Body:        raw.Body,
					ContentType: raw.ContentType,
					MessageID:   raw.MessageId,
					Timestamp:   raw.Timestamp,
					Headers:     map[string]any(raw.Headers),
				},
					func() error { return raw.Ack(false) },
					func(requeue bool) error { return raw.Nack(false, requeue) },
				)
				select {
				case out <- delivery:
				case <-ctx.Done():
					_ = raw.Nack(false, true)
					return
				}
			}
		}
	}()
	return out, nil
}

// Healthy reports whether the connection is still open.
func (b *AMQPBroker) Healthy() bool { return b.conn != nil && !b.conn.IsClosed() }

// Close closes the publish channel and the connection.
func (b *AMQPBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	if b.pub != nil {
		_ = b.pub.Close()
	}
	return b.conn.Close()
}
