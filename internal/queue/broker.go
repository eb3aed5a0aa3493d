package queue

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrClosed is returned by a broker after Close.
	ErrClosed = errors.New("queue: broker closed")
	// ErrNoChannel is returned when there is no open channel to publish on.
	ErrNoChannel = errors.New("queue: publish channel unavailable")
	// ErrUnknownQueue is returned when consuming from an undeclared queue.
	ErrUnknownQueue = errors.New("queue: unknown queue")
)

// Message is a broker-independent outgoing or incoming message.
type Message struct {
	Body        []byte
	ContentType string
	MessageID   string
	Timestamp   time.Time
	Headers     map[string]any
}

// Delivery is a consumed message that must be settled exactly once with Ack
// or Nack.
type Delivery struct {
	Message
	Queue      string
	RoutingKey string

	ack  func() error
	nack func(requeue bool) error
}

// NewDelivery wraps a message with the broker's settle functions.
func NewDelivery(queue, routingKey string, msg Message, ack func() error, nack func(requeue bool) error) Delivery {
	return Delivery{Message: msg, Queue: queue, RoutingKey: routingKey, ack: ack, nack: nack}
}

// Ack acknowledges the delivery.
func (d Delivery) Ack() error {
	if d.ack == nil {
		return nil
	}
	return d.ack()
}

// Nack rejects the delivery, optionally requeueing it on the broker.
func (d Delivery) Nack(requeue bool) error {
	if d.nack == nil {
		return nil
	}
	return d.nack(requeue)
}

// Attempt returns how many times this message already failed processing, as
// carried in the AttemptHeader. A first delivery returns 0.
func (d Delivery) Attempt() int {
	v, ok := d.Headers[AttemptHeader]
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case int:
		return n
	case int32:
		return int(n)
	case int64:
		return int(n)
	case float64:
		return int(n)
	case string:
		if i, err := strconv.Atoi(n); err == nil {
			return i
		}
	}
	return 0
}

// Broker is the connection to the message broker a process owns. It is
// constructed explicitly at startup and passed to the publisher and consumers.
type Broker interface {
	// DeclareTopology idempotently creates the exchange, queues and bindings.
	DeclareTopology(ctx context.Context, t Topology) error
	// Publish sends msg without waiting for a broker confirmation. An empty
	// exchange addresses the queue named routingKey directly.
	Publish(ctx context.Context, exchange, routingKey string, msg Message) error
	// Consume streams deliveries of queue. At most prefetch deliveries are
	// outstanding (unsettled) at a time. The channel closes when ctx is done
	// or the underlying connection is lost.
	Consume(ctx context.Context, queue string, prefetch int) (<-chan Delivery, error)
	Close() error
}

// TopicMatch reports whether a dotted routing key matches a topic pattern,
// where "*" matches exactly one word and "#" matches zero or more words.
func TopicMatch(pattern, key string) bool {
	return matchWords(strings.Split(pattern, "."), strings.Split(key, "."))
}

func matchWords(p, k []string) bool {
	if len(p) == 0 {
		return len(k) == 0
	}
	switch p[0] {
	case "#":
		for i := 0; i <= len(k); i++ {
			if matchWords(p[1:], k[i:]) {
				return true
			}
		}
		return false
	case "*":
		return len(k) > 0 && matchWords(p[1:], k[1:])
	default:
		return len(k) > 0 && p[0] == k[0] && matchWords(p[1:], k[1:])
	}
}
