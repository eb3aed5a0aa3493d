package queue

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// PublishedMessage records a message accepted by MemoryBroker.Publish.
type PublishedMessage struct {
	Exchange   string
	RoutingKey string
	Message    Message
}

type memMessage struct {
	key string
	msg Message
}

type memQueue struct {
	ready   []memMessage
	unacked int
	notify  chan struct{}
}

// MemoryBroker is an in-process Broker with topic-exchange semantics. It backs
// tests and local runs that have no RabbitMQ available.
type MemoryBroker struct {
	mu          sync.Mutex
	exchanges   map[string][]Binding
	queues      map[string]*memQueue
	published   []PublishedMessage
	unavailable bool
	closed      bool
	done        chan struct{}
}

// NewMemoryBroker returns an empty broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		exchanges: make(map[string][]Binding),
		queues:    make(map[string]*memQueue),
		done:      make(chan struct{}),
	}
}

// SetUnavailable makes Publish fail with ErrNoChannel, as a broker outage would.
func (b *MemoryBroker) SetUnavailable(v bool) {
	b.mu.Lock()
	b.unavailable = v
	b.mu.Unlock()
}

func (b *MemoryBroker) DeclareTopology(_ context.Context, t Topology) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	for _, name := range t.Queues {
		if _, ok := b.queues[name]; !ok {
			b.queues[name] = &memQueue{notify: make(chan struct{}, 1)}
		}
	}
	existing := b.exchanges[t.Exchange]
	for _, bnd := range t.Bindings {
		dup := false
		for _, e := range existing {
			if e == bnd {
				dup = true
				break
			}
		}
		if !dup {
			existing = append(existing, bnd)
		}
	}
	b.exchanges[t.Exchange] = existing
	return nil
}

func (b *MemoryBroker) Publish(_ context.Context, exchange, routingKey string, msg Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	if b.unavailable {
		return ErrNoChannel
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	b.published = append(b.published, PublishedMessage{Exchange: exchange, RoutingKey: routingKey, Message: msg})

	if exchange == "" {
		if q, ok := b.queues[routingKey]; ok {
			b.pushLocked(q, memMessage{key: routingKey, msg: msg}, false)
		}
		return nil
	}
	seen := make(map[string]bool)
	for _, bnd := range b.exchanges[exchange] {
		if seen[bnd.Queue] || !TopicMatch(bnd.Pattern, routingKey) {
			continue
		}
		seen[bnd.Queue] = true
		if q, ok := b.queues[bnd.Queue]; ok {
			b.pushLocked(q, memMessage{key: routingKey, msg: msg}, false)
		}
	}
	return nil
}

func (b *MemoryBroker) pushLocked(q *memQueue, m memMessage, front bool) {
	if front {
		q.ready = append([]memMessage{m}, q.ready...)
	} else {
		q.ready = append(q.ready, m)
	}
	signal(q)
}

func signal(q *memQueue) {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (b *MemoryBroker) Consume(ctx context.Context, queue string, prefetch int) (<-chan Delivery, error) {
	b.mu.Lock()
	q, ok := b.queues[queue]
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownQueue, queue)
	}
	if prefetch < 1 {
		prefetch = 1
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)
		slots := make(chan struct{}, prefetch)
		for {
			select {
			case slots <- struct{}{}:
			case <-ctx.Done():
				return
			case <-b.done:
				return
			}
			m, ok := b.next(ctx, q)
			if !ok {
				return
			}
			var once sync.Once
			settle := func(requeue bool) {
				once.Do(func() {
					b.mu.Lock()
					q.unacked--
					if requeue {
						b.pushLocked(q, m, true)
					}
					b.mu.Unlock()
					<-slots
				})
			}
			d := NewDelivery(queue, m.key, m.msg,
				func() error { settle(false); return nil },
				func(requeue bool) error { settle(requeue); return nil },
			)
			select {
			case out <- d:
			case <-ctx.Done():
				settle(true)
				return
			}
		}
	}()
	return out, nil
}

func (b *MemoryBroker) next(ctx context.Context, q *memQueue) (memMessage, bool) {
	for {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return memMessage{}, false
		}
		if len(q.ready) > 0 {
			m := q.ready[0]
			q.ready = q.ready[1:]
			q.unacked++
			if len(q.ready) > 0 {
				signal(q)
			}
			b.mu.Unlock()
			return m, true
		}
		b.mu.Unlock()
		select {
		case <-q.notify:
		case <-ctx.Done():
			return memMessage{}, false
		case <-b.done:
			return memMessage{}, false
		}
	}
}

// Published returns a copy of every message accepted so far.
func (b *MemoryBroker) Published() []PublishedMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]PublishedMessage, len(b.published))
	copy(out, b.published)
	return out
}

// Depth returns the number of ready plus unacknowledged messages in queue.
func (b *MemoryBroker) Depth(queue string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[queue]
	if !ok {
		return 0
	}
	return len(q.ready) + q.unacked
}

// Drain removes and returns the ready messages of queue without delivering them.
func (b *MemoryBroker) Drain(queue string) []Delivery {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[queue]
	if !ok {
		return nil
	}
	out := make([]Delivery, 0, len(q.ready))
	for _, m := range q.ready {
		out = append(out, NewDelivery(queue, m.key, m.msg, nil, nil))
	}
	q.ready = nil
	return out
}

func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	close(b.done)
	return nil
}
