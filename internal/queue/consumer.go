package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Headers written by the consumer when it re-publishes a failed delivery.
const (
	AttemptHeader     = "x-attempt"
	DeathReasonHeader = "x-death-reason"
	OriginQueueHeader = "x-origin-queue"
)

// DefaultMaxAttempts bounds how often a message is processed before it is
// moved to the dead-letter queue.
const DefaultMaxAttempts = 5

// ErrDeliveriesClosed is returned by Consumer.Run when the broker stops
// delivering while the context is still live.
var ErrDeliveriesClosed = errors.New("queue: deliveries channel closed")

// Result is a handler's verdict on one delivery.
type Result int

const (
	// Ack settles the delivery as processed.
	Ack Result = iota
	// Retry schedules another attempt, bounded by Consumer.MaxAttempts.
	Retry
	// Reject moves the delivery to the dead-letter queue immediately.
	Reject
)

func (r Result) String() string {
	switch r {
	case Ack:
		return "ack"
	case Retry:
		return "retry"
	case Reject:
		return "reject"
	}
	return fmt.Sprintf("result(%d)", int(r))
}

// Handler processes one delivery and reports how it should be settled.
type Handler interface {
	Handle(ctx context.Context, d Delivery) Result
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, d Delivery) Result

func (f HandlerFunc) Handle(ctx context.Context, d Delivery) Result { return f(ctx, d) }

// Consumer runs a pool of Prefetch workers over one queue. The broker never
// hands out more than Prefetch unsettled deliveries, so the pool and the
// in-flight backlog are both bounded.
//
// A Retry result re-publishes the message to its own queue with AttemptHeader
// incremented and acks the original. Once MaxAttempts is reached, or on
// Reject, the message goes to DeadLetterQueue. If re-publishing fails the
// delivery is nacked with requeue so it is never lost.
type Consumer struct {
	Broker          Broker
	Queue           string
	Prefetch        int
	MaxAttempts     int
	DeadLetterQueue string
	Handler         Handler
	Logger          *zap.Logger
	// OnDeadLetter, when set, is called after a delivery was dead-lettered.
	OnDeadLetter func(d Delivery, reason string)
}

// Run consumes until ctx is cancelled (returns nil) or the broker closes the
// delivery stream (returns ErrDeliveriesClosed).
func (c *Consumer) Run(ctx context.Context) error {
	prefetch := c.Prefetch
	if prefetch < 1 {
		prefetch = 1
	}
	deliveries, err := c.Broker.Consume(ctx, c.Queue, prefetch)
	if err != nil {
		return err
	}
	c.logger().Info("consumer started", zap.String("queue", c.Queue), zap.Int("prefetch", prefetch))

	var wg sync.WaitGroup
	for i := 0; i < prefetch; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for d := range deliveries {
				c.process(ctx, d)
			}
		}()
	}
	wg.Wait()

	if ctx.Err() != nil {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrDeliveriesClosed, c.Queue)
}

func (c *Consumer) process(ctx context.Context, d Delivery) {
	switch res := c.handle(ctx, d); res {
	case Ack:
		if err := d.Ack(); err != nil {
			c.logger().Warn("ack failed", zap.String("queue", c.Queue), zap.Error(err))
		}
	case Retry:
		c.retry(ctx, d)
	default:
		c.deadLetter(ctx, d, "rejected by handler")
	}
}

func (c *Consumer) handle(ctx context.Context, d Delivery) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			c.logger().Error("handler panic", zap.String("queue", c.Queue), zap.Any("panic", r))
			res = Retry
		}
	}()
	return c.Handler.Handle(ctx, d)
}

func (c *Consumer) maxAttempts() int {
	if c.MaxAttempts < 1 {
		return DefaultMaxAttempts
	}
	return c.MaxAttempts
}

func (c *Consumer) retry(ctx context.Context, d Delivery) {
	attempt := d.Attempt() + 1
	if attempt >= c.maxAttempts() {
		c.deadLetter(ctx, d, fmt.Sprintf("max attempts (%d) exceeded", c.maxAttempts()))
		return
	}
	msg := d.Message
	msg.Headers = copyHeaders(d.Headers)
	msg.Headers[AttemptHeader] = int32(attempt)
	if err := c.Broker.Publish(ctx, "", c.Queue, msg); err != nil {
		c.logger().Warn("retry publish failed, requeueing", zap.String("queue", c.Queue), zap.Error(err))
		_ = d.Nack(true)
		return
	}
	c.logger().Info("delivery scheduled for retry", zap.String("queue", c.Queue), zap.Int("attempt", attempt))
	_ = d.Ack()
}

func (c *Consumer) deadLetter(ctx context.Context, d Delivery, reason string) {
	if c.DeadLetterQueue == "" {
		c.logger().Error("delivery discarded", zap.String("queue", c.Queue), zap.String("reason", reason))
		_ = d.Nack(false)
		return
	}
	msg := d.Message
	msg.Headers = copyHeaders(d.Headers)
	msg.Headers[DeathReasonHeader] = reason
	msg.Headers[OriginQueueHeader] = c.Queue
	if err := c.Broker.Publish(ctx, "", c.DeadLetterQueue, msg); err != nil {
		c.logger().Warn("dead-letter publish failed, requeueing", zap.String("queue", c.Queue), zap.Error(err))
		_ = d.Nack(true)
		return
	}
	_ = d.Ack()
	c.logger().Error("delivery dead-lettered",
		zap.String("queue", c.Queue),
		zap.String("message_id", d.MessageID),
		zap.String("reason", reason),
	)
	if c.OnDeadLetter != nil {
		c.OnDeadLetter(d, reason)
	}
}

func (c *Consumer) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}

func copyHeaders(h map[string]any) map[string]any {
	out := make(map[string]any, len(h)+2)
	for k, v := range h {
		out[k] = v
	}
	return out
}
