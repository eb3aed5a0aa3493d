package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newTestBroker(t *testing.T) *MemoryBroker {
	t.Helper()
	b := NewMemoryBroker()
	if err := b.DeclareTopology(context.Background(), DefaultTopology()); err != nil {
		t.Fatalf("DeclareTopology: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func runConsumer(t *testing.T, c *Consumer) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Run returned %v after cancel", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("consumer did not stop")
		}
	})
	return cancel
}

func TestConsumer_AckRemovesMessage(t *testing.T) {
	b := newTestBroker(t)
	var calls atomic.Int32
	c := &Consumer{
		Broker:          b,
		Queue:           NotificationQueue,
		Prefetch:        2,
		DeadLetterQueue: DeadLetterQueue,
		Logger:          zaptest.NewLogger(t),
		Handler: HandlerFunc(func(ctx context.Context, d Delivery) Result {
			calls.Add(1)
			return Ack
		}),
	}
	runConsumer(t, c)

	for i := 0; i < 3; i++ {
		if err := b.Publish(context.Background(), ExchangeName, StatusChangedKey, Message{Body: []byte(`{}`)}); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}
	waitFor(t, "three acks", func() bool { return calls.Load() == 3 && b.Depth(NotificationQueue) == 0 })
	if b.Depth(DeadLetterQueue) != 0 {
		t.Errorf("dead-letter depth = %d, want 0", b.Depth(DeadLetterQueue))
	}
}

func TestConsumer_RetryIsBoundedThenDeadLetters(t *testing.T) {
	b := newTestBroker(t)
	var calls atomic.Int32
	var mu sync.Mutex
	var reasons []string
	c := &Consumer{
		Broker:          b,
		Queue:           DepartmentQueue("health"),
		Prefetch:        1,
		MaxAttempts:     3,
		DeadLetterQueue: DeadLetterQueue,
		Logger:          zaptest.NewLogger(t),
		Handler: HandlerFunc(func(ctx context.Context, d Delivery) Result {
			calls.Add(1)
			return Retry
		}),
		OnDeadLetter: func(d Delivery, reason string) {
			mu.Lock()
			reasons = append(reasons, reason)
			mu.Unlock()
		},
	}
	runConsumer(t, c)

	if err := b.Publish(context.Background(), ExchangeName, "report.health", Message{Body: []byte(`{"x":1}`), MessageID: "m-1"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	waitFor(t, "dead-lettered message", func() bool { return b.Depth(DeadLetterQueue) == 1 })

	if got := calls.Load(); got != 3 {
		t.Errorf("handler calls = %d, want 3", got)
	}
	dead := b.Drain(DeadLetterQueue)
	if len(dead) != 1 {
		t.Fatalf("drained %d dead letters", len(dead))
	}
	if dead[0].MessageID != "m-1" {
		t.Errorf("dead letter message id = %q", dead[0].MessageID)
	}
	if dead[0].Headers[OriginQueueHeader] != DepartmentQueue("health") {
		t.Errorf("origin header = %v", dead[0].Headers[OriginQueueHeader])
	}
	if dead[0].Attempt() != 2 {
		t.Errorf("attempt header = %d, want 2", dead[0].Attempt())
	}
	mu.Lock()
	defer mu.Unlock()
	if len(reasons) != 1 {
		t.Errorf("OnDeadLetter called %d times", len(reasons))
	}
}

func TestConsumer_RejectDeadLettersImmediately(t *testing.T) {
	b := newTestBroker(t)
	var calls atomic.Int32
	c := &Consumer{
		Broker:          b,
		Queue:           NotificationQueue,
		Prefetch:        1,
		DeadLetterQueue: DeadLetterQueue,
		Logger:          zaptest.NewLogger(t),
		Handler: HandlerFunc(func(ctx context.Context, d Delivery) Result {
			calls.Add(1)
			return Reject
		}),
	}
	runConsumer(t, c)

	_ = b.Publish(context.Background(), ExchangeName, StatusChangedKey, Message{Body: []byte(`nope`)})
	waitFor(t, "dead letter", func() bool { return b.Depth(DeadLetterQueue) == 1 })
	if calls.Load() != 1 {
		t.Errorf("handler calls = %d, want 1", calls.Load())
	}
	dead := b.Drain(DeadLetterQueue)
	if dead[0].Headers[DeathReasonHeader] != "rejected by handler" {
		t.Errorf("reason = %v", dead[0].Headers[DeathReasonHeader])
	}
}

func TestConsumer_PanicIsRetried(t *testing.T) {
	b := newTestBroker(t)
	var calls atomic.Int32
	c := &Consumer{
		Broker:          b,
		Queue:           NotificationQueue,
		Prefetch:        1,
		DeadLetterQueue: DeadLetterQueue,
		Logger:          zaptest.NewLogger(t),
		Handler: HandlerFunc(func(ctx context.Context, d Delivery) Result {
			if calls.Add(1) == 1 {
				panic("boom")
			}
			return Ack
		}),
	}
	runConsumer(t, c)

	_ = b.Publish(context.Background(), ExchangeName, StatusChangedKey, Message{Body: []byte(`{}`)})
	waitFor(t, "second attempt", func() bool { return calls.Load() == 2 && b.Depth(NotificationQueue) == 0 })
	if b.Depth(DeadLetterQueue) != 0 {
		t.Error("panicking delivery should have been retried, not dead-lettered")
	}
}

func TestConsumer_PrefetchBoundsInFlight(t *testing.T) {
	b := newTestBroker(t)
	var inFlight, peak atomic.Int32
	release := make(chan struct{})
	c := &Consumer{
		Broker:   b,
		Queue:    NotificationQueue,
		Prefetch: 2,
		Logger:   zaptest.NewLogger(t),
		Handler: HandlerFunc(func(ctx context.Context, d Delivery) Result {
			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			<-release
			inFlight.Add(-1)
			return Ack
		}),
	}
	runConsumer(t, c)

	for i := 0; i < 6; i++ {
		_ = b.Publish(context.Background(), ExchangeName, StatusChangedKey, Message{Body: []byte(`{}`)})
	}
	waitFor(t, "two in flight", func() bool { return inFlight.Load() == 2 })
	time.Sleep(20 * time.Millisecond)
	if peak.Load() > 2 {
		t.Errorf("peak in-flight = %d, want <= 2", peak.Load())
	}
	close(release)
	waitFor(t, "queue drained", func() bool { return b.Depth(NotificationQueue) == 0 })
}

func TestConsumer_RunReturnsWhenBrokerCloses(t *testing.T) {
	b := NewMemoryBroker()
	_ = b.DeclareTopology(context.Background(), DefaultTopology())
	c := &Consumer{
		Broker:  b,
		Queue:   NotificationQueue,
		Logger:  zaptest.NewLogger(t),
		Handler: HandlerFunc(func(ctx context.Context, d Delivery) Result { return Ack }),
	}
	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background()) }()
	time.Sleep(10 * time.Millisecond)
	_ = b.Close()
	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected ErrDeliveriesClosed")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after broker close")
	}
}

func TestDelivery_Attempt(t *testing.T) {
	tests := []struct {
		headers map[string]any
		want    int
	}{
		{nil, 0},
		{map[string]any{AttemptHeader: int32(2)}, 2},
		{map[string]any{AttemptHeader: int64(3)}, 3},
		{map[string]any{AttemptHeader: "4"}, 4},
		{map[string]any{AttemptHeader: "x"}, 0},
	}
	for _, tt := range tests {
		d := NewDelivery("q", "k", Message{Headers: tt.headers}, nil, nil)
		if got := d.Attempt(); got != tt.want {
			t.Errorf("Attempt(%v) = %d, want %d", tt.headers, got, tt.want)
		}
	}
}
