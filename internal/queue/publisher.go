package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Publisher sends report events to the topic exchange. Publishing is fire and
// forget: a failure is logged as a warning and the event is dropped, so report
// writes never block on broker health.
type Publisher struct {
	broker   Broker
	exchange string
	logger   *zap.Logger
	now      func() time.Time
	newID    func() string
}

// NewPublisher returns a publisher on the default exchange.
func NewPublisher(b Broker, logger *zap.Logger) *Publisher {
	return &Publisher{
		broker:   b,
		exchange: ExchangeName,
		logger:   logger.Named("publisher"),
		now:      func() time.Time { return time.Now().UTC() },
		newID:    func() string { return uuid.NewString() },
	}
}

// PublishReportCreated publishes REPORT_CREATED with the category's
// department routing key.
func (p *Publisher) PublishReportCreated(ctx context.Context, ev ReportCreatedEvent) {
	key := RoutingKeyFor(ev.Category)
	p.publish(ctx, EventReportCreated, "", key, ev, zap.String("report_id", ev.ReportID))
}

// PublishReportStatusChanged publishes REPORT_STATUS_CHANGED under a fresh
// event id with the notification routing key.
func (p *Publisher) PublishReportStatusChanged(ctx context.Context, ev ReportStatusChangedEvent) {
	p.publish(ctx, EventReportStatusChanged, p.newID(), StatusChangedKey, ev,
		zap.String("report_id", ev.ReportID),
		zap.String("old_status", string(ev.OldStatus)),
		zap.String("new_status", string(ev.NewStatus)),
	)
}

func (p *Publisher) publish(ctx context.Context, eventType, eventID, key string, data any, fields ...zap.Field) {
	if p == nil || p.broker == nil {
		return
	}
	now := p.now()
	body, err := EncodeEnvelope(eventType, eventID, now, data)
	if err != nil {
		p.logger.Warn("event dropped: encode failed", append(fields, zap.String("event_type", eventType), zap.Error(err))...)
		return
	}
	msgID := eventID
	if msgID == "" {
		msgID = p.newID()
	}
	err = p.broker.Publish(ctx, p.exchange, key, Message{
		Body:        body,
		ContentType: "application/json",
		MessageID:   msgID,
		Timestamp:   now,
	})
	if err != nil {
		p.logger.Warn("event dropped: broker unavailable", append(fields, zap.String("event_type", eventType), zap.String("routing_key", key), zap.Error(err))...)
		return
	}
	p.logger.Info("event published", append(fields, zap.String("event_type", eventType), zap.String("routing_key", key))...)
}
