package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/iliyamo/citizen-report/internal/model"
	"github.com/iliyamo/citizen-report/internal/queue"
	"github.com/iliyamo/citizen-report/internal/repository"
)

// AnonymousLookup returns the owner hash recorded for an anonymous report.
type AnonymousLookup interface {
	AnonymousHash(ctx context.Context, reportID string) (string, error)
}

// NotificationWriter stores notifications idempotently on event id.
type NotificationWriter interface {
	InsertIgnore(ctx context.Context, n *model.Notification) (bool, error)
}

// NotificationHandler turns REPORT_STATUS_CHANGED into one notification row
// for the report's owner. Redelivered events collapse on their event id.
type NotificationHandler struct {
	reports AnonymousLookup
	store   NotificationWriter
	logger  *zap.Logger
	now     func() time.Time
	newID   func() string
}

func NewNotificationHandler(reports AnonymousLookup, store NotificationWriter, logger *zap.Logger) *NotificationHandler {
	return &NotificationHandler{
		reports: reports,
		store:   store,
		logger:  logger.Named("notifications"),
		now:     func() time.Time { return time.Now().UTC() },
		newID:   func() string { return uuid.NewString() },
	}
}

// StatusChangeMessage is the text shown to the owner.
func StatusChangeMessage(from, to model.Status) string {
	return fmt.Sprintf("Report status changed from %s to %s", from, to)
}

// Handle implements queue.Handler.
func (h *NotificationHandler) Handle(ctx context.Context, d queue.Delivery) queue.Result {
	log := h.logger.With(zap.Int("attempt", d.Attempt()))

	env, err := queue.DecodeEnvelope(d.Body)
	if err != nil {
		log.Warn("malformed message", zap.Error(err))
		return malformed(d)
	}
	if env.EventType != queue.EventReportStatusChanged {
		log.Info("ignoring event", zap.String("event_type", env.EventType))
		return queue.Ack
	}
	if env.EventID == "" {
		log.Warn("status event without eventId, dropped")
		return queue.Ack
	}
	log = log.With(zap.String("event_id", env.EventID))

	var ev queue.ReportStatusChangedEvent
	if err := env.DecodeData(&ev); err != nil || ev.ReportID == "" {
		if err == nil {
			err = errors.New("missing reportId")
		}
		log.Warn("malformed REPORT_STATUS_CHANGED", zap.Error(err))
		return malformed(d)
	}
	log = log.With(zap.String("report_id", ev.ReportID))

	n := &model.Notification{
		ID:        h.newID(),
		EventID:   env.EventID,
		ReportID:  &ev.ReportID,
		Type:      model.NotificationTypeStatusChange,
		Message:   StatusChangeMessage(ev.OldStatus, ev.NewStatus),
		CreatedAt: h.now(),
	}
	if ev.ReporterID != nil && *ev.ReporterID != "" {
		n.UserID = ev.ReporterID
	} else {
		hash, err := h.reports.AnonymousHash(ctx, ev.ReportID)
		switch {
		case errors.Is(err, repository.ErrNotFound):
			log.Debug("report has no recipient")
			return queue.Ack
		case err != nil:
			log.Warn("anonymous lookup failed", zap.Error(err))
			return queue.Retry
		}
		n.ReporterHash = &hash
	}

	inserted, err := h.store.InsertIgnore(ctx, n)
	if err != nil {
		log.Warn("storing notification failed", zap.Error(err))
		return queue.Retry
	}
	if !inserted {
		log.Info("duplicate event, notification already stored")
		return queue.Ack
	}
	log.Info("notification stored", zap.String("notification_id", n.ID))
	return queue.Ack
}
